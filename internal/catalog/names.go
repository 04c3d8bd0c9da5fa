package catalog

import (
	"strings"

	"golang.org/x/text/unicode/norm"
)

// forbiddenNameChars are rejected outright: the path separator plus the
// Windows-reserved set, so a name picked on one platform never becomes
// unusable after a restore on another.
const forbiddenNameChars = "\\/<>:\"|?*"

// ValidateName NFC-normalizes name and rejects empty names, names
// containing any of forbiddenNameChars, and the special entries "." and
// "..".
func ValidateName(name string) (string, error) {
	normalized := norm.NFC.String(name)

	if normalized == "" || normalized == "." || normalized == ".." {
		return "", ErrInvalidName
	}

	if strings.ContainsAny(normalized, forbiddenNameChars) {
		return "", ErrInvalidName
	}

	return normalized, nil
}
