// Package chunkcodec implements the streaming split of a plaintext file
// into fixed-size encrypted chunks, and the reverse: decrypting a chunk
// and writing it back at its byte offset into a pre-allocated output
// file.
package chunkcodec

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/arcbox/vaultfs/internal/vaultcrypto"
)

// ChunkSize is the exact plaintext window size for every chunk. Changing
// this constant is a wire-format break because existing Chunks are
// indexed by part number, which implies byte offset.
const ChunkSize = 8 * 1024 * 1024

// EncryptedOverhead is the number of bytes Encrypt adds to a plaintext
// window: 12-byte iv + 16-byte GCM tag.
const EncryptedOverhead = 12 + 16

// PartCount returns ceil(size/ChunkSize), the number of parts a content
// of the given size splits into. A zero-length file has zero parts.
func PartCount(size int64) int {
	if size <= 0 {
		return 0
	}

	return int((size + ChunkSize - 1) / ChunkSize)
}

// Part is one yielded unit of StreamChunks: a 1-based part number and its
// AEAD-encrypted bytes.
type Part struct {
	PartNum       int
	EncryptedData []byte
}

// StreamChunks reads path in fixed ChunkSize windows, numbers them
// 1-based, and sends the AEAD-encrypted blob for each window whose part
// number is not already in completedParts over the returned channel.
// Skipped windows are seeked past, never read, hashed, or encrypted. The
// channel is closed when the file is exhausted or an error occurs;
// callers must drain errCh after the part channel closes.
//
// StreamChunks is not restartable: call it once per upload attempt with
// the completedParts set current as of that attempt.
func StreamChunks(path string, key []byte, completedParts map[int]bool) (<-chan Part, <-chan error) {
	parts := make(chan Part)
	errCh := make(chan error, 1)

	go func() {
		defer close(parts)
		defer close(errCh)

		if err := streamChunks(path, key, completedParts, parts); err != nil {
			errCh <- err
		}
	}()

	return parts, errCh
}

func streamChunks(path string, key []byte, completedParts map[int]bool, out chan<- Part) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("chunkcodec: opening %s: %w", path, err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return fmt.Errorf("chunkcodec: stat %s: %w", path, err)
	}

	total := PartCount(info.Size())
	buf := make([]byte, ChunkSize)

	for partNum := 1; partNum <= total; partNum++ {
		windowSize := windowSizeFor(partNum, total, info.Size())

		if completedParts[partNum] {
			if _, err := f.Seek(int64(windowSize), io.SeekCurrent); err != nil {
				return fmt.Errorf("chunkcodec: seeking past completed part %d: %w", partNum, err)
			}

			continue
		}

		window := buf[:windowSize]
		if _, err := io.ReadFull(f, window); err != nil {
			return fmt.Errorf("chunkcodec: reading part %d of %s: %w", partNum, path, err)
		}

		encrypted, err := vaultcrypto.Encrypt(window, key)
		if err != nil {
			return fmt.Errorf("chunkcodec: encrypting part %d: %w", partNum, err)
		}

		out <- Part{PartNum: partNum, EncryptedData: encrypted}
	}

	return nil
}

func windowSizeFor(partNum, total int, size int64) int64 {
	if partNum < total {
		return ChunkSize
	}

	last := size % ChunkSize
	if last == 0 {
		return ChunkSize
	}

	return last
}

// WriteDecrypted decrypts encryptedData under key and writes the
// plaintext at byte offset into outputPath. outputPath must already be
// pre-allocated to at least offset+plaintextLen bytes (see PrepareOutput).
// Safe for concurrent callers whose offsets do not overlap.
func WriteDecrypted(encryptedData []byte, outputPath string, key []byte, offset int64) error {
	plaintext, err := vaultcrypto.Decrypt(encryptedData, key)
	if err != nil {
		return fmt.Errorf("chunkcodec: decrypting chunk for %s at offset %d: %w", outputPath, offset, err)
	}

	f, err := os.OpenFile(outputPath, os.O_WRONLY, 0o600)
	if err != nil {
		return fmt.Errorf("chunkcodec: opening %s for write: %w", outputPath, err)
	}
	defer f.Close()

	if _, err := f.WriteAt(plaintext, offset); err != nil {
		return fmt.Errorf("chunkcodec: writing %d bytes at offset %d in %s: %w", len(plaintext), offset, outputPath, err)
	}

	return nil
}

// PrepareOutput ensures path's parent directory exists. If path already
// exists with the expected size, it is left in place so resume can reuse
// it; otherwise it is truncated/created and sparsely pre-allocated to
// expectedSize by writing a single zero byte at expectedSize-1. A
// zero-length expectedSize produces a zero-length file.
func PrepareOutput(path string, expectedSize int64) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("chunkcodec: creating parent dir for %s: %w", path, err)
	}

	if info, err := os.Stat(path); err == nil && info.Size() == expectedSize {
		return nil
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o600)
	if err != nil {
		return fmt.Errorf("chunkcodec: creating %s: %w", path, err)
	}
	defer f.Close()

	if expectedSize <= 0 {
		return nil
	}

	if _, err := f.WriteAt([]byte{0}, expectedSize-1); err != nil {
		return fmt.Errorf("chunkcodec: pre-allocating %s to %d bytes: %w", path, expectedSize, err)
	}

	return nil
}

// UniquePath returns dir/filename if it does not exist, otherwise
// "dir/filename (N)" for the smallest N >= 1 that does not exist.
// Extensions are preserved: "report.pdf" collides into "report (1).pdf".
func UniquePath(dir, filename string) (string, error) {
	candidate := filepath.Join(dir, filename)
	if !exists(candidate) {
		return candidate, nil
	}

	ext := filepath.Ext(filename)
	stem := filename[:len(filename)-len(ext)]

	for n := 1; ; n++ {
		candidate = filepath.Join(dir, fmt.Sprintf("%s (%d)%s", stem, n, ext))
		if !exists(candidate) {
			return candidate, nil
		}
	}
}

func exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// bufferedReaderSize is the read buffer used when a caller wants a
// buffered whole-file read (e.g. final hash verification); exported as a
// constant so tests and callers share the same tuning knob.
const bufferedReaderSize = 64 * 1024

// BufferedFileReader opens path and wraps it in a bufio.Reader sized for
// efficient sequential whole-file hashing.
func BufferedFileReader(path string) (*bufio.Reader, func() error, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, fmt.Errorf("chunkcodec: opening %s: %w", path, err)
	}

	return bufio.NewReaderSize(f, bufferedReaderSize), f.Close, nil
}
