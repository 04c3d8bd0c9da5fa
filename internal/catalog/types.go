// Package catalog is the metadata store: folders, deduplicated file
// contents, name bindings, chunk locations, and the trash. It is one of
// two independent SQLite databases the vault keeps (the other is
// internal/checkpoint's transfer ledger).
package catalog

import "errors"

// RootFolderID is the well-known id of the user-visible catalog root. It
// is seeded by the bootstrap in Open and never renamed or moved.
const RootFolderID = "root"

// TrashRootID is the well-known id of the trash root. Soft-deleted
// folders and bindings are reparented under it; nothing is ever listed
// or resolved into it through the normal folder-tree operations.
const TrashRootID = "trash"

// Folder is a directory node in the catalog tree.
type Folder struct {
	ID        string
	ParentID  string // empty for the root and the trash root
	Name      string
	TotalSize int64 // sum of the sizes of every Binding transitively contained in this folder
	CreatedAt int64
	UpdatedAt int64
}

// FileContent is a deduplicated content-addressed blob: all Bindings that
// share a ContentID share its Chunks.
type FileContent struct {
	ID        string // hex SHA-256 of plaintext
	Size      int64
	PartCount int
	CreatedAt int64
}

// Binding names one FileContent within one Folder.
type Binding struct {
	ID        string
	FolderID  string
	Name      string
	ContentID string
	CreatedAt int64
	UpdatedAt int64
}

// Chunk locates one encrypted part of a FileContent in the remote blob
// channel.
type Chunk struct {
	ContentID string
	PartNum   int
	ChannelID string
	MessageID string
}

// TrashRecord is a soft-deleted Binding or Folder, restorable until
// ExpiresAt. The item itself still exists as a row in folders/bindings,
// reparented under TrashRootID and renamed to its own ID to dodge the
// (parent, name) uniqueness constraint; OriginalParentID/OriginalName
// are what Restore puts back.
type TrashRecord struct {
	ID               string
	ItemID           string // the folder or binding id, still live under TrashRootID
	IsFolder         bool
	OriginalParentID string
	OriginalName     string
	DeletedAt        int64
	ExpiresAt        int64
}

// ErrNotFound indicates the requested folder, binding, or content does
// not exist.
var ErrNotFound = errors.New("catalog: not found")

// ErrAlreadyExists indicates a name collision within a folder.
var ErrAlreadyExists = errors.New("catalog: name already exists in folder")

// ErrCyclicMove indicates a folder move would make a folder its own
// descendant.
var ErrCyclicMove = errors.New("catalog: move would create a cycle")

// ErrInvalidName indicates a name failed NFC-normalized validation
// (empty, "." or "..", or containing one of the reserved characters
// \ / < > : " | ? *).
var ErrInvalidName = errors.New("catalog: invalid name")
