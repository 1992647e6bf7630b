package domain

import (
	"context"
	"io"
	"time"
)

// BlobInfo describes one archived object. Path is relative to the archive
// prefix.
type BlobInfo struct {
	Path         string    `json:"path"`
	Size         int64     `json:"size"`
	ContentType  string    `json:"content_type,omitempty"`
	LastModified time.Time `json:"last_modified"`
}

type BlobWriter interface {
	Put(ctx context.Context, path string, data io.Reader, contentType string) error
	// PutMultipart streams data in parts of partSize bytes.
	PutMultipart(ctx context.Context, path string, data io.Reader, partSize int64) error
}

type BlobReader interface {
	// Get wraps ErrNotFound for a missing object. The caller closes the body.
	Get(ctx context.Context, path string) (io.ReadCloser, error)
	List(ctx context.Context, prefix string) ([]BlobInfo, error)
	Exists(ctx context.Context, path string) (bool, error)
}

// Archiver copies settlement reports and ledger snapshots to cold storage.
// The receipt log stays the source of truth.
type Archiver interface {
	ArchiveSettlement(ctx context.Context, s Settlement, height uint64) (string, error)
	ArchiveSnapshot(ctx context.Context, snap Snapshot) (string, error)
}

// ArchivedSettlement is the stored report of a resolved market.
type ArchivedSettlement struct {
	Settlement
	// Height is the block at which the market was resolved.
	Height uint64 `json:"height"`
}

// ArchiveIndex lists what an Archiver has written, settlements by market id
// and snapshots by height, both ascending.
type ArchiveIndex struct {
	Settlements []BlobInfo `json:"settlements"`
	Snapshots   []BlobInfo `json:"snapshots"`
}

// ArchiveBrowser reads the archive back for operators.
type ArchiveBrowser interface {
	Index(ctx context.Context) (ArchiveIndex, error)
	Settlement(ctx context.Context, marketID uint64) (ArchivedSettlement, error)
}
