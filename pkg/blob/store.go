// Package blob provides the content-addressed blob store executors use for
// inline document and entity content. Keys are derived from the content's
// SHA-256, so re-uploading after a retry overwrites the same key and the
// upload step is naturally idempotent.
package blob

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	"github.com/google/uuid"
)

// UploadResult describes a stored blob.
type UploadResult struct {
	URL      string `json:"url"`
	Path     string `json:"path"`
	Size     int64  `json:"size"`
	Checksum string `json:"checksum"`
}

// Store is an opaque content-addressable blob store.
type Store interface {
	Upload(ctx context.Context, path string, content []byte) (*UploadResult, error)
	Download(ctx context.Context, path string) ([]byte, error)
	Delete(ctx context.Context, path string) error
}

// Checksum returns the hex-encoded SHA-256 of content.
func Checksum(content []byte) string {
	sum := sha256.Sum256(content)
	return hex.EncodeToString(sum[:])
}

// ContentPath derives the content-addressed key for a user's blob:
// {userID}/{checksum-prefix}/{checksum}. The same content always maps to the
// same key, which is what makes executor retries self-healing.
func ContentPath(userID uuid.UUID, checksum string) string {
	prefix := checksum
	if len(prefix) > 2 {
		prefix = prefix[:2]
	}
	return fmt.Sprintf("%s/%s/%s", userID, prefix, checksum)
}
