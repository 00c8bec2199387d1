// -----------------------------------------------------------------------
// Last Modified: Tuesday, 13th October 2026 4:41:10 pm
// Modified By: Bob McAllan
// -----------------------------------------------------------------------

package interfaces

import (
	"context"
	"errors"
)

// ErrArtifactNotFound is returned when an artifact key is not found or has expired
var ErrArtifactNotFound = errors.New("artifact not found")

// ArtifactStorage stores write-once binary blobs that expire after the retention period
type ArtifactStorage interface {
	// PutArtifact writes data under key with the configured expiry
	PutArtifact(ctx context.Context, key string, data []byte) error

	// GetArtifact returns ErrArtifactNotFound if the key does not exist
	GetArtifact(ctx context.Context, key string) ([]byte, error)

	// ListArtifactKeys returns every live key starting with prefix
	ListArtifactKeys(ctx context.Context, prefix string) ([]string, error)

	// DeleteArtifact is a no-op for missing keys
	DeleteArtifact(ctx context.Context, key string) error
}
