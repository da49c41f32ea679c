package artifact

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
)

// FSStorage keeps artifacts on the local filesystem. Suitable for single-node
// deployments and tests; the returned URL is what the analysis backend
// fetches, so BaseURL must be reachable from there.
type FSStorage struct {
	dir     string
	baseURL string
}

// NewFSStorage creates the target directory if needed.
func NewFSStorage(dir, baseURL string) (*FSStorage, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create artifact dir: %w", err)
	}
	return &FSStorage{dir: dir, baseURL: strings.TrimSuffix(baseURL, "/")}, nil
}

// Store writes the bytes under a fresh provider id, preserving the upload's
// extension so content sniffing downstream stays cheap.
func (s *FSStorage) Store(ctx context.Context, data []byte, meta Metadata) (*Stored, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	providerID := uuid.NewString() + strings.ToLower(filepath.Ext(meta.Filename))
	path := filepath.Join(s.dir, providerID)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return nil, fmt.Errorf("write artifact %s: %w", providerID, err)
	}

	return &Stored{
		URL:        s.baseURL + "/artifacts/" + providerID,
		ProviderID: providerID,
	}, nil
}
