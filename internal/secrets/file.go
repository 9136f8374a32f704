package secrets

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

// FileProvider reads secrets mounted as files. Relative references resolve
// against BaseDir.
type FileProvider struct {
	BaseDir string
}

// NewFileProvider returns a provider rooted at baseDir.
func NewFileProvider(baseDir string) *FileProvider {
	return &FileProvider{BaseDir: baseDir}
}

// Scheme implements Provider.
func (p *FileProvider) Scheme() string {
	return "file"
}

// GetSecret implements Provider.
func (p *FileProvider) GetSecret(_ context.Context, ref string) (string, error) {
	if ref == "" {
		return "", fmt.Errorf("%w: empty file path", ErrInvalidReference)
	}
	path := ref
	if !filepath.IsAbs(path) && p.BaseDir != "" {
		path = filepath.Join(p.BaseDir, path)
	}

	data, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return "", fmt.Errorf("%w: file %s", ErrSecretNotFound, path)
		}
		return "", fmt.Errorf("failed to read secret file %s: %w", path, err)
	}
	return strings.TrimRight(string(data), "\r\n"), nil
}
