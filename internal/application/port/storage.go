package port

import "context"

// FileStorage defines file storage operations for archived reports
type FileStorage interface {
	Save(ctx context.Context, path string, content []byte) error
	Read(ctx context.Context, path string) ([]byte, error)
	Exists(ctx context.Context, path string) bool
	Delete(ctx context.Context, path string) error
	// List returns the files directly under dir, sorted
	List(ctx context.Context, dir string) ([]string, error)
	GetFullPath(relativePath string) string
}
