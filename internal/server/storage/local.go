package storage

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/eruvanos/warehouse14/internal/common"
)

// FileStorage keeps blobs on the local file system under
// <root>/packages/<project>/<filename>.
type FileStorage struct {
	root           string
	allowOverwrite bool
}

func NewFileStorage(root string, allowOverwrite bool) (*FileStorage, error) {
	if err := os.MkdirAll(filepath.Join(root, "packages"), 0o755); err != nil {
		return nil, fmt.Errorf("prepare storage root: %w", err)
	}
	return &FileStorage{root: root, allowOverwrite: allowOverwrite}, nil
}

func (f *FileStorage) path(project, filename string) (string, error) {
	for _, segment := range []string{project, filename} {
		if segment == "" || segment == "." || segment == ".." || segment != filepath.Base(segment) || strings.ContainsRune(segment, '/') {
			return "", fmt.Errorf("invalid blob key %s/%s: %w", project, filename, common.ErrValidation)
		}
	}
	return filepath.Join(f.root, "packages", project, filename), nil
}

func (f *FileStorage) Add(ctx context.Context, project, filename string, data io.Reader) error {
	path, err := f.path(project, filename)
	if err != nil {
		return err
	}

	if !f.allowOverwrite {
		if _, err := os.Stat(path); err == nil {
			return conflictErr(project, filename)
		} else if !os.IsNotExist(err) {
			return fmt.Errorf("stat blob %s/%s: %w", project, filename, err)
		}
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("prepare blob dir: %w", err)
	}

	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create blob %s/%s: %w", project, filename, err)
	}
	defer file.Close()

	if _, err := io.Copy(file, data); err != nil {
		return fmt.Errorf("write blob %s/%s: %w", project, filename, err)
	}
	return nil
}

func (f *FileStorage) Get(ctx context.Context, project, filename string) (io.ReadCloser, error) {
	path, err := f.path(project, filename)
	if err != nil {
		return nil, err
	}

	file, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("blob %s/%s: %w", project, filename, common.ErrNotFound)
		}
		return nil, fmt.Errorf("open blob %s/%s: %w", project, filename, err)
	}
	return file, nil
}

func (f *FileStorage) Delete(ctx context.Context, project, filename string) error {
	path, err := f.path(project, filename)
	if err != nil {
		return err
	}

	err = os.Remove(path)
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("delete blob %s/%s: %w", project, filename, err)
	}
	return nil
}

func (f *FileStorage) Digest(ctx context.Context, project, filename, algo string) (string, error) {
	return digest(ctx, f, project, filename, algo)
}
