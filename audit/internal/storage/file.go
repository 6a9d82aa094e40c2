package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/telhawk-systems/telhawk-audit/audit/internal/models"
)

const metaSuffix = ".meta.json"

type fileMeta struct {
	ContentType string `json:"content_type"`
}

// FileArchive stores objects as files under a base directory, one file per key.
type FileArchive struct {
	basePath string
}

// NewFileArchive creates the base directory if needed.
func NewFileArchive(basePath string) (*FileArchive, error) {
	if basePath == "" {
		basePath = "/var/lib/telhawk/audit"
	}
	if err := os.MkdirAll(basePath, 0755); err != nil {
		return nil, fmt.Errorf("create archive directory: %w", classifyFSError(err))
	}
	return &FileArchive{basePath: basePath}, nil
}

func (a *FileArchive) path(key string) string {
	return filepath.Join(a.basePath, filepath.FromSlash(key))
}

// Put writes body to a temp file and renames it over the target.
func (a *FileArchive) Put(ctx context.Context, key string, body []byte, contentType string) error {
	if err := validateKey(key); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("put %s: %w: %v", key, models.ErrStoreUnavailable, err)
	}

	target := a.path(key)
	if err := os.MkdirAll(filepath.Dir(target), 0755); err != nil {
		return fmt.Errorf("put %s: %w", key, classifyFSError(err))
	}

	meta, err := json.Marshal(fileMeta{ContentType: contentType})
	if err != nil {
		return fmt.Errorf("put %s: encode metadata: %w", key, err)
	}
	if err := writeAtomic(target+metaSuffix, meta); err != nil {
		return fmt.Errorf("put %s: %w", key, classifyFSError(err))
	}
	if err := writeAtomic(target, body); err != nil {
		return fmt.Errorf("put %s: %w", key, classifyFSError(err))
	}
	return nil
}

// Get reads an object back.
func (a *FileArchive) Get(ctx context.Context, key string) (*models.ArchiveObject, error) {
	if err := validateKey(key); err != nil {
		return nil, err
	}
	target := a.path(key)

	body, err := os.ReadFile(target)
	if err != nil {
		return nil, fmt.Errorf("get %s: %w", key, classifyFSError(err))
	}
	info, err := os.Stat(target)
	if err != nil {
		return nil, fmt.Errorf("get %s: %w", key, classifyFSError(err))
	}

	contentType := ContentTypeJSON
	if raw, err := os.ReadFile(target + metaSuffix); err == nil {
		var meta fileMeta
		if json.Unmarshal(raw, &meta) == nil && meta.ContentType != "" {
			contentType = meta.ContentType
		}
	}

	return &models.ArchiveObject{
		Key:         key,
		Body:        body,
		ContentType: contentType,
		Size:        info.Size(),
		Modified:    info.ModTime().UTC(),
	}, nil
}

func writeAtomic(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), ".tmp-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmpName, path)
}

func classifyFSError(err error) error {
	switch {
	case errors.Is(err, fs.ErrNotExist):
		return fmt.Errorf("%w: %v", models.ErrNotFound, err)
	case errors.Is(err, fs.ErrPermission):
		return fmt.Errorf("%w: %v", models.ErrPermissionDenied, err)
	default:
		return fmt.Errorf("%w: %v", models.ErrStoreUnavailable, err)
	}
}
