package storage

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// LocalStore implements Publisher using a directory on the local filesystem.
type LocalStore struct {
	basePath string
}

// NewLocalStore creates a local store rooted at basePath.
func NewLocalStore(basePath string) (*LocalStore, error) {
	if basePath == "" {
		return nil, fmt.Errorf("storage: local publisher needs a path")
	}
	if err := os.MkdirAll(basePath, 0755); err != nil {
		return nil, fmt.Errorf("failed to create base directory: %w", err)
	}
	return &LocalStore{basePath: basePath}, nil
}

// Publish copies localPath into the store. The object appears atomically.
func (l *LocalStore) Publish(ctx context.Context, localPath, objectPath string) (Object, error) {
	if err := ctx.Err(); err != nil {
		return Object{}, err
	}

	destPath := l.fullPath(objectPath)
	if err := os.MkdirAll(filepath.Dir(destPath), 0755); err != nil {
		return Object{}, fmt.Errorf("%w: %v", ErrUploadFailed, err)
	}

	src, err := os.Open(localPath)
	if err != nil {
		return Object{}, fmt.Errorf("%w: %v", ErrUploadFailed, err)
	}
	defer src.Close()

	tmp := destPath + ".partial"
	dst, err := os.Create(tmp)
	if err != nil {
		return Object{}, fmt.Errorf("%w: %v", ErrUploadFailed, err)
	}

	// Copy content and compute ETag
	hash := md5.New()
	n, err := io.Copy(io.MultiWriter(dst, hash), src)
	if cerr := dst.Close(); err == nil {
		err = cerr
	}
	if err == nil {
		err = os.Rename(tmp, destPath)
	}
	if err != nil {
		os.Remove(tmp)
		return Object{}, fmt.Errorf("%w: %v", ErrUploadFailed, err)
	}

	return Object{
		Key:  objectPath,
		Size: n,
		ETag: hex.EncodeToString(hash.Sum(nil)),
	}, nil
}

// Stat describes a published object. The ETag is not recomputed.
func (l *LocalStore) Stat(ctx context.Context, objectPath string) (Object, error) {
	if err := ctx.Err(); err != nil {
		return Object{}, err
	}
	info, err := os.Stat(l.fullPath(objectPath))
	if os.IsNotExist(err) {
		return Object{}, fmt.Errorf("%w: %s", ErrObjectNotFound, objectPath)
	}
	if err != nil {
		return Object{}, err
	}
	if info.IsDir() {
		return Object{}, fmt.Errorf("%w: %s is a prefix", ErrObjectNotFound, objectPath)
	}
	return Object{Key: objectPath, Size: info.Size()}, nil
}

// Delete removes an object from the store.
func (l *LocalStore) Delete(ctx context.Context, objectPath string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := os.Remove(l.fullPath(objectPath)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("%w: %v", ErrDeleteFailed, err)
	}
	return nil
}

// fullPath returns the full filesystem path for an object.
func (l *LocalStore) fullPath(objectPath string) string {
	return filepath.Join(l.basePath, filepath.FromSlash(objectPath))
}
