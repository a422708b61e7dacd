// Package storage publishes finished traces to object storage.
package storage

import (
	"context"
	"errors"
	"fmt"
	"path"
	"path/filepath"
	"strings"
)

// Common errors for storage operations.
var (
	ErrObjectNotFound = errors.New("object not found")
	ErrUploadFailed   = errors.New("upload failed")
	ErrDeleteFailed   = errors.New("delete failed")
)

// Object describes a published trace.
type Object struct {
	// Key is the object path inside the store
	Key string
	// Size is the number of bytes stored
	Size int64
	// ETag is the store's content tag
	ETag string
}

// Publisher abstracts the stores a trace can be published to.
// Implementations include S3 and the local filesystem.
type Publisher interface {
	// Publish copies the file at localPath to objectPath.
	Publish(ctx context.Context, localPath, objectPath string) (Object, error)

	// Stat describes a stored object. It returns ErrObjectNotFound when
	// objectPath does not exist.
	Stat(ctx context.Context, objectPath string) (Object, error)

	// Delete removes an object. Deleting a missing object is not an error.
	Delete(ctx context.Context, objectPath string) error
}

// Config selects and configures a Publisher.
type Config struct {
	// Type is "local" or "s3"
	Type string `json:"type" yaml:"type"`
	// Path is the base directory for local publishing
	Path string `json:"path" yaml:"path"`
	// Prefix is prepended to every object key
	Prefix string   `json:"prefix" yaml:"prefix"`
	S3     S3Config `json:"s3" yaml:"s3"`
}

// New creates the publisher cfg describes.
func New(ctx context.Context, cfg Config) (Publisher, error) {
	switch strings.ToLower(cfg.Type) {
	case "", "local":
		return NewLocalStore(cfg.Path)
	case "s3":
		return NewS3Store(ctx, cfg.S3)
	default:
		return nil, fmt.Errorf("storage: unknown publisher type %q", cfg.Type)
	}
}

// ObjectKey builds the key a trace is published under:
// <prefix>/<runID>/<file name>.
func ObjectKey(prefix, runID, localPath string) string {
	return path.Join(strings.Trim(prefix, "/"), runID, filepath.Base(localPath))
}

// contentEncoding maps a trace file name to its HTTP content encoding.
func contentEncoding(name string) string {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".gz":
		return "gzip"
	case ".zst":
		return "zstd"
	case ".sz":
		return "x-snappy-framed"
	default:
		return ""
	}
}
