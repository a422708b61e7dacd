package trace

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	converrors "github.com/arkilian/nsys2chrome/internal/errors"
	"github.com/golang/snappy"
	"github.com/google/uuid"
	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
	"github.com/spaolacci/murmur3"
)

// Compression selects the on-disk encoding of the document.
type Compression uint8

const (
	// CompressionAuto picks by file extension.
	CompressionAuto Compression = iota
	CompressionNone
	CompressionGzip
	CompressionZstd
	CompressionSnappy
)

var compressionNames = []string{"auto", "none", "gzip", "zstd", "snappy"}

func (c Compression) String() string {
	if int(c) < len(compressionNames) {
		return compressionNames[c]
	}
	return fmt.Sprintf("compression(%d)", uint8(c))
}

// ParseCompression parses a compression name.
func ParseCompression(s string) (Compression, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "" {
		return CompressionAuto, nil
	}
	for i, name := range compressionNames {
		if s == name {
			return Compression(i), nil
		}
	}
	return 0, fmt.Errorf("unknown compression %q (must be one of %s)", s, strings.Join(compressionNames, ", "))
}

// CompressionFor maps a file name to the compression its extension implies.
func CompressionFor(path string) Compression {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".gz":
		return CompressionGzip
	case ".zst":
		return CompressionZstd
	case ".sz":
		return CompressionSnappy
	default:
		return CompressionNone
	}
}

// WriteOptions controls WriteFile.
type WriteOptions struct {
	Envelope    Envelope
	Compression Compression
}

// WriteResult describes a written document.
type WriteResult struct {
	Path string
	// Bytes is the size of the file on disk
	Bytes int64
	// Digest is the murmur3 128-bit hash of the uncompressed document, in hex
	Digest string
}

// WriteFile writes t to path atomically: the document goes to a temporary
// file in the same directory which is synced and renamed over path. On any
// failure or cancellation the temporary file is removed and path is left
// untouched.
func WriteFile(ctx context.Context, path string, t *Trace, opts WriteOptions) (res WriteResult, err error) {
	if err := ctx.Err(); err != nil {
		return res, err
	}
	comp := opts.Compression
	if comp == CompressionAuto {
		comp = CompressionFor(path)
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return res, converrors.NewEmitError(converrors.CodeWriteFailed, "create output directory", err)
	}
	tmp := filepath.Join(dir, fmt.Sprintf(".%s.%s.tmp", filepath.Base(path), uuid.NewString()))
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0644)
	if err != nil {
		return res, converrors.NewEmitError(converrors.CodeWriteFailed, "create temporary file", err)
	}
	defer func() {
		if err != nil {
			f.Close()
			os.Remove(tmp)
		}
	}()

	counter := &countingWriter{w: f}
	zw, err := compressor(counter, comp)
	if err != nil {
		return res, converrors.NewEmitError(converrors.CodeEncodeFailed, "create "+comp.String()+" writer", err)
	}
	hash := murmur3.New128()
	if err = encode(ctx, io.MultiWriter(zw, hash), t, opts.Envelope); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return res, ctxErr
		}
		return res, converrors.NewEmitError(converrors.CodeEncodeFailed, "encode trace", err)
	}
	if err = zw.Close(); err != nil {
		return res, converrors.NewEmitError(converrors.CodeWriteFailed, "flush "+comp.String()+" stream", err)
	}
	if err = f.Sync(); err != nil {
		return res, converrors.NewEmitError(converrors.CodeWriteFailed, "sync temporary file", err)
	}
	if err = f.Close(); err != nil {
		return res, converrors.NewEmitError(converrors.CodeWriteFailed, "close temporary file", err)
	}
	if err = ctx.Err(); err != nil {
		return res, err
	}
	if err = os.Rename(tmp, path); err != nil {
		return res, converrors.NewEmitError(converrors.CodeWriteFailed, "rename into place", err)
	}

	h1, h2 := hash.Sum128()
	return WriteResult{
		Path:   path,
		Bytes:  counter.n,
		Digest: fmt.Sprintf("%016x%016x", h1, h2),
	}, nil
}

func compressor(w io.Writer, c Compression) (io.WriteCloser, error) {
	switch c {
	case CompressionGzip:
		return gzip.NewWriter(w), nil
	case CompressionZstd:
		return zstd.NewWriter(w)
	case CompressionSnappy:
		return snappy.NewBufferedWriter(w), nil
	default:
		return nopCloser{w}, nil
	}
}

type nopCloser struct{ io.Writer }

func (nopCloser) Close() error { return nil }

type countingWriter struct {
	w io.Writer
	n int64
}

func (c *countingWriter) Write(p []byte) (int, error) {
	n, err := c.w.Write(p)
	c.n += int64(n)
	return n, err
}
