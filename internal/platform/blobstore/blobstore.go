// Package blobstore stores patient files in S3 under per-patient key prefixes.
package blobstore

import (
	"context"
	"errors"
	"io"
	"strings"
	"time"
)

var (
	ErrNotFound           = errors.New("object not found")
	ErrFileTooLarge       = errors.New("file exceeds maximum allowed size")
	ErrInvalidContentType = errors.New("content type is not allowed")
	ErrInvalidCategory    = errors.New("invalid category")
	ErrEmptyFile          = errors.New("file is empty")
)

// MaxFileSize is the maximum allowed upload size in bytes (100 MB).
const MaxFileSize = 100 * 1024 * 1024

// AllowedContentTypes lists the accepted medical file MIME types.
var AllowedContentTypes = map[string]bool{
	"image/png":         true,
	"image/jpeg":        true,
	"image/dicom":       true,
	"application/dicom": true,
	"application/pdf":   true,
	"text/plain":        true,
	"text/csv":          true,
}

// Object describes a stored object.
type Object struct {
	Key          string    `json:"key"`
	ContentType  string    `json:"content_type"`
	Size         int64     `json:"size"`
	ETag         string    `json:"etag,omitempty"`
	LastModified time.Time `json:"last_modified"`
}

// Store is the contract for object storage backends.
type Store interface {
	Put(ctx context.Context, key, contentType string, body io.Reader, size int64) (*Object, error)
	Get(ctx context.Context, key string) (io.ReadCloser, *Object, error)
	Delete(ctx context.Context, key string) error
	List(ctx context.Context, prefix string) ([]Object, error)
	PresignGet(ctx context.Context, key string, ttl time.Duration) (string, error)
}

// ValidateUpload checks size and content type before anything is stored.
func ValidateUpload(contentType string, size int64) error {
	if size == 0 {
		return ErrEmptyFile
	}
	if size > MaxFileSize {
		return ErrFileTooLarge
	}
	ct := strings.TrimSpace(strings.SplitN(contentType, ";", 2)[0])
	if !AllowedContentTypes[strings.ToLower(ct)] {
		return ErrInvalidContentType
	}
	return nil
}
