// Package storage is the blob store layer: a key → bytes + metadata store with
// per-key atomic operations and conditional writes. MinIO, AWS S3 and an
// in-memory backend implement Store.
package storage

import (
	"context"
	"net/url"
	"strings"
	"time"
)

// ObjectInfo describes a stored object without its body.
type ObjectInfo struct {
	Key          string
	Size         int64
	ETag         string
	LastModified time.Time
	Metadata     map[string]string
}

// Object is a stored object with its body.
type Object struct {
	ObjectInfo
	Data []byte
}

// PutOptions carries the conditional-write preconditions of a Put.
//
// IfMatch makes the write succeed only while the current object's ETag equals
// the given value. IfNoneMatch makes it succeed only if no object exists at
// the key. A failed precondition returns ErrPreconditionFailed.
type PutOptions struct {
	ContentType string
	IfMatch     string
	IfNoneMatch bool
}

type Store interface {
	Put(ctx context.Context, key string, data []byte, metadata map[string]string, opts PutOptions) (ObjectInfo, error)
	Get(ctx context.Context, key string) (*Object, error)
	Head(ctx context.Context, key string) (ObjectInfo, error)
	Delete(ctx context.Context, key string) error
	// List returns every object whose key starts with prefix. Metadata is
	// not populated; callers Head the keys they need.
	List(ctx context.Context, prefix string) ([]ObjectInfo, error)
}

// 错误定义
var (
	ErrNotFound           = Error("object not found")
	ErrPreconditionFailed = Error("precondition failed")
)

type Error string

func (e Error) Error() string {
	return string(e)
}

const metaHeaderPrefix = "x-amz-meta-"

// encodeMetadata escapes values so that they survive as HTTP header values.
func encodeMetadata(metadata map[string]string) map[string]string {
	out := make(map[string]string, len(metadata))
	for k, v := range metadata {
		out[strings.ToLower(k)] = url.QueryEscape(v)
	}
	return out
}

// decodeMetadata normalises keys returned by a backend (canonical header
// casing, optional x-amz-meta- prefix) and reverses encodeMetadata.
func decodeMetadata(metadata map[string]string) map[string]string {
	out := make(map[string]string, len(metadata))
	for k, v := range metadata {
		key := strings.TrimPrefix(strings.ToLower(k), metaHeaderPrefix)
		if decoded, err := url.QueryUnescape(v); err == nil {
			v = decoded
		}
		out[key] = v
	}
	return out
}
