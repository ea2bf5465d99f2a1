package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
)

const defaultDocumentRetries = 8

// ErrContention is returned by Document.Update when every attempt lost the
// race against a concurrent writer.
var ErrContention = Error("document update contention")

// envelope is the on-store form of a versioned document.
type envelope[T any] struct {
	Version int64 `json:"version"`
	Data    T     `json:"data"`
}

// Document is a JSON document mutated with optimistic concurrency: each
// update reads the current body and ETag, applies the mutation in memory and
// writes the whole document back conditioned on the ETag it read. A lost race
// re-reads and re-applies the mutation.
type Document[T any] struct {
	store   Store
	key     string
	retries int
}

func NewDocument[T any](store Store, key string) *Document[T] {
	return &Document[T]{
		store:   store,
		key:     key,
		retries: defaultDocumentRetries,
	}
}

func (d *Document[T]) Key() string {
	return d.key
}

// Load returns the current document, the zero value if it does not exist yet.
func (d *Document[T]) Load(ctx context.Context) (T, int64, error) {
	env, _, err := d.read(ctx)
	if err != nil {
		var zero T
		return zero, 0, err
	}
	return env.Data, env.Version, nil
}

// Update applies mutate to the current document and persists the result. An
// error returned by mutate aborts the update and is returned unchanged.
func (d *Document[T]) Update(ctx context.Context, mutate func(*T) error) (T, error) {
	var zero T

	for attempt := 0; attempt < d.retries; attempt++ {
		env, etag, err := d.read(ctx)
		if err != nil {
			return zero, err
		}

		if err := mutate(&env.Data); err != nil {
			return zero, err
		}
		env.Version++

		body, err := json.Marshal(env)
		if err != nil {
			return zero, fmt.Errorf("encode document %s: %w", d.key, err)
		}

		opts := PutOptions{ContentType: "application/json"}
		if etag == "" {
			opts.IfNoneMatch = true
		} else {
			opts.IfMatch = etag
		}

		_, err = d.store.Put(ctx, d.key, body, nil, opts)
		if err == nil {
			return env.Data, nil
		}
		if !errors.Is(err, ErrPreconditionFailed) {
			return zero, fmt.Errorf("write document %s: %w", d.key, err)
		}
	}

	return zero, fmt.Errorf("update document %s: %w", d.key, ErrContention)
}

func (d *Document[T]) read(ctx context.Context) (envelope[T], string, error) {
	var env envelope[T]

	obj, err := d.store.Get(ctx, d.key)
	if errors.Is(err, ErrNotFound) {
		return env, "", nil
	}
	if err != nil {
		return env, "", fmt.Errorf("read document %s: %w", d.key, err)
	}

	if err := json.Unmarshal(obj.Data, &env); err != nil {
		return env, "", fmt.Errorf("decode document %s: %w", d.key, err)
	}
	return env, obj.ETag, nil
}
