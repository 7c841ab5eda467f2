// Package kv provides the durable key-value storage the stores persist into.
package kv

import (
	"context"
	"errors"
)

// ErrNotFound is returned by Get when the key holds no value.
var ErrNotFound = errors.New("kv: key not found")

// Store is a string-keyed durable storage.
type Store interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key, value string) error
	Remove(ctx context.Context, key string) error
	Ping(ctx context.Context) error
	Close() error
}
