package nats

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/nats-io/nats.go/jetstream"

	"github.com/tripmate/tripmate-sync/internal/kv"
)

// KVStore persists store snapshots in a JetStream key-value bucket.
type KVStore struct {
	client *Client
	kv     jetstream.KeyValue
}

// NewKVStore binds to bucket, creating it when it does not exist yet.
func NewKVStore(ctx context.Context, client *Client, bucket string) (*KVStore, error) {
	js := client.JetStream()

	bucketKV, err := js.KeyValue(ctx, bucket)
	if errors.Is(err, jetstream.ErrBucketNotFound) {
		bucketKV, err = js.CreateKeyValue(ctx, jetstream.KeyValueConfig{
			Bucket:      bucket,
			Description: "tripmate local state snapshots",
			History:     1,
			Storage:     jetstream.FileStorage,
		})
	}
	if err != nil {
		return nil, fmt.Errorf("failed to bind key-value bucket %s: %w", bucket, err)
	}

	return &KVStore{client: client, kv: bucketKV}, nil
}

// bucketKey maps storage keys such as "pinStore:v1" onto the NATS key alphabet.
func bucketKey(key string) string {
	return strings.ReplaceAll(key, ":", ".")
}

func (s *KVStore) Get(ctx context.Context, key string) (string, error) {
	entry, err := s.kv.Get(ctx, bucketKey(key))
	if errors.Is(err, jetstream.ErrKeyNotFound) {
		return "", kv.ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("failed to get %s: %w", key, err)
	}
	return string(entry.Value()), nil
}

func (s *KVStore) Set(ctx context.Context, key, value string) error {
	if _, err := s.kv.Put(ctx, bucketKey(key), []byte(value)); err != nil {
		return fmt.Errorf("failed to put %s: %w", key, err)
	}
	return nil
}

func (s *KVStore) Remove(ctx context.Context, key string) error {
	err := s.kv.Delete(ctx, bucketKey(key))
	if err != nil && !errors.Is(err, jetstream.ErrKeyNotFound) {
		return fmt.Errorf("failed to delete %s: %w", key, err)
	}
	return nil
}

func (s *KVStore) Ping(ctx context.Context) error {
	if !s.client.IsConnected() {
		return errors.New("NATS not connected")
	}
	return nil
}

// Close is a no-op; the connection is owned by Client.
func (s *KVStore) Close() error {
	return nil
}
