// Package cache is the persistent key/value store behind the bootloader: private key,
// per-token owner addresses, viewing keys, permits and anything else scripts want to keep.
// There is no eviction and no expiry. Every write is durable before it returns.
package cache

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
)

var ErrNotFound = errors.New("cache: key not found")

// Store is a flat string key/value store.
type Store interface {
	// Get returns ErrNotFound when the key is absent.
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key, value string) error
	Delete(ctx context.Context, key string) error
	Keys(ctx context.Context) ([]string, error)
	// Clear removes every key owned by this store.
	Clear(ctx context.Context) error
	Close() error
}

// ReadString returns the raw value at key and whether it was present.
func ReadString(ctx context.Context, s Store, key string) (string, bool, error) {
	v, err := s.Get(ctx, key)
	if errors.Is(err, ErrNotFound) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return v, true, nil
}

// WriteString stores value at key and returns it.
func WriteString(ctx context.Context, s Store, key, value string) (string, error) {
	if err := s.Set(ctx, key, value); err != nil {
		return "", err
	}
	return value, nil
}

// ReadBase64 decodes the base64 value at key.
func ReadBase64(ctx context.Context, s Store, key string) ([]byte, bool, error) {
	v, ok, err := ReadString(ctx, s, key)
	if err != nil || !ok {
		return nil, ok, err
	}
	b, err := base64.StdEncoding.DecodeString(v)
	if err != nil {
		return nil, true, fmt.Errorf("cache: decode base64 %q: %w", key, err)
	}
	return b, true, nil
}

// WriteBase64 stores data base64-encoded at key and returns data.
func WriteBase64(ctx context.Context, s Store, key string, data []byte) ([]byte, error) {
	if err := s.Set(ctx, key, base64.StdEncoding.EncodeToString(data)); err != nil {
		return nil, err
	}
	return data, nil
}

// ReadJSON unmarshals the JSON value at key into T.
func ReadJSON[T any](ctx context.Context, s Store, key string) (T, bool, error) {
	var out T
	v, ok, err := ReadString(ctx, s, key)
	if err != nil || !ok {
		return out, ok, err
	}
	if err := json.Unmarshal([]byte(v), &out); err != nil {
		return out, true, fmt.Errorf("cache: decode json %q: %w", key, err)
	}
	return out, true, nil
}

// WriteJSON stores value as JSON at key and returns value.
func WriteJSON[T any](ctx context.Context, s Store, key string, value T) (T, error) {
	b, err := json.Marshal(value)
	if err != nil {
		var zero T
		return zero, fmt.Errorf("cache: encode json %q: %w", key, err)
	}
	if err := s.Set(ctx, key, string(b)); err != nil {
		var zero T
		return zero, err
	}
	return value, nil
}

// Snapshot copies every entry of s.
func Snapshot(ctx context.Context, s Store) (map[string]string, error) {
	keys, err := s.Keys(ctx)
	if err != nil {
		return nil, err
	}
	out := make(map[string]string, len(keys))
	for _, k := range keys {
		v, err := s.Get(ctx, k)
		if errors.Is(err, ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		out[k] = v
	}
	return out, nil
}

// Restore writes every entry of snap into s, overwriting existing keys.
func Restore(ctx context.Context, s Store, snap map[string]string) error {
	for k, v := range snap {
		if err := s.Set(ctx, k, v); err != nil {
			return fmt.Errorf("cache: restore %q: %w", k, err)
		}
	}
	return nil
}
