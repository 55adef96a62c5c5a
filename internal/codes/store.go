package codes

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Store keeps gateway code lists pulled by the reference sync in Redis,
// one hash per category keyed by lower-cased label.
type Store struct {
	client *redis.Client
	prefix string
}

// NewStore constructs the store scoped to a tenant branch.
func NewStore(client *redis.Client, tenantKey string) *Store {
	return &Store{client: client, prefix: "fiscal:codes:" + tenantKey}
}

func (s *Store) key(category Category) string {
	return fmt.Sprintf("%s:%s", s.prefix, category)
}

// Save replaces the stored entries of a category.
func (s *Store) Save(ctx context.Context, category Category, entries map[string]string) error {
	return s.write(ctx, category, entries, true)
}

// Merge adds entries to a category and keeps the labels it does not name.
func (s *Store) Merge(ctx context.Context, category Category, entries map[string]string) error {
	return s.write(ctx, category, entries, false)
}

func (s *Store) write(ctx context.Context, category Category, entries map[string]string, replace bool) error {
	if s == nil || s.client == nil {
		return nil
	}
	values := make(map[string]any, len(entries))
	for label, code := range entries {
		if key := normalize(label); key != "" {
			values[key] = code
		}
	}
	key := s.key(category)
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		if replace {
			pipe.Del(ctx, key)
		}
		if len(values) > 0 {
			pipe.HSet(ctx, key, values)
		}
		pipe.HSet(ctx, s.prefix+":synced", string(category), time.Now().UTC().Format(time.RFC3339))
		return nil
	})
	if err != nil {
		return fmt.Errorf("codes: save %s: %w", category, err)
	}
	return nil
}

// Load returns the stored entries of a category. Missing categories yield
// an empty map.
func (s *Store) Load(ctx context.Context, category Category) (map[string]string, error) {
	if s == nil || s.client == nil {
		return map[string]string{}, nil
	}
	entries, err := s.client.HGetAll(ctx, s.key(category)).Result()
	if err != nil {
		return nil, fmt.Errorf("codes: load %s: %w", category, err)
	}
	return entries, nil
}

// Overlay merges every stored category into the codebook.
func (s *Store) Overlay(ctx context.Context, cb *Codebook) error {
	for _, category := range cb.Categories() {
		entries, err := s.Load(ctx, category)
		if err != nil {
			return err
		}
		if len(entries) > 0 {
			cb.Merge(category, entries)
		}
	}
	return nil
}
