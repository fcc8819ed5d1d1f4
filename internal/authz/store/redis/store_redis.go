package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"classauth/internal/authz/models"
	"classauth/internal/authz/store"
	"classauth/pkg/platform/sentinel"
)

const defaultKeyPrefix = "classauth:credential:"

// Store keeps sealed credential records in Redis so several instances share
// them.
type Store struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
	codec  store.Codec
}

// Option configures a Store.
type Option func(*Store)

// WithSealer encrypts records at rest.
func WithSealer(sealer store.Sealer) Option {
	return func(s *Store) {
		if sealer != nil {
			s.codec = store.NewCodec(sealer)
		}
	}
}

// WithKeyPrefix namespaces keys, e.g. per environment.
func WithKeyPrefix(prefix string) Option {
	return func(s *Store) {
		if prefix != "" {
			s.prefix = prefix
		}
	}
}

// WithRecordTTL expires idle records. Zero keeps them until deleted.
func WithRecordTTL(ttl time.Duration) Option {
	return func(s *Store) {
		if ttl > 0 {
			s.ttl = ttl
		}
	}
}

func New(client *redis.Client, opts ...Option) *Store {
	s := &Store{client: client, prefix: defaultKeyPrefix}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s
}

func (s *Store) Name() string { return "redis" }

func (s *Store) key(key models.CredentialKey) string {
	return s.prefix + key.Set + ":" + string(key.UserID)
}

func (s *Store) Get(ctx context.Context, key models.CredentialKey) (*models.TokenRecord, error) {
	data, err := s.client.Get(ctx, s.key(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("credential %s: %w", key, sentinel.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("redis get %s: %w: %v", key, sentinel.ErrUnavailable, err)
	}
	return s.codec.Decode(key, data)
}

func (s *Store) Put(ctx context.Context, key models.CredentialKey, rec *models.TokenRecord) error {
	data, err := s.codec.Encode(key, rec)
	if err != nil {
		return err
	}
	if err := s.client.Set(ctx, s.key(key), data, s.ttl).Err(); err != nil {
		return fmt.Errorf("redis set %s: %w: %v", key, sentinel.ErrUnavailable, err)
	}
	return nil
}

func (s *Store) Delete(ctx context.Context, key models.CredentialKey) error {
	if err := s.client.Del(ctx, s.key(key)).Err(); err != nil {
		return fmt.Errorf("redis del %s: %w: %v", key, sentinel.ErrUnavailable, err)
	}
	return nil
}
