package bolt

import (
	"context"
	"fmt"
	"time"

	bolt "go.etcd.io/bbolt"

	"classauth/internal/authz/models"
	"classauth/internal/authz/store"
	"classauth/pkg/platform/sentinel"
)

var bucketName = []byte("credentials")

// Store persists sealed credential records in a single bbolt file.
type Store struct {
	db    *bolt.DB
	codec store.Codec
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

// Open opens or creates the database file at path.
func Open(path string, opts ...Option) (*Store, error) {
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("open bolt %s: %w", path, err)
	}
	if err := db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketName)
		return err
	}); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create bucket: %w", err)
	}
	s := &Store{db: db}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s, nil
}

func (s *Store) Name() string { return "bolt" }

func (s *Store) Get(ctx context.Context, key models.CredentialKey) (*models.TokenRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var rec *models.TokenRecord
	err := s.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(bucketName).Get([]byte(key.String()))
		if data == nil {
			return fmt.Errorf("credential %s: %w", key, sentinel.ErrNotFound)
		}
		// data is only valid inside the transaction; Decode copies it out.
		var err error
		rec, err = s.codec.Decode(key, data)
		return err
	})
	if err != nil {
		return nil, err
	}
	return rec, nil
}

func (s *Store) Put(ctx context.Context, key models.CredentialKey, rec *models.TokenRecord) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := s.codec.Encode(key, rec)
	if err != nil {
		return err
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketName).Put([]byte(key.String()), data)
	})
}

func (s *Store) Delete(ctx context.Context, key models.CredentialKey) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketName).Delete([]byte(key.String()))
	})
}

// Close releases the file lock.
func (s *Store) Close() error {
	return s.db.Close()
}
