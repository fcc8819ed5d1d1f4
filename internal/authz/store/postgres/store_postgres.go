package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"

	"classauth/internal/authz/models"
	"classauth/internal/authz/store"
	"classauth/pkg/platform/sentinel"
)

// Schema is applied by EnsureSchema. granted_scopes mirrors the sealed
// payload so operators can query grants without the sealing key.
const Schema = `
CREATE TABLE IF NOT EXISTS oauth_credentials (
	credential_set TEXT NOT NULL,
	user_id        TEXT NOT NULL,
	payload        BYTEA NOT NULL,
	granted_scopes TEXT[] NOT NULL DEFAULT '{}',
	updated_at     TIMESTAMPTZ NOT NULL,
	PRIMARY KEY (credential_set, user_id)
)`

// Store persists sealed credential records in PostgreSQL.
type Store struct {
	db    *sql.DB
	codec store.Codec
	clock func() time.Time
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

// WithPostgresClock sets the clock function for testability.
func WithPostgresClock(clock func() time.Time) Option {
	return func(s *Store) {
		if clock != nil {
			s.clock = clock
		}
	}
}

func New(db *sql.DB, opts ...Option) *Store {
	s := &Store{db: db, clock: time.Now}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s
}

// EnsureSchema creates the credentials table if it does not exist.
func (s *Store) EnsureSchema(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, Schema); err != nil {
		return fmt.Errorf("ensure credentials schema: %w", err)
	}
	return nil
}

func (s *Store) Name() string { return "postgres" }

func (s *Store) Get(ctx context.Context, key models.CredentialKey) (*models.TokenRecord, error) {
	var payload []byte
	err := s.db.QueryRowContext(ctx,
		`SELECT payload FROM oauth_credentials WHERE credential_set = $1 AND user_id = $2`,
		key.Set, string(key.UserID),
	).Scan(&payload)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("credential %s: %w", key, sentinel.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("load credential %s: %w", key, err)
	}
	return s.codec.Decode(key, payload)
}

func (s *Store) Put(ctx context.Context, key models.CredentialKey, rec *models.TokenRecord) error {
	payload, err := s.codec.Encode(key, rec)
	if err != nil {
		return err
	}
	query := `
		INSERT INTO oauth_credentials (credential_set, user_id, payload, granted_scopes, updated_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (credential_set, user_id) DO UPDATE SET
			payload = EXCLUDED.payload,
			granted_scopes = EXCLUDED.granted_scopes,
			updated_at = EXCLUDED.updated_at
	`
	scopes := []string(rec.GrantedScopes)
	if scopes == nil {
		scopes = []string{}
	}
	_, err = s.db.ExecContext(ctx, query, key.Set, string(key.UserID), payload, pq.Array(scopes), s.clock())
	if err != nil {
		return fmt.Errorf("store credential %s: %w", key, err)
	}
	return nil
}

func (s *Store) Delete(ctx context.Context, key models.CredentialKey) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM oauth_credentials WHERE credential_set = $1 AND user_id = $2`,
		key.Set, string(key.UserID),
	)
	if err != nil {
		return fmt.Errorf("delete credential %s: %w", key, err)
	}
	return nil
}

// UsersWithScope lists users in set whose grant includes scope.
func (s *Store) UsersWithScope(ctx context.Context, set, scope string) ([]models.UserID, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT user_id FROM oauth_credentials WHERE credential_set = $1 AND $2 = ANY(granted_scopes) ORDER BY user_id`,
		set, scope,
	)
	if err != nil {
		return nil, fmt.Errorf("query users with scope: %w", err)
	}
	defer rows.Close()

	var users []models.UserID
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan user id: %w", err)
		}
		users = append(users, models.UserID(id))
	}
	return users, rows.Err()
}
