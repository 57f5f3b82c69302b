// Package pgstore is the Postgres backend for [session.Store].
//
// Rows live in auth_sessions (see internal/db/migrations). Rotation is a single
// conditional UPDATE on the stored digest, which gives the same compare-and-swap
// guarantee as the Redis backend. The pool is owned by the caller.
package pgstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/campuskit/trustguard/session"
)

const columns = `id::text, device_id, account_id, user_id, hashed_refresh_token,
	ip_address, country, city, device_type, browser, created_at, updated_at, expires_at`

const upsertSQL = `
INSERT INTO auth_sessions (id, device_id, account_id, user_id, hashed_refresh_token,
	ip_address, country, city, device_type, browser, created_at, updated_at, expires_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
ON CONFLICT (device_id, account_id) DO UPDATE SET
	user_id = EXCLUDED.user_id,
	hashed_refresh_token = EXCLUDED.hashed_refresh_token,
	ip_address = EXCLUDED.ip_address,
	country = EXCLUDED.country,
	city = EXCLUDED.city,
	device_type = EXCLUDED.device_type,
	browser = EXCLUDED.browser,
	updated_at = EXCLUDED.updated_at,
	expires_at = EXCLUDED.expires_at
RETURNING ` + columns

const rotateSQL = `
UPDATE auth_sessions SET
	hashed_refresh_token = $4,
	ip_address = $5,
	country = $6,
	city = $7,
	device_type = $8,
	browser = $9,
	updated_at = $10,
	expires_at = $11
WHERE device_id = $1 AND account_id = $2 AND hashed_refresh_token = $3 AND expires_at > $10
RETURNING ` + columns

// Store implements [session.Store] over a pgx pool.
type Store struct {
	pool *pgxpool.Pool
	now  func() time.Time
}

// New returns a Store using pool.
func New(pool *pgxpool.Pool) (*Store, error) {
	if pool == nil {
		return nil, errors.New("pgstore: nil pool")
	}
	return &Store{pool: pool, now: time.Now}, nil
}

var _ session.Store = (*Store)(nil)

// Upsert implements [session.Store].
func (s *Store) Upsert(ctx context.Context, sess *session.AuthSession) (*session.AuthSession, error) {
	if sess == nil || sess.DeviceID == "" || sess.AccountID == "" || sess.HashedRefreshToken == "" || sess.ExpiresAt.IsZero() {
		return nil, session.ErrInvalidSession
	}
	now := s.now().UTC()
	if !sess.ExpiresAt.After(now) {
		return nil, fmt.Errorf("%w: already expired", session.ErrInvalidSession)
	}

	id := sess.ID
	if id == "" {
		id = uuid.NewString()
	}
	created := sess.CreatedAt
	if created.IsZero() {
		created = now
	}
	updated := sess.UpdatedAt
	if updated.IsZero() {
		updated = now
	}

	row := s.pool.QueryRow(ctx, upsertSQL,
		id, sess.DeviceID, sess.AccountID, sess.UserID, sess.HashedRefreshToken,
		sess.IPAddress, sess.Country, sess.City, sess.DeviceType, sess.Browser,
		created, updated, sess.ExpiresAt,
	)
	out, err := scan(row)
	if err != nil {
		return nil, unavailable(err)
	}
	return out, nil
}

// Get implements [session.Store].
func (s *Store) Get(ctx context.Context, deviceID, accountID string) (*session.AuthSession, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+columns+` FROM auth_sessions WHERE device_id = $1 AND account_id = $2 AND expires_at > $3`,
		deviceID, accountID, s.now().UTC(),
	)
	out, err := scan(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, session.ErrNotFound
	}
	if err != nil {
		return nil, unavailable(err)
	}
	return out, nil
}

// ListByDevice implements [session.Store].
func (s *Store) ListByDevice(ctx context.Context, deviceID string) ([]*session.AuthSession, error) {
	return s.list(ctx, `SELECT `+columns+` FROM auth_sessions WHERE device_id = $1 AND expires_at > $2 ORDER BY created_at`, deviceID)
}

// ListByAccount implements [session.Store].
func (s *Store) ListByAccount(ctx context.Context, accountID string) ([]*session.AuthSession, error) {
	return s.list(ctx, `SELECT `+columns+` FROM auth_sessions WHERE account_id = $1 AND expires_at > $2 ORDER BY created_at`, accountID)
}

func (s *Store) list(ctx context.Context, query, owner string) ([]*session.AuthSession, error) {
	rows, err := s.pool.Query(ctx, query, owner, s.now().UTC())
	if err != nil {
		return nil, unavailable(err)
	}
	defer rows.Close()

	var out []*session.AuthSession
	for rows.Next() {
		sess, err := scan(rows)
		if err != nil {
			return nil, unavailable(err)
		}
		out = append(out, sess)
	}
	if err := rows.Err(); err != nil {
		return nil, unavailable(err)
	}
	return out, nil
}

// Rotate implements [session.Store].
func (s *Store) Rotate(ctx context.Context, deviceID, accountID, expectedHash string, next session.Rotation) (*session.AuthSession, error) {
	if next.HashedRefreshToken == "" {
		return nil, session.ErrInvalidSession
	}
	if next.UpdatedAt.IsZero() {
		next.UpdatedAt = s.now().UTC()
	}

	row := s.pool.QueryRow(ctx, rotateSQL,
		deviceID, accountID, expectedHash, next.HashedRefreshToken,
		next.Meta.IPAddress, next.Meta.Country, next.Meta.City, next.Meta.DeviceType, next.Meta.Browser,
		next.UpdatedAt, next.ExpiresAt,
	)
	out, err := scan(row)
	if err == nil {
		return out, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, unavailable(err)
	}

	// Nothing updated: tell a missing session apart from a lost race.
	if _, err := s.Get(ctx, deviceID, accountID); err != nil {
		return nil, err
	}
	return nil, session.ErrHashConflict
}

// Delete implements [session.Store].
func (s *Store) Delete(ctx context.Context, deviceID, accountID string) (bool, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM auth_sessions WHERE device_id = $1 AND account_id = $2`, deviceID, accountID)
	if err != nil {
		return false, unavailable(err)
	}
	return tag.RowsAffected() > 0, nil
}

// DeleteAllForDevice implements [session.Store].
func (s *Store) DeleteAllForDevice(ctx context.Context, deviceID string) (int, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM auth_sessions WHERE device_id = $1`, deviceID)
	if err != nil {
		return 0, unavailable(err)
	}
	return int(tag.RowsAffected()), nil
}

// DeleteAllForAccount implements [session.Store].
func (s *Store) DeleteAllForAccount(ctx context.Context, accountID string) (int, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM auth_sessions WHERE account_id = $1`, accountID)
	if err != nil {
		return 0, unavailable(err)
	}
	return int(tag.RowsAffected()), nil
}

// PurgeExpired deletes rows whose expiry is before now and reports how many went.
func (s *Store) PurgeExpired(ctx context.Context) (int, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM auth_sessions WHERE expires_at <= $1`, s.now().UTC())
	if err != nil {
		return 0, unavailable(err)
	}
	return int(tag.RowsAffected()), nil
}

func scan(row pgx.Row) (*session.AuthSession, error) {
	var out session.AuthSession
	err := row.Scan(
		&out.ID, &out.DeviceID, &out.AccountID, &out.UserID, &out.HashedRefreshToken,
		&out.IPAddress, &out.Country, &out.City, &out.DeviceType, &out.Browser,
		&out.CreatedAt, &out.UpdatedAt, &out.ExpiresAt,
	)
	if err != nil {
		return nil, err
	}
	return &out, nil
}

func unavailable(err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return fmt.Errorf("%w: %v", session.ErrUnavailable, err)
}
