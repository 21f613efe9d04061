package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/cardvault/cardvault/pkg/auth"
	"github.com/cardvault/cardvault/pkg/storage"
)

const userColumns = `id, username, first_name, last_name, email, group_id, role, password_hash, lockout_expiration, tokens`

func scanUser(row interface{ Scan(...interface{}) error }) (*auth.User, error) {
	var (
		u         auth.User
		lockout   sql.NullTime
		tokensRaw []byte
	)
	err := row.Scan(&u.ID, &u.Username, &u.FirstName, &u.LastName, &u.Email,
		&u.GroupID, &u.Role, &u.PasswordHash, &lockout, &tokensRaw)
	if err == sql.ErrNoRows {
		return nil, storage.ErrNotFound
	} else if err != nil {
		return nil, fmt.Errorf("scanning user: %w", err)
	}

	if lockout.Valid {
		t := lockout.Time
		u.LockoutExpiration = &t
	}
	if len(tokensRaw) > 0 {
		if err := json.Unmarshal(tokensRaw, &u.Tokens); err != nil {
			return nil, fmt.Errorf("decoding token list: %w", err)
		}
	}
	return &u, nil
}

// GetUserByUsername looks a user up by exact username match
func (s *Store) GetUserByUsername(ctx context.Context, username string) (*auth.User, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+userColumns+` FROM users WHERE username = $1
	`, username)
	return scanUser(row)
}

// GetUserByID looks a user up by id
func (s *Store) GetUserByID(ctx context.Context, id int64) (*auth.User, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+userColumns+` FROM users WHERE id = $1
	`, id)
	return scanUser(row)
}

// ListUsers returns users matching the query filters
func (s *Store) ListUsers(ctx context.Context, q auth.UserQuery) ([]*auth.User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE 1=1`
	args := []interface{}{}

	if q.Username != "" {
		args = append(args, q.Username)
		query += fmt.Sprintf(" AND username = $%d", len(args))
	}
	if q.GroupID != 0 {
		args = append(args, q.GroupID)
		query += fmt.Sprintf(" AND group_id = $%d", len(args))
	}
	if q.Role != "" {
		args = append(args, q.Role)
		query += fmt.Sprintf(" AND role = $%d", len(args))
	}
	query += ` ORDER BY id`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("listing users: %w", err)
	}
	defer rows.Close()

	var users []*auth.User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		users = append(users, u)
	}
	return users, rows.Err()
}

// CreateUser inserts a new user record and returns its id
func (s *Store) CreateUser(ctx context.Context, u *auth.User) (int64, error) {
	tokens, err := json.Marshal(u.Tokens)
	if err != nil {
		return 0, fmt.Errorf("encoding token list: %w", err)
	}
	if u.Tokens == nil {
		tokens = []byte(`[]`)
	}

	var id int64
	err = s.db.QueryRowContext(ctx, `
		INSERT INTO users (username, first_name, last_name, email, group_id, role, password_hash, tokens)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING id
	`, u.Username, u.FirstName, u.LastName, u.Email, u.GroupID, u.Role, u.PasswordHash, tokens).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("creating user: %w", err)
	}
	return id, nil
}

// UpdateUser persists profile fields, role, group, and password hash
func (s *Store) UpdateUser(ctx context.Context, u *auth.User) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE users
		SET first_name = $2, last_name = $3, email = $4, group_id = $5, role = $6, password_hash = $7
		WHERE id = $1
	`, u.ID, u.FirstName, u.LastName, u.Email, u.GroupID, u.Role, u.PasswordHash)
	if err != nil {
		return fmt.Errorf("updating user: %w", err)
	}
	return requireRow(res)
}

// DeleteUser removes a user record
func (s *Store) DeleteUser(ctx context.Context, id int64) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM users WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("deleting user: %w", err)
	}
	return requireRow(res)
}

// SetLockout persists the lockout expiration on the user record
func (s *Store) SetLockout(ctx context.Context, userID int64, until time.Time) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE users SET lockout_expiration = $2 WHERE id = $1
	`, userID, until)
	if err != nil {
		return fmt.Errorf("setting lockout expiration: %w", err)
	}
	return requireRow(res)
}

// AppendToken appends a persistent token to the user's token list in a
// single statement.
func (s *Store) AppendToken(ctx context.Context, userID int64, tok auth.PersistentToken) error {
	entry, err := json.Marshal(tok)
	if err != nil {
		return fmt.Errorf("encoding token: %w", err)
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE users SET tokens = tokens || $2::jsonb WHERE id = $1
	`, userID, entry)
	if err != nil {
		return fmt.Errorf("appending token: %w", err)
	}
	return requireRow(res)
}

// GetUserByTokenID returns the user owning the persistent token with the
// given id, expired or not, without touching the token list.
func (s *Store) GetUserByTokenID(ctx context.Context, tokenID string) (*auth.User, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+userColumns+` FROM users
		WHERE EXISTS (
			SELECT 1 FROM jsonb_array_elements(tokens) AS tok
			WHERE tok->>'id' = $1
		)
	`, tokenID)
	return scanUser(row)
}

// RedeemToken consumes an unexpired persistent token: the matching entry
// is spliced out of its owner's token list and the owner returned, all in
// one statement, so a token can be redeemed at most once.
func (s *Store) RedeemToken(ctx context.Context, tokenID string, now time.Time) (*auth.User, error) {
	row := s.db.QueryRowContext(ctx, `
		UPDATE users SET tokens = (
			SELECT COALESCE(jsonb_agg(tok), '[]'::jsonb)
			FROM jsonb_array_elements(tokens) AS tok
			WHERE tok->>'id' <> $1
		)
		WHERE EXISTS (
			SELECT 1 FROM jsonb_array_elements(tokens) AS tok
			WHERE tok->>'id' = $1 AND (tok->>'expires_at')::timestamptz > $2
		)
		RETURNING `+userColumns+`
	`, tokenID, now)
	return scanUser(row)
}

// RemoveToken splices a persistent token out of its owner's token list
// regardless of expiration.
func (s *Store) RemoveToken(ctx context.Context, tokenID string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE users SET tokens = (
			SELECT COALESCE(jsonb_agg(tok), '[]'::jsonb)
			FROM jsonb_array_elements(tokens) AS tok
			WHERE tok->>'id' <> $1
		)
		WHERE EXISTS (
			SELECT 1 FROM jsonb_array_elements(tokens) AS tok
			WHERE tok->>'id' = $1
		)
	`, tokenID)
	if err != nil {
		return fmt.Errorf("removing token: %w", err)
	}
	return requireRow(res)
}

// PurgeExpiredTokens drops every expired persistent-token entry and
// returns the number of users touched.
func (s *Store) PurgeExpiredTokens(ctx context.Context, now time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE users SET tokens = (
			SELECT COALESCE(jsonb_agg(tok), '[]'::jsonb)
			FROM jsonb_array_elements(tokens) AS tok
			WHERE (tok->>'expires_at')::timestamptz > $1
		)
		WHERE EXISTS (
			SELECT 1 FROM jsonb_array_elements(tokens) AS tok
			WHERE (tok->>'expires_at')::timestamptz <= $1
		)
	`, now)
	if err != nil {
		return 0, fmt.Errorf("purging expired tokens: %w", err)
	}
	return res.RowsAffected()
}

func requireRow(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("reading rows affected: %w", err)
	}
	if n == 0 {
		return storage.ErrNotFound
	}
	return nil
}
