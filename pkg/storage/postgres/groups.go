package postgres

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/cardvault/cardvault/pkg/api"
	"github.com/cardvault/cardvault/pkg/storage"
)

func scanGroup(row interface{ Scan(...interface{}) error }) (*api.Group, error) {
	var g api.Group
	err := row.Scan(&g.ID, &g.Name, &g.RegistrationCode)
	if err == sql.ErrNoRows {
		return nil, storage.ErrNotFound
	} else if err != nil {
		return nil, fmt.Errorf("scanning group: %w", err)
	}
	return &g, nil
}

func (s *Store) GetGroupByID(ctx context.Context, id int64) (*api.Group, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, name, registration_code FROM groups WHERE id = $1
	`, id)
	return scanGroup(row)
}

// GetGroupByRegistrationCode resolves the group a registration code
// belongs to.
func (s *Store) GetGroupByRegistrationCode(ctx context.Context, code string) (*api.Group, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, name, registration_code FROM groups WHERE registration_code = $1
	`, code)
	return scanGroup(row)
}

func (s *Store) ListGroups(ctx context.Context) ([]*api.Group, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, registration_code FROM groups ORDER BY id
	`)
	if err != nil {
		return nil, fmt.Errorf("listing groups: %w", err)
	}
	defer rows.Close()

	var groups []*api.Group
	for rows.Next() {
		g, err := scanGroup(rows)
		if err != nil {
			return nil, err
		}
		groups = append(groups, g)
	}
	return groups, rows.Err()
}

func (s *Store) CreateGroup(ctx context.Context, g *api.Group) (int64, error) {
	var id int64
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO groups (name, registration_code) VALUES ($1, $2) RETURNING id
	`, g.Name, g.RegistrationCode).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("creating group: %w", err)
	}
	return id, nil
}

func (s *Store) UpdateGroup(ctx context.Context, g *api.Group) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE groups SET name = $2, registration_code = $3 WHERE id = $1
	`, g.ID, g.Name, g.RegistrationCode)
	if err != nil {
		return fmt.Errorf("updating group: %w", err)
	}
	return requireRow(res)
}

// DeleteGroup removes the group and everything scoped to it. Users and
// cards go first so the group row's foreign keys never dangle.
func (s *Store) DeleteGroup(ctx context.Context, id int64) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("starting delete transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM credit_cards WHERE group_id = $1`, id); err != nil {
		return fmt.Errorf("deleting group cards: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM users WHERE group_id = $1`, id); err != nil {
		return fmt.Errorf("deleting group users: %w", err)
	}

	res, err := tx.ExecContext(ctx, `DELETE FROM groups WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("deleting group: %w", err)
	}
	if err := requireRow(res); err != nil {
		return err
	}
	return tx.Commit()
}
