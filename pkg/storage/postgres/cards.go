package postgres

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/cardvault/cardvault/pkg/api"
	"github.com/cardvault/cardvault/pkg/storage"
)

func scanCard(row interface{ Scan(...interface{}) error }) (*api.CreditCard, error) {
	var c api.CreditCard
	err := row.Scan(&c.ID, &c.CardName, &c.GroupID)
	if err == sql.ErrNoRows {
		return nil, storage.ErrNotFound
	} else if err != nil {
		return nil, fmt.Errorf("scanning card: %w", err)
	}
	return &c, nil
}

func (s *Store) GetCardByID(ctx context.Context, id int64) (*api.CreditCard, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, card_name, group_id FROM credit_cards WHERE id = $1
	`, id)
	return scanCard(row)
}

// ListCardsByGroup returns the cards owned by one group.
func (s *Store) ListCardsByGroup(ctx context.Context, groupID int64) ([]*api.CreditCard, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, card_name, group_id FROM credit_cards WHERE group_id = $1 ORDER BY id
	`, groupID)
	if err != nil {
		return nil, fmt.Errorf("listing group cards: %w", err)
	}
	defer rows.Close()
	return collectCards(rows)
}

// ListCards returns every card across all groups.
func (s *Store) ListCards(ctx context.Context) ([]*api.CreditCard, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, card_name, group_id FROM credit_cards ORDER BY id
	`)
	if err != nil {
		return nil, fmt.Errorf("listing cards: %w", err)
	}
	defer rows.Close()
	return collectCards(rows)
}

func collectCards(rows *sql.Rows) ([]*api.CreditCard, error) {
	var cards []*api.CreditCard
	for rows.Next() {
		c, err := scanCard(rows)
		if err != nil {
			return nil, err
		}
		cards = append(cards, c)
	}
	return cards, rows.Err()
}

func (s *Store) CreateCard(ctx context.Context, c *api.CreditCard) (int64, error) {
	var id int64
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO credit_cards (card_name, group_id) VALUES ($1, $2) RETURNING id
	`, c.CardName, c.GroupID).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("creating card: %w", err)
	}
	return id, nil
}

func (s *Store) UpdateCard(ctx context.Context, c *api.CreditCard) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE credit_cards SET card_name = $2, group_id = $3 WHERE id = $1
	`, c.ID, c.CardName, c.GroupID)
	if err != nil {
		return fmt.Errorf("updating card: %w", err)
	}
	return requireRow(res)
}

func (s *Store) DeleteCard(ctx context.Context, id int64) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM credit_cards WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("deleting card: %w", err)
	}
	return requireRow(res)
}
