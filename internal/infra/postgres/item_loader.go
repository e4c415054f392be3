package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"

	"party-session-service/internal/domain"
)

// ItemLoader loads item-set JSONB from Postgres. The content pipeline
// writes these rows; this service only reads them.
type ItemLoader struct {
	pool *pgxpool.Pool
}

func NewItemLoader(pool *pgxpool.Pool) *ItemLoader {
	return &ItemLoader{pool: pool}
}

func (l *ItemLoader) LoadItemSet(ctx context.Context, setID string) (domain.ItemSet, error) {
	var raw []byte
	err := l.pool.QueryRow(ctx, `SELECT data FROM item_sets WHERE id=$1`, setID).Scan(&raw)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.ItemSet{}, domain.ErrItemSetNotFound
	}
	if err != nil {
		return domain.ItemSet{}, fmt.Errorf("load item set: %w", err)
	}
	var set domain.ItemSet
	if err := json.Unmarshal(raw, &set); err != nil {
		return domain.ItemSet{}, fmt.Errorf("unmarshal item set: %w", err)
	}
	set.ID = setID
	return set, nil
}
