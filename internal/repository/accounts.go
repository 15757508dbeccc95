package repository

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"pandagate/internal/model"
)

var ErrNotFound = errors.New("game account not found")

// AccountRepo mirrors provisioned upstream accounts into Postgres and serves
// balance reads through a Redis cache.
type AccountRepo struct {
	db  *pgxpool.Pool
	rdb *redis.Client
}

func NewAccountRepo(db *pgxpool.Pool, rdb *redis.Client) *AccountRepo {
	return &AccountRepo{db: db, rdb: rdb}
}

func balanceKey(userID, game string) string {
	return fmt.Sprintf("balance:%s:%s", userID, game)
}

// RecordProvisioned stores the game-account row and, when credits were
// seeded, a transfer_to_game transaction. The event id is the idempotency
// key: replaying the same event is a no-op for the transaction and an
// identical upsert for the account.
func (r *AccountRepo) RecordProvisioned(ctx context.Context, ev model.ProvisionedEvent) error {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	_, err = tx.Exec(ctx, `
		INSERT INTO user_game_accounts (id, user_id, game_name, game_username, game_password, game_balance, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (game_name, game_username)
		DO UPDATE SET game_balance = EXCLUDED.game_balance, updated_at = now()`,
		uuid.NewString(), ev.UserID, ev.GameName, ev.Account, ev.Password, ev.Credits, ev.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert game account: %w", err)
	}

	if ev.Credits > 0 {
		_, err = tx.Exec(ctx, `
			INSERT INTO transactions (id, user_id, type, amount, status, game_name, description, idempotency_key, created_at)
			VALUES ($1, $2, 'transfer_to_game', $3, 'completed', $4, $5, $6, $7)
			ON CONFLICT (idempotency_key) DO NOTHING`,
			uuid.NewString(), ev.UserID, ev.Credits, ev.GameName,
			fmt.Sprintf("seed credits for %s", ev.Account), ev.EventID, ev.CreatedAt,
		)
		if err != nil {
			return fmt.Errorf("insert transaction: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit: %w", err)
	}

	// Drop the cached balance so the next read recomputes it.
	_ = r.rdb.Del(ctx, balanceKey(ev.UserID, ev.GameName)).Err()
	return nil
}

// GameBalance returns the user's total balance across accounts for one game.
// Reads go through Redis; on a miss the value is computed from Postgres and
// written back without a TTL, with RecordProvisioned invalidating on change.
func (r *AccountRepo) GameBalance(ctx context.Context, userID, game string) (float64, error) {
	key := balanceKey(userID, game)

	cached, err := r.rdb.Get(ctx, key).Result()
	if err == nil {
		if bal, perr := strconv.ParseFloat(cached, 64); perr == nil {
			return bal, nil
		}
	} else if !errors.Is(err, redis.Nil) {
		return 0, fmt.Errorf("redis get: %w", err)
	}

	var balance float64
	query := `SELECT COALESCE(SUM(game_balance), 0) FROM user_game_accounts WHERE user_id = $1 AND game_name = $2 HAVING COUNT(*) > 0`
	err = r.db.QueryRow(ctx, query, userID, game).Scan(&balance)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, ErrNotFound
	}
	if err != nil {
		return 0, fmt.Errorf("select balance: %w", err)
	}

	// Best effort: a failed cache write only costs the next read a query.
	_ = r.rdb.Set(ctx, key, strconv.FormatFloat(balance, 'f', -1, 64), 0).Err()
	return balance, nil
}
