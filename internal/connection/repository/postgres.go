package repository

import (
	"context"
	"database/sql"

	"tradepilot/internal/connection"
)

// PostgresConnectionRepo — хранилище биржевых подключений
type PostgresConnectionRepo struct {
	DB *sql.DB
}

func NewPostgresConnectionRepo(db *sql.DB) *PostgresConnectionRepo {
	return &PostgresConnectionRepo{DB: db}
}

// Save сохраняет или обновляет зашифрованные ключи подключения
func (r *PostgresConnectionRepo) Save(ctx context.Context, c *connection.Connection) error {
	return r.DB.QueryRowContext(ctx,
		`INSERT INTO exchange_connections (user_id, exchange, api_key_enc, api_secret_enc, passphrase_enc, is_active)
		 VALUES ($1, $2, $3, $4, $5, TRUE)
		 ON CONFLICT (user_id, exchange) DO UPDATE
		 SET api_key_enc = $3, api_secret_enc = $4, passphrase_enc = $5, is_active = TRUE, updated_at = NOW()
		 RETURNING id`,
		c.UserID, c.Exchange, c.APIKeyEnc, c.APISecretEnc, c.PassphrEnc,
	).Scan(&c.ID)
}

// GetByExchange получает подключение пользователя к конкретной бирже
func (r *PostgresConnectionRepo) GetByExchange(ctx context.Context, userID int64, exchange string) (*connection.Connection, error) {
	return r.scanOne(r.DB.QueryRowContext(ctx,
		`SELECT id, user_id, exchange, api_key_enc, api_secret_enc, passphrase_enc, is_active, last_synced_at, created_at, updated_at
		 FROM exchange_connections
		 WHERE user_id = $1 AND exchange = $2 AND is_active = TRUE`,
		userID, exchange))
}

// GetMostRecent возвращает активное подключение с самой свежей синхронизацией
func (r *PostgresConnectionRepo) GetMostRecent(ctx context.Context, userID int64) (*connection.Connection, error) {
	return r.scanOne(r.DB.QueryRowContext(ctx,
		`SELECT id, user_id, exchange, api_key_enc, api_secret_enc, passphrase_enc, is_active, last_synced_at, created_at, updated_at
		 FROM exchange_connections
		 WHERE user_id = $1 AND is_active = TRUE
		 ORDER BY last_synced_at DESC NULLS LAST, updated_at DESC
		 LIMIT 1`,
		userID))
}

// Delete удаляет подключение при отключении биржи (вместе с ключами)
func (r *PostgresConnectionRepo) Delete(ctx context.Context, userID int64, exchange string) error {
	_, err := r.DB.ExecContext(ctx,
		`DELETE FROM exchange_connections WHERE user_id = $1 AND exchange = $2`,
		userID, exchange)
	return err
}

// TouchSynced отмечает успешную синхронизацию подключения
func (r *PostgresConnectionRepo) TouchSynced(ctx context.Context, id int64) error {
	_, err := r.DB.ExecContext(ctx,
		`UPDATE exchange_connections SET last_synced_at = NOW() WHERE id = $1`,
		id)
	return err
}

func (r *PostgresConnectionRepo) scanOne(row *sql.Row) (*connection.Connection, error) {
	c := &connection.Connection{}
	err := row.Scan(
		&c.ID, &c.UserID, &c.Exchange, &c.APIKeyEnc, &c.APISecretEnc, &c.PassphrEnc,
		&c.IsActive, &c.LastSyncedAt, &c.CreatedAt, &c.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return c, nil
}
