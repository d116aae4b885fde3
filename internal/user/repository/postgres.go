package repository

import (
	"context"
	"database/sql"
	"time"

	"tradepilot/internal/user"
)

type PostgresUserRepository struct {
	db *sql.DB
}

func NewPostgresUserRepository(db *sql.DB) *PostgresUserRepository {
	return &PostgresUserRepository{db: db}
}

func (r *PostgresUserRepository) Create(ctx context.Context, u *user.User) error {
	query := `INSERT INTO users (email, password, created_at) VALUES ($1, $2, NOW()) RETURNING id`

	return r.db.QueryRowContext(ctx, query, u.Email, u.Password).Scan(&u.ID)
}

func (r *PostgresUserRepository) GetByEmail(ctx context.Context, email string) (*user.User, error) {
	u := &user.User{}
	query := `SELECT id, email, password, created_at, is_admin, lockout_until FROM users WHERE email = $1`

	err := r.db.QueryRowContext(ctx, query, email).Scan(
		&u.ID,
		&u.Email,
		&u.Password,
		&u.CreatedAt,
		&u.IsAdmin,
		&u.LockoutUntil,
	)
	if err != nil {
		return nil, err
	}

	return u, nil
}

func (r *PostgresUserRepository) GetByID(ctx context.Context, id int64) (*user.User, error) {
	u := &user.User{}
	query := `SELECT id, email, password, created_at, is_admin, lockout_until FROM users WHERE id = $1`

	err := r.db.QueryRowContext(ctx, query, id).Scan(
		&u.ID,
		&u.Email,
		&u.Password,
		&u.CreatedAt,
		&u.IsAdmin,
		&u.LockoutUntil,
	)
	if err != nil {
		return nil, err
	}

	return u, nil
}

// GetLockoutUntil читает lockout пользователя; nil — блокировки нет
func (r *PostgresUserRepository) GetLockoutUntil(ctx context.Context, userID int64) (*time.Time, error) {
	var until *time.Time
	err := r.db.QueryRowContext(ctx,
		`SELECT lockout_until FROM users WHERE id = $1`, userID).Scan(&until)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return until, nil
}

// SetLockoutUntil выставляет или снимает (nil) lockout пользователя
func (r *PostgresUserRepository) SetLockoutUntil(ctx context.Context, userID int64, until *time.Time) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE users SET lockout_until = $2 WHERE id = $1`, userID, until)
	return err
}
