package repository

import (
	"context"
	"database/sql"
	"encoding/json"

	"github.com/google/uuid"

	"tradepilot/internal/pattern"
)

// PostgresPatternRepo — хранилище паттернов
type PostgresPatternRepo struct {
	DB *sql.DB
}

func NewPostgresPatternRepo(db *sql.DB) *PostgresPatternRepo {
	return &PostgresPatternRepo{DB: db}
}

// GetByKey получает паттерн по составному ключу; nil без ошибки, если его нет
func (r *PostgresPatternRepo) GetByKey(ctx context.Context, userID int64, symbol, setupType, direction string) (*pattern.Pattern, error) {
	row := r.DB.QueryRowContext(ctx,
		`SELECT id, user_id, symbol, setup_type, direction, feature_vector, sample_size,
		        win_rate, avg_pnl, avg_pnl_percent, confidence, first_seen, last_seen
		 FROM patterns
		 WHERE user_id = $1 AND symbol = $2 AND setup_type = $3 AND direction = $4`,
		userID, symbol, setupType, direction)

	p, err := scanPattern(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return p, err
}

func (r *PostgresPatternRepo) GetByID(ctx context.Context, id uuid.UUID) (*pattern.Pattern, error) {
	row := r.DB.QueryRowContext(ctx,
		`SELECT id, user_id, symbol, setup_type, direction, feature_vector, sample_size,
		        win_rate, avg_pnl, avg_pnl_percent, confidence, first_seen, last_seen
		 FROM patterns WHERE id = $1`, id)
	p, err := scanPattern(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return p, err
}

// Upsert сохраняет паттерн целиком по уникальному ключу
func (r *PostgresPatternRepo) Upsert(ctx context.Context, p *pattern.Pattern) error {
	features, err := json.Marshal(p.FeatureVector)
	if err != nil {
		return err
	}

	_, err = r.DB.ExecContext(ctx,
		`INSERT INTO patterns (id, user_id, symbol, setup_type, direction, feature_vector, sample_size,
		                       win_rate, avg_pnl, avg_pnl_percent, confidence, first_seen, last_seen)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		 ON CONFLICT (user_id, symbol, setup_type, direction) DO UPDATE
		 SET feature_vector = $6, sample_size = $7, win_rate = $8, avg_pnl = $9,
		     avg_pnl_percent = $10, confidence = $11, last_seen = $13`,
		p.ID, p.UserID, p.Symbol, p.SetupType, p.Direction, features, p.SampleSize,
		p.WinRate, p.AvgPnl, p.AvgPnlPercent, p.Confidence, p.FirstSeen, p.LastSeen)
	return err
}

// ListByUser возвращает все паттерны пользователя
func (r *PostgresPatternRepo) ListByUser(ctx context.Context, userID int64) ([]*pattern.Pattern, error) {
	rows, err := r.DB.QueryContext(ctx,
		`SELECT id, user_id, symbol, setup_type, direction, feature_vector, sample_size,
		        win_rate, avg_pnl, avg_pnl_percent, confidence, first_seen, last_seen
		 FROM patterns WHERE user_id = $1 ORDER BY confidence DESC`,
		userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var patterns []*pattern.Pattern
	for rows.Next() {
		p, err := scanPattern(rows)
		if err != nil {
			return nil, err
		}
		patterns = append(patterns, p)
	}
	return patterns, rows.Err()
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanPattern(row scanner) (*pattern.Pattern, error) {
	p := &pattern.Pattern{}
	var features []byte
	err := row.Scan(
		&p.ID, &p.UserID, &p.Symbol, &p.SetupType, &p.Direction, &features, &p.SampleSize,
		&p.WinRate, &p.AvgPnl, &p.AvgPnlPercent, &p.Confidence, &p.FirstSeen, &p.LastSeen,
	)
	if err != nil {
		return nil, err
	}

	// Старые строки могут не иметь feature_vector — деградируем до пустого
	p.FeatureVector = map[string]float64{}
	if len(features) > 0 {
		if jsonErr := json.Unmarshal(features, &p.FeatureVector); jsonErr != nil {
			p.FeatureVector = map[string]float64{}
		}
	}
	return p, nil
}
