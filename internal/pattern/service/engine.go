package service

import (
	"context"
	"log"
	"time"

	"github.com/google/uuid"

	"tradepilot/internal/apperr"
	"tradepilot/internal/journal"
	"tradepilot/internal/metrics"
	"tradepilot/internal/pattern"
	"tradepilot/internal/risk"
)

const (
	// Минимум закрытых сделок для обучающего прохода
	MinTrainTrades = 10
	// Сколько последних закрытых сделок берём в проход
	maxTrainTrades = 1000
)

// TradeSource — read-only лента закрытых сделок из журнала
type TradeSource interface {
	ListClosedTrades(ctx context.Context, userID int64, limit int) ([]journal.Trade, error)
}

// PatternRepository — интерфейс хранилища паттернов
type PatternRepository interface {
	GetByKey(ctx context.Context, userID int64, symbol, setupType, direction string) (*pattern.Pattern, error)
	Upsert(ctx context.Context, p *pattern.Pattern) error
	ListByUser(ctx context.Context, userID int64) ([]*pattern.Pattern, error)
}

// PolicyProvider отдаёт риск-политику пользователя
type PolicyProvider interface {
	GetPolicy(ctx context.Context, userID int64) (*risk.Policy, error)
}

// TrainReport — итог обучающего прохода
type TrainReport struct {
	PatternsCreated int   `json:"patterns_created"`
	PatternsUpdated int   `json:"patterns_updated"`
	TradesAnalyzed  int   `json:"trades_analyzed"`
	DurationMs      int64 `json:"duration_ms"`

	// "Мало данных" — состояние для пользователя, а не ошибка
	NotEnoughData bool `json:"not_enough_data,omitempty"`
	TradesNeeded  int  `json:"trades_needed,omitempty"`
	TradesHave    int  `json:"trades_have,omitempty"`
}

// Engine — инкрементальное извлечение паттернов из закрытых сделок
type Engine struct {
	Trades   TradeSource
	Patterns PatternRepository
	Policies PolicyProvider
}

func NewEngine(trades TradeSource, patterns PatternRepository, policies PolicyProvider) *Engine {
	return &Engine{Trades: trades, Patterns: patterns, Policies: policies}
}

type bucketKey struct {
	symbol    string
	setupType string
	direction string
}

// Train выполняет обучающий проход для пользователя.
// Проход атомарен по смыслу: при нехватке данных не обновляется ничего.
func (e *Engine) Train(ctx context.Context, userID int64) (*TrainReport, error) {
	start := time.Now()

	policy, err := e.Policies.GetPolicy(ctx, userID)
	if err != nil {
		return nil, err
	}
	if !policy.LearningEnabled {
		return nil, apperr.Validation("learning_enabled", "learning is disabled by risk policy")
	}

	trades, err := e.Trades.ListClosedTrades(ctx, userID, maxTrainTrades)
	if err != nil {
		return nil, err
	}

	if len(trades) < MinTrainTrades {
		return &TrainReport{
			NotEnoughData: true,
			TradesNeeded:  MinTrainTrades,
			TradesHave:    len(trades),
			DurationMs:    time.Since(start).Milliseconds(),
		}, nil
	}

	buckets := groupTrades(trades)
	report := &TrainReport{TradesAnalyzed: len(trades)}

	for key, bucketTrades := range buckets {
		existing, err := e.Patterns.GetByKey(ctx, userID, key.symbol, key.setupType, key.direction)
		if err != nil {
			return nil, err
		}

		// Дедупликация повторного прохода: в слияние попадают только сделки,
		// закрытые строго позже last_seen паттерна. Повторная подача тех же
		// сделок не раздувает sample_size.
		fresh := bucketTrades
		if existing != nil {
			fresh = tradesAfter(bucketTrades, existing.LastSeen)
		}
		if len(fresh) == 0 {
			continue
		}

		stats := computeStats(fresh)

		if existing == nil {
			p := &pattern.Pattern{
				ID:            uuid.New(),
				UserID:        userID,
				Symbol:        key.symbol,
				SetupType:     key.setupType,
				Direction:     key.direction,
				FeatureVector: stats.features,
				SampleSize:    stats.count,
				WinRate:       stats.winRate,
				AvgPnl:        stats.avgPnl,
				AvgPnlPercent: stats.avgPnlPercent,
				FirstSeen:     stats.firstSeen,
				LastSeen:      stats.lastSeen,
			}
			p.Recompute()
			if err := e.Patterns.Upsert(ctx, p); err != nil {
				return nil, err
			}
			report.PatternsCreated++
			continue
		}

		merge(existing, stats)
		if err := e.Patterns.Upsert(ctx, existing); err != nil {
			return nil, err
		}
		report.PatternsUpdated++
	}

	report.DurationMs = time.Since(start).Milliseconds()
	metrics.TrainDuration.Observe(time.Since(start).Seconds())
	log.Printf("Engine: train for user %d analyzed %d trades, created %d, updated %d patterns in %dms",
		userID, report.TradesAnalyzed, report.PatternsCreated, report.PatternsUpdated, report.DurationMs)
	return report, nil
}

// List возвращает паттерны пользователя
func (e *Engine) List(ctx context.Context, userID int64) ([]*pattern.Pattern, error) {
	return e.Patterns.ListByUser(ctx, userID)
}

func groupTrades(trades []journal.Trade) map[bucketKey][]journal.Trade {
	buckets := make(map[bucketKey][]journal.Trade)
	for _, t := range trades {
		setup := t.SetupType
		if setup == "" {
			setup = "default"
		}
		key := bucketKey{symbol: t.Symbol, setupType: setup, direction: t.Direction}
		buckets[key] = append(buckets[key], t)
	}
	return buckets
}

func tradesAfter(trades []journal.Trade, cutoff time.Time) []journal.Trade {
	var fresh []journal.Trade
	for _, t := range trades {
		if t.ExitTime != nil && t.ExitTime.After(cutoff) {
			fresh = append(fresh, t)
		}
	}
	return fresh
}

type bucketStats struct {
	count         int
	winRate       float64
	avgPnl        float64
	avgPnlPercent float64
	features      map[string]float64
	firstSeen     time.Time
	lastSeen      time.Time
}

func computeStats(trades []journal.Trade) bucketStats {
	var (
		wins        int
		sumPnl      float64
		sumPnlPct   float64
		sumHoldMins float64
		sumQty      float64
	)

	stats := bucketStats{count: len(trades)}
	for i, t := range trades {
		pnl := 0.0
		if t.Pnl != nil {
			pnl = *t.Pnl
		}
		if pnl > 0 {
			wins++
		}
		sumPnl += pnl

		if t.PnlPercent != nil {
			sumPnlPct += *t.PnlPercent
		} else if t.EntryPrice > 0 && t.Quantity > 0 {
			sumPnlPct += pnl / (t.EntryPrice * t.Quantity)
		}

		sumQty += t.Quantity
		if t.ExitTime != nil {
			sumHoldMins += t.ExitTime.Sub(t.EntryTime).Minutes()
			if i == 0 || t.ExitTime.After(stats.lastSeen) {
				stats.lastSeen = *t.ExitTime
			}
			if stats.firstSeen.IsZero() || t.ExitTime.Before(stats.firstSeen) {
				stats.firstSeen = *t.ExitTime
			}
		}
	}

	n := float64(len(trades))
	stats.winRate = float64(wins) / n
	stats.avgPnl = sumPnl / n
	stats.avgPnlPercent = sumPnlPct / n
	stats.features = map[string]float64{
		"avg_hold_minutes": sumHoldMins / n,
		"avg_quantity":     sumQty / n,
	}
	if stats.lastSeen.IsZero() {
		stats.lastSeen = time.Now()
	}
	if stats.firstSeen.IsZero() {
		stats.firstSeen = stats.lastSeen
	}
	return stats
}

// merge вливает статистику бакета в существующий паттерн взвешенным
// по размеру выборки усреднением; паттерн никогда не перезаписывается целиком.
func merge(p *pattern.Pattern, stats bucketStats) {
	oldN := float64(p.SampleSize)
	newN := float64(stats.count)
	totalN := oldN + newN

	p.WinRate = (p.WinRate*oldN + stats.winRate*newN) / totalN
	p.AvgPnl = (p.AvgPnl*oldN + stats.avgPnl*newN) / totalN
	p.AvgPnlPercent = (p.AvgPnlPercent*oldN + stats.avgPnlPercent*newN) / totalN

	for name, value := range stats.features {
		old := p.FeatureVector[name]
		p.FeatureVector[name] = (old*oldN + value*newN) / totalN
	}

	p.SampleSize += stats.count
	if stats.lastSeen.After(p.LastSeen) {
		p.LastSeen = stats.lastSeen
	}
	p.Recompute()
}
