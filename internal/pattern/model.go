package pattern

import (
	"math"
	"time"

	"github.com/google/uuid"
)

const (
	// Потолок уверенности: модель намеренно не сообщает полную определённость
	ConfidenceCap = 0.95

	// Размер выборки, после которого неопределённость считается нулевой
	fullSampleSize = 50
)

// Pattern — агрегированный статистический профиль похожих сделок.
// Ключ (user_id, symbol, setup_type, direction) уникален; мутируется
// только движком обучения через взвешенное слияние.
type Pattern struct {
	ID            uuid.UUID          `json:"id"`
	UserID        int64              `json:"user_id"`
	Symbol        string             `json:"symbol"`
	SetupType     string             `json:"setup_type"`
	Direction     string             `json:"direction"`
	FeatureVector map[string]float64 `json:"feature_vector"`
	SampleSize    int                `json:"sample_size"`
	WinRate       float64            `json:"win_rate"`
	AvgPnl        float64            `json:"avg_pnl"`
	AvgPnlPercent float64            `json:"avg_pnl_percent"`
	Confidence    float64            `json:"confidence"`
	FirstSeen     time.Time          `json:"first_seen"`
	LastSeen      time.Time          `json:"last_seen"`
}

// Confidence вычисляет уверенность из win rate и размера выборки.
// Растёт монотонно с размером выборки и никогда не превышает потолка.
// Поле Pattern.Confidence — производное: пересчитывается при каждом
// изменении winRate или sampleSize.
func Confidence(winRate float64, sampleSize int) float64 {
	uncertainty := 0.5 * (1 - math.Min(float64(sampleSize)/fullSampleSize, 1))
	c := winRate*(1-uncertainty) + uncertainty*0.5
	return math.Min(ConfidenceCap, c)
}

// Recompute обновляет производное поле Confidence
func (p *Pattern) Recompute() {
	p.Confidence = Confidence(p.WinRate, p.SampleSize)
}
