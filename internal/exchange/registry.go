package exchange

import (
	"sort"
	"sync"

	"tradepilot/internal/apperr"
)

// Factory создаёт адаптер для переданных ключей
type Factory func(creds Credentials) Adapter

// Registry выбирает адаптер по строковому id биржи.
// Бизнес-логика не знает про конкретные биржи — только про реестр.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]Factory
}

func NewRegistry() *Registry {
	return &Registry{factories: make(map[string]Factory)}
}

func (r *Registry) Register(id string, f Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[id] = f
}

// New возвращает адаптер для биржи id. Неизвестный id — типизированная
// ошибка, а не общий отказ.
func (r *Registry) New(id string, creds Credentials) (Adapter, error) {
	r.mu.RLock()
	f, ok := r.factories[id]
	r.mu.RUnlock()
	if !ok {
		return nil, &apperr.UnsupportedExchangeError{ID: id}
	}
	return f(creds), nil
}

// Supported перечисляет зарегистрированные биржи
func (r *Registry) Supported() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]string, 0, len(r.factories))
	for id := range r.factories {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
