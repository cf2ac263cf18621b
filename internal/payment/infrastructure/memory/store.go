// Package memory holds payments in process memory. It honors the same
// version compare-and-swap contract as the Postgres store and is meant
// for local development and tests; outbox events are kept but never
// relayed anywhere.
package memory

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"github.com/nelani/payment-gateway/internal/payment/application"
	"github.com/nelani/payment-gateway/internal/payment/domain"
)

type Store struct {
	mu       sync.RWMutex
	byID     map[uuid.UUID]domain.Payment
	byOrder  map[string]uuid.UUID
	eventLog []application.EventRecord
}

func NewStore() *Store {
	return &Store{
		byID:    make(map[uuid.UUID]domain.Payment),
		byOrder: make(map[string]uuid.UUID),
	}
}

func (s *Store) Get(ctx context.Context, id uuid.UUID) (*domain.Payment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.byID[id]
	if !ok {
		return nil, application.ErrNotFound
	}
	out := p
	return &out, nil
}

func (s *Store) GetByOrderID(ctx context.Context, orderID string) (*domain.Payment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.byOrder[orderID]
	if !ok {
		return nil, application.ErrNotFound
	}
	out := s.byID[id]
	return &out, nil
}

func (s *Store) Create(ctx context.Context, p *domain.Payment, events ...application.EventRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.byOrder[p.OrderID]; ok {
		return application.ErrDuplicateOrder
	}
	p.Version = 0
	s.byID[p.ID] = *p
	s.byOrder[p.OrderID] = p.ID
	s.eventLog = append(s.eventLog, events...)
	return nil
}

func (s *Store) Put(ctx context.Context, p *domain.Payment, expectedVersion int64, events ...application.EventRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.byID[p.ID]
	if !ok {
		return application.ErrNotFound
	}
	if cur.Version != expectedVersion {
		return application.ErrVersionConflict
	}
	p.Version = expectedVersion + 1
	s.byID[p.ID] = *p
	s.eventLog = append(s.eventLog, events...)
	return nil
}

func (s *Store) List(ctx context.Context, q application.ListQuery) (*application.Page, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	items := make([]domain.Payment, 0, len(s.byID))
	for _, p := range s.byID {
		items = append(items, p)
	}
	sortPayments(items, q.SortBy, q.Descending)

	if q.Size <= 0 {
		q.Size = 20
	}
	if q.Page < 0 {
		q.Page = 0
	}
	total := int64(len(items))
	start := q.Page * q.Size
	if start > len(items) {
		start = len(items)
	}
	end := start + q.Size
	if end > len(items) {
		end = len(items)
	}

	return &application.Page{
		Items: items[start:end],
		Page:  q.Page,
		Size:  q.Size,
		Total: total,
	}, nil
}
