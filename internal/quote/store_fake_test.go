package quote_test

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/noah-isme/backend-quotes/internal/quote"
)

// memStore is an in-memory quote.Store. WithTx restores the previous state
// when the callback fails.
type memStore struct {
	mu     sync.Mutex
	quotes map[uuid.UUID]quote.Quote
	items  map[uuid.UUID][]quote.LineItem
	reads  int
	failOn string
}

func newMemStore() *memStore {
	return &memStore{
		quotes: map[uuid.UUID]quote.Quote{},
		items:  map[uuid.UUID][]quote.LineItem{},
	}
}

func (s *memStore) WithTx(_ context.Context, fn func(quote.Store) error) error {
	s.mu.Lock()
	quotes := make(map[uuid.UUID]quote.Quote, len(s.quotes))
	for k, v := range s.quotes {
		quotes[k] = v
	}
	items := make(map[uuid.UUID][]quote.LineItem, len(s.items))
	for k, v := range s.items {
		items[k] = append([]quote.LineItem(nil), v...)
	}
	s.mu.Unlock()

	if err := fn(s); err != nil {
		s.mu.Lock()
		s.quotes, s.items = quotes, items
		s.mu.Unlock()
		return err
	}
	return nil
}

func (s *memStore) GetQuote(_ context.Context, id uuid.UUID, _ bool) (quote.Quote, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reads++
	q, ok := s.quotes[id]
	if !ok {
		return quote.Quote{}, quote.ErrNotFound
	}
	q.LineItems = append([]quote.LineItem{}, s.items[id]...)
	sort.SliceStable(q.LineItems, func(i, j int) bool { return q.LineItems[i].Position < q.LineItems[j].Position })
	return q, nil
}

func (s *memStore) ListQuotes(_ context.Context, params quote.ListParams) ([]quote.Quote, int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var all []quote.Quote
	for _, q := range s.quotes {
		if params.Status != "" && q.Status != params.Status {
			continue
		}
		all = append(all, q)
	}
	sort.Slice(all, func(i, j int) bool { return all[i].CreatedAt.After(all[j].CreatedAt) })
	start := (params.Page - 1) * params.PerPage
	if start > len(all) {
		start = len(all)
	}
	end := start + params.PerPage
	if end > len(all) {
		end = len(all)
	}
	return all[start:end], len(all), nil
}

func (s *memStore) InsertQuote(_ context.Context, q quote.Quote) error {
	if err := s.fail("InsertQuote"); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	q.LineItems = nil
	s.quotes[q.ID] = q
	return nil
}

func (s *memStore) UpdateQuote(_ context.Context, q quote.Quote) error {
	if err := s.fail("UpdateQuote"); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.quotes[q.ID]; !ok {
		return quote.ErrNotFound
	}
	q.LineItems = nil
	s.quotes[q.ID] = q
	return nil
}

func (s *memStore) DeleteQuote(_ context.Context, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.quotes[id]; !ok {
		return quote.ErrNotFound
	}
	delete(s.quotes, id)
	delete(s.items, id)
	return nil
}

func (s *memStore) InsertLineItem(_ context.Context, li quote.LineItem) error {
	if err := s.fail("InsertLineItem"); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.items[li.QuoteID] = append(s.items[li.QuoteID], li)
	return nil
}

func (s *memStore) UpdateLineItem(_ context.Context, li quote.LineItem) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, existing := range s.items[li.QuoteID] {
		if existing.ID == li.ID {
			s.items[li.QuoteID][i] = li
			return nil
		}
	}
	return quote.ErrLineItemNotFound
}

func (s *memStore) DeleteLineItem(_ context.Context, quoteID, itemID uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	list := s.items[quoteID]
	for i, existing := range list {
		if existing.ID == itemID {
			s.items[quoteID] = append(list[:i:i], list[i+1:]...)
			return nil
		}
	}
	return quote.ErrLineItemNotFound
}

func (s *memStore) ListExpirable(_ context.Context, now time.Time) ([]uuid.UUID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var ids []uuid.UUID
	for id, q := range s.quotes {
		if (q.Status == quote.StatusDraft || q.Status == quote.StatusSent) && q.ValidUntil.Before(now) {
			ids = append(ids, id)
		}
	}
	return ids, nil
}

func (s *memStore) fail(op string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failOn == op {
		return errFailure
	}
	return nil
}
