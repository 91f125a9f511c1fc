package main

import (
	"context"
	"sort"
	"sync"
	"sync/atomic"
	"time"
)

// Article is the demo content served by guardctl serve.
type Article struct {
	Slug      string    `json:"slug"`
	Title     string    `json:"title"`
	Body      string    `json:"body"`
	Revision  int       `json:"revision"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// articleStore is a slow in-process stand-in for a database.
type articleStore struct {
	mu    sync.RWMutex
	items map[string]Article
	delay time.Duration
	loads atomic.Int64
}

func newArticleStore(delay time.Duration, seed ...Article) *articleStore {
	s := &articleStore{items: make(map[string]Article), delay: delay}
	for _, a := range seed {
		s.items[a.Slug] = a
	}
	return s
}

func (s *articleStore) wait(ctx context.Context) error {
	s.loads.Add(1)
	if s.delay <= 0 {
		return nil
	}
	t := time.NewTimer(s.delay)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Get returns nil for an unknown slug.
func (s *articleStore) Get(ctx context.Context, slug string) (*Article, error) {
	if err := s.wait(ctx); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.items[slug]
	if !ok {
		return nil, nil
	}
	return &a, nil
}

func (s *articleStore) List(ctx context.Context) ([]Article, error) {
	if err := s.wait(ctx); err != nil {
		return nil, err
	}
	s.mu.RLock()
	list := make([]Article, 0, len(s.items))
	for _, a := range s.items {
		list = append(list, a)
	}
	s.mu.RUnlock()
	sort.Slice(list, func(i, j int) bool { return list[i].Slug < list[j].Slug })
	return list, nil
}

func (s *articleStore) Put(slug, title, body string) Article {
	s.mu.Lock()
	defer s.mu.Unlock()
	a := s.items[slug]
	a.Slug = slug
	a.Title = title
	a.Body = body
	a.Revision++
	a.UpdatedAt = time.Now().UTC()
	s.items[slug] = a
	return a
}

var demoArticles = []Article{
	{Slug: "hello-world", Title: "Hello, world", Body: "The first article.", Revision: 1},
	{Slug: "fixed-windows", Title: "Fixed windows", Body: "Counting requests per minute.", Revision: 1},
}
