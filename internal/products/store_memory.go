package products

import (
	"context"
	"slices"
	"sync"

	"github.com/google/uuid"
)

// MemStore keeps products in an ordered slice. Writers hold the lock for
// the whole read-modify-write; readers get copies.
type MemStore struct {
	mu    sync.RWMutex
	items []Product
}

func NewMemStore(seed ...Product) *MemStore {
	return &MemStore{items: slices.Clone(seed)}
}

func (s *MemStore) Ping(ctx context.Context) error { return nil }

func (s *MemStore) List(ctx context.Context) ([]Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]Product, len(s.items))
	copy(out, s.items)
	return out, nil
}

func (s *MemStore) Get(ctx context.Context, id string) (Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	i := s.indexOf(id)
	if i < 0 {
		return Product{}, ErrNotFound
	}
	return s.items[i], nil
}

func (s *MemStore) Create(ctx context.Context, in NewProduct) (Product, error) {
	p, err := in.build(uuid.NewString())
	if err != nil {
		return Product{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for s.indexOf(p.ID) >= 0 {
		p.ID = uuid.NewString()
	}
	s.items = append(s.items, p)
	return p, nil
}

func (s *MemStore) Update(ctx context.Context, id string, patch ProductPatch) (Product, error) {
	patch, err := patch.validated()
	if err != nil {
		return Product{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	i := s.indexOf(id)
	if i < 0 {
		return Product{}, ErrNotFound
	}
	s.items[i] = patch.Apply(s.items[i])
	return s.items[i], nil
}

func (s *MemStore) Delete(ctx context.Context, id string) (Removal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	i := s.indexOf(id)
	if i < 0 {
		return Removal{}, ErrNotFound
	}
	s.items = slices.Delete(s.items, i, i+1)
	return Removal{ID: id}, nil
}

// indexOf must be called with s.mu held.
func (s *MemStore) indexOf(id string) int {
	return slices.IndexFunc(s.items, func(p Product) bool { return p.ID == id })
}
