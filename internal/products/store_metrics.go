package products

import (
	"context"
	"errors"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	outcomeOK         = "ok"
	outcomeBadRequest = "bad_request"
	outcomeNotFound   = "not_found"
	outcomeError      = "error"
)

// InstrumentedStore counts every store call by operation and outcome.
type InstrumentedStore struct {
	next Store
	Ops  *prometheus.CounterVec
}

func NewInstrumentedStore(next Store, reg prometheus.Registerer) *InstrumentedStore {
	s := &InstrumentedStore{
		next: next,
		Ops: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "product_store_operations_total",
				Help: "Product store operations by outcome",
			},
			[]string{"op", "outcome"},
		),
	}
	reg.MustRegister(s.Ops)
	return s
}

func (s *InstrumentedStore) Ping(ctx context.Context) error {
	return s.next.Ping(ctx)
}

func (s *InstrumentedStore) List(ctx context.Context) ([]Product, error) {
	out, err := s.next.List(ctx)
	s.observe("list", err)
	return out, err
}

func (s *InstrumentedStore) Get(ctx context.Context, id string) (Product, error) {
	p, err := s.next.Get(ctx, id)
	s.observe("get", err)
	return p, err
}

func (s *InstrumentedStore) Create(ctx context.Context, in NewProduct) (Product, error) {
	p, err := s.next.Create(ctx, in)
	s.observe("create", err)
	return p, err
}

func (s *InstrumentedStore) Update(ctx context.Context, id string, patch ProductPatch) (Product, error) {
	p, err := s.next.Update(ctx, id, patch)
	s.observe("update", err)
	return p, err
}

func (s *InstrumentedStore) Delete(ctx context.Context, id string) (Removal, error) {
	r, err := s.next.Delete(ctx, id)
	s.observe("delete", err)
	return r, err
}

func (s *InstrumentedStore) observe(op string, err error) {
	s.Ops.WithLabelValues(op, outcome(err)).Inc()
}

func outcome(err error) string {
	switch {
	case err == nil:
		return outcomeOK
	case errors.Is(err, ErrBadRequest):
		return outcomeBadRequest
	case errors.Is(err, ErrNotFound):
		return outcomeNotFound
	default:
		return outcomeError
	}
}
