// Package products implements the product resource: the ProductStore
// contract, its in-memory and PostgreSQL backends, and the HTTP handlers
// that expose them under /api/v1/products.
package products

import (
	"context"
	"errors"
)

var (
	ErrBadRequest  = errors.New("bad request")
	ErrNotFound    = errors.New("product not found")
	ErrPersistence = errors.New("persistence failure")
)

type Product struct {
	ID          string  `json:"id"`
	Name        string  `json:"name"`
	Description string  `json:"description"`
	Price       float64 `json:"price"`
}

// Store owns the product collection. Implementations must make every
// mutation appear atomic to concurrent readers.
type Store interface {
	Ping(ctx context.Context) error

	// List returns every product in insertion order, never nil.
	List(ctx context.Context) ([]Product, error)

	// Get returns ErrNotFound when no product has the given id.
	Get(ctx context.Context, id string) (Product, error)

	// Create assigns a fresh id and stores the product.
	// Returns ErrBadRequest when the input is incomplete or invalid.
	Create(ctx context.Context, in NewProduct) (Product, error)

	// Update merges the supplied fields into an existing product.
	// Returns ErrNotFound without creating anything when the id is unknown.
	Update(ctx context.Context, id string, patch ProductPatch) (Product, error)

	// Delete removes the product. A missing id is always ErrNotFound.
	Delete(ctx context.Context, id string) (Removal, error)
}
