package products

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"
)

const (
	pingTimeout  = 1 * time.Second
	queryTimeout = 3 * time.Second
	pgUniqueCode = "23505"
)

// PostgresStore runs exactly one statement per operation on a connection
// it takes from the pool and always hands back.
type PostgresStore struct {
	db    *sql.DB
	newID func() string
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db, newID: uuid.NewString}
}

// OpenPostgres opens a pgx-backed *sql.DB and verifies it answers within
// connectTimeout.
func OpenPostgres(ctx context.Context, url string, connectTimeout time.Duration) (*sql.DB, error) {
	db, err := sql.Open("pgx", url)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}

	pctx, cancel := context.WithTimeout(ctx, connectTimeout)
	defer cancel()

	if err := db.PingContext(pctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return db, nil
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.withConn(ctx, pingTimeout, func(ctx context.Context, conn *sql.Conn) error {
		return conn.PingContext(ctx)
	})
}

func (s *PostgresStore) List(ctx context.Context) ([]Product, error) {
	out := make([]Product, 0, 16)

	err := s.withConn(ctx, queryTimeout, func(ctx context.Context, conn *sql.Conn) error {
		rows, err := conn.QueryContext(ctx, `
			SELECT id, name, description, price
			FROM products
			ORDER BY seq ASC
		`)
		if err != nil {
			return err
		}
		defer rows.Close()

		for rows.Next() {
			var p Product
			if err := rows.Scan(&p.ID, &p.Name, &p.Description, &p.Price); err != nil {
				return err
			}
			out = append(out, p)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, persistence(err)
	}
	return out, nil
}

func (s *PostgresStore) Get(ctx context.Context, id string) (Product, error) {
	var p Product

	err := s.withConn(ctx, queryTimeout, func(ctx context.Context, conn *sql.Conn) error {
		return conn.QueryRowContext(ctx, `
			SELECT id, name, description, price
			FROM products
			WHERE id = $1
		`, id).Scan(&p.ID, &p.Name, &p.Description, &p.Price)
	})
	if errors.Is(err, sql.ErrNoRows) {
		return Product{}, ErrNotFound
	}
	if err != nil {
		return Product{}, persistence(err)
	}
	return p, nil
}

func (s *PostgresStore) Create(ctx context.Context, in NewProduct) (Product, error) {
	p, err := in.build(s.newID())
	if err != nil {
		return Product{}, err
	}

	err = s.withConn(ctx, queryTimeout, func(ctx context.Context, conn *sql.Conn) error {
		_, err := conn.ExecContext(ctx, `
			INSERT INTO products (id, name, description, price)
			VALUES ($1, $2, $3, $4)
		`, p.ID, p.Name, p.Description, p.Price)
		return err
	})
	if isUniqueViolation(err) {
		return Product{}, fmt.Errorf("%w: duplicate product id %s", ErrPersistence, p.ID)
	}
	if err != nil {
		return Product{}, persistence(err)
	}
	return p, nil
}

// Update merges in SQL so the read-modify-write is a single statement.
func (s *PostgresStore) Update(ctx context.Context, id string, patch ProductPatch) (Product, error) {
	patch, err := patch.validated()
	if err != nil {
		return Product{}, err
	}

	var p Product
	err = s.withConn(ctx, queryTimeout, func(ctx context.Context, conn *sql.Conn) error {
		return conn.QueryRowContext(ctx, `
			UPDATE products
			SET name        = COALESCE($2::text, name),
			    description = COALESCE($3::text, description),
			    price       = COALESCE($4::double precision, price)
			WHERE id = $1
			RETURNING id, name, description, price
		`, id, patch.Name, patch.Description, patch.Price).
			Scan(&p.ID, &p.Name, &p.Description, &p.Price)
	})
	if errors.Is(err, sql.ErrNoRows) {
		return Product{}, ErrNotFound
	}
	if err != nil {
		return Product{}, persistence(err)
	}
	return p, nil
}

func (s *PostgresStore) Delete(ctx context.Context, id string) (Removal, error) {
	var affected int64

	err := s.withConn(ctx, queryTimeout, func(ctx context.Context, conn *sql.Conn) error {
		res, err := conn.ExecContext(ctx, `DELETE FROM products WHERE id = $1`, id)
		if err != nil {
			return err
		}
		affected, err = res.RowsAffected()
		return err
	})
	if err != nil {
		return Removal{}, persistence(err)
	}
	if affected == 0 {
		return Removal{}, ErrNotFound
	}
	return Removal{ID: id}, nil
}

func (s *PostgresStore) withConn(parent context.Context, d time.Duration, fn func(ctx context.Context, conn *sql.Conn) error) error {
	ctx, cancel := context.WithTimeout(parent, d)
	defer cancel()

	conn, err := s.db.Conn(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = conn.Close() }()

	return fn(ctx, conn)
}

func persistence(err error) error {
	return fmt.Errorf("%w: %w", ErrPersistence, err)
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == pgUniqueCode
}
