package postgres

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/vladislavdragonenkov/cartsync/internal/domain"
)

// CatalogRepository читает и пишет таблицу products.
type CatalogRepository struct {
	db *sql.DB
}

// NewCatalogRepository создаёт репозиторий.
func NewCatalogRepository(db *sql.DB) *CatalogRepository {
	return &CatalogRepository{db: db}
}

// BatchLookup возвращает найденные товары в порядке запроса одним запросом к БД.
func (r *CatalogRepository) BatchLookup(ctx context.Context, ids []string) ([]domain.Product, error) {
	if len(ids) == 0 {
		return []domain.Product{}, nil
	}

	rows, err := r.db.QueryContext(ctx, `
		SELECT id, name, price, image
		FROM products
		WHERE id = ANY($1)
	`, ids)
	if err != nil {
		return nil, fmt.Errorf("query products: %w", err)
	}
	defer rows.Close()

	products, err := scanProducts(rows)
	if err != nil {
		return nil, err
	}
	byID := make(map[string]domain.Product, len(products))
	for _, p := range products {
		byID[p.ID] = p
	}

	result := make([]domain.Product, 0, len(products))
	for _, id := range ids {
		if p, ok := byID[id]; ok {
			result = append(result, p)
			delete(byID, id)
		}
	}
	return result, nil
}

// List возвращает весь каталог в порядке добавления.
func (r *CatalogRepository) List(ctx context.Context) ([]domain.Product, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, name, price, image
		FROM products
		ORDER BY created_at, id
	`)
	if err != nil {
		return nil, fmt.Errorf("query products: %w", err)
	}
	defer rows.Close()

	return scanProducts(rows)
}

// Upsert добавляет товар или обновляет существующий.
func (r *CatalogRepository) Upsert(ctx context.Context, p domain.Product) error {
	if p.ID == "" {
		return fmt.Errorf("upsert product: empty id")
	}
	if p.Price.IsNegative() {
		return fmt.Errorf("upsert product %s: negative price %s", p.ID, p.Price)
	}

	_, err := r.db.ExecContext(ctx, `
		INSERT INTO products (id, name, price, image)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (id) DO UPDATE
		SET name = EXCLUDED.name,
		    price = EXCLUDED.price,
		    image = EXCLUDED.image,
		    updated_at = NOW()
	`, p.ID, p.Name, p.Price, p.Image)
	if err != nil {
		return fmt.Errorf("upsert product %s: %w", p.ID, err)
	}
	return nil
}

// Seed записывает товары в одной транзакции.
func (r *CatalogRepository) Seed(ctx context.Context, products []domain.Product) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin seed tx: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO products (id, name, price, image)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (id) DO NOTHING
	`)
	if err != nil {
		return fmt.Errorf("prepare seed: %w", err)
	}
	defer stmt.Close()

	for _, p := range products {
		if _, err := stmt.ExecContext(ctx, p.ID, p.Name, p.Price, p.Image); err != nil {
			return fmt.Errorf("seed product %s: %w", p.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit seed tx: %w", err)
	}
	return nil
}

func scanProducts(rows *sql.Rows) ([]domain.Product, error) {
	var result []domain.Product
	for rows.Next() {
		var (
			p     domain.Product
			price decimal.Decimal
		)
		if err := rows.Scan(&p.ID, &p.Name, &price, &p.Image); err != nil {
			return nil, fmt.Errorf("scan product: %w", err)
		}
		p.Price = price
		result = append(result, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate products: %w", err)
	}
	if result == nil {
		result = []domain.Product{}
	}
	return result, nil
}

var _ domain.Catalog = (*CatalogRepository)(nil)
