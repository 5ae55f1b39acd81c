package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/jensholdgaard/bazaar/internal/store"
)

// CategoryRepo implements store.CategoryRepository with sqlx.
type CategoryRepo struct {
	db sqlx.ExtContext
}

// NewCategoryRepo returns a new CategoryRepo.
func NewCategoryRepo(db sqlx.ExtContext) *CategoryRepo {
	return &CategoryRepo{db: db}
}

func (r *CategoryRepo) Create(ctx context.Context, c *store.Category) error {
	err := r.db.QueryRowxContext(ctx,
		`INSERT INTO categories (name, slug) VALUES ($1, $2) RETURNING id`, c.Name, c.Slug,
	).Scan(&c.ID)
	if err != nil {
		if pqCode(err) == codeUniqueViolation {
			return fmt.Errorf("creating category %q: %w", c.Slug, store.ErrDuplicate)
		}
		return fmt.Errorf("creating category: %w", err)
	}
	return nil
}

func (r *CategoryRepo) GetBySlug(ctx context.Context, slug string) (*store.Category, error) {
	var c store.Category
	err := sqlx.GetContext(ctx, r.db, &c, `SELECT id, name, slug FROM categories WHERE slug = $1`, slug)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("getting category %q: %w", slug, store.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("getting category %q: %w", slug, err)
	}
	return &c, nil
}

func (r *CategoryRepo) List(ctx context.Context) ([]store.Category, error) {
	var categories []store.Category
	if err := sqlx.SelectContext(ctx, r.db, &categories, `SELECT id, name, slug FROM categories ORDER BY name`); err != nil {
		return nil, fmt.Errorf("listing categories: %w", err)
	}
	return categories, nil
}
