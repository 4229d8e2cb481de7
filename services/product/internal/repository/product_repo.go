package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/sakashimaa/order-saga/pkg/mylogger"
	"github.com/sakashimaa/order-saga/services/product/internal/domain"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

type ProductRepository interface {
	Create(ctx context.Context, tx pgx.Tx, product *domain.Product) error
	GetByID(ctx context.Context, id string) (*domain.Product, error)
	// GetForUpdate locks the product row until tx ends.
	GetForUpdate(ctx context.Context, tx pgx.Tx, id string) (*domain.Product, error)
	SetStock(ctx context.Context, tx pgx.Tx, id string, stock int) error
	Update(ctx context.Context, tx pgx.Tx, product *domain.Product) error
	// SoftDelete stamps deleted_at and returns the product as it was last seen.
	SoftDelete(ctx context.Context, tx pgx.Tx, id string) (*domain.Product, error)
	List(ctx context.Context, limit, offset int, search string) ([]domain.Product, int, error)
}

type productRepo struct {
	pool   *pgxpool.Pool
	tracer trace.Tracer
	logger *zap.Logger
}

func NewProductRepository(pool *pgxpool.Pool, tracer trace.Tracer, logger *zap.Logger) ProductRepository {
	return &productRepo{
		pool:   pool,
		tracer: tracer,
		logger: logger,
	}
}

const productColumns = `
	id, name, description, price::text, stock_quantity, category, created_at, updated_at
`

func (r *productRepo) Create(ctx context.Context, tx pgx.Tx, product *domain.Product) error {
	ctx, span := r.tracer.Start(ctx, "ProductRepository.Create")
	defer span.End()

	span.SetAttributes(
		attribute.String("product_id", product.ID),
		attribute.String("name", product.Name),
	)

	query := `
		INSERT INTO products (id, name, description, price, stock_quantity, category)
		VALUES ($1, $2, $3, $4::numeric, $5, $6)
		RETURNING created_at, updated_at
	`

	err := tx.QueryRow(
		ctx,
		query,
		product.ID,
		product.Name,
		product.Description,
		product.Price.StringFixed(2),
		product.StockQuantity,
		product.Category,
	).Scan(&product.CreatedAt, &product.UpdatedAt)
	if err != nil {
		span.RecordError(err)

		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return ErrProductAlreadyExists
		}

		mylogger.Error(
			ctx,
			r.logger,
			"Error creating product",
			zap.String("product_id", product.ID),
			zap.Error(err),
		)

		return fmt.Errorf("error creating product: %w", err)
	}

	return nil
}

func (r *productRepo) GetByID(ctx context.Context, id string) (*domain.Product, error) {
	ctx, span := r.tracer.Start(ctx, "ProductRepository.GetByID")
	defer span.End()

	span.SetAttributes(attribute.String("product_id", id))

	query := `SELECT ` + productColumns + ` FROM products WHERE id = $1 AND deleted_at IS NULL`

	product, err := scanProduct(r.pool.QueryRow(ctx, query, id))
	if err != nil {
		if !errors.Is(err, ErrProductNotFound) {
			span.RecordError(err)
			mylogger.Error(ctx, r.logger, "Error get by id", zap.String("product_id", id), zap.Error(err))
		}

		return nil, err
	}

	return product, nil
}

func (r *productRepo) GetForUpdate(ctx context.Context, tx pgx.Tx, id string) (*domain.Product, error) {
	ctx, span := r.tracer.Start(ctx, "ProductRepository.GetForUpdate")
	defer span.End()

	span.SetAttributes(attribute.String("product_id", id))

	query := `SELECT ` + productColumns + ` FROM products WHERE id = $1 AND deleted_at IS NULL FOR UPDATE`

	product, err := scanProduct(tx.QueryRow(ctx, query, id))
	if err != nil && !errors.Is(err, ErrProductNotFound) {
		span.RecordError(err)
	}

	return product, err
}

func (r *productRepo) SetStock(ctx context.Context, tx pgx.Tx, id string, stock int) error {
	ctx, span := r.tracer.Start(ctx, "ProductRepository.SetStock")
	defer span.End()

	span.SetAttributes(
		attribute.String("product_id", id),
		attribute.Int("stock_quantity", stock),
	)

	query := `
		UPDATE products
		SET stock_quantity = $2, updated_at = NOW()
		WHERE id = $1 AND deleted_at IS NULL
	`

	commandTag, err := tx.Exec(ctx, query, id, stock)
	if err != nil {
		span.RecordError(err)

		mylogger.Error(
			ctx,
			r.logger,
			"Error updating stock",
			zap.String("product_id", id),
			zap.Int("stock_quantity", stock),
			zap.Error(err),
		)

		return fmt.Errorf("error updating stock for product %s: %w", id, err)
	}

	if commandTag.RowsAffected() == 0 {
		return ErrProductNotFound
	}

	return nil
}

func (r *productRepo) Update(ctx context.Context, tx pgx.Tx, product *domain.Product) error {
	ctx, span := r.tracer.Start(ctx, "ProductRepository.Update")
	defer span.End()

	span.SetAttributes(attribute.String("product_id", product.ID))

	query := `
		UPDATE products
		SET name = $2,
			description = $3,
			price = $4::numeric,
			stock_quantity = $5,
			category = $6,
			updated_at = NOW()
		WHERE id = $1 AND deleted_at IS NULL
		RETURNING created_at, updated_at
	`

	err := tx.QueryRow(
		ctx,
		query,
		product.ID,
		product.Name,
		product.Description,
		product.Price.StringFixed(2),
		product.StockQuantity,
		product.Category,
	).Scan(&product.CreatedAt, &product.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrProductNotFound
		}

		span.RecordError(err)
		mylogger.Error(ctx, r.logger, "Error updating product", zap.String("product_id", product.ID), zap.Error(err))

		return fmt.Errorf("error updating product %s: %w", product.ID, err)
	}

	return nil
}

func (r *productRepo) SoftDelete(ctx context.Context, tx pgx.Tx, id string) (*domain.Product, error) {
	ctx, span := r.tracer.Start(ctx, "ProductRepository.SoftDelete")
	defer span.End()

	span.SetAttributes(attribute.String("product_id", id))

	query := `
		UPDATE products
		SET deleted_at = NOW(), updated_at = NOW()
		WHERE id = $1 AND deleted_at IS NULL
		RETURNING ` + productColumns

	product, err := scanProduct(tx.QueryRow(ctx, query, id))
	if err != nil && !errors.Is(err, ErrProductNotFound) {
		span.RecordError(err)
		mylogger.Error(ctx, r.logger, "Error deleting product", zap.String("product_id", id), zap.Error(err))
	}

	return product, err
}

func (r *productRepo) List(ctx context.Context, limit, offset int, search string) ([]domain.Product, int, error) {
	ctx, span := r.tracer.Start(ctx, "ProductRepository.List")
	defer span.End()

	span.SetAttributes(
		attribute.Int("limit", limit),
		attribute.Int("offset", offset),
		attribute.String("search", search),
	)

	baseQuery := `SELECT ` + productColumns + ` FROM products WHERE deleted_at IS NULL`
	countQuery := `SELECT COUNT(*) FROM products WHERE deleted_at IS NULL`

	var args []any
	argID := 1

	if search != "" {
		filter := fmt.Sprintf(" AND name ILIKE $%d", argID)
		baseQuery += filter
		countQuery += filter

		args = append(args, "%"+search+"%")
		argID++
	}

	countArgs := append([]any(nil), args...)

	baseQuery += fmt.Sprintf(" ORDER BY created_at DESC, id LIMIT $%d OFFSET $%d", argID, argID+1)
	args = append(args, limit, offset)

	rows, err := r.pool.Query(ctx, baseQuery, args...)
	if err != nil {
		span.RecordError(err)

		mylogger.Error(
			ctx,
			r.logger,
			"Error getting products",
			zap.String("search", search),
			zap.Int("limit", limit),
			zap.Int("offset", offset),
			zap.Error(err),
		)

		return nil, 0, fmt.Errorf("error selecting products: %w", err)
	}
	defer rows.Close()

	var products []domain.Product
	for rows.Next() {
		product, err := scanProduct(rows)
		if err != nil {
			span.RecordError(err)
			return nil, 0, fmt.Errorf("error scanning rows: %w", err)
		}

		products = append(products, *product)
	}
	if err := rows.Err(); err != nil {
		span.RecordError(err)
		return nil, 0, fmt.Errorf("rows iteration error: %w", err)
	}

	var total int
	if err := r.pool.QueryRow(ctx, countQuery, countArgs...).Scan(&total); err != nil {
		span.RecordError(err)
		return nil, 0, fmt.Errorf("failed to count products: %w", err)
	}

	return products, total, nil
}

func scanProduct(row pgx.Row) (*domain.Product, error) {
	var (
		p     domain.Product
		price string
	)

	err := row.Scan(
		&p.ID,
		&p.Name,
		&p.Description,
		&price,
		&p.StockQuantity,
		&p.Category,
		&p.CreatedAt,
		&p.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrProductNotFound
		}

		return nil, fmt.Errorf("error scanning product: %w", err)
	}

	p.Price, err = decimal.NewFromString(price)
	if err != nil {
		return nil, fmt.Errorf("parse price of product %s: %w", p.ID, err)
	}

	return &p, nil
}
