package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"

	"imgbatch/internal/models"
)

// Storage is the single source of truth for request and product progress.
// Every mutation commits immediately so status queries always observe a
// recent snapshot.
type Storage struct {
	pool *pgxpool.Pool
	db   *sql.DB // For migrations
}

func NewStorage(dsn string) (*Storage, error) {
	const op = "storage.NewStorage"

	pool, err := pgxpool.New(context.Background(), dsn)
	if err != nil {
		return nil, fmt.Errorf("%s: %v", op, err)
	}

	db := stdlib.OpenDBFromPool(pool)
	if err := runMigrations(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("%s: %v", op, err)
	}

	return &Storage{pool: pool, db: db}, nil
}

func (s *Storage) Close() {
	s.db.Close()
	s.pool.Close()
}

// CreateRequest inserts a request and all its products atomically, all
// starting out PENDING.
func (s *Storage) CreateRequest(ctx context.Context, req *models.Request, products []models.Product) error {
	const op = "storage.CreateRequest"

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("%s: %v", op, err)
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx,
		`INSERT INTO requests (request_id, status, webhook_url, created_at, updated_at)
		 VALUES ($1, $2, NULLIF($3, ''), now(), now())`,
		req.ID, req.Status, req.WebhookURL)
	if err != nil {
		return fmt.Errorf("%s: %v", op, err)
	}

	for i := range products {
		p := &products[i]
		_, err = tx.Exec(ctx,
			`INSERT INTO products (request_id, serial_number, product_name, input_image_urls, status, created_at, updated_at)
			 VALUES ($1, $2, $3, $4, $5, now(), now())`,
			req.ID, p.SerialNumber, p.Name, p.InputImageURLs, p.Status)
		if err != nil {
			return fmt.Errorf("%s: %v", op, err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("%s: %v", op, err)
	}
	return nil
}

func (s *Storage) GetRequest(ctx context.Context, requestID string) (*models.Request, error) {
	const op = "storage.GetRequest"
	var req models.Request
	err := s.pool.QueryRow(ctx,
		`SELECT request_id, status, COALESCE(webhook_url, ''), created_at, updated_at
		 FROM requests WHERE request_id = $1`,
		requestID).Scan(&req.ID, &req.Status, &req.WebhookURL, &req.CreatedAt, &req.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("%s: request %s: %w", op, requestID, models.ErrNotFound)
		}
		return nil, fmt.Errorf("%s: %v", op, err)
	}
	return &req, nil
}

func (s *Storage) UpdateRequestStatus(ctx context.Context, requestID string, status models.RequestStatus) error {
	const op = "storage.UpdateRequestStatus"
	tag, err := s.pool.Exec(ctx,
		`UPDATE requests SET status = $2, updated_at = now() WHERE request_id = $1`,
		requestID, status)
	if err != nil {
		return fmt.Errorf("%s: %v", op, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%s: request %s: %w", op, requestID, models.ErrNotFound)
	}
	return nil
}

func (s *Storage) SetWebhookURL(ctx context.Context, requestID, url string) error {
	const op = "storage.SetWebhookURL"
	tag, err := s.pool.Exec(ctx,
		`UPDATE requests SET webhook_url = NULLIF($2, ''), updated_at = now() WHERE request_id = $1`,
		requestID, url)
	if err != nil {
		return fmt.Errorf("%s: %v", op, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%s: request %s: %w", op, requestID, models.ErrNotFound)
	}
	return nil
}

// ListProducts returns a request's products ordered by serial number.
func (s *Storage) ListProducts(ctx context.Context, requestID string) ([]models.Product, error) {
	const op = "storage.ListProducts"
	rows, err := s.pool.Query(ctx,
		`SELECT id, request_id, serial_number, product_name, input_image_urls,
		        COALESCE(output_image_urls, ''), status, created_at, updated_at
		 FROM products WHERE request_id = $1 ORDER BY serial_number, id`,
		requestID)
	if err != nil {
		return nil, fmt.Errorf("%s: %v", op, err)
	}
	defer rows.Close()

	var products []models.Product
	for rows.Next() {
		var p models.Product
		err := rows.Scan(&p.ID, &p.RequestID, &p.SerialNumber, &p.Name, &p.InputImageURLs,
			&p.OutputImageURLs, &p.Status, &p.CreatedAt, &p.UpdatedAt)
		if err != nil {
			return nil, fmt.Errorf("%s: %v", op, err)
		}
		products = append(products, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%s: %v", op, err)
	}
	return products, nil
}

func (s *Storage) UpdateProductStatus(ctx context.Context, productID int64, status models.ProductStatus) error {
	const op = "storage.UpdateProductStatus"
	tag, err := s.pool.Exec(ctx,
		`UPDATE products SET status = $2, updated_at = now() WHERE id = $1`,
		productID, status)
	if err != nil {
		return fmt.Errorf("%s: %v", op, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%s: product %d: %w", op, productID, models.ErrNotFound)
	}
	return nil
}

// CompleteProduct persists the accumulated output URLs and marks the product
// COMPLETED in one statement.
func (s *Storage) CompleteProduct(ctx context.Context, productID int64, outputImageURLs string) error {
	const op = "storage.CompleteProduct"
	tag, err := s.pool.Exec(ctx,
		`UPDATE products SET output_image_urls = $2, status = $3, updated_at = now() WHERE id = $1`,
		productID, outputImageURLs, models.ProductCompleted)
	if err != nil {
		return fmt.Errorf("%s: %v", op, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%s: product %d: %w", op, productID, models.ErrNotFound)
	}
	return nil
}

func (s *Storage) CountProducts(ctx context.Context, requestID string) (models.ProductCounts, error) {
	const op = "storage.CountProducts"
	rows, err := s.pool.Query(ctx,
		`SELECT status, COUNT(*) FROM products WHERE request_id = $1 GROUP BY status`,
		requestID)
	if err != nil {
		return models.ProductCounts{}, fmt.Errorf("%s: %v", op, err)
	}
	defer rows.Close()

	var counts models.ProductCounts
	for rows.Next() {
		var status models.ProductStatus
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return models.ProductCounts{}, fmt.Errorf("%s: %v", op, err)
		}
		counts.Total += n
		switch status {
		case models.ProductCompleted:
			counts.Completed = n
		case models.ProductFailed:
			counts.Failed = n
		case models.ProductProcessing:
			counts.InProgress = n
		case models.ProductPending:
			counts.Pending = n
		}
	}
	if err := rows.Err(); err != nil {
		return models.ProductCounts{}, fmt.Errorf("%s: %v", op, err)
	}
	return counts, nil
}
