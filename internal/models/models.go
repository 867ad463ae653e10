package models

import (
	"errors"
	"strings"
	"time"
)

// ErrNotFound is returned by storage lookups for unknown identifiers.
var ErrNotFound = errors.New("not found")

type RequestStatus string

const (
	RequestPending            RequestStatus = "PENDING"
	RequestProcessing         RequestStatus = "PROCESSING"
	RequestCompleted          RequestStatus = "COMPLETED"
	RequestPartiallyCompleted RequestStatus = "PARTIALLY_COMPLETED"
	RequestFailed             RequestStatus = "FAILED"
)

// Terminal reports whether no further processing-driven transition occurs.
func (s RequestStatus) Terminal() bool {
	switch s {
	case RequestCompleted, RequestPartiallyCompleted, RequestFailed:
		return true
	}
	return false
}

type ProductStatus string

const (
	ProductPending    ProductStatus = "PENDING"
	ProductProcessing ProductStatus = "PROCESSING"
	ProductCompleted  ProductStatus = "COMPLETED"
	ProductFailed     ProductStatus = "FAILED"
)

// Request is one submitted batch, tracked to a single terminal status.
type Request struct {
	ID         string        `db:"request_id"`
	Status     RequestStatus `db:"status"`
	WebhookURL string        `db:"webhook_url"` // empty when none registered
	CreatedAt  time.Time     `db:"created_at"`
	UpdatedAt  time.Time     `db:"updated_at"`
}

// Product is one row of work within a batch. The image URL columns keep the
// comma-delimited encoding they are stored and exported with.
type Product struct {
	ID              int64         `db:"id"`
	RequestID       string        `db:"request_id"`
	SerialNumber    int           `db:"serial_number"`
	Name            string        `db:"product_name"`
	InputImageURLs  string        `db:"input_image_urls"`
	OutputImageURLs string        `db:"output_image_urls"`
	Status          ProductStatus `db:"status"`
	CreatedAt       time.Time     `db:"created_at"`
	UpdatedAt       time.Time     `db:"updated_at"`
}

// InputURLs splits the stored URL list, trimming whitespace. Empty entries
// are kept so the caller can skip them explicitly.
func (p *Product) InputURLs() []string {
	parts := strings.Split(p.InputImageURLs, ",")
	for i := range parts {
		parts[i] = strings.TrimSpace(parts[i])
	}
	return parts
}

// ProductCounts is a point-in-time status breakdown of a request's products.
type ProductCounts struct {
	Total      int
	Completed  int
	Failed     int
	InProgress int
	Pending    int
}

// Progress returns the completion percentage, 0 for an empty batch.
func (c ProductCounts) Progress() float64 {
	if c.Total == 0 {
		return 0
	}
	return float64(c.Completed) / float64(c.Total) * 100
}
