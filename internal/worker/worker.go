// Package worker drives a submitted batch from PENDING to a terminal status:
// it processes every product's images, aggregates the batch outcome and hands
// off to the webhook dispatcher.
package worker

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"imgbatch/internal/imageproc"
	"imgbatch/internal/models"
	"imgbatch/internal/notify"
)

// OutputURLPrefix is the namespace marker prepended to the final path segment
// of an input URL to form its output reference.
const OutputURLPrefix = "https://www.public-image-output-"

// Store is the persistence contract the worker runs against.
type Store interface {
	GetRequest(ctx context.Context, requestID string) (*models.Request, error)
	UpdateRequestStatus(ctx context.Context, requestID string, status models.RequestStatus) error
	ListProducts(ctx context.Context, requestID string) ([]models.Product, error)
	UpdateProductStatus(ctx context.Context, productID int64, status models.ProductStatus) error
	CompleteProduct(ctx context.Context, productID int64, outputImageURLs string) error
	CountProducts(ctx context.Context, requestID string) (models.ProductCounts, error)
}

// Compressor turns one source image URL into a transient recompressed artifact.
type Compressor interface {
	FetchAndCompress(ctx context.Context, url string, quality int) (*imageproc.Artifact, error)
}

// Notifier delivers a status payload to a webhook URL.
type Notifier interface {
	Deliver(ctx context.Context, url string, payload notify.Payload) bool
}

type Orchestrator struct {
	store      Store
	compressor Compressor
	notifier   Notifier
	quality    int
}

func New(store Store, compressor Compressor, notifier Notifier, quality int) *Orchestrator {
	return &Orchestrator{store: store, compressor: compressor, notifier: notifier, quality: quality}
}

// Run processes one batch job. It is safe against duplicate queue delivery:
// an unknown request or one already at a terminal status is a no-op. Any
// orchestration error marks the request FAILED; the webhook is notified
// either way when one is registered.
func (o *Orchestrator) Run(ctx context.Context, requestID string) error {
	const op = "worker.Run"

	req, err := o.store.GetRequest(ctx, requestID)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			log.Printf("request %s not found, skipping job", requestID)
			return nil
		}
		return fmt.Errorf("%s: %v", op, err)
	}
	if req.Status.Terminal() {
		log.Printf("request %s already %s, skipping redelivered job", requestID, req.Status)
		return nil
	}

	runErr := o.process(ctx, req)
	if runErr != nil {
		log.Printf("request %s failed: %v", requestID, runErr)
		if err := o.store.UpdateRequestStatus(ctx, requestID, models.RequestFailed); err != nil {
			log.Printf("could not mark request %s FAILED: %v", requestID, err)
		}
	}

	o.notifyAsync(ctx, requestID)

	if runErr != nil {
		return fmt.Errorf("%s: %v", op, runErr)
	}
	return nil
}

func (o *Orchestrator) process(ctx context.Context, req *models.Request) error {
	if err := o.store.UpdateRequestStatus(ctx, req.ID, models.RequestProcessing); err != nil {
		return err
	}

	products, err := o.store.ListProducts(ctx, req.ID)
	if err != nil {
		return err
	}
	for i := range products {
		o.processProduct(ctx, &products[i])
	}

	counts, err := o.store.CountProducts(ctx, req.ID)
	if err != nil {
		return err
	}

	var status models.RequestStatus
	switch {
	case counts.Completed == counts.Total:
		status = models.RequestCompleted
	case counts.Failed > 0:
		status = models.RequestPartiallyCompleted
	default:
		// Some products never reached a terminal status (possible after a
		// partial crash). There is no defined recovery; the request keeps
		// its current status.
		log.Printf("request %s has non-terminal products after processing (%d pending, %d in progress), leaving status unchanged",
			req.ID, counts.Pending, counts.InProgress)
		return nil
	}

	return o.store.UpdateRequestStatus(ctx, req.ID, status)
}

// processProduct drives one product through its full URL list. Individual
// image failures are logged and skipped; only a persistence error fails the
// product. Either way, a failure here never aborts sibling products.
func (o *Orchestrator) processProduct(ctx context.Context, p *models.Product) {
	if err := o.store.UpdateProductStatus(ctx, p.ID, models.ProductProcessing); err != nil {
		log.Printf("product %d: %v", p.ID, err)
		o.failProduct(ctx, p.ID)
		return
	}

	urls := p.InputURLs()
	outputs := make([]string, 0, len(urls))
	for _, url := range urls {
		if url == "" {
			continue
		}
		art, err := o.compressor.FetchAndCompress(ctx, url, o.quality)
		if err != nil {
			log.Printf("product %d: image %s skipped: %v", p.ID, url, err)
			continue
		}
		outputs = append(outputs, OutputURLPrefix+lastSegment(url))
		if err := art.Release(); err != nil {
			log.Printf("product %d: %v", p.ID, err)
		}
	}

	if err := o.store.CompleteProduct(ctx, p.ID, strings.Join(outputs, ",")); err != nil {
		log.Printf("product %d: %v", p.ID, err)
		o.failProduct(ctx, p.ID)
	}
}

func (o *Orchestrator) failProduct(ctx context.Context, productID int64) {
	if err := o.store.UpdateProductStatus(ctx, productID, models.ProductFailed); err != nil {
		log.Printf("could not mark product %d FAILED: %v", productID, err)
	}
}

// notifyAsync builds a payload from the persisted snapshot and hands delivery
// off in the background; the batch never blocks on the webhook. The request
// is re-read here so a webhook registered while the batch was running is
// still honored.
func (o *Orchestrator) notifyAsync(ctx context.Context, requestID string) {
	req, err := o.store.GetRequest(ctx, requestID)
	if err != nil {
		log.Printf("webhook for request %s skipped: %v", requestID, err)
		return
	}
	if req.WebhookURL == "" {
		return
	}
	webhookURL := req.WebhookURL
	counts, err := o.store.CountProducts(ctx, requestID)
	if err != nil {
		log.Printf("webhook for request %s skipped: %v", requestID, err)
		return
	}
	payload := notify.BuildPayload(req, counts, time.Now())

	go func() {
		if !o.notifier.Deliver(ctx, webhookURL, payload) {
			log.Printf("webhook delivery for request %s failed", requestID)
		}
	}()
}

func lastSegment(url string) string {
	if i := strings.LastIndexByte(url, '/'); i >= 0 {
		return url[i+1:]
	}
	return url
}
