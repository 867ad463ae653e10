// Package notify delivers batch status payloads to registered webhook URLs.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"math/rand"
	"net/http"
	"time"

	"imgbatch/internal/models"
)

const (
	maxAttempts    = 3
	deliverTimeout = 10 * time.Second
	pingTimeout    = 5 * time.Second
)

// Payload is the JSON body posted to a webhook receiver.
type Payload struct {
	RequestID string  `json:"request_id"`
	Status    string  `json:"status"`
	Progress  float64 `json:"progress"`
	Details   Details `json:"details"`
	Message   string  `json:"message"`
	Timestamp string  `json:"timestamp"`
}

type Details struct {
	Total      int `json:"total"`
	Completed  int `json:"completed"`
	Failed     int `json:"failed"`
	InProgress int `json:"in_progress"`
}

// BuildPayload assembles a delivery payload from the persisted request
// snapshot. Repeated delivery of the same snapshot is safe to send.
func BuildPayload(req *models.Request, counts models.ProductCounts, now time.Time) Payload {
	return Payload{
		RequestID: req.ID,
		Status:    string(req.Status),
		Progress:  counts.Progress(),
		Details: Details{
			Total:      counts.Total,
			Completed:  counts.Completed,
			Failed:     counts.Failed,
			InProgress: counts.InProgress,
		},
		Message:   fmt.Sprintf("Processing %s: %d of %d products completed", req.Status, counts.Completed, counts.Total),
		Timestamp: now.UTC().Format(time.RFC3339),
	}
}

// Dispatcher posts payloads with a bounded retry budget. Only transport-level
// failures are retried; an HTTP error status from the receiver is final.
type Dispatcher struct {
	client *http.Client
	sleep  func(time.Duration)
	jitter func() float64 // uniform in [-jitterFraction, jitterFraction]
}

func NewDispatcher() *Dispatcher {
	return &Dispatcher{
		client: &http.Client{Timeout: deliverTimeout},
		sleep:  time.Sleep,
		jitter: func() float64 { return (rand.Float64()*2 - 1) * jitterFraction },
	}
}

// Deliver posts the payload to url, returning true once the receiver accepted
// it. Exhaustion is reported to the caller, who logs but never escalates.
func (d *Dispatcher) Deliver(ctx context.Context, url string, payload Payload) bool {
	body, err := json.Marshal(payload)
	if err != nil {
		log.Printf("webhook payload for %s could not be encoded: %v", payload.RequestID, err)
		return false
	}

	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if attempt > 1 {
			d.sleep(backoffDelay(attempt, d.jitter()))
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
		if err != nil {
			log.Printf("webhook request for %s could not be built: %v", url, err)
			return false
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := d.client.Do(req)
		if err != nil {
			log.Printf("webhook delivery attempt %d/%d to %s failed: %v", attempt, maxAttempts, url, err)
			continue
		}
		io.Copy(io.Discard, resp.Body)
		resp.Body.Close()

		if resp.StatusCode >= 200 && resp.StatusCode < 300 {
			return true
		}
		log.Printf("webhook receiver %s answered %d, not retrying", url, resp.StatusCode)
		return false
	}

	log.Printf("webhook delivery to %s exhausted after %d attempts", url, maxAttempts)
	return false
}

// Ping checks that a webhook URL is reachable. Any HTTP response counts as
// reachable; only transport failures are reported.
func (d *Dispatcher) Ping(ctx context.Context, url string) error {
	const op = "notify.Ping"

	ctx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("%s: %v", op, err)
	}
	resp, err := d.client.Do(req)
	if err != nil {
		return fmt.Errorf("%s: %v", op, err)
	}
	io.Copy(io.Discard, resp.Body)
	resp.Body.Close()
	return nil
}
