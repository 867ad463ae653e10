package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"

	"imgbatch/internal/models"
	"imgbatch/internal/notify"
)

// Store is the subset of the job store the API reads and writes.
type Store interface {
	CreateRequest(ctx context.Context, req *models.Request, products []models.Product) error
	GetRequest(ctx context.Context, requestID string) (*models.Request, error)
	SetWebhookURL(ctx context.Context, requestID, url string) error
	ListProducts(ctx context.Context, requestID string) ([]models.Product, error)
	CountProducts(ctx context.Context, requestID string) (models.ProductCounts, error)
}

// Queue publishes batch jobs for the worker pool.
type Queue interface {
	Publish(ctx context.Context, requestID string) error
}

// Notifier covers webhook reachability checks and manual re-delivery.
type Notifier interface {
	Deliver(ctx context.Context, url string, payload notify.Payload) bool
	Ping(ctx context.Context, url string) error
}

// KafkaQueue publishes the request ID as the whole message, matching what the
// consumer in cmd/main.go reads back.
type KafkaQueue struct {
	writer *kafka.Writer
}

func NewKafkaQueue(writer *kafka.Writer) *KafkaQueue {
	return &KafkaQueue{writer: writer}
}

func (q *KafkaQueue) Publish(ctx context.Context, requestID string) error {
	return q.writer.WriteMessages(ctx, kafka.Message{Value: []byte(requestID)})
}

type Server struct {
	cfg      *models.Config
	router   *gin.Engine
	db       Store
	queue    Queue
	notifier Notifier
}

func NewServer(cfg *models.Config, db Store, queue Queue, notifier Notifier) *Server {
	r := gin.Default()

	s := &Server{cfg: cfg, router: r, db: db, queue: queue, notifier: notifier}

	api := r.Group("/api")
	api.POST("/upload", s.handleUpload)
	api.GET("/status/:request_id", s.handleStatus)
	api.POST("/webhook", s.handleRegisterWebhook)
	api.POST("/webhook/trigger", s.handleTriggerWebhook)
	api.GET("/download/:request_id", s.handleDownload)

	return s
}

func (s *Server) Start() error {
	return s.router.Run(s.cfg.ServerAddr)
}

func (s *Server) handleUpload(c *gin.Context) {
	const op = "server.handleUpload"

	file, err := c.FormFile("file")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "no file part"})
		return
	}

	src, err := file.Open()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": fmt.Sprintf("%s: %v", op, err)})
		return
	}
	defer src.Close()

	products, err := parseProductsCSV(src)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	req := models.Request{
		ID:     uuid.New().String(),
		Status: models.RequestPending,
	}
	if err := s.db.CreateRequest(c.Request.Context(), &req, products); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": fmt.Sprintf("%s: %v", op, err)})
		return
	}

	if err := s.queue.Publish(c.Request.Context(), req.ID); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": fmt.Sprintf("%s: %v", op, err)})
		return
	}

	c.JSON(http.StatusCreated, gin.H{"request_id": req.ID})
}

func (s *Server) handleStatus(c *gin.Context) {
	const op = "server.handleStatus"

	requestID := c.Param("request_id")
	req, err := s.db.GetRequest(c.Request.Context(), requestID)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "request not found"})
		return
	}

	counts, err := s.db.CountProducts(c.Request.Context(), requestID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": fmt.Sprintf("%s: %v", op, err)})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"request_id": req.ID,
		"status":     req.Status,
		"progress":   counts.Progress(),
		"details": gin.H{
			"total":       counts.Total,
			"completed":   counts.Completed,
			"failed":      counts.Failed,
			"in_progress": counts.InProgress,
		},
		"created_at": req.CreatedAt,
		"updated_at": req.UpdatedAt,
	})
}

type webhookRequest struct {
	RequestID  string `json:"request_id" binding:"required"`
	WebhookURL string `json:"webhook_url" binding:"required,url"`
}

func (s *Server) handleRegisterWebhook(c *gin.Context) {
	const op = "server.handleRegisterWebhook"

	var body webhookRequest
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing required fields: request_id and webhook_url"})
		return
	}

	if _, err := s.db.GetRequest(c.Request.Context(), body.RequestID); err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "request not found"})
		return
	}

	if err := s.db.SetWebhookURL(c.Request.Context(), body.RequestID, body.WebhookURL); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": fmt.Sprintf("%s: %v", op, err)})
		return
	}

	// Reachability is reported, never enforced.
	reachable := s.notifier.Ping(c.Request.Context(), body.WebhookURL) == nil

	c.JSON(http.StatusOK, gin.H{
		"message":   "webhook registered successfully",
		"reachable": reachable,
	})
}

type triggerRequest struct {
	RequestID string `json:"request_id" binding:"required"`
}

// handleTriggerWebhook re-delivers the currently persisted status snapshot.
// Repeated delivery is safe to send; no dedup is attempted.
func (s *Server) handleTriggerWebhook(c *gin.Context) {
	const op = "server.handleTriggerWebhook"

	var body triggerRequest
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing required field: request_id"})
		return
	}

	req, err := s.db.GetRequest(c.Request.Context(), body.RequestID)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "request not found"})
		return
	}
	if req.WebhookURL == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "no webhook registered for this request"})
		return
	}

	counts, err := s.db.CountProducts(c.Request.Context(), body.RequestID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": fmt.Sprintf("%s: %v", op, err)})
		return
	}

	payload := notify.BuildPayload(req, counts, time.Now())
	delivered := s.notifier.Deliver(c.Request.Context(), req.WebhookURL, payload)

	c.JSON(http.StatusOK, gin.H{"delivered": delivered})
}

func (s *Server) handleDownload(c *gin.Context) {
	const op = "server.handleDownload"

	requestID := c.Param("request_id")
	req, err := s.db.GetRequest(c.Request.Context(), requestID)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "request not found"})
		return
	}

	if req.Status != models.RequestCompleted && req.Status != models.RequestPartiallyCompleted {
		c.JSON(http.StatusBadRequest, gin.H{"error": "request processing not complete"})
		return
	}

	products, err := s.db.ListProducts(c.Request.Context(), requestID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": fmt.Sprintf("%s: %v", op, err)})
		return
	}

	data, err := exportProductsCSV(products)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": fmt.Sprintf("%s: %v", op, err)})
		return
	}

	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=processed_data_%s.csv", requestID))
	c.Data(http.StatusOK, "text/csv", data)
}
