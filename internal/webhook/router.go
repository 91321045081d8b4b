package webhook

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"

	"intake/internal/logger"
	"intake/internal/whatsapp"
)

// maxPayloadBytes bounds webhook bodies. Meta payloads are a few KB.
const maxPayloadBytes = 1 << 20

// Submitter queues image messages for processing.
type Submitter interface {
	Submit(img whatsapp.InboundImage) error
}

// RouterConfig configures NewRouter.
type RouterConfig struct {
	VerifyToken string
	AppSecret   string // Empty disables signature checks
}

type handler struct {
	config    RouterConfig
	submitter Submitter
}

// NewRouter builds the webhook HTTP handler.
//
//	GET  /         subscription verification
//	POST /         message notifications
//	GET  /healthz  liveness
func NewRouter(config RouterConfig, submitter Submitter) *gin.Engine {
	h := &handler{config: config, submitter: submitter}

	router := gin.New()
	router.Use(gin.Recovery(), logger.GinMiddleware("http"))

	router.GET("/", h.verify)
	router.POST("/", h.receive)
	router.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	return router
}

func (h *handler) verify(c *gin.Context) {
	log := logger.WithComponent("webhook")

	mode := c.Query(whatsapp.ParamMode)
	challenge, ok := whatsapp.VerifySubscription(
		mode,
		c.Query(whatsapp.ParamVerifyToken),
		c.Query(whatsapp.ParamChallenge),
		h.config.VerifyToken,
	)
	if !ok {
		log.Warn().Str("mode", mode).Msg("Webhook verification failed")
		c.String(http.StatusForbidden, "Verification failed. Token mismatch or parameters missing.")
		return
	}

	log.Info().Msg("Webhook verified")
	c.String(http.StatusOK, challenge)
}

func (h *handler) receive(c *gin.Context) {
	log := logger.WithComponent("webhook")

	body, err := io.ReadAll(io.LimitReader(c.Request.Body, maxPayloadBytes+1))
	if err != nil {
		log.Error().Err(err).Msg("Failed to read webhook body")
		c.JSON(http.StatusBadRequest, gin.H{"error": "unreadable body"})
		return
	}
	if len(body) > maxPayloadBytes {
		log.Warn().
			Int("limit_bytes", maxPayloadBytes).
			Int64("content_length", c.Request.ContentLength).
			Msg("Rejected oversized webhook body")
		c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "payload too large"})
		return
	}

	if err := whatsapp.ValidateSignature(body, c.GetHeader(whatsapp.SignatureHeader), h.config.AppSecret); err != nil {
		log.Warn().Err(err).Msg("Rejected webhook with bad signature")
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid signature"})
		return
	}

	// Meta retries anything other than 200, so malformed payloads are acknowledged
	var payload whatsapp.Payload
	if err := json.Unmarshal(body, &payload); err != nil {
		log.Error().Err(err).Msg("Failed to parse webhook payload")
		c.JSON(http.StatusOK, gin.H{"status": "received"})
		return
	}

	images := payload.ImageMessages()
	for _, img := range images {
		if err := h.submitter.Submit(img); err != nil {
			event := log.Error()
			if errors.Is(err, ErrQueueFull) {
				event = log.Warn()
			}
			event.Err(err).Str("message_id", img.Message.ID).Msg("Dropped image message")
		}
	}

	log.Debug().
		Int("messages", payload.MessageCount()).
		Int("images", len(images)).
		Msg("Webhook payload accepted")

	c.JSON(http.StatusOK, gin.H{"status": "received"})
}
