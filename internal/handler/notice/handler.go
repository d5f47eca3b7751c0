package notice

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	gocache "github.com/patrickmn/go-cache"

	"github.com/waterops/licensing-api/internal/model"
	"github.com/waterops/licensing-api/internal/repository"
	"github.com/waterops/licensing-api/internal/service/dispatch"
	"github.com/waterops/licensing-api/pkg/logger"
	"github.com/waterops/licensing-api/pkg/metrics"
)

// JobRunner triggers a status-poll sweep. Implemented by the status poller.
type JobRunner interface {
	Run(ctx context.Context)
}

type Handler struct {
	notices       repository.NoticeRepository
	notifications repository.NotificationRepository
	dispatcher    *dispatch.Service
	poller        JobRunner
	callbackDedup *gocache.Cache
	logger        *logger.Logger
	metrics       *metrics.Metrics
}

func NewHandler(
	notices repository.NoticeRepository,
	notifications repository.NotificationRepository,
	dispatcher *dispatch.Service,
	poller JobRunner,
	logger *logger.Logger,
	metrics *metrics.Metrics,
) *Handler {
	// The provider retries callbacks; entries outlive any plausible retry
	// burst so each returned letter is processed once.
	dedup := gocache.New(10*time.Minute, 30*time.Minute)

	return &Handler{
		notices:       notices,
		notifications: notifications,
		dispatcher:    dispatcher,
		poller:        poller,
		callbackDedup: dedup,
		logger:        logger,
		metrics:       metrics,
	}
}

func (h *Handler) GetNotice(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"status": "error", "message": "invalid notice ID"})
		return
	}

	notice, err := h.notices.Get(c.Request.Context(), id)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"status": "error", "message": "notice not found"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "success", "data": notice})
}

func (h *Handler) ListNotices(c *gin.Context) {
	filters := &model.NoticeFilters{
		Subtype:       c.Query("subtype"),
		OverallStatus: model.OverallStatus(c.Query("overall_status")),
		Issuer:        c.Query("issuer"),
		ReferenceCode: c.Query("reference_code"),
	}

	notices, err := h.notices.List(c.Request.Context(), filters)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"status": "error", "message": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "success", "data": notices})
}

func (h *Handler) ListNotifications(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"status": "error", "message": "invalid notice ID"})
		return
	}

	notifications, err := h.notifications.ListByNotice(c.Request.Context(), id)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"status": "error", "message": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "success", "data": notifications})
}

// SendNotice kicks off dispatch of a notice's pending notifications. The
// batch runs after the response; progress is visible through the notice's
// derived status fields.
func (h *Handler) SendNotice(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"status": "error", "message": "invalid notice ID"})
		return
	}

	go func() {
		if err := h.dispatcher.SendNotice(context.Background(), id); err != nil {
			h.logger.Error(err, "notice send failed", "notice_id", id.String())
		}
	}()

	c.JSON(http.StatusAccepted, gin.H{"status": "success"})
}

// TriggerStatusPoll starts a poll sweep and returns immediately.
func (h *Handler) TriggerStatusPoll(c *gin.Context) {
	go h.poller.Run(context.Background())
	c.Status(http.StatusNoContent)
}

type returnedLetterRequest struct {
	NotificationID string `json:"notification_id" binding:"required"`
	Reference      string `json:"reference"`
}

// ReturnedLetter is the provider's returned-to-sender webhook. Duplicate
// deliveries of the same callback within the dedup window are no-ops.
func (h *Handler) ReturnedLetter(c *gin.Context) {
	var req returnedLetterRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"status": "error", "message": err.Error()})
		return
	}

	if _, seen := h.callbackDedup.Get(req.NotificationID); seen {
		h.metrics.ReturnedCallback.WithLabelValues("duplicate").Inc()
		h.logger.Info("duplicate returned-letter callback ignored",
			"notify_id", req.NotificationID)
		c.Status(http.StatusNoContent)
		return
	}
	found, err := h.dispatcher.ReturnedLetter(c.Request.Context(), req.NotificationID)
	if err != nil {
		h.metrics.ReturnedCallback.WithLabelValues("error").Inc()
		c.JSON(http.StatusInternalServerError, gin.H{"status": "error", "message": err.Error()})
		return
	}
	// Stamped only once the callback has been processed, so a retry after a
	// failed attempt is not absorbed as a duplicate.
	h.callbackDedup.Set(req.NotificationID, struct{}{}, gocache.DefaultExpiration)
	if !found {
		h.metrics.ReturnedCallback.WithLabelValues("no_match").Inc()
	} else {
		h.metrics.ReturnedCallback.WithLabelValues("processed").Inc()
	}

	c.Status(http.StatusNoContent)
}
