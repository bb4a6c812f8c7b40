package handlers

import (
	"io"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"example.com/backstage/services/audit/internal/api/middleware"
	"example.com/backstage/services/audit/internal/models"
	"example.com/backstage/services/audit/internal/service"
)

// AuditHandler serves the event ingestion and retrieval endpoints
type AuditHandler struct {
	auditService *service.AuditService
}

// NewAuditHandler creates a new audit handler
func NewAuditHandler(auditService *service.AuditService) *AuditHandler {
	return &AuditHandler{auditService: auditService}
}

// LogEvents handles POST /audit/log
func (h *AuditHandler) LogEvents(c *gin.Context) {
	body, err := io.ReadAll(c.Request.Body)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "failed to read request body"})
		return
	}

	eventBatch, err := models.DecodeEvents(body)
	if err != nil {
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": err.Error()})
		return
	}

	account := currentAccount(c)
	if err := h.auditService.LogEvents(c.Request.Context(), account, eventBatch); err != nil {
		var validationErr *models.ValidationError
		if errors.As(err, &validationErr) {
			c.JSON(http.StatusUnprocessableEntity, gin.H{"error": validationErr.Error()})
			return
		}
		// Dispatch failures never change the response; persistence is
		// asynchronous and the broker's redelivery policy owns retries.
		log.Error().Err(err).Msg("Failed to enqueue events")
	}

	c.Status(http.StatusNoContent)
}

// ListEvents handles GET /audit/log
func (h *AuditHandler) ListEvents(c *gin.Context) {
	params, ok := bindRetrievalParameters(c)
	if !ok {
		return
	}

	page, err := strconv.Atoi(c.DefaultQuery("page", "1"))
	if err != nil || page < 1 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "page must be a positive integer"})
		return
	}

	account := currentAccount(c)
	records, err := h.auditService.ListEvents(c.Request.Context(), account, params, page)
	if err != nil {
		h.renderQueryError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"events": records, "page": page})
}

// EventTrail handles GET /audit/log/:event_id
func (h *AuditHandler) EventTrail(c *gin.Context) {
	account := currentAccount(c)
	records, err := h.auditService.EventTrail(c.Request.Context(), account, c.Param("event_id"))
	if err != nil {
		h.renderQueryError(c, err)
		return
	}

	if len(records) == 0 {
		c.JSON(http.StatusNotFound, gin.H{"error": "no events recorded under the provided identifier"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"events": records})
}

// ListMetrics handles GET /audit/metrics
func (h *AuditHandler) ListMetrics(c *gin.Context) {
	account := currentAccount(c)
	metrics, err := h.auditService.ListMetrics(c.Request.Context(), account)
	if err != nil {
		h.renderQueryError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"metrics": metrics})
}

// MetricSeries handles GET /audit/metrics/:metric_name
func (h *AuditHandler) MetricSeries(c *gin.Context) {
	params, ok := bindRetrievalParameters(c)
	if !ok {
		return
	}

	metric := c.Param("metric_name")
	interval := c.DefaultQuery("interval", "1m")
	aggFn := c.DefaultQuery("agg", "mean")
	groupBy := c.Query("group_by")

	account := currentAccount(c)

	if groupBy != "" {
		series, err := h.auditService.GroupedMetricSeries(c.Request.Context(), account, params, metric, interval, aggFn, groupBy)
		if err != nil {
			h.renderQueryError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"metric": metric, "series": series})
		return
	}

	points, err := h.auditService.MetricSeries(c.Request.Context(), account, params, metric, interval, aggFn)
	if err != nil {
		h.renderQueryError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"metric": metric, "data": points})
}

// MetricCounts handles GET /audit/metrics/:metric_name/count
func (h *AuditHandler) MetricCounts(c *gin.Context) {
	params, ok := bindRetrievalParameters(c)
	if !ok {
		return
	}

	metric := c.Param("metric_name")
	interval := c.DefaultQuery("interval", "1m")

	account := currentAccount(c)
	counts, err := h.auditService.MetricCounts(c.Request.Context(), account, params, metric, interval)
	if err != nil {
		h.renderQueryError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"metric": metric, "data": counts})
}

func (h *AuditHandler) renderQueryError(c *gin.Context, err error) {
	var validationErr *models.ValidationError
	if errors.As(err, &validationErr) {
		c.JSON(http.StatusBadRequest, gin.H{"error": validationErr.Error()})
		return
	}
	log.Error().Err(err).Msg("Failed to query events")
	c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to query events"})
}

func bindRetrievalParameters(c *gin.Context) (models.RetrievalParameters, bool) {
	var params models.RetrievalParameters
	if err := c.ShouldBindQuery(&params); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "app query parameter is required"})
		return params, false
	}
	return params, true
}

func currentAccount(c *gin.Context) *models.UserAccount {
	account, _ := c.MustGet(middleware.AccountKey).(*models.UserAccount)
	return account
}
