package handlers

import (
	"errors"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"vocabsync/internal/cache"
	appmetrics "vocabsync/internal/metrics"
	"vocabsync/internal/middleware/ratelimit"
	"vocabsync/internal/models"
	"vocabsync/internal/services"
)

type Handler struct {
	stats       *services.StatsService
	rateLimiter *ratelimit.RateLimiter
	cache       *cache.SummaryCache
	log         *zap.Logger
	pingDB      func() error
}

func NewHandler(
	stats *services.StatsService,
	rateLimiter *ratelimit.RateLimiter,
	summaryCache *cache.SummaryCache,
	log *zap.Logger,
	pingDB func() error,
) *Handler {
	return &Handler{
		stats:       stats,
		rateLimiter: rateLimiter,
		cache:       summaryCache,
		log:         log,
		pingDB:      pingDB,
	}
}

func (h *Handler) Register(e *echo.Echo) {
	e.GET("/health", h.HealthCheck)
	e.POST("/sync", h.Sync)
	e.GET("/stats/summary", h.GetSummary)
	e.GET("/stats/summaries", h.ListSummaries)
}

func (h *Handler) HealthCheck(c echo.Context) error {
	ctx := c.Request().Context()

	dbStatus := "healthy"
	if err := h.pingDB(); err != nil {
		dbStatus = "unhealthy"
	}

	redisStatus := "healthy"
	if err := h.cache.Ping(ctx); err != nil {
		redisStatus = "unhealthy"
	}

	response := models.HealthResponse{
		Status:    "healthy",
		Timestamp: time.Now().Format(time.RFC3339),
		Database:  dbStatus,
		Redis:     redisStatus,
	}

	return c.JSON(http.StatusOK, response)
}

// Sync ingests one completed test session and returns the recomputed
// daily summary. Status mapping: 400 validation, 409 frozen date, 429
// rate limited; anything 5xx is retryable via the client's offline queue.
func (h *Handler) Sync(c echo.Context) error {
	ctx := c.Request().Context()

	appmetrics.SyncRequestsTotal.Inc()
	appmetrics.ActiveRequests.Inc()
	defer appmetrics.ActiveRequests.Dec()

	start := time.Now()
	defer func() {
		appmetrics.SyncDurationSeconds.Observe(time.Since(start).Seconds())
	}()

	userID := c.Request().Header.Get("X-User-Id")
	if userID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "X-User-Id header is required")
	}

	if !h.rateLimiter.IsAllowed(userID) {
		appmetrics.RateLimitDroppedTotal.Inc()
		return echo.NewHTTPError(http.StatusTooManyRequests, "Rate limit exceeded")
	}

	var req models.SyncRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "Malformed sync request")
	}

	dbStart := time.Now()
	result, err := h.stats.RecordAndSync(ctx, userID, req)
	appmetrics.DBWriteDurationSeconds.Observe(time.Since(dbStart).Seconds())
	if err != nil {
		switch {
		case errors.Is(err, models.ErrValidation):
			return echo.NewHTTPError(http.StatusBadRequest, err.Error())
		case errors.Is(err, models.ErrFrozenDate):
			return echo.NewHTTPError(http.StatusConflict, err.Error())
		default:
			h.log.Error("sync failed", zap.String("user_id", userID), zap.Error(err))
			return echo.NewHTTPError(http.StatusInternalServerError, "Failed to record test result")
		}
	}

	h.cache.Invalidate(ctx, userID, result.Date)

	return c.JSON(http.StatusOK, result)
}

func (h *Handler) GetSummary(c echo.Context) error {
	ctx := c.Request().Context()

	userID := c.Request().Header.Get("X-User-Id")
	if userID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "X-User-Id header is required")
	}
	date := c.QueryParam("date")
	if date == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "date query parameter is required")
	}

	if sum, ok := h.cache.Get(ctx, userID, date); ok {
		return c.JSON(http.StatusOK, sum)
	}

	sum, found, err := h.stats.Summary(ctx, userID, date)
	if err != nil {
		h.log.Error("get summary failed", zap.String("user_id", userID), zap.Error(err))
		return echo.NewHTTPError(http.StatusInternalServerError, "Failed to get summary")
	}
	if !found {
		return echo.NewHTTPError(http.StatusNotFound, "No summary for date")
	}

	h.cache.Set(ctx, sum)
	return c.JSON(http.StatusOK, sum)
}

func (h *Handler) ListSummaries(c echo.Context) error {
	ctx := c.Request().Context()

	userID := c.Request().Header.Get("X-User-Id")
	if userID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "X-User-Id header is required")
	}

	summaries, err := h.stats.Summaries(ctx, userID, c.QueryParam("from"), c.QueryParam("to"))
	if err != nil {
		h.log.Error("list summaries failed", zap.String("user_id", userID), zap.Error(err))
		return echo.NewHTTPError(http.StatusInternalServerError, "Failed to list summaries")
	}
	if summaries == nil {
		summaries = []models.DailySummary{}
	}

	return c.JSON(http.StatusOK, summaries)
}
