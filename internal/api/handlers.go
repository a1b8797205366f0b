package api

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/axellelanca/trailtrack/internal/analytics"
	customerrors "github.com/axellelanca/trailtrack/internal/errors"
	"github.com/axellelanca/trailtrack/internal/monitor"
	"github.com/axellelanca/trailtrack/internal/seotest"
	"github.com/axellelanca/trailtrack/internal/services"
)

// Visitor identification. The cookie wins over the header.
const (
	VisitorCookie = "vid"
	VisitorHeader = "X-Visitor-ID"
	PageURLHeader = "X-Page-URL"
)

const visitorCookieMaxAge = 365 * 24 * 60 * 60

// Dependencies are the components served by the HTTP API.
// Analytics may be nil.
type Dependencies struct {
	Registry    *services.Registry
	PageMonitor *monitor.PageMonitor
	Framework   *seotest.Framework
	Auditor     *seotest.Auditor
	Vitals      *seotest.VitalsHub
	Analytics   *analytics.Client
	Logger      *zap.Logger
}

// SetupRoutes configures all Gin API routes and injects necessary dependencies
func SetupRoutes(router *gin.Engine, deps Dependencies) {
	log := deps.Logger
	if log == nil {
		log = zap.NewNop()
	}

	// Health Check Route - used for monitoring service availability
	router.GET("/health", HealthCheckHandler)

	track := router.Group("/api/v1/track")
	{
		track.POST("/session", SessionHandler(deps.Registry, deps.Analytics))
		track.POST("/links", RegisterLinkHandler(deps.Registry, log))
		track.GET("/links/:id/url", TrackingURLHandler(deps.Registry))
		track.POST("/click", ClickHandler(deps.Registry))
		track.POST("/conversion", ConversionHandler(deps.Registry))
		track.POST("/message", MessageHandler(deps.Registry))
		track.POST("/lifecycle", LifecycleHandler(deps.Registry, deps.Analytics, log))
		track.PUT("/user", SetUserHandler(deps.Registry))
		track.PUT("/attribution", AttributionModelHandler(deps.Registry))
		track.GET("/analytics", SessionAnalyticsHandler(deps.Registry))
	}

	// Default commission endpoint, used when no external endpoint is configured
	router.POST("/api/affiliate/commission", CommissionHandler(log))

	seoGroup := router.Group("/api/v1/seo")
	{
		seoGroup.GET("/report", ReportHandler(deps.PageMonitor, deps.Analytics))
		seoGroup.POST("/observe", ObserveHandler(deps.PageMonitor))
		seoGroup.POST("/audit", AuditHandler(deps.Auditor, deps.Analytics, log))
		seoGroup.POST("/vitals", VitalsHandler(deps.Vitals, deps.Analytics))

		seoGroup.POST("/tests", CreateTestHandler(deps.Framework, deps.Analytics))
		seoGroup.GET("/tests", ListTestsHandler(deps.Framework, deps.Analytics))
		seoGroup.GET("/tests/:id/variant", VariantHandler(deps.Framework))
		seoGroup.POST("/tests/:id/metrics", TestMetricHandler(deps.Framework))
		seoGroup.GET("/tests/:id/results", TestResultsHandler(deps.Framework))
		seoGroup.POST("/tests/:id/pause", TestStatusHandler(deps.Framework.PauseTest))
		seoGroup.POST("/tests/:id/resume", TestStatusHandler(deps.Framework.ResumeTest))
		seoGroup.POST("/tests/:id/complete", TestStatusHandler(deps.Framework.CompleteTest))
	}
}

// HealthCheckHandler handles the /health route to verify service status
func HealthCheckHandler(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// visitorID resolves the visitor of the request, issuing a new cookie when
// the request carries no id.
func visitorID(c *gin.Context) string {
	if id, err := c.Cookie(VisitorCookie); err == nil && id != "" {
		return id
	}
	if id := c.GetHeader(VisitorHeader); id != "" {
		return id
	}
	id := uuid.NewString()
	c.SetCookie(VisitorCookie, id, visitorCookieMaxAge, "/", "", false, true)
	c.Header(VisitorHeader, id)
	return id
}

func pageContext(c *gin.Context) services.PageContext {
	landing := c.GetHeader(PageURLHeader)
	if landing == "" {
		landing = c.GetHeader("Referer")
	}
	return services.PageContext{
		LandingPage: landing,
		Referrer:    c.GetHeader("Referer"),
		UserAgent:   c.GetHeader("User-Agent"),
	}
}

// trackerFor returns the tracker of the requesting visitor.
func trackerFor(c *gin.Context, reg *services.Registry) *services.Tracker {
	return reg.Get(c.Request.Context(), visitorID(c), pageContext(c))
}

// errorStatus maps domain errors to HTTP status codes.
func errorStatus(err error) int {
	var fetchErr customerrors.ErrPageFetchFailed
	switch {
	case errors.Is(err, customerrors.ErrAffiliateNotFound),
		errors.Is(err, customerrors.ErrTestNotFound),
		errors.Is(err, customerrors.ErrVariantNotFound),
		errors.Is(err, customerrors.ErrPageNotObserved):
		return http.StatusNotFound
	case errors.Is(err, customerrors.ErrUntrustedOrigin):
		return http.StatusForbidden
	case errors.Is(err, customerrors.ErrInvalidAffiliateURL),
		errors.Is(err, customerrors.ErrInvalidAttributionModel),
		errors.Is(err, customerrors.ErrMalformedMessage),
		errors.Is(err, customerrors.ErrNoVariants),
		errors.Is(err, customerrors.ErrInvalidVariant),
		errors.Is(err, customerrors.ErrInvalidMetric):
		return http.StatusBadRequest
	case errors.As(err, &fetchErr):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func respondError(c *gin.Context, err error) {
	c.JSON(errorStatus(err), gin.H{"error": err.Error()})
}
