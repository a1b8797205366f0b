package api

import (
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/axellelanca/trailtrack/internal/analytics"
	"github.com/axellelanca/trailtrack/internal/models"
	"github.com/axellelanca/trailtrack/internal/services"
)

// maxMessageBytes bounds cross-frame message payloads.
const maxMessageBytes = 64 << 10

// SessionHandler creates or restores the visitor's session and returns it.
func SessionHandler(reg *services.Registry, events *analytics.Client) gin.HandlerFunc {
	return func(c *gin.Context) {
		tracker := trackerFor(c, reg)
		session := tracker.Session()

		if events != nil {
			path := session.LandingPage
			if u, err := url.Parse(path); err == nil && u.Path != "" {
				path = u.Path
			}
			events.TrackPageView(path, c.Query("title"))
		}
		c.JSON(http.StatusOK, session)
	}
}

// RegisterLinkHandler registers an affiliate link for the visitor.
func RegisterLinkHandler(reg *services.Registry, log *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		var link models.AffiliateLink
		if err := c.ShouldBindJSON(&link); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body: " + err.Error()})
			return
		}
		if strings.TrimSpace(link.AffiliateURL) == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "'affiliateUrl' is required"})
			return
		}

		id, err := trackerFor(c, reg).RegisterAffiliateLink(c.Request.Context(), link)
		if err != nil {
			log.Error("Error registering affiliate link", zap.Error(err))
			respondError(c, err)
			return
		}
		c.JSON(http.StatusCreated, gin.H{"id": id})
	}
}

// TrackingURLHandler returns the tracking URL of a link. Every query
// parameter of the request is forwarded as a custom parameter.
func TrackingURLHandler(reg *services.Registry) gin.HandlerFunc {
	return func(c *gin.Context) {
		custom := make(map[string]string)
		for key, values := range c.Request.URL.Query() {
			if len(values) > 0 {
				custom[key] = values[len(values)-1]
			}
		}

		trackingURL, err := trackerFor(c, reg).GenerateTrackingURL(c.Param("id"), custom)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"id": c.Param("id"), "trackingUrl": trackingURL})
	}
}

// ClickHandler receives anchor clicks reported by the page snippet.
func ClickHandler(reg *services.Registry) gin.HandlerFunc {
	return func(c *gin.Context) {
		var in models.ClickInput
		if err := c.ShouldBindJSON(&in); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body: " + err.Error()})
			return
		}
		in.UserAgent = c.GetHeader("User-Agent")
		if in.Referrer == "" {
			in.Referrer = c.GetHeader("Referer")
		}

		click, tracked := trackerFor(c, reg).HandleClick(c.Request.Context(), in)
		if !tracked {
			c.JSON(http.StatusOK, gin.H{"tracked": false})
			return
		}
		c.JSON(http.StatusCreated, gin.H{"tracked": true, "click": click})
	}
}

// ConversionRequest is the body of a conversion report.
type ConversionRequest struct {
	AffiliateID    string   `json:"affiliateId" binding:"required"`
	ConversionType string   `json:"conversionType"`
	Value          *float64 `json:"value"`
	Currency       string   `json:"currency"`
	OrderID        string   `json:"orderId"`
	Timestamp      int64    `json:"timestamp"`
	SessionID      string   `json:"sessionId"`
}

// ConversionHandler records a conversion and returns its attribution.
func ConversionHandler(reg *services.Registry) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req ConversionRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body: " + err.Error()})
			return
		}
		convType := models.ConversionType(req.ConversionType)
		if req.ConversionType != "" && !convType.Valid() {
			c.JSON(http.StatusBadRequest, gin.H{"error": "unknown conversionType " + req.ConversionType})
			return
		}

		result := trackerFor(c, reg).RecordConversion(c.Request.Context(), models.ConversionEvent{
			AffiliateID:    req.AffiliateID,
			ConversionType: convType,
			Value:          req.Value,
			Currency:       req.Currency,
			OrderID:        req.OrderID,
			Timestamp:      req.Timestamp,
			UserAgent:      c.GetHeader("User-Agent"),
			Referrer:       c.GetHeader("Referer"),
			SessionID:      req.SessionID,
		})
		c.JSON(http.StatusOK, result)
	}
}

// MessageHandler accepts cross-frame conversion messages. The sender is
// identified by the Origin header.
func MessageHandler(reg *services.Registry) gin.HandlerFunc {
	return func(c *gin.Context) {
		payload, err := io.ReadAll(io.LimitReader(c.Request.Body, maxMessageBytes))
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "failed to read message"})
			return
		}

		result, err := trackerFor(c, reg).HandleMessage(c.Request.Context(), c.GetHeader("Origin"), payload)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, result)
	}
}

type lifecycleRequest struct {
	State string `json:"state" binding:"required"`
}

// LifecycleHandler receives page visibility changes.
func LifecycleHandler(reg *services.Registry, events *analytics.Client, log *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req lifecycleRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body: " + err.Error()})
			return
		}
		if err := trackerFor(c, reg).HandleLifecycle(c.Request.Context(), req.State); err != nil {
			log.Error("Error saving session on lifecycle event", zap.String("state", req.State), zap.Error(err))
			respondError(c, err)
			return
		}
		if events != nil {
			events.TrackEngagement(req.State, "page_lifecycle", 0)
		}
		c.Status(http.StatusNoContent)
	}
}

type userRequest struct {
	UserID string `json:"userId" binding:"required"`
}

// SetUserHandler attaches a user id to the visitor's session.
func SetUserHandler(reg *services.Registry) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req userRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body: " + err.Error()})
			return
		}
		trackerFor(c, reg).SetUserID(req.UserID)
		c.Status(http.StatusNoContent)
	}
}

// AttributionModelHandler replaces the visitor's attribution model.
func AttributionModelHandler(reg *services.Registry) gin.HandlerFunc {
	return func(c *gin.Context) {
		var model models.AttributionModel
		if err := c.ShouldBindJSON(&model); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body: " + err.Error()})
			return
		}
		if err := trackerFor(c, reg).SetAttributionModel(model); err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, model)
	}
}

// SessionAnalyticsHandler returns the visitor's session aggregate.
func SessionAnalyticsHandler(reg *services.Registry) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, trackerFor(c, reg).GetSessionAnalytics())
	}
}

// CommissionHandler accepts commission records and logs them.
func CommissionHandler(log *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		var rec models.CommissionRecord
		if err := c.ShouldBindJSON(&rec); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body: " + err.Error()})
			return
		}
		log.Info("Commission received",
			zap.String("affiliate_id", rec.AffiliateID),
			zap.String("order_id", rec.OrderID),
			zap.Float64("conversion_value", rec.ConversionValue),
			zap.Float64("commission", rec.Commission),
			zap.String("currency", rec.Currency))
		c.JSON(http.StatusAccepted, gin.H{"status": "accepted"})
	}
}
