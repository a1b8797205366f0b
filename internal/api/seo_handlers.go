package api

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/axellelanca/trailtrack/internal/analytics"
	customerrors "github.com/axellelanca/trailtrack/internal/errors"
	"github.com/axellelanca/trailtrack/internal/monitor"
	"github.com/axellelanca/trailtrack/internal/seotest"
)

// ReportHandler returns the SEO report of a page. A page with no observed
// document yet is fetched once; it is not added to the polled pages.
func ReportHandler(pm *monitor.PageMonitor, events *analytics.Client) gin.HandlerFunc {
	return func(c *gin.Context) {
		pageURL := c.Query("url")
		if pageURL == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "'url' query parameter is required"})
			return
		}

		report, err := pm.Report(pageURL)
		if errors.Is(err, customerrors.ErrPageNotObserved) {
			if err := pm.CheckPage(c.Request.Context(), pageURL); err != nil {
				respondError(c, err)
				return
			}
			report, err = pm.Report(pageURL)
		}
		if err != nil {
			respondError(c, err)
			return
		}
		if events != nil {
			events.TrackSEOMetric("seo_score", float64(report.Score), pageURL)
		}
		c.JSON(http.StatusOK, report)
	}
}

type observeRequest struct {
	URL  string `json:"url" binding:"required"`
	HTML string `json:"html" binding:"required"`
}

// ObserveHandler accepts a document snapshot pushed by the page.
func ObserveHandler(pm *monitor.PageMonitor) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req observeRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body: " + err.Error()})
			return
		}

		mon, change, err := pm.Observe(req.URL, req.HTML)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"changed": change, "issues": mon.Issues()})
	}
}

type auditRequest struct {
	URL string `json:"url" binding:"required,url"`
}

// AuditHandler runs a one-shot audit. The response waits for the vitals
// collection window.
func AuditHandler(auditor *seotest.Auditor, events *analytics.Client, log *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req auditRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body: " + err.Error()})
			return
		}

		report, err := auditor.RunSEOAudit(c.Request.Context(), req.URL)
		if err != nil {
			log.Warn("SEO audit failed", zap.String("url", req.URL), zap.Error(err))
			if events != nil {
				events.TrackError("seo audit failed: "+err.Error(), false)
			}
			respondError(c, err)
			return
		}
		if events != nil {
			events.TrackSEOMetric("audit_score", float64(report.Score), req.URL)
		}
		c.JSON(http.StatusOK, report)
	}
}

// VitalsHandler receives Core Web Vitals beacons.
func VitalsHandler(hub *seotest.VitalsHub, events *analytics.Client) gin.HandlerFunc {
	return func(c *gin.Context) {
		var beacon seotest.Beacon
		if err := c.ShouldBindJSON(&beacon); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body: " + err.Error()})
			return
		}
		delivered := hub.Publish(beacon)
		if events != nil {
			events.TrackPerformance(beacon.Metric, beacon.Value, beacon.Page)
		}
		c.JSON(http.StatusAccepted, gin.H{"delivered": delivered})
	}
}

// CreateTestHandler creates an A/B test.
func CreateTestHandler(f *seotest.Framework, events *analytics.Client) gin.HandlerFunc {
	return func(c *gin.Context) {
		var cfg seotest.TestConfig
		if err := c.ShouldBindJSON(&cfg); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body: " + err.Error()})
			return
		}
		id, err := f.CreateABTest(cfg)
		if err != nil {
			respondError(c, err)
			return
		}
		if events != nil {
			events.TrackFeatureUsage("seo_test", "create")
		}
		c.JSON(http.StatusCreated, gin.H{"id": id})
	}
}

// ListTestsHandler lists the A/B tests. The optional q parameter keeps the
// tests whose name contains it, case-insensitively.
func ListTestsHandler(f *seotest.Framework, events *analytics.Client) gin.HandlerFunc {
	return func(c *gin.Context) {
		tests := f.ListTests()
		q := strings.TrimSpace(c.Query("q"))
		if q == "" {
			c.JSON(http.StatusOK, tests)
			return
		}

		matched := make([]seotest.Test, 0, len(tests))
		for _, t := range tests {
			if strings.Contains(strings.ToLower(t.Name), strings.ToLower(q)) {
				matched = append(matched, t)
			}
		}
		if events != nil {
			events.TrackSearch(q, len(matched))
		}
		c.JSON(http.StatusOK, matched)
	}
}

// VariantHandler returns the variant assigned to userId. An inactive test
// answers with a null variant.
func VariantHandler(f *seotest.Framework) gin.HandlerFunc {
	return func(c *gin.Context) {
		variant, err := f.GetVariantForUser(c.Param("id"), c.Query("userId"))
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"variant": variant})
	}
}

type metricRequest struct {
	VariantID string             `json:"variantId" binding:"required"`
	Type      seotest.MetricType `json:"type" binding:"required"`
	Value     float64            `json:"value"`
}

// TestMetricHandler records an impression, click or conversion.
func TestMetricHandler(f *seotest.Framework) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req metricRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body: " + err.Error()})
			return
		}
		err := f.RecordTestMetric(c.Param("id"), req.VariantID, seotest.Metric{Type: req.Type, Value: req.Value})
		if err != nil {
			respondError(c, err)
			return
		}
		c.Status(http.StatusNoContent)
	}
}

// TestResultsHandler analyses a test.
func TestResultsHandler(f *seotest.Framework) gin.HandlerFunc {
	return func(c *gin.Context) {
		results, err := f.AnalyzeTestResults(c.Param("id"))
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, results)
	}
}

// TestStatusHandler applies a status transition to a test.
func TestStatusHandler(transition func(testID string) error) gin.HandlerFunc {
	return func(c *gin.Context) {
		if err := transition(c.Param("id")); err != nil {
			respondError(c, err)
			return
		}
		c.Status(http.StatusNoContent)
	}
}
