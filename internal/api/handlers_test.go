package api

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/axellelanca/trailtrack/internal/monitor"
	"github.com/axellelanca/trailtrack/internal/repository"
	"github.com/axellelanca/trailtrack/internal/seotest"
	"github.com/axellelanca/trailtrack/internal/services"
)

func newTestRouter(t *testing.T) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)

	log := zap.NewNop()
	hub := seotest.NewVitalsHub()
	registry := services.NewRegistry(services.TrackerDeps{
		Store:  repository.NewMemoryStore(),
		Config: services.TrackerConfig{TrustedOrigins: []string{"https://shop.example"}},
		Logger: log,
	}, nil)

	router := gin.New()
	SetupRoutes(router, Dependencies{
		Registry:    registry,
		PageMonitor: monitor.NewPageMonitor(nil, time.Minute, 0, log),
		Framework:   seotest.NewFramework(log),
		Auditor:     seotest.NewAuditor(seotest.NewVitalsSampler(hub, 10*time.Millisecond), log),
		Vitals:      hub,
		Logger:      log,
	})
	return router
}

func doJSON(router *gin.Engine, method, path, visitor string, body any) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		_ = json.NewEncoder(&buf).Encode(body)
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if visitor != "" {
		req.Header.Set(VisitorHeader, visitor)
	}
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder, v any) {
	t.Helper()
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), v))
}

func TestHealthCheck(t *testing.T) {
	router := newTestRouter(t)
	w := doJSON(router, http.MethodGet, "/health", "", nil)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"status":"ok"}`, w.Body.String())
}

func TestSessionIssuesVisitorCookie(t *testing.T) {
	router := newTestRouter(t)
	w := doJSON(router, http.MethodPost, "/api/v1/track/session", "", nil)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Header().Get("Set-Cookie"), VisitorCookie+"=")
	assert.NotEmpty(t, w.Header().Get(VisitorHeader))

	var session map[string]any
	decode(t, w, &session)
	assert.NotEmpty(t, session["sessionId"])
}

func TestTrackingFlow(t *testing.T) {
	router := newTestRouter(t)
	const visitor = "visitor-a"

	w := doJSON(router, http.MethodPost, "/api/v1/track/links", visitor, map[string]any{
		"affiliateUrl": "https://merchant.example/p/1",
		"productName":  "Panel",
		"commission":   15,
	})
	require.Equal(t, http.StatusCreated, w.Code)
	var created struct{ ID string }
	decode(t, w, &created)
	require.True(t, strings.HasPrefix(created.ID, "aff_"))

	w = doJSON(router, http.MethodGet, "/api/v1/track/links/"+created.ID+"/url?slot=hero", visitor, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var tracking struct{ TrackingURL string }
	decode(t, w, &tracking)
	assert.Contains(t, tracking.TrackingURL, "aid="+created.ID)
	assert.Contains(t, tracking.TrackingURL, "slot=hero")

	w = doJSON(router, http.MethodPost, "/api/v1/track/click", visitor, map[string]any{"href": tracking.TrackingURL})
	require.Equal(t, http.StatusCreated, w.Code)

	w = doJSON(router, http.MethodPost, "/api/v1/track/conversion", visitor, map[string]any{
		"affiliateId":    created.ID,
		"conversionType": "sale",
		"value":          100,
	})
	require.Equal(t, http.StatusOK, w.Code)
	var attribution services.Attribution
	decode(t, w, &attribution)
	require.NotNil(t, attribution.Commission)
	assert.InDelta(t, 15.0, *attribution.Commission, 1e-9)

	w = doJSON(router, http.MethodGet, "/api/v1/track/analytics", visitor, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var stats services.SessionAnalytics
	decode(t, w, &stats)
	assert.Equal(t, 1, stats.ClickCount)
	assert.Equal(t, 1, stats.ConversionCount)

	// another visitor does not see the link
	w = doJSON(router, http.MethodGet, "/api/v1/track/links/"+created.ID+"/url", "visitor-b", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestTrackingValidation(t *testing.T) {
	router := newTestRouter(t)

	w := doJSON(router, http.MethodPost, "/api/v1/track/links", "v", map[string]any{"productName": "x"})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = doJSON(router, http.MethodPost, "/api/v1/track/conversion", "v", map[string]any{"affiliateId": "a", "conversionType": "refund"})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = doJSON(router, http.MethodPut, "/api/v1/track/attribution", "v", map[string]any{"type": "nope", "lookbackWindow": 3})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = doJSON(router, http.MethodPut, "/api/v1/track/attribution", "v", map[string]any{"type": "linear", "lookbackWindow": 3})
	assert.Equal(t, http.StatusOK, w.Code)

	w = doJSON(router, http.MethodPut, "/api/v1/track/user", "v", map[string]any{"userId": "u-1"})
	assert.Equal(t, http.StatusNoContent, w.Code)

	w = doJSON(router, http.MethodPost, "/api/v1/track/lifecycle", "v", map[string]any{"state": "hidden"})
	assert.Equal(t, http.StatusNoContent, w.Code)
}

func TestMessageOriginCheck(t *testing.T) {
	router := newTestRouter(t)
	body := `{"type":"affiliate_conversion","affiliateId":"aff_x","value":5}`

	send := func(origin string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/api/v1/track/message", strings.NewReader(body))
		req.Header.Set(VisitorHeader, "v")
		req.Header.Set("Origin", origin)
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)
		return w
	}

	assert.Equal(t, http.StatusForbidden, send("https://evil.example").Code)
	assert.Equal(t, http.StatusOK, send("https://shop.example").Code)
}

func TestCommissionEndpoint(t *testing.T) {
	router := newTestRouter(t)
	w := doJSON(router, http.MethodPost, "/api/affiliate/commission", "", map[string]any{
		"affiliateId": "aff_1", "conversionValue": 200, "commission": 20, "currency": "USD",
	})
	assert.Equal(t, http.StatusAccepted, w.Code)
}

func TestSEOObserveAndTests(t *testing.T) {
	router := newTestRouter(t)

	w := doJSON(router, http.MethodPost, "/api/v1/seo/observe", "", map[string]any{
		"url":  "https://site.example/",
		"html": "<html><head></head><body><p>x</p></body></html>",
	})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "Missing H1 tag")

	w = doJSON(router, http.MethodGet, "/api/v1/seo/report", "", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = doJSON(router, http.MethodGet, "/api/v1/seo/report?url=https://site.example/", "", nil)
	require.Equal(t, http.StatusOK, w.Code)

	w = doJSON(router, http.MethodPost, "/api/v1/seo/tests", "", map[string]any{"name": "empty"})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = doJSON(router, http.MethodPost, "/api/v1/seo/tests", "", map[string]any{
		"name": "Title test",
		"type": "title",
		"variants": []map[string]any{
			{"id": "a", "name": "A", "trafficPercentage": 50},
			{"id": "b", "name": "B", "trafficPercentage": 50},
		},
		"durationDays": 7,
	})
	require.Equal(t, http.StatusCreated, w.Code)
	var created struct{ ID string }
	decode(t, w, &created)

	w = doJSON(router, http.MethodGet, "/api/v1/seo/tests/"+created.ID+"/variant?userId=abc", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"id":"b"`)

	w = doJSON(router, http.MethodPost, "/api/v1/seo/tests/"+created.ID+"/metrics", "", map[string]any{"variantId": "b", "type": "impression"})
	assert.Equal(t, http.StatusNoContent, w.Code)
	w = doJSON(router, http.MethodPost, "/api/v1/seo/tests/"+created.ID+"/metrics", "", map[string]any{"variantId": "zz", "type": "impression"})
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = doJSON(router, http.MethodGet, "/api/v1/seo/tests/"+created.ID+"/results", "", nil)
	assert.Equal(t, http.StatusOK, w.Code)

	w = doJSON(router, http.MethodPost, "/api/v1/seo/tests/"+created.ID+"/pause", "", nil)
	assert.Equal(t, http.StatusNoContent, w.Code)
	w = doJSON(router, http.MethodGet, "/api/v1/seo/tests/"+created.ID+"/variant?userId=abc", "", nil)
	assert.JSONEq(t, `{"variant":null}`, w.Body.String())

	w = doJSON(router, http.MethodGet, "/api/v1/seo/tests/missing/results", "", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = doJSON(router, http.MethodGet, "/api/v1/seo/tests", "", nil)
	assert.Equal(t, http.StatusOK, w.Code)

	var listed []seotest.Test
	w = doJSON(router, http.MethodGet, "/api/v1/seo/tests?q=TITLE", "", nil)
	decode(t, w, &listed)
	require.Len(t, listed, 1)
	assert.Equal(t, created.ID, listed[0].ID)

	w = doJSON(router, http.MethodGet, "/api/v1/seo/tests?q=pricing", "", nil)
	assert.JSONEq(t, `[]`, w.Body.String())
}

func TestVitalsBeacon(t *testing.T) {
	router := newTestRouter(t)
	w := doJSON(router, http.MethodPost, "/api/v1/seo/vitals", "", map[string]any{"page": "https://site.example/", "metric": "LCP", "value": 1200})

	assert.Equal(t, http.StatusAccepted, w.Code)
	assert.JSONEq(t, `{"delivered":0}`, w.Body.String())
}

func TestReportForUnreachablePage(t *testing.T) {
	page := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer page.Close()

	router := newTestRouter(t)
	for i := 0; i < 2; i++ {
		w := doJSON(router, http.MethodGet, "/api/v1/seo/report?url="+page.URL, "", nil)
		assert.Equal(t, http.StatusBadGateway, w.Code)
	}
}

func TestCreateTestRejectsInvalidVariants(t *testing.T) {
	router := newTestRouter(t)

	w := doJSON(router, http.MethodPost, "/api/v1/seo/tests", "", map[string]any{
		"name": "dup",
		"variants": []map[string]any{
			{"id": "a", "name": "A", "trafficPercentage": 50},
			{"id": "a", "name": "A again", "trafficPercentage": 50},
		},
	})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = doJSON(router, http.MethodPost, "/api/v1/seo/tests", "", map[string]any{
		"name":     "share",
		"variants": []map[string]any{{"id": "a", "name": "A", "trafficPercentage": 120}},
	})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}
