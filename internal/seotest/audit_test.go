package seotest

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	customerrors "github.com/axellelanca/trailtrack/internal/errors"
)

const healthyPage = `<html lang="en"><head>
<title>Choosing solar panels for cabins</title>
<meta name="description" content="A practical guide to choosing solar panels for small homes and cabins.">
<meta name="viewport" content="width=device-width">
<link rel="canonical" href="https://site.example/solar">
<meta property="og:title" content="Solar guide">
<meta property="og:description" content="A practical guide">
<meta property="og:image" content="https://site.example/og.png">
<script type="application/ld+json">{"@context":"https://schema.org","@type":"Article"}</script>
</head><body>
<h1>Solar guide</h1><h2>Panels</h2>
<img src="a.png" alt="Roof panel">
<label for="email">Email</label><input id="email" type="email">
<label>Zip <input type="text" name="zip"></label>
<input type="hidden" name="token">
<a href="/buy">Buy now</a>
</body></html>`

const brokenPage = `<html><head></head><body>
<img src="x.png"><input type="text" name="q"><a href="/x"></a>
</body></html>`

func TestRunSEOAudit_HealthyPageWithSlowLCP(t *testing.T) {
	hub := NewVitalsHub()
	var server *httptest.Server
	server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hub.Publish(Beacon{Page: server.URL + "/", Metric: "LCP", Value: 1200})
		hub.Publish(Beacon{Page: server.URL, Metric: "LCP", Value: 3000})
		hub.Publish(Beacon{Page: server.URL, Metric: "FCP", Value: 900})
		hub.Publish(Beacon{Page: server.URL, Metric: "FCP", Value: 1900})
		hub.Publish(Beacon{Page: server.URL, Metric: "CLS", Value: 0.05})
		hub.Publish(Beacon{Page: server.URL, Metric: "CLS", Value: 0.02})
		w.Write([]byte(healthyPage))
	}))
	defer server.Close()

	auditor := NewAuditor(NewVitalsSampler(hub, 50*time.Millisecond), zap.NewNop())
	report, err := auditor.RunSEOAudit(context.Background(), server.URL)
	require.NoError(t, err)

	require.NotNil(t, report.Vitals.LCP)
	assert.Equal(t, 3000.0, *report.Vitals.LCP)
	require.NotNil(t, report.Vitals.FCP)
	assert.Equal(t, 900.0, *report.Vitals.FCP)
	require.NotNil(t, report.Vitals.CLS)
	assert.InDelta(t, 0.07, *report.Vitals.CLS, 1e-9)
	require.NotNil(t, report.Vitals.TTFB)

	assert.Empty(t, report.Meta.Errors)
	assert.Empty(t, report.Meta.Warnings)
	assert.Empty(t, report.Content.Warnings)
	assert.Empty(t, report.Accessibility.Errors)
	assert.Empty(t, report.Accessibility.Warnings)
	assert.Empty(t, report.Schema.Warnings)
	require.Len(t, report.Performance.Warnings, 1)
	assert.Contains(t, report.Performance.Warnings[0], "LCP")
	assert.Equal(t, 95, report.Score)
}

func TestRunSEOAudit_BrokenPage(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(brokenPage))
	}))
	defer server.Close()

	auditor := NewAuditor(NewVitalsSampler(NewVitalsHub(), 10*time.Millisecond), zap.NewNop())
	report, err := auditor.RunSEOAudit(context.Background(), server.URL)
	require.NoError(t, err)

	assert.ElementsMatch(t, []string{"Missing page title", "Missing meta description"}, report.Meta.Errors)
	assert.Len(t, report.Meta.Warnings, 3)
	assert.Equal(t, []string{"Missing H1 tag"}, report.Content.Errors)
	assert.Equal(t, []string{"1 images missing alt attribute"}, report.Accessibility.Errors)
	assert.Len(t, report.Accessibility.Warnings, 3)
	assert.Equal(t, []string{"No structured data found"}, report.Schema.Warnings)

	// 4 errors and 7 warnings
	assert.Equal(t, 25, report.Score)
}

func TestRunSEOAudit_FetchFailure(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	auditor := NewAuditor(NewVitalsSampler(NewVitalsHub(), time.Millisecond), zap.NewNop())
	_, err := auditor.RunSEOAudit(context.Background(), server.URL)

	var fetchErr customerrors.ErrPageFetchFailed
	require.True(t, errors.As(err, &fetchErr))
	assert.Equal(t, server.URL, fetchErr.URL)
}

func TestAuditScore_FloorsAtZero(t *testing.T) {
	r := AuditResult{Errors: make([]string, 11)}
	assert.Equal(t, 0, AuditScore(&r))
	assert.Equal(t, 85, AuditScore(&AuditResult{Errors: []string{"e"}}, &AuditResult{Warnings: []string{"w"}}))
}

func TestVitalsHub_OnlyDeliversToMatchingPage(t *testing.T) {
	hub := NewVitalsHub()
	sampling := NewVitalsSampler(hub, 20*time.Millisecond).Begin("https://a.example/page")

	assert.Equal(t, 0, hub.Publish(Beacon{Page: "https://b.example/page", Metric: MetricLCP, Value: 1}))
	assert.Equal(t, 1, hub.Publish(Beacon{Page: "https://a.example/page/", Metric: MetricTTFB, Value: 120}))

	v := sampling.Wait(context.Background())
	require.NotNil(t, v.TTFB)
	assert.Equal(t, 120.0, *v.TTFB)
	assert.Nil(t, v.LCP)

	assert.Equal(t, 0, hub.Publish(Beacon{Page: "https://a.example/page", Metric: MetricLCP, Value: 1}))
}
