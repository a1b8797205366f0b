package monitor

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	customerrors "github.com/axellelanca/trailtrack/internal/errors"
	"github.com/axellelanca/trailtrack/internal/seo"
)

const (
	// maxPageBytes caps how much of a page body is read.
	maxPageBytes    = 5 << 20
	defaultInterval = 5 * time.Minute
)

// pageState is the last observation of a watched page.
type pageState struct {
	reachable bool
	head      string
	body      string
}

// PageMonitor periodically fetches watched pages and feeds them to a
// per-page seo.Monitor. It keeps the last known state of each page so a
// changed head or body is reported once. Pages checked on demand or
// observed from pushed snapshots get a monitor too, but only watched pages
// are polled.
type PageMonitor struct {
	interval    time.Duration
	limiter     *rate.Limiter
	httpClient  *http.Client
	log         *zap.Logger
	mu          sync.Mutex
	pages       []string
	watched     map[string]bool
	monitors    map[string]*seo.Monitor
	knownStates map[string]pageState
}

// NewPageMonitor creates a PageMonitor. ratePerSecond throttles fetches
// across all pages; a non-positive value disables throttling. A
// non-positive interval falls back to defaultInterval.
func NewPageMonitor(pages []string, interval time.Duration, ratePerSecond float64, log *zap.Logger) *PageMonitor {
	if interval <= 0 {
		interval = defaultInterval
	}
	limit := rate.Inf
	if ratePerSecond > 0 {
		limit = rate.Limit(ratePerSecond)
	}
	m := &PageMonitor{
		interval:    interval,
		limiter:     rate.NewLimiter(limit, 1),
		httpClient:  &http.Client{Timeout: 10 * time.Second},
		log:         log,
		watched:     make(map[string]bool),
		monitors:    make(map[string]*seo.Monitor),
		knownStates: make(map[string]pageState),
	}
	for _, p := range pages {
		m.Watch(p)
	}
	return m
}

// Watch adds a page to the polled set. Adding a page twice is a no-op.
func (m *PageMonitor) Watch(pageURL string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.watched[pageURL] {
		return
	}
	m.watched[pageURL] = true
	m.pages = append(m.pages, pageURL)
	m.monitorLocked(pageURL)
}

// Pages returns the watched pages.
func (m *PageMonitor) Pages() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.pages...)
}

// Monitor returns the seo.Monitor of a page, if it has one.
func (m *PageMonitor) Monitor(pageURL string) (*seo.Monitor, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	mon, ok := m.monitors[pageURL]
	return mon, ok
}

// monitorLocked returns the page's monitor, creating it. Caller holds m.mu.
func (m *PageMonitor) monitorLocked(pageURL string) *seo.Monitor {
	mon, ok := m.monitors[pageURL]
	if !ok {
		mon = seo.NewMonitor(m.log.With(zap.String("page", pageURL)))
		m.monitors[pageURL] = mon
	}
	return mon
}

// tracked reports whether the page is watched or already has a monitor.
func (m *PageMonitor) tracked(pageURL string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.monitors[pageURL]
	return m.watched[pageURL] || ok
}

// Observe feeds a pushed document snapshot to the page's monitor. The page
// is not added to the polled set.
func (m *PageMonitor) Observe(pageURL, html string) (*seo.Monitor, seo.Change, error) {
	m.mu.Lock()
	mon := m.monitorLocked(pageURL)
	m.mu.Unlock()

	change, err := mon.Observe(html)
	return mon, change, err
}

// Report generates the current report of a page. It fails with
// ErrPageNotObserved until a document of the page has been observed.
func (m *PageMonitor) Report(pageURL string) (seo.Report, error) {
	mon, ok := m.Monitor(pageURL)
	if !ok || !mon.Observed() {
		return seo.Report{}, fmt.Errorf("%w: %s", customerrors.ErrPageNotObserved, pageURL)
	}
	return mon.GenerateReport(), nil
}

// Start runs the check loop until ctx is cancelled.
func (m *PageMonitor) Start(ctx context.Context) {
	m.log.Info("Starting page monitor", zap.Duration("interval", m.interval))
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	m.CheckPages(ctx)

	for {
		select {
		case <-ctx.Done():
			m.log.Info("Page monitor stopped")
			return
		case <-ticker.C:
			m.CheckPages(ctx)
		}
	}
}

// CheckPages fetches every watched page once.
func (m *PageMonitor) CheckPages(ctx context.Context) {
	for _, pageURL := range m.Pages() {
		if err := m.CheckPage(ctx, pageURL); err != nil && ctx.Err() != nil {
			return
		}
	}
}

// CheckPage fetches one page, throttled by the shared limiter, and
// records its new state. It does not add the page to the polled set.
func (m *PageMonitor) CheckPage(ctx context.Context, pageURL string) error {
	if err := m.limiter.Wait(ctx); err != nil {
		return err
	}

	html, err := m.fetch(ctx, pageURL)
	current := pageState{reachable: err == nil}
	if err != nil {
		m.log.Warn("Page check failed", zap.Error(err))
		if !m.tracked(pageURL) {
			return err
		}
	} else {
		mon, _, obsErr := m.Observe(pageURL, html)
		if obsErr != nil {
			m.log.Warn("Failed to observe page", zap.String("page", pageURL), zap.Error(obsErr))
			return obsErr
		}
		current.head, current.body = mon.Fingerprints()
	}

	m.mu.Lock()
	previous, exists := m.knownStates[pageURL]
	if err != nil {
		// keep the last fingerprints so recovery is not reported as a content change
		current.head, current.body = previous.head, previous.body
	}
	m.knownStates[pageURL] = current
	m.mu.Unlock()

	if !exists {
		m.log.Info("Initial state for page", zap.String("page", pageURL), zap.String("state", formatState(current.reachable)))
		return err
	}
	if current.reachable != previous.reachable {
		m.log.Warn("Page availability changed",
			zap.String("page", pageURL),
			zap.String("from", formatState(previous.reachable)),
			zap.String("to", formatState(current.reachable)))
	}
	if current.reachable && previous.head != "" && (current.head != previous.head || current.body != previous.body) {
		m.log.Info("Page content changed",
			zap.String("page", pageURL),
			zap.Bool("head", current.head != previous.head),
			zap.Bool("body", current.body != previous.body))
	}
	return err
}

func (m *PageMonitor) fetch(ctx context.Context, pageURL string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, nil)
	if err != nil {
		return "", customerrors.ErrPageFetchFailed{URL: pageURL, Reason: err.Error()}
	}
	resp, err := m.httpClient.Do(req)
	if err != nil {
		return "", customerrors.ErrPageFetchFailed{URL: pageURL, Reason: err.Error()}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 400 {
		return "", customerrors.ErrPageFetchFailed{URL: pageURL, Reason: fmt.Sprintf("status %d", resp.StatusCode)}
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxPageBytes))
	if err != nil {
		return "", customerrors.ErrPageFetchFailed{URL: pageURL, Reason: err.Error()}
	}
	return string(body), nil
}

func formatState(reachable bool) string {
	if reachable {
		return "REACHABLE"
	}
	return "UNREACHABLE"
}
