package workers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"

	customerrors "github.com/axellelanca/trailtrack/internal/errors"
	"github.com/axellelanca/trailtrack/internal/models"
)

// CommissionReporter posts commission records to the commission endpoint
// from a pool of worker goroutines. Submitting never blocks the caller and
// delivery is best-effort: no retries. Every failure is logged and also
// published on the Failures channel so monitoring can observe it.
type CommissionReporter struct {
	endpoint   string
	httpClient *http.Client
	records    chan models.CommissionRecord
	failures   chan error
	log        *zap.Logger
	wg         sync.WaitGroup
	closeOnce  sync.Once
}

// NewCommissionReporter creates a reporter with a records buffer of bufferSize.
func NewCommissionReporter(endpoint string, bufferSize int, log *zap.Logger) *CommissionReporter {
	if bufferSize <= 0 {
		bufferSize = 1
	}
	return &CommissionReporter{
		endpoint:   endpoint,
		httpClient: &http.Client{Timeout: 10 * time.Second},
		records:    make(chan models.CommissionRecord, bufferSize),
		failures:   make(chan error, bufferSize),
		log:        log,
	}
}

// Start launches workerCount goroutines draining the records channel.
func (r *CommissionReporter) Start(workerCount int) {
	r.log.Info("Starting commission workers", zap.Int("workers", workerCount))
	for i := 0; i < workerCount; i++ {
		r.wg.Add(1)
		go r.worker()
	}
}

// Submit queues a record. When the buffer is full the record is dropped
// and ErrBufferFull is returned.
func (r *CommissionReporter) Submit(record models.CommissionRecord) error {
	select {
	case r.records <- record:
		return nil
	default:
		r.log.Warn("Commission buffer is full, dropping record",
			zap.String("affiliate_id", record.AffiliateID),
			zap.Float64("commission", record.Commission))
		r.publish(customerrors.ErrCommissionReportFailed{AffiliateID: record.AffiliateID, Reason: customerrors.ErrBufferFull.Error()})
		return customerrors.ErrBufferFull
	}
}

// Failures exposes delivery failures. Failures are dropped when nobody drains
// the channel fast enough.
func (r *CommissionReporter) Failures() <-chan error {
	return r.failures
}

// Close stops accepting records and waits for the workers to drain the buffer.
func (r *CommissionReporter) Close() {
	r.closeOnce.Do(func() {
		close(r.records)
		r.wg.Wait()
	})
}

func (r *CommissionReporter) worker() {
	defer r.wg.Done()
	for record := range r.records {
		if err := r.post(record); err != nil {
			r.log.Error("Failed to report commission",
				zap.String("affiliate_id", record.AffiliateID),
				zap.String("order_id", record.OrderID),
				zap.Error(err))
			r.publish(err)
			continue
		}
		r.log.Info("Commission reported",
			zap.String("affiliate_id", record.AffiliateID),
			zap.Float64("commission", record.Commission))
	}
}

func (r *CommissionReporter) post(record models.CommissionRecord) error {
	body, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("failed to marshal commission record: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.endpoint, bytes.NewReader(body))
	if err != nil {
		return customerrors.ErrCommissionReportFailed{AffiliateID: record.AffiliateID, Reason: err.Error()}
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := r.httpClient.Do(req)
	if err != nil {
		return customerrors.ErrCommissionReportFailed{AffiliateID: record.AffiliateID, Reason: err.Error()}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return customerrors.ErrCommissionReportFailed{
			AffiliateID: record.AffiliateID,
			Reason:      fmt.Sprintf("unexpected status %d", resp.StatusCode),
		}
	}
	return nil
}

func (r *CommissionReporter) publish(err error) {
	select {
	case r.failures <- err:
	default:
	}
}
