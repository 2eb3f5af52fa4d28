package service

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/agendasalud/authd/internal/domain/audit"
)

// AuditService provides async audit logging with a buffered channel and a
// background worker, so recording an auth event never blocks the request
// path.
type AuditService struct {
	store         audit.Store
	auditChan     chan audit.Record
	wg            sync.WaitGroup
	logger        *slog.Logger
	batchSize     int
	flushInterval time.Duration

	channelSize int
	sendTimeout time.Duration // 0 = drop immediately, >0 = block up to this duration
	dropCount   atomic.Int64
}

// AuditOption configures AuditService.
type AuditOption func(*AuditService)

// WithBatchSize sets the number of records to batch before writing.
func WithBatchSize(size int) AuditOption {
	return func(s *AuditService) {
		s.batchSize = size
	}
}

// WithFlushInterval sets the interval to flush pending records.
func WithFlushInterval(interval time.Duration) AuditOption {
	return func(s *AuditService) {
		s.flushInterval = interval
	}
}

// WithChannelSize sets the size of the audit channel buffer.
func WithChannelSize(size int) AuditOption {
	return func(s *AuditService) {
		s.auditChan = make(chan audit.Record, size)
		s.channelSize = size
	}
}

// WithSendTimeout sets the backpressure timeout.
// 0 = drop immediately, >0 = block up to this duration before dropping.
func WithSendTimeout(timeout time.Duration) AuditOption {
	return func(s *AuditService) {
		s.sendTimeout = timeout
	}
}

// NewAuditService creates a new AuditService with the given store and options.
func NewAuditService(store audit.Store, logger *slog.Logger, opts ...AuditOption) *AuditService {
	defaultChannelSize := 1000
	s := &AuditService{
		store:         store,
		auditChan:     make(chan audit.Record, defaultChannelSize),
		logger:        logger,
		batchSize:     100,
		flushInterval: time.Second,
		channelSize:   defaultChannelSize,
		sendTimeout:   100 * time.Millisecond,
	}

	for _, opt := range opts {
		opt(s)
	}

	return s
}

// Start begins the background worker that batches and writes audit records.
func (s *AuditService) Start(ctx context.Context) {
	s.wg.Add(1)
	go s.worker(ctx)
}

// Record sends an audit record to the background worker. The record gets an
// ID and timestamp if the caller left them empty. Applies backpressure: a
// fast non-blocking send, then blocks up to sendTimeout; past that the
// record is dropped and counted.
func (s *AuditService) Record(record audit.Record) {
	if record.ID == "" {
		record.ID = uuid.New().String()
	}
	if record.Timestamp.IsZero() {
		record.Timestamp = time.Now().UTC()
	}

	select {
	case s.auditChan <- record:
		return
	default:
		// Channel full - apply backpressure
	}

	if s.sendTimeout <= 0 {
		s.recordDrop(record)
		return
	}

	select {
	case s.auditChan <- record:
	case <-time.After(s.sendTimeout):
		s.recordDrop(record)
	}
}

func (s *AuditService) recordDrop(record audit.Record) {
	drops := s.dropCount.Add(1)
	s.logger.Warn("audit record dropped",
		"action", record.Action,
		"user_id", record.UserID,
		"total_drops", drops,
	)
}

// DroppedRecords returns total dropped records (for metrics/alerting).
func (s *AuditService) DroppedRecords() int64 {
	return s.dropCount.Load()
}

// ChannelDepth returns current channel usage (for monitoring).
func (s *AuditService) ChannelDepth() int {
	return len(s.auditChan)
}

// ChannelCapacity returns channel buffer size (for percentage calculation).
func (s *AuditService) ChannelCapacity() int {
	return s.channelSize
}

// Stop signals the worker to stop and waits for it to finish.
// Pending records are flushed before returning.
func (s *AuditService) Stop() {
	close(s.auditChan)
	s.wg.Wait()
}

// worker is the background goroutine that collects and flushes audit records.
func (s *AuditService) worker(ctx context.Context) {
	defer s.wg.Done()

	batch := make([]audit.Record, 0, s.batchSize)
	ticker := time.NewTicker(s.flushInterval)
	defer ticker.Stop()

	for {
		select {
		case record, ok := <-s.auditChan:
			if !ok {
				// Channel closed - final flush with bounded deadline
				if len(batch) > 0 {
					flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
					s.flush(flushCtx, batch)
					cancel()
				}
				return
			}
			batch = append(batch, record)
			if len(batch) >= s.batchSize {
				s.flush(ctx, batch)
				batch = batch[:0]
			}

		case <-ticker.C:
			if len(batch) > 0 {
				s.flush(ctx, batch)
				batch = batch[:0]
			}
		}
	}
}

// flush writes a batch to the store. Failures are logged, not retried; a
// lost batch must never take the auth path down with it.
func (s *AuditService) flush(ctx context.Context, batch []audit.Record) {
	if err := s.store.WriteBatch(ctx, batch); err != nil {
		s.logger.Error("failed to write audit batch", "count", len(batch), "error", err)
	}
}
