package scoring

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/obakengshepherd/risksentinel/configs"
	"github.com/obakengshepherd/risksentinel/internal/queue"
)

// deadLetterStream is the stream EventBus.PublishAsync routes to once a
// publish exhausts its retry budget.
const deadLetterStream = "rs.events.dlq"

// DLQMonitor drains and reports the event bus's dead-letter stream.
// Scoring itself runs synchronously inside the request path (§5), so there
// is no primary scoring queue to consume; this monitor exists purely to
// surface the bus failures §4.6 allows (never surfaced to a caller, but
// never silently lost either); drained entries are logged and acknowledged,
// not re-published. Built as a goroutine/WaitGroup worker pool retargeted
// at the dead-letter stream.
type DLQMonitor struct {
	id           string
	bus          *queue.EventBus
	group        string
	config       configs.WorkerConfig
	wg           sync.WaitGroup
	stopCh       chan struct{}
	metrics      *DLQMetrics
}

// DLQMetrics tracks dead-letter drain activity.
type DLQMetrics struct {
	mu              sync.RWMutex
	DrainedCount    int64
	RequeuedCount   int64
	LastDrainedAt   time.Time
}

// NewDLQMonitor creates a new dead-letter queue monitor.
func NewDLQMonitor(id string, bus *queue.EventBus, config configs.WorkerConfig) *DLQMonitor {
	return &DLQMonitor{
		id:      id,
		bus:     bus,
		group:   "risksentinel-dlq-monitor",
		config:  config,
		stopCh:  make(chan struct{}),
		metrics: &DLQMetrics{},
	}
}

// Start begins draining the dead-letter stream at the configured poll
// interval and returns once ctx is cancelled.
func (m *DLQMonitor) Start(ctx context.Context) error {
	log.Info().Str("monitor_id", m.id).Msg("starting dead-letter monitor")

	if err := m.bus.EnsureGroup(ctx, deadLetterStream, m.group); err != nil {
		log.Warn().Err(err).Msg("dlq monitor: consumer group may already exist")
	}

	m.wg.Add(1)
	go m.pollLoop(ctx)

	<-ctx.Done()
	return m.Stop()
}

// Stop stops the monitor gracefully.
func (m *DLQMonitor) Stop() error {
	log.Info().Str("monitor_id", m.id).Msg("stopping dead-letter monitor")
	close(m.stopCh)
	m.wg.Wait()
	return nil
}

func (m *DLQMonitor) pollLoop(ctx context.Context) {
	defer m.wg.Done()

	interval := m.config.PollInterval
	if interval <= 0 {
		interval = time.Second
	}

	for {
		select {
		case <-m.stopCh:
			return
		case <-ctx.Done():
			return
		default:
			m.drainBatch(ctx)
			time.Sleep(interval)
		}
	}
}

// drainBatch reads a batch of dead-letter entries and logs each one at
// warning — operators triage from logs/metrics rather than automatic
// reprocessing, since a dropped fan-out event reflects an already-committed
// transaction that nothing downstream is blocking on.
func (m *DLQMonitor) drainBatch(ctx context.Context) {
	messages, err := m.bus.Consume(ctx, deadLetterStream, m.group, m.id, int64(m.config.BatchSize), m.config.PollInterval)
	if err != nil {
		log.Error().Err(err).Msg("dlq monitor: failed to consume")
		return
	}
	if len(messages) == 0 {
		return
	}

	log.Warn().Int("count", len(messages)).Msg("dlq monitor: draining dead-lettered events")

	ids := make([]string, 0, len(messages))
	for _, msg := range messages {
		ids = append(ids, msg.ID)
		log.Warn().Str("message_id", msg.ID).RawJSON("payload", msg.Data).Msg("dead-lettered event")
	}

	for _, id := range ids {
		if err := m.bus.Acknowledge(ctx, deadLetterStream, m.group, id); err != nil {
			log.Error().Err(err).Str("message_id", id).Msg("dlq monitor: failed to acknowledge")
			continue
		}
	}

	m.metrics.mu.Lock()
	m.metrics.DrainedCount += int64(len(messages))
	m.metrics.LastDrainedAt = time.Now()
	m.metrics.mu.Unlock()
}

// Metrics returns a snapshot of drain activity.
func (m *DLQMonitor) Metrics() DLQMetrics {
	m.metrics.mu.RLock()
	defer m.metrics.mu.RUnlock()
	return DLQMetrics{
		DrainedCount:  m.metrics.DrainedCount,
		RequeuedCount: m.metrics.RequeuedCount,
		LastDrainedAt: m.metrics.LastDrainedAt,
	}
}
