package main

import (
	"context"
	"encoding/json"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/IBM/sarama"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/obakengshepherd/risksentinel/configs"
	"github.com/obakengshepherd/risksentinel/internal/models"
	"github.com/obakengshepherd/risksentinel/internal/repositories"
)

// cdc-worker consumes the Debezium change-data-capture stream off the
// transactions table for audit trail and real-time analytics. It never
// scores — the orchestrator runs synchronously inside the request path
// (§4.5) — so this exists purely to observe committed rows, log transitions,
// and persist a CDC_OBSERVED audit trail entry per event, separately from
// the bus fan-out in §4.6 which only carries what the request path already
// knows.

// DebeziumMessage is a single CDC event as emitted by a Debezium connector.
type DebeziumMessage struct {
	Before json.RawMessage `json:"before"`
	After  json.RawMessage `json:"after"`
	Source DebeziumSource  `json:"source"`
	Op     string          `json:"op"` // c=create, u=update, d=delete, r=snapshot
	TsMs   int64           `json:"ts_ms"`
}

// DebeziumSource carries the connector metadata for a CDC event.
type DebeziumSource struct {
	Connector string `json:"connector"`
	DB        string `json:"db"`
	Schema    string `json:"schema"`
	Table     string `json:"table"`
	TxID      int64  `json:"txId"`
	LSN       int64  `json:"lsn"`
}

// TransactionCDC is the shape of a transactions row as it arrives over CDC.
type TransactionCDC struct {
	ID         string  `json:"id"`
	SenderID   string  `json:"sender_id"`
	ReceiverID string  `json:"receiver_id"`
	AmountZAR  float64 `json:"amount_zar"`
	Currency   string  `json:"currency"`
	Channel    string  `json:"channel"`
	Status     string  `json:"status"`
	CreatedAt  string  `json:"created_at"`
}

// AnalyticsEvent is the normalized event recorded for each CDC row change.
type AnalyticsEvent struct {
	EventType     string    `json:"event_type"`
	TransactionID string    `json:"transaction_id"`
	SenderID      string    `json:"sender_id"`
	Channel       string    `json:"channel"`
	Status        string    `json:"status"`
	PrevStatus    string    `json:"prev_status,omitempty"`
	Timestamp     time.Time `json:"timestamp"`
	CDCTimestamp  int64     `json:"cdc_timestamp_ms"`
}

// RealTimeMetrics tracks live CDC throughput and distribution counters.
type RealTimeMetrics struct {
	mu                  sync.RWMutex
	TransactionsCreated int64
	StatusTransitions   map[string]int64
	ChannelDistribution map[string]int64
	LastEventTime       time.Time
	EventsPerSecond     float64
	windowStart         time.Time
	windowCount         int64
}

// NewRealTimeMetrics creates a new metrics tracker.
func NewRealTimeMetrics() *RealTimeMetrics {
	return &RealTimeMetrics{
		StatusTransitions:   make(map[string]int64),
		ChannelDistribution: make(map[string]int64),
		windowStart:         time.Now(),
	}
}

// RecordEvent folds a single CDC event into the running counters.
func (m *RealTimeMetrics) RecordEvent(event *AnalyticsEvent) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.LastEventTime = time.Now()
	m.windowCount++

	elapsed := time.Since(m.windowStart).Seconds()
	if elapsed > 0 {
		m.EventsPerSecond = float64(m.windowCount) / elapsed
	}
	if elapsed > 60 {
		m.windowStart = time.Now()
		m.windowCount = 0
	}

	switch event.EventType {
	case "transaction_created":
		m.TransactionsCreated++
		m.ChannelDistribution[event.Channel]++
	case "transaction_updated":
		m.StatusTransitions[event.PrevStatus+"->"+event.Status]++
	}
}

// Snapshot returns a copy of the current metrics for logging.
func (m *RealTimeMetrics) Snapshot() map[string]interface{} {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return map[string]interface{}{
		"transactions_created": m.TransactionsCreated,
		"events_per_second":    m.EventsPerSecond,
		"channel_distribution": m.ChannelDistribution,
		"status_transitions":   m.StatusTransitions,
	}
}

func main() {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	if os.Getenv("ENVIRONMENT") == "development" {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	}

	log.Info().Msg("starting CDC analytics pipeline")

	cfg := configs.Load()

	brokers := strings.Split(envOrDefault("KAFKA_BROKERS", "localhost:9092"), ",")
	groupID := envOrDefault("KAFKA_GROUP_ID", "risksentinel-cdc-analytics")
	topics := strings.Split(envOrDefault("KAFKA_TOPICS", "risksentinel.public.transactions"), ",")

	db, err := repositories.NewDatabase(cfg.Database)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer db.Close()

	auditRepo := repositories.NewAuditRepository(db)
	metrics := NewRealTimeMetrics()

	saramaCfg := sarama.NewConfig()
	saramaCfg.Consumer.Group.Rebalance.GroupStrategies = []sarama.BalanceStrategy{sarama.NewBalanceStrategyRoundRobin()}
	saramaCfg.Consumer.Offsets.Initial = sarama.OffsetNewest
	saramaCfg.Consumer.Return.Errors = true
	saramaCfg.Version = sarama.V3_0_0_0

	var consumerGroup sarama.ConsumerGroup
	for attempt := 0; attempt < 30; attempt++ {
		consumerGroup, err = sarama.NewConsumerGroup(brokers, groupID, saramaCfg)
		if err == nil {
			break
		}
		log.Warn().Err(err).Int("attempt", attempt+1).Msg("failed to connect to kafka, retrying")
		time.Sleep(5 * time.Second)
	}
	if err != nil {
		log.Fatal().Err(err).Msg("failed to create kafka consumer group after retries")
	}
	defer consumerGroup.Close()

	handler := &cdcHandler{metrics: metrics, auditRepo: auditRepo, db: db}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-sigCh
		log.Info().Msg("shutdown signal received, stopping CDC pipeline")
		cancel()
	}()

	go handler.reportMetrics(ctx)

	log.Info().
		Strs("brokers", brokers).
		Strs("topics", topics).
		Str("group_id", groupID).
		Msg("CDC pipeline consuming")

	for {
		if err := consumerGroup.Consume(ctx, topics, handler); err != nil {
			log.Error().Err(err).Msg("error from consumer")
		}
		if ctx.Err() != nil {
			log.Info().Msg("context cancelled, CDC pipeline shutting down")
			return
		}
	}
}

func envOrDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// cdcHandler implements sarama.ConsumerGroupHandler for the transactions CDC
// topic.
type cdcHandler struct {
	metrics   *RealTimeMetrics
	auditRepo *repositories.AuditRepository
	db        *repositories.Database
}

func (h *cdcHandler) Setup(sarama.ConsumerGroupSession) error {
	log.Info().Msg("CDC consumer session started")
	return nil
}

func (h *cdcHandler) Cleanup(sarama.ConsumerGroupSession) error {
	log.Info().Msg("CDC consumer session ended")
	return nil
}

func (h *cdcHandler) ConsumeClaim(session sarama.ConsumerGroupSession, claim sarama.ConsumerGroupClaim) error {
	for {
		select {
		case message, ok := <-claim.Messages():
			if !ok {
				return nil
			}
			h.processMessage(session.Context(), message)
			session.MarkMessage(message, "")
		case <-session.Context().Done():
			return nil
		}
	}
}

func (h *cdcHandler) processMessage(ctx context.Context, message *sarama.ConsumerMessage) {
	var msg DebeziumMessage
	if err := json.Unmarshal(message.Value, &msg); err != nil {
		log.Error().Err(err).Msg("failed to parse CDC message")
		return
	}

	var txn TransactionCDC
	if msg.After != nil {
		if err := json.Unmarshal(msg.After, &txn); err != nil {
			log.Error().Err(err).Msg("failed to parse transaction from CDC payload")
			return
		}
	}

	var prev *TransactionCDC
	if msg.Before != nil {
		prev = &TransactionCDC{}
		if err := json.Unmarshal(msg.Before, prev); err != nil {
			prev = nil
		}
	}

	event := h.buildEvent(&msg, &txn, prev)
	h.metrics.RecordEvent(event)
	h.logEvent(event)
	h.storeAuditEvent(ctx, event, &msg)
}

func (h *cdcHandler) buildEvent(msg *DebeziumMessage, txn *TransactionCDC, prev *TransactionCDC) *AnalyticsEvent {
	eventType := "unknown"
	switch msg.Op {
	case "c":
		eventType = "transaction_created"
	case "u":
		eventType = "transaction_updated"
	case "d":
		eventType = "transaction_deleted"
	case "r":
		eventType = "transaction_snapshot"
	}

	event := &AnalyticsEvent{
		EventType:     eventType,
		TransactionID: txn.ID,
		SenderID:      txn.SenderID,
		Channel:       txn.Channel,
		Status:        txn.Status,
		Timestamp:     time.Now(),
		CDCTimestamp:  msg.TsMs,
	}
	if prev != nil {
		event.PrevStatus = prev.Status
	}
	return event
}

func (h *cdcHandler) logEvent(event *AnalyticsEvent) {
	switch event.EventType {
	case "transaction_created":
		log.Info().
			Str("event", "created").
			Str("transaction_id", event.TransactionID).
			Str("channel", event.Channel).
			Msg("transaction captured via CDC")
	case "transaction_updated":
		log.Info().
			Str("event", "updated").
			Str("transaction_id", event.TransactionID).
			Str("status", event.PrevStatus+"->"+event.Status).
			Msg("transaction status changed")
	case "transaction_deleted":
		log.Warn().
			Str("event", "deleted").
			Str("transaction_id", event.TransactionID).
			Msg("transaction deleted")
	}
}

// storeAuditEvent writes a CDC_OBSERVED audit log row for every change
// whose transaction id parses as a UUID (others are skipped), independent of the audit entries the request path already wrote, so the
// trail reflects what actually landed in the table rather than only what
// the API believes it wrote.
func (h *cdcHandler) storeAuditEvent(ctx context.Context, event *AnalyticsEvent, msg *DebeziumMessage) {
	txnID, err := uuid.Parse(event.TransactionID)
	if err != nil {
		return
	}

	_ = h.auditRepo.Create(ctx, h.db.Pool, &models.AuditLog{
		TransactionID: &txnID,
		Actor:         "cdc-worker",
		Action:        models.AuditActionCDCObserved,
		Details: models.JSONB{
			"event_type": event.EventType,
			"channel":    event.Channel,
			"status":     event.Status,
			"table":      msg.Source.Table,
			"lsn":        msg.Source.LSN,
		},
	})
}

func (h *cdcHandler) reportMetrics(ctx context.Context) {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			snapshot := h.metrics.Snapshot()
			log.Info().
				Int64("created", snapshot["transactions_created"].(int64)).
				Float64("events_per_sec", snapshot["events_per_second"].(float64)).
				Msg("CDC pipeline metrics")
		case <-ctx.Done():
			return
		}
	}
}
