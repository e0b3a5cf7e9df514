// Package storage persists evaluation outcomes to ClickHouse for analytics.
// Writes are asynchronous so a slow or absent sink never stalls a job.
package storage

import (
	"context"
	"crypto/tls"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"
	"go.uber.org/zap"
)

const (
	bufferSize    = 10_000
	flushInterval = 100 * time.Millisecond
	flushBatch    = 1000
	drainTimeout  = 2 * time.Second
)

// ClickHouseWriter writes evaluation events to ClickHouse asynchronously.
// Write() is non-blocking — events are buffered and batch-inserted in a background goroutine.
type ClickHouseWriter struct {
	conn    driver.Conn
	buffer  chan *EvaluationEvent
	done    chan struct{}
	flushed chan struct{}
	logger  *zap.Logger
}

// NewClickHouseWriter creates a ClickHouseWriter and starts the background flush loop.
func NewClickHouseWriter(dsn string, logger *zap.Logger) (*ClickHouseWriter, error) {
	opts, err := clickhouse.ParseDSN(dsn)
	if err != nil {
		return nil, err
	}

	if opts.TLS == nil {
		opts.TLS = &tls.Config{}
	}

	conn, err := clickhouse.Open(opts)
	if err != nil {
		return nil, err
	}

	if err := conn.Ping(context.Background()); err != nil {
		return nil, err
	}

	w := &ClickHouseWriter{
		conn:    conn,
		buffer:  make(chan *EvaluationEvent, bufferSize),
		done:    make(chan struct{}),
		flushed: make(chan struct{}),
		logger:  logger,
	}

	go w.flushLoop()
	return w, nil
}

// Write queues an evaluation event for async insertion.
// Non-blocking: drops the event if the buffer is full.
func (w *ClickHouseWriter) Write(event *EvaluationEvent) {
	select {
	case w.buffer <- event:
	default:
		w.logger.Warn("clickhouse buffer full, dropping event",
			zap.String("evaluation_id", event.EvaluationID),
		)
	}
}

// Close signals the flush loop to drain remaining events.
func (w *ClickHouseWriter) Close() {
	close(w.done)
	<-w.flushed
}

func (w *ClickHouseWriter) flushLoop() {
	defer close(w.flushed)

	ticker := time.NewTicker(flushInterval)
	defer ticker.Stop()

	batch := make([]*EvaluationEvent, 0, flushBatch)

	for {
		select {
		case event := <-w.buffer:
			batch = append(batch, event)
			if len(batch) >= flushBatch {
				w.flush(batch)
				batch = batch[:0]
			}
		case <-ticker.C:
			if len(batch) > 0 {
				w.flush(batch)
				batch = batch[:0]
			}
		case <-w.done:
			drainCtx, cancel := context.WithTimeout(context.Background(), drainTimeout)
			defer cancel()
		drainLoop:
			for {
				select {
				case event := <-w.buffer:
					batch = append(batch, event)
				case <-drainCtx.Done():
					break drainLoop
				default:
					break drainLoop
				}
			}
			if len(batch) > 0 {
				w.flush(batch)
			}
			return
		}
	}
}

func (w *ClickHouseWriter) flush(events []*EvaluationEvent) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	batch, err := w.conn.PrepareBatch(ctx, `
		INSERT INTO evaluation_events (
			evaluation_id, job_id, project_id, session_id, timestamp,
			policy_id, policy_name, severity, is_compliant, violation_type,
			triggered_checks, failed_triggers, passed_requirements,
			failed_requirements, forbidden_checks, forbidden_checks_avoided,
			unevaluated_requirements,
			llm_provider, llm_model, llm_api_calls,
			llm_input_tokens, llm_output_tokens, llm_cost_usd,
			latency_ms
		)
	`)
	if err != nil {
		w.logger.Error("clickhouse prepare batch failed", zap.Error(err))
		return
	}

	for _, e := range events {
		var compliantUint8 uint8
		if e.IsCompliant {
			compliantUint8 = 1
		}

		if err := batch.Append(
			e.EvaluationID,
			e.JobID,
			e.ProjectID,
			e.SessionID,
			e.Timestamp,
			e.PolicyID,
			e.PolicyName,
			e.Severity,
			compliantUint8,
			e.ViolationType,
			e.TriggeredChecks,
			e.FailedTriggers,
			e.PassedRequirements,
			e.FailedRequirements,
			e.ForbiddenChecks,
			e.ForbiddenChecksAvoided,
			e.UnevaluatedRequirements,
			e.LLMProvider,
			e.LLMModel,
			e.LLMAPICalls,
			e.LLMInputTokens,
			e.LLMOutputTokens,
			e.LLMCostUSD,
			e.LatencyMs,
		); err != nil {
			w.logger.Error("clickhouse append event failed",
				zap.String("evaluation_id", e.EvaluationID),
				zap.Error(err),
			)
		}
	}

	if err := batch.Send(); err != nil {
		w.logger.Error("clickhouse batch send failed",
			zap.Int("batch_size", len(events)),
			zap.Error(err),
		)
	}
}

// LogWriter is a fallback EventWriter for local development.
type LogWriter struct {
	logger *zap.Logger
}

// NewLogWriter creates a LogWriter that outputs events to the given logger.
func NewLogWriter(logger *zap.Logger) *LogWriter {
	return &LogWriter{logger: logger}
}

func (w *LogWriter) Write(event *EvaluationEvent) {
	w.logger.Info("evaluation_event",
		zap.String("evaluation_id", event.EvaluationID),
		zap.String("job_id", event.JobID),
		zap.String("project_id", event.ProjectID),
		zap.String("session_id", event.SessionID),
		zap.String("policy_id", event.PolicyID),
		zap.Bool("is_compliant", event.IsCompliant),
		zap.String("violation_type", event.ViolationType),
		zap.Int32("llm_api_calls", event.LLMAPICalls),
		zap.Float64("llm_cost_usd", event.LLMCostUSD),
		zap.Float32("latency_ms", event.LatencyMs),
	)
}

func (w *LogWriter) Close() {}
