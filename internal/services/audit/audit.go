// internal/services/audit/audit.go
// Package audit persists the full record of each pipeline execution to
// Postgres: one search_requests row plus its content_sources and
// cost_records children. Writes are fire-and-forget from the caller's view;
// every failure is logged and swallowed so the answer path never blocks on
// the audit trail.
package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/puneetrinity/llmbackend1/internal/common/database"
	"github.com/puneetrinity/llmbackend1/internal/common/logger"
	"github.com/puneetrinity/llmbackend1/internal/models"
)

const (
	insertSearchRequestSQL = `
		INSERT INTO search_requests (
			request_id, user_id, original_query, enhanced_queries, max_results,
			status, response_answer, response_sources, confidence_score,
			processing_time, degraded, total_cost, client_ip, user_agent, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)`

	insertContentSourceSQL = `
		INSERT INTO content_sources (
			request_id, url, title, content, word_count, source_type,
			extraction_method, confidence_score, fetch_time, fetch_status, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`

	insertCostRecordSQL = `
		INSERT INTO cost_records (
			request_id, provider, amount, units, fingerprint, created_at
		) VALUES ($1, $2, $3, $4, $5, $6)`
)

// execer is satisfied by both *sql.DB and *sql.Tx so the batch inserts can
// run inside the LogSearch transaction or standalone.
type execer interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
}

type Service struct {
	db     *database.PostgresClient
	logger logger.Logger
}

// NewService wraps the Postgres client. A nil client disables the trail.
func NewService(db *database.PostgresClient, log logger.Logger) *Service {
	return &Service{
		db:     db,
		logger: log.WithFields(map[string]interface{}{"component": "audit"}),
	}
}

// Enabled reports whether executions are actually being persisted.
func (s *Service) Enabled() bool {
	return s.db != nil && s.db.DB != nil
}

// ============================================================================
// LOG SEARCH
// ============================================================================

// LogSearch writes one execution atomically: the request row, the attempted
// sources (failures included), and the cost trail. A failure anywhere rolls
// the whole record back.
func (s *Service) LogSearch(ctx context.Context, audit models.SearchAudit) {
	if !s.Enabled() {
		return
	}
	if audit.Timestamp.IsZero() {
		audit.Timestamp = time.Now().UTC()
	}

	tx, err := s.db.DB.BeginTx(ctx, nil)
	if err != nil {
		s.logger.Error("audit transaction begin failed", map[string]interface{}{
			"request_id": audit.RequestID,
			"error":      err.Error(),
		})
		return
	}

	if err := s.writeExecution(ctx, tx, audit); err != nil {
		_ = tx.Rollback()
		s.logger.Error("audit write failed", map[string]interface{}{
			"request_id": audit.RequestID,
			"error":      err.Error(),
		})
		return
	}

	if err := tx.Commit(); err != nil {
		s.logger.Error("audit commit failed", map[string]interface{}{
			"request_id": audit.RequestID,
			"error":      err.Error(),
		})
		return
	}

	s.logger.Debug("execution audited", map[string]interface{}{
		"request_id":   audit.RequestID,
		"sources":      len(audit.Sources),
		"cost_records": len(audit.CostRecords),
	})
}

func (s *Service) writeExecution(ctx context.Context, tx *sql.Tx, audit models.SearchAudit) error {
	enhanced, err := json.Marshal(audit.EnhancedQueries)
	if err != nil {
		return err
	}

	// response_sources holds the URLs the answer was built from, so failed
	// fetches stay out of it; they live in content_sources with their status
	urls := make([]string, 0, len(audit.Sources))
	for _, src := range audit.Sources {
		if src.FetchStatus == models.FetchStatusFailed {
			continue
		}
		urls = append(urls, src.URL)
	}
	responseSources, err := json.Marshal(urls)
	if err != nil {
		return err
	}

	_, err = tx.ExecContext(ctx, insertSearchRequestSQL,
		audit.RequestID,
		nullable(audit.UserID),
		audit.Query,
		enhanced,
		audit.MaxResults,
		audit.Status,
		audit.Answer,
		responseSources,
		audit.Confidence,
		audit.ProcessingTime,
		audit.Degraded,
		audit.TotalCost,
		nullable(audit.ClientIP),
		nullable(audit.UserAgent),
		audit.Timestamp,
	)
	if err != nil {
		return err
	}

	if err := s.insertSources(ctx, tx, audit.RequestID, audit.Sources, audit.Timestamp); err != nil {
		return err
	}
	return s.insertCostRecords(ctx, tx, audit.RequestID, audit.CostRecords)
}

// ============================================================================
// BATCH INSERTS
// ============================================================================

// LogSources writes the attempted sources for a request outside the
// LogSearch transaction; backfill tooling uses it directly.
func (s *Service) LogSources(ctx context.Context, requestID string, sources []models.FetchedSource) error {
	if !s.Enabled() {
		return nil
	}
	return s.insertSources(ctx, s.db.DB, requestID, sources, time.Now().UTC())
}

// LogCostRecords writes a cost trail for a request outside the LogSearch
// transaction.
func (s *Service) LogCostRecords(ctx context.Context, requestID string, recs []models.CostRecord) error {
	if !s.Enabled() {
		return nil
	}
	return s.insertCostRecords(ctx, s.db.DB, requestID, recs)
}

func (s *Service) insertSources(ctx context.Context, db execer, requestID string, sources []models.FetchedSource, at time.Time) error {
	for _, src := range sources {
		_, err := db.ExecContext(ctx, insertContentSourceSQL,
			requestID,
			src.URL,
			src.Title,
			src.Content,
			src.WordCount,
			string(src.SourceType),
			src.ExtractionMethod,
			src.Confidence,
			src.FetchTime,
			string(src.FetchStatus),
			at,
		)
		if err != nil {
			return err
		}
	}
	return nil
}

func (s *Service) insertCostRecords(ctx context.Context, db execer, requestID string, recs []models.CostRecord) error {
	for _, rec := range recs {
		at := rec.Timestamp
		if at.IsZero() {
			at = time.Now().UTC()
		}
		_, err := db.ExecContext(ctx, insertCostRecordSQL,
			requestID,
			rec.Provider,
			rec.Amount,
			rec.Units,
			rec.Fingerprint,
			at,
		)
		if err != nil {
			return err
		}
	}
	return nil
}

// nullable maps empty strings to SQL NULL.
func nullable(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}
