package query

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/dustin/go-humanize"
	"github.com/rs/zerolog"

	"github.com/insightx/insightx/internal/domain"
	"github.com/insightx/insightx/internal/log"
)

const defaultMaxRows = 500

// Sandbox executes validated queries against the dataset database. The row
// cap is enforced while scanning, independent of any LIMIT in the query
// text; the cap is never trusted to the model.
type Sandbox struct {
	db        *sql.DB
	validator *Validator
	maxRows   int
	logger    zerolog.Logger
}

// NewSandbox builds a sandbox over the dataset database.
func NewSandbox(db *sql.DB, maxRows int) *Sandbox {
	if maxRows <= 0 {
		maxRows = defaultMaxRows
	}
	return &Sandbox{
		db:        db,
		validator: NewValidator(),
		maxRows:   maxRows,
		logger:    log.WithComponent("query_sandbox"),
	}
}

// MaxRows returns the configured row cap.
func (s *Sandbox) MaxRows() int { return s.maxRows }

// Run validates, rewrites, and executes one query. Engine errors (unknown
// column, type mismatch) are surfaced as QueryExecutionError and never
// retried; they are not transient.
func (s *Sandbox) Run(ctx context.Context, handle domain.DatasetHandle, queryText string) (domain.QueryStageResult, error) {
	if err := s.validator.Validate(queryText); err != nil {
		return domain.QueryStageResult{}, err
	}

	rewritten := s.validator.Rewrite(queryText, handle)
	rows, err := s.db.QueryContext(ctx, rewritten)
	if err != nil {
		return domain.QueryStageResult{}, domain.WrapError(domain.ErrQueryExecution, err, "query execution failed")
	}
	defer rows.Close()

	columns, err := rows.Columns()
	if err != nil {
		return domain.QueryStageResult{}, domain.WrapError(domain.ErrQueryExecution, err, "read result columns")
	}

	result := domain.QueryStageResult{
		Query:   queryText,
		Columns: columns,
		Rows:    make([]map[string]any, 0, s.maxRows),
	}

	values := make([]any, len(columns))
	scanTargets := make([]any, len(columns))
	for i := range values {
		scanTargets[i] = &values[i]
	}

	for rows.Next() {
		if len(result.Rows) >= s.maxRows {
			s.logger.Debug().Int("cap", s.maxRows).Msg("row cap reached; truncating result")
			break
		}
		if err := rows.Scan(scanTargets...); err != nil {
			return domain.QueryStageResult{}, domain.WrapError(domain.ErrQueryExecution, err, "scan result row")
		}
		row := make(map[string]any, len(columns))
		for i, col := range columns {
			row[col] = normalizeValue(values[i])
		}
		result.Rows = append(result.Rows, row)
	}
	if err := rows.Err(); err != nil {
		return domain.QueryStageResult{}, domain.WrapError(domain.ErrQueryExecution, err, "iterate result rows")
	}

	result.RowCount = len(result.Rows)
	result.Summary = fmt.Sprintf("%s rows, %s columns",
		humanize.Comma(int64(result.RowCount)), humanize.Comma(int64(len(columns))))
	return result, nil
}

// normalizeValue maps driver values onto JSON-friendly Go types.
func normalizeValue(value any) any {
	switch v := value.(type) {
	case []byte:
		return string(v)
	default:
		return v
	}
}
