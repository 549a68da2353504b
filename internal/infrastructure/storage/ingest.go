package storage

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/insightx/insightx/internal/domain"
	"github.com/insightx/insightx/internal/infrastructure/profile"
)

var columnNameRe = regexp.MustCompile(`[^a-z0-9_]+`)

// IngestCSV reads a CSV upload, creates a typed dataset table for it, and
// registers the session with its profile. Column types are inferred from
// the data: INTEGER, then REAL, then TEXT.
func (s *Store) IngestCSV(ctx context.Context, filename string, r io.Reader) (domain.Session, error) {
	reader := csv.NewReader(r)
	reader.TrimLeadingSpace = true

	header, err := reader.Read()
	if err != nil {
		return domain.Session{}, fmt.Errorf("read CSV header: %w", err)
	}
	columns := make([]string, len(header))
	for i, name := range header {
		columns[i] = sanitizeColumn(name, i)
	}

	var records [][]string
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return domain.Session{}, fmt.Errorf("read CSV row: %w", err)
		}
		records = append(records, record)
	}

	types := inferColumnTypes(columns, records)
	sessionID := uuid.NewString()
	table := "ds_" + strings.ReplaceAll(sessionID, "-", "")[:12]

	if err := s.createDatasetTable(ctx, table, columns, types, records); err != nil {
		return domain.Session{}, err
	}

	rows := typedRows(columns, types, records)
	session := domain.Session{
		ID:        sessionID,
		Filename:  filename,
		RowCount:  len(records),
		Status:    "ready",
		Table:     table,
		Profile:   profile.Build(columns, rows),
		CreatedAt: time.Now().UTC(),
	}
	if err := s.CreateSession(ctx, session); err != nil {
		return domain.Session{}, err
	}
	s.logger.Info().
		Str("session", sessionID).
		Str("table", table).
		Int("rows", len(records)).
		Msg("dataset ingested")
	return session, nil
}

func sanitizeColumn(name string, index int) string {
	clean := columnNameRe.ReplaceAllString(strings.ToLower(strings.TrimSpace(name)), "_")
	clean = strings.Trim(clean, "_")
	if clean == "" {
		clean = fmt.Sprintf("column_%d", index+1)
	}
	return clean
}

func inferColumnTypes(columns []string, records [][]string) []string {
	types := make([]string, len(columns))
	for i := range columns {
		isInt, isReal, seen := true, true, false
		for _, record := range records {
			if i >= len(record) || strings.TrimSpace(record[i]) == "" {
				continue
			}
			seen = true
			value := strings.TrimSpace(record[i])
			if _, err := strconv.ParseInt(value, 10, 64); err != nil {
				isInt = false
			}
			if _, err := strconv.ParseFloat(value, 64); err != nil {
				isReal = false
			}
		}
		switch {
		case seen && isInt:
			types[i] = "INTEGER"
		case seen && isReal:
			types[i] = "REAL"
		default:
			types[i] = "TEXT"
		}
	}
	return types
}

func (s *Store) createDatasetTable(ctx context.Context, table string, columns, types []string, records [][]string) error {
	defs := make([]string, len(columns))
	for i, col := range columns {
		defs[i] = fmt.Sprintf("%q %s", col, types[i])
	}
	if _, err := s.db.ExecContext(ctx,
		fmt.Sprintf("CREATE TABLE %q (%s)", table, strings.Join(defs, ", "))); err != nil {
		return fmt.Errorf("create dataset table: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(columns)), ", ")
	stmt, err := tx.PrepareContext(ctx,
		fmt.Sprintf("INSERT INTO %q VALUES (%s)", table, placeholders))
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, record := range records {
		args := make([]any, len(columns))
		for i := range columns {
			if i < len(record) {
				args[i] = typedValue(record[i], types[i])
			}
		}
		if _, err := stmt.ExecContext(ctx, args...); err != nil {
			return fmt.Errorf("insert dataset row: %w", err)
		}
	}
	return tx.Commit()
}

func typedValue(raw string, colType string) any {
	value := strings.TrimSpace(raw)
	if value == "" {
		return nil
	}
	switch colType {
	case "INTEGER":
		if n, err := strconv.ParseInt(value, 10, 64); err == nil {
			return n
		}
	case "REAL":
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return value
}

func typedRows(columns, types []string, records [][]string) []map[string]any {
	rows := make([]map[string]any, 0, len(records))
	for _, record := range records {
		row := make(map[string]any, len(columns))
		for i, col := range columns {
			if i < len(record) {
				row[col] = typedValue(record[i], types[i])
			} else {
				row[col] = nil
			}
		}
		rows = append(rows, row)
	}
	return rows
}
