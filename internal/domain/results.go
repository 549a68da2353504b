package domain

import "time"

// Table is an ordered tabular result: column order is preserved, each row is
// a column-name keyed mapping.
type Table struct {
	Columns []string         `json:"columns"`
	Rows    []map[string]any `json:"rows"`
}

// QueryStageResult captures one validated-and-executed query stage.
type QueryStageResult struct {
	Query    string           `json:"query"`
	RowCount int              `json:"row_count"`
	Columns  []string         `json:"columns"`
	Rows     []map[string]any `json:"rows"`
	Summary  string           `json:"summary"`
}

// AsTable exposes the stage output as the code stage's input table.
func (r QueryStageResult) AsTable() Table {
	return Table{Columns: r.Columns, Rows: r.Rows}
}

// CodeStageResult captures one validated-and-executed code stage.
type CodeStageResult struct {
	Code    string         `json:"code"`
	Result  map[string]any `json:"result"`
	Summary string         `json:"summary"`
}

// ChartSpec is an optional visualization hint in the final answer.
type ChartSpec struct {
	Type string           `json:"type"`
	X    string           `json:"x,omitempty"`
	Y    string           `json:"y,omitempty"`
	Data []map[string]any `json:"data,omitempty"`
}

// FinalAnswer is the synthesized caller-facing response.
type FinalAnswer struct {
	Text       string             `json:"text"`
	Metrics    map[string]float64 `json:"metrics,omitempty"`
	ChartSpec  *ChartSpec         `json:"chart_spec,omitempty"`
	Confidence float64            `json:"confidence,omitempty"`
	FollowUps  []string           `json:"follow_ups,omitempty"`
	QueryUsed  string             `json:"query_used,omitempty"`
	CodeUsed   string             `json:"code_used,omitempty"`
}

// Finding is one accumulated insight, returned after a completed request for
// the caller to persist. The core never writes session state itself.
type Finding struct {
	Query      string    `json:"query"`
	Finding    string    `json:"finding"`
	Confidence float64   `json:"confidence"`
	Timestamp  time.Time `json:"timestamp"`
}
