package domain

import "time"

// DatasetHandle points at the concrete table backing a session's dataset.
// The core only consumes handles; ingest owns their lifecycle.
type DatasetHandle struct {
	Table string
}

// Session tracks one uploaded dataset and its profile.
type Session struct {
	ID        string          `json:"id"`
	Filename  string          `json:"filename"`
	RowCount  int             `json:"row_count"`
	Status    string          `json:"status"`
	Table     string          `json:"-"`
	Profile   *DatasetProfile `json:"profile,omitempty"`
	CreatedAt time.Time       `json:"created_at"`
}

// Chat groups messages under a session.
type Chat struct {
	ID        string    `json:"id"`
	SessionID string    `json:"session_id"`
	Title     string    `json:"title,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// Message is one persisted chat turn. Content holds plain text for user
// turns and the serialized final answer for assistant turns.
type Message struct {
	ID        string    `json:"id"`
	ChatID    string    `json:"chat_id"`
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at"`
}

// SessionContext is the read-only input handed to the orchestrator.
type SessionContext struct {
	SessionID     string
	Dataset       DatasetHandle
	Profile       *DatasetProfile
	PriorFindings []Finding
}

// ColumnProfile describes one dataset column.
type ColumnProfile struct {
	Name        string         `json:"name"`
	Type        string         `json:"type"`
	NullPct     float64        `json:"null_pct"`
	UniqueCount int            `json:"unique_count"`
	Min         *float64       `json:"min,omitempty"`
	Max         *float64       `json:"max,omitempty"`
	Mean        *float64       `json:"mean,omitempty"`
	Std         *float64       `json:"std,omitempty"`
	TopValues   map[string]int `json:"top_values,omitempty"`
}

// DatasetProfile is the profiled shape of a dataset, used as the schema
// summary in prompts and stored with the session.
type DatasetProfile struct {
	TotalRows    int                `json:"total_rows"`
	TotalColumns int                `json:"total_columns"`
	Columns      []ColumnProfile    `json:"columns"`
	Baselines    map[string]float64 `json:"baselines,omitempty"`
}

// ColumnNames lists profiled column names in order.
func (p *DatasetProfile) ColumnNames() []string {
	if p == nil {
		return nil
	}
	names := make([]string, 0, len(p.Columns))
	for _, col := range p.Columns {
		names = append(names, col.Name)
	}
	return names
}
