package domain

// EventType tags an orchestration event variant.
type EventType string

const (
	EventStatus             EventType = "status"
	EventClassification     EventType = "classification"
	EventQueryResult        EventType = "query_result"
	EventCodeResult         EventType = "code_result"
	EventCredentialRotation EventType = "credential_rotation"
	EventFinalResponse      EventType = "final_response"
	EventError              EventType = "error"
)

// Stage names the orchestrator state a status event announces.
type Stage string

const (
	StageClassifying Stage = "classifying"
	StageQuery       Stage = "query"
	StageCode        Stage = "code"
	StageComposing   Stage = "composing"
)

// OrchestrationEvent is a tagged variant; exactly one payload field matches
// the Type. Events are append-only, strictly ordered, and consumed once.
type OrchestrationEvent struct {
	Type           EventType             `json:"type"`
	Stage          Stage                 `json:"stage,omitempty"`
	Message        string                `json:"message,omitempty"`
	Classification *ClassificationResult `json:"classification,omitempty"`
	QueryResult    *QueryStageResult     `json:"query_result,omitempty"`
	CodeResult     *CodeStageResult      `json:"code_result,omitempty"`
	Rotation       *RotationEvent        `json:"rotation,omitempty"`
	Final          *FinalAnswer          `json:"final,omitempty"`
	Finding        *Finding              `json:"finding,omitempty"`
	ErrorKind      ErrorKind             `json:"error_kind,omitempty"`
}

// Terminal reports whether this event ends the stream.
func (e OrchestrationEvent) Terminal() bool {
	return e.Type == EventFinalResponse || e.Type == EventError
}

// StatusEvent builds the single status event emitted on entering a stage.
func StatusEvent(stage Stage, message string) OrchestrationEvent {
	return OrchestrationEvent{Type: EventStatus, Stage: stage, Message: message}
}

// ErrorEvent builds a terminal error event from a classified failure.
func ErrorEvent(err error) OrchestrationEvent {
	return OrchestrationEvent{Type: EventError, ErrorKind: KindOf(err), Message: err.Error()}
}
