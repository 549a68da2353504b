// Package ports defines the interfaces between the application core and the
// infrastructure adapters. The orchestrator depends only on these
// abstractions; concrete gateways, sandboxes, and stores live in the
// infrastructure layer.
package ports

import (
	"context"

	"github.com/insightx/insightx/internal/domain"
)

// ConfigProvider loads the latest configuration from persistent storage.
type ConfigProvider interface {
	Load(context.Context) (domain.Config, error)
}

// Gateway issues one upstream model call for the given agent. Credential
// rotation happens transparently behind this interface.
type Gateway interface {
	Complete(ctx context.Context, agent domain.AgentKind, messages []domain.ChatMessage) (string, error)
}

// RotationSource exposes the pool's single-slot rotation event. Reading
// clears the slot; a rotation not read before the next one is overwritten.
type RotationSource interface {
	TakeLastRotation() *domain.RotationEvent
}

// QueryRunner validates and executes a generated query against a dataset
// handle. Validation failures carry domain.ErrRejectedQuery so the caller
// can feed the reason back for one regeneration round.
type QueryRunner interface {
	Run(ctx context.Context, handle domain.DatasetHandle, query string) (domain.QueryStageResult, error)
}

// CodeRunner validates and executes a generated code fragment against an
// input table in an isolated, time-bounded worker.
type CodeRunner interface {
	Run(ctx context.Context, code string, input domain.Table) (domain.CodeStageResult, error)
}

// DatasetResolver maps a session id to its concrete dataset handle.
type DatasetResolver interface {
	Resolve(ctx context.Context, sessionID string) (domain.DatasetHandle, error)
}

// SessionRepository persists sessions, chats, messages, and accumulated
// findings. The orchestrator never writes through it; the API layer does,
// after the stream completes.
type SessionRepository interface {
	CreateSession(ctx context.Context, session domain.Session) error
	Session(ctx context.Context, id string) (domain.Session, error)
	CreateChat(ctx context.Context, chat domain.Chat) error
	Chat(ctx context.Context, id string) (domain.Chat, error)
	SaveMessage(ctx context.Context, msg domain.Message) error
	Messages(ctx context.Context, chatID string) ([]domain.Message, error)
	AppendFinding(ctx context.Context, sessionID string, finding domain.Finding) error
	Findings(ctx context.Context, sessionID string) ([]domain.Finding, error)
}
