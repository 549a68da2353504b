// Package orchestrator runs the multi-stage answer pipeline: classify the
// question, run the sandbox stages the route requires, and synthesize the
// final answer. Progress is reported as a strictly ordered event stream.
package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/insightx/insightx/internal/domain"
	"github.com/insightx/insightx/internal/infrastructure/ai"
	"github.com/insightx/insightx/internal/log"
	"github.com/insightx/insightx/internal/ports"
)

const eventBuffer = 16

// Request is one question asked against a session's dataset.
type Request struct {
	Question string
	Context  domain.SessionContext
}

// Service orchestrates one request end-to-end.
type Service struct {
	Gateway   ports.Gateway
	Rotations ports.RotationSource
	Queries   ports.QueryRunner
	Code      ports.CodeRunner
}

// Stream processes the request and returns its event stream. The channel is
// closed after the terminal event; callers must drain it. Cancelling ctx
// aborts the pipeline between stages.
func (s *Service) Stream(ctx context.Context, req Request) <-chan domain.OrchestrationEvent {
	events := make(chan domain.OrchestrationEvent, eventBuffer)
	go func() {
		defer close(events)
		s.run(ctx, req, events)
	}()
	return events
}

func (s *Service) run(ctx context.Context, req Request, events chan<- domain.OrchestrationEvent) {
	logger := log.WithComponent("orchestrator")

	emit := func(event domain.OrchestrationEvent) bool {
		select {
		case events <- event:
			return true
		case <-ctx.Done():
			return false
		}
	}

	if s.Gateway == nil || s.Queries == nil || s.Code == nil {
		emit(domain.ErrorEvent(domain.NewError(domain.ErrInternal, "orchestrator.Service dependencies not satisfied")))
		return
	}

	if !emit(domain.StatusEvent(domain.StageClassifying, "Understanding your question")) {
		return
	}
	classification, err := s.classify(ctx, req, emit)
	if err != nil {
		logger.Error().Err(err).Msg("classification failed")
		emit(domain.ErrorEvent(err))
		return
	}
	if !emit(domain.OrchestrationEvent{Type: domain.EventClassification, Classification: &classification}) {
		return
	}

	var queryResult *domain.QueryStageResult
	if classification.Route.NeedsQuery() {
		if !emit(domain.StatusEvent(domain.StageQuery, "Querying your data")) {
			return
		}
		result, err := s.queryStage(ctx, req, classification, emit)
		if err != nil {
			logger.Error().Err(err).Str("kind", string(domain.KindOf(err))).Msg("query stage failed")
			emit(domain.ErrorEvent(err))
			return
		}
		queryResult = &result
		if !emit(domain.OrchestrationEvent{Type: domain.EventQueryResult, QueryResult: queryResult}) {
			return
		}
	}

	var codeResult *domain.CodeStageResult
	if classification.Route.NeedsCode() {
		if !emit(domain.StatusEvent(domain.StageCode, "Analyzing the results")) {
			return
		}
		input, err := s.codeInput(ctx, req, queryResult)
		if err != nil {
			logger.Error().Err(err).Msg("could not bind code stage input")
			emit(domain.ErrorEvent(err))
			return
		}
		result, err := s.codeStage(ctx, req, input, emit)
		if err != nil {
			logger.Error().Err(err).Str("kind", string(domain.KindOf(err))).Msg("code stage failed")
			emit(domain.ErrorEvent(err))
			return
		}
		codeResult = &result
		if !emit(domain.OrchestrationEvent{Type: domain.EventCodeResult, CodeResult: codeResult}) {
			return
		}
	}

	if !emit(domain.StatusEvent(domain.StageComposing, "Composing the answer")) {
		return
	}
	final, err := s.synthesize(ctx, req, classification, queryResult, codeResult, emit)
	if err != nil {
		logger.Error().Err(err).Msg("synthesis failed")
		emit(domain.ErrorEvent(err))
		return
	}

	finding := domain.Finding{
		Query:      final.QueryUsed,
		Finding:    final.Text,
		Confidence: final.Confidence,
		Timestamp:  time.Now().UTC(),
	}
	emit(domain.OrchestrationEvent{Type: domain.EventFinalResponse, Final: &final, Finding: &finding})
}

// complete issues one gateway call and surfaces any credential rotation the
// call triggered before the caller consumes the reply.
func (s *Service) complete(ctx context.Context, emit func(domain.OrchestrationEvent) bool, agent domain.AgentKind, content string) (string, error) {
	reply, err := s.Gateway.Complete(ctx, agent, []domain.ChatMessage{{Role: "user", Content: content}})
	s.emitRotation(emit)
	return reply, err
}

func (s *Service) emitRotation(emit func(domain.OrchestrationEvent) bool) {
	if s.Rotations == nil {
		return
	}
	rotation := s.Rotations.TakeLastRotation()
	if rotation == nil {
		return
	}
	message := fmt.Sprintf("switched to credential %d (%s)", rotation.ToIndex+1, rotation.Reason)
	emit(domain.OrchestrationEvent{Type: domain.EventCredentialRotation, Rotation: rotation, Message: message})
}

func (s *Service) classify(ctx context.Context, req Request, emit func(domain.OrchestrationEvent) bool) (domain.ClassificationResult, error) {
	reply, err := s.complete(ctx, emit, domain.AgentClassifier, classifierContent(req))
	if err != nil {
		return domain.ClassificationResult{}, err
	}

	var parsed struct {
		Route         string   `json:"route"`
		Reasoning     string   `json:"reasoning"`
		ColumnsNeeded []string `json:"columns_needed"`
	}
	raw := ai.ExtractJSONObject(reply)
	if raw == "" || json.Unmarshal([]byte(raw), &parsed) != nil {
		// A confused classifier never fails the request; the question is
		// answered without computation.
		return domain.ClassificationResult{
			Route:     domain.RouteNone,
			Reasoning: "classifier reply was not parseable; answering without computation",
		}, nil
	}
	return domain.ClassificationResult{
		Route:         domain.ParseRoute(parsed.Route),
		Reasoning:     parsed.Reasoning,
		ColumnsNeeded: parsed.ColumnsNeeded,
	}, nil
}

func (s *Service) queryStage(ctx context.Context, req Request, classification domain.ClassificationResult, emit func(domain.OrchestrationEvent) bool) (domain.QueryStageResult, error) {
	content := queryContent(req, classification)

	reply, err := s.complete(ctx, emit, domain.AgentQueryGenerator, content)
	if err != nil {
		return domain.QueryStageResult{}, err
	}
	result, runErr := s.runQuery(ctx, req, reply)
	if runErr == nil {
		return result, nil
	}
	if !domain.IsKind(runErr, domain.ErrRejectedQuery) {
		return domain.QueryStageResult{}, runErr
	}

	// One regeneration round with the rejection reason fed back.
	retry := content + "\n\nYour previous statement was rejected: " + runErr.Error() +
		"\nGenerate a corrected SELECT statement."
	reply, err = s.complete(ctx, emit, domain.AgentQueryGenerator, retry)
	if err != nil {
		return domain.QueryStageResult{}, err
	}
	return s.runQuery(ctx, req, reply)
}

func (s *Service) runQuery(ctx context.Context, req Request, reply string) (domain.QueryStageResult, error) {
	query := ai.ExtractQuery(reply)
	if query == "" {
		return domain.QueryStageResult{}, domain.NewError(domain.ErrRejectedQuery, "reply contained no SQL statement")
	}
	return s.Queries.Run(ctx, req.Context.Dataset, query)
}

// codeInput binds the code stage's input table: the query stage's output
// when one ran, otherwise the dataset itself fetched through the query
// sandbox so the row cap still applies.
func (s *Service) codeInput(ctx context.Context, req Request, queryResult *domain.QueryStageResult) (domain.Table, error) {
	if queryResult != nil {
		return queryResult.AsTable(), nil
	}
	result, err := s.Queries.Run(ctx, req.Context.Dataset, "SELECT * FROM dataset")
	if err != nil {
		return domain.Table{}, err
	}
	return result.AsTable(), nil
}

func (s *Service) codeStage(ctx context.Context, req Request, input domain.Table, emit func(domain.OrchestrationEvent) bool) (domain.CodeStageResult, error) {
	content := codeContent(req, input)

	reply, err := s.complete(ctx, emit, domain.AgentCodeGenerator, content)
	if err != nil {
		return domain.CodeStageResult{}, err
	}
	result, runErr := s.runCode(ctx, reply, input)
	if runErr == nil {
		return result, nil
	}
	if !domain.IsKind(runErr, domain.ErrRejectedCode) {
		return domain.CodeStageResult{}, runErr
	}

	retry := content + "\n\nYour previous fragment was rejected: " + runErr.Error() +
		"\nGenerate a corrected fragment using only the allowed bindings."
	reply, err = s.complete(ctx, emit, domain.AgentCodeGenerator, retry)
	if err != nil {
		return domain.CodeStageResult{}, err
	}
	return s.runCode(ctx, reply, input)
}

func (s *Service) runCode(ctx context.Context, reply string, input domain.Table) (domain.CodeStageResult, error) {
	code := ai.ExtractCode(reply)
	if code == "" {
		return domain.CodeStageResult{}, domain.NewError(domain.ErrRejectedCode, "reply contained no code fragment")
	}
	return s.Code.Run(ctx, code, input)
}

func (s *Service) synthesize(ctx context.Context, req Request, classification domain.ClassificationResult, queryResult *domain.QueryStageResult, codeResult *domain.CodeStageResult, emit func(domain.OrchestrationEvent) bool) (domain.FinalAnswer, error) {
	reply, err := s.complete(ctx, emit, domain.AgentSynthesizer, synthesisContent(req, classification, queryResult, codeResult))
	if err != nil {
		return domain.FinalAnswer{}, err
	}

	final := parseFinalAnswer(reply)
	if queryResult != nil {
		final.QueryUsed = queryResult.Query
	}
	if codeResult != nil {
		final.CodeUsed = codeResult.Code
	}
	return final, nil
}

func parseFinalAnswer(reply string) domain.FinalAnswer {
	var parsed struct {
		Text       string             `json:"text"`
		Metrics    map[string]float64 `json:"metrics"`
		ChartSpec  *domain.ChartSpec  `json:"chart_spec"`
		Confidence float64            `json:"confidence"`
		FollowUps  []string           `json:"follow_ups"`
	}
	raw := ai.ExtractJSONObject(reply)
	if raw == "" || json.Unmarshal([]byte(raw), &parsed) != nil || parsed.Text == "" {
		// The composer's prose is still an answer even when the JSON
		// envelope is missing.
		return domain.FinalAnswer{Text: strings.TrimSpace(reply)}
	}
	return domain.FinalAnswer{
		Text:       parsed.Text,
		Metrics:    parsed.Metrics,
		ChartSpec:  parsed.ChartSpec,
		Confidence: parsed.Confidence,
		FollowUps:  parsed.FollowUps,
	}
}

func classifierContent(req Request) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Question: %s\n\n", req.Question)
	b.WriteString(schemaSection(req.Context.Profile))
	b.WriteString(findingsSection(req.Context.PriorFindings))
	return strings.TrimSpace(b.String())
}

func queryContent(req Request, classification domain.ClassificationResult) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Question: %s\n\n", req.Question)
	b.WriteString(schemaSection(req.Context.Profile))
	if len(classification.ColumnsNeeded) > 0 {
		fmt.Fprintf(&b, "Relevant columns: %s\n", strings.Join(classification.ColumnsNeeded, ", "))
	}
	return strings.TrimSpace(b.String())
}

func codeContent(req Request, input domain.Table) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Question: %s\n\n", req.Question)
	fmt.Fprintf(&b, "Input table: %d rows, columns: %s\n",
		len(input.Rows), strings.Join(input.Columns, ", "))
	return strings.TrimSpace(b.String())
}

func synthesisContent(req Request, classification domain.ClassificationResult, queryResult *domain.QueryStageResult, codeResult *domain.CodeStageResult) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Question: %s\n", req.Question)
	fmt.Fprintf(&b, "Route: %s\n\n", classification.Route)
	if queryResult != nil {
		fmt.Fprintf(&b, "Query: %s\nQuery result (%s):\n%s\n\n",
			queryResult.Query, queryResult.Summary, compactJSON(queryResult.Rows))
	}
	if codeResult != nil {
		fmt.Fprintf(&b, "Analysis result (%s):\n%s\n\n", codeResult.Summary, compactJSON(codeResult.Result))
	}
	b.WriteString(findingsSection(req.Context.PriorFindings))
	return strings.TrimSpace(b.String())
}

func schemaSection(profile *domain.DatasetProfile) string {
	if profile == nil {
		return "Dataset schema: unknown\n"
	}
	var b strings.Builder
	fmt.Fprintf(&b, "Dataset: %d rows, %d columns\n", profile.TotalRows, profile.TotalColumns)
	for _, col := range profile.Columns {
		fmt.Fprintf(&b, "- %s (%s)\n", col.Name, col.Type)
	}
	return b.String()
}

const maxPriorFindings = 5

func findingsSection(findings []domain.Finding) string {
	if len(findings) == 0 {
		return ""
	}
	if len(findings) > maxPriorFindings {
		findings = findings[len(findings)-maxPriorFindings:]
	}
	var b strings.Builder
	b.WriteString("\nPrior findings:\n")
	for _, f := range findings {
		fmt.Fprintf(&b, "- %s\n", f.Finding)
	}
	return b.String()
}

func compactJSON(v any) string {
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprintf("%v", v)
	}
	return string(raw)
}
