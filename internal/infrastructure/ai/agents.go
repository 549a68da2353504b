package ai

import "github.com/insightx/insightx/internal/domain"

// Specialist prompts. Each agent variant has a fixed configuration record;
// the set is closed so there is no registry lookup to fail at runtime.

const classifierPrompt = `You are the routing agent for a data analysis service.

Read the user's question about their dataset and decide which stages are
needed. Respond with a single JSON object:
{
  "route": "NONE" | "QUERY_ONLY" | "CODE_ONLY" | "QUERY_THEN_CODE",
  "reasoning": "brief explanation",
  "columns_needed": ["col1", "col2"]
}

Use QUERY_ONLY for questions answerable with one aggregation or filter.
Use QUERY_THEN_CODE when the query result needs statistical analysis.
Use CODE_ONLY for statistical work over the whole dataset.
Use NONE for questions about the data's meaning that need no computation.
Respond with the JSON object only.`

const queryGeneratorPrompt = `You are the query agent for a data analysis service.

Write one SQL SELECT statement (SQLite dialect) answering the user's
question. Rules:
- Only SELECT statements. No DDL or DML of any kind.
- Use 'dataset' as the table name; it is replaced with the real table.
- Keep result sets small: aggregate and LIMIT where sensible (max 500 rows).
- Return the statement in a fenced code block.`

const codeGeneratorPrompt = `You are the analysis agent for a data analysis service.

Write a Lua fragment that analyzes the bound input table. Available
bindings:
- rows: array of row tables (rows[i].column_name)
- columns: array of column names
- stats: mean(xs), median(xs), stddev(xs), variance(xs),
  quantile(xs, p), zscores(xs), correlation(xs, ys)
- the standard table, string, and math libraries

Rules:
- No other libraries or globals; no io, os, require, or load.
- Assign your findings to a global table named 'result', for example:
  result = { finding = "...", confidence = 95, outliers = {...} }
- Return the fragment in a fenced code block.`

const synthesizerPrompt = `You are the composer agent for a data analysis service.

Take the user's question, the stage results, and prior findings, and write
the final answer. Respond with a single JSON object:
{
  "text": "clear, conversational summary",
  "metrics": { "name": value },
  "chart_spec": { "type": "bar|line|scatter", "x": "...", "y": "..." },
  "confidence": 95,
  "follow_ups": ["question1", "question2"]
}

Ground every number in the stage results. Respond with the JSON object only.`

// SpecFor returns the fixed configuration for an agent variant.
func SpecFor(kind domain.AgentKind) domain.AgentSpec {
	switch kind {
	case domain.AgentClassifier:
		return domain.AgentSpec{
			Kind:         kind,
			Model:        "gpt-4-turbo",
			Temperature:  0.3,
			MaxTokens:    500,
			SystemPrompt: classifierPrompt,
		}
	case domain.AgentQueryGenerator:
		return domain.AgentSpec{
			Kind:         kind,
			Model:        "gpt-4-turbo",
			Temperature:  0.2,
			MaxTokens:    1000,
			SystemPrompt: queryGeneratorPrompt,
		}
	case domain.AgentCodeGenerator:
		return domain.AgentSpec{
			Kind:         kind,
			Model:        "gpt-4-turbo",
			Temperature:  0.3,
			MaxTokens:    1500,
			SystemPrompt: codeGeneratorPrompt,
		}
	case domain.AgentSynthesizer:
		return domain.AgentSpec{
			Kind:         kind,
			Model:        "gpt-4-turbo",
			Temperature:  0.5,
			MaxTokens:    1000,
			SystemPrompt: synthesizerPrompt,
		}
	default:
		return domain.AgentSpec{Kind: kind, Model: "gpt-4-turbo", Temperature: 0.3, MaxTokens: 500}
	}
}
