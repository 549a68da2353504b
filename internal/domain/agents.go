package domain

// AgentKind is the closed set of specialist agents. A fixed configuration
// record exists per variant; there is no runtime registry to miss.
type AgentKind string

const (
	AgentClassifier     AgentKind = "classifier"
	AgentQueryGenerator AgentKind = "query_generator"
	AgentCodeGenerator  AgentKind = "code_generator"
	AgentSynthesizer    AgentKind = "synthesizer"
)

// AgentSpec is the fixed per-variant generation configuration.
type AgentSpec struct {
	Kind         AgentKind
	Model        string
	Temperature  float64
	MaxTokens    int
	SystemPrompt string
}

// ChatMessage is one turn of an upstream model conversation.
type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}
