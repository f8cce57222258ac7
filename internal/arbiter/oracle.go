package arbiter

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/sells-group/entity-resolver/internal/model"
	"github.com/sells-group/entity-resolver/pkg/anthropic"
)

// Advisory is the oracle's free-text judgment over a claim list. It feeds the
// result narrative only; the deterministic ranking ignores it.
type Advisory struct {
	Narrative      string   `json:"narrative"`
	Citations      []string `json:"citations,omitempty"`
	PreferredClaim *int     `json:"preferred_claim_number,omitempty"`
}

// Oracle supplies advisory narratives for arbitration.
type Oracle interface {
	Advise(ctx context.Context, claims []model.Claim) (*Advisory, error)
	ModelName() string
}

const oracleSystemPrompt = `You are reviewing competing claims about which legal entity operates a website.
Given the claim list as JSON, respond with a single JSON object:
{"narrative": "<2-3 sentence assessment citing claim numbers>",
 "citations": ["claim 0", ...],
 "preferred_claim_number": <int or null>}
Respond with JSON only, no prose outside the object.`

// AnthropicOracle implements Oracle against the Anthropic messages API.
type AnthropicOracle struct {
	client    anthropic.Client
	model     string
	maxTokens int64
}

// NewAnthropicOracle builds an oracle for the given model.
func NewAnthropicOracle(client anthropic.Client, modelID string, maxTokens int64) *AnthropicOracle {
	if maxTokens <= 0 {
		maxTokens = 1024
	}
	return &AnthropicOracle{client: client, model: modelID, maxTokens: maxTokens}
}

func (o *AnthropicOracle) ModelName() string { return o.model }

func (o *AnthropicOracle) Advise(ctx context.Context, claims []model.Claim) (*Advisory, error) {
	payload, err := json.Marshal(claims)
	if err != nil {
		return nil, eris.Wrap(err, "oracle: marshal claims")
	}

	temp := 0.0
	resp, err := o.client.CreateMessage(ctx, anthropic.MessageRequest{
		Model:       o.model,
		MaxTokens:   o.maxTokens,
		Temperature: &temp,
		System:      []anthropic.SystemBlock{{Text: oracleSystemPrompt}},
		Messages: []anthropic.Message{
			{Role: "user", Content: string(payload)},
		},
	})
	if err != nil {
		return nil, eris.Wrap(err, "oracle: create message")
	}
	resp.Usage.LogCost(o.model, "arbitration_advisory")

	var advisory Advisory
	if err := json.Unmarshal([]byte(stripFences(resp.Text())), &advisory); err != nil {
		return nil, eris.Wrap(err, "oracle: parse advisory")
	}
	return &advisory, nil
}

// stripFences removes a markdown code fence if the model wrapped its JSON in
// one.
func stripFences(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}
