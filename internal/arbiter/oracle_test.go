package arbiter

import (
	"context"
	"testing"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/entity-resolver/internal/model"
	"github.com/sells-group/entity-resolver/pkg/anthropic"
)

type fakeMessages struct {
	text string
	err  error
	last anthropic.MessageRequest
}

func (f *fakeMessages) CreateMessage(_ context.Context, req anthropic.MessageRequest) (*anthropic.MessageResponse, error) {
	f.last = req
	if f.err != nil {
		return nil, f.err
	}
	return &anthropic.MessageResponse{
		Content: []anthropic.ContentBlock{{Type: "text", Text: f.text}},
	}, nil
}

func TestAnthropicOracleAdvise(t *testing.T) {
	t.Parallel()

	client := &fakeMessages{
		text: "```json\n{\"narrative\": \"claim 1 is authoritative\", \"citations\": [\"claim 1\"], \"preferred_claim_number\": 1}\n```",
	}
	o := NewAnthropicOracle(client, "claude-haiku-4-5-20251001", 0)

	adv, err := o.Advise(context.Background(), []model.Claim{
		{ClaimNumber: 1, Type: model.ClaimGLEIFVerified, EntityName: "Apple Inc."},
	})
	require.NoError(t, err)
	assert.Equal(t, "claim 1 is authoritative", adv.Narrative)
	assert.Equal(t, []string{"claim 1"}, adv.Citations)
	require.NotNil(t, adv.PreferredClaim)
	assert.Equal(t, 1, *adv.PreferredClaim)

	assert.Equal(t, "claude-haiku-4-5-20251001", client.last.Model)
	assert.EqualValues(t, 1024, client.last.MaxTokens)
	require.NotNil(t, client.last.Temperature)
	assert.Zero(t, *client.last.Temperature)
}

func TestAnthropicOracleAPIError(t *testing.T) {
	t.Parallel()

	o := NewAnthropicOracle(&fakeMessages{err: eris.New("rate limited")}, "m", 256)
	_, err := o.Advise(context.Background(), []model.Claim{{ClaimNumber: 0}})
	assert.Error(t, err)
}

func TestAnthropicOracleMalformedJSON(t *testing.T) {
	t.Parallel()

	o := NewAnthropicOracle(&fakeMessages{text: "sorry, I cannot"}, "m", 256)
	_, err := o.Advise(context.Background(), []model.Claim{{ClaimNumber: 0}})
	assert.Error(t, err)
}

func TestStripFences(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in   string
		want string
	}{
		{`{"a":1}`, `{"a":1}`},
		{"```json\n{\"a\":1}\n```", `{"a":1}`},
		{"```\n{\"a\":1}\n```", `{"a":1}`},
		{"  {\"a\":1}  ", `{"a":1}`},
	}
	for _, tc := range tests {
		assert.Equal(t, tc.want, stripFences(tc.in))
	}
}
