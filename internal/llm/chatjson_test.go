package llm

import (
	"context"
	"log/slog"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/urdimbre/urdimbre-go/internal/config"
)

// fakeBackend replays canned replies and records the requests it saw.
type fakeBackend struct {
	replies  []string
	requests []ChatRequest
}

func (f *fakeBackend) Chat(_ context.Context, req ChatRequest) (string, error) {
	f.requests = append(f.requests, req)
	reply := f.replies[0]
	if len(f.replies) > 1 {
		f.replies = f.replies[1:]
	}
	return reply, nil
}

func (f *fakeBackend) Embed(_ context.Context, _ string, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = []float32{float32(i)}
	}
	return out, nil
}

func newFakeClient(backend *fakeBackend) *Client {
	return &Client{
		provider: ProviderOpenAI,
		backend:  backend,
		cfg: config.LLMConfig{
			ChatModel:       "gpt-4o",
			MiniModel:       "gpt-4o-mini",
			ReasoningPrefix: "o",
		},
		logger:  slog.Default(),
		enabled: true,
	}
}

func TestExtractJSONObject(t *testing.T) {
	tests := []struct {
		name    string
		raw     string
		want    string
		wantErr bool
	}{
		{"bare object", `{"a":1}`, `{"a":1}`, false},
		{"prose wrapped", "Aqui tienes:\n```json\n{\"a\":1}\n```", `{"a":1}`, false},
		{"nested braces", `{"a":{"b":2}}`, `{"a":{"b":2}}`, false},
		{"braces inside strings", `{"a":"tex{to}"}`, `{"a":"tex{to}"}`, false},
		{"escaped quotes", `{"a":"di\"jo"}`, `{"a":"di\"jo"}`, false},
		{"no object", "sin json aqui", "", true},
		{"unbalanced", `{"a":1`, "", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := extractJSONObject(tt.raw)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParseJSONReply(t *testing.T) {
	t.Run("required keys", func(t *testing.T) {
		_, err := parseJSONReply(`{"codigo":"x"}`, []string{"codigo", "cita"})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "cita")
	})

	t.Run("size cap", func(t *testing.T) {
		big := `{"a":"` + strings.Repeat("x", maxJSONResponseBytes) + `"}`
		_, err := parseJSONReply(big, nil)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "cap")
	})

	t.Run("valid", func(t *testing.T) {
		got, err := parseJSONReply(`texto {"codigo":"desarraigo","cita":"..."} final`, []string{"codigo"})
		require.NoError(t, err)
		assert.Equal(t, "desarraigo", got["codigo"])
	})
}

func TestChatJSONCorrectiveRetry(t *testing.T) {
	backend := &fakeBackend{replies: []string{
		"no soy json",
		`{"codigo":"x"}`,
		`{"codigo":"desarraigo","confianza":0.8}`,
	}}
	c := newFakeClient(backend)

	got, err := c.ChatJSON(context.Background(), ChatRequest{
		Model:    AliasMini,
		Messages: []ChatMessage{{Role: RoleUser, Content: "codifica"}},
	}, []string{"codigo", "confianza"})
	require.NoError(t, err)
	assert.Equal(t, "desarraigo", got["codigo"])
	require.Len(t, backend.requests, 3)

	// Each corrective turn echoes the bad reply as assistant context.
	second := backend.requests[1].Messages
	require.Len(t, second, 3)
	assert.Equal(t, RoleAssistant, second[1].Role)
	assert.Equal(t, "no soy json", second[1].Content)
	assert.Equal(t, RoleUser, second[2].Role)

	third := backend.requests[2].Messages
	require.Len(t, third, 5)
	assert.Equal(t, `{"codigo":"x"}`, third[3].Content)
}

func TestChatJSONGivesUpAfterRetries(t *testing.T) {
	backend := &fakeBackend{replies: []string{"basura"}}
	c := newFakeClient(backend)

	_, err := c.ChatJSON(context.Background(), ChatRequest{
		Model:    AliasMini,
		Messages: []ChatMessage{{Role: RoleUser, Content: "codifica"}},
	}, nil)
	require.Error(t, err)
	assert.Len(t, backend.requests, maxCorrectiveRetries+1)
}

func TestResolveModel(t *testing.T) {
	c := newFakeClient(&fakeBackend{})

	assert.Equal(t, "gpt-4o", c.ResolveModel(AliasChat))
	assert.Equal(t, "gpt-4o", c.ResolveModel(""))
	assert.Equal(t, "gpt-4o-mini", c.ResolveModel(AliasMini))
	assert.Equal(t, "o3-mini", c.ResolveModel("o3-mini"))
}

func TestIsReasoningModel(t *testing.T) {
	c := newFakeClient(&fakeBackend{})

	assert.True(t, c.isReasoningModel("o3-mini"))
	assert.False(t, c.isReasoningModel("gpt-4o"))

	c.cfg.ReasoningPrefix = ""
	assert.False(t, c.isReasoningModel("o3-mini"))
}
