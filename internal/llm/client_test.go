package llm

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

type fakeBackend struct {
	reply string
	err   error
	calls []Request
	ids   []Identity
}

func (f *fakeBackend) Generate(_ context.Context, id Identity, req Request) (string, error) {
	f.calls = append(f.calls, req)
	f.ids = append(f.ids, id)
	return f.reply, f.err
}

func TestRouterDispatchesByProvider(t *testing.T) {
	gem := &fakeBackend{reply: "from gemini"}
	svc := &fakeBackend{reply: "from service"}
	r := NewRouter(map[Provider]Backend{ProviderGemini: gem, ProviderLLMService: svc}, nil, zaptest.NewLogger(t))

	out, err := r.GenerateText(context.Background(), Identity{Provider: ProviderLLMService, Model: "m"}, "sys", "hello")
	require.NoError(t, err)
	assert.Equal(t, "from service", out)
	assert.Empty(t, gem.calls)
	require.Len(t, svc.calls, 1)
	assert.Equal(t, "sys", svc.calls[0].System)
	assert.Nil(t, svc.calls[0].Schema)
}

func TestRouterUnknownProvider(t *testing.T) {
	r := NewRouter(map[Provider]Backend{}, nil, nil)
	_, err := r.GenerateText(context.Background(), Identity{Provider: "nope"}, "", "x")
	assert.ErrorIs(t, err, ErrNoBackend)
}

func TestGenerateStructuredDecodesFencedJSON(t *testing.T) {
	gem := &fakeBackend{reply: "```json\n{\"learnings\":[\"a\",\"b\"]}\n```"}
	r := NewRouter(map[Provider]Backend{ProviderGemini: gem}, nil, nil)

	var out struct {
		Learnings []string `json:"learnings"`
	}
	schema := Object(map[string]*Schema{"learnings": StringArray("", 2)}, "learnings")
	err := r.GenerateStructured(context.Background(), DefaultIdentities().Primary, "", "p", schema, &out)
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, out.Learnings)
	require.Len(t, gem.calls, 1)
	assert.Same(t, schema, gem.calls[0].Schema)
}

func TestGenerateStructuredInvalidJSON(t *testing.T) {
	gem := &fakeBackend{reply: "not json"}
	r := NewRouter(map[Provider]Backend{ProviderGemini: gem}, nil, nil)

	var out map[string]interface{}
	err := r.GenerateStructured(context.Background(), DefaultIdentities().Primary, "", "p", Object(nil), &out)
	var ce *CallError
	require.ErrorAs(t, err, &ce)
	assert.Contains(t, ce.Message, "invalid structured response")
}

func TestBackendErrorPropagatesUnchanged(t *testing.T) {
	want := &CallError{Identity: Identity{Name: "primary"}, StatusCode: 429, Message: "You exceeded your current quota"}
	gem := &fakeBackend{err: want}
	r := NewRouter(map[Provider]Backend{ProviderGemini: gem}, nil, nil)

	_, err := r.GenerateText(context.Background(), DefaultIdentities().Primary, "", "p")
	assert.True(t, errors.Is(err, want))
}

func TestStripCodeFence(t *testing.T) {
	cases := map[string]string{
		`{"a":1}`:                 `{"a":1}`,
		"```json\n{\"a\":1}\n```": `{"a":1}`,
		"```\n[1,2]\n```":         `[1,2]`,
		"  \n{\"a\":1}\n  ":       `{"a":1}`,
	}
	for in, want := range cases {
		assert.Equal(t, want, StripCodeFence(in), "input %q", in)
	}
}

func TestIdentitiesWithDefaults(t *testing.T) {
	ids := Identities{Primary: Identity{Name: "p", Model: "custom"}}.WithDefaults()
	assert.Equal(t, "custom", ids.Primary.Model)
	assert.Equal(t, ProviderGemini, ids.Primary.Provider)
	assert.Equal(t, "gemini-2.0-flash", ids.Fallback.Model)
	assert.Equal(t, "custom", ids.Deep.Model)
	assert.Equal(t, "deep", ids.Deep.Name)
}

func TestIdentitySetSwap(t *testing.T) {
	set := NewIdentitySet(Identities{Primary: Identity{Name: "p", Model: "a"}})
	assert.Equal(t, "a", set.Load().Primary.Model)
	assert.Equal(t, "a", set.Load().Deep.Model)

	set.Store(Identities{Primary: Identity{Name: "p", Model: "b"}, Fallback: Identity{Name: "f", Model: "c"}})
	assert.Equal(t, "b", set.Load().Primary.Model)
	assert.Equal(t, "c", set.Load().Fallback.Model)
}
