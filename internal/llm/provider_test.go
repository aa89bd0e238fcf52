package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/abhisek/sheetsolver/internal/fault"
	"github.com/abhisek/sheetsolver/internal/logging"
	"github.com/abhisek/sheetsolver/internal/resilience"
	"github.com/abhisek/sheetsolver/internal/store"
)

func TestMockProvider_ReturnsCannedResponses(t *testing.T) {
	mock := NewMockProvider(
		MockResponse{Content: json.RawMessage(`{"a":1}`), Usage: Usage{InputTokens: 10, OutputTokens: 5, TotalTokens: 15}},
		MockResponse{Content: json.RawMessage(`{"b":2}`)},
	)

	resp1, err := mock.Generate(context.Background(), Request{Messages: []Message{{Role: RoleUser, Content: "first"}}})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if string(resp1.Content) != `{"a":1}` {
		t.Fatalf("expected {\"a\":1}, got %s", resp1.Content)
	}
	if resp1.Usage.InputTokens != 10 {
		t.Fatalf("expected 10 input tokens, got %d", resp1.Usage.InputTokens)
	}
	if resp1.StopReason != "end" {
		t.Fatalf("expected stop reason 'end', got %q", resp1.StopReason)
	}

	resp2, err := mock.Generate(context.Background(), Request{Messages: []Message{{Role: RoleUser, Content: "second"}}})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp2.Text() != `{"b":2}` {
		t.Fatalf("expected {\"b\":2}, got %s", resp2.Content)
	}
}

func TestMockProvider_EmptyQueueReturnsError(t *testing.T) {
	mock := NewMockProvider()
	_, err := mock.Generate(context.Background(), Request{})
	var unavail *ErrProviderUnavailable
	if !errors.As(err, &unavail) {
		t.Fatalf("expected ErrProviderUnavailable, got: %T", err)
	}
}

func TestMockProvider_HandlerAnswersPerRequest(t *testing.T) {
	mock := NewMockProviderFunc(func(_ context.Context, req Request) (*Response, error) {
		return &Response{Content: json.RawMessage("echo: " + req.Messages[0].Content)}, nil
	})

	var wg sync.WaitGroup
	for _, q := range []string{"a", "b", "c"} {
		wg.Add(1)
		go func(q string) {
			defer wg.Done()
			resp, err := mock.Generate(context.Background(), Request{Messages: []Message{{Role: RoleUser, Content: q}}})
			if err != nil || resp.Text() != "echo: "+q || resp.Model != "mock" {
				t.Errorf("unexpected response for %q: %v %v", q, resp, err)
			}
		}(q)
	}
	wg.Wait()

	if mock.CallCount() != 3 {
		t.Fatalf("expected 3 calls, got %d", mock.CallCount())
	}
}

func TestMockProvider_RecordsCalls(t *testing.T) {
	mock := NewMockProvider(
		MockResponse{Content: json.RawMessage(`{}`)},
	)

	req := Request{
		System:   "sys",
		Messages: []Message{{Role: RoleUser, Content: "hello"}},
	}
	_, _ = mock.Generate(context.Background(), req)

	calls := mock.Requests()
	if len(calls) != 1 {
		t.Fatalf("expected 1 call, got %d", len(calls))
	}
	if calls[0].System != "sys" {
		t.Fatalf("expected system 'sys', got %q", calls[0].System)
	}
}

func TestPurposeContext(t *testing.T) {
	ctx := context.Background()
	if p := PurposeFrom(ctx); p != "unknown" {
		t.Fatalf("expected 'unknown', got %q", p)
	}

	ctx = WithPurpose(ctx, PurposeVision)
	if p := PurposeFrom(ctx); p != "vision" {
		t.Fatalf("expected 'vision', got %q", p)
	}
}

func TestErrorKinds(t *testing.T) {
	tests := []struct {
		err  error
		want fault.Kind
	}{
		{&ErrRateLimit{Err: errors.New("429")}, fault.UpstreamUnavailable},
		{&ErrProviderUnavailable{}, fault.UpstreamUnavailable},
		{&ErrInvalidResponse{Err: errors.New("bad")}, fault.UpstreamProtocol},
		{&ErrEmptyResponse{Model: "m"}, fault.UpstreamEmptyResponse},
		{&ErrMaxTokensExceeded{}, fault.UpstreamProcessingFailed},
	}
	for _, tt := range tests {
		if got := fault.KindOf(tt.err); got != tt.want {
			t.Errorf("KindOf(%T) = %s, want %s", tt.err, got, tt.want)
		}
	}
}

type recordingRepo struct {
	mu     sync.Mutex
	events []store.LLMRequestEventData
	err    error
}

func (r *recordingRepo) AppendLLMRequest(_ context.Context, data store.LLMRequestEventData) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, data)
	return r.err
}

func TestLoggingProvider_RecordsEvent(t *testing.T) {
	mock := NewMockProvider(MockResponse{
		Content: json.RawMessage(`a right triangle with legs 3 and 4`),
		Usage:   Usage{InputTokens: 120, OutputTokens: 12},
	})
	repo := &recordingRepo{}
	var buf bytes.Buffer
	p := WithLogging(mock, "anthropic", repo, zerolog.New(&buf).Level(zerolog.DebugLevel))

	ctx := WithPurpose(logging.WithRunID(context.Background(), "run-7"), PurposeVision)
	_, err := p.Generate(ctx, Request{
		System: "Describe diagrams.",
		Messages: []Message{{
			Role:    RoleUser,
			Content: "Describe the figure.",
			Images:  []Image{{Data: []byte{0x89, 'P', 'N', 'G'}, MIMEType: "image/png"}},
		}},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(repo.events) != 1 {
		t.Fatalf("expected 1 event, got %d", len(repo.events))
	}
	ev := repo.events[0]
	if ev.Provider != "anthropic" || ev.Purpose != "vision" || !ev.Success {
		t.Fatalf("unexpected event: %+v", ev)
	}
	if ev.InputTokens != 120 || ev.OutputTokens != 12 {
		t.Fatalf("unexpected usage: %+v", ev)
	}
	if !strings.Contains(ev.RequestBody, "[image: image/png, 4 bytes]") {
		t.Fatalf("image not summarized in request body: %q", ev.RequestBody)
	}
	if !strings.Contains(buf.String(), `"message":"llm.request"`) {
		t.Fatalf("expected a llm.request log line, got %q", buf.String())
	}
	if !strings.Contains(buf.String(), `"run_id":"run-7"`) {
		t.Fatalf("expected the run id on the log line, got %q", buf.String())
	}
}

func TestLoggingProvider_RepoFailureDoesNotFailRequest(t *testing.T) {
	mock := NewMockProvider(MockResponse{Content: json.RawMessage(`ok`)})
	repo := &recordingRepo{err: errors.New("disk full")}
	p := WithLogging(mock, "mock", repo, zerolog.Nop())

	if _, err := p.Generate(context.Background(), Request{}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestLoggingProvider_NilRepo(t *testing.T) {
	mock := NewMockProvider(MockResponse{Err: &ErrProviderUnavailable{}})
	p := WithLogging(mock, "mock", nil, zerolog.Nop())

	_, err := p.Generate(context.Background(), Request{})
	var unavail *ErrProviderUnavailable
	if !errors.As(err, &unavail) {
		t.Fatalf("expected ErrProviderUnavailable, got: %v", err)
	}
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		cfg     Config
		wantErr bool
	}{
		{"anthropic without key", Config{Provider: "anthropic"}, true},
		{"anthropic with key", Config{Provider: "anthropic", Anthropic: AnthropicConfig{APIKey: "sk-test"}}, false},
		{"openai without key", Config{Provider: "openai"}, true},
		{"openai with key", Config{Provider: "openai", OpenAI: OpenAIConfig{APIKey: "sk-test"}}, false},
		{"openrouter without key", Config{Provider: "openrouter"}, true},
		{"mock needs no key", Config{Provider: "mock"}, false},
		{"unknown provider", Config{Provider: "unknown"}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Fatalf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func clearProviderEnv(t *testing.T) {
	t.Helper()
	for _, k := range []string{
		"ANTHROPIC_API_KEY", "OPENAI_API_KEY", "GEMINI_API_KEY", "OPENROUTER_API_KEY",
		"SHEETSOLVER_LLM_PROVIDER", "SHEETSOLVER_ANTHROPIC_API_KEY", "SHEETSOLVER_ANTHROPIC_MODEL",
		"SHEETSOLVER_OPENAI_API_KEY", "SHEETSOLVER_OPENAI_MODEL", "SHEETSOLVER_OPENAI_BASE_URL",
		"SHEETSOLVER_GEMINI_API_KEY", "SHEETSOLVER_GEMINI_MODEL",
		"SHEETSOLVER_OPENROUTER_API_KEY", "SHEETSOLVER_OPENROUTER_MODEL",
		"SHEETSOLVER_VISION_PROVIDER", "SHEETSOLVER_VISION_MODEL",
		"SHEETSOLVER_REASONING_PROVIDER", "SHEETSOLVER_REASONING_MODEL",
	} {
		t.Setenv(k, "")
	}
}

func TestConfigFromEnv_PurposeOverrides(t *testing.T) {
	clearProviderEnv(t)
	t.Setenv("ANTHROPIC_API_KEY", "sk-ant")
	t.Setenv("OPENAI_API_KEY", "sk-oai")
	t.Setenv("SHEETSOLVER_VISION_PROVIDER", "openai")
	t.Setenv("SHEETSOLVER_VISION_MODEL", "gpt-4.1")

	vision := ConfigFromEnv(PurposeVision)
	if vision.Provider != "openai" || vision.Model() != "gpt-4.1" {
		t.Fatalf("vision config = %s/%s", vision.Provider, vision.Model())
	}
	if err := vision.Validate(); err != nil {
		t.Fatalf("vision config invalid: %v", err)
	}

	reasoning := ConfigFromEnv(PurposeReasoning)
	if reasoning.Provider != "anthropic" || reasoning.Model() != "claude-sonnet" {
		t.Fatalf("reasoning config = %s/%s", reasoning.Provider, reasoning.Model())
	}
	if reasoning.Anthropic.APIKey != "sk-ant" {
		t.Fatalf("expected discovered anthropic key")
	}
}

func TestConfigFromEnv_NoKeysFallsBackToDefaults(t *testing.T) {
	clearProviderEnv(t)

	cfg := ConfigFromEnv(PurposeReasoning)
	if cfg.Provider != "anthropic" {
		t.Fatalf("expected default provider, got %q", cfg.Provider)
	}
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected missing key error")
	}
}

func TestNewProvider_MissingKeyIsConfigurationError(t *testing.T) {
	_, err := NewProvider(context.Background(), Config{Provider: "gemini"}, nil, zerolog.Nop())
	if fault.KindOf(err) != fault.MissingConfiguration {
		t.Fatalf("expected MissingConfiguration, got: %v", err)
	}
}

func TestNewProvider_Mock(t *testing.T) {
	p, err := NewProvider(context.Background(), Config{Provider: "mock"}, nil, zerolog.Nop())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if p.ModelID() != "mock" {
		t.Fatalf("expected 'mock', got %q", p.ModelID())
	}
}

func TestDecorate_TimeoutBoundsCall(t *testing.T) {
	blocking := NewMockProviderFunc(func(ctx context.Context, req Request) (*Response, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	})
	policy := resilience.DefaultPolicy()
	policy.Retries = 0

	p := Decorate(blocking, Config{Provider: "mock", Retry: policy, Timeout: 20 * time.Millisecond}, nil, zerolog.Nop())

	start := time.Now()
	_, err := p.Generate(context.Background(), Request{Messages: []Message{{Role: RoleUser, Content: "x"}}})
	if !fault.Is(err, fault.Timeout) {
		t.Fatalf("expected Timeout, got: %v", err)
	}
	if elapsed := time.Since(start); elapsed > 2*time.Second {
		t.Fatalf("call was not bounded: %v", elapsed)
	}
}

func TestDecorate_NoTimeoutLeavesCallUnbounded(t *testing.T) {
	mock := NewMockProvider(MockResponse{Content: json.RawMessage(`"ok"`)})
	p := Decorate(mock, Config{Provider: "mock", Retry: resilience.DefaultPolicy()}, nil, zerolog.Nop())
	if _, ok := p.(*timeoutProvider); ok {
		t.Fatal("zero timeout must not add a bound")
	}
	resp, err := p.Generate(context.Background(), Request{})
	if err != nil || resp.Text() != `"ok"` {
		t.Fatalf("unexpected result: %v, %v", resp, err)
	}
}
