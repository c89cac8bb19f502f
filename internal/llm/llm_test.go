package llm

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/seenimoa/finreport/internal/config"
	"github.com/seenimoa/finreport/pkg/models"
)

// ════════════════════════════════════════════════════════════════════
// provider.go: types and helpers
// ════════════════════════════════════════════════════════════════════

func TestMessageConstructors(t *testing.T) {
	sys := SystemMessage("你是财务分析师")
	if sys.Role != RoleSystem || sys.Content != "你是财务分析师" {
		t.Fatalf("SystemMessage: got %+v", sys)
	}
	user := UserMessage("hello")
	if user.Role != RoleUser || user.Content != "hello" {
		t.Fatalf("UserMessage: got %+v", user)
	}
}

func TestResponseString(t *testing.T) {
	r := &Response{
		Provider: "deepseek", Model: "deepseek-chat",
		Content: strings.Repeat("x", 150),
		Usage:   Usage{TotalTokens: 42},
		Latency: 1500 * time.Millisecond,
	}
	s := r.String()
	if !strings.Contains(s, "deepseek/deepseek-chat") || !strings.Contains(s, "42 tokens") || !strings.Contains(s, "...") {
		t.Fatalf("unexpected String(): %s", s)
	}
}

func TestErrorsWrapAnalysisProvider(t *testing.T) {
	for _, err := range []error{ErrNoAPIKey, ErrRateLimit, ErrContextLength, ErrProviderDown, ErrInvalidModel, ErrBadResponse, ErrNoProviders} {
		if !errors.Is(err, models.ErrAnalysisProvider) {
			t.Errorf("%v does not match ErrAnalysisProvider", err)
		}
		if models.ErrorKind(err) != models.KindAnalysisError {
			t.Errorf("%v: unexpected kind %s", err, models.ErrorKind(err))
		}
	}
}

func TestIsNonRetryable(t *testing.T) {
	if !isNonRetryable(ErrNoAPIKey) || !isNonRetryable(ErrInvalidModel) || !isNonRetryable(ErrContextLength) {
		t.Fatal("key, model and context errors must not be retried")
	}
	if isNonRetryable(ErrRateLimit) || isNonRetryable(ErrProviderDown) {
		t.Fatal("transient errors must be retried")
	}
}

// ════════════════════════════════════════════════════════════════════
// openai.go: OpenAI-compatible providers
// ════════════════════════════════════════════════════════════════════

func chatServer(t *testing.T, status int, body string, seen *openAIChatRequest) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/chat/completions" {
			http.NotFound(w, r)
			return
		}
		if got := r.Header.Get("Authorization"); got != "Bearer sk-test" {
			t.Errorf("unexpected Authorization header %q", got)
		}
		if seen != nil {
			data, _ := io.ReadAll(r.Body)
			_ = json.Unmarshal(data, seen)
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = io.WriteString(w, body)
	}))
}

const okCompletion = `{"id":"c1","model":"deepseek-chat","choices":[{"index":0,"message":{"role":"assistant","content":"营收稳健增长"},"finish_reason":"stop"}],"usage":{"prompt_tokens":10,"completion_tokens":5,"total_tokens":15}}`

func TestDeepSeekChat(t *testing.T) {
	var seen openAIChatRequest
	srv := chatServer(t, http.StatusOK, okCompletion, &seen)
	defer srv.Close()

	p, err := NewDeepSeekProvider("sk-test", WithOpenAIBaseURL(srv.URL))
	if err != nil {
		t.Fatal(err)
	}
	if p.Name() != ProviderDeepSeek {
		t.Fatalf("expected deepseek, got %s", p.Name())
	}

	resp, err := p.Chat(context.Background(),
		[]Message{SystemMessage("sys"), UserMessage("分析")},
		&ChatOptions{Temperature: 0.2, MaxTokens: 100, JSONMode: true})
	if err != nil {
		t.Fatalf("Chat: %v", err)
	}
	if resp.Content != "营收稳健增长" || resp.FinishReason != FinishStop || resp.Usage.TotalTokens != 15 {
		t.Fatalf("unexpected response %+v", resp)
	}
	if resp.Provider != ProviderDeepSeek {
		t.Fatalf("expected provider deepseek, got %s", resp.Provider)
	}

	if seen.Model != "deepseek-chat" || len(seen.Messages) != 2 {
		t.Fatalf("unexpected request %+v", seen)
	}
	if seen.ResponseFormat == nil || seen.ResponseFormat.Type != "json_object" {
		t.Fatal("JSON mode must set response_format")
	}
	if seen.MaxTokens == nil || *seen.MaxTokens != 100 {
		t.Fatal("max_tokens not forwarded")
	}
}

func TestOpenAIModelOverride(t *testing.T) {
	var seen openAIChatRequest
	srv := chatServer(t, http.StatusOK, okCompletion, &seen)
	defer srv.Close()

	p, _ := NewOpenAIProvider("sk-test", WithOpenAIBaseURL(srv.URL), WithOpenAIModel(""))
	if _, err := p.Chat(context.Background(), []Message{UserMessage("hi")}, &ChatOptions{Model: "gpt-4o"}); err != nil {
		t.Fatal(err)
	}
	if seen.Model != "gpt-4o" {
		t.Fatalf("expected per-request model, got %s", seen.Model)
	}
	if seen.ResponseFormat != nil || seen.Temperature != nil {
		t.Fatal("unset options must be omitted")
	}
}

func TestNewProviderWithoutKey(t *testing.T) {
	if _, err := NewOpenAIProvider(""); !errors.Is(err, ErrNoAPIKey) {
		t.Fatalf("expected ErrNoAPIKey, got %v", err)
	}
	if _, err := NewDeepSeekProvider(""); !errors.Is(err, models.ErrAnalysisProvider) {
		t.Fatalf("expected ErrAnalysisProvider, got %v", err)
	}
}

func TestOpenAIErrorMapping(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
		want   error
	}{
		{"unauthorized", 401, `{"error":{"message":"bad key","type":"auth"}}`, ErrNoAPIKey},
		{"balance", 402, `{"error":{"message":"Insufficient Balance"}}`, ErrNoAPIKey},
		{"rate limit", 429, `{"error":{"message":"slow down"}}`, ErrRateLimit},
		{"context", 400, `{"error":{"message":"too long","code":"context_length_exceeded"}}`, ErrContextLength},
		{"model", 404, `{"error":{"message":"nope","code":"model_not_found"}}`, ErrInvalidModel},
		{"server", 503, `upstream gone`, ErrProviderDown},
		{"other", 400, `{"error":{"message":"bad request"}}`, ErrBadResponse},
		{"no choices", 200, `{"choices":[]}`, ErrBadResponse},
		{"garbage", 200, `not json`, ErrBadResponse},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := chatServer(t, tt.status, tt.body, nil)
			defer srv.Close()
			p, _ := NewOpenAIProvider("sk-test", WithOpenAIBaseURL(srv.URL))
			_, err := p.Chat(context.Background(), []Message{UserMessage("hi")}, nil)
			if !errors.Is(err, tt.want) {
				t.Fatalf("expected %v, got %v", tt.want, err)
			}
			if !errors.Is(err, models.ErrAnalysisProvider) {
				t.Fatalf("error must match ErrAnalysisProvider: %v", err)
			}
		})
	}
}

func TestOpenAIProviderDown(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	p, _ := NewOpenAIProvider("sk-test", WithOpenAIBaseURL(url))
	if _, err := p.Chat(context.Background(), []Message{UserMessage("hi")}, nil); !errors.Is(err, ErrProviderDown) {
		t.Fatalf("expected ErrProviderDown, got %v", err)
	}
}

func TestOpenAIPing(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer good" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		_, _ = io.WriteString(w, `{"data":[]}`)
	}))
	defer srv.Close()

	good, _ := NewOpenAIProvider("good", WithOpenAIBaseURL(srv.URL))
	if err := good.Ping(context.Background()); err != nil {
		t.Fatalf("Ping: %v", err)
	}
	bad, _ := NewOpenAIProvider("bad", WithOpenAIBaseURL(srv.URL))
	if err := bad.Ping(context.Background()); !errors.Is(err, ErrNoAPIKey) {
		t.Fatalf("expected ErrNoAPIKey, got %v", err)
	}
}

// ════════════════════════════════════════════════════════════════════
// ollama.go
// ════════════════════════════════════════════════════════════════════

func TestOllamaChat(t *testing.T) {
	var seen ollamaChatRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/tags":
			_, _ = io.WriteString(w, `{"models":[]}`)
		case "/api/chat":
			data, _ := io.ReadAll(r.Body)
			_ = json.Unmarshal(data, &seen)
			_, _ = io.WriteString(w, `{"model":"qwen2.5:14b","message":{"role":"assistant","content":"{\"summary\":\"ok\"}"},"done":true,"done_reason":"stop","prompt_eval_count":7,"eval_count":3}`)
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	p := NewOllamaProvider(srv.URL + "/")
	if err := p.Ping(context.Background()); err != nil {
		t.Fatalf("Ping: %v", err)
	}
	resp, err := p.Chat(context.Background(), []Message{UserMessage("hi")}, &ChatOptions{JSONMode: true, MaxTokens: 64})
	if err != nil {
		t.Fatalf("Chat: %v", err)
	}
	if resp.Content != `{"summary":"ok"}` || resp.Usage.TotalTokens != 10 || resp.FinishReason != FinishStop {
		t.Fatalf("unexpected response %+v", resp)
	}
	if seen.Stream || seen.Format != "json" || seen.Options == nil || seen.Options.NumPredict != 64 {
		t.Fatalf("unexpected request %+v", seen)
	}
}

func TestOllamaErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/api/tags" {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		http.Error(w, `model "nope" not found`, http.StatusNotFound)
	}))
	defer srv.Close()

	p := NewOllamaProvider(srv.URL, WithOllamaModel("nope"))
	if _, err := p.Chat(context.Background(), []Message{UserMessage("hi")}, nil); !errors.Is(err, ErrInvalidModel) {
		t.Fatalf("expected ErrInvalidModel, got %v", err)
	}
	if err := p.Ping(context.Background()); !errors.Is(err, ErrProviderDown) {
		t.Fatalf("expected ErrProviderDown, got %v", err)
	}
}

// ════════════════════════════════════════════════════════════════════
// router.go
// ════════════════════════════════════════════════════════════════════

type fakeProvider struct {
	name  string
	err   error
	calls atomic.Int32
}

func (f *fakeProvider) Name() string     { return f.name }
func (f *fakeProvider) Models() []string { return []string{f.name + "-model"} }
func (f *fakeProvider) Ping(context.Context) error {
	return f.err
}
func (f *fakeProvider) Chat(ctx context.Context, _ []Message, _ *ChatOptions) (*Response, error) {
	f.calls.Add(1)
	if f.err != nil {
		return nil, f.err
	}
	return &Response{Content: "from " + f.name, Provider: f.name}, nil
}

func TestRouterFallback(t *testing.T) {
	primary := &fakeProvider{name: "deepseek", err: ErrProviderDown}
	backup := &fakeProvider{name: "ollama"}

	r := NewRouter("deepseek", WithFallbacks("ollama"), WithMaxRetries(1), WithRetryDelay(time.Millisecond))
	r.RegisterProvider(primary)
	r.RegisterProvider(backup)

	resp, err := r.Chat(context.Background(), []Message{UserMessage("hi")}, nil)
	if err != nil {
		t.Fatalf("Chat: %v", err)
	}
	if resp.Content != "from ollama" {
		t.Fatalf("expected fallback response, got %q", resp.Content)
	}
	if primary.calls.Load() != 2 {
		t.Fatalf("expected primary retried once, got %d calls", primary.calls.Load())
	}
	if got := r.ProviderNames(); len(got) != 2 || got[0] != "deepseek" {
		t.Fatalf("unexpected chain %v", got)
	}
}

func TestRouterNonRetryable(t *testing.T) {
	primary := &fakeProvider{name: "openai", err: ErrNoAPIKey}
	r := NewRouter("openai", WithMaxRetries(3), WithRetryDelay(time.Millisecond))
	r.RegisterProvider(primary)

	_, err := r.Chat(context.Background(), []Message{UserMessage("hi")}, nil)
	if !errors.Is(err, ErrNoAPIKey) || !errors.Is(err, models.ErrAnalysisProvider) {
		t.Fatalf("expected ErrNoAPIKey, got %v", err)
	}
	if primary.calls.Load() != 1 {
		t.Fatalf("non-retryable error retried: %d calls", primary.calls.Load())
	}
}

func TestRouterNoProviders(t *testing.T) {
	r := NewRouter("deepseek")
	if _, err := r.Chat(context.Background(), nil, nil); !errors.Is(err, ErrNoProviders) {
		t.Fatalf("expected ErrNoProviders, got %v", err)
	}
	if err := r.Ping(context.Background()); !errors.Is(err, ErrNoProviders) {
		t.Fatalf("expected ErrNoProviders from Ping, got %v", err)
	}
	if r.Models() != nil {
		t.Fatal("expected no models")
	}
}

func TestRouterCancelled(t *testing.T) {
	r := NewRouter("deepseek", WithMaxRetries(5), WithRetryDelay(time.Hour))
	r.RegisterProvider(&fakeProvider{name: "deepseek", err: ErrRateLimit})

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if _, err := r.Chat(ctx, nil, nil); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
}

func TestRouterHealthCheck(t *testing.T) {
	r := NewRouter("deepseek")
	r.RegisterProvider(&fakeProvider{name: "deepseek"})
	r.RegisterProvider(&fakeProvider{name: "ollama", err: ErrProviderDown})

	status := r.HealthCheck(context.Background())
	if status["deepseek"] != nil || !errors.Is(status["ollama"], ErrProviderDown) {
		t.Fatalf("unexpected health %v", status)
	}
}

func TestRouterModelsByProvider(t *testing.T) {
	r := NewRouter("deepseek", WithFallbacks("ollama", "openai"))
	r.RegisterProvider(&fakeProvider{name: "deepseek"})
	r.RegisterProvider(&fakeProvider{name: "ollama"})

	got := r.ModelsByProvider()
	if len(got) != 2 {
		t.Fatalf("expected only registered providers, got %v", got)
	}
	if m := got["ollama"]; len(m) != 1 || m[0] != "ollama-model" {
		t.Fatalf("unexpected ollama models %v", m)
	}
}

func TestNewRouterFromConfig(t *testing.T) {
	cfg := config.LLMConfig{
		Primary:     ProviderOpenAI,
		DeepSeekKey: "sk-ds",
		OpenAIKey:   "sk-oa",
		Model:       "gpt-4o",
		Timeout:     time.Second,
	}
	r, err := NewRouterFromConfig(cfg, nil)
	if err != nil {
		t.Fatal(err)
	}
	names := r.ProviderNames()
	if len(names) != 2 || names[0] != ProviderOpenAI || names[1] != ProviderDeepSeek {
		t.Fatalf("unexpected chain %v", names)
	}
	p, _ := r.GetProvider(ProviderOpenAI)
	if p.(*OpenAIProvider).model != "gpt-4o" {
		t.Fatal("primary model not applied")
	}
	ds, _ := r.GetProvider(ProviderDeepSeek)
	if ds.(*OpenAIProvider).model != "deepseek-chat" {
		t.Fatal("fallback must keep its own default model")
	}

	if _, err := NewRouterFromConfig(config.LLMConfig{Primary: ProviderDeepSeek}, nil); !errors.Is(err, ErrNoAPIKey) {
		t.Fatalf("expected ErrNoAPIKey with nothing configured, got %v", err)
	}

	r, err = NewRouterFromConfig(config.LLMConfig{Primary: ProviderOllama}, nil)
	if err != nil {
		t.Fatal(err)
	}
	if names := r.ProviderNames(); len(names) != 1 || names[0] != ProviderOllama {
		t.Fatalf("unexpected chain %v", names)
	}
}
