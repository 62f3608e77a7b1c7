package api

import (
	"bufio"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/labstack/echo/v5"

	"github.com/samcharles93/wavvy/internal/chat"
	"github.com/samcharles93/wavvy/internal/inference"
	"github.com/samcharles93/wavvy/internal/tokenizer"
)

// testTokenizerJSON is a byte-level BPE vocabulary with an unknown token so
// any prompt encodes, plus the chat markers of both variants.
const testTokenizerJSON = `{
	"model": {
		"type": "BPE",
		"vocab": {"<unk>": 0, "h": 1, "i": 2, "hi": 3, "Ġ": 4, "Ġhi": 5, "!": 6, "Ċ": 7},
		"merges": ["h i", "Ġ hi"],
		"unk_token": "<unk>"
	},
	"pre_tokenizer": {"type": "ByteLevel"},
	"added_tokens": [
		{"id": 8, "content": "<|im_start|>", "special": true},
		{"id": 9, "content": "<|im_end|>", "special": true},
		{"id": 10, "content": "<｜end▁of▁sentence｜>", "special": true},
		{"id": 11, "content": "<｜User｜>", "special": true},
		{"id": 12, "content": "<｜Assistant｜>", "special": true},
		{"id": 13, "content": "<｜System｜>", "special": true},
		{"id": 14, "content": "<think>", "special": false},
		{"id": 15, "content": "</think>", "special": false}
	]
}`

const (
	tokH          = 1
	tokI          = 2
	tokSpaceHi    = 5
	tokBang       = 6
	tokR1EOS      = 10
	tokThinkOpen  = 14
	tokThinkClose = 15
)

func testSamplingConfig() inference.SamplingConfig {
	cfg := inference.DefaultSamplingConfig()
	cfg.SampleLen = 8
	cfg.Seed = 7
	return cfg
}

// newToyProvider serves a toy model under each variant from a tokenizer
// written to a temp dir.
func newToyProvider(t *testing.T) *CachedEngineProvider {
	t.Helper()
	path := filepath.Join(t.TempDir(), "tokenizer.json")
	if err := os.WriteFile(path, []byte(testTokenizerJSON), 0o644); err != nil {
		t.Fatalf("write tokenizer: %v", err)
	}
	p := NewCachedEngineProvider(EngineProviderConfig{
		Models: map[string]inference.Loader{
			"toy-primary":   {TokenizerJSONPath: path, ModelSpec: "toy:16", Variant: chat.Primary},
			"toy-alternate": {TokenizerJSONPath: path, ModelSpec: "toy:16", Variant: chat.Alternate},
		},
		DefaultModel: "toy-primary",
		Base:         testSamplingConfig(),
	})
	t.Cleanup(func() { _ = p.Close() })
	return p
}

// scriptedModel emits script[k] on its k-th forward call since Reset,
// repeating the last entry.
type scriptedModel struct {
	vocab  int
	script []int
	calls  int
}

func (m *scriptedModel) Forward(_ context.Context, _ []int, _ int) ([]float32, error) {
	lv := make([]float32, m.vocab)
	lv[m.script[min(m.calls, len(m.script)-1)]] = 10
	m.calls++
	return lv, nil
}

func (m *scriptedModel) Reset() { m.calls = 0 }

// singleEngineProvider serves one prebuilt engine.
type singleEngineProvider struct {
	name   string
	engine *inference.Engine
	err    error
	mu     sync.Mutex
}

func (p *singleEngineProvider) WithEngine(ctx context.Context, modelID string, fn func(engine *inference.Engine) error) error {
	if p.err != nil {
		return p.err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	return fn(p.engine)
}

func (p *singleEngineProvider) ListModels() []string { return []string{p.name} }

// newScriptedProvider builds an Alternate engine whose completion is
// script, prompt ingestion taking one forward call.
func newScriptedProvider(t *testing.T, script ...int) *singleEngineProvider {
	t.Helper()
	tok, err := tokenizer.LoadHFBytes([]byte(testTokenizerJSON), nil)
	if err != nil {
		t.Fatalf("load tokenizer: %v", err)
	}
	cfg := testSamplingConfig()
	cfg.SplitPrompt = false
	cfg.Temperature = 0
	cfg.RepeatPenalty = 1
	engine, err := inference.NewEngine(&scriptedModel{vocab: tok.VocabSize(), script: script}, tok, chat.Alternate, cfg)
	if err != nil {
		t.Fatalf("new engine: %v", err)
	}
	return &singleEngineProvider{name: "scripted", engine: engine}
}

var fixedClock = func() time.Time { return time.Unix(1700000000, 0) }

func newTestEcho(provider EngineProvider) (*echo.Echo, http.Handler) {
	server := NewServer(provider, WithClock(fixedClock))
	e := echo.New()
	server.Register(e)
	return e, server.Handler(e)
}

func doJSON(t *testing.T, h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

// readSSE returns the data payloads of an event stream, excluding [DONE].
func readSSE(t *testing.T, body string) (events []string, done bool) {
	t.Helper()
	sc := bufio.NewScanner(strings.NewReader(body))
	for sc.Scan() {
		line := sc.Text()
		payload, ok := strings.CutPrefix(line, "data: ")
		if !ok {
			continue
		}
		if payload == "[DONE]" {
			done = true
			continue
		}
		events = append(events, payload)
	}
	return events, done
}

func TestHealthAndModels(t *testing.T) {
	t.Parallel()

	_, h := newTestEcho(newToyProvider(t))

	rec := doJSON(t, h, http.MethodGet, "/healthz", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("healthz status %d body=%s", rec.Code, rec.Body.String())
	}
	var health HealthResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &health); err != nil {
		t.Fatalf("decode health: %v", err)
	}
	if health.Status != "ok" || len(health.Models) != 2 {
		t.Fatalf("unexpected health %+v", health)
	}

	rec = doJSON(t, h, http.MethodGet, "/v1/models", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("models status %d body=%s", rec.Code, rec.Body.String())
	}
	var list ModelList
	if err := json.Unmarshal(rec.Body.Bytes(), &list); err != nil {
		t.Fatalf("decode models: %v", err)
	}
	if list.Object != "list" || len(list.Data) != 2 {
		t.Fatalf("unexpected list %+v", list)
	}
	if list.Data[0].ID != "toy-alternate" || list.Data[1].ID != "toy-primary" {
		t.Fatalf("models not sorted: %+v", list.Data)
	}
	if list.Data[0].Created != fixedClock().Unix() {
		t.Fatalf("created %d", list.Data[0].Created)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	t.Parallel()

	_, h := newTestEcho(newToyProvider(t))
	body := `{"messages":[{"role":"user","content":"hi"}],"max_tokens":2}`
	if rec := doJSON(t, h, http.MethodPost, "/v1/chat/completions", body); rec.Code != http.StatusOK {
		t.Fatalf("completion status %d body=%s", rec.Code, rec.Body.String())
	}

	rec := doJSON(t, h, http.MethodGet, "/metrics", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("metrics status %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "wavvy_http_requests_total") {
		t.Fatalf("expected request counter in /metrics output")
	}
}
