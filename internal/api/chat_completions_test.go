package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"testing"

	"github.com/samcharles93/wavvy/internal/inference"
)

func decodeCompletion(t *testing.T, body []byte) ChatCompletionResponse {
	t.Helper()
	var resp ChatCompletionResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return resp
}

func TestChatCompletionsBasic(t *testing.T) {
	t.Parallel()

	_, h := newTestEcho(newToyProvider(t))
	body := `{"model":"toy-primary","messages":[{"role":"user","content":"hello"}]}`
	rec := doJSON(t, h, http.MethodPost, "/v1/chat/completions", body)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d body=%s", rec.Code, rec.Body.String())
	}

	resp := decodeCompletion(t, rec.Body.Bytes())
	if resp.Object != "chat.completion" {
		t.Fatalf("unexpected object: %q", resp.Object)
	}
	if !strings.HasPrefix(resp.ID, "chatcmpl-") {
		t.Fatalf("unexpected id format: %q", resp.ID)
	}
	if resp.Model != "toy-primary" || resp.Created != fixedClock().Unix() {
		t.Fatalf("unexpected model/created: %q %d", resp.Model, resp.Created)
	}
	if len(resp.Choices) != 1 || resp.Choices[0].Message == nil {
		t.Fatalf("expected one message choice, got %+v", resp.Choices)
	}
	if resp.Choices[0].Message.Role != "assistant" {
		t.Fatalf("expected assistant role, got %q", resp.Choices[0].Message.Role)
	}
	finish := resp.Choices[0].FinishReason
	if finish == nil || (*finish != inference.FinishStop && *finish != inference.FinishLength) {
		t.Fatalf("unexpected finish_reason %v", finish)
	}
	u := resp.Usage
	if u.PromptTokens == 0 || u.CompletionTokens == 0 || u.CompletionTokens > 8 || u.TotalTokens != u.PromptTokens+u.CompletionTokens {
		t.Fatalf("unexpected usage %+v", u)
	}
}

func TestChatCompletionsDefaultModel(t *testing.T) {
	t.Parallel()

	_, h := newTestEcho(newToyProvider(t))
	body := `{"messages":[{"role":"user","content":"hello"}],"max_tokens":3}`
	rec := doJSON(t, h, http.MethodPost, "/v1/chat/completions", body)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d body=%s", rec.Code, rec.Body.String())
	}
	resp := decodeCompletion(t, rec.Body.Bytes())
	if resp.Usage.CompletionTokens > 3 {
		t.Fatalf("max_tokens not applied: %+v", resp.Usage)
	}
}

func TestChatCompletionsStreamMatchesSync(t *testing.T) {
	t.Parallel()

	for _, model := range []string{"toy-primary", "toy-alternate"} {
		t.Run(model, func(t *testing.T) {
			t.Parallel()

			_, h := newTestEcho(newToyProvider(t))
			base := `{"model":"` + model + `","messages":[{"role":"system","content":"be brief"},{"role":"user","content":"hi hi!"}],"seed":11,"temperature":0.9,"reasoning_format":"none"`

			rec := doJSON(t, h, http.MethodPost, "/v1/chat/completions", base+`}`)
			if rec.Code != http.StatusOK {
				t.Fatalf("sync status %d body=%s", rec.Code, rec.Body.String())
			}
			sync := decodeCompletion(t, rec.Body.Bytes())

			rec = doJSON(t, h, http.MethodPost, "/v1/chat/completions", base+`,"stream":true}`)
			if rec.Code != http.StatusOK {
				t.Fatalf("stream status %d body=%s", rec.Code, rec.Body.String())
			}
			if ct := rec.Header().Get("Content-Type"); !strings.HasPrefix(ct, "text/event-stream") {
				t.Fatalf("content type %q", ct)
			}
			events, done := readSSE(t, rec.Body.String())
			if !done {
				t.Fatalf("missing [DONE]")
			}

			var content strings.Builder
			var last ChatCompletionChunk
			for i, ev := range events {
				var chunk ChatCompletionChunk
				if err := json.Unmarshal([]byte(ev), &chunk); err != nil {
					t.Fatalf("decode chunk %d: %v", i, err)
				}
				if chunk.Object != "chat.completion.chunk" || chunk.ID != events0ID(t, events) {
					t.Fatalf("chunk %d: unexpected envelope %+v", i, chunk)
				}
				if s, ok := chunk.Choices[0].Delta.Content.(string); ok {
					content.WriteString(s)
				}
				last = chunk
			}

			want := sync.Choices[0].Message.Content.(string)
			if content.String() != want {
				t.Fatalf("stream content %q, sync content %q", content.String(), want)
			}
			if last.Choices[0].FinishReason == nil || *last.Choices[0].FinishReason != *sync.Choices[0].FinishReason {
				t.Fatalf("final chunk finish %v, sync %v", last.Choices[0].FinishReason, *sync.Choices[0].FinishReason)
			}
			if last.Usage == nil || *last.Usage != sync.Usage {
				t.Fatalf("final usage %+v, sync %+v", last.Usage, sync.Usage)
			}
		})
	}
}

func events0ID(t *testing.T, events []string) string {
	t.Helper()
	var first ChatCompletionChunk
	if err := json.Unmarshal([]byte(events[0]), &first); err != nil {
		t.Fatalf("decode first chunk: %v", err)
	}
	return first.ID
}

func TestChatCompletionsReasoningSplit(t *testing.T) {
	t.Parallel()

	script := []int{tokThinkOpen, tokH, tokI, tokThinkClose, tokSpaceHi, tokBang, tokR1EOS}
	_, h := newTestEcho(newScriptedProvider(t, script...))
	body := `{"messages":[{"role":"user","content":"hi"}]}`

	rec := doJSON(t, h, http.MethodPost, "/v1/chat/completions", body)
	if rec.Code != http.StatusOK {
		t.Fatalf("sync status %d body=%s", rec.Code, rec.Body.String())
	}
	resp := decodeCompletion(t, rec.Body.Bytes())
	msg := resp.Choices[0].Message
	if msg.Content != " hi!" || msg.ReasoningContent != "hi" {
		t.Fatalf("got content %q reasoning %q", msg.Content, msg.ReasoningContent)
	}
	if *resp.Choices[0].FinishReason != inference.FinishStop || resp.Usage.CompletionTokens != len(script)-1 {
		t.Fatalf("unexpected finish/usage: %v %+v", *resp.Choices[0].FinishReason, resp.Usage)
	}

	rec = doJSON(t, h, http.MethodPost, "/v1/chat/completions", `{"messages":[{"role":"user","content":"hi"}],"stream":true}`)
	events, done := readSSE(t, rec.Body.String())
	if !done {
		t.Fatalf("missing [DONE]")
	}
	var content, reasoningText strings.Builder
	for _, ev := range events {
		var chunk ChatCompletionChunk
		if err := json.Unmarshal([]byte(ev), &chunk); err != nil {
			t.Fatalf("decode chunk: %v", err)
		}
		d := chunk.Choices[0].Delta
		if s, ok := d.Content.(string); ok {
			content.WriteString(s)
		}
		reasoningText.WriteString(d.ReasoningContent)
	}
	if content.String() != " hi!" || reasoningText.String() != "hi" {
		t.Fatalf("stream content %q reasoning %q", content.String(), reasoningText.String())
	}

	rec = doJSON(t, h, http.MethodPost, "/v1/chat/completions", `{"messages":[{"role":"user","content":"hi"}],"reasoning_format":"none"}`)
	resp = decodeCompletion(t, rec.Body.Bytes())
	if resp.Choices[0].Message.Content != "<think>hi</think> hi!" {
		t.Fatalf("unsplit content %q", resp.Choices[0].Message.Content)
	}
}

func TestChatCompletionsValidationErrors(t *testing.T) {
	t.Parallel()

	_, h := newTestEcho(newToyProvider(t))
	cases := []struct {
		name   string
		body   string
		status int
		substr string
	}{
		{"bad json", `{`, http.StatusBadRequest, ""},
		{"empty messages", `{"messages":[]}`, http.StatusBadRequest, "messages is required"},
		{"unknown role", `{"messages":[{"role":"tool","content":"x"}]}`, http.StatusBadRequest, "unknown role"},
		{"negative seed", `{"messages":[{"role":"user","content":"x"}],"seed":-1}`, http.StatusBadRequest, "seed"},
		{"invalid temperature", `{"messages":[{"role":"user","content":"x"}],"temperature":-1}`, http.StatusBadRequest, "temperature"},
		{"invalid temperature streaming", `{"messages":[{"role":"user","content":"x"}],"temperature":-1,"stream":true}`, http.StatusBadRequest, "temperature"},
		{"invalid top_p", `{"messages":[{"role":"user","content":"x"}],"top_p":2}`, http.StatusBadRequest, "top_p"},
		{"unknown reasoning format", `{"messages":[{"role":"user","content":"x"}],"reasoning_format":"xml"}`, http.StatusBadRequest, "reasoning_format"},
		{"unknown model", `{"model":"nope","messages":[{"role":"user","content":"x"}]}`, http.StatusNotFound, "model not found"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			rec := doJSON(t, h, http.MethodPost, "/v1/chat/completions", tc.body)
			if rec.Code != tc.status {
				t.Fatalf("expected %d, got %d body=%s", tc.status, rec.Code, rec.Body.String())
			}
			var er ErrorResponse
			if err := json.Unmarshal(rec.Body.Bytes(), &er); err != nil {
				t.Fatalf("decode error body %q: %v", rec.Body.String(), err)
			}
			if !strings.Contains(er.Error.Message, tc.substr) {
				t.Fatalf("message %q missing %q", er.Error.Message, tc.substr)
			}
		})
	}
}

func TestChatCompletionsProviderError(t *testing.T) {
	t.Parallel()

	p := &singleEngineProvider{name: "broken", err: errors.New("disk on fire")}
	_, h := newTestEcho(p)
	rec := doJSON(t, h, http.MethodPost, "/v1/chat/completions", `{"messages":[{"role":"user","content":"x"}]}`)
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d body=%s", rec.Code, rec.Body.String())
	}
	if !strings.Contains(rec.Body.String(), "disk on fire") {
		t.Fatalf("unexpected body %s", rec.Body.String())
	}
}

func TestErrorStatus(t *testing.T) {
	t.Parallel()

	cases := []struct {
		err    error
		status int
	}{
		{newInvalidRequest("x"), http.StatusBadRequest},
		{errors.Join(inference.ErrConfig, errors.New("x")), http.StatusBadRequest},
		{errors.Join(ErrModelLoad, inference.ErrConfig), http.StatusInternalServerError},
		{ErrModelNotFound, http.StatusNotFound},
		{inference.ErrSuperseded, http.StatusConflict},
		{inference.ErrTokenizer, http.StatusInternalServerError},
	}
	for _, tc := range cases {
		if got, _ := errorStatus(tc.err); got != tc.status {
			t.Fatalf("errorStatus(%v) = %d, want %d", tc.err, got, tc.status)
		}
	}
}
