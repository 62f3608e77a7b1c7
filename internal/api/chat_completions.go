package api

import (
	"context"
	"fmt"
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v5"

	"github.com/samcharles93/wavvy/internal/chat"
	"github.com/samcharles93/wavvy/internal/inference"
	"github.com/samcharles93/wavvy/internal/reasoning"
)

// completion carries the per-request identity shared by every chunk.
type completion struct {
	id      string
	created int64
	model   string
}

func (s *Server) handleChatCompletions(c *echo.Context) error {
	if s.provider == nil {
		return writeError(c, http.StatusInternalServerError, "server_error", "engine provider not configured", "", "")
	}

	req, err := decodeJSON[ChatCompletionRequest](c.Request().Body)
	if err != nil {
		return writeBadRequest(c, err.Error())
	}
	if len(req.Messages) == 0 {
		return writeBadRequest(c, "messages is required and must not be empty")
	}
	msgs, err := chatMessagesToConversation(req.Messages)
	if err != nil {
		return writeBadRequest(c, err.Error())
	}
	opts, err := req.configOptions()
	if err != nil {
		return writeBadRequest(c, err.Error())
	}

	meta := completion{
		id:      "chatcmpl-" + uuid.NewString(),
		created: s.clock().Unix(),
		model:   req.Model,
	}
	if meta.model == "" {
		meta.model = s.defaultModelName()
	}

	if req.Stream != nil && *req.Stream {
		return s.handleChatCompletionsStream(c, &req, msgs, opts, meta)
	}
	return s.handleChatCompletionsSync(c, &req, msgs, opts, meta)
}

// startGeneration renders the conversation for the engine's variant and
// ingests it with the request overrides layered on the engine config.
func startGeneration(ctx context.Context, engine *inference.Engine, req *ChatCompletionRequest, msgs []chat.Message, opts inference.ConfigOptions) (*inference.Generation, bool, error) {
	split, err := req.splitReasoning(engine.Variant())
	if err != nil {
		return nil, false, err
	}
	prompt, err := engine.Prompt(msgs, req.templateData())
	if err != nil {
		return nil, false, err
	}
	cfg := inference.ResolveConfig(engine.Config(), inference.GenDefaults{}, opts)
	gen, err := engine.StartWithConfig(ctx, prompt, cfg)
	if err != nil {
		return nil, false, err
	}
	return gen, split, nil
}

func (s *Server) handleChatCompletionsSync(c *echo.Context, req *ChatCompletionRequest, msgs []chat.Message, opts inference.ConfigOptions, meta completion) error {
	ctx := c.Request().Context()

	var (
		result *inference.ChatResponse
		split  bool
	)
	err := s.provider.WithEngine(ctx, req.Model, func(engine *inference.Engine) error {
		gen, sp, err := startGeneration(ctx, engine, req, msgs, opts)
		if err != nil {
			return err
		}
		split = sp
		result, err = gen.Collect(ctx)
		return err
	})
	if err != nil {
		s.log.Warn("chat completion failed", "id", meta.id, "kind", inference.Kind(err), "error", err)
		return writeInferenceError(c, err)
	}

	msg := &ChatMessage{Role: "assistant", Content: result.Content}
	if split {
		parts := reasoning.SplitRaw(result.Content)
		msg.Content = parts.Content
		msg.ReasoningContent = parts.Reasoning
	}
	resp := ChatCompletionResponse{
		ID:      meta.id,
		Object:  "chat.completion",
		Created: meta.created,
		Model:   meta.model,
		Choices: []ChatChoice{
			{
				Index:        0,
				Message:      msg,
				FinishReason: ptr(result.FinishReason),
			},
		},
		Usage: usageOf(*result),
	}
	return c.JSON(http.StatusOK, resp)
}

func (s *Server) handleChatCompletionsStream(c *echo.Context, req *ChatCompletionRequest, msgs []chat.Message, opts inference.ConfigOptions, meta completion) error {
	ctx := c.Request().Context()

	streamed := false
	err := s.provider.WithEngine(ctx, req.Model, func(engine *inference.Engine) error {
		gen, split, err := startGeneration(ctx, engine, req, msgs, opts)
		if err != nil {
			return err
		}
		streamed = true
		return s.writeStream(ctx, c, gen, split, meta)
	})
	if err != nil && !streamed {
		s.log.Warn("chat completion failed", "id", meta.id, "kind", inference.Kind(err), "error", err)
		return writeInferenceError(c, err)
	}
	if err != nil {
		s.log.Warn("chat completion stream ended early", "id", meta.id, "kind", inference.Kind(err), "error", err)
	}
	return nil
}

// writeStream relays every generation increment as an SSE chunk. Headers
// are only written once the prompt has been ingested so setup failures can
// still be reported as JSON.
func (s *Server) writeStream(ctx context.Context, c *echo.Context, gen *inference.Generation, split bool, meta completion) error {
	res := c.Response()
	res.Header().Set(echo.HeaderContentType, "text/event-stream")
	res.Header().Set("Cache-Control", "no-cache")
	res.Header().Set("Connection", "keep-alive")
	res.WriteHeader(http.StatusOK)

	flush := func() {}
	if f, ok := res.(interface{ Flush() }); ok {
		flush = f.Flush
	}
	send := func(delta *ChatMessage, finish *string, usage *ChatUsage) error {
		chunk := ChatCompletionChunk{
			ID:      meta.id,
			Object:  "chat.completion.chunk",
			Created: meta.created,
			Model:   meta.model,
			Choices: []ChatChoice{{Index: 0, Delta: delta, FinishReason: finish}},
			Usage:   usage,
		}
		if err := sendSSEChunk(res, chunk); err != nil {
			return err
		}
		flush()
		return nil
	}

	if err := send(&ChatMessage{Role: "assistant"}, nil, nil); err != nil {
		return err
	}

	var splitter *reasoning.Splitter
	if split {
		splitter = reasoning.NewSplitter(false)
	}
	emit := func(content, reasoningText string) error {
		if content == "" && reasoningText == "" {
			return nil
		}
		return send(&ChatMessage{Content: content, ReasoningContent: reasoningText}, nil, nil)
	}

	var genErr error
	for item, err := range gen.All(ctx) {
		if err != nil {
			genErr = err
			break
		}
		content, reasoningText := item.Content, ""
		if splitter != nil {
			content, reasoningText = splitter.Push(item.Content)
		}
		if err := emit(content, reasoningText); err != nil {
			return err
		}
		if item.FinishReason == "" {
			continue
		}
		if splitter != nil {
			if err := emit(splitter.Flush()); err != nil {
				return err
			}
		}
		usage := usageOf(item)
		if err := send(&ChatMessage{}, ptr(item.FinishReason), &usage); err != nil {
			return err
		}
	}

	if genErr != nil {
		status, errType := errorStatus(genErr)
		_ = sendSSEChunk(res, ErrorResponse{Error: ResponseError{
			Message: genErr.Error(),
			Type:    errType,
			Code:    fmt.Sprint(status),
		}})
	}
	_, _ = fmt.Fprint(res, "data: [DONE]\n\n")
	flush()
	return genErr
}

func usageOf(r inference.ChatResponse) ChatUsage {
	return ChatUsage{
		PromptTokens:     r.PromptTokens,
		CompletionTokens: r.CompletionTokens,
		TotalTokens:      r.TotalTokens,
	}
}
