package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"github.com/urfave/cli/v3"

	"github.com/samcharles93/wavvy/internal/chat"
	"github.com/samcharles93/wavvy/internal/inference"
	"github.com/samcharles93/wavvy/internal/logger"
	"github.com/samcharles93/wavvy/internal/reasoning"
)

const (
	ansiDim   = "\x1b[2m"
	ansiReset = "\x1b[0m"
)

var stdoutIsTTY = func() bool { return isTerminal(os.Stdout.Fd()) }

func runCmd() *cli.Command {
	var (
		mf modelFlags
		sf samplingFlags

		prompt        string
		system        string
		messagesPath  string
		params        []string
		paramsJSON    string
		noStream      bool
		hideReasoning bool
		echoPrompt    bool
		showTokens    bool
	)

	flags := append(mf.flags(), sf.flags()...)
	flags = append(flags,
		&cli.StringFlag{
			Name:        "prompt",
			Aliases:     []string{"p"},
			Usage:       "user message (omit for interactive mode)",
			Destination: &prompt,
		},
		&cli.StringFlag{
			Name:        "system",
			Aliases:     []string{"sys"},
			Usage:       "optional system prompt",
			Destination: &system,
		},
		&cli.StringFlag{
			Name:        "messages",
			Usage:       "path to a JSON conversation (array or {\"messages\": [...]})",
			Destination: &messagesPath,
		},
		&cli.StringSliceFlag{
			Name:        "param",
			Usage:       "template parameter key=value (repeatable)",
			Destination: &params,
		},
		&cli.StringFlag{
			Name:        "params",
			Usage:       "template parameters as a JSON object",
			Destination: &paramsJSON,
		},
		&cli.BoolFlag{
			Name:        "no-stream",
			Usage:       "print the completion once it is finished",
			Destination: &noStream,
		},
		&cli.BoolFlag{
			Name:        "hide-reasoning",
			Usage:       "drop <think> blocks from the output",
			Destination: &hideReasoning,
		},
		&cli.BoolFlag{
			Name:        "echo-prompt",
			Usage:       "print the formatted prompt before generation",
			Destination: &echoPrompt,
		},
		&cli.BoolFlag{
			Name:        "show-tokens",
			Usage:       "print prompt token ids to stderr",
			Destination: &showTokens,
		},
	)

	return &cli.Command{
		Name:  "run",
		Usage: "Generate a chat completion",
		Flags: flags,
		Action: func(ctx context.Context, cmd *cli.Command) error {
			log := logger.FromContext(ctx)
			cfg := configFromContext(ctx)
			applyModelConfig(cmd, cfg.ModelConfig, &mf)

			loader, err := resolveLoader(mf)
			if err != nil {
				return err
			}
			data, err := templateParams(params, paramsJSON)
			if err != nil {
				return err
			}

			obs := &statsObserver{}
			res, err := loader.Load(cfg.Base(), sf.options(cmd),
				inference.WithLogger(log),
				inference.WithObserver(obs),
			)
			if err != nil {
				return err
			}
			defer func() { _ = res.Close() }()

			sc := res.Config
			log.Debug("loaded engine",
				"variant", loader.Variant,
				"model", loader.ModelSpec,
				"strategy", sc.Strategy(),
				"sample_len", sc.SampleLen,
				"repeat_penalty", sc.RepeatPenalty,
				"repeat_last_n", sc.RepeatLastN,
			)

			msgs := make([]chat.Message, 0, 8)
			if messagesPath != "" {
				loaded, err := chat.LoadMessagesJSON(messagesPath)
				if err != nil {
					return err
				}
				msgs = append(msgs, loaded...)
			}
			if system != "" {
				msgs = append([]chat.Message{{Role: chat.System, Content: system}}, msgs...)
			}

			interactive := prompt == "" && messagesPath == ""
			if prompt != "" {
				msgs = append(msgs, chat.Message{Role: chat.User, Content: prompt})
			}
			if interactive {
				fmt.Fprintln(os.Stderr, "Interactive mode. Type /exit to quit.")
			}

			t := turn{
				engine:        res.Engine,
				data:          data,
				stream:        !noStream,
				hideReasoning: hideReasoning,
				dim:           stdoutIsTTY(),
				out:           os.Stdout,
			}
			lr := newLineReader()

			for {
				if interactive && (len(msgs) == 0 || msgs[len(msgs)-1].Role != chat.User) {
					input, err := lr.readLine("> ")
					if errors.Is(err, io.EOF) {
						break
					}
					if err != nil {
						return err
					}
					input = strings.TrimSpace(input)
					if input == "/exit" {
						break
					}
					if input == "" {
						continue
					}
					msgs = append(msgs, chat.Message{Role: chat.User, Content: input})
				}

				if echoPrompt || showTokens {
					p, err := res.Engine.Prompt(msgs, data)
					if err != nil {
						return err
					}
					if echoPrompt {
						fmt.Print(p)
					}
					if showTokens {
						ids, err := res.Engine.Tokenizer().Encode(p, true)
						if err != nil {
							return err
						}
						fmt.Fprintf(os.Stderr, "Input tokens (%d): %v\n", len(ids), ids)
					}
				}

				reply, err := t.run(ctx, msgs)
				if err != nil {
					return err
				}
				fmt.Fprintln(t.out)

				st := obs.last()
				fmt.Fprintf(os.Stderr, "Stats: %.2f TPS (%d tokens in %s, finish=%s)\n",
					st.stats.TPS, st.stats.TokensGenerated, st.stats.Duration, st.finish)
				if cs, ok := res.EncodeCacheStats(); ok {
					log.Debug("encode cache", "hits", cs.Hits, "misses", cs.Misses)
				}

				if !interactive {
					break
				}
				msgs = append(msgs, chat.Message{
					Role:    chat.Assistant,
					Content: inference.SanitizeAssistantForContext(reply),
				})
			}
			return nil
		},
	}
}

// turn prints one assistant reply.
type turn struct {
	engine        *inference.Engine
	data          any
	stream        bool
	hideReasoning bool
	dim           bool
	out           io.Writer
}

// run generates a reply to msgs and returns its raw text.
func (t turn) run(ctx context.Context, msgs []chat.Message) (string, error) {
	if !t.stream {
		resp, err := t.engine.Chat(ctx, msgs, t.data)
		if err != nil {
			return "", err
		}
		if t.hideReasoning {
			fmt.Fprint(t.out, reasoning.SplitRaw(resp.Content).Content)
		} else {
			fmt.Fprint(t.out, resp.Content)
		}
		return resp.Content, nil
	}

	var (
		raw strings.Builder
		sp  = reasoning.NewSplitter(false)
	)
	for resp, err := range t.engine.ChatStream(ctx, msgs, t.data) {
		if err != nil {
			return raw.String(), err
		}
		raw.WriteString(resp.Content)
		if t.verbatim() {
			fmt.Fprint(t.out, resp.Content)
			continue
		}
		t.write(sp.Push(resp.Content))
	}
	if !t.verbatim() {
		t.write(sp.Flush())
	}
	return raw.String(), nil
}

// verbatim reports whether raw text, tags included, goes straight out.
func (t turn) verbatim() bool { return !t.hideReasoning && !t.dim }

func (t turn) write(content, thought string) {
	if thought != "" && !t.hideReasoning {
		fmt.Fprint(t.out, ansiDim+thought+ansiReset)
	}
	if content != "" {
		fmt.Fprint(t.out, content)
	}
}

// templateParams merges --params JSON with repeated --param key=value pairs.
// Returns nil when neither is given so prompts are formatted without a
// render pass.
func templateParams(pairs []string, raw string) (any, error) {
	var data map[string]any
	if strings.TrimSpace(raw) != "" {
		parsed, err := chat.ParseParams([]byte(raw))
		if err != nil {
			return nil, err
		}
		data = parsed
	}
	for _, p := range pairs {
		k, v, ok := strings.Cut(p, "=")
		k = strings.TrimSpace(k)
		if !ok || k == "" {
			return nil, fmt.Errorf("invalid --param %q (want key=value)", p)
		}
		if data == nil {
			data = make(map[string]any, len(pairs))
		}
		data[k] = v
	}
	if data == nil {
		return nil, nil
	}
	return data, nil
}

type observed struct {
	stats  inference.Stats
	finish string
	err    error
}

// statsObserver keeps the outcome of the most recent generation.
type statsObserver struct {
	mu  sync.Mutex
	obs observed
}

func (o *statsObserver) ObserveGeneration(_ chat.Variant, stats inference.Stats, finish string, err error) {
	o.mu.Lock()
	o.obs = observed{stats: stats, finish: finish, err: err}
	o.mu.Unlock()
}

func (o *statsObserver) last() observed {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.obs
}
