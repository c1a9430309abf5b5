package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/dmitrijs2005/llmgate/internal/common"
	"github.com/dmitrijs2005/llmgate/internal/logging"
)

// Config is shared by the HTTP providers.
type Config struct {
	BaseURL    string
	APIKey     string
	HTTPClient *http.Client
	Retry      RetryPolicy
}

func (c Config) client() *http.Client {
	if c.HTTPClient != nil {
		return c.HTTPClient
	}
	return http.DefaultClient
}

// OpenAI speaks the OpenAI chat completions protocol. It also serves
// OpenAI-compatible upstreams such as OpenRouter.
type OpenAI struct {
	cfg Config
	log logging.Logger
}

func NewOpenAI(cfg Config, log logging.Logger) *OpenAI {
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	return &OpenAI{cfg: cfg, log: log.With("module", "provider", "provider", "openai")}
}

type openAIChatRequest struct {
	Model       string    `json:"model"`
	Messages    []Message `json:"messages"`
	Stream      bool      `json:"stream"`
	Temperature *float64  `json:"temperature,omitempty"`
	TopP        *float64  `json:"top_p,omitempty"`
	MaxTokens   *int      `json:"max_tokens,omitempty"`
}

type openAIStreamChunk struct {
	Choices []struct {
		Delta struct {
			Content string `json:"content"`
		} `json:"delta"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error"`
}

type openAIImageRequest struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
	Size   string `json:"size"`
	N      int    `json:"n"`
}

type openAIImageResponse struct {
	Data []struct {
		URL           string `json:"url"`
		RevisedPrompt string `json:"revised_prompt"`
	} `json:"data"`
}

func (p *OpenAI) headers() map[string]string {
	h := map[string]string{"Accept": "text/event-stream"}
	if p.cfg.APIKey != "" {
		h["Authorization"] = "Bearer " + p.cfg.APIKey
	}
	return h
}

func (p *OpenAI) Stream(ctx context.Context, req Request) (<-chan Chunk, error) {
	if req.Image {
		return p.image(ctx, req)
	}

	body := openAIChatRequest{
		Model:       req.Model,
		Messages:    req.Messages,
		Stream:      true,
		Temperature: req.Params.Temperature,
		TopP:        req.Params.TopP,
		MaxTokens:   req.Params.MaxTokens,
	}
	resp, err := postJSON(ctx, p.cfg.client(), p.cfg.Retry, p.log, p.cfg.BaseURL+"/chat/completions", p.headers(), body)
	if err != nil {
		return nil, err
	}

	ch := make(chan Chunk)
	go func() {
		defer close(ch)
		defer resp.Body.Close()

		r := NewSSEReader(resp.Body)
		for {
			_, data, err := r.ReadEvent()
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				if errors.Is(err, io.EOF) {
					err = io.ErrUnexpectedEOF
				}
				send(ctx, ch, Chunk{Err: fmt.Errorf("%w: %w", common.ErrProviderUnavailable, err)})
				return
			}
			if bytes.Equal(data, []byte("[DONE]")) {
				return
			}

			var c openAIStreamChunk
			if err := json.Unmarshal(data, &c); err != nil {
				p.log.Warn(ctx, "skipping malformed chunk", "error", err)
				continue
			}
			if c.Error != nil {
				send(ctx, ch, Chunk{Err: fmt.Errorf("%w: %s", common.ErrProviderUnavailable, c.Error.Message)})
				return
			}
			if len(c.Choices) == 0 || c.Choices[0].Delta.Content == "" {
				continue
			}
			if !send(ctx, ch, Chunk{Text: c.Choices[0].Delta.Content}) {
				return
			}
		}
	}()
	return ch, nil
}

// image generates a picture from the last message and yields it as a
// single markdown chunk.
func (p *OpenAI) image(ctx context.Context, req Request) (<-chan Chunk, error) {
	prompt := ""
	if n := len(req.Messages); n > 0 {
		prompt = req.Messages[n-1].Content
	}
	body := openAIImageRequest{Model: req.Model, Prompt: prompt, Size: req.Params.Size, N: 1}
	resp, err := postJSON(ctx, p.cfg.client(), p.cfg.Retry, p.log, p.cfg.BaseURL+"/images/generations", p.headers(), body)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var out openAIImageResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("%w: decode image response: %w", common.ErrProviderUnavailable, err)
	}
	if len(out.Data) == 0 || out.Data[0].URL == "" {
		return nil, fmt.Errorf("%w: empty image response", common.ErrProviderUnavailable)
	}

	alt := out.Data[0].RevisedPrompt
	if alt == "" {
		alt = "image"
	}
	ch := make(chan Chunk, 1)
	ch <- Chunk{Text: fmt.Sprintf("![%s](%s)", alt, out.Data[0].URL)}
	close(ch)
	return ch, nil
}
