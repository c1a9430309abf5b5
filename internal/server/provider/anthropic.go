package provider

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/dmitrijs2005/llmgate/internal/common"
	"github.com/dmitrijs2005/llmgate/internal/logging"
	"github.com/dmitrijs2005/llmgate/internal/server/models"
)

const anthropicVersion = "2023-06-01"

// anthropicDefaultMaxTokens is sent when the caller sets no limit; the
// messages API requires one.
const anthropicDefaultMaxTokens = 1024

// Anthropic speaks the Anthropic messages API.
type Anthropic struct {
	cfg Config
	log logging.Logger
}

func NewAnthropic(cfg Config, log logging.Logger) *Anthropic {
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	return &Anthropic{cfg: cfg, log: log.With("module", "provider", "provider", "anthropic")}
}

type anthropicRequest struct {
	Model       string    `json:"model"`
	System      string    `json:"system,omitempty"`
	Messages    []Message `json:"messages"`
	MaxTokens   int       `json:"max_tokens"`
	Stream      bool      `json:"stream"`
	Temperature *float64  `json:"temperature,omitempty"`
	TopP        *float64  `json:"top_p,omitempty"`
}

type anthropicEvent struct {
	Type  string `json:"type"`
	Delta struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"delta"`
	Error struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error"`
}

func (p *Anthropic) Stream(ctx context.Context, req Request) (<-chan Chunk, error) {
	if req.Image {
		return nil, fmt.Errorf("%w: image generation is not supported", common.ErrValidation)
	}

	body := anthropicRequest{
		Model:       req.Model,
		MaxTokens:   anthropicDefaultMaxTokens,
		Stream:      true,
		Temperature: req.Params.Temperature,
		TopP:        req.Params.TopP,
	}
	if req.Params.MaxTokens != nil {
		body.MaxTokens = *req.Params.MaxTokens
	}
	var system []string
	for _, m := range req.Messages {
		if m.Role == models.RoleSystem {
			system = append(system, m.Content)
			continue
		}
		body.Messages = append(body.Messages, m)
	}
	body.System = strings.Join(system, "\n\n")

	headers := map[string]string{
		"Accept":            "text/event-stream",
		"x-api-key":         p.cfg.APIKey,
		"anthropic-version": anthropicVersion,
	}
	resp, err := postJSON(ctx, p.cfg.client(), p.cfg.Retry, p.log, p.cfg.BaseURL+"/v1/messages", headers, body)
	if err != nil {
		return nil, err
	}

	ch := make(chan Chunk)
	go func() {
		defer close(ch)
		defer resp.Body.Close()

		r := NewSSEReader(resp.Body)
		for {
			event, data, err := r.ReadEvent()
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

			var ev anthropicEvent
			if err := json.Unmarshal(data, &ev); err != nil {
				p.log.Warn(ctx, "skipping malformed event", "event", event, "error", err)
				continue
			}
			if ev.Type == "" {
				ev.Type = event
			}

			switch ev.Type {
			case "content_block_delta":
				if ev.Delta.Text == "" {
					continue
				}
				if !send(ctx, ch, Chunk{Text: ev.Delta.Text}) {
					return
				}
			case "message_stop":
				return
			case "error":
				send(ctx, ch, Chunk{Err: fmt.Errorf("%w: %s: %s", common.ErrProviderUnavailable, ev.Error.Type, ev.Error.Message)})
				return
			}
		}
	}()
	return ch, nil
}
