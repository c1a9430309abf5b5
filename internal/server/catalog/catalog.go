// Package catalog holds the models the gateway can dispatch to, their prices
// and the parameter schema each model accepts.
package catalog

import (
	"fmt"
	"slices"
	"sort"

	"github.com/dmitrijs2005/llmgate/internal/common"
	"github.com/dmitrijs2005/llmgate/internal/server/models"
)

type Kind string

const (
	KindChat  Kind = "chat"
	KindImage Kind = "image"
)

// Range is an inclusive float interval.
type Range struct {
	Min float64 `json:"min"`
	Max float64 `json:"max"`
}

func (r Range) Contains(v float64) bool {
	return v >= r.Min && v <= r.Max
}

// Model describes one dispatchable model.
type Model struct {
	ID                  string       `json:"id"`
	Provider            string       `json:"provider"`
	Name                string       `json:"name"`
	Kind                Kind         `json:"kind"`
	Price               models.Price `json:"-"`
	MaxOutputTokens     int          `json:"max_output_tokens,omitempty"`
	DefaultOutputTokens int          `json:"default_output_tokens,omitempty"`
	Temperature         Range        `json:"temperature"`
	Sizes               []string     `json:"sizes,omitempty"`
}

// Summary is the denormalized form stored next to conversations.
func (m Model) Summary() models.ModelSummary {
	return models.ModelSummary{ID: m.ID, Name: m.Name, Provider: m.Provider}
}

// OutputAllowance is the number of output tokens to reserve for params.
func (m Model) OutputAllowance(p models.Parameters) int {
	if p.MaxTokens != nil {
		return *p.MaxTokens
	}
	return m.DefaultOutputTokens
}

type key struct {
	provider string
	model    string
}

// Catalog is an immutable set of models. It is safe for concurrent use.
type Catalog struct {
	models map[key]Model
}

func New(ms ...Model) *Catalog {
	c := &Catalog{models: make(map[key]Model, len(ms))}
	for _, m := range ms {
		c.models[key{m.Provider, m.ID}] = m
	}
	return c
}

// Lookup returns the model registered under provider and id.
func (c *Catalog) Lookup(provider, id string) (Model, bool) {
	m, ok := c.models[key{provider, id}]
	return m, ok
}

// List returns every model sorted by provider then id.
func (c *Catalog) List() []Model {
	out := make([]Model, 0, len(c.models))
	for _, m := range c.models {
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Provider != out[j].Provider {
			return out[i].Provider < out[j].Provider
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// Validate checks spec against the model's parameter schema. It never
// touches any other component. Errors wrap common.ErrValidation.
func (c *Catalog) Validate(spec models.ModelSpec) (Model, error) {
	m, ok := c.Lookup(spec.Provider, spec.Model)
	if !ok {
		return Model{}, fmt.Errorf("%w: unknown model %s/%s", common.ErrValidation, spec.Provider, spec.Model)
	}
	p := spec.Params

	switch m.Kind {
	case KindChat:
		if p.Size != "" {
			return Model{}, fmt.Errorf("%w: size is not supported by %s", common.ErrValidation, m.ID)
		}
		if p.Temperature != nil && !m.Temperature.Contains(*p.Temperature) {
			return Model{}, fmt.Errorf("%w: temperature %v out of range [%v,%v]",
				common.ErrValidation, *p.Temperature, m.Temperature.Min, m.Temperature.Max)
		}
		if p.TopP != nil && (*p.TopP < 0 || *p.TopP > 1) {
			return Model{}, fmt.Errorf("%w: top_p %v out of range [0,1]", common.ErrValidation, *p.TopP)
		}
		if p.MaxTokens != nil && (*p.MaxTokens < 1 || *p.MaxTokens > m.MaxOutputTokens) {
			return Model{}, fmt.Errorf("%w: max_tokens %d out of range [1,%d]",
				common.ErrValidation, *p.MaxTokens, m.MaxOutputTokens)
		}
	case KindImage:
		if p.Temperature != nil || p.TopP != nil || p.MaxTokens != nil {
			return Model{}, fmt.Errorf("%w: %s accepts only size", common.ErrValidation, m.ID)
		}
		if p.Size == "" {
			return Model{}, fmt.Errorf("%w: size is required", common.ErrValidation)
		}
		if !slices.Contains(m.Sizes, p.Size) {
			return Model{}, fmt.Errorf("%w: unsupported size %q", common.ErrValidation, p.Size)
		}
	default:
		return Model{}, fmt.Errorf("%w: model %s has unknown kind %q", common.ErrValidation, m.ID, m.Kind)
	}
	return m, nil
}

var unitTemperature = Range{Min: 0, Max: 1}

// Default returns the built-in catalog.
func Default() *Catalog {
	return New(
		Model{ID: "gpt-4o-mini", Provider: "openai", Name: "GPT-4o mini", Kind: KindChat,
			Price: models.Price{PerThousandTokens: 2}, MaxOutputTokens: 16384, DefaultOutputTokens: 1024,
			Temperature: unitTemperature},
		Model{ID: "gpt-4o", Provider: "openai", Name: "GPT-4o", Kind: KindChat,
			Price: models.Price{PerThousandTokens: 30}, MaxOutputTokens: 16384, DefaultOutputTokens: 1024,
			Temperature: unitTemperature},
		Model{ID: "dall-e-3", Provider: "openai", Name: "DALL·E 3", Kind: KindImage,
			Price: models.Price{PerThousandTokens: 400}, DefaultOutputTokens: 1000,
			Sizes: []string{"1024x1024", "1024x1792", "1792x1024"}},
		Model{ID: "claude-3-5-haiku-latest", Provider: "anthropic", Name: "Claude 3.5 Haiku", Kind: KindChat,
			Price: models.Price{PerThousandTokens: 8}, MaxOutputTokens: 8192, DefaultOutputTokens: 1024,
			Temperature: unitTemperature},
		Model{ID: "claude-sonnet-4-5", Provider: "anthropic", Name: "Claude Sonnet 4.5", Kind: KindChat,
			Price: models.Price{PerThousandTokens: 30}, MaxOutputTokens: 8192, DefaultOutputTokens: 1024,
			Temperature: unitTemperature},
		Model{ID: "meta-llama/llama-3.1-70b-instruct", Provider: "openrouter", Name: "Llama 3.1 70B", Kind: KindChat,
			Price: models.Price{PerThousandTokens: 1}, MaxOutputTokens: 4096, DefaultOutputTokens: 1024,
			Temperature: unitTemperature},
	)
}
