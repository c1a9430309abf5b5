package models

// Parameters are the per-model knobs a caller may set. Which ones are
// allowed depends on the model kind; see catalog.Validate.
type Parameters struct {
	Temperature *float64 `json:"temperature,omitempty"`
	TopP        *float64 `json:"top_p,omitempty"`
	MaxTokens   *int     `json:"max_tokens,omitempty"`
	Size        string   `json:"size,omitempty"`
}

// ModelSpec selects a provider, a model and its parameters.
type ModelSpec struct {
	Provider string     `json:"provider"`
	Model    string     `json:"model"`
	Params   Parameters `json:"params"`
}
