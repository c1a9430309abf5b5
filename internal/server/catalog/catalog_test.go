package catalog

import (
	"testing"

	"github.com/dmitrijs2005/llmgate/internal/common"
	"github.com/dmitrijs2005/llmgate/internal/server/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func f(v float64) *float64 { return &v }
func i(v int) *int         { return &v }

func testCatalog() *Catalog {
	return New(
		Model{ID: "chat", Provider: "p", Kind: KindChat, MaxOutputTokens: 100, DefaultOutputTokens: 50,
			Temperature: Range{0, 1}, Price: models.Price{PerThousandTokens: 1000}},
		Model{ID: "img", Provider: "p", Kind: KindImage, Sizes: []string{"256x256", "512x512"}},
	)
}

func TestValidate(t *testing.T) {
	c := testCatalog()

	tests := []struct {
		name    string
		spec    models.ModelSpec
		wantErr bool
	}{
		{"chat defaults", models.ModelSpec{Provider: "p", Model: "chat"}, false},
		{"chat full", models.ModelSpec{Provider: "p", Model: "chat",
			Params: models.Parameters{Temperature: f(0.7), TopP: f(1), MaxTokens: i(100)}}, false},
		{"temperature bounds inclusive", models.ModelSpec{Provider: "p", Model: "chat",
			Params: models.Parameters{Temperature: f(0)}}, false},
		{"temperature too high", models.ModelSpec{Provider: "p", Model: "chat",
			Params: models.Parameters{Temperature: f(1.5)}}, true},
		{"negative temperature", models.ModelSpec{Provider: "p", Model: "chat",
			Params: models.Parameters{Temperature: f(-0.1)}}, true},
		{"top_p too high", models.ModelSpec{Provider: "p", Model: "chat",
			Params: models.Parameters{TopP: f(1.01)}}, true},
		{"max_tokens zero", models.ModelSpec{Provider: "p", Model: "chat",
			Params: models.Parameters{MaxTokens: i(0)}}, true},
		{"max_tokens above limit", models.ModelSpec{Provider: "p", Model: "chat",
			Params: models.Parameters{MaxTokens: i(101)}}, true},
		{"size on chat", models.ModelSpec{Provider: "p", Model: "chat",
			Params: models.Parameters{Size: "256x256"}}, true},
		{"image ok", models.ModelSpec{Provider: "p", Model: "img",
			Params: models.Parameters{Size: "512x512"}}, false},
		{"image missing size", models.ModelSpec{Provider: "p", Model: "img"}, true},
		{"image bad size", models.ModelSpec{Provider: "p", Model: "img",
			Params: models.Parameters{Size: "1x1"}}, true},
		{"image with temperature", models.ModelSpec{Provider: "p", Model: "img",
			Params: models.Parameters{Size: "256x256", Temperature: f(0.5)}}, true},
		{"unknown model", models.ModelSpec{Provider: "p", Model: "nope"}, true},
		{"unknown provider", models.ModelSpec{Provider: "x", Model: "chat"}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m, err := c.Validate(tt.spec)
			if tt.wantErr {
				require.Error(t, err)
				assert.ErrorIs(t, err, common.ErrValidation)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.spec.Model, m.ID)
		})
	}
}

func TestOutputAllowance(t *testing.T) {
	m, _ := testCatalog().Lookup("p", "chat")
	assert.Equal(t, 50, m.OutputAllowance(models.Parameters{}))
	assert.Equal(t, 7, m.OutputAllowance(models.Parameters{MaxTokens: i(7)}))
}

func TestList_Sorted(t *testing.T) {
	list := Default().List()
	require.NotEmpty(t, list)
	for k := 1; k < len(list); k++ {
		prev, cur := list[k-1], list[k]
		assert.True(t, prev.Provider < cur.Provider || (prev.Provider == cur.Provider && prev.ID < cur.ID))
	}
}

func TestDefault_ModelsAreValidWithDefaults(t *testing.T) {
	for _, m := range Default().List() {
		spec := models.ModelSpec{Provider: m.Provider, Model: m.ID}
		if m.Kind == KindImage {
			spec.Params.Size = m.Sizes[0]
		}
		_, err := Default().Validate(spec)
		assert.NoError(t, err, m.ID)
		assert.Positive(t, m.Price.PerThousandTokens, m.ID)
	}
}
