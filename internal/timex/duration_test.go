package timex

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDuration_UnmarshalJSON(t *testing.T) {
	var cfg struct {
		Timeout Duration `json:"timeout"`
	}

	require.NoError(t, json.Unmarshal([]byte(`{"timeout":"45s"}`), &cfg))
	assert.Equal(t, 45*time.Second, cfg.Timeout.Duration)

	require.NoError(t, json.Unmarshal([]byte(`{"timeout":1000000000}`), &cfg))
	assert.Equal(t, time.Second, cfg.Timeout.Duration)

	require.Error(t, json.Unmarshal([]byte(`{"timeout":"soon"}`), &cfg))
	require.Error(t, json.Unmarshal([]byte(`{"timeout":true}`), &cfg))
}

func TestDuration_MarshalJSON(t *testing.T) {
	b, err := json.Marshal(Duration{Duration: 90 * time.Second})
	require.NoError(t, err)
	assert.Equal(t, `"1m30s"`, string(b))
}
