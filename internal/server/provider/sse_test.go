package provider

import (
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSSEReader(t *testing.T) {
	input := ": comment\n" +
		"event: delta\r\n" +
		"id: 7\n" +
		"data: line one\n" +
		"data:line two\n" +
		"\n" +
		"\n" +
		"data: second\n" +
		"\n" +
		"data: trailing"

	r := NewSSEReader(strings.NewReader(input))

	ev, data, err := r.ReadEvent()
	require.NoError(t, err)
	assert.Equal(t, "delta", ev)
	assert.Equal(t, "line one\nline two", string(data))

	ev, data, err = r.ReadEvent()
	require.NoError(t, err)
	assert.Empty(t, ev)
	assert.Equal(t, "second", string(data))

	_, data, err = r.ReadEvent()
	require.NoError(t, err)
	assert.Equal(t, "trailing", string(data))

	_, _, err = r.ReadEvent()
	assert.ErrorIs(t, err, io.EOF)
}

func TestSSEReader_Empty(t *testing.T) {
	_, _, err := NewSSEReader(strings.NewReader("")).ReadEvent()
	assert.ErrorIs(t, err, io.EOF)
}
