package transform

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"

	"github.com/synebula/cc-switch/internal/domain"
)

func TestBodyFilter_StripsForbiddenFieldsForApp(t *testing.T) {
	f := NewBodyFilter()
	body := []byte(`{"model":"m","cache_control":{"type":"ephemeral"},"metadata":{"x":1}}`)

	out, err := f.Apply(domain.AppCodex, body)
	require.NoError(t, err)
	assert.False(t, gjson.GetBytes(out, "cache_control").Exists())
	assert.False(t, gjson.GetBytes(out, "metadata").Exists())
	assert.True(t, gjson.GetBytes(out, "model").Exists())
}

func TestBodyFilter_UnknownAppPassesThrough(t *testing.T) {
	f := NewBodyFilter()
	body := []byte(`{"model":"m"}`)
	out, err := f.Apply(domain.App("unknown"), body)
	require.NoError(t, err)
	assert.Equal(t, body, out)
}

func TestBodyFilter_MissingFieldIsNoOp(t *testing.T) {
	f := NewBodyFilter()
	body := []byte(`{"model":"m"}`)
	out, err := f.Apply(domain.AppGemini, body)
	require.NoError(t, err)
	assert.True(t, gjson.GetBytes(out, "model").Exists())
}
