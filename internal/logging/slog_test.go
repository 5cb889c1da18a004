package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewJSON_EmitsStructuredRecords(t *testing.T) {
	var buf bytes.Buffer
	log := NewJSON(&buf)

	log.Info(context.Background(), "hello", "k", "v")

	var rec map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &rec))
	assert.Equal(t, "hello", rec["msg"])
	assert.Equal(t, "v", rec["k"])
	assert.Equal(t, "INFO", rec["level"])
}

func TestWith_AttachesFieldsToChildren(t *testing.T) {
	var buf bytes.Buffer
	log := NewJSON(&buf).With("module", "test")

	log.Warn(context.Background(), "careful")

	var rec map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &rec))
	assert.Equal(t, "test", rec["module"])
	assert.Equal(t, "WARN", rec["level"])
}
