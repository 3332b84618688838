package logger

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJSONByDefault(t *testing.T) {
	var buf bytes.Buffer
	log := NewWithWriter(&buf, "debug", "")

	log.Debug("catalog queried", "catalog", "lib")

	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "catalog queried", line["msg"])
	assert.Equal(t, "lib", line["catalog"])
}

func TestLevelFiltersAndFallsBackToInfo(t *testing.T) {
	var buf bytes.Buffer
	log := NewWithWriter(&buf, "loud", "text")

	log.Debug("hidden")
	log.Info("shown")

	assert.NotContains(t, buf.String(), "hidden")
	assert.Contains(t, buf.String(), "msg=shown")
}
