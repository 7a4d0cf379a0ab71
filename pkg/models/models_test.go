package models

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTaskStatusIsTerminal(t *testing.T) {
	terminal := []TaskStatus{TaskStatusCompleted, TaskStatusFailed, TaskStatusCancelled}
	for _, s := range terminal {
		assert.True(t, s.IsTerminal(), "%s should be terminal", s)
	}
	nonTerminal := []TaskStatus{TaskStatusPending, TaskStatusQueued, TaskStatusRunning, TaskStatusRetrying}
	for _, s := range nonTerminal {
		assert.False(t, s.IsTerminal(), "%s should not be terminal", s)
	}
}

func TestRunStatusValid(t *testing.T) {
	assert.True(t, RunStatusPending.Valid())
	assert.True(t, RunStatusCancelled.Valid())
	assert.False(t, RunStatus("retrying").Valid(), "retrying is a task status, not a run status")
	assert.False(t, RunStatus("").Valid())
}

func TestClampMaxRetries(t *testing.T) {
	assert.Equal(t, DefaultMaxRetries, ClampMaxRetries(-1))
	assert.Equal(t, 0, ClampMaxRetries(0))
	assert.Equal(t, 7, ClampMaxRetries(7))
	assert.Equal(t, MaxRetriesCeiling, ClampMaxRetries(99))
}

func TestDedupeTags(t *testing.T) {
	assert.Equal(t, []string{"a", "b", "c"}, DedupeTags([]string{"a", "b", "a", "c", "b"}))
	assert.Equal(t, []string{}, DedupeTags(nil))
}

func TestJSONValueScanRoundTrip(t *testing.T) {
	var v JSONValue
	require.NoError(t, v.Scan([]byte(`{"a":1,"b":["x","y"]}`)))

	raw, err := v.Value()
	require.NoError(t, err)
	assert.JSONEq(t, `{"a":1,"b":["x","y"]}`, string(raw.([]byte)))
}

func TestJSONValueScalar(t *testing.T) {
	// Run-data values may be bare scalars, not just objects
	var v JSONValue
	require.NoError(t, v.Scan([]byte(`"v1"`)))
	assert.Equal(t, "v1", v.V)

	out, err := json.Marshal(v)
	require.NoError(t, err)
	assert.Equal(t, `"v1"`, string(out))
}

func TestJSONValueNil(t *testing.T) {
	var v JSONValue
	require.NoError(t, v.Scan(nil))
	assert.True(t, v.IsZero())

	raw, err := v.Value()
	require.NoError(t, err)
	assert.Nil(t, raw)
}

func TestJSONMapScan(t *testing.T) {
	var m JSONMap
	require.NoError(t, m.Scan(`{"env":"prod"}`))
	assert.Equal(t, "prod", m["env"])

	assert.Error(t, m.Scan(42))
}

func TestRunJSONShape(t *testing.T) {
	r := Run{Status: RunStatusPending, InputData: JSONValue{V: map[string]interface{}{"a": float64(1)}}}
	out, err := json.Marshal(r)
	require.NoError(t, err)

	var decoded map[string]interface{}
	require.NoError(t, json.Unmarshal(out, &decoded))
	// The API surface is camelCase
	assert.Contains(t, decoded, "inputData")
	assert.Contains(t, decoded, "totalTasks")
	assert.NotContains(t, decoded, "input_data")
	assert.NotContains(t, decoded, "startedAt", "unset optional timestamps are omitted")
}
