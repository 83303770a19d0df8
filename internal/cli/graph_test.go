package cli

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// chainDoc declares sink before source; the printed system order must
// still put the source first.
const chainDoc = `{
	"sink": {"output": "source.result * 2"},
	"source": {"output": "tick"}
}`

func TestGraphSystemOrder(t *testing.T) {
	tmpDir := t.TempDir()
	writeDoc(t, tmpDir, "main.hwml.json", chainDoc)

	out, err := execute(t, "graph", tmpDir)
	require.NoError(t, err)
	assert.Contains(t, out, "Entry: main")
	assert.Contains(t, out, "1. main.source")
	assert.Contains(t, out, "2. main.sink")
	assert.Less(t, strings.Index(out, "main.source"), strings.Index(out, "main.sink"))
}

func TestGraphNodeOrder(t *testing.T) {
	tmpDir := t.TempDir()
	writeDoc(t, tmpDir, "main.hwml.json", `{
		"pipeline": {
			"nodes": {
				"scaled": {"formula": "raw * 2"},
				"raw": {"formula": "tick"}
			},
			"outputs": {"out": {"from": "scaled"}}
		}
	}`)

	out, err := execute(t, "graph", tmpDir)
	require.NoError(t, err)
	// scaled reads raw, so raw evaluates first despite declaration order.
	assert.Contains(t, out, "main.pipeline: raw, scaled")
}

func TestGraphJSON(t *testing.T) {
	tmpDir := t.TempDir()
	writeDoc(t, tmpDir, "main.hwml.json", chainDoc)

	out, err := execute(t, "--format", "json", "graph", tmpDir)
	require.NoError(t, err)

	var response struct {
		Status string      `json:"status"`
		Data   GraphResult `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &response))
	assert.Equal(t, "ok", response.Status)
	assert.Equal(t, "main", response.Data.Entry)
	assert.Equal(t, []string{"main.source", "main.sink"}, response.Data.System)
	require.Len(t, response.Data.Components, 2)
	assert.Equal(t, []string{"result"}, response.Data.Components[0].Nodes)
}

func TestGraphInvalidDocument(t *testing.T) {
	tmpDir := t.TempDir()
	writeDoc(t, tmpDir, "main.hwml.json", `{
		"loop": {
			"nodes": {"a": {"formula": "b"}, "b": {"formula": "a"}},
			"outputs": {"out": {"from": "a"}}
		}
	}`)

	_, err := execute(t, "graph", tmpDir)
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
}

func TestGraphMissingPath(t *testing.T) {
	_, err := execute(t, "graph", "/nonexistent/directory")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}
