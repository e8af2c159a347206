package toolcodec

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestEncodeInstructions(t *testing.T) {
	toolsJSON := `[
		{"type":"function","function":{
			"name":"read_file",
			"description":"Read a file from disk",
			"parameters":{
				"type":"object",
				"properties":{
					"path":{"type":"string","description":"Absolute file path"},
					"limit":{"type":"integer","description":"Max lines"}
				},
				"required":["path"]
			}
		}},
		{"type":"function","function":{
			"name":"list_files",
			"parameters":{"type":"object","properties":{}}
		}}
	]`

	out := EncodeInstructions([]byte(toolsJSON))

	assert.True(t, strings.HasPrefix(out, "# Available Tools"))
	assert.Contains(t, out, "## read_file\nRead a file from disk")
	assert.Contains(t, out, "- path (required, string): Absolute file path")
	assert.Contains(t, out, "- limit (optional, integer): Max lines")
	assert.Contains(t, out, "<path>example_value</path>")
	assert.Contains(t, out, "<limit>100</limit>")
	assert.Contains(t, out, "<read_file>")
	assert.Contains(t, out, "</read_file>")

	// A tool without description or parameters still renders a usable block.
	assert.Contains(t, out, "## list_files\nNo description")
	assert.Contains(t, out, "<list_files>\n</list_files>")

	// Deterministic output for identical input.
	assert.Equal(t, out, EncodeInstructions([]byte(toolsJSON)))
}

func TestEncodeInstructionsBareShape(t *testing.T) {
	// Definitions without the function wrapper are accepted too.
	out := EncodeInstructions([]byte(`[{"name":"ping","description":"Ping"}]`))
	assert.Contains(t, out, "## ping\nPing")
}

func TestEncodeInstructionsEmpty(t *testing.T) {
	assert.Equal(t, NoToolsMarker, EncodeInstructions([]byte(`[]`)))
	assert.Equal(t, NoToolsMarker, EncodeInstructions(nil))
	assert.Equal(t, NoToolsMarker, EncodeInstructions([]byte(`[{"type":"function","function":{}}]`)))
}

func TestExampleValueDefaults(t *testing.T) {
	out := EncodeInstructions([]byte(`[{"name":"cfg","parameters":{"properties":{
		"mode":{"type":"string","default":"fast"},
		"deep":{"type":"boolean"},
		"items":{"type":"array"},
		"opts":{"type":"object"}
	}}}]`))
	assert.Contains(t, out, "<mode>fast</mode>")
	assert.Contains(t, out, "<deep>true</deep>")
	assert.Contains(t, out, "<items>[]</items>")
	assert.Contains(t, out, "<opts>{}</opts>")
}
