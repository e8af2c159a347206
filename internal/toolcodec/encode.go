// Package toolcodec converts between OpenAI tool-schema JSON and the XML
// tag-based textual protocol the upstream model is prompted with. The
// upstream has no native function calling, so tool definitions are rendered
// into the system prompt and tool invocations are fished back out of the
// generated text.
package toolcodec

import (
	"fmt"
	"strings"

	"github.com/tidwall/gjson"
)

// NoToolsMarker is rendered when the tool list is empty or absent, so the
// injected block is never empty or malformed.
const NoToolsMarker = "No tools are available for this conversation."

// EncodeInstructions renders the tool-use instruction block for a list of
// OpenAI-shaped tool definitions. The output is deterministic for a given
// input. Tools lacking a name are skipped.
func EncodeInstructions(toolsJSON []byte) string {
	tools := gjson.ParseBytes(toolsJSON)
	if !tools.IsArray() || len(tools.Array()) == 0 {
		return NoToolsMarker
	}

	var sb strings.Builder
	sb.WriteString("# Available Tools\n\n")
	sb.WriteString("You have access to the tools listed below. To invoke a tool, respond with an XML block ")
	sb.WriteString("using the tool's tag with one child tag per parameter, exactly as shown in each usage example. ")
	sb.WriteString("Invoke at most one tool per response and place the block after any explanation you want the user to see.\n")

	rendered := 0
	tools.ForEach(func(_, tool gjson.Result) bool {
		fn := tool.Get("function")
		if !fn.Exists() {
			fn = tool
		}
		name := fn.Get("name").String()
		if name == "" {
			return true
		}
		rendered++

		sb.WriteString("\n## ")
		sb.WriteString(name)
		sb.WriteString("\n")
		if desc := fn.Get("description").String(); desc != "" {
			sb.WriteString(desc)
		} else {
			sb.WriteString("No description")
		}
		sb.WriteString("\n")

		params := fn.Get("parameters.properties")
		required := requiredSet(fn.Get("parameters.required"))

		if params.Exists() && len(params.Map()) > 0 {
			sb.WriteString("\nParameters:\n")
			params.ForEach(func(key, prop gjson.Result) bool {
				pName := key.String()
				pType := prop.Get("type").String()
				if pType == "" {
					pType = "any"
				}
				pDesc := prop.Get("description").String()
				if pDesc == "" {
					pDesc = "No description"
				}
				requirement := "optional"
				if _, ok := required[pName]; ok {
					requirement = "required"
				}
				sb.WriteString(fmt.Sprintf("- %s (%s, %s): %s\n", pName, requirement, pType, pDesc))
				return true
			})
		}

		sb.WriteString("\nUsage:\n<")
		sb.WriteString(name)
		sb.WriteString(">\n")
		if params.Exists() {
			params.ForEach(func(key, prop gjson.Result) bool {
				pName := key.String()
				sb.WriteString("<")
				sb.WriteString(pName)
				sb.WriteString(">")
				sb.WriteString(exampleValue(prop))
				sb.WriteString("</")
				sb.WriteString(pName)
				sb.WriteString(">\n")
				return true
			})
		}
		sb.WriteString("</")
		sb.WriteString(name)
		sb.WriteString(">\n")
		return true
	})

	if rendered == 0 {
		return NoToolsMarker
	}
	return sb.String()
}

func requiredSet(required gjson.Result) map[string]struct{} {
	set := make(map[string]struct{})
	required.ForEach(func(_, v gjson.Result) bool {
		set[v.String()] = struct{}{}
		return true
	})
	return set
}

// exampleValue produces a type-appropriate example for a parameter, preferring
// the parameter's declared default when one exists.
func exampleValue(prop gjson.Result) string {
	if def := prop.Get("default"); def.Exists() {
		return def.String()
	}
	switch prop.Get("type").String() {
	case "number", "integer":
		return "100"
	case "boolean":
		return "true"
	case "array":
		return "[]"
	case "object":
		return "{}"
	default:
		return "example_value"
	}
}
