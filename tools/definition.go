package tools

import (
	"github.com/anthropics/anthropic-sdk-go"
)

// Definition describes a tool offered to the model.
type Definition struct {
	Name        string
	Description string
	InputSchema Schema
}

// ToAPITool converts the definition into the Messages API tool parameter.
func (d Definition) ToAPITool() anthropic.ToolUnionParam {
	schema := anthropic.ToolInputSchemaParam{
		Properties: d.InputSchema.Properties(),
		Required:   d.InputSchema.Required(),
	}
	return anthropic.ToolUnionParam{
		OfTool: &anthropic.ToolParam{
			Name:        d.Name,
			Description: anthropic.String(d.Description),
			InputSchema: schema,
		},
	}
}

// ForcedChoice makes the model answer with this tool and nothing else.
func (d Definition) ForcedChoice() anthropic.ToolChoiceUnionParam {
	return anthropic.ToolChoiceUnionParam{
		OfTool: &anthropic.ToolChoiceToolParam{Name: d.Name},
	}
}
