package openai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"reflect"

	"github.com/invopop/jsonschema"
	openai "github.com/openai/openai-go/v3"
)

// ErrEndConversation is returned by a tool's Call to signal that the
// conversation should end after the current turn.
var ErrEndConversation = errors.New("end of conversation requested")

// Tool is one function the agent may call mid-generation.
type Tool struct {
	Name        string
	Description string
	// Parameters is a struct value whose fields describe the tool's
	// arguments; its JSON schema is derived by reflection.
	Parameters any
	Call       func(ctx context.Context, arguments json.RawMessage) (string, error)
}

func toToolParams(tools []Tool) ([]openai.ChatCompletionToolUnionParam, error) {
	params := make([]openai.ChatCompletionToolUnionParam, 0, len(tools))
	for _, tool := range tools {
		parameters, err := toolParameterSchema(tool.Parameters)
		if err != nil {
			return nil, fmt.Errorf("failed to build schema for tool %q: %w", tool.Name, err)
		}
		params = append(params, openai.ChatCompletionFunctionTool(openai.FunctionDefinitionParam{
			Name:        tool.Name,
			Description: openai.String(tool.Description),
			Parameters:  parameters,
		}))
	}
	return params, nil
}

func toolParameterSchema(parameters any) (openai.FunctionParameters, error) {
	if parameters == nil {
		return openai.FunctionParameters{"type": "object", "properties": map[string]any{}}, nil
	}

	reflector := jsonschema.Reflector{DoNotReference: true}
	var schema *jsonschema.Schema
	if reflect.TypeOf(parameters).Kind() == reflect.Ptr {
		schema = reflector.ReflectFromType(reflect.TypeOf(parameters).Elem())
	} else {
		schema = reflector.Reflect(parameters)
	}

	raw, err := json.Marshal(schema)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal schema: %w", err)
	}
	var converted openai.FunctionParameters
	if err := json.Unmarshal(raw, &converted); err != nil {
		return nil, fmt.Errorf("failed to convert schema: %w", err)
	}
	return converted, nil
}
