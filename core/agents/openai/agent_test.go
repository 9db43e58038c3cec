package openai

import (
	"context"
	"encoding/json"
	"testing"
)

type weatherArgs struct {
	City string `json:"city" jsonschema:"title=City,description=City to look up"`
}

func TestToolParameterSchemaReflectsStruct(t *testing.T) {
	schema, err := toolParameterSchema(weatherArgs{})
	if err != nil {
		t.Fatalf("expected schema reflection to succeed, got %v", err)
	}
	if schema["type"] != "object" {
		t.Fatalf("expected an object schema, got %v", schema["type"])
	}
	properties, ok := schema["properties"].(map[string]any)
	if !ok {
		t.Fatalf("expected schema properties, got %v", schema["properties"])
	}
	if _, ok := properties["city"]; !ok {
		t.Fatalf("expected a city property, got %v", properties)
	}
}

func TestToolParameterSchemaAcceptsNil(t *testing.T) {
	schema, err := toolParameterSchema(nil)
	if err != nil {
		t.Fatalf("expected nil parameters to produce an empty schema, got %v", err)
	}
	if schema["type"] != "object" {
		t.Fatalf("expected an object schema, got %v", schema["type"])
	}
}

func TestNewAgentRegistersTools(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "test-key")

	agent, err := NewAgent(WithTools(Tool{
		Name:        "get_weather",
		Description: "Look up the weather",
		Parameters:  weatherArgs{},
		Call: func(_ context.Context, _ json.RawMessage) (string, error) {
			return "sunny", nil
		},
	}))
	if err != nil {
		t.Fatalf("expected the agent to build, got %v", err)
	}

	if len(agent.toolParams) != 1 {
		t.Fatalf("expected one tool param, got %d", len(agent.toolParams))
	}
	result, err := agent.callTool(context.Background(), "get_weather", json.RawMessage(`{"city":"Zagreb"}`))
	if err != nil || result != "sunny" {
		t.Fatalf("expected the registered tool to answer, got %q, %v", result, err)
	}
	if _, err := agent.callTool(context.Background(), "nope", nil); err == nil {
		t.Fatalf("expected unknown tools to be rejected")
	}
}

func TestFillerPhrasesRotate(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "test-key")

	agent, err := NewAgent(WithFillerPhrases("hmm", "one moment"))
	if err != nil {
		t.Fatalf("expected the agent to build, got %v", err)
	}

	want := []string{"hmm", "one moment", "hmm"}
	for i, phrase := range want {
		got, ok := agent.nextFillerPhrase()
		if !ok || got != phrase {
			t.Fatalf("expected phrase %d to be %q, got %q", i, phrase, got)
		}
	}

	bare, err := NewAgent()
	if err != nil {
		t.Fatalf("expected the agent to build, got %v", err)
	}
	if _, ok := bare.nextFillerPhrase(); ok {
		t.Fatalf("expected no filler phrase without configuration")
	}
}
