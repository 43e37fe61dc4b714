package config

import (
	"os"
	"path/filepath"
	"testing"
)

func testModels() *ModelsConfig {
	return NewModelsConfigFromModels([]Model{
		{ID: "first/model", Name: "First", EndpointURL: "https://a.example/v1/chat", Temperature: 0.7, MaxTokens: 1024},
		{ID: "second/model", Name: "Second", EndpointURL: "https://b.example/v1/chat", Temperature: 0.2},
	})
}

func TestRouteKnownModel(t *testing.T) {
	route := testModels().Route("second/model")
	if route.Model != "second/model" {
		t.Errorf("expected second/model, got %q", route.Model)
	}
	if route.EndpointURL != "https://b.example/v1/chat" {
		t.Errorf("unexpected endpoint: %q", route.EndpointURL)
	}
	if route.MaxTokens != 2048 {
		t.Errorf("missing token budget must default to 2048, got %d", route.MaxTokens)
	}
}

func TestRouteUnknownModelFallsBackToDefault(t *testing.T) {
	route := testModels().Route("nobody/heard-of-it")
	if route.Model != "first/model" {
		t.Errorf("unknown model must route to the default, got %q", route.Model)
	}
}

func TestIsValidModel(t *testing.T) {
	mc := testModels()
	if !mc.IsValidModel("first/model") {
		t.Error("configured model must be valid")
	}
	if mc.IsValidModel("nobody/heard-of-it") {
		t.Error("unconfigured model must be invalid")
	}
}

func TestNewModelsConfigFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "models.json")
	content := `[{"id":"file/model","name":"File Model","endpoint_url":"https://c.example/v1/chat","temperature":0.5,"max_tokens":512}]`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("failed to write fixture: %v", err)
	}

	mc, err := NewModelsConfig(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if mc.GetDefaultModel() != "file/model" {
		t.Errorf("unexpected default model: %q", mc.GetDefaultModel())
	}
	route := mc.Route("file/model")
	if route.MaxTokens != 512 || route.Temperature != 0.5 {
		t.Errorf("unexpected route: %+v", route)
	}
}

func TestNewModelsConfigMissingFile(t *testing.T) {
	if _, err := NewModelsConfig(filepath.Join(t.TempDir(), "missing.json")); err == nil {
		t.Error("missing config file must be an error")
	}
}
