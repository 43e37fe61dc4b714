package config

import (
	"encoding/json"
	"os"
)

// Model describes an available inference model and where requests for it go.
type Model struct {
	ID          string  `json:"id"`
	Name        string  `json:"name"`
	EndpointURL string  `json:"endpoint_url"`
	Temperature float64 `json:"temperature"`
	MaxTokens   int     `json:"max_tokens"`
}

// ModelRoute is the resolved upstream configuration for a chat request.
type ModelRoute struct {
	Model       string
	EndpointURL string
	Temperature float64
	MaxTokens   int
}

// ModelsConfig holds the available models configuration
type ModelsConfig struct {
	models []Model
}

// NewModelsConfig creates a new models configuration from a file
func NewModelsConfig(configPath string) (*ModelsConfig, error) {
	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, err
	}

	var models []Model
	if err := json.Unmarshal(data, &models); err != nil {
		return nil, err
	}

	return &ModelsConfig{models: models}, nil
}

// NewModelsConfigFromModels builds a config from an in-memory model list.
// Used by tests and by callers that embed their model table.
func NewModelsConfigFromModels(models []Model) *ModelsConfig {
	return &ModelsConfig{models: models}
}

// GetAvailableModels returns the list of available models
func (mc *ModelsConfig) GetAvailableModels() []Model {
	return mc.models
}

// IsValidModel checks if a model ID is in the list of available models
func (mc *ModelsConfig) IsValidModel(modelID string) bool {
	for _, model := range mc.models {
		if model.ID == modelID {
			return true
		}
	}
	return false
}

// GetDefaultModel returns the first model as the default
func (mc *ModelsConfig) GetDefaultModel() string {
	if len(mc.models) > 0 {
		return mc.models[0].ID
	}
	// Fallback in case no models are configured (shouldn't happen)
	return "meta-llama/llama-3.3-8b-instruct:free"
}

// Route resolves a model name to its upstream endpoint, temperature and token
// budget. Unknown names fall back to the default model so a route is always
// returned as long as at least one model is configured.
func (mc *ModelsConfig) Route(modelID string) ModelRoute {
	for _, model := range mc.models {
		if model.ID == modelID {
			return routeFor(model)
		}
	}
	if len(mc.models) > 0 {
		return routeFor(mc.models[0])
	}
	return ModelRoute{
		Model:       mc.GetDefaultModel(),
		EndpointURL: "https://openrouter.ai/api/v1/chat/completions",
		Temperature: 0.7,
		MaxTokens:   2048,
	}
}

func routeFor(m Model) ModelRoute {
	r := ModelRoute{
		Model:       m.ID,
		EndpointURL: m.EndpointURL,
		Temperature: m.Temperature,
		MaxTokens:   m.MaxTokens,
	}
	if r.MaxTokens == 0 {
		r.MaxTokens = 2048
	}
	return r
}
