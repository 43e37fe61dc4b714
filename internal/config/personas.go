package config

import (
	"os"

	"gopkg.in/yaml.v3"
)

// Persona is a named system-prompt configuration selectable by the user.
// Personas are static process-start configuration and are never persisted.
type Persona struct {
	ID           string `yaml:"id"`
	Name         string `yaml:"name"`
	SystemPrompt string `yaml:"system_prompt"`
	DefaultModel string `yaml:"default_model"`
}

// PersonaConfig holds the persona table and the default fallback.
type PersonaConfig struct {
	personas  []Persona
	defaultID string
}

type personaFile struct {
	Default  string    `yaml:"default"`
	Personas []Persona `yaml:"personas"`
}

// builtinPersonas is used when no persona file is configured.
var builtinPersonas = []Persona{
	{
		ID:           "assistant",
		Name:         "Assistant",
		SystemPrompt: "You are a helpful, knowledgeable assistant. Answer clearly and concisely.",
	},
	{
		ID:           "coder",
		Name:         "Code Helper",
		SystemPrompt: "You are an expert programmer. Prefer working code examples over prose.",
	},
	{
		ID:           "writer",
		Name:         "Writing Coach",
		SystemPrompt: "You are a writing coach. Improve clarity, tone and structure without changing the author's voice.",
	},
}

// NewPersonaConfig loads personas from a YAML file, or falls back to the
// built-in set when path is empty.
func NewPersonaConfig(path string) (*PersonaConfig, error) {
	if path == "" {
		return &PersonaConfig{personas: builtinPersonas, defaultID: builtinPersonas[0].ID}, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var file personaFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, err
	}
	if len(file.Personas) == 0 {
		return &PersonaConfig{personas: builtinPersonas, defaultID: builtinPersonas[0].ID}, nil
	}

	defaultID := file.Default
	if defaultID == "" {
		defaultID = file.Personas[0].ID
	}
	return &PersonaConfig{personas: file.Personas, defaultID: defaultID}, nil
}

// Resolve maps a persona id to its configuration. Unknown ids resolve to the
// default persona, so Resolve never fails.
func (pc *PersonaConfig) Resolve(id string) Persona {
	for _, p := range pc.personas {
		if p.ID == id {
			return p
		}
	}
	return pc.Default()
}

// Default returns the default persona.
func (pc *PersonaConfig) Default() Persona {
	for _, p := range pc.personas {
		if p.ID == pc.defaultID {
			return p
		}
	}
	return pc.personas[0]
}

// Available returns all configured personas.
func (pc *PersonaConfig) Available() []Persona {
	return pc.personas
}
