package pluginsdk

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
)

// ManifestFilename is the manifest file every plugin directory must carry.
const ManifestFilename = "ally.plugin.json"

// ActivationMode controls when a plugin's agents join a session.
type ActivationMode string

const (
	// ActivationAlways activates the plugin for every session.
	ActivationAlways ActivationMode = "always"
	// ActivationTagged activates the plugin only when the user tags it.
	ActivationTagged ActivationMode = "tagged"
)

// BackgroundSpec declares whether a plugin's agents may run as background
// tasks under the background agent supervisor.
type BackgroundSpec struct {
	Enabled bool `json:"enabled"`
}

// AgentSpec names one specialized agent a plugin contributes. PoolKey keys
// the agent pool's reuse matching; pool entries with a "plugin-<name>-"
// prefixed key are evicted when the plugin is deactivated.
type AgentSpec struct {
	Name         string `json:"name"`
	Description  string `json:"description,omitempty"`
	SystemPrompt string `json:"system_prompt,omitempty"`
	PoolKey      string `json:"_poolKey,omitempty"`
}

// Manifest describes a plugin: its identity, the tools and agents it
// contributes, and how it activates. The runtime treats everything beyond
// Tools, Agents, Background.Enabled, and ActivationMode as opaque.
type Manifest struct {
	Name           string          `json:"name"`
	Version        string          `json:"version,omitempty"`
	Description    string          `json:"description,omitempty"`
	Author         string          `json:"author,omitempty"`
	Tools          []string        `json:"tools,omitempty"`
	Agents         []AgentSpec     `json:"agents,omitempty"`
	Config         json.RawMessage `json:"config,omitempty"`
	ConfigSchema   json.RawMessage `json:"configSchema,omitempty"`
	Background     BackgroundSpec  `json:"background,omitempty"`
	ActivationMode ActivationMode  `json:"activationMode,omitempty"`
	Metadata       map[string]any  `json:"metadata,omitempty"`
}

// DecodeManifest parses a manifest from JSON.
func DecodeManifest(data []byte) (*Manifest, error) {
	var manifest Manifest
	if err := json.Unmarshal(data, &manifest); err != nil {
		return nil, fmt.Errorf("decode manifest: %w", err)
	}
	return &manifest, nil
}

// DecodeManifestFile reads and parses a manifest file.
func DecodeManifestFile(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read manifest: %w", err)
	}
	return DecodeManifest(data)
}

// Validate checks the fields the runtime depends on.
func (m *Manifest) Validate() error {
	if m == nil {
		return fmt.Errorf("manifest is nil")
	}
	if strings.TrimSpace(m.Name) == "" {
		return fmt.Errorf("manifest name is required")
	}
	switch m.ActivationMode {
	case "", ActivationAlways, ActivationTagged:
	default:
		return fmt.Errorf("manifest activationMode must be %q or %q, got %q",
			ActivationAlways, ActivationTagged, m.ActivationMode)
	}
	return nil
}
