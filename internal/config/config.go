// Package config loads the file-based configuration spec.md §6 calls for:
// a per-butler config directory declaring name, port, schema, modules, and
// scheduled tasks, plus the Switchboard's own listing of which butlers and
// connectors exist. Shaped the way common/spec/gosuto's Config loads a
// Gitai agent's YAML, but decoded from TOML via BurntSushi/toml rather than
// gopkg.in/yaml.v3 — butler.toml is a flat operator-facing file, not the
// nested policy document Gosuto is.
package config

import (
	"fmt"
	"time"

	"github.com/BurntSushi/toml"
)

// ScheduledTask is one [[scheduled_tasks]] entry in butler.toml, decoded
// straight into the shape internal/store.CreateScheduledTask expects.
type ScheduledTask struct {
	Name         string `toml:"name"`
	Spec         string `toml:"spec"`
	DispatchMode string `toml:"dispatch_mode"` // "prompt" or "job"
	Prompt       string `toml:"prompt,omitempty"`
	JobName      string `toml:"job_name,omitempty"`
}

// SpawnerConfig controls how this butler's ephemeral sessions are launched.
type SpawnerConfig struct {
	Image                  string   `toml:"image"`
	MaxConcurrentSessions  int      `toml:"max_concurrent_sessions"`
	MaxQueueDepth          int      `toml:"max_queue_depth"`
	AllowedTools           []string `toml:"allowed_tools"`
}

// LLMConfig is the provider a butler's classification/domain sessions use.
// Only the Switchboard's classifier currently reads this; it's still
// per-butler because a specialist butler's own ephemeral sessions run the
// end-user's own CLI, not this provider.
type LLMConfig struct {
	APIKey  string `toml:"api_key"`
	BaseURL string `toml:"base_url,omitempty"`
	Model   string `toml:"model"`
}

// Butler is one butler.toml file: the unit spec.md §6 says is "read on
// startup" and never hot-reloaded.
type Butler struct {
	Name           string          `toml:"name"`
	Port           int             `toml:"port"`
	Schema         string          `toml:"schema"`
	Modules        []string        `toml:"modules,omitempty"`
	MCPPath        string          `toml:"mcp_path,omitempty"`
	DatabaseDSN    string          `toml:"database_dsn"`
	RedisURL       string          `toml:"redis_url,omitempty"`
	ControlAddr    string          `toml:"control_addr,omitempty"`
	LLM            LLMConfig       `toml:"llm,omitempty"`
	Spawner        SpawnerConfig   `toml:"spawner,omitempty"`
	ScheduledTasks []ScheduledTask `toml:"scheduled_tasks,omitempty"`
}

// ConnectorEntry is one connector the Switchboard expects to hear from;
// used only to pre-seed the registry and is not itself a running process
// spec (each connector is its own binary invocation, per spec.md §1's
// "each butler is an independent process").
type ConnectorEntry struct {
	ConnectorType    string `toml:"connector_type"`
	EndpointIdentity string `toml:"endpoint_identity"`
}

// ButlerEntry is one butler the Switchboard routes to, per spec.md §4.7's
// discover() rescan.
type ButlerEntry struct {
	Name        string   `toml:"name"`
	EndpointURL string   `toml:"endpoint_url"`
	Description string   `toml:"description,omitempty"`
	Modules     []string `toml:"modules,omitempty"`
}

// Switchboard is the switchboard.toml root: its own listen address plus the
// butler/connector fleet it discovers on startup.
type Switchboard struct {
	Name        string            `toml:"name"`
	Port        int               `toml:"port"`
	DatabaseDSN string            `toml:"database_dsn"`
	ControlAddr string            `toml:"control_addr,omitempty"`
	LLM         LLMConfig         `toml:"llm"`
	Butlers     []ButlerEntry     `toml:"butlers,omitempty"`
	Connectors  []ConnectorEntry  `toml:"connectors,omitempty"`
}

// LoadButler decodes one butler.toml file, rejects a file with no name, and
// defaults schema to the butler's name. No other field is defaulted here
// (max_concurrent_sessions, for one, is defaulted inside internal/spawner).
func LoadButler(path string) (Butler, error) {
	var b Butler
	if _, err := toml.DecodeFile(path, &b); err != nil {
		return Butler{}, fmt.Errorf("decode butler config %s: %w", path, err)
	}
	if b.Name == "" {
		return Butler{}, fmt.Errorf("butler config %s: missing name", path)
	}
	if b.Schema == "" {
		b.Schema = b.Name
	}
	return b, nil
}

// LoadSwitchboard decodes switchboard.toml.
func LoadSwitchboard(path string) (Switchboard, error) {
	var sw Switchboard
	if _, err := toml.DecodeFile(path, &sw); err != nil {
		return Switchboard{}, fmt.Errorf("decode switchboard config %s: %w", path, err)
	}
	if sw.Name == "" {
		sw.Name = "switchboard"
	}
	return sw, nil
}

// HeartbeatInterval is a 60s connector heartbeat interval, inside the
// [30,300]s range the wire value is clamped to. Nothing in this module reads
// it: cmd/connector sets its own interval and the Switchboard does not push
// an interval to connectors.
const HeartbeatInterval = 60 * time.Second
