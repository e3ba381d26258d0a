package domain

import "context"

// PromptTemplate holds the static sections a capability contributes to its
// oracle system instruction. The live registry listing and the dispatch
// preamble are injected by the prompt composer at call time.
type PromptTemplate struct {
	SystemInstructions string `yaml:"system_instructions"`
	CoreInstructions   string `yaml:"core_instructions"`
	DataFields         string `yaml:"data_fields"`
}

// RunFunc transforms an envelope. The return value may be a full Envelope, a
// plain structured value, or nil; the orchestrator normalizes every case.
type RunFunc func(ctx context.Context, env Envelope) (any, error)

// StreamFunc is the optional streaming variant of RunFunc. When absent the
// engine falls back to RunFunc and synthesizes the minimal event set.
type StreamFunc func(ctx context.Context, env Envelope) (<-chan StreamEvent, error)

// Capability is a named unit that transforms an Envelope and nominates the
// next capability. Identity fields are set at registry-build time and never
// change; Active is flipped off on provider health-check failure and back on
// only by an explicit reload.
type Capability struct {
	Name        string
	Description string
	Handles     []string
	Parameters  map[string]string
	Version     string
	Active      bool

	// InactiveReason records why a provider-derived capability was
	// deactivated at build time.
	InactiveReason string

	Template *PromptTemplate
	Run      RunFunc
	Stream   StreamFunc
}

// CapabilityInfo is the oracle-facing view of one active capability.
type CapabilityInfo struct {
	Description string            `json:"description"`
	Handles     []string          `json:"handles"`
	Parameters  map[string]string `json:"parameters"`
}

// Listing is the oracle-facing view of the registry, keyed by capability
// name. Serialization is deterministic so oracle behavior is reproducible
// across otherwise-identical turns.
type Listing struct {
	AvailableAgents map[string]CapabilityInfo `json:"available_agents"`
}
