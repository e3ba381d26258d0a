package usecase

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"gopkg.in/yaml.v3"

	"easyagent/internal/domain"
	"easyagent/internal/prompt"
)

// capabilityOrigin tracks where a registry entry came from, so Reload can
// replace file-discovered entries while preserving built-in, provider-derived
// and compiled-in ones.
type capabilityOrigin int

const (
	originBuiltin capabilityOrigin = iota
	originFile
	originProvider
	originCompiled
)

type registryEntry struct {
	cap    *domain.Capability
	origin capabilityOrigin
}

// Registry holds all capability instances keyed by unique name. It is
// read-only at request time; mutation happens only through LoadDir,
// AddProvider and Reload.
type Registry struct {
	mu      sync.RWMutex
	entries map[string]registryEntry
	dir     string
	logger  *slog.Logger
}

// NewRegistry creates a registry pre-populated with the built-in
// capabilities: the entrance dispatcher (deliberately inactive so the oracle
// never routes to it), the general fallback (always active, forcibly
// terminates the loop) and the clarification capability.
func NewRegistry(logger *slog.Logger) *Registry {
	r := &Registry{
		entries: make(map[string]registryEntry),
		logger:  logger,
	}
	for _, c := range builtinCapabilities() {
		r.entries[c.Name] = registryEntry{cap: c, origin: originBuiltin}
	}
	return r
}

func builtinCapabilities() []*domain.Capability {
	entranceTpl := prompt.Entrance()
	generalTpl := prompt.General()
	clarifyTpl := prompt.Clarify()

	return []*domain.Capability{
		{
			Name:        domain.EntranceAgent,
			Description: "parses the user request and dispatches it to the best-suited agent",
			Handles:     []string{"dispatch", "routing", "entry"},
			Version:     "1.0.0",
			Active:      false, // never offered to the oracle directly
			Template:    &entranceTpl,
			Run:         runPassthrough,
		},
		{
			Name:        domain.GeneralAgent,
			Description: "handles general questions and produces the final consolidated answer",
			Handles:     []string{"general questions", "summaries", "final answer"},
			Version:     "1.0.0",
			Active:      true,
			Template:    &generalTpl,
			Run:         runGeneral,
		},
		{
			Name:        domain.ClarifyAgent,
			Description: "collects missing information through interactive forms when the request is underspecified",
			Handles:     []string{"requirements analysis", "clarification", "information gathering"},
			Parameters: map[string]string{
				"user_demand": "the user's original request",
				"form_values": "form data the user already submitted, if any",
			},
			Version:  "1.0.0",
			Active:   true,
			Template: &clarifyTpl,
			Run:      runClarify,
		},
	}
}

// runPassthrough returns the envelope unchanged; the oracle already did the
// work for declarative capabilities.
func runPassthrough(_ context.Context, env domain.Envelope) (any, error) {
	return env, nil
}

// runGeneral forces termination. The prompt instructs the oracle that only
// the general capability may emit the terminal sentinel, and this guards
// against an oracle that keeps routing anyway.
func runGeneral(_ context.Context, env domain.Envelope) (any, error) {
	env.NextAgent = domain.NextAgentNone
	return env, nil
}

// runClarify routes on the oracle's analysis: a pending form suspends the
// loop for user input, a clarified request moves on to the fallback for
// synthesis.
func runClarify(_ context.Context, env domain.Envelope) (any, error) {
	if _, ok := env.Data["form_config"]; ok {
		env.NextAgent = domain.NextAgentUserInput
		if env.Message == "" {
			env.Message = "please fill in the form so I can help you further"
		}
		return env, nil
	}
	if d, ok := env.Data["clarified_demand"].(string); ok && d != "" {
		env.NextAgent = domain.GeneralAgent
		env.Message = "request clarified: " + d
		return env, nil
	}
	// Neither field present: ask again rather than guessing.
	env.NextAgent = domain.NextAgentUserInput
	env.Message = "more information is needed to continue"
	return env, nil
}

// capabilityManifest is the on-disk definition of a file-discovered
// capability.
type capabilityManifest struct {
	Name        string                `yaml:"name"`
	Description string                `yaml:"description"`
	Handles     []string              `yaml:"handles"`
	Parameters  map[string]string     `yaml:"parameters"`
	Version     string                `yaml:"version"`
	Prompt      domain.PromptTemplate `yaml:"prompt"`
}

func (m capabilityManifest) validate() error {
	if m.Name == "" {
		return fmt.Errorf("missing name")
	}
	if m.Description == "" {
		return fmt.Errorf("missing description")
	}
	if len(m.Handles) == 0 {
		return fmt.Errorf("missing handles")
	}
	return nil
}

// LoadDir scans dir for capability manifests (*.yaml, *.yml) and registers
// one capability per file. Malformed or duplicate definitions are skipped
// and logged, never fatal.
func (r *Registry) LoadDir(dir string) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return domain.WrapOp("Registry.LoadDir", err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.dir = dir

	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		ext := filepath.Ext(entry.Name())
		if ext != ".yaml" && ext != ".yml" {
			continue
		}
		path := filepath.Join(dir, entry.Name())
		c, err := loadManifest(path)
		if err != nil {
			r.logger.Warn("skipping capability manifest", "path", path, "error", err)
			continue
		}
		if _, exists := r.entries[c.Name]; exists {
			r.logger.Warn("skipping duplicate capability", "path", path, "name", c.Name)
			continue
		}
		r.entries[c.Name] = registryEntry{cap: c, origin: originFile}
		r.logger.Info("capability loaded", "name", c.Name, "path", path)
	}
	return nil
}

func loadManifest(path string) (*domain.Capability, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var m capabilityManifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("parse manifest: %w", err)
	}
	if err := m.validate(); err != nil {
		return nil, fmt.Errorf("invalid manifest: %w", err)
	}
	version := m.Version
	if version == "" {
		version = "1.0.0"
	}
	tpl := m.Prompt
	return &domain.Capability{
		Name:        m.Name,
		Description: m.Description,
		Handles:     m.Handles,
		Parameters:  m.Parameters,
		Version:     version,
		Active:      true,
		Template:    &tpl,
		Run:         runPassthrough,
	}, nil
}

// AddProvider registers protocol-derived capabilities built by the wire
// protocol adapter. Inactive capabilities (failed health checks) are kept so
// the deactivation reason survives for diagnostics.
func (r *Registry) AddProvider(caps ...*domain.Capability) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, c := range caps {
		if _, exists := r.entries[c.Name]; exists {
			return domain.NewDomainError("Registry.AddProvider", domain.ErrDuplicateCapability, c.Name)
		}
		r.entries[c.Name] = registryEntry{cap: c, origin: originProvider}
		r.logger.Info("provider capability registered",
			"name", c.Name, "active", c.Active, "reason", c.InactiveReason)
	}
	return nil
}

// Register adds a compiled-in capability (the explicit registration table for
// code that used to be dynamically loaded). Compiled-in entries survive
// Reload, same as built-ins.
func (r *Registry) Register(c *domain.Capability) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.entries[c.Name]; exists {
		return domain.NewDomainError("Registry.Register", domain.ErrDuplicateCapability, c.Name)
	}
	r.entries[c.Name] = registryEntry{cap: c, origin: originCompiled}
	return nil
}

// Get returns the named capability or ErrCapabilityNotFound.
func (r *Registry) Get(name string) (*domain.Capability, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[name]
	if !ok {
		return nil, domain.NewDomainError("Registry.Get", domain.ErrCapabilityNotFound, name)
	}
	return e.cap, nil
}

// Reload re-scans the manifest directory, replacing file-discovered entries
// while preserving built-ins and provider-derived ones. This enables hot
// swapping capability definitions without a restart.
func (r *Registry) Reload() error {
	r.mu.Lock()
	dir := r.dir
	for name, e := range r.entries {
		if e.origin == originFile {
			delete(r.entries, name)
		}
	}
	r.mu.Unlock()

	if dir == "" {
		return nil
	}
	return r.LoadDir(dir)
}

// Listing returns the stable oracle-facing view of all active capabilities
// as JSON. Keys serialize in sorted order, so two calls with no intervening
// mutation yield byte-identical output.
func (r *Registry) Listing() (string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	listing := domain.Listing{AvailableAgents: make(map[string]domain.CapabilityInfo)}
	for name, e := range r.entries {
		if !e.cap.Active {
			continue
		}
		params := e.cap.Parameters
		if params == nil {
			params = map[string]string{}
		}
		listing.AvailableAgents[name] = domain.CapabilityInfo{
			Description: e.cap.Description,
			Handles:     e.cap.Handles,
			Parameters:  params,
		}
	}

	data, err := json.Marshal(listing)
	if err != nil {
		return "", domain.WrapOp("Registry.Listing", err)
	}
	return string(data), nil
}

// All returns every registered capability, active or not, sorted by name.
func (r *Registry) All() []*domain.Capability {
	r.mu.RLock()
	defer r.mu.RUnlock()
	caps := make([]*domain.Capability, 0, len(r.entries))
	for _, e := range r.entries {
		caps = append(caps, e.cap)
	}
	sort.Slice(caps, func(i, j int) bool { return caps[i].Name < caps[j].Name })
	return caps
}

// ActiveNames returns the sorted names of active capabilities, mainly for
// logging and the HTTP surface.
func (r *Registry) ActiveNames() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.entries))
	for name, e := range r.entries {
		if e.cap.Active {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names
}
