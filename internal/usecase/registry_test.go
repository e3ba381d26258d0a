package usecase

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"easyagent/internal/domain"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

const weatherManifest = `
name: weather_agent
description: looks up current weather conditions
handles:
  - weather queries
  - forecasts
parameters:
  location: city or coordinates
version: 1.2.0
prompt:
  system_instructions: You are a weather lookup assistant.
  core_instructions: Answer with the current conditions for the requested location.
  data_fields: '"location": "string"'
`

func writeManifest(t *testing.T, dir, name, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644))
}

func TestNewRegistryBuiltins(t *testing.T) {
	r := NewRegistry(testLogger())

	entrance, err := r.Get(domain.EntranceAgent)
	require.NoError(t, err)
	assert.False(t, entrance.Active)

	general, err := r.Get(domain.GeneralAgent)
	require.NoError(t, err)
	assert.True(t, general.Active)

	clarify, err := r.Get(domain.ClarifyAgent)
	require.NoError(t, err)
	assert.True(t, clarify.Active)
}

func TestRegistryGetUnknown(t *testing.T) {
	r := NewRegistry(testLogger())

	_, err := r.Get("no_such_agent")
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrCapabilityNotFound))
}

func TestRegistryLoadDir(t *testing.T) {
	dir := t.TempDir()
	writeManifest(t, dir, "weather.yaml", weatherManifest)
	writeManifest(t, dir, "notes.txt", "not a manifest")

	r := NewRegistry(testLogger())
	require.NoError(t, r.LoadDir(dir))

	c, err := r.Get("weather_agent")
	require.NoError(t, err)
	assert.True(t, c.Active)
	assert.Equal(t, "1.2.0", c.Version)
	assert.Equal(t, []string{"weather queries", "forecasts"}, c.Handles)
	require.NotNil(t, c.Template)
	assert.Contains(t, c.Template.SystemInstructions, "weather")
	require.NotNil(t, c.Run)
}

func TestRegistryLoadDirSkipsMalformed(t *testing.T) {
	dir := t.TempDir()
	writeManifest(t, dir, "broken.yaml", ": definitely not yaml {{{")
	writeManifest(t, dir, "incomplete.yaml", "name: lonely_agent\n")
	writeManifest(t, dir, "weather.yaml", weatherManifest)

	r := NewRegistry(testLogger())
	require.NoError(t, r.LoadDir(dir))

	_, err := r.Get("lonely_agent")
	assert.Error(t, err)
	_, err = r.Get("weather_agent")
	assert.NoError(t, err)
}

func TestRegistryLoadDirSkipsDuplicateOfBuiltin(t *testing.T) {
	dir := t.TempDir()
	writeManifest(t, dir, "general.yaml", `
name: general_agent
description: impostor
handles: [everything]
`)

	r := NewRegistry(testLogger())
	require.NoError(t, r.LoadDir(dir))

	c, err := r.Get(domain.GeneralAgent)
	require.NoError(t, err)
	assert.NotEqual(t, "impostor", c.Description)
}

func TestRegistryReload(t *testing.T) {
	dir := t.TempDir()
	writeManifest(t, dir, "weather.yaml", weatherManifest)

	r := NewRegistry(testLogger())
	require.NoError(t, r.LoadDir(dir))
	require.NoError(t, r.AddProvider(&domain.Capability{
		Name:        "tooling_agent",
		Description: "wire protocol tools",
		Handles:     []string{"tools"},
		Active:      true,
		Run:         runPassthrough,
	}))

	// Swap the manifest set on disk, then reload.
	require.NoError(t, os.Remove(filepath.Join(dir, "weather.yaml")))
	writeManifest(t, dir, "calendar.yaml", `
name: calendar_agent
description: manages calendar entries
handles: [scheduling]
`)
	require.NoError(t, r.Reload())

	_, err := r.Get("weather_agent")
	assert.True(t, errors.Is(err, domain.ErrCapabilityNotFound))
	_, err = r.Get("calendar_agent")
	assert.NoError(t, err)

	// Built-ins and provider-derived entries survive reload.
	_, err = r.Get(domain.GeneralAgent)
	assert.NoError(t, err)
	_, err = r.Get("tooling_agent")
	assert.NoError(t, err)
}

func TestRegistryReloadKeepsCompiledIn(t *testing.T) {
	r := NewRegistry(testLogger())
	require.NoError(t, r.Register(&domain.Capability{
		Name:        "calculator_agent",
		Description: "evaluates arithmetic expressions",
		Handles:     []string{"math"},
		Active:      true,
		Run:         runPassthrough,
	}))

	// Reload with no manifest directory ever loaded.
	require.NoError(t, r.Reload())
	_, err := r.Get("calculator_agent")
	assert.NoError(t, err)

	dir := t.TempDir()
	writeManifest(t, dir, "weather.yaml", weatherManifest)
	require.NoError(t, r.LoadDir(dir))
	require.NoError(t, r.Reload())

	_, err = r.Get("calculator_agent")
	assert.NoError(t, err)
	_, err = r.Get("weather_agent")
	assert.NoError(t, err)
}

func TestRegistryAddProviderDuplicate(t *testing.T) {
	r := NewRegistry(testLogger())
	c := &domain.Capability{Name: "dup_agent", Description: "d", Handles: []string{"x"}, Active: true}

	require.NoError(t, r.AddProvider(c))
	err := r.AddProvider(c)
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrDuplicateCapability))
}

func TestRegistryListingDeterministic(t *testing.T) {
	dir := t.TempDir()
	writeManifest(t, dir, "weather.yaml", weatherManifest)

	r := NewRegistry(testLogger())
	require.NoError(t, r.LoadDir(dir))

	first, err := r.Listing()
	require.NoError(t, err)
	for i := 0; i < 10; i++ {
		next, err := r.Listing()
		require.NoError(t, err)
		assert.Equal(t, first, next)
	}
}

func TestRegistryListingExcludesInactive(t *testing.T) {
	r := NewRegistry(testLogger())
	require.NoError(t, r.AddProvider(&domain.Capability{
		Name:           "dead_agent",
		Description:    "never healthy",
		Handles:        []string{"nothing"},
		Active:         false,
		InactiveReason: "missing binary",
	}))

	listing, err := r.Listing()
	require.NoError(t, err)
	assert.NotContains(t, listing, "dead_agent")
	assert.NotContains(t, listing, domain.EntranceAgent)
	assert.Contains(t, listing, domain.GeneralAgent)
}

func TestRunGeneralForcesTermination(t *testing.T) {
	env := domain.Envelope{Status: domain.StatusSuccess, NextAgent: "weather_agent"}

	out, err := runGeneral(context.Background(), env)
	require.NoError(t, err)
	assert.Equal(t, domain.NextAgentNone, out.(domain.Envelope).NextAgent)
}

func TestRunClarifyRouting(t *testing.T) {
	t.Run("pending form suspends", func(t *testing.T) {
		env := domain.Envelope{
			Status: domain.StatusSuccess,
			Data:   map[string]any{"form_config": map[string]any{"fields": []any{}}},
		}
		out, err := runClarify(context.Background(), env)
		require.NoError(t, err)
		assert.Equal(t, domain.NextAgentUserInput, out.(domain.Envelope).NextAgent)
	})

	t.Run("clarified demand moves on", func(t *testing.T) {
		env := domain.Envelope{
			Status: domain.StatusSuccess,
			Data:   map[string]any{"clarified_demand": "book a table for two"},
		}
		out, err := runClarify(context.Background(), env)
		require.NoError(t, err)
		assert.Equal(t, domain.GeneralAgent, out.(domain.Envelope).NextAgent)
	})

	t.Run("neither field asks again", func(t *testing.T) {
		env := domain.Envelope{Status: domain.StatusSuccess, Data: map[string]any{}}
		out, err := runClarify(context.Background(), env)
		require.NoError(t, err)
		assert.Equal(t, domain.NextAgentUserInput, out.(domain.Envelope).NextAgent)
	})
}
