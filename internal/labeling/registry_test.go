package labeling

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lookout-labs/lookout-go/internal/domain"
	"github.com/lookout-labs/lookout-go/internal/repo"
)

func TestRegistry_SetModeAudited(t *testing.T) {
	labelers := newFakeLabelerRepo(domain.Labeler{Name: "vision-a", Kind: "http", Mode: domain.LabelerModeShadow, Enabled: true})
	audit := &fakeAudit{}
	registry := NewRegistry(labelers, nil, audit, testLogger())

	got, err := registry.SetMode(context.Background(), "vision-a", domain.LabelerModeProduction, "alice")
	require.NoError(t, err)
	assert.Equal(t, domain.LabelerModeProduction, got.Mode)

	require.Len(t, audit.events, 1)
	ev := audit.events[0]
	assert.Equal(t, "alice", ev.Actor)
	assert.Equal(t, "labeler.mode_changed", ev.Action)
	assert.Equal(t, "vision-a", ev.ResourceID)
	assert.Equal(t, map[string]any{"from": domain.LabelerModeShadow, "to": domain.LabelerModeProduction}, ev.Payload)
}

func TestRegistry_SetModeRejectsUnknownMode(t *testing.T) {
	registry := NewRegistry(newFakeLabelerRepo(), nil, nil, testLogger())
	_, err := registry.SetMode(context.Background(), "vision-a", "beta", "alice")
	assert.ErrorIs(t, err, ErrInvalidMode)
}

func TestRegistry_SetEnabledNotFound(t *testing.T) {
	registry := NewRegistry(newFakeLabelerRepo(), nil, nil, testLogger())
	_, err := registry.SetEnabled(context.Background(), "ghost", false, "alice")
	assert.ErrorIs(t, err, repo.ErrNotFound)
}

func TestRegistry_MutationVisibleOnNextSnapshotOnly(t *testing.T) {
	labelers := newFakeLabelerRepo(domain.Labeler{Name: "a", Mode: domain.LabelerModeProduction, Enabled: true})
	registry := NewRegistry(labelers, nil, nil, testLogger())

	before, err := registry.Snapshot(context.Background())
	require.NoError(t, err)
	_, err = registry.SetEnabled(context.Background(), "a", false, "ops")
	require.NoError(t, err)
	after, err := registry.Snapshot(context.Background())
	require.NoError(t, err)

	assert.Len(t, before.SelectForDispatch(), 1)
	assert.Empty(t, after.SelectForDispatch())
}

func TestRegistry_ListFiltersByMode(t *testing.T) {
	registry := NewRegistry(newFakeLabelerRepo(
		domain.Labeler{Name: "a", Mode: domain.LabelerModeProduction},
		domain.Labeler{Name: "b", Mode: domain.LabelerModeShadow},
		domain.Labeler{Name: "c", Mode: domain.LabelerModeShadow},
	), nil, nil, testLogger())

	shadow := domain.LabelerModeShadow
	got, err := registry.List(context.Background(), &shadow)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "b", got[0].Name)

	all, err := registry.List(context.Background(), nil)
	require.NoError(t, err)
	assert.Len(t, all, 3)

	bad := domain.LabelerMode("beta")
	_, err = registry.List(context.Background(), &bad)
	assert.ErrorIs(t, err, ErrInvalidMode)
}

func TestRegistry_StrategyCachedUntilConfigChanges(t *testing.T) {
	labelers := newFakeLabelerRepo(domain.Labeler{Name: "a", Kind: "fixed", Mode: domain.LabelerModeProduction, Enabled: true, Version: "1"})
	factory := &nameFactory{strategies: map[string]Strategy{"a": fixed(50)}}
	registry := NewRegistry(labelers, factory, nil, testLogger())

	for i := 0; i < 3; i++ {
		snap, err := registry.Snapshot(context.Background())
		require.NoError(t, err)
		_, err = snap.Strategy("a")
		require.NoError(t, err)
	}
	assert.Equal(t, 1, factory.builds)

	_, _, err := registry.Register(context.Background(), domain.Labeler{Name: "a", Kind: "fixed", Version: "2"}, "ops")
	require.NoError(t, err)
	snap, err := registry.Snapshot(context.Background())
	require.NoError(t, err)
	_, err = snap.Strategy("a")
	require.NoError(t, err)
	// One build validating the registration, one for the new fingerprint.
	assert.Equal(t, 3, factory.builds)
}

func TestRegistry_RegisterKeepsLifecycleOnUpdate(t *testing.T) {
	labelers := newFakeLabelerRepo(domain.Labeler{Name: "a", Kind: "fixed", Mode: domain.LabelerModeProduction, Enabled: true})
	factory := &nameFactory{strategies: map[string]Strategy{"a": fixed(50), "b": fixed(50)}}
	audit := &fakeAudit{}
	registry := NewRegistry(labelers, factory, audit, testLogger())

	updated, created, err := registry.Register(context.Background(), domain.Labeler{Name: "a", Kind: "fixed", Mode: domain.LabelerModeShadow, Version: "9"}, "ops")
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, domain.LabelerModeProduction, updated.Mode)
	assert.Equal(t, "9", updated.Version)

	fresh, created, err := registry.Register(context.Background(), domain.Labeler{Name: "b", Kind: "fixed"}, "ops")
	require.NoError(t, err)
	assert.True(t, created)
	assert.Equal(t, domain.LabelerModeExperimental, fresh.Mode)

	require.Len(t, audit.events, 2)
	assert.Equal(t, "labeler.updated", audit.events[0].Action)
	assert.Equal(t, "labeler.registered", audit.events[1].Action)
}

func TestRegistry_RegisterRejectsUnbuildableConfig(t *testing.T) {
	registry := NewRegistry(newFakeLabelerRepo(), &nameFactory{strategies: map[string]Strategy{}}, nil, testLogger())
	_, _, err := registry.Register(context.Background(), domain.Labeler{Name: "x", Kind: "mystery"}, "ops")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrInvalidLabeler))
}
