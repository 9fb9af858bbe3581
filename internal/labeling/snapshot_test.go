package labeling

import (
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/lookout-labs/lookout-go/internal/domain"
)

var t0 = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func success(name string, mode domain.LabelerMode, offset time.Duration) domain.LabelExecution {
	return domain.LabelExecution{
		CaptureID:   "cap-1",
		LabelerName: name,
		LabelerMode: mode,
		StartedAt:   t0.Add(offset),
		Outcome:     domain.OutcomeSuccess,
	}
}

func TestSelectPrimary_ProductionWinsRegardlessOfOrder(t *testing.T) {
	snap := NewSnapshot([]domain.Labeler{
		{Name: "x", Mode: domain.LabelerModeShadow, Enabled: true},
		{Name: "y", Mode: domain.LabelerModeProduction, Enabled: true},
	}, nil)

	orders := [][]domain.LabelExecution{
		{success("x", domain.LabelerModeShadow, 0), success("y", domain.LabelerModeProduction, time.Second)},
		{success("y", domain.LabelerModeProduction, time.Second), success("x", domain.LabelerModeShadow, 0)},
	}
	for i, executions := range orders {
		primary := snap.SelectPrimary(executions)
		if primary == nil || primary.LabelerName != "y" {
			t.Fatalf("order %d: primary=%+v, want y", i, primary)
		}
	}
}

func TestSelectPrimary_FallbackRules(t *testing.T) {
	snap := NewSnapshot([]domain.Labeler{
		{Name: "dep", Mode: domain.LabelerModeDeprecated, Enabled: true},
		{Name: "off", Mode: domain.LabelerModeShadow, Enabled: false},
		{Name: "exp", Mode: domain.LabelerModeExperimental, Enabled: true},
		{Name: "prod", Mode: domain.LabelerModeProduction, Enabled: true},
	}, nil)

	executions := []domain.LabelExecution{
		success("dep", domain.LabelerModeShadow, 0),
		success("off", domain.LabelerModeShadow, time.Second),
		success("exp", domain.LabelerModeExperimental, 3*time.Second),
		success("gone", domain.LabelerModeShadow, 2*time.Second),
		{LabelerName: "prod", LabelerMode: domain.LabelerModeProduction, StartedAt: t0, Outcome: domain.OutcomeTimeout},
	}
	primary := snap.SelectPrimary(executions)
	if primary == nil || primary.LabelerName != "gone" {
		t.Fatalf("primary=%+v, want gone (earliest eligible)", primary)
	}
}

func TestSelectPrimary_TieBrokenByName(t *testing.T) {
	snap := NewSnapshot(nil, nil)
	primary := snap.SelectPrimary([]domain.LabelExecution{
		success("b", domain.LabelerModeProduction, 0),
		success("a", domain.LabelerModeProduction, 0),
	})
	if primary == nil || primary.LabelerName != "a" {
		t.Fatalf("primary=%+v, want a", primary)
	}
}

func TestSelectPrimary_NoneSucceeded(t *testing.T) {
	snap := NewSnapshot(nil, nil)
	primary := snap.SelectPrimary([]domain.LabelExecution{
		{LabelerName: "a", LabelerMode: domain.LabelerModeProduction, Outcome: domain.OutcomeFailure},
	})
	if primary != nil {
		t.Fatalf("primary=%+v, want nil", primary)
	}
}

func TestSelectForDispatch(t *testing.T) {
	snap := NewSnapshot([]domain.Labeler{
		{Name: "c", Mode: domain.LabelerModeShadow, Enabled: true},
		{Name: "a", Mode: domain.LabelerModeProduction, Enabled: true},
		{Name: "d", Mode: domain.LabelerModeDeprecated, Enabled: true},
		{Name: "b", Mode: domain.LabelerModeExperimental, Enabled: false},
	}, nil)

	var names []string
	for _, l := range snap.SelectForDispatch() {
		names = append(names, l.Name)
	}
	if diff := cmp.Diff([]string{"a", "c"}, names); diff != "" {
		t.Fatalf("dispatch mismatch (-want +got):\n%s", diff)
	}
}

func TestSnapshotIsolatedFromSource(t *testing.T) {
	source := []domain.Labeler{{Name: "a", Mode: domain.LabelerModeProduction, Enabled: true, Config: domain.Metadata{
		"k":      "v",
		"oauth2": map[string]any{"client_id": "lookout", "scopes": []any{"vision"}},
	}}}
	snap := NewSnapshot(source, nil)
	source[0].Enabled = false
	source[0].Config["k"] = "changed"
	nested := source[0].Config["oauth2"].(map[string]any)
	nested["client_id"] = "intruder"
	nested["scopes"].([]any)[0] = "admin"

	l, _ := snap.Labeler("a")
	if !l.Enabled || l.Config["k"] != "v" {
		t.Fatalf("snapshot mutated through source: %+v", l)
	}
	oauth := l.Config["oauth2"].(map[string]any)
	if oauth["client_id"] != "lookout" || oauth["scopes"].([]any)[0] != "vision" {
		t.Fatalf("snapshot nested config mutated through source: %+v", oauth)
	}
}
