package domain

import (
	"testing"
	"time"
)

func TestParseLabelerMode(t *testing.T) {
	mode, err := ParseLabelerMode(" Shadow ")
	if err != nil {
		t.Fatalf("ParseLabelerMode() err=%v", err)
	}
	if mode != LabelerModeShadow {
		t.Fatalf("mode=%q, want shadow", mode)
	}
	if _, err := ParseLabelerMode("retired"); err == nil {
		t.Fatalf("expected error for unknown mode")
	}
}

func TestLabelerDispatchable(t *testing.T) {
	cases := []struct {
		labeler Labeler
		want    bool
	}{
		{Labeler{Mode: LabelerModeProduction, Enabled: true}, true},
		{Labeler{Mode: LabelerModeExperimental, Enabled: true}, true},
		{Labeler{Mode: LabelerModeShadow, Enabled: false}, false},
		{Labeler{Mode: LabelerModeDeprecated, Enabled: true}, false},
	}
	for _, tc := range cases {
		if got := tc.labeler.Dispatchable(); got != tc.want {
			t.Fatalf("Dispatchable(%+v)=%v, want %v", tc.labeler, got, tc.want)
		}
	}
}

func TestAssessmentAge(t *testing.T) {
	captured := time.Date(2026, 1, 2, 10, 0, 0, 0, time.UTC)
	a := AssessmentFrom("summit", captured, LabelExecution{CaptureID: "c1", LabelerName: "vision-a", Score: 80})
	if got := a.Age(captured.Add(45 * time.Minute)); got != 45*time.Minute {
		t.Fatalf("Age=%v, want 45m", got)
	}
	if a.Labeler != "vision-a" || a.Score != 80 || a.IsStale {
		t.Fatalf("unexpected assessment: %+v", a)
	}
}

func TestMetadataCloneIsIndependent(t *testing.T) {
	orig := Metadata{"endpoint": "http://a"}
	clone := orig.Clone()
	clone["endpoint"] = "http://b"
	if orig["endpoint"] != "http://a" {
		t.Fatalf("clone mutated original")
	}

	deep := Metadata{
		"oauth2":  map[string]any{"token_url": "http://t"},
		"headers": []string{"x"},
		"nested":  []any{map[string]any{"a": 1}},
	}
	copied := deep.Clone()
	copied["oauth2"].(map[string]any)["token_url"] = "http://evil"
	copied["headers"].([]string)[0] = "y"
	copied["nested"].([]any)[0].(map[string]any)["a"] = 2
	if deep["oauth2"].(map[string]any)["token_url"] != "http://t" {
		t.Fatalf("nested map shared with clone")
	}
	if deep["headers"].([]string)[0] != "x" {
		t.Fatalf("slice shared with clone")
	}
	if deep["nested"].([]any)[0].(map[string]any)["a"] != 1 {
		t.Fatalf("map inside slice shared with clone")
	}
	if Metadata(nil).Clone() == nil {
		t.Fatalf("nil clone should be empty map")
	}
}
