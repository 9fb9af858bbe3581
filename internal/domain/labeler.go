package domain

import (
	"fmt"
	"strings"
	"time"
)

type LabelerMode string

const (
	LabelerModeProduction   LabelerMode = "production"
	LabelerModeShadow       LabelerMode = "shadow"
	LabelerModeExperimental LabelerMode = "experimental"
	LabelerModeDeprecated   LabelerMode = "deprecated"
)

func (m LabelerMode) Valid() bool {
	switch m {
	case LabelerModeProduction, LabelerModeShadow, LabelerModeExperimental, LabelerModeDeprecated:
		return true
	default:
		return false
	}
}

// ParseLabelerMode normalizes raw and rejects unknown modes.
func ParseLabelerMode(raw string) (LabelerMode, error) {
	mode := LabelerMode(strings.ToLower(strings.TrimSpace(raw)))
	if !mode.Valid() {
		return "", fmt.Errorf("unknown labeler mode %q", raw)
	}
	return mode, nil
}

// Labeler is a configured strategy instance.
type Labeler struct {
	Name      string
	Kind      string
	Mode      LabelerMode
	Enabled   bool
	Version   string
	Config    Metadata
	UpdatedAt time.Time
	UpdatedBy string
}

// Dispatchable reports whether the labeler runs in scheduled cycles.
func (l Labeler) Dispatchable() bool {
	return l.Enabled && l.Mode != LabelerModeDeprecated
}

// Metadata is an unstructured strategy configuration.
type Metadata map[string]any

// Clone deep-copies nested maps and slices so the copy shares no mutable
// state with m.
func (m Metadata) Clone() Metadata {
	if m == nil {
		return Metadata{}
	}
	out := make(Metadata, len(m))
	for k, v := range m {
		out[k] = cloneValue(v)
	}
	return out
}

func cloneValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, inner := range t {
			out[k] = cloneValue(inner)
		}
		return out
	case Metadata:
		return t.Clone()
	case []any:
		out := make([]any, len(t))
		for i, inner := range t {
			out[i] = cloneValue(inner)
		}
		return out
	case []string:
		return append([]string(nil), t...)
	default:
		return v
	}
}
