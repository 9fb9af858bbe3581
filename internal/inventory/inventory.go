// Package inventory seeds webcams and labelers from a YAML file.
package inventory

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/lookout-labs/lookout-go/internal/domain"
)

const SchemaV1 = "lookout.inventory.v1"

type File struct {
	Schema   string        `yaml:"schema"`
	Webcams  []WebcamSpec  `yaml:"webcams"`
	Labelers []LabelerSpec `yaml:"labelers"`
}

type WebcamSpec struct {
	ID        string  `yaml:"id"`
	Name      string  `yaml:"name"`
	Latitude  float64 `yaml:"latitude"`
	Longitude float64 `yaml:"longitude"`
	SourceURL string  `yaml:"source_url"`
	Active    *bool   `yaml:"active,omitempty"`
}

// LabelerSpec seeds a labeler. Mode and Enabled apply only when the labeler
// is created; later changes go through the admin API.
type LabelerSpec struct {
	Name    string         `yaml:"name"`
	Kind    string         `yaml:"kind"`
	Mode    string         `yaml:"mode,omitempty"`
	Enabled *bool          `yaml:"enabled,omitempty"`
	Version string         `yaml:"version"`
	Config  map[string]any `yaml:"config,omitempty"`
}

func Load(path string) (File, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return File{}, fmt.Errorf("read inventory: %w", err)
	}
	return Parse(raw)
}

func Parse(input []byte) (File, error) {
	var f File
	if err := yaml.Unmarshal(input, &f); err != nil {
		return File{}, fmt.Errorf("decode inventory: %w", err)
	}
	if err := f.Validate(); err != nil {
		return File{}, err
	}
	return f, nil
}

func (f File) Validate() error {
	if strings.TrimSpace(f.Schema) != SchemaV1 {
		return fmt.Errorf("inventory.schema must be %q", SchemaV1)
	}
	seenWebcams := make(map[string]struct{}, len(f.Webcams))
	for i, w := range f.Webcams {
		id := strings.TrimSpace(w.ID)
		if id == "" {
			return fmt.Errorf("inventory.webcams[%d].id is required", i)
		}
		if _, ok := seenWebcams[id]; ok {
			return fmt.Errorf("inventory.webcams[%d].id must be unique (duplicate %q)", i, id)
		}
		seenWebcams[id] = struct{}{}
		if strings.TrimSpace(w.SourceURL) == "" {
			return fmt.Errorf("inventory.webcams[%d].source_url is required", i)
		}
		if w.Latitude < -90 || w.Latitude > 90 || w.Longitude < -180 || w.Longitude > 180 {
			return fmt.Errorf("inventory.webcams[%d] coordinates out of range", i)
		}
	}
	seenLabelers := make(map[string]struct{}, len(f.Labelers))
	for i, l := range f.Labelers {
		name := strings.TrimSpace(l.Name)
		if name == "" {
			return fmt.Errorf("inventory.labelers[%d].name is required", i)
		}
		if _, ok := seenLabelers[name]; ok {
			return fmt.Errorf("inventory.labelers[%d].name must be unique (duplicate %q)", i, name)
		}
		seenLabelers[name] = struct{}{}
		if strings.TrimSpace(l.Kind) == "" {
			return fmt.Errorf("inventory.labelers[%d].kind is required", i)
		}
		if l.Mode != "" {
			if _, err := domain.ParseLabelerMode(l.Mode); err != nil {
				return fmt.Errorf("inventory.labelers[%d].mode: %w", i, err)
			}
		}
	}
	return nil
}

func (w WebcamSpec) Webcam() domain.Webcam {
	active := true
	if w.Active != nil {
		active = *w.Active
	}
	return domain.Webcam{
		ID:        strings.TrimSpace(w.ID),
		Name:      strings.TrimSpace(w.Name),
		Latitude:  w.Latitude,
		Longitude: w.Longitude,
		SourceURL: strings.TrimSpace(w.SourceURL),
		Active:    active,
	}
}

func (l LabelerSpec) Labeler() domain.Labeler {
	enabled := true
	if l.Enabled != nil {
		enabled = *l.Enabled
	}
	mode, _ := domain.ParseLabelerMode(l.Mode)
	return domain.Labeler{
		Name:    strings.TrimSpace(l.Name),
		Kind:    strings.TrimSpace(l.Kind),
		Mode:    mode,
		Enabled: enabled,
		Version: strings.TrimSpace(l.Version),
		Config:  domain.Metadata(l.Config),
	}
}

// WebcamWriter is satisfied by *postgres.WebcamStore.
type WebcamWriter interface {
	Upsert(ctx context.Context, webcam domain.Webcam) error
}

// LabelerRegistrar is satisfied by *labeling.Registry.
type LabelerRegistrar interface {
	Register(ctx context.Context, labeler domain.Labeler, actor string) (domain.Labeler, bool, error)
}

type SeedResult struct {
	Webcams         int
	LabelersCreated int
	LabelersUpdated int
}

// Seed upserts every webcam and registers every labeler. It stops at the first
// error; already applied rows stay applied and a rerun is safe.
func Seed(ctx context.Context, f File, webcams WebcamWriter, labelers LabelerRegistrar, actor string) (SeedResult, error) {
	if webcams == nil || labelers == nil {
		return SeedResult{}, errors.New("webcam writer and labeler registrar are required")
	}
	var res SeedResult
	for _, w := range f.Webcams {
		if err := webcams.Upsert(ctx, w.Webcam()); err != nil {
			return res, fmt.Errorf("seed webcam %s: %w", w.ID, err)
		}
		res.Webcams++
	}
	for _, l := range f.Labelers {
		_, created, err := labelers.Register(ctx, l.Labeler(), actor)
		if err != nil {
			return res, fmt.Errorf("seed labeler %s: %w", l.Name, err)
		}
		if created {
			res.LabelersCreated++
		} else {
			res.LabelersUpdated++
		}
	}
	return res, nil
}
