package inventory

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"

	"github.com/lookout-labs/lookout-go/internal/domain"
)

type recordingWebcams struct {
	upserts []domain.Webcam
	err     error
}

func (r *recordingWebcams) Upsert(ctx context.Context, webcam domain.Webcam) error {
	if r.err != nil {
		return r.err
	}
	r.upserts = append(r.upserts, webcam)
	return nil
}

type recordingRegistrar struct {
	existing map[string]bool
	seen     []domain.Labeler
	actors   []string
}

func (r *recordingRegistrar) Register(ctx context.Context, labeler domain.Labeler, actor string) (domain.Labeler, bool, error) {
	r.seen = append(r.seen, labeler)
	r.actors = append(r.actors, actor)
	return labeler, !r.existing[labeler.Name], nil
}

func TestLoadAndSeed(t *testing.T) {
	f, err := Load(filepath.Join("testdata", "inventory.yaml"))
	if err != nil {
		t.Fatalf("Load() err=%v", err)
	}
	webcams := &recordingWebcams{}
	registrar := &recordingRegistrar{existing: map[string]bool{"luminance": true}}

	res, err := Seed(context.Background(), f, webcams, registrar, "inventory")
	if err != nil {
		t.Fatalf("Seed() err=%v", err)
	}
	if res.Webcams != 2 || res.LabelersCreated != 1 || res.LabelersUpdated != 1 {
		t.Fatalf("result=%+v", res)
	}
	if !webcams.upserts[0].Active || webcams.upserts[1].Active {
		t.Fatalf("active flags=%v/%v, want true/false", webcams.upserts[0].Active, webcams.upserts[1].Active)
	}
	vision := registrar.seen[0]
	if vision.Mode != domain.LabelerModeProduction || !vision.Enabled {
		t.Fatalf("vision-a=%+v, want enabled production", vision)
	}
	if vision.Config["endpoint"] != "http://vision.example.test/v1/assess" {
		t.Fatalf("config=%v", vision.Config)
	}
	if registrar.actors[0] != "inventory" {
		t.Fatalf("actor=%q, want inventory", registrar.actors[0])
	}
}

func TestParse_Validation(t *testing.T) {
	cases := []struct {
		name string
		yaml string
		want string
	}{
		{name: "schema", yaml: "schema: other\n", want: "schema"},
		{name: "duplicate webcam", yaml: `schema: lookout.inventory.v1
webcams:
  - {id: a, source_url: "http://x"}
  - {id: a, source_url: "http://y"}
`, want: "duplicate"},
		{name: "missing source", yaml: `schema: lookout.inventory.v1
webcams:
  - {id: a}
`, want: "source_url"},
		{name: "bad latitude", yaml: `schema: lookout.inventory.v1
webcams:
  - {id: a, source_url: "http://x", latitude: 91}
`, want: "coordinates"},
		{name: "unknown mode", yaml: `schema: lookout.inventory.v1
labelers:
  - {name: a, kind: http, mode: canary}
`, want: "mode"},
		{name: "missing kind", yaml: `schema: lookout.inventory.v1
labelers:
  - {name: a}
`, want: "kind"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Parse([]byte(tc.yaml))
			if err == nil || !strings.Contains(err.Error(), tc.want) {
				t.Fatalf("err=%v, want containing %q", err, tc.want)
			}
		})
	}
}

func TestSeed_StopsOnError(t *testing.T) {
	f := File{Schema: SchemaV1, Webcams: []WebcamSpec{{ID: "a", SourceURL: "http://x"}}}
	boom := errors.New("db down")
	_, err := Seed(context.Background(), f, &recordingWebcams{err: boom}, &recordingRegistrar{}, "inventory")
	if !errors.Is(err, boom) {
		t.Fatalf("err=%v, want %v", err, boom)
	}
}
