package strategies

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/lookout-labs/lookout-go/internal/domain"
	"github.com/lookout-labs/lookout-go/internal/labeling"
)

const (
	KindHTTP      = "http"
	KindLuminance = "luminance"
)

// Constructor builds a strategy for one labeler.
type Constructor func(labeler domain.Labeler) (labeling.Strategy, error)

// Factory maps labeler kinds onto constructors.
type Factory struct {
	mu           sync.RWMutex
	constructors map[string]Constructor
}

func NewFactory() *Factory {
	return &Factory{constructors: make(map[string]Constructor)}
}

// NewDefaultFactory knows the http and luminance kinds. client is shared by
// every http strategy; nil uses a client with sane transport timeouts.
func NewDefaultFactory(client *http.Client) *Factory {
	if client == nil {
		client = &http.Client{Transport: http.DefaultTransport, Timeout: 2 * time.Minute}
	}
	f := NewFactory()
	f.Register(KindHTTP, func(l domain.Labeler) (labeling.Strategy, error) {
		return NewHTTPStrategy(l, client)
	})
	f.Register(KindLuminance, func(l domain.Labeler) (labeling.Strategy, error) {
		return NewLuminanceStrategy(l)
	})
	return f
}

func (f *Factory) Register(kind string, ctor Constructor) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.constructors[strings.ToLower(strings.TrimSpace(kind))] = ctor
}

func (f *Factory) Kinds() []string {
	f.mu.RLock()
	defer f.mu.RUnlock()
	out := make([]string, 0, len(f.constructors))
	for kind := range f.constructors {
		out = append(out, kind)
	}
	sort.Strings(out)
	return out
}

func (f *Factory) Build(labeler domain.Labeler) (labeling.Strategy, error) {
	f.mu.RLock()
	ctor, ok := f.constructors[strings.ToLower(strings.TrimSpace(labeler.Kind))]
	f.mu.RUnlock()
	if !ok {
		return nil, labeling.Permanent(labeling.CodeUnknownKind, fmt.Errorf("unknown labeler kind %q", labeler.Kind))
	}
	strategy, err := ctor(labeler)
	if err != nil {
		return nil, labeling.Permanent(labeling.CodeInvalidConfig, fmt.Errorf("labeler %s: %w", labeler.Name, err))
	}
	return strategy, nil
}

// decodeConfig round-trips the untyped config into a typed struct.
func decodeConfig(meta domain.Metadata, out any) error {
	raw, err := json.Marshal(meta)
	if err != nil {
		return fmt.Errorf("encode config: %w", err)
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("decode config: %w", err)
	}
	return nil
}
