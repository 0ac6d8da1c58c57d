// Package templates holds the named prompt and parameter bundles jobs are
// submitted against.
package templates

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/lin-1259/ai-xiutu/internal/domain"
)

// builtIns are always available; configured templates with the same id replace them.
var builtIns = []domain.Template{
	{
		ID:   "enhance",
		Name: "Enhance",
		Params: domain.Params{
			Prompt:         "Enhance this photo: improve sharpness, lighting and color balance while keeping the subject unchanged.",
			NegativePrompt: "blurry, oversaturated, artifacts",
			Strength:       0.35,
			GuidanceScale:  7,
			Steps:          30,
			Resolution:     2048,
			Quality:        domain.QualityHigh,
		},
	},
	{
		ID:   "background-clean",
		Name: "Clean background",
		Params: domain.Params{
			Prompt:        "Replace the background with a clean, evenly lit pure white studio backdrop. Keep the subject intact.",
			Strength:      0.6,
			GuidanceScale: 8,
			Steps:         30,
			Resolution:    1024,
			Quality:       domain.QualityStandard,
		},
	},
	{
		ID:   "watercolor",
		Name: "Watercolor",
		Params: domain.Params{
			Prompt:        "Repaint this image as a soft watercolor illustration with visible paper texture.",
			Strength:      0.75,
			GuidanceScale: 7.5,
			Steps:         40,
			Resolution:    1024,
			Quality:       domain.QualityStandard,
		},
	},
	{
		ID:   "anime",
		Name: "Anime",
		Params: domain.Params{
			Prompt:         "Redraw this image in a clean anime illustration style with crisp line art.",
			NegativePrompt: "photorealistic, noisy",
			Strength:       0.8,
			GuidanceScale:  7,
			Steps:          40,
			Resolution:     1024,
			Quality:        domain.QualityStandard,
		},
	},
	{
		ID:   "product-shot",
		Name: "Product shot",
		Params: domain.Params{
			Prompt:        "Turn this into a professional e-commerce product photo with soft shadows and a neutral gradient background.",
			Strength:      0.55,
			GuidanceScale: 8,
			Steps:         35,
			Resolution:    2048,
			Quality:       domain.QualityHigh,
		},
	},
}

// Registry is a concurrency-safe lookup of templates by id.
type Registry struct {
	mu        sync.RWMutex
	templates map[string]domain.Template
}

// NewRegistry returns a registry seeded with the built-in templates
// followed by the given templates, which override built-ins by id.
func NewRegistry(custom ...domain.Template) (*Registry, error) {
	r := &Registry{templates: make(map[string]domain.Template, len(builtIns)+len(custom))}
	for _, t := range builtIns {
		t.BuiltIn = true
		r.templates[t.ID] = t
	}
	for _, t := range custom {
		if err := r.Put(t); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// Put validates and stores a template.
func (r *Registry) Put(t domain.Template) error {
	t.ID = strings.TrimSpace(t.ID)
	t.BuiltIn = false
	t.Params = t.Params.WithDefaults()
	if t.Name == "" {
		t.Name = t.ID
	}
	if err := t.Validate(); err != nil {
		return fmt.Errorf("template %q: %w", t.ID, err)
	}
	r.mu.Lock()
	r.templates[t.ID] = t
	r.mu.Unlock()
	return nil
}

// Get looks up a template by id.
func (r *Registry) Get(id string) (domain.Template, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.templates[id]
	if !ok {
		return domain.Template{}, fmt.Errorf("%w: %q", domain.ErrTemplateNotFound, id)
	}
	return t, nil
}

// List returns all templates sorted by id.
func (r *Registry) List() []domain.Template {
	r.mu.RLock()
	out := make([]domain.Template, 0, len(r.templates))
	for _, t := range r.templates {
		out = append(out, t)
	}
	r.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}
