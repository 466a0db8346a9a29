package provider

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/rustygpt/rustygpt/internal/config"
)

// ErrUnknownModel signals a request for a model name absent from the config.
var ErrUnknownModel = errors.New("unknown model")

// Model pairs a provider with the sampling defaults configured for it.
type Model struct {
	Config   config.ModelConfig
	Provider Provider
}

// Registry resolves model names to backends. Unknown provider kinds in the
// config are an error at startup rather than a surprise at request time.
type Registry struct {
	models      map[string]*Model
	defaultName string
}

func NewRegistry(cfg *config.LLMConfig, log *slog.Logger) (*Registry, error) {
	r := &Registry{models: make(map[string]*Model), defaultName: cfg.DefaultModel}

	for _, mc := range cfg.Models {
		var p Provider
		switch mc.Provider {
		case "local":
			if mc.Path == "" {
				return nil, fmt.Errorf("model %q: local provider requires a runtime path", mc.Name)
			}
			p = NewLocal(mc.Name, mc.Path, log)
		case "fallback":
			p = NewFallback()
		default:
			return nil, fmt.Errorf("model %q: unknown provider %q", mc.Name, mc.Provider)
		}
		r.models[mc.Name] = &Model{Config: mc, Provider: p}
	}

	if _, ok := r.models[r.defaultName]; !ok {
		return nil, fmt.Errorf("default model %q is not configured", r.defaultName)
	}
	return r, nil
}

// Resolve returns the named model, or the default when name is empty.
func (r *Registry) Resolve(name string) (*Model, error) {
	if name == "" {
		name = r.defaultName
	}
	m, ok := r.models[name]
	if !ok {
		return nil, fmt.Errorf("%w %q", ErrUnknownModel, name)
	}
	return m, nil
}

func (r *Registry) DefaultName() string { return r.defaultName }

// Names lists configured models, for the model listing endpoint.
func (r *Registry) Names() []string {
	out := make([]string, 0, len(r.models))
	for name := range r.models {
		out = append(out, name)
	}
	return out
}
