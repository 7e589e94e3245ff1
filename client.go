package networking

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/frankli0324/go-networking/internal/config"
	"github.com/frankli0324/go-networking/internal/director"
	"github.com/frankli0324/go-networking/internal/metrics"

	// built-in backends register themselves
	_ "github.com/frankli0324/go-networking/internal/handler/core"
	_ "github.com/frankli0324/go-networking/internal/handler/std"
)

type Director = director.Director
type Factory = director.Factory
type Preference = director.Preference
type Config = config.Config

// NewDirector creates every registered handler with opts. reg may be nil,
// otherwise request metrics are registered with it.
func NewDirector(opts Options, reg prometheus.Registerer) (*Director, error) {
	return director.FromRegistry(opts, metrics.New(reg))
}

// Register adds a backend to the directors created afterwards. It panics
// when name is empty or already taken.
func Register(name string, factory Factory) { director.Register(name, factory) }

// RegisterPreference scores the named handlers, every handler when no name
// is given. The highest score serves a request, ties go to the handler
// registered first.
func RegisterPreference(p Preference, names ...string) { director.RegisterPreference(p, names...) }

// Registered lists the registered backends in order.
func Registered() []string { return director.Registered() }

// LoadOptions reads a YAML configuration file, overlays the NETWORKING_*
// environment variables and converts the result. An empty path only reads
// the environment.
func LoadOptions(path string) (Options, error) {
	cfg, err := config.Load(path)
	if err != nil {
		return Options{}, err
	}
	return cfg.HandlerOptions()
}
