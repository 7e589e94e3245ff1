package director

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	errs "github.com/frankli0324/go-networking/internal/errors"
	"github.com/frankli0324/go-networking/internal/handler"
	"github.com/frankli0324/go-networking/internal/log"
	"github.com/frankli0324/go-networking/internal/metrics"
	"github.com/frankli0324/go-networking/internal/model"
)

// Director holds a set of handlers and sends every request through the best
// one able to serve it.
type Director struct {
	mu          sync.RWMutex
	handlers    []handler.Handler
	preferences []preference

	log     *slog.Logger
	metrics *metrics.Collector
}

// New returns a director without handlers. Both arguments may be nil.
func New(logger *slog.Logger, collector *metrics.Collector) *Director {
	if logger == nil {
		logger = log.Discard()
	}
	return &Director{log: logger, metrics: collector}
}

// FromRegistry creates every registered handler with opts and copies the
// registered preferences. A handler whose factory fails is left out, the
// others still serve.
func FromRegistry(opts handler.Options, collector *metrics.Collector) (*Director, error) {
	d := New(opts.Logger, collector)
	mu.RLock()
	regs := append([]registration(nil), registrations...)
	d.preferences = append(d.preferences, preferences...)
	mu.RUnlock()

	var failures []error
	for _, r := range regs {
		h, err := r.factory(opts)
		if err != nil {
			d.log.Warn("handler unavailable", log.HandlerKey, r.name, "error", err)
			failures = append(failures, fmt.Errorf("%s: %w", r.name, err))
			continue
		}
		if err := d.Add(h); err != nil {
			return nil, err
		}
	}
	if len(d.handlers) == 0 && len(failures) > 0 {
		return nil, errors.Join(failures...)
	}
	return d, nil
}

// Add appends h. Handlers added first win ties.
func (d *Director) Add(h handler.Handler) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, existing := range d.handlers {
		if existing.Name() == h.Name() {
			return fmt.Errorf("handler %q is already added", h.Name())
		}
	}
	d.handlers = append(d.handlers, h)
	return nil
}

// AddPreference scores the named handlers, all of them when names is empty.
func (d *Director) AddPreference(p Preference, names ...string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.preferences = append(d.preferences, preference{p, names})
}

func (d *Director) Handlers() []handler.Handler {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return append([]handler.Handler(nil), d.handlers...)
}

// Select returns the highest scoring handler able to serve r. The score of
// a handler is the maximum of the preferences applying to it, 0 without
// any; ties go to the handler added first.
func (d *Director) Select(r *model.Request) (handler.Handler, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	var (
		best       handler.Handler
		bestScore  int
		rejections []error
	)
	for _, h := range d.handlers {
		if err := h.Validate(r); err != nil {
			rejections = append(rejections, fmt.Errorf("%s: %w", h.Name(), err))
			continue
		}
		score := d.score(h, r)
		if best == nil || score > bestScore {
			best, bestScore = h, score
		}
	}
	if best == nil {
		return nil, errs.NewRequestError("no handler supports this request", errors.Join(rejections...))
	}
	return best, nil
}

func (d *Director) score(h handler.Handler, r *model.Request) int {
	score, applied := 0, false
	for _, p := range d.preferences {
		if !p.appliesTo(h.Name()) {
			continue
		}
		if s := p.fn(h, r); !applied || s > score {
			score, applied = s, true
		}
	}
	return score
}

// Send performs r with the selected handler.
func (d *Director) Send(ctx context.Context, r *model.Request) (*model.Response, error) {
	logger := log.WithRequestID(d.log, uuid.NewString())
	h, err := d.Select(r)
	if err != nil {
		logger.Debug("no handler for request", "error", err)
		return nil, err
	}
	d.metrics.Selected(h.Name())
	logger = log.WithHandler(logger, h.Name())
	logger.Debug("sending request", "method", r.Method, "url", r.URL)

	start := time.Now()
	resp, err := h.Send(ctx, r)
	took := time.Since(start)
	if err != nil {
		err = handler.Translate(err)
	}
	d.metrics.Observe(h.Name(), err, took)
	if err != nil {
		logger.Debug("request failed", "error", err, log.DurationKey, took.Milliseconds())
		return nil, err
	}
	logger.Debug("response", "status", resp.Status, log.DurationKey, took.Milliseconds())
	return resp, nil
}

// Close closes every handler.
func (d *Director) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	var errList []error
	for _, h := range d.handlers {
		if err := h.Close(); err != nil {
			errList = append(errList, fmt.Errorf("%s: %w", h.Name(), err))
		}
	}
	return errors.Join(errList...)
}
