// Package plugin hosts post-write enrichment callbacks such as search
// indexers. Callbacks run concurrently with a bounded limit and a deadline;
// their failures become response warnings and never fail the operation that
// triggered them.
package plugin

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/scribe-dev/scribe/internal/common/logger"
	"github.com/scribe-dev/scribe/internal/storage"
)

// Plugin receives notifications after durable writes.
type Plugin interface {
	Name() string
	PostAppend(ctx context.Context, entry *storage.LogEntry) error
	PostDocChange(ctx context.Context, change *storage.DocumentChange) error
}

const (
	defaultTimeout     = 5 * time.Second
	defaultConcurrency = 4
)

// Registry fans notifications out to registered plugins.
type Registry struct {
	log     *logger.Logger
	timeout time.Duration

	mu      sync.RWMutex
	plugins []Plugin
}

// NewRegistry creates an empty registry.
func NewRegistry(log *logger.Logger, timeout time.Duration) *Registry {
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &Registry{log: log, timeout: timeout}
}

// Register adds a plugin.
func (r *Registry) Register(p Plugin) {
	r.mu.Lock()
	r.plugins = append(r.plugins, p)
	r.mu.Unlock()
}

// Len reports the number of registered plugins.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.plugins)
}

// PostAppend notifies all plugins of a new entry and returns warnings for
// any that failed.
func (r *Registry) PostAppend(ctx context.Context, entry *storage.LogEntry) []string {
	return r.dispatch(ctx, "post_append", func(ctx context.Context, p Plugin) error {
		return p.PostAppend(ctx, entry)
	})
}

// PostDocChange notifies all plugins of a document mutation and returns
// warnings for any that failed.
func (r *Registry) PostDocChange(ctx context.Context, change *storage.DocumentChange) []string {
	return r.dispatch(ctx, "post_doc_change", func(ctx context.Context, p Plugin) error {
		return p.PostDocChange(ctx, change)
	})
}

func (r *Registry) dispatch(ctx context.Context, hook string, call func(context.Context, Plugin) error) []string {
	r.mu.RLock()
	plugins := make([]Plugin, len(r.plugins))
	copy(plugins, r.plugins)
	r.mu.RUnlock()
	if len(plugins) == 0 {
		return nil
	}

	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	var (
		warnMu   sync.Mutex
		warnings []string
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(defaultConcurrency)
	for _, p := range plugins {
		p := p
		g.Go(func() error {
			if err := call(gctx, p); err != nil {
				r.log.Warn("plugin callback failed",
					zap.String("plugin", p.Name()),
					zap.String("hook", hook),
					zap.Error(err))
				warnMu.Lock()
				warnings = append(warnings, fmt.Sprintf("plugin %s failed during %s: %v", p.Name(), hook, err))
				warnMu.Unlock()
			}
			// Plugin errors never cancel sibling callbacks.
			return nil
		})
	}
	_ = g.Wait()
	return warnings
}
