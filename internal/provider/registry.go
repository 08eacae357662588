package provider

import (
	"context"
	"fmt"
	"iter"
	"log/slog"
	"net/url"
	"sync"

	"github.com/bryan-buckman/tubevore/internal/model"
)

// ConfigStore persists provider configuration blobs.
type ConfigStore interface {
	GetProviderConfigs(ctx context.Context) (map[string]map[string]string, error)
	SetProviderConfig(ctx context.Context, providerID string, cfg map[string]string) error
	DeleteProviderConfig(ctx context.Context, providerID string) error
}

// Registry holds providers in registration order.
type Registry struct {
	mu        sync.RWMutex
	providers []Provider
	byID      map[string]Provider

	configs ConfigStore
	logger  *slog.Logger
}

// NewRegistry creates an empty registry. configs may be nil, in which case
// configuration is kept in memory only.
func NewRegistry(configs ConfigStore, logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		byID:    make(map[string]Provider),
		configs: configs,
		logger:  logger,
	}
}

// Register appends p. Provider ids must be unique.
func (r *Registry) Register(p Provider) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.byID[p.ID()]; ok {
		return fmt.Errorf("provider %s already registered", p.ID())
	}
	if len(p.ID()) > model.MaxProviderIDLength {
		return fmt.Errorf("provider id %q too long", p.ID())
	}
	r.providers = append(r.providers, p)
	r.byID[p.ID()] = p
	return nil
}

// All returns the registered providers in order.
func (r *Registry) All() []Provider {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]Provider(nil), r.providers...)
}

// Get looks up a provider by id.
func (r *Registry) Get(id string) (Provider, error) {
	r.mu.RLock()
	p, ok := r.byID[id]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrProviderNotFound, id)
	}
	return p, nil
}

// SubscriptionProvider looks up a provider by id that can own subscriptions.
func (r *Registry) SubscriptionProvider(id string) (SubscriptionProvider, error) {
	p, err := r.Get(id)
	if err != nil {
		return nil, err
	}
	sp, ok := p.(SubscriptionProvider)
	if !ok {
		return nil, fmt.Errorf("%w: %s does not provide subscriptions", ErrNotSupported, id)
	}
	return sp, nil
}

// FindFromSubscriptionURL yields initialized providers that accept raw, in
// registration order. A malformed URL yields nothing. A provider whose check
// fails is treated as not handling the URL.
func (r *Registry) FindFromSubscriptionURL(ctx context.Context, raw string) iter.Seq[SubscriptionProvider] {
	return func(yield func(SubscriptionProvider) bool) {
		u, err := url.Parse(raw)
		if err != nil || u.Scheme == "" || u.Host == "" {
			r.logger.Debug("cannot classify subscription url", "url", raw, "err", err)
			return
		}
		for _, p := range r.All() {
			sp, ok := p.(SubscriptionProvider)
			if !ok || !p.IsInitialized() {
				continue
			}
			if !r.check(p.ID(), func() (bool, error) { return sp.CanHandleSubscriptionURL(ctx, u) }) {
				continue
			}
			if !yield(sp) {
				return
			}
		}
	}
}

// FindForVideo yields initialized providers that can enrich v. The provider
// recorded on the video, if any, comes first.
func (r *Registry) FindForVideo(ctx context.Context, v *model.Video) iter.Seq[VideoProvider] {
	return func(yield func(VideoProvider) bool) {
		var native string
		if v.VideoProviderID != "" {
			if p, err := r.Get(v.VideoProviderID); err == nil {
				if vp, ok := p.(VideoProvider); ok && p.IsInitialized() {
					native = p.ID()
					if !yield(vp) {
						return
					}
				}
			}
		}
		for _, p := range r.All() {
			vp, ok := p.(VideoProvider)
			if !ok || !p.IsInitialized() || p.ID() == native {
				continue
			}
			if !r.check(p.ID(), func() (bool, error) { return vp.CanHandleVideo(ctx, v) }) {
				continue
			}
			if !yield(vp) {
				return
			}
		}
	}
}

// check runs a classification predicate, mapping errors and panics to false.
func (r *Registry) check(id string, fn func() (bool, error)) (ok bool) {
	defer func() {
		if rec := recover(); rec != nil {
			r.logger.Warn("provider check panicked", "provider", id, "panic", rec)
			ok = false
		}
	}()
	ok, err := fn()
	if err != nil {
		r.logger.Debug("provider check failed", "provider", id, "err", err)
		return false
	}
	return ok
}

// Configure applies cfg to the provider and persists it.
func (r *Registry) Configure(ctx context.Context, id string, cfg Config) error {
	p, err := r.Get(id)
	if err != nil {
		return err
	}
	if err := p.Configure(cfg); err != nil {
		return fmt.Errorf("configure %s: %w", id, err)
	}
	if r.configs != nil {
		if err := r.configs.SetProviderConfig(ctx, id, cfg); err != nil {
			return fmt.Errorf("save config for %s: %w", id, err)
		}
	}
	r.logger.Info("provider configured", "provider", id)
	return nil
}

// Unconfigure clears the provider configuration and removes the stored copy.
func (r *Registry) Unconfigure(ctx context.Context, id string) error {
	p, err := r.Get(id)
	if err != nil {
		return err
	}
	p.Unconfigure()
	if r.configs != nil {
		if err := r.configs.DeleteProviderConfig(ctx, id); err != nil {
			return fmt.Errorf("delete config for %s: %w", id, err)
		}
	}
	return nil
}

// LoadConfigurations re-applies stored configuration to registered
// providers. A provider that rejects its stored configuration stays
// unconfigured and is logged.
func (r *Registry) LoadConfigurations(ctx context.Context) error {
	if r.configs == nil {
		return nil
	}
	stored, err := r.configs.GetProviderConfigs(ctx)
	if err != nil {
		return fmt.Errorf("load provider configs: %w", err)
	}
	for id, cfg := range stored {
		p, err := r.Get(id)
		if err != nil {
			r.logger.Warn("stored config for unknown provider", "provider", id)
			continue
		}
		if err := p.Configure(cfg); err != nil {
			r.logger.Error("failed to apply stored provider config", "provider", id, "err", err)
			continue
		}
		r.logger.Info("provider configured", "provider", id)
	}
	return nil
}
