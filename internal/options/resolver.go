package options

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/bryan-buckman/tubevore/internal/model"
)

var (
	// ErrCorruptValue means a persisted option could not be decoded.
	ErrCorruptValue = errors.New("options: corrupt persisted value")
	// ErrInvalidValue means an environment or configuration value could not be decoded.
	ErrInvalidValue = errors.New("options: invalid value")
	// ErrNotPersistable is returned when writing an option that has no key.
	ErrNotPersistable = errors.New("options: option has no persistence key")
	// ErrScopeNotAllowed is returned when writing at a scope the option does not accept.
	ErrScopeNotAllowed = errors.New("options: scope not allowed for option")
)

// Store persists explicit overrides as JSON documents.
type Store interface {
	GetOption(ctx context.Context, key ScopeKey) (string, bool, error)
	SetOption(ctx context.Context, key ScopeKey, value string) error
	DeleteOption(ctx context.Context, key ScopeKey) error
}

// Hierarchy exposes the folder tree and subscription ownership.
// Missing entities are reported with model.ErrNotFound.
type Hierarchy interface {
	GetFolderByID(ctx context.Context, id int64) (*model.Folder, error)
	GetSubscriptionByID(ctx context.Context, id int64) (*model.Subscription, error)
}

// ConfigSource is the static configuration consulted after the environment.
type ConfigSource interface {
	// Lookup decodes the value at key into out and reports whether it was set.
	Lookup(key string, out any) (bool, error)
}

// Resolver answers which option value applies at a scope. Resolved values are
// cached per scope; writes invalidate every scope that may have inherited the
// old value.
type Resolver struct {
	store     Store
	tree      Hierarchy
	config    ConfigSource
	lookupEnv func(string) (string, bool)
	logger    *slog.Logger

	globalCache *Cache[ScopeKey]
	userCache   *Cache[ScopeKey]
	folderCache *Cache[ScopeKey]
	subCache    *Cache[ScopeKey]
}

// ResolverOption customizes a Resolver.
type ResolverOption func(*Resolver)

// WithConfigSource sets the configuration tier.
func WithConfigSource(src ConfigSource) ResolverOption {
	return func(r *Resolver) { r.config = src }
}

// WithEnvironment replaces os.LookupEnv.
func WithEnvironment(lookup func(string) (string, bool)) ResolverOption {
	return func(r *Resolver) { r.lookupEnv = lookup }
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) ResolverOption {
	return func(r *Resolver) { r.logger = logger }
}

// NewResolver creates a resolver with empty caches.
func NewResolver(store Store, tree Hierarchy, opts ...ResolverOption) *Resolver {
	r := &Resolver{
		store:       store,
		tree:        tree,
		lookupEnv:   os.LookupEnv,
		globalCache: NewCache[ScopeKey](),
		userCache:   NewCache[ScopeKey](),
		folderCache: NewCache[ScopeKey](),
		subCache:    NewCache[ScopeKey](),
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.logger == nil {
		r.logger = slog.Default()
	}
	return r
}

// ClearExpired sweeps all scope caches.
func (r *Resolver) ClearExpired() int {
	return r.globalCache.ClearExpired() +
		r.userCache.ClearExpired() +
		r.folderCache.ClearExpired() +
		r.subCache.ClearExpired()
}

// Invalidate drops every cached value.
func (r *Resolver) Invalidate() {
	r.globalCache.Invalidate()
	r.userCache.Invalidate()
	r.folderCache.Invalidate()
	r.subCache.Invalidate()
}

// Resolve returns the effective value of opt at scope. Only the scope id
// fields of scope are used.
func (r *Resolver) Resolve(ctx context.Context, opt Option, scope ScopeKey) (any, error) {
	d := opt.describe()
	switch scope.Scope {
	case ScopeUser:
		return r.user(ctx, d, scope.UserID)
	case ScopeFolder:
		return r.folder(ctx, d, scope.FolderID)
	case ScopeSubscription:
		return r.subscription(ctx, d, scope.SubscriptionID)
	default:
		return r.global(ctx, d)
	}
}

// Explicit returns the persisted override of opt at scope, bypassing
// inheritance and caches.
func (r *Resolver) Explicit(ctx context.Context, opt Option, scope ScopeKey) (any, bool, error) {
	d := opt.describe()
	return r.load(ctx, d, scope.withKey(d.key))
}

// Set writes value at scope. value must have the option's type.
func (r *Resolver) Set(ctx context.Context, opt Option, scope ScopeKey, value any) error {
	return r.set(ctx, opt.describe(), scope, value)
}

// SetJSON decodes data with the option's type and writes it at scope.
func (r *Resolver) SetJSON(ctx context.Context, opt Option, scope ScopeKey, data []byte) error {
	d := opt.describe()
	v, err := d.decode(data)
	if err != nil {
		return fmt.Errorf("%w: %s: %v", ErrInvalidValue, d.key, err)
	}
	return r.set(ctx, d, scope, v)
}

// Unset removes the override at a folder or subscription scope.
func (r *Resolver) Unset(ctx context.Context, opt Option, scope ScopeKey) error {
	return r.unset(ctx, opt.describe(), scope)
}

func (r *Resolver) global(ctx context.Context, d descriptor) (any, error) {
	ck := GlobalKey(d.cacheKey())
	if v, ok := r.globalCache.Get(ck); ok {
		return v, nil
	}
	gen := r.globalCache.Generation()

	v, found, err := r.load(ctx, d, GlobalKey(d.key))
	if err != nil {
		return nil, err
	}
	if !found {
		if v, found, err = r.fromEnvironment(d); err != nil {
			return nil, err
		}
	}
	if !found {
		if v, found, err = r.fromConfiguration(d); err != nil {
			return nil, err
		}
	}
	if !found {
		v = d.defaultValue
	}

	r.globalCache.SetIfGeneration(ck, v, gen)
	return v, nil
}

func (r *Resolver) user(ctx context.Context, d descriptor, userID string) (any, error) {
	if !d.flags.Has(FlagUser) && userID != "" {
		return r.global(ctx, d)
	}

	ck := UserKey(userID, d.cacheKey())
	if v, ok := r.userCache.Get(ck); ok {
		return v, nil
	}
	gen := r.userCache.Generation()

	var (
		v     any
		found bool
		err   error
	)
	if userID != "" {
		if v, found, err = r.load(ctx, d, UserKey(userID, d.key)); err != nil {
			return nil, err
		}
	}
	if !found {
		if v, err = r.global(ctx, d); err != nil {
			return nil, err
		}
	}

	r.userCache.SetIfGeneration(ck, v, gen)
	return v, nil
}

func (r *Resolver) folder(ctx context.Context, d descriptor, folderID int64) (any, error) {
	if d.flags.Has(FlagSubscriptionFolder) {
		return r.walkFolders(ctx, d, folderID)
	}
	f, err := r.findFolder(ctx, folderID)
	if err != nil {
		return nil, err
	}
	var userID string
	if f != nil {
		userID = f.UserID
	}
	return r.user(ctx, d, userID)
}

// walkFolders climbs from start towards the root until a cached or persisted
// value is found, then caches the result at every folder it passed.
func (r *Resolver) walkFolders(ctx context.Context, d descriptor, start int64) (any, error) {
	var (
		visited []int64
		value   any
	)
	seen := make(map[int64]bool)
	gen := r.folderCache.Generation()

	for id := start; ; {
		if v, ok := r.folderCache.Get(FolderKey(id, d.cacheKey())); ok {
			value = v
			break
		}
		v, found, err := r.load(ctx, d, FolderKey(id, d.key))
		if err != nil {
			return nil, err
		}
		visited = append(visited, id)
		seen[id] = true
		if found {
			value = v
			break
		}

		f, err := r.findFolder(ctx, id)
		if err != nil {
			return nil, err
		}
		if f != nil && f.ParentID != nil && !seen[*f.ParentID] {
			id = *f.ParentID
			continue
		}
		if f != nil && f.ParentID != nil {
			r.logger.Warn("folder cycle detected", "folder_id", id, "parent_id", *f.ParentID)
		}

		var userID string
		if f != nil {
			userID = f.UserID
		}
		if value, err = r.user(ctx, d, userID); err != nil {
			return nil, err
		}
		break
	}

	for _, id := range visited {
		if !r.folderCache.SetIfGeneration(FolderKey(id, d.cacheKey()), value, gen) {
			break
		}
	}
	return value, nil
}

func (r *Resolver) subscription(ctx context.Context, d descriptor, subID int64) (any, error) {
	if !d.flags.Has(FlagSubscription) {
		return r.subscriptionParent(ctx, d, subID)
	}

	ck := SubscriptionKey(subID, d.cacheKey())
	if v, ok := r.subCache.Get(ck); ok {
		return v, nil
	}
	gen := r.subCache.Generation()

	v, found, err := r.load(ctx, d, SubscriptionKey(subID, d.key))
	if err != nil {
		return nil, err
	}
	if !found {
		if v, err = r.subscriptionParent(ctx, d, subID); err != nil {
			return nil, err
		}
	}

	r.subCache.SetIfGeneration(ck, v, gen)
	return v, nil
}

// subscriptionParent resolves from the subscription's folder, or its owner
// when it sits at the root.
func (r *Resolver) subscriptionParent(ctx context.Context, d descriptor, subID int64) (any, error) {
	sub, err := r.tree.GetSubscriptionByID(ctx, subID)
	switch {
	case errors.Is(err, model.ErrNotFound):
		r.logger.Debug("option lookup for unknown subscription", "subscription_id", subID)
		return r.user(ctx, d, "")
	case err != nil:
		return nil, fmt.Errorf("get subscription %d: %w", subID, err)
	}
	if sub.ParentFolderID != nil {
		return r.folder(ctx, d, *sub.ParentFolderID)
	}
	return r.user(ctx, d, sub.UserID)
}

func (r *Resolver) findFolder(ctx context.Context, id int64) (*model.Folder, error) {
	f, err := r.tree.GetFolderByID(ctx, id)
	switch {
	case errors.Is(err, model.ErrNotFound):
		r.logger.Debug("option lookup for unknown folder", "folder_id", id)
		return nil, nil
	case err != nil:
		return nil, fmt.Errorf("get folder %d: %w", id, err)
	}
	return f, nil
}

// load reads and decodes a persisted override.
func (r *Resolver) load(ctx context.Context, d descriptor, k ScopeKey) (any, bool, error) {
	if d.key == "" {
		return nil, false, nil
	}
	raw, ok, err := r.store.GetOption(ctx, k)
	if err != nil {
		return nil, false, fmt.Errorf("load option %s: %w", k, err)
	}
	if !ok {
		return nil, false, nil
	}
	v, err := d.decode([]byte(raw))
	if err != nil {
		return nil, false, fmt.Errorf("%w: %s: %v", ErrCorruptValue, k, err)
	}
	return v, true, nil
}

func (r *Resolver) fromEnvironment(d descriptor) (any, bool, error) {
	if d.envKey == "" {
		return nil, false, nil
	}
	raw, ok := r.lookupEnv(d.envKey)
	if !ok {
		return nil, false, nil
	}
	v, err := d.fromEnv(raw)
	if err != nil {
		return nil, false, fmt.Errorf("%w: environment %s: %v", ErrInvalidValue, d.envKey, err)
	}
	return v, true, nil
}

func (r *Resolver) fromConfiguration(d descriptor) (any, bool, error) {
	if d.configKey == "" || r.config == nil {
		return nil, false, nil
	}
	v, ok, err := d.fromConfig(r.config)
	if err != nil {
		return nil, false, fmt.Errorf("%w: configuration %s: %v", ErrInvalidValue, d.configKey, err)
	}
	return v, ok, nil
}

func (r *Resolver) set(ctx context.Context, d descriptor, scope ScopeKey, value any) error {
	if d.key == "" {
		return ErrNotPersistable
	}
	if err := checkScope(d, scope.Scope); err != nil {
		return err
	}
	raw, err := d.encode(value)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidValue, err)
	}
	if err := r.store.SetOption(ctx, scope.withKey(d.key), raw); err != nil {
		return fmt.Errorf("save option %s: %w", scope.withKey(d.key), err)
	}

	// Cached fallbacks are not tracked individually, so every scope below the
	// written one is dropped wholesale.
	ck := scope.withKey(d.cacheKey())
	switch scope.Scope {
	case ScopeGlobal:
		r.userCache.Invalidate()
		r.folderCache.Invalidate()
		r.subCache.Invalidate()
		r.globalCache.Set(ck, value)
	case ScopeUser:
		r.folderCache.Invalidate()
		r.subCache.Invalidate()
		r.userCache.Set(ck, value)
	case ScopeFolder:
		r.folderCache.Invalidate()
		r.subCache.Invalidate()
		r.folderCache.Set(ck, value)
	case ScopeSubscription:
		r.subCache.Set(ck, value)
	}
	return nil
}

func (r *Resolver) unset(ctx context.Context, d descriptor, scope ScopeKey) error {
	if d.key == "" {
		return ErrNotPersistable
	}
	var cache *Cache[ScopeKey]
	switch scope.Scope {
	case ScopeFolder:
		cache = r.folderCache
	case ScopeSubscription:
		cache = r.subCache
	default:
		return fmt.Errorf("%w: unset at %s", ErrScopeNotAllowed, scope.Scope)
	}
	if err := r.store.DeleteOption(ctx, scope.withKey(d.key)); err != nil {
		return fmt.Errorf("delete option %s: %w", scope.withKey(d.key), err)
	}
	cache.Remove(scope.withKey(d.cacheKey()))
	return nil
}

func checkScope(d descriptor, s Scope) error {
	var need Flags
	switch s {
	case ScopeUser:
		need = FlagUser
	case ScopeFolder:
		need = FlagSubscriptionFolder
	case ScopeSubscription:
		need = FlagSubscription
	default:
		return nil
	}
	if !d.flags.Has(need) {
		return fmt.Errorf("%w: %s at %s", ErrScopeNotAllowed, d.key, s)
	}
	return nil
}
