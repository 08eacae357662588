package options

import (
	"context"
	"fmt"
)

// GetGlobal resolves def at the global scope: persisted override, then the
// environment, then configuration, then the default value.
func GetGlobal[T any](ctx context.Context, r *Resolver, def Definition[T]) (T, error) {
	return typed[T](r.global(ctx, def.describe()))
}

// GetForUser resolves def for a user, falling back to the global value.
func GetForUser[T any](ctx context.Context, r *Resolver, def Definition[T], userID string) (T, error) {
	return typed[T](r.user(ctx, def.describe(), userID))
}

// GetForSubscriptionFolder resolves def for a folder, inheriting from parent
// folders and finally the owning user.
func GetForSubscriptionFolder[T any](ctx context.Context, r *Resolver, def Definition[T], folderID int64) (T, error) {
	return typed[T](r.folder(ctx, def.describe(), folderID))
}

// GetForSubscription resolves def for a subscription, inheriting from its
// folder chain or owning user.
func GetForSubscription[T any](ctx context.Context, r *Resolver, def Definition[T], subID int64) (T, error) {
	return typed[T](r.subscription(ctx, def.describe(), subID))
}

// GetForSubscriptionNoResolve returns only the value persisted on the
// subscription itself.
func GetForSubscriptionNoResolve[T any](ctx context.Context, r *Resolver, def Definition[T], subID int64) (T, bool, error) {
	v, ok, err := r.load(ctx, def.describe(), SubscriptionKey(subID, def.Key))
	return typedOK[T](v, ok, err)
}

// GetForSubscriptionFolderNoResolve returns only the value persisted on the
// folder itself.
func GetForSubscriptionFolderNoResolve[T any](ctx context.Context, r *Resolver, def Definition[T], folderID int64) (T, bool, error) {
	v, ok, err := r.load(ctx, def.describe(), FolderKey(folderID, def.Key))
	return typedOK[T](v, ok, err)
}

func SetGlobal[T any](ctx context.Context, r *Resolver, def Definition[T], value T) error {
	return r.set(ctx, def.describe(), GlobalKey(def.Key), value)
}

func SetForUser[T any](ctx context.Context, r *Resolver, def Definition[T], userID string, value T) error {
	return r.set(ctx, def.describe(), UserKey(userID, def.Key), value)
}

func SetForSubscriptionFolder[T any](ctx context.Context, r *Resolver, def Definition[T], folderID int64, value T) error {
	return r.set(ctx, def.describe(), FolderKey(folderID, def.Key), value)
}

func SetForSubscription[T any](ctx context.Context, r *Resolver, def Definition[T], subID int64, value T) error {
	return r.set(ctx, def.describe(), SubscriptionKey(subID, def.Key), value)
}

// UnsetForSubscription removes the subscription override. Later reads
// inherit again.
func UnsetForSubscription[T any](ctx context.Context, r *Resolver, def Definition[T], subID int64) error {
	return r.unset(ctx, def.describe(), SubscriptionKey(subID, def.Key))
}

// UnsetForSubscriptionFolder removes the folder override.
func UnsetForSubscriptionFolder[T any](ctx context.Context, r *Resolver, def Definition[T], folderID int64) error {
	return r.unset(ctx, def.describe(), FolderKey(folderID, def.Key))
}

func typed[T any](v any, err error) (T, error) {
	var zero T
	if err != nil {
		return zero, err
	}
	t, ok := v.(T)
	if !ok {
		return zero, fmt.Errorf("%w: resolved %T, want %T", ErrCorruptValue, v, zero)
	}
	return t, nil
}

func typedOK[T any](v any, found bool, err error) (T, bool, error) {
	var zero T
	if err != nil || !found {
		return zero, false, err
	}
	t, err := typed[T](v, nil)
	if err != nil {
		return zero, false, err
	}
	return t, true, nil
}
