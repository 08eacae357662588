package subscription

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/sahilm/fuzzy"

	"github.com/bryan-buckman/tubevore/internal/model"
	"github.com/bryan-buckman/tubevore/internal/notify"
	"github.com/bryan-buckman/tubevore/internal/provider"
	"github.com/bryan-buckman/tubevore/internal/synchronize"
)

// TestURL returns the id of the first provider that accepts raw.
func (m *Manager) TestURL(ctx context.Context, raw string) (string, error) {
	sp, err := m.providerFor(ctx, raw)
	if err != nil {
		return "", err
	}
	return sp.ID(), nil
}

func (m *Manager) providerFor(ctx context.Context, raw string) (provider.SubscriptionProvider, error) {
	for sp := range m.providers.FindFromSubscriptionURL(ctx, raw) {
		return sp, nil
	}
	return nil, validationError("no provider can handle %q", raw)
}

// ValidateName checks that name is usable for a subscription in the given
// folder. excludeID skips the subscription being renamed.
func (m *Manager) ValidateName(ctx context.Context, userID, name string, parentFolderID *int64, excludeID int64) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return validationError("name cannot be empty")
	}
	if len([]rune(name)) > model.MaxSubscriptionNameLength {
		return validationError("name longer than %d characters", model.MaxSubscriptionNameLength)
	}
	siblings, err := m.store.GetSubscriptionsInFolder(ctx, userID, parentFolderID)
	if err != nil {
		return err
	}
	for _, s := range siblings {
		if s.ID != excludeID && sameName(s.Name, name) {
			return validationError("a subscription named %q already exists", s.Name)
		}
	}
	return nil
}

// uniqueName appends a counter to name until no sibling uses it.
func (m *Manager) uniqueName(ctx context.Context, userID, name string, parentFolderID *int64, excludeID int64) (string, error) {
	base := model.Truncate(name, model.MaxSubscriptionNameLength-6)
	if base == "" {
		base = "Subscription"
	}
	siblings, err := m.store.GetSubscriptionsInFolder(ctx, userID, parentFolderID)
	if err != nil {
		return "", err
	}
	taken := func(n string) bool {
		for _, s := range siblings {
			if s.ID != excludeID && sameName(s.Name, n) {
				return true
			}
		}
		return false
	}
	candidate := model.Truncate(name, model.MaxSubscriptionNameLength)
	if candidate == "" {
		candidate = base
	}
	for i := 2; taken(candidate); i++ {
		candidate = fmt.Sprintf("%s (%d)", base, i)
	}
	return candidate, nil
}

// checkFolder verifies that folderID, when set, is one of the user's folders.
func (m *Manager) checkFolder(ctx context.Context, userID string, folderID *int64) error {
	if folderID == nil {
		return nil
	}
	_, err := m.GetFolder(ctx, userID, *folderID)
	return err
}

// Create adds a subscription for the source at raw and schedules its
// first synchronization.
func (m *Manager) Create(ctx context.Context, userID, raw string, parentFolderID *int64) (*model.Subscription, error) {
	if err := m.checkFolder(ctx, userID, parentFolderID); err != nil {
		return nil, err
	}
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return nil, validationError("invalid URL %q", raw)
	}
	sp, err := m.providerFor(ctx, u.String())
	if err != nil {
		return nil, err
	}

	sub, err := sp.CreateSubscription(ctx, u)
	if err != nil {
		return nil, fmt.Errorf("create subscription with %s: %w", sp.ID(), err)
	}
	sub.ID = 0
	sub.UserID = userID
	sub.ParentFolderID = parentFolderID
	sub.SubscriptionProviderID = sp.ID()
	if sub.OriginalURL == "" {
		sub.OriginalURL = u.String()
	}
	sub.Description = model.Truncate(sub.Description, model.MaxSubscriptionDescriptionLength)
	if sub.Name, err = m.uniqueName(ctx, userID, sub.Name, parentFolderID, 0); err != nil {
		return nil, err
	}

	if err := m.store.CreateSubscription(ctx, sub); err != nil {
		return nil, fmt.Errorf("save subscription: %w", err)
	}
	m.logger.Info("subscription created", "user_id", userID, "subscription", sub.String(), "provider", sp.ID())
	m.notify(ctx, notify.SubscriptionCreated, userID, sub)
	m.schedule(synchronize.SubscriptionTarget(sub.ID))
	return sub, nil
}

// CreateEmpty adds a placeholder subscription with no source.
func (m *Manager) CreateEmpty(ctx context.Context, userID, name string, parentFolderID *int64) (*model.Subscription, error) {
	if err := m.checkFolder(ctx, userID, parentFolderID); err != nil {
		return nil, err
	}
	if err := m.ValidateName(ctx, userID, name, parentFolderID, 0); err != nil {
		return nil, err
	}
	sub := &model.Subscription{
		UserID:         userID,
		ParentFolderID: parentFolderID,
		Name:           strings.TrimSpace(name),
	}
	if err := m.store.CreateSubscription(ctx, sub); err != nil {
		return nil, fmt.Errorf("save subscription: %w", err)
	}
	m.notify(ctx, notify.SubscriptionCreated, userID, sub)
	return sub, nil
}

// Get returns one of the user's subscriptions. Subscriptions of other users
// are reported as not found.
func (m *Manager) Get(ctx context.Context, userID string, id int64) (*model.Subscription, error) {
	sub, err := m.store.GetSubscriptionByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if sub.UserID != userID {
		return nil, fmt.Errorf("subscription %d: %w", id, model.ErrNotFound)
	}
	return sub, nil
}

// List returns the user's subscriptions ordered by name.
func (m *Manager) List(ctx context.Context, userID string) ([]model.Subscription, error) {
	return m.store.GetSubscriptions(ctx, userID)
}

// Search returns the user's subscriptions whose names fuzzily match query,
// best match first. An empty query lists everything.
func (m *Manager) Search(ctx context.Context, userID, query string) ([]model.Subscription, error) {
	subs, err := m.List(ctx, userID)
	if err != nil || strings.TrimSpace(query) == "" {
		return subs, err
	}
	names := make([]string, len(subs))
	for i, s := range subs {
		names[i] = strings.ToLower(s.Name)
	}
	matches := fuzzy.Find(strings.ToLower(strings.TrimSpace(query)), names)
	found := make([]model.Subscription, len(matches))
	for i, match := range matches {
		found[i] = subs[match.Index]
	}
	return found, nil
}

// Update renames, describes or moves a subscription.
func (m *Manager) Update(ctx context.Context, userID string, id int64, name, description string, parentFolderID *int64) (*model.Subscription, error) {
	sub, err := m.Get(ctx, userID, id)
	if err != nil {
		return nil, err
	}
	if err := m.checkFolder(ctx, userID, parentFolderID); err != nil {
		return nil, err
	}
	if err := m.ValidateName(ctx, userID, name, parentFolderID, id); err != nil {
		return nil, err
	}
	sub.Name = strings.TrimSpace(name)
	sub.Description = model.Truncate(description, model.MaxSubscriptionDescriptionLength)
	sub.ParentFolderID = parentFolderID
	if err := m.store.UpdateSubscription(ctx, sub); err != nil {
		return nil, fmt.Errorf("update subscription: %w", err)
	}
	m.notify(ctx, notify.SubscriptionUpdated, userID, sub)
	return sub, nil
}

// Delete removes subscriptions and their videos. With deleteFiles, removal
// of every downloaded file is queued first.
func (m *Manager) Delete(ctx context.Context, userID string, ids []int64, deleteFiles bool) error {
	subs := make([]*model.Subscription, 0, len(ids))
	for _, id := range ids {
		sub, err := m.Get(ctx, userID, id)
		if err != nil {
			return err
		}
		subs = append(subs, sub)
	}

	if deleteFiles {
		for _, sub := range subs {
			if err := m.deleteFiles(ctx, sub); err != nil {
				return err
			}
		}
	}

	if err := m.store.DeleteSubscriptions(ctx, ids); err != nil {
		return fmt.Errorf("delete subscriptions: %w", err)
	}
	for _, sub := range subs {
		m.logger.Info("subscription deleted", "user_id", userID, "subscription", sub.String())
		m.notify(ctx, notify.SubscriptionDeleted, userID, sub)
	}
	return nil
}

func (m *Manager) deleteFiles(ctx context.Context, sub *model.Subscription) error {
	videos, err := m.store.GetDownloadedVideos(ctx, sub.ID)
	if err != nil {
		return fmt.Errorf("list downloaded videos of %s: %w", sub, err)
	}
	for i := range videos {
		if err := m.files.RequestDelete(ctx, &videos[i]); err != nil {
			return fmt.Errorf("queue file deletion for %s: %w", videos[i].String(), err)
		}
	}
	return nil
}
