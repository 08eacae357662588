package subscription

import (
	"context"
	"fmt"
	"strings"

	"github.com/bryan-buckman/tubevore/internal/model"
	"github.com/bryan-buckman/tubevore/internal/notify"
)

// GetFolder returns one of the user's folders.
func (m *Manager) GetFolder(ctx context.Context, userID string, id int64) (*model.Folder, error) {
	f, err := m.store.GetFolderByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if f.UserID != userID {
		return nil, fmt.Errorf("folder %d: %w", id, model.ErrNotFound)
	}
	return f, nil
}

// ListFolders returns every folder of the user.
func (m *Manager) ListFolders(ctx context.Context, userID string) ([]model.Folder, error) {
	return m.store.GetFolders(ctx, userID)
}

// SubscriptionsRecursive returns the subscriptions in a folder and all its
// descendants.
func (m *Manager) SubscriptionsRecursive(ctx context.Context, userID string, folderID int64) ([]model.Subscription, error) {
	if _, err := m.GetFolder(ctx, userID, folderID); err != nil {
		return nil, err
	}
	return m.store.GetSubscriptionsRecursive(ctx, folderID)
}

// findFolder returns the sibling folder named like name, if any.
func (m *Manager) findFolder(ctx context.Context, userID, name string, parentID *int64, excludeID int64) (*model.Folder, error) {
	folders, err := m.store.GetFolders(ctx, userID)
	if err != nil {
		return nil, err
	}
	for i := range folders {
		f := &folders[i]
		if f.ID != excludeID && sameParent(f.ParentID, parentID) && sameName(f.Name, name) {
			return f, nil
		}
	}
	return nil, nil
}

func sameParent(a, b *int64) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}

// ValidateFolderName checks that name is usable for a folder under parentID.
func (m *Manager) ValidateFolderName(ctx context.Context, userID, name string, parentID *int64, excludeID int64) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return validationError("folder name cannot be empty")
	}
	if len([]rune(name)) > model.MaxFolderNameLength {
		return validationError("folder name longer than %d characters", model.MaxFolderNameLength)
	}
	existing, err := m.findFolder(ctx, userID, name, parentID, excludeID)
	if err != nil {
		return err
	}
	if existing != nil {
		return validationError("a folder named %q already exists", existing.Name)
	}
	return nil
}

// CreateFolder adds a folder. When a folder with the same name already
// exists under parentID, that folder is returned instead.
func (m *Manager) CreateFolder(ctx context.Context, userID, name string, parentID *int64) (*model.Folder, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, validationError("folder name cannot be empty")
	}
	if len([]rune(name)) > model.MaxFolderNameLength {
		return nil, validationError("folder name longer than %d characters", model.MaxFolderNameLength)
	}
	if err := m.checkFolder(ctx, userID, parentID); err != nil {
		return nil, err
	}
	existing, err := m.findFolder(ctx, userID, name, parentID, 0)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return existing, nil
	}

	f := &model.Folder{UserID: userID, Name: name, ParentID: parentID}
	if err := m.store.CreateFolder(ctx, f); err != nil {
		return nil, fmt.Errorf("save folder: %w", err)
	}
	m.notify(ctx, notify.FolderCreated, userID, f)
	return f, nil
}

// UpdateFolder renames or moves a folder. A folder cannot be moved below
// itself.
func (m *Manager) UpdateFolder(ctx context.Context, userID string, id int64, name string, parentID *int64) (*model.Folder, error) {
	f, err := m.GetFolder(ctx, userID, id)
	if err != nil {
		return nil, err
	}
	if err := m.checkFolder(ctx, userID, parentID); err != nil {
		return nil, err
	}
	if err := m.checkAcyclic(ctx, id, parentID); err != nil {
		return nil, err
	}
	if err := m.ValidateFolderName(ctx, userID, name, parentID, id); err != nil {
		return nil, err
	}

	f.Name = strings.TrimSpace(name)
	f.ParentID = parentID
	if err := m.store.UpdateFolder(ctx, f); err != nil {
		return nil, fmt.Errorf("update folder: %w", err)
	}
	m.notify(ctx, notify.FolderUpdated, userID, f)
	return f, nil
}

// checkAcyclic walks up from parentID and rejects a chain that reaches id.
func (m *Manager) checkAcyclic(ctx context.Context, id int64, parentID *int64) error {
	seen := map[int64]bool{}
	for cur := parentID; cur != nil; {
		if *cur == id {
			return validationError("folder %d cannot be its own ancestor", id)
		}
		if seen[*cur] {
			break
		}
		seen[*cur] = true
		f, err := m.store.GetFolderByID(ctx, *cur)
		if err != nil {
			return err
		}
		cur = f.ParentID
	}
	return nil
}

// DeleteFolders removes folders. With recursive, subfolders and the
// subscriptions below them are deleted too; otherwise the children move up
// to the deleted folder's parent.
func (m *Manager) DeleteFolders(ctx context.Context, userID string, ids []int64, recursive, deleteFiles bool) error {
	for _, id := range ids {
		f, err := m.GetFolder(ctx, userID, id)
		if err != nil {
			if recursive && isNotFound(err) {
				// already removed with an ancestor in ids
				continue
			}
			return err
		}
		if recursive {
			err = m.deleteTree(ctx, userID, f, deleteFiles)
		} else {
			err = m.deleteAndReparent(ctx, userID, f)
		}
		if err != nil {
			return err
		}
		m.logger.Info("folder deleted", "user_id", userID, "folder_id", f.ID, "recursive", recursive)
		m.notify(ctx, notify.FolderDeleted, userID, f)
	}
	return nil
}

func (m *Manager) deleteTree(ctx context.Context, userID string, f *model.Folder, deleteFiles bool) error {
	subs, err := m.store.GetSubscriptionsRecursive(ctx, f.ID)
	if err != nil {
		return err
	}
	if len(subs) > 0 {
		ids := make([]int64, len(subs))
		for i, s := range subs {
			ids[i] = s.ID
		}
		if err := m.Delete(ctx, userID, ids, deleteFiles); err != nil {
			return err
		}
	}

	tree, err := m.store.GetFoldersRecursive(ctx, f.ID)
	if err != nil {
		return err
	}
	ids := make([]int64, 0, len(tree))
	// children first
	for i := len(tree) - 1; i >= 0; i-- {
		ids = append(ids, tree[i].ID)
	}
	return m.store.DeleteFolders(ctx, ids)
}

func (m *Manager) deleteAndReparent(ctx context.Context, userID string, f *model.Folder) error {
	folders, err := m.store.GetFolders(ctx, userID)
	if err != nil {
		return err
	}
	for i := range folders {
		child := &folders[i]
		if child.ParentID == nil || *child.ParentID != f.ID {
			continue
		}
		child.ParentID = f.ParentID
		if err := m.store.UpdateFolder(ctx, child); err != nil {
			return fmt.Errorf("move folder %d: %w", child.ID, err)
		}
	}

	subs, err := m.store.GetSubscriptionsInFolder(ctx, userID, &f.ID)
	if err != nil {
		return err
	}
	for i := range subs {
		sub := &subs[i]
		if sub.Name, err = m.uniqueName(ctx, userID, sub.Name, f.ParentID, sub.ID); err != nil {
			return err
		}
		sub.ParentFolderID = f.ParentID
		if err := m.store.UpdateSubscription(ctx, sub); err != nil {
			return fmt.Errorf("move subscription %d: %w", sub.ID, err)
		}
	}
	return m.store.DeleteFolders(ctx, []int64{f.ID})
}
