package subscription

import (
	"context"
	"errors"
	"iter"
	"net/url"
	"path"
	"path/filepath"
	"strconv"
	"sync"
	"testing"

	"github.com/bryan-buckman/tubevore/internal/database"
	"github.com/bryan-buckman/tubevore/internal/logging"
	"github.com/bryan-buckman/tubevore/internal/model"
	"github.com/bryan-buckman/tubevore/internal/notify"
	"github.com/bryan-buckman/tubevore/internal/options"
	"github.com/bryan-buckman/tubevore/internal/provider"
	"github.com/bryan-buckman/tubevore/internal/synchronize"
)

type channelProvider struct{}

func (channelProvider) ID() string                      { return "Chan" }
func (channelProvider) Name() string                    { return "Channels" }
func (channelProvider) IsInitialized() bool             { return true }
func (channelProvider) Configure(provider.Config) error { return nil }
func (channelProvider) Unconfigure()                    {}

func (channelProvider) CanHandleSubscriptionURL(ctx context.Context, u *url.URL) (bool, error) {
	return u.Host == "videos.example", nil
}

func (channelProvider) CreateSubscription(ctx context.Context, u *url.URL) (*model.Subscription, error) {
	return &model.Subscription{
		Name:           "Channel " + path.Base(u.Path),
		SubscriptionID: path.Base(u.Path),
	}, nil
}

func (channelProvider) FetchVideos(ctx context.Context, sub *model.Subscription) iter.Seq2[*model.Video, error] {
	return func(func(*model.Video, error) bool) {}
}

type recorder struct {
	mu      sync.Mutex
	targets []string
	events  []notify.EventType
	deleted []int64
}

func (r *recorder) Schedule(t synchronize.Target) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.targets = append(r.targets, t.String())
}

func (r *recorder) Notify(ctx context.Context, e notify.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e.Type)
}

func (r *recorder) RequestDelete(ctx context.Context, v *model.Video) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.deleted = append(r.deleted, v.ID)
	return nil
}

func newManager(t *testing.T) (*Manager, *database.DB, *recorder) {
	t.Helper()
	db, err := database.New(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("database.New() error = %v", err)
	}
	t.Cleanup(func() { db.Close() })

	reg := provider.NewRegistry(db, logging.Discard())
	if err := reg.Register(channelProvider{}); err != nil {
		t.Fatalf("Register() error = %v", err)
	}
	resolver := options.NewResolver(db, db, options.WithEnvironment(func(string) (string, bool) { return "", false }))
	rec := &recorder{}
	m := NewManager(db, reg, resolver, rec,
		WithScheduler(rec), WithNotifier(rec), WithLogger(logging.Discard()))
	return m, db, rec
}

func TestCreate(t *testing.T) {
	m, _, rec := newManager(t)
	ctx := context.Background()

	if id, err := m.TestURL(ctx, "https://videos.example/c/abc"); err != nil || id != "Chan" {
		t.Errorf("TestURL() = %q, %v", id, err)
	}

	sub, err := m.Create(ctx, "u1", "https://videos.example/c/abc", nil)
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	if sub.ID == 0 || sub.UserID != "u1" || sub.SubscriptionProviderID != "Chan" || sub.SubscriptionID != "abc" {
		t.Errorf("Create() = %+v", sub)
	}
	if sub.OriginalURL != "https://videos.example/c/abc" {
		t.Errorf("OriginalURL = %q", sub.OriginalURL)
	}

	again, err := m.Create(ctx, "u1", "https://videos.example/c/abc", nil)
	if err != nil {
		t.Fatalf("second Create() error = %v", err)
	}
	if again.Name != "Channel abc (2)" {
		t.Errorf("duplicate name = %q, want numbered", again.Name)
	}

	if len(rec.targets) != 2 || rec.targets[0] != synchronize.SubscriptionTarget(sub.ID).String() {
		t.Errorf("scheduled %v", rec.targets)
	}
	if len(rec.events) != 2 || rec.events[0] != notify.SubscriptionCreated {
		t.Errorf("events %v", rec.events)
	}
}

func TestCreateRejects(t *testing.T) {
	m, db, _ := newManager(t)
	ctx := context.Background()

	for _, raw := range []string{"https://elsewhere.example/c/abc", "not a url", ""} {
		if _, err := m.Create(ctx, "u1", raw, nil); !errors.Is(err, ErrValidation) {
			t.Errorf("Create(%q) error = %v, want ErrValidation", raw, err)
		}
	}

	foreign := &model.Folder{UserID: "u2", Name: "theirs"}
	db.CreateFolder(ctx, foreign)
	if _, err := m.Create(ctx, "u1", "https://videos.example/c/abc", &foreign.ID); !errors.Is(err, model.ErrNotFound) {
		t.Errorf("Create(foreign folder) error = %v, want ErrNotFound", err)
	}
}

func TestValidateName(t *testing.T) {
	m, _, _ := newManager(t)
	ctx := context.Background()
	sub, err := m.CreateEmpty(ctx, "u1", "Cooking", nil)
	if err != nil {
		t.Fatalf("CreateEmpty() error = %v", err)
	}

	tests := []struct {
		name    string
		exclude int64
		wantErr bool
	}{
		{"Gardening", 0, false},
		{"cooking", 0, true},
		{"COOKING", sub.ID, false},
		{"   ", 0, true},
	}
	for _, tt := range tests {
		err := m.ValidateName(ctx, "u1", tt.name, nil, tt.exclude)
		if (err != nil) != tt.wantErr {
			t.Errorf("ValidateName(%q) error = %v, wantErr %v", tt.name, err, tt.wantErr)
		}
	}
	// other users and other folders do not collide
	if err := m.ValidateName(ctx, "u2", "Cooking", nil, 0); err != nil {
		t.Errorf("ValidateName(other user) error = %v", err)
	}
}

func TestSearchAndList(t *testing.T) {
	m, _, _ := newManager(t)
	ctx := context.Background()
	for _, n := range []string{"Woodworking Weekly", "Cooking Show", "Kitchen Tips"} {
		if _, err := m.CreateEmpty(ctx, "u1", n, nil); err != nil {
			t.Fatalf("CreateEmpty() error = %v", err)
		}
	}

	found, err := m.Search(ctx, "u1", "cook")
	if err != nil {
		t.Fatalf("Search() error = %v", err)
	}
	if len(found) != 1 || found[0].Name != "Cooking Show" {
		t.Errorf("Search(cook) = %v", found)
	}

	all, _ := m.Search(ctx, "u1", "")
	if len(all) != 3 {
		t.Errorf("Search(\"\") returned %d, want 3", len(all))
	}
	if others, _ := m.List(ctx, "u2"); len(others) != 0 {
		t.Errorf("List(u2) = %v", others)
	}
}

func TestUpdateAndGet(t *testing.T) {
	m, _, rec := newManager(t)
	ctx := context.Background()
	f, _ := m.CreateFolder(ctx, "u1", "News", nil)
	a, _ := m.CreateEmpty(ctx, "u1", "A", nil)
	m.CreateEmpty(ctx, "u1", "B", &f.ID)

	if _, err := m.Update(ctx, "u1", a.ID, "b", "", &f.ID); !errors.Is(err, ErrValidation) {
		t.Errorf("Update(duplicate in target folder) error = %v", err)
	}
	got, err := m.Update(ctx, "u1", a.ID, "A2", "desc", &f.ID)
	if err != nil {
		t.Fatalf("Update() error = %v", err)
	}
	if got.Name != "A2" || got.Description != "desc" || got.ParentFolderID == nil || *got.ParentFolderID != f.ID {
		t.Errorf("Update() = %+v", got)
	}
	if rec.events[len(rec.events)-1] != notify.SubscriptionUpdated {
		t.Errorf("last event = %v", rec.events[len(rec.events)-1])
	}

	if _, err := m.Get(ctx, "u2", a.ID); !errors.Is(err, model.ErrNotFound) {
		t.Errorf("Get(other user) error = %v, want ErrNotFound", err)
	}
}

func TestDeleteQueuesFileRemoval(t *testing.T) {
	m, db, rec := newManager(t)
	ctx := context.Background()
	sub, _ := m.CreateEmpty(ctx, "u1", "S", nil)

	kept := &model.Video{SubscriptionID: sub.ID, Name: "a", OriginalURL: "https://x/a", DownloadedPath: "a.mp4"}
	db.CreateVideo(ctx, kept)
	db.CreateVideo(ctx, &model.Video{SubscriptionID: sub.ID, Name: "b", OriginalURL: "https://x/b", PlaylistIndex: 1})

	if err := m.Delete(ctx, "u2", []int64{sub.ID}, true); !errors.Is(err, model.ErrNotFound) {
		t.Errorf("Delete(other user) error = %v", err)
	}
	if err := m.Delete(ctx, "u1", []int64{sub.ID}, true); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	if len(rec.deleted) != 1 || rec.deleted[0] != kept.ID {
		t.Errorf("queued deletions %v, want [%d]", rec.deleted, kept.ID)
	}
	if _, err := db.GetSubscriptionByID(ctx, sub.ID); !errors.Is(err, model.ErrNotFound) {
		t.Errorf("subscription still present: %v", err)
	}
}

func TestFolders(t *testing.T) {
	m, _, _ := newManager(t)
	ctx := context.Background()

	root, err := m.CreateFolder(ctx, "u1", "Root", nil)
	if err != nil {
		t.Fatalf("CreateFolder() error = %v", err)
	}
	dup, _ := m.CreateFolder(ctx, "u1", "root", nil)
	if dup.ID != root.ID {
		t.Errorf("CreateFolder(duplicate) created %d, want existing %d", dup.ID, root.ID)
	}
	child, _ := m.CreateFolder(ctx, "u1", "Child", &root.ID)
	grandchild, _ := m.CreateFolder(ctx, "u1", "Grandchild", &child.ID)

	if _, err := m.UpdateFolder(ctx, "u1", root.ID, "Root", &grandchild.ID); !errors.Is(err, ErrValidation) {
		t.Errorf("UpdateFolder(cycle) error = %v, want ErrValidation", err)
	}
	if _, err := m.UpdateFolder(ctx, "u1", root.ID, "Root", &root.ID); !errors.Is(err, ErrValidation) {
		t.Errorf("UpdateFolder(self parent) error = %v, want ErrValidation", err)
	}
	if _, err := m.UpdateFolder(ctx, "u1", grandchild.ID, "Moved", &root.ID); err != nil {
		t.Errorf("UpdateFolder(move up) error = %v", err)
	}
	if err := m.ValidateFolderName(ctx, "u1", "CHILD", &root.ID, 0); !errors.Is(err, ErrValidation) {
		t.Errorf("ValidateFolderName(duplicate) error = %v", err)
	}

	m.CreateEmpty(ctx, "u1", "in child", &child.ID)
	m.CreateEmpty(ctx, "u1", "in root", &root.ID)
	subs, err := m.SubscriptionsRecursive(ctx, "u1", root.ID)
	if err != nil || len(subs) != 2 {
		t.Errorf("SubscriptionsRecursive() = %v, %v", subs, err)
	}
}

func TestDeleteFolderReparents(t *testing.T) {
	m, _, _ := newManager(t)
	ctx := context.Background()
	root, _ := m.CreateFolder(ctx, "u1", "Root", nil)
	mid, _ := m.CreateFolder(ctx, "u1", "Mid", &root.ID)
	leaf, _ := m.CreateFolder(ctx, "u1", "Leaf", &mid.ID)
	m.CreateEmpty(ctx, "u1", "Same", &root.ID)
	moved, _ := m.CreateEmpty(ctx, "u1", "same", &mid.ID)

	if err := m.DeleteFolders(ctx, "u1", []int64{mid.ID}, false, false); err != nil {
		t.Fatalf("DeleteFolders() error = %v", err)
	}
	got, err := m.GetFolder(ctx, "u1", leaf.ID)
	if err != nil || got.ParentID == nil || *got.ParentID != root.ID {
		t.Errorf("leaf = %+v, %v; want parent %d", got, err, root.ID)
	}
	sub, _ := m.Get(ctx, "u1", moved.ID)
	if sub.ParentFolderID == nil || *sub.ParentFolderID != root.ID {
		t.Errorf("subscription parent = %v, want %d", sub.ParentFolderID, root.ID)
	}
	if sub.Name == "same" {
		t.Error("moved subscription kept a clashing name")
	}
}

func TestDeleteFolderRecursive(t *testing.T) {
	m, _, _ := newManager(t)
	ctx := context.Background()
	root, _ := m.CreateFolder(ctx, "u1", "Root", nil)
	child, _ := m.CreateFolder(ctx, "u1", "Child", &root.ID)
	sub, _ := m.CreateEmpty(ctx, "u1", "deep", &child.ID)
	other, _ := m.CreateEmpty(ctx, "u1", "outside", nil)

	if err := m.DeleteFolders(ctx, "u1", []int64{root.ID, child.ID}, true, false); err != nil {
		t.Fatalf("DeleteFolders() error = %v", err)
	}
	if _, err := m.GetFolder(ctx, "u1", child.ID); !errors.Is(err, model.ErrNotFound) {
		t.Errorf("child folder still present: %v", err)
	}
	if _, err := m.Get(ctx, "u1", sub.ID); !errors.Is(err, model.ErrNotFound) {
		t.Errorf("nested subscription still present: %v", err)
	}
	if _, err := m.Get(ctx, "u1", other.ID); err != nil {
		t.Errorf("unrelated subscription removed: %v", err)
	}
}

func TestAutoDownload(t *testing.T) {
	m, _, _ := newManager(t)
	ctx := context.Background()
	sub, _ := m.CreateEmpty(ctx, "u1", "S", nil)

	if v, err := m.AutoDownloadNoResolve(ctx, sub.ID); err != nil || v != nil {
		t.Errorf("AutoDownloadNoResolve() = %v, %v; want nil", v, err)
	}
	if v, _ := m.AutoDownload(ctx, sub.ID); !v {
		t.Error("AutoDownload() = false, want default true")
	}

	if err := m.SetAutoDownload(ctx, sub.ID, false); err != nil {
		t.Fatalf("SetAutoDownload() error = %v", err)
	}
	if v, _ := m.AutoDownloadNoResolve(ctx, sub.ID); v == nil || *v {
		t.Errorf("AutoDownloadNoResolve() = %v, want false", v)
	}
	if v, _ := m.AutoDownload(ctx, sub.ID); v {
		t.Error("AutoDownload() = true after set false")
	}

	if err := m.UnsetAutoDownload(ctx, sub.ID); err != nil {
		t.Fatalf("UnsetAutoDownload() error = %v", err)
	}
	if v, _ := m.AutoDownloadNoResolve(ctx, sub.ID); v != nil {
		t.Errorf("AutoDownloadNoResolve() after unset = %v", *v)
	}
}

func TestSynchronizeAndStats(t *testing.T) {
	m, _, rec := newManager(t)
	ctx := context.Background()
	f, _ := m.CreateFolder(ctx, "u1", "F", nil)
	sub, _ := m.CreateEmpty(ctx, "u1", "S", &f.ID)

	if err := m.SynchronizeSubscription(ctx, "u2", sub.ID); !errors.Is(err, model.ErrNotFound) {
		t.Errorf("SynchronizeSubscription(other user) error = %v", err)
	}
	m.SynchronizeSubscription(ctx, "u1", sub.ID)
	m.SynchronizeFolder(ctx, "u1", f.ID)
	m.SynchronizeAll()

	want := []string{"subscription:" + strconv.FormatInt(sub.ID, 10), "folder:" + strconv.FormatInt(f.ID, 10), "all"}
	if len(rec.targets) != len(want) {
		t.Fatalf("scheduled %v, want %v", rec.targets, want)
	}
	for i := range want {
		if rec.targets[i] != want[i] {
			t.Errorf("target %d = %q, want %q", i, rec.targets[i], want[i])
		}
	}

	stats, err := m.Stats(ctx, "u1", sub.ID)
	if err != nil || stats.TotalCount != 0 {
		t.Errorf("Stats() = %+v, %v", stats, err)
	}
}
