package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"iter"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/url"
	"path"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"testing"

	"github.com/bryan-buckman/tubevore/internal/database"
	"github.com/bryan-buckman/tubevore/internal/download"
	"github.com/bryan-buckman/tubevore/internal/logging"
	"github.com/bryan-buckman/tubevore/internal/metrics"
	"github.com/bryan-buckman/tubevore/internal/model"
	"github.com/bryan-buckman/tubevore/internal/options"
	"github.com/bryan-buckman/tubevore/internal/provider"
	"github.com/bryan-buckman/tubevore/internal/subscription"
	"github.com/bryan-buckman/tubevore/internal/synchronize"
)

type channelProvider struct {
	configured bool
}

func (p *channelProvider) ID() string          { return "Chan" }
func (p *channelProvider) Name() string        { return "Channels" }
func (p *channelProvider) IsInitialized() bool { return true }
func (p *channelProvider) Unconfigure()        { p.configured = false }

func (p *channelProvider) Configure(cfg provider.Config) error {
	if cfg["token"] == "" {
		return provider.ErrMissingConfig
	}
	p.configured = true
	return nil
}

func (p *channelProvider) CanHandleSubscriptionURL(ctx context.Context, u *url.URL) (bool, error) {
	return u.Host == "videos.example", nil
}

func (p *channelProvider) CreateSubscription(ctx context.Context, u *url.URL) (*model.Subscription, error) {
	return &model.Subscription{Name: path.Base(u.Path), SubscriptionID: path.Base(u.Path)}, nil
}

func (p *channelProvider) FetchVideos(ctx context.Context, sub *model.Subscription) iter.Seq2[*model.Video, error] {
	return func(func(*model.Video, error) bool) {}
}

type scheduled struct {
	mu      sync.Mutex
	targets []string
}

func (s *scheduled) Schedule(t synchronize.Target) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.targets = append(s.targets, t.String())
}

type testServer struct {
	*httptest.Server
	db        *database.DB
	queue     *download.Queue
	scheduled *scheduled
	provider  *channelProvider
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	dir := t.TempDir()
	db, err := database.New(filepath.Join(dir, "test.db"))
	if err != nil {
		t.Fatalf("database.New() error = %v", err)
	}
	t.Cleanup(func() { db.Close() })
	queue, err := download.OpenQueue(filepath.Join(dir, "queue.db"))
	if err != nil {
		t.Fatalf("OpenQueue() error = %v", err)
	}
	t.Cleanup(func() { queue.Close() })

	logger := logging.Discard()
	p := &channelProvider{}
	reg := provider.NewRegistry(db, logger)
	reg.Register(p)
	resolver := options.NewResolver(db, db, options.WithEnvironment(func(string) (string, bool) { return "", false }))
	m := metrics.New()
	evaluator := download.NewEvaluator(db, resolver, queue, m, logger)
	sched := &scheduled{}
	manager := subscription.NewManager(db, reg, resolver, evaluator,
		subscription.WithScheduler(sched), subscription.WithLogger(logger))

	srv := New(Deps{
		Store:    db,
		Manager:  manager,
		Registry: reg,
		Resolver: resolver,
		Queue:    queue,
		Metrics:  m,
		Logger:   logger,
	})
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return &testServer{Server: ts, db: db, queue: queue, scheduled: sched, provider: p}
}

// do sends a JSON request as user u1 and decodes the response into out.
func (ts *testServer) do(t *testing.T, method, path string, body any, out any) int {
	t.Helper()
	var r io.Reader
	switch b := body.(type) {
	case nil:
	case string:
		r = strings.NewReader(b)
	default:
		data, _ := json.Marshal(b)
		r = bytes.NewReader(data)
	}
	req, _ := http.NewRequest(method, ts.URL+path, r)
	req.Header.Set("X-User-ID", "u1")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s error = %v", method, path, err)
	}
	defer resp.Body.Close()
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			t.Fatalf("%s %s decode error = %v", method, path, err)
		}
	}
	return resp.StatusCode
}

func TestHealthAndMetrics(t *testing.T) {
	ts := newTestServer(t)
	for _, p := range []string{"/healthz", "/metrics"} {
		resp, err := http.Get(ts.URL + p)
		if err != nil {
			t.Fatalf("GET %s error = %v", p, err)
		}
		resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			t.Errorf("GET %s status = %d", p, resp.StatusCode)
		}
	}
}

func TestSubscriptionEndpoints(t *testing.T) {
	ts := newTestServer(t)

	var sub model.Subscription
	if code := ts.do(t, "POST", "/api/subscriptions", map[string]any{"url": "https://videos.example/c/news"}, &sub); code != http.StatusCreated {
		t.Fatalf("create status = %d", code)
	}
	if sub.SubscriptionProviderID != "Chan" || sub.UserID != "u1" {
		t.Errorf("created %+v", sub)
	}
	if len(ts.scheduled.targets) != 1 {
		t.Errorf("first sync not scheduled: %v", ts.scheduled.targets)
	}

	var empty model.Subscription
	if code := ts.do(t, "POST", "/api/subscriptions", map[string]any{"name": "Manual"}, &empty); code != http.StatusCreated {
		t.Fatalf("create empty status = %d", code)
	}
	if code := ts.do(t, "POST", "/api/subscriptions", map[string]any{"name": "manual"}, nil); code != http.StatusBadRequest {
		t.Errorf("duplicate name status = %d, want 400", code)
	}
	if code := ts.do(t, "POST", "/api/subscriptions", map[string]any{"url": "https://other.example/x"}, nil); code != http.StatusBadRequest {
		t.Errorf("unsupported URL status = %d, want 400", code)
	}

	var test map[string]string
	if code := ts.do(t, "POST", "/api/subscriptions/test", map[string]string{"url": "https://videos.example/c/x"}, &test); code != http.StatusOK || test["provider_id"] != "Chan" {
		t.Errorf("test URL = %d %v", code, test)
	}

	var list []model.Subscription
	ts.do(t, "GET", "/api/subscriptions?q=man", nil, &list)
	if len(list) != 1 || list[0].ID != empty.ID {
		t.Errorf("search = %v", list)
	}

	id := "/api/subscriptions/" + itoa(sub.ID)
	var updated model.Subscription
	if code := ts.do(t, "PUT", id, map[string]any{"name": "Renamed", "description": "d"}, &updated); code != http.StatusOK || updated.Name != "Renamed" {
		t.Errorf("update = %d %+v", code, updated)
	}

	req, _ := http.NewRequest("GET", ts.URL+id, nil)
	req.Header.Set("X-User-ID", "intruder")
	resp, _ := http.DefaultClient.Do(req)
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("other user GET status = %d, want 404", resp.StatusCode)
	}

	var stats model.SubscriptionStats
	if code := ts.do(t, "GET", id+"/stats", nil, &stats); code != http.StatusOK {
		t.Errorf("stats status = %d", code)
	}
	if code := ts.do(t, "POST", id+"/sync", nil, nil); code != http.StatusAccepted {
		t.Errorf("sync status = %d", code)
	}
	if code := ts.do(t, "POST", "/api/sync", nil, nil); code != http.StatusAccepted {
		t.Errorf("sync all status = %d", code)
	}
	if n := len(ts.scheduled.targets); n != 3 || ts.scheduled.targets[2] != "all" {
		t.Errorf("scheduled %v", ts.scheduled.targets)
	}

	var auto map[string]any
	ts.do(t, "PUT", id+"/auto-download", map[string]bool{"value": false}, nil)
	ts.do(t, "GET", id+"/auto-download", nil, &auto)
	if auto["value"] != false || auto["explicit"] != false {
		t.Errorf("auto-download = %v", auto)
	}
	ts.do(t, "DELETE", id+"/auto-download", nil, nil)
	ts.do(t, "GET", id+"/auto-download", nil, &auto)
	if auto["value"] != true || auto["explicit"] != nil {
		t.Errorf("auto-download after unset = %v", auto)
	}

	if code := ts.do(t, "DELETE", id+"?delete_files=true", nil, nil); code != http.StatusNoContent {
		t.Errorf("delete status = %d", code)
	}
	if code := ts.do(t, "GET", id, nil, nil); code != http.StatusNotFound {
		t.Errorf("GET deleted status = %d", code)
	}
	if code := ts.do(t, "GET", "/api/subscriptions/abc", nil, nil); code != http.StatusBadRequest {
		t.Errorf("GET bad id status = %d", code)
	}
}

func TestFolderEndpoints(t *testing.T) {
	ts := newTestServer(t)

	var parent, child model.Folder
	ts.do(t, "POST", "/api/folders", map[string]any{"name": "Parent"}, &parent)
	ts.do(t, "POST", "/api/folders", map[string]any{"name": "Child", "parent_id": parent.ID}, &child)
	if child.ParentID == nil || *child.ParentID != parent.ID {
		t.Fatalf("child = %+v", child)
	}

	if code := ts.do(t, "PUT", "/api/folders/"+itoa(parent.ID), map[string]any{"name": "Parent", "parent_id": child.ID}, nil); code != http.StatusBadRequest {
		t.Errorf("cyclic move status = %d, want 400", code)
	}

	ts.do(t, "POST", "/api/subscriptions", map[string]any{"name": "Inner", "parent_folder_id": child.ID}, nil)
	var subs []model.Subscription
	ts.do(t, "GET", "/api/folders/"+itoa(parent.ID)+"/subscriptions", nil, &subs)
	if len(subs) != 1 || subs[0].Name != "Inner" {
		t.Errorf("folder subscriptions = %v", subs)
	}
	if code := ts.do(t, "POST", "/api/folders/"+itoa(parent.ID)+"/sync", nil, nil); code != http.StatusAccepted {
		t.Errorf("folder sync status = %d", code)
	}

	if code := ts.do(t, "DELETE", "/api/folders/"+itoa(parent.ID)+"?recursive=true", nil, nil); code != http.StatusNoContent {
		t.Errorf("delete status = %d", code)
	}
	var folders []model.Folder
	ts.do(t, "GET", "/api/folders", nil, &folders)
	if len(folders) != 0 {
		t.Errorf("folders after recursive delete = %v", folders)
	}
}

func TestOptionEndpoints(t *testing.T) {
	ts := newTestServer(t)
	var sub model.Subscription
	ts.do(t, "POST", "/api/subscriptions", map[string]any{"name": "S"}, &sub)
	base := "/api/subscriptions/" + itoa(sub.ID) + "/options/"

	var view optionView
	if code := ts.do(t, "PUT", "/api/options/subscriptions.max_count", "4", &view); code != http.StatusOK {
		t.Fatalf("user set status = %d", code)
	}
	var inherited optionView
	ts.do(t, "GET", base+"subscriptions.max_count", nil, &inherited)
	if inherited.Value != float64(4) || inherited.Explicit != nil {
		t.Errorf("inherited view = %+v", inherited)
	}

	var explicit optionView
	ts.do(t, "PUT", base+"subscriptions.max_count", "2", &explicit)
	if explicit.Value != float64(2) || explicit.Explicit != float64(2) {
		t.Errorf("explicit view = %+v", explicit)
	}
	if code := ts.do(t, "DELETE", base+"subscriptions.max_count", nil, nil); code != http.StatusNoContent {
		t.Errorf("unset status = %d", code)
	}
	var after optionView
	ts.do(t, "GET", base+"subscriptions.max_count", nil, &after)
	if after.Value != float64(4) || after.Explicit != nil {
		t.Errorf("view after unset = %+v, want inherited 4", after)
	}

	tests := []struct {
		method, path, body string
		want               int
	}{
		{"PUT", base + "subscriptions.max_count", `"many"`, http.StatusBadRequest},
		{"PUT", base + "sync.interval_minutes", "30", http.StatusBadRequest},
		{"GET", base + "no.such.option", "", http.StatusNotFound},
		{"DELETE", "/api/options/subscriptions.max_count", "", http.StatusMethodNotAllowed},
		{"PUT", "/api/global-options/sync.interval_minutes", "30", http.StatusOK},
	}
	for _, tt := range tests {
		var body any
		if tt.body != "" {
			body = tt.body
		}
		if code := ts.do(t, tt.method, tt.path, body, nil); code != tt.want {
			t.Errorf("%s %s status = %d, want %d", tt.method, tt.path, code, tt.want)
		}
	}

	var all []optionView
	ts.do(t, "GET", "/api/options", nil, &all)
	if len(all) != len(options.All()) {
		t.Errorf("listed %d options, want %d", len(all), len(options.All()))
	}
}

func TestProviderEndpoints(t *testing.T) {
	ts := newTestServer(t)

	var list []providerView
	ts.do(t, "GET", "/api/providers", nil, &list)
	if len(list) != 1 || !list[0].Subscriptions || list[0].Videos {
		t.Errorf("providers = %+v", list)
	}

	if code := ts.do(t, "PUT", "/api/providers/Chan/config", map[string]string{}, nil); code != http.StatusBadRequest {
		t.Errorf("missing config status = %d, want 400", code)
	}
	if code := ts.do(t, "PUT", "/api/providers/Chan/config", map[string]string{"token": "t"}, nil); code != http.StatusOK {
		t.Errorf("configure status = %d", code)
	}
	stored, _ := ts.db.GetProviderConfigs(context.Background())
	if stored["Chan"]["token"] != "t" {
		t.Errorf("stored config = %v", stored)
	}
	if code := ts.do(t, "PUT", "/api/providers/Nope/config", map[string]string{"token": "t"}, nil); code != http.StatusNotFound {
		t.Errorf("unknown provider status = %d, want 404", code)
	}
	if code := ts.do(t, "DELETE", "/api/providers/Chan/config", nil, nil); code != http.StatusNoContent || ts.provider.configured {
		t.Errorf("unconfigure status = %d configured = %v", code, ts.provider.configured)
	}
}

func TestDownloadEndpoints(t *testing.T) {
	ts := newTestServer(t)
	ctx := context.Background()
	ts.queue.Enqueue(ctx, download.Request{Kind: download.KindDownload, VideoID: 7, URL: "https://x/7"})

	var pending []download.Request
	ts.do(t, "GET", "/api/downloads/pending", nil, &pending)
	if len(pending) != 1 || pending[0].VideoID != 7 {
		t.Fatalf("pending = %v", pending)
	}
	if code := ts.do(t, "DELETE", "/api/downloads/download/7", nil, nil); code != http.StatusNoContent {
		t.Errorf("ack status = %d", code)
	}
	if code := ts.do(t, "DELETE", "/api/downloads/upload/7", nil, nil); code != http.StatusBadRequest {
		t.Errorf("bad kind status = %d", code)
	}
	ts.do(t, "GET", "/api/downloads/pending", nil, &pending)
	if len(pending) != 0 {
		t.Errorf("pending after ack = %v", pending)
	}
}

func TestOPMLEndpoints(t *testing.T) {
	ts := newTestServer(t)
	doc := `<?xml version="1.0"?><opml version="2.0"><body>
<outline text="Folder"><outline text="a" type="rss" xmlUrl="https://videos.example/c/a"/></outline>
<outline text="b" type="rss" xmlUrl="https://videos.example/c/b"/>
</body></opml>`

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, _ := mw.CreateFormFile("opml", "subs.opml")
	fw.Write([]byte(doc))
	mw.Close()

	req, _ := http.NewRequest("POST", ts.URL+"/api/import-opml", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.Header.Set("X-User-ID", "u1")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("import error = %v", err)
	}
	var res struct {
		Created int `json:"created"`
	}
	json.NewDecoder(resp.Body).Decode(&res)
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK || res.Created != 2 {
		t.Fatalf("import = %d %+v", resp.StatusCode, res)
	}

	req, _ = http.NewRequest("GET", ts.URL+"/api/export-opml", nil)
	req.Header.Set("X-User-ID", "u1")
	resp, err = http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("export error = %v", err)
	}
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	if !strings.Contains(string(body), `xmlUrl="https://videos.example/c/a"`) || !strings.Contains(string(body), `text="Folder"`) {
		t.Errorf("export = %s", body)
	}

	if code := ts.do(t, "POST", "/api/import-opml", nil, nil); code != http.StatusBadRequest {
		t.Errorf("import without file status = %d", code)
	}
}

func itoa(n int64) string {
	return strconv.FormatInt(n, 10)
}
