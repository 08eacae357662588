// Package opml imports and exports subscriptions as OPML files.
package opml

import (
	"context"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/bryan-buckman/tubevore/internal/model"
	"github.com/bryan-buckman/tubevore/internal/subscription"
)

// ErrInvalidDocument is returned when the input is not an OPML document.
var ErrInvalidDocument = errors.New("invalid opml document")

// OPML represents the root of an OPML document.
type OPML struct {
	XMLName xml.Name `xml:"opml"`
	Version string   `xml:"version,attr"`
	Head    Head     `xml:"head"`
	Body    Body     `xml:"body"`
}

// Head contains OPML metadata.
type Head struct {
	Title       string `xml:"title,omitempty"`
	DateCreated string `xml:"dateCreated,omitempty"`
}

// Body contains the outlines.
type Body struct {
	Outlines []Outline `xml:"outline"`
}

// Outline is a folder or a subscription.
type Outline struct {
	Text     string    `xml:"text,attr"`
	Title    string    `xml:"title,attr,omitempty"`
	Type     string    `xml:"type,attr,omitempty"`
	XMLURL   string    `xml:"xmlUrl,attr,omitempty"`
	HTMLURL  string    `xml:"htmlUrl,attr,omitempty"`
	Outlines []Outline `xml:"outline,omitempty"`
}

// Entry is a subscription with its folder path.
type Entry struct {
	FolderPath []string // e.g. ["Music", "Live"]
	Title      string
	URL        string
	HTMLURL    string
}

// Parse reads an OPML document and returns its subscriptions in document order.
func Parse(r io.Reader) ([]Entry, error) {
	var doc OPML
	if err := xml.NewDecoder(r).Decode(&doc); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidDocument, err)
	}
	var entries []Entry
	var walk func(outlines []Outline, path []string)
	walk = func(outlines []Outline, path []string) {
		for _, o := range outlines {
			switch {
			case o.XMLURL != "" || o.HTMLURL != "":
				title := o.Title
				if title == "" {
					title = o.Text
				}
				entries = append(entries, Entry{
					FolderPath: append([]string{}, path...),
					Title:      title,
					URL:        o.XMLURL,
					HTMLURL:    o.HTMLURL,
				})
			case len(o.Outlines) > 0:
				name := o.Text
				if name == "" {
					name = o.Title
				}
				walk(o.Outlines, append(path[:len(path):len(path)], name))
			}
		}
	}
	walk(doc.Body.Outlines, nil)
	return entries, nil
}

// Manager is the part of the subscription manager used for import and export.
type Manager interface {
	List(ctx context.Context, userID string) ([]model.Subscription, error)
	ListFolders(ctx context.Context, userID string) ([]model.Folder, error)
	CreateFolder(ctx context.Context, userID, name string, parentID *int64) (*model.Folder, error)
	Create(ctx context.Context, userID, raw string, parentFolderID *int64) (*model.Subscription, error)
}

// ImportResult counts what an import did.
type ImportResult struct {
	Created int      `json:"created"`
	Skipped int      `json:"skipped"`
	Failed  int      `json:"failed"`
	Errors  []string `json:"errors,omitempty"`
}

// Import creates folders and subscriptions for every entry of an OPML
// document. Entries whose URL is already subscribed are skipped; entries
// no provider accepts are counted as failed and do not stop the import.
func Import(ctx context.Context, m Manager, userID string, r io.Reader, logger *slog.Logger) (*ImportResult, error) {
	entries, err := Parse(r)
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}

	existing, err := m.List(ctx, userID)
	if err != nil {
		return nil, err
	}
	known := make(map[string]bool, len(existing))
	for _, s := range existing {
		if s.OriginalURL != "" {
			known[strings.ToLower(s.OriginalURL)] = true
		}
	}

	res := &ImportResult{}
	folders := map[string]int64{}
	for _, e := range entries {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		if known[strings.ToLower(e.URL)] || known[strings.ToLower(e.HTMLURL)] {
			res.Skipped++
			continue
		}

		parent, err := ensureFolders(ctx, m, userID, e.FolderPath, folders)
		if err != nil {
			return res, err
		}

		sub, err := createFirst(ctx, m, userID, parent, e.URL, e.HTMLURL)
		if err != nil {
			if !errors.Is(err, subscription.ErrValidation) {
				logger.Warn("opml entry not imported", "user_id", userID, "url", e.URL, "err", err)
			}
			res.Failed++
			res.Errors = append(res.Errors, fmt.Sprintf("%s: %v", e.Title, err))
			continue
		}
		known[strings.ToLower(sub.OriginalURL)] = true
		res.Created++
	}
	logger.Info("opml import finished", "user_id", userID,
		"created", res.Created, "skipped", res.Skipped, "failed", res.Failed)
	return res, nil
}

// ensureFolders creates the folder path and returns the innermost folder id.
func ensureFolders(ctx context.Context, m Manager, userID string, path []string, cache map[string]int64) (*int64, error) {
	var parent *int64
	for i := range path {
		key := strings.Join(path[:i+1], "\x00")
		if id, ok := cache[key]; ok {
			parent = &id
			continue
		}
		f, err := m.CreateFolder(ctx, userID, model.Truncate(path[i], model.MaxFolderNameLength), parent)
		if err != nil {
			return nil, fmt.Errorf("create folder %q: %w", path[i], err)
		}
		cache[key] = f.ID
		id := f.ID
		parent = &id
	}
	return parent, nil
}

func createFirst(ctx context.Context, m Manager, userID string, parent *int64, urls ...string) (*model.Subscription, error) {
	var errs []error
	for _, u := range urls {
		if u == "" {
			continue
		}
		sub, err := m.Create(ctx, userID, u, parent)
		if err == nil {
			return sub, nil
		}
		errs = append(errs, err)
	}
	return nil, errors.Join(errs...)
}

// Export writes the user's folder tree with every subscription that has a
// source URL.
func Export(ctx context.Context, m Manager, userID, title string, w io.Writer) error {
	folders, err := m.ListFolders(ctx, userID)
	if err != nil {
		return err
	}
	subs, err := m.List(ctx, userID)
	if err != nil {
		return err
	}

	children := map[int64][]model.Folder{}
	var roots []model.Folder
	for _, f := range folders {
		if f.ParentID == nil {
			roots = append(roots, f)
		} else {
			children[*f.ParentID] = append(children[*f.ParentID], f)
		}
	}
	inFolder := map[int64][]Outline{}
	var rootSubs []Outline
	for _, s := range subs {
		if s.OriginalURL == "" {
			continue
		}
		o := Outline{Text: s.Name, Title: s.Name, Type: "rss", XMLURL: s.OriginalURL}
		if s.ParentFolderID == nil {
			rootSubs = append(rootSubs, o)
		} else {
			inFolder[*s.ParentFolderID] = append(inFolder[*s.ParentFolderID], o)
		}
	}

	seen := map[int64]bool{}
	var build func(fs []model.Folder) []Outline
	build = func(fs []model.Folder) []Outline {
		var out []Outline
		for _, f := range fs {
			if seen[f.ID] {
				continue
			}
			seen[f.ID] = true
			o := Outline{Text: f.Name, Title: f.Name}
			o.Outlines = append(build(children[f.ID]), inFolder[f.ID]...)
			if len(o.Outlines) > 0 {
				out = append(out, o)
			}
		}
		return out
	}

	doc := OPML{
		Version: "2.0",
		Head: Head{
			Title:       title,
			DateCreated: time.Now().Format(time.RFC1123Z),
		},
	}
	doc.Body.Outlines = append(build(roots), rootSubs...)

	if _, err := io.WriteString(w, xml.Header); err != nil {
		return err
	}
	enc := xml.NewEncoder(w)
	enc.Indent("", "  ")
	if err := enc.Encode(doc); err != nil {
		return fmt.Errorf("encode opml: %w", err)
	}
	return enc.Close()
}
