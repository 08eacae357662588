package storage

import (
	"context"
	"testing"

	"github.com/spf13/afero"

	"github.com/bryan-buckman/tubevore/internal/model"
)

func newTestStorage(t *testing.T) (*Local, afero.Fs) {
	t.Helper()
	fs := afero.NewMemMapFs()
	files := map[string]string{
		"/dl/chan/video.mp4":        "0123456789",
		"/dl/chan/video.info.json":  "{}",
		"/dl/chan/video.part":       "xx",
		"/dl/chan/other.mp4":        "abc",
		"/dl/chan/album/part1.webm": "12345",
		"/dl/chan/album/part2.webm": "123",
	}
	for name, body := range files {
		if err := afero.WriteFile(fs, name, []byte(body), 0644); err != nil {
			t.Fatalf("WriteFile(%s) error = %v", name, err)
		}
	}
	return NewLocal(fs, "/dl"), fs
}

func TestVerifyIsDownloaded(t *testing.T) {
	s, _ := newTestStorage(t)
	ctx := context.Background()

	for path, want := range map[string]bool{
		"chan/video.mp4":     true,
		"/dl/chan/video.mp4": true,
		"chan/missing.mp4":   false,
		"":                   false,
	} {
		got, err := s.VerifyIsDownloaded(ctx, &model.Video{DownloadedPath: path})
		if err != nil || got != want {
			t.Errorf("VerifyIsDownloaded(%q) = %v, %v; want %v", path, got, err, want)
		}
	}
}

func TestCalculateSize(t *testing.T) {
	s, _ := newTestStorage(t)
	ctx := context.Background()

	if n, err := s.CalculateSize(ctx, &model.Video{DownloadedPath: "chan/video.mp4"}); err != nil || n != 10 {
		t.Errorf("CalculateSize(file) = %d, %v; want 10", n, err)
	}
	if n, err := s.CalculateSize(ctx, &model.Video{DownloadedPath: "chan/album"}); err != nil || n != 8 {
		t.Errorf("CalculateSize(dir) = %d, %v; want 8", n, err)
	}
	if _, err := s.CalculateSize(ctx, &model.Video{DownloadedPath: "chan/missing.mp4"}); err == nil {
		t.Error("CalculateSize(missing) error = nil")
	}
}

func TestDeleteRemovesLeftovers(t *testing.T) {
	s, fs := newTestStorage(t)
	ctx := context.Background()

	if err := s.Delete(ctx, &model.Video{DownloadedPath: "chan/video.mp4"}); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	for _, gone := range []string{"/dl/chan/video.mp4", "/dl/chan/video.info.json", "/dl/chan/video.part"} {
		if ok, _ := afero.Exists(fs, gone); ok {
			t.Errorf("%s still exists", gone)
		}
	}
	if ok, _ := afero.Exists(fs, "/dl/chan/other.mp4"); !ok {
		t.Error("unrelated file was deleted")
	}

	if err := s.Delete(ctx, &model.Video{DownloadedPath: "chan/video.mp4"}); err != nil {
		t.Errorf("Delete(already gone) error = %v", err)
	}
}
