package catalog

import (
	"context"
	"errors"
	"net/http"
	"os"
	"path/filepath"
	"testing"

	"github.com/Sternrassler/dex-scroll/internal/testutil"
)

func TestNewHTTPAssets_RequiresPlaceholder(t *testing.T) {
	if _, err := NewHTTPAssets(nil, "https://cdn.example/img/25.png"); err == nil {
		t.Error("NewHTTPAssets() expected error for template without {id}")
	}
}

func TestHTTPAssets_FetchImage(t *testing.T) {
	mock := testutil.NewMockCatalog(10)
	defer mock.Close()

	mock.FailImage(4, http.StatusNotFound)
	mock.CorruptImage(5)

	assets, err := NewHTTPAssets(newHTTP(t), mock.AssetTemplate())
	if err != nil {
		t.Fatalf("NewHTTPAssets() error = %v", err)
	}

	tests := []struct {
		name    string
		id      string
		want    string
		wantErr bool
	}{
		{name: "outside catalog", id: "25", wantErr: true},
		{name: "served image", id: "2", want: mock.URL() + "/img/2.png"},
		{name: "missing", id: "4", wantErr: true},
		{name: "not an image", id: "5", wantErr: true},
		{name: "empty id", id: "", wantErr: true},
		{name: "traversal", id: "../secret", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := assets.FetchImage(context.Background(), tt.id)
			if (err != nil) != tt.wantErr {
				t.Fatalf("FetchImage(%q) error = %v, wantErr %v", tt.id, err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("FetchImage(%q) = %q, want %q", tt.id, got, tt.want)
			}
		})
	}
}

func TestDirAssets_FetchImage(t *testing.T) {
	dir := t.TempDir()
	if err := testutil.WriteAssetDir(dir, 1, 25); err != nil {
		t.Fatalf("WriteAssetDir() error = %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, "7.png"), []byte("garbage"), 0o644); err != nil {
		t.Fatalf("write corrupt asset: %v", err)
	}

	assets, err := NewDirAssets(dir)
	if err != nil {
		t.Fatalf("NewDirAssets() error = %v", err)
	}

	got, err := assets.FetchImage(context.Background(), "25")
	if err != nil {
		t.Fatalf("FetchImage(25) error = %v", err)
	}
	if want := filepath.ToSlash(filepath.Join(dir, "25.png")); got != want {
		t.Errorf("FetchImage(25) = %q, want %q", got, want)
	}

	for _, id := range []string{"2", "7", "..", "a/b"} {
		if _, err := assets.FetchImage(context.Background(), id); err == nil {
			t.Errorf("FetchImage(%q) expected error", id)
		}
	}

	if _, err := assets.FetchImage(context.Background(), "a/b"); !errors.Is(err, ErrInvalidID) {
		t.Errorf("FetchImage(a/b) error = %v, want ErrInvalidID", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := assets.FetchImage(ctx, "1"); !errors.Is(err, context.Canceled) {
		t.Errorf("FetchImage() with cancelled context error = %v, want context.Canceled", err)
	}
}

func TestNewDirAssets_Missing(t *testing.T) {
	if _, err := NewDirAssets(filepath.Join(t.TempDir(), "nope")); err == nil {
		t.Error("NewDirAssets() expected error for missing dir")
	}
}
