package catalog

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/disintegration/imaging"
)

// ErrInvalidID is returned when an id cannot key an image asset.
var ErrInvalidID = errors.New("invalid asset id")

// IDPlaceholder is replaced by the item id in asset URL templates.
const IDPlaceholder = "{id}"

// HTTPAssets serves images from a URL template such as
// "https://cdn.example/img/{id}.png".
type HTTPAssets struct {
	http     Fetcher
	template string
}

// NewHTTPAssets creates an HTTP image source.
func NewHTTPAssets(http Fetcher, template string) (*HTTPAssets, error) {
	if !strings.Contains(template, IDPlaceholder) {
		return nil, fmt.Errorf("asset url template must contain %s (got %q)", IDPlaceholder, template)
	}
	return &HTTPAssets{http: http, template: template}, nil
}

// URL returns the asset URL for id.
func (a *HTTPAssets) URL(id string) string {
	return strings.ReplaceAll(a.template, IDPlaceholder, url.PathEscape(id))
}

// FetchImage downloads the asset for id, checks that it decodes as an image
// and returns its URL.
func (a *HTTPAssets) FetchImage(ctx context.Context, id string) (string, error) {
	if err := validateID(id); err != nil {
		return "", err
	}

	assetURL := a.URL(id)
	resp, err := a.http.Get(ctx, EndpointImage, assetURL)
	if err != nil {
		return "", fmt.Errorf("fetch image %s: %w", id, err)
	}
	if err := decodeImage(resp.Body); err != nil {
		return "", fmt.Errorf("image %s: %w", id, err)
	}
	return assetURL, nil
}

// DirAssets serves images bundled in a local directory as <id>.png.
type DirAssets struct {
	dir string
}

// NewDirAssets creates a local image source rooted at dir.
func NewDirAssets(dir string) (*DirAssets, error) {
	info, err := os.Stat(dir)
	if err != nil {
		return nil, fmt.Errorf("asset dir: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("asset dir %q is not a directory", dir)
	}
	return &DirAssets{dir: dir}, nil
}

// Path returns the file path for id.
func (a *DirAssets) Path(id string) string {
	return filepath.Join(a.dir, id+".png")
}

// FetchImage reads the asset for id, checks that it decodes as an image and
// returns its path in slash form.
func (a *DirAssets) FetchImage(ctx context.Context, id string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if err := validateID(id); err != nil {
		return "", err
	}

	path := a.Path(id)
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("read image %s: %w", id, err)
	}
	if err := decodeImage(data); err != nil {
		return "", fmt.Errorf("image %s: %w", id, err)
	}
	return filepath.ToSlash(path), nil
}

func validateID(id string) error {
	if id == "" || id == "." || id == ".." || strings.ContainsAny(id, `/\`) {
		return fmt.Errorf("%w: %q", ErrInvalidID, id)
	}
	return nil
}

func decodeImage(data []byte) error {
	if len(data) == 0 {
		return errors.New("empty image")
	}
	if _, err := imaging.Decode(bytes.NewReader(data)); err != nil {
		return fmt.Errorf("decode: %w", err)
	}
	return nil
}
