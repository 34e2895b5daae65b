// Package catalog defines the catalog data model and the sources that feed
// the assembler: the collection listing, per-item records and image assets.
package catalog

import (
	"strings"
)

// Reference points at one catalog item before it is resolved.
type Reference struct {
	ID   string
	Name string
	URL  string
}

// Item is a fully resolved, render-ready catalog entry. All fields are
// non-empty; Tags has at least one entry.
type Item struct {
	ID       string
	Name     string
	Tags     []string
	ImageURI string
}

// PrimaryTag returns the first tag, which drives styling.
func (i Item) PrimaryTag() string {
	if len(i.Tags) == 0 {
		return ""
	}
	return i.Tags[0]
}

// Complete reports whether every field is populated.
func (i Item) Complete() bool {
	return i.ID != "" && i.Name != "" && len(i.Tags) > 0 && i.ImageURI != ""
}

// ListPage is one page of the collection listing.
type ListPage struct {
	// Count is the catalog size when the upstream reports it.
	Count *int
	// Next is the URL of the following page, nil on the last page.
	Next    *string
	Results []Reference
}

// IDFromURL derives an item id from its record URL: the last non-empty path
// segment, so ".../pokemon/25/" and ".../pokemon/25" both yield "25". An
// empty string means no id could be derived.
func IDFromURL(rawURL string) string {
	if i := strings.IndexAny(rawURL, "?#"); i >= 0 {
		rawURL = rawURL[:i]
	}
	segments := strings.Split(rawURL, "/")
	for i := len(segments) - 1; i >= 0; i-- {
		if seg := strings.TrimSpace(segments[i]); seg != "" {
			if strings.HasSuffix(seg, ":") {
				// Only a scheme is left, e.g. "https:".
				return ""
			}
			return seg
		}
	}
	return ""
}
