// Package render turns assembled items into display cards and writes them
// out. It is the presentation side of the loader and holds no state about
// pagination.
package render

import (
	"fmt"
	"io"
	"strings"
	"sync"
	"unicode"
	"unicode/utf8"

	"github.com/Sternrassler/dex-scroll/pkg/catalog"
)

// DefaultColor is used for unknown types.
const DefaultColor = "#F5F5F5"

var typeColors = map[string]string{
	"normal":   DefaultColor,
	"fire":     "#FDDFDF",
	"grass":    "#DEFDE0",
	"electric": "#FCF7DE",
	"ice":      "#DEF3FD",
	"water":    "#DEF3FD",
	"ground":   "#F4E7DA",
	"rock":     "#D5D5D4",
	"fairy":    "#FCEAFF",
	"poison":   "#98D7A5",
	"bug":      "#F8D5A3",
	"ghost":    "#CAC0F7",
	"dragon":   "#97B3E6",
	"psychic":  "#EAEDA1",
	"fighting": "#E6E0D4",
}

// TypeColor returns the accent color for a type.
func TypeColor(tag string) string {
	if c, ok := typeColors[tag]; ok {
		return c
	}
	return DefaultColor
}

// Card is the display form of one item.
type Card struct {
	Title    string
	Tags     string
	Class    string
	Color    string
	ImageURI string
	Alt      string
}

// NewCard builds the card for item.
func NewCard(item catalog.Item) Card {
	primary := item.PrimaryTag()
	return Card{
		Title:    fmt.Sprintf("%s. %s", item.ID, Capitalize(item.Name)),
		Tags:     strings.Join(item.Tags, " | "),
		Class:    "card " + primary,
		Color:    TypeColor(primary),
		ImageURI: item.ImageURI,
		Alt:      item.Name,
	}
}

// Capitalize upper-cases the first letter of s.
func Capitalize(s string) string {
	r, size := utf8.DecodeRuneInString(s)
	if r == utf8.RuneError {
		return s
	}
	return string(unicode.ToUpper(r)) + s[size:]
}

// TextRenderer writes one card per line.
type TextRenderer struct {
	mu       sync.Mutex
	w        io.Writer
	rendered int
}

// NewTextRenderer creates a renderer writing to w.
func NewTextRenderer(w io.Writer) *TextRenderer {
	return &TextRenderer{w: w}
}

// Render appends items to the output.
func (r *TextRenderer) Render(items []catalog.Item) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	var b strings.Builder
	for _, item := range items {
		card := NewCard(item)
		fmt.Fprintf(&b, "%-8s %-24s %-20s %s\n", card.Color, card.Title, card.Tags, card.ImageURI)
	}
	if _, err := io.WriteString(r.w, b.String()); err != nil {
		return fmt.Errorf("write cards: %w", err)
	}
	r.rendered += len(items)
	return nil
}

// Rendered returns the number of cards written so far.
func (r *TextRenderer) Rendered() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.rendered
}
