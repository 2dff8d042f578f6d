package parser

import (
	"errors"
	"fmt"
	"net/url"
	"path/filepath"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/andybalholm/cascadia"
	"github.com/go-playground/validator/v10"

	"github.com/aluiziolira/go-comic-fetcher/models"
)

var (
	// ErrEmptyImageURL is returned when the selected element has no src.
	ErrEmptyImageURL = errors.New("image url is empty")
	// ErrNoFilename is returned when an image URL has no final path segment.
	ErrNoFilename = errors.New("image url has no filename")
)

var validate = validator.New()

// ValidateSelector ensures selector compiles as a CSS selector group.
func ValidateSelector(selector string) error {
	if strings.TrimSpace(selector) == "" {
		return fmt.Errorf("selector is empty")
	}
	if _, err := cascadia.ParseGroup(selector); err != nil {
		return fmt.Errorf("invalid selector %q: %w", selector, err)
	}
	return nil
}

// ValidateSource checks a single source descriptor.
func ValidateSource(src models.Source) error {
	if err := validate.Struct(src); err != nil {
		return fmt.Errorf("source %q: %w", src.Name, err)
	}
	if src.Name == models.LastCheckedKey {
		return fmt.Errorf("source name %q is reserved", src.Name)
	}
	parsed, err := url.Parse(src.BaseURL)
	if err != nil {
		return fmt.Errorf("source %q: invalid base URL: %w", src.Name, err)
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return fmt.Errorf("source %q: base URL must be http or https", src.Name)
	}
	if err := ValidateSelector(src.Selector); err != nil {
		return fmt.Errorf("source %q: %w", src.Name, err)
	}
	return nil
}

// ValidateSources checks every descriptor and rejects duplicate names.
func ValidateSources(sources []models.Source) error {
	if len(sources) == 0 {
		return fmt.Errorf("at least one source is required")
	}
	seen := make(map[string]struct{}, len(sources))
	for i, src := range sources {
		if err := ValidateSource(src); err != nil {
			return fmt.Errorf("source[%d]: %w", i, err)
		}
		if _, ok := seen[src.Name]; ok {
			return fmt.Errorf("source[%d]: duplicate name %q", i, src.Name)
		}
		seen[src.Name] = struct{}{}
	}
	return nil
}

// SelectImageSource returns the src attribute of the first element matching
// selector. The bool is false on a selector miss or an empty src.
func SelectImageSource(doc *goquery.Document, selector string) (string, bool) {
	if doc == nil {
		return "", false
	}
	sel := doc.Find(selector).First()
	if sel.Length() == 0 {
		return "", false
	}
	src, ok := sel.Attr("src")
	src = strings.TrimSpace(src)
	if !ok || src == "" {
		return "", false
	}
	return src, true
}

// ImageFilename derives the on-disk filename from the final path segment of
// an image URL. Query strings and fragments are ignored.
func ImageFilename(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", ErrEmptyImageURL
	}

	p := raw
	if u, err := url.Parse(raw); err == nil {
		p = u.Path
	}

	name := p[strings.LastIndex(p, "/")+1:]
	if name == "" || name == "." || name == ".." {
		return "", fmt.Errorf("%w: %s", ErrNoFilename, raw)
	}
	if filepath.Base(name) != name {
		return "", fmt.Errorf("%w: %s", ErrNoFilename, raw)
	}
	return name, nil
}

// ResolveImageURL turns the extracted src into the URL to download.
//
// Sources flagged as relative join BaseURL and raw with a single slash.
// Otherwise raw is used unchanged when absolute, and resolved against pageURL
// when it is scheme- or root-relative.
func ResolveImageURL(src models.Source, raw, pageURL string) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", ErrEmptyImageURL
	}

	if src.RelativeImageURL {
		return strings.TrimRight(src.BaseURL, "/") + "/" + strings.TrimLeft(raw, "/"), nil
	}

	ref, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("parse image url: %w", err)
	}
	if ref.IsAbs() {
		return raw, nil
	}

	if pageURL == "" {
		pageURL = src.BaseURL
	}
	base, err := url.Parse(pageURL)
	if err != nil {
		return "", fmt.Errorf("parse page url: %w", err)
	}
	return base.ResolveReference(ref).String(), nil
}
