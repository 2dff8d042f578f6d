package parser

import (
	"errors"
	"strings"
	"testing"

	"github.com/PuerkitoBio/goquery"

	"github.com/aluiziolira/go-comic-fetcher/models"
)

func validSource() models.Source {
	return models.Source{
		Name:           "Buttersafe",
		BaseURL:        "http://buttersafe.example/",
		Selector:       "#comic img",
		CheckForUpdate: true,
	}
}

func TestValidateSource(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*models.Source)
		wantErr string
	}{
		{name: "valid", mutate: func(*models.Source) {}},
		{name: "missing name", mutate: func(s *models.Source) { s.Name = "" }, wantErr: "Name"},
		{name: "missing url", mutate: func(s *models.Source) { s.BaseURL = "" }, wantErr: "BaseURL"},
		{name: "not a url", mutate: func(s *models.Source) { s.BaseURL = "buttersafe" }, wantErr: "BaseURL"},
		{name: "ftp scheme", mutate: func(s *models.Source) { s.BaseURL = "ftp://buttersafe.example/" }, wantErr: "http or https"},
		{name: "missing selector", mutate: func(s *models.Source) { s.Selector = "" }, wantErr: "Selector"},
		{name: "bad selector", mutate: func(s *models.Source) { s.Selector = "div[" }, wantErr: "invalid selector"},
		{name: "reserved name", mutate: func(s *models.Source) { s.Name = models.LastCheckedKey }, wantErr: "reserved"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			src := validSource()
			tt.mutate(&src)
			err := ValidateSource(src)
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("ValidateSource() unexpected error: %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Fatalf("ValidateSource() error = %v, want containing %q", err, tt.wantErr)
			}
		})
	}
}

func TestValidateSourcesRejectsDuplicates(t *testing.T) {
	src := validSource()
	err := ValidateSources([]models.Source{src, src})
	if err == nil || !strings.Contains(err.Error(), "duplicate") {
		t.Fatalf("expected duplicate error, got %v", err)
	}
	if err := ValidateSources(nil); err == nil {
		t.Fatalf("expected error for empty list")
	}
}

func TestSelectImageSource(t *testing.T) {
	const page = `<html><body>
<div id="comic"><a href="/next"><img src="  /comics/latest.png " alt="latest"></a></div>
<div id="comic"><img src="/comics/second.png"></div>
<div class="empty"><img></div>
</body></html>`

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(page))
	if err != nil {
		t.Fatalf("parse document: %v", err)
	}

	tests := []struct {
		name     string
		selector string
		want     string
		wantOK   bool
	}{
		{name: "first match wins", selector: "div#comic img", want: "/comics/latest.png", wantOK: true},
		{name: "nested", selector: "div#comic a img", want: "/comics/latest.png", wantOK: true},
		{name: "no match", selector: "div.entry_content p img", wantOK: false},
		{name: "missing src", selector: "div.empty img", wantOK: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := SelectImageSource(doc, tt.selector)
			if ok != tt.wantOK || got != tt.want {
				t.Fatalf("SelectImageSource(%q) = (%q, %v), want (%q, %v)", tt.selector, got, ok, tt.want, tt.wantOK)
			}
		})
	}
}

func TestImageFilename(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    string
		wantErr error
	}{
		{name: "absolute", input: "http://www.exocomics.com/wp-content/uploads/2018/06/strip.png", want: "strip.png"},
		{name: "relative", input: "imgs/new.jpg", want: "new.jpg"},
		{name: "query ignored", input: "https://cdn.example/a/b.gif?v=3#top", want: "b.gif"},
		{name: "escaped", input: "https://cdn.example/a/my%20comic.png", want: "my comic.png"},
		{name: "empty", input: "  ", wantErr: ErrEmptyImageURL},
		{name: "trailing slash", input: "https://cdn.example/comics/", wantErr: ErrNoFilename},
		{name: "host only", input: "https://cdn.example", wantErr: ErrNoFilename},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ImageFilename(tt.input)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("ImageFilename(%q) error = %v, want %v", tt.input, err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("ImageFilename(%q) unexpected error: %v", tt.input, err)
			}
			if got != tt.want {
				t.Errorf("ImageFilename(%q) = %q, want %q", tt.input, got, tt.want)
			}
		})
	}
}

func TestResolveImageURL(t *testing.T) {
	tests := []struct {
		name     string
		relative bool
		base     string
		raw      string
		page     string
		want     string
	}{
		{name: "relative with slash base", relative: true, base: "http://b.example/", raw: "imgs/new.jpg", want: "http://b.example/imgs/new.jpg"},
		{name: "relative without slash base", relative: true, base: "http://b.example", raw: "/imgs/new.jpg", want: "http://b.example/imgs/new.jpg"},
		{name: "absolute untouched", base: "http://a.example/", raw: "http://cdn.example/old.png", want: "http://cdn.example/old.png"},
		{name: "scheme relative", base: "https://a.example/", raw: "//cdn.example/x.png", want: "https://cdn.example/x.png"},
		{name: "root relative uses page", base: "http://a.example/", raw: "/x.png", page: "http://a.example/comic/12", want: "http://a.example/x.png"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			src := models.Source{Name: "c", BaseURL: tt.base, Selector: "img", RelativeImageURL: tt.relative}
			got, err := ResolveImageURL(src, tt.raw, tt.page)
			if err != nil {
				t.Fatalf("ResolveImageURL unexpected error: %v", err)
			}
			if got != tt.want {
				t.Fatalf("ResolveImageURL = %q, want %q", got, tt.want)
			}
		})
	}
}
