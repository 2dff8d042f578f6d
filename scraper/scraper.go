package scraper

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/go-resty/resty/v2"
	"github.com/gocolly/colly/v2"
	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/aluiziolira/go-comic-fetcher/config"
	"github.com/aluiziolira/go-comic-fetcher/models"
	"github.com/aluiziolira/go-comic-fetcher/parser"
)

const downloadCacheSize = 256

// Scraper checks comic sources and downloads new strips. It is safe for
// concurrent use; each Check runs on its own collector clone.
type Scraper struct {
	cfg       *config.Config
	collector *colly.Collector
	client    *resty.Client
	Metrics   *Metrics

	// mu orders renames into the run directory with updates to downloaded,
	// which maps a target path to the image URL last written there.
	mu         sync.Mutex
	downloaded *lru.Cache[string, string]
}

// NewScraper builds a scraper instance configured from cfg.
func NewScraper(cfg *config.Config) (*Scraper, error) {
	collector := colly.NewCollector(
		colly.UserAgent(cfg.UserAgent),
		colly.AllowURLRevisit(),
	)
	collector.SetRequestTimeout(cfg.Timeout)
	collector.IgnoreRobotsTxt = true

	transport := &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   cfg.Timeout,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		MaxIdleConns:        100,
		IdleConnTimeout:     90 * time.Second,
		TLSHandshakeTimeout: 10 * time.Second,
	}
	collector.WithTransport(transport)

	client := resty.New().
		SetTimeout(cfg.Timeout).
		SetHeader("User-Agent", cfg.UserAgent).
		SetTransport(transport)

	cache, err := lru.New[string, string](downloadCacheSize)
	if err != nil {
		return nil, fmt.Errorf("create download cache: %w", err)
	}

	return &Scraper{
		cfg:        cfg,
		collector:  collector,
		client:     client,
		downloaded: cache,
		Metrics:    NewMetrics(),
	}, nil
}

// WithTransport replaces the HTTP transport used for pages and images.
func (s *Scraper) WithTransport(rt http.RoundTripper) {
	s.collector.WithTransport(rt)
	s.client.SetTransport(rt)
}

// Check fetches src, compares its latest image against prior and downloads
// it into dir when it changed. Failures are reported in the outcome, never
// returned.
func (s *Scraper) Check(ctx context.Context, src models.Source, prior, dir string) models.Outcome {
	start := time.Now()
	out := models.Outcome{Source: src.Name, CheckedAt: start}
	logger := slog.With(slog.String("comic", src.Name))

	finish := func(status models.Status, err error) models.Outcome {
		out.Status = status
		out.Duration = time.Since(start)
		if err != nil {
			out.Err = err
			out.ErrorType = errorTypeLabel(err)
		}
		s.Metrics.ObserveOutcome(out)
		return out
	}

	if err := ctx.Err(); err != nil {
		return finish(models.StatusFailed, err)
	}

	raw, pageURL, found, err := s.fetchPage(src)
	if err != nil {
		logger.Error("fetch comic page failed",
			slog.String("url", src.BaseURL),
			slog.String("category", errorTypeLabel(err)),
			slog.Any("error", err),
		)
		return finish(models.StatusFailed, err)
	}
	if !found {
		logger.Warn("could not find current comic", slog.String("selector", src.Selector))
		return finish(models.StatusNotFound, nil)
	}

	filename, err := parser.ImageFilename(raw)
	if err != nil {
		err = ErrInvalidImage{Err: err}
		logger.Error("unusable image source", slog.String("src", raw), slog.Any("error", err))
		return finish(models.StatusFailed, err)
	}
	out.Filename = filename

	if src.CheckForUpdate && prior == filename {
		logger.Info("no updates", slog.String("filename", filename))
		return finish(models.StatusUnchanged, nil)
	}

	imageURL, err := parser.ResolveImageURL(src, raw, pageURL)
	if err != nil {
		err = ErrInvalidImage{Err: err}
		logger.Error("resolve image url failed", slog.String("src", raw), slog.Any("error", err))
		return finish(models.StatusFailed, err)
	}
	out.ImageURL = imageURL
	target := filepath.Join(dir, filename)

	logger.Info("downloading latest comic", slog.String("url", imageURL))
	n, err := s.fetchImage(ctx, imageURL, target)
	if err != nil {
		logger.Error("download comic failed",
			slog.String("url", imageURL),
			slog.String("category", errorTypeLabel(err)),
			slog.Any("error", err),
		)
		return finish(models.StatusFailed, err)
	}

	out.Path = target
	out.Bytes = n
	logger.Debug("comic saved", slog.String("path", target), slog.Int64("bytes", n))
	return finish(models.StatusDownloaded, nil)
}

// fetchPage visits the source page and returns the src of the first element
// matching the source selector.
func (s *Scraper) fetchPage(src models.Source) (raw, pageURL string, found bool, err error) {
	c := s.collector.Clone()

	var (
		status   int
		parseErr error
	)

	c.OnRequest(func(r *colly.Request) {
		r.Ctx.Put("start", time.Now())
		s.Metrics.IncRequest("page")
	})

	c.OnResponse(func(r *colly.Response) {
		if start, ok := r.Ctx.GetAny("start").(time.Time); ok {
			s.Metrics.ObserveDuration("page", time.Since(start))
		}
		pageURL = r.Request.URL.String()

		doc, err := goquery.NewDocumentFromReader(bytes.NewReader(r.Body))
		if err != nil {
			parseErr = fmt.Errorf("parse page: %w", err)
			return
		}
		raw, found = parser.SelectImageSource(doc, src.Selector)
	})

	c.OnError(func(r *colly.Response, _ error) {
		if r != nil {
			status = r.StatusCode
		}
	})

	if err := c.Visit(src.BaseURL); err != nil {
		return "", "", false, classifyError(err, status, src.BaseURL)
	}
	if parseErr != nil {
		return "", "", false, parseErr
	}
	return raw, pageURL, found, nil
}

// fetchImage downloads imageURL into target. The download is skipped only
// when target was last written from the same URL during this run, so two
// different images sharing a filename still resolve to the last one fetched.
func (s *Scraper) fetchImage(ctx context.Context, imageURL, target string) (int64, error) {
	s.mu.Lock()
	if cached, ok := s.downloaded.Get(target); ok && cached == imageURL {
		if info, err := os.Stat(target); err == nil {
			s.mu.Unlock()
			s.Metrics.IncDeduped()
			return info.Size(), nil
		}
	}
	s.mu.Unlock()

	tmp, n, err := s.download(ctx, imageURL, target)
	if err != nil {
		return 0, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := os.Rename(tmp, target); err != nil {
		os.Remove(tmp)
		return 0, classifyError(fmt.Errorf("save image file: %w", err), 0, imageURL)
	}
	s.downloaded.Add(target, imageURL)
	return n, nil
}

// download streams the image body into a temp file beside target and returns
// its name. The caller renames it into place, so concurrent writers of one
// filename never interleave.
func (s *Scraper) download(ctx context.Context, imageURL, target string) (string, int64, error) {
	start := time.Now()
	s.Metrics.IncRequest("image")

	resp, err := s.client.R().
		SetContext(ctx).
		SetDoNotParseResponse(true).
		Get(imageURL)
	if err != nil {
		return "", 0, classifyError(err, 0, imageURL)
	}
	body := resp.RawBody()
	if body == nil {
		return "", 0, fmt.Errorf("empty response for %s", imageURL)
	}
	defer body.Close()

	if !resp.IsSuccess() {
		return "", 0, classifyError(nil, resp.StatusCode(), imageURL)
	}

	tmp, err := os.CreateTemp(filepath.Dir(target), "."+filepath.Base(target)+".part-*")
	if err != nil {
		return "", 0, fmt.Errorf("create image file: %w", err)
	}

	var r io.Reader = body
	if limit := s.cfg.MaxImageBytes; limit > 0 {
		r = io.LimitReader(body, limit+1)
	}

	n, err := io.Copy(tmp, r)
	if err == nil && s.cfg.MaxImageBytes > 0 && n > s.cfg.MaxImageBytes {
		err = fmt.Errorf("%w: %s", ErrImageTooLarge, imageURL)
	}
	if closeErr := tmp.Close(); err == nil && closeErr != nil {
		err = fmt.Errorf("close image file: %w", closeErr)
	}
	if err == nil {
		if chmodErr := os.Chmod(tmp.Name(), 0o644); chmodErr != nil {
			err = fmt.Errorf("chmod image file: %w", chmodErr)
		}
	}
	if err != nil {
		os.Remove(tmp.Name())
		return "", 0, classifyError(err, 0, imageURL)
	}

	s.Metrics.ObserveDuration("image", time.Since(start))
	return tmp.Name(), n, nil
}
