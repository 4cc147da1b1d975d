// Package fetcher retrieves article pages and reduces them to readable markdown text.
package fetcher

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"regexp"
	"strings"
	"time"
	"unicode/utf8"

	md "github.com/JohannesKaufmann/html-to-markdown"
	"github.com/PuerkitoBio/goquery"
)

var (
	ErrUnsupportedContent = errors.New("unsupported content type")
	ErrEmptyContent       = errors.New("no readable content")
)

// noise is removed before conversion.
const noise = "script, style, noscript, iframe, svg, nav, header, footer, aside, form, button"

var blankLines = regexp.MustCompile(`\n{3,}`)

type Config struct {
	Timeout         time.Duration
	MaxBodyBytes    int64
	MaxContentChars int
	UserAgent       string
}

type Fetcher struct {
	client          *http.Client
	converter       *md.Converter
	maxBodyBytes    int64
	maxContentChars int
	userAgent       string
	logger          *slog.Logger
}

func New(cfg Config, logger *slog.Logger) *Fetcher {
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = 2 << 20
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = "NewsEnricher/1.0"
	}

	return &Fetcher{
		client:          &http.Client{Timeout: cfg.Timeout},
		converter:       md.NewConverter("", true, nil),
		maxBodyBytes:    cfg.MaxBodyBytes,
		maxContentChars: cfg.MaxContentChars,
		userAgent:       cfg.UserAgent,
		logger:          logger.With("component", "fetcher"),
	}
}

// Fetch downloads url and returns its main content as markdown, truncated to the configured
// number of characters.
func (f *Fetcher) Fetch(ctx context.Context, url string) (string, error) {
	doc, err := f.fetchDocument(ctx, url)
	if err != nil {
		return "", err
	}

	text := f.extract(doc)
	if text == "" {
		return "", fmt.Errorf("%s: %w", url, ErrEmptyContent)
	}

	f.logger.Debug("fetched content", "url", url, "chars", utf8.RuneCountInString(text))
	return text, nil
}

func (f *Fetcher) fetchDocument(ctx context.Context, url string) (*goquery.Document, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("User-Agent", f.userAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml")

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request document: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetch %s: unexpected status: %s", url, resp.Status)
	}

	if ct := resp.Header.Get("Content-Type"); ct != "" {
		mediaType, _, err := mime.ParseMediaType(ct)
		if err != nil || (mediaType != "text/html" && mediaType != "application/xhtml+xml") {
			return nil, fmt.Errorf("%s (%s): %w", url, ct, ErrUnsupportedContent)
		}
	}

	doc, err := goquery.NewDocumentFromReader(io.LimitReader(resp.Body, f.maxBodyBytes))
	if err != nil {
		return nil, fmt.Errorf("parse document: %w", err)
	}

	return doc, nil
}

func (f *Fetcher) extract(doc *goquery.Document) string {
	doc.Find(noise).Remove()

	root := doc.Find("article").First()
	if root.Length() == 0 {
		root = doc.Find("main").First()
	}
	if root.Length() == 0 {
		root = doc.Find("body")
	}

	text := strings.TrimSpace(f.converter.Convert(root))
	text = blankLines.ReplaceAllString(text, "\n\n")
	return truncate(text, f.maxContentChars)
}

func truncate(s string, limit int) string {
	if limit <= 0 || utf8.RuneCountInString(s) <= limit {
		return s
	}
	runes := []rune(s)
	return strings.TrimSpace(string(runes[:limit])) + "..."
}
