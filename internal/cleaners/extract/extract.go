// Package extract fetches article pages and pulls readable body text out of
// the HTML. Extraction is best effort: callers fall back to the feed
// description when it fails.
package extract

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"github.com/heimdall-asis/heimdall/internal/net/fetch"
)

// ErrExtraction wraps any failure to obtain body text from a URL.
var ErrExtraction = errors.New("body extraction failed")

// MaxBodyChars caps stored article bodies.
const MaxBodyChars = 5000

// Extractor fetches and scrapes article bodies.
type Extractor struct {
	client  *fetch.Client
	timeout time.Duration
}

// New builds an extractor over the shared HTTP client. timeout bounds each
// page fetch; zero means 10s.
func New(client *fetch.Client, timeout time.Duration) *Extractor {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Extractor{client: client, timeout: timeout}
}

// BodyText fetches pageURL and returns the cleaned article text, capped at
// MaxBodyChars.
func (e *Extractor) BodyText(ctx context.Context, pageURL string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	resp, err := e.client.Get(ctx, pageURL, nil)
	if err != nil {
		return "", fmt.Errorf("%w: fetch %s: %v", ErrExtraction, pageURL, err)
	}

	text, err := FromHTML(resp.Body)
	if err != nil {
		return "", fmt.Errorf("%w: %s: %v", ErrExtraction, pageURL, err)
	}
	if text == "" {
		return "", fmt.Errorf("%w: %s: no text content", ErrExtraction, pageURL)
	}
	return text, nil
}

// FromHTML extracts readable text from raw HTML. Chrome elements are
// stripped; an article or main region is preferred over the whole page.
func FromHTML(html []byte) (string, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(html))
	if err != nil {
		return "", err
	}

	doc.Find("script, style, nav, header, footer, aside, form, noscript, iframe").Remove()

	root := doc.Selection
	for _, sel := range []string{"article", "main", "[role=main]"} {
		if region := doc.Find(sel); region.Length() > 0 {
			root = region.First()
			break
		}
	}

	var parts []string
	root.Find("p").Each(func(_ int, p *goquery.Selection) {
		if t := strings.TrimSpace(p.Text()); t != "" {
			parts = append(parts, t)
		}
	})
	text := strings.Join(parts, "\n\n")
	if text == "" {
		text = root.Text()
	}

	text = collapseWhitespace(text)
	if runes := []rune(text); len(runes) > MaxBodyChars {
		text = string(runes[:MaxBodyChars])
	}
	return text, nil
}

func collapseWhitespace(s string) string {
	lines := strings.Split(s, "\n")
	out := make([]string, 0, len(lines))
	for _, line := range lines {
		line = strings.Join(strings.Fields(line), " ")
		if line != "" {
			out = append(out, line)
		}
	}
	return strings.Join(out, "\n")
}
