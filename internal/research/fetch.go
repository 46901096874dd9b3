package research

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	htmltomarkdown "github.com/JohannesKaufmann/html-to-markdown/v2"
)

// maxSourceChars caps a fetched page after markdown conversion. Anything
// longer is cut before upload so one page cannot dominate the vector store.
const maxSourceChars = 50000

// Fetcher turns a web page into a markdown source document ready for
// staging.
type Fetcher struct {
	client *http.Client
}

// NewFetcher creates a Fetcher with a 30-second request timeout.
func NewFetcher() *Fetcher {
	return &Fetcher{
		client: &http.Client{Timeout: 30 * time.Second},
	}
}

// Fetch downloads rawURL, converts the HTML to markdown, and truncates it to
// the source size cap. It returns a filesystem-safe document name derived
// from the URL along with the markdown body.
func (f *Fetcher) Fetch(ctx context.Context, rawURL string) (name, markdown string, err error) {
	parsed, err := url.Parse(rawURL)
	if err != nil || (parsed.Scheme != "http" && parsed.Scheme != "https") {
		return "", "", fmt.Errorf("not a fetchable URL: %s", rawURL)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return "", "", fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("User-Agent", "Deepscout/1.0")

	resp, err := f.client.Do(req)
	if err != nil {
		return "", "", fmt.Errorf("fetch URL: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", "", fmt.Errorf("HTTP error: status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", "", fmt.Errorf("read body: %w", err)
	}

	md, err := htmltomarkdown.ConvertString(string(body))
	if err != nil {
		return "", "", fmt.Errorf("convert to markdown: %w", err)
	}

	if len(md) > maxSourceChars {
		md = md[:maxSourceChars] + "\n\n[Content truncated]"
	}

	return sourceName(parsed), md, nil
}

// sourceName builds a flat markdown filename from a URL, e.g.
// https://example.com/reports/q3 -> example.com-reports-q3.md.
func sourceName(u *url.URL) string {
	name := u.Host + u.Path
	name = strings.Trim(name, "/")
	replacer := strings.NewReplacer("/", "-", ":", "-", "?", "-", "&", "-", "#", "-", "=", "-", " ", "-")
	name = replacer.Replace(name)
	if name == "" {
		name = "page"
	}
	const maxNameLen = 120
	if len(name) > maxNameLen {
		name = name[:maxNameLen]
	}
	return name + ".md"
}

// IsURLOnly reports whether text is a single bare http(s) URL, used by the
// chat surfaces to stage link-only messages as sources instead of treating
// them as conversation turns.
func IsURLOnly(text string) bool {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" || strings.ContainsAny(trimmed, " \t\n") {
		return false
	}
	u, err := url.Parse(trimmed)
	if err != nil {
		return false
	}
	return (u.Scheme == "http" || u.Scheme == "https") && u.Host != ""
}
