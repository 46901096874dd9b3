package research

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestFetcherConvertsHTML(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		w.Write([]byte("<html><body><h1>Quarterly Report</h1><p>Revenue grew.</p></body></html>"))
	}))
	defer server.Close()

	f := NewFetcher()
	name, md, err := f.Fetch(context.Background(), server.URL+"/reports/q3")
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(md, "Quarterly Report") {
		t.Errorf("markdown missing heading: %q", md)
	}
	if !strings.Contains(md, "Revenue grew.") {
		t.Errorf("markdown missing body: %q", md)
	}
	if !strings.HasSuffix(name, "-reports-q3.md") {
		t.Errorf("unexpected source name %q", name)
	}
}

func TestFetcherTruncatesLongPages(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("<p>" + strings.Repeat("lengthy paragraph text ", 5000) + "</p>"))
	}))
	defer server.Close()

	f := NewFetcher()
	_, md, err := f.Fetch(context.Background(), server.URL)
	if err != nil {
		t.Fatal(err)
	}
	if len(md) > maxSourceChars+100 {
		t.Errorf("markdown length = %d, want truncated near %d", len(md), maxSourceChars)
	}
	if !strings.HasSuffix(md, "[Content truncated]") {
		t.Error("missing truncation marker")
	}
}

func TestFetcherRejectsNonHTTP(t *testing.T) {
	f := NewFetcher()
	if _, _, err := f.Fetch(context.Background(), "ftp://example.com/file"); err == nil {
		t.Error("expected error for ftp URL")
	}
	if _, _, err := f.Fetch(context.Background(), "not a url"); err == nil {
		t.Error("expected error for junk input")
	}
}

func TestFetcherHTTPError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "gone", http.StatusNotFound)
	}))
	defer server.Close()

	f := NewFetcher()
	if _, _, err := f.Fetch(context.Background(), server.URL); err == nil {
		t.Error("expected error for 404 response")
	}
}

func TestIsURLOnly(t *testing.T) {
	cases := []struct {
		text string
		want bool
	}{
		{"https://example.com/article", true},
		{"  https://example.com  ", true},
		{"http://example.com", true},
		{"read this: https://example.com", false},
		{"https://example.com and more words", false},
		{"ftp://example.com", false},
		{"just words", false},
		{"", false},
	}
	for _, tc := range cases {
		if got := IsURLOnly(tc.text); got != tc.want {
			t.Errorf("IsURLOnly(%q) = %v, want %v", tc.text, got, tc.want)
		}
	}
}
