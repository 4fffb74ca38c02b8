package feeds

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

const rssFixture = `<?xml version="1.0" encoding="UTF-8"?>
<rss version="2.0">
  <channel>
    <title>SVT Nyheter</title>
    <language>sv-SE</language>
    <item>
      <title>Regeringen presenterar  ny budget</title>
      <link>https://www.svt.se/nyheter/budget</link>
      <description>Finansministern lade fram budgeten.</description>
      <pubDate>Mon, 02 Mar 2026 08:30:00 +0100</pubDate>
    </item>
    <item>
      <title>SMHI varnar för snöfall</title>
      <link>https://www.svt.se/nyheter/snofall</link>
      <pubDate>not a date</pubDate>
    </item>
    <item>
      <title></title>
      <link>https://www.svt.se/nyheter/tom</link>
    </item>
  </channel>
</rss>`

const atomFixture = `<?xml version="1.0" encoding="utf-8"?>
<feed xmlns="http://www.w3.org/2005/Atom">
  <title>Nyhetsflöde</title>
  <entry>
    <title>Tågstopp i Stockholm</title>
    <link rel="alternate" href="https://example.se/tagstopp"/>
    <summary>Signalfel stoppade trafiken.</summary>
    <published>2026-03-02T09:15:00Z</published>
  </entry>
</feed>`

func TestParseRSS(t *testing.T) {
	t.Parallel()

	items, err := parseFeedXML([]byte(rssFixture))
	if err != nil {
		t.Fatal(err)
	}
	if len(items) != 2 {
		t.Fatalf("got %d items, want 2 (titleless item dropped)", len(items))
	}

	first := items[0]
	if first.Title != "Regeringen presenterar ny budget" {
		t.Errorf("title = %q", first.Title)
	}
	if first.Href != "https://www.svt.se/nyheter/budget" {
		t.Errorf("href = %q", first.Href)
	}
	if first.Lang != "sv" {
		t.Errorf("lang = %q", first.Lang)
	}
	want := time.Date(2026, time.March, 2, 7, 30, 0, 0, time.UTC)
	if !first.PublishedAt.Equal(want) {
		t.Errorf("published = %v, want %v", first.PublishedAt, want)
	}

	if !items[1].PublishedAt.IsZero() {
		t.Errorf("unparseable date should yield zero time, got %v", items[1].PublishedAt)
	}
}

func TestParseAtom(t *testing.T) {
	t.Parallel()

	items, err := parseFeedXML([]byte(atomFixture))
	if err != nil {
		t.Fatal(err)
	}
	if len(items) != 1 {
		t.Fatalf("got %d items, want 1", len(items))
	}
	if items[0].Href != "https://example.se/tagstopp" {
		t.Errorf("href = %q", items[0].Href)
	}
	if items[0].Description != "Signalfel stoppade trafiken." {
		t.Errorf("description = %q", items[0].Description)
	}
}

func TestParseFeedXMLRejectsUnknownShape(t *testing.T) {
	t.Parallel()

	if _, err := parseFeedXML([]byte(`<html><body>inte xml-flöde</body></html>`)); err == nil {
		t.Fatal("expected an error for a non-feed document")
	}
}

func TestRSSSourceFetch(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if ua := r.Header.Get("User-Agent"); !strings.Contains(ua, "svergie-crawler") {
			t.Errorf("user agent = %q", ua)
		}
		w.Header().Set("Content-Type", "application/rss+xml")
		_, _ = w.Write([]byte(rssFixture))
	}))
	defer server.Close()

	source, err := NewSource(Definition{
		Slug:    "svt",
		Title:   "SVT Nyheter",
		Href:    server.URL,
		Variant: VariantRSS,
	}, FetchOptions{HTTPClient: server.Client()})
	if err != nil {
		t.Fatal(err)
	}

	items, err := source.Fetch(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if len(items) != 2 {
		t.Fatalf("got %d items, want 2", len(items))
	}
}

const listingFixture = `<!DOCTYPE html>
<html lang="sv">
<body>
  <ul class="teasers">
    <li class="teaser">
      <a href="/nyheter/budget"><h2>Regeringen presenterar ny budget</h2></a>
      <time datetime="2026-03-02T08:30:00+01:00">08:30</time>
    </li>
    <li class="teaser">
      <a href="https://example.se/nyheter/snofall"><h2>SMHI varnar för snöfall</h2></a>
    </li>
    <li class="teaser">
      <span>Ingen länk här</span>
    </li>
  </ul>
</body>
</html>`

func TestScrapeSourceFetch(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		_, _ = w.Write([]byte(listingFixture))
	}))
	defer server.Close()

	source, err := NewSource(Definition{
		Slug:    "example-se",
		Title:   "Example",
		Href:    server.URL + "/senaste",
		Variant: VariantScrape,
		Lang:    "sv",
		Selectors: &Selectors{
			Item:  "li.teaser",
			Title: "h2",
			Link:  "a",
			Time:  "time",
		},
	}, FetchOptions{HTTPClient: server.Client()})
	if err != nil {
		t.Fatal(err)
	}

	items, err := source.Fetch(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if len(items) != 2 {
		t.Fatalf("got %d items, want 2 (linkless teaser dropped)", len(items))
	}

	if items[0].Href != server.URL+"/nyheter/budget" {
		t.Errorf("relative link resolved to %q", items[0].Href)
	}
	want := time.Date(2026, time.March, 2, 7, 30, 0, 0, time.UTC)
	if !items[0].PublishedAt.Equal(want) {
		t.Errorf("published = %v, want %v", items[0].PublishedAt, want)
	}
	if items[1].Href != "https://example.se/nyheter/snofall" {
		t.Errorf("absolute link mangled to %q", items[1].Href)
	}
	if items[0].Lang != "sv" {
		t.Errorf("lang = %q", items[0].Lang)
	}
}

func TestParseCatalog(t *testing.T) {
	t.Parallel()

	catalog, err := ParseCatalog([]byte(`{
		"feeds": [
			{"slug": "svt-nyheter", "title": "SVT Nyheter", "href": "https://www.svt.se/rss.xml", "variant": "rss", "lang": "sv"},
			{"slug": "example-senaste", "title": "Example", "href": "https://example.se/senaste", "variant": "scrape",
			 "selectors": {"item": "li.teaser", "title": "h2", "link": "a"}}
		]
	}`))
	if err != nil {
		t.Fatal(err)
	}
	if len(catalog.Feeds) != 2 {
		t.Fatalf("got %d feeds, want 2", len(catalog.Feeds))
	}
	if !catalog.Feeds[0].IsEnabled() {
		t.Error("enabled should default to true")
	}
}

func TestParseCatalogRejectsBadInput(t *testing.T) {
	t.Parallel()

	cases := map[string]string{
		"empty feeds":              `{"feeds": []}`,
		"missing variant":          `{"feeds": [{"slug": "a", "title": "A", "href": "https://a.se"}]}`,
		"unknown variant":          `{"feeds": [{"slug": "a", "title": "A", "href": "https://a.se", "variant": "gopher"}]}`,
		"scrape without selectors": `{"feeds": [{"slug": "a", "title": "A", "href": "https://a.se", "variant": "scrape"}]}`,
		"uppercase slug":           `{"feeds": [{"slug": "Aftonbladet", "title": "A", "href": "https://a.se", "variant": "rss"}]}`,
		"duplicate slug":           `{"feeds": [{"slug": "a", "title": "A", "href": "https://a.se", "variant": "rss"}, {"slug": "a", "title": "B", "href": "https://b.se", "variant": "rss"}]}`,
		"trailing content":         `{"feeds": [{"slug": "a", "title": "A", "href": "https://a.se", "variant": "rss"}]} extra`,
	}
	for name, raw := range cases {
		if _, err := ParseCatalog([]byte(raw)); err == nil {
			t.Errorf("%s: expected an error", name)
		}
	}
}
