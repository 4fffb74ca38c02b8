package feeds

import (
	"context"
	"encoding/xml"
	"fmt"
	"strings"
	"time"
)

const rssAccept = "application/rss+xml,application/atom+xml,application/xml;q=0.9,text/xml;q=0.8,*/*;q=0.5"

type rssSource struct {
	def  Definition
	opts FetchOptions
}

func (s *rssSource) Slug() string { return s.def.Slug }

func (s *rssSource) Fetch(ctx context.Context) ([]Item, error) {
	body, err := fetchBody(ctx, s.def.Href, rssAccept, s.opts)
	if err != nil {
		return nil, fmt.Errorf("feed %q: %w", s.def.Slug, err)
	}

	items, err := parseFeedXML(body)
	if err != nil {
		return nil, fmt.Errorf("feed %q: %w", s.def.Slug, err)
	}

	for i := range items {
		if items[i].Lang == "" {
			items[i].Lang = s.def.Lang
		}
	}
	return items, nil
}

// feedDocument accepts both RSS 2.0 (<rss><channel><item>) and Atom
// (<feed><entry>) payloads; exactly one of the two shapes populates.
type feedDocument struct {
	Channel *rssChannel `xml:"channel"`
	Entries []atomEntry `xml:"entry"`
}

type rssChannel struct {
	Language string    `xml:"language"`
	Items    []rssItem `xml:"item"`
}

type rssItem struct {
	Title       string `xml:"title"`
	Link        string `xml:"link"`
	Description string `xml:"description"`
	PubDate     string `xml:"pubDate"`
	Date        string `xml:"date"`
}

type atomEntry struct {
	Title     string     `xml:"title"`
	Links     []atomLink `xml:"link"`
	Summary   string     `xml:"summary"`
	Published string     `xml:"published"`
	Updated   string     `xml:"updated"`
}

type atomLink struct {
	Rel  string `xml:"rel,attr"`
	Href string `xml:"href,attr"`
}

func parseFeedXML(body []byte) ([]Item, error) {
	var doc feedDocument
	if err := xml.Unmarshal(body, &doc); err != nil {
		return nil, fmt.Errorf("parse feed xml: %w", err)
	}

	if doc.Channel != nil {
		return parseRSSItems(doc.Channel), nil
	}
	if len(doc.Entries) > 0 {
		return parseAtomEntries(doc.Entries), nil
	}
	return nil, fmt.Errorf("feed xml carries neither rss items nor atom entries")
}

func parseRSSItems(channel *rssChannel) []Item {
	lang := normalizeFeedLang(channel.Language)

	items := make([]Item, 0, len(channel.Items))
	for _, raw := range channel.Items {
		title := CleanText(raw.Title)
		href := strings.TrimSpace(raw.Link)
		if title == "" || href == "" {
			continue
		}

		published := raw.PubDate
		if strings.TrimSpace(published) == "" {
			published = raw.Date
		}

		items = append(items, Item{
			Title:       title,
			Description: CleanText(raw.Description),
			Href:        href,
			PublishedAt: parseFeedTime(published),
			Lang:        lang,
		})
	}
	return items
}

func parseAtomEntries(entries []atomEntry) []Item {
	items := make([]Item, 0, len(entries))
	for _, raw := range entries {
		title := CleanText(raw.Title)
		href := pickAtomLink(raw.Links)
		if title == "" || href == "" {
			continue
		}

		published := raw.Published
		if strings.TrimSpace(published) == "" {
			published = raw.Updated
		}

		items = append(items, Item{
			Title:       title,
			Description: CleanText(raw.Summary),
			Href:        href,
			PublishedAt: parseFeedTime(published),
		})
	}
	return items
}

func pickAtomLink(links []atomLink) string {
	for _, link := range links {
		if link.Rel == "" || link.Rel == "alternate" {
			return strings.TrimSpace(link.Href)
		}
	}
	if len(links) > 0 {
		return strings.TrimSpace(links[0].Href)
	}
	return ""
}

var feedTimeLayouts = []string{
	time.RFC1123Z,
	time.RFC1123,
	time.RFC3339,
	time.RFC822Z,
	time.RFC822,
	"2006-01-02T15:04:05Z0700",
	"2006-01-02 15:04:05",
}

// parseFeedTime tries the date layouts seen in the wild; a zero time means
// the feed gave no usable timestamp and the crawl time applies instead.
func parseFeedTime(raw string) time.Time {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return time.Time{}
	}
	for _, layout := range feedTimeLayouts {
		if t, err := time.Parse(layout, trimmed); err == nil {
			return t.UTC()
		}
	}
	return time.Time{}
}

func normalizeFeedLang(raw string) string {
	lang := strings.ToLower(strings.TrimSpace(raw))
	if len(lang) >= 2 {
		return lang[:2]
	}
	return ""
}
