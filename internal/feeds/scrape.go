package feeds

import (
	"bytes"
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	readability "codeberg.org/readeck/go-readability/v2"
	"github.com/PuerkitoBio/goquery"
)

const htmlAccept = "text/html,application/xhtml+xml,text/plain;q=0.9,*/*;q=0.8"

type scrapeSource struct {
	def  Definition
	opts FetchOptions
}

func (s *scrapeSource) Slug() string { return s.def.Slug }

// Fetch scrapes the listing page: every node matched by the item selector
// yields one candidate, with title, link and optional timestamp pulled out
// by the remaining selectors. Relative links resolve against the page URL.
func (s *scrapeSource) Fetch(ctx context.Context) ([]Item, error) {
	body, err := fetchBody(ctx, s.def.Href, htmlAccept, s.opts)
	if err != nil {
		return nil, fmt.Errorf("feed %q: %w", s.def.Slug, err)
	}

	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("feed %q: parse listing html: %w", s.def.Slug, err)
	}

	base, err := url.Parse(s.def.Href)
	if err != nil {
		return nil, fmt.Errorf("feed %q: parse base url: %w", s.def.Slug, err)
	}

	selectors := s.def.Selectors

	var items []Item
	doc.Find(selectors.Item).Each(func(_ int, node *goquery.Selection) {
		title := CleanText(node.Find(selectors.Title).First().Text())
		href := pickScrapedLink(node, selectors, base)
		if title == "" || href == "" {
			return
		}

		items = append(items, Item{
			Title:       title,
			Href:        href,
			PublishedAt: pickScrapedTime(node, selectors),
			Lang:        s.def.Lang,
		})
	})

	if len(items) == 0 {
		return nil, fmt.Errorf("feed %q: selectors matched no items", s.def.Slug)
	}
	return items, nil
}

func pickScrapedLink(node *goquery.Selection, selectors *Selectors, base *url.URL) string {
	target := node
	if selectors.Link != "" {
		target = node.Find(selectors.Link).First()
	}

	raw, ok := target.Attr("href")
	if !ok {
		raw, ok = target.Find("a[href]").First().Attr("href")
	}
	if !ok {
		return ""
	}

	parsed, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return ""
	}
	return base.ResolveReference(parsed).String()
}

func pickScrapedTime(node *goquery.Selection, selectors *Selectors) time.Time {
	if selectors.Time == "" {
		return time.Time{}
	}

	target := node.Find(selectors.Time).First()
	if raw, ok := target.Attr("datetime"); ok {
		return parseFeedTime(raw)
	}
	return parseFeedTime(target.Text())
}

// ReadArticleText fetches an article page and extracts its readable body
// text. Scraped listings rarely carry a summary, so this backfills the
// description facet for them.
func ReadArticleText(ctx context.Context, href string, opts FetchOptions) (string, error) {
	body, err := fetchBody(ctx, href, htmlAccept, opts)
	if err != nil {
		return "", err
	}

	pageURL, err := url.Parse(href)
	if err != nil {
		return "", fmt.Errorf("parse article url: %w", err)
	}

	article, err := readability.FromReader(bytes.NewReader(body), pageURL)
	if err != nil {
		return "", fmt.Errorf("readability parse: %w", err)
	}

	var renderedText bytes.Buffer
	if err := article.RenderText(&renderedText); err != nil {
		return "", fmt.Errorf("render readability text: %w", err)
	}

	text := CleanText(renderedText.String())
	if text == "" {
		text = CleanText(article.Excerpt())
	}
	if text == "" {
		return "", fmt.Errorf("reader extracted empty content")
	}
	return text, nil
}
