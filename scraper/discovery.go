package scraper

import (
	"context"
	"fmt"
	"log"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/antchfx/xmlquery"
	"studenthome_ingest/config"
	"studenthome_ingest/identity"
)

const maxSitemapDepth = 3

// PaceFunc blocks until a request to rawURL is allowed
type PaceFunc func(ctx context.Context, rawURL string) error

// Discoverer gathers listing URLs from sitemaps and location or university
// index pages
type Discoverer struct {
	fetcher Fetcher
	pace    PaceFunc
}

func NewDiscoverer(fetcher Fetcher, pace PaceFunc) *Discoverer {
	if pace == nil {
		pace = func(context.Context, string) error { return nil }
	}
	return &Discoverer{fetcher: fetcher, pace: pace}
}

// Discover returns the unique listing URLs for a provider, sitemap entries
// first. Unreachable sources are logged and skipped.
func (d *Discoverer) Discover(ctx context.Context, provider *config.ProviderConfig) []string {
	disc := provider.Discovery

	var pattern *regexp.Regexp
	if disc.ListingPattern != "" {
		var err error
		if pattern, err = regexp.Compile(disc.ListingPattern); err != nil {
			log.Printf("Warning: %s listing_pattern %q: %v", provider.ID, disc.ListingPattern, err)
		}
	}

	var fromSitemaps []string
	for _, sm := range disc.Sitemaps {
		fromSitemaps = append(fromSitemaps, d.walkSitemap(ctx, sm, 0)...)
	}
	fromSitemaps = filterURLs(fromSitemaps, pattern)

	var fromIndexes []string
	for _, page := range disc.IndexPages {
		if ctx.Err() != nil {
			break
		}
		fetched, err := d.fetch(ctx, page)
		if err != nil {
			log.Printf("Warning: index page %s: %v", page, err)
			continue
		}
		fromIndexes = append(fromIndexes, ListingLinks(fetched, page, disc.LinkSelector, pattern)...)
	}

	urls := identity.DedupeURLs(fromSitemaps, fromIndexes)
	if disc.MaxURLs > 0 && len(urls) > disc.MaxURLs {
		urls = urls[:disc.MaxURLs]
	}
	log.Printf("Discovery: %s found %d listing URLs (%d sitemap, %d index)", provider.ID, len(urls), len(fromSitemaps), len(fromIndexes))
	return urls
}

func (d *Discoverer) fetch(ctx context.Context, rawURL string) (string, error) {
	if err := d.pace(ctx, rawURL); err != nil {
		return "", err
	}
	page, err := d.fetcher.Fetch(ctx, rawURL)
	if err != nil {
		return "", err
	}
	return page.HTML, nil
}

func (d *Discoverer) walkSitemap(ctx context.Context, sitemapURL string, depth int) []string {
	if depth > maxSitemapDepth || ctx.Err() != nil {
		return nil
	}
	body, err := d.fetch(ctx, sitemapURL)
	if err != nil {
		log.Printf("Warning: sitemap %s: %v", sitemapURL, err)
		return nil
	}
	pages, children, err := ParseSitemap(body)
	if err != nil {
		log.Printf("Warning: sitemap %s: %v", sitemapURL, err)
		return nil
	}
	for _, child := range children {
		pages = append(pages, d.walkSitemap(ctx, child, depth+1)...)
	}
	return pages
}

// ParseSitemap reads a urlset or a sitemap index. Page URLs and child
// sitemap URLs come back separately.
func ParseSitemap(body string) (pages, children []string, err error) {
	doc, err := xmlquery.Parse(strings.NewReader(body))
	if err != nil {
		return nil, nil, fmt.Errorf("parse sitemap: %w", err)
	}
	xmlquery.FindEach(doc, "//*[local-name()='url']/*[local-name()='loc']", func(_ int, n *xmlquery.Node) {
		if loc := strings.TrimSpace(n.InnerText()); loc != "" {
			pages = append(pages, loc)
		}
	})
	xmlquery.FindEach(doc, "//*[local-name()='sitemap']/*[local-name()='loc']", func(_ int, n *xmlquery.Node) {
		if loc := strings.TrimSpace(n.InnerText()); loc != "" {
			children = append(children, loc)
		}
	})
	return pages, children, nil
}

// ListingLinks returns the absolute hrefs matched by selector, kept only if
// they match pattern
func ListingLinks(html, pageURL, selector string, pattern *regexp.Regexp) []string {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil
	}
	if selector == "" {
		selector = "a[href]"
	}
	var links []string
	doc.Find(selector).Each(func(_ int, a *goquery.Selection) {
		href, ok := a.Attr("href")
		if !ok || strings.HasPrefix(href, "#") || strings.HasPrefix(href, "javascript:") {
			return
		}
		links = append(links, resolveURL(pageURL, href))
	})
	return filterURLs(links, pattern)
}

func filterURLs(urls []string, pattern *regexp.Regexp) []string {
	if pattern == nil {
		return urls
	}
	out := urls[:0:0]
	for _, u := range urls {
		if pattern.MatchString(u) {
			out = append(out, u)
		}
	}
	return out
}
