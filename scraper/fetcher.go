package scraper

import (
	"context"
	"net/http"

	"studenthome_ingest/config"
	"studenthome_ingest/models"
)

// Fetcher loads one page. A non-2xx answer is an error for that URL only.
type Fetcher interface {
	Fetch(ctx context.Context, url string) (*models.Page, error)
	Close() error
}

// NewFetcher picks the fetcher named in the provider config. The HTTP client
// already carries the proxy; the browser gets it at launch.
func NewFetcher(provider *config.ProviderConfig, scraperCfg config.ScraperConfig, proxy config.ProxyConfig, client *http.Client) Fetcher {
	switch provider.Fetcher {
	case "browser":
		return NewBrowserFetcher(scraperCfg, proxy)
	default:
		return NewHTTPFetcher(client, scraperCfg.UserAgent)
	}
}
