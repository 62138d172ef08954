package httputil

import (
	"net/http"
	"net/url"
	"time"

	"studenthome_ingest/config"
)

type Clients struct {
	Scraping *http.Client // proxied, for listing pages
	Probe    *http.Client // short timeout, for image HEAD checks
	API      *http.Client // direct, for Supabase REST
}

func NewClients(cfg *config.Config) *Clients {
	transport := http.DefaultTransport.(*http.Transport).Clone()
	if cfg.Proxy.URL != "" {
		if proxyURL, err := url.Parse(cfg.Proxy.URL); err == nil {
			transport.Proxy = http.ProxyURL(proxyURL)
		}
	}
	transport.MaxIdleConnsPerHost = max(cfg.Liveness.Concurrency, 2)

	scraping := &http.Client{
		Timeout:   cfg.Scraper.PageTimeout,
		Transport: transport,
	}

	// Redirects to a placeholder image still count as a 2xx, so they are followed
	probe := &http.Client{
		Timeout:   cfg.Liveness.Timeout,
		Transport: transport,
	}

	return &Clients{
		Scraping: scraping,
		Probe:    probe,
		API:      &http.Client{Timeout: 30 * time.Second},
	}
}
