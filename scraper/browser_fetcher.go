package scraper

import (
	"context"
	"fmt"
	"log"
	"net/url"
	"sync"
	"time"

	"github.com/playwright-community/playwright-go"
	"studenthome_ingest/config"
	"studenthome_ingest/models"
)

// BrowserFetcher renders pages in headless Chromium so script-built listing
// cards exist in the returned DOM. The browser starts on first use.
type BrowserFetcher struct {
	cfg         config.ScraperConfig
	proxy       config.ProxyConfig
	pw          *playwright.Playwright
	browser     playwright.Browser
	context     playwright.BrowserContext
	mu          sync.Mutex
	initialized bool
}

func NewBrowserFetcher(cfg config.ScraperConfig, proxy config.ProxyConfig) *BrowserFetcher {
	if cfg.PageTimeout <= 0 {
		cfg.PageTimeout = 30 * time.Second
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = config.DefaultUserAgent
	}
	return &BrowserFetcher{cfg: cfg, proxy: proxy}
}

func (f *BrowserFetcher) launchOptions() (playwright.BrowserTypeLaunchOptions, error) {
	opts := playwright.BrowserTypeLaunchOptions{
		Headless: playwright.Bool(f.cfg.Headless),
		Args: []string{
			"--disable-blink-features=AutomationControlled",
			"--disable-dev-shm-usage",
			"--no-sandbox",
		},
	}
	if f.proxy.URL == "" {
		return opts, nil
	}

	// Chromium takes credentials separately from the server address
	u, err := url.Parse(f.proxy.URL)
	if err != nil || u.Host == "" {
		return opts, fmt.Errorf("invalid proxy url %q", f.proxy.URL)
	}
	proxy := &playwright.Proxy{Server: u.Scheme + "://" + u.Host}
	if u.User != nil {
		proxy.Username = playwright.String(u.User.Username())
		if pass, ok := u.User.Password(); ok {
			proxy.Password = playwright.String(pass)
		}
	}
	opts.Proxy = proxy
	return opts, nil
}

func (f *BrowserFetcher) ensureBrowser() error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.initialized {
		return nil
	}

	opts, err := f.launchOptions()
	if err != nil {
		return err
	}

	f.pw, err = playwright.Run()
	if err != nil {
		return fmt.Errorf("failed to start playwright: %w", err)
	}

	f.browser, err = f.pw.Chromium.Launch(opts)
	if err != nil {
		f.pw.Stop()
		return fmt.Errorf("failed to launch browser: %w", err)
	}

	f.context, err = f.browser.NewContext(playwright.BrowserNewContextOptions{
		UserAgent: playwright.String(f.cfg.UserAgent),
		Locale:    playwright.String("en-GB"),
	})
	if err != nil {
		f.browser.Close()
		f.pw.Stop()
		return fmt.Errorf("failed to create browser context: %w", err)
	}

	f.initialized = true
	return nil
}

func (f *BrowserFetcher) Fetch(ctx context.Context, url string) (*models.Page, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := f.ensureBrowser(); err != nil {
		return nil, err
	}

	page, err := f.context.NewPage()
	if err != nil {
		return nil, fmt.Errorf("failed to create page: %w", err)
	}
	defer page.Close()

	resp, err := page.Goto(url, playwright.PageGotoOptions{
		Timeout:   playwright.Float(float64(f.cfg.PageTimeout.Milliseconds())),
		WaitUntil: playwright.WaitUntilStateDomcontentloaded,
	})
	if err != nil {
		return nil, fmt.Errorf("navigate %s: %w", url, err)
	}

	status := 0
	if resp != nil {
		status = resp.Status()
		if status < 200 || status > 299 {
			return nil, fmt.Errorf("navigate %s: status %d", url, status)
		}
	}

	html, err := page.Content()
	if err != nil {
		return nil, fmt.Errorf("read DOM of %s: %w", url, err)
	}

	return &models.Page{
		URL:        page.URL(),
		StatusCode: status,
		HTML:       html,
		Rendered:   true,
		FetchedAt:  time.Now(),
	}, nil
}

func (f *BrowserFetcher) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if !f.initialized {
		return nil
	}
	if f.context != nil {
		f.context.Close()
	}
	if f.browser != nil {
		f.browser.Close()
	}
	if err := f.pw.Stop(); err != nil {
		log.Printf("Warning: stopping playwright: %v", err)
	}
	f.initialized = false
	return nil
}
