package httputil

import (
	"net/http"
	"net/url"
	"time"

	"listing_tracker/config"
)

type Clients struct {
	Scraping *http.Client // target site, fixed identifying headers
	API      *http.Client // object storage and other direct calls
}

func NewClients(cfg *config.Config) *Clients {
	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.MaxIdleConnsPerHost = cfg.Scraper.MaxConcurrency + 2

	if cfg.Proxy.URL != "" {
		if proxyURL, err := url.Parse(cfg.Proxy.URL); err == nil {
			transport.Proxy = http.ProxyURL(proxyURL)
		}
	}

	scraping := &http.Client{
		Timeout: cfg.Scraper.RequestTimeout,
		Transport: &headerTransport{
			base:      transport,
			userAgent: cfg.Scraper.UserAgent,
		},
	}

	return &Clients{
		Scraping: scraping,
		API:      &http.Client{Timeout: 30 * time.Second},
	}
}

// headerTransport stamps the identifying headers on every outgoing request.
type headerTransport struct {
	base      http.RoundTripper
	userAgent string
}

func (t *headerTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	req = req.Clone(req.Context())
	if req.Header.Get("User-Agent") == "" {
		req.Header.Set("User-Agent", t.userAgent)
	}
	if req.Header.Get("Accept") == "" {
		req.Header.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8")
	}
	if req.Header.Get("Accept-Language") == "" {
		req.Header.Set("Accept-Language", "it-IT,it;q=0.9,en;q=0.8")
	}
	return t.base.RoundTrip(req)
}
