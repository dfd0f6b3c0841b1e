package extract

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"rag-chatbot-platform/internal/logger"

	colly "github.com/gocolly/colly/v2"
)

// CrawlOptions bounds a site crawl.
type CrawlOptions struct {
	MaxPages        int
	IncludePatterns []string
	ExcludePatterns []string
	RenderJS        bool
	Timeout         time.Duration
}

// Page is one crawled page with its extracted text.
type Page struct {
	URL   string
	Title string
	Text  string
	Err   error
}

// Crawler fetches site pages and extracts their readable text. Page
// URLs come from the sitemap when one exists, otherwise from link
// following bounded to the start host.
type Crawler struct {
	httpClient *http.Client
	renderer   *Renderer
}

func NewCrawler(renderer *Renderer) *Crawler {
	return &Crawler{
		httpClient: &http.Client{Timeout: 20 * time.Second},
		renderer:   renderer,
	}
}

// Crawl returns one Page per visited URL. Pages that fail to fetch or
// extract are returned with Err set so the caller can record partial
// failures without losing the rest of the site.
func (cr *Crawler) Crawl(ctx context.Context, startURL string, opts CrawlOptions) ([]Page, error) {
	base, err := url.Parse(startURL)
	if err != nil || base.Host == "" {
		return nil, fmt.Errorf("invalid start url %q", startURL)
	}

	urls, err := DiscoverSitemapURLs(ctx, cr.httpClient, startURL, opts.MaxPages*3)
	if err != nil {
		logger.Warn("Sitemap discovery failed, falling back to link crawl", "url", startURL, "error", err)
	}
	urls = filterURLs(urls, opts)

	if len(urls) == 0 {
		return cr.linkCrawl(ctx, base, opts)
	}
	if opts.MaxPages > 0 && len(urls) > opts.MaxPages {
		urls = urls[:opts.MaxPages]
	}

	pages := make([]Page, 0, len(urls))
	for _, pageURL := range urls {
		select {
		case <-ctx.Done():
			return pages, ctx.Err()
		default:
		}
		pages = append(pages, cr.fetchPage(ctx, pageURL, opts))
	}
	return pages, nil
}

func (cr *Crawler) fetchPage(ctx context.Context, pageURL string, opts CrawlOptions) Page {
	page := Page{URL: pageURL}

	var html string
	var err error
	if opts.RenderJS && cr.renderer != nil {
		html, err = cr.renderer.RenderHTML(ctx, pageURL)
	} else {
		var body []byte
		body, err = fetchBody(ctx, cr.httpClient, pageURL)
		html = string(body)
	}
	if err != nil {
		page.Err = err
		return page
	}

	page.Title, page.Text, page.Err = ExtractHTML(html)
	return page
}

// linkCrawl is the sitemap-less fallback: follow same-host links from
// the start page, depth-limited, until MaxPages pages are collected.
func (cr *Crawler) linkCrawl(ctx context.Context, base *url.URL, opts CrawlOptions) ([]Page, error) {
	var mu sync.Mutex
	var pages []Page

	c := colly.NewCollector(
		colly.AllowedDomains(base.Host),
		colly.MaxDepth(2),
		colly.Async(true),
	)
	c.SetRequestTimeout(20 * time.Second)
	c.Limit(&colly.LimitRule{ //nolint:errcheck
		DomainGlob:  "*",
		Parallelism: 4,
		Delay:       100 * time.Millisecond,
	})

	c.OnResponse(func(r *colly.Response) {
		if ctx.Err() != nil {
			return
		}
		if ct := r.Headers.Get("Content-Type"); ct != "" && !strings.Contains(ct, "text/html") {
			return
		}
		pageURL := r.Request.URL.String()
		if !matchPatterns(pageURL, opts) {
			return
		}

		mu.Lock()
		defer mu.Unlock()
		if opts.MaxPages > 0 && len(pages) >= opts.MaxPages {
			return
		}
		title, text, err := ExtractHTML(string(r.Body))
		pages = append(pages, Page{URL: pageURL, Title: title, Text: text, Err: err})
	})

	c.OnHTML("a[href]", func(e *colly.HTMLElement) {
		mu.Lock()
		full := opts.MaxPages > 0 && len(pages) >= opts.MaxPages
		mu.Unlock()
		if full || ctx.Err() != nil {
			return
		}
		e.Request.Visit(e.Attr("href")) //nolint:errcheck
	})

	if err := c.Visit(base.String()); err != nil {
		return nil, err
	}
	c.Wait()

	return pages, ctx.Err()
}

func filterURLs(urls []string, opts CrawlOptions) []string {
	out := urls[:0]
	for _, u := range urls {
		if matchPatterns(u, opts) {
			out = append(out, u)
		}
	}
	return out
}

// matchPatterns applies substring include/exclude filters: excludes
// win, and an empty include list matches everything.
func matchPatterns(pageURL string, opts CrawlOptions) bool {
	for _, pattern := range opts.ExcludePatterns {
		if pattern != "" && strings.Contains(pageURL, pattern) {
			return false
		}
	}
	if len(opts.IncludePatterns) == 0 {
		return true
	}
	for _, pattern := range opts.IncludePatterns {
		if pattern != "" && strings.Contains(pageURL, pattern) {
			return true
		}
	}
	return false
}
