package extract

import (
	"bufio"
	"context"
	"encoding/xml"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Common sitemap locations tried before falling back to robots.txt.
var sitemapPaths = []string{
	"/sitemap.xml",
	"/sitemap_index.xml",
	"/sitemap-index.xml",
	"/sitemap/sitemap.xml",
}

const maxSitemapBytes = 10 << 20

type sitemapIndex struct {
	XMLName  xml.Name     `xml:"sitemapindex"`
	Sitemaps []sitemapRef `xml:"sitemap"`
}

type sitemapRef struct {
	Loc string `xml:"loc"`
}

type urlSetEntry struct {
	Loc string `xml:"loc"`
}

type urlSetDoc struct {
	XMLName xml.Name      `xml:"urlset"`
	URLs    []urlSetEntry `xml:"url"`
}

// DiscoverSitemapURLs finds page URLs for a site, first via well-known
// sitemap paths, then via Sitemap: lines in robots.txt. Returns at most
// maxURLs entries, deduplicated, same-host only.
func DiscoverSitemapURLs(ctx context.Context, client *http.Client, siteURL string, maxURLs int) ([]string, error) {
	base, err := url.Parse(siteURL)
	if err != nil || base.Host == "" {
		return nil, fmt.Errorf("invalid site url %q", siteURL)
	}

	candidates := make([]string, 0, len(sitemapPaths)+2)
	for _, p := range sitemapPaths {
		candidates = append(candidates, base.Scheme+"://"+base.Host+p)
	}
	candidates = append(candidates, robotsSitemaps(ctx, client, base)...)

	seen := make(map[string]bool)
	var urls []string
	for _, candidate := range candidates {
		found, err := fetchSitemap(ctx, client, candidate, 0)
		if err != nil {
			continue
		}
		for _, u := range found {
			parsed, err := url.Parse(u)
			if err != nil || parsed.Host != base.Host || seen[u] {
				continue
			}
			seen[u] = true
			urls = append(urls, u)
			if maxURLs > 0 && len(urls) >= maxURLs {
				return urls, nil
			}
		}
		if len(urls) > 0 {
			break
		}
	}

	return urls, nil
}

// fetchSitemap parses a sitemap or sitemap index. Index files recurse
// one level deep at most.
func fetchSitemap(ctx context.Context, client *http.Client, sitemapURL string, depth int) ([]string, error) {
	if depth > 1 {
		return nil, nil
	}

	body, err := fetchBody(ctx, client, sitemapURL)
	if err != nil {
		return nil, err
	}

	var index sitemapIndex
	if err := xml.Unmarshal(body, &index); err == nil && len(index.Sitemaps) > 0 {
		var urls []string
		for _, ref := range index.Sitemaps {
			child, err := fetchSitemap(ctx, client, strings.TrimSpace(ref.Loc), depth+1)
			if err != nil {
				continue
			}
			urls = append(urls, child...)
		}
		return urls, nil
	}

	var set urlSetDoc
	if err := xml.Unmarshal(body, &set); err != nil {
		return nil, fmt.Errorf("sitemap parse %s: %w", sitemapURL, err)
	}

	urls := make([]string, 0, len(set.URLs))
	for _, entry := range set.URLs {
		if loc := strings.TrimSpace(entry.Loc); loc != "" {
			urls = append(urls, loc)
		}
	}
	return urls, nil
}

func robotsSitemaps(ctx context.Context, client *http.Client, base *url.URL) []string {
	body, err := fetchBody(ctx, client, base.Scheme+"://"+base.Host+"/robots.txt")
	if err != nil {
		return nil
	}

	var urls []string
	scanner := bufio.NewScanner(strings.NewReader(string(body)))
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if !strings.HasPrefix(strings.ToLower(line), "sitemap:") {
			continue
		}
		if loc := strings.TrimSpace(line[len("sitemap:"):]); loc != "" {
			urls = append(urls, loc)
		}
	}
	return urls
}

func fetchBody(ctx context.Context, client *http.Client, target string) ([]byte, error) {
	reqCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, target, nil)
	if err != nil {
		return nil, err
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetch %s: status %d", target, resp.StatusCode)
	}
	return io.ReadAll(io.LimitReader(resp.Body, maxSitemapBytes))
}
