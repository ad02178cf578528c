package toolfabric

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	htmltomarkdown "github.com/JohannesKaufmann/html-to-markdown/v2"
	"github.com/JohannesKaufmann/html-to-markdown/v2/converter"
	readability "github.com/go-shiori/go-readability"
	"golang.org/x/net/html/charset"
)

// WebFetchResult is what the native web_fetch tool returns on success.
type WebFetchResult struct {
	InputURL     string    `json:"input_url"`
	FinalURL     string    `json:"final_url"`
	Status       int       `json:"status"`
	ContentType  string    `json:"content_type"`
	Title        string    `json:"title,omitempty"`
	Markdown     string    `json:"markdown"`
	UsedReadable bool      `json:"used_readable"`
	FetchedAt    time.Time `json:"fetched_at"`
}

// WebFetchDenylist blocks fetches to hosts matching any of its entries
// (exact host or suffix match), the Tool Fabric's enforcement point for
// the config-level URL denylist.
type WebFetchDenylist struct {
	Hosts []string
}

func (d WebFetchDenylist) blocks(host string) bool {
	host = strings.ToLower(host)
	for _, h := range d.Hosts {
		h = strings.ToLower(strings.TrimSpace(h))
		if h == "" {
			continue
		}
		if host == h || strings.HasSuffix(host, "."+h) {
			return true
		}
	}
	return false
}

// NativeProvider exposes the fabric's built-in tools: native_web_fetch and
// native_web_render. It is a Provider whose native_web_fetch calls share one
// *webFetcher, so repeated calls reuse its http.Client and connection
// pool.
type NativeProvider struct {
	fetcher   *webFetcher
	denylist  WebFetchDenylist
	maxBytes  int64
}

// NewNativeProvider constructs the native tool provider.
func NewNativeProvider(denylist WebFetchDenylist) *NativeProvider {
	return &NativeProvider{
		fetcher:  newWebFetcher(),
		denylist: denylist,
		maxBytes: 8 * 1000 * 1000,
	}
}

// Tools implements Provider.
func (p *NativeProvider) Tools() []Tool {
	return []Tool{
		{
			Name:        "native_web_fetch",
			Description: "Fetch a URL and return its main content as Markdown.",
			Schema: json.RawMessage(`{
				"type": "object",
				"properties": {
					"url": {"type": "string", "description": "The absolute http(s) URL to fetch."}
				},
				"required": ["url"]
			}`),
			Call: p.callWebFetch,
		},
		p.renderTool(),
	}
}

func (p *NativeProvider) callWebFetch(ctx context.Context, rawArgs json.RawMessage) (any, error) {
	var args struct {
		URL string `json:"url"`
	}
	if err := json.Unmarshal(rawArgs, &args); err != nil {
		return nil, fmt.Errorf("native_web_fetch: invalid arguments: %w", err)
	}
	if strings.TrimSpace(args.URL) == "" {
		return nil, errors.New("native_web_fetch: url is required")
	}

	u, err := url.Parse(args.URL)
	if err != nil {
		return nil, fmt.Errorf("native_web_fetch: invalid url: %w", err)
	}
	if p.denylist.blocks(u.Hostname()) {
		return nil, fmt.Errorf("native_web_fetch: host %q is denied by policy", u.Hostname())
	}

	res, err := p.fetcher.fetchMarkdown(ctx, args.URL, p.maxBytes)
	if err != nil {
		return nil, err
	}
	return res, nil
}

// webFetcher fetches a URL and converts it to Markdown, preferring
// Readability's main-content extraction over full-page HTML.
type webFetcher struct {
	client *http.Client
	uaList []string
}

func newWebFetcher() *webFetcher {
	dialer := &net.Dialer{Timeout: 7 * time.Second, KeepAlive: 30 * time.Second}
	transport := &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		DialContext:           dialer.DialContext,
		ForceAttemptHTTP2:     true,
		TLSHandshakeTimeout:   7 * time.Second,
		MaxIdleConns:          100,
		MaxIdleConnsPerHost:   10,
		IdleConnTimeout:       90 * time.Second,
		ResponseHeaderTimeout: 10 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
	}
	return &webFetcher{
		client: &http.Client{Transport: transport, Timeout: 20 * time.Second},
		uaList: []string{
			"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0.0.0 Safari/537.36",
			"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0.0.0 Safari/537.36",
		},
	}
}

func (f *webFetcher) fetchMarkdown(ctx context.Context, rawURL string, maxBytes int64) (*WebFetchResult, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("invalid url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("unsupported scheme: %s", u.Scheme)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", f.uaList[0])
	req.Header.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8")
	req.Header.Set("Accept-Language", "en-US,en;q=0.9")

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	finalURL := resp.Request.URL.String()
	ct, cs := parseContentType(resp.Header.Get("Content-Type"))

	limited := io.LimitReader(resp.Body, maxBytes+1)
	body, err := io.ReadAll(limited)
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}
	if int64(len(body)) > maxBytes {
		return nil, fmt.Errorf("response exceeds max bytes (%d)", maxBytes)
	}

	utf8Body, err := toUTF8(body, cs)
	if err != nil {
		return nil, fmt.Errorf("charset decode: %w", err)
	}

	res := &WebFetchResult{
		InputURL:    rawURL,
		FinalURL:    finalURL,
		Status:      resp.StatusCode,
		ContentType: ct,
		FetchedAt:   time.Now(),
	}

	if !isHTML(ct) {
		res.Markdown = fenced(string(utf8Body), guessFenceLanguage(ct))
		return res, nil
	}

	html := string(utf8Body)
	var articleHTML, title string
	var usedReadable bool

	base, _ := url.Parse(finalURL)
	if art, rerr := readability.FromReader(strings.NewReader(html), base); rerr == nil && strings.TrimSpace(art.Content) != "" {
		articleHTML = art.Content
		title = strings.TrimSpace(art.Title)
		usedReadable = true
	} else {
		articleHTML = html
	}

	md, err := htmltomarkdown.ConvertString(articleHTML, converter.WithDomain(baseOrigin(finalURL)))
	if err != nil {
		return nil, fmt.Errorf("html to markdown: %w", err)
	}
	if title != "" && !strings.HasPrefix(strings.TrimLeft(md, "\n"), "# ") {
		md = "# " + title + "\n\n" + md
	}

	res.Markdown = strings.TrimSpace(md)
	res.Title = title
	res.UsedReadable = usedReadable
	return res, nil
}

func parseContentType(h string) (ctype, cs string) {
	if h == "" {
		return "", ""
	}
	mt, params, err := mime.ParseMediaType(h)
	if err != nil {
		return strings.ToLower(h), ""
	}
	return strings.ToLower(mt), strings.ToLower(params["charset"])
}

func isHTML(ct string) bool {
	return ct == "text/html" || ct == "application/xhtml+xml" || strings.HasSuffix(ct, "html")
}

func toUTF8(b []byte, label string) ([]byte, error) {
	if label == "" || strings.EqualFold(label, "utf-8") || strings.EqualFold(label, "utf8") {
		return b, nil
	}
	r, err := charset.NewReaderLabel(label, bytes.NewReader(b))
	if err != nil {
		return nil, err
	}
	return io.ReadAll(r)
}

func baseOrigin(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return ""
	}
	return u.Scheme + "://" + u.Host
}

func guessFenceLanguage(ct string) string {
	switch ct {
	case "text/markdown":
		return "md"
	case "text/csv":
		return "csv"
	case "text/xml", "application/xml":
		return "xml"
	default:
		return ""
	}
}

func fenced(s, lang string) string {
	s = strings.TrimRight(s, "\n")
	if lang != "" {
		return "```" + lang + "\n" + s + "\n```"
	}
	return "```\n" + s + "\n```"
}
