package toolfabric

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/chromedp/chromedp"
	readability "github.com/go-shiori/go-readability"

	htmltomarkdown "github.com/JohannesKaufmann/html-to-markdown/v2"
	"github.com/JohannesKaufmann/html-to-markdown/v2/converter"
)

// native_web_render renders a page in a headless Chrome instance before
// extracting content, for pages whose markup is populated by JavaScript
// after initial load and never appears in a plain HTTP GET.

func (p *NativeProvider) renderTool() Tool {
	return Tool{
		Name:        "native_web_render",
		Description: "Render a JavaScript-heavy page in headless Chrome and return its main content as Markdown.",
		Schema: json.RawMessage(`{
			"type": "object",
			"properties": {
				"url": {"type": "string", "description": "The absolute http(s) URL to render."},
				"wait_selector": {"type": "string", "description": "CSS selector to wait for before capturing content. Defaults to body."}
			},
			"required": ["url"]
		}`),
		Call: p.callWebRender,
	}
}

func (p *NativeProvider) callWebRender(ctx context.Context, rawArgs json.RawMessage) (any, error) {
	var args struct {
		URL          string `json:"url"`
		WaitSelector string `json:"wait_selector"`
	}
	if err := json.Unmarshal(rawArgs, &args); err != nil {
		return nil, fmt.Errorf("native_web_render: invalid arguments: %w", err)
	}
	if strings.TrimSpace(args.URL) == "" {
		return nil, errors.New("native_web_render: url is required")
	}

	u, err := url.Parse(args.URL)
	if err != nil {
		return nil, fmt.Errorf("native_web_render: invalid url: %w", err)
	}
	if p.denylist.blocks(u.Hostname()) {
		return nil, fmt.Errorf("native_web_render: host %q is denied by policy", u.Hostname())
	}

	waitSelector := args.WaitSelector
	if waitSelector == "" {
		waitSelector = "body"
	}

	opts := append(chromedp.DefaultExecAllocatorOptions[:], chromedp.Flag("headless", true))
	if exe := os.Getenv("CHROME_PATH"); exe != "" {
		opts = append(opts, chromedp.ExecPath(exe))
	}

	allocCtx, cancelAlloc := chromedp.NewExecAllocator(ctx, opts...)
	defer cancelAlloc()
	browserCtx, cancelBrowser := chromedp.NewContext(allocCtx)
	defer cancelBrowser()
	runCtx, cancelRun := context.WithTimeout(browserCtx, 20*time.Second)
	defer cancelRun()

	var renderedHTML string
	err = chromedp.Run(runCtx,
		chromedp.Navigate(args.URL),
		chromedp.WaitReady(waitSelector, chromedp.ByQuery),
		chromedp.OuterHTML("html", &renderedHTML),
	)
	if err != nil {
		return nil, fmt.Errorf("native_web_render: chromedp run: %w", err)
	}

	res := &WebFetchResult{
		InputURL:  args.URL,
		FinalURL:  args.URL,
		Status:    200,
		FetchedAt: time.Now(),
	}

	var articleHTML, title string
	base, _ := url.Parse(args.URL)
	if art, rerr := readability.FromReader(strings.NewReader(renderedHTML), base); rerr == nil && strings.TrimSpace(art.Content) != "" {
		articleHTML = art.Content
		title = strings.TrimSpace(art.Title)
		res.UsedReadable = true
	} else {
		articleHTML = renderedHTML
	}

	md, err := htmltomarkdown.ConvertString(articleHTML, converter.WithDomain(baseOrigin(args.URL)))
	if err != nil {
		return nil, fmt.Errorf("native_web_render: html to markdown: %w", err)
	}
	if title != "" && !strings.HasPrefix(strings.TrimLeft(md, "\n"), "# ") {
		md = "# " + title + "\n\n" + md
	}

	res.ContentType = "text/html"
	res.Title = title
	res.Markdown = strings.TrimSpace(md)
	return res, nil
}
