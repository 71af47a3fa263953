package fetcher

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/boulderstats/occupancy-crawler/config"
	"github.com/boulderstats/occupancy-crawler/internal/model"
	"github.com/chromedp/cdproto/dom"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/chromedp"
	"github.com/gocolly/colly"
	"github.com/patrickmn/go-cache"
)

// PageFetcher returns the raw markup of an occupancy page.
type PageFetcher interface {
	FetchPage(ctx context.Context, url string) (string, error)
}

// TransportError is a network or HTTP-level failure reaching a vendor site.
type TransportError struct {
	URL string
	Err error
}

func (e *TransportError) Error() string {
	return "fetch " + e.URL + ": " + e.Err.Error()
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

type PageClient struct {
	cfg       *config.Config
	transport *http.Transport
	mechanism model.FetchMechanism
	pageCache *cache.Cache
}

func NewPageClient(cfg *config.Config, transport *http.Transport) *PageClient {
	ttl := cfg.FetcherSettings.PageCacheTtl
	return &PageClient{
		cfg:       cfg,
		transport: transport,
		mechanism: model.FetchMechanism(cfg.FetcherSettings.Mechanism),
		pageCache: cache.New(ttl, 2*ttl),
	}
}

// FetchPage serves from the local TTL cache when possible so sites sharing
// one page (multi-area gyms) are fetched once per cycle.
func (pc *PageClient) FetchPage(ctx context.Context, url string) (string, error) {
	if body, ok := pc.pageCache.Get(url); ok {
		slog.Debug("page cache hit.", slog.String("url", url))
		return body.(string), nil
	}

	var body string
	var err error
	switch pc.mechanism {
	case model.Curl:
		body, err = pc.fetchWithCurl(url)
	case model.HeadlessBrowser:
		body, err = pc.fetchWithBrowser(ctx, url)
	default:
		return "", errors.New("unsupported fetch mechanism")
	}
	if err != nil {
		return "", &TransportError{URL: url, Err: err}
	}
	pc.pageCache.Set(url, body, cache.DefaultExpiration)

	return body, nil
}

func (pc *PageClient) fetchWithCurl(url string) (string, error) {
	c := colly.NewCollector()
	c.WithTransport(pc.transport)
	c.SetRequestTimeout(pc.cfg.HttpClientSettings.RequestTimeout)
	c.UserAgent = pc.cfg.WorkerSettings.UserAgent

	var body string
	var fetchErr error
	c.OnResponse(func(resp *colly.Response) {
		body = string(resp.Body)
	})
	c.OnError(func(r *colly.Response, err error) {
		fetchErr = err
	})

	t := time.Now()
	err := c.Visit(url)
	slog.Debug("fetched page.", slog.String("url", url),
		slog.Int64("ms", time.Since(t).Milliseconds()))
	if err != nil {
		return "", err
	}
	if fetchErr != nil {
		return "", fetchErr
	}

	return body, nil
}

func (pc *PageClient) fetchWithBrowser(parent context.Context, url string) (string, error) {
	tCtx, cancelTCtx := context.WithTimeout(parent, pc.cfg.HttpClientSettings.RequestTimeout)
	defer cancelTCtx()
	ctx, cancel := chromedp.NewContext(tCtx)
	defer cancel()

	var statusCode int
	chromedp.ListenTarget(ctx, func(event interface{}) {
		if responseReceivedEvent, ok := event.(*network.EventResponseReceived); ok {
			response := responseReceivedEvent.Response
			if response.URL == url || response.URL == url+"/" {
				statusCode = int(response.Status)
			}
		}
	})

	var body string
	err := chromedp.Run(ctx,
		chromedp.Tasks{
			network.Enable(),
			network.SetExtraHTTPHeaders(map[string]interface{}{
				"User-Agent": pc.cfg.WorkerSettings.UserAgent,
			}),
			enableLifeCycleEvents(),
			navigateAndWaitFor(url, "networkIdle"),
		},
		chromedp.ActionFunc(func(ctx context.Context) error {
			rootNode, err := dom.GetDocument().Do(ctx)
			if err != nil {
				return err
			}
			body, err = dom.GetOuterHTML().WithNodeID(rootNode.NodeID).Do(ctx)
			return err
		}),
	)
	if err != nil {
		return "", err
	}
	if statusCode != 0 && statusCode/100 != 2 {
		return "", errors.New("error status code: " + http.StatusText(statusCode))
	}

	return body, nil
}

func enableLifeCycleEvents() chromedp.ActionFunc {
	return func(ctx context.Context) error {
		err := page.Enable().Do(ctx)
		if err != nil {
			return err
		}
		err = page.SetLifecycleEventsEnabled(true).Do(ctx)
		if err != nil {
			return err
		}
		return nil
	}
}

func navigateAndWaitFor(url string, eventName string) chromedp.ActionFunc {
	return func(ctx context.Context) error {
		_, _, _, err := page.Navigate(url).Do(ctx)
		if err != nil {
			return err
		}
		return waitFor(ctx, eventName)
	}
}

func waitFor(ctx context.Context, eventName string) error {
	ch := make(chan struct{})
	cctx, cancel := context.WithCancel(ctx)
	defer cancel()
	chromedp.ListenTarget(cctx, func(ev interface{}) {
		switch e := ev.(type) {
		case *page.EventLifecycleEvent:
			if e.Name == eventName {
				cancel()
				close(ch)
			}
		}
	})
	select {
	case <-ch:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
