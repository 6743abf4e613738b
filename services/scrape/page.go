package scrape

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"
	"golang.org/x/net/html"

	"github.com/dselans/fivehundred/clog"
	"github.com/dselans/fivehundred/util"
)

const (
	DefaultUserAgent   = "Mozilla/5.0 (compatible; Googlebot/2.1)"
	DefaultPageTimeout = 30 * time.Second
	DefaultPanelPath   = "/album/%s/moodsThemesAjax"
)

// IPage is a browsing session reused across a scrape batch.
type IPage interface {
	// Goto loads url and returns the parsed document
	Goto(ctx context.Context, url string) (*html.Node, error)

	// URL is the final location of the last Goto, after redirects
	URL() string

	// OpenPanel loads the moods/themes panel for an album
	OpenPanel(ctx context.Context, albumID string) (*html.Node, error)

	Close() error
}

type HTTPPageOptions struct {
	SiteURL    string
	PanelPath  string
	UserAgent  string
	HTTPClient *http.Client
	Log        clog.ICustomLog
}

// HTTPPage is an IPage over plain HTTP. The moods/themes panel is fetched
// as a separate fragment instead of being clicked open.
type HTTPPage struct {
	options *HTTPPageOptions
	log     clog.ICustomLog
	url     string
}

func NewHTTPPage(opts *HTTPPageOptions) (*HTTPPage, error) {
	if opts == nil {
		return nil, errors.New("options cannot be nil")
	}

	if opts.SiteURL == "" {
		opts.SiteURL = DefaultSiteURL
	}

	if opts.PanelPath == "" {
		opts.PanelPath = DefaultPanelPath
	}

	if opts.UserAgent == "" {
		opts.UserAgent = DefaultUserAgent
	}

	if opts.HTTPClient == nil {
		opts.HTTPClient = &http.Client{Timeout: DefaultPageTimeout}
	}

	if opts.Log == nil {
		opts.Log = clog.NewNoop()
	}

	return &HTTPPage{
		options: opts,
		log:     opts.Log.With(zap.String("pkg", "scrape"), zap.String("component", "http_page")),
	}, nil
}

func (p *HTTPPage) Goto(ctx context.Context, url string) (*html.Node, error) {
	p.log.Debug("loading page", zap.String("url", url))

	req, err := http.NewRequest("GET", url, nil)
	if err != nil {
		return nil, errors.Wrap(err, "unable to create request")
	}

	req.Header.Set("User-Agent", p.options.UserAgent)
	req.Header.Set("Accept", "text/html")

	resp, err := util.DoHTTP(ctx, p.options.HTTPClient, req, nil)
	if err != nil {
		return nil, errors.Wrapf(err, "unable to load '%s'", url)
	}

	p.url = url
	if resp.Request != nil && resp.Request.URL != nil {
		p.url = resp.Request.URL.String()
	}

	body, err := util.GetResponseBody(resp)
	if err != nil {
		return nil, err
	}

	doc, err := html.Parse(bytes.NewReader(body))
	if err != nil {
		return nil, errors.Wrap(err, "unable to parse html")
	}

	return doc, nil
}

func (p *HTTPPage) URL() string {
	return p.url
}

func (p *HTTPPage) OpenPanel(ctx context.Context, albumID string) (*html.Node, error) {
	url := strings.TrimRight(p.options.SiteURL, "/") + fmt.Sprintf(p.options.PanelPath, albumID)

	current := p.url
	defer func() { p.url = current }()

	return p.Goto(ctx, url)
}

func (p *HTTPPage) Close() error {
	p.options.HTTPClient.CloseIdleConnections()
	return nil
}
