// Package scrape is the search-scrape adapter. It resolves a free-text
// query to an album page on the target site, then extracts the album's
// metadata from the page's JSON-LD block, its styles list and the separately
// loaded moods/themes panel.
package scrape

import (
	"context"
	"fmt"
	"net/url"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/tidwall/gjson"
	"go.uber.org/zap"
	"golang.org/x/net/html"

	"github.com/dselans/fivehundred/clog"
	"github.com/dselans/fivehundred/services/bulk"
	"github.com/dselans/fivehundred/services/csvstore"
	"github.com/dselans/fivehundred/services/source"
	"github.com/dselans/fivehundred/util"
)

const (
	SourceName = "scrape"

	DefaultSiteURL = "https://www.allmusic.com"

	// Search-engine redirect to the first result on the target site. %s is
	// the escaped query.
	DefaultSearchURL = "https://duckduckgo.com/?q=%%21ducky+site%%3Aallmusic.com+%s"

	DefaultPanelAttempts = 3
	DefaultPanelWait     = time.Second
	DefaultItemDelay     = time.Second

	albumPath = "/album/"
)

var albumIDPattern = regexp.MustCompile(`^mw\d{10}$`)

var (
	ErrAlbumNotFound = errors.New("could not find album id")
	ErrNoMetadata    = errors.New("no JSON-LD metadata found")
)

type Options struct {
	Page IPage

	SiteURL   string
	SearchURL string

	PanelAttempts int
	PanelWait     time.Duration
	ItemDelay     time.Duration

	// Overridable in tests
	Sleep func(ctx context.Context, d time.Duration) error

	// Prints per-item progress for batch scrapes
	Progress *logrus.Logger

	Log clog.ICustomLog
}

// Summary counts a ScrapeAll batch.
type Summary struct {
	Total      int `json:"total"`
	Successful int `json:"successful"`
	Failed     int `json:"failed"`
}

type Scraper struct {
	options *Options
	log     clog.ICustomLog

	// the page is a single session and is never shared between calls
	mu sync.Mutex
}

func New(opts *Options) (*Scraper, error) {
	if err := validateOptions(opts); err != nil {
		return nil, errors.Wrap(err, "unable to validate options")
	}

	return &Scraper{
		options: opts,
		log:     opts.Log.With(zap.String("pkg", "scrape")),
	}, nil
}

func validateOptions(opts *Options) error {
	if opts == nil {
		return errors.New("options cannot be nil")
	}

	if opts.Page == nil {
		return errors.New("page cannot be nil")
	}

	if opts.SiteURL == "" {
		opts.SiteURL = DefaultSiteURL
	}

	if opts.SearchURL == "" {
		opts.SearchURL = DefaultSearchURL
	}

	if opts.PanelAttempts <= 0 {
		opts.PanelAttempts = DefaultPanelAttempts
	}

	if opts.PanelWait <= 0 {
		opts.PanelWait = DefaultPanelWait
	}

	if opts.ItemDelay <= 0 {
		opts.ItemDelay = DefaultItemDelay
	}

	if opts.Sleep == nil {
		opts.Sleep = util.SleepContext
	}

	if opts.Progress == nil {
		opts.Progress = logrus.StandardLogger()
	}

	if opts.Log == nil {
		opts.Log = clog.NewNoop()
	}

	return nil
}

// Name implements source.IAdapter.
func (s *Scraper) Name() string {
	return SourceName
}

// FetchMetadata implements source.IAdapter by searching "<artist> <title>".
func (s *Scraper) FetchMetadata(ctx context.Context, artist, title string) source.Result {
	return s.FetchQuery(ctx, artist+" "+title)
}

// FetchQuery looks up a raw input: an album id, album path or free-text
// query.
func (s *Scraper) FetchQuery(ctx context.Context, query string) source.Result {
	s.mu.Lock()
	defer s.mu.Unlock()

	record, err := s.process(ctx, strings.TrimSpace(query))
	if err != nil {
		if errors.Is(err, ErrAlbumNotFound) {
			return source.NotFound(err.Error())
		}

		return source.Failed(err)
	}

	return source.OK(record)
}

// ScrapeAll processes inputs sequentially on the shared page with a delay
// between items. Inputs may be album ids (mw...), album paths (/album/...)
// or search queries. Blank inputs are skipped.
func (s *Scraper) ScrapeAll(ctx context.Context, inputs []string) ([]*source.ScrapeResult, *Summary, error) {
	logger := s.log.With(zap.String("method", "ScrapeAll"))

	if len(inputs) == 0 {
		return nil, nil, errors.New("input list is empty")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	results := make([]*source.ScrapeResult, 0, len(inputs))
	summary := &Summary{}

	for i, raw := range inputs {
		input := strings.TrimSpace(raw)
		if input == "" {
			continue
		}

		if ctx.Err() != nil {
			logger.Warn("scrape batch cancelled", zap.Int("processed", len(results)))
			break
		}

		s.options.Progress.Infof("[%d/%d] Processing: %s", i+1, len(inputs), input)

		result := &source.ScrapeResult{OriginalInput: input}

		record, err := s.process(ctx, input)
		if err != nil {
			result.Error = err.Error()
			summary.Failed++

			logger.Warn("unable to scrape input", zap.String("input", input), zap.Error(err))
		} else {
			result.Success = true
			result.Data = record
			summary.Successful++
		}

		summary.Total++
		results = append(results, result)

		if i < len(inputs)-1 {
			if err := s.options.Sleep(ctx, s.options.ItemDelay); err != nil {
				break
			}
		}
	}

	s.options.Progress.Infof("Scrape complete: %d successful, %d failed", summary.Successful, summary.Failed)

	return results, summary, nil
}

func (s *Scraper) process(ctx context.Context, input string) (*source.Record, error) {
	albumID, err := s.ResolveAlbumID(ctx, input)
	if err != nil {
		return nil, err
	}

	return s.ScrapeAlbum(ctx, albumID)
}

// ResolveAlbumID returns the album id for an id, album path or search query.
func (s *Scraper) ResolveAlbumID(ctx context.Context, input string) (string, error) {
	input = strings.TrimSpace(input)

	switch {
	case IsAlbumID(input):
		return input, nil
	case strings.HasPrefix(input, albumPath):
		if id := AlbumIDFromPath(input); id != "" {
			return id, nil
		}

		return "", ErrAlbumNotFound
	}

	searchURL := fmt.Sprintf(s.options.SearchURL, url.QueryEscape(input))

	doc, err := s.options.Page.Goto(ctx, searchURL)
	if err != nil {
		return "", errors.Wrapf(err, "search failed for '%s'", input)
	}

	// the redirect may land directly on the album page
	if strings.Contains(s.options.Page.URL(), albumPath) {
		if id := AlbumIDFromPath(s.options.Page.URL()); id != "" {
			return id, nil
		}
	}

	link := findFirst(doc, func(n *html.Node) bool {
		return n.Data == "a" && strings.Contains(attrVal(n, "href"), albumPath)
	})

	if link == nil {
		return "", ErrAlbumNotFound
	}

	if id := AlbumIDFromPath(attrVal(link, "href")); id != "" {
		return id, nil
	}

	return "", ErrAlbumNotFound
}

// IsAlbumID reports whether s is a bare album id such as mw0000196673.
func IsAlbumID(s string) bool {
	return albumIDPattern.MatchString(s)
}

// AlbumIDFromPath extracts the id from an album path or URL such as
// /album/electric-warrior-mw0000196673.
func AlbumIDFromPath(p string) string {
	if i := strings.IndexAny(p, "?#"); i >= 0 {
		p = p[:i]
	}

	if i := strings.Index(p, albumPath); i >= 0 {
		p = p[i+len(albumPath):]
	}

	if i := strings.Index(p, "/"); i >= 0 {
		p = p[:i]
	}

	if i := strings.LastIndex(p, "-"); i >= 0 {
		p = p[i+1:]
	}

	return strings.TrimSpace(p)
}

// ScrapeAlbum loads the album page and its moods/themes panel.
func (s *Scraper) ScrapeAlbum(ctx context.Context, albumID string) (*source.Record, error) {
	logger := s.log.With(zap.String("method", "ScrapeAlbum"), zap.String("albumID", albumID))

	doc, err := s.options.Page.Goto(ctx, strings.TrimRight(s.options.SiteURL, "/")+albumPath+albumID)
	if err != nil {
		return nil, errors.Wrap(err, "could not scrape album data")
	}

	row, cover, err := ExtractAlbum(doc, albumID)
	if err != nil {
		return nil, err
	}

	moods, themes := s.moodsAndThemes(ctx, albumID)
	row.Moods = strings.Join(moods, ", ")
	row.Themes = strings.Join(themes, ", ")

	logger.Debug("scraped album", zap.String("artist", row.Artist), zap.String("album", row.Album),
		zap.Int("moods", len(moods)), zap.Int("themes", len(themes)))

	record := bulk.ToRecord(row)
	record.Source = SourceName
	record.CoverImage = cover

	return record, nil
}

// moodsAndThemes retries the panel; a panel that never yields content
// leaves both lists empty.
func (s *Scraper) moodsAndThemes(ctx context.Context, albumID string) ([]string, []string) {
	logger := s.log.With(zap.String("method", "moodsAndThemes"), zap.String("albumID", albumID))

	for attempt := 1; attempt <= s.options.PanelAttempts; attempt++ {
		panel, err := s.options.Page.OpenPanel(ctx, albumID)
		if err != nil {
			logger.Debug("panel load failed", zap.Int("attempt", attempt), zap.Error(err))
		} else {
			moods, themes := linksUnder(panel, "moodsGrid"), linksUnder(panel, "themesGrid")
			if len(moods) > 0 || len(themes) > 0 {
				return moods, themes
			}

			logger.Debug("panel had no moods or themes", zap.Int("attempt", attempt))
		}

		if attempt < s.options.PanelAttempts {
			if err := s.options.Sleep(ctx, s.options.PanelWait); err != nil {
				break
			}
		}
	}

	logger.Debug("no moods/themes found")

	return []string{}, []string{}
}

// ExtractAlbum reads the album page's structured metadata into a bulk-style
// row, plus the cover image URL.
func ExtractAlbum(doc *html.Node, albumID string) (*csvstore.Row, string, error) {
	script := findFirst(doc, func(n *html.Node) bool {
		return n.Data == "script" && attrVal(n, "type") == "application/ld+json"
	})

	if script == nil {
		return nil, "", ErrNoMetadata
	}

	raw := strings.TrimSpace(textContent(script))
	if !gjson.Valid(raw) {
		return nil, "", errors.Wrap(ErrNoMetadata, "invalid JSON-LD")
	}

	meta := albumNode(gjson.Parse(raw))

	row := &csvstore.Row{
		PublishedDate: meta.Get("datePublished").String(),
		AMGID:         albumID,
		Artist:        strings.TrimSpace(first(meta.Get("byArtist")).Get("name").String()),
		Album:         strings.TrimSpace(meta.Get("name").String()),
		Genre:         strings.Join(stringList(meta.Get("genre")), ","),
		Styles:        extractStyles(doc),
	}

	cover := imageURL(first(meta.Get("image")))
	if cover == "" {
		if og := findFirst(doc, func(n *html.Node) bool {
			return n.Data == "meta" && attrVal(n, "property") == "og:image"
		}); og != nil {
			cover = attrVal(og, "content")
		}
	}

	return row, cover, nil
}

// albumNode picks the MusicAlbum entry when the block is an array or graph.
func albumNode(r gjson.Result) gjson.Result {
	if r.IsObject() {
		if g, ok := r.Map()["@graph"]; ok && g.IsArray() {
			r = g
		}
	}

	if !r.IsArray() {
		return r
	}

	items := r.Array()
	for _, item := range items {
		if item.Map()["@type"].String() == "MusicAlbum" {
			return item
		}
	}

	if len(items) > 0 {
		return items[0]
	}

	return gjson.Result{}
}

func first(r gjson.Result) gjson.Result {
	if r.IsArray() {
		items := r.Array()
		if len(items) == 0 {
			return gjson.Result{}
		}

		return items[0]
	}

	return r
}

func stringList(r gjson.Result) []string {
	out := make([]string, 0)

	if !r.Exists() {
		return out
	}

	if !r.IsArray() {
		if s := strings.TrimSpace(r.String()); s != "" {
			out = append(out, s)
		}

		return out
	}

	for _, item := range r.Array() {
		if s := strings.TrimSpace(item.String()); s != "" {
			out = append(out, s)
		}
	}

	return out
}

func imageURL(r gjson.Result) string {
	if r.IsObject() {
		return r.Get("url").String()
	}

	return r.String()
}

// extractStyles reads the .styles block: a "Styles" label followed by one
// style per line.
func extractStyles(doc *html.Node) string {
	block := findFirst(doc, byClass("styles"))
	if block == nil {
		return ""
	}

	styles := make([]string, 0)

	for _, line := range strings.Split(textContent(block), "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.EqualFold(line, "styles") {
			continue
		}

		styles = append(styles, line)
	}

	return strings.Join(styles, ", ")
}
