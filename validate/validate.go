package validate

import (
	"fmt"
	"strings"

	"github.com/pkg/errors"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/dselans/fivehundred/services/catalog"
	"github.com/dselans/fivehundred/services/normalize"
	"github.com/dselans/fivehundred/services/publisher"
)

const (
	MaxQueryLength = 500
	MaxTitles      = 500
)

func Event(event *structpb.Struct) error {
	if event == nil {
		return errors.New("event cannot be nil")
	}

	fields := event.GetFields()

	if fields[publisher.FieldID].GetStringValue() == "" {
		return errors.New("event id cannot be empty")
	}

	if fields[publisher.FieldDataContentType].GetStringValue() == "" {
		return errors.New("event data content type cannot be empty")
	}

	if fields[publisher.FieldSource].GetStringValue() == "" {
		return errors.New("event source cannot be empty")
	}

	if fields[publisher.FieldType].GetStringValue() == "" {
		return errors.New("event type cannot be empty")
	}

	if fields[publisher.FieldTime].GetNumberValue() == 0 {
		return errors.New("event time cannot be zero")
	}

	if fields[publisher.FieldSpecVersion].GetStringValue() == "" {
		return errors.New("event spec version cannot be empty")
	}

	return nil
}

func LookupRequest(req *publisher.LookupRequest) error {
	if req == nil {
		return errors.New("lookup request cannot be nil")
	}

	query := strings.TrimSpace(req.Query)
	artist := strings.TrimSpace(req.Artist)
	title := strings.TrimSpace(req.Title)

	if query == "" && artist == "" && title == "" {
		return errors.New("lookup request needs a query or an artist and title")
	}

	if query != "" && (artist != "" || title != "") {
		return errors.New("lookup request cannot set both query and artist/title")
	}

	if query == "" && (artist == "" || title == "") {
		return errors.New("lookup request needs both artist and title")
	}

	for name, v := range map[string]string{"query": query, "artist": artist, "title": title} {
		if len(v) > MaxQueryLength {
			return fmt.Errorf("%s cannot exceed %d characters", name, MaxQueryLength)
		}
	}

	return nil
}

// Slug rejects anything Slugify would have rewritten.
func Slug(slug string) error {
	if slug == "" {
		return errors.New("slug cannot be empty")
	}

	if normalize.Slugify(slug) != slug {
		return fmt.Errorf("slug '%s' is not in canonical form", slug)
	}

	return nil
}

func AlbumFilters(filters *catalog.AlbumFilters) error {
	if filters == nil {
		return errors.New("filters cannot be nil")
	}

	if filters.Limit < 0 {
		return errors.New("limit cannot be negative")
	}

	if filters.Limit > catalog.MaxLimit {
		return fmt.Errorf("limit cannot exceed %d", catalog.MaxLimit)
	}

	if filters.Offset < 0 {
		return errors.New("offset cannot be negative")
	}

	for _, included := range filters.IncludedGenres {
		for _, excluded := range filters.ExcludedGenres {
			if strings.EqualFold(included, excluded) {
				return fmt.Errorf("genre '%s' cannot be both included and excluded", included)
			}
		}
	}

	return nil
}

// Titles checks a curation title list.
func Titles(titles []string) error {
	if len(titles) == 0 {
		return errors.New("title list cannot be empty")
	}

	if len(titles) > MaxTitles {
		return fmt.Errorf("title list cannot exceed %d entries", MaxTitles)
	}

	for i, t := range titles {
		if strings.TrimSpace(t) == "" {
			return fmt.Errorf("title %d is empty", i+1)
		}
	}

	return nil
}
