package publisher

import (
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/dselans/fivehundred/backends/db"
)

// Event envelope keys
const (
	FieldID              = "id"
	FieldSource          = "source"
	FieldType            = "type"
	FieldSpecVersion     = "specversion"
	FieldDataContentType = "datacontenttype"
	FieldSubject         = "subject"
	FieldTime            = "time"
	FieldData            = "data"
)

// LookupRequest is the payload of an album.lookup.requested event. Either
// Query or Artist and Title are set.
type LookupRequest struct {
	Query  string `json:"query,omitempty"`
	Artist string `json:"artist,omitempty"`
	Title  string `json:"title,omitempty"`
	DryRun bool   `json:"dry_run,omitempty"`
}

// NewAlbumEvent encodes an album event envelope.
func NewAlbumEvent(eventType string, album *db.Album, fields []string) ([]byte, error) {
	if eventType != EventAlbumCreated && eventType != EventAlbumUpdated {
		return nil, errors.Errorf("unsupported album event type '%s'", eventType)
	}

	if album == nil {
		return nil, errors.New("album cannot be nil")
	}

	changed := make([]interface{}, 0, len(fields))
	for _, f := range fields {
		changed = append(changed, f)
	}

	data := map[string]interface{}{
		"id":             album.ID,
		"slug":           album.Slug,
		"title":          album.Title,
		"release_date":   album.ReleaseDate.UTC().Format("2006-01-02"),
		"is_aplus":       album.IsAPlus,
		"fields_changed": changed,
	}

	if album.HasCoverArt() {
		data["cover_art"] = *album.CoverArt
	}

	if album.HasSpotifyURI() {
		data["spotify_uri"] = *album.SpotifyURI
	}

	if album.TopRanking != nil {
		data["top_ranking"] = float64(*album.TopRanking)
	}

	return encode(eventType, album.ID, data)
}

func NewLookupEvent(req *LookupRequest) ([]byte, error) {
	if req == nil {
		return nil, errors.New("lookup request cannot be nil")
	}

	if strings.TrimSpace(req.Query) == "" && (strings.TrimSpace(req.Artist) == "" || strings.TrimSpace(req.Title) == "") {
		return nil, errors.New("lookup request needs a query or both artist and title")
	}

	subject := req.Query
	if subject == "" {
		subject = req.Artist + " - " + req.Title
	}

	return encode(EventLookupRequested, subject, map[string]interface{}{
		"query":   req.Query,
		"artist":  req.Artist,
		"title":   req.Title,
		"dry_run": req.DryRun,
	})
}

// DecodeEvent parses an envelope and checks its required attributes.
func DecodeEvent(data []byte) (*structpb.Struct, error) {
	event := &structpb.Struct{}

	if err := proto.Unmarshal(data, event); err != nil {
		return nil, errors.Wrap(err, "unable to unmarshal event")
	}

	for _, key := range []string{FieldID, FieldSource, FieldType, FieldSpecVersion} {
		if event.GetFields()[key].GetStringValue() == "" {
			return nil, errors.Errorf("event is missing '%s'", key)
		}
	}

	if event.GetFields()[FieldData].GetStructValue() == nil {
		return nil, errors.New("event is missing data")
	}

	return event, nil
}

// DecodeLookupRequest extracts the lookup payload from a decoded envelope.
func DecodeLookupRequest(event *structpb.Struct) (*LookupRequest, error) {
	if t := event.GetFields()[FieldType].GetStringValue(); t != EventLookupRequested {
		return nil, errors.Errorf("unexpected event type '%s'", t)
	}

	data := event.GetFields()[FieldData].GetStructValue().GetFields()

	req := &LookupRequest{
		Query:  data["query"].GetStringValue(),
		Artist: data["artist"].GetStringValue(),
		Title:  data["title"].GetStringValue(),
		DryRun: data["dry_run"].GetBoolValue(),
	}

	if req.Query == "" && (req.Artist == "" || req.Title == "") {
		return nil, errors.New("lookup request needs a query or both artist and title")
	}

	return req, nil
}

func encode(eventType, subject string, data map[string]interface{}) ([]byte, error) {
	payload, err := structpb.NewStruct(data)
	if err != nil {
		return nil, errors.Wrapf(err, "unable to encode %s payload", eventType)
	}

	event := &structpb.Struct{
		Fields: map[string]*structpb.Value{
			FieldID:              structpb.NewStringValue(uuid.New().String()),
			FieldSource:          structpb.NewStringValue(CloudEventsSource),
			FieldType:            structpb.NewStringValue(eventType),
			FieldSpecVersion:     structpb.NewStringValue(CloudEventsSpecVersion),
			FieldDataContentType: structpb.NewStringValue(CloudEventsDataContentType),
			FieldSubject:         structpb.NewStringValue(subject),
			FieldTime:            structpb.NewNumberValue(float64(time.Now().UTC().UnixNano())),
			FieldData:            structpb.NewStructValue(payload),
		},
	}

	out, err := proto.Marshal(event)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to marshal %s event", eventType)
	}

	return out, nil
}
