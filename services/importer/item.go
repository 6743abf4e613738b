package importer

import (
	"context"
	"strings"
	"time"

	"github.com/pkg/errors"

	"github.com/dselans/fivehundred/services/orchestrator"
)

// ParseInput reads "Artist - Title" as a pair; anything else is a raw query.
func ParseInput(s string) Input {
	s = strings.TrimSpace(s)

	if artist, title, ok := strings.Cut(s, " - "); ok {
		artist, title = strings.TrimSpace(artist), strings.TrimSpace(title)
		if artist != "" && title != "" {
			return Input{Artist: artist, Title: title}
		}
	}

	return Input{Query: s}
}

// ParseInputs skips blank lines.
func ParseInputs(lines []string) []Input {
	inputs := make([]Input, 0, len(lines))

	for _, l := range lines {
		if strings.TrimSpace(l) == "" {
			continue
		}

		inputs = append(inputs, ParseInput(l))
	}

	return inputs
}

// Items wraps inputs for an orchestrator batch.
func Items(inputs []Input) []*orchestrator.Item {
	items := make([]*orchestrator.Item, 0, len(inputs))

	for _, in := range inputs {
		items = append(items, &orchestrator.Item{Input: in.String(), Value: in})
	}

	return items
}

// ProcessItem adapts Process to orchestrator.ItemFunc. Created, updated and
// up-to-date outcomes all count as successes, keyed by their status.
func (i *Importer) ProcessItem(ctx context.Context, item *orchestrator.Item) (*orchestrator.ItemResult, error) {
	in, ok := item.Value.(Input)
	if !ok {
		return nil, errors.Errorf("unexpected item value %T", item.Value)
	}

	out, err := i.Process(ctx, in)
	if err != nil {
		return nil, err
	}

	res := &orchestrator.ItemResult{
		Input:     item.Input,
		Detail:    string(out.Status),
		Reason:    out.Reason,
		Data:      out,
		Timestamp: time.Now().UTC(),
	}

	switch out.Status {
	case StatusCreated, StatusUpdated, StatusUpToDate:
		res.Status = orchestrator.StatusSucceeded
	case StatusNotFound:
		res.Status = orchestrator.StatusNotFound
	default:
		res.Status = orchestrator.StatusFailed
	}

	return res, nil
}
