package orchestrator

import (
	"encoding/json"
	"path/filepath"
	"time"

	"github.com/pkg/errors"
	"github.com/spf13/afero"
)

// LogTimestamp formats t for log file names (no ':' or '.').
func LogTimestamp(t time.Time) string {
	return t.UTC().Format("2006-01-02T15-04-05Z")
}

// writeLogs writes <name>-<ts>.json (successes), <name>-failures-<ts>.json
// and <name>-not-found-<ts>.json. Empty groups are not written.
func (o *Orchestrator) writeLogs(report *Report) error {
	if o.options.LogDir == "" || o.options.Fs == nil {
		return nil
	}

	if err := o.options.Fs.MkdirAll(o.options.LogDir, 0o755); err != nil {
		return errors.Wrap(err, "unable to create log dir")
	}

	var succeeded, failed, notFound []*ItemResult

	for _, r := range report.Results {
		switch r.Status {
		case StatusSucceeded:
			succeeded = append(succeeded, r)
		case StatusFailed:
			failed = append(failed, r)
		case StatusNotFound:
			notFound = append(notFound, r)
		}
	}

	ts := LogTimestamp(report.StartedAt)

	groups := []struct {
		name    string
		results []*ItemResult
	}{
		{report.Name + "-" + ts + ".json", succeeded},
		{report.Name + "-failures-" + ts + ".json", failed},
		{report.Name + "-not-found-" + ts + ".json", notFound},
	}

	for _, g := range groups {
		if len(g.results) == 0 {
			continue
		}

		data, err := json.MarshalIndent(g.results, "", "  ")
		if err != nil {
			return errors.Wrapf(err, "unable to encode %s", g.name)
		}

		path := filepath.Join(o.options.LogDir, g.name)

		if err := afero.WriteFile(o.options.Fs, path, data, 0o644); err != nil {
			return errors.Wrapf(err, "unable to write %s", path)
		}

		report.LogFiles = append(report.LogFiles, path)
	}

	return nil
}
