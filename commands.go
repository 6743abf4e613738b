package main

import (
	"encoding/json"
	"os"
	"strings"

	"github.com/pkg/errors"
	"github.com/spf13/afero"

	"github.com/dselans/fivehundred/deps"
	"github.com/dselans/fivehundred/services/importer"
	"github.com/dselans/fivehundred/validate"
)

// ImportBatch names the import run in logs and run state
const ImportBatch = "import"

// runCommand executes a batch command and prints its report as JSON on
// stdout. Per-item failures are part of the report, not an error.
func runCommand(d *deps.Dependencies, command string) error {
	ctx := d.ShutdownCtx
	cfg := d.Config

	var (
		report interface{}
		err    error
	)

	switch command {
	case "import":
		report, err = runImport(d)
	case "scrape":
		results, summary, serr := d.Scraper.ScrapeAll(ctx, cfg.Scrape.Queries)
		report, err = map[string]interface{}{"summary": summary, "results": results}, serr
	case "backfill covers":
		report, err = d.BackfillService.Covers(ctx)
	case "backfill spotify":
		report, err = d.BackfillService.SpotifyURIs(ctx)
	case "backfill apple":
		report, err = d.BackfillService.AppleMusicURLs(ctx)
	case "report spotify":
		report, err = d.BackfillService.SpotifyCoverage(ctx)
	case "sanitize":
		report, err = d.UpsertEngine.Sanitize(ctx, cfg.DryRun)
	case "migrate-descriptors":
		report, err = d.UpsertEngine.MigrateDescriptorsToGenres(ctx, cfg.DryRun)
	case "rank top50":
		if err := validate.Titles(cfg.Rank.Top50.Titles); err != nil {
			return err
		}

		report, err = d.CurationService.Top50(ctx, cfg.Rank.Top50.Titles)
	case "rank aplus add":
		if err := validate.Titles(cfg.Rank.APlus.Add.Titles); err != nil {
			return err
		}

		report, err = d.CurationService.SetAPlus(ctx, cfg.Rank.APlus.Add.Titles, true)
	case "rank aplus remove":
		if err := validate.Titles(cfg.Rank.APlus.Remove.Titles); err != nil {
			return err
		}

		report, err = d.CurationService.SetAPlus(ctx, cfg.Rank.APlus.Remove.Titles, false)
	case "rank aplus clear":
		var n int

		n, err = d.CurationService.ClearAPlus(ctx)
		report = map[string]int{"cleared": n}
	case "rank aplus list":
		report, err = d.CurationService.ListAPlus(ctx)
	default:
		return errors.Errorf("unknown command '%s'", command)
	}

	if err != nil {
		return err
	}

	return printJSON(report)
}

func runImport(d *deps.Dependencies) (interface{}, error) {
	lines := append([]string{}, d.Config.Import.Inputs...)

	if d.Config.Import.InputFile != "" {
		data, err := afero.ReadFile(d.Fs, d.Config.Import.InputFile)
		if err != nil {
			return nil, errors.Wrap(err, "unable to read input file")
		}

		lines = append(lines, strings.Split(string(data), "\n")...)
	}

	inputs := importer.ParseInputs(lines)
	if len(inputs) == 0 {
		return nil, errors.New("no inputs to import")
	}

	o, err := d.NewOrchestrator()
	if err != nil {
		return nil, errors.Wrap(err, "unable to create orchestrator")
	}

	return o.Run(d.ShutdownCtx, ImportBatch, importer.Items(inputs), d.ImporterService.ProcessItem)
}

func printJSON(v interface{}) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")

	return enc.Encode(v)
}
