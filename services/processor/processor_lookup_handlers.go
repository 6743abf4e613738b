package processor

import (
	"context"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/dselans/fivehundred/services/importer"
	"github.com/dselans/fivehundred/services/publisher"
	"github.com/dselans/fivehundred/util"
)

func (p *Processor) handleLookupRequest(ctx context.Context, req *publisher.LookupRequest) error {
	in := importer.Input{Query: req.Query, Artist: req.Artist, Title: req.Title}

	_, logger := util.MethodSetup(ctx, p.log,
		zap.String("method", "handleLookupRequest"),
		zap.String("input", in.String()),
		zap.Bool("dryRun", req.DryRun))

	imp := p.options.Importer

	if req.DryRun {
		if p.options.Previewer == nil {
			logger.Warn("Dropping dry-run lookup; no previewer configured")
			return nil
		}

		imp = p.options.Previewer
	}

	out, err := imp.Process(ctx, in)
	if err != nil {
		return errors.Wrap(err, "unable to process lookup")
	}

	fields := []zap.Field{
		zap.String("status", string(out.Status)),
		zap.String("slug", out.Slug),
		zap.Strings("fieldsUpdated", out.FieldsUpdated),
		zap.Bool("lowConfidence", out.LowConfidence),
	}

	switch out.Status {
	case importer.StatusFailed:
		logger.Warn("Lookup failed", append(fields, zap.String("reason", out.Reason))...)
	case importer.StatusNotFound:
		logger.Info("Album not found", append(fields, zap.String("reason", out.Reason))...)
	default:
		logger.Info("Lookup processed", fields...)
	}

	return nil
}
