package musicbrainz

import (
	"context"
	"fmt"
	"strings"

	"github.com/pkg/errors"
	"go.uber.org/zap"
	cca "gopkg.in/mineo/gocaa.v1"

	"github.com/dselans/fivehundred/util"
)

// CoverArtSizes are probed in order before the original image.
var CoverArtSizes = []string{"500", "1200", "250"}

// CoverArt returns the first available front cover URL for the release
// group, or "" when the archive has none.
func (c *Client) CoverArt(ctx context.Context, mbid string) (string, error) {
	logger := c.log.With(zap.String("method", "CoverArt"), zap.String("mbid", mbid))

	base := strings.TrimRight(c.options.CoverArtBaseURL, "/") + "/release-group/" + mbid

	for _, size := range CoverArtSizes {
		candidate := fmt.Sprintf("%s/front-%s", base, size)

		err := c.get(ctx, "HEAD", candidate, false, nil)
		if err == nil {
			return candidate, nil
		}

		if util.IsNotFound(err) {
			logger.Debug("cover size unavailable", zap.String("size", size))
			continue
		}

		return "", errors.Wrapf(err, "unable to probe cover art size %s", size)
	}

	ok, err := c.originalCover(mbid)
	if err != nil {
		return "", errors.Wrap(err, "unable to probe original cover art")
	}

	if ok {
		return base + "/front", nil
	}

	return "", nil
}

// originalCover asks the archive for the original-size front image. The
// gocaa client panics on transport errors, so those are recovered here.
func (c *Client) originalCover(mbid string) (ok bool, err error) {
	id := cca.StringToUUID(mbid)
	if id == nil {
		return false, errors.Errorf("invalid mbid '%s'", mbid)
	}

	defer func() {
		if r := recover(); r != nil {
			ok = false
			err = errors.Errorf("cover art archive request failed: %v", r)
		}
	}()

	if _, err := c.options.CAA.GetReleaseGroupFront(id, cca.ImageSizeOriginal); err != nil {
		if httpErr, isHTTP := err.(cca.HTTPError); isHTTP && httpErr.StatusCode == 404 {
			return false, nil
		}

		return false, err
	}

	return true, nil
}
