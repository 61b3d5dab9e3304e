package routing

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/eidaws/eidaws/fdsnws"
	"github.com/eidaws/eidaws/streams"
)

// parseRoutes decodes the plain text response of the routing service: blocks
// of one endpoint URL line followed by stream epoch lines, blocks separated
// by a blank line. Endpoints over their retry budget are skipped as a whole.
func (c *Client) parseRoutes(ctx context.Context, r io.Reader, defaultEnd time.Time) (*Resolution, error) {
	res := &Resolution{}
	var (
		currentURL string
		skipping   bool
		epochs     []streams.StreamEpoch
		total      time.Duration
	)
	closeBlock := func() {
		if currentURL != "" && !skipping && len(epochs) > 0 {
			res.Routes = append(res.Routes, streams.Route{URL: currentURL, StreamEpochs: epochs})
		}
		currentURL, skipping, epochs = "", false, nil
	}

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			closeBlock()
			continue
		}
		if currentURL == "" {
			currentURL = line
			res.URLs = append(res.URLs, line)
			skipping = c.overBudget(ctx, line)
			continue
		}
		if skipping {
			continue
		}
		se, err := streams.ParsePostLine(line, defaultEnd)
		if err != nil {
			return nil, err
		}
		d := c.effectiveDuration(se)
		if c.cfg.MaxStreamEpochDuration > 0 && d > c.cfg.MaxStreamEpochDuration {
			return nil, fdsnws.NewError(http.StatusRequestEntityTooLarge,
				fmt.Sprintf("stream epoch duration of %s exceeds the limit of %s", se.Stream, c.cfg.MaxStreamEpochDuration))
		}
		total += d
		if c.cfg.MaxTotalDuration > 0 && total > c.cfg.MaxTotalDuration {
			return nil, fdsnws.NewError(http.StatusRequestEntityTooLarge,
				fmt.Sprintf("total stream epoch duration exceeds the limit of %s", c.cfg.MaxTotalDuration))
		}
		epochs = append(epochs, se)
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	closeBlock()

	sort.Strings(res.URLs)
	streams.SortRoutes(res.Routes)
	return res, nil
}

// overBudget consults the retry budget for an endpoint. Budget lookups fail
// open: an unreachable statistics backend must not take down federation.
func (c *Client) overBudget(ctx context.Context, endpointURL string) bool {
	if c.budget == nil {
		return false
	}
	exceeded, err := c.budget.Exceeded(ctx, endpointURL)
	if err != nil {
		log.WithError(err).WithField("url", endpointURL).Warn("Retry budget lookup failed, keeping endpoint")
		return false
	}
	if exceeded {
		log.WithField("url", endpointURL).Debug("Dropping endpoint over retry budget")
	}
	return exceeded
}

// effectiveDuration is the epoch duration with open ends valued at now, used
// for request size limiting.
func (c *Client) effectiveDuration(se streams.StreamEpoch) time.Duration {
	end := se.EndTime
	if end.IsZero() {
		end = c.now().UTC()
	}
	if !end.After(se.StartTime) {
		return 0
	}
	return end.Sub(se.StartTime)
}
