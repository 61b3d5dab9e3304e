package processor

import (
	"context"

	"github.com/eidaws/eidaws/fdsnws"
	"github.com/eidaws/eidaws/federator/routing"
)

// planDataselect federates fdsnws-dataselect: one MiniSEED sub-request per
// routed stream epoch, split and refetched when an endpoint rejects the
// window with 413. Record streams concatenate without an envelope.
func planDataselect(p *Processor, _ *fdsnws.Query) (*plan, error) {
	return &plan{
		typeTag:     "federator-dataselect-miniseed",
		contentType: fdsnws.ContentTypeMSeed,
		jobs: func(c *endpointClient, res *routing.Resolution) ([]job, error) {
			entries := granularEntries(res)
			jobs := make([]job, 0, len(entries))
			for _, e := range entries {
				e := e
				w := p.newSplitWorker(c, &mseedAppender{fallbackRecordSize: p.cfg.FallbackRecordSize})
				jobs = append(jobs, job{run: func(ctx context.Context, rw *responseWriter) error {
					return w.run(ctx, e.url, e.se, rw)
				}})
			}
			return jobs, nil
		},
	}, nil
}

// newSplitWorker wires a split-and-align worker with the processor's limits.
// Each granular sub-request gets its own instance, since appenders hold
// per-job alignment state.
func (p *Processor) newSplitWorker(c *endpointClient, a payloadAppender) *splitWorker {
	return &splitWorker{
		client:          c,
		appender:        a,
		splittingFactor: p.cfg.SplittingFactor,
		maxSplits:       p.cfg.MaxSplitOperations,
		tempDir:         p.cfg.TempDir,
		rollover:        p.cfg.BufferRollover,
		now:             p.now,
	}
}
