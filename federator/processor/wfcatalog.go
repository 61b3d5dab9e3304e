package processor

import (
	"context"

	"github.com/eidaws/eidaws/fdsnws"
	"github.com/eidaws/eidaws/federator/routing"
)

// planWFCatalog federates eidaws-wfcatalog: granular JSON sub-requests with
// split-and-align on 413, merged into a single top level array.
func planWFCatalog(p *Processor, _ *fdsnws.Query) (*plan, error) {
	return &plan{
		typeTag:     "federator-wfcatalog-json",
		contentType: fdsnws.ContentTypeJSON,
		header:      []byte("["),
		footer:      []byte("]"),
		separator:   []byte(","),
		jobs: func(c *endpointClient, res *routing.Resolution) ([]job, error) {
			entries := granularEntries(res)
			jobs := make([]job, 0, len(entries))
			for _, e := range entries {
				e := e
				w := p.newSplitWorker(c, wfcatalogAppender{})
				jobs = append(jobs, job{run: func(ctx context.Context, rw *responseWriter) error {
					return w.run(ctx, e.url, e.se, rw)
				}})
			}
			return jobs, nil
		},
	}, nil
}
