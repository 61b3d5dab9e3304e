package processor

import (
	"context"
	"fmt"
	"net/http"
	"sort"

	"github.com/eidaws/eidaws/fdsnws"
	"github.com/eidaws/eidaws/federator/routing"
	"github.com/eidaws/eidaws/streams"
)

// Station text headers by level, as defined by the FDSN station service.
var stationTextHeaders = map[string]string{
	"network": "#Network|Description|StartTime|EndTime|TotalStations\n",
	"station": "#Network|Station|Latitude|Longitude|Elevation|SiteName|StartTime|EndTime\n",
	"channel": "#Network|Station|Location|Channel|Latitude|Longitude|Elevation|Depth|" +
		"Azimuth|Dip|SensorDescription|Scale|ScaleFreq|ScaleUnits|SampleRate|StartTime|EndTime\n",
}

const stationXMLHeaderFormat = `<?xml version="1.0" encoding="UTF-8"?>` + "\n" +
	`<FDSNStationXML xmlns="http://www.fdsn.org/xml/station/1" schemaVersion="1.1">` +
	`<Source>EIDA</Source><Created>%s</Created>` + "\n"

const stationXMLFooter = "</FDSNStationXML>\n"

// planStation federates fdsnws-station. The text format concatenates rows
// under a single header; the xml format merges Network documents by
// attribute identity inside a fresh FDSNStationXML envelope.
func planStation(p *Processor, q *fdsnws.Query) (*plan, error) {
	level := q.Params.Get(fdsnws.ParamLevel)
	if q.Params.Get(fdsnws.ParamFormat) == "text" {
		header, ok := stationTextHeaders[level]
		if !ok {
			return nil, fdsnws.NewError(http.StatusBadRequest,
				"format text is not available for level "+level)
		}
		return &plan{
			typeTag:     "federator-station-text",
			contentType: fdsnws.ContentTypeText,
			header:      []byte(header),
			jobs: func(c *endpointClient, res *routing.Resolution) ([]job, error) {
				entries := granularEntries(res)
				jobs := make([]job, 0, len(entries))
				for _, e := range entries {
					e := e
					w := &simpleWorker{client: c, transform: stripHeaderLine}
					jobs = append(jobs, job{run: func(ctx context.Context, rw *responseWriter) error {
						return w.run(ctx, e.url, e.se, rw)
					}})
				}
				return jobs, nil
			},
		}, nil
	}

	return &plan{
		typeTag:     "federator-station-xml",
		contentType: fdsnws.ContentTypeXML,
		header:      []byte(fmt.Sprintf(stationXMLHeaderFormat, streams.FormatTime(p.now().UTC()))),
		footer:      []byte(stationXMLFooter),
		jobs: func(c *endpointClient, res *routing.Resolution) ([]job, error) {
			groups := networkGroups(granularEntries(res))
			jobs := make([]job, 0, len(groups))
			for _, g := range groups {
				g := g
				w := &stationXMLWorker{client: c, level: level}
				jobs = append(jobs, job{run: func(ctx context.Context, rw *responseWriter) error {
					return w.run(ctx, g, rw)
				}})
			}
			return jobs, nil
		},
	}, nil
}

// networkGroups partitions granular entries by network code. Merging happens
// within a group, so one worker sees every document of its network
// regardless of the serving endpoint.
func networkGroups(entries []routeEntry) [][]routeEntry {
	byNet := map[string][]routeEntry{}
	for _, e := range entries {
		byNet[e.se.Stream.Network] = append(byNet[e.se.Stream.Network], e)
	}
	nets := make([]string, 0, len(byNet))
	for net := range byNet {
		nets = append(nets, net)
	}
	sort.Strings(nets)

	out := make([][]routeEntry, 0, len(nets))
	for _, net := range nets {
		group := byNet[net]
		sort.Slice(group, func(i, j int) bool {
			if group[i].se.Less(group[j].se) {
				return true
			}
			if group[j].se.Less(group[i].se) {
				return false
			}
			return group[i].url < group[j].url
		})
		out = append(out, group)
	}
	return out
}
