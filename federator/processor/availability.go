package processor

import (
	"context"
	"sort"
	"strings"
	"time"

	"github.com/eidaws/eidaws/fdsnws"
	"github.com/eidaws/eidaws/federator/routing"
	"github.com/eidaws/eidaws/streams"
)

// availColumn describes one column of the availability text and GeoCSV
// representations.
type availColumn struct {
	name string
	unit string
	typ  string
}

var (
	availQueryColumns = []availColumn{
		{"Network", "unitless", "string"},
		{"Station", "unitless", "string"},
		{"Location", "unitless", "string"},
		{"Channel", "unitless", "string"},
		{"Quality", "unitless", "string"},
		{"SampleRate", "hertz", "float"},
		{"Earliest", "ISO_8601", "datetime"},
		{"Latest", "ISO_8601", "datetime"},
	}
	availExtentColumns = append(append([]availColumn{}, availQueryColumns...),
		availColumn{"Updated", "ISO_8601", "datetime"},
		availColumn{"TimeSpans", "unitless", "integer"},
		availColumn{"Restriction", "unitless", "string"},
	)
	availUpdatedColumn = availColumn{"Updated", "ISO_8601", "datetime"}
)

// planAvailability federates fdsnws-availability for both the query and the
// extent method. Output follows the documented nslc order: workers collect
// per network and the sorted drain restores the network order.
func planAvailability(p *Processor, q *fdsnws.Query) (*plan, error) {
	format := q.Params.Get(fdsnws.ParamFormat)
	extent := q.Method == fdsnws.MethodExtent

	pl := &plan{
		typeTag:     availabilityTypeTag(format, extent),
		contentType: p.svc.ContentType(format),
		sorted:      true,
	}
	var transform func([]byte) []byte
	switch format {
	case "json":
		created := streams.FormatTime(p.now().UTC()) + "Z"
		pl.header = []byte(`{"created":"` + created + `","datasources":[`)
		pl.footer = []byte("]}")
		pl.separator = []byte(",")
		transform = extractDatasources
	case "geocsv":
		pl.header = []byte(geoCSVHeader(availabilityColumns(q, extent)))
		pl.footer = []byte("\n")
		pl.separator = []byte("\n")
		transform = stripGeoCSVHeader
	case "request":
		pl.footer = []byte("\n")
		pl.separator = []byte("\n")
		transform = func(b []byte) []byte { return b }
	default: // text
		pl.header = []byte(textHeader(availabilityColumns(q, extent)))
		pl.footer = []byte("\n")
		pl.separator = []byte("\n")
		transform = stripHeaderLine
	}

	pl.jobs = func(c *endpointClient, res *routing.Resolution) ([]job, error) {
		groups, err := availabilityGroups(res)
		if err != nil {
			return nil, err
		}
		jobs := make([]job, 0, len(groups))
		for i, g := range groups {
			g := g
			w := &availabilityWorker{client: c, transform: transform, separator: pl.separator}
			jobs = append(jobs, job{priority: i, collect: func(ctx context.Context) ([]byte, error) {
				return w.collect(ctx, g)
			}})
		}
		return jobs, nil
	}
	return pl, nil
}

func availabilityTypeTag(format string, extent bool) string {
	tag := "federator-availability-" + format
	if extent {
		tag += "-extent"
	}
	return tag
}

// availabilityColumns derives the column set from the merge and show
// parameters: merged dimensions disappear from the output.
func availabilityColumns(q *fdsnws.Query, extent bool) []availColumn {
	base := availQueryColumns
	if extent {
		base = availExtentColumns
	}
	merge := q.Params.Get("merge")
	out := make([]availColumn, 0, len(base)+1)
	for _, col := range base {
		if merge == "quality" && col.name == "Quality" {
			continue
		}
		if merge == "samplerate" && col.name == "SampleRate" {
			continue
		}
		out = append(out, col)
	}
	if !extent && q.Params.Get("show") == "latestupdate" {
		out = append(out, availUpdatedColumn)
	}
	return out
}

func textHeader(cols []availColumn) string {
	names := make([]string, len(cols))
	for i, c := range cols {
		names[i] = c.name
	}
	return "#" + strings.Join(names, " ") + "\n"
}

// geoCSVHeader renders the GeoCSV 2.0 metadata block plus the field name
// row.
func geoCSVHeader(cols []availColumn) string {
	var names, units, types []string
	for _, c := range cols {
		names = append(names, c.name)
		units = append(units, c.unit)
		types = append(types, c.typ)
	}
	return "#dataset: GeoCSV 2.0\n" +
		"#delimiter: |\n" +
		"#field_unit: " + strings.Join(units, "|") + "\n" +
		"#field_type: " + strings.Join(types, "|") + "\n" +
		strings.Join(names, "|") + "\n"
}

// availabilityGroups reduces the routed epochs of every stream to their hull
// and partitions the resulting sub-requests by network, ordered by stream
// codes. A stream routed to more than one endpoint cannot be merged
// order-preservingly and yields no data.
func availabilityGroups(res *routing.Resolution) ([][]routeEntry, error) {
	type hull struct {
		url   string
		urls  map[string]struct{}
		se    streams.StreamEpoch
		open  bool
		valid bool
	}
	byStream := map[streams.Stream]*hull{}
	for _, rt := range res.Routes {
		for _, se := range rt.StreamEpochs {
			h := byStream[se.Stream]
			if h == nil {
				h = &hull{url: rt.URL, urls: map[string]struct{}{}, se: se, open: se.EndTime.IsZero()}
				byStream[se.Stream] = h
			}
			h.urls[rt.URL] = struct{}{}
			if se.StartTime.Before(h.se.StartTime) {
				h.se.StartTime = se.StartTime
			}
			if se.EndTime.IsZero() {
				h.open = true
			} else if !h.open && se.EndTime.After(h.se.EndTime) {
				h.se.EndTime = se.EndTime
			}
		}
	}

	entries := make([]routeEntry, 0, len(byStream))
	for s, h := range byStream {
		if len(h.urls) > 1 {
			log.WithField("stream", s.String()).Warn("Stream epochs distributed over multiple endpoints, returning no data")
			return nil, errNoData
		}
		if h.open {
			h.se.EndTime = time.Time{}
		}
		entries = append(entries, routeEntry{url: h.url, se: h.se})
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].se.Less(entries[j].se) })

	var groups [][]routeEntry
	for _, e := range entries {
		n := len(groups)
		if n == 0 || groups[n-1][0].se.Stream.Network != e.se.Stream.Network {
			groups = append(groups, []routeEntry{e})
			continue
		}
		groups[n-1] = append(groups[n-1], e)
	}
	return groups, nil
}
