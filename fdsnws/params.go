package fdsnws

import (
	"bufio"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/eidaws/eidaws/streams"
)

// Canonical parameter names shared by all services.
const (
	ParamNetwork   = "network"
	ParamStation   = "station"
	ParamLocation  = "location"
	ParamChannel   = "channel"
	ParamStartTime = "starttime"
	ParamEndTime   = "endtime"
	ParamNoData    = "nodata"
	ParamFormat    = "format"
	ParamLevel     = "level"
	ParamService   = "service"
	ParamAccess    = "access"
	ParamOrderBy   = "orderby"
)

// paramAliases maps shorthand parameter names onto their canonical form.
var paramAliases = map[string]string{
	"net":    ParamNetwork,
	"sta":    ParamStation,
	"loc":    ParamLocation,
	"cha":    ParamChannel,
	"start":  ParamStartTime,
	"end":    ParamEndTime,
	"minlat": "minlatitude",
	"maxlat": "maxlatitude",
	"minlon": "minlongitude",
	"maxlon": "maxlongitude",
}

type paramKind int

const (
	kindString paramKind = iota
	kindFloat
	kindInt
	kindBool
)

type paramSpec struct {
	kind    paramKind
	choices []string
	def     string
}

func (p paramSpec) valid(v string) bool {
	switch p.kind {
	case kindFloat:
		_, err := strconv.ParseFloat(v, 64)
		return err == nil
	case kindInt:
		_, err := strconv.Atoi(v)
		return err == nil
	case kindBool:
		return v == "true" || v == "false"
	}
	if len(p.choices) == 0 {
		return true
	}
	for _, c := range p.choices {
		if v == c {
			return true
		}
	}
	return false
}

// Schema validates the query parameters of one service.
type Schema struct {
	Service Service
	params  map[string]paramSpec
}

// DataselectSchema returns the parameter schema of fdsnws-dataselect.
func DataselectSchema() Schema {
	return Schema{Service: ServiceDataselect, params: map[string]paramSpec{
		"quality":       {choices: []string{"D", "R", "Q", "M", "B"}, def: "B"},
		"minimumlength": {kind: kindFloat, def: "0.0"},
		"longestonly":   {kind: kindBool, def: "false"},
		ParamFormat:     {choices: []string{"miniseed"}, def: "miniseed"},
	}}
}

// StationSchema returns the parameter schema of fdsnws-station.
func StationSchema() Schema {
	return Schema{Service: ServiceStation, params: map[string]paramSpec{
		ParamLevel:          {choices: []string{"network", "station", "channel", "response"}, def: "station"},
		ParamFormat:         {choices: []string{"xml", "text"}, def: "xml"},
		"includerestricted": {kind: kindBool, def: "true"},
		"matchtimeseries":   {kind: kindBool, def: "false"},
		"minlatitude":       {kind: kindFloat},
		"maxlatitude":       {kind: kindFloat},
		"minlongitude":      {kind: kindFloat},
		"maxlongitude":      {kind: kindFloat},
	}}
}

// WFCatalogSchema returns the parameter schema of eidaws-wfcatalog.
func WFCatalogSchema() Schema {
	return Schema{Service: ServiceWFCatalog, params: map[string]paramSpec{
		"csegments":     {kind: kindBool, def: "false"},
		"cquality":      {kind: kindBool, def: "false"},
		"granularity":   {choices: []string{"day"}, def: "day"},
		"include":       {choices: []string{"default", "sample", "header", "all"}, def: "default"},
		"longestonly":   {kind: kindBool, def: "false"},
		"minimumlength": {kind: kindFloat},
		ParamFormat:     {choices: []string{"json"}, def: "json"},
	}}
}

// AvailabilitySchema returns the parameter schema of fdsnws-availability.
// Only the documented orderby value is accepted.
func AvailabilitySchema() Schema {
	return Schema{Service: ServiceAvailability, params: map[string]paramSpec{
		ParamFormat:         {choices: []string{"text", "json", "geocsv", "request"}, def: "text"},
		ParamOrderBy:        {choices: []string{"nslc_time_quality_samplerate"}, def: "nslc_time_quality_samplerate"},
		"merge":             {choices: []string{"samplerate", "quality", "overlap"}},
		"mergegaps":         {kind: kindFloat},
		"quality":           {choices: []string{"D", "R", "Q", "M", "*"}, def: "*"},
		"limit":             {kind: kindInt},
		"show":              {choices: []string{"latestupdate"}},
		"includerestricted": {kind: kindBool, def: "true"},
	}}
}

// RoutingSchema returns the parameter schema of the eidaws-routing surface.
func RoutingSchema() Schema {
	return Schema{Service: ServiceRouting, params: map[string]paramSpec{
		ParamService: {choices: []string{"dataselect", "station", "wfcatalog", "availability"}, def: "dataselect"},
		ParamLevel:   {choices: []string{"network", "station", "channel", "response"}, def: "channel"},
		ParamAccess:  {choices: []string{"any", "open", "closed"}, def: "any"},
		ParamFormat:  {choices: []string{"post"}, def: "post"},
		"method":     {choices: []string{MethodQuery, MethodQueryAuth, MethodExtent, MethodExtentAuth}},
		"minlatitude":  {kind: kindFloat},
		"maxlatitude":  {kind: kindFloat},
		"minlongitude": {kind: kindFloat},
		"maxlongitude": {kind: kindFloat},
	}}
}

// StationLiteSchema returns the parameter schema of the eidaws-stationlite
// JSON surface.
func StationLiteSchema() Schema {
	return Schema{Service: ServiceStationLite, params: map[string]paramSpec{
		ParamLevel: {choices: []string{"network", "station", "channel"}, def: "channel"},
	}}
}

// SchemaFor returns the parameter schema of svc.
func SchemaFor(svc Service) Schema {
	switch svc {
	case ServiceStation:
		return StationSchema()
	case ServiceAvailability:
		return AvailabilitySchema()
	case ServiceWFCatalog:
		return WFCatalogSchema()
	case ServiceRouting:
		return RoutingSchema()
	case ServiceStationLite:
		return StationLiteSchema()
	default:
		return DataselectSchema()
	}
}

// Query holds one validated FDSNWS request: stream code lists, the time
// window, the resolved no-data status and the surviving service parameters
// including schema defaults. Method carries the URL method token the request
// was submitted under when it differs from query, e.g. extent.
type Query struct {
	Service Service
	Method  string

	Networks  []string
	Stations  []string
	Locations []string
	Channels  []string

	Start time.Time
	End   time.Time

	NoData int
	Params url.Values

	post   bool
	epochs []streams.StreamEpoch
}

// Post reports whether the query was submitted as a POST payload.
func (q *Query) Post() bool {
	return q.post
}

// Window returns the time constraints of the query.
func (q *Query) Window() streams.Epoch {
	return streams.Epoch{Start: q.Start, End: q.End}
}

// StreamEpochs expands the query into stream epochs. POST queries yield their
// submitted lines; GET queries yield the cross product of the code lists over
// the single query window.
func (q *Query) StreamEpochs() []streams.StreamEpoch {
	if q.post {
		return q.epochs
	}
	var out []streams.StreamEpoch
	for _, net := range q.Networks {
		for _, sta := range q.Stations {
			for _, loc := range q.Locations {
				for _, cha := range q.Channels {
					out = append(out, streams.StreamEpoch{
						Stream:    streams.Stream{Network: net, Station: sta, Location: loc, Channel: cha},
						StartTime: q.Start,
						EndTime:   q.End,
					})
				}
			}
		}
	}
	return out
}

// ParseQuery validates GET query parameters against the schema.
func (s Schema) ParseQuery(values url.Values) (*Query, error) {
	q := &Query{Service: s.Service, NoData: DefaultNoData, Params: url.Values{}}

	seen := map[string]bool{}
	for key, vals := range values {
		canonical := key
		if alias, ok := paramAliases[key]; ok {
			canonical = alias
		}
		if len(vals) != 1 || seen[canonical] {
			return nil, NewError(http.StatusBadRequest, "duplicate parameter: "+key)
		}
		seen[canonical] = true
		v := strings.TrimSpace(vals[0])

		switch canonical {
		case ParamNetwork:
			q.Networks = splitCodes(v)
		case ParamStation:
			q.Stations = splitCodes(v)
		case ParamLocation:
			q.Locations = splitCodes(v)
		case ParamChannel:
			q.Channels = splitCodes(v)
		case ParamStartTime:
			t, err := streams.ParseTime(v)
			if err != nil {
				return nil, NewError(http.StatusBadRequest, err.Error())
			}
			q.Start = t
		case ParamEndTime:
			t, err := streams.ParseTime(v)
			if err != nil {
				return nil, NewError(http.StatusBadRequest, err.Error())
			}
			q.End = t
		case ParamNoData:
			nodata, err := parseNoData(v)
			if err != nil {
				return nil, err
			}
			q.NoData = nodata
		default:
			spec, ok := s.params[canonical]
			if !ok {
				return nil, NewError(http.StatusBadRequest, "unknown parameter: "+key)
			}
			if !spec.valid(v) {
				return nil, NewError(http.StatusBadRequest, "invalid value for parameter "+canonical+": "+v)
			}
			q.Params.Set(canonical, v)
		}
	}

	if err := q.finalize(s); err != nil {
		return nil, err
	}
	return q, nil
}

// ParsePost validates an FDSNWS POST payload: key=value parameter lines
// followed by one stream epoch line per stream. Missing end times are
// substituted with defaultEnd.
func (s Schema) ParsePost(r io.Reader, defaultEnd time.Time) (*Query, error) {
	q := &Query{Service: s.Service, NoData: DefaultNoData, Params: url.Values{}, post: true}

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if idx := strings.Index(line, "="); idx > 0 && !strings.ContainsAny(line[:idx], " \t") {
			key := strings.TrimSpace(line[:idx])
			if alias, ok := paramAliases[key]; ok {
				key = alias
			}
			v := strings.TrimSpace(line[idx+1:])
			if key == ParamNoData {
				nodata, err := parseNoData(v)
				if err != nil {
					return nil, err
				}
				q.NoData = nodata
				continue
			}
			spec, ok := s.params[key]
			if !ok {
				return nil, NewError(http.StatusBadRequest, "unknown parameter: "+key)
			}
			if !spec.valid(v) {
				return nil, NewError(http.StatusBadRequest, "invalid value for parameter "+key+": "+v)
			}
			q.Params.Set(key, v)
			continue
		}
		se, err := streams.ParsePostLine(line, defaultEnd)
		if err != nil {
			return nil, NewError(http.StatusBadRequest, err.Error())
		}
		q.epochs = append(q.epochs, se)
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	if len(q.epochs) == 0 {
		return nil, NewError(http.StatusBadRequest, "request contains no stream epochs")
	}

	if err := q.finalize(s); err != nil {
		return nil, err
	}
	return q, nil
}

// finalize applies wildcard and schema defaults and validates the window.
func (q *Query) finalize(s Schema) error {
	if !q.post {
		if len(q.Networks) == 0 {
			q.Networks = []string{"*"}
		}
		if len(q.Stations) == 0 {
			q.Stations = []string{"*"}
		}
		if len(q.Locations) == 0 {
			q.Locations = []string{"*"}
		}
		if len(q.Channels) == 0 {
			q.Channels = []string{"*"}
		}
		if !q.Start.IsZero() && !q.End.IsZero() && !q.Start.Before(q.End) {
			return NewError(http.StatusBadRequest, "start time must precede end time")
		}
	}
	for name, spec := range s.params {
		if spec.def != "" && q.Params.Get(name) == "" {
			q.Params.Set(name, spec.def)
		}
	}
	if err := validateBBox(q.Params); err != nil {
		return err
	}
	return nil
}

// validateBBox rejects spatial constraints where a minimum meets or exceeds
// its maximum.
func validateBBox(params url.Values) error {
	check := func(minKey, maxKey string) error {
		minV, maxV := params.Get(minKey), params.Get(maxKey)
		if minV == "" || maxV == "" {
			return nil
		}
		lo, _ := strconv.ParseFloat(minV, 64)
		hi, _ := strconv.ParseFloat(maxV, 64)
		if lo >= hi {
			return NewError(http.StatusBadRequest, "invalid spatial constraints")
		}
		return nil
	}
	if err := check("minlatitude", "maxlatitude"); err != nil {
		return err
	}
	return check("minlongitude", "maxlongitude")
}

// splitCodes splits a comma separated code list, normalizing the blank
// location placeholder.
func splitCodes(v string) []string {
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == streams.EmptyLocation {
			p = ""
		}
		out = append(out, p)
	}
	return out
}

func parseNoData(v string) (int, error) {
	switch v {
	case "204":
		return 204, nil
	case "404":
		return 404, nil
	}
	return 0, NewError(http.StatusBadRequest, "invalid value for parameter nodata: "+v)
}

// SortedParams returns the query parameters as sorted key=value strings,
// excluding the given keys. Used for canonical request fingerprints.
func SortedParams(params url.Values, exclude ...string) []string {
	skip := map[string]bool{}
	for _, k := range exclude {
		skip[k] = true
	}
	out := make([]string, 0, len(params))
	for k, vals := range params {
		if skip[k] {
			continue
		}
		for _, v := range vals {
			out = append(out, k+"="+v)
		}
	}
	sort.Strings(out)
	return out
}
