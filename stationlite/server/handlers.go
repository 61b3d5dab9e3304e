package server

import (
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/eidaws/eidaws/fdsnws"
	"github.com/eidaws/eidaws/stationlite/db"
	"github.com/eidaws/eidaws/streams"
)

// routingHandler serves the eidaws-routing query method: stream epochs are
// resolved into dispatchable routes and written as plain text blocks of one
// endpoint URL line followed by its stream epoch lines.
func (s *Service) routingHandler(w http.ResponseWriter, r *http.Request) {
	q, err := s.parseRequest(w, r, fdsnws.RoutingSchema())
	if err != nil {
		s.reject(w, r, err)
		return
	}

	routes, err := s.cfg.resolver.QueryRoutes(r.Context(), &db.RouteQuery{
		StreamEpochs: q.StreamEpochs(),
		Service:      q.Params.Get(fdsnws.ParamService),
		Level:        q.Params.Get(fdsnws.ParamLevel),
		Access:       q.Params.Get(fdsnws.ParamAccess),
		Method:       q.Params.Get("method"),
		BBox:         bboxFromParams(q.Params),
	})
	if err != nil {
		s.writeResolutionError(w, r, err)
		return
	}
	if len(routes) == 0 {
		s.cfg.errorWriter.WriteNoData(w, r, q.NoData)
		return
	}

	w.Header().Set("Content-Type", fdsnws.ContentTypeText)
	_, _ = io.WriteString(w, formatRouteBlocks(routes))
}

// formatRouteBlocks renders routes in the eidaws-routing text form, blocks
// separated by one blank line.
func formatRouteBlocks(routes []streams.Route) string {
	var b strings.Builder
	for i, rt := range routes {
		if i > 0 {
			b.WriteByte('\n')
		}
		b.WriteString(rt.URL)
		b.WriteByte('\n')
		for _, se := range rt.StreamEpochs {
			b.WriteString(se.FDSNLine())
			b.WriteByte('\n')
		}
	}
	return b.String()
}

// channelEpochJSON is the wire form of one stationlite channel epoch. Codes
// above the requested level stay empty; an open ended epoch omits its end
// time.
type channelEpochJSON struct {
	Network    string `json:"network"`
	Station    string `json:"station"`
	Location   string `json:"location"`
	Channel    string `json:"channel"`
	StartTime  string `json:"starttime"`
	EndTime    string `json:"endtime,omitempty"`
	Restricted string `json:"restrictedStatus"`
}

// stationLiteHandler serves the eidaws-stationlite query method: the merged
// entity epochs matching the request as a JSON array.
func (s *Service) stationLiteHandler(w http.ResponseWriter, r *http.Request) {
	q, err := s.parseRequest(w, r, fdsnws.StationLiteSchema())
	if err != nil {
		s.reject(w, r, err)
		return
	}

	epochs, err := s.cfg.resolver.QueryChannels(r.Context(), &db.ChannelQuery{
		StreamEpochs: q.StreamEpochs(),
		Level:        q.Params.Get(fdsnws.ParamLevel),
	})
	if err != nil {
		s.writeResolutionError(w, r, err)
		return
	}
	if len(epochs) == 0 {
		s.cfg.errorWriter.WriteNoData(w, r, q.NoData)
		return
	}

	out := make([]channelEpochJSON, 0, len(epochs))
	for _, ep := range epochs {
		row := channelEpochJSON{
			Network:    ep.Stream.Network,
			Station:    ep.Stream.Station,
			Location:   ep.Stream.Location,
			Channel:    ep.Stream.Channel,
			StartTime:  streams.FormatTime(ep.StartTime),
			Restricted: ep.Restricted,
		}
		if !ep.EndTime.IsZero() {
			row.EndTime = streams.FormatTime(ep.EndTime)
		}
		out = append(out, row)
	}
	w.Header().Set("Content-Type", fdsnws.ContentTypeJSON)
	if err := json.NewEncoder(w).Encode(out); err != nil {
		log.WithError(err).Debug("Failed to write stationlite response")
	}
}

func (s *Service) reject(w http.ResponseWriter, r *http.Request, err error) {
	log.WithFields(logrus.Fields{
		"client": clientAddr(r, s.cfg.numForwarded),
		"url":    r.URL.RequestURI(),
	}).WithError(err).Debug("Rejecting request")
	s.cfg.errorWriter.WriteError(w, r, err)
}

// writeResolutionError maps store failures onto FDSNWS errors. Constraint
// violations the schema could not catch are the client's fault, anything else
// is internal.
func (s *Service) writeResolutionError(w http.ResponseWriter, r *http.Request, err error) {
	if r.Context().Err() != nil {
		return
	}
	if errors.Is(err, db.ErrInvalidService) || errors.Is(err, db.ErrInvalidSpatialConstraints) {
		s.reject(w, r, fdsnws.NewError(http.StatusBadRequest, err.Error()))
		return
	}
	log.WithError(err).Error("Resolution against the routing store failed")
	s.cfg.errorWriter.WriteError(w, r, err)
}

// bboxFromParams assembles the spatial constraint of a request. Omitted
// bounds fall back to the full coordinate range.
func bboxFromParams(params url.Values) *db.BBox {
	given := false
	parse := func(key string, def float64) float64 {
		v := params.Get(key)
		if v == "" {
			return def
		}
		given = true
		f, _ := strconv.ParseFloat(v, 64)
		return f
	}
	b := &db.BBox{
		MinLatitude:  parse("minlatitude", -90),
		MaxLatitude:  parse("maxlatitude", 90),
		MinLongitude: parse("minlongitude", -180),
		MaxLongitude: parse("maxlongitude", 180),
	}
	if !given {
		return nil
	}
	return b
}
