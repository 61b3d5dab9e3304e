// Package fdsnws implements the protocol surface shared by FDSN and EIDA web
// services: service identifiers and URL paths, query parameter schemas with
// alias resolution, the standardized plain text error body, and construction
// of upstream GET/POST requests.
package fdsnws

import (
	"fmt"

	"github.com/pkg/errors"
)

// Service identifies an FDSN or EIDA web service.
type Service string

// Services federated by the gateway or served by the resolver.
const (
	ServiceDataselect   Service = "dataselect"
	ServiceStation      Service = "station"
	ServiceAvailability Service = "availability"
	ServiceWFCatalog    Service = "wfcatalog"
	ServiceRouting      Service = "routing"
	ServiceStationLite  Service = "stationlite"
)

// Method tokens of FDSN service URLs.
const (
	MethodQuery      = "query"
	MethodQueryAuth  = "queryauth"
	MethodExtent     = "extent"
	MethodExtentAuth = "extentauth"
	MethodVersion    = "version"
	MethodWADL       = "application.wadl"
)

// MajorVersion is the major version path segment of all served and consumed
// service URLs.
const MajorVersion = "1"

// Content types emitted by the federated services.
const (
	ContentTypeMSeed = "application/vnd.fdsn.mseed"
	ContentTypeXML   = "application/xml"
	ContentTypeText  = "text/plain; charset=utf-8"
	ContentTypeCSV   = "text/csv"
	ContentTypeJSON  = "application/json"
)

// ParseService decodes a service name.
func ParseService(name string) (Service, error) {
	switch Service(name) {
	case ServiceDataselect, ServiceStation, ServiceAvailability, ServiceWFCatalog, ServiceRouting, ServiceStationLite:
		return Service(name), nil
	}
	return "", errors.Errorf("invalid service: %q", name)
}

// Prefix returns the URL namespace of the service, fdsnws for standardized
// FDSN services and eidaws for EIDA specific ones.
func (s Service) Prefix() string {
	switch s {
	case ServiceWFCatalog, ServiceRouting, ServiceStationLite:
		return "eidaws"
	default:
		return "fdsnws"
	}
}

// Path returns the absolute URL path of one service method, e.g.
// /fdsnws/dataselect/1/query.
func (s Service) Path(method string) string {
	return fmt.Sprintf("/%s/%s/%s/%s", s.Prefix(), s, MajorVersion, method)
}

// QueryMethods lists the method tokens that resolve to data for the service.
func (s Service) QueryMethods() []string {
	if s == ServiceAvailability {
		return []string{MethodQuery, MethodQueryAuth, MethodExtent, MethodExtentAuth}
	}
	return []string{MethodQuery, MethodQueryAuth}
}

// ContentType returns the response content type for a validated format
// parameter value.
func (s Service) ContentType(format string) string {
	switch s {
	case ServiceDataselect:
		return ContentTypeMSeed
	case ServiceStation:
		if format == "text" {
			return ContentTypeText
		}
		return ContentTypeXML
	case ServiceWFCatalog, ServiceStationLite:
		return ContentTypeJSON
	case ServiceAvailability:
		switch format {
		case "json":
			return ContentTypeJSON
		case "geocsv":
			return ContentTypeCSV
		default:
			return ContentTypeText
		}
	default:
		return ContentTypeText
	}
}
