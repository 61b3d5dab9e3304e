package fdsnws

import (
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/eidaws/eidaws/streams"
)

// DefaultNoData is the status emitted for empty results unless the client
// overrides it with the nodata parameter.
const DefaultNoData = http.StatusNoContent

// DefaultDocURI is referenced from error bodies when no service specific
// documentation URI is configured.
const DefaultDocURI = "http://www.fdsn.org/webservices/"

// Error is a request failure with a defined FDSNWS status code. Its
// description ends up in the plain text error body.
type Error struct {
	Code        int
	Description string
}

// NewError returns an FDSNWS error with the given status code.
func NewError(code int, description string) *Error {
	return &Error{Code: code, Description: description}
}

func (e *Error) Error() string {
	return fmt.Sprintf("error %d: %s", e.Code, e.Description)
}

// StatusCode returns the status code of err: the embedded code for FDSNWS
// errors, 500 otherwise.
func StatusCode(err error) int {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Code
	}
	return http.StatusInternalServerError
}

// The standardized FDSNWS error body.
const errorBody = `Error %d: %s

%s

Usage details are available from %s

Request:
%s

Request Submitted:
%s

Service version:
%s
`

// ErrorWriter renders FDSNWS conformant plain text error bodies.
type ErrorWriter struct {
	// Version is reported as the service version.
	Version string
	// DocURI points at the service documentation.
	DocURI string
	// ProxyNetloc, when set, replaces the authority of the submitted URL.
	ProxyNetloc string
}

// WriteError renders err as an FDSNWS error body. Errors without a defined
// status code are reported as internal server errors without leaking their
// message.
func (ew ErrorWriter) WriteError(w http.ResponseWriter, r *http.Request, err error) {
	code := StatusCode(err)
	description := http.StatusText(code)
	var fe *Error
	if errors.As(err, &fe) && fe.Description != "" {
		description = fe.Description
	}
	ew.write(w, r, code, description)
}

// WriteNoData emits the configured no-data response: a bare 204, or a 404
// carrying an error body.
func (ew ErrorWriter) WriteNoData(w http.ResponseWriter, r *http.Request, status int) {
	if status == http.StatusNoContent {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	ew.write(w, r, http.StatusNotFound, "No data available for request.")
}

func (ew ErrorWriter) write(w http.ResponseWriter, r *http.Request, code int, description string) {
	docURI := ew.DocURI
	if docURI == "" {
		docURI = DefaultDocURI
	}
	body := fmt.Sprintf(errorBody,
		code, http.StatusText(code),
		description,
		docURI,
		ew.RequestURL(r),
		streams.FormatTime(time.Now().UTC())+"Z",
		ew.Version,
	)
	w.Header().Set("Content-Type", ContentTypeText)
	w.WriteHeader(code)
	_, _ = w.Write([]byte(body))
}

// RequestURL reconstructs the submitted URL for display in error bodies,
// honoring the configured proxy netloc.
func (ew ErrorWriter) RequestURL(r *http.Request) string {
	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}
	host := r.Host
	if ew.ProxyNetloc != "" {
		host = ew.ProxyNetloc
	}
	return fmt.Sprintf("%s://%s%s", scheme, host, r.URL.RequestURI())
}
