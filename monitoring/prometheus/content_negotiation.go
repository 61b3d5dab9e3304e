package prometheus

import (
	"bytes"
	"encoding/json"
	"net/http"

	"github.com/golang/gddo/httputil"
	"github.com/pkg/errors"
)

const (
	contentTypePlainText = "text/plain"
	contentTypeJSON      = "application/json"
)

// generatedResponse wraps handler output so that JSON clients receive both the
// payload and any protocol error in one envelope.
type generatedResponse struct {
	Err  string      `json:"error"`
	Data interface{} `json:"data"`
}

// negotiateContentType picks the response content type from the Accept header,
// defaulting to plain text for curl-style probes.
func negotiateContentType(r *http.Request) string {
	return httputil.NegotiateContentType(r, []string{contentTypePlainText, contentTypeJSON}, contentTypePlainText)
}

func writeResponse(w http.ResponseWriter, r *http.Request, response generatedResponse) error {
	switch negotiateContentType(r) {
	case contentTypePlainText:
		buf, ok := response.Data.(bytes.Buffer)
		if !ok {
			return errors.Errorf("unexpected data: %v", response.Data)
		}
		if _, err := w.Write(buf.Bytes()); err != nil {
			return errors.Wrap(err, "could not write response body")
		}
	case contentTypeJSON:
		w.Header().Set("Content-Type", contentTypeJSON)
		return json.NewEncoder(w).Encode(response)
	}
	return nil
}
