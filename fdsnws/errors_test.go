package fdsnws

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/eidaws/eidaws/testing/assert"
	"github.com/eidaws/eidaws/testing/require"
	"github.com/pkg/errors"
)

func TestWriteError(t *testing.T) {
	ew := ErrorWriter{Version: "1.2.3", DocURI: "http://docs.example.org/"}

	t.Run("fdsnws error", func(t *testing.T) {
		rec := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, "http://gateway.example.org/fdsnws/dataselect/1/query?net=CH", nil)
		ew.WriteError(rec, req, NewError(http.StatusBadRequest, "unknown parameter: bogus"))

		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Equal(t, ContentTypeText, rec.Header().Get("Content-Type"))
		body := rec.Body.String()
		assert.StringContains(t, "Error 400: Bad Request", body)
		assert.StringContains(t, "unknown parameter: bogus", body)
		assert.StringContains(t, "Usage details are available from http://docs.example.org/", body)
		assert.StringContains(t, "http://gateway.example.org/fdsnws/dataselect/1/query?net=CH", body)
		assert.StringContains(t, "Service version:\n1.2.3", body)
	})

	t.Run("wrapped fdsnws error keeps its code", func(t *testing.T) {
		rec := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, "/fdsnws/dataselect/1/query", nil)
		err := errors.Wrap(NewError(http.StatusRequestEntityTooLarge, "stream epoch too long"), "routing")
		ew.WriteError(rec, req, err)
		assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
		assert.StringContains(t, "stream epoch too long", rec.Body.String())
	})

	t.Run("unclassified error is an internal error", func(t *testing.T) {
		rec := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, "/fdsnws/dataselect/1/query", nil)
		ew.WriteError(rec, req, errors.New("backend exploded"))
		assert.Equal(t, http.StatusInternalServerError, rec.Code)
		assert.StringNotContains(t, "backend exploded", rec.Body.String(), "internal details must not leak")
	})
}

func TestWriteNoData(t *testing.T) {
	ew := ErrorWriter{Version: "1.2.3"}

	t.Run("204", func(t *testing.T) {
		rec := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, "/fdsnws/dataselect/1/query", nil)
		ew.WriteNoData(rec, req, http.StatusNoContent)
		assert.Equal(t, http.StatusNoContent, rec.Code)
		assert.Equal(t, 0, rec.Body.Len())
	})

	t.Run("404 carries a body", func(t *testing.T) {
		rec := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, "/fdsnws/dataselect/1/query", nil)
		ew.WriteNoData(rec, req, http.StatusNotFound)
		assert.Equal(t, http.StatusNotFound, rec.Code)
		assert.StringContains(t, "No data available for request.", rec.Body.String())
		assert.StringContains(t, DefaultDocURI, rec.Body.String())
	})
}

func TestRequestURLProxyNetloc(t *testing.T) {
	ew := ErrorWriter{ProxyNetloc: "federator.example.org"}
	req := httptest.NewRequest(http.MethodGet, "http://10.0.0.4:8080/fdsnws/station/1/query?net=CH", nil)
	assert.Equal(t, "http://federator.example.org/fdsnws/station/1/query?net=CH", ew.RequestURL(req))
}

func TestStatusCode(t *testing.T) {
	require.Equal(t, http.StatusBadRequest, StatusCode(NewError(http.StatusBadRequest, "x")))
	require.Equal(t, http.StatusInternalServerError, StatusCode(errors.New("x")))
}
