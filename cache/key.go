package cache

import (
	"crypto/md5"
	"encoding/base64"
	"io"
	"net/url"
	"strings"

	"github.com/eidaws/eidaws/fdsnws"
	"github.com/eidaws/eidaws/streams"
)

// keyLen is the length cache keys are truncated to.
const keyLen = 16

// Key fingerprints one request: an md5 over the processor type tag, the
// sorted query parameters excluding nodata and service, and the sorted stream
// epochs, base64 encoded and truncated to 16 characters. Control characters
// are stripped from all inputs.
func Key(typeTag string, params url.Values, epochs []streams.StreamEpoch) string {
	h := md5.New()
	_, _ = io.WriteString(h, stripControl(typeTag))
	for _, kv := range fdsnws.SortedParams(params, fdsnws.ParamNoData, fdsnws.ParamService) {
		_, _ = io.WriteString(h, stripControl(kv))
	}
	sorted := make([]streams.StreamEpoch, len(epochs))
	copy(sorted, epochs)
	streams.Sort(sorted)
	for _, se := range sorted {
		_, _ = io.WriteString(h, stripControl(se.FDSNLine()))
	}
	return base64.StdEncoding.EncodeToString(h.Sum(nil))[:keyLen]
}

func stripControl(s string) string {
	return strings.Map(func(r rune) rune {
		if r < 0x20 || r == 0x7f {
			return -1
		}
		return r
	}, s)
}
