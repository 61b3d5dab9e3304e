package processor

import (
	"bytes"
	"context"
	"crypto/md5"
	"encoding/hex"
	"encoding/xml"
	"io"
	"net/http"
	"sort"
	"strings"

	"github.com/eidaws/eidaws/streams"
	"github.com/pkg/errors"
)

// xmlNode is a generic element tree. StationXML payloads are merged on this
// representation without interpreting the schema beyond element names.
type xmlNode struct {
	XMLName  xml.Name
	Attrs    []xml.Attr `xml:",any,attr"`
	Text     string     `xml:",chardata"`
	Children []xmlNode  `xml:",any"`
}

// sanitize strips namespace qualifiers and indentation so the merged tree
// re-serializes cleanly into the federated envelope, which declares the
// default namespace itself.
func (n *xmlNode) sanitize() {
	n.XMLName.Space = ""
	attrs := n.Attrs[:0]
	for _, a := range n.Attrs {
		if a.Name.Space == "xmlns" || (a.Name.Space == "" && a.Name.Local == "xmlns") {
			continue
		}
		a.Name.Space = ""
		attrs = append(attrs, a)
	}
	n.Attrs = attrs
	n.Text = strings.TrimSpace(n.Text)
	for i := range n.Children {
		n.Children[i].sanitize()
	}
}

// attrKey derives the element's identity from its sorted attributes. Epoch
// attributes are part of the identity, so differing epochs of the same code
// stay separate elements.
func attrKey(n *xmlNode) string {
	pairs := make([]string, 0, len(n.Attrs))
	for _, a := range n.Attrs {
		pairs = append(pairs, a.Name.Local+"="+a.Value)
	}
	sort.Strings(pairs)
	sum := md5.Sum([]byte(strings.Join(pairs, ",")))
	return hex.EncodeToString(sum[:])
}

// parseStationXML decodes the Network elements of one endpoint response.
func parseStationXML(r io.Reader) ([]xmlNode, error) {
	var doc struct {
		Networks []xmlNode `xml:"Network"`
	}
	if err := xml.NewDecoder(r).Decode(&doc); err != nil {
		return nil, errors.Wrap(err, "decoding StationXML failed")
	}
	for i := range doc.Networks {
		doc.Networks[i].sanitize()
	}
	return doc.Networks, nil
}

// networkMerger folds Network elements with identical attributes into one.
// The merge depth follows the requested level: network keeps the first
// occurrence, station appends unseen stations, channel and response
// additionally append all channels under matching stations.
type networkMerger struct {
	level    string
	node     *xmlNode
	stations map[string]int
}

func newNetworkMerger(level string, n *xmlNode) *networkMerger {
	m := &networkMerger{level: level, node: n, stations: map[string]int{}}
	for i := range n.Children {
		if n.Children[i].XMLName.Local == "Station" {
			m.stations[attrKey(&n.Children[i])] = i
		}
	}
	return m
}

func (m *networkMerger) merge(other *xmlNode) {
	if m.level == "network" {
		return
	}
	for i := range other.Children {
		c := &other.Children[i]
		if c.XMLName.Local != "Station" {
			continue
		}
		key := attrKey(c)
		idx, ok := m.stations[key]
		if !ok {
			m.node.Children = append(m.node.Children, *c)
			m.stations[key] = len(m.node.Children) - 1
			continue
		}
		if m.level == "station" {
			continue
		}
		dst := &m.node.Children[idx]
		for j := range c.Children {
			if c.Children[j].XMLName.Local == "Channel" {
				dst.Children = append(dst.Children, c.Children[j])
			}
		}
	}
}

// stationXMLWorker federates the StationXML payload of one network: it
// fetches every sub-request routed for the network and merges the returned
// Network documents by attribute identity.
type stationXMLWorker struct {
	client *endpointClient
	level  string
}

func (w *stationXMLWorker) run(ctx context.Context, entries []routeEntry, rw *responseWriter) error {
	var (
		order   []string
		mergers = map[string]*networkMerger{}
	)
	collect := func(endpointURL string, epochs []streams.StreamEpoch) {
		if w.client.overBudget(ctx, endpointURL) {
			log.WithField("url", endpointURL).Debug("Skipping sub-request, retry budget exceeded")
			return
		}
		resp, err := w.client.do(ctx, endpointURL, epochs)
		if err != nil {
			log.WithError(err).WithField("url", endpointURL).Warn("Dropping sub-response")
			return
		}
		defer drainBody(resp)
		switch resp.StatusCode {
		case http.StatusOK:
		case http.StatusNoContent:
			return
		default:
			logUpstream(endpointURL, resp.StatusCode)
			return
		}
		networks, err := parseStationXML(resp.Body)
		if err != nil {
			log.WithError(err).WithField("url", endpointURL).Warn("Dropping sub-response")
			return
		}
		for i := range networks {
			n := &networks[i]
			key := attrKey(n)
			if m, ok := mergers[key]; ok {
				m.merge(n)
				continue
			}
			mergers[key] = newNetworkMerger(w.level, n)
			order = append(order, key)
		}
	}

	if w.client.post {
		for _, group := range groupByURL(entries) {
			collect(group.url, group.epochs)
		}
	} else {
		for _, e := range entries {
			collect(e.url, []streams.StreamEpoch{e.se})
		}
	}

	var buf bytes.Buffer
	for _, key := range order {
		b, err := xml.Marshal(mergers[key].node)
		if err != nil {
			return errors.Wrap(err, "serializing merged network failed")
		}
		buf.Write(b)
		buf.WriteByte('\n')
	}
	if buf.Len() == 0 {
		return nil
	}
	return rw.WriteChunk(buf.Bytes())
}

// routeEntry pairs an endpoint URL with one granular stream epoch.
type routeEntry struct {
	url string
	se  streams.StreamEpoch
}

type urlGroup struct {
	url    string
	epochs []streams.StreamEpoch
}

// groupByURL folds granular entries back into one batch per endpoint,
// preserving first-seen endpoint order.
func groupByURL(entries []routeEntry) []urlGroup {
	var (
		out []urlGroup
		idx = map[string]int{}
	)
	for _, e := range entries {
		i, ok := idx[e.url]
		if !ok {
			i = len(out)
			idx[e.url] = i
			out = append(out, urlGroup{url: e.url})
		}
		out[i].epochs = append(out[i].epochs, e.se)
	}
	return out
}
