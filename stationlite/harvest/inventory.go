package harvest

import (
	"context"
	"encoding/xml"
	"io"
	"net/http"
	"net/url"

	"github.com/eidaws/eidaws/fdsnws"
	"github.com/eidaws/eidaws/stationlite/db"
	"github.com/eidaws/eidaws/streams"
	"github.com/pkg/errors"
)

// Inventory is the channel level station inventory fetched for one route.
type Inventory struct {
	Networks []Network
}

// Network is one network validity epoch with the stations it contains.
type Network struct {
	Code       string
	Epoch      streams.Epoch
	Restricted string
	Stations   []Station
}

// Station is one station validity epoch with its coordinates and channels.
type Station struct {
	Code       string
	Epoch      streams.Epoch
	Restricted string
	Latitude   float64
	Longitude  float64
	Channels   []Channel
}

// Channel is one channel validity epoch.
type Channel struct {
	Code       string
	Location   string
	Epoch      streams.Epoch
	Restricted string
	Latitude   float64
	Longitude  float64
}

type inventoryDocument struct {
	XMLName  xml.Name      `xml:"FDSNStationXML"`
	Networks []networkNode `xml:"Network"`
}

type networkNode struct {
	Code       string        `xml:"code,attr"`
	Start      string        `xml:"startDate,attr"`
	End        string        `xml:"endDate,attr"`
	Restricted string        `xml:"restrictedStatus,attr"`
	Stations   []stationNode `xml:"Station"`
}

type stationNode struct {
	Code       string        `xml:"code,attr"`
	Start      string        `xml:"startDate,attr"`
	End        string        `xml:"endDate,attr"`
	Restricted string        `xml:"restrictedStatus,attr"`
	Latitude   float64       `xml:"Latitude"`
	Longitude  float64       `xml:"Longitude"`
	Channels   []channelNode `xml:"Channel"`
}

type channelNode struct {
	Code       string  `xml:"code,attr"`
	Location   string  `xml:"locationCode,attr"`
	Start      string  `xml:"startDate,attr"`
	End        string  `xml:"endDate,attr"`
	Restricted string  `xml:"restrictedStatus,attr"`
	Latitude   float64 `xml:"Latitude"`
	Longitude  float64 `xml:"Longitude"`
}

// ParseInventory decodes a StationXML document down to the channel level.
// Elements without a restrictedStatus attribute inherit the status of their
// enclosing element; networks without one count as open.
func ParseInventory(r io.Reader) (*Inventory, error) {
	doc := &inventoryDocument{}
	if err := xml.NewDecoder(r).Decode(doc); err != nil {
		return nil, errors.Wrap(err, "decoding station inventory failed")
	}

	inv := &Inventory{}
	for _, nn := range doc.Networks {
		network := Network{Code: nn.Code, Restricted: inheritRestricted(nn.Restricted, db.RestrictedOpen)}
		var err error
		if network.Epoch, err = parseEpochAttrs(nn.Start, nn.End); err != nil {
			return nil, errors.Wrapf(err, "invalid epoch of network %q", nn.Code)
		}
		for _, sn := range nn.Stations {
			station := Station{
				Code:       sn.Code,
				Restricted: inheritRestricted(sn.Restricted, network.Restricted),
				Latitude:   sn.Latitude,
				Longitude:  sn.Longitude,
			}
			if station.Epoch, err = parseEpochAttrs(sn.Start, sn.End); err != nil {
				return nil, errors.Wrapf(err, "invalid epoch of station %s.%s", nn.Code, sn.Code)
			}
			for _, cn := range sn.Channels {
				channel := Channel{
					Code:       cn.Code,
					Location:   cn.Location,
					Restricted: inheritRestricted(cn.Restricted, station.Restricted),
					Latitude:   cn.Latitude,
					Longitude:  cn.Longitude,
				}
				if channel.Latitude == 0 && channel.Longitude == 0 {
					channel.Latitude, channel.Longitude = sn.Latitude, sn.Longitude
				}
				if channel.Epoch, err = parseEpochAttrs(cn.Start, cn.End); err != nil {
					return nil, errors.Wrapf(err, "invalid epoch of channel %s.%s.%s.%s",
						nn.Code, sn.Code, cn.Location, cn.Code)
				}
				station.Channels = append(station.Channels, channel)
			}
			network.Stations = append(network.Stations, station)
		}
		inv.Networks = append(inv.Networks, network)
	}
	return inv, nil
}

func inheritRestricted(status, parent string) string {
	if status == "" {
		return parent
	}
	return status
}

// fetchInventory retrieves the channel level inventory selected by the route
// pattern from the declared station endpoint. An endpoint without matching
// inventory yields an empty result, not an error.
func fetchInventory(ctx context.Context, hc *http.Client, stationURL string, pattern streams.Stream) (*Inventory, error) {
	u, err := url.Parse(stationURL)
	if err != nil {
		return nil, errors.Wrapf(err, "invalid station URL %q", stationURL)
	}
	vals := url.Values{}
	vals.Set(fdsnws.ParamNetwork, pattern.Network)
	vals.Set(fdsnws.ParamStation, pattern.Station)
	vals.Set(fdsnws.ParamLocation, pattern.Location)
	vals.Set(fdsnws.ParamChannel, pattern.Channel)
	vals.Set(fdsnws.ParamLevel, "channel")
	u.RawQuery = vals.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, err
	}
	resp, err := hc.Do(req)
	if err != nil {
		return nil, errors.Wrap(err, "station inventory request failed")
	}
	defer func() {
		_, _ = io.Copy(io.Discard, resp.Body)
		_ = resp.Body.Close()
	}()

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusNoContent, http.StatusNotFound:
		return &Inventory{}, nil
	default:
		return nil, errors.Errorf("station inventory at %q responded with %d", u.Host, resp.StatusCode)
	}
	return ParseInventory(resp.Body)
}
