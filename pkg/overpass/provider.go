// Package overpass loads drivable road graphs from the Overpass API or from
// saved Overpass JSON dumps.
package overpass

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"math"
	"net/url"
	"strings"
	"time"

	"github.com/paulmach/osm"
	"github.com/pkg/errors"

	"roadspeed/pkg/geo"
	"roadspeed/pkg/request"
	"roadspeed/pkg/roadgraph"
)

// Provider fetches road graphs from an Overpass API endpoint.
type Provider struct {
	client   *request.Client
	endpoint string
	timeout  time.Duration
}

// NewProvider creates a provider posting queries to endpoint through client.
// timeout is the server-side query timeout.
func NewProvider(client *request.Client, endpoint string, timeout time.Duration) *Provider {
	return &Provider{client: client, endpoint: endpoint, timeout: timeout}
}

// Fetch returns the drivable road graph within radius meters of center.
//
// The center is rounded to five decimals (about a meter) so that repeated
// queries around the same spot share a response cache entry. Error remarks are
// never cached, so the next fetch of the same spot goes to the server again.
func (p *Provider) Fetch(ctx context.Context, center geo.Point, radius float64) (*roadgraph.Graph, error) {
	c := geo.Point{Lat: round5(center.Lat), Lon: round5(center.Lon)}
	q := Query(c, radius, p.timeout)
	key := fmt.Sprintf("overpass:v1:%.5f,%.5f:%.0f", c.Lat, c.Lon, radius)

	body := []byte("data=" + url.QueryEscape(q))
	headers := map[string]string{"Content-Type": "application/x-www-form-urlencoded"}

	data, err := p.client.PostChecked(ctx, p.endpoint, body, headers, key, checkResponse)
	if err != nil {
		return nil, errors.WithMessage(err, "overpass request")
	}

	o, err := decodeElements(data)
	if err != nil {
		return nil, err
	}

	g := Build(o)
	slog.Debug("Overpass graph built",
		"center", c,
		"radius", radius,
		"ways", len(o.Ways),
		"nodes", g.NodeCount(),
		"edges", g.EdgeCount(),
	)
	return g, nil
}

func round5(v float64) float64 {
	return math.Round(v*1e5) / 1e5
}

// Decode parses an Overpass JSON response. A response carrying a runtime
// error remark yields ErrRemark.
func Decode(r io.Reader) (*osm.OSM, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, errors.WithMessage(err, "read overpass response")
	}
	if err := checkResponse(data); err != nil {
		return nil, err
	}
	return decodeElements(data)
}

// checkResponse rejects bodies that are not JSON or carry an error remark.
func checkResponse(data []byte) error {
	var meta struct {
		Remark string `json:"remark"`
	}
	if err := json.Unmarshal(data, &meta); err != nil {
		return errors.WithMessage(err, "decode overpass response")
	}
	if strings.Contains(meta.Remark, "error") {
		return errors.WithMessage(ErrRemark, meta.Remark)
	}
	return nil
}

func decodeElements(data []byte) (*osm.OSM, error) {
	o := &osm.OSM{}
	if err := json.Unmarshal(data, o); err != nil {
		return nil, errors.WithMessage(err, "decode overpass elements")
	}
	return o, nil
}
