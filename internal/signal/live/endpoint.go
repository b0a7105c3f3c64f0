package live

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/kiranshivaraju/demandcast/internal/signal"
	"github.com/kiranshivaraju/demandcast/pkg/models"
)

// Endpoint fetches a signal from a JSON endpoint whose body matches the kind's payload
// shape. The URL template may contain {region}, {country}, {lat}, {lon} and {sector}.
type Endpoint struct {
	http     httpClient
	kind     models.SignalKind
	template string
	name     string
}

// NewEndpoint returns nil for an empty template.
func NewEndpoint(kind models.SignalKind, template string, timeout time.Duration) (*Endpoint, error) {
	if template == "" {
		return nil, nil
	}
	if _, err := models.NewPayload(kind); err != nil {
		return nil, err
	}
	u, err := url.Parse(strings.NewReplacer("{", "", "}", "").Replace(template))
	if err != nil || u.Host == "" {
		return nil, fmt.Errorf("invalid %s endpoint %q", kind, template)
	}
	return &Endpoint{
		http:     newHTTPClient(timeout),
		kind:     kind,
		template: template,
		name:     u.Host,
	}, nil
}

func (e *Endpoint) Name() string { return e.name }

// URL expands the template for q.
func (e *Endpoint) URL(q signal.Query) string {
	return strings.NewReplacer(
		"{region}", url.QueryEscape(q.Region.Name),
		"{country}", url.QueryEscape(q.Region.CountryCode),
		"{lat}", strconv.FormatFloat(q.Region.Latitude, 'f', 4, 64),
		"{lon}", strconv.FormatFloat(q.Region.Longitude, 'f', 4, 64),
		"{sector}", url.QueryEscape(string(q.Sector)),
	).Replace(e.template)
}

func (e *Endpoint) Fetch(ctx context.Context, q signal.Query) (any, error) {
	if q.Kind != e.kind {
		return nil, fmt.Errorf("%w: endpoint serves %s, asked for %s", ErrSourceError, e.kind, q.Kind)
	}
	payload, err := models.NewPayload(e.kind)
	if err != nil {
		return nil, err
	}
	if err := e.http.getJSON(ctx, e.URL(q), nil, payload); err != nil {
		return nil, err
	}
	return payload, nil
}

var _ signal.Provider = (*Endpoint)(nil)
