package live

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/kiranshivaraju/demandcast/internal/config"
	"github.com/kiranshivaraju/demandcast/internal/signal"
	"github.com/kiranshivaraju/demandcast/pkg/models"
)

// Weather fetches current conditions from the OpenWeatherMap current weather API.
type Weather struct {
	http    httpClient
	baseURL string
	apiKey  string
}

// NewWeather returns nil when no API key is configured, so the tier is skipped.
func NewWeather(cfg config.OpenWeatherMapConfig, timeout time.Duration) *Weather {
	if cfg.APIKey == "" {
		return nil
	}
	return &Weather{
		http:    newHTTPClient(timeout),
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:  cfg.APIKey,
	}
}

func (w *Weather) Name() string { return "openweathermap" }

func (w *Weather) Fetch(ctx context.Context, q signal.Query) (any, error) {
	params := url.Values{
		"lat":   {strconv.FormatFloat(q.Region.Latitude, 'f', 4, 64)},
		"lon":   {strconv.FormatFloat(q.Region.Longitude, 'f', 4, 64)},
		"units": {"metric"},
		"appid": {w.apiKey},
	}
	u := fmt.Sprintf("%s/weather?%s", w.baseURL, params.Encode())

	var resp owmResponse
	if err := w.http.getJSON(ctx, u, nil, &resp); err != nil {
		return nil, err
	}
	if resp.Main == nil {
		return nil, fmt.Errorf("%w: response has no main block", ErrSourceError)
	}

	out := &models.Weather{
		TemperatureC: resp.Main.Temp,
		HumidityPct:  resp.Main.Humidity,
		WindSpeedMS:  resp.Wind.Speed,
		Season:       season(time.Now(), q.Region.Latitude),
	}
	if resp.Rain != nil {
		out.PrecipitationMM = resp.Rain.OneHour
	}
	if len(resp.Weather) > 0 {
		out.Conditions = resp.Weather[0].Description
	}
	return out, nil
}

// season names the meteorological season for the hemisphere of lat. South Asian
// latitudes between 5 and 35 use the monsoon calendar.
func season(now time.Time, lat float64) string {
	m := now.Month()
	if lat >= 5 && lat <= 35 {
		switch {
		case m >= time.March && m <= time.May:
			return "summer"
		case m >= time.June && m <= time.September:
			return "monsoon"
		case m >= time.October && m <= time.November:
			return "post-monsoon"
		default:
			return "winter"
		}
	}
	if lat < 0 {
		m = (m+5)%12 + 1
	}
	switch {
	case m >= time.March && m <= time.May:
		return "spring"
	case m >= time.June && m <= time.August:
		return "summer"
	case m >= time.September && m <= time.November:
		return "autumn"
	default:
		return "winter"
	}
}

type owmResponse struct {
	Main *struct {
		Temp     float64 `json:"temp"`
		Humidity float64 `json:"humidity"`
	} `json:"main"`
	Wind struct {
		Speed float64 `json:"speed"`
	} `json:"wind"`
	Rain *struct {
		OneHour float64 `json:"1h"`
	} `json:"rain"`
	Weather []struct {
		Description string `json:"description"`
	} `json:"weather"`
}

var _ signal.Provider = (*Weather)(nil)
