package forecast

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"time"

	"github.com/compostwatch/compostwatch/agent/internal/compute"
)

// Observed properties of the forecast vocabulary.
const (
	propTemperature   = "cf:ambient_temperature"
	propHumidity      = "cf:ambient_humidity"
	propPrecipitation = "cf:precipitation_amount"
)

// Horizon is the forecast window evaluated by the weather rules.
const Horizon = 24 * time.Hour

// TokenSource supplies the bearer token for the weather service.
type TokenSource interface {
	Token(ctx context.Context) (string, error)
}

// Client fetches forecasts.
type Client struct {
	endpoint string
	tokens   TokenSource
	http     *http.Client
}

// New returns a Client for the forecast5 endpoint URL.
func New(endpoint string, tokens TokenSource, timeout time.Duration) *Client {
	return &Client{endpoint: endpoint, tokens: tokens, http: &http.Client{Timeout: timeout}}
}

type document struct {
	Graph []struct {
		PhenomenonTime string `json:"phenomenonTime"`
		HasMember      []struct {
			ObservedProperty string `json:"observedProperty"`
			HasResult        struct {
				NumericValue *float64 `json:"numericValue"`
			} `json:"hasResult"`
		} `json:"hasMember"`
	} `json:"@graph"`
}

// hour holds the values forecast for one phenomenon time.
type hour struct {
	at            time.Time
	temperature   *float64
	humidity      *float64
	precipitation *float64
}

// Next24h returns the forecast for lat/lon between at and at+Horizon.
func (c *Client) Next24h(ctx context.Context, lat, lon float64, at time.Time) (*compute.Forecast, error) {
	token, err := c.tokens.Token(ctx)
	if err != nil {
		return nil, fmt.Errorf("forecast: token: %w", err)
	}

	q := url.Values{}
	q.Set("lat", strconv.FormatFloat(lat, 'f', -1, 64))
	q.Set("lon", strconv.FormatFloat(lon, 'f', -1, 64))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.endpoint+"?"+q.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("forecast: build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Accept", "application/ld+json, application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("forecast: http get: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("forecast: unexpected status %d", resp.StatusCode)
	}

	var doc document
	if err := json.NewDecoder(resp.Body).Decode(&doc); err != nil {
		return nil, fmt.Errorf("forecast: decode: %w", err)
	}
	return window(doc, at), nil
}

// window extracts the hours inside [at, at+Horizon] from doc, ascending by
// time. Only hours carrying both temperature and humidity are kept so the
// series line up. Precipitation missing for a kept hour counts as none; when
// no hour reports it the series stays empty.
func window(doc document, at time.Time) *compute.Forecast {
	end := at.Add(Horizon)
	byTime := map[int64]*hour{}
	for _, item := range doc.Graph {
		ts, err := parseTime(item.PhenomenonTime)
		if err != nil || ts.Before(at) || ts.After(end) {
			continue
		}
		h, ok := byTime[ts.Unix()]
		if !ok {
			h = &hour{at: ts}
			byTime[ts.Unix()] = h
		}
		for _, m := range item.HasMember {
			v := m.HasResult.NumericValue
			if v == nil {
				continue
			}
			switch m.ObservedProperty {
			case propTemperature:
				h.temperature = v
			case propHumidity:
				h.humidity = v
			case propPrecipitation:
				h.precipitation = v
			}
		}
	}

	hours := make([]*hour, 0, len(byTime))
	rained := false
	for _, h := range byTime {
		if h.temperature == nil || h.humidity == nil {
			continue
		}
		hours = append(hours, h)
		rained = rained || h.precipitation != nil
	}
	sort.Slice(hours, func(i, j int) bool { return hours[i].at.Before(hours[j].at) })

	f := &compute.Forecast{
		Temperature: make([]float64, len(hours)),
		Humidity:    make([]float64, len(hours)),
	}
	if rained {
		f.Precipitation = make([]float64, len(hours))
	}
	for i, h := range hours {
		f.Temperature[i] = *h.temperature
		f.Humidity[i] = *h.humidity
		if rained && h.precipitation != nil {
			f.Precipitation[i] = *h.precipitation
		}
	}
	return f
}

// parseTime accepts RFC 3339 and zone-less ISO timestamps, the latter as UTC.
func parseTime(s string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t, nil
	}
	return time.Parse("2006-01-02T15:04:05", s)
}
