package scraper

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/compostwatch/compostwatch/agent/internal/config"
	"github.com/compostwatch/compostwatch/agent/internal/telemetry"
	"github.com/compostwatch/compostwatch/pkg/types"
)

// ThingsBoard asset server attributes holding pile metadata.
const (
	tbAttrStartDate = "start_date"
	tbAttrGreens    = "Greens_(KG)"
	tbAttrBrowns    = "Browns_(KG)"
	tbAttrLatitude  = "Latitude"
	tbAttrLongitude = "Longitude"
)

const (
	// tbTimeseriesLimit caps each key's points. Queries run newest first so
	// a long history loses its oldest points, not the recent ones.
	tbTimeseriesLimit = 10000
	// tbTokenTTL stays below ThingsBoard's default JWT lifetime.
	tbTokenTTL = time.Hour
)

type thingsboardScraper struct {
	src    config.Source
	client *http.Client
	now    func() time.Time

	mu      sync.Mutex
	token   string
	tokenAt time.Time
}

func newThingsBoard(src config.Source, client *http.Client) *thingsboardScraper {
	return &thingsboardScraper{src: src, client: client, now: time.Now}
}

type tbPoint struct {
	TS    int64 `json:"ts"`
	Value any   `json:"value"`
}

type tbRelation struct {
	To struct {
		ID         string `json:"id"`
		EntityType string `json:"entityType"`
	} `json:"to"`
	ToName string `json:"toName"`
}

type tbAttribute struct {
	Key   string `json:"key"`
	Value any    `json:"value"`
}

// Fetch reads the configured keys of every device belonging to the pile's
// asset. Devices pinned to the pile in config are used as-is; otherwise the
// asset's relations decide which configured devices apply.
func (s *thingsboardScraper) Fetch(ctx context.Context, req Request) (telemetry.Raw, error) {
	devices, err := s.devicesFor(ctx, req.PileID)
	if err != nil {
		return nil, fmt.Errorf("thingsboard %q: devices of %s: %w", s.src.ID, req.PileID, err)
	}
	raw := telemetry.Raw{}
	for _, d := range devices {
		if len(d.Keys) == 0 {
			continue
		}
		q := url.Values{}
		q.Set("keys", strings.Join(d.Keys, ","))
		q.Set("startTs", strconv.FormatInt(req.From.UnixMilli(), 10))
		q.Set("endTs", strconv.FormatInt(req.To.UnixMilli(), 10))
		q.Set("limit", strconv.Itoa(tbTimeseriesLimit))
		q.Set("orderBy", "DESC")

		var series map[string][]tbPoint
		path := "/api/plugins/telemetry/DEVICE/" + url.PathEscape(d.ID) + "/values/timeseries"
		if err := s.call(ctx, http.MethodGet, path, q, nil, &series); err != nil {
			return nil, fmt.Errorf("thingsboard %q: timeseries of device %s: %w", s.src.ID, d.ID, err)
		}
		for key, points := range series {
			for i := len(points) - 1; i >= 0; i-- {
				p := points[i]
				raw[key] = append(raw[key], telemetry.RawPoint{Time: time.UnixMilli(p.TS).UTC(), Value: p.Value})
			}
		}
	}
	return raw, nil
}

func (s *thingsboardScraper) devicesFor(ctx context.Context, pileID string) ([]config.Device, error) {
	var pinned []config.Device
	for _, d := range s.src.Devices {
		if d.Pile == pileID {
			pinned = append(pinned, d)
		}
	}
	if len(pinned) > 0 {
		return pinned, nil
	}

	q := url.Values{}
	q.Set("fromId", pileID)
	q.Set("fromType", "ASSET")
	var relations []tbRelation
	if err := s.call(ctx, http.MethodGet, "/api/relations/info", q, nil, &relations); err != nil {
		return nil, err
	}
	related := make(map[string]bool, len(relations))
	for _, r := range relations {
		if r.To.EntityType == "DEVICE" {
			related[r.To.ID] = true
		}
	}
	var out []config.Device
	for _, d := range s.src.Devices {
		if d.Pile == "" && related[d.ID] {
			out = append(out, d)
		}
	}
	return out, nil
}

// Attributes reads the pile metadata from the asset's server-scope attributes.
// start_date is epoch milliseconds.
func (s *thingsboardScraper) Attributes(ctx context.Context, pileID string) (types.PileState, error) {
	q := url.Values{}
	q.Set("keys", strings.Join([]string{tbAttrStartDate, tbAttrGreens, tbAttrBrowns, tbAttrLatitude, tbAttrLongitude}, ","))
	path := "/api/plugins/telemetry/ASSET/" + url.PathEscape(pileID) + "/values/attributes/SERVER_SCOPE"

	var attrs []tbAttribute
	if err := s.call(ctx, http.MethodGet, path, q, nil, &attrs); err != nil {
		return types.PileState{}, fmt.Errorf("thingsboard %q: attributes of %s: %w", s.src.ID, pileID, err)
	}

	values := make(map[string]float64, len(attrs))
	for _, a := range attrs {
		if v, ok := telemetry.ParseValue(a.Value); ok {
			values[a.Key] = v
		}
	}
	start, ok := values[tbAttrStartDate]
	if !ok {
		return types.PileState{}, fmt.Errorf("thingsboard %q: asset %s has no %s attribute", s.src.ID, pileID, tbAttrStartDate)
	}
	return types.PileState{
		StartDate: time.UnixMilli(int64(start)).UTC(),
		GreensKg:  values[tbAttrGreens],
		BrownsKg:  values[tbAttrBrowns],
		Latitude:  values[tbAttrLatitude],
		Longitude: values[tbAttrLongitude],
	}, nil
}

// Publish writes the report to the asset as timeseries data.
func (s *thingsboardScraper) Publish(ctx context.Context, pileID string, report types.CompostStatusReport) error {
	path := "/api/plugins/telemetry/ASSET/" + url.PathEscape(pileID) + "/timeseries/ANY"
	if err := s.call(ctx, http.MethodPost, path, nil, report, nil); err != nil {
		return fmt.Errorf("thingsboard %q: publish report for %s: %w", s.src.ID, pileID, err)
	}
	return nil
}

// call performs one API request, logging in first in login mode and once
// more if the session token was rejected.
func (s *thingsboardScraper) call(ctx context.Context, method, path string, q url.Values, body, out any) error {
	u := strings.TrimRight(s.src.Endpoint, "/") + path
	if len(q) > 0 {
		u += "?" + q.Encode()
	}
	if s.src.Auth.Mode != "login" {
		return doJSON(ctx, s.client, method, u, nil, body, out)
	}

	token, err := s.session(ctx, false)
	if err != nil {
		return err
	}
	err = doJSON(ctx, s.client, method, u, tbHeader(token), body, out)
	var se *statusError
	if errors.As(err, &se) && se.Code == http.StatusUnauthorized {
		slog.Info("scraper: thingsboard session rejected, logging in again", "source", s.src.ID)
		if token, err = s.session(ctx, true); err != nil {
			return err
		}
		err = doJSON(ctx, s.client, method, u, tbHeader(token), body, out)
	}
	return err
}

func tbHeader(token string) http.Header {
	h := http.Header{}
	h.Set("X-Authorization", "Bearer "+token)
	return h
}

func (s *thingsboardScraper) session(ctx context.Context, force bool) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !force && s.token != "" && s.now().Sub(s.tokenAt) < tbTokenTTL {
		return s.token, nil
	}

	var resp struct {
		Token string `json:"token"`
	}
	creds := map[string]string{"username": s.src.Auth.Username, "password": s.src.Auth.Password()}
	u := strings.TrimRight(s.src.Endpoint, "/") + "/api/auth/login"
	if err := doJSON(ctx, s.client, http.MethodPost, u, nil, creds, &resp); err != nil {
		return "", fmt.Errorf("thingsboard %q: login: %w", s.src.ID, err)
	}
	if resp.Token == "" {
		return "", fmt.Errorf("thingsboard %q: login returned no token", s.src.ID)
	}
	s.token, s.tokenAt = resp.Token, s.now()
	return s.token, nil
}
