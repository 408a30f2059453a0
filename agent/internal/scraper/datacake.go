package scraper

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/compostwatch/compostwatch/agent/internal/config"
	"github.com/compostwatch/compostwatch/agent/internal/telemetry"
)

const (
	datacakeTimeLayout = "2006-01-02T15:04"
	datacakeResolution = "60m"
)

type datacakeScraper struct {
	src    config.Source
	client *http.Client
}

type datacakeDevice struct {
	ID          string `json:"id"`
	VerboseName string `json:"verboseName"`
	// History is a JSON document encoded as a string:
	// [{"time": "...", "FIELD": value, ...}, ...]
	History string `json:"history"`
}

type datacakeResponse struct {
	Data struct {
		AllDevices []datacakeDevice `json:"allDevices"`
		Device     *datacakeDevice  `json:"device"`
	} `json:"data"`
	Errors []struct {
		Message string `json:"message"`
	} `json:"errors"`
}

// Fetch reads the history of the pile's devices. Devices pinned to the pile
// in config are queried one by one; otherwise the pile id is a Datacake
// workspace and every configured device found in it is used.
func (s *datacakeScraper) Fetch(ctx context.Context, req Request) (telemetry.Raw, error) {
	raw := telemetry.Raw{}
	var pinned []config.Device
	for _, d := range s.src.Devices {
		if d.Pile == req.PileID {
			pinned = append(pinned, d)
		}
	}

	if len(pinned) > 0 {
		for _, d := range pinned {
			query := fmt.Sprintf(`query { device(deviceId: %s) { id verboseName %s } }`,
				quote(d.ID), historyField(d.Keys, req))
			resp, err := s.query(ctx, query)
			if err != nil {
				return nil, err
			}
			if resp.Data.Device == nil {
				return nil, fmt.Errorf("datacake %q: device %s not found", s.src.ID, d.ID)
			}
			if err := mergeHistory(raw, resp.Data.Device.History, d.Keys); err != nil {
				return nil, fmt.Errorf("datacake %q: device %s: %w", s.src.ID, d.ID, err)
			}
		}
		return raw, nil
	}

	byName := make(map[string]config.Device, len(s.src.Devices))
	var fields []string
	for _, d := range s.src.Devices {
		if d.Pile != "" {
			continue
		}
		byName[d.Name] = d
		fields = append(fields, d.Keys...)
	}
	query := fmt.Sprintf(`query { allDevices(inWorkspace: %s) { id verboseName %s } }`,
		quote(req.PileID), historyField(fields, req))
	resp, err := s.query(ctx, query)
	if err != nil {
		return nil, err
	}
	for _, dev := range resp.Data.AllDevices {
		d, ok := byName[dev.VerboseName]
		if !ok {
			continue
		}
		if err := mergeHistory(raw, dev.History, d.Keys); err != nil {
			return nil, fmt.Errorf("datacake %q: device %s: %w", s.src.ID, dev.VerboseName, err)
		}
	}
	return raw, nil
}

func (s *datacakeScraper) query(ctx context.Context, query string) (*datacakeResponse, error) {
	var resp datacakeResponse
	body := map[string]string{"query": query}
	if err := doJSON(ctx, s.client, http.MethodPost, s.src.Endpoint, nil, body, &resp); err != nil {
		return nil, fmt.Errorf("datacake %q: %w", s.src.ID, err)
	}
	if len(resp.Errors) > 0 {
		return nil, fmt.Errorf("datacake %q: graphql: %s", s.src.ID, resp.Errors[0].Message)
	}
	return &resp, nil
}

func historyField(fields []string, req Request) string {
	quoted := make([]string, len(fields))
	for i, f := range fields {
		quoted[i] = quote(f)
	}
	return fmt.Sprintf(`history(fields: [%s], timerangestart: %s, timerangeend: %s, resolution: %s)`,
		strings.Join(quoted, ", "),
		quote(req.From.UTC().Format(datacakeTimeLayout)),
		quote(req.To.UTC().Format(datacakeTimeLayout)),
		quote(datacakeResolution))
}

// quote renders s as a GraphQL string literal.
func quote(s string) string {
	b, _ := json.Marshal(s)
	return string(b)
}

// mergeHistory decodes a history document and appends the values of keys to raw.
func mergeHistory(raw telemetry.Raw, history string, keys []string) error {
	if strings.TrimSpace(history) == "" {
		return nil
	}
	dec := json.NewDecoder(strings.NewReader(history))
	dec.UseNumber()
	var rows []map[string]any
	if err := dec.Decode(&rows); err != nil {
		return fmt.Errorf("decode history: %w", err)
	}
	for _, row := range rows {
		ts, ok := row["time"].(string)
		if !ok {
			continue
		}
		t, err := parseDatacakeTime(ts)
		if err != nil {
			continue
		}
		for _, k := range keys {
			if v, ok := row[k]; ok && v != nil {
				raw[k] = append(raw[k], telemetry.RawPoint{Time: t, Value: v})
			}
		}
	}
	return nil
}

func parseDatacakeTime(s string) (time.Time, error) {
	for _, layout := range []string{time.RFC3339Nano, "2006-01-02T15:04:05", datacakeTimeLayout} {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognised time %q", s)
}
