package scraper

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	dto "github.com/prometheus/client_model/go"
	"github.com/prometheus/common/expfmt"

	"github.com/compostwatch/compostwatch/agent/internal/config"
	"github.com/compostwatch/compostwatch/agent/internal/telemetry"
)

const (
	// pileLabel ties an exporter sample to a pile. Samples without it apply
	// to every pile served by the source.
	pileLabel = "pile"

	defaultRetention = 5000

	// minRescrape avoids hitting the exporter once per pile in the same tick.
	minRescrape = 30 * time.Second
)

// promScraper reads a sensor exporter's Prometheus text exposition. An
// exporter only knows current values, so every scrape is appended to a
// bounded per-channel buffer and fetch windows are answered from it.
type promScraper struct {
	src    config.Source
	client *http.Client
	now    func() time.Time

	mu         sync.Mutex
	lastScrape time.Time
	buffers    map[string]map[string][]telemetry.RawPoint // pile -> channel -> samples
}

func newPromScraper(src config.Source, client *http.Client) *promScraper {
	return &promScraper{
		src:     src,
		client:  client,
		now:     time.Now,
		buffers: make(map[string]map[string][]telemetry.RawPoint),
	}
}

// Fetch scrapes the exporter (at most once per minRescrape) and returns the
// buffered samples of the pile inside the request window. A failed scrape
// is logged and the buffer is served as-is.
func (s *promScraper) Fetch(ctx context.Context, req Request) (telemetry.Raw, error) {
	s.mu.Lock()
	due := s.now().Sub(s.lastScrape) >= minRescrape
	s.mu.Unlock()

	if due {
		mfs, err := fetchMetrics(ctx, s.client, s.src.Endpoint)
		if err != nil {
			slog.Warn("scraper: prometheus fetch failed", "source", s.src.ID, "err", err)
		} else {
			s.record(mfs)
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.lastScrape.IsZero() {
		return nil, fmt.Errorf("prometheus %q: exporter not scraped yet", s.src.ID)
	}
	raw := telemetry.Raw{}
	for _, pile := range []string{req.PileID, ""} {
		for channel, points := range s.buffers[pile] {
			for _, p := range points {
				if !p.Time.Before(req.From) && !p.Time.After(req.To) {
					raw[channel] = append(raw[channel], p)
				}
			}
		}
	}
	return raw, nil
}

func (s *promScraper) record(mfs map[string]*dto.MetricFamily) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now().UTC()
	s.lastScrape = now
	keep := s.allowedChannels()
	retention := s.src.Retention
	if retention <= 0 {
		retention = defaultRetention
	}

	for name, mf := range mfs {
		if keep != nil && !keep[name] {
			continue
		}
		for _, m := range mf.GetMetric() {
			v, ok := metricValue(m)
			if !ok {
				continue
			}
			ts := now
			if m.GetTimestampMs() > 0 {
				ts = time.UnixMilli(m.GetTimestampMs()).UTC()
			}
			pile := labelValue(m, pileLabel)
			if s.buffers[pile] == nil {
				s.buffers[pile] = make(map[string][]telemetry.RawPoint)
			}
			buf := append(s.buffers[pile][name], telemetry.RawPoint{Time: ts, Value: v})
			if len(buf) > retention {
				buf = buf[len(buf)-retention:]
			}
			s.buffers[pile][name] = buf
		}
	}
}

// allowedChannels returns the configured device keys, or nil when every
// family is accepted.
func (s *promScraper) allowedChannels() map[string]bool {
	var keep map[string]bool
	for _, d := range s.src.Devices {
		for _, k := range d.Keys {
			if keep == nil {
				keep = make(map[string]bool)
			}
			keep[k] = true
		}
	}
	return keep
}

// fetchMetrics performs an HTTP GET to url and returns parsed metric families.
func fetchMetrics(ctx context.Context, client *http.Client, url string) (map[string]*dto.MetricFamily, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", string(expfmt.NewFormat(expfmt.TypeTextPlain)))

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http get: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	return parseMetrics(resp.Body)
}

// parseMetrics decodes a Prometheus text exposition from r into metric families.
// A partial result with a non-fatal parse warning is still returned successfully.
func parseMetrics(r io.Reader) (map[string]*dto.MetricFamily, error) {
	var parser expfmt.TextParser
	mfs, err := parser.TextToMetricFamilies(r)
	if err != nil && len(mfs) == 0 {
		return nil, fmt.Errorf("parse prometheus text: %w", err)
	}
	return mfs, nil
}

// metricValue returns the gauge, counter or untyped value of m.
func metricValue(m *dto.Metric) (float64, bool) {
	switch {
	case m.Gauge != nil:
		return m.Gauge.GetValue(), true
	case m.Untyped != nil:
		return m.Untyped.GetValue(), true
	case m.Counter != nil:
		return m.Counter.GetValue(), true
	}
	return 0, false
}

func labelValue(m *dto.Metric, name string) string {
	for _, lp := range m.GetLabel() {
		if lp.GetName() == name {
			return lp.GetValue()
		}
	}
	return ""
}
