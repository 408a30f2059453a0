package history

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"
	"github.com/influxdata/influxdb-client-go/v2/api/write"

	"github.com/compostwatch/compostwatch/pkg/types"
	"github.com/compostwatch/compostwatch/server/internal/config"
)

// Measurement names.
const (
	MeasurementStatus     = "compost_status"
	MeasurementDailyStat  = "compost_daily_stat"
	MeasurementTransition = "compost_phase_transition"
)

const closeTimeout = 5 * time.Second

// Writer records accepted envelopes in InfluxDB through the client's
// non-blocking write API. Points are batched and flushed in the background.
type Writer struct {
	client   influxdb2.Client
	writeAPI api.WriteAPI
	done     chan struct{}
}

// NewWriter connects to the configured InfluxDB and verifies it is healthy.
func NewWriter(ctx context.Context, cfg config.HistoryConfig) (*Writer, error) {
	opts := influxdb2.DefaultOptions().
		SetBatchSize(cfg.BatchSize).
		SetFlushInterval(uint(cfg.FlushInterval.Milliseconds()))
	client := influxdb2.NewClientWithOptions(cfg.URL, cfg.Token(), opts)

	if _, err := client.Health(ctx); err != nil {
		client.Close()
		return nil, fmt.Errorf("history: failed to connect to InfluxDB: %w", err)
	}

	w := &Writer{
		client:   client,
		writeAPI: client.WriteAPI(cfg.Org, cfg.Bucket),
		done:     make(chan struct{}),
	}
	go w.logErrors()
	slog.Info("history: influxdb connected", "url", cfg.URL, "bucket", cfg.Bucket)
	return w, nil
}

// Record queues the points of env. It never blocks on the network.
func (w *Writer) Record(env *types.ReportEnvelope) {
	for _, p := range Points(env) {
		w.writeAPI.WritePoint(p)
	}
}

// Close flushes pending points and releases the client.
func (w *Writer) Close() {
	w.writeAPI.Flush()
	w.client.Close()
	select {
	case <-w.done:
	case <-time.After(closeTimeout):
	}
}

func (w *Writer) logErrors() {
	defer close(w.done)
	for err := range w.writeAPI.Errors() {
		slog.Warn("history: influxdb write failed", "err", err)
	}
}

// Points converts env into line-protocol points: one status point, one per
// daily statistic and one per transition. A failed envelope only yields its
// status point.
func Points(env *types.ReportEnvelope) []*write.Point {
	tags := map[string]string{"pile_id": env.PileID}
	if env.PileName != "" {
		tags["pile_name"] = env.PileName
	}

	points := []*write.Point{statusPoint(env, tags)}
	if env.Error != "" {
		return points
	}

	vars := make([]string, 0, len(env.DailyStats))
	for v := range env.DailyStats {
		vars = append(vars, v)
	}
	sort.Strings(vars)
	for _, v := range vars {
		st := env.DailyStats[v]
		points = append(points, write.NewPoint(
			MeasurementDailyStat,
			withTag(tags, "variable", v),
			map[string]interface{}{
				"min": st.Min,
				"max": st.Max,
				"avg": st.Avg,
				"std": st.Std,
			},
			env.GeneratedAt,
		))
	}

	for _, t := range env.Transitions {
		points = append(points, write.NewPoint(
			MeasurementTransition,
			withTag(withTag(tags, "from", t.From), "to", t.To),
			map[string]interface{}{"temperature": t.Temperature},
			t.At,
		))
	}
	return points
}

func statusPoint(env *types.ReportEnvelope, tags map[string]string) *write.Point {
	if env.Error != "" {
		return write.NewPoint(
			MeasurementStatus,
			tags,
			map[string]interface{}{"error": true},
			env.GeneratedAt,
		)
	}
	r := env.Report
	return write.NewPoint(
		MeasurementStatus,
		withTag(tags, "phase", r.Phase),
		map[string]interface{}{
			"age_days":       r.CompostAgeDays,
			"duration_days":  r.EstimatedDurationDays,
			"days_remaining": r.EstimatedDaysRemaining,
			"advisories":     env.AdvisoryCount(),
			"error":          false,
		},
		env.GeneratedAt,
	)
}

func withTag(tags map[string]string, k, v string) map[string]string {
	out := make(map[string]string, len(tags)+1)
	for tk, tv := range tags {
		out[tk] = tv
	}
	out[k] = v
	return out
}
