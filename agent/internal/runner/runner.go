package runner

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/compostwatch/compostwatch/agent/internal/compute"
	"github.com/compostwatch/compostwatch/agent/internal/config"
	"github.com/compostwatch/compostwatch/agent/internal/coord"
	"github.com/compostwatch/compostwatch/agent/internal/farmcalendar"
	"github.com/compostwatch/compostwatch/agent/internal/scraper"
	"github.com/compostwatch/compostwatch/agent/internal/storage"
	"github.com/compostwatch/compostwatch/agent/internal/telemetry"
	"github.com/compostwatch/compostwatch/pkg/types"
)

// outboxBatch bounds how many queued observations one tick retries.
const outboxBatch = 100

// PileSource lists piles and resolves their metadata.
type PileSource interface {
	Piles() []config.PileConfig
	State(ctx context.Context, pileID string) (types.PileState, error)
}

// ForecastSource returns the weather forecast for the 24 hours after at.
type ForecastSource interface {
	Next24h(ctx context.Context, lat, lon float64, at time.Time) (*compute.Forecast, error)
}

// Calendar records observations in the farm calendar.
type Calendar interface {
	PostObservation(ctx context.Context, operationID string, obs farmcalendar.Observation) error
	OperationFor(ctx context.Context, pileName string) (string, bool, error)
}

// Outbox queues observations that could not be posted.
type Outbox interface {
	SaveObservation(ctx context.Context, obs storage.PendingObservation) (int64, error)
	UnsentObservations(ctx context.Context, limit int) ([]storage.PendingObservation, error)
	MarkSent(ctx context.Context, id int64) error
	MarkFailed(ctx context.Context, id int64) error
}

// Shipper receives the envelope of every evaluation.
type Shipper interface {
	Ship(env *types.ReportEnvelope)
}

// Deps are the collaborators of a Runner. Forecast, Calendar and Outbox are
// optional.
type Deps struct {
	Piles    PileSource
	Scrapers map[string]scraper.Scraper
	Forecast ForecastSource
	Calendar Calendar
	Outbox   Outbox
	Locker   coord.Locker
	Tracker  *compute.Tracker
	Shipper  Shipper

	// ActivityTypes maps a variable to its farm activity type id. Variables
	// without an entry are not posted.
	ActivityTypes map[string]string
}

// Settings are the hot-reloadable analysis parameters.
type Settings struct {
	Options compute.Options
	Reducer telemetry.Reducer
}

// SettingsFrom converts the analysis section of the config.
func SettingsFrom(a config.AnalysisConfig) Settings {
	s := Settings{
		Options: compute.Options{
			Strict:               a.Strict,
			PrecipitationRules:   a.PrecipitationRules,
			FutureStartTolerance: a.FutureStartTolerance,
			TrendWindow:          a.TrendWindow,
		},
		Reducer: telemetry.Reducer{Window: a.MovingAverageWindow},
	}
	for _, c := range a.Channels {
		s.Reducer.Rules = append(s.Reducer.Rules, telemetry.Rule{Keyword: c.Keyword, Variable: c.Variable})
	}
	return s
}

// Runner evaluates all piles on every tick.
type Runner struct {
	deps          Deps
	maxConcurrent int
	lockTTL       time.Duration
	now           func() time.Time

	mu       sync.RWMutex
	settings Settings

	opsMu      sync.Mutex
	operations map[string]string // pile id -> looked-up compost operation id
}

// New returns a Runner. maxConcurrent bounds parallel evaluations and
// lockTTL is how long a pile lock may be held.
func New(deps Deps, maxConcurrent int, lockTTL time.Duration, settings Settings) *Runner {
	if maxConcurrent <= 0 {
		maxConcurrent = config.DefaultMaxConcurrent
	}
	if lockTTL <= 0 {
		lockTTL = config.DefaultLockTTL
	}
	return &Runner{
		deps:          deps,
		maxConcurrent: maxConcurrent,
		lockTTL:       lockTTL,
		now:           time.Now,
		settings:      settings,
		operations:    make(map[string]string),
	}
}

// Apply swaps the analysis settings. Evaluations already running keep the
// settings they started with.
func (r *Runner) Apply(s Settings) {
	r.mu.Lock()
	r.settings = s
	r.mu.Unlock()
}

func (r *Runner) current() Settings {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.settings
}

// Run evaluates immediately and then every interval until ctx is cancelled.
func (r *Runner) Run(ctx context.Context, interval time.Duration) {
	r.Tick(ctx, r.now())

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.Tick(ctx, r.now())
		}
	}
}

// Tick evaluates every pile at the instant at and returns the envelopes it
// shipped, in config order. Piles locked elsewhere are skipped.
func (r *Runner) Tick(ctx context.Context, at time.Time) []*types.ReportEnvelope {
	settings := r.current()
	piles := r.deps.Piles.Piles()
	results := make([]*types.ReportEnvelope, len(piles))

	sem := make(chan struct{}, r.maxConcurrent)
	var wg sync.WaitGroup
	for i, p := range piles {
		wg.Add(1)
		sem <- struct{}{}
		go func(i int, p config.PileConfig) {
			defer wg.Done()
			defer func() { <-sem }()
			results[i] = r.evaluateLocked(ctx, p, at, settings)
		}(i, p)
	}
	wg.Wait()

	shipped := make([]*types.ReportEnvelope, 0, len(results))
	for _, env := range results {
		if env == nil {
			continue
		}
		r.deps.Shipper.Ship(env)
		shipped = append(shipped, env)
	}

	r.flushOutbox(ctx)
	slog.Debug("runner: tick complete", "piles", len(piles), "shipped", len(shipped))
	return shipped
}

func (r *Runner) evaluateLocked(ctx context.Context, p config.PileConfig, at time.Time, settings Settings) *types.ReportEnvelope {
	unlock, ok, err := r.deps.Locker.TryLock(ctx, "pile:"+p.ID, r.lockTTL)
	if err != nil {
		slog.Warn("runner: lock failed, skipping pile", "pile", p.ID, "err", err)
		return nil
	}
	if !ok {
		slog.Debug("runner: pile is being evaluated elsewhere", "pile", p.ID)
		return nil
	}
	defer unlock()
	return r.evaluate(ctx, p, at, settings)
}

func (r *Runner) evaluate(ctx context.Context, p config.PileConfig, at time.Time, settings Settings) *types.ReportEnvelope {
	at = at.UTC()
	env := &types.ReportEnvelope{
		PileID:      p.ID,
		PileName:    p.Name,
		GeneratedAt: at,
	}
	fail := func(err error) *types.ReportEnvelope {
		slog.Warn("runner: evaluation failed", "pile", p.ID, "err", err)
		env.Error = err.Error()
		return env
	}

	state, err := r.deps.Piles.State(ctx, p.ID)
	if err != nil {
		return fail(err)
	}
	src, ok := r.deps.Scrapers[p.Source]
	if !ok {
		return fail(fmt.Errorf("no scraper for source %q", p.Source))
	}

	dayStart := at.Truncate(24 * time.Hour)
	daily, err := src.Fetch(ctx, scraper.Request{PileID: p.ID, From: dayStart, To: at})
	if err != nil {
		return fail(fmt.Errorf("fetch daily telemetry: %w", err))
	}
	history, err := src.Fetch(ctx, scraper.Request{PileID: p.ID, From: state.StartDate, To: at})
	if err != nil {
		return fail(fmt.Errorf("fetch temperature history: %w", err))
	}
	env.DailyStats = settings.Reducer.Reduce(daily)
	series := settings.Reducer.Series(history)

	var forecast *compute.Forecast
	if r.deps.Forecast != nil {
		forecast, err = r.deps.Forecast.Next24h(ctx, state.Latitude, state.Longitude, at)
		if err != nil {
			slog.Warn("runner: forecast unavailable, skipping weather rules", "pile", p.ID, "err", err)
			forecast = nil
		}
	}

	ev, err := compute.Evaluate(compute.Input{
		Pile:     state,
		Stats:    env.DailyStats,
		Series:   series,
		Forecast: forecast,
		At:       at,
	}, settings.Options)
	if err != nil {
		return fail(err)
	}
	env.Report = ev.Report
	if len(ev.Missing) > 0 {
		slog.Info("runner: partial report", "pile", p.ID, "missing", ev.Missing)
	}

	if r.deps.Tracker != nil {
		transitions, err := r.deps.Tracker.Observe(ctx, p.ID, series)
		if err != nil {
			slog.Warn("runner: transition tracking failed", "pile", p.ID, "err", err)
		}
		for _, t := range transitions {
			slog.Info("runner: phase transition", "pile", p.ID, "from", t.From, "to", t.To, "temperature", t.Temperature)
		}
		env.Transitions = transitions
	}

	r.postObservations(ctx, p, env.DailyStats, at)

	if pub, ok := src.(scraper.Publisher); ok {
		if err := pub.Publish(ctx, p.ID, ev.Report); err != nil {
			slog.Warn("runner: publish to source failed", "pile", p.ID, "err", err)
		}
	}

	slog.Debug("runner: pile evaluated",
		"pile", p.ID,
		"phase", ev.Report.Phase,
		"age_days", ev.Report.CompostAgeDays,
		"days_remaining", ev.Report.EstimatedDaysRemaining,
	)
	return env
}

// postObservations sends one observation per daily statistic. Failed posts
// are queued in the outbox.
func (r *Runner) postObservations(ctx context.Context, p config.PileConfig, stats map[string]types.DailyStat, at time.Time) {
	if r.deps.Calendar == nil || len(stats) == 0 {
		return
	}
	opID, err := r.operationID(ctx, p)
	if err != nil {
		slog.Warn("runner: compost operation lookup failed", "pile", p.ID, "err", err)
		return
	}
	if opID == "" {
		slog.Debug("runner: no compost operation for pile", "pile", p.ID)
		return
	}

	variables := make([]string, 0, len(stats))
	for v := range stats {
		variables = append(variables, v)
	}
	sort.Strings(variables)

	for _, v := range variables {
		activity, ok := r.deps.ActivityTypes[v]
		if !ok {
			continue
		}
		obs, err := farmcalendar.NewObservation(v, stats[v], activity, at)
		if err != nil {
			slog.Warn("runner: build observation", "pile", p.ID, "variable", v, "err", err)
			continue
		}
		err = r.deps.Calendar.PostObservation(ctx, opID, obs)
		if err == nil {
			continue
		}
		slog.Warn("runner: post observation failed", "pile", p.ID, "variable", v, "err", err)
		r.enqueue(ctx, p.ID, opID, v, obs)
	}
}

func (r *Runner) enqueue(ctx context.Context, pileID, opID, variable string, obs farmcalendar.Observation) {
	if r.deps.Outbox == nil {
		return
	}
	payload, err := json.Marshal(obs)
	if err != nil {
		slog.Error("runner: encode observation", "pile", pileID, "err", err)
		return
	}
	_, err = r.deps.Outbox.SaveObservation(ctx, storage.PendingObservation{
		PileID:      pileID,
		OperationID: opID,
		Variable:    variable,
		Payload:     payload,
	})
	if err != nil {
		slog.Error("runner: queue observation", "pile", pileID, "err", err)
	}
}

func (r *Runner) operationID(ctx context.Context, p config.PileConfig) (string, error) {
	if p.CompostOperationID != "" {
		return p.CompostOperationID, nil
	}
	r.opsMu.Lock()
	id, ok := r.operations[p.ID]
	r.opsMu.Unlock()
	if ok {
		return id, nil
	}

	name := p.Name
	if name == "" {
		name = p.ID
	}
	id, found, err := r.deps.Calendar.OperationFor(ctx, name)
	if err != nil || !found {
		return "", err
	}
	r.opsMu.Lock()
	r.operations[p.ID] = id
	r.opsMu.Unlock()
	return id, nil
}

// flushOutbox retries queued observations once.
func (r *Runner) flushOutbox(ctx context.Context) {
	if r.deps.Outbox == nil || r.deps.Calendar == nil {
		return
	}
	pending, err := r.deps.Outbox.UnsentObservations(ctx, outboxBatch)
	if err != nil {
		slog.Warn("runner: read outbox", "err", err)
		return
	}
	for _, po := range pending {
		var obs farmcalendar.Observation
		if err := json.Unmarshal(po.Payload, &obs); err != nil {
			slog.Error("runner: undecodable outbox entry", "id", po.ID, "err", err)
			_ = r.deps.Outbox.MarkFailed(ctx, po.ID)
			continue
		}
		if err := r.deps.Calendar.PostObservation(ctx, po.OperationID, obs); err != nil {
			slog.Debug("runner: outbox retry failed", "id", po.ID, "pile", po.PileID, "err", err)
			_ = r.deps.Outbox.MarkFailed(ctx, po.ID)
			continue
		}
		if err := r.deps.Outbox.MarkSent(ctx, po.ID); err != nil {
			slog.Warn("runner: mark outbox entry sent", "id", po.ID, "err", err)
		}
	}
}
