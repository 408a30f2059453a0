package alerts

import (
	"fmt"
	"log/slog"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/compostwatch/compostwatch/pkg/types"
	"github.com/compostwatch/compostwatch/server/internal/config"
)

const (
	defaultCooldown = config.DefaultAlertCooldown
	maxHistoryLen   = 200
	recentWindow    = 24 * time.Hour
)

// Alert is one alert event produced by the rule engine.
type Alert struct {
	ID         string     `json:"id"`
	RuleName   string     `json:"rule_name"`
	PileID     string     `json:"pile_id"`
	PileName   string     `json:"pile_name,omitempty"`
	Severity   string     `json:"severity"`
	Message    string     `json:"message"`
	Value      float64    `json:"value"`
	FiredAt    time.Time  `json:"fired_at"`
	ResolvedAt *time.Time `json:"resolved_at,omitempty"`
	State      string     `json:"state"` // "firing" | "resolved"
}

type rule struct {
	config.AlertRule
	cond condition
}

// Engine evaluates alert rules against received reports and delivers
// webhook notifications when rules fire or resolve. It is safe for
// concurrent use.
type Engine struct {
	rules    []rule
	webhooks []config.WebhookConfig

	mu       sync.Mutex
	active   map[string]*Alert    // key: "ruleName:pileID"
	lastFire map[string]time.Time // for cooldown
	history  []*Alert             // resolved alerts
	client   *http.Client
	now      func() time.Time
	deliverF func(*Alert)
}

// New creates an Engine from the alert configuration. It fails when a rule
// condition cannot be parsed. An Engine without rules is valid.
func New(cfg config.AlertsConfig) (*Engine, error) {
	e := &Engine{
		webhooks: cfg.Webhooks,
		active:   make(map[string]*Alert),
		lastFire: make(map[string]time.Time),
		client:   &http.Client{Timeout: 10 * time.Second},
		now:      time.Now,
	}
	e.deliverF = func(a *Alert) { go e.deliver(a) }

	for _, r := range cfg.Rules {
		c, err := parseCondition(r.Condition)
		if err != nil {
			return nil, fmt.Errorf("alerts: rule %q: %w", r.Name, err)
		}
		if r.Severity == "" {
			r.Severity = "warning"
		}
		if r.Cooldown <= 0 {
			r.Cooldown = defaultCooldown
		}
		e.rules = append(e.rules, rule{AlertRule: r, cond: c})
	}
	return e, nil
}

// Evaluate tests every rule against env. Firing rules outside their cooldown
// raise an alert; firing alerts whose condition cleared are resolved. A
// failed envelope only feeds status rules; the others keep their state until
// the next report that can judge them.
func (e *Engine) Evaluate(env *types.ReportEnvelope) {
	now := e.now()
	for _, r := range e.rules {
		key := r.Name + ":" + env.PileID
		fires, value, known := r.cond.eval(env)
		if !known {
			continue
		}

		e.mu.Lock()
		var notify *Alert
		if fires {
			if now.Sub(e.lastFire[key]) > r.Cooldown {
				a := &Alert{
					ID:       uuid.NewString(),
					RuleName: r.Name,
					PileID:   env.PileID,
					PileName: env.PileName,
					Severity: r.Severity,
					Value:    value,
					Message:  message(r, env, value),
					FiredAt:  now,
					State:    "firing",
				}
				e.active[key] = a
				e.lastFire[key] = now
				cp := *a
				notify = &cp
				slog.Warn("alert fired", "rule", r.Name, "pile", env.PileID, "value", value, "severity", r.Severity)
			}
		} else if a, ok := e.active[key]; ok {
			resolved := now
			a.State = "resolved"
			a.ResolvedAt = &resolved
			delete(e.active, key)
			e.history = append(e.history, a)
			if len(e.history) > maxHistoryLen {
				e.history = e.history[len(e.history)-maxHistoryLen:]
			}
			cp := *a
			notify = &cp
			slog.Info("alert resolved", "rule", r.Name, "pile", env.PileID)
		}
		e.mu.Unlock()

		if notify != nil {
			e.deliverF(notify)
		}
	}
}

func message(r rule, env *types.ReportEnvelope, value float64) string {
	name := env.PileName
	if name == "" {
		name = env.PileID
	}
	if r.cond.numeric {
		return fmt.Sprintf("[%s] %s fired on %s: %s (value %.2f)", r.Severity, r.Name, name, r.Condition, value)
	}
	return fmt.Sprintf("[%s] %s fired on %s: %s", r.Severity, r.Name, name, r.Condition)
}

// Active returns copies of all firing alerts plus alerts resolved within the
// last day, newest first.
func (e *Engine) Active() []*Alert {
	e.mu.Lock()
	defer e.mu.Unlock()

	cutoff := e.now().Add(-recentWindow)
	out := make([]*Alert, 0, len(e.active))
	for _, a := range e.active {
		cp := *a
		out = append(out, &cp)
	}
	for _, a := range e.history {
		if a.ResolvedAt != nil && a.ResolvedAt.After(cutoff) {
			cp := *a
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].FiredAt.After(out[j].FiredAt) })
	return out
}

// Firing returns the number of alerts currently firing for pileID.
func (e *Engine) Firing(pileID string) int {
	e.mu.Lock()
	defer e.mu.Unlock()
	n := 0
	for _, a := range e.active {
		if a.PileID == pileID {
			n++
		}
	}
	return n
}
