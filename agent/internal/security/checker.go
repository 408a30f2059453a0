package security

import (
	"context"
	"crypto/tls"
	"log/slog"
	"math"
	"net"
	"net/url"
	"time"

	"github.com/compostwatch/compostwatch/agent/internal/config"
)

const (
	dialTimeout = 10 * time.Second
	expiryWarn  = 30 // days
)

// Certificate states.
const (
	StatusValid       = "valid"
	StatusExpiring    = "expiring"
	StatusExpired     = "expired"
	StatusUnreachable = "unreachable"
)

// CertStatus describes the leaf certificate served by a source endpoint.
type CertStatus struct {
	SourceID string
	Endpoint string
	AuthType string
	Status   string
	DaysLeft int
	Issuer   string
	NotAfter time.Time
}

// Check dials the TLS endpoint of src and describes its leaf certificate.
// It returns nil for plain-HTTP or unparseable endpoints.
func Check(ctx context.Context, src config.Source, now time.Time) *CertStatus {
	u, err := url.Parse(src.Endpoint)
	if err != nil || u.Scheme != "https" {
		return nil
	}

	cs := &CertStatus{SourceID: src.ID, Endpoint: src.Endpoint, AuthType: src.Auth.Mode}
	if cs.AuthType == "" {
		cs.AuthType = "none"
	}

	host := u.Host
	if _, _, err := net.SplitHostPort(host); err != nil {
		host = net.JoinHostPort(host, "443")
	}

	dialCtx, cancel := context.WithTimeout(ctx, dialTimeout)
	defer cancel()

	dialer := &tls.Dialer{
		NetDialer: &net.Dialer{},
		Config: &tls.Config{
			InsecureSkipVerify: src.TLS.InsecureSkipVerify, //nolint:gosec
		},
	}
	netConn, err := dialer.DialContext(dialCtx, "tcp", host)
	if err != nil {
		cs.Status = StatusUnreachable
		return cs
	}
	conn := netConn.(*tls.Conn)
	defer conn.Close()

	peerCerts := conn.ConnectionState().PeerCertificates
	if len(peerCerts) == 0 {
		cs.Status = StatusUnreachable
		return cs
	}

	leaf := peerCerts[0]
	daysLeft := leaf.NotAfter.Sub(now).Hours() / 24
	cs.NotAfter = leaf.NotAfter.UTC()
	cs.Issuer = leaf.Issuer.CommonName
	cs.DaysLeft = int(math.Floor(daysLeft))

	switch {
	case daysLeft <= 0:
		cs.Status = StatusExpired
	case daysLeft <= expiryWarn:
		cs.Status = StatusExpiring
	default:
		cs.Status = StatusValid
	}
	return cs
}

// Watch checks every source at start and then every interval, logging
// certificates that are expiring, expired or unreachable. It blocks until
// ctx is cancelled.
func Watch(ctx context.Context, sources []config.Source, interval time.Duration) {
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		for _, src := range sources {
			report(Check(ctx, src, time.Now()))
		}
		select {
		case <-ctx.Done():
			return
		case <-t.C:
		}
	}
}

func report(cs *CertStatus) {
	if cs == nil {
		return
	}
	switch cs.Status {
	case StatusExpired:
		slog.Error("security: source certificate expired", "source", cs.SourceID, "not_after", cs.NotAfter, "issuer", cs.Issuer)
	case StatusExpiring:
		slog.Warn("security: source certificate expiring", "source", cs.SourceID, "days_left", cs.DaysLeft, "issuer", cs.Issuer)
	case StatusUnreachable:
		slog.Warn("security: source tls endpoint unreachable", "source", cs.SourceID, "endpoint", cs.Endpoint)
	default:
		slog.Debug("security: source certificate valid", "source", cs.SourceID, "days_left", cs.DaysLeft)
	}
}
