package omemodr

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics counts engine outcomes. A nil *Metrics records nothing.
type Metrics struct {
	MessagesEncryptedTotal *prometheus.CounterVec
	MessagesDecryptedTotal *prometheus.CounterVec
	SessionsBuiltTotal     *prometheus.CounterVec
	StatePromotionsTotal   prometheus.Counter
}

// NewMetrics creates the collectors and registers them with reg when reg is
// not nil.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		MessagesEncryptedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "omemodr_messages_encrypted_total",
				Help: "Total number of encrypted messages.",
			},
			[]string{"type"},
		),
		MessagesDecryptedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "omemodr_messages_decrypted_total",
				Help: "Total number of decryption attempts by outcome.",
			},
			[]string{"type", "result"},
		),
		SessionsBuiltTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "omemodr_sessions_built_total",
				Help: "Total number of sessions set up.",
			},
			[]string{"role"},
		),
		StatePromotionsTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "omemodr_state_promotions_total",
				Help: "Total number of archived session states promoted by a successful decryption.",
			},
		),
	}
	if reg != nil {
		reg.MustRegister(
			m.MessagesEncryptedTotal,
			m.MessagesDecryptedTotal,
			m.SessionsBuiltTotal,
			m.StatePromotionsTotal,
		)
	}
	return m
}

func (m *Metrics) encrypted(typ string) {
	if m == nil {
		return
	}
	m.MessagesEncryptedTotal.WithLabelValues(typ).Inc()
}

func (m *Metrics) decrypted(typ string, err error) {
	if m == nil {
		return
	}
	m.MessagesDecryptedTotal.WithLabelValues(typ, resultLabel(err)).Inc()
}

func (m *Metrics) sessionBuilt(role string) {
	if m == nil {
		return
	}
	m.SessionsBuiltTotal.WithLabelValues(role).Inc()
}

func (m *Metrics) statePromoted() {
	if m == nil {
		return
	}
	m.StatePromotionsTotal.Inc()
}

func resultLabel(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrDuplicateMessage):
		return "duplicate"
	case errors.Is(err, ErrUntrustedIdentity):
		return "untrusted"
	case errors.Is(err, ErrNoSession):
		return "no_session"
	case errors.Is(err, ErrInvalidMessage):
		return "invalid"
	default:
		return "error"
	}
}
