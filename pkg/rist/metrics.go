package rist

import "github.com/prometheus/client_golang/prometheus"

// metrics holds the optional Prometheus collectors for one context. A
// Context with no Registry configured leaves these nil and every record*
// call becomes a no-op; wiring metrics is opt-in, matching spec.md §6's
// "statistics are always available via Stats(); external exposition is a
// deployment choice, not a core dependency" framing (SPEC_FULL.md domain
// stack).
type metrics struct {
	received      prometheus.Counter
	recovered     prometheus.Counter
	lost          prometheus.Counter
	retransmitted prometheus.Counter
	duplicates    prometheus.Counter
	late          prometheus.Counter
	decryptFail   prometheus.Counter
	queueOverflow prometheus.Counter
}

// newMetrics registers a context's counters against reg, labeled by role
// and flow_id so a sender and receiver sharing one process don't collide.
// reg == nil disables metrics entirely.
func newMetrics(reg *prometheus.Registry, role string, flowID uint32) *metrics {
	if reg == nil {
		return nil
	}
	labels := prometheus.Labels{"role": role, "flow_id": uitoa(flowID)}
	newCounter := func(name, help string) prometheus.Counter {
		c := prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   "rist",
			Name:        name,
			Help:        help,
			ConstLabels: labels,
		})
		reg.MustRegister(c)
		return c
	}
	return &metrics{
		received:      newCounter("packets_received_total", "Data packets received."),
		recovered:     newCounter("packets_recovered_total", "Packets recovered via retransmission."),
		lost:          newCounter("packets_lost_total", "Packets declared permanently lost."),
		retransmitted: newCounter("packets_retransmitted_total", "Packets retransmitted in response to a NACK."),
		duplicates:    newCounter("packets_duplicate_total", "Duplicate packets discarded."),
		late:          newCounter("packets_late_total", "Packets that arrived after their window had advanced past them."),
		decryptFail:   newCounter("decrypt_failures_total", "Packets dropped for lacking a decryption key."),
		queueOverflow: newCounter("queue_overflow_total", "Application output queue overflow events."),
	}
}

func (m *metrics) addReceived(n uint64)      { m.add(m.received, n) }
func (m *metrics) addRecovered(n uint64)     { m.add(m.recovered, n) }
func (m *metrics) addLost(n uint64)          { m.add(m.lost, n) }
func (m *metrics) addRetransmitted(n uint64) { m.add(m.retransmitted, n) }
func (m *metrics) addDuplicate(n uint64)     { m.add(m.duplicates, n) }
func (m *metrics) addLate(n uint64)          { m.add(m.late, n) }
func (m *metrics) addDecryptFail(n uint64)   { m.add(m.decryptFail, n) }
func (m *metrics) addQueueOverflow(n uint64) { m.add(m.queueOverflow, n) }

func (m *metrics) add(c prometheus.Counter, n uint64) {
	if m == nil || c == nil || n == 0 {
		return
	}
	c.Add(float64(n))
}

func uitoa(v uint32) string {
	if v == 0 {
		return "0"
	}
	var buf [10]byte
	i := len(buf)
	for v > 0 {
		i--
		buf[i] = byte('0' + v%10)
		v /= 10
	}
	return string(buf[i:])
}
