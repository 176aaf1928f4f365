package engine

import "sync/atomic"

// Metrics contains atomic counters for an Engine. The counters can be used as
// the value of a prometheus CounterFunc or GaugeFunc.
type Metrics struct {
	// ExchangeCount is the number of exchanges that produced a reply value.
	ExchangeCount atomic.Uint64
	// WriteCount is the number of commands put on the wire, retries included.
	WriteCount atomic.Uint64
	// RetryCount is the number of retried attempts.
	RetryCount atomic.Uint64
	// TimeoutCount is the number of attempts that ended in a reply timeout.
	TimeoutCount atomic.Uint64
	// ParseErrCount is the number of malformed replies.
	ParseErrCount atomic.Uint64
	// RejectedCount is the number of error replies.
	RejectedCount atomic.Uint64
	// ValidationErrCount is the number of commands refused before any I/O.
	ValidationErrCount atomic.Uint64
	// InflightCount is 1 while an exchange holds the session.
	InflightCount atomic.Int64
}

func (m *Metrics) incExchangeCount()      { m.ExchangeCount.Add(1) }
func (m *Metrics) incWriteCount()         { m.WriteCount.Add(1) }
func (m *Metrics) incRetryCount()         { m.RetryCount.Add(1) }
func (m *Metrics) incTimeoutCount()       { m.TimeoutCount.Add(1) }
func (m *Metrics) incParseErrCount()      { m.ParseErrCount.Add(1) }
func (m *Metrics) incRejectedCount()      { m.RejectedCount.Add(1) }
func (m *Metrics) incValidationErrCount() { m.ValidationErrCount.Add(1) }
func (m *Metrics) incInflightCount()      { m.InflightCount.Add(1) }
func (m *Metrics) decInflightCount()      { m.InflightCount.Add(-1) }
