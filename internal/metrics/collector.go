package metrics

import (
	"sync/atomic"
	"time"
)

// Collector counts connection and message outcomes since start-up. All
// methods are safe for concurrent use.
type Collector struct {
	started time.Time

	connections    atomic.Uint64
	disconnections atomic.Uint64
	delivered      atomic.Uint64
	failed         atomic.Uint64
	rejected       atomic.Uint64
}

// NewCollector returns a Collector with all counters at zero.
func NewCollector() *Collector {
	return &Collector{started: time.Now()}
}

// Snapshot is the availability summary returned to clients that ask for
// system status.
type Snapshot struct {
	UptimePercentage    float64 `json:"uptimePercentage"`
	MessageSuccessRate  float64 `json:"messageSuccessRate"`
	ActiveConnections   int     `json:"activeConnections"`
	ActiveRooms         int     `json:"activeRooms"`
	TotalMessages       uint64  `json:"totalMessages"`
	FailedMessages      uint64  `json:"failedMessages"`
	DurabilityAvailable bool    `json:"durabilityAvailable"`
	TotalConnections    uint64  `json:"totalConnections"`
	TotalDisconnections uint64  `json:"totalDisconnections"`
}

// ConnectionOpened records a registered session.
func (c *Collector) ConnectionOpened() {
	c.connections.Add(1)
	ConnectionsTotal.WithLabelValues("opened").Inc()
	ConnectionsActive.Inc()
}

// ConnectionClosed records a deregistered session.
func (c *Collector) ConnectionClosed() {
	c.disconnections.Add(1)
	ConnectionsTotal.WithLabelValues("closed").Inc()
	ConnectionsActive.Dec()
}

// MessageDelivered records a message accepted for relay.
func (c *Collector) MessageDelivered() {
	c.delivered.Add(1)
	MessagesTotal.WithLabelValues("delivered").Inc()
}

// MessageFailed records a message that could not be relayed.
func (c *Collector) MessageFailed() {
	c.failed.Add(1)
	MessagesTotal.WithLabelValues("failed").Inc()
}

// MessageRejected records a message dropped by moderation. Rejections do
// not count against the success rate.
func (c *Collector) MessageRejected() {
	c.rejected.Add(1)
	MessagesTotal.WithLabelValues("rejected").Inc()
}

// Rejected returns the number of moderated-out messages.
func (c *Collector) Rejected() uint64 {
	return c.rejected.Load()
}

// UptimePercentage is connections / (connections + disconnections) * 100,
// 100 when neither has happened.
func (c *Collector) UptimePercentage() float64 {
	conns := c.connections.Load()
	return percentage(conns, conns+c.disconnections.Load())
}

// MessageSuccessRate is the share of relay attempts that succeeded,
// 100 when nothing has been attempted.
func (c *Collector) MessageSuccessRate() float64 {
	delivered := c.delivered.Load()
	return percentage(delivered, delivered+c.failed.Load())
}

// Uptime returns the time since the collector was created.
func (c *Collector) Uptime() time.Duration {
	return time.Since(c.started)
}

// Snapshot combines the counters with live figures supplied by the caller.
func (c *Collector) Snapshot(activeConnections, activeRooms int, durability bool) Snapshot {
	return Snapshot{
		UptimePercentage:    c.UptimePercentage(),
		MessageSuccessRate:  c.MessageSuccessRate(),
		ActiveConnections:   activeConnections,
		ActiveRooms:         activeRooms,
		TotalMessages:       c.delivered.Load(),
		FailedMessages:      c.failed.Load(),
		DurabilityAvailable: durability,
		TotalConnections:    c.connections.Load(),
		TotalDisconnections: c.disconnections.Load(),
	}
}

// percentage returns part/total*100, or 100 when total is zero.
func percentage(part, total uint64) float64 {
	if total == 0 {
		return 100.0
	}
	return float64(part) / float64(total) * 100
}
