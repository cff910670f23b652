// Package broadcast fans a payload out to every member of a room. A failed
// delivery never stops the rest of the fan-out; failed recipients are handed
// to a failure hook once the pass is complete.
package broadcast

import (
	"context"
	"log"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/kaloslazo/NubuStream/internal/metrics"
	"github.com/kaloslazo/NubuStream/internal/session"
)

// DefaultConcurrency bounds parallel sends when the caller passes zero.
const DefaultConcurrency = 64

// Delivery is the outcome of sending to one recipient.
type Delivery struct {
	UserID string
	Err    error
}

// Result summarises one broadcast. Partial failure is not an error.
type Result struct {
	Recipients int
	Delivered  int
	Failed     []Delivery
	Skipped    int // not attempted because ctx was done
}

// FailureHook is called once per failed recipient after the fan-out.
type FailureHook func(userID string)

// Engine delivers payloads to room members taken from a Registry.
type Engine struct {
	registry    *session.Registry
	concurrency int
	onFailure   FailureHook
}

// NewEngine creates an Engine. A nil onFailure deregisters the recipient and
// closes its connection.
func NewEngine(registry *session.Registry, concurrency int, onFailure FailureHook) *Engine {
	if concurrency <= 0 {
		concurrency = DefaultConcurrency
	}
	e := &Engine{registry: registry, concurrency: concurrency, onFailure: onFailure}
	if e.onFailure == nil {
		e.onFailure = e.evict
	}
	return e
}

// Broadcast sends payload to every member of roomID except excludeUserID.
// Membership is snapshotted when the call starts: members that join later do
// not receive this payload and members that leave mid-pass are still
// attempted. Unknown rooms yield a zero Result.
func (e *Engine) Broadcast(ctx context.Context, roomID string, payload []byte, excludeUserID string) Result {
	members, ok := e.registry.Members(roomID, excludeUserID)
	if !ok || len(members) == 0 {
		return Result{}
	}

	start := time.Now()
	outcomes := make([]Delivery, len(members))
	attempted := make([]bool, len(members))

	var g errgroup.Group
	g.SetLimit(e.concurrency)
	for i, m := range members {
		if ctx.Err() != nil {
			break
		}
		i, m := i, m
		g.Go(func() error {
			attempted[i] = true
			outcomes[i] = Delivery{UserID: m.UserID, Err: m.Conn.Send(payload)}
			return nil
		})
	}
	g.Wait()

	res := Result{Recipients: len(members)}
	for i, d := range outcomes {
		switch {
		case !attempted[i]:
			res.Skipped++
		case d.Err != nil:
			res.Failed = append(res.Failed, d)
		default:
			res.Delivered++
		}
	}

	metrics.BroadcastLatency.Observe(time.Since(start).Seconds())
	metrics.DeliveriesTotal.WithLabelValues("ok").Add(float64(res.Delivered))
	metrics.DeliveriesTotal.WithLabelValues("failed").Add(float64(len(res.Failed)))

	for _, d := range res.Failed {
		log.Printf("[broadcast] delivery to %s in room %s failed: %v", d.UserID, roomID, d.Err)
		e.onFailure(d.UserID)
	}
	return res
}

// evict is the default failure hook.
func (e *Engine) evict(userID string) {
	if sess, ok := e.registry.Deregister(userID); ok {
		sess.Conn.Close()
	}
}
