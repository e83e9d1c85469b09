// Package coordinator switches the shared boiler/pump relays from the
// aggregated heat demand of all TRVs. Relays go ON as soon as any TRV demands
// heat and OFF only after every TRV stopped, each relay after its own delay.
package coordinator

import (
	"context"
	"errors"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"trv2relay/internal/demand"
	"trv2relay/internal/logger"
	"trv2relay/internal/metrics"
)

// Publisher is the MQTT side of the coordinator.
type Publisher interface {
	Publish(ctx context.Context, topic string, qos byte, retain bool, payload string) error
}

// Coordinator owns the relay settings, the demand register and the pending offs.
type Coordinator struct {
	log      logger.Logger
	pub      Publisher
	metrics  *metrics.Metrics
	demand   *demand.Register
	settings atomic.Pointer[Settings]

	// trigger holds at most one queued recompute request.
	trigger chan struct{}

	// mu serializes recomputes and guards pending.
	mu      sync.Mutex
	pending map[string]*pendingOff

	offCtx    context.Context
	offCancel context.CancelFunc
	wg        sync.WaitGroup
}

type pendingOff struct {
	relay  RelayConfig
	cancel context.CancelFunc
}

// Status is a point-in-time view for the status endpoint.
type Status struct {
	Demand      map[string]bool `json:"demand"`
	AnyDemand   bool            `json:"any_demand"`
	Relays      []string        `json:"relays"`
	PendingOffs []string        `json:"pending_offs"`
}

// New конструктор. m may be nil.
func New(log logger.Logger, pub Publisher, m *metrics.Metrics) *Coordinator {
	c := &Coordinator{
		log:     log,
		pub:     pub,
		metrics: m,
		demand:  demand.NewRegister(),
		trigger: make(chan struct{}, 1),
		pending: map[string]*pendingOff{},
	}
	c.offCtx, c.offCancel = context.WithCancel(context.Background())
	c.settings.Store(&Settings{OnPayload: DefaultOnPayload, OffPayload: DefaultOffPayload})
	return c
}

// Configure replaces the relay settings. Pending offs of relays that are no
// longer configured are cancelled; the others keep their deadline and use the
// new payload, qos and retain when they fire.
func (c *Coordinator) Configure(s Settings) {
	s = s.withDefaults()
	c.settings.Store(&s)

	keep := make(map[string]bool, len(s.Relays))
	for _, r := range s.Relays {
		keep[r.CommandTopic] = true
	}

	c.mu.Lock()
	for topic, p := range c.pending {
		if !keep[topic] {
			p.cancel()
			delete(c.pending, topic)
			c.log.With(logger.Fields{"module": "coordinator", "relay": topic}).Info("relay removed, pending off cancelled")
		}
	}
	c.metrics.PendingOffs(len(c.pending))
	c.mu.Unlock()

	c.log.With(logger.Fields{"module": "coordinator"}).Infof("configured %d relays", len(s.Relays))
	c.requestRecompute()
}

// SetTRV records the demand of one TRV and queues a recompute. It never blocks.
func (c *Coordinator) SetTRV(id string, heating bool) {
	c.demand.Set(id, heating)
	c.metrics.TRVDemand(id, heating)
	c.log.With(logger.Fields{"module": "coordinator", "trv": id}).Debugf("demand: %v", heating)
	c.requestRecompute()
}

func (c *Coordinator) requestRecompute() {
	select {
	case c.trigger <- struct{}{}:
	default:
	}
}

// Run executes queued recomputes one at a time until ctx is done.
func (c *Coordinator) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-c.trigger:
			if err := c.Recompute(ctx); err != nil {
				c.log.With(logger.Fields{"module": "coordinator"}).Errorf("recompute: %v", err)
			}
		}
	}
}

// Recompute drives the relays from the current aggregate demand. Errors of
// ON publishes are returned; OFF failures are logged and retried by the next
// recompute.
func (c *Coordinator) Recompute(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	s := c.settings.Load()
	anyOn := c.demand.Aggregate()
	c.metrics.Recompute(anyOn)

	if anyOn {
		if n := len(c.pending); n > 0 {
			for topic, p := range c.pending {
				p.cancel()
				delete(c.pending, topic)
			}
			c.metrics.OffCancelled(n)
			c.metrics.PendingOffs(0)
			c.log.With(logger.Fields{"module": "coordinator"}).Debugf("cancelled %d pending offs", n)
		}

		var errs []error
		for _, r := range s.Relays {
			if err := c.publish(ctx, s, r.CommandTopic, "on", s.OnPayload); err != nil {
				errs = append(errs, err)
			}
		}
		return errors.Join(errs...)
	}

	for _, r := range s.Relays {
		if _, ok := c.pending[r.CommandTopic]; ok {
			continue
		}
		if r.OffDelay <= 0 {
			if err := c.publish(ctx, s, r.CommandTopic, "off", s.OffPayload); err != nil {
				c.log.With(logger.Fields{"module": "coordinator", "relay": r.CommandTopic}).Errorf("off: %v", err)
			}
			continue
		}
		c.scheduleOff(r)
	}
	c.metrics.PendingOffs(len(c.pending))
	return nil
}

// scheduleOff must be called with mu held.
func (c *Coordinator) scheduleOff(r RelayConfig) {
	if c.offCtx.Err() != nil {
		return
	}
	ctx, cancel := context.WithCancel(c.offCtx)
	p := &pendingOff{relay: r, cancel: cancel}
	c.pending[r.CommandTopic] = p

	c.log.With(logger.Fields{"module": "coordinator", "relay": r.CommandTopic}).Debugf("off in %v", r.OffDelay)

	c.wg.Add(1)
	go c.delayedOff(ctx, p)
}

func (c *Coordinator) delayedOff(ctx context.Context, p *pendingOff) {
	defer c.wg.Done()
	defer p.cancel()

	t := time.NewTimer(p.relay.OffDelay)
	defer t.Stop()

	select {
	case <-ctx.Done():
		return
	case <-t.C:
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	// Cancelled between the timer firing and acquiring the lock.
	if c.pending[p.relay.CommandTopic] != p {
		return
	}
	delete(c.pending, p.relay.CommandTopic)
	c.metrics.PendingOffs(len(c.pending))

	s := c.settings.Load()
	if err := c.publish(ctx, s, p.relay.CommandTopic, "off", s.OffPayload); err != nil {
		l := c.log.With(logger.Fields{"module": "coordinator", "relay": p.relay.CommandTopic})
		if errors.Is(err, context.Canceled) {
			l.Debug("delayed off aborted on shutdown")
			return
		}
		l.Errorf("delayed off: %v", err)
	}
}

func (c *Coordinator) publish(ctx context.Context, s *Settings, topic, command, payload string) error {
	err := c.pub.Publish(ctx, topic, s.QoS, s.Retain, payload)
	c.metrics.Publish(command, err)
	return err
}

// Pending returns the command topics with a delayed off in flight.
func (c *Coordinator) Pending() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, 0, len(c.pending))
	for topic := range c.pending {
		out = append(out, topic)
	}
	sort.Strings(out)
	return out
}

func (c *Coordinator) Status() Status {
	s := c.settings.Load()
	relays := make([]string, 0, len(s.Relays))
	for _, r := range s.Relays {
		relays = append(relays, r.CommandTopic)
	}
	return Status{
		Demand:      c.demand.Snapshot(),
		AnyDemand:   c.demand.Aggregate(),
		Relays:      relays,
		PendingOffs: c.Pending(),
	}
}

// Stop cancels every pending off and waits for them to return.
func (c *Coordinator) Stop() {
	c.offCancel()
	c.mu.Lock()
	for topic := range c.pending {
		delete(c.pending, topic)
	}
	c.mu.Unlock()
	c.wg.Wait()
}
