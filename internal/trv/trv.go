// Package trv models an MQTT thermostatic radiator valve: it follows the
// reported temperatures and window sensors, forwards user set points to the
// valve and reports its heat demand to a Sink.
package trv

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"

	"trv2relay/internal/clientmqtt"
	"trv2relay/internal/logger"
)

// Transport is the MQTT side of a TRV.
type Transport interface {
	Publish(ctx context.Context, topic string, qos byte, retain bool, payload string) error
	Subscribe(ctx context.Context, topic string, qos byte, handler clientmqtt.MessageHandler) error
}

// Sink receives heat demand changes.
type Sink interface {
	SetTRV(id string, heating bool)
}

type Mode string

const (
	ModeHeat Mode = "heat"
	ModeOff  Mode = "off"
)

type Config struct {
	ID                  string
	Name                string
	CommandTopic        string
	CurrentTempTopic    string
	TargetTempTopic     string
	SetTemperatureTopic string
	ModeTopic           string
	WindowTopics        []string
	OffPayload          string
	ResumeOnClose       bool
	QoS                 byte
	Retain              bool
	MinTemp             float64
	MaxTemp             float64
	Hysteresis          float64
}

// State is a snapshot of a TRV.
type State struct {
	Current    *float64 `json:"current,omitempty"`
	Target     *float64 `json:"target,omitempty"`
	Mode       Mode     `json:"mode"`
	WindowOpen bool     `json:"window_open"`
	Heating    bool     `json:"heating"`
}

type eventKind int

const (
	currentTemp eventKind = iota
	targetTemp
	window
	setTemperature
	setMode
)

type event struct {
	kind    eventKind
	topic   string
	payload string
}

type TRV struct {
	log  logger.Logger
	bus  Transport
	sink Sink
	cfg  Config

	events chan event
	done   chan struct{}

	mu         sync.Mutex
	current    *float64
	target     *float64
	lastSet    *float64
	mode       Mode
	windows    map[string]bool
	windowOpen bool
}

// New конструктор.
func New(log logger.Logger, bus Transport, sink Sink, cfg Config) *TRV {
	if cfg.OffPayload == "" {
		cfg.OffPayload = "OFF"
	}
	return &TRV{
		log:     log,
		bus:     bus,
		sink:    sink,
		cfg:     cfg,
		events:  make(chan event, 16),
		done:    make(chan struct{}),
		mode:    ModeHeat,
		windows: map[string]bool{},
	}
}

func (t *TRV) ID() string {
	return t.cfg.ID
}

// Start subscribes to the configured topics and reports the initial demand.
func (t *TRV) Start(ctx context.Context) error {
	subs := []struct {
		topic string
		kind  eventKind
	}{
		{t.cfg.CurrentTempTopic, currentTemp},
		{t.cfg.TargetTempTopic, targetTemp},
		{t.cfg.SetTemperatureTopic, setTemperature},
		{t.cfg.ModeTopic, setMode},
	}
	for _, w := range t.cfg.WindowTopics {
		subs = append(subs, struct {
			topic string
			kind  eventKind
		}{w, window})
	}

	for _, s := range subs {
		if s.topic == "" {
			continue
		}
		if err := t.bus.Subscribe(ctx, s.topic, t.cfg.QoS, t.enqueue(s.kind)); err != nil {
			return fmt.Errorf("trv %s: %w", t.cfg.Name, err)
		}
	}

	t.notify()
	return nil
}

// Run applies incoming messages one at a time until ctx is done.
func (t *TRV) Run(ctx context.Context) {
	defer close(t.done)
	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-t.events:
			t.handle(ctx, ev)
		}
	}
}

// Stop withdraws the heat demand of this TRV.
func (t *TRV) Stop() {
	t.sink.SetTRV(t.cfg.ID, false)
}

func (t *TRV) enqueue(kind eventKind) clientmqtt.MessageHandler {
	return func(topic string, payload []byte) {
		select {
		case t.events <- event{kind: kind, topic: topic, payload: string(payload)}:
		case <-t.done:
		}
	}
}

func (t *TRV) handle(ctx context.Context, ev event) {
	l := t.log.With(logger.Fields{"module": "trv", "trv": t.cfg.Name})

	switch ev.kind {
	case currentTemp, targetTemp, setTemperature:
		v, err := strconv.ParseFloat(strings.TrimSpace(ev.payload), 64)
		if err != nil {
			l.Warnf("invalid temperature payload on %s: %q", ev.topic, ev.payload)
			return
		}
		switch ev.kind {
		case currentTemp:
			t.mu.Lock()
			t.current = &v
			t.mu.Unlock()
			t.notify()
		case targetTemp:
			t.mu.Lock()
			t.target = &v
			t.mu.Unlock()
			t.notify()
		default:
			if err := t.SetTemperature(ctx, v); err != nil {
				l.Errorf("set temperature: %v", err)
			}
		}
	case setMode:
		m := Mode(strings.ToLower(strings.TrimSpace(ev.payload)))
		if m != ModeHeat && m != ModeOff {
			l.Warnf("invalid mode payload: %q", ev.payload)
			return
		}
		if err := t.SetMode(ctx, m); err != nil {
			l.Errorf("set mode: %v", err)
		}
	case window:
		if err := t.windowChanged(ctx, ev.topic, isOpen(ev.payload)); err != nil {
			l.Errorf("window: %v", err)
		}
	}
}

func (t *TRV) windowChanged(ctx context.Context, topic string, open bool) error {
	t.mu.Lock()
	t.windows[topic] = open
	anyOpen := false
	for _, o := range t.windows {
		anyOpen = anyOpen || o
	}
	was := t.windowOpen
	t.windowOpen = anyOpen
	lastSet := t.lastSet
	t.mu.Unlock()

	if was == anyOpen {
		return nil
	}
	defer t.notify()

	t.log.With(logger.Fields{"module": "trv", "trv": t.cfg.Name}).Infof("window open: %v", anyOpen)
	if anyOpen {
		return t.command(ctx, t.cfg.OffPayload)
	}
	if t.cfg.ResumeOnClose && lastSet != nil {
		return t.command(ctx, formatTemp(*lastSet))
	}
	return nil
}

// SetTemperature sets and forwards a new set point, clamped to the allowed
// range. It is not forwarded while a window is open.
func (t *TRV) SetTemperature(ctx context.Context, v float64) error {
	v = clamp(v, t.cfg.MinTemp, t.cfg.MaxTemp)

	t.mu.Lock()
	t.target = &v
	t.lastSet = &v
	windowOpen := t.windowOpen
	t.mu.Unlock()

	defer t.notify()
	if windowOpen {
		return nil
	}
	return t.command(ctx, formatTemp(v))
}

// SetMode switches the valve off, or back to heating with the last set point.
func (t *TRV) SetMode(ctx context.Context, m Mode) error {
	t.mu.Lock()
	t.mode = m
	windowOpen := t.windowOpen
	lastSet := t.lastSet
	t.mu.Unlock()

	defer t.notify()
	switch {
	case m == ModeOff:
		return t.command(ctx, t.cfg.OffPayload)
	case !windowOpen && lastSet != nil:
		return t.command(ctx, formatTemp(*lastSet))
	}
	return nil
}

func (t *TRV) State() State {
	t.mu.Lock()
	defer t.mu.Unlock()
	mode := t.mode
	if t.windowOpen {
		mode = ModeOff
	}
	return State{
		Current:    t.current,
		Target:     t.target,
		Mode:       mode,
		WindowOpen: t.windowOpen,
		Heating:    t.heatingLocked(),
	}
}

// Heating reports the heat demand: the target exceeds the current
// temperature by more than the hysteresis, no window is open and the mode is heat.
func (t *TRV) Heating() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.heatingLocked()
}

func (t *TRV) heatingLocked() bool {
	if t.windowOpen || t.mode == ModeOff {
		return false
	}
	if t.target == nil || t.current == nil {
		return false
	}
	return *t.target-*t.current > t.cfg.Hysteresis
}

func (t *TRV) notify() {
	t.sink.SetTRV(t.cfg.ID, t.Heating())
}

func (t *TRV) command(ctx context.Context, payload string) error {
	return t.bus.Publish(ctx, t.cfg.CommandTopic, t.cfg.QoS, t.cfg.Retain, payload)
}

func isOpen(payload string) bool {
	switch strings.ToLower(strings.TrimSpace(payload)) {
	case "on", "open", "true", "1":
		return true
	}
	return false
}

func clamp(v, lo, hi float64) float64 {
	if lo < hi {
		if v < lo {
			return lo
		}
		if v > hi {
			return hi
		}
	}
	return v
}

func formatTemp(v float64) string {
	return strconv.FormatFloat(v, 'f', 1, 64)
}
