package relay

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"sync"

	"github.com/gorilla/mux"

	"trv2relay/internal/clientmqtt"
	"trv2relay/internal/logger"
	"trv2relay/internal/metrics"
)

// Transport is the MQTT side of a relay.
type Transport interface {
	Publish(ctx context.Context, topic string, qos byte, retain bool, payload string) error
	Subscribe(ctx context.Context, topic string, qos byte, handler clientmqtt.MessageHandler) error
}

type Config struct {
	Name         string
	CommandTopic string
	StateTopic   string
	QoS          byte
	Retain       bool
}

// Relay mirrors an on/off relay from its state topic and switches it on its command topic.
type Relay struct {
	log     logger.Logger
	bus     Transport
	cfg     Config
	metrics *metrics.Metrics

	mu sync.RWMutex
	on bool
}

// New конструктор.
func New(log logger.Logger, bus Transport, cfg Config, m *metrics.Metrics) *Relay {
	return &Relay{log: log, bus: bus, cfg: cfg, metrics: m}
}

func (r *Relay) Name() string {
	return r.cfg.Name
}

// Start subscribes to the state topic, if any.
func (r *Relay) Start(ctx context.Context) error {
	if r.cfg.StateTopic == "" {
		return nil
	}
	if err := r.bus.Subscribe(ctx, r.cfg.StateTopic, r.cfg.QoS, r.handleState); err != nil {
		return fmt.Errorf("relay %s: %w", r.cfg.Name, err)
	}
	return nil
}

func (r *Relay) IsOn() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.on
}

func (r *Relay) TurnOn(ctx context.Context) error {
	return r.bus.Publish(ctx, r.cfg.CommandTopic, r.cfg.QoS, r.cfg.Retain, "ON")
}

func (r *Relay) TurnOff(ctx context.Context) error {
	return r.bus.Publish(ctx, r.cfg.CommandTopic, r.cfg.QoS, r.cfg.Retain, "OFF")
}

func (r *Relay) handleState(_ string, payload []byte) {
	on, ok := ParseState(string(payload))
	if !ok {
		r.log.With(logger.Fields{"module": "relay", "relay": r.cfg.Name}).Debugf("ignored state payload %q", payload)
		return
	}

	r.mu.Lock()
	changed := r.on != on
	r.on = on
	r.mu.Unlock()

	r.metrics.RelayState(r.cfg.Name, on)
	if changed {
		r.log.With(logger.Fields{"module": "relay", "relay": r.cfg.Name}).Infof("state: %v", on)
	}
}

// ParseState interprets a relay state payload. ok is false for unknown payloads.
func ParseState(payload string) (on bool, ok bool) {
	switch strings.ToLower(strings.TrimSpace(payload)) {
	case "1", "on", "true":
		return true, true
	case "0", "off", "false":
		return false, true
	}
	return false, false
}

// ControlHandler serves POST /relays/{name}/{command} with command on or off.
func ControlHandler(relays map[string]*Relay) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		vars := mux.Vars(req)
		r, ok := relays[vars["name"]]
		if !ok {
			http.Error(w, "unknown relay", http.StatusNotFound)
			return
		}

		var err error
		switch vars["command"] {
		case "on":
			err = r.TurnOn(req.Context())
		case "off":
			err = r.TurnOff(req.Context())
		default:
			http.Error(w, "command must be on or off", http.StatusBadRequest)
			return
		}
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadGateway)
			return
		}
		w.WriteHeader(http.StatusAccepted)
	}
}
