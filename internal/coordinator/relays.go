package coordinator

import (
	"strconv"
	"strings"
	"time"
)

const (
	DefaultOnPayload  = "ON"
	DefaultOffPayload = "OFF"
)

// RelayConfig is one relay output of the shared relay set.
type RelayConfig struct {
	CommandTopic string
	OffDelay     time.Duration
}

// Settings is replaced as a whole by Configure.
type Settings struct {
	Relays     []RelayConfig
	OnPayload  string
	OffPayload string
	QoS        byte
	Retain     bool
}

func (s Settings) withDefaults() Settings {
	s.Relays = append([]RelayConfig(nil), s.Relays...)
	if s.OnPayload == "" {
		s.OnPayload = DefaultOnPayload
	}
	if s.OffPayload == "" {
		s.OffPayload = DefaultOffPayload
	}
	return s
}

// ParseRelays pairs a comma-separated topic list with a comma-separated list
// of off delays in seconds. Blank topics are dropped before pairing. Missing,
// blank, non-integer or negative delays become 0.
func ParseRelays(topics, delays string) []RelayConfig {
	var names []string
	for _, t := range strings.Split(topics, ",") {
		if t = strings.TrimSpace(t); t != "" {
			names = append(names, t)
		}
	}

	var secs []int
	if strings.TrimSpace(delays) != "" {
		for _, d := range strings.Split(delays, ",") {
			n, err := strconv.Atoi(strings.TrimSpace(d))
			if err != nil || n < 0 {
				n = 0
			}
			secs = append(secs, n)
		}
	}

	relays := make([]RelayConfig, 0, len(names))
	for i, name := range names {
		r := RelayConfig{CommandTopic: name}
		if i < len(secs) {
			r.OffDelay = time.Duration(secs[i]) * time.Second
		}
		relays = append(relays, r)
	}
	return relays
}
