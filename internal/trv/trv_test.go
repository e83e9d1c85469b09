package trv

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"trv2relay/internal/clientmqtt"
	"trv2relay/internal/logger"
)

type fakeBus struct {
	mu        sync.Mutex
	handlers  map[string]clientmqtt.MessageHandler
	published []string
}

func newFakeBus() *fakeBus {
	return &fakeBus{handlers: map[string]clientmqtt.MessageHandler{}}
}

func (b *fakeBus) Publish(_ context.Context, topic string, _ byte, _ bool, payload string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.published = append(b.published, topic+"="+payload)
	return nil
}

func (b *fakeBus) Subscribe(_ context.Context, topic string, _ byte, handler clientmqtt.MessageHandler) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers[topic] = handler
	return nil
}

func (b *fakeBus) deliver(topic, payload string) {
	b.mu.Lock()
	h := b.handlers[topic]
	b.mu.Unlock()
	h(topic, []byte(payload))
}

func (b *fakeBus) messages() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]string(nil), b.published...)
}

type fakeSink struct {
	mu    sync.Mutex
	calls []bool
}

func (s *fakeSink) SetTRV(_ string, heating bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, heating)
}

func (s *fakeSink) last() (bool, int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.calls) == 0 {
		return false, 0
	}
	return s.calls[len(s.calls)-1], len(s.calls)
}

func testConfig() Config {
	return Config{
		ID:                  "kitchen",
		Name:                "kitchen",
		CommandTopic:        "trv/kitchen/set",
		CurrentTempTopic:    "trv/kitchen/current",
		TargetTempTopic:     "trv/kitchen/target",
		SetTemperatureTopic: "trv/kitchen/control/temperature",
		ModeTopic:           "trv/kitchen/control/mode",
		WindowTopics:        []string{"window/kitchen/1", "window/kitchen/2"},
		ResumeOnClose:       true,
		MinTemp:             5,
		MaxTemp:             30,
		Hysteresis:          0.3,
	}
}

func newTestTRV(t *testing.T, cfg Config) (*TRV, *fakeBus, *fakeSink) {
	t.Helper()
	bus, sink := newFakeBus(), &fakeSink{}
	trv := New(logger.Discard(), bus, sink, cfg)
	require.NoError(t, trv.Start(context.Background()))
	return trv, bus, sink
}

func msg(kind eventKind, topic, payload string) event {
	return event{kind: kind, topic: topic, payload: payload}
}

func TestStartSubscribesAndNotifies(t *testing.T) {
	trv, bus, sink := newTestTRV(t, testConfig())

	assert.Len(t, bus.handlers, 6)
	heating, n := sink.last()
	assert.Equal(t, 1, n)
	assert.False(t, heating, "unknown temperatures mean no demand")
	assert.Equal(t, "OFF", trv.cfg.OffPayload)
}

func TestHeatingPredicate(t *testing.T) {
	tests := []struct {
		name    string
		current string
		target  string
		want    bool
	}{
		{"well below target", "18", "21", true},
		{"within hysteresis", "20.8", "21", false},
		{"just above hysteresis", "20.6", "21", true},
		{"above target", "22", "21", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			trv, _, sink := newTestTRV(t, testConfig())
			ctx := context.Background()

			trv.handle(ctx, msg(currentTemp, "trv/kitchen/current", tt.current))
			trv.handle(ctx, msg(targetTemp, "trv/kitchen/target", tt.target))

			assert.Equal(t, tt.want, trv.Heating())
			heating, _ := sink.last()
			assert.Equal(t, tt.want, heating)
		})
	}
}

func TestInvalidTemperatureIgnored(t *testing.T) {
	trv, _, sink := newTestTRV(t, testConfig())
	ctx := context.Background()

	trv.handle(ctx, msg(currentTemp, "trv/kitchen/current", "18"))
	_, n := sink.last()
	trv.handle(ctx, msg(currentTemp, "trv/kitchen/current", "warm"))

	_, after := sink.last()
	assert.Equal(t, n, after, "invalid payload does not notify")
	require.NotNil(t, trv.State().Current)
	assert.Equal(t, 18.0, *trv.State().Current)
}

func TestWindowGating(t *testing.T) {
	trv, bus, sink := newTestTRV(t, testConfig())
	ctx := context.Background()

	require.NoError(t, trv.SetTemperature(ctx, 22))
	trv.handle(ctx, msg(currentTemp, "trv/kitchen/current", "18"))
	assert.True(t, trv.Heating())

	trv.handle(ctx, msg(window, "window/kitchen/1", "open"))
	assert.False(t, trv.Heating())
	heating, _ := sink.last()
	assert.False(t, heating)
	assert.Equal(t, ModeOff, trv.State().Mode)

	trv.handle(ctx, msg(window, "window/kitchen/2", "ON"))
	trv.handle(ctx, msg(window, "window/kitchen/1", "closed"))
	assert.True(t, trv.State().WindowOpen, "second window still open")

	require.NoError(t, trv.SetTemperature(ctx, 23))
	trv.handle(ctx, msg(window, "window/kitchen/2", "off"))
	assert.False(t, trv.State().WindowOpen)
	assert.True(t, trv.Heating())
	assert.Equal(t, ModeHeat, trv.State().Mode)

	assert.Equal(t, []string{
		"trv/kitchen/set=22.0",
		"trv/kitchen/set=OFF",
		"trv/kitchen/set=23.0",
	}, bus.messages())
}

func TestWindowCloseWithoutResume(t *testing.T) {
	cfg := testConfig()
	cfg.ResumeOnClose = false
	trv, bus, _ := newTestTRV(t, cfg)
	ctx := context.Background()

	require.NoError(t, trv.SetTemperature(ctx, 21))
	trv.handle(ctx, msg(window, "window/kitchen/1", "true"))
	trv.handle(ctx, msg(window, "window/kitchen/1", "false"))

	assert.Equal(t, []string{"trv/kitchen/set=21.0", "trv/kitchen/set=OFF"}, bus.messages())
}

func TestSetTemperatureClamps(t *testing.T) {
	trv, bus, _ := newTestTRV(t, testConfig())
	ctx := context.Background()

	require.NoError(t, trv.SetTemperature(ctx, 45))
	require.NoError(t, trv.SetTemperature(ctx, 1))

	assert.Equal(t, []string{"trv/kitchen/set=30.0", "trv/kitchen/set=5.0"}, bus.messages())
}

func TestSetMode(t *testing.T) {
	cfg := testConfig()
	cfg.OffPayload = "0"
	trv, bus, _ := newTestTRV(t, cfg)
	ctx := context.Background()

	require.NoError(t, trv.SetMode(ctx, ModeHeat))
	assert.Empty(t, bus.messages(), "nothing to resume without a set point")

	require.NoError(t, trv.SetTemperature(ctx, 21.5))
	trv.handle(ctx, msg(currentTemp, "trv/kitchen/current", "19"))
	assert.True(t, trv.Heating())

	trv.handle(ctx, msg(setMode, "trv/kitchen/control/mode", "OFF"))
	assert.False(t, trv.Heating())

	trv.handle(ctx, msg(setMode, "trv/kitchen/control/mode", "auto"))
	assert.Equal(t, ModeOff, trv.State().Mode, "invalid mode ignored")

	trv.handle(ctx, msg(setMode, "trv/kitchen/control/mode", "heat"))
	assert.True(t, trv.Heating())

	assert.Equal(t, []string{
		"trv/kitchen/set=21.5",
		"trv/kitchen/set=0",
		"trv/kitchen/set=21.5",
	}, bus.messages())
}

func TestRunDeliversMessages(t *testing.T) {
	trv, bus, sink := newTestTRV(t, testConfig())
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		trv.Run(ctx)
		close(done)
	}()

	bus.deliver("trv/kitchen/control/temperature", "21")
	bus.deliver("trv/kitchen/current", "17.5")

	assert.Eventually(t, func() bool {
		heating, _ := sink.last()
		return heating
	}, time.Second, 5*time.Millisecond)

	cancel()
	<-done

	// Messages after Run returned are dropped without blocking.
	bus.deliver("trv/kitchen/current", "25")

	trv.Stop()
	heating, _ := sink.last()
	assert.False(t, heating, "stopping withdraws the demand")
}
