package config

import (
	"fmt"

	"github.com/BurntSushi/toml"
	"github.com/google/uuid"
)

// Config структура конфигурации.
type Config struct {
	Logger      LogConf         // Logger - конфигурация регистратора.
	MQTT        MQTTConf        // MQTT - конфигурация MQTT клиента.
	Coordinator CoordinatorConf // Coordinator - общие реле котла/насоса.
	TRV         []TRVConf       `toml:"trv"`   // TRV - термоголовки.
	Relay       []RelayConf     `toml:"relay"` // Relay - реле с топиком состояния.
	HTTP        HTTPConf        // HTTP - метрики и статус.
}

// LogConf структура конфигурации.
type LogConf struct {
	Level string `toml:"log-level"` // Level - уровень логирования.
}

// MQTTConf структура конфигурации.
type MQTTConf struct {
	ClientID string `toml:"clientID"` // ClientID - имя клиента.
	Schema   string `toml:"schema"`   // Schema - тип подключения.
	Host     string `toml:"server"`   // Host - адрес MQTT сервера.
	Port     string `toml:"port"`     // Port - порт MQTT сервера.
	User     string `toml:"user"`     // User - логин для подключения к MQTT серверу.
	Password string `toml:"password"` // Password - пароль для подключения к MQTT серверу.
	Qos      byte   `toml:"qos"`      // Qos - качество обслуживания.
}

// CoordinatorConf describes the shared relay set. Topics and delays are
// comma-separated lists paired by position.
type CoordinatorConf struct {
	CommandTopics string `toml:"relay-command-topics"`
	OffDelays     string `toml:"relay-off-delays"` // seconds
	OnPayload     string `toml:"relay-on-payload"`
	OffPayload    string `toml:"relay-off-payload"`
	Qos           byte   `toml:"qos"`
	Retain        bool   `toml:"retain"`
}

// TRVConf описание одной термоголовки.
type TRVConf struct {
	Name                string   `toml:"name"`
	ID                  string   `toml:"id"`
	CommandTopic        string   `toml:"command-topic"`
	CurrentTempTopic    string   `toml:"current-temp-topic"`
	TargetTempTopic     string   `toml:"target-temp-state-topic"`
	SetTemperatureTopic string   `toml:"set-temperature-topic"`
	ModeTopic           string   `toml:"mode-topic"`
	WindowTopics        []string `toml:"window-topics"`
	OffPayload          string   `toml:"off-payload"`
	ResumeOnClose       *bool    `toml:"resume-on-close"`
	Qos                 byte     `toml:"qos"`
	Retain              bool     `toml:"retain"`
	MinTemp             float64  `toml:"min-temp"`
	MaxTemp             float64  `toml:"max-temp"`
	Hysteresis          float64  `toml:"hysteresis"`
}

// RelayConf описание реле.
type RelayConf struct {
	Name         string `toml:"name"`
	CommandTopic string `toml:"command-topic"`
	StateTopic   string `toml:"state-topic"`
	Qos          byte   `toml:"qos"`
	Retain       bool   `toml:"retain"`
}

// HTTPConf структура конфигурации.
type HTTPConf struct {
	Listen string `toml:"listen"` // Listen - адрес для /metrics и /status, пусто - выключено.
}

// NewConfig конструктор.
func NewConfig(path string) (*Config, error) {
	// default values
	cfg := Config{
		Logger: LogConf{Level: "info"},
		MQTT:   MQTTConf{Schema: "tcp", Port: "1883"},
		Coordinator: CoordinatorConf{
			OnPayload:  "ON",
			OffPayload: "OFF",
		},
	}
	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return &cfg, err
	}
	if err := cfg.normalize(); err != nil {
		return &cfg, err
	}
	return &cfg, nil
}

func (c *Config) normalize() error {
	if c.MQTT.ClientID == "" {
		c.MQTT.ClientID = "trv2relay-" + uuid.NewString()
	}
	seen := map[string]bool{}
	for i := range c.TRV {
		t := &c.TRV[i]
		if t.Name == "" {
			return fmt.Errorf("trv #%d: name is required", i+1)
		}
		if t.CommandTopic == "" {
			return fmt.Errorf("trv %q: command-topic is required", t.Name)
		}
		if t.ID == "" {
			t.ID = t.Name
		}
		if seen[t.ID] {
			return fmt.Errorf("trv %q: duplicate id %q", t.Name, t.ID)
		}
		seen[t.ID] = true
		if t.OffPayload == "" {
			t.OffPayload = "OFF"
		}
		if t.ResumeOnClose == nil {
			resume := true
			t.ResumeOnClose = &resume
		}
		if t.MinTemp == 0 && t.MaxTemp == 0 {
			t.MinTemp, t.MaxTemp = 5, 30
		}
		if t.MinTemp > t.MaxTemp {
			return fmt.Errorf("trv %q: min-temp %.1f above max-temp %.1f", t.Name, t.MinTemp, t.MaxTemp)
		}
		if t.Hysteresis == 0 {
			t.Hysteresis = 0.3
		}
	}
	for i, r := range c.Relay {
		if r.CommandTopic == "" {
			return fmt.Errorf("relay #%d: command-topic is required", i+1)
		}
	}
	return nil
}
