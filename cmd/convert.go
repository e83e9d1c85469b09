package main

import (
	"trv2relay/internal/clientmqtt"
	"trv2relay/internal/config"
	"trv2relay/internal/coordinator"
	"trv2relay/internal/relay"
	"trv2relay/internal/trv"
)

// ConvertConfigClientMQTT преобразует структуры.
func ConvertConfigClientMQTT(cfg config.MQTTConf) clientmqtt.MQTTConf {
	schema := cfg.Schema
	if schema == "" {
		schema = "tcp"
	}
	return clientmqtt.MQTTConf{
		ClientID: cfg.ClientID,
		Schema:   schema,
		Host:     cfg.Host,
		Port:     cfg.Port,
		User:     cfg.User,
		Password: cfg.Password,
	}
}

// ConvertConfigCoordinator parses the relay lists of the coordinator section.
func ConvertConfigCoordinator(cfg config.CoordinatorConf) coordinator.Settings {
	return coordinator.Settings{
		Relays:     coordinator.ParseRelays(cfg.CommandTopics, cfg.OffDelays),
		OnPayload:  cfg.OnPayload,
		OffPayload: cfg.OffPayload,
		QoS:        cfg.Qos,
		Retain:     cfg.Retain,
	}
}

func ConvertConfigTRV(cfg config.TRVConf) trv.Config {
	resume := true
	if cfg.ResumeOnClose != nil {
		resume = *cfg.ResumeOnClose
	}
	return trv.Config{
		ID:                  cfg.ID,
		Name:                cfg.Name,
		CommandTopic:        cfg.CommandTopic,
		CurrentTempTopic:    cfg.CurrentTempTopic,
		TargetTempTopic:     cfg.TargetTempTopic,
		SetTemperatureTopic: cfg.SetTemperatureTopic,
		ModeTopic:           cfg.ModeTopic,
		WindowTopics:        cfg.WindowTopics,
		OffPayload:          cfg.OffPayload,
		ResumeOnClose:       resume,
		QoS:                 cfg.Qos,
		Retain:              cfg.Retain,
		MinTemp:             cfg.MinTemp,
		MaxTemp:             cfg.MaxTemp,
		Hysteresis:          cfg.Hysteresis,
	}
}

func ConvertConfigRelay(cfg config.RelayConf) relay.Config {
	return relay.Config{
		Name:         cfg.Name,
		CommandTopic: cfg.CommandTopic,
		StateTopic:   cfg.StateTopic,
		QoS:          cfg.Qos,
		Retain:       cfg.Retain,
	}
}
