package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"trv2relay/internal/clientmqtt"
	"trv2relay/internal/config"
	"trv2relay/internal/coordinator"
	"trv2relay/internal/logger"
	"trv2relay/internal/metrics"
	"trv2relay/internal/relay"
	"trv2relay/internal/trv"
)

var configFile string

func init() {
	flag.StringVar(&configFile, "config", "configs/conf.toml", "Path to configuration file")
}

type status struct {
	Coordinator coordinator.Status   `json:"coordinator"`
	TRVs        map[string]trv.State `json:"trvs"`
	Relays      map[string]bool      `json:"relays"`
}

func main() {
	flag.Parse()
	cfg, err := config.NewConfig(configFile)
	if err != nil {
		fmt.Printf("configuration file read error: %v", err)
		os.Exit(1)
	}

	log, err := logger.NewLogger(cfg.Logger)
	if err != nil {
		fmt.Printf("failed to create a logger: %v", err)
		os.Exit(1)
	}

	log.With(logger.Fields{"module": "logger"}).Debug("newLogger created ok")

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)
	defer cancel()

	m := metrics.NewMetrics()

	client := clientmqtt.NewClient(log, ConvertConfigClientMQTT(cfg.MQTT))
	if err = client.Start(ctx); err != nil {
		log.With(logger.Fields{"module": "mqtt"}).Errorf("failed to start MQTT service: %v", err)
		os.Exit(1)
	}

	coord := coordinator.New(log, client, m)
	coord.Configure(ConvertConfigCoordinator(cfg.Coordinator))
	go coord.Run(ctx)
	log.With(logger.Fields{"module": "coordinator"}).Debug("coordinator started ok")

	relays := map[string]*relay.Relay{}
	for _, rc := range cfg.Relay {
		r := relay.New(log, client, ConvertConfigRelay(rc), m)
		if err := r.Start(ctx); err != nil {
			log.With(logger.Fields{"module": "relay"}).Errorf("failed to start relay: %v", err)
			cancel()
			continue
		}
		relays[r.Name()] = r
	}

	trvs := make([]*trv.TRV, 0, len(cfg.TRV))
	for _, tc := range cfg.TRV {
		t := trv.New(log, client, coord, ConvertConfigTRV(tc))
		if err := t.Start(ctx); err != nil {
			log.With(logger.Fields{"module": "trv"}).Errorf("failed to start trv: %v", err)
			cancel()
			continue
		}
		go t.Run(ctx)
		trvs = append(trvs, t)
	}

	var srv *metrics.Server
	if cfg.HTTP.Listen != "" {
		srv = metrics.NewServer(log, cfg.HTTP.Listen, m, func() interface{} {
			st := status{
				Coordinator: coord.Status(),
				TRVs:        map[string]trv.State{},
				Relays:      map[string]bool{},
			}
			for _, t := range trvs {
				st.TRVs[t.ID()] = t.State()
			}
			for name, r := range relays {
				st.Relays[name] = r.IsOn()
			}
			return st
		})
		srv.HandleFunc("/relays/{name}/{command}", relay.ControlHandler(relays), http.MethodPost)
		srv.Start()
	}

	<-ctx.Done()

	for _, t := range trvs {
		t.Stop()
	}
	coord.Stop()

	if srv != nil {
		shutdownCtx, done := context.WithTimeout(context.Background(), 5*time.Second)
		if err := srv.Stop(shutdownCtx); err != nil {
			log.With(logger.Fields{"module": "http"}).Errorf("failed to stop HTTP server: %v", err)
		}
		done()
	}

	if err := client.Stop(); err != nil {
		log.Error("failed to stop MQTT service:", err.Error())
	}

	log.Info("shutdown complete")
}
