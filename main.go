package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/kdvlr/modbustt/config"
	"github.com/kdvlr/modbustt/exporters"
	"github.com/kdvlr/modbustt/metrics"
	"github.com/kdvlr/modbustt/services"
	"github.com/kdvlr/modbustt/statusserver"
)

var version = "1.0.0" // set during build: -ldflags "-X main.version=x.y.z"

func main() {
	log.SetFlags(log.LstdFlags | log.Lmsgprefix)
	log.SetPrefix("modbustt | ")

	configPath := "supervision.yaml"
	if len(os.Args) > 1 {
		configPath = os.Args[1]
	}

	if err := run(configPath); err != nil {
		log.Printf("fatal: %v", err)
		os.Exit(1)
	}
}

func run(configPath string) error {
	src := config.NewSource(configPath)
	cfg, err := src.Load()
	if err != nil {
		return fmt.Errorf("load configuration: %w", err)
	}
	log.Printf("configuration loaded from %s (%d production lines)", configPath, len(cfg.ProductionLines))

	metricsInst, err := metrics.New(context.Background(), metrics.Config{
		Enabled:      cfg.Metrics.Enabled,
		Exporter:     metrics.ExporterType(cfg.Metrics.Exporter),
		OTLPEndpoint: cfg.Metrics.OTLPEndpoint,
	})
	if err != nil {
		return fmt.Errorf("initialise metrics: %w", err)
	}

	broadcaster := statusserver.NewRecordBroadcaster()
	if err := broadcaster.Connect(); err != nil {
		return fmt.Errorf("connect record broadcaster: %w", err)
	}
	exps := append(buildExporters(), broadcaster)

	collectorConfigs, err := cfg.ToCollectorConfigs()
	if err != nil {
		return fmt.Errorf("translate production lines: %w", err)
	}

	supervisor := services.NewSupervisor(exps, metricsInst, nil)
	supervisor.Create(collectorConfigs)

	var intake *services.CommandIntake
	if cfg.MQTT.Broker != "" {
		intake, err = services.NewCommandIntake(services.CommandIntakeConfig{
			Broker:   cfg.MQTT.Broker,
			Port:     cfg.MQTT.Port,
			ClientID: cfg.MQTT.ClientID,
			Username: cfg.MQTT.Username,
			Password: cfg.MQTT.Password,
			Topic:    cfg.MQTT.CommandTopic,
		}, supervisor, nil)
		if err != nil {
			log.Printf("command intake unavailable: %v", err)
		}
	}

	var statusSrv *statusserver.Server
	if cfg.StatusServer.Enabled {
		statusSrv, err = statusserver.New(statusserver.Config{
			Enabled:          cfg.StatusServer.Enabled,
			Address:          cfg.StatusServer.Address,
			AuthEnabled:      cfg.StatusServer.AuthEnabled,
			OperatorPassword: cfg.StatusServer.OperatorPassword,
			JWTSecret:        cfg.StatusServer.JWTSecret,
		}, supervisor, broadcaster, nil)
		if err != nil {
			return fmt.Errorf("initialise status server: %w", err)
		}
		if err := statusSrv.Start(); err != nil {
			return fmt.Errorf("start status server: %w", err)
		}
	}

	log.Printf("modbustt %s running, press Ctrl+C to stop", version)
	waitForShutdownSignal()

	gracefulShutdown(supervisor, intake, statusSrv, metricsInst)
	return nil
}

// buildExporters attaches the exporters every collector shares. Only
// the file sink is built, at its default path; the other five variants
// (memory, MQTT broker, TCP stream, syslog, AMQP) are not selected by
// any configuration key and are not attached.
func buildExporters() []exporters.Exporter {
	fileExp := exporters.NewFileExporter()
	if err := fileExp.Connect(); err != nil {
		log.Printf("file exporter connect failed: %v", err)
	}
	return []exporters.Exporter{fileExp}
}

func waitForShutdownSignal() {
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM, syscall.SIGINT)
	<-quit
	log.Println("shutdown signal received, initiating graceful shutdown...")
}

func gracefulShutdown(supervisor *services.Supervisor, intake *services.CommandIntake, statusSrv *statusserver.Server, metricsInst *metrics.Metrics) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	log.Println("stopping collectors...")
	supervisor.Shutdown()

	if intake != nil {
		log.Println("stopping command intake...")
		intake.Stop()
	}

	if statusSrv != nil {
		log.Println("stopping status server...")
		if err := statusSrv.Shutdown(); err != nil {
			log.Printf("status server shutdown error: %v", err)
		}
	}

	log.Println("flushing metrics...")
	if err := metricsInst.Shutdown(ctx); err != nil {
		log.Printf("metrics shutdown error: %v", err)
	}

	log.Println("graceful shutdown completed")
}
