package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/itohio/o2mon/pkg/config"
	"github.com/itohio/o2mon/pkg/metrics"
	"github.com/itohio/o2mon/pkg/sensor"
	"github.com/itohio/o2mon/pkg/telemetry"
)

func main() {
	var (
		configFlag = flag.String("config", "config.yaml", "Configuration file path")
		mockFlag   = flag.Bool("mock", false, "Use simulated peripherals instead of hardware")
		listFlag   = flag.Bool("list", false, "List serial ports and exit")
		innerFlag  = flag.String("inner", "", "Inner sensor serial port override")
		outerFlag  = flag.String("outer", "", "Outer sensor serial port override")
		canFlag    = flag.String("can", "", "CAN interface override (e.g., can0)")
		saveFlag   = flag.Bool("save", false, "Write the effective configuration back to -config and exit")
	)
	flag.Parse()

	if *listFlag {
		ports, err := sensor.Ports()
		if err != nil {
			log.Fatalf("Failed to list serial ports: %v", err)
		}
		for _, p := range ports {
			fmt.Println(p.Description)
		}
		return
	}

	// Load configuration
	cfg, err := config.Load(*configFlag)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	if *innerFlag != "" {
		cfg.Sensors.Inner.Port = *innerFlag
	}
	if *outerFlag != "" {
		cfg.Sensors.Outer.Port = *outerFlag
	}
	if *canFlag != "" {
		cfg.CAN.Interface = *canFlag
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}

	if *saveFlag {
		if err := cfg.Save(*configFlag); err != nil {
			log.Fatalf("Failed to save configuration: %v", err)
		}
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var p *peripherals
	if *mockFlag {
		log.Printf("Using simulated peripherals")
		p = openMock(cfg)
	} else {
		p, err = openHardware(ctx, cfg)
		if err != nil {
			log.Fatalf("Failed to open peripherals: %v", err)
		}
	}
	defer func() {
		if err := p.Close(); err != nil {
			log.Printf("Error closing peripherals: %v", err)
		}
	}()

	m := metrics.New()
	mon, err := newMonitor(cfg, p, m)
	if err != nil {
		log.Fatalf("Failed to create monitor: %v", err)
	}

	var mirror *telemetry.Mirror
	if cfg.Telemetry.Broker != "" {
		client, err := telemetry.Connect(ctx, telemetry.Options{
			Broker:   cfg.Telemetry.Broker,
			ClientID: cfg.Telemetry.ClientID,
			Username: cfg.Telemetry.Username,
			Password: cfg.Telemetry.Password,
		})
		if err != nil {
			// The monitor runs without the mirror.
			log.Printf("Telemetry disabled: %v", err)
		} else {
			mirror = telemetry.NewMirror(client, cfg.Telemetry.Topic, mon.telemetrySources(), cfg.Telemetry.Interval)
		}
	}

	log.Printf("Monitoring %s and %s, broadcasting on %s",
		cfg.Sensors.Inner.Port, cfg.Sensors.Outer.Port, cfg.CAN.Interface)
	mon.run(ctx, mirror)
	log.Printf("Shut down")
}
