// Command matter-gpio binds GPIO LEDs and push buttons to on/off and window
// covering attributes, and mirrors those attributes over MQTT.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/sweeney/matter-gpio/internal/config"
	"github.com/sweeney/matter-gpio/internal/gpio"
	"github.com/sweeney/matter-gpio/internal/logging"
	"github.com/sweeney/matter-gpio/internal/mqtt"
	"github.com/sweeney/matter-gpio/internal/node"
	"github.com/sweeney/matter-gpio/internal/store"
	"github.com/sweeney/matter-gpio/internal/web"
)

type flags struct {
	configPath  string
	logLevel    string
	printState  bool
	printConfig bool
}

func newRootCmd() *cobra.Command {
	var f flags
	cmd := &cobra.Command{
		Use:           "matter-gpio",
		Short:         "Bridge GPIO LEDs and buttons to device attributes over MQTT",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(f)
		},
	}
	cmd.Flags().StringVarP(&f.configPath, "config", "c", config.DefaultPath, "YAML config `file`")
	cmd.Flags().StringVar(&f.logLevel, "log-level", "", "override log.level (trace, debug, info, warn, error)")
	cmd.Flags().BoolVar(&f.printState, "print-state", false, "print channel values and button levels, then exit")
	cmd.Flags().BoolVar(&f.printConfig, "print-config", false, "print the effective config, then exit")
	return cmd
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
}

func run(f flags) error {
	cfg, err := config.Load(f.configPath)
	if err != nil {
		return err
	}
	if f.logLevel != "" {
		cfg.Log.Level = f.logLevel
	}
	if f.printConfig {
		fmt.Print(cfg.YAML())
		return nil
	}

	log, err := logging.Init(cfg.Log.Level)
	if err != nil {
		return err
	}

	// Persistent attribute storage
	var storage node.Storage
	var bootCount uint64
	if cfg.Store.Path != "" {
		st, err := store.NewBoltStore(cfg.Store.Path)
		if err != nil {
			return fmt.Errorf("open store: %w", err)
		}
		defer st.Close()
		if !f.printState {
			if bootCount, err = st.IncrementBootCount(); err != nil {
				log.Error(err, "boot count")
			}
		}
		storage = st
	}

	// Initialize GPIO
	bank, err := gpio.Open(cfg.GPIO.Backend, cfg.GPIO.Chip, cfg.Layout())
	if err != nil {
		return fmt.Errorf("init gpio: %w", err)
	}
	defer bank.Close()

	a, err := newApp(cfg, bank, storage, time.Now(), log)
	if err != nil {
		return err
	}
	a.tracker.SetBootCount(int(bootCount))

	// Print state mode
	if f.printState {
		return a.printState(os.Stdout)
	}

	// Initialize MQTT
	var publisher mqtt.Publisher = nopPublisher{}
	var connStatus mqtt.ConnectionStatus
	if cfg.MQTT.Broker != "" {
		p, err := mqtt.NewRealPublisher(mqtt.Options{
			Broker:     cfg.MQTT.Broker,
			ClientID:   cfg.MQTT.ClientID,
			Prefix:     cfg.MQTT.TopicPrefix,
			BufferSize: cfg.MQTT.BufferSize,
			OnCommand:  a.handleCommand,
			Logger:     log.WithName("mqtt"),
		})
		if err != nil {
			return fmt.Errorf("init mqtt: %w", err)
		}
		defer p.Close()
		publisher, connStatus = p, p
	} else {
		log.Info("no mqtt.broker configured, publishing disabled")
	}
	a.attachPublisher(publisher, connStatus)

	// Start HTTP status server
	if cfg.HTTP.Listen != "" {
		srv := web.New(cfg.HTTP.Listen, a.tracker, log.WithName("web"))
		go func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Error(err, "http server")
			}
		}()
		defer srv.Shutdown(context.Background())
		a.broadcast = srv.Broadcast
		log.Info("http status server listening", "addr", cfg.HTTP.Listen)
	}

	a.startup()
	log.Info("started",
		"channels", len(cfg.Channels),
		"poll", cfg.Poll.String(),
		"debounce", cfg.Debounce.Window.String(),
		"scope", cfg.Debounce.Scope,
		"heartbeat", cfg.Heartbeat.String())

	ticker := time.NewTicker(cfg.Poll)
	defer ticker.Stop()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	return runLoop(a, time.Now, ticker.C, sigCh)
}

// nopPublisher stands in when no broker is configured.
type nopPublisher struct{}

func (nopPublisher) PublishAttribute(mqtt.AttributeEvent) error { return nil }
func (nopPublisher) PublishSystem(mqtt.SystemEvent) error       { return nil }
func (nopPublisher) Close() error                               { return nil }
