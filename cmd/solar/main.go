// Package main provides the solar command line interface.
package main

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/mhvis/solar/internal/config"
	"github.com/mhvis/solar/internal/discovery"
	"github.com/mhvis/solar/internal/domain"
	"github.com/mhvis/solar/internal/inverter"
	"github.com/mhvis/solar/internal/pubsub"
	"github.com/mhvis/solar/internal/service"
	"github.com/mhvis/solar/internal/service/influx"
	"github.com/mhvis/solar/internal/service/pvoutput"
)

var Version = "dev"

// used for flags
var (
	configFile string
	debug      bool
	interval   time.Duration
	startYear  int
	endYear    int
)

func init() {
	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "", "Path to configuration file")
	rootCmd.PersistentFlags().BoolVar(&debug, "debug", false, "Enable debug logging")

	monitorCmd.Flags().DurationVarP(&interval, "interval", "i", 10*time.Second, "Time between status requests")

	historyCmd.Flags().IntVar(&startYear, "start", time.Now().Year(), "First year to fetch")
	historyCmd.Flags().IntVar(&endYear, "end", time.Now().Year(), "Last year to fetch")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(monitorCmd)
	rootCmd.AddCommand(historyCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:     "solar",
	Short:   "Monitor SolarRiver and SolarLake inverters",
	Version: Version,
	Long: `Solar monitors Samil Power SolarRiver and SolarLake inverters over the
local network. The inverters are located with a discovery broadcast and
connect back over TCP.

Run 'solar serve' for the full monitoring server with MQTT, PVOutput.org
and InfluxDB integrations, 'solar monitor' to print status readings to
the console, or 'solar history' to fetch the stored daily logs.`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		return cmd.Help()
	},
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the monitoring server",
	RunE:  serve,
}

var monitorCmd = &cobra.Command{
	Use:   "monitor",
	Short: "Print status readings of one inverter to the console",
	RunE:  monitor,
}

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Fetch historical daily logs from one inverter",
	RunE:  fetchHistory,
}

func serve(_ *cobra.Command, _ []string) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	log.Info().Str("version", Version).Msg("Starting solar monitor")
	cfg.Print()

	// Initialize MQTT publisher
	var publisher domain.StatusPublisher
	if cfg.MQTT.Enabled {
		mqttPublisher := pubsub.NewMQTTPublisher(cfg)
		if err := mqttPublisher.Connect(ctx); err != nil {
			log.Warn().Err(err).Msg("Failed to connect to MQTT broker, using noop publisher")
			publisher = pubsub.NewNoopPublisher()
		} else {
			publisher = mqttPublisher
		}
	} else {
		publisher = pubsub.NewNoopPublisher()
	}

	// Initialize PVOutput service
	var monitoring domain.MonitoringService
	if cfg.PVOutput.Enabled {
		monitoring = pvoutput.NewClient(cfg)
	} else {
		monitoring = pvoutput.NewNoopClient()
	}

	// Initialize InfluxDB writer
	var writer domain.TimeSeriesWriter
	if cfg.Influx.Enabled {
		writer = influx.NewWriter(cfg)
	} else {
		writer = influx.NewNoopWriter()
	}

	srv, err := service.NewMonitorServer(cfg, publisher, monitoring, writer)
	if err != nil {
		return fmt.Errorf("failed to create server: %w", err)
	}
	if err := srv.Start(ctx); err != nil {
		return fmt.Errorf("failed to start server: %w", err)
	}

	// Handle graceful shutdown
	signalChan := make(chan os.Signal, 1)
	signal.Notify(signalChan, syscall.SIGINT, syscall.SIGTERM)
	sig := <-signalChan
	log.Info().Str("signal", sig.String()).Msg("Shutdown signal received")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := srv.Stop(shutdownCtx); err != nil {
		return fmt.Errorf("error stopping server: %w", err)
	}
	log.Info().Msg("Server stopped")
	return nil
}

func monitor(_ *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	session, model, err := connectOne(ctx, cfg)
	if err != nil {
		return err
	}
	defer session.Close()

	encoder := json.NewEncoder(os.Stdout)
	fmt.Printf("Connected to %s (%s)\n", model.ModelName, model.SerialNumber)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		reading, err := session.Status(ctx)
		if err != nil {
			if errors.Is(err, inverter.ErrClosed) || ctx.Err() != nil {
				return nil
			}
			log.Warn().Err(err).Msg("Status request failed")
		} else if err := encoder.Encode(reading); err != nil {
			return err
		}

		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

func fetchHistory(_ *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	session, model, err := connectOne(ctx, cfg)
	if err != nil {
		return err
	}
	defer session.Close()
	log.Info().
		Str("serial", model.SerialNumber).
		Int("start", startYear).
		Int("end", endYear).
		Msg("Fetching history")

	stream, err := session.History(ctx, startYear, endYear)
	if err != nil {
		return err
	}
	defer stream.Close()

	writer := csv.NewWriter(os.Stdout)
	defer writer.Flush()
	for {
		day, err := stream.Next()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}
		date := fmt.Sprintf("%04d-%02d-%02d", day.Year, day.Month, day.Day)
		for _, record := range day.Records {
			if err := writer.Write(append([]string{date}, record...)); err != nil {
				return err
			}
		}
	}
}

// connectOne waits for the first acceptable inverter to show up.
func connectOne(ctx context.Context, cfg *config.Config) (*inverter.Session, *domain.ModelInfo, error) {
	finder := discovery.NewFinder(discovery.Config{
		ListenAddr:    cfg.Discovery.ListenAddr,
		BroadcastAddr: cfg.Discovery.BroadcastAddr,
		Interval:      cfg.Discovery.Interval,
	})
	if err := finder.Listen(ctx); err != nil {
		return nil, nil, err
	}
	defer finder.Close()

	log.Info().Msg("Searching for inverters")
	conn, err := finder.Accept(ctx)
	if err != nil {
		return nil, nil, err
	}

	session := inverter.NewSession(conn, inverter.Config{
		ReadTimeout: cfg.ReadTimeout,
		KeepAlive:   cfg.KeepAlive,
	})
	model, err := session.ModelInfo(ctx)
	if err != nil {
		session.Close()
		return nil, nil, err
	}
	return session, model, nil
}

func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(configFile)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	if debug {
		cfg.LogLevel = "debug"
	}
	initLogger(cfg.LogLevel)
	return cfg, nil
}

// initLogger configures the global zerolog logger.
func initLogger(level string) {
	output := zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}

	logLevel, err := zerolog.ParseLevel(strings.ToLower(level))
	if err != nil {
		fmt.Printf("Invalid log level '%s', defaulting to 'info'\n", level)
		logLevel = zerolog.InfoLevel
	}

	zerolog.SetGlobalLevel(logLevel)
	log.Logger = zerolog.New(output).
		With().
		Timestamp().
		Logger()
}
