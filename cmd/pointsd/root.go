package main

import (
	"io"
	"os"
	"time"

	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/warp/points-engine/config"
	"github.com/warp/points-engine/events"
	"github.com/warp/points-engine/points"
	"github.com/warp/points-engine/store/sqlite"
)

// RootOptions holds global flags for all commands.
type RootOptions struct {
	ConfigPath string
	DBPath     string
	LogLevel   string

	cfg config.Config
	log zerolog.Logger
}

// NewRootCommand creates the pointsd command tree.
func NewRootCommand() *cobra.Command {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:           "pointsd",
		Short:         "Loyalty point engine",
		Long:          "Turns store-front sales and returns into a loyalty point ledger and keeps customer balances in step.",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return opts.load()
		},
	}

	cmd.PersistentFlags().StringVar(&opts.ConfigPath, "config", "pointsd.yaml", "path to YAML config file")
	cmd.PersistentFlags().StringVar(&opts.DBPath, "db", "", "SQLite database path (overrides database.path)")
	cmd.PersistentFlags().StringVar(&opts.LogLevel, "log-level", "", "log level (overrides log.level)")

	cmd.AddCommand(NewServeCommand(opts))
	cmd.AddCommand(NewProcessCommand(opts))
	cmd.AddCommand(NewRecalcCommand(opts))
	cmd.AddCommand(NewSeedCommand(opts))

	return cmd
}

// load reads the config file, applies flag overrides and sets up logging.
func (o *RootOptions) load() error {
	cfg, err := config.Load(o.ConfigPath)
	if err != nil {
		return err
	}
	if o.DBPath != "" {
		cfg.Database.Path = o.DBPath
	}
	if o.LogLevel != "" {
		cfg.Log.Level = o.LogLevel
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	log, err := newLogger(cfg.Log, os.Stderr)
	if err != nil {
		return err
	}
	o.cfg, o.log = cfg, log
	return nil
}

func newLogger(cfg config.LogConfig, out io.Writer) (zerolog.Logger, error) {
	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil {
		return zerolog.Logger{}, errors.Wrap(err, "log level")
	}
	zerolog.TimeFieldFormat = time.RFC3339

	if cfg.Format == "console" {
		out = zerolog.ConsoleWriter{Out: out, TimeFormat: "15:04:05"}
	}
	return zerolog.New(out).Level(level).With().
		Timestamp().
		Str("service", "pointsd").
		Logger(), nil
}

// app is everything a command needs to run the engine.
type app struct {
	store     *sqlite.Store
	engine    *points.Engine
	registry  *prometheus.Registry
	location  *time.Location
	publisher *events.KafkaPublisher
}

// openApp opens the database and builds the engine from configuration.
func (o *RootOptions) openApp() (*app, error) {
	loc, err := o.cfg.Scheduler.Location()
	if err != nil {
		return nil, err
	}

	store, err := sqlite.New(o.cfg.Database.Path)
	if err != nil {
		return nil, errors.Wrap(err, "open database")
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	a := &app{store: store, registry: reg, location: loc}
	engineOpts := []points.Option{
		points.WithLogger(o.log),
		points.WithMetrics(points.NewMetrics(reg)),
		points.WithLocation(loc),
	}
	if o.cfg.Kafka.Enabled() {
		a.publisher = events.NewKafkaPublisher(o.cfg.Kafka.Brokers, o.cfg.Kafka.Topic)
		engineOpts = append(engineOpts, points.WithPublisher(a.publisher))
		o.log.Info().Strs("brokers", o.cfg.Kafka.Brokers).Str("topic", o.cfg.Kafka.Topic).
			Msg("Publishing ledger events to Kafka")
	}
	a.engine = points.NewEngine(store, engineOpts...)

	o.log.Info().Str("db", o.cfg.Database.Path).Str("timezone", loc.String()).Msg("Engine ready")
	return a, nil
}

func (a *app) Close() error {
	if a.publisher != nil {
		a.publisher.Close()
	}
	return a.store.Close()
}
