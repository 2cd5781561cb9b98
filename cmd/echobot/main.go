package main

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/pflag"

	"github.com/stupiduntilnot/tinybot/internal/config"
	"github.com/stupiduntilnot/tinybot/internal/db"
	"github.com/stupiduntilnot/tinybot/internal/netwatch"
	"github.com/stupiduntilnot/tinybot/internal/telegram"
)

func main() {
	if err := run(os.Args[1:]); err != nil {
		log.Fatalf("[echobot] %v", err)
	}
}

func run(args []string) error {
	var (
		configPath string
		dbPath     string
		debug      bool
		noWait     bool
	)
	flagSet := pflag.NewFlagSet("echobot", pflag.ContinueOnError)
	flagSet.StringVar(&configPath, "config", "", "path to YAML config file (default: $TINYBOT_CONFIG_FILE)")
	flagSet.StringVar(&dbPath, "db", "", "SQLite state database; overrides TINYBOT_DB_PATH")
	flagSet.BoolVar(&debug, "debug", false, "log every request and read")
	flagSet.BoolVar(&noWait, "no-wait-network", false, "do not wait for a network interface before starting")
	if err := flagSet.Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return nil
		}
		return err
	}
	if rest := flagSet.Args(); len(rest) > 0 {
		return fmt.Errorf("unexpected argument: %s", rest[0])
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if flagSet.Changed("db") {
		cfg.DBPath = dbPath
	}
	if flagSet.Changed("debug") {
		cfg.Debug = debug
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var monitor telegram.Connectivity = netwatch.Interfaces{Name: cfg.NetworkInterface}
	if noWait {
		monitor = netwatch.Always{}
	}
	if err := netwatch.WaitConnected(ctx, monitor, cfg.WaitNetwork(), 0); err != nil {
		return err
	}

	opts := telegram.Options{
		Host:       cfg.APIHost,
		Port:       cfg.APIPort,
		BufferSize: cfg.BufferSize,
		Interval:   cfg.TickInterval(),
		Dialer: &telegram.TLSDialer{
			Config:   &tls.Config{MinVersion: tls.VersionTLS12},
			Timeout:  cfg.DialTimeout(),
			ReadWait: cfg.ReadWait(),
		},
		Network: monitor,
		Logger:  log.Default(),
		Debug:   cfg.Debug,
	}

	if cfg.DBPath != "" {
		database, err := db.OpenDB(cfg.DBPath)
		if err != nil {
			return err
		}
		defer database.Close()
		if err := db.InitSchema(database); err != nil {
			return fmt.Errorf("failed to init schema: %w", err)
		}
		store := &db.Store{DB: database, BotID: telegram.BotID(cfg.Token)}
		processID, err := db.LogEvent(database, nil, db.EventProcessStarted, map[string]any{
			"role":   "echobot",
			"pid":    os.Getpid(),
			"bot_id": store.BotID,
		})
		if err != nil {
			log.Printf("[echobot] failed to log process.started: %v", err)
		} else {
			store.ParentID = &processID
			defer store.LogEvent(db.EventProcessStopped, nil)
		}
		opts.Offsets = store
		opts.Events = store
	}

	bot := telegram.NewBot(cfg.Token, echo(cfg.ReplyPrefix), opts)
	err = bot.Run(ctx)
	if errors.Is(err, context.Canceled) {
		log.Printf("[echobot] shutting down")
		return nil
	}
	return err
}

// echo replies to every message with prefix followed by the text.
func echo(prefix string) telegram.Handler {
	return func(b *telegram.Bot, u telegram.Update) {
		log.Printf("[echobot] %s %d %s", u.SenderUsername, u.SenderID, u.Text)
		b.Send(u.ChatID, prefix+u.Text, false)
	}
}
