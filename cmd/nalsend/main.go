package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/sirupsen/logrus"

	"github.com/zsiec/nalrelay/internal/config"
	"github.com/zsiec/nalrelay/internal/logger"
	"github.com/zsiec/nalrelay/internal/parser"
	"github.com/zsiec/nalrelay/internal/sender"
	"github.com/zsiec/nalrelay/pkg/version"
)

func main() {
	var (
		configPath  string
		input       string
		format      string
		addr        string
		transport   string
		fps         float64
		loop        bool
		showVersion bool
	)

	flag.StringVar(&configPath, "config", "", "Path to configuration file")
	flag.StringVar(&input, "input", "", "H.264 source file (Annex-B .h264/.264 or MPEG-TS .ts)")
	flag.StringVar(&format, "format", "auto", "Source format: auto, annexb or ts")
	flag.StringVar(&addr, "addr", "", "Relay address (overrides sender.address)")
	flag.StringVar(&transport, "transport", "", "tcp, quic or srt (overrides sender.transport)")
	flag.Float64Var(&fps, "fps", -1, "Frames per second, 0 disables pacing (overrides sender.fps)")
	flag.BoolVar(&loop, "loop", false, "Restart from the beginning at end of file")
	flag.BoolVar(&showVersion, "version", false, "Show version information")
	flag.Parse()

	if showVersion {
		fmt.Println(version.GetInfo().String())
		os.Exit(0)
	}

	if input == "" {
		fmt.Fprintln(os.Stderr, "-input is required")
		flag.Usage()
		os.Exit(2)
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	if addr != "" {
		cfg.Sender.Address = addr
	}
	if transport != "" {
		cfg.Sender.Transport = transport
	}
	if fps >= 0 {
		cfg.Sender.FPS = fps
	}
	if loop {
		cfg.Sender.Loop = true
	}
	if err := cfg.Sender.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "Invalid sender settings: %v\n", err)
		os.Exit(1)
	}

	log, err := logger.New(&cfg.Logging)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}

	if format == "auto" {
		format = detectFormat(input)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, log, input, format); err != nil {
		log.WithError(err).Fatal("Sender stopped with error")
	}
}

func detectFormat(path string) string {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".ts", ".m2ts", ".mts":
		return "ts"
	default:
		return "annexb"
	}
}

func run(ctx context.Context, cfg *config.Config, log *logrus.Logger, input, format string) error {
	s := sender.New(cfg.Sender, logger.FromLogrus(log))
	defer s.Close()

	backoff := sender.NewBackoff(cfg.Sender.ReconnectDelay, cfg.Sender.ReconnectMaxDelay, cfg.Sender.MaxReconnects)

	entry := log.WithFields(logrus.Fields{
		"input":     input,
		"format":    format,
		"transport": cfg.Sender.Transport,
		"address":   cfg.Sender.Address,
	})

	for pass := 1; ; pass++ {
		if !s.Connected() {
			if err := s.Reconnect(ctx, backoff); err != nil {
				if ctx.Err() != nil {
					return nil
				}
				return err
			}
		}

		sent, err := sendFile(ctx, s, input, format, cfg.Parser)
		switch {
		case ctx.Err() != nil:
			entry.WithField("stats", s.Stats()).Info("Interrupted")
			return nil
		case err == nil:
			entry.WithFields(logrus.Fields{"pass": pass, "units": sent}).Info("Finished sending file")
			if !cfg.Sender.Loop {
				return nil
			}
		case !s.Connected():
			entry.WithError(err).Warn("Lost relay connection, reconnecting")
		default:
			return err
		}
	}
}

func sendFile(ctx context.Context, s *sender.Sender, path, format string, pc parser.Config) (int, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, err
	}
	defer f.Close()

	switch format {
	case "annexb":
		return s.SendAnnexB(ctx, f, pc)
	case "ts":
		return s.SendMPEGTS(ctx, f)
	default:
		return 0, errors.New("unknown format " + format)
	}
}
