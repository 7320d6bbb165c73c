package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/interviewace/session-server/internal/capture"
)

const stopTimeout = 10 * time.Second

// helperConfig holds defaults from the environment; flags override them.
type helperConfig struct {
	ServerURL    string `env:"INTERVIEWACE_SERVER_URL" envDefault:"http://localhost:8080"`
	Token        string `env:"INTERVIEWACE_TOKEN"`
	Mode         string `env:"CAPTURE_MODE" envDefault:"auto"`
	LockPath     string `env:"CAPTURE_LOCK_PATH"`
	LogLevel     string `env:"LOG_LEVEL" envDefault:"info"`
	BlockSamples int    `env:"AUDIO_FLUSH_SAMPLES" envDefault:"131072"`
}

func newRootCommand() *cobra.Command {
	var cfg helperConfig
	if err := env.Parse(&cfg); err != nil {
		log.Warn().Err(err).Msg("ignoring invalid environment")
	}
	if cfg.LockPath == "" {
		cfg.LockPath = filepath.Join(os.TempDir(), "interviewace-capture.lock")
	}

	var sessionID string
	var input string

	cmd := &cobra.Command{
		Use:           "capture-helper",
		Short:         "Relay captured interview audio to the session server",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			setLogLevel(cfg.LogLevel)
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return run(ctx, cfg, sessionID, input, cmd.OutOrStdout())
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&sessionID, "session", "", "Session id to capture for")
	flags.StringVar(&input, "input", "-", "Raw float32 PCM source file, - for stdin")
	flags.StringVar(&cfg.ServerURL, "server", cfg.ServerURL, "Session server base URL")
	flags.StringVar(&cfg.Token, "token", cfg.Token, "Bearer token from OTP login")
	flags.StringVar(&cfg.Mode, "mode", cfg.Mode, "Relay mode: stream, http or auto")
	flags.StringVar(&cfg.LockPath, "lock", cfg.LockPath, "Single instance lock file")
	flags.StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "Log level")
	flags.IntVar(&cfg.BlockSamples, "block-samples", cfg.BlockSamples, "Samples per speech-to-text request in http mode")
	_ = cmd.MarkFlagRequired("session")

	return cmd
}

func run(ctx context.Context, cfg helperConfig, sessionID, input string, out io.Writer) error {
	lock := capture.NewInstanceLock(cfg.LockPath)
	if err := lock.Acquire(); err != nil {
		return err
	}
	defer func() {
		if err := lock.Release(); err != nil {
			log.Warn().Err(err).Msg("failed to release instance lock")
		}
	}()

	var outMu sync.Mutex
	enc := json.NewEncoder(out)
	relay, err := capture.NewRelay(capture.RelayConfig{
		Mode:         capture.Mode(cfg.Mode),
		ServerURL:    cfg.ServerURL,
		SessionID:    sessionID,
		Token:        cfg.Token,
		BlockSamples: cfg.BlockSamples,
		OnTranscript: func(msg capture.Message) {
			outMu.Lock()
			defer outMu.Unlock()
			if err := enc.Encode(msg); err != nil {
				log.Warn().Err(err).Msg("failed to write transcript")
			}
		},
	})
	if err != nil {
		return err
	}

	src, err := openSource(input)
	if err != nil {
		return err
	}

	controller := capture.NewController(relay)
	if err := startWithRetry(ctx, controller, src); err != nil {
		src.Close()
		return err
	}

	select {
	case <-ctx.Done():
		log.Info().Msg("shutdown requested")
	case <-controller.Done():
		log.Info().Msg("capture input ended")
	}

	stopCtx, cancel := context.WithTimeout(context.Background(), stopTimeout)
	defer cancel()
	return controller.Stop(stopCtx)
}

// startWithRetry stops whatever capture is in the way and tries once more.
func startWithRetry(ctx context.Context, controller *capture.Controller, src capture.FrameSource) error {
	err := controller.Start(ctx, src)
	if err == nil {
		return nil
	}

	log.Warn().Err(err).Msg("capture start failed, retrying once")
	stopCtx, cancel := context.WithTimeout(ctx, stopTimeout)
	defer cancel()
	if stopErr := controller.Stop(stopCtx); stopErr != nil && !errors.Is(stopErr, capture.ErrCaptureBusy) {
		log.Debug().Err(stopErr).Msg("stop before retry")
	}

	if err := controller.Start(ctx, src); err != nil {
		return fmt.Errorf("start capture: %w", err)
	}
	return nil
}

func openSource(input string) (capture.FrameSource, error) {
	if input == "" || input == "-" {
		return capture.NewReaderSource(os.Stdin), nil
	}
	f, err := os.Open(input)
	if err != nil {
		return nil, fmt.Errorf("open input: %w", err)
	}
	return capture.NewReaderSource(f), nil
}

func setLogLevel(level string) {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	parsed, err := zerolog.ParseLevel(level)
	if err != nil || level == "" {
		parsed = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(parsed)
}
