package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/searmo/yeiya/internal/app"
	"github.com/searmo/yeiya/internal/live"
	"github.com/searmo/yeiya/pkg/audio/capture"
	"github.com/searmo/yeiya/pkg/audio/meter"
	"github.com/searmo/yeiya/pkg/audio/playback"
	"github.com/searmo/yeiya/pkg/avatar"
	"github.com/searmo/yeiya/pkg/provider/s2s"
)

var talkFlags struct {
	in       string
	out      string
	loop     bool
	duration time.Duration
	model    string
}

var talkCmd = &cobra.Command{
	Use:   "talk",
	Short: "Hold a headless voice conversation using WAV files as microphone and speaker",
	Long: `Talk opens one live voice session. The --in WAV file is played into the
session in real time as if it were a microphone; everything the assistant
says is written to the --out WAV file on its playback timeline. Avatar
frames are logged at debug level.

Examples:
  yeiya talk --in hola.wav --out respuesta.wav
  yeiya talk --in hola.wav --out respuesta.wav --duration 30s --model avatar.glb`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return talk(cmd)
	},
}

func init() {
	f := talkCmd.Flags()
	f.StringVar(&talkFlags.in, "in", "", "16-bit PCM WAV file used as the microphone (required)")
	f.StringVar(&talkFlags.out, "out", "reply.wav", "WAV file the assistant's speech is written to")
	f.BoolVar(&talkFlags.loop, "loop", false, "replay the input file when it ends")
	f.DurationVar(&talkFlags.duration, "duration", 0, "end the conversation after this long; 0 waits for Ctrl+C")
	f.StringVar(&talkFlags.model, "model", "", "GLB character driven by the rig avatar; empty uses the configured avatar")
	_ = talkCmd.MarkFlagRequired("in")
}

func talk(cmd *cobra.Command) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	logger, _ := newLogger(cfg.Server.LogLevel)
	slog.SetDefault(logger)

	providers, err := buildProviders(cmd, cfg)
	if err != nil {
		return err
	}
	driver, err := newDriver(cfg.Live.Avatar, talkFlags.model)
	if err != nil {
		return err
	}

	out, err := os.Create(talkFlags.out)
	if err != nil {
		return fmt.Errorf("create output: %w", err)
	}
	defer out.Close()
	wav, err := playback.NewWAVSink(out)
	if err != nil {
		return fmt.Errorf("open output: %w", err)
	}
	defer func() {
		if err := wav.Close(); err != nil {
			logger.Warn("finalise output", "err", err)
		}
	}()

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	if talkFlags.duration > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, talkFlags.duration)
		defer cancel()
	}

	env := live.Env{
		APIKey:   cfg.Providers.S2S.APIKey,
		Provider: func(string) s2s.Provider { return providers.S2S },
		Device:   &capture.FileDevice{Path: talkFlags.in, Loop: talkFlags.loop},
		// The WAV sink is closed here after the session, not by its teardown.
		Sink: playback.MultiSink{wav, playback.SinkFunc(func(b playback.Buffer) error {
			logger.Debug("agent audio scheduled", "start", b.StartAt, "duration", b.Duration)
			return nil
		})},
		Logger: logger,
	}
	session := live.NewSession(env, app.SessionConfig(cfg.Live),
		live.WithOnState(func(s live.Snapshot) {
			logger.Info("session state", "state", s.State.String(), "detail", s.ErrorDetail)
		}),
		live.WithOnTranscript(func(e s2s.TranscriptEntry) {
			logger.Info("transcript", "speaker", e.Speaker, "text", e.Text)
		}),
	)

	if err := session.Start(ctx); err != nil {
		return fmt.Errorf("start session: %w", err)
	}

	go meter.Loop(ctx, cfg.Live.FPS, func(elapsed time.Duration) {
		speaking, volume, _ := session.Render()
		driver.Frame(speaking, volume, elapsed)
		logger.Debug("avatar frame", "speaking", speaking, "volume", volume, "state", driver.Snapshot())
	})

	select {
	case <-ctx.Done():
	case <-session.Done():
	}
	_ = session.Close()
	<-session.Done()

	if err := session.Err(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	logger.Info("conversation written", "file", talkFlags.out)
	return nil
}

func newDriver(kind, modelPath string) (avatar.Driver, error) {
	if modelPath == "" {
		return avatar.New(avatar.Kind(kind))
	}
	f, err := os.Open(modelPath)
	if err != nil {
		return nil, fmt.Errorf("open avatar model: %w", err)
	}
	defer f.Close()
	model, err := avatar.LoadGLB(f)
	if err != nil {
		return nil, err
	}
	return avatar.NewRig(model), nil
}
