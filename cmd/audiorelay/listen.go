// ABOUTME: listen command: connects to a relay stream and plays it with auto-reconnect
// ABOUTME: Exits non-zero once the retry budget is exhausted
package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/harper/audiorelay/internal/application/config"
	"github.com/harper/audiorelay/internal/application/receiver"
	"github.com/harper/audiorelay/internal/infrastructure/ring"
	"github.com/harper/audiorelay/internal/infrastructure/speaker"
)

var (
	listenURL      string
	listenOutput   string
	listenCodec    string
	listenAttempts int
	listenUplink   bool
)

var listenCmd = &cobra.Command{
	Use:   "listen [url]",
	Short: "Play a relay stream",
	Long: "Connects to ws://host:port/{stream}/ws and plays the audio. " +
		"Reconnects with exponential backoff and gives up after the configured number of retries.",
	Args: cobra.MaximumNArgs(1),
	RunE: runListen,
}

func init() {
	listenCmd.Flags().StringVarP(&listenURL, "url", "u", "", "relay stream URL (overrides config)")
	listenCmd.Flags().StringVarP(&listenOutput, "output", "o", "", "speaker, stdout, or discard")
	listenCmd.Flags().StringVar(&listenCodec, "codec", "", "frame codec: pcm, zstd, or bg4lz4")
	listenCmd.Flags().IntVar(&listenAttempts, "max-attempts", 0, "reconnect attempts before giving up")
	listenCmd.Flags().BoolVar(&listenUplink, "uplink", false, "send captured audio upstream")
}

func runListen(cmd *cobra.Command, args []string) error {
	cfg, logger, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	if len(args) == 1 {
		cfg.Client.URL = args[0]
	}
	if cmd.Flags().Changed("url") {
		cfg.Client.URL = listenURL
	}
	if cmd.Flags().Changed("output") {
		cfg.Client.Output = listenOutput
	}
	if cmd.Flags().Changed("codec") {
		cfg.Client.Codec = listenCodec
	}
	if cmd.Flags().Changed("max-attempts") {
		cfg.Client.Retry.MaxAttempts = listenAttempts
	}
	if cmd.Flags().Changed("uplink") {
		cfg.Client.Uplink.Enabled = listenUplink
	}
	if err := cfg.ValidateClient(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	r, err := receiver.NewFromConfig(cfg.Client, receiver.Options{
		Logger: logger,
		OpenSpeaker: func(audio config.AudioConfig, src *ring.Buffer) (io.Closer, error) {
			return speaker.Open(speaker.Config{
				SampleRate: audio.SampleRate,
				Channels:   audio.Channels,
				BufferSize: 2 * audio.FrameDuration(),
			}, src, logger)
		},
	})
	if err != nil {
		return fmt.Errorf("create receiver: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger.Info("listening", "url", cfg.Client.URL, "output", cfg.Client.Output, "codec", cfg.Client.Codec)
	if err := r.Run(ctx); err != nil {
		return err
	}

	st := r.Client().Stats()
	logger.Info("stopped", "sessions", st.Sessions, "frames", st.FramesIn, "decode_errors", st.DecodeErrors)
	return nil
}
