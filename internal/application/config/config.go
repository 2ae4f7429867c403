// ABOUTME: YAML configuration parsing, environment overrides, defaults, and validation
// ABOUTME: Defines structure for the multi-stream relay server and the listening client
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"

	"github.com/harper/audiorelay/internal/domain/backoff"
	"github.com/harper/audiorelay/internal/infrastructure/codec"
)

// EnvPrefix prefixes every environment override, e.g. AUDIORELAY_LISTEN_PORT.
const EnvPrefix = "AUDIORELAY_"

// Streams are only configurable from YAML; the other sections also read
// AUDIORELAY_LISTEN_*, AUDIORELAY_LOG_* and AUDIORELAY_CLIENT_* variables.
type Config struct {
	Listen  ListenConfig   `yaml:"listen"`
	Logging LoggingConfig  `yaml:"logging"`
	Streams []StreamConfig `yaml:"streams"`
	Client  ClientConfig   `yaml:"client"`
}

type ListenConfig struct {
	Host string `yaml:"host" env:"HOST"`
	Port int    `yaml:"port" env:"PORT"`
	// AcceptRetry shapes the accept loop's backoff. The loop never gives
	// up, so max_attempts is ignored here.
	AcceptRetry RetryConfig `yaml:"accept_retry" envPrefix:"ACCEPT_RETRY_"`
}

type LoggingConfig struct {
	Level string `yaml:"level" env:"LEVEL"`
	JSON  bool   `yaml:"json" env:"JSON"`
}

type AudioConfig struct {
	SampleRate int `yaml:"sample_rate" env:"SAMPLE_RATE"`
	Channels   int `yaml:"channels" env:"CHANNELS"`
	FrameMs    int `yaml:"frame_ms" env:"FRAME_MS"`
}

type CaptureConfig struct {
	// Type is one of tone, stdin, file, or http.
	Type             string            `yaml:"type" env:"TYPE"`
	Path             string            `yaml:"path" env:"PATH"`
	URL              string            `yaml:"url" env:"URL"`
	RequestHeaders   map[string]string `yaml:"request_headers"`
	ConnectTimeoutMs int               `yaml:"connect_timeout_ms" env:"CONNECT_TIMEOUT_MS"`
	Pace             bool              `yaml:"pace" env:"PACE"`
	Frequency        float64           `yaml:"frequency" env:"FREQUENCY"`
	Amplitude        float64           `yaml:"amplitude" env:"AMPLITUDE"`
}

type BufferingConfig struct {
	RingMs            int `yaml:"ring_ms" env:"RING_MS"`
	ClientQueueFrames int `yaml:"client_queue_frames" env:"CLIENT_QUEUE_FRAMES"`
	InboxSize         int `yaml:"inbox_size" env:"INBOX_SIZE"`
}

// RetryConfig shapes a backoff. MaxDelayMs caps the doubling delay and zero
// selects the default cap; Uncapped lets the delay grow without limit.
type RetryConfig struct {
	MaxAttempts int  `yaml:"max_attempts" env:"MAX_ATTEMPTS"`
	BaseDelayMs int  `yaml:"base_delay_ms" env:"BASE_DELAY_MS"`
	MaxDelayMs  int  `yaml:"max_delay_ms" env:"MAX_DELAY_MS"`
	Uncapped    bool `yaml:"uncapped" env:"UNCAPPED"`
}

type StreamConfig struct {
	ID              string          `yaml:"id"`
	Codec           string          `yaml:"codec"`
	Audio           AudioConfig     `yaml:"audio"`
	Capture         CaptureConfig   `yaml:"capture"`
	Buffering       BufferingConfig `yaml:"buffering"`
	AcceptUplink    bool            `yaml:"accept_uplink"`
	StatsIntervalMs int             `yaml:"stats_interval_ms"`
}

type UplinkConfig struct {
	Enabled bool          `yaml:"enabled" env:"ENABLED"`
	Capture CaptureConfig `yaml:"capture" envPrefix:"CAPTURE_"`
}

type ClientConfig struct {
	URL                string          `yaml:"url" env:"URL"`
	Codec              string          `yaml:"codec" env:"CODEC"`
	Audio              AudioConfig     `yaml:"audio" envPrefix:"AUDIO_"`
	Retry              RetryConfig     `yaml:"retry" envPrefix:"RETRY_"`
	Buffering          BufferingConfig `yaml:"buffering" envPrefix:"BUFFER_"`
	HandshakeTimeoutMs int             `yaml:"handshake_timeout_ms" env:"HANDSHAKE_TIMEOUT_MS"`
	// Output is speaker, stdout, or discard.
	Output string       `yaml:"output" env:"OUTPUT"`
	Uplink UplinkConfig `yaml:"uplink" envPrefix:"UPLINK_"`
}

// Load reads path and applies environment overrides and defaults. Callers
// validate the sections they use. An empty path starts from defaults alone.
func Load(path string) (*Config, error) {
	var cfg Config
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("parse yaml: %w", err)
		}
	}

	if err := applyEnv(&cfg); err != nil {
		return nil, err
	}

	cfg.ApplyDefaults()
	return &cfg, nil
}

func applyEnv(cfg *Config) error {
	sections := []struct {
		prefix string
		target any
	}{
		{EnvPrefix + "LISTEN_", &cfg.Listen},
		{EnvPrefix + "LOG_", &cfg.Logging},
		{EnvPrefix + "CLIENT_", &cfg.Client},
	}
	for _, s := range sections {
		if err := env.ParseWithOptions(s.target, env.Options{Prefix: s.prefix}); err != nil {
			return fmt.Errorf("parse env %s*: %w", s.prefix, err)
		}
	}
	return nil
}

func (c *Config) ApplyDefaults() {
	if c.Listen.Host == "" {
		c.Listen.Host = "0.0.0.0"
	}
	if c.Listen.Port == 0 {
		c.Listen.Port = 8080
	}
	c.Listen.AcceptRetry.applyDefaults(backoff.DefaultAcceptPolicy())
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}

	for i := range c.Streams {
		s := &c.Streams[i]
		if s.Codec == "" {
			s.Codec = codec.NamePCM
		}
		s.Audio.applyDefaults()
		if s.Capture.Type == "" {
			s.Capture.Type = "tone"
		}
		s.Capture.applyDefaults()
		if s.Buffering.RingMs == 0 {
			s.Buffering.RingMs = 200
		}
		s.Buffering.applyDefaults()
		if s.StatsIntervalMs == 0 {
			s.StatsIntervalMs = 30000
		}
	}

	cl := &c.Client
	if cl.Codec == "" {
		cl.Codec = codec.NamePCM
	}
	cl.Audio.applyDefaults()
	cl.Retry.applyDefaults(backoff.DefaultClientPolicy())
	if cl.Retry.MaxAttempts == 0 {
		cl.Retry.MaxAttempts = backoff.DefaultClientPolicy().MaxAttempts
	}
	if cl.Buffering.RingMs == 0 {
		cl.Buffering.RingMs = 500
	}
	cl.Buffering.applyDefaults()
	if cl.HandshakeTimeoutMs == 0 {
		cl.HandshakeTimeoutMs = 10000
	}
	if cl.Output == "" {
		cl.Output = "speaker"
	}
	if cl.Uplink.Capture.Type == "" {
		cl.Uplink.Capture.Type = "stdin"
	}
	cl.Uplink.Capture.applyDefaults()
}

func (a *AudioConfig) applyDefaults() {
	if a.SampleRate == 0 {
		a.SampleRate = 48000
	}
	if a.Channels == 0 {
		a.Channels = 2
	}
	if a.FrameMs == 0 {
		a.FrameMs = 20
	}
}

func (c *CaptureConfig) applyDefaults() {
	if c.Frequency == 0 {
		c.Frequency = 440
	}
	if c.Amplitude == 0 {
		c.Amplitude = 0.2
	}
	if c.ConnectTimeoutMs == 0 {
		c.ConnectTimeoutMs = 5000
	}
}

func (b *BufferingConfig) applyDefaults() {
	if b.ClientQueueFrames == 0 {
		b.ClientQueueFrames = 64
	}
	if b.InboxSize == 0 {
		b.InboxSize = 256
	}
}

func (r *RetryConfig) applyDefaults(p backoff.Policy) {
	if r.BaseDelayMs == 0 {
		r.BaseDelayMs = int(p.BaseDelay / time.Millisecond)
	}
	if r.MaxDelayMs == 0 {
		r.MaxDelayMs = int(p.MaxDelay / time.Millisecond)
	}
}

// Validate reports every problem at once.
func (c *Config) Validate() error {
	var errs []error
	if c.Listen.Port < 0 || c.Listen.Port > 65535 {
		errs = append(errs, fmt.Errorf("listen.port %d out of range", c.Listen.Port))
	}
	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, fmt.Errorf("logging.level %q must be debug, info, warn, or error", c.Logging.Level))
	}

	errs = append(errs, c.Listen.AcceptRetry.validate("listen.accept_retry"))

	seen := make(map[string]bool)
	for i, s := range c.Streams {
		where := fmt.Sprintf("streams[%d]", i)
		if s.ID == "" {
			errs = append(errs, fmt.Errorf("%s.id is required", where))
		} else if seen[s.ID] {
			errs = append(errs, fmt.Errorf("%s.id %q is duplicated", where, s.ID))
		}
		seen[s.ID] = true

		errs = append(errs, validateCodec(where, s.Codec))
		errs = append(errs, s.Audio.validate(where+".audio"))
		errs = append(errs, s.Capture.validate(where+".capture"))
		if s.Buffering.RingMs < s.Audio.FrameMs {
			errs = append(errs, fmt.Errorf("%s.buffering.ring_ms must hold at least one frame", where))
		}
	}
	return errors.Join(errs...)
}

// ValidateClient checks the client section, which only the listen command
// uses.
func (c *Config) ValidateClient() error {
	cl := c.Client
	var errs []error
	if cl.URL == "" {
		errs = append(errs, errors.New("client.url is required"))
	}
	errs = append(errs, validateCodec("client", cl.Codec))
	errs = append(errs, cl.Audio.validate("client.audio"))
	if cl.Retry.MaxAttempts < 1 {
		errs = append(errs, errors.New("client.retry.max_attempts must be at least 1"))
	}
	errs = append(errs, cl.Retry.validate("client.retry"))
	switch cl.Output {
	case "speaker", "stdout", "discard":
	default:
		errs = append(errs, fmt.Errorf("client.output %q must be speaker, stdout, or discard", cl.Output))
	}
	if cl.Uplink.Enabled {
		errs = append(errs, cl.Uplink.Capture.validate("client.uplink.capture"))
	}
	return errors.Join(errs...)
}

func validateCodec(where, name string) error {
	if _, err := codec.Lookup(name); err != nil {
		return fmt.Errorf("%s.codec: %w (supported: %s)", where, err, strings.Join(codec.Names(), ", "))
	}
	return nil
}

func (r RetryConfig) validate(where string) error {
	var errs []error
	if r.BaseDelayMs < 0 || r.MaxDelayMs < 0 {
		errs = append(errs, fmt.Errorf("%s delays must not be negative", where))
	}
	if !r.Uncapped && r.MaxDelayMs > 0 && r.MaxDelayMs < r.BaseDelayMs {
		errs = append(errs, fmt.Errorf("%s.max_delay_ms is below base_delay_ms", where))
	}
	return errors.Join(errs...)
}

func (a AudioConfig) validate(where string) error {
	var errs []error
	if a.SampleRate <= 0 {
		errs = append(errs, fmt.Errorf("%s.sample_rate must be positive", where))
	}
	if a.Channels < 1 || a.Channels > 8 {
		errs = append(errs, fmt.Errorf("%s.channels must be between 1 and 8", where))
	}
	if a.FrameMs <= 0 {
		errs = append(errs, fmt.Errorf("%s.frame_ms must be positive", where))
	}
	return errors.Join(errs...)
}

func (c CaptureConfig) validate(where string) error {
	switch c.Type {
	case "tone", "stdin":
		return nil
	case "file":
		if c.Path == "" {
			return fmt.Errorf("%s.path is required for file capture", where)
		}
		return nil
	case "http":
		if c.URL == "" {
			return fmt.Errorf("%s.url is required for http capture", where)
		}
		return nil
	default:
		return fmt.Errorf("%s.type %q must be tone, stdin, file, or http", where, c.Type)
	}
}

func (a AudioConfig) FrameDuration() time.Duration {
	return time.Duration(a.FrameMs) * time.Millisecond
}

func (c CaptureConfig) ConnectTimeout() time.Duration {
	return time.Duration(c.ConnectTimeoutMs) * time.Millisecond
}

func (b BufferingConfig) RingDuration() time.Duration {
	return time.Duration(b.RingMs) * time.Millisecond
}

// Policy converts the retry section. bounded selects whether MaxAttempts is
// honored or the sequence never ends.
func (r RetryConfig) Policy(bounded bool) backoff.Policy {
	p := backoff.Policy{
		MaxAttempts: backoff.Unbounded,
		BaseDelay:   time.Duration(r.BaseDelayMs) * time.Millisecond,
		MaxDelay:    time.Duration(r.MaxDelayMs) * time.Millisecond,
	}
	if r.Uncapped {
		p.MaxDelay = 0
	}
	if bounded {
		p.MaxAttempts = r.MaxAttempts
	}
	return p
}

func (c ClientConfig) HandshakeTimeout() time.Duration {
	return time.Duration(c.HandshakeTimeoutMs) * time.Millisecond
}

func (s StreamConfig) StatsInterval() time.Duration {
	return time.Duration(s.StatsIntervalMs) * time.Millisecond
}
