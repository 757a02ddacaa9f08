package logger

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"
)

// SamplingConfig limits repeated identical log lines.
type SamplingConfig struct {
	Enabled bool

	// Tick is the window after which counters reset.
	Tick time.Duration

	// Threshold identical lines per tick are always written.
	Threshold uint64

	// Every Nth line past the threshold is written. Warnings and errors are never sampled.
	Every uint64

	// NeverSamplePrefixes exempts messages by prefix.
	NeverSamplePrefixes []string
}

// DefaultSamplingConfig returns the production defaults, disabled.
func DefaultSamplingConfig() SamplingConfig {
	return SamplingConfig{
		Tick:      time.Second,
		Threshold: 100,
		Every:     10,
	}
}

type samplingHandler struct {
	next slog.Handler
	cfg  SamplingConfig

	mu      *sync.Mutex
	counts  map[string]uint64
	resetAt *time.Time
}

// NewSamplingHandler wraps h. It returns h unchanged when sampling is disabled.
func NewSamplingHandler(h slog.Handler, cfg SamplingConfig) slog.Handler {
	if !cfg.Enabled {
		return h
	}
	if cfg.Tick <= 0 {
		cfg.Tick = time.Second
	}
	if cfg.Every == 0 {
		cfg.Every = 1
	}
	resetAt := time.Now().Add(cfg.Tick)
	return &samplingHandler{
		next:    h,
		cfg:     cfg,
		mu:      &sync.Mutex{},
		counts:  make(map[string]uint64),
		resetAt: &resetAt,
	}
}

func (h *samplingHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.next.Enabled(ctx, level)
}

func (h *samplingHandler) Handle(ctx context.Context, r slog.Record) error {
	if r.Level >= slog.LevelWarn || h.exempt(r.Message) || h.admit(r) {
		return h.next.Handle(ctx, r)
	}
	logsDropped.WithLabelValues(r.Level.String()).Inc()
	return nil
}

func (h *samplingHandler) exempt(msg string) bool {
	for _, p := range h.cfg.NeverSamplePrefixes {
		if strings.HasPrefix(msg, p) {
			return true
		}
	}
	return false
}

func (h *samplingHandler) admit(r slog.Record) bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	if r.Time.After(*h.resetAt) {
		clear(h.counts)
		*h.resetAt = r.Time.Add(h.cfg.Tick)
	}
	key := r.Level.String() + "|" + r.Message
	h.counts[key]++
	n := h.counts[key]
	if n <= h.cfg.Threshold {
		return true
	}
	return (n-h.cfg.Threshold)%h.cfg.Every == 0
}

// Derived handlers share counters with their parent.
func (h *samplingHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	c := *h
	c.next = h.next.WithAttrs(attrs)
	return &c
}

func (h *samplingHandler) WithGroup(name string) slog.Handler {
	c := *h
	c.next = h.next.WithGroup(name)
	return &c
}
