package dispatch

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"

	"signalmesh/internal/domain"
)

// Log-sink option keys.
const OptLevel = "level" // debug, info, warn, error (default info)

// LogAdapter writes a structured log line per signal at a configurable
// level. Delivery always succeeds once the level validates.
type LogAdapter struct {
	logger *slog.Logger
}

// NewLogAdapter creates the log-sink adapter.
func NewLogAdapter(logger *slog.Logger) *LogAdapter {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogAdapter{logger: logger}
}

func (a *LogAdapter) ValidateOpts(opts domain.Options) (domain.Options, error) {
	out, err := normalizeDelivery(opts)
	if err != nil {
		return nil, err
	}
	level, ok := out[OptLevel]
	if !ok {
		out[OptLevel] = "info"
		return out, nil
	}
	s, isStr := level.(string)
	if !isStr {
		return nil, domain.NewDomainError("log.ValidateOpts", domain.ErrInvalidLogLevel,
			fmt.Sprintf("%v", level))
	}
	normalized := strings.ToLower(s)
	if _, err := parseLevel(normalized); err != nil {
		return nil, domain.NewDomainError("log.ValidateOpts", domain.ErrInvalidLogLevel, s)
	}
	out[OptLevel] = normalized
	return out, nil
}

func (a *LogAdapter) Deliver(ctx context.Context, sig domain.Signal, opts domain.Options) error {
	level, _ := parseLevel(opts[OptLevel].(string))
	a.logger.Log(ctx, level, "signal",
		"id", sig.ID,
		"type", sig.Type,
		"source", sig.Source,
		"subject", sig.Subject,
		"data", sig.Data,
	)
	return nil
}

func parseLevel(s string) (slog.Level, error) {
	switch s {
	case "debug":
		return slog.LevelDebug, nil
	case "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return 0, domain.ErrInvalidLogLevel
	}
}

// ConsoleAdapter writes a formatted signal line to standard output.
// The writer is injectable for tests.
type ConsoleAdapter struct {
	mu  sync.Mutex
	out io.Writer
}

// NewConsoleAdapter creates the console-sink adapter. A nil writer defaults
// to os.Stdout.
func NewConsoleAdapter(out io.Writer) *ConsoleAdapter {
	if out == nil {
		out = os.Stdout
	}
	return &ConsoleAdapter{out: out}
}

func (a *ConsoleAdapter) ValidateOpts(opts domain.Options) (domain.Options, error) {
	return normalizeDelivery(opts)
}

func (a *ConsoleAdapter) Deliver(_ context.Context, sig domain.Signal, _ domain.Options) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	_, err := fmt.Fprintf(a.out, "[%s] %s %s → %s: %v\n",
		sig.Time.Format("15:04:05.000"), sig.ID, sig.Source, sig.Type, sig.Data)
	return err
}

// NoopAdapter succeeds without doing anything.
type NoopAdapter struct{}

// NewNoopAdapter creates the no-op adapter.
func NewNoopAdapter() *NoopAdapter { return &NoopAdapter{} }

func (a *NoopAdapter) ValidateOpts(opts domain.Options) (domain.Options, error) {
	return normalizeDelivery(opts)
}

func (a *NoopAdapter) Deliver(context.Context, domain.Signal, domain.Options) error {
	return nil
}
