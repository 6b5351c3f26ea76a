// Package logger provides structured logging for the auction engine.
package logger

import (
	"context"
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
)

// ContextKey is the type for context keys.
type ContextKey string

const (
	// CorrelationIDKey is the context key for the caller-visible correlation id.
	CorrelationIDKey ContextKey = "correlation_id"
	// AuctionIDKey is the context key for auction ids.
	AuctionIDKey ContextKey = "auction_id"
	// BatchIDKey is the context key for settlement batch ids.
	BatchIDKey ContextKey = "batch_id"
	// ParticipantIDKey is the context key for coordinator participant ids.
	ParticipantIDKey ContextKey = "participant_id"
)

// Log is the global logger instance.
var Log zerolog.Logger

// Config holds logger configuration.
type Config struct {
	Level      string // debug, info, warn, error
	Format     string // json, console
	TimeFormat string // time format for console output
}

// DefaultConfig returns sensible defaults for production.
func DefaultConfig() Config {
	return Config{
		Level:      getEnv("LOG_LEVEL", "info"),
		Format:     getEnv("LOG_FORMAT", "json"),
		TimeFormat: time.RFC3339,
	}
}

// Init initializes the global logger.
func Init(cfg Config) {
	var output io.Writer = os.Stdout

	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil {
		level = zerolog.InfoLevel
	}

	if cfg.Format == "console" {
		output = zerolog.ConsoleWriter{
			Out:        os.Stdout,
			TimeFormat: cfg.TimeFormat,
		}
	}

	Log = zerolog.New(output).
		Level(level).
		With().
		Timestamp().
		Str("service", "auctionengine").
		Logger()
}

// WithCorrelationID attaches a correlation id to ctx.
func WithCorrelationID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, CorrelationIDKey, id)
}

// WithAuctionID attaches an auction id to ctx.
func WithAuctionID(ctx context.Context, auctionID string) context.Context {
	return context.WithValue(ctx, AuctionIDKey, auctionID)
}

// WithBatchID attaches a settlement batch id to ctx.
func WithBatchID(ctx context.Context, batchID string) context.Context {
	return context.WithValue(ctx, BatchIDKey, batchID)
}

// FromContext returns a logger enriched with whatever ids are set on ctx.
func FromContext(ctx context.Context) zerolog.Logger {
	l := Log.With()

	if v, ok := ctx.Value(CorrelationIDKey).(string); ok {
		l = l.Str("correlation_id", v)
	}
	if v, ok := ctx.Value(AuctionIDKey).(string); ok {
		l = l.Str("auction_id", v)
	}
	if v, ok := ctx.Value(BatchIDKey).(string); ok {
		l = l.Str("batch_id", v)
	}
	if v, ok := ctx.Value(ParticipantIDKey).(string); ok {
		l = l.Str("participant_id", v)
	}

	return l.Logger()
}

// Auction returns a logger scoped to a single auction.
func Auction(auctionID string) zerolog.Logger {
	return Log.With().Str("auction_id", auctionID).Logger()
}

// Batch returns a logger scoped to a single settlement batch.
func Batch(batchID string) zerolog.Logger {
	return Log.With().Str("batch_id", batchID).Logger()
}

// Component returns a logger scoped to a named subsystem.
func Component(name string) zerolog.Logger {
	return Log.With().Str("component", name).Logger()
}

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}
