// Package logging sets up the process-wide zerolog writer and a handful of
// constructors for component-scoped child loggers carrying the
// owner_id/campaign_id fields every long-running component needs.
package logging

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
)

// Init configures the global zerolog logger for plain, timestamped,
// human-readable output during local runs while still being structured
// underneath.
func Init(debug bool) zerolog.Logger {
	zerolog.TimeFieldFormat = time.RFC3339
	level := zerolog.InfoLevel
	if debug {
		level = zerolog.DebugLevel
	}
	var w io.Writer = zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}
	logger := zerolog.New(w).Level(level).With().Timestamp().Logger()
	zerolog.DefaultContextLogger = &logger
	return logger
}

// ForCampaign returns a logger tagged with campaign and owner ids, used by
// the Executor and anything it calls into.
func ForCampaign(base zerolog.Logger, campaignID, ownerID string) zerolog.Logger {
	return base.With().Str("campaign_id", campaignID).Str("owner_id", ownerID).Logger()
}

// ForOwner returns a logger tagged only with an owner id, used by the
// BrowserSessionManager where operations aren't campaign-scoped.
func ForOwner(base zerolog.Logger, ownerID string) zerolog.Logger {
	return base.With().Str("owner_id", ownerID).Logger()
}
