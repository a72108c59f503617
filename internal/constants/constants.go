// Package constants is responsible for defining the constants used in the application.
package constants

import (
	"log/slog"
)

var (
	// Version is the version of the application.
	Version = "Dev"
)

const (
	// WebServiceCmdName is the name of the web service command.
	WebServiceCmdName = "pixeldepot-web-service"

	// StatsServiceCmdName is the name of the stats service command.
	StatsServiceCmdName = "pixeldepot-stats-service"

	// DefaultLogLevel is the default log level selected without any verbosity flags.
	DefaultLogLevel = slog.LevelWarn

	// ConnectionStringEnv is the environment variable carrying a full MongoDB
	// connection string, kept for compatibility with existing deployments.
	ConnectionStringEnv = "MONGODB_CONNECTION_STRING"

	// DefaultDBName is the database used when the connection string does not name one.
	DefaultDBName = "pixeldepot"
)

// Asset kind constants.
const (
	// SpriteKind is the asset kind for sprite images.
	SpriteKind = "sprites"

	// AudioKind is the asset kind for audio clips.
	AudioKind = "audio"

	// ScoresKind is the pseudo-kind addressing the player scores collection.
	ScoresKind = "scores"
)
