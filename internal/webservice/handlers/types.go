package handlers

import (
	"context"

	"github.com/pixeldepot/pixeldepot/internal/models"
)

// Store is the database access interface used by the handlers.
type Store interface {
	UploadAsset(ctx context.Context, kind string, asset models.Asset) (string, error)
	ListAssets(ctx context.Context, kind string) ([]models.AssetSummary, error)
	GetAsset(ctx context.Context, kind, id string) (models.Asset, error)
	AssetContent(ctx context.Context, kind, id string) (models.Asset, []byte, error)
	DeleteAsset(ctx context.Context, kind, id string) error
	InsertScore(ctx context.Context, score models.PlayerScore) (string, error)
	ListScores(ctx context.Context, player string) ([]models.PlayerScore, error)
}

// ConfigProvider is an interface that defines the configuration access methods used by the handlers.
type ConfigProvider interface {
	IsAllowed(kind string) bool
	FormatAllowed(kind, filename string) bool
}

type uploadResponse struct {
	Message  string `json:"message"`
	ID       string `json:"id"`
	Kind     string `json:"kind"`
	Filename string `json:"filename"`
}

type listAssetsResponse struct {
	Assets []models.AssetSummary `json:"assets"`
}

type listScoresResponse struct {
	Scores []models.PlayerScore `json:"scores"`
}

type submitScoreResponse struct {
	ID string `json:"id"`
}

// Responses on the original endpoints. Their key names are load bearing for
// existing game clients.
type legacyUploadResponse struct {
	Message string `json:"message"`
	ID      string `json:"id"`
}

type legacyAssetEntry struct {
	Filename    string `json:"filename"`
	Description string `json:"description"`
}

type legacyScoreEntry struct {
	PlayerName string `json:"player_name"`
	Score      int    `json:"score"`
}

type legacyScoresResponse struct {
	Scores []legacyScoreEntry `json:"scores"`
}
