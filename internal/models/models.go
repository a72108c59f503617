// Package models defines the documents PixelDepot stores in MongoDB.
package models

import (
	"github.com/pixeldepot/pixeldepot/internal/constants"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// Asset is a stored game asset.
//
// File bytes are kept base64-encoded in Content. Size is the decoded byte
// count. Size, ContentType and UploadedAt are absent on documents written by
// older deployments, so they stay optional on both sides.
type Asset struct {
	ID          primitive.ObjectID `bson:"_id,omitempty" json:"id,omitempty"`
	Filename    string             `bson:"filename" json:"filename"`
	Content     string             `bson:"content,omitempty" json:"content,omitempty"`
	Description string             `bson:"description" json:"description"`
	Size        int64              `bson:"size,omitempty" json:"size,omitempty"`
	ContentType string             `bson:"content_type,omitempty" json:"content_type,omitempty"`
	UploadedAt  primitive.DateTime `bson:"uploaded_at,omitempty" json:"uploaded_at,omitempty"`
}

// AssetSummary is a listing entry for an asset, without the encoded payload.
type AssetSummary struct {
	ID          primitive.ObjectID `bson:"_id" json:"id"`
	Filename    string             `bson:"filename" json:"filename"`
	Description string             `bson:"description" json:"description"`
	Size        int64              `bson:"size,omitempty" json:"size,omitempty"`
	ContentType string             `bson:"content_type,omitempty" json:"content_type,omitempty"`
	UploadedAt  primitive.DateTime `bson:"uploaded_at,omitempty" json:"uploaded_at,omitempty"`
}

// PlayerScore is a recorded player score.
type PlayerScore struct {
	ID         primitive.ObjectID `bson:"_id,omitempty" json:"id,omitempty"`
	PlayerName string             `bson:"player_name" json:"player_name"`
	Score      int                `bson:"score" json:"score"`
	RecordedAt primitive.DateTime `bson:"recorded_at,omitempty" json:"recorded_at,omitempty"`
}

var titleCaser = cases.Title(language.English)

// CollectionName maps an asset kind to its MongoDB collection.
// Existing deployments already hold title-cased collections (Sprites, Audio,
// Scores), so the mapping must stay the first-letter capitalization.
func CollectionName(kind string) string {
	return titleCaser.String(kind)
}

// DefaultDescription returns the stored description for an uploaded asset of
// the given kind. The sprite and audio wordings predate the configurable
// kinds and must not change.
func DefaultDescription(kind string) string {
	switch kind {
	case constants.SpriteKind:
		return "Sprite uploaded via Base64"
	case constants.AudioKind:
		return "Audio uploaded via Base64"
	default:
		return CollectionName(kind) + " uploaded via Base64"
	}
}
