// Package importer bulk-loads asset files and score records from a directory
// tree into the database.
//
// The tree mirrors the serving layout: one sub-directory per asset kind
// containing raw files, plus a scores directory of JSON documents. Files
// which fail to import are reported individually, and the batch as a whole
// errors when too many of them fail.
package importer

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"mime"
	"os"
	"path/filepath"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/google/uuid"
	"github.com/pixeldepot/pixeldepot/internal/constants"
	"github.com/pixeldepot/pixeldepot/internal/fileutils"
	"github.com/pixeldepot/pixeldepot/internal/models"
	"github.com/ubuntu/decorate"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

// Store persists imported documents.
type Store interface {
	UploadAsset(ctx context.Context, kind string, asset models.Asset) (string, error)
	InsertScore(ctx context.Context, score models.PlayerScore) (string, error)
}

// ConfigProvider reports which asset kinds and file formats are accepted.
type ConfigProvider interface {
	AllowedKinds() []string
	FormatAllowed(kind, filename string) bool
}

// ErrImportErrors is joined to the returned error when the failure ratio of a
// batch exceeds the accepted threshold.
var ErrImportErrors = errors.New("too many files failed to import")

const minimumSuccessRate = 0.85

// Importer walks a directory tree and inserts its contents into the store.
type Importer struct {
	dir    string
	db     Store
	config ConfigProvider
	prune  bool
}

type options struct {
	prune bool
}

// Options represents an optional function to override Importer default values.
type Options func(*options)

// WithPrune removes successfully imported files from disk.
func WithPrune() Options {
	return func(o *options) {
		o.prune = true
	}
}

// New returns an Importer rooted at dir.
func New(dir string, db Store, config ConfigProvider, args ...Options) (im Importer, err error) {
	defer decorate.OnError(&err, "failed to create importer for %s", dir)

	opts := options{}
	for _, opt := range args {
		opt(&opts)
	}

	info, err := os.Stat(dir)
	if err != nil {
		return Importer{}, err
	}
	if !info.IsDir() {
		return Importer{}, errors.New("not a directory")
	}

	return Importer{
		dir:    dir,
		db:     db,
		config: config,
		prune:  opts.prune,
	}, nil
}

// Result is the outcome of one imported file.
type Result struct {
	File string
	ID   string
	Err  error
}

// Run imports every allowed asset kind and the scores directory.
//
// Individual file failures do not abort the batch. The returned error is
// non-nil when the batch as a whole failed: the context was canceled, or the
// failure ratio exceeded the accepted threshold, in which case it matches
// ErrImportErrors.
func (im Importer) Run(ctx context.Context) (results []Result, err error) {
	defer decorate.OnError(&err, "import of %s failed", im.dir)

	batch := uuid.New().String()
	slog.Info("Starting import batch", "batch", batch, "dir", im.dir)

	defer func() {
		failed := 0
		for _, r := range results {
			if r.Err != nil {
				failed++
			}
		}
		if len(results) > 0 && float64(failed)/float64(len(results)) > 1-minimumSuccessRate {
			err = errors.Join(fmt.Errorf("%w: %d of %d", ErrImportErrors, failed, len(results)), err)
		}
	}()

	for _, kind := range im.config.AllowedKinds() {
		r, err := im.importAssets(ctx, batch, kind)
		results = append(results, r...)
		if err != nil {
			return results, err
		}
	}

	r, err := im.importScores(ctx, batch)
	results = append(results, r...)
	if err != nil {
		return results, err
	}

	slog.Info("Import batch complete", "batch", batch, "files", len(results))
	return results, nil
}

// importAssets imports every regular file under the kind's sub-directory. A
// missing sub-directory is not an error, the kind simply has nothing to
// import.
func (im Importer) importAssets(ctx context.Context, batch, kind string) ([]Result, error) {
	files, err := regularFiles(filepath.Join(im.dir, kind))
	if err != nil {
		return nil, err
	}

	results := make([]Result, 0, len(files))
	for _, path := range files {
		if err := ctx.Err(); err != nil {
			return results, err
		}
		results = append(results, im.importAsset(ctx, batch, kind, path))
	}
	return results, nil
}

func (im Importer) importAsset(ctx context.Context, batch, kind, path string) Result {
	res := Result{File: path}

	if !im.config.FormatAllowed(kind, path) {
		res.Err = fmt.Errorf("file format not allowed for kind %s", kind)
		slog.Warn("Skipping file with disallowed format", "batch", batch, "kind", kind, "file", path)
		return res
	}

	data, err := os.ReadFile(path)
	if err != nil {
		res.Err = fmt.Errorf("failed to read file: %v", err)
		slog.Warn("Failed to read file", "batch", batch, "kind", kind, "file", path, "err", err)
		return res
	}
	if len(data) == 0 {
		res.Err = errors.New("file is empty")
		slog.Warn("Skipping empty file", "batch", batch, "kind", kind, "file", path)
		return res
	}

	asset := models.Asset{
		Filename:    filepath.Base(path),
		Content:     base64.StdEncoding.EncodeToString(data),
		Description: models.DefaultDescription(kind),
		Size:        int64(len(data)),
		ContentType: mime.TypeByExtension(filepath.Ext(path)),
		UploadedAt:  primitive.NewDateTimeFromTime(time.Now()),
	}

	id, err := im.db.UploadAsset(ctx, kind, asset)
	if err != nil {
		res.Err = fmt.Errorf("failed to upload asset: %v", err)
		slog.Warn("Failed to upload asset", "batch", batch, "kind", kind, "file", path, "err", err)
		return res
	}
	res.ID = id

	slog.Info("Imported asset", "batch", batch, "kind", kind, "file", path, "id", id)
	im.pruneFile(batch, path)
	return res
}

// scoreRecord is the on-disk shape of one score document. Decoding is weakly
// typed so numeric strings from hand-written files still import, matching the
// lenient submission endpoint.
type scoreRecord struct {
	PlayerName string `mapstructure:"player_name"`
	Score      int    `mapstructure:"score"`
}

// importScores imports every JSON file under the scores sub-directory.
func (im Importer) importScores(ctx context.Context, batch string) ([]Result, error) {
	files, err := regularFiles(filepath.Join(im.dir, constants.ScoresKind))
	if err != nil {
		return nil, err
	}

	var results []Result
	for _, path := range files {
		if filepath.Ext(path) != ".json" {
			slog.Info("Ignoring non JSON file in scores directory", "batch", batch, "file", path)
			continue
		}
		if err := ctx.Err(); err != nil {
			return results, err
		}
		results = append(results, im.importScore(ctx, batch, path))
	}
	return results, nil
}

func (im Importer) importScore(ctx context.Context, batch, path string) Result {
	res := Result{File: path}

	rec, err := decodeScoreFile(path)
	if err != nil {
		res.Err = err
		slog.Warn("Failed to decode score file", "batch", batch, "file", path, "err", err)
		return res
	}
	if rec.PlayerName == "" {
		res.Err = errors.New("missing player_name")
		slog.Warn("Score file has no player name", "batch", batch, "file", path)
		return res
	}

	id, err := im.db.InsertScore(ctx, models.PlayerScore{
		PlayerName: rec.PlayerName,
		Score:      rec.Score,
		RecordedAt: primitive.NewDateTimeFromTime(time.Now()),
	})
	if err != nil {
		res.Err = fmt.Errorf("failed to insert score: %v", err)
		slog.Warn("Failed to insert score", "batch", batch, "file", path, "err", err)
		return res
	}
	res.ID = id

	slog.Info("Imported score", "batch", batch, "file", path, "id", id)
	im.pruneFile(batch, path)
	return res
}

func decodeScoreFile(path string) (scoreRecord, error) {
	file, err := os.Open(path)
	if err != nil {
		return scoreRecord{}, fmt.Errorf("failed to open file: %v", err)
	}
	defer file.Close()

	var raw map[string]any
	if err := fileutils.ParseJSON(file, &raw); err != nil {
		return scoreRecord{}, err
	}

	var rec scoreRecord
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		WeaklyTypedInput: true,
		Result:           &rec,
	})
	if err != nil {
		return scoreRecord{}, fmt.Errorf("failed to create decoder: %v", err)
	}
	if err := decoder.Decode(raw); err != nil {
		return scoreRecord{}, fmt.Errorf("failed to decode score: %v", err)
	}
	return rec, nil
}

// pruneFile removes an imported file when pruning is enabled. Removal
// failures are logged but do not fail the import, the document is already
// stored.
func (im Importer) pruneFile(batch, path string) {
	if !im.prune {
		return
	}
	if err := os.Remove(path); err != nil {
		slog.Warn("Failed to remove imported file", "batch", batch, "file", path, "err", err)
	}
}

// regularFiles lists the regular files directly under dir, sorted by name. A
// missing dir returns no files.
func regularFiles(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read directory %s: %v", dir, err)
	}

	var files []string
	for _, entry := range entries {
		if !entry.Type().IsRegular() {
			continue
		}
		files = append(files, filepath.Join(dir, entry.Name()))
	}
	return files, nil
}
