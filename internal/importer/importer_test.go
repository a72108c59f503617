package importer_test

import (
	"context"
	"encoding/base64"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"testing"

	"github.com/pixeldepot/pixeldepot/internal/importer"
	"github.com/pixeldepot/pixeldepot/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew(t *testing.T) {
	t.Parallel()

	tests := map[string]struct {
		dir func(t *testing.T) string

		wantErr bool
	}{
		"Existing directory": {
			dir: func(t *testing.T) string { t.Helper(); return t.TempDir() },
		},
		"Nonexistent directory errors": {
			dir:     func(t *testing.T) string { t.Helper(); return filepath.Join(t.TempDir(), "missing") },
			wantErr: true,
		},
		"Regular file errors": {
			dir: func(t *testing.T) string {
				t.Helper()
				path := filepath.Join(t.TempDir(), "file")
				require.NoError(t, os.WriteFile(path, []byte("data"), 0600), "Setup: failed to write file")
				return path
			},
			wantErr: true,
		},
	}

	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			_, err := importer.New(tc.dir(t), &fakeImportStore{}, fakeImportConfig{})
			if tc.wantErr {
				require.Error(t, err, "New should fail")
				return
			}
			require.NoError(t, err, "New should not fail")
		})
	}
}

func TestRun(t *testing.T) {
	t.Parallel()

	tests := map[string]struct {
		files  map[string]string // relative path -> content
		config fakeImportConfig
		store  fakeImportStore
		prune  bool

		wantBatchErr   bool
		wantFileErrs   []string // relative paths expected to fail
		wantAssets     map[string][]string
		wantScores     []models.PlayerScore
		wantKeptFiles  []string
		wantGoneFiles  []string
		wantNumResults int
	}{
		"Empty tree imports nothing": {
			config:         fakeImportConfig{kinds: []string{"sprites"}},
			wantNumResults: 0,
		},
		"Assets and scores import": {
			files: map[string]string{
				"sprites/hero.png":  "pngdata",
				"sprites/tile.png":  "tiledata",
				"audio/jump.wav":    "wavdata",
				"scores/alice.json": `{"player_name": "alice", "score": 12}`,
			},
			config: fakeImportConfig{kinds: []string{"sprites", "audio"}, formats: map[string][]string{
				"sprites": {".png"},
				"audio":   {".wav"},
			}},
			wantAssets: map[string][]string{
				"sprites": {"hero.png", "tile.png"},
				"audio":   {"jump.wav"},
			},
			wantScores:     []models.PlayerScore{{PlayerName: "alice", Score: 12}},
			wantNumResults: 4,
		},
		"Weakly typed score values decode": {
			files: map[string]string{
				"scores/bob.json": `{"player_name": "bob", "score": "41", "extra": true}`,
			},
			config:         fakeImportConfig{},
			wantScores:     []models.PlayerScore{{PlayerName: "bob", Score: 41}},
			wantNumResults: 1,
		},
		"Non JSON files in scores are ignored": {
			files: map[string]string{
				"scores/notes.txt": "not a score",
			},
			config:         fakeImportConfig{},
			wantNumResults: 0,
		},
		"Disallowed format fails the file, not the batch": {
			files: map[string]string{
				"sprites/hero.png": "pngdata",
				"sprites/hero.bmp": "bmpdata",
				"sprites/map.png":  "mapdata",
				"sprites/bg.png":   "bgdata",
				"sprites/ui.png":   "uidata",
				"sprites/fx.png":   "fxdata",
				"sprites/a.png":    "adata",
			},
			config: fakeImportConfig{kinds: []string{"sprites"}, formats: map[string][]string{
				"sprites": {".png"},
			}},
			wantFileErrs: []string{"sprites/hero.bmp"},
			wantAssets: map[string][]string{
				"sprites": {"a.png", "bg.png", "fx.png", "hero.png", "map.png", "ui.png"},
			},
			wantNumResults: 7,
		},
		"Empty file fails": {
			files: map[string]string{
				"sprites/empty.png": "",
			},
			config: fakeImportConfig{kinds: []string{"sprites"}, formats: map[string][]string{
				"sprites": {".png"},
			}},
			wantBatchErr:   true,
			wantFileErrs:   []string{"sprites/empty.png"},
			wantNumResults: 1,
		},
		"Invalid score JSON fails": {
			files: map[string]string{
				"scores/broken.json": `{"player_name": `,
			},
			config:         fakeImportConfig{},
			wantBatchErr:   true,
			wantFileErrs:   []string{"scores/broken.json"},
			wantNumResults: 1,
		},
		"Score without player name fails": {
			files: map[string]string{
				"scores/anon.json": `{"score": 9}`,
			},
			config:         fakeImportConfig{},
			wantBatchErr:   true,
			wantFileErrs:   []string{"scores/anon.json"},
			wantNumResults: 1,
		},
		"Too many store failures error the batch": {
			files: map[string]string{
				"sprites/a.png": "adata",
				"sprites/b.png": "bdata",
			},
			config: fakeImportConfig{kinds: []string{"sprites"}, formats: map[string][]string{
				"sprites": {".png"},
			}},
			store:          fakeImportStore{uploadErr: assert.AnError},
			wantBatchErr:   true,
			wantFileErrs:   []string{"sprites/a.png", "sprites/b.png"},
			wantNumResults: 2,
		},
		"Prune removes imported files and keeps failed ones": {
			files: map[string]string{
				"sprites/hero.png":  "pngdata",
				"sprites/hero.bmp":  "bmpdata",
				"sprites/a.png":     "adata",
				"sprites/b.png":     "bdata",
				"sprites/c.png":     "cdata",
				"sprites/d.png":     "ddata",
				"sprites/e.png":     "edata",
				"scores/alice.json": `{"player_name": "alice", "score": 1}`,
			},
			config: fakeImportConfig{kinds: []string{"sprites"}, formats: map[string][]string{
				"sprites": {".png"},
			}},
			prune:          true,
			wantFileErrs:   []string{"sprites/hero.bmp"},
			wantGoneFiles:  []string{"sprites/hero.png", "scores/alice.json"},
			wantKeptFiles:  []string{"sprites/hero.bmp"},
			wantNumResults: 8,
		},
	}

	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			dir := t.TempDir()
			for rel, content := range tc.files {
				path := filepath.Join(dir, filepath.FromSlash(rel))
				require.NoError(t, os.MkdirAll(filepath.Dir(path), 0700), "Setup: failed to create directory")
				require.NoError(t, os.WriteFile(path, []byte(content), 0600), "Setup: failed to write file")
			}

			var args []importer.Options
			if tc.prune {
				args = append(args, importer.WithPrune())
			}
			im, err := importer.New(dir, &tc.store, tc.config, args...)
			require.NoError(t, err, "Setup: failed to create importer")

			results, err := im.Run(t.Context())
			if tc.wantBatchErr {
				require.ErrorIs(t, err, importer.ErrImportErrors, "Run should fail the batch")
			} else {
				require.NoError(t, err, "Run should not fail")
			}
			assert.Len(t, results, tc.wantNumResults, "Unexpected number of results")

			var gotErrs []string
			for _, r := range results {
				rel, pErr := filepath.Rel(dir, r.File)
				require.NoError(t, pErr, "Setup: result file should be under the import dir")
				if r.Err != nil {
					gotErrs = append(gotErrs, filepath.ToSlash(rel))
					assert.Empty(t, r.ID, "Failed result should have no ID")
				} else {
					assert.NotEmpty(t, r.ID, "Successful result should have an ID")
				}
			}
			slices.Sort(gotErrs)
			wantErrs := slices.Clone(tc.wantFileErrs)
			slices.Sort(wantErrs)
			assert.Equal(t, wantErrs, gotErrs, "Unexpected failed files")

			if tc.wantAssets != nil {
				assert.Equal(t, tc.wantAssets, tc.store.assetFilenames(), "Unexpected stored assets")
			}
			if tc.wantScores != nil {
				got := tc.store.storedScores()
				require.Len(t, got, len(tc.wantScores), "Unexpected number of stored scores")
				for i, want := range tc.wantScores {
					assert.Equal(t, want.PlayerName, got[i].PlayerName, "Unexpected player name")
					assert.Equal(t, want.Score, got[i].Score, "Unexpected score")
					assert.NotZero(t, got[i].RecordedAt, "RecordedAt should be set")
				}
			}

			for _, rel := range tc.wantGoneFiles {
				assert.NoFileExists(t, filepath.Join(dir, filepath.FromSlash(rel)), "File should have been pruned")
			}
			for _, rel := range tc.wantKeptFiles {
				assert.FileExists(t, filepath.Join(dir, filepath.FromSlash(rel)), "File should have been kept")
			}
		})
	}
}

func TestRunEncodesContent(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "sprites"), 0700), "Setup: failed to create directory")
	require.NoError(t, os.WriteFile(filepath.Join(dir, "sprites", "hero.png"), []byte{0x89, 0x50, 0x4e, 0x47}, 0600),
		"Setup: failed to write file")

	store := &fakeImportStore{}
	im, err := importer.New(dir, store, fakeImportConfig{kinds: []string{"sprites"}, formats: map[string][]string{
		"sprites": {".png"},
	}})
	require.NoError(t, err, "Setup: failed to create importer")

	_, err = im.Run(t.Context())
	require.NoError(t, err, "Run should not fail")

	assets := store.storedAssets()["sprites"]
	require.Len(t, assets, 1, "Expected one stored asset")
	a := assets[0]
	assert.Equal(t, "hero.png", a.Filename, "Unexpected filename")
	assert.Equal(t, base64.StdEncoding.EncodeToString([]byte{0x89, 0x50, 0x4e, 0x47}), a.Content,
		"Content should be base64 encoded")
	assert.Equal(t, int64(4), a.Size, "Size should be the decoded byte count")
	assert.Equal(t, "Sprite uploaded via Base64", a.Description, "Unexpected description")
	assert.NotZero(t, a.UploadedAt, "UploadedAt should be set")
}

func TestRunCanceledContext(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "sprites"), 0700), "Setup: failed to create directory")
	require.NoError(t, os.WriteFile(filepath.Join(dir, "sprites", "hero.png"), []byte("data"), 0600),
		"Setup: failed to write file")

	im, err := importer.New(dir, &fakeImportStore{}, fakeImportConfig{kinds: []string{"sprites"}, formats: map[string][]string{
		"sprites": {".png"},
	}})
	require.NoError(t, err, "Setup: failed to create importer")

	ctx, cancel := context.WithCancel(t.Context())
	cancel()

	_, err = im.Run(ctx)
	require.ErrorIs(t, err, context.Canceled, "Run should report the canceled context")
}

type fakeImportStore struct {
	mu     sync.Mutex
	assets map[string][]models.Asset
	scores []models.PlayerScore

	uploadErr error
	insertErr error

	nextID int
}

func (s *fakeImportStore) UploadAsset(_ context.Context, kind string, asset models.Asset) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.uploadErr != nil {
		return "", s.uploadErr
	}
	if s.assets == nil {
		s.assets = make(map[string][]models.Asset)
	}
	s.assets[kind] = append(s.assets[kind], asset)
	s.nextID++
	return string(rune('a' + s.nextID)), nil
}

func (s *fakeImportStore) InsertScore(_ context.Context, score models.PlayerScore) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.insertErr != nil {
		return "", s.insertErr
	}
	s.scores = append(s.scores, score)
	s.nextID++
	return string(rune('a' + s.nextID)), nil
}

func (s *fakeImportStore) storedAssets() map[string][]models.Asset {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string][]models.Asset, len(s.assets))
	for kind, assets := range s.assets {
		out[kind] = slices.Clone(assets)
	}
	return out
}

func (s *fakeImportStore) assetFilenames() map[string][]string {
	out := make(map[string][]string)
	for kind, assets := range s.storedAssets() {
		for _, a := range assets {
			out[kind] = append(out[kind], a.Filename)
		}
		slices.Sort(out[kind])
	}
	return out
}

func (s *fakeImportStore) storedScores() []models.PlayerScore {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.scores)
}

type fakeImportConfig struct {
	kinds   []string
	formats map[string][]string
}

func (c fakeImportConfig) AllowedKinds() []string {
	return c.kinds
}

func (c fakeImportConfig) FormatAllowed(kind, filename string) bool {
	exts, ok := c.formats[kind]
	if !ok {
		return false
	}
	return slices.Contains(exts, strings.ToLower(filepath.Ext(filename)))
}
