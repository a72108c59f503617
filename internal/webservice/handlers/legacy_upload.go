package handlers

import (
	"log/slog"
	"net/http"

	"github.com/pixeldepot/pixeldepot/internal/constants"
	"github.com/pixeldepot/pixeldepot/internal/webservice/metrics"
)

// LegacyUpload serves an original fixed-kind upload endpoint. Response status
// and message wording match the original service and must not change.
type LegacyUpload struct {
	assetHandler
	kind    string
	message string
}

// NewLegacySpriteUpload creates the handler for the original sprite upload endpoint.
func NewLegacySpriteUpload(store Store, maxUploadSize int64) *LegacyUpload {
	return newLegacyUpload(store, maxUploadSize, constants.SpriteKind, "Sprite uploaded")
}

// NewLegacyAudioUpload creates the handler for the original audio upload endpoint.
func NewLegacyAudioUpload(store Store, maxUploadSize int64) *LegacyUpload {
	return newLegacyUpload(store, maxUploadSize, constants.AudioKind, "Audio uploaded")
}

func newLegacyUpload(store Store, maxUploadSize int64, kind, message string) *LegacyUpload {
	return &LegacyUpload{
		assetHandler: assetHandler{
			store:         store,
			maxUploadSize: maxUploadSize,
			invalidStatus: http.StatusUnprocessableEntity,
		},
		kind:    kind,
		message: message,
	}
}

// ServeHTTP handles incoming HTTP requests on an original upload endpoint.
func (h *LegacyUpload) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	metrics.ApplyLabels(r)
	reqID := requestID(r)

	slog.Info("Request recv'd", "req_id", reqID, "kind", h.kind)
	id, _, ok := h.upload(w, r, reqID, h.kind)
	if !ok {
		return
	}

	writeJSON(w, http.StatusOK, legacyUploadResponse{Message: h.message, ID: id})
}

// LegacyAssets serves the original listing endpoints for sprites and audio.
type LegacyAssets struct {
	store Store
}

// NewLegacyAssets creates a new LegacyAssets handler.
func NewLegacyAssets(store Store) *LegacyAssets {
	return &LegacyAssets{store: store}
}

// Sprites handles GET requests on the original sprite listing endpoint.
func (h *LegacyAssets) Sprites(w http.ResponseWriter, r *http.Request) {
	h.list(w, r, constants.SpriteKind)
}

// Audio handles GET requests on the original audio listing endpoint.
func (h *LegacyAssets) Audio(w http.ResponseWriter, r *http.Request) {
	h.list(w, r, constants.AudioKind)
}

// list writes the entries under the kind name, which is also the response key
// the original endpoints used.
func (h *LegacyAssets) list(w http.ResponseWriter, r *http.Request, kind string) {
	metrics.ApplyLabels(r)
	reqID := requestID(r)

	assets, err := h.store.ListAssets(r.Context(), kind)
	if err != nil {
		http.Error(w, "Error listing assets", http.StatusInternalServerError)
		slog.Error("Error listing assets", "req_id", reqID, "kind", kind, "err", err)
		return
	}

	entries := make([]legacyAssetEntry, 0, len(assets))
	for _, a := range assets {
		entries = append(entries, legacyAssetEntry{Filename: a.Filename, Description: a.Description})
	}
	writeJSON(w, http.StatusOK, map[string][]legacyAssetEntry{kind: entries})
}
