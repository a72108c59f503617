package handlers

import (
	"errors"
	"log/slog"
	"mime"
	"net/http"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/pixeldepot/pixeldepot/internal/store"
	"github.com/pixeldepot/pixeldepot/internal/webservice/metrics"
)

// Assets serves listing, retrieval and deletion of stored assets.
type Assets struct {
	store  Store
	config ConfigProvider
}

// NewAssets creates a new Assets handler.
func NewAssets(store Store, config ConfigProvider) *Assets {
	return &Assets{store: store, config: config}
}

// allowedKind validates the kind path segment against the allow list.
// Errors are written to the response.
func (h *Assets) allowedKind(w http.ResponseWriter, r *http.Request, reqID string) (string, bool) {
	kind := filepath.Clean(r.PathValue("kind"))
	if kind == "" || kind == "." || strings.Contains(kind, "..") {
		http.Error(w, "Invalid asset kind in URL", http.StatusForbidden)
		return "", false
	}
	if !h.config.IsAllowed(kind) {
		http.Error(w, "Unknown asset kind in URL", http.StatusForbidden)
		slog.Error("Unknown asset kind in URL", "req_id", reqID, "kind", kind)
		return "", false
	}
	return kind, true
}

// List handles GET requests for the asset listing of a kind.
func (h *Assets) List(w http.ResponseWriter, r *http.Request) {
	metrics.ApplyLabels(r)
	reqID := requestID(r)
	kind, ok := h.allowedKind(w, r, reqID)
	if !ok {
		return
	}

	assets, err := h.store.ListAssets(r.Context(), kind)
	if err != nil {
		http.Error(w, "Error listing assets", http.StatusInternalServerError)
		slog.Error("Error listing assets", "req_id", reqID, "kind", kind, "err", err)
		return
	}

	writeJSON(w, http.StatusOK, listAssetsResponse{Assets: assets})
}

// Get handles GET requests for a single asset's metadata.
func (h *Assets) Get(w http.ResponseWriter, r *http.Request) {
	metrics.ApplyLabels(r)
	reqID := requestID(r)
	kind, ok := h.allowedKind(w, r, reqID)
	if !ok {
		return
	}

	asset, err := h.store.GetAsset(r.Context(), kind, r.PathValue("id"))
	if errors.Is(err, store.ErrNotFound) {
		http.Error(w, "Asset not found", http.StatusNotFound)
		return
	}
	if err != nil {
		http.Error(w, "Error retrieving asset", http.StatusInternalServerError)
		slog.Error("Error retrieving asset", "req_id", reqID, "kind", kind, "err", err)
		return
	}

	// Metadata only. The encoded payload is served by Content.
	asset.Content = ""
	writeJSON(w, http.StatusOK, asset)
}

// Content handles GET requests for an asset's decoded file bytes.
func (h *Assets) Content(w http.ResponseWriter, r *http.Request) {
	metrics.ApplyLabels(r)
	reqID := requestID(r)
	kind, ok := h.allowedKind(w, r, reqID)
	if !ok {
		return
	}

	asset, data, err := h.store.AssetContent(r.Context(), kind, r.PathValue("id"))
	if errors.Is(err, store.ErrNotFound) {
		http.Error(w, "Asset not found", http.StatusNotFound)
		return
	}
	if err != nil {
		http.Error(w, "Error retrieving asset", http.StatusInternalServerError)
		slog.Error("Error retrieving asset content", "req_id", reqID, "kind", kind, "err", err)
		return
	}

	contentType := asset.ContentType
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Disposition", mime.FormatMediaType("attachment", map[string]string{"filename": asset.Filename}))
	w.Header().Set("Content-Length", strconv.Itoa(len(data)))
	if _, err := w.Write(data); err != nil {
		slog.Error("Error writing asset content", "req_id", reqID, "kind", kind, "err", err)
	}
}

// Delete handles DELETE requests for a single asset.
func (h *Assets) Delete(w http.ResponseWriter, r *http.Request) {
	metrics.ApplyLabels(r)
	reqID := requestID(r)
	kind, ok := h.allowedKind(w, r, reqID)
	if !ok {
		return
	}

	id := r.PathValue("id")
	err := h.store.DeleteAsset(r.Context(), kind, id)
	if errors.Is(err, store.ErrNotFound) {
		http.Error(w, "Asset not found", http.StatusNotFound)
		return
	}
	if err != nil {
		http.Error(w, "Error deleting asset", http.StatusInternalServerError)
		slog.Error("Error deleting asset", "req_id", reqID, "kind", kind, "id", id, "err", err)
		return
	}

	slog.Info("Asset deleted", "req_id", reqID, "kind", kind, "id", id)
	w.WriteHeader(http.StatusNoContent)
}
