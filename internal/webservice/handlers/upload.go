// Package handlers provides the HTTP handlers for the PixelDepot web service.
package handlers

import (
	"log/slog"
	"net/http"
	"path/filepath"
	"strings"

	"github.com/pixeldepot/pixeldepot/internal/webservice/metrics"
)

// Upload handles multipart asset uploads for any allowed kind.
type Upload struct {
	assetHandler
}

// NewUpload creates a new Upload handler.
func NewUpload(store Store, config ConfigProvider, maxUploadSize int64) *Upload {
	return &Upload{
		assetHandler{
			store:             store,
			config:            config,
			maxUploadSize:     maxUploadSize,
			invalidStatus:     http.StatusBadRequest,
			customDescription: true,
		}}
}

// ServeHTTP handles incoming HTTP requests for asset uploads.
func (h *Upload) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	metrics.ApplyLabels(r)
	reqID := requestID(r)
	kind := filepath.Clean(r.PathValue("kind"))
	if kind == "" || kind == "." || strings.Contains(kind, "..") {
		http.Error(w, "Invalid asset kind in URL", http.StatusForbidden)
		return
	}

	slog.Info("Request recv'd", "req_id", reqID, "kind", kind)
	id, filename, ok := h.upload(w, r, reqID, kind)
	if !ok {
		return
	}

	writeJSON(w, http.StatusCreated, uploadResponse{Message: "Asset uploaded", ID: id, Kind: kind, Filename: filename})
}
