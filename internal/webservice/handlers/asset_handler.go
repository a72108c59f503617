package handlers

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/pixeldepot/pixeldepot/internal/models"
	"github.com/pixeldepot/pixeldepot/internal/webservice/middleware"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

type assetHandler struct {
	store         Store
	config        ConfigProvider
	maxUploadSize int64
	invalidStatus int

	// customDescription lets callers override the stored description with a
	// form field. The original endpoints always use the fixed wording.
	customDescription bool
}

// upload stores one uploaded file as a base64 encoded document. Errors are
// written to the response here, the success response is left to the caller.
//
// A nil config skips the allow and format checks. The original endpoints have
// fixed kinds which are always accepted.
func (h *assetHandler) upload(w http.ResponseWriter, r *http.Request, reqID, kind string) (id, filename string, ok bool) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return "", "", false
	}

	if h.config != nil && !h.config.IsAllowed(kind) {
		http.Error(w, "Unknown asset kind in URL", http.StatusForbidden)
		slog.Error("Unknown asset kind in URL", "req_id", reqID, "kind", kind)
		return "", "", false
	}

	if r.ContentLength > h.maxUploadSize {
		http.Error(w, "Uploaded file too large", http.StatusRequestEntityTooLarge)
		slog.Error("Uploaded file too large", "req_id", reqID, "kind", kind, "size", r.ContentLength)
		return "", "", false
	}

	r.Body = http.MaxBytesReader(w, r.Body, h.maxUploadSize)
	if err := r.ParseMultipartForm(h.maxUploadSize); err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			http.Error(w, "Uploaded file too large", http.StatusRequestEntityTooLarge)
			slog.Error("Uploaded file too large", "req_id", reqID, "kind", kind, "err", err)
			return "", "", false
		}
		http.Error(w, "Expected multipart form data with a file field", h.invalidStatus)
		slog.Error("Error parsing multipart form", "req_id", reqID, "kind", kind, "err", err)
		return "", "", false
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		http.Error(w, "Expected multipart form data with a file field", h.invalidStatus)
		slog.Error("Missing file field in form", "req_id", reqID, "kind", kind, "err", err)
		return "", "", false
	}
	defer file.Close()

	if h.config != nil && !h.config.FormatAllowed(kind, header.Filename) {
		http.Error(w, "File format not allowed for this asset kind", http.StatusForbidden)
		slog.Error("File format not allowed", "req_id", reqID, "kind", kind, "filename", header.Filename)
		return "", "", false
	}

	data, err := io.ReadAll(file)
	if err != nil {
		http.Error(w, "Failed to read uploaded file", http.StatusBadRequest)
		slog.Error("Error reading the file", "req_id", reqID, "kind", kind, "err", err)
		return "", "", false
	}

	description := models.DefaultDescription(kind)
	if h.customDescription {
		if d := r.FormValue("description"); d != "" {
			description = d
		}
	}

	asset := models.Asset{
		Filename:    header.Filename,
		Content:     base64.StdEncoding.EncodeToString(data),
		Description: description,
		Size:        int64(len(data)),
		ContentType: header.Header.Get("Content-Type"),
		UploadedAt:  primitive.NewDateTimeFromTime(time.Now()),
	}

	id, err = h.store.UploadAsset(r.Context(), kind, asset)
	if err != nil {
		http.Error(w, "Error saving asset", http.StatusInternalServerError)
		slog.Error("Error saving asset", "req_id", reqID, "kind", kind, "err", err)
		return "", "", false
	}

	slog.Info("Asset successfully uploaded", "req_id", reqID, "kind", kind, "id", id, "filename", header.Filename)
	return id, header.Filename, true
}

func requestID(r *http.Request) string {
	if id := middleware.RequestIDFromContext(r.Context()); id != "" {
		return id
	}
	return uuid.New().String()
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		slog.Error("Error encoding response", "err", err)
	}
}
