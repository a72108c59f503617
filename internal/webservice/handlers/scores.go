package handlers

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/pixeldepot/pixeldepot/internal/models"
	"github.com/pixeldepot/pixeldepot/internal/webservice/metrics"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

// maxScoreBodySize caps the JSON body of score submissions.
const maxScoreBodySize = 64 * 1024

// Scores serves score submission and listing, on both the current and the
// original endpoints.
type Scores struct {
	store Store
}

// NewScores creates a new Scores handler.
func NewScores(store Store) *Scores {
	return &Scores{store: store}
}

// scoreRequest uses pointers to tell absent fields from zero values.
type scoreRequest struct {
	PlayerName *string `json:"player_name"`
	Score      *int    `json:"score"`
}

// Submit handles POST requests recording a player score.
func (h *Scores) Submit(w http.ResponseWriter, r *http.Request) {
	metrics.ApplyLabels(r)
	reqID := requestID(r)

	req, ok := h.decodeScore(w, r, reqID, http.StatusBadRequest, true)
	if !ok {
		return
	}

	id, ok := h.insert(w, r, reqID, req)
	if !ok {
		return
	}

	writeJSON(w, http.StatusCreated, submitScoreResponse{ID: id})
}

// LegacySubmit handles POST requests on the original score endpoint. It keeps
// the lenient decoding and the 200 response of the original service.
func (h *Scores) LegacySubmit(w http.ResponseWriter, r *http.Request) {
	metrics.ApplyLabels(r)
	reqID := requestID(r)

	req, ok := h.decodeScore(w, r, reqID, http.StatusUnprocessableEntity, false)
	if !ok {
		return
	}

	id, ok := h.insert(w, r, reqID, req)
	if !ok {
		return
	}

	writeJSON(w, http.StatusOK, legacyUploadResponse{Message: "Score recorded", ID: id})
}

func (h *Scores) decodeScore(w http.ResponseWriter, r *http.Request, reqID string, invalidStatus int, strict bool) (scoreRequest, bool) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return scoreRequest{}, false
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxScoreBodySize)
	dec := json.NewDecoder(r.Body)
	if strict {
		dec.DisallowUnknownFields()
	}

	var req scoreRequest
	if err := dec.Decode(&req); err != nil {
		http.Error(w, "Invalid JSON in request body", invalidStatus)
		slog.Error("Invalid JSON in request body", "req_id", reqID, "err", err)
		return scoreRequest{}, false
	}
	if req.PlayerName == nil || strings.TrimSpace(*req.PlayerName) == "" {
		http.Error(w, "player_name is required", invalidStatus)
		slog.Error("Missing player_name in score submission", "req_id", reqID)
		return scoreRequest{}, false
	}
	if req.Score == nil {
		http.Error(w, "score is required", invalidStatus)
		slog.Error("Missing score in score submission", "req_id", reqID)
		return scoreRequest{}, false
	}
	return req, true
}

func (h *Scores) insert(w http.ResponseWriter, r *http.Request, reqID string, req scoreRequest) (string, bool) {
	score := models.PlayerScore{
		PlayerName: strings.TrimSpace(*req.PlayerName),
		Score:      *req.Score,
		RecordedAt: primitive.NewDateTimeFromTime(time.Now()),
	}

	id, err := h.store.InsertScore(r.Context(), score)
	if err != nil {
		http.Error(w, "Error saving score", http.StatusInternalServerError)
		slog.Error("Error saving score", "req_id", reqID, "err", err)
		return "", false
	}

	slog.Info("Score successfully recorded", "req_id", reqID, "id", id, "player", score.PlayerName)
	return id, true
}

// List handles GET requests for recorded scores, optionally filtered by the
// player query parameter.
func (h *Scores) List(w http.ResponseWriter, r *http.Request) {
	metrics.ApplyLabels(r)
	reqID := requestID(r)

	scores, err := h.store.ListScores(r.Context(), r.URL.Query().Get("player"))
	if err != nil {
		http.Error(w, "Error listing scores", http.StatusInternalServerError)
		slog.Error("Error listing scores", "req_id", reqID, "err", err)
		return
	}

	writeJSON(w, http.StatusOK, listScoresResponse{Scores: scores})
}

// LegacyList handles GET requests on the original scores listing endpoint.
// Entries carry only the fields the original service returned.
func (h *Scores) LegacyList(w http.ResponseWriter, r *http.Request) {
	metrics.ApplyLabels(r)
	reqID := requestID(r)

	scores, err := h.store.ListScores(r.Context(), "")
	if err != nil {
		http.Error(w, "Error listing scores", http.StatusInternalServerError)
		slog.Error("Error listing scores", "req_id", reqID, "err", err)
		return
	}

	entries := make([]legacyScoreEntry, 0, len(scores))
	for _, s := range scores {
		entries = append(entries, legacyScoreEntry{PlayerName: s.PlayerName, Score: s.Score})
	}
	writeJSON(w, http.StatusOK, legacyScoresResponse{Scores: entries})
}
