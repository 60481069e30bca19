package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/ecosort/apiserver/internal/services"
	"github.com/ecosort/apiserver/internal/storage"
	"github.com/ecosort/apiserver/internal/store"
	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
)

// maxClassifyBody bounds the JSON body of a classify request.
const maxClassifyBody = 20 << 20

// AnalysisHandler serves device classification and analysis history.
type AnalysisHandler struct {
	analysisService *services.AnalysisService
	logger          *zap.Logger
}

func NewAnalysisHandler(analysisService *services.AnalysisService, logger *zap.Logger) *AnalysisHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AnalysisHandler{analysisService: analysisService, logger: logger}
}

// AnalysisRouter registers analysis routes. Every route requires a session.
func AnalysisRouter(r chi.Router, handler *AnalysisHandler, authMiddleware func(http.Handler) http.Handler) {
	r.Group(func(r chi.Router) {
		r.Use(authMiddleware)
		r.Post("/classify", handler.Classify)
		r.Get("/analysis", handler.ListAnalyses)
		r.Get("/analysis/{analysisID}", handler.GetAnalysis)
		r.Get("/analysis/{analysisID}/image", handler.GetAnalysisImage)
	})
}

// ClassifyRequest carries a base64 photo, optionally as a data URI.
type ClassifyRequest struct {
	ImageData string `json:"imageData"`
}

// Classify runs the classification pipeline and returns the stored analysis.
func (h *AnalysisHandler) Classify(w http.ResponseWriter, r *http.Request) {
	userID, err := userIDFromContext(r.Context())
	if err != nil {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxClassifyBody)
	var req ClassifyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusBadRequest, "image too large")
			return
		}
		writeError(w, http.StatusBadRequest, "invalid request")
		return
	}
	if strings.TrimSpace(req.ImageData) == "" {
		writeError(w, http.StatusBadRequest, "no image data provided")
		return
	}

	analysis, err := h.analysisService.Classify(r.Context(), userID, req.ImageData)
	if err != nil {
		var verr *services.ValidationError
		switch {
		case errors.Is(err, services.ErrImageRequired):
			writeError(w, http.StatusBadRequest, "no image data provided")
		case errors.As(err, &verr):
			writeValidationError(w, "invalid analysis data", verr)
		default:
			if !errors.Is(err, context.Canceled) {
				h.logger.Error("classify failed", zap.Int("user_id", userID), zap.Error(err))
			}
			writeError(w, http.StatusInternalServerError, "error processing image")
		}
		return
	}

	writeJSON(w, http.StatusCreated, analysis)
}

// ListAnalyses returns the caller's analyses, newest first.
func (h *AnalysisHandler) ListAnalyses(w http.ResponseWriter, r *http.Request) {
	userID, err := userIDFromContext(r.Context())
	if err != nil {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	analyses, err := h.analysisService.List(r.Context(), userID)
	if err != nil {
		h.logger.Error("list analyses failed", zap.Int("user_id", userID), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "error fetching analyses")
		return
	}

	writeJSON(w, http.StatusOK, analyses)
}

// GetAnalysis returns one analysis owned by the caller.
func (h *AnalysisHandler) GetAnalysis(w http.ResponseWriter, r *http.Request) {
	userID, err := userIDFromContext(r.Context())
	if err != nil {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	id, err := parseAnalysisID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid analysis id")
		return
	}

	analysis, err := h.analysisService.Get(r.Context(), userID, id)
	if err != nil {
		switch {
		case errors.Is(err, store.ErrNotFound):
			writeError(w, http.StatusNotFound, "analysis not found")
		case errors.Is(err, services.ErrForbidden):
			writeError(w, http.StatusForbidden, "forbidden")
		default:
			h.logger.Error("get analysis failed", zap.Int("analysis_id", id), zap.Error(err))
			writeError(w, http.StatusInternalServerError, "error fetching analysis")
		}
		return
	}

	writeJSON(w, http.StatusOK, analysis)
}

// GetAnalysisImage streams the stored photo of an analysis owned by the caller.
func (h *AnalysisHandler) GetAnalysisImage(w http.ResponseWriter, r *http.Request) {
	userID, err := userIDFromContext(r.Context())
	if err != nil {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	id, err := parseAnalysisID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid analysis id")
		return
	}

	rc, key, err := h.analysisService.Image(r.Context(), userID, id)
	if err != nil {
		switch {
		case errors.Is(err, store.ErrNotFound), errors.Is(err, services.ErrNoImage), errors.Is(err, storage.ErrObjectNotFound):
			writeError(w, http.StatusNotFound, "image not found")
		case errors.Is(err, services.ErrForbidden):
			writeError(w, http.StatusForbidden, "forbidden")
		default:
			h.logger.Error("open image failed", zap.Int("analysis_id", id), zap.Error(err))
			writeError(w, http.StatusInternalServerError, "error fetching image")
		}
		return
	}
	defer rc.Close()

	w.Header().Set("Content-Type", storage.ContentTypeFor(key))
	w.WriteHeader(http.StatusOK)
	if _, err := io.Copy(w, rc); err != nil {
		h.logger.Warn("stream image failed", zap.Int("analysis_id", id), zap.Error(err))
	}
}

func parseAnalysisID(r *http.Request) (int, error) {
	raw := strings.TrimSpace(chi.URLParam(r, "analysisID"))
	return strconv.Atoi(raw)
}
