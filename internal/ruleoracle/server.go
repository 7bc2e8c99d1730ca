package ruleoracle

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"
)

// NewHandler exposes an Oracle over HTTP at EvaluatePath.
func NewHandler(oracle Oracle) http.Handler {
	r := chi.NewRouter()
	r.Post(EvaluatePath, func(w http.ResponseWriter, r *http.Request) {
		var req EvaluateRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
			return
		}

		verdicts, err := oracle.Evaluate(r.Context(), req)
		if err != nil {
			log.Ctx(r.Context()).Error().Err(err).Str("request_id", req.RequestID).Msg("rule evaluation failed")
			writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "evaluation failed"})
			return
		}
		writeJSON(w, http.StatusOK, EvaluateResponse{Verdicts: verdicts})
	})
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	return r
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}
