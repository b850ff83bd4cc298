package gateway

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/syntrixbase/syntrix-offline/internal/query"
	"github.com/syntrixbase/syntrix-offline/pkg/model"
)

// APIError is the body of every error response.
type APIError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Error codes
const (
	ErrCodeBadRequest      = "BAD_REQUEST"
	ErrCodeNotFound        = "NOT_FOUND"
	ErrCodeRequestTooLarge = "REQUEST_TOO_LARGE"
	ErrCodeUnprocessable   = "UNPROCESSABLE"
	ErrCodeDeliveryFailed  = "DELIVERY_FAILED"
	ErrCodeUnavailable     = "UNAVAILABLE"
	ErrCodeTimeout         = "TIMEOUT"
	ErrCodeInternalError   = "INTERNAL_ERROR"
)

// pageParams are the pagination parameters of a cache read.
type pageParams struct {
	Limit  *int `schema:"limit"`
	Offset *int `schema:"offset"`
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		slog.Warn("Failed to encode JSON response", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, code string, message string) {
	writeJSON(w, status, APIError{Code: code, Message: message})
}

// writeModelError maps err through model.HTTPStatus.
func (s *Server) writeModelError(w http.ResponseWriter, r *http.Request, err error) {
	status := model.HTTPStatus(err)
	code := ErrCodeInternalError
	switch status {
	case http.StatusNotFound:
		code = ErrCodeNotFound
	case http.StatusUnprocessableEntity:
		code = ErrCodeUnprocessable
	case http.StatusBadGateway:
		code = ErrCodeDeliveryFailed
	case http.StatusServiceUnavailable:
		code = ErrCodeUnavailable
	case http.StatusRequestTimeout:
		code = ErrCodeTimeout
	}
	if status >= 500 && status != http.StatusServiceUnavailable {
		s.logger.Error("Request failed", "path", r.URL.Path, "error", err, "request_id", GetRequestID(r.Context()))
	}
	writeError(w, status, code, err.Error())
}

// handleCacheGet resolves /v1/cache/{uri...} through the router. Query
// parameters become the request data; limit and offset must be integers.
func (s *Server) handleCacheGet(w http.ResponseWriter, r *http.Request) {
	uri := "/" + r.PathValue("uri")
	values := r.URL.Query()

	var page pageParams
	if err := s.decoder.Decode(&page, values); err != nil {
		writeError(w, http.StatusBadRequest, ErrCodeBadRequest, "invalid pagination: "+err.Error())
		return
	}

	opts := model.NewRequestOptions(uri)
	for key, vals := range values {
		if key == query.ParamLimit || key == query.ParamOffset {
			continue
		}
		if len(vals) == 1 {
			opts.Data[key] = vals[0]
			continue
		}
		list := make([]interface{}, len(vals))
		for i, v := range vals {
			list[i] = v
		}
		opts.Data[key] = list
	}
	if page.Limit != nil {
		opts.Data[query.ParamLimit] = *page.Limit
	}
	if page.Offset != nil {
		opts.Data[query.ParamOffset] = *page.Offset
	}

	res, err := s.router.Get(r.Context(), uri, opts)
	if err != nil {
		s.writeModelError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// handlePush queues the request body, which may be any JSON value.
func (s *Server) handlePush(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, ErrCodeRequestTooLarge, "Request body too large")
			return
		}
		writeError(w, http.StatusBadRequest, ErrCodeBadRequest, "Failed to read request body")
		return
	}

	var update interface{}
	if err := json.Unmarshal(body, &update); err != nil {
		writeError(w, http.StatusBadRequest, ErrCodeBadRequest, "Request body must be JSON")
		return
	}

	entry, err := s.queue.Push(r.Context(), update)
	if err != nil {
		s.writeModelError(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, entry)
}

func (s *Server) handleUpdates(w http.ResponseWriter, r *http.Request) {
	updates, err := s.queue.Updates(r.Context())
	if err != nil {
		s.writeModelError(w, r, err)
		return
	}
	if updates == nil {
		updates = []*model.QueuedUpdate{}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"updates": updates})
}

func (s *Server) handleLength(w http.ResponseWriter, r *http.Request) {
	n, err := s.queue.Length(r.Context())
	if err != nil {
		s.writeModelError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"length": n})
}

// handleDrain drains the queue. With ?delay=<duration> the drain is
// scheduled instead and the request returns immediately.
func (s *Server) handleDrain(w http.ResponseWriter, r *http.Request) {
	if raw := r.URL.Query().Get("delay"); raw != "" {
		delay, err := time.ParseDuration(raw)
		if err != nil || delay < 0 {
			writeError(w, http.StatusBadRequest, ErrCodeBadRequest, "delay must be a non-negative duration")
			return
		}
		scheduled := s.goBackground(func() {
			if err := s.queue.Schedule(s.ctx, delay); err != nil && !model.IsCanceled(err) && !errors.Is(err, model.ErrClosed) {
				s.logger.Warn("Scheduled drain failed", "error", err)
			}
		})
		if !scheduled {
			writeError(w, http.StatusServiceUnavailable, ErrCodeUnavailable, "gateway is shutting down")
			return
		}
		writeJSON(w, http.StatusAccepted, map[string]string{"scheduled": delay.String()})
		return
	}

	if err := s.queue.Drain(r.Context()); err != nil {
		s.writeModelError(w, r, err)
		return
	}
	n, err := s.queue.Length(r.Context())
	if err != nil {
		s.writeModelError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"length": n})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	n, err := s.queue.Length(r.Context())
	if err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]interface{}{
			"status": "unavailable",
			"error":  err.Error(),
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":      "ok",
		"pending":     n,
		"replicating": s.router.Replicating(),
	})
}
