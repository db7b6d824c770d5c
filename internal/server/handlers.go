package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"go.uber.org/zap"

	"github.com/zjregee/threadchat/internal/models"
)

// Threads is the service surface the HTTP handlers call.
type Threads interface {
	ListThreads(ctx context.Context) ([]*models.ThreadSummary, error)
	GetThread(ctx context.Context, id string) ([]*models.Turn, error)
	AppendTurn(ctx context.Context, id string, role models.Role, content string) ([]*models.Turn, error)
	RegenerateReply(ctx context.Context, id string) ([]*models.Turn, error)
	DeleteThread(ctx context.Context, id string) error
}

type appendTurnRequest struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type turnsResponse struct {
	ThreadID string         `json:"threadId"`
	Turns    []*models.Turn `json:"turns"`
}

type deleteResponse struct {
	ThreadID string `json:"threadId"`
	Deleted  bool   `json:"deleted"`
}

type errorResponse struct {
	Error    string           `json:"error"`
	Code     models.ErrorCode `json:"code"`
	ThreadID string           `json:"threadId,omitempty"`
	Turns    []*models.Turn   `json:"turns,omitempty"`
}

type handlers struct {
	threads      Threads
	maxBodyBytes int64
	logger       *zap.Logger
}

func (h *handlers) health(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain")
	_, _ = io.WriteString(w, "ok")
}

func (h *handlers) listThreads(w http.ResponseWriter, r *http.Request) {
	summaries, err := h.threads.ListThreads(r.Context())
	if err != nil {
		h.writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, summaries)
}

func (h *handlers) getThread(w http.ResponseWriter, r *http.Request) {
	turns, err := h.threads.GetThread(r.Context(), r.PathValue("id"))
	if err != nil {
		h.writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, turns)
}

func (h *handlers) appendTurn(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	var req appendTurnRequest
	if err := h.decodeBody(w, r, &req); err != nil {
		h.writeError(w, err)
		return
	}

	turns, err := h.threads.AppendTurn(r.Context(), id, models.Role(req.Role), req.Content)
	if err != nil {
		h.writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, turnsResponse{ThreadID: id, Turns: turns})
}

func (h *handlers) regenerateReply(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	turns, err := h.threads.RegenerateReply(r.Context(), id)
	if err != nil {
		h.writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, turnsResponse{ThreadID: id, Turns: turns})
}

func (h *handlers) deleteThread(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	if err := h.threads.DeleteThread(r.Context(), id); err != nil {
		h.writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, deleteResponse{ThreadID: id, Deleted: true})
}

func (h *handlers) decodeBody(w http.ResponseWriter, r *http.Request, dst any) error {
	body := http.MaxBytesReader(w, r.Body, h.maxBodyBytes)
	defer body.Close()

	if err := json.NewDecoder(body).Decode(dst); err != nil {
		var maxBytesErr *http.MaxBytesError
		if errors.As(err, &maxBytesErr) {
			return fmt.Errorf("%w: request body exceeds %d bytes", models.ErrInvalidInput, maxBytesErr.Limit)
		}
		if errors.Is(err, io.EOF) {
			return fmt.Errorf("%w: request body is required", models.ErrInvalidInput)
		}
		return fmt.Errorf("%w: malformed request body: %v", models.ErrInvalidInput, err)
	}

	return nil
}

func statusFor(code models.ErrorCode) int {
	switch code {
	case models.CodeInvalidInput:
		return http.StatusBadRequest
	case models.CodeNotFound:
		return http.StatusNotFound
	case models.CodeReplyFailed:
		return http.StatusBadGateway
	case models.CodeUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// writeError keeps backend detail out of 5xx bodies and in the log.
func (h *handlers) writeError(w http.ResponseWriter, err error) {
	code := models.CodeOf(err)
	resp := errorResponse{Code: code}

	switch code {
	case models.CodeInvalidInput, models.CodeNotFound:
		resp.Error = err.Error()
	case models.CodeReplyFailed:
		resp.Error = models.ErrReplyFailed.Error()
		var failure *models.ReplyFailure
		if errors.As(err, &failure) {
			resp.ThreadID = failure.ThreadID
			resp.Turns = failure.Turns
		}
	case models.CodeUnavailable:
		resp.Error = models.ErrUnavailable.Error()
	default:
		resp.Error = "internal server error"
	}

	if code != models.CodeInvalidInput && code != models.CodeNotFound {
		h.logger.Warn("Request error", zap.String("code", string(code)), zap.Error(err))
	}

	writeJSON(w, statusFor(code), resp)
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
