package handlers

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/serenospa/feedback-service/libs/httpx"
	"github.com/serenospa/feedback-service/services/feedback-service/internal/feedback"
)

type FeedbackHandler struct {
	svc    *feedback.Service
	logger *slog.Logger
}

func NewFeedbackHandler(svc *feedback.Service, logger *slog.Logger) *FeedbackHandler {
	return &FeedbackHandler{svc: svc, logger: logger}
}

type verifyRequest struct {
	Email string `json:"email"`
	Phone string `json:"phone"`
}

type bookingSummary struct {
	ID          int64  `json:"id"`
	Name        string `json:"name"`
	ScheduledAt string `json:"scheduledAt"`
}

type verifyResponse struct {
	Eligible bool            `json:"eligible"`
	Token    string          `json:"token,omitempty"`
	Booking  *bookingSummary `json:"booking,omitempty"`
	Reason   string          `json:"reason,omitempty"`
}

type submitRequest struct {
	Token     string `json:"token"`
	BookingID int64  `json:"bookingId"`
	Email     string `json:"email"`
	Phone     string `json:"phone"`
	Name      string `json:"name"`
	Rating    int    `json:"rating"`
	Comment   string `json:"comment"`
}

type submitResponse struct {
	Accepted   bool   `json:"accepted"`
	FeedbackID string `json:"feedbackId,omitempty"`
	Reason     string `json:"reason,omitempty"`
}

func (h *FeedbackHandler) Verify(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req verifyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, verifyResponse{Eligible: false, Reason: "invalid json body"})
		return
	}

	res, err := h.svc.VerifyEligibility(r.Context(), feedback.VerifyRequest{
		Email:     req.Email,
		Phone:     req.Phone,
		OriginIP:  httpx.ClientIP(r),
		UserAgent: r.UserAgent(),
	})
	if err != nil {
		code, reason := rejection(err)
		writeJSON(w, verifyStatus(code), verifyResponse{Eligible: false, Reason: reason})
		return
	}

	writeJSON(w, http.StatusOK, verifyResponse{
		Eligible: true,
		Token:    res.Token,
		Booking: &bookingSummary{
			ID:          res.Booking.ID,
			Name:        res.Booking.Name,
			ScheduledAt: res.Booking.ScheduledAt.UTC().Format(time.RFC3339),
		},
	})
}

func (h *FeedbackHandler) Submit(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req submitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, submitResponse{Accepted: false, Reason: feedback.CodeValidation})
		return
	}

	res, err := h.svc.Submit(r.Context(), feedback.SubmitRequest{
		Token:     req.Token,
		BookingID: req.BookingID,
		Email:     req.Email,
		Phone:     req.Phone,
		Name:      req.Name,
		Rating:    req.Rating,
		Comment:   req.Comment,
		OriginIP:  httpx.ClientIP(r),
		UserAgent: r.UserAgent(),
	})
	if err != nil {
		code, reason := rejection(err)
		writeJSON(w, submitStatus(code), submitResponse{Accepted: false, Reason: reason})
		return
	}

	writeJSON(w, http.StatusCreated, submitResponse{Accepted: true, FeedbackID: res.FeedbackID})
}

func rejection(err error) (code, reason string) {
	var rej *feedback.RejectError
	if errors.As(err, &rej) {
		return rej.Code, rej.Reason
	}
	return feedback.CodeInternal, "something went wrong, please try again later"
}

func verifyStatus(code string) int {
	switch code {
	case feedback.CodeValidation:
		return http.StatusBadRequest
	case feedback.CodeRateLimited:
		return http.StatusTooManyRequests
	case feedback.CodeNotEligible, feedback.CodeAlreadySubmitted:
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

func submitStatus(code string) int {
	switch code {
	case feedback.CodeValidation:
		return http.StatusBadRequest
	case feedback.CodeRateLimited:
		return http.StatusTooManyRequests
	case feedback.CodeNotEligible:
		return http.StatusNotFound
	case feedback.CodeAlreadySubmitted:
		return http.StatusConflict
	case feedback.CodeIdentityMismatch:
		return http.StatusUnauthorized
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
