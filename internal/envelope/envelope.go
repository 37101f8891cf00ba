// Package envelope implements the uniform HTTP response shape every handler
// returns: {success, data?, error?, pagination?, meta?}.
package envelope

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/asepharyana/gatewayd/internal/apierr"
)

// Pagination describes a page of a list response.
type Pagination struct {
	Page       int `json:"page"`
	PerPage    int `json:"perPage"`
	TotalItems int `json:"totalItems"`
	TotalPages int `json:"totalPages"`
}

// Meta carries request-scoped metadata such as timing, echoed back to the
// caller alongside data or error.
type Meta struct {
	RequestID string `json:"requestId,omitempty"`
	StartTime int64  `json:"startTimestamp"`
	EndTime   int64  `json:"endTimestamp"`
}

// ErrorBody is the {code, message, fields?} error shape.
type ErrorBody struct {
	Code    string            `json:"code"`
	Message string            `json:"message"`
	Fields  []apierr.Field    `json:"fields,omitempty"`
}

// Envelope is the top-level {success, data?, error?, pagination?, meta?}
// response body.
type Envelope struct {
	Success    bool        `json:"success"`
	Data       interface{} `json:"data,omitempty"`
	Error      *ErrorBody  `json:"error,omitempty"`
	Pagination *Pagination `json:"pagination,omitempty"`
	Meta       Meta        `json:"meta"`
}

func write(w http.ResponseWriter, status int, env Envelope) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(env); err != nil {
		log.Error().Err(err).Msg("failed to encode response envelope")
	}
}

// WriteData writes a success envelope with optional pagination.
func WriteData(w http.ResponseWriter, status int, data interface{}, pagination *Pagination, requestID string, startTime time.Time) {
	write(w, status, Envelope{
		Success:    true,
		Data:       data,
		Pagination: pagination,
		Meta:       Meta{RequestID: requestID, StartTime: startTime.UnixMilli(), EndTime: time.Now().UnixMilli()},
	})
}

// WriteError writes an error envelope for a generic message/status pair,
// used by middleware that has no structured *apierr.Error to hand (e.g. a
// recovered panic, a body-size limit).
func WriteError(w http.ResponseWriter, status int, code, message string, requestID string, startTime time.Time) {
	write(w, status, Envelope{
		Success: false,
		Error:   &ErrorBody{Code: code, Message: message},
		Meta:    Meta{RequestID: requestID, StartTime: startTime.UnixMilli(), EndTime: time.Now().UnixMilli()},
	})
}

// WriteAPIError writes an error envelope from a structured *apierr.Error,
// translating its Kind to the corresponding HTTP status.
func WriteAPIError(w http.ResponseWriter, apiErr *apierr.Error, requestID string, startTime time.Time) {
	write(w, apiErr.Status(), Envelope{
		Success: false,
		Error:   &ErrorBody{Code: apiErr.Code, Message: apiErr.Message, Fields: apiErr.Fields},
		Meta:    Meta{RequestID: requestID, StartTime: startTime.UnixMilli(), EndTime: time.Now().UnixMilli()},
	})
}
