// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/ManuGH/tvscribe/internal/capture"
	"github.com/ManuGH/tvscribe/internal/channels"
	"github.com/ManuGH/tvscribe/internal/recording"
)

// fieldError is one entry of a validation failure response.
type fieldError struct {
	Field  string `json:"field"`
	Reason string `json:"reason"`
}

// writeJSON writes a JSON response with the given status code
func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError maps domain errors to status codes.
func writeError(w http.ResponseWriter, err error) {
	var verrs channels.ValidationErrors
	if errors.As(err, &verrs) {
		fields := make([]fieldError, 0, len(verrs))
		for _, v := range verrs {
			fields = append(fields, fieldError{Field: v.Field, Reason: v.Reason})
		}
		writeJSON(w, http.StatusUnprocessableEntity, map[string]any{"error": "validation failed", "fields": fields})
		return
	}

	code := http.StatusInternalServerError
	switch {
	case errors.Is(err, channels.ErrInvalidField), errors.Is(err, errBadRequest), errors.Is(err, recording.ErrNoURL):
		code = http.StatusBadRequest
	case errors.Is(err, channels.ErrChannelNotFound), errors.Is(err, recording.ErrJobNotFound), errors.Is(err, capture.ErrUnknownChannel):
		code = http.StatusNotFound
	case errors.Is(err, capture.ErrAlreadyRunning), errors.Is(err, recording.ErrJobActive):
		code = http.StatusConflict
	case errors.Is(err, capture.ErrNoChannels), errors.Is(err, recording.ErrShutdown):
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, map[string]string{"error": err.Error()})
}

var errBadRequest = errors.New("bad request")

// decode reads a JSON body into v.
func decode(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return errors.Join(errBadRequest, err)
	}
	return nil
}
