// internal/handler/response.go
package handler

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"

	"custody-service/internal/xerrors"

	"go.uber.org/zap"
)

// maxBodyBytes bounds request bodies; signed transactions are the largest payload.
const maxBodyBytes = 1 << 20

type APIResponse struct {
	Status  string      `json:"status"`
	Message string      `json:"message,omitempty"`
	Data    interface{} `json:"data,omitempty"`
}

// insufficientFunds is the data attached to a 422 response.
type insufficientFunds struct {
	Missing string `json:"missing"`
}

func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(APIResponse{Status: "success", Data: data})
}

// respondError maps err to its HTTP status. Internal failures are logged
// and hidden from the caller.
func respondError(w http.ResponseWriter, logger *zap.Logger, err error) {
	status := xerrors.HTTPStatus(err)
	resp := APIResponse{Status: "error", Message: err.Error()}

	if missing, ok := xerrors.MissingAmount(err); ok {
		resp.Data = insufficientFunds{Missing: missing}
	}
	if status >= http.StatusInternalServerError {
		logger.Error("request failed", zap.Int("status", status), zap.Error(err))
		if status == http.StatusInternalServerError {
			resp.Message = "internal error"
		}
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(resp)
}

// decodeJSON reads a single JSON document into dst. An empty body is
// accepted when allowEmpty is set.
func decodeJSON(r *http.Request, dst interface{}, allowEmpty bool) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		if allowEmpty && errors.Is(err, io.EOF) {
			return nil
		}
		return xerrors.BadRequest("invalid request body: %v", err)
	}
	return nil
}

// queryLimit parses ?limit=, returning 0 when absent.
func queryLimit(r *http.Request) (int, error) {
	v := r.URL.Query().Get("limit")
	if v == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return 0, xerrors.BadRequest("invalid limit: %q", v)
	}
	return n, nil
}
