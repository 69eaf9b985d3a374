package handler

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"custody-service/internal/xerrors"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestRespondError(t *testing.T) {
	tests := []struct {
		name    string
		err     error
		status  int
		message string
		data    string
	}{
		{"not found", xerrors.ErrWalletNotFound, http.StatusNotFound, "wallet not found", ""},
		{"shortfall", xerrors.InsufficientFunds("2.5", "pool is short"), http.StatusUnprocessableEntity, "pool is short", `{"missing":"2.5"}`},
		{"upstream", xerrors.Upstream(errors.New("timeout"), "node down"), http.StatusBadGateway, "node down: timeout", ""},
		{"internal", errors.New("disk on fire"), http.StatusInternalServerError, "internal error", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			respondError(rec, zap.NewNop(), tt.err)

			assert.Equal(t, tt.status, rec.Code)
			var resp struct {
				Status  string          `json:"status"`
				Message string          `json:"message"`
				Data    json.RawMessage `json:"data"`
			}
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
			assert.Equal(t, "error", resp.Status)
			assert.Equal(t, tt.message, resp.Message)
			if tt.data != "" {
				assert.JSONEq(t, tt.data, string(resp.Data))
			} else {
				assert.Empty(t, resp.Data)
			}
		})
	}
}

func TestDecodeJSON(t *testing.T) {
	var dst struct {
		Name string `json:"name"`
	}

	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(""))
	assert.NoError(t, decodeJSON(req, &dst, true))

	req = httptest.NewRequest(http.MethodPost, "/", strings.NewReader(""))
	assert.Equal(t, xerrors.KindBadRequest, xerrors.KindOf(decodeJSON(req, &dst, false)))

	req = httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"name":"x","extra":1}`))
	assert.Equal(t, xerrors.KindBadRequest, xerrors.KindOf(decodeJSON(req, &dst, false)))
}

func TestQueryLimit(t *testing.T) {
	n, err := queryLimit(httptest.NewRequest(http.MethodGet, "/?limit=20", nil))
	require.NoError(t, err)
	assert.Equal(t, 20, n)

	_, err = queryLimit(httptest.NewRequest(http.MethodGet, "/?limit=-1", nil))
	assert.Error(t, err)
}
