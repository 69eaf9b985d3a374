package xerrors

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestKindOfWalksWrappedChain(t *testing.T) {
	base := NotFound("wallet %s not found", "abc")
	wrapped := fmt.Errorf("resolve: %w", base)

	assert.Equal(t, KindNotFound, KindOf(wrapped))
	assert.Equal(t, http.StatusNotFound, HTTPStatus(wrapped))
	assert.Equal(t, KindInternal, KindOf(errors.New("plain")))
	assert.Equal(t, Kind(""), KindOf(nil))
}

func TestInsufficientFundsCarriesMissingAmount(t *testing.T) {
	err := fmt.Errorf("refinance: %w", InsufficientFunds("0.5", "short by %s", "0.5"))

	missing, ok := MissingAmount(err)
	assert.True(t, ok)
	assert.Equal(t, "0.5", missing)
	assert.Equal(t, http.StatusUnprocessableEntity, HTTPStatus(err))
}

func TestPermanent(t *testing.T) {
	tests := []struct {
		err  error
		want bool
	}{
		{BadRequest("x"), true},
		{ErrSignedTxRequired, true},
		{Upstream(errors.New("boom"), "node"), false},
		{errors.New("io timeout"), false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, Permanent(tt.err), tt.err.Error())
	}
}

func TestUpstreamUnwraps(t *testing.T) {
	cause := errors.New("connection refused")
	err := Upstream(cause, "all endpoints failed")

	assert.ErrorIs(t, err, cause)
	assert.Equal(t, "all endpoints failed: connection refused", err.Error())
}
