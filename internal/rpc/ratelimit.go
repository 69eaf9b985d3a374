package rpc

import (
	"errors"
	"net/http"
	"strings"

	gethrpc "github.com/ethereum/go-ethereum/rpc"
	"github.com/gagliardetto/solana-go/rpc/jsonrpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// JSON-RPC codes providers use for throttling.
const (
	codeLimitExceeded   = -32005
	codeTooManyRequests = -32029
)

var rateLimitPhrases = []string{
	"too many requests",
	"rate limit",
	"rate-limit",
	"ratelimit",
	"request limit",
	"exceeded the quota",
	"slowdown",
	"toobusy",
	"throttl",
}

// IsRateLimited classifies err as provider throttling. Structured signals
// (HTTP status, JSON-RPC code, gRPC code) are checked first; message text is
// only consulted when none of them is present.
func IsRateLimited(err error) bool {
	if err == nil {
		return false
	}

	if code := StatusCode(err); code != 0 {
		return code == http.StatusTooManyRequests
	}

	if code, ok := rpcCode(err); ok {
		return code == codeLimitExceeded || code == codeTooManyRequests || code == http.StatusTooManyRequests
	}

	if st, ok := status.FromError(err); ok && st.Code() != codes.Unknown {
		return st.Code() == codes.ResourceExhausted
	}

	msg := strings.ToLower(err.Error())
	if strings.Contains(msg, " 429") || strings.HasPrefix(msg, "429") {
		return true
	}
	for _, p := range rateLimitPhrases {
		if strings.Contains(msg, p) {
			return true
		}
	}
	return false
}

// StatusCode returns the HTTP status carried by err, or 0.
func StatusCode(err error) int {
	var se *StatusError
	if errors.As(err, &se) {
		return se.StatusCode
	}
	var he gethrpc.HTTPError
	if errors.As(err, &he) {
		return he.StatusCode
	}
	return 0
}

func rpcCode(err error) (int, bool) {
	var re *RPCError
	if errors.As(err, &re) {
		return re.Code, true
	}
	var se *jsonrpc.RPCError
	if errors.As(err, &se) {
		return se.Code, true
	}
	var ge gethrpc.Error
	if errors.As(err, &ge) {
		return ge.ErrorCode(), true
	}
	return 0, false
}
