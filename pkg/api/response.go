package api

import (
	"encoding/json"
	"net/http"

	"github.com/jobport-labs/chatsync/pkg/errorx"
)

type Response struct {
	Code    int
	Header  http.Header
	RawBody []byte
}

func (r *Response) OK() bool {
	return r.Code >= 200 && r.Code < 300
}

// Decode unmarshals the body into out after checking the status code.
// Authentication failures and server errors map onto the client error
// taxonomy so callers can test for retryability.
func (r *Response) Decode(out any) error {
	switch {
	case r.Code == http.StatusUnauthorized || r.Code == http.StatusForbidden:
		return errorx.New(errorx.Unauthenticated, "credential rejected")
	case r.Code >= 500:
		return errorx.New(errorx.Unavailable, "server error %d", r.Code)
	case !r.OK():
		return errorx.New(errorx.BadResponse, "unexpected status %d", r.Code)
	}

	if err := json.Unmarshal(r.RawBody, out); err != nil {
		return errorx.New(errorx.BadResponse, "cannot decode response: %v", err)
	}

	return nil
}
