// Package testutil holds helpers shared by handler and router tests.
package testutil

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// ErrorBody mirrors the JSON error envelope written by httputil.WriteError.
type ErrorBody struct {
	Error       string `json:"error"`
	Description string `json:"error_description"`
}

// JSONRequest builds a request whose body is body marshaled as JSON.
// A string body is sent as-is so tests can post malformed payloads.
func JSONRequest(t testing.TB, method, path string, body any) *http.Request {
	t.Helper()

	var buf bytes.Buffer
	switch v := body.(type) {
	case nil:
	case string:
		buf.WriteString(v)
	default:
		require.NoError(t, json.NewEncoder(&buf).Encode(v), "encode request body")
	}

	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	return req
}

// Serve runs req through h and returns the recorder.
func Serve(h http.Handler, req *http.Request) *httptest.ResponseRecorder {
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	return rr
}

// Decode unmarshals the recorded body into T.
func Decode[T any](t testing.TB, rr *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &out), "decode response: %s", rr.Body.String())
	return out
}

// RequireError asserts status and error code of an error response.
func RequireError(t testing.TB, rr *httptest.ResponseRecorder, status int, code string) ErrorBody {
	t.Helper()
	require.Equal(t, status, rr.Code, "unexpected status, body: %s", rr.Body.String())
	body := Decode[ErrorBody](t, rr)
	assert.Equal(t, code, body.Error, "unexpected error code")
	return body
}
