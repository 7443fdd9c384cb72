package identity

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
)

func capture(t *testing.T, trustQuery bool, req *http.Request) string {
	t.Helper()
	var got string
	h := Middleware(trustQuery)(http.HandlerFunc(func(_ http.ResponseWriter, r *http.Request) {
		got = UserIDFromContext(r.Context())
	}))
	h.ServeHTTP(httptest.NewRecorder(), req)
	return got
}

func TestMiddleware_Header(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/ws", nil)
	req.Header.Set(VerifiedUserHeader, " 65f1c0ffee ")
	assert.Equal(t, "65f1c0ffee", capture(t, false, req))
}

func TestMiddleware_QueryOnlyWhenTrusted(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/ws?verified_user_id=u1", nil)
	assert.Equal(t, "", capture(t, false, req))
	assert.Equal(t, "u1", capture(t, true, req))
}

func TestMiddleware_RejectsInvalid(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/ws", nil)
	req.Header.Set(VerifiedUserHeader, "bad id with spaces")
	assert.Equal(t, "", capture(t, true, req))
}

func TestIPFromRequest(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "10.0.0.7:5123"
	assert.Equal(t, "10.0.0.7", IPFromRequest(req))
	req.RemoteAddr = "pipe"
	assert.Equal(t, "pipe", IPFromRequest(req))
}
