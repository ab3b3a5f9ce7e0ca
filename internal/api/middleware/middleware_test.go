package middleware

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dvloznov/txn-harvester/internal/logger"
)

func TestRequestID_KeepsCallerID(t *testing.T) {
	var seen string
	h := RequestID(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = RequestIDFrom(r.Context())
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("X-Request-ID", "abc")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	assert.Equal(t, "abc", seen)
	assert.Equal(t, "abc", rec.Header().Get("X-Request-ID"))

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Len(t, seen, 36)
}

func TestLogger_AttachesRequestLogger(t *testing.T) {
	buf := &bytes.Buffer{}
	log := zerolog.New(buf)

	h := RequestID(Logger(log)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		l := logger.FromContext(r.Context())
		l.Info().Msg("inside handler")
		w.WriteHeader(http.StatusTeapot)
	})))

	req := httptest.NewRequest(http.MethodPost, "/api/runner/stop", nil)
	req.Header.Set("X-Request-ID", "req-1")
	h.ServeHTTP(httptest.NewRecorder(), req)

	out := buf.String()
	assert.Contains(t, out, `"message":"inside handler"`)
	assert.Contains(t, out, `"request_id":"req-1"`)
	assert.Contains(t, out, `"status":418`)
}

func TestRecovery(t *testing.T) {
	h := Recovery(zerolog.Nop())(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic("boom")
	}))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.JSONEq(t, `{"error":"Internal server error"}`, rec.Body.String())
}

func TestCORS_Preflight(t *testing.T) {
	called := false
	h := CORS(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { called = true }))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodOptions, "/api/status", nil))

	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.False(t, called)
	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestAuth(t *testing.T) {
	ok := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK) })

	valid, err := IssueToken("s3cret", "ops", time.Hour)
	require.NoError(t, err)
	expired, err := IssueToken("s3cret", "ops", -time.Minute)
	require.NoError(t, err)
	otherKey, err := IssueToken("other", "ops", time.Hour)
	require.NoError(t, err)

	tests := []struct {
		name   string
		secret string
		header string
		want   int
	}{
		{"disabled", "", "", http.StatusOK},
		{"missing", "s3cret", "", http.StatusUnauthorized},
		{"wrong scheme", "s3cret", "Basic " + valid, http.StatusUnauthorized},
		{"garbage", "s3cret", "Bearer nope", http.StatusUnauthorized},
		{"wrong key", "s3cret", "Bearer " + otherKey, http.StatusUnauthorized},
		{"expired", "s3cret", "Bearer " + expired, http.StatusUnauthorized},
		{"valid", "s3cret", "Bearer " + valid, http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rec := httptest.NewRecorder()
			Auth(tt.secret)(ok).ServeHTTP(rec, req)
			assert.Equal(t, tt.want, rec.Code)
		})
	}
}

func TestAuth_TagsLoggerWithOperator(t *testing.T) {
	buf := &bytes.Buffer{}
	tok, err := IssueToken("s3cret", "alice", time.Hour)
	require.NoError(t, err)

	var operator string
	h := Logger(zerolog.New(buf))(Auth("s3cret")(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		operator = OperatorFrom(r.Context())
		l := logger.FromContext(r.Context())
		l.Info().Msg("authorized")
	})))
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer "+tok)
	h.ServeHTTP(httptest.NewRecorder(), req)

	assert.Contains(t, buf.String(), `"operator":"alice"`)
	assert.Equal(t, "alice", operator)
}

func TestValidateToken(t *testing.T) {
	tok, err := IssueToken("k", "bob", time.Hour)
	require.NoError(t, err)

	claims, err := ValidateToken("k", tok)
	require.NoError(t, err)
	assert.Equal(t, "bob", claims.Subject)
	assert.Equal(t, "txn-harvester", claims.Issuer)

	_, err = IssueToken("", "bob", time.Hour)
	assert.Error(t, err)
}
