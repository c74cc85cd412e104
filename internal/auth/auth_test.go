package auth

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/danmuck/entslink/internal/testutil/testlog"
	"github.com/gin-gonic/gin"
)

func TestStaticTokenValidate(t *testing.T) {
	testlog.Start(t)
	tests := []struct {
		name    string
		stored  StaticToken
		input   string
		wantErr error
	}{
		{name: "empty token denied", stored: "", input: "", wantErr: ErrUnauthorized},
		{name: "mismatched token denied", stored: "abc", input: "xyz", wantErr: ErrUnauthorized},
		{name: "matching token accepted", stored: "abc", input: "abc", wantErr: nil},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.stored.Validate(tc.input)
			if !errors.Is(err, tc.wantErr) {
				t.Fatalf("validate: got %v want %v", err, tc.wantErr)
			}
		})
	}
}

func TestBearerToken(t *testing.T) {
	testlog.Start(t)
	cases := map[string]string{
		"Bearer abc":   "abc",
		"bearer  abc ": "abc",
		"Basic abc":    "",
		"Bearer":       "",
		"":             "",
	}
	for header, want := range cases {
		got, ok := BearerToken(header)
		if got != want || ok != (want != "") {
			t.Fatalf("BearerToken(%q): got %q,%v want %q", header, got, ok, want)
		}
	}
}

func TestRequire(t *testing.T) {
	testlog.Start(t)
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.POST("/open", Require(nil), func(c *gin.Context) { c.Status(http.StatusNoContent) })
	r.POST("/locked", Require(StaticToken("s3cret")), func(c *gin.Context) { c.Status(http.StatusNoContent) })

	cases := []struct {
		path   string
		header string
		want   int
	}{
		{"/open", "", http.StatusNoContent},
		{"/locked", "", http.StatusUnauthorized},
		{"/locked", "Bearer wrong", http.StatusUnauthorized},
		{"/locked", "Bearer s3cret", http.StatusNoContent},
	}
	for _, tc := range cases {
		req := httptest.NewRequest(http.MethodPost, tc.path, nil)
		if tc.header != "" {
			req.Header.Set("Authorization", tc.header)
		}
		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, req)
		if rec.Code != tc.want {
			t.Fatalf("%s %q: got %d want %d", tc.path, tc.header, rec.Code, tc.want)
		}
	}
}
