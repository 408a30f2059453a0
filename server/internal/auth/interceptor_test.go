package auth

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
)

func passHandler(context.Context, any) (any, error) {
	return "ok", nil
}

func TestAPIKeyInterceptor(t *testing.T) {
	tests := []struct {
		name     string
		mode     string
		key      string
		md       metadata.MD // nil means no incoming metadata at all
		wantCode codes.Code
	}{
		{"mode none passes", "none", "secret", nil, codes.OK},
		{"unconfigured key passes", "apikey", "", nil, codes.OK},
		{"correct key", "apikey", "secret", metadata.Pairs("x-compost-key", "secret"), codes.OK},
		{"wrong key", "apikey", "secret", metadata.Pairs("x-compost-key", "nope"), codes.Unauthenticated},
		{"missing header", "apikey", "secret", metadata.MD{}, codes.Unauthenticated},
		{"no metadata", "apikey", "secret", nil, codes.Unauthenticated},
		{"other header", "apikey", "secret", metadata.Pairs("x-api-key", "secret"), codes.Unauthenticated},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := context.Background()
			if tt.md != nil {
				ctx = metadata.NewIncomingContext(ctx, tt.md)
			}
			i := APIKeyInterceptor(tt.mode, "x-compost-key", tt.key)
			res, err := i(ctx, nil, &grpc.UnaryServerInfo{}, passHandler)
			if code := status.Code(err); code != tt.wantCode {
				t.Fatalf("code: got %v, want %v", code, tt.wantCode)
			}
			if tt.wantCode == codes.OK && res != "ok" {
				t.Errorf("result: got %v, want ok", res)
			}
		})
	}
}

func TestHTTPMiddleware(t *testing.T) {
	next := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})
	h := HTTPMiddleware("apikey", "X-API-Key", "secret", "/api/v1/health")(next)

	tests := []struct {
		name   string
		path   string
		header map[string]string
		want   int
	}{
		{"no key", "/api/v1/piles", nil, http.StatusUnauthorized},
		{"header", "/api/v1/piles", map[string]string{"X-API-Key": "secret"}, http.StatusNoContent},
		{"wrong header", "/api/v1/piles", map[string]string{"X-API-Key": "nope"}, http.StatusUnauthorized},
		{"bearer", "/api/v1/piles", map[string]string{"Authorization": "Bearer secret"}, http.StatusNoContent},
		{"query", "/ws?api_key=secret", nil, http.StatusNoContent},
		{"public path", "/api/v1/health", nil, http.StatusNoContent},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, tt.path, nil)
			for k, v := range tt.header {
				req.Header.Set(k, v)
			}
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)
			if rec.Code != tt.want {
				t.Errorf("status: got %d, want %d", rec.Code, tt.want)
			}
		})
	}
}

func TestHTTPMiddleware_Disabled(t *testing.T) {
	next := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})
	h := HTTPMiddleware("none", "X-API-Key", "secret")(next)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/piles", nil))
	if rec.Code != http.StatusNoContent {
		t.Errorf("status: got %d, want %d", rec.Code, http.StatusNoContent)
	}
}
