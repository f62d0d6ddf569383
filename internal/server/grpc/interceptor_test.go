package grpc

import (
	"context"
	"testing"
	"time"

	"github.com/dmitrijs2005/authsession/internal/api"
	"github.com/dmitrijs2005/authsession/internal/common"
	"github.com/dmitrijs2005/authsession/internal/logging"
	"github.com/dmitrijs2005/authsession/internal/server/auth"
	"github.com/oklog/ulid/v2"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
)

const testSecret = "interceptor-secret"

func newTestServer() *GRPCServer {
	return NewGRPCServer(":0", logging.Nop{}, &fakeUsers{}, &fakeExporter{}, testSecret)
}

func withToken(tok string) context.Context {
	return metadata.NewIncomingContext(context.Background(), metadata.Pairs(common.AccessTokenHeaderName, tok))
}

func TestAccessTokenInterceptor_PublicMethodSkipsCheck(t *testing.T) {
	s := newTestServer()
	called := false
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		called = true
		return "ok", nil
	}

	_, err := s.accessTokenInterceptor(context.Background(), nil, &grpc.UnaryServerInfo{FullMethod: api.MethodLogin}, handler)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !called {
		t.Fatal("handler was not called")
	}
}

func TestAccessTokenInterceptor_Rejects(t *testing.T) {
	expired, err := auth.GenerateToken(1, "alice", nil, []byte(testSecret), -time.Minute)
	if err != nil {
		t.Fatalf("GenerateToken: %v", err)
	}
	foreign, err := auth.GenerateToken(1, "alice", nil, []byte("other-secret"), time.Minute)
	if err != nil {
		t.Fatalf("GenerateToken: %v", err)
	}

	tests := []struct {
		name    string
		ctx     context.Context
		wantMsg string
	}{
		{"no metadata", context.Background(), "missing token"},
		{"empty token", withToken(""), "missing token"},
		{"expired", withToken(expired), "token expired"},
		{"wrong secret", withToken(foreign), "invalid token"},
		{"garbage", withToken("not-a-jwt"), "invalid token"},
	}

	s := newTestServer()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			handler := func(ctx context.Context, req interface{}) (interface{}, error) {
				t.Fatal("handler must not be called")
				return nil, nil
			}
			_, err := s.accessTokenInterceptor(tt.ctx, nil, &grpc.UnaryServerInfo{FullMethod: api.MethodListSessions}, handler)
			st, _ := status.FromError(err)
			if st.Code() != codes.Unauthenticated {
				t.Fatalf("code = %v, want Unauthenticated", st.Code())
			}
			if st.Message() != tt.wantMsg {
				t.Fatalf("message = %q, want %q", st.Message(), tt.wantMsg)
			}
		})
	}
}

func TestAccessTokenInterceptor_PutsClaimsInContext(t *testing.T) {
	tok, err := auth.GenerateToken(42, "alice", []string{"USER"}, []byte(testSecret), time.Minute)
	if err != nil {
		t.Fatalf("GenerateToken: %v", err)
	}

	s := newTestServer()
	var got *auth.Claims
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		got, _ = claimsFromContext(ctx)
		return nil, nil
	}

	if _, err := s.accessTokenInterceptor(withToken(tok), nil, &grpc.UnaryServerInfo{FullMethod: api.MethodRevokeSession}, handler); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got == nil || got.UserID != 42 || got.Username != "alice" {
		t.Fatalf("claims = %+v", got)
	}
}

func TestNewRequestID_IsULID(t *testing.T) {
	id := newRequestID()
	if _, err := ulid.Parse(id); err != nil {
		t.Fatalf("request id %q is not a ULID: %v", id, err)
	}
}

func TestLoggingInterceptor_PassesThrough(t *testing.T) {
	s := newTestServer()
	want := status.Error(codes.NotFound, "nope")
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return "resp", want
	}

	resp, err := s.loggingInterceptor(context.Background(), nil, &grpc.UnaryServerInfo{FullMethod: api.MethodPing}, handler)
	if resp != "resp" || err != want {
		t.Fatalf("got (%v, %v)", resp, err)
	}
}
