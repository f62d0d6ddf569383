package grpc

import (
	"context"
	"errors"
	"fmt"
	"net"
	"testing"
	"time"

	"github.com/dmitrijs2005/authsession/internal/api"
	"github.com/dmitrijs2005/authsession/internal/common"
	"github.com/dmitrijs2005/authsession/internal/logging"
	"github.com/dmitrijs2005/authsession/internal/server/auth"
	"github.com/dmitrijs2005/authsession/internal/server/models"
	"github.com/dmitrijs2005/authsession/internal/server/repositories/refreshtokens"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"
)

type fakeUsers struct {
	registerErr error
	loginErr    error
	refreshErr  error
	logoutErr   error
	sessions    []*models.RefreshToken

	loggedOutAll int64
	revoked      string
	revokedBy    int64
}

func (f *fakeUsers) Register(ctx context.Context, username, email, password string, roles []string) (*models.User, error) {
	if f.registerErr != nil {
		return nil, f.registerErr
	}
	return &models.User{ID: 7, Username: username, Email: email, Roles: roles}, nil
}

func (f *fakeUsers) Login(ctx context.Context, username, password string, deviceInfo *string) (*models.AuthResponse, error) {
	if f.loginErr != nil {
		return nil, f.loginErr
	}
	return &models.AuthResponse{AccessToken: "a", RefreshToken: "r", TokenType: common.TokenTypeBearer, UserID: 7, Username: username}, nil
}

func (f *fakeUsers) Refresh(ctx context.Context, refreshToken string) (*models.AuthResponse, error) {
	if f.refreshErr != nil {
		return nil, f.refreshErr
	}
	return &models.AuthResponse{AccessToken: "a2", RefreshToken: refreshToken, TokenType: common.TokenTypeBearer, UserID: 7}, nil
}

func (f *fakeUsers) Logout(ctx context.Context, refreshToken string) error {
	return f.logoutErr
}

func (f *fakeUsers) LogoutAll(ctx context.Context, userID int64) error {
	f.loggedOutAll = userID
	return f.logoutErr
}

func (f *fakeUsers) Sessions(ctx context.Context, userID int64) ([]*models.RefreshToken, error) {
	return f.sessions, nil
}

func (f *fakeUsers) RevokeSession(ctx context.Context, userID int64, token string) error {
	f.revoked, f.revokedBy = token, userID
	return f.logoutErr
}

type fakeExporter struct {
	err error
}

func (f *fakeExporter) ExportSessions(ctx context.Context, userID int64) (string, string, error) {
	if f.err != nil {
		return "", "", f.err
	}
	return "http://s3/exports/x.json", fmt.Sprintf("exports/%d.json", userID), nil
}

func startBufServer(t *testing.T, users *fakeUsers, ex *fakeExporter) api.SessionServiceClient {
	t.Helper()

	lis := bufconn.Listen(1 << 20)
	s := NewGRPCServer("bufnet", logging.Nop{}, users, ex, testSecret)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = s.Serve(ctx, lis)
	}()

	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return lis.DialContext(ctx)
		}),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}

	t.Cleanup(func() {
		_ = conn.Close()
		cancel()
		<-done
	})

	return api.NewSessionServiceClient(conn)
}

func authed(t *testing.T, userID int64) context.Context {
	t.Helper()
	tok, err := auth.GenerateToken(userID, "alice", []string{"USER"}, []byte(testSecret), time.Minute)
	if err != nil {
		t.Fatalf("GenerateToken: %v", err)
	}
	return metadata.AppendToOutgoingContext(context.Background(), common.AccessTokenHeaderName, tok)
}

func TestPing(t *testing.T) {
	c := startBufServer(t, &fakeUsers{}, &fakeExporter{})

	var header metadata.MD
	resp, err := c.Ping(context.Background(), &api.PingRequest{}, grpc.Header(&header))
	if err != nil {
		t.Fatalf("Ping: %v", err)
	}
	if resp.Status != "OK" {
		t.Fatalf("status = %q", resp.Status)
	}
	if len(header.Get(RequestIDHeader)) != 1 {
		t.Fatalf("missing %s header: %v", RequestIDHeader, header)
	}
}

func TestRegisterAndLogin(t *testing.T) {
	c := startBufServer(t, &fakeUsers{}, &fakeExporter{})

	reg, err := c.Register(context.Background(), &api.RegisterRequest{Username: "alice", Email: "a@x", Password: "password1"})
	if err != nil {
		t.Fatalf("Register: %v", err)
	}
	if reg.UserID != 7 || reg.Username != "alice" {
		t.Fatalf("unexpected register response: %+v", reg)
	}

	device := "laptop"
	resp, err := c.Login(context.Background(), &api.LoginRequest{Username: "alice", Password: "password1", DeviceInfo: &device})
	if err != nil {
		t.Fatalf("Login: %v", err)
	}
	if resp.AccessToken != "a" || resp.RefreshToken != "r" || resp.TokenType != common.TokenTypeBearer {
		t.Fatalf("unexpected auth response: %+v", resp)
	}
}

func TestErrorMapping(t *testing.T) {
	partial := &refreshtokens.PartialDeleteError{Deleted: 1, Failed: 1, Err: errors.New("boom")}

	tests := []struct {
		name string
		err  error
		want codes.Code
	}{
		{"validation", fmt.Errorf("%w: password too short", common.ErrorValidation), codes.InvalidArgument},
		{"exists", common.ErrorAlreadyExists, codes.AlreadyExists},
		{"credentials", common.ErrorUnauthorized, codes.Unauthenticated},
		{"refresh expired", common.ErrRefreshTokenExpired, codes.Unauthenticated},
		{"not found", common.ErrorNotFound, codes.NotFound},
		{"disabled", common.ErrorDisabled, codes.FailedPrecondition},
		{"partial", partial, codes.Unavailable},
		{"storage", fmt.Errorf("%w: dial tcp", common.ErrStorageUnavailable), codes.Unavailable},
		{"other", errors.New("boom"), codes.Internal},
	}

	s := newTestServer()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := status.Code(s.toStatus(context.Background(), tt.err)); got != tt.want {
				t.Fatalf("code = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestRefresh_ExpiredSession(t *testing.T) {
	c := startBufServer(t, &fakeUsers{refreshErr: common.ErrRefreshTokenExpired}, &fakeExporter{})

	_, err := c.Refresh(context.Background(), &api.RefreshRequest{RefreshToken: "gone"})
	st, _ := status.FromError(err)
	if st.Code() != codes.Unauthenticated {
		t.Fatalf("code = %v, want Unauthenticated", st.Code())
	}
}

func TestRefresh_EmptyToken(t *testing.T) {
	c := startBufServer(t, &fakeUsers{}, &fakeExporter{})

	_, err := c.Refresh(context.Background(), &api.RefreshRequest{})
	if status.Code(err) != codes.InvalidArgument {
		t.Fatalf("code = %v, want InvalidArgument", status.Code(err))
	}
}

func TestProtectedMethods_RequireToken(t *testing.T) {
	c := startBufServer(t, &fakeUsers{}, &fakeExporter{})
	ctx := context.Background()

	calls := map[string]func() error{
		"LogoutAll": func() error { _, err := c.LogoutAll(ctx, &api.LogoutAllRequest{}); return err },
		"ListSessions": func() error {
			_, err := c.ListSessions(ctx, &api.ListSessionsRequest{})
			return err
		},
		"RevokeSession": func() error {
			_, err := c.RevokeSession(ctx, &api.RevokeSessionRequest{Token: "x"})
			return err
		},
		"ExportSessions": func() error {
			_, err := c.ExportSessions(ctx, &api.ExportSessionsRequest{})
			return err
		},
	}
	for name, call := range calls {
		if code := status.Code(call()); code != codes.Unauthenticated {
			t.Fatalf("%s: code = %v, want Unauthenticated", name, code)
		}
	}
}

func TestListSessions(t *testing.T) {
	device := "phone"
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	users := &fakeUsers{sessions: []*models.RefreshToken{
		{Token: "t1", UserID: 42, DeviceInfo: &device, CreatedAt: now, LastUsedAt: now, TTL: 60},
		{Token: "t2", UserID: 42, CreatedAt: now, LastUsedAt: now, TTL: 60},
	}}
	c := startBufServer(t, users, &fakeExporter{})

	resp, err := c.ListSessions(authed(t, 42), &api.ListSessionsRequest{})
	if err != nil {
		t.Fatalf("ListSessions: %v", err)
	}
	if len(resp.Sessions) != 2 {
		t.Fatalf("got %d sessions", len(resp.Sessions))
	}
	if resp.Sessions[0].DeviceInfo == nil || *resp.Sessions[0].DeviceInfo != "phone" {
		t.Fatalf("device info lost: %+v", resp.Sessions[0])
	}
	if resp.Sessions[1].DeviceInfo != nil {
		t.Fatalf("expected nil device info, got %q", *resp.Sessions[1].DeviceInfo)
	}
	if !resp.Sessions[0].CreatedAt.Equal(now) {
		t.Fatalf("created at = %v", resp.Sessions[0].CreatedAt)
	}
}

func TestLogoutAllAndRevoke_UseCallerIdentity(t *testing.T) {
	users := &fakeUsers{}
	c := startBufServer(t, users, &fakeExporter{})
	ctx := authed(t, 42)

	if _, err := c.LogoutAll(ctx, &api.LogoutAllRequest{}); err != nil {
		t.Fatalf("LogoutAll: %v", err)
	}
	if users.loggedOutAll != 42 {
		t.Fatalf("LogoutAll used user %d", users.loggedOutAll)
	}

	if _, err := c.RevokeSession(ctx, &api.RevokeSessionRequest{Token: "tok"}); err != nil {
		t.Fatalf("RevokeSession: %v", err)
	}
	if users.revoked != "tok" || users.revokedBy != 42 {
		t.Fatalf("revoked %q by %d", users.revoked, users.revokedBy)
	}
}

func TestExportSessions(t *testing.T) {
	c := startBufServer(t, &fakeUsers{}, &fakeExporter{})

	resp, err := c.ExportSessions(authed(t, 42), &api.ExportSessionsRequest{})
	if err != nil {
		t.Fatalf("ExportSessions: %v", err)
	}
	if resp.Key != "exports/42.json" || resp.URL == "" {
		t.Fatalf("unexpected response: %+v", resp)
	}
}

func TestExportSessions_Disabled(t *testing.T) {
	c := startBufServer(t, &fakeUsers{}, &fakeExporter{err: common.ErrorDisabled})

	_, err := c.ExportSessions(authed(t, 42), &api.ExportSessionsRequest{})
	if status.Code(err) != codes.FailedPrecondition {
		t.Fatalf("code = %v, want FailedPrecondition", status.Code(err))
	}
}
