package client

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/dmitrijs2005/authsession/internal/api"
	"github.com/dmitrijs2005/authsession/internal/common"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
)

type GRPCClient struct {
	endpointURL string
	conn        *grpc.ClientConn
	client      api.SessionServiceClient
	store       tokenStore

	mu     sync.Mutex
	tokens Tokens
}

func withAccessToken(ctx context.Context, token string) context.Context {
	md, _ := metadata.FromOutgoingContext(ctx)
	md = md.Copy()
	if md == nil {
		md = metadata.MD{}
	}
	md.Delete(common.AccessTokenHeaderName)
	if token != "" {
		md.Set(common.AccessTokenHeaderName, token)
	}

	return metadata.NewOutgoingContext(ctx, md)
}

func (s *GRPCClient) current() Tokens {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tokens
}

func (s *GRPCClient) setTokens(ctx context.Context, t Tokens) error {
	s.mu.Lock()
	s.tokens = t
	s.mu.Unlock()
	return s.store.Save(ctx, t)
}

func (s *GRPCClient) clearTokens(ctx context.Context) error {
	s.mu.Lock()
	s.tokens = Tokens{}
	s.mu.Unlock()
	return s.store.Clear(ctx)
}

func (s *GRPCClient) accessTokenInterceptor(
	ctx context.Context,
	method string,
	req, reply interface{},
	cc *grpc.ClientConn,
	invoker grpc.UnaryInvoker,
	opts ...grpc.CallOption,
) error {

	tokens := s.current()
	err := invoker(withAccessToken(ctx, tokens.AccessToken), method, req, reply, cc, opts...)
	if err == nil || method == api.MethodRefresh {
		return err
	}

	st, ok := status.FromError(err)
	if !ok || st.Code() != codes.Unauthenticated || st.Message() != common.ErrTokenExpired.Error() {
		return err
	}
	if tokens.RefreshToken == "" {
		return err
	}

	if rerr := s.refresh(ctx, tokens); rerr != nil {
		return rerr
	}

	// tokens refreshed, retry once with the new access token
	return invoker(withAccessToken(ctx, s.current().AccessToken), method, req, reply, cc, opts...)
}

func (s *GRPCClient) refresh(ctx context.Context, tokens Tokens) error {
	resp, err := s.client.Refresh(ctx, &api.RefreshRequest{RefreshToken: tokens.RefreshToken})
	if err != nil {
		if status.Code(err) == codes.Unauthenticated {
			_ = s.clearTokens(ctx)
			return ErrSessionExpired
		}
		return s.mapError(err)
	}

	return s.setTokens(ctx, Tokens{
		Username:     tokens.Username,
		AccessToken:  resp.AccessToken,
		RefreshToken: resp.RefreshToken,
	})
}

// NewGRPCClient connects to endpointURL and loads any previously saved
// session from store. Extra dial options are appended to the defaults.
func NewGRPCClient(ctx context.Context, endpointURL string, store tokenStore, opts ...grpc.DialOption) (*GRPCClient, error) {
	tokens, err := store.Load(ctx)
	if err != nil {
		return nil, err
	}

	c := &GRPCClient{endpointURL: endpointURL, store: store, tokens: tokens}

	dialOpts := append([]grpc.DialOption{
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithUnaryInterceptor(c.accessTokenInterceptor),
	}, opts...)

	conn, err := grpc.NewClient(endpointURL, dialOpts...)
	if err != nil {
		return nil, err
	}
	c.conn = conn
	c.client = api.NewSessionServiceClient(conn)
	return c, nil
}

func (s *GRPCClient) Close() error {
	return s.conn.Close()
}

// Username returns the user of the stored session, or "" when logged out.
func (s *GRPCClient) Username() string {
	return s.current().Username
}

func (s *GRPCClient) requireSession() error {
	if s.current().RefreshToken == "" {
		return ErrNotLoggedIn
	}
	return nil
}

func (s *GRPCClient) Ping(ctx context.Context) error {
	resp, err := s.client.Ping(ctx, &api.PingRequest{})
	if err != nil {
		return s.mapError(err)
	}
	if resp.Status != "OK" {
		return ErrUnavailable
	}
	return nil
}

func (s *GRPCClient) Register(ctx context.Context, username, email string, password []byte) (int64, error) {
	resp, err := s.client.Register(ctx, &api.RegisterRequest{Username: username, Email: email, Password: string(password)})
	if err != nil {
		return 0, s.mapError(err)
	}
	return resp.UserID, nil
}

func (s *GRPCClient) Login(ctx context.Context, username string, password []byte, deviceInfo *string) (*api.AuthResponse, error) {
	resp, err := s.client.Login(ctx, &api.LoginRequest{Username: username, Password: string(password), DeviceInfo: deviceInfo})
	if err != nil {
		return nil, s.mapError(err)
	}

	if err := s.setTokens(ctx, Tokens{Username: resp.Username, AccessToken: resp.AccessToken, RefreshToken: resp.RefreshToken}); err != nil {
		return nil, err
	}
	return resp, nil
}

// Refresh exchanges the stored refresh token for a new access token.
func (s *GRPCClient) Refresh(ctx context.Context) error {
	if err := s.requireSession(); err != nil {
		return err
	}
	return s.refresh(ctx, s.current())
}

// Logout ends the stored session on the server and forgets it locally.
func (s *GRPCClient) Logout(ctx context.Context) error {
	if err := s.requireSession(); err != nil {
		return err
	}
	if _, err := s.client.Logout(ctx, &api.LogoutRequest{RefreshToken: s.current().RefreshToken}); err != nil {
		return s.mapError(err)
	}
	return s.clearTokens(ctx)
}

// LogoutAll ends every session of the current user, this one included.
func (s *GRPCClient) LogoutAll(ctx context.Context) error {
	if err := s.requireSession(); err != nil {
		return err
	}
	if _, err := s.client.LogoutAll(ctx, &api.LogoutAllRequest{}); err != nil {
		return s.mapError(err)
	}
	return s.clearTokens(ctx)
}

func (s *GRPCClient) Sessions(ctx context.Context) ([]api.Session, error) {
	if err := s.requireSession(); err != nil {
		return nil, err
	}
	resp, err := s.client.ListSessions(ctx, &api.ListSessionsRequest{})
	if err != nil {
		return nil, s.mapError(err)
	}
	return resp.Sessions, nil
}

// CurrentToken is the refresh token of this CLI's session.
func (s *GRPCClient) CurrentToken() string {
	return s.current().RefreshToken
}

func (s *GRPCClient) Revoke(ctx context.Context, token string) error {
	if err := s.requireSession(); err != nil {
		return err
	}
	if _, err := s.client.RevokeSession(ctx, &api.RevokeSessionRequest{Token: token}); err != nil {
		return s.mapError(err)
	}
	if token == s.current().RefreshToken {
		return s.clearTokens(ctx)
	}
	return nil
}

func (s *GRPCClient) Export(ctx context.Context) (*api.ExportSessionsResponse, error) {
	if err := s.requireSession(); err != nil {
		return nil, err
	}
	resp, err := s.client.ExportSessions(ctx, &api.ExportSessionsRequest{})
	if err != nil {
		return nil, s.mapError(err)
	}
	return resp, nil
}

func (s *GRPCClient) mapError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrSessionExpired) {
		return err
	}
	st, _ := status.FromError(err)
	switch st.Code() {
	case codes.Unauthenticated, codes.PermissionDenied:
		return fmt.Errorf("%w: %s", ErrUnauthorized, st.Message())
	case codes.Unavailable, codes.DeadlineExceeded:
		return ErrUnavailable
	case codes.AlreadyExists:
		return ErrAlreadyExists
	case codes.NotFound:
		return ErrNotFound
	case codes.InvalidArgument:
		return fmt.Errorf("%w: %s", ErrInvalidInput, st.Message())
	case codes.FailedPrecondition:
		return ErrExportDisabled
	default:
		return fmt.Errorf("rpc error: %w", err)
	}
}
