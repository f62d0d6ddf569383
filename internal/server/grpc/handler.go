package grpc

import (
	"context"
	"errors"

	"github.com/dmitrijs2005/authsession/internal/api"
	"github.com/dmitrijs2005/authsession/internal/common"
	"github.com/dmitrijs2005/authsession/internal/server/models"
	"github.com/dmitrijs2005/authsession/internal/server/repositories/refreshtokens"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// toStatus maps service errors onto gRPC codes. Unknown errors are logged and
// hidden behind codes.Internal.
func (s *GRPCServer) toStatus(ctx context.Context, err error) error {
	var partial *refreshtokens.PartialDeleteError

	switch {
	case errors.Is(err, common.ErrorValidation):
		return status.Error(codes.InvalidArgument, err.Error())
	case errors.Is(err, common.ErrorAlreadyExists):
		return status.Error(codes.AlreadyExists, "already exists")
	case errors.Is(err, common.ErrorUnauthorized):
		return status.Error(codes.Unauthenticated, "invalid credentials")
	case errors.Is(err, common.ErrRefreshTokenExpired):
		return status.Error(codes.Unauthenticated, common.ErrRefreshTokenExpired.Error())
	case errors.Is(err, common.ErrorNotFound):
		return status.Error(codes.NotFound, "not found")
	case errors.Is(err, common.ErrorDisabled):
		return status.Error(codes.FailedPrecondition, err.Error())
	case errors.As(err, &partial):
		s.logger.Warn(ctx, "partial delete", "deleted", partial.Deleted, "failed", partial.Failed, "error", partial.Err)
		return status.Errorf(codes.Unavailable, "partially completed: %d deleted, %d failed", partial.Deleted, partial.Failed)
	case errors.Is(err, common.ErrStorageUnavailable):
		s.logger.Error(ctx, "storage unavailable", "error", err)
		return status.Error(codes.Unavailable, "storage unavailable")
	default:
		s.logger.Error(ctx, err.Error())
		return status.Error(codes.Internal, "internal error")
	}
}

func authResponse(r *models.AuthResponse) *api.AuthResponse {
	return &api.AuthResponse{
		AccessToken:  r.AccessToken,
		RefreshToken: r.RefreshToken,
		TokenType:    r.TokenType,
		UserID:       r.UserID,
		Username:     r.Username,
		Email:        r.Email,
		Roles:        r.Roles,
	}
}

func (s *GRPCServer) currentUserID(ctx context.Context) (int64, error) {
	claims, ok := claimsFromContext(ctx)
	if !ok {
		return 0, status.Error(codes.Unauthenticated, "missing token")
	}
	return claims.UserID, nil
}

func (s *GRPCServer) Ping(ctx context.Context, req *api.PingRequest) (*api.PingResponse, error) {
	return &api.PingResponse{Status: "OK"}, nil
}

func (s *GRPCServer) Register(ctx context.Context, req *api.RegisterRequest) (*api.RegisterResponse, error) {
	s.logger.Info(ctx, "Registration request", "username", req.Username)

	user, err := s.users.Register(ctx, req.Username, req.Email, req.Password, req.Roles)
	if err != nil {
		return nil, s.toStatus(ctx, err)
	}

	return &api.RegisterResponse{UserID: user.ID, Username: user.Username}, nil
}

func (s *GRPCServer) Login(ctx context.Context, req *api.LoginRequest) (*api.AuthResponse, error) {
	resp, err := s.users.Login(ctx, req.Username, req.Password, req.DeviceInfo)
	if err != nil {
		return nil, s.toStatus(ctx, err)
	}
	return authResponse(resp), nil
}

func (s *GRPCServer) Refresh(ctx context.Context, req *api.RefreshRequest) (*api.AuthResponse, error) {
	if req.RefreshToken == "" {
		return nil, status.Error(codes.InvalidArgument, "refresh token is required")
	}
	resp, err := s.users.Refresh(ctx, req.RefreshToken)
	if err != nil {
		return nil, s.toStatus(ctx, err)
	}
	return authResponse(resp), nil
}

func (s *GRPCServer) Logout(ctx context.Context, req *api.LogoutRequest) (*api.Empty, error) {
	if req.RefreshToken == "" {
		return nil, status.Error(codes.InvalidArgument, "refresh token is required")
	}
	if err := s.users.Logout(ctx, req.RefreshToken); err != nil {
		return nil, s.toStatus(ctx, err)
	}
	return &api.Empty{}, nil
}

func (s *GRPCServer) LogoutAll(ctx context.Context, req *api.LogoutAllRequest) (*api.Empty, error) {
	userID, err := s.currentUserID(ctx)
	if err != nil {
		return nil, err
	}
	if err := s.users.LogoutAll(ctx, userID); err != nil {
		return nil, s.toStatus(ctx, err)
	}
	return &api.Empty{}, nil
}

func (s *GRPCServer) ListSessions(ctx context.Context, req *api.ListSessionsRequest) (*api.ListSessionsResponse, error) {
	userID, err := s.currentUserID(ctx)
	if err != nil {
		return nil, err
	}
	list, err := s.users.Sessions(ctx, userID)
	if err != nil {
		return nil, s.toStatus(ctx, err)
	}

	out := &api.ListSessionsResponse{Sessions: make([]api.Session, 0, len(list))}
	for _, rec := range list {
		out.Sessions = append(out.Sessions, api.Session{
			Token:      rec.Token,
			DeviceInfo: rec.DeviceInfo,
			CreatedAt:  rec.CreatedAt,
			LastUsedAt: rec.LastUsedAt,
			TTL:        rec.TTL,
		})
	}
	return out, nil
}

func (s *GRPCServer) RevokeSession(ctx context.Context, req *api.RevokeSessionRequest) (*api.Empty, error) {
	userID, err := s.currentUserID(ctx)
	if err != nil {
		return nil, err
	}
	if req.Token == "" {
		return nil, status.Error(codes.InvalidArgument, "token is required")
	}
	if err := s.users.RevokeSession(ctx, userID, req.Token); err != nil {
		return nil, s.toStatus(ctx, err)
	}
	return &api.Empty{}, nil
}

func (s *GRPCServer) ExportSessions(ctx context.Context, req *api.ExportSessionsRequest) (*api.ExportSessionsResponse, error) {
	userID, err := s.currentUserID(ctx)
	if err != nil {
		return nil, err
	}
	url, key, err := s.exports.ExportSessions(ctx, userID)
	if err != nil {
		return nil, s.toStatus(ctx, err)
	}
	return &api.ExportSessionsResponse{URL: url, Key: key}, nil
}
