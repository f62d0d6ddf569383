package api

import (
	"context"

	"google.golang.org/grpc"
)

const ServiceName = "authsession.v1.SessionService"

// Full method names, as seen by interceptors.
const (
	MethodPing           = "/" + ServiceName + "/Ping"
	MethodRegister       = "/" + ServiceName + "/Register"
	MethodLogin          = "/" + ServiceName + "/Login"
	MethodRefresh        = "/" + ServiceName + "/Refresh"
	MethodLogout         = "/" + ServiceName + "/Logout"
	MethodLogoutAll      = "/" + ServiceName + "/LogoutAll"
	MethodListSessions   = "/" + ServiceName + "/ListSessions"
	MethodRevokeSession  = "/" + ServiceName + "/RevokeSession"
	MethodExportSessions = "/" + ServiceName + "/ExportSessions"
)

// SessionServiceServer is implemented by the server.
type SessionServiceServer interface {
	Ping(context.Context, *PingRequest) (*PingResponse, error)
	Register(context.Context, *RegisterRequest) (*RegisterResponse, error)
	Login(context.Context, *LoginRequest) (*AuthResponse, error)
	Refresh(context.Context, *RefreshRequest) (*AuthResponse, error)
	Logout(context.Context, *LogoutRequest) (*Empty, error)
	LogoutAll(context.Context, *LogoutAllRequest) (*Empty, error)
	ListSessions(context.Context, *ListSessionsRequest) (*ListSessionsResponse, error)
	RevokeSession(context.Context, *RevokeSessionRequest) (*Empty, error)
	ExportSessions(context.Context, *ExportSessionsRequest) (*ExportSessionsResponse, error)
}

func unaryHandler[Req, Resp any](fullMethod string, call func(SessionServiceServer, context.Context, *Req) (*Resp, error)) grpc.MethodHandler {
	return func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
		in := new(Req)
		if err := dec(in); err != nil {
			return nil, err
		}
		if interceptor == nil {
			return call(srv.(SessionServiceServer), ctx, in)
		}
		info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod}
		handler := func(ctx context.Context, req any) (any, error) {
			return call(srv.(SessionServiceServer), ctx, req.(*Req))
		}
		return interceptor(ctx, in, info, handler)
	}
}

var SessionServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*SessionServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Ping", Handler: unaryHandler(MethodPing, SessionServiceServer.Ping)},
		{MethodName: "Register", Handler: unaryHandler(MethodRegister, SessionServiceServer.Register)},
		{MethodName: "Login", Handler: unaryHandler(MethodLogin, SessionServiceServer.Login)},
		{MethodName: "Refresh", Handler: unaryHandler(MethodRefresh, SessionServiceServer.Refresh)},
		{MethodName: "Logout", Handler: unaryHandler(MethodLogout, SessionServiceServer.Logout)},
		{MethodName: "LogoutAll", Handler: unaryHandler(MethodLogoutAll, SessionServiceServer.LogoutAll)},
		{MethodName: "ListSessions", Handler: unaryHandler(MethodListSessions, SessionServiceServer.ListSessions)},
		{MethodName: "RevokeSession", Handler: unaryHandler(MethodRevokeSession, SessionServiceServer.RevokeSession)},
		{MethodName: "ExportSessions", Handler: unaryHandler(MethodExportSessions, SessionServiceServer.ExportSessions)},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "authsession/v1/session",
}

func RegisterSessionServiceServer(s grpc.ServiceRegistrar, srv SessionServiceServer) {
	s.RegisterService(&SessionServiceDesc, srv)
}
