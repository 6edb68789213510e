package handler

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/structpb"
)

// ServiceName is the fully qualified gRPC service name.
const ServiceName = "stepup.challenge.v1.ChallengeService"

// Full method names, usable with grpc.ClientConn.Invoke.
const (
	MethodStart      = "/" + ServiceName + "/Start"
	MethodGetState   = "/" + ServiceName + "/GetState"
	MethodSubmitCode = "/" + ServiceName + "/SubmitCode"
	MethodSubmitPIN  = "/" + ServiceName + "/SubmitPIN"
	MethodResend     = "/" + ServiceName + "/Resend"
	MethodCancel     = "/" + ServiceName + "/Cancel"
	MethodRetry      = "/" + ServiceName + "/Retry"
)

// ChallengeServiceServer is the server API for ChallengeService. Requests and responses
// are google.protobuf.Struct messages.
type ChallengeServiceServer interface {
	Start(context.Context, *structpb.Struct) (*structpb.Struct, error)
	GetState(context.Context, *structpb.Struct) (*structpb.Struct, error)
	SubmitCode(context.Context, *structpb.Struct) (*structpb.Struct, error)
	SubmitPIN(context.Context, *structpb.Struct) (*structpb.Struct, error)
	Resend(context.Context, *structpb.Struct) (*structpb.Struct, error)
	Cancel(context.Context, *structpb.Struct) (*structpb.Struct, error)
	Retry(context.Context, *structpb.Struct) (*structpb.Struct, error)
}

type unaryCall func(ChallengeServiceServer, context.Context, *structpb.Struct) (*structpb.Struct, error)

func unaryHandler(fullMethod string, call unaryCall) grpc.MethodHandler {
	return func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
		in := new(structpb.Struct)
		if err := dec(in); err != nil {
			return nil, err
		}
		if interceptor == nil {
			return call(srv.(ChallengeServiceServer), ctx, in)
		}
		info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod}
		handler := func(ctx context.Context, req any) (any, error) {
			return call(srv.(ChallengeServiceServer), ctx, req.(*structpb.Struct))
		}
		return interceptor(ctx, in, info, handler)
	}
}

// ChallengeServiceDesc describes ChallengeService for grpc.Server.RegisterService.
var ChallengeServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*ChallengeServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Start", Handler: unaryHandler(MethodStart, ChallengeServiceServer.Start)},
		{MethodName: "GetState", Handler: unaryHandler(MethodGetState, ChallengeServiceServer.GetState)},
		{MethodName: "SubmitCode", Handler: unaryHandler(MethodSubmitCode, ChallengeServiceServer.SubmitCode)},
		{MethodName: "SubmitPIN", Handler: unaryHandler(MethodSubmitPIN, ChallengeServiceServer.SubmitPIN)},
		{MethodName: "Resend", Handler: unaryHandler(MethodResend, ChallengeServiceServer.Resend)},
		{MethodName: "Cancel", Handler: unaryHandler(MethodCancel, ChallengeServiceServer.Cancel)},
		{MethodName: "Retry", Handler: unaryHandler(MethodRetry, ChallengeServiceServer.Retry)},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "stepup/challenge/v1/challenge.proto",
}

// RegisterChallengeServiceServer registers srv with s.
func RegisterChallengeServiceServer(s grpc.ServiceRegistrar, srv ChallengeServiceServer) {
	s.RegisterService(&ChallengeServiceDesc, srv)
}
