package api

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/structpb"
)

// ServiceName is the fully qualified gRPC service name.
const ServiceName = "antenna.coverage.v1.CoverageService"

const (
	ComputeCoverageMethod = "/" + ServiceName + "/ComputeCoverage"
	StreamCoverageMethod  = "/" + ServiceName + "/StreamCoverage"
	ListSitesMethod       = "/" + ServiceName + "/ListSites"
)

// CoverageServiceServer is the server API for CoverageService. Every
// message is a google.protobuf.Struct shaped by the types in messages.go.
type CoverageServiceServer interface {
	ComputeCoverage(context.Context, *structpb.Struct) (*structpb.Struct, error)
	StreamCoverage(*structpb.Struct, CoverageStreamServer) error
	ListSites(context.Context, *structpb.Struct) (*structpb.Struct, error)
}

// CoverageStreamServer is the server side of StreamCoverage.
type CoverageStreamServer interface {
	Send(*structpb.Struct) error
	grpc.ServerStream
}

type coverageStreamServer struct {
	grpc.ServerStream
}

func (s *coverageStreamServer) Send(m *structpb.Struct) error {
	return s.ServerStream.SendMsg(m)
}

// CoverageServiceDesc describes CoverageService for grpc.Server.RegisterService.
var CoverageServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*CoverageServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "ComputeCoverage", Handler: computeCoverageHandler},
		{MethodName: "ListSites", Handler: listSitesHandler},
	},
	Streams: []grpc.StreamDesc{
		{StreamName: "StreamCoverage", Handler: streamCoverageHandler, ServerStreams: true},
	},
	Metadata: "antenna/coverage/v1/coverage.proto",
}

// RegisterCoverageServiceServer registers srv on s.
func RegisterCoverageServiceServer(s grpc.ServiceRegistrar, srv CoverageServiceServer) {
	s.RegisterService(&CoverageServiceDesc, srv)
}

func computeCoverageHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(structpb.Struct)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(CoverageServiceServer).ComputeCoverage(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: ComputeCoverageMethod}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(CoverageServiceServer).ComputeCoverage(ctx, req.(*structpb.Struct))
	}
	return interceptor(ctx, in, info, handler)
}

func listSitesHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(structpb.Struct)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(CoverageServiceServer).ListSites(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: ListSitesMethod}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(CoverageServiceServer).ListSites(ctx, req.(*structpb.Struct))
	}
	return interceptor(ctx, in, info, handler)
}

func streamCoverageHandler(srv interface{}, stream grpc.ServerStream) error {
	in := new(structpb.Struct)
	if err := stream.RecvMsg(in); err != nil {
		return err
	}
	return srv.(CoverageServiceServer).StreamCoverage(in, &coverageStreamServer{stream})
}
