// Package feed streams focused-ticker quotes to console clients over gRPC.
// Messages are google.protobuf.Struct so no generated code is needed.
package feed

import (
	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/structpb"
)

const (
	// ServiceName is the fully qualified gRPC service name.
	ServiceName = "vinsight.QuoteFeed"
	// StreamMethod is the full method name of the quote stream.
	StreamMethod = "/" + ServiceName + "/Stream"
)

// QuoteFeedServer is the server API for the QuoteFeed service.
type QuoteFeedServer interface {
	Stream(req *structpb.Struct, stream grpc.ServerStreamingServer[structpb.Struct]) error
}

// RegisterQuoteFeedServer registers srv on s.
func RegisterQuoteFeedServer(s grpc.ServiceRegistrar, srv QuoteFeedServer) {
	s.RegisterService(&quoteFeedDesc, srv)
}

func streamHandler(srv any, stream grpc.ServerStream) error {
	req := new(structpb.Struct)
	if err := stream.RecvMsg(req); err != nil {
		return err
	}
	return srv.(QuoteFeedServer).Stream(req, &grpc.GenericServerStream[structpb.Struct, structpb.Struct]{ServerStream: stream})
}

var quoteFeedDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*QuoteFeedServer)(nil),
	Methods:     []grpc.MethodDesc{},
	Streams: []grpc.StreamDesc{
		{
			StreamName:    "Stream",
			Handler:       streamHandler,
			ServerStreams: true,
		},
	},
	Metadata: "vinsight/feed.proto",
}
