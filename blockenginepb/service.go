package blockenginepb

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

const (
	BlockEngineValidator_StreamMempool_FullMethodName    = "/block_engine.BlockEngineValidator/StreamMempool"
	BlockEngineValidator_SubscribeBundles_FullMethodName = "/block_engine.BlockEngineValidator/SubscribeBundles"
)

// BlockEngineValidatorClient is the client API for the BlockEngineValidator
// service.
type BlockEngineValidatorClient interface {
	// StreamMempool forwards the node's pending packets to the block engine.
	StreamMempool(ctx context.Context, opts ...grpc.CallOption) (BlockEngineValidator_StreamMempoolClient, error)
	// SubscribeBundles receives bundles from the block engine until it
	// closes the stream.
	SubscribeBundles(ctx context.Context, in *SubscribeBundlesRequest, opts ...grpc.CallOption) (BlockEngineValidator_SubscribeBundlesClient, error)
}

type blockEngineValidatorClient struct {
	cc grpc.ClientConnInterface
}

// NewBlockEngineValidatorClient returns a client stub that issues calls on cc.
func NewBlockEngineValidatorClient(cc grpc.ClientConnInterface) BlockEngineValidatorClient {
	return &blockEngineValidatorClient{cc}
}

func (c *blockEngineValidatorClient) StreamMempool(ctx context.Context, opts ...grpc.CallOption) (BlockEngineValidator_StreamMempoolClient, error) {
	stream, err := c.cc.NewStream(ctx, &BlockEngineValidator_ServiceDesc.Streams[0], BlockEngineValidator_StreamMempool_FullMethodName, opts...)
	if err != nil {
		return nil, err
	}
	return &blockEngineValidatorStreamMempoolClient{stream}, nil
}

type BlockEngineValidator_StreamMempoolClient interface {
	Send(*MempoolPacket) error
	CloseAndRecv() (*StreamMempoolResponse, error)
	grpc.ClientStream
}

type blockEngineValidatorStreamMempoolClient struct {
	grpc.ClientStream
}

func (x *blockEngineValidatorStreamMempoolClient) Send(m *MempoolPacket) error {
	return x.ClientStream.SendMsg(m)
}

func (x *blockEngineValidatorStreamMempoolClient) CloseAndRecv() (*StreamMempoolResponse, error) {
	if err := x.ClientStream.CloseSend(); err != nil {
		return nil, err
	}
	m := new(StreamMempoolResponse)
	if err := x.ClientStream.RecvMsg(m); err != nil {
		return nil, err
	}
	return m, nil
}

func (c *blockEngineValidatorClient) SubscribeBundles(ctx context.Context, in *SubscribeBundlesRequest, opts ...grpc.CallOption) (BlockEngineValidator_SubscribeBundlesClient, error) {
	stream, err := c.cc.NewStream(ctx, &BlockEngineValidator_ServiceDesc.Streams[1], BlockEngineValidator_SubscribeBundles_FullMethodName, opts...)
	if err != nil {
		return nil, err
	}
	x := &blockEngineValidatorSubscribeBundlesClient{stream}
	if err := x.ClientStream.SendMsg(in); err != nil {
		return nil, err
	}
	if err := x.ClientStream.CloseSend(); err != nil {
		return nil, err
	}
	return x, nil
}

type BlockEngineValidator_SubscribeBundlesClient interface {
	Recv() (*Bundle, error)
	grpc.ClientStream
}

type blockEngineValidatorSubscribeBundlesClient struct {
	grpc.ClientStream
}

func (x *blockEngineValidatorSubscribeBundlesClient) Recv() (*Bundle, error) {
	m := new(Bundle)
	if err := x.ClientStream.RecvMsg(m); err != nil {
		return nil, err
	}
	return m, nil
}

// BlockEngineValidatorServer is the server API for the BlockEngineValidator
// service. Implementations should embed
// UnimplementedBlockEngineValidatorServer.
type BlockEngineValidatorServer interface {
	StreamMempool(BlockEngineValidator_StreamMempoolServer) error
	SubscribeBundles(*SubscribeBundlesRequest, BlockEngineValidator_SubscribeBundlesServer) error
}

// UnimplementedBlockEngineValidatorServer answers every call with an
// "Unimplemented" error code.
type UnimplementedBlockEngineValidatorServer struct{}

func (UnimplementedBlockEngineValidatorServer) StreamMempool(BlockEngineValidator_StreamMempoolServer) error {
	return status.Errorf(codes.Unimplemented, "method StreamMempool not implemented")
}

func (UnimplementedBlockEngineValidatorServer) SubscribeBundles(*SubscribeBundlesRequest, BlockEngineValidator_SubscribeBundlesServer) error {
	return status.Errorf(codes.Unimplemented, "method SubscribeBundles not implemented")
}

// RegisterBlockEngineValidatorServer registers srv with s.
func RegisterBlockEngineValidatorServer(s grpc.ServiceRegistrar, srv BlockEngineValidatorServer) {
	s.RegisterService(&BlockEngineValidator_ServiceDesc, srv)
}

func _BlockEngineValidator_StreamMempool_Handler(srv interface{}, stream grpc.ServerStream) error {
	return srv.(BlockEngineValidatorServer).StreamMempool(&blockEngineValidatorStreamMempoolServer{stream})
}

type BlockEngineValidator_StreamMempoolServer interface {
	SendAndClose(*StreamMempoolResponse) error
	Recv() (*MempoolPacket, error)
	grpc.ServerStream
}

type blockEngineValidatorStreamMempoolServer struct {
	grpc.ServerStream
}

func (x *blockEngineValidatorStreamMempoolServer) SendAndClose(m *StreamMempoolResponse) error {
	return x.ServerStream.SendMsg(m)
}

func (x *blockEngineValidatorStreamMempoolServer) Recv() (*MempoolPacket, error) {
	m := new(MempoolPacket)
	if err := x.ServerStream.RecvMsg(m); err != nil {
		return nil, err
	}
	return m, nil
}

func _BlockEngineValidator_SubscribeBundles_Handler(srv interface{}, stream grpc.ServerStream) error {
	m := new(SubscribeBundlesRequest)
	if err := stream.RecvMsg(m); err != nil {
		return err
	}
	return srv.(BlockEngineValidatorServer).SubscribeBundles(m, &blockEngineValidatorSubscribeBundlesServer{stream})
}

type BlockEngineValidator_SubscribeBundlesServer interface {
	Send(*Bundle) error
	grpc.ServerStream
}

type blockEngineValidatorSubscribeBundlesServer struct {
	grpc.ServerStream
}

func (x *blockEngineValidatorSubscribeBundlesServer) Send(m *Bundle) error {
	return x.ServerStream.SendMsg(m)
}

// BlockEngineValidator_ServiceDesc describes the BlockEngineValidator service
// for registration with a grpc.ServiceRegistrar and for opening client streams.
var BlockEngineValidator_ServiceDesc = grpc.ServiceDesc{
	ServiceName: "block_engine.BlockEngineValidator",
	HandlerType: (*BlockEngineValidatorServer)(nil),
	Methods:     []grpc.MethodDesc{},
	Streams: []grpc.StreamDesc{
		{
			StreamName:    "StreamMempool",
			Handler:       _BlockEngineValidator_StreamMempool_Handler,
			ClientStreams: true,
		},
		{
			StreamName:    "SubscribeBundles",
			Handler:       _BlockEngineValidator_SubscribeBundles_Handler,
			ServerStreams: true,
		},
	},
	Metadata: "block_engine.proto",
}
