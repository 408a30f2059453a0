package reportrpc

import (
	"context"

	"google.golang.org/grpc"

	"github.com/compostwatch/compostwatch/pkg/types"
)

const (
	// ServiceName is the fully-qualified gRPC service name.
	ServiceName = "compostwatch.v1.ReportService"

	sendReportMethod = "/" + ServiceName + "/SendReport"
)

// SendReportResponse acknowledges one delivered envelope.
type SendReportResponse struct {
	OK      bool   `json:"ok"`
	Message string `json:"message,omitempty"`
}

// ReportServiceServer is implemented by the server-side receiver.
type ReportServiceServer interface {
	SendReport(ctx context.Context, env *types.ReportEnvelope) (*SendReportResponse, error)
}

// ReportServiceClient is the agent-side stub.
type ReportServiceClient interface {
	SendReport(ctx context.Context, env *types.ReportEnvelope, opts ...grpc.CallOption) (*SendReportResponse, error)
}

type reportServiceClient struct {
	cc grpc.ClientConnInterface
}

// NewReportServiceClient returns a client that speaks the JSON codec over cc.
func NewReportServiceClient(cc grpc.ClientConnInterface) ReportServiceClient {
	return &reportServiceClient{cc: cc}
}

func (c *reportServiceClient) SendReport(ctx context.Context, env *types.ReportEnvelope, opts ...grpc.CallOption) (*SendReportResponse, error) {
	out := new(SendReportResponse)
	opts = append([]grpc.CallOption{grpc.CallContentSubtype(CodecName)}, opts...)
	if err := c.cc.Invoke(ctx, sendReportMethod, env, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

// RegisterReportServiceServer attaches srv to the gRPC server s.
func RegisterReportServiceServer(s grpc.ServiceRegistrar, srv ReportServiceServer) {
	s.RegisterService(&serviceDesc, srv)
}

func sendReportHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(types.ReportEnvelope)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(ReportServiceServer).SendReport(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: sendReportMethod}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(ReportServiceServer).SendReport(ctx, req.(*types.ReportEnvelope))
	}
	return interceptor(ctx, in, info, handler)
}

var serviceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*ReportServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "SendReport", Handler: sendReportHandler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "compostwatch/v1/report",
}
