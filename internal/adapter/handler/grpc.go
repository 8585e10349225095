package handler

import (
	"context"
	"errors"
	"strings"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"github.com/hive-corporation/cticollector/internal/core/domain"
	"github.com/hive-corporation/cticollector/internal/core/ports"
	"github.com/hive-corporation/cticollector/internal/logger"
)

const (
	iocServiceName     = "cticollector.v1.IOCService"
	checkIOCFullMethod = "/" + iocServiceName + "/CheckIOC"
	statsFullMethod    = "/" + iocServiceName + "/Stats"
)

// IOCServiceServer is the gRPC query surface. Messages are protobuf
// well-known types, so no generated code is needed.
type IOCServiceServer interface {
	CheckIOC(context.Context, *wrapperspb.StringValue) (*structpb.Struct, error)
	Stats(context.Context, *emptypb.Empty) (*structpb.Struct, error)
}

var IOCServiceDesc = grpc.ServiceDesc{
	ServiceName: iocServiceName,
	HandlerType: (*IOCServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "CheckIOC", Handler: checkIOCHandler},
		{MethodName: "Stats", Handler: statsHandler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "cticollector/v1/ioc_service.proto",
}

func RegisterIOCServiceServer(s grpc.ServiceRegistrar, srv IOCServiceServer) {
	s.RegisterService(&IOCServiceDesc, srv)
}

func checkIOCHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(wrapperspb.StringValue)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(IOCServiceServer).CheckIOC(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: checkIOCFullMethod}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(IOCServiceServer).CheckIOC(ctx, req.(*wrapperspb.StringValue))
	}
	return interceptor(ctx, in, info, handler)
}

func statsHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(emptypb.Empty)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(IOCServiceServer).Stats(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: statsFullMethod}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(IOCServiceServer).Stats(ctx, req.(*emptypb.Empty))
	}
	return interceptor(ctx, in, info, handler)
}

type GrpcServer struct {
	reader ports.IOCReader
}

func NewGrpcServer(reader ports.IOCReader) *GrpcServer {
	return &GrpcServer{reader: reader}
}

func (s *GrpcServer) CheckIOC(ctx context.Context, req *wrapperspb.StringValue) (*structpb.Struct, error) {
	value := strings.TrimSpace(req.GetValue())
	if value == "" {
		return nil, status.Error(codes.InvalidArgument, "value cannot be empty")
	}

	result, err := lookup(ctx, s.reader, value)
	if err != nil {
		if domain.IsUnrecognized(err) {
			return nil, status.Error(codes.InvalidArgument, "unrecognized indicator")
		}
		logger.Log().WithError(err).Error("❌ error checking IOC")
		return nil, storeStatus(err)
	}

	fields := map[string]any{
		"value":     result.Value,
		"exists":    result.Exists,
		"indicator": result.Indicator,
		"type":      string(result.Type),
	}
	if rec := result.Record; rec != nil {
		fields["confidence_score"] = result.ConfidenceScore
		fields["threat_level"] = rec.ThreatLevel.String()
		fields["confidence"] = rec.Confidence.String()
		fields["sources"] = toList(rec.Sources)
		fields["seen_count"] = rec.SeenCount
		fields["first_seen"] = rec.FirstSeen.UTC().Format(time.RFC3339)
		fields["last_seen"] = rec.LastSeen.UTC().Format(time.RFC3339)
		fields["action_block"] = rec.ThreatLevel >= domain.LevelHigh
	}
	return structpb.NewStruct(fields)
}

// Stats covers the whole history.
func (s *GrpcServer) Stats(ctx context.Context, _ *emptypb.Empty) (*structpb.Struct, error) {
	stats, err := s.reader.QueryStats(ctx, time.Time{})
	if err != nil {
		return nil, storeStatus(err)
	}

	byType := map[string]any{}
	for t, n := range stats.ByType {
		byType[string(t)] = n
	}
	bySource := map[string]any{}
	for src, n := range stats.BySource {
		bySource[src] = n
	}
	runs := map[string]any{}
	for st, n := range stats.RunsByStatus {
		runs[string(st)] = n
	}

	return structpb.NewStruct(map[string]any{
		"total_iocs":      stats.TotalIOCs,
		"by_type":         byType,
		"by_source":       bySource,
		"collection_runs": stats.CollectionRuns,
		"runs_by_status":  runs,
		"success_rate":    stats.SuccessRate(),
		"avg_seen_count":  stats.AvgSeenCount,
		"max_seen_count":  stats.MaxSeenCount,
	})
}

func storeStatus(err error) error {
	if errors.Is(err, domain.ErrStoreUnavailable) {
		return status.Error(codes.Unavailable, "store unavailable")
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return status.FromContextError(err).Err()
	}
	return status.Error(codes.Internal, "internal error")
}

func toList(ss []string) []any {
	out := make([]any, len(ss))
	for i, s := range ss {
		out[i] = s
	}
	return out
}

// IOCServiceClient calls IOCService over an existing connection.
type IOCServiceClient struct {
	cc grpc.ClientConnInterface
}

func NewIOCServiceClient(cc grpc.ClientConnInterface) *IOCServiceClient {
	return &IOCServiceClient{cc: cc}
}

func (c *IOCServiceClient) CheckIOC(ctx context.Context, value string, opts ...grpc.CallOption) (*structpb.Struct, error) {
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, checkIOCFullMethod, wrapperspb.String(value), out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *IOCServiceClient) Stats(ctx context.Context, opts ...grpc.CallOption) (*structpb.Struct, error) {
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, statsFullMethod, &emptypb.Empty{}, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}
