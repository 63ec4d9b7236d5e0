package main

import (
	"context"
	"errors"
	"math"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"github.com/akhenakh/heightmap/geotiff"
)

// ElevationServiceName is the fully qualified gRPC service name.
const ElevationServiceName = "heightmap.v1.ElevationService"

// ElevationServer is the gRPC elevation API. Requests are protobuf Structs
// so the service needs no generated code:
//
//	SampleAt: {"easting": 385000, "northing": 6672000} -> FloatValue
//	Profile:  {"points": [[e, n], [e, n], ...]} -> ListValue of
//	          {"easting", "northing", "value"} structs
type ElevationServer interface {
	SampleAt(context.Context, *structpb.Struct) (*wrapperspb.FloatValue, error)
	Profile(context.Context, *structpb.Struct) (*structpb.ListValue, error)
}

// RegisterElevationServer registers srv on s.
func RegisterElevationServer(s grpc.ServiceRegistrar, srv ElevationServer) {
	s.RegisterService(&elevationServiceDesc, srv)
}

var elevationServiceDesc = grpc.ServiceDesc{
	ServiceName: ElevationServiceName,
	HandlerType: (*ElevationServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "SampleAt", Handler: _ElevationService_SampleAt_Handler},
		{MethodName: "Profile", Handler: _ElevationService_Profile_Handler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "heightmap/v1/elevation.proto",
}

func _ElevationService_SampleAt_Handler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(structpb.Struct)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(ElevationServer).SampleAt(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/" + ElevationServiceName + "/SampleAt"}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(ElevationServer).SampleAt(ctx, req.(*structpb.Struct))
	}
	return interceptor(ctx, in, info, handler)
}

func _ElevationService_Profile_Handler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(structpb.Struct)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(ElevationServer).Profile(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/" + ElevationServiceName + "/Profile"}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(ElevationServer).Profile(ctx, req.(*structpb.Struct))
	}
	return interceptor(ctx, in, info, handler)
}

// Server implements ElevationServer over a sampler.
type Server struct {
	sampler *geotiff.Sampler
	metrics *Metrics
}

func (s *Server) SampleAt(ctx context.Context, req *structpb.Struct) (*wrapperspb.FloatValue, error) {
	e, okE := numberField(req, "easting")
	n, okN := numberField(req, "northing")
	if !okE || !okN {
		return nil, status.Error(codes.InvalidArgument, "easting and northing are required numbers")
	}

	value, err := s.sampler.Sample(e, n)
	if err != nil {
		s.metrics.sample("grpc", resultError)
		return nil, status.Errorf(codes.Internal, "failed to retrieve elevation: %v", err)
	}
	if math.IsNaN(float64(value)) {
		s.metrics.sample("grpc", resultOutside)
		return nil, status.Errorf(codes.NotFound, "position (%f, %f) is outside the raster", e, n)
	}
	s.metrics.sample("grpc", resultOK)
	return wrapperspb.Float(value), nil
}

func (s *Server) Profile(ctx context.Context, req *structpb.Struct) (*structpb.ListValue, error) {
	list := req.GetFields()["points"].GetListValue()
	if list == nil || len(list.Values) < 2 {
		return nil, status.Error(codes.InvalidArgument, "at least two points are required for a profile")
	}

	path := make([]geotiff.Point, len(list.Values))
	for i, v := range list.Values {
		pair := v.GetListValue()
		if pair == nil || len(pair.Values) != 2 {
			return nil, status.Errorf(codes.InvalidArgument, "point %d must be an [easting, northing] pair", i)
		}
		path[i] = geotiff.Point{Easting: pair.Values[0].GetNumberValue(), Northing: pair.Values[1].GetNumberValue()}
	}

	profile, err := s.sampler.Profile(path)
	if errors.Is(err, geotiff.ErrProfileTooLong) {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}
	if err != nil {
		return nil, status.Errorf(codes.Internal, "failed to generate profile: %v", err)
	}

	out := &structpb.ListValue{Values: make([]*structpb.Value, len(profile))}
	for i, p := range profile {
		out.Values[i] = structpb.NewStructValue(&structpb.Struct{Fields: map[string]*structpb.Value{
			"easting":  structpb.NewNumberValue(p.Easting),
			"northing": structpb.NewNumberValue(p.Northing),
			"value":    structpb.NewNumberValue(float64(p.Value)),
		}})
	}
	return out, nil
}

func numberField(s *structpb.Struct, name string) (float64, bool) {
	v, ok := s.GetFields()[name]
	if !ok {
		return 0, false
	}
	n, ok := v.GetKind().(*structpb.Value_NumberValue)
	if !ok {
		return 0, false
	}
	return n.NumberValue, true
}
