package nbi

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"github.com/signalsfoundry/orbit-simulator/core"
	"github.com/signalsfoundry/orbit-simulator/internal/logging"
	sim "github.com/signalsfoundry/orbit-simulator/internal/sim/state"
)

// SimulationServiceName is the fully-qualified gRPC service name.
const SimulationServiceName = "orbitsim.nbi.v1.SimulationService"

// SimulationServiceServer is the server API for SimulationService. Requests
// and responses are protobuf well-known types; see ParseCreateBody,
// ParseInScene, ParseForceFlags and BodyToStruct for the field layout.
type SimulationServiceServer interface {
	CreateBody(context.Context, *structpb.Struct) (*structpb.Struct, error)
	RemoveBody(context.Context, *wrapperspb.UInt64Value) (*emptypb.Empty, error)
	SetInScene(context.Context, *structpb.Struct) (*emptypb.Empty, error)
	SetForceFlags(context.Context, *structpb.Struct) (*emptypb.Empty, error)
	Step(context.Context, *wrapperspb.DoubleValue) (*structpb.Struct, error)
	GetBody(context.Context, *wrapperspb.UInt64Value) (*structpb.Struct, error)
	ListBodies(context.Context, *emptypb.Empty) (*structpb.ListValue, error)
}

func fullMethod(name string) string { return "/" + SimulationServiceName + "/" + name }

// unaryHandler adapts a typed server method to grpc.MethodHandler.
func unaryHandler[Req any, Resp any](name string, call func(SimulationServiceServer, context.Context, *Req) (*Resp, error)) grpc.MethodHandler {
	return func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
		in := new(Req)
		if err := dec(in); err != nil {
			return nil, err
		}
		if interceptor == nil {
			return call(srv.(SimulationServiceServer), ctx, in)
		}
		info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod(name)}
		handler := func(ctx context.Context, req any) (any, error) {
			return call(srv.(SimulationServiceServer), ctx, req.(*Req))
		}
		return interceptor(ctx, in, info, handler)
	}
}

// SimulationServiceDesc describes SimulationService for grpc.Server.RegisterService.
var SimulationServiceDesc = grpc.ServiceDesc{
	ServiceName: SimulationServiceName,
	HandlerType: (*SimulationServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "CreateBody", Handler: unaryHandler("CreateBody", SimulationServiceServer.CreateBody)},
		{MethodName: "RemoveBody", Handler: unaryHandler("RemoveBody", SimulationServiceServer.RemoveBody)},
		{MethodName: "SetInScene", Handler: unaryHandler("SetInScene", SimulationServiceServer.SetInScene)},
		{MethodName: "SetForceFlags", Handler: unaryHandler("SetForceFlags", SimulationServiceServer.SetForceFlags)},
		{MethodName: "Step", Handler: unaryHandler("Step", SimulationServiceServer.Step)},
		{MethodName: "GetBody", Handler: unaryHandler("GetBody", SimulationServiceServer.GetBody)},
		{MethodName: "ListBodies", Handler: unaryHandler("ListBodies", SimulationServiceServer.ListBodies)},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "orbitsim/nbi/v1/simulation.proto",
}

// RegisterSimulationServiceServer registers srv with s.
func RegisterSimulationServiceServer(s grpc.ServiceRegistrar, srv SimulationServiceServer) {
	s.RegisterService(&SimulationServiceDesc, srv)
}

// SimulationClient is the client API for SimulationService.
type SimulationClient struct {
	cc grpc.ClientConnInterface
}

// NewSimulationClient wraps a connection.
func NewSimulationClient(cc grpc.ClientConnInterface) *SimulationClient {
	return &SimulationClient{cc: cc}
}

func invoke[Resp any](ctx context.Context, cc grpc.ClientConnInterface, name string, in any, opts ...grpc.CallOption) (*Resp, error) {
	out := new(Resp)
	if err := cc.Invoke(ctx, fullMethod(name), in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *SimulationClient) CreateBody(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	return invoke[structpb.Struct](ctx, c.cc, "CreateBody", in, opts...)
}

func (c *SimulationClient) RemoveBody(ctx context.Context, in *wrapperspb.UInt64Value, opts ...grpc.CallOption) (*emptypb.Empty, error) {
	return invoke[emptypb.Empty](ctx, c.cc, "RemoveBody", in, opts...)
}

func (c *SimulationClient) SetInScene(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*emptypb.Empty, error) {
	return invoke[emptypb.Empty](ctx, c.cc, "SetInScene", in, opts...)
}

func (c *SimulationClient) SetForceFlags(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*emptypb.Empty, error) {
	return invoke[emptypb.Empty](ctx, c.cc, "SetForceFlags", in, opts...)
}

func (c *SimulationClient) Step(ctx context.Context, in *wrapperspb.DoubleValue, opts ...grpc.CallOption) (*structpb.Struct, error) {
	return invoke[structpb.Struct](ctx, c.cc, "Step", in, opts...)
}

func (c *SimulationClient) GetBody(ctx context.Context, in *wrapperspb.UInt64Value, opts ...grpc.CallOption) (*structpb.Struct, error) {
	return invoke[structpb.Struct](ctx, c.cc, "GetBody", in, opts...)
}

func (c *SimulationClient) ListBodies(ctx context.Context, in *emptypb.Empty, opts ...grpc.CallOption) (*structpb.ListValue, error) {
	return invoke[structpb.ListValue](ctx, c.cc, "ListBodies", in, opts...)
}

// SimulationService implements SimulationServiceServer backed by a
// SimulationState.
type SimulationService struct {
	state *sim.SimulationState
	log   logging.Logger
}

// NewSimulationService wires a SimulationService to the shared state and
// optional logger.
func NewSimulationService(state *sim.SimulationState, log logging.Logger) *SimulationService {
	if log == nil {
		log = logging.Noop()
	}
	return &SimulationService{state: state, log: log}
}

func (s *SimulationService) CreateBody(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	if err := s.ensureReady(); err != nil {
		return nil, err
	}
	req, err := ParseCreateBody(in)
	if err != nil {
		return nil, ToStatusError(err)
	}

	ctx, span := StartChildSpan(ctx, "SimulationService.CreateBody", "body", req.Name)
	defer span.End()

	var opts []core.BodyOption
	if req.Name != "" {
		opts = append(opts, core.WithName(req.Name))
	}
	if req.Primary != "" {
		ph, ok := s.state.Lookup(req.Primary)
		if !ok {
			return nil, status.Errorf(codes.NotFound, "primary %q not found", req.Primary)
		}
		opts = append(opts, core.WithPrimary(ph))
	}
	if req.Position != nil {
		opts = append(opts, core.WithPosition(*req.Position))
	}
	if req.Velocity != nil {
		opts = append(opts, core.WithVelocity(*req.Velocity))
	}
	if req.Flags != nil {
		opts = append(opts, core.WithForceFlags(*req.Flags))
	}

	h, err := s.state.CreateBody(req.Template, req.Role, opts...)
	if err != nil {
		span.RecordError(err)
		return nil, ToStatusError(err)
	}
	if req.PlaceInScene {
		if err := s.state.SetInScene(h, true); err != nil {
			// Leave no half-created body behind.
			_ = s.state.RemoveBody(h)
			span.RecordError(err)
			return nil, ToStatusError(err)
		}
	}

	snap, err := s.state.Body(h)
	if err != nil {
		return nil, ToStatusError(err)
	}
	s.logger(ctx).Info(ctx, "body created",
		logging.String("name", snap.Name),
		logging.Uint64("handle", uint64(h)),
		logging.Bool("in_scene", snap.InScene),
	)
	return encode(BodyToStruct(snap))
}

func (s *SimulationService) RemoveBody(ctx context.Context, in *wrapperspb.UInt64Value) (*emptypb.Empty, error) {
	if err := s.ensureReady(); err != nil {
		return nil, err
	}
	if in == nil {
		return nil, status.Error(codes.InvalidArgument, "handle is required")
	}
	if err := s.state.RemoveBody(core.BodyHandle(in.GetValue())); err != nil {
		return nil, ToStatusError(err)
	}
	return &emptypb.Empty{}, nil
}

func (s *SimulationService) SetInScene(ctx context.Context, in *structpb.Struct) (*emptypb.Empty, error) {
	if err := s.ensureReady(); err != nil {
		return nil, err
	}
	h, place, err := ParseInScene(in)
	if err != nil {
		return nil, ToStatusError(err)
	}
	if err := s.state.SetInScene(h, place); err != nil {
		return nil, ToStatusError(err)
	}
	return &emptypb.Empty{}, nil
}

func (s *SimulationService) SetForceFlags(ctx context.Context, in *structpb.Struct) (*emptypb.Empty, error) {
	if err := s.ensureReady(); err != nil {
		return nil, err
	}
	req, err := ParseForceFlags(in)
	if err != nil {
		return nil, ToStatusError(err)
	}
	if err := s.state.SetForceFlags(req.Handle, req.Flags, req.Drag); err != nil {
		return nil, ToStatusError(err)
	}
	return &emptypb.Empty{}, nil
}

func (s *SimulationService) Step(ctx context.Context, in *wrapperspb.DoubleValue) (*structpb.Struct, error) {
	if err := s.ensureReady(); err != nil {
		return nil, err
	}
	if in == nil {
		return nil, status.Error(codes.InvalidArgument, "dt is required")
	}
	report, err := s.state.Step(ctx, in.GetValue())
	if err != nil {
		return nil, ToStatusError(err)
	}
	return encode(ReportToStruct(report, s.state.SimTime()))
}

func (s *SimulationService) GetBody(ctx context.Context, in *wrapperspb.UInt64Value) (*structpb.Struct, error) {
	if err := s.ensureReady(); err != nil {
		return nil, err
	}
	if in == nil {
		return nil, status.Error(codes.InvalidArgument, "handle is required")
	}
	snap, err := s.state.Body(core.BodyHandle(in.GetValue()))
	if err != nil {
		return nil, ToStatusError(err)
	}
	return encode(BodyToStruct(snap))
}

func (s *SimulationService) ListBodies(ctx context.Context, _ *emptypb.Empty) (*structpb.ListValue, error) {
	if err := s.ensureReady(); err != nil {
		return nil, err
	}
	return encode(BodiesToList(s.state.Snapshot()))
}

func (s *SimulationService) logger(ctx context.Context) logging.Logger {
	if l := logging.LoggerFromContext(ctx); l != nil {
		return l
	}
	return s.log
}

func (s *SimulationService) ensureReady() error {
	if s == nil || s.state == nil {
		return status.Error(codes.FailedPrecondition, "simulation state is not configured")
	}
	return nil
}

func encode[T any](v *T, err error) (*T, error) {
	if err != nil {
		return nil, status.Error(codes.Internal, err.Error())
	}
	return v, nil
}
