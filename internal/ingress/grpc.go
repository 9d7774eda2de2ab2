package ingress

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/xela07ax/spaceai-autonomy/internal/domain"
	"github.com/xela07ax/spaceai-autonomy/internal/infra/auth"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"
)

// SubmitMethod: полное имя RPC. Сообщения в google.protobuf.Struct, без собственного .proto.
const SubmitMethod = "/autonomy.engine.v1.EngineService/Submit"

// EngineServiceServer: то, что регистрируется в grpc.Server.
type EngineServiceServer interface {
	Submit(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error)
}

var engineServiceDesc = grpc.ServiceDesc{
	ServiceName: "autonomy.engine.v1.EngineService",
	HandlerType: (*EngineServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Submit", Handler: submitHandler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "autonomy/engine/v1/engine.proto",
}

func submitHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(structpb.Struct)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(EngineServiceServer).Submit(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: SubmitMethod}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(EngineServiceServer).Submit(ctx, req.(*structpb.Struct))
	}
	return interceptor(ctx, in, info, handler)
}

// RegisterEngineService регистрирует сервис на gRPC сервере
func RegisterEngineService(s grpc.ServiceRegistrar, srv EngineServiceServer) {
	s.RegisterService(&engineServiceDesc, srv)
}

type GRPCServer struct {
	submitter Submitter
	logger    *zap.Logger
	now       func() time.Time
}

func NewGRPCServer(sub Submitter, logger *zap.Logger) *GRPCServer {
	return &GRPCServer{submitter: sub, logger: logger.Named("ingress-grpc"), now: time.Now}
}

// Submit: тот же пайплайн, что и для HTTP. Ситуация приходит как Struct в JSON-форме.
func (s *GRPCServer) Submit(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	raw, err := in.MarshalJSON()
	if err != nil {
		return nil, status.Errorf(codes.InvalidArgument, "invalid payload: %v", err)
	}
	var sit domain.Situation
	if err := json.Unmarshal(raw, &sit); err != nil {
		return nil, status.Errorf(codes.InvalidArgument, "invalid situation: %v", err)
	}
	prepare(&sit, s.now())

	out, err := s.submitter.Submit(ctx, &sit)
	if err != nil {
		if errors.Is(err, domain.ErrInvalidSituation) {
			return nil, status.Error(codes.InvalidArgument, err.Error())
		}
		s.logger.Error("submit failed", zap.String("situation_id", sit.ID), zap.Error(err))
		return nil, status.Error(codes.Internal, "internal error")
	}

	resp, err := toStruct(out)
	if err != nil {
		return nil, status.Errorf(codes.Internal, "encode outcome: %v", err)
	}
	return resp, nil
}

func toStruct(v any) (*structpb.Struct, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	out := &structpb.Struct{}
	if err := out.UnmarshalJSON(b); err != nil {
		return nil, fmt.Errorf("struct from json: %w", err)
	}
	return out, nil
}

// UnaryAuthInterceptor проверяет RS256 токен в метаданных gRPC вызова
func UnaryAuthInterceptor(v auth.TokenValidator, scope string) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		md, ok := metadata.FromIncomingContext(ctx)
		if !ok {
			return nil, status.Errorf(codes.Unauthenticated, "missing metadata")
		}

		// В gRPC заголовки в нижнем регистре
		tokens := md.Get("authorization")
		if len(tokens) == 0 {
			return nil, status.Errorf(codes.Unauthenticated, "missing access token")
		}

		claims, err := v.VerifyToken(tokens[0])
		if err != nil {
			return nil, status.Errorf(codes.Unauthenticated, "invalid token")
		}
		if !claims.Allows(scope) {
			return nil, status.Errorf(codes.PermissionDenied, "scope %s required", scope)
		}

		return handler(auth.WithClaims(ctx, claims), req)
	}
}
