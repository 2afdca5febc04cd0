// Package grpc provides the gRPC statement service of the schema service.
//
// Messages are google.protobuf.Struct values so the service needs no
// generated code. A request carries "cql" and an optional "keyspace"; a reply
// carries "keyspace", "request_id" and "results".
package grpc

import (
	"context"
	stderrors "errors"
	"log"
	"strconv"

	"github.com/google/uuid"
	"github.com/oldsharp/udtschema/internal/errors"
	"github.com/oldsharp/udtschema/internal/query/executor"
	"google.golang.org/genproto/googleapis/rpc/errdetails"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"
)

const (
	// ServiceName is the fully qualified gRPC service name.
	ServiceName = "udt.v1.StatementService"
	// ExecuteMethod is the full method name of Execute.
	ExecuteMethod = "/" + ServiceName + "/Execute"

	errorDomain = "udtschema"
)

// StatementServiceServer is the server API of the statement service.
type StatementServiceServer interface {
	Execute(context.Context, *structpb.Struct) (*structpb.Struct, error)
}

// ServiceDesc describes the statement service for grpc.Server.RegisterService.
var ServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*StatementServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Execute", Handler: executeHandler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "udt/v1/statement.proto",
}

func executeHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(structpb.Struct)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(StatementServiceServer).Execute(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: ExecuteMethod}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(StatementServiceServer).Execute(ctx, req.(*structpb.Struct))
	}
	return interceptor(ctx, in, info, handler)
}

// RegisterStatementServiceServer registers srv on s.
func RegisterStatementServiceServer(s grpc.ServiceRegistrar, srv StatementServiceServer) {
	s.RegisterService(&ServiceDesc, srv)
}

// StatementServer implements the statement service over an executor.
type StatementServer struct {
	exec            *executor.Executor
	defaultKeyspace string
}

// NewStatementServer creates a new gRPC statement server.
func NewStatementServer(exec *executor.Executor, defaultKeyspace string) *StatementServer {
	return &StatementServer{exec: exec, defaultKeyspace: defaultKeyspace}
}

// Execute runs a ;-separated script in a fresh session.
func (s *StatementServer) Execute(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	requestID := extractRequestID(ctx)
	if err := grpc.SetHeader(ctx, metadata.Pairs("x-request-id", requestID)); err != nil {
		log.Printf("grpc: failed to set header (request %s): %v", requestID, err)
	}

	cql := req.GetFields()["cql"].GetStringValue()
	if cql == "" {
		return nil, status.Error(codes.InvalidArgument, "cql is required")
	}
	keyspace := req.GetFields()["keyspace"].GetStringValue()
	if keyspace == "" {
		keyspace = s.defaultKeyspace
	}

	sess := executor.NewSession(keyspace)
	results, err := s.exec.ExecuteScript(ctx, sess, cql)
	if err != nil {
		return nil, statusError(err)
	}

	out := make([]interface{}, len(results))
	for i, res := range results {
		out[i] = resultValue(res)
	}
	reply, err := structpb.NewStruct(map[string]interface{}{
		"keyspace":   sess.Keyspace(),
		"request_id": requestID,
		"results":    out,
	})
	if err != nil {
		return nil, status.Errorf(codes.Internal, "failed to encode reply: %v", err)
	}
	return reply, nil
}

func resultValue(res *executor.Result) map[string]interface{} {
	v := map[string]interface{}{
		"columns": textList(res.Columns),
		"types":   textList(res.Types),
	}
	rows := res.TextRows()
	list := make([]interface{}, len(rows))
	for i, row := range rows {
		list[i] = textList(row)
	}
	v["rows"] = list
	if res.Change != nil {
		v["change"] = map[string]interface{}{
			"change":   res.Change.Change,
			"target":   res.Change.Target,
			"keyspace": res.Change.Keyspace,
			"name":     res.Change.Name,
		}
	}
	return v
}

func textList(in []string) []interface{} {
	out := make([]interface{}, len(in))
	for i, s := range in {
		out[i] = s
	}
	return out
}

// codeFor maps a statement error code to a gRPC status code.
func codeFor(err error) codes.Code {
	if stderrors.Is(err, context.Canceled) {
		return codes.Canceled
	}
	if stderrors.Is(err, context.DeadlineExceeded) {
		return codes.DeadlineExceeded
	}
	switch errors.GetCode(err) {
	case errors.CodeUnknownType, errors.CodeUnknownKeyspace, errors.CodeUnknownTable, errors.CodeObjectNotFound:
		return codes.NotFound
	case errors.CodeDuplicateName:
		return codes.AlreadyExists
	case errors.CodeInUse, errors.CodeCyclicReference, errors.CodeSchemaVersionSkew:
		return codes.FailedPrecondition
	case errors.CodeWriteConflict:
		return codes.Aborted
	case errors.CodeParseError, errors.CodeUnsupportedSyntax, errors.CodeInvalidRequest, errors.CodeInvalidSchema,
		errors.CodeFieldTypeMismatch, errors.CodeUnknownField:
		return codes.InvalidArgument
	}
	if errors.IsRetryable(err) {
		return codes.Unavailable
	}
	return codes.Internal
}

// statusError converts an execution error into a status carrying an
// ErrorInfo with the statement error code, category and failing statement.
func statusError(err error) error {
	st := status.New(codeFor(err), errors.Message(err))

	var se *errors.StatementError
	if !stderrors.As(err, &se) {
		return st.Err()
	}
	info := &errdetails.ErrorInfo{
		Reason:   se.Code,
		Domain:   errorDomain,
		Metadata: map[string]string{"category": string(se.Category)},
	}
	var be *executor.BatchError
	if stderrors.As(err, &be) {
		info.Metadata["statement"] = strconv.Itoa(be.Index)
	}
	withInfo, derr := st.WithDetails(info)
	if derr != nil {
		log.Printf("grpc: failed to attach error details: %v", derr)
		return st.Err()
	}
	return withInfo.Err()
}

// extractRequestID extracts or generates a request ID from the gRPC context.
func extractRequestID(ctx context.Context) string {
	if md, ok := metadata.FromIncomingContext(ctx); ok {
		if ids := md.Get("x-request-id"); len(ids) > 0 && ids[0] != "" {
			return ids[0]
		}
	}
	return uuid.New().String()
}

// LoggingInterceptor logs failed calls with their status code.
func LoggingInterceptor(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (interface{}, error) {
	resp, err := handler(ctx, req)
	if err != nil {
		log.Printf("grpc: %s failed: %s", info.FullMethod, status.Code(err))
	}
	return resp, err
}
