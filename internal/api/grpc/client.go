package grpc

import (
	"context"
	"strconv"

	"github.com/oldsharp/udtschema/internal/errors"
	"github.com/oldsharp/udtschema/internal/query/executor"
	"google.golang.org/genproto/googleapis/rpc/errdetails"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"
)

// StatementResult is the outcome of one statement as seen by a client.
type StatementResult struct {
	Columns []string
	Types   []string
	Rows    [][]string
	Change  *executor.SchemaChange
}

// ExecuteReply is the decoded reply of Execute.
type ExecuteReply struct {
	Keyspace  string
	RequestID string
	Results   []StatementResult
}

// Client calls the statement service.
type Client struct {
	cc grpc.ClientConnInterface
}

// NewClient wraps an established connection.
func NewClient(cc grpc.ClientConnInterface) *Client {
	return &Client{cc: cc}
}

// Dial connects to target without transport security. The caller closes the
// returned connection.
func Dial(target string, opts ...grpc.DialOption) (*Client, *grpc.ClientConn, error) {
	opts = append([]grpc.DialOption{grpc.WithTransportCredentials(insecure.NewCredentials())}, opts...)
	conn, err := grpc.NewClient(target, opts...)
	if err != nil {
		return nil, nil, err
	}
	return NewClient(conn), conn, nil
}

// Execute runs a script. Statement failures come back as
// *errors.StatementError, wrapped in *executor.BatchError when the server
// named the failing statement.
func (c *Client) Execute(ctx context.Context, keyspace, cql, requestID string) (*ExecuteReply, error) {
	if requestID != "" {
		ctx = metadata.AppendToOutgoingContext(ctx, "x-request-id", requestID)
	}
	req, err := structpb.NewStruct(map[string]interface{}{"keyspace": keyspace, "cql": cql})
	if err != nil {
		return nil, err
	}
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, ExecuteMethod, req, out); err != nil {
		return nil, fromStatus(err)
	}
	return decodeReply(out), nil
}

func decodeReply(s *structpb.Struct) *ExecuteReply {
	fields := s.GetFields()
	reply := &ExecuteReply{
		Keyspace:  fields["keyspace"].GetStringValue(),
		RequestID: fields["request_id"].GetStringValue(),
	}
	for _, v := range fields["results"].GetListValue().GetValues() {
		rf := v.GetStructValue().GetFields()
		res := StatementResult{
			Columns: stringValues(rf["columns"]),
			Types:   stringValues(rf["types"]),
		}
		for _, row := range rf["rows"].GetListValue().GetValues() {
			res.Rows = append(res.Rows, stringValues(row))
		}
		if ch := rf["change"].GetStructValue(); ch != nil {
			cf := ch.GetFields()
			res.Change = &executor.SchemaChange{
				Change:   cf["change"].GetStringValue(),
				Target:   cf["target"].GetStringValue(),
				Keyspace: cf["keyspace"].GetStringValue(),
				Name:     cf["name"].GetStringValue(),
			}
		}
		reply.Results = append(reply.Results, res)
	}
	return reply
}

func stringValues(v *structpb.Value) []string {
	values := v.GetListValue().GetValues()
	if len(values) == 0 {
		return nil
	}
	out := make([]string, len(values))
	for i, e := range values {
		out[i] = e.GetStringValue()
	}
	return out
}

// fromStatus rebuilds a statement error from the ErrorInfo detail of a
// status. Statuses without one are returned as is.
func fromStatus(err error) error {
	st, ok := status.FromError(err)
	if !ok {
		return err
	}
	for _, d := range st.Details() {
		info, ok := d.(*errdetails.ErrorInfo)
		if !ok || info.GetDomain() != errorDomain {
			continue
		}
		se := errors.New(errors.ErrorCategory(info.GetMetadata()["category"]), info.GetReason(), st.Message())
		if idx, perr := strconv.Atoi(info.GetMetadata()["statement"]); perr == nil {
			return &executor.BatchError{Index: idx, Err: se}
		}
		return se
	}
	return err
}
