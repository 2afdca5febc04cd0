package grpc

import (
	"context"
	stderrors "errors"
	"net"
	"path/filepath"
	"testing"

	"github.com/oldsharp/udtschema/internal/catalog"
	"github.com/oldsharp/udtschema/internal/errors"
	"github.com/oldsharp/udtschema/internal/query/executor"
	"github.com/oldsharp/udtschema/internal/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"
	"google.golang.org/protobuf/types/known/structpb"
)

func newTestClient(t *testing.T) *Client {
	t.Helper()
	rows, err := storage.OpenRowStore(filepath.Join(t.TempDir(), "rows.db"), true)
	require.NoError(t, err)
	t.Cleanup(func() { rows.Close() })
	exec := executor.New(catalog.New(), rows, executor.DefaultConfig())

	lis := bufconn.Listen(1 << 20)
	srv := grpc.NewServer(grpc.UnaryInterceptor(LoggingInterceptor))
	RegisterStatementServiceServer(srv, NewStatementServer(exec, ""))
	go srv.Serve(lis)
	t.Cleanup(srv.Stop)

	client, conn, err := Dial("passthrough:///bufnet", grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
		return lis.DialContext(ctx)
	}))
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return client
}

const setup = `
CREATE KEYSPACE ks WITH replication = {'class': 'SimpleStrategy', 'replication_factor': 1};
USE ks;
CREATE TYPE point (x int, y int);
CREATE TABLE shapes (id int PRIMARY KEY, origin frozen<point>);
INSERT INTO shapes (id, origin) VALUES (1, {x: 1, y: 2})
`

func TestExecute(t *testing.T) {
	client := newTestClient(t)
	ctx := context.Background()

	reply, err := client.Execute(ctx, "", setup, "req-1")
	require.NoError(t, err)
	assert.Equal(t, "ks", reply.Keyspace)
	assert.Equal(t, "req-1", reply.RequestID)
	require.Len(t, reply.Results, 5)
	require.NotNil(t, reply.Results[2].Change)
	assert.Equal(t, executor.SchemaChange{
		Change:   executor.ChangeCreated,
		Target:   executor.TargetType,
		Keyspace: "ks",
		Name:     "point",
	}, *reply.Results[2].Change)

	reply, err = client.Execute(ctx, "ks", "SELECT id FROM shapes", "")
	require.NoError(t, err)
	assert.NotEmpty(t, reply.RequestID)
	require.Len(t, reply.Results, 1)
	assert.Equal(t, []string{"id"}, reply.Results[0].Columns)
	assert.Equal(t, [][]string{{"1"}}, reply.Results[0].Rows)
}

func TestExecuteErrorsCarryStatementCodes(t *testing.T) {
	client := newTestClient(t)
	ctx := context.Background()
	_, err := client.Execute(ctx, "", setup, "")
	require.NoError(t, err)

	tests := []struct {
		name  string
		cql   string
		code  string
		index int
	}{
		{"unknown type", "DROP TYPE missing", errors.CodeUnknownType, 0},
		{"in use", "CREATE TYPE other (z int); DROP TYPE point", errors.CodeInUse, 1},
		{"duplicate", "CREATE TYPE point (z int)", errors.CodeDuplicateName, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := client.Execute(ctx, "ks", tt.cql, "")
			require.Error(t, err)
			assert.Equal(t, tt.code, errors.GetCode(err))

			var be *executor.BatchError
			require.True(t, stderrors.As(err, &be))
			assert.Equal(t, tt.index, be.Index)
		})
	}
}

func TestExecuteParseErrorAndMissingCQL(t *testing.T) {
	client := newTestClient(t)
	ctx := context.Background()

	_, err := client.Execute(ctx, "", "CREATE TYPE (", "")
	require.Error(t, err)
	assert.Equal(t, errors.CodeParseError, errors.GetCode(err))

	_, err = client.Execute(ctx, "", "", "")
	require.Error(t, err)
	assert.Equal(t, codes.InvalidArgument, status.Code(err))
}

func TestCodeFor(t *testing.T) {
	assert.Equal(t, codes.NotFound, codeFor(errors.NewUnknownKeyspaceError("ks")))
	assert.Equal(t, codes.AlreadyExists, codeFor(errors.NewDuplicateNameError("type", "t")))
	assert.Equal(t, codes.FailedPrecondition, codeFor(errors.NewInUseError("t", "table", "ks.x")))
	assert.Equal(t, codes.InvalidArgument, codeFor(errors.NewFieldTypeMismatchError("f", "int")))
	assert.Equal(t, codes.Canceled, codeFor(context.Canceled))
	assert.Equal(t, codes.Internal, codeFor(stderrors.New("boom")))
}

func TestDecodeReplyEmpty(t *testing.T) {
	s, err := structpb.NewStruct(map[string]interface{}{"keyspace": "ks", "results": []interface{}{}})
	require.NoError(t, err)
	reply := decodeReply(s)
	assert.Equal(t, "ks", reply.Keyspace)
	assert.Empty(t, reply.Results)
}
