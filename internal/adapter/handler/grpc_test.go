package handler

import (
	"context"
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"

	"github.com/hive-corporation/cticollector/internal/adapter/repository"
)

func dialBufconn(t *testing.T, repo *repository.MemoryRepository) *IOCServiceClient {
	t.Helper()
	lis := bufconn.Listen(1 << 20)

	s := grpc.NewServer()
	RegisterIOCServiceServer(s, NewGrpcServer(repo))
	go s.Serve(lis)
	t.Cleanup(s.Stop)

	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return lis.DialContext(ctx)
		}),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })

	return NewIOCServiceClient(conn)
}

func TestGrpcCheckIOC(t *testing.T) {
	client := dialBufconn(t, seedStore(t))
	ctx := context.Background()

	resp, err := client.CheckIOC(ctx, "198.51.100.7")
	require.NoError(t, err)
	fields := resp.AsMap()
	assert.Equal(t, true, fields["exists"])
	assert.Equal(t, "ipv4", fields["type"])
	assert.Equal(t, true, fields["action_block"])
	assert.Equal(t, []any{"abuseipdb", "urlhaus"}, fields["sources"])
	assert.EqualValues(t, 3, fields["seen_count"])

	resp, err = client.CheckIOC(ctx, "EVIL.example.com.")
	require.NoError(t, err)
	assert.Equal(t, "evil.example.com", resp.AsMap()["indicator"])
	assert.Equal(t, false, resp.AsMap()["action_block"])

	resp, err = client.CheckIOC(ctx, "203.0.113.1")
	require.NoError(t, err)
	assert.Equal(t, false, resp.AsMap()["exists"])
	assert.NotContains(t, resp.AsMap(), "threat_level")
}

func TestGrpcCheckIOC_InvalidArgument(t *testing.T) {
	client := dialBufconn(t, seedStore(t))

	for _, v := range []string{"", "not_an_ioc"} {
		_, err := client.CheckIOC(context.Background(), v)
		assert.Equal(t, codes.InvalidArgument, status.Code(err), v)
	}
}

func TestGrpcStats(t *testing.T) {
	client := dialBufconn(t, seedStore(t))

	resp, err := client.Stats(context.Background())
	require.NoError(t, err)
	fields := resp.AsMap()
	assert.EqualValues(t, 3, fields["total_iocs"])
	assert.EqualValues(t, 2, fields["collection_runs"])
	assert.EqualValues(t, 0.5, fields["success_rate"])
	assert.EqualValues(t, 2, fields["by_source"].(map[string]any)["otx"])
}

func TestGrpcStoreUnavailable(t *testing.T) {
	repo := seedStore(t)
	client := dialBufconn(t, repo)
	require.NoError(t, repo.Close())

	_, err := client.Stats(context.Background())
	assert.Equal(t, codes.Unavailable, status.Code(err))

	_, err = client.CheckIOC(context.Background(), "198.51.100.7")
	assert.Equal(t, codes.Unavailable, status.Code(err))
}
