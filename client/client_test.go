package client_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/foomo/sysfshelper/client"
	"github.com/foomo/sysfshelper/device"
	"github.com/foomo/sysfshelper/pkg/repo"
	"github.com/foomo/sysfshelper/pkg/repo/mock"
	"github.com/foomo/sysfshelper/responses"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"
)

func TestUpdate(t *testing.T) {
	testWithClients(t, func(t *testing.T, c *client.Client) {
		response, err := c.Update(t.Context())
		require.NoError(t, err)
		require.True(t, response.Success, "update has to return .Success true")
		assert.Equal(t, 3, response.Stats.NumberOfFunctions)
		assert.Equal(t, 3, response.Stats.NumberOfIDs)
		assert.GreaterOrEqual(t, response.Stats.OwnRuntime, 0.0)
		assert.GreaterOrEqual(t, response.Stats.ScanRuntime, 0.0)
	})
}

func TestListFunctions(t *testing.T) {
	testWithClients(t, func(t *testing.T, c *client.Client) {
		functions, err := c.ListFunctions(t.Context())
		require.NoError(t, err)
		assert.Equal(t, mock.MakeSnapshot().Functions, functions)
	})
}

func TestFindByID(t *testing.T) {
	testWithClients(t, func(t *testing.T, c *client.Client) {
		functions, err := c.FindByID(t.Context(), "0x046d", "0x0825")
		require.NoError(t, err)
		require.Len(t, functions, 2)
		for _, f := range functions {
			assert.True(t, f.Matches("46d", "825"))
		}

		functions, err = c.FindByID(t.Context(), "dead", "beef")
		require.NoError(t, err)
		assert.Empty(t, functions)
	})
}

func TestFind(t *testing.T) {
	testWithClients(t, func(t *testing.T, c *client.Client) {
		lookup, err := c.Find(t.Context(), "/dev/video0")
		require.NoError(t, err)
		require.Equal(t, device.StatusOk, lookup.Status)
		assert.Equal(t, "video4linux", lookup.Function.ClassName)

		lookup, err = c.Find(t.Context(), "ttyS0")
		require.NoError(t, err)
		assert.Equal(t, device.StatusNotFound, lookup.Status)
		assert.Nil(t, lookup.Function)
	})
}

func TestFindRemoteError(t *testing.T) {
	testWithClients(t, func(t *testing.T, c *client.Client) {
		_, err := c.Find(t.Context(), "")
		require.Error(t, err)
		var remoteErr *responses.Error
		require.ErrorAs(t, err, &remoteErr)
		assert.Equal(t, 3, remoteErr.Code)
	})
}

func TestListIDs(t *testing.T) {
	testWithClients(t, func(t *testing.T, c *client.Client) {
		ids, err := c.ListIDs(t.Context())
		require.NoError(t, err)
		assert.Equal(t, mock.MakeSnapshot().IDs, ids)
	})
}

func TestGetSnapshot(t *testing.T) {
	testWithClients(t, func(t *testing.T, c *client.Client) {
		snapshot, err := c.GetSnapshot(t.Context())
		require.NoError(t, err)
		expected := mock.MakeSnapshot()
		assert.Equal(t, expected.Host, snapshot.Host)
		assert.True(t, expected.ScannedAt.Equal(snapshot.ScannedAt))
		assert.Equal(t, expected.Functions, snapshot.Functions)
	})
}

func testWithClients(t *testing.T, testFunc func(t *testing.T, c *client.Client)) {
	t.Helper()
	l := zaptest.NewLogger(t)
	r := initRepo(t, l)

	httpServer := initHTTPRepoServer(t, l, r)
	defer httpServer.Close()
	socketServer := initSocketRepoServer(t, l, r)
	defer socketServer.Close()

	httpClient := newHTTPClient(t, httpServer)
	defer httpClient.Close()
	socketClient := newSocketClient(t, socketServer.Addr().String())
	defer socketClient.Close()

	t.Run("http", func(t *testing.T) {
		testFunc(t, httpClient)
	})
	t.Run("socket", func(t *testing.T) {
		testFunc(t, socketClient)
	})
}

type ListFunctionsClient interface {
	ListFunctions(ctx context.Context) ([]*device.Function, error)
}

func benchmarkServerAndClientListFunctions(b *testing.B, numGroups, numCalls int, client ListFunctionsClient) {
	b.Helper()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		start := time.Now()
		benchmarkClientAndServerListFunctions(b, numGroups, numCalls, client)
		dur := time.Since(start)
		totalCalls := numGroups * numCalls
		b.Log("requests per second", int(float64(totalCalls)/dur.Seconds()), dur, totalCalls)
	}
}

func benchmarkClientAndServerListFunctions(tb testing.TB, numGroups, numCalls int, client ListFunctionsClient) {
	tb.Helper()
	var wg sync.WaitGroup
	wg.Add(numGroups)
	for group := 0; group < numGroups; group++ {
		go func() {
			defer wg.Done()
			for i := 0; i < numCalls; i++ {
				functions, err := client.ListFunctions(tb.Context())
				if err == nil && len(functions) != 3 {
					tb.Error("unexpected number of functions", len(functions))
					return
				}
			}
		}()
	}
	wg.Wait()
}

func initRepo(tb testing.TB, l *zap.Logger) *repo.Repo {
	tb.Helper()
	h, err := repo.NewHistory(l, repo.HistoryWithHistoryDir(tb.TempDir()))
	require.NoError(tb, err)
	r := repo.New(l, mock.NewScanner(mock.MakeSnapshot()), h)

	up := make(chan bool, 1)
	r.OnLoaded(func() {
		up <- true
	})
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = r.Start(tb.Context())
	}()
	tb.Cleanup(func() {
		<-done
	})
	<-up
	return r
}
