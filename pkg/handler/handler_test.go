package handler_test

import (
	"bufio"
	"bytes"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/foomo/sysfshelper/device"
	"github.com/foomo/sysfshelper/pkg/handler"
	"github.com/foomo/sysfshelper/pkg/repo"
	"github.com/foomo/sysfshelper/pkg/repo/mock"
	"github.com/foomo/sysfshelper/responses"
	jsoniter "github.com/json-iterator/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
	"golang.org/x/net/nettest"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

func newTestRepo(t *testing.T) *repo.Repo {
	t.Helper()
	l := zaptest.NewLogger(t)
	h, err := repo.NewHistory(l, repo.HistoryWithHistoryDir(t.TempDir()))
	require.NoError(t, err)
	r := repo.New(l, mock.NewScanner(mock.MakeSnapshot()), h)

	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = r.Start(t.Context())
	}()
	t.Cleanup(func() {
		<-done
	})
	require.Eventually(t, r.Loaded, time.Second, 5*time.Millisecond)
	return r
}

func post(t *testing.T, url, body string) (int, []byte) {
	t.Helper()
	resp, err := http.Post(url, "application/json", strings.NewReader(body)) //nolint:noctx
	require.NoError(t, err)
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp.StatusCode, data
}

func get(t *testing.T, url string) (int, []byte) {
	t.Helper()
	resp, err := http.Get(url) //nolint:noctx
	require.NoError(t, err)
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp.StatusCode, data
}

func TestHTTP(t *testing.T) {
	var (
		l      = zaptest.NewLogger(t)
		r      = newTestRepo(t)
		server = httptest.NewServer(handler.NewHTTP(l, r, handler.WithPath("/sysfshelper/")))
	)
	defer server.Close()

	t.Run("listFunctions", func(t *testing.T) {
		status, body := post(t, server.URL+"/sysfshelper/listFunctions", "{}")
		require.Equal(t, http.StatusOK, status)
		var reply struct {
			Reply []*device.Function `json:"reply"`
		}
		require.NoError(t, json.Unmarshal(body, &reply))
		assert.Len(t, reply.Reply, 3)
	})

	t.Run("findByID", func(t *testing.T) {
		_, body := post(t, server.URL+"/sysfshelper/findByID", `{"vid":"0x046D","pid":"0825"}`)
		var reply struct {
			Reply []*device.Function `json:"reply"`
		}
		require.NoError(t, json.Unmarshal(body, &reply))
		assert.Len(t, reply.Reply, 2)
	})

	t.Run("find", func(t *testing.T) {
		_, body := post(t, server.URL+"/sysfshelper/find", `{"dev":"/dev/ttyUSB0"}`)
		var reply struct {
			Reply *device.Lookup `json:"reply"`
		}
		require.NoError(t, json.Unmarshal(body, &reply))
		require.Equal(t, device.StatusOk, reply.Reply.Status)
		assert.Equal(t, "67b", reply.Reply.Function.VID)
	})

	t.Run("listIDs", func(t *testing.T) {
		_, body := post(t, server.URL+"/sysfshelper/listIDs", "")
		var reply struct {
			Reply []device.ID `json:"reply"`
		}
		require.NoError(t, json.Unmarshal(body, &reply))
		assert.Len(t, reply.Reply, 3)
	})

	t.Run("update", func(t *testing.T) {
		_, body := post(t, server.URL+"/sysfshelper/update", "{}")
		var reply struct {
			Reply *responses.Update `json:"reply"`
		}
		require.NoError(t, json.Unmarshal(body, &reply))
		assert.True(t, reply.Reply.Success)
		assert.Equal(t, 3, reply.Reply.Stats.NumberOfFunctions)
	})

	t.Run("getSnapshot", func(t *testing.T) {
		status, body := post(t, server.URL+"/sysfshelper/getSnapshot", "{}")
		require.Equal(t, http.StatusOK, status)
		var reply struct {
			Reply *device.Snapshot `json:"reply"`
		}
		require.NoError(t, json.Unmarshal(body, &reply))
		assert.Equal(t, "mock", reply.Reply.Host)
	})

	t.Run("errors", func(t *testing.T) {
		for route, code := range map[string]int{
			"nope":     handler.ErrorCodeUnknownHandler,
			"find":     handler.ErrorCodeBadJSON,
			"findByID": handler.ErrorCodeBadJSON,
		} {
			_, body := post(t, server.URL+"/sysfshelper/"+route, "{broken")
			var reply struct {
				Reply *responses.Error `json:"reply"`
			}
			require.NoError(t, json.Unmarshal(body, &reply), route)
			assert.Equal(t, code, reply.Reply.Code, route)
		}

		_, body := post(t, server.URL+"/sysfshelper/find", `{"dev":""}`)
		var reply struct {
			Reply *responses.Error `json:"reply"`
		}
		require.NoError(t, json.Unmarshal(body, &reply))
		assert.Equal(t, handler.ErrorCodeAPI, reply.Reply.Code)
	})

	t.Run("method", func(t *testing.T) {
		status, _ := get(t, server.URL+"/sysfshelper/listFunctions")
		assert.Equal(t, http.StatusMethodNotAllowed, status)
	})
}

func socketRequest(t *testing.T, conn net.Conn, reader *bufio.Reader, route, body string) []byte {
	t.Helper()
	_, err := conn.Write([]byte(route + ":" + strconv.Itoa(len(body)) + body))
	require.NoError(t, err)
	return readReply(t, reader)
}

func readReply(t *testing.T, reader *bufio.Reader) []byte {
	t.Helper()
	header, err := reader.ReadString('{')
	require.NoError(t, err)
	length, err := strconv.Atoi(strings.TrimSuffix(header, "{"))
	require.NoError(t, err)
	reply := make([]byte, length)
	reply[0] = '{'
	_, err = io.ReadFull(reader, reply[1:])
	require.NoError(t, err)
	return reply
}

func TestSocket(t *testing.T) {
	var (
		l = zaptest.NewLogger(t)
		r = newTestRepo(t)
		h = handler.NewSocket(l, r)
	)
	ln, err := nettest.NewLocalListener("tcp")
	require.NoError(t, err)
	defer ln.Close()

	served := make(chan struct{})
	go func() {
		defer close(served)
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		h.Serve(t.Context(), conn)
	}()

	conn, err := net.Dial(ln.Addr().Network(), ln.Addr().String())
	require.NoError(t, err)
	reader := bufio.NewReader(conn)

	// several requests on one connection
	var functions struct {
		Reply []*device.Function `json:"reply"`
	}
	require.NoError(t, json.Unmarshal(socketRequest(t, conn, reader, "listFunctions", "{}"), &functions))
	assert.Len(t, functions.Reply, 3)

	var lookup struct {
		Reply *device.Lookup `json:"reply"`
	}
	require.NoError(t, json.Unmarshal(socketRequest(t, conn, reader, "find", `{"dev":"snd/controlC1"}`), &lookup))
	assert.Equal(t, device.StatusOk, lookup.Reply.Status)
	assert.Equal(t, "sound", lookup.Reply.Function.ClassName)

	var snapshot struct {
		Reply *device.Snapshot `json:"reply"`
	}
	require.NoError(t, json.Unmarshal(socketRequest(t, conn, reader, "getSnapshot", "{}"), &snapshot))
	assert.Len(t, snapshot.Reply.IDs, 3)

	var unknown struct {
		Reply *responses.Error `json:"reply"`
	}
	require.NoError(t, json.Unmarshal(socketRequest(t, conn, reader, "nope", "{}"), &unknown))
	assert.Equal(t, handler.ErrorCodeUnknownHandler, unknown.Reply.Code)

	// a broken header ends the conversation
	_, err = conn.Write([]byte("listFunctions:abc{}"))
	require.NoError(t, err)
	var bad struct {
		Reply *responses.Error `json:"reply"`
	}
	require.NoError(t, json.Unmarshal(readReply(t, reader), &bad))
	assert.Equal(t, handler.ErrorCodeBadHeader, bad.Reply.Code)

	select {
	case <-served:
	case <-time.After(time.Second):
		t.Fatal("socket handler did not return")
	}
	require.NoError(t, conn.Close())
}

func TestSocketHeaderTooLong(t *testing.T) {
	var (
		l              = zaptest.NewLogger(t)
		r              = newTestRepo(t)
		h              = handler.NewSocket(l, r)
		client, server = net.Pipe()
	)
	defer client.Close()

	served := make(chan struct{})
	go func() {
		defer close(served)
		h.Serve(t.Context(), server)
	}()

	// 4 MiB without an opening brace
	go func() {
		_, _ = client.Write(bytes.Repeat([]byte("x"), 4<<20))
	}()

	require.NoError(t, client.SetReadDeadline(time.Now().Add(3*time.Second)))
	var bad struct {
		Reply *responses.Error `json:"reply"`
	}
	require.NoError(t, json.Unmarshal(readReply(t, bufio.NewReader(client)), &bad))
	assert.Equal(t, handler.ErrorCodeBadHeader, bad.Reply.Code)

	select {
	case <-served:
	case <-time.After(time.Second):
		t.Fatal("socket handler did not close the connection")
	}
}

func TestREST(t *testing.T) {
	var (
		l      = zaptest.NewLogger(t)
		r      = newTestRepo(t)
		server = httptest.NewServer(handler.NewREST(l, r))
	)
	defer server.Close()

	status, body := get(t, server.URL+"/functions")
	require.Equal(t, http.StatusOK, status)
	var functions []*device.Function
	require.NoError(t, json.Unmarshal(body, &functions))
	assert.Len(t, functions, 3)

	status, body = get(t, server.URL+"/functions/46d/0x0825")
	require.Equal(t, http.StatusOK, status)
	require.NoError(t, json.Unmarshal(body, &functions))
	assert.Len(t, functions, 2)

	status, body = get(t, server.URL+"/ids")
	require.Equal(t, http.StatusOK, status)
	var ids []device.ID
	require.NoError(t, json.Unmarshal(body, &ids))
	assert.Equal(t, device.ID{VID: "1d6b", PID: "2"}, ids[0])

	status, body = get(t, server.URL+"/dev/snd/controlC1")
	require.Equal(t, http.StatusOK, status)
	var lookup device.Lookup
	require.NoError(t, json.Unmarshal(body, &lookup))
	assert.Equal(t, "825", lookup.Function.PID)

	status, _ = get(t, server.URL+"/dev/ttyS0")
	assert.Equal(t, http.StatusNotFound, status)

	status, body = get(t, server.URL+"/snapshot")
	require.Equal(t, http.StatusOK, status)
	var snapshot device.Snapshot
	require.NoError(t, json.Unmarshal(body, &snapshot))
	assert.Equal(t, "mock", snapshot.Host)

	resp, err := http.Post(server.URL+"/update", "application/json", bytes.NewReader(nil)) //nolint:noctx
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "application/json", resp.Header.Get("Content-Type"))
}
