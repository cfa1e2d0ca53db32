package client

import (
	"context"
	"io"
	"net"
	"strconv"
	"time"

	"github.com/foomo/sysfshelper/pkg/handler"
	"github.com/pkg/errors"
)

type socketTransport struct {
	connPool *connectionPool
}

// NewSocketTransport talks "route:length{json}" to server over pooled tcp connections
func NewSocketTransport(server string, connectionPoolSize int, waitTimeout time.Duration) Transport {
	return &socketTransport{
		connPool: newConnectionPool(server, connectionPoolSize, waitTimeout),
	}
}

func (st *socketTransport) Close() {
	_ = st.connPool.close()
}

func (st *socketTransport) Call(ctx context.Context, route handler.Route, request interface{}, response interface{}) error {
	jsonBytes, err := json.Marshal(request)
	if err != nil {
		return errors.Wrap(err, "could not marshal request")
	}

	conn, err := st.connPool.get(ctx)
	if err != nil {
		return err
	}

	responseBytes, err := st.roundTrip(ctx, conn, route, jsonBytes)
	st.connPool.put(conn, err)
	if err != nil {
		return err
	}
	return decodeReply(responseBytes, response)
}

func (st *socketTransport) roundTrip(ctx context.Context, conn net.Conn, route handler.Route, jsonBytes []byte) ([]byte, error) {
	if deadline, ok := ctx.Deadline(); ok {
		if err := conn.SetDeadline(deadline); err != nil {
			return nil, err
		}
		defer conn.SetDeadline(time.Time{}) //nolint:errcheck
	}

	// header will be like route:2{}
	request := append([]byte(string(route)+":"+strconv.Itoa(len(jsonBytes))), jsonBytes...)
	if _, err := conn.Write(request); err != nil {
		return nil, errors.Wrap(err, "failed to send request")
	}

	// the reply length is terminated by the opening brace of the json
	var (
		header []byte
		b      = make([]byte, 1)
	)
	for {
		if _, err := io.ReadFull(conn, b); err != nil {
			return nil, errors.Wrap(err, "failed to read response header")
		}
		if b[0] == '{' {
			break
		}
		header = append(header, b[0])
	}
	responseLength, err := strconv.Atoi(string(header))
	if err != nil || responseLength < 1 {
		return nil, errors.Errorf("could not read response length %q", string(header))
	}

	responseBytes := make([]byte, responseLength)
	responseBytes[0] = '{'
	if _, err := io.ReadFull(conn, responseBytes[1:]); err != nil {
		return nil, errors.Wrap(err, "failed to read response")
	}
	return responseBytes, nil
}
