package handler

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"net"
	"strconv"
	"strings"

	"github.com/foomo/sysfshelper/pkg/metrics"
	"github.com/foomo/sysfshelper/pkg/repo"
	"github.com/foomo/sysfshelper/responses"
	"github.com/pkg/errors"
	"go.uber.org/zap"
)

const (
	// MaxSocketRequestLength upper bound of the json length announced in a request header
	MaxSocketRequestLength = 1 << 20
	// MaxSocketHeaderLength upper bound of "route:length" including the opening brace
	MaxSocketHeaderLength = 64
)

var errHeaderTooLong = errors.New("header too long")

type Socket struct {
	l          *zap.Logger
	repo       *repo.Repo
	dispatcher *dispatcher
}

// ------------------------------------------------------------------------------------------------
// ~ Constructor
// ------------------------------------------------------------------------------------------------

// NewSocket returns a handler speaking "route:length{json}" on plain connections
func NewSocket(l *zap.Logger, repo *repo.Repo) *Socket {
	inst := &Socket{
		l:    l.Named("socket"),
		repo: repo,
	}
	inst.dispatcher = &dispatcher{
		l:      inst.l,
		repo:   repo,
		source: sourceSocketServer,
	}
	return inst
}

// ------------------------------------------------------------------------------------------------
// ~ Public methods
// ------------------------------------------------------------------------------------------------

// Serve handles requests on conn until the client hangs up or sends garbage.
// It closes conn.
func (h *Socket) Serve(ctx context.Context, conn net.Conn) {
	remote := conn.RemoteAddr().String()
	l := h.l.With(zap.String("remote", remote))

	defer func() {
		if r := recover(); r != nil {
			l.Error("panic in handle connection", zap.String("error", fmt.Sprint(r)))
		}
		metrics.NumSocketsGauge.WithLabelValues(remote).Dec()
		_ = conn.Close()
	}()

	l.Debug("handling connection")
	metrics.NumSocketsGauge.WithLabelValues(remote).Inc()

	reader := bufio.NewReader(conn)
	for {
		header, readErr := readHeader(reader)
		if errors.Is(readErr, io.EOF) {
			l.Debug("looks like the client closed the connection")
			return
		} else if readErr != nil && !errors.Is(readErr, errHeaderTooLong) {
			l.Debug("could not read header", zap.Error(readErr))
			return
		}

		route, jsonLength, headerErr := Route(""), 0, readErr
		if headerErr == nil {
			route, jsonLength, headerErr = h.extractRouteAndJSONLength(header)
		}
		if headerErr != nil {
			l.Error("invalid request could not read header", zap.Error(headerErr))
			if encoded, err := h.dispatcher.encodeReply(responses.NewError(ErrorCodeBadHeader, "invalid header "+headerErr.Error())); err == nil {
				h.writeResponse(l, conn, encoded)
			}
			return
		}
		l.Debug("found json", zap.String("route", string(route)), zap.Int("length", jsonLength))

		jsonBytes := make([]byte, jsonLength)
		if _, err := io.ReadFull(reader, jsonBytes); err != nil {
			l.Error("could not read json - giving up with this client connection", zap.Error(err))
			return
		}

		h.writeResponse(l, conn, h.execute(ctx, route, jsonBytes))
		// the connection remains open for the next request
	}
}

// ------------------------------------------------------------------------------------------------
// ~ Private methods
// ------------------------------------------------------------------------------------------------

// readHeader reads everything up to the opening brace, which stays unread
func readHeader(reader *bufio.Reader) (string, error) {
	var header []byte
	for len(header) < MaxSocketHeaderLength {
		b, err := reader.ReadByte()
		if err != nil {
			return "", err
		}
		if b == '{' {
			return string(header), reader.UnreadByte()
		}
		header = append(header, b)
	}
	return "", errors.Wrapf(errHeaderTooLong, "no '{' within %d bytes", MaxSocketHeaderLength)
}

func (h *Socket) extractRouteAndJSONLength(header string) (route Route, jsonLength int, err error) {
	headerParts := strings.Split(header, ":")
	if len(headerParts) != 2 {
		return "", 0, errors.Errorf("invalid header %q", header)
	}
	jsonLength, err = strconv.Atoi(headerParts[1])
	if err != nil {
		return "", 0, errors.Errorf("could not parse length in header: %q", header)
	}
	if jsonLength < 1 || jsonLength > MaxSocketRequestLength {
		return "", 0, errors.Errorf("invalid json length %d", jsonLength)
	}
	return Route(headerParts[0]), jsonLength, nil
}

func (h *Socket) execute(ctx context.Context, route Route, jsonBytes []byte) []byte {
	if route == RouteGetSnapshot {
		var b bytes.Buffer
		if err := h.repo.WriteSnapshotBytes(ctx, &b); err != nil {
			h.l.Error("could not write snapshot", zap.Error(err))
			reply, _ := h.dispatcher.encodeReply(responses.NewError(ErrorCodeAPI, "internal error "+err.Error()))
			return reply
		}
		return b.Bytes()
	}

	reply, err := h.dispatcher.handleRequest(ctx, route, jsonBytes)
	if err != nil {
		h.l.Error("socket execute failed", zap.Error(err))
	}
	return reply
}

func (h *Socket) writeResponse(l *zap.Logger, conn net.Conn, reply []byte) {
	reply = append([]byte(strconv.Itoa(len(reply))), reply...)
	n, err := conn.Write(reply)
	if err != nil {
		l.Error("could not write reply", zap.Error(err))
		return
	}
	if n < len(reply) {
		l.Error("write too short", zap.Int("got", n), zap.Int("expected", len(reply)))
		return
	}
	l.Debug("replied, waiting for next request on open connection")
}
