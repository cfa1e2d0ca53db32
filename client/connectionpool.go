package client

import (
	"context"
	"net"
	"sync"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/multierr"
)

var ErrPoolClosed = errors.New("connection pool has been drained, client is dead")

// connectionPool hands out at most size connections to address.
// Connections returned without an error are kept for reuse.
type connectionPool struct {
	address     string
	waitTimeout time.Duration
	dialer      net.Dialer
	slots       chan struct{}
	idle        chan net.Conn
	closed      chan struct{}
	closeOnce   sync.Once
}

func newConnectionPool(address string, size int, waitTimeout time.Duration) *connectionPool {
	return &connectionPool{
		address:     address,
		waitTimeout: waitTimeout,
		slots:       make(chan struct{}, size),
		idle:        make(chan net.Conn, size),
		closed:      make(chan struct{}),
	}
}

// get waits up to waitTimeout for a free slot and returns an idle or fresh connection
func (c *connectionPool) get(ctx context.Context) (net.Conn, error) {
	select {
	case <-c.closed:
		return nil, ErrPoolClosed
	default:
	}

	wait := ctx
	if c.waitTimeout > 0 {
		var cancel context.CancelFunc
		wait, cancel = context.WithTimeout(ctx, c.waitTimeout)
		defer cancel()
	}

	select {
	case <-c.closed:
		return nil, ErrPoolClosed
	case <-wait.Done():
		return nil, errors.Wrap(wait.Err(), "could not get a connection")
	case c.slots <- struct{}{}:
	}

	select {
	case conn := <-c.idle:
		return conn, nil
	default:
	}

	conn, err := c.dialer.DialContext(ctx, "tcp", c.address)
	if err != nil {
		<-c.slots
		return nil, errors.Wrapf(err, "failed to dial %q", c.address)
	}
	return conn, nil
}

// put releases the slot of conn, broken connections are closed
func (c *connectionPool) put(conn net.Conn, err error) {
	defer func() {
		<-c.slots
	}()
	if err != nil {
		_ = conn.Close()
		return
	}
	select {
	case <-c.closed:
		_ = conn.Close()
	case c.idle <- conn:
	default:
		_ = conn.Close()
	}
}

func (c *connectionPool) close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.closed)
		for {
			select {
			case conn := <-c.idle:
				err = multierr.Append(err, conn.Close())
			default:
				return
			}
		}
	})
	return err
}
