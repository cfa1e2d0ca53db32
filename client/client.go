package client

import (
	"context"
	"time"

	"github.com/foomo/sysfshelper/device"
	"github.com/foomo/sysfshelper/pkg/handler"
	"github.com/foomo/sysfshelper/pkg/utils"
	"github.com/foomo/sysfshelper/requests"
	"github.com/foomo/sysfshelper/responses"
	"github.com/pkg/errors"
)

// Client talks to a sysfshelper server
type Client struct {
	t Transport
}

// ------------------------------------------------------------------------------------------------
// ~ Constructor
// ------------------------------------------------------------------------------------------------

func New(t Transport) *Client {
	return &Client{
		t: t,
	}
}

// NewHTTPClient creates a client for the json rpc endpoint at server, e.g. "http://localhost:8080/sysfshelper"
func NewHTTPClient(server string, opts ...HTTPTransportOption) (*Client, error) {
	if !utils.IsValidUrl(server) {
		return nil, errors.Errorf("invalid server url %q", server)
	}
	return New(NewHTTPTransport(server, opts...)), nil
}

// NewSocketClient creates a client for the socket server at address, e.g. "localhost:8081"
func NewSocketClient(address string, connectionPoolSize int, waitTimeout time.Duration) (*Client, error) {
	if !utils.IsValidAddress(address) {
		return nil, errors.Errorf("invalid socket address %q", address)
	}
	if connectionPoolSize < 1 {
		return nil, errors.Errorf("invalid connection pool size %d", connectionPoolSize)
	}
	return New(NewSocketTransport(address, connectionPoolSize, waitTimeout)), nil
}

// ------------------------------------------------------------------------------------------------
// ~ Public methods
// ------------------------------------------------------------------------------------------------

// ListFunctions all usb functions of the server's host
func (c *Client) ListFunctions(ctx context.Context) ([]*device.Function, error) {
	var response []*device.Function
	if err := c.t.Call(ctx, handler.RouteListFunctions, &requests.ListFunctions{}, &response); err != nil {
		return nil, err
	}
	return response, nil
}

// FindByID functions of a vid:pid pair
func (c *Client) FindByID(ctx context.Context, vid, pid string) ([]*device.Function, error) {
	var response []*device.Function
	if err := c.t.Call(ctx, handler.RouteFindByID, &requests.FindByID{VID: vid, PID: pid}, &response); err != nil {
		return nil, err
	}
	return response, nil
}

// Find the function behind a device node
func (c *Client) Find(ctx context.Context, dev string) (*device.Lookup, error) {
	response := &device.Lookup{}
	if err := c.t.Call(ctx, handler.RouteFind, &requests.Find{Dev: dev}, response); err != nil {
		return nil, err
	}
	return response, nil
}

// ListIDs all vid:pid pairs of the server's host
func (c *Client) ListIDs(ctx context.Context) ([]device.ID, error) {
	var response []device.ID
	if err := c.t.Call(ctx, handler.RouteListIDs, &requests.ListIDs{}, &response); err != nil {
		return nil, err
	}
	return response, nil
}

// Update tell the server to rescan sysfs
func (c *Client) Update(ctx context.Context) (*responses.Update, error) {
	response := &responses.Update{}
	if err := c.t.Call(ctx, handler.RouteUpdate, &requests.Update{}, response); err != nil {
		return nil, err
	}
	return response, nil
}

// GetSnapshot the whole current snapshot
func (c *Client) GetSnapshot(ctx context.Context) (*device.Snapshot, error) {
	response := device.NewSnapshot()
	if err := c.t.Call(ctx, handler.RouteGetSnapshot, struct{}{}, response); err != nil {
		return nil, err
	}
	return response, nil
}

func (c *Client) Close() {
	c.t.Close()
}
