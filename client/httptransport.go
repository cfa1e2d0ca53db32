package client

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"strings"
	"time"

	keelhttp "github.com/foomo/keel/net/http"
	"github.com/foomo/sysfshelper/pkg/handler"
	"github.com/pkg/errors"
)

type (
	httpTransport struct {
		client   *http.Client
		endpoint string
	}
	HTTPTransportOption func(*httpTransport)
)

// NewHTTPTransport will create a new http transport for the given server.
// Caution: the provided server url is not validated!
func NewHTTPTransport(server string, opts ...HTTPTransportOption) Transport {
	inst := &httpTransport{
		endpoint: strings.TrimSuffix(server, "/"),
	}
	for _, opt := range opts {
		opt(inst)
	}
	if inst.client == nil {
		inst.client = keelhttp.NewHTTPClient(
			keelhttp.HTTPClientWithTimeout(30*time.Second),
			keelhttp.HTTPClientWithTelemetry(),
		)
	}
	return inst
}

func HTTPTransportWithClient(v *http.Client) HTTPTransportOption {
	return func(o *httpTransport) {
		o.client = v
	}
}

func (ht *httpTransport) Close() {
	ht.client.CloseIdleConnections()
}

func (ht *httpTransport) Call(ctx context.Context, route handler.Route, request interface{}, response interface{}) error {
	requestBytes, err := json.Marshal(request)
	if err != nil {
		return errors.Wrap(err, "failed to marshal request")
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, ht.endpoint+"/"+string(route), bytes.NewReader(requestBytes))
	if err != nil {
		return errors.Wrap(err, "failed to create request")
	}
	req.Header.Set("Content-Type", "application/json")

	httpResponse, err := ht.client.Do(req)
	if err != nil {
		return errors.Wrap(err, "failed to send request")
	}
	defer httpResponse.Body.Close()

	if httpResponse.StatusCode != http.StatusOK {
		return errors.Errorf("non 200 reply: %s", httpResponse.Status)
	}
	responseBytes, err := io.ReadAll(httpResponse.Body)
	if err != nil {
		return errors.Wrap(err, "failed to read response")
	}
	return decodeReply(responseBytes, response)
}
