package client

import (
	"context"

	"github.com/foomo/sysfshelper/pkg/handler"
	"github.com/foomo/sysfshelper/responses"
	jsoniter "github.com/json-iterator/go"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Transport carries a request to the server and decodes the reply into response
type Transport interface {
	Call(ctx context.Context, route handler.Route, request interface{}, response interface{}) error
	Close()
}

type serverResponse struct {
	Reply jsoniter.RawMessage `json:"reply"`
}

// decodeReply unwraps {"reply": ...} into response, a remote error is returned as *responses.Error
func decodeReply(data []byte, response interface{}) error {
	envelope := serverResponse{}
	if err := json.Unmarshal(data, &envelope); err != nil {
		return err
	}
	if remoteErr := asRemoteError(envelope.Reply); remoteErr != nil {
		return remoteErr
	}
	if response == nil {
		return nil
	}
	return json.Unmarshal(envelope.Reply, response)
}

func asRemoteError(reply []byte) *responses.Error {
	if len(reply) == 0 || reply[0] != '{' {
		return nil
	}
	var candidate struct {
		Code    *int    `json:"code"`
		Message *string `json:"message"`
	}
	if err := json.Unmarshal(reply, &candidate); err != nil || candidate.Code == nil || candidate.Message == nil {
		return nil
	}
	remoteErr := &responses.Error{}
	if err := json.Unmarshal(reply, remoteErr); err != nil {
		return nil
	}
	return remoteErr
}
