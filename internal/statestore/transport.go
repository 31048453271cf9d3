package statestore

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/pebbe/zmq4"

	"github.com/plume-design/opensync-sub021/internal/basedef"
)

// Operation mirrors base_msg.ConfigQuery_Operation in the original
// ap_common.Config, generalized from single-property GET/SET/CREATE/DELETE
// to row-oriented table operations.
type Operation int

const (
	OpGet Operation = iota
	OpInsert
	OpUpdate
	OpDelete
)

// Request is one row-level State Store operation.
type Request struct {
	Sender    string
	Operation Operation
	Table     string
	Key       string // if_name
	// Fields carries the column set for Insert/Update; for Update, only
	// the changed columns need to be present.
	Fields map[string]string
}

// Response is the State Store's reply to a Request.
type Response struct {
	OK   bool
	Rows []map[string]string
	Err  string
}

// Transport is the wire boundary to the (externally implemented) State
// Store process. It exists so reconcilers can be tested against a fake
// without a live ZMQ peer.
type Transport interface {
	Do(req Request) (Response, error)
	Close() error
}

// zmqTransport implements Transport using a ZMQ REQ socket, the same
// request/reply pattern ap_common.Config and apcfg.APConfig use against
// ap.configd. The original protobuf envelope (base_msg.ConfigQuery) is
// replaced with an equivalent JSON envelope: wiring an actual protobuf
// codec would require protoc-generated code this rewrite has no toolchain
// access to produce (see DESIGN.md).
type zmqTransport struct {
	mu     sync.Mutex
	socket *zmq4.Socket
	sender string
}

// NewZMQTransport dials the State Store's REQ/REP endpoint.
func NewZMQTransport(name string) (Transport, error) {
	socket, err := zmq4.NewSocket(zmq4.REQ)
	if err != nil {
		return nil, fmt.Errorf("statestore: new socket: %w", err)
	}
	if err := socket.SetSndtimeo(basedef.LocalZMQSendTimeout); err != nil {
		return nil, fmt.Errorf("statestore: send timeout: %w", err)
	}
	if err := socket.SetRcvtimeo(basedef.LocalZMQReceiveTimeout); err != nil {
		return nil, fmt.Errorf("statestore: recv timeout: %w", err)
	}
	if err := socket.Connect(fmt.Sprintf("%s:%d", basedef.ApplianceZMQURL, basedef.StateStoreZMQRepPort)); err != nil {
		return nil, fmt.Errorf("statestore: connect: %w", err)
	}
	return &zmqTransport{socket: socket, sender: name}, nil
}

type wireEnvelope struct {
	Timestamp time.Time         `json:"timestamp"`
	Sender    string            `json:"sender"`
	Operation Operation         `json:"operation"`
	Table     string            `json:"table"`
	Key       string            `json:"key"`
	Fields    map[string]string `json:"fields,omitempty"`
}

type wireResponse struct {
	OK    bool                `json:"ok"`
	Rows  []map[string]string `json:"rows,omitempty"`
	Error string              `json:"error,omitempty"`
}

func (z *zmqTransport) Do(req Request) (Response, error) {
	env := wireEnvelope{
		Timestamp: time.Now(),
		Sender:    z.sender,
		Operation: req.Operation,
		Table:     req.Table,
		Key:       req.Key,
		Fields:    req.Fields,
	}
	data, err := json.Marshal(env)
	if err != nil {
		return Response{}, fmt.Errorf("statestore: marshal request: %w", err)
	}

	z.mu.Lock()
	defer z.mu.Unlock()

	if _, err := z.socket.SendBytes(data, 0); err != nil {
		return Response{}, fmt.Errorf("statestore: send: %w", err)
	}
	reply, err := z.socket.RecvBytes(0)
	if err != nil {
		return Response{}, fmt.Errorf("statestore: recv: %w", err)
	}

	var wr wireResponse
	if err := json.Unmarshal(reply, &wr); err != nil {
		return Response{}, fmt.Errorf("statestore: unmarshal response: %w", err)
	}
	return Response{OK: wr.OK, Rows: wr.Rows, Err: wr.Error}, nil
}

func (z *zmqTransport) Close() error {
	return z.socket.Close()
}
