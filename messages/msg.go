package messages

import (
	"time"

	"github.com/aukilabs/go-tooling/pkg/errors"
	"github.com/segmentio/encoding/json"
	"golang.org/x/net/websocket"
)

const (
	// ErrTypeMsgSkip tags errors from module handlers that do not serve a
	// message type, letting the connection loop try the next module.
	ErrTypeMsgSkip = "msg_skip"

	// ErrTypeSceneNotJoined tags errors from handlers that need a joined
	// scene.
	ErrTypeSceneNotJoined = "scene_not_joined"

	// ErrTypeBadMsg tags messages that could not be decoded.
	ErrTypeBadMsg = "bad_msg"

	// ErrTypeUnsupportedMsg tags messages that no handler and no module
	// serves.
	ErrTypeUnsupportedMsg = "unsupported_msg"
)

// ErrModuleMsgSkip is returned by module handlers for message types they do
// not serve.
var ErrModuleMsgSkip = errors.New("module does not serve the message").
	WithType(ErrTypeMsgSkip)

// Msg is a framed wire message: its decoded type and the raw JSON it arrived
// or leaves as. Time is when the message was received or created.
type Msg struct {
	Type MsgType
	Data []byte
	Time time.Time
}

// DataTo decodes the message into the given typed message.
func (m Msg) DataTo(v any) error {
	if err := json.Unmarshal(m.Data, v); err != nil {
		return errors.New("decoding message failed").
			WithType(ErrTypeBadMsg).
			WithTag("msg_type", m.Type).
			Wrap(err)
	}
	return nil
}

// TypeString returns the message type as a label friendly string.
func (m Msg) TypeString() string {
	return m.Type.String()
}

// FromPayload frames a typed message.
func FromPayload(p Payload) (Msg, error) {
	data, err := json.Marshal(p)
	if err != nil {
		return Msg{}, errors.New("encoding message failed").
			WithTag("msg_type", p.MsgType()).
			Wrap(err)
	}

	return Msg{
		Type: p.MsgType(),
		Data: data,
		Time: time.Now(),
	}, nil
}

// Sender sends a framed message and reports the number of bytes written.
type Sender func(Msg) (int, error)

// Receiver receives a framed message and reports the number of bytes read.
type Receiver func() (Msg, int, error)

// Send writes a framed message to the given websocket connection.
func Send(conn *websocket.Conn, msg Msg) (int, error) {
	if err := websocket.Message.Send(conn, msg.Data); err != nil {
		return 0, errors.New("sending message failed").
			WithTag("msg_type", msg.Type).
			Wrap(err)
	}
	return len(msg.Data), nil
}

// Receive reads the next framed message from the given websocket connection.
// The frame is kept raw, only the envelope type is decoded.
func Receive(conn *websocket.Conn) (Msg, int, error) {
	var data []byte
	if err := websocket.Message.Receive(conn, &data); err != nil {
		return Msg{}, 0, err
	}

	var envelope struct {
		Type MsgType `json:"type"`
	}
	if err := json.Unmarshal(data, &envelope); err != nil {
		return Msg{}, len(data), errors.New("decoding message envelope failed").
			WithType(ErrTypeBadMsg).
			Wrap(err)
	}

	return Msg{
		Type: envelope.Type,
		Data: data,
		Time: time.Now(),
	}, len(data), nil
}

// ResponseSender queues messages for delivery to the connection a request
// came from.
type ResponseSender interface {
	// Send frames and queues a typed message.
	Send(p Payload)

	// SendMsg queues an already framed message.
	SendMsg(msg Msg)
}
