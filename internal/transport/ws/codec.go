package ws

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/gorilla/websocket"
	"github.com/vmihailenco/msgpack/v5"
)

// SubprotocolMsgpack selects binary msgpack frames. Without it frames are JSON text.
const SubprotocolMsgpack = "msgpack"

// Envelope is one frame on the wire in either direction.
type Envelope struct {
	Event string `json:"event" msgpack:"event"`
	Data  any    `json:"data,omitempty" msgpack:"data,omitempty"`
}

type inbound struct {
	Event string         `json:"event" msgpack:"event"`
	Data  map[string]any `json:"data" msgpack:"data"`
}

type codec interface {
	messageType() int
	encode(Envelope) ([]byte, error)
	decode([]byte) (inbound, error)
}

func codecFor(subprotocol string) codec {
	if subprotocol == SubprotocolMsgpack {
		return msgpackCodec{}
	}
	return jsonCodec{}
}

type jsonCodec struct{}

func (jsonCodec) messageType() int { return websocket.TextMessage }

func (jsonCodec) encode(env Envelope) ([]byte, error) {
	return json.Marshal(env)
}

func (jsonCodec) decode(b []byte) (inbound, error) {
	var in inbound
	if err := json.Unmarshal(b, &in); err != nil {
		return inbound{}, fmt.Errorf("decode json frame: %w", err)
	}
	return in, nil
}

type msgpackCodec struct{}

func (msgpackCodec) messageType() int { return websocket.BinaryMessage }

// Payload structs carry json tags only, so the encoder reads those.
func (msgpackCodec) encode(env Envelope) ([]byte, error) {
	var buf bytes.Buffer
	enc := msgpack.NewEncoder(&buf)
	enc.SetCustomStructTag("json")
	if err := enc.Encode(env); err != nil {
		return nil, fmt.Errorf("encode msgpack frame: %w", err)
	}
	return buf.Bytes(), nil
}

func (msgpackCodec) decode(b []byte) (inbound, error) {
	var in inbound
	dec := msgpack.NewDecoder(bytes.NewReader(b))
	dec.SetCustomStructTag("json")
	if err := dec.Decode(&in); err != nil {
		return inbound{}, fmt.Errorf("decode msgpack frame: %w", err)
	}
	return in, nil
}
