package httpapi

import (
	"encoding/json"

	"google.golang.org/protobuf/types/known/structpb"

	"github.com/BrandonDHaskell/keybox/internal/keybox/types"
)

// Protobuf bodies are a google.protobuf.Struct with the same field names
// as the JSON payload, so both encodings go through the JSON tags.

func structToJSON(s *structpb.Struct, out any) error {
	b, err := s.MarshalJSON()
	if err != nil {
		return err
	}
	return json.Unmarshal(b, out)
}

func jsonToStruct(v any) (*structpb.Struct, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var s structpb.Struct
	if err := s.UnmarshalJSON(b); err != nil {
		return nil, err
	}
	return &s, nil
}

// ── Events ───────────────────────────────────────────────────────────────────

func rawEventFromProto(s *structpb.Struct) (types.RawEvent, error) {
	var raw types.RawEvent
	err := structToJSON(s, &raw)
	return raw, err
}

func ackToProto(a types.Ack) (*structpb.Struct, error) {
	return jsonToStruct(a)
}

// ── Heartbeat ────────────────────────────────────────────────────────────────

func heartbeatRequestFromProto(s *structpb.Struct) (types.HeartbeatRequest, error) {
	var req types.HeartbeatRequest
	err := structToJSON(s, &req)
	return req, err
}

func heartbeatResponseToProto(r types.HeartbeatResponse) (*structpb.Struct, error) {
	return jsonToStruct(r)
}
