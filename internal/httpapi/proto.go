package httpapi

import (
	"fmt"
	"io"
	"mime"
	"net/http"

	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"
)

// maxRequestBody caps event and admin bodies in either encoding.  Key box
// events are a few hundred bytes at most.
const maxRequestBody = 4096

const protobufContentType = "application/x-protobuf"

var protobufMediaTypes = map[string]bool{
	protobufContentType:        true,
	"application/protobuf":     true,
	"application/octet-stream": true,
}

// isProtobuf reports whether the body is a serialized google.protobuf.Struct.
// Media type parameters are ignored.
func isProtobuf(r *http.Request) bool {
	mt, _, err := mime.ParseMediaType(r.Header.Get("Content-Type"))
	return err == nil && protobufMediaTypes[mt]
}

func readStruct(r *http.Request) (*structpb.Struct, error) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxRequestBody))
	if err != nil {
		return nil, err
	}
	var msg structpb.Struct
	if err := proto.Unmarshal(body, &msg); err != nil {
		return nil, fmt.Errorf("decode struct body: %w", err)
	}
	return &msg, nil
}

func writeStruct(w http.ResponseWriter, status int, msg *structpb.Struct) {
	data, err := proto.Marshal(msg)
	if err != nil {
		http.Error(w, "proto marshal error", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", protobufContentType)
	w.WriteHeader(status)
	_, _ = w.Write(data)
}
