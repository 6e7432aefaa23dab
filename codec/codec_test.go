package codec

import (
	"testing"

	"lightbus/message"
)

func TestJSONCodecRpcMessageRoundTrip(t *testing.T) {
	jsonCodec := &JSONCodec{}

	original := &message.RpcMessage{
		RPCID:         "abc123",
		APIName:       "arith",
		ProcedureName: "add",
		Kwargs_:       map[string]any{"a": 1.0, "b": 2.0},
		ReturnPath:    "memory://abc123",
	}

	data, err := jsonCodec.Encode(original)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}

	var decoded message.RpcMessage
	if err := jsonCodec.Decode(data, &decoded); err != nil {
		t.Fatalf("Decode: %v", err)
	}

	if decoded.RPCID != original.RPCID || decoded.APIName != original.APIName ||
		decoded.ProcedureName != original.ProcedureName || decoded.ReturnPath != original.ReturnPath {
		t.Fatalf("envelope mismatch: got %+v, want %+v", decoded, original)
	}
	if decoded.Kwargs_["a"] != 1.0 || decoded.Kwargs_["b"] != 2.0 {
		t.Fatalf("kwargs mismatch: got %v", decoded.Kwargs_)
	}
}

func TestBinaryCodecRpcMessageRoundTrip(t *testing.T) {
	binaryCodec := &BinaryCodec{}

	original := &message.RpcMessage{
		RPCID:         "abc123",
		APIName:       "arith",
		ProcedureName: "add",
		Kwargs_:       map[string]any{"a": 1.0, "b": 2.0},
		ReturnPath:    "memory://abc123",
	}

	data, err := binaryCodec.Encode(original)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}

	var decoded message.RpcMessage
	if err := binaryCodec.Decode(data, &decoded); err != nil {
		t.Fatalf("Decode: %v", err)
	}

	if decoded.RPCID != original.RPCID || decoded.APIName != original.APIName ||
		decoded.ProcedureName != original.ProcedureName || decoded.ReturnPath != original.ReturnPath {
		t.Fatalf("envelope mismatch: got %+v, want %+v", decoded, original)
	}
	if decoded.Kwargs_["a"] != 1.0 || decoded.Kwargs_["b"] != 2.0 {
		t.Fatalf("kwargs mismatch: got %v", decoded.Kwargs_)
	}
}

func TestBinaryCodecResultMessageRoundTrip(t *testing.T) {
	binaryCodec := &BinaryCodec{}

	original := message.NewResultMessageFromError("abc123", errTestBoom)

	data, err := binaryCodec.Encode(original)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}

	var decoded message.ResultMessage
	if err := binaryCodec.Decode(data, &decoded); err != nil {
		t.Fatalf("Decode: %v", err)
	}

	if decoded.RPCID != original.RPCID || decoded.Error != original.Error {
		t.Fatalf("envelope mismatch: got %+v, want %+v", decoded, original)
	}
	if decoded.Result != "boom" {
		t.Fatalf("result mismatch: got %v", decoded.Result)
	}
}

func TestBinaryCodecRejectsMismatchedKind(t *testing.T) {
	binaryCodec := &BinaryCodec{}

	rpcMsg := &message.RpcMessage{RPCID: "x", APIName: "a", ProcedureName: "b", Kwargs_: map[string]any{}}
	data, err := binaryCodec.Encode(rpcMsg)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}

	var decoded message.ResultMessage
	if err := binaryCodec.Decode(data, &decoded); err == nil {
		t.Fatal("expected a kind mismatch error, got nil")
	}
}

type testError string

func (e testError) Error() string { return string(e) }

const errTestBoom = testError("boom")
