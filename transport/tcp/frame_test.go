package tcp

import (
	"bytes"
	"testing"

	"lightbus/codec"
)

func TestFrameEncodeDecodeRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	body := []byte(`{"hello":"world"}`)
	h := &Header{CodecType: codec.CodecTypeBinary, MsgType: MsgRequest, Seq: 42}

	if err := Encode(&buf, h, body); err != nil {
		t.Fatalf("Encode: %v", err)
	}

	gotHeader, gotBody, err := Decode(&buf)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if gotHeader.CodecType != h.CodecType || gotHeader.MsgType != h.MsgType || gotHeader.Seq != h.Seq {
		t.Fatalf("header mismatch: got %+v, want %+v", gotHeader, h)
	}
	if !bytes.Equal(gotBody, body) {
		t.Fatalf("body mismatch: got %q, want %q", gotBody, body)
	}
}

func TestFrameDecodeRejectsBadMagic(t *testing.T) {
	var buf bytes.Buffer
	buf.Write([]byte{'x', 'x', 'x', Version, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0})
	if _, _, err := Decode(&buf); err == nil {
		t.Fatal("expected an error for bad magic bytes, got nil")
	}
}

func TestFrameEncodeDecodeEmptyBody(t *testing.T) {
	var buf bytes.Buffer
	h := &Header{CodecType: codec.CodecTypeBinary, MsgType: MsgHeartbeat, Seq: 1}
	if err := Encode(&buf, h, nil); err != nil {
		t.Fatalf("Encode: %v", err)
	}
	gotHeader, gotBody, err := Decode(&buf)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if gotHeader.MsgType != MsgHeartbeat || len(gotBody) != 0 {
		t.Fatalf("unexpected decode result: header=%+v body=%v", gotHeader, gotBody)
	}
}
