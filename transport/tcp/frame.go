package tcp

import (
	"encoding/binary"
	"errors"
	"io"

	"lightbus/codec"
)

// Frame header layout, solving the classic sticky-packet problem: TCP is
// a byte stream, not a message stream,
// so every frame is prefixed with a fixed-size header carrying the body
// length, and Decode uses io.ReadFull to block until exactly that many
// bytes have arrived.
//
//	┌──────────┬─────────┬───────────┬─────────┬───────┬────────────┐
//	│Magic(3)  │Version(1)│CodecType(1)│MsgType(1)│Seq(4) │BodyLen(4) │
//	└──────────┴─────────┴───────────┴─────────┴───────┴────────────┘
//
// HeaderSize is 14 bytes; Magic+Version identify the protocol so a
// misdirected connection fails fast instead of silently misparsing.
const (
	MagicByte1 byte = 'l'
	MagicByte2 byte = 'b'
	MagicByte3 byte = 'f'
	Version    byte = 0x01
	HeaderSize      = 14
)

// MsgType distinguishes an RPC request frame from its reply, plus a
// heartbeat frame carrying no body.
type MsgType byte

const (
	MsgRequest   MsgType = 0
	MsgResponse  MsgType = 1
	MsgHeartbeat MsgType = 2
)

// Header is the fixed-size preamble of every frame on the wire.
type Header struct {
	CodecType codec.CodecType
	MsgType   MsgType
	Seq       uint32
	BodyLen   uint32
}

// Encode writes header followed by body to w as a single frame.
func Encode(w io.Writer, h *Header, body []byte) error {
	buf := make([]byte, HeaderSize+len(body))
	buf[0] = MagicByte1
	buf[1] = MagicByte2
	buf[2] = MagicByte3
	buf[3] = Version
	buf[4] = byte(h.CodecType)
	buf[5] = byte(h.MsgType)
	binary.BigEndian.PutUint32(buf[6:10], h.Seq)
	binary.BigEndian.PutUint32(buf[10:14], uint32(len(body)))
	copy(buf[HeaderSize:], body)

	_, err := w.Write(buf)
	return err
}

// Decode reads one frame from r, blocking until the full header and body
// have arrived.
func Decode(r io.Reader) (*Header, []byte, error) {
	head := make([]byte, HeaderSize)
	if _, err := io.ReadFull(r, head); err != nil {
		return nil, nil, err
	}

	if head[0] != MagicByte1 || head[1] != MagicByte2 || head[2] != MagicByte3 {
		return nil, nil, errors.New("tcp: bad magic bytes, not a lightbus frame")
	}
	if head[3] != Version {
		return nil, nil, errors.New("tcp: unsupported frame version")
	}

	h := &Header{
		CodecType: codec.CodecType(head[4]),
		MsgType:   MsgType(head[5]),
		Seq:       binary.BigEndian.Uint32(head[6:10]),
		BodyLen:   binary.BigEndian.Uint32(head[10:14]),
	}

	if h.BodyLen == 0 {
		return h, nil, nil
	}
	body := make([]byte, h.BodyLen)
	if _, err := io.ReadFull(r, body); err != nil {
		return nil, nil, err
	}
	return h, body, nil
}
