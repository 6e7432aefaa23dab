package codec

import (
	"encoding/binary"
	"encoding/json"
	"errors"

	"lightbus/message"
)

// BinaryCodec implements a custom binary serialization for
// message.RpcMessage and message.ResultMessage, the two envelope types
// the tcp transport frames over the wire.
//
// The envelope fields (ids, names, return path, error flag) are packed in
// binary; the kwargs/result payload itself is still JSON-encoded. The
// performance gain comes from skipping JSON field names and string
// escaping on the envelope, not from avoiding JSON entirely.
//
// Binary format, a 1-byte kind tag followed by the envelope for that kind:
//
//	kind 0 (RpcMessage):
//	  RPCIDLen(2) RPCID APINameLen(2) APIName ProcLen(2) Procedure
//	  ReturnPathLen(2) ReturnPath KwargsLen(4) KwargsJSON
//	kind 1 (ResultMessage):
//	  RPCIDLen(2) RPCID Error(1) TraceLen(2) Trace ResultLen(4) ResultJSON
type BinaryCodec struct{}

const (
	kindRpc    byte = 0
	kindResult byte = 1
)

func (c *BinaryCodec) Encode(v any) ([]byte, error) {
	switch msg := v.(type) {
	case *message.RpcMessage:
		return encodeRpcMessage(msg)
	case *message.ResultMessage:
		return encodeResultMessage(msg)
	default:
		return nil, errors.New("BinaryCodec: v must be *message.RpcMessage or *message.ResultMessage")
	}
}

func encodeRpcMessage(msg *message.RpcMessage) ([]byte, error) {
	kwargsJSON, err := json.Marshal(msg.Kwargs_)
	if err != nil {
		return nil, err
	}

	total := 1 + 2 + len(msg.RPCID) + 2 + len(msg.APIName) + 2 + len(msg.ProcedureName) +
		2 + len(msg.ReturnPath) + 4 + len(kwargsJSON)
	buf := make([]byte, total)
	offset := 0

	buf[offset] = kindRpc
	offset++

	offset = putString16(buf, offset, msg.RPCID)
	offset = putString16(buf, offset, msg.APIName)
	offset = putString16(buf, offset, msg.ProcedureName)
	offset = putString16(buf, offset, msg.ReturnPath)
	putBytes32(buf, offset, kwargsJSON)

	return buf, nil
}

func encodeResultMessage(msg *message.ResultMessage) ([]byte, error) {
	resultJSON, err := json.Marshal(msg.Result)
	if err != nil {
		return nil, err
	}

	total := 1 + 2 + len(msg.RPCID) + 1 + 2 + len(msg.Trace) + 4 + len(resultJSON)
	buf := make([]byte, total)
	offset := 0

	buf[offset] = kindResult
	offset++

	offset = putString16(buf, offset, msg.RPCID)
	if msg.Error {
		buf[offset] = 1
	}
	offset++
	offset = putString16(buf, offset, msg.Trace)
	putBytes32(buf, offset, resultJSON)

	return buf, nil
}

func (c *BinaryCodec) Decode(data []byte, v any) error {
	if len(data) < 1 {
		return errors.New("BinaryCodec: empty payload")
	}
	kind := data[0]
	data = data[1:]

	switch msg := v.(type) {
	case *message.RpcMessage:
		if kind != kindRpc {
			return errors.New("BinaryCodec: payload is not an RpcMessage")
		}
		return decodeRpcMessage(data, msg)
	case *message.ResultMessage:
		if kind != kindResult {
			return errors.New("BinaryCodec: payload is not a ResultMessage")
		}
		return decodeResultMessage(data, msg)
	default:
		return errors.New("BinaryCodec: v must be *message.RpcMessage or *message.ResultMessage")
	}
}

func decodeRpcMessage(data []byte, msg *message.RpcMessage) error {
	var (
		rpcID, apiName, procName, returnPath string
		kwargsJSON                           []byte
		offset                               int
		err                                  error
	)

	if rpcID, offset, err = getString16(data, 0); err != nil {
		return err
	}
	if apiName, offset, err = getString16(data, offset); err != nil {
		return err
	}
	if procName, offset, err = getString16(data, offset); err != nil {
		return err
	}
	if returnPath, offset, err = getString16(data, offset); err != nil {
		return err
	}
	if kwargsJSON, _, err = getBytes32(data, offset); err != nil {
		return err
	}

	var kwargs map[string]any
	if err := json.Unmarshal(kwargsJSON, &kwargs); err != nil {
		return err
	}

	msg.RPCID = rpcID
	msg.APIName = apiName
	msg.ProcedureName = procName
	msg.ReturnPath = returnPath
	msg.Kwargs_ = kwargs
	return nil
}

func decodeResultMessage(data []byte, msg *message.ResultMessage) error {
	rpcID, offset, err := getString16(data, 0)
	if err != nil {
		return err
	}
	if offset >= len(data) {
		return errors.New("BinaryCodec: truncated result message")
	}
	isError := data[offset] == 1
	offset++

	trace, offset, err := getString16(data, offset)
	if err != nil {
		return err
	}
	resultJSON, _, err := getBytes32(data, offset)
	if err != nil {
		return err
	}

	var result any
	if err := json.Unmarshal(resultJSON, &result); err != nil {
		return err
	}

	msg.RPCID = rpcID
	msg.Error = isError
	msg.Trace = trace
	msg.Result = result
	return nil
}

func (c *BinaryCodec) Type() CodecType {
	return CodecTypeBinary
}

func putString16(buf []byte, offset int, s string) int {
	binary.BigEndian.PutUint16(buf[offset:offset+2], uint16(len(s)))
	offset += 2
	copy(buf[offset:offset+len(s)], s)
	return offset + len(s)
}

func putBytes32(buf []byte, offset int, b []byte) int {
	binary.BigEndian.PutUint32(buf[offset:offset+4], uint32(len(b)))
	offset += 4
	copy(buf[offset:offset+len(b)], b)
	return offset + len(b)
}

func getString16(data []byte, offset int) (string, int, error) {
	if offset+2 > len(data) {
		return "", 0, errors.New("BinaryCodec: truncated length prefix")
	}
	n := int(binary.BigEndian.Uint16(data[offset : offset+2]))
	offset += 2
	if offset+n > len(data) {
		return "", 0, errors.New("BinaryCodec: truncated string")
	}
	return string(data[offset : offset+n]), offset + n, nil
}

func getBytes32(data []byte, offset int) ([]byte, int, error) {
	if offset+4 > len(data) {
		return nil, 0, errors.New("BinaryCodec: truncated length prefix")
	}
	n := int(binary.BigEndian.Uint32(data[offset : offset+4]))
	offset += 4
	if offset+n > len(data) {
		return nil, 0, errors.New("BinaryCodec: truncated bytes")
	}
	out := make([]byte, n)
	copy(out, data[offset:offset+n])
	return out, offset + n, nil
}
