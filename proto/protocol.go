package proto

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math/bits"
)

// frame = header + Data，发往 dund 的所有消息都使用同一帧格式
//
//	+------+-------------+----------------------+
//	| type | len (2byte) | payload (len bytes)  |
//	+------+-------------+----------------------+
//
// len 在线路上是主机大端值交换字节之后的结果，即小端。

const (
	HeaderSize   = 3
	MaxMsgLen    = 32764
	MaxIPCMsgLen = MaxMsgLen + HeaderSize
	RPCMaxMsgLen = 16 * 1024

	offType = 0
	offLen  = 1
)

// message types
const (
	MsgDunRequest   byte = 0x00
	MsgDunResponse  byte = 0x01
	MsgCtrlRequest  byte = 0x02
	MsgCtrlResponse byte = 0x03
	MsgModemStatus  byte = 0x04
)

// control messages, one byte payload of MsgCtrlRequest/MsgCtrlResponse
const (
	CtrlDisconnectReq    byte = 0x00
	CtrlConnectedResp    byte = 0x01
	CtrlDisconnectedResp byte = 0x02
	// only sent to the rpc daemon, never framed
	CtrlConnectReq byte = 0x03
)

// modem status opcodes, shared with the rfcomm socket options
const (
	ModemGet byte = 0x01
	ModemSet byte = 0x02
	ModemClr byte = 0x03
)

var (
	ErrFrameTooLong = errors.New("proto: frame payload too long")
	ErrShortHeader  = errors.New("proto: short frame header")
)

// Payload 缓冲区数据结构
type Payload struct {
	Type byte
	Data []byte
}

// PutHeader writes the header for an n byte payload into b[:HeaderSize].
func PutHeader(b []byte, typ byte, n int) error {
	if n < 0 || n > MaxMsgLen {
		return fmt.Errorf("%w: %d", ErrFrameTooLong, n)
	}
	if len(b) < HeaderSize {
		return ErrShortHeader
	}
	b[offType] = typ
	binary.BigEndian.PutUint16(b[offLen:], bits.ReverseBytes16(uint16(n)))
	return nil
}

// ParseHeader is the inverse of PutHeader.
func ParseHeader(b []byte) (typ byte, n int, err error) {
	if len(b) < HeaderSize {
		return 0, 0, ErrShortHeader
	}
	n = int(bits.ReverseBytes16(binary.BigEndian.Uint16(b[offLen:])))
	if n > MaxMsgLen {
		return 0, 0, fmt.Errorf("%w: %d", ErrFrameTooLong, n)
	}
	return b[offType], n, nil
}

// AppendFrame appends header and payload to dst.
func AppendFrame(dst []byte, typ byte, data []byte) ([]byte, error) {
	var h [HeaderSize]byte
	if err := PutHeader(h[:], typ, len(data)); err != nil {
		return dst, err
	}
	dst = append(dst, h[:]...)
	return append(dst, data...), nil
}

// DecodeFrame decodes exactly one frame from b.
func DecodeFrame(b []byte) (*Payload, error) {
	typ, n, err := ParseHeader(b)
	if err != nil {
		return nil, err
	}
	if len(b) < HeaderSize+n {
		return nil, fmt.Errorf("proto: truncated frame, want %d have %d", n, len(b)-HeaderSize)
	}
	return &Payload{Type: typ, Data: b[HeaderSize : HeaderSize+n]}, nil
}
