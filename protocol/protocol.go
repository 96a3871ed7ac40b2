// Package protocol implements the frame protocol that carries graph-rpc messages.
//
// Every frame is a fixed 14-byte header followed by a variable-length body. The
// receiver reads the header first to learn the body length, then reads exactly
// that many bytes.
//
// Frame format:
//
//	0      3  4  5  6         10        14
//	┌──────┬──┬──┬──┬─────────┬─────────┬───────────────┐
//	│magic │v │ct│mt│   seq   │ bodyLen │    body ...    │
//	│ grp  │02│  │  │ uint32  │ uint32  │ bodyLen bytes  │
//	└──────┴──┴──┴──┴─────────┴─────────┴───────────────┘
//
// The high bit of the message type byte marks a zstd-compressed body.
package protocol

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"github.com/klauspost/compress/zstd"

	"graph-rpc/codec"
)

// Magic bytes "grp" identify a graph-rpc frame and reject stray connections early.
const (
	MagicNumber byte = 0x67 // 'g'
	MagicByte2  byte = 0x72 // 'r'
	MagicByte3  byte = 0x70 // 'p'
	Version     byte = 0x02
	HeaderSize  int  = 14 // 3 (magic) + 1 (version) + 1 (codec) + 1 (msgType) + 4 (seq) + 4 (bodyLen)

	// MaxBodyLen bounds a single frame body, compressed or not.
	MaxBodyLen = 64 << 20

	compressedFlag byte = 0x80
)

// MsgType distinguishes request, response, and heartbeat frames.
type MsgType byte

const (
	MsgTypeRequest   MsgType = 0 // Client → Server RPC request
	MsgTypeResponse  MsgType = 1 // Server → Client RPC response
	MsgTypeHeartbeat MsgType = 2 // KeepAlive probe (no body)
)

func (t MsgType) String() string {
	switch t {
	case MsgTypeRequest:
		return "request"
	case MsgTypeResponse:
		return "response"
	case MsgTypeHeartbeat:
		return "heartbeat"
	}
	return fmt.Sprintf("msgtype(%d)", byte(t))
}

var (
	ErrInvalidMagic = errors.New("protocol: invalid magic number")
	ErrVersion      = errors.New("protocol: unsupported version")
	ErrFrame        = errors.New("protocol: malformed frame")
)

// Header represents the fixed 14-byte frame header.
type Header struct {
	CodecType  codec.CodecType
	MsgType    MsgType
	Compressed bool   // body is zstd-compressed on the wire
	Seq        uint32 // matches a response to its request on a multiplexed connection
	BodyLen    uint32 // length of the body on the wire, filled in by Encode
}

// zstd encoders and decoders are safe for concurrent use through EncodeAll and
// DecodeAll, so one of each serves every connection.
var (
	zstdEncoder *zstd.Encoder
	zstdDecoder *zstd.Decoder
)

func init() {
	var err error
	zstdEncoder, err = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		panic("protocol: zstd encoder initialization failed: " + err.Error())
	}
	zstdDecoder, err = zstd.NewReader(nil, zstd.WithDecoderMaxMemory(MaxBodyLen))
	if err != nil {
		panic("protocol: zstd decoder initialization failed: " + err.Error())
	}
}

// Encode writes a complete frame (header + body) to w. When h.Compressed is set
// the body is compressed first; h.BodyLen is set to the length actually written.
// The caller must hold a write lock if several goroutines share w, otherwise
// frames from different requests interleave.
func Encode(w io.Writer, h *Header, body []byte) error {
	if h.Compressed {
		body = zstdEncoder.EncodeAll(body, make([]byte, 0, len(body)/2))
	}
	if len(body) > MaxBodyLen {
		return fmt.Errorf("%w: body of %d bytes exceeds %d", ErrFrame, len(body), MaxBodyLen)
	}
	h.BodyLen = uint32(len(body))

	buf := make([]byte, HeaderSize, HeaderSize+len(body))
	copy(buf[0:3], []byte{MagicNumber, MagicByte2, MagicByte3})
	buf[3] = Version
	buf[4] = byte(h.CodecType)
	buf[5] = byte(h.MsgType)
	if h.Compressed {
		buf[5] |= compressedFlag
	}
	// Network byte order
	binary.BigEndian.PutUint32(buf[6:10], h.Seq)
	binary.BigEndian.PutUint32(buf[10:14], h.BodyLen)

	// One write per frame keeps header and body together under the caller's lock.
	_, err := w.Write(append(buf, body...))
	return err
}

// Decode reads a complete frame from r and validates its header. A compressed
// body is returned decompressed, with Header.Compressed set.
func Decode(r io.Reader) (*Header, []byte, error) {
	headerBuf := make([]byte, HeaderSize)
	if _, err := io.ReadFull(r, headerBuf); err != nil {
		return nil, nil, err
	}

	if headerBuf[0] != MagicNumber || headerBuf[1] != MagicByte2 || headerBuf[2] != MagicByte3 {
		return nil, nil, fmt.Errorf("%w: %x", ErrInvalidMagic, headerBuf[0:3])
	}
	if headerBuf[3] != Version {
		return nil, nil, fmt.Errorf("%w: %d", ErrVersion, headerBuf[3])
	}

	ct := codec.CodecType(headerBuf[4])
	if ct != codec.CodecTypeJSON && ct != codec.CodecTypeBinary {
		return nil, nil, fmt.Errorf("%w: unsupported codec type %d", ErrFrame, headerBuf[4])
	}

	compressed := headerBuf[5]&compressedFlag != 0
	msgType := MsgType(headerBuf[5] &^ compressedFlag)
	if msgType != MsgTypeRequest && msgType != MsgTypeResponse && msgType != MsgTypeHeartbeat {
		return nil, nil, fmt.Errorf("%w: unsupported message type %d", ErrFrame, msgType)
	}

	h := &Header{
		CodecType:  ct,
		MsgType:    msgType,
		Compressed: compressed,
		Seq:        binary.BigEndian.Uint32(headerBuf[6:10]),
		BodyLen:    binary.BigEndian.Uint32(headerBuf[10:14]),
	}
	if h.BodyLen > MaxBodyLen {
		return nil, nil, fmt.Errorf("%w: body length %d exceeds %d", ErrFrame, h.BodyLen, MaxBodyLen)
	}

	body := make([]byte, h.BodyLen)
	if _, err := io.ReadFull(r, body); err != nil {
		return nil, nil, err
	}
	if compressed {
		plain, err := zstdDecoder.DecodeAll(body, nil)
		if err != nil {
			return nil, nil, fmt.Errorf("%w: zstd: %v", ErrFrame, err)
		}
		body = plain
	}
	return h, body, nil
}
