package protocol

import (
	"bytes"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"graph-rpc/codec"
)

func TestEncodeDecode(t *testing.T) {
	header := Header{
		CodecType: codec.CodecTypeJSON,
		MsgType:   MsgTypeRequest,
		Seq:       12345,
	}
	body := []byte("hello world")

	var buf bytes.Buffer
	require.NoError(t, Encode(&buf, &header, body))
	assert.Equal(t, uint32(11), header.BodyLen)
	assert.Equal(t, HeaderSize+len(body), buf.Len())

	decoded, decodedBody, err := Decode(&buf)
	require.NoError(t, err)
	assert.Equal(t, header, *decoded)
	assert.Equal(t, body, decodedBody)
}

func TestCompressedBody(t *testing.T) {
	body := bytes.Repeat([]byte("graph-rpc "), 4096)
	header := Header{
		CodecType:  codec.CodecTypeBinary,
		MsgType:    MsgTypeResponse,
		Compressed: true,
		Seq:        7,
	}

	var buf bytes.Buffer
	require.NoError(t, Encode(&buf, &header, body))
	assert.Less(t, int(header.BodyLen), len(body))
	assert.Equal(t, byte(MsgTypeResponse)|compressedFlag, buf.Bytes()[5])

	decoded, decodedBody, err := Decode(&buf)
	require.NoError(t, err)
	assert.True(t, decoded.Compressed)
	assert.Equal(t, MsgTypeResponse, decoded.MsgType)
	assert.Equal(t, body, decodedBody)
}

func TestDecodeInvalidHeader(t *testing.T) {
	valid := func() []byte {
		return []byte{
			MagicNumber, MagicByte2, MagicByte3,
			Version,
			byte(codec.CodecTypeJSON),
			byte(MsgTypeRequest),
			0, 0, 0, 1, // Seq
			0, 0, 0, 0, // BodyLen
		}
	}

	tests := []struct {
		name string
		edit func([]byte)
		want error
	}{
		{"magic", func(b []byte) { b[0] = 0 }, ErrInvalidMagic},
		{"version", func(b []byte) { b[3] = 0xff }, ErrVersion},
		{"codec", func(b []byte) { b[4] = 9 }, ErrFrame},
		{"message type", func(b []byte) { b[5] = 5 }, ErrFrame},
		{"body too large", func(b []byte) { b[10] = 0xff }, ErrFrame},
		{"corrupt compressed body", func(b []byte) { b[5] |= compressedFlag; b[13] = 3 }, ErrFrame},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			frame := valid()
			tt.edit(frame)
			frame = append(frame, 1, 2, 3)
			_, _, err := Decode(bytes.NewReader(frame))
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestDecodeEmptyBody(t *testing.T) {
	header := Header{CodecType: codec.CodecTypeJSON, MsgType: MsgTypeHeartbeat, Seq: 12345}
	var buf bytes.Buffer
	require.NoError(t, Encode(&buf, &header, nil))

	decoded, body, err := Decode(&buf)
	require.NoError(t, err)
	assert.Equal(t, MsgTypeHeartbeat, decoded.MsgType)
	assert.Zero(t, decoded.BodyLen)
	assert.Empty(t, body)
}

func TestDecodeTruncated(t *testing.T) {
	header := Header{CodecType: codec.CodecTypeBinary, MsgType: MsgTypeRequest, Seq: 1}
	var buf bytes.Buffer
	require.NoError(t, Encode(&buf, &header, []byte("payload")))
	frame := buf.Bytes()

	_, _, err := Decode(bytes.NewReader(frame[:HeaderSize-2]))
	assert.ErrorIs(t, err, io.ErrUnexpectedEOF)
	_, _, err = Decode(bytes.NewReader(frame[:len(frame)-1]))
	assert.ErrorIs(t, err, io.ErrUnexpectedEOF)
}

func TestDecodeLargeBody(t *testing.T) {
	largeBody := make([]byte, 1024*1024)
	for i := range largeBody {
		largeBody[i] = byte(i % 256)
	}
	header := &Header{CodecType: codec.CodecTypeBinary, MsgType: MsgTypeRequest, Seq: 999}

	var buf bytes.Buffer
	require.NoError(t, Encode(&buf, header, largeBody))
	_, decodedBody, err := Decode(&buf)
	require.NoError(t, err)
	assert.True(t, bytes.Equal(largeBody, decodedBody))
}
