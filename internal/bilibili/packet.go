package bilibili

import (
	"bytes"
	"compress/zlib"
	"encoding/binary"
	"fmt"
	"io"

	"github.com/andybalholm/brotli"
)

// Danmaku wire protocol. Every frame starts with a 16-byte big-endian
// header: total length, header length, protocol version, operation,
// sequence.
const (
	frameHeaderLen = 16

	opHeartbeat      = 2
	opHeartbeatReply = 3
	opNotify         = 5
	opAuth           = 7
	opAuthReply      = 8

	verPlain      = 0
	verPopularity = 1
	verZlib       = 2
	verBrotli     = 3
)

// heartbeatBody is what the web client sends; the server only cares that
// something arrives.
var heartbeatBody = []byte("[object Object]")

type frame struct {
	ver  uint16
	op   uint32
	body []byte
}

// encodeFrame builds one wire frame.
func encodeFrame(ver uint16, op uint32, body []byte) []byte {
	buf := make([]byte, frameHeaderLen+len(body))
	binary.BigEndian.PutUint32(buf[0:4], uint32(frameHeaderLen+len(body)))
	binary.BigEndian.PutUint16(buf[4:6], frameHeaderLen)
	binary.BigEndian.PutUint16(buf[6:8], ver)
	binary.BigEndian.PutUint32(buf[8:12], op)
	binary.BigEndian.PutUint32(buf[12:16], 1)
	copy(buf[frameHeaderLen:], body)
	return buf
}

// decodeFrames splits a websocket message into frames. Compressed frames
// (zlib in protocol 2, brotli in protocol 3) hold a concatenated frame
// stream themselves and are decoded recursively.
func decodeFrames(data []byte) ([]frame, error) {
	var frames []frame
	for len(data) > 0 {
		if len(data) < frameHeaderLen {
			return nil, fmt.Errorf("short frame: %d bytes", len(data))
		}
		total := binary.BigEndian.Uint32(data[0:4])
		headerLen := binary.BigEndian.Uint16(data[4:6])
		ver := binary.BigEndian.Uint16(data[6:8])
		op := binary.BigEndian.Uint32(data[8:12])
		if total < uint32(headerLen) || total > uint32(len(data)) {
			return nil, fmt.Errorf("bad frame length %d (have %d)", total, len(data))
		}
		body := data[headerLen:total]
		data = data[total:]

		switch ver {
		case verZlib:
			inflated, err := inflateZlib(body)
			if err != nil {
				return nil, fmt.Errorf("zlib frame: %w", err)
			}
			inner, err := decodeFrames(inflated)
			if err != nil {
				return nil, err
			}
			frames = append(frames, inner...)
		case verBrotli:
			inflated, err := io.ReadAll(brotli.NewReader(bytes.NewReader(body)))
			if err != nil {
				return nil, fmt.Errorf("brotli frame: %w", err)
			}
			inner, err := decodeFrames(inflated)
			if err != nil {
				return nil, err
			}
			frames = append(frames, inner...)
		default:
			frames = append(frames, frame{ver: ver, op: op, body: body})
		}
	}
	return frames, nil
}

func inflateZlib(data []byte) ([]byte, error) {
	r, err := zlib.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	defer r.Close()
	return io.ReadAll(r)
}

// authBody is the op-7 payload. Protocol 3 asks the server for brotli
// notification frames.
type authBody struct {
	UID      int64  `json:"uid"`
	RoomID   int64  `json:"roomid"`
	ProtoVer int    `json:"protover"`
	Buvid    string `json:"buvid,omitempty"`
	Platform string `json:"platform"`
	Type     int    `json:"type"`
	Key      string `json:"key"`
}

// popularity reads an op-3 heartbeat reply.
func popularity(body []byte) int {
	if len(body) < 4 {
		return 0
	}
	return int(binary.BigEndian.Uint32(body[:4]))
}
