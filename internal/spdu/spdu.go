// Package spdu encodes and decodes EN 50221 Session Protocol Data Units.
//
// Every SPDU on the wire is tag(1) + len(1) + body(len), big-endian for any
// multi-byte field. The length byte bounds bodies to 0-255 bytes at this
// layer; callers above never see a length prefix, only decoded fields.
package spdu

import "fmt"

// Tag identifies an SPDU type.
type Tag uint8

const (
	TagOpenSessionReq    Tag = 0x91
	TagOpenSessionRes    Tag = 0x92
	TagCreateSession     Tag = 0x93
	TagCreateSessionRes  Tag = 0x94
	TagCloseSessionReq   Tag = 0x95
	TagCloseSessionRes   Tag = 0x96
	TagSessionNumber     Tag = 0x90
)

// Status is the single-byte result code carried by the *Res SPDUs.
type Status uint8

const (
	StatusOpen                    Status = 0x00
	StatusCloseNoResource         Status = 0xF0
	StatusCloseResourceUnavailable Status = 0xF1
	StatusCloseResourceLowVersion Status = 0xF2
	StatusCloseResourceBusy       Status = 0xF3
)

func (s Status) String() string {
	switch s {
	case StatusOpen:
		return "Open"
	case StatusCloseNoResource:
		return "CloseNoResource"
	case StatusCloseResourceUnavailable:
		return "CloseResourceUnavailable"
	case StatusCloseResourceLowVersion:
		return "CloseResourceLowVersion"
	case StatusCloseResourceBusy:
		return "CloseResourceBusy"
	default:
		return fmt.Sprintf("Status(0x%02X)", uint8(s))
	}
}

// OpenSessionReq is sent by the module to request opening a session for a
// host-offered resource.
type OpenSessionReq struct {
	ResourceID uint32
}

func (m OpenSessionReq) Encode() []byte {
	body := make([]byte, 4)
	putU32(body, m.ResourceID)
	return frame(TagOpenSessionReq, body)
}

func decodeOpenSessionReq(body []byte) (OpenSessionReq, error) {
	if len(body) != 4 {
		return OpenSessionReq{}, fmt.Errorf("spdu: OpenSessionReq: want len 4, got %d", len(body))
	}
	return OpenSessionReq{ResourceID: getU32(body)}, nil
}

// OpenSessionRes answers an OpenSessionReq.
type OpenSessionRes struct {
	Status     Status
	ResourceID uint32
	SessionNb  uint16
}

func (m OpenSessionRes) Encode() []byte {
	body := make([]byte, 7)
	body[0] = uint8(m.Status)
	putU32(body[1:5], m.ResourceID)
	putU16(body[5:7], m.SessionNb)
	return frame(TagOpenSessionRes, body)
}

func decodeOpenSessionRes(body []byte) (OpenSessionRes, error) {
	if len(body) != 7 {
		return OpenSessionRes{}, fmt.Errorf("spdu: OpenSessionRes: want len 7, got %d", len(body))
	}
	return OpenSessionRes{
		Status:     Status(body[0]),
		ResourceID: getU32(body[1:5]),
		SessionNb:  getU16(body[5:7]),
	}, nil
}

// CreateSession is sent by the host to request a new session for a resource
// it wants to use.
type CreateSession struct {
	ResourceID uint32
	SessionNb  uint16
}

func (m CreateSession) Encode() []byte {
	body := make([]byte, 6)
	putU32(body[0:4], m.ResourceID)
	putU16(body[4:6], m.SessionNb)
	return frame(TagCreateSession, body)
}

func decodeCreateSession(body []byte) (CreateSession, error) {
	if len(body) != 6 {
		return CreateSession{}, fmt.Errorf("spdu: CreateSession: want len 6, got %d", len(body))
	}
	return CreateSession{ResourceID: getU32(body[0:4]), SessionNb: getU16(body[4:6])}, nil
}

// CreateSessionRes answers a CreateSession.
type CreateSessionRes struct {
	Status     Status
	ResourceID uint32
	SessionNb  uint16
}

func (m CreateSessionRes) Encode() []byte {
	body := make([]byte, 7)
	body[0] = uint8(m.Status)
	putU32(body[1:5], m.ResourceID)
	putU16(body[5:7], m.SessionNb)
	return frame(TagCreateSessionRes, body)
}

func decodeCreateSessionRes(body []byte) (CreateSessionRes, error) {
	if len(body) != 7 {
		return CreateSessionRes{}, fmt.Errorf("spdu: CreateSessionRes: want len 7, got %d", len(body))
	}
	return CreateSessionRes{
		Status:     Status(body[0]),
		ResourceID: getU32(body[1:5]),
		SessionNb:  getU16(body[5:7]),
	}, nil
}

// CloseSessionReq requests that a session be torn down.
type CloseSessionReq struct {
	SessionNb uint16
}

func (m CloseSessionReq) Encode() []byte {
	body := make([]byte, 2)
	putU16(body, m.SessionNb)
	return frame(TagCloseSessionReq, body)
}

func decodeCloseSessionReq(body []byte) (CloseSessionReq, error) {
	if len(body) != 2 {
		return CloseSessionReq{}, fmt.Errorf("spdu: CloseSessionReq: want len 2, got %d", len(body))
	}
	return CloseSessionReq{SessionNb: getU16(body)}, nil
}

// CloseSessionRes answers a CloseSessionReq.
type CloseSessionRes struct {
	Status    Status
	SessionNb uint16
}

func (m CloseSessionRes) Encode() []byte {
	body := make([]byte, 3)
	body[0] = uint8(m.Status)
	putU16(body[1:3], m.SessionNb)
	return frame(TagCloseSessionRes, body)
}

func decodeCloseSessionRes(body []byte) (CloseSessionRes, error) {
	if len(body) != 3 {
		return CloseSessionRes{}, fmt.Errorf("spdu: CloseSessionRes: want len 3, got %d", len(body))
	}
	return CloseSessionRes{Status: Status(body[0]), SessionNb: getU16(body[1:3])}, nil
}

// EncodeSessionNumber frames an opaque resource payload under a session
// number. len(payload) must not exceed 253 (255 minus the 2-byte session
// number) since the SPDU length field is a single byte.
func EncodeSessionNumber(sessionNb uint16, payload []byte) ([]byte, error) {
	if len(payload) > 253 {
		return nil, fmt.Errorf("spdu: payload too large for single-byte length: %d bytes", len(payload))
	}
	body := make([]byte, 2+len(payload))
	putU16(body[0:2], sessionNb)
	copy(body[2:], payload)
	return frame(TagSessionNumber, body), nil
}

// EncodeSessionNumberHeader builds just the tag+len+session-number header
// for a scatter/gather write, where payloadLen is the combined length of the
// segments that will follow it on the wire (not copied into this buffer).
func EncodeSessionNumberHeader(sessionNb uint16, payloadLen int) ([]byte, error) {
	if 2+payloadLen > 255 {
		return nil, fmt.Errorf("spdu: payload too large for single-byte length: %d bytes", payloadLen)
	}
	body := make([]byte, 2)
	putU16(body, sessionNb)
	out := make([]byte, 2+len(body))
	out[0] = uint8(TagSessionNumber)
	out[1] = uint8(2 + payloadLen)
	copy(out[2:], body)
	return out, nil
}

func decodeSessionNumber(body []byte) (uint16, []byte, error) {
	if len(body) < 2 {
		return 0, nil, fmt.Errorf("spdu: SessionNumber: body too short: %d", len(body))
	}
	return getU16(body[0:2]), body[2:], nil
}

// Decoded is the result of decoding one SPDU off the wire.
type Decoded struct {
	Tag               Tag
	OpenSessionReq    OpenSessionReq
	OpenSessionRes    OpenSessionRes
	CreateSession     CreateSession
	CreateSessionRes  CreateSessionRes
	CloseSessionReq   CloseSessionReq
	CloseSessionRes   CloseSessionRes
	SessionNb         uint16
	Payload           []byte
}

// Decode parses exactly one SPDU from the front of data and reports how many
// bytes it consumed. It never panics on short or malformed input — every
// failure is returned as an error so the caller can drop the frame and keep
// the connection alive.
func Decode(data []byte) (Decoded, int, error) {
	if len(data) < 2 {
		return Decoded{}, 0, fmt.Errorf("spdu: short header: %d bytes", len(data))
	}
	tag := Tag(data[0])
	length := int(data[1])
	if len(data) < 2+length {
		return Decoded{}, 0, fmt.Errorf("spdu: body shorter than length field: want %d, have %d", length, len(data)-2)
	}
	body := data[2 : 2+length]
	consumed := 2 + length

	var d Decoded
	d.Tag = tag
	var err error
	switch tag {
	case TagOpenSessionReq:
		d.OpenSessionReq, err = decodeOpenSessionReq(body)
	case TagOpenSessionRes:
		d.OpenSessionRes, err = decodeOpenSessionRes(body)
	case TagCreateSession:
		d.CreateSession, err = decodeCreateSession(body)
	case TagCreateSessionRes:
		d.CreateSessionRes, err = decodeCreateSessionRes(body)
	case TagCloseSessionReq:
		d.CloseSessionReq, err = decodeCloseSessionReq(body)
	case TagCloseSessionRes:
		d.CloseSessionRes, err = decodeCloseSessionRes(body)
	case TagSessionNumber:
		d.SessionNb, d.Payload, err = decodeSessionNumber(body)
	default:
		return Decoded{}, 0, fmt.Errorf("spdu: unknown tag 0x%02X", uint8(tag))
	}
	if err != nil {
		return Decoded{}, 0, err
	}
	return d, consumed, nil
}

func frame(tag Tag, body []byte) []byte {
	out := make([]byte, 2+len(body))
	out[0] = uint8(tag)
	out[1] = uint8(len(body))
	copy(out[2:], body)
	return out
}

func putU16(b []byte, v uint16) {
	b[0] = uint8(v >> 8)
	b[1] = uint8(v)
}

func getU16(b []byte) uint16 {
	return uint16(b[0])<<8 | uint16(b[1])
}

func putU32(b []byte, v uint32) {
	b[0] = uint8(v >> 24)
	b[1] = uint8(v >> 16)
	b[2] = uint8(v >> 8)
	b[3] = uint8(v)
}

func getU32(b []byte) uint32 {
	return uint32(b[0])<<24 | uint32(b[1])<<16 | uint32(b[2])<<8 | uint32(b[3])
}

// MKRID packs a resource id from class, type and version the way EN 50221
// defines it: class:16 | type:6 | version:6.
func MKRID(class, rtype, version uint16) uint32 {
	return uint32(class)<<16 | uint32(rtype&0x3F)<<6 | uint32(version&0x3F)
}

// SplitRID is the inverse of MKRID.
func SplitRID(rid uint32) (class, rtype, version uint16) {
	class = uint16(rid >> 16)
	rtype = uint16(rid>>6) & 0x3F
	version = uint16(rid) & 0x3F
	return
}
