package spdu

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRoundTrip(t *testing.T) {
	cases := []struct {
		name string
		wire []byte
	}{
		{"OpenSessionReq", OpenSessionReq{ResourceID: 0x00010041}.Encode()},
		{"OpenSessionRes", OpenSessionRes{Status: StatusOpen, ResourceID: 0x00010041, SessionNb: 3}.Encode()},
		{"CreateSession", CreateSession{ResourceID: 0x00030041, SessionNb: 7}.Encode()},
		{"CreateSessionRes", CreateSessionRes{Status: StatusOpen, ResourceID: 0x00030041, SessionNb: 7}.Encode()},
		{"CloseSessionReq", CloseSessionReq{SessionNb: 7}.Encode()},
		{"CloseSessionRes", CloseSessionRes{Status: StatusOpen, SessionNb: 7}.Encode()},
	}

	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			d, n, err := Decode(c.wire)
			require.NoError(t, err)
			require.Equal(t, len(c.wire), n)
			switch c.name {
			case "OpenSessionReq":
				require.Equal(t, uint32(0x00010041), d.OpenSessionReq.ResourceID)
			case "OpenSessionRes":
				require.Equal(t, StatusOpen, d.OpenSessionRes.Status)
				require.Equal(t, uint16(3), d.OpenSessionRes.SessionNb)
			case "CreateSession":
				require.Equal(t, uint16(7), d.CreateSession.SessionNb)
			case "CreateSessionRes":
				require.Equal(t, uint16(7), d.CreateSessionRes.SessionNb)
			case "CloseSessionReq":
				require.Equal(t, uint16(7), d.CloseSessionReq.SessionNb)
			case "CloseSessionRes":
				require.Equal(t, uint16(7), d.CloseSessionRes.SessionNb)
			}
		})
	}
}

func TestSessionNumberPayload(t *testing.T) {
	wire, err := EncodeSessionNumber(5, []byte{0xAA, 0xBB, 0xCC})
	require.NoError(t, err)

	d, n, err := Decode(wire)
	require.NoError(t, err)
	require.Equal(t, len(wire), n)
	require.Equal(t, uint16(5), d.SessionNb)
	require.Equal(t, []byte{0xAA, 0xBB, 0xCC}, d.Payload)
}

func TestSessionNumberPayloadTooLarge(t *testing.T) {
	_, err := EncodeSessionNumber(0, make([]byte, 254))
	require.Error(t, err)
}

func TestDecodeScenarioA(t *testing.T) {
	wire := []byte{0x91, 0x04, 0x00, 0x01, 0x00, 0x41}
	d, n, err := Decode(wire)
	require.NoError(t, err)
	require.Equal(t, 6, n)
	require.Equal(t, TagOpenSessionReq, d.Tag)
	require.Equal(t, uint32(0x00010041), d.OpenSessionReq.ResourceID)
}

func TestEncodeScenarioAResponse(t *testing.T) {
	wire := OpenSessionRes{Status: StatusOpen, ResourceID: 0x00010041, SessionNb: 0}.Encode()
	require.Equal(t, []byte{0x92, 0x07, 0x00, 0x00, 0x01, 0x00, 0x41, 0x00, 0x00}, wire)
}

func TestEncodeScenarioCBusy(t *testing.T) {
	wire := OpenSessionRes{Status: StatusCloseResourceBusy, ResourceID: 0x00010041, SessionNb: 0}.Encode()
	require.Equal(t, []byte{0x92, 0x07, 0xF3, 0x00, 0x01, 0x00, 0x41, 0x00, 0x00}, wire)
}

func TestDecodeShortBuffer(t *testing.T) {
	_, _, err := Decode([]byte{0x91})
	require.Error(t, err)
}

func TestDecodeBadLength(t *testing.T) {
	_, _, err := Decode([]byte{0x91, 0x04, 0x00, 0x01})
	require.Error(t, err)
}

func TestDecodeUnknownTag(t *testing.T) {
	_, _, err := Decode([]byte{0xFF, 0x00})
	require.Error(t, err)
}

func TestMKRIDRoundTrip(t *testing.T) {
	rid := MKRID(1, 1, 1)
	require.Equal(t, uint32(0x00010041), rid)

	class, rtype, version := SplitRID(rid)
	require.Equal(t, uint16(1), class)
	require.Equal(t, uint16(1), rtype)
	require.Equal(t, uint16(1), version)
}
