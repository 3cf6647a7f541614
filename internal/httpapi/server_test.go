package httpapi

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"cisessiond/internal/session"
	"cisessiond/internal/spdu"
)

type fakeTransport struct {
	cb session.TransportCallback
}

func (f *fakeTransport) RegisterCallback(cb session.TransportCallback) { f.cb = cb }
func (f *fakeTransport) SendData(uint8, uint8, []byte) error           { return nil }
func (f *fakeTransport) SendDataV(uint8, uint8, [][]byte) error        { return nil }

func TestHandleVersion(t *testing.T) {
	layer, err := session.New(&fakeTransport{}, 4)
	require.NoError(t, err)

	s := New(0, layer, NewHub(), "1.0.0-test")

	req := httptest.NewRequest(http.MethodGet, "/api/version", nil)
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var got versionInfo
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	require.Equal(t, "1.0.0-test", got.Version)
}

func TestHandleListSessionsEmpty(t *testing.T) {
	layer, err := session.New(&fakeTransport{}, 4)
	require.NoError(t, err)

	s := New(0, layer, NewHub(), "1.0.0-test")

	req := httptest.NewRequest(http.MethodGet, "/api/sessions", nil)
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var got []sessionInfoJSON
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	require.Empty(t, got)
}

func TestHandleListSessionsReflectsActiveSession(t *testing.T) {
	ft := &fakeTransport{}
	layer, err := session.New(ft, 4)
	require.NoError(t, err)

	sn, err := layer.CreateSession(1, 0, 0xABCD, nil)
	require.NoError(t, err)
	wire := spdu.CreateSessionRes{Status: spdu.StatusOpen, ResourceID: 0xABCD, SessionNb: sn}.Encode()
	ft.cb(session.ReasonData, wire, 1, 0)

	s := New(0, layer, NewHub(), "1.0.0-test")

	req := httptest.NewRequest(http.MethodGet, "/api/sessions", nil)
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)

	var got []sessionInfoJSON
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	require.Len(t, got, 1)
	require.Equal(t, "Active", got[0].State)
	require.Equal(t, uint32(0xABCD), got[0].ResourceID)
}
