package httpapi

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/midici-go/midici/internal/citracker"
	"github.com/midici-go/midici/internal/txmanager"
	"github.com/midici-go/midici/internal/wire"
	"github.com/stretchr/testify/require"
)

type fakeTracker struct {
	devices []citracker.Device
}

func (f *fakeTracker) Devices() []citracker.Device { return f.devices }

func (f *fakeTracker) Device(muid wire.MUID) (citracker.Device, bool) {
	for _, d := range f.devices {
		if d.MUID == muid {
			return d, true
		}
	}
	return citracker.Device{}, false
}

type fakeDiagnoser struct {
	diag txmanager.Diagnostics
}

func (f *fakeDiagnoser) Snapshot(now time.Time) txmanager.Diagnostics { return f.diag }

func TestHandleListDevices(t *testing.T) {
	tracker := &fakeTracker{devices: []citracker.Device{
		{MUID: wire.MUID(2), Identity: wire.DeviceIdentity{FamilyID: 7}, SourceEndpointID: "src-1", LastSeen: time.Now()},
	}}
	diag := &fakeDiagnoser{}
	s := New("", tracker, diag, nil)

	req := httptest.NewRequest(http.MethodGet, "/devices", nil)
	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var views []DeviceView
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &views))
	require.Len(t, views, 1)
	require.Equal(t, uint16(7), views[0].FamilyID)
}

func TestHandleGetDeviceFound(t *testing.T) {
	tracker := &fakeTracker{devices: []citracker.Device{
		{MUID: wire.MUID(2), SourceEndpointID: "src-1", LastSeen: time.Now()},
	}}
	s := New("", tracker, &fakeDiagnoser{}, nil)

	req := httptest.NewRequest(http.MethodGet, "/devices/0x2", nil)
	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
}

func TestHandleGetDeviceNotFound(t *testing.T) {
	tracker := &fakeTracker{}
	s := New("", tracker, &fakeDiagnoser{}, nil)

	req := httptest.NewRequest(http.MethodGet, "/devices/0x99", nil)
	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, req)

	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHandleGetDeviceInvalidMUID(t *testing.T) {
	s := New("", &fakeTracker{}, &fakeDiagnoser{}, nil)

	req := httptest.NewRequest(http.MethodGet, "/devices/not-a-number", nil)
	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, req)

	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandleDiagnostics(t *testing.T) {
	diag := &fakeDiagnoser{diag: txmanager.Diagnostics{
		InUse:                2,
		Cooling:              1,
		Available:            125,
		WaiterQueueLengths:   map[wire.MUID]int{wire.MUID(2): 3},
		OldestTransactionAge: 250 * time.Millisecond,
	}}
	s := New("", &fakeTracker{}, diag, func() uint64 { return 5 })

	req := httptest.NewRequest(http.MethodGet, "/diagnostics", nil)
	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var view DiagnosticsView
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &view))
	require.Equal(t, 2, view.InUse)
	require.Equal(t, uint64(5), view.FrameOverflowCount)
	require.Contains(t, view.WaiterQueueLengths, "0x2")
}
