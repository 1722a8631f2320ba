// Package httpapi exposes a read-only operator introspection surface over the CI
// tracker's device table and the transaction manager's diagnostics. It is strictly an
// observability add-on: nothing here participates in the MIDI-CI/PE protocol itself.
package httpapi

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"

	"github.com/midici-go/midici/internal/citracker"
	"github.com/midici-go/midici/internal/midilog"
	"github.com/midici-go/midici/internal/txmanager"
	"github.com/midici-go/midici/internal/wire"
)

// DeviceLister is the subset of citracker.Tracker the API depends on.
type DeviceLister interface {
	Devices() []citracker.Device
	Device(muid wire.MUID) (citracker.Device, bool)
}

// Diagnoser is the subset of txmanager.Manager the API depends on.
type Diagnoser interface {
	Snapshot(now time.Time) txmanager.Diagnostics
}

// DeviceView is the JSON shape returned by GET /devices and GET /devices/{muid}.
type DeviceView struct {
	MUID             string `json:"muid"`
	ManufacturerID   string `json:"manufacturerId"`
	FamilyID         uint16 `json:"familyId"`
	ModelID          uint16 `json:"modelId"`
	VersionID        uint32 `json:"versionId"`
	Categories       uint8  `json:"categories"`
	SourceEndpointID string `json:"sourceEndpointId"`
	LastSeen         string `json:"lastSeen"`
}

// DiagnosticsView is the JSON shape returned by GET /diagnostics.
type DiagnosticsView struct {
	InUse                int            `json:"inUse"`
	Cooling              int            `json:"cooling"`
	Available            int            `json:"available"`
	WaiterQueueLengths   map[string]int `json:"waiterQueueLengths"`
	OldestTransactionAge string         `json:"oldestTransactionAge"`
	FrameOverflowCount   uint64         `json:"frameOverflowCount"`
}

// Server serves the introspection API over HTTP.
type Server struct {
	addr          string
	tracker       DeviceLister
	tx            Diagnoser
	frameOverflow func() uint64
	router        *mux.Router
	httpServer    *http.Server
}

// New creates a Server that will listen on addr. frameOverflow may be nil, in which case
// the diagnostics endpoint reports zero.
func New(addr string, tracker DeviceLister, tx Diagnoser, frameOverflow func() uint64) *Server {
	if frameOverflow == nil {
		frameOverflow = func() uint64 { return 0 }
	}
	s := &Server{
		addr:          addr,
		tracker:       tracker,
		tx:            tx,
		frameOverflow: frameOverflow,
		router:        mux.NewRouter(),
	}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	s.router.HandleFunc("/devices", s.handleListDevices).Methods(http.MethodGet)
	s.router.HandleFunc("/devices/{muid}", s.handleGetDevice).Methods(http.MethodGet)
	s.router.HandleFunc("/diagnostics", s.handleDiagnostics).Methods(http.MethodGet)
}

// Router exposes the underlying mux.Router, mainly so tests can drive it directly
// without binding a real listener.
func (s *Server) Router() *mux.Router { return s.router }

func deviceToView(d citracker.Device) DeviceView {
	return DeviceView{
		MUID:             fmt.Sprintf("%#x", uint32(d.MUID)),
		ManufacturerID:   fmt.Sprintf("%x", d.Identity.ManufacturerID),
		FamilyID:         d.Identity.FamilyID,
		ModelID:          d.Identity.ModelID,
		VersionID:        d.Identity.VersionID,
		Categories:       d.Categories.Byte(),
		SourceEndpointID: d.SourceEndpointID,
		LastSeen:         d.LastSeen.UTC().Format(time.RFC3339),
	}
}

func (s *Server) handleListDevices(w http.ResponseWriter, r *http.Request) {
	devices := s.tracker.Devices()
	views := make([]DeviceView, 0, len(devices))
	for _, d := range devices {
		views = append(views, deviceToView(d))
	}
	writeJSON(w, http.StatusOK, views)
}

func (s *Server) handleGetDevice(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	muidVal, err := strconv.ParseUint(vars["muid"], 0, 32)
	if err != nil {
		http.Error(w, "invalid muid", http.StatusBadRequest)
		return
	}
	d, ok := s.tracker.Device(wire.MUID(muidVal))
	if !ok {
		http.Error(w, "device not found", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, deviceToView(d))
}

func (s *Server) handleDiagnostics(w http.ResponseWriter, r *http.Request) {
	diag := s.tx.Snapshot(time.Now())
	waiters := make(map[string]int, len(diag.WaiterQueueLengths))
	for muid, n := range diag.WaiterQueueLengths {
		waiters[fmt.Sprintf("%#x", uint32(muid))] = n
	}
	view := DiagnosticsView{
		InUse:                diag.InUse,
		Cooling:              diag.Cooling,
		Available:            diag.Available,
		WaiterQueueLengths:   waiters,
		OldestTransactionAge: diag.OldestTransactionAge.String(),
		FrameOverflowCount:   s.frameOverflow(),
	}
	writeJSON(w, http.StatusOK, view)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		midilog.Error("httpapi: failed to encode response", "error", err)
	}
}

// Run starts the HTTP server and blocks until ctx is cancelled, at which point it shuts
// down gracefully.
func (s *Server) Run(ctx context.Context) error {
	s.httpServer = &http.Server{
		Addr:    s.addr,
		Handler: s.router,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		s.httpServer.Shutdown(shutdownCtx)
	}()

	midilog.Info("httpapi: listening", "addr", s.addr)
	err := s.httpServer.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}
