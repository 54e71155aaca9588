package engine

import (
	"bytes"
	"sync"
	"testing"
	"time"

	"github.com/op/go-logging"

	"edna.io/edna/internal/aid"
	"edna.io/edna/internal/hwchannel"
)

// fakeChannel scripts a sequence of responses to Control calls, one per
// call in order, standing in for a real PC/SC reader.
type fakeChannel struct {
	mu        sync.Mutex
	responses [][]byte
	cursor    int
	closed    bool
	canceled  bool
	calls     [][]byte
}

func (f *fakeChannel) Control(cmd []byte) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, append([]byte{}, cmd...))
	if f.cursor >= len(f.responses) {
		// Once the script is exhausted, report "no event" forever so
		// the loop spins until canceled rather than erroring out.
		return []byte{0x00, 0x00, 0x00}, nil
	}
	resp := f.responses[f.cursor]
	f.cursor++
	return resp, nil
}

func (f *fakeChannel) Cancel() error {
	f.mu.Lock()
	f.canceled = true
	f.mu.Unlock()
	return nil
}

func (f *fakeChannel) Close() error {
	f.closed = true
	return nil
}

// fakeCRS records Transceive calls and returns a scripted response.
type fakeCRS struct {
	transceiveResponse []byte
	transceiveCalls    [][]byte
	powerUps           int
	powerDowns         int

	// selectedAID, when non-nil, is returned by Selected to simulate an
	// application having been selected at DESELECT time.
	selectedAID aid.AID
}

func (f *fakeCRS) Transceive(apdu []byte) []byte {
	f.transceiveCalls = append(f.transceiveCalls, append([]byte{}, apdu...))
	return f.transceiveResponse
}
func (f *fakeCRS) PowerUp()   { f.powerUps++ }
func (f *fakeCRS) PowerDown() { f.powerDowns++ }

func (f *fakeCRS) Selected() (aid.AID, bool) {
	if f.selectedAID == nil {
		return nil, false
	}
	return f.selectedAID, true
}

func testLogger() *logging.Logger {
	return logging.MustGetLogger("edna-engine-test")
}

func TestEngineHandlesCAPDUEvent(t *testing.T) {
	capdu := []byte{0x00, 0xA4, 0x04, 0x00, 0x02, 0xBE, 0xEF}
	getCAPDUResp := append([]byte{0x00}, capdu...) // status OK + C-APDU

	hc := &fakeChannel{
		responses: [][]byte{
			{}, // SET_ATQ_SAK
			{}, // BUZZER_OFF
			{}, // START_EMU
			{0x00, 0x02, 0x00}, // POLL_EVENT -> C-APDU available
			getCAPDUResp,        // GET_CAPDU
			{},                  // SEND_RAPDU
		},
	}
	crs := &fakeCRS{transceiveResponse: []byte{0x90, 0x00}}
	cfg := Config{Reader: "fake", ATQ: 0x0004, SAK: 0x28}
	e := New(hc, crs, cfg, testLogger())

	go func() {
		time.Sleep(20 * time.Millisecond)
		e.Cancel()
	}()

	if err := e.Run(); err != nil {
		t.Fatalf("Run: %v", err)
	}

	if len(crs.transceiveCalls) != 1 || !bytes.Equal(crs.transceiveCalls[0], capdu) {
		t.Fatalf("expected Transceive called once with %x, got %v", capdu, crs.transceiveCalls)
	}
	if !hc.closed {
		t.Fatalf("expected hardware channel closed on exit")
	}
}

func TestEngineSelectAndDeselectNotify(t *testing.T) {
	hc := &fakeChannel{
		responses: [][]byte{
			{}, {}, {}, // bring-up
			{0x00, 0x01, 0x00}, // POLL_EVENT -> SELECT
			{0x00, 0x04, 0x00}, // POLL_EVENT -> DESELECT
			{}, {}, {}, {}, // END_EMU, SET_ATQ_SAK, BUZZER_OFF, START_EMU replay
		},
	}
	crs := &fakeCRS{selectedAID: aid.AID{0xBE, 0xEF}}
	cfg := Config{Reader: "fake", ATQ: 0x0004, SAK: 0x28, DeselectSettle: time.Millisecond}
	e := New(hc, crs, cfg, testLogger())

	go func() {
		time.Sleep(50 * time.Millisecond)
		e.Cancel()
	}()

	if err := e.Run(); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if crs.powerUps != 1 {
		t.Fatalf("expected 1 PowerUp call, got %d", crs.powerUps)
	}
	if crs.powerDowns != 1 {
		t.Fatalf("expected 1 PowerDown call, got %d", crs.powerDowns)
	}
	// POLL_EVENT calls are left out of the count: the fake answers them
	// without blocking, so the loop polls many times before Cancel.
	nonPoll := 0
	for _, call := range hc.calls {
		if !bytes.Equal(call, hwchannel.PollEvent()) {
			nonPoll++
		}
	}
	if nonPoll != 8 {
		t.Fatalf("expected the reset sequence (3 bring-up + END_EMU/SET_ATQ_SAK/BUZZER_OFF/START_EMU replay + END_EMU on exit) to run when an application was selected, got %d non-poll control calls", nonPoll)
	}
}

func TestEngineDeselectWithNoSelectionSkipsReset(t *testing.T) {
	hc := &fakeChannel{
		responses: [][]byte{
			{}, {}, {}, // bring-up
			{0x00, 0x04, 0x00}, // POLL_EVENT -> DESELECT, nothing ever selected
		},
	}
	crs := &fakeCRS{}
	cfg := Config{Reader: "fake", ATQ: 0x0004, SAK: 0x28, DeselectSettle: time.Millisecond}
	e := New(hc, crs, cfg, testLogger())

	go func() {
		time.Sleep(20 * time.Millisecond)
		e.Cancel()
	}()

	if err := e.Run(); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if crs.powerDowns != 1 {
		t.Fatalf("expected 1 PowerDown call, got %d", crs.powerDowns)
	}
	// 3 bring-up calls + END_EMU on the way out; no reset replay in between.
	// POLL_EVENT calls are left out of the count, as above.
	nonPoll := 0
	for _, call := range hc.calls {
		if !bytes.Equal(call, hwchannel.PollEvent()) {
			nonPoll++
		}
	}
	if nonPoll != 4 {
		t.Fatalf("expected no reset replay when nothing was selected at DESELECT, got %d non-poll control calls", nonPoll)
	}
}

func TestEngineAbortsOnFatalCAPDUStatus(t *testing.T) {
	hc := &fakeChannel{
		responses: [][]byte{
			{}, {}, {}, // bring-up
			{0x00, 0x02, 0x00},       // POLL_EVENT -> C-APDU available
			{byte(hwchannel.CAPDUWrongMode)}, // GET_CAPDU -> fatal
		},
	}
	crs := &fakeCRS{}
	cfg := Config{Reader: "fake"}
	e := New(hc, crs, cfg, testLogger())

	if err := e.Run(); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(crs.transceiveCalls) != 0 {
		t.Fatalf("expected no Transceive call after fatal status")
	}
}
