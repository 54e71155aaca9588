package registry

import (
	"edna.io/edna/internal/aid"
	"edna.io/edna/internal/frame"
)

// defaultResponse is the instruction-not-supported status word CRS
// returns when no application is selected, the safety net of
// spec.md §4.2 step 1.
var defaultResponse = []byte{0x6D, 0x00}

// malformedSelectResponse is returned for a SELECT-by-AID C-APDU whose
// header is too short to carry a valid Lc/AID, without being forwarded
// to any client.
var malformedSelectResponse = []byte{0x6F, 0x00}

// Transceive is the entry point the Emulation Engine calls for every
// C-APDU event. It implements spec.md §4.2's transceive contract: AID
// selection changes happen here, the same APDU that triggered the
// selection change is forwarded (not swallowed), and any I/O failure
// with the selected client tears that client down and falls back to
// the default response rather than propagating an error to the engine.
func (s *Server) Transceive(apdu []byte) []byte {
	s.mu.Lock()

	if aid.IsSelect(apdu) {
		a, ok := aid.ParseSelect(apdu)
		if !ok {
			s.mu.Unlock()
			return malformedSelectResponse
		}
		if target, found := s.reg.lookup(a); found {
			s.reg.selected = target
			s.log.Infof("selected AID %s", a)
		} else {
			s.log.Warningf("request to select AID %s: application not found, currently selected application remains active", a)
		}
	}

	selected := s.reg.selected
	if selected == nil {
		s.mu.Unlock()
		return defaultResponse
	}

	// The registry lock is held across the full write+read round trip
	// deliberately: the wire protocol is inherently serial (one C-APDU
	// in flight at a time), so this is a correct model of §5's
	// concurrency contract, not an incidental bottleneck.
	rapdu, err := s.exchange(selected, apdu)
	if err != nil {
		s.log.Errorf("failed to exchange APDU with client %s, closing connection: %v", selected.ID(), err)
		s.reg.remove(selected)
		s.mu.Unlock()
		return defaultResponse
	}
	selected.recordTrace(apdu, rapdu)
	s.mu.Unlock()
	return rapdu
}

// exchange performs the write-then-read half of a round trip with
// client. Caller must hold s.mu.
func (s *Server) exchange(client *Client, apdu []byte) ([]byte, error) {
	if err := frame.WriteMessage(client.conn, apdu); err != nil {
		return nil, err
	}
	select {
	case msg := <-client.incoming:
		return msg, nil
	case <-client.closed:
		return nil, errClientClosed
	}
}

// PowerUp sends a one-byte POWER_UP notification to the currently
// selected client and waits for its acknowledgement, as edna_emu.cpp's
// powerup_on_select does on an ISO 14443A SELECT event. It is a no-op
// if no application is selected.
func (s *Server) PowerUp() {
	s.notify(opPowerUp)
}

// PowerDown sends a one-byte POWER_DOWN notification to the currently
// selected client and waits for its acknowledgement, mirroring
// powerdown_on_deselect on an ISO 14443A DESELECT event.
func (s *Server) PowerDown() {
	s.notify(opPowerDown)
}

func (s *Server) notify(op byte) {
	s.mu.Lock()
	selected := s.reg.selected
	if selected == nil {
		s.mu.Unlock()
		return
	}
	_, err := s.exchange(selected, []byte{op})
	if err != nil {
		s.log.Errorf("failed to deliver notification 0x%02x to client %s, closing connection: %v", op, selected.ID(), err)
		s.reg.remove(selected)
	}
	s.mu.Unlock()
}

// Selected reports the AID of the currently selected client, if any,
// for logging and tests.
func (s *Server) Selected() (aid.AID, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.reg.selected == nil {
		return nil, false
	}
	return s.reg.selected.AID(), true
}
