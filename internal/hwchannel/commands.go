package hwchannel

// The five canonical escape commands of spec.md §4.1, byte-for-byte
// from edna_emu.cpp's bytestring literals.
var (
	startEmuCmd  = []byte{0x83, 0x10, 0x01, 0x00}
	endEmuCmd    = []byte{0x83, 0x10, 0x00, 0x00}
	buzzerOffCmd = []byte{0x58, 0x8D, 0xCC, 0x00}
	pollEventCmd = []byte{0x83, 0x00, 0x00, 0x64}
)

// StartEmu enters card-emulation mode.
func StartEmu() []byte { return startEmuCmd }

// EndEmu leaves card-emulation mode.
func EndEmu() []byte { return endEmuCmd }

// BuzzerOff silences the reader's audible indicator.
func BuzzerOff() []byte { return buzzerOffCmd }

// PollEvent polls, blocking up to 100ms on the reader side, for an
// event.
func PollEvent() []byte { return pollEventCmd }

// SetATQSAK programs the emulator's ATQ (16-bit) and SAK (8-bit).
func SetATQSAK(atq uint16, sak byte) []byte {
	return []byte{0x58, 0x8D, 0xE3, byte(atq >> 8), byte(atq), sak}
}

// GetCAPDU fetches the pending C-APDU.
func GetCAPDU() []byte { return []byte{0x84} }

// SendRAPDU pushes an R-APDU to the reader.
func SendRAPDU(rapdu []byte) []byte {
	cmd := make([]byte, 1+len(rapdu))
	cmd[0] = 0x84
	copy(cmd[1:], rapdu)
	return cmd
}

// EventCode is the second byte of a POLL_EVENT response.
type EventCode byte

const (
	EventNone     EventCode = 0x00
	EventSelect   EventCode = 0x01
	EventCAPDU    EventCode = 0x02
	EventRAPDUAck EventCode = 0x03
	EventDeselect EventCode = 0x04
)

// DecodeEvent extracts the event code from a POLL_EVENT response.
// ok is false for anything other than the documented 3-byte response,
// matching edna_emu.cpp's `if (rdata.size() != 3) continue;` check.
func DecodeEvent(resp []byte) (code EventCode, ok bool) {
	if len(resp) != 3 {
		return 0, false
	}
	return EventCode(resp[1]), true
}

// CAPDUStatus is the leading status octet of a GET_CAPDU response.
type CAPDUStatus byte

const (
	CAPDUOK             CAPDUStatus = 0x00
	CAPDUNoneAvailable  CAPDUStatus = 0x03
	CAPDUFIFOOverflow   CAPDUStatus = 0x13
	CAPDUWrongMode      CAPDUStatus = 0x3B
	CAPDUWrongParameter CAPDUStatus = 0x3C
	CAPDUBufferOverflow CAPDUStatus = 0x70
	CAPDUWrongLength    CAPDUStatus = 0x7D
)

// CAPDUOutcome classifies a CAPDUStatus for the engine's dispatch.
type CAPDUOutcome int

const (
	// CAPDUReady means resp carries the status byte plus a usable
	// C-APDU.
	CAPDUReady CAPDUOutcome = iota
	// CAPDURetry means no APDU was available or a recoverable error
	// was reported; the engine should log (if applicable) and re-poll.
	CAPDURetry
	// CAPDUFatal means the reader reported a condition from which the
	// engine cannot recover; it must abort emulation.
	CAPDUFatal
)

// DecodeCAPDU inspects a GET_CAPDU response's leading status byte and
// returns the classified outcome plus, when CAPDUReady, the C-APDU with
// the status byte stripped.
func DecodeCAPDU(resp []byte) (outcome CAPDUOutcome, capdu []byte, status CAPDUStatus) {
	if len(resp) == 0 {
		return CAPDURetry, nil, 0
	}
	status = CAPDUStatus(resp[0])
	switch status {
	case CAPDUOK:
		return CAPDUReady, resp[1:], status
	case CAPDUNoneAvailable, CAPDUFIFOOverflow, CAPDUBufferOverflow, CAPDUWrongLength:
		return CAPDURetry, nil, status
	case CAPDUWrongMode, CAPDUWrongParameter:
		return CAPDUFatal, nil, status
	default:
		return CAPDUReady, resp[1:], status
	}
}
