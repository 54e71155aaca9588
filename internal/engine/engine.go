// Package engine implements the Emulation Engine: the reader event
// loop that brings the reader into card-emulation mode, polls for
// events, and dispatches C-APDUs through the Client Registry & Server.
package engine

import (
	"sync"
	"time"

	"github.com/op/go-logging"

	"edna.io/edna/internal/aid"
	"edna.io/edna/internal/hwchannel"
)

// CRS is the subset of *registry.Server the engine needs; a narrow
// interface keeps the engine testable without a live socket.
type CRS interface {
	Transceive(apdu []byte) []byte
	PowerUp()
	PowerDown()
	Selected() (aid.AID, bool)
}

// HardwareChannel is the subset of *hwchannel.Channel the engine needs;
// a narrow interface keeps the engine testable without real PC/SC
// hardware.
type HardwareChannel interface {
	Control(cmd []byte) ([]byte, error)
	Cancel() error
	Close() error
}

// Config holds the emulation parameters read from configuration, per
// spec.md §6.
type Config struct {
	Reader           string
	ATQ              uint16
	SAK              byte
	CmdDelay         time.Duration
	DelaySuccessOnly bool
	// DeselectSettle overrides the pause before replaying the bring-up
	// sequence after a DESELECT. Zero means use DefaultDeselectSettle.
	DeselectSettle time.Duration
}

// DefaultDeselectSettle is the 2-second pause edna_emu.cpp sleeps
// before replaying the bring-up sequence after a DESELECT.
const DefaultDeselectSettle = 2 * time.Second

// Engine drives a HardwareChannel against a CRS.
type Engine struct {
	hc  HardwareChannel
	crs CRS
	cfg Config
	log *logging.Logger

	mu       sync.Mutex
	canceled bool
}

// New constructs an Engine. Open the hardware channel for cfg.Reader
// before calling this (see cmd/ednad).
func New(hc HardwareChannel, crs CRS, cfg Config, log *logging.Logger) *Engine {
	return &Engine{hc: hc, crs: crs, cfg: cfg, log: log}
}

// Cancel requests that Run exit at its next safe point and interrupts
// any in-flight PC/SC control call, mirroring edna_emulator::cancel.
func (e *Engine) Cancel() {
	e.mu.Lock()
	e.canceled = true
	e.mu.Unlock()
	e.hc.Cancel()
}

func (e *Engine) isCanceled() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.canceled
}

// Run brings the reader into emulation mode and runs the event loop
// until Cancel is called or a fatal hardware error occurs. It always
// attempts to leave emulation mode before returning.
func (e *Engine) Run() error {
	if err := e.bringUp(); err != nil {
		e.hc.Control(hwchannel.EndEmu())
		return err
	}

eventLoop:
	for !e.isCanceled() {
		resp, err := e.hc.Control(hwchannel.PollEvent())
		if err != nil {
			e.log.Errorf("reader control failure: %v", err)
			break eventLoop
		}
		code, ok := hwchannel.DecodeEvent(resp)
		if !ok {
			continue
		}
		switch code {
		case hwchannel.EventNone:
			continue
		case hwchannel.EventSelect:
			e.log.Debug("ISO 14443A SELECT event received")
			e.log.Info("sending POWER UP to running emulations")
			e.crs.PowerUp()
		case hwchannel.EventDeselect:
			e.log.Info("ISO 14443A DESELECT event received")
			e.onDeselect()
		case hwchannel.EventCAPDU:
			if !e.handleCAPDU() {
				break eventLoop
			}
		case hwchannel.EventRAPDUAck:
			e.log.Debug("R-APDU processing complete")
		}
	}

	e.log.Info("leaving emulation mode")
	if _, err := e.hc.Control(hwchannel.EndEmu()); err != nil {
		return err
	}
	return e.hc.Close()
}

func (e *Engine) bringUp() error {
	e.log.Infof("setting emulator card ATQ to 0x%04X and SAK to 0x%02X", e.cfg.ATQ, e.cfg.SAK)
	if _, err := e.hc.Control(hwchannel.SetATQSAK(e.cfg.ATQ, e.cfg.SAK)); err != nil {
		return err
	}
	e.log.Info("disabling reader buzzer")
	if _, err := e.hc.Control(hwchannel.BuzzerOff()); err != nil {
		return err
	}
	e.log.Infof("entering emulation mode on reader %s", e.cfg.Reader)
	if _, err := e.hc.Control(hwchannel.StartEmu()); err != nil {
		return err
	}
	return nil
}

// onDeselect sends POWER_DOWN to the selected client (if any). If an
// application was selected at the time of the DESELECT, it then
// replays the bring-up sequence after a settle delay to reset the
// reader; with nothing selected there is nothing to reset, matching
// edna_emu.cpp's application_selected() branch.
func (e *Engine) onDeselect() {
	_, wasSelected := e.crs.Selected()

	e.log.Info("sending POWER DOWN to running emulations")
	e.crs.PowerDown()

	if !wasSelected {
		return
	}

	settle := e.cfg.DeselectSettle
	if settle == 0 {
		settle = DefaultDeselectSettle
	}
	e.log.Infof("sleeping %v then resetting emulation on reader", settle)
	time.Sleep(settle)

	if _, err := e.hc.Control(hwchannel.EndEmu()); err != nil {
		return
	}
	if _, err := e.hc.Control(hwchannel.SetATQSAK(e.cfg.ATQ, e.cfg.SAK)); err != nil {
		return
	}
	if _, err := e.hc.Control(hwchannel.BuzzerOff()); err != nil {
		return
	}
	if _, err := e.hc.Control(hwchannel.StartEmu()); err != nil {
		return
	}
	e.log.Info("emulation successfully reset")
}

// handleCAPDU fetches the pending C-APDU, dispatches it through the
// CRS, and pushes the R-APDU back to the reader with the configured
// delay. It returns false if a fatal reader condition was encountered.
func (e *Engine) handleCAPDU() bool {
	resp, err := e.hc.Control(hwchannel.GetCAPDU())
	if err != nil {
		return false
	}
	outcome, capdu, status := hwchannel.DecodeCAPDU(resp)
	switch outcome {
	case hwchannel.CAPDURetry:
		logCAPDUStatus(e.log, status)
		return true
	case hwchannel.CAPDUFatal:
		e.log.Errorf("reader reported fatal status 0x%02x, aborting emulation", byte(status))
		return false
	}

	rapdu := e.crs.Transceive(capdu)

	if e.cfg.CmdDelay > 0 {
		if !e.cfg.DelaySuccessOnly || endsInSuccess(rapdu) {
			time.Sleep(e.cfg.CmdDelay)
		}
	}

	if _, err := e.hc.Control(hwchannel.SendRAPDU(rapdu)); err != nil {
		return false
	}
	return true
}

func endsInSuccess(rapdu []byte) bool {
	return len(rapdu) >= 2 && rapdu[len(rapdu)-2] == 0x90 && rapdu[len(rapdu)-1] == 0x00
}

func logCAPDUStatus(log *logging.Logger, status hwchannel.CAPDUStatus) {
	switch status {
	case hwchannel.CAPDUFIFOOverflow:
		log.Error("card reader received APDU exceeding 280 bytes")
	case hwchannel.CAPDUBufferOverflow:
		log.Error("reader internal buffer overflow")
	case hwchannel.CAPDUWrongLength:
		log.Error("reader reports wrong length")
	}
}
