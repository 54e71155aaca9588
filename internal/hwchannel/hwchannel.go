// Package hwchannel implements the Hardware Channel: a thin
// request/response interface over a PC/SC reader's escape/control
// channel, plus the canonical command builders and status decoders the
// Emulation Engine drives it with.
package hwchannel

import (
	"fmt"

	"github.com/ebfe/scard"
)

// ioctlCCIDEscapeDirect is SCARD_CTL_CODE(1), the pcsclite convention
// for a vendor escape command issued over SCardControl, per
// edna_emu.cpp's IOCTL_CCID_ESCAPE_DIRECT.
const ioctlCCIDEscapeDirect = 0x42000000 + 1

// maxResponse bounds the control-response buffer, mirroring the 512-byte
// rdata.resize(512) in edna_emu.cpp's transceive_control.
const maxResponse = 512

// Channel wraps a PC/SC card handle opened in direct/escape mode.
type Channel struct {
	ctx  *scard.Context
	card *scard.Card
}

// Open establishes a PC/SC context and connects to readerName in
// ShareDirect mode, the share mode that lets Control reach the reader's
// vendor escape commands rather than ordinary APDU exchange.
func Open(readerName string) (*Channel, error) {
	ctx, err := scard.EstablishContext()
	if err != nil {
		return nil, fmt.Errorf("hwchannel: establish context: %w", err)
	}
	card, err := ctx.Connect(readerName, scard.ShareDirect, scard.ProtocolAny)
	if err != nil {
		ctx.Release()
		return nil, fmt.Errorf("hwchannel: connect %s: %w", readerName, err)
	}
	return &Channel{ctx: ctx, card: card}, nil
}

// Control sends cmd over the reader's escape channel and returns its
// response. A non-nil error here is fatal to the current emulation
// session per spec.md §4.1: the caller tears the engine down.
func (c *Channel) Control(cmd []byte) ([]byte, error) {
	resp, err := c.card.Control(ioctlCCIDEscapeDirect, cmd)
	if err != nil {
		c.card.Disconnect(scard.UnpowerCard)
		c.ctx.Release()
		return nil, fmt.Errorf("hwchannel: control command failed: %w", err)
	}
	if len(resp) > maxResponse {
		resp = resp[:maxResponse]
	}
	return resp, nil
}

// Cancel aborts any blocking PC/SC call in progress on this context, the
// counterpart of edna_emulator::cancel's SCardCancel call.
func (c *Channel) Cancel() error {
	return c.ctx.Cancel()
}

// Close disconnects from the reader and releases the PC/SC context.
func (c *Channel) Close() error {
	err := c.card.Disconnect(scard.UnpowerCard)
	if relErr := c.ctx.Release(); relErr != nil && err == nil {
		err = relErr
	}
	return err
}
