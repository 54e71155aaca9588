// Package ednaclient is a minimal wire-level EDNA client. spec.md
// excludes the ergonomic client library from scope and specifies only
// its wire behaviour; this package is that wire behaviour, used by the
// registry package's tests and by cmd/edna-sample-client.
package ednaclient

import (
	"errors"
	"net"

	"edna.io/edna/internal/frame"
)

const (
	opGetAPIVersion = 0x01
	opRegisterAID   = 0x02
	opDisconnect    = 0x03
	opPowerUp       = 0x04
	opPowerDown     = 0x05

	apiVersion      = 0x00
	statusOK        = 0x00
	statusAIDExists = 0x01
)

// ErrAIDExists is returned by Register when the daemon reports the
// requested AID is already bound to another client.
var ErrAIDExists = errors.New("ednaclient: AID already registered")

// ErrVersionMismatch is returned by Handshake when the daemon's
// reported API version doesn't match this client's.
var ErrVersionMismatch = errors.New("ednaclient: API version mismatch")

// Client is a live connection to an EDNA daemon's rendezvous socket,
// past the handshake and registration steps.
type Client struct {
	conn net.Conn
}

// Dial connects to the daemon's Unix domain socket at socketPath,
// performs the version handshake, and registers aid.
func Dial(socketPath string, aid []byte) (*Client, error) {
	conn, err := net.Dial("unix", socketPath)
	if err != nil {
		return nil, err
	}
	c := &Client{conn: conn}
	if err := c.handshake(); err != nil {
		conn.Close()
		return nil, err
	}
	if err := c.register(aid); err != nil {
		conn.Close()
		return nil, err
	}
	return c, nil
}

func (c *Client) handshake() error {
	if err := frame.WriteMessage(c.conn, []byte{opGetAPIVersion}); err != nil {
		return err
	}
	resp, err := frame.ReadMessage(c.conn)
	if err != nil {
		return err
	}
	if len(resp) != 1 || resp[0] != apiVersion {
		return ErrVersionMismatch
	}
	return nil
}

func (c *Client) register(aid []byte) error {
	req := make([]byte, 1+len(aid))
	req[0] = opRegisterAID
	copy(req[1:], aid)
	if err := frame.WriteMessage(c.conn, req); err != nil {
		return err
	}
	resp, err := frame.ReadMessage(c.conn)
	if err != nil {
		return err
	}
	if len(resp) != 1 {
		return errors.New("ednaclient: malformed registration response")
	}
	switch resp[0] {
	case statusOK:
		return nil
	case statusAIDExists:
		return ErrAIDExists
	default:
		return errors.New("ednaclient: unrecognised registration status")
	}
}

// ReadNotificationOrAPDU blocks for the daemon's next message: either a
// one-byte POWER_UP/POWER_DOWN notification or a raw C-APDU. Callers
// distinguish them the same way the daemon itself does — the raw
// framed payload is ambiguous between a 1-byte APDU and a notification,
// so real clients are expected to know, from protocol context, which
// one they're waiting for. This mirrors spec.md §9 open question (b).
func (c *Client) ReadNotificationOrAPDU() ([]byte, error) {
	return frame.ReadMessage(c.conn)
}

// Ack sends a one-byte acknowledgement in response to a POWER_UP or
// POWER_DOWN notification.
func (c *Client) Ack() error {
	return frame.WriteMessage(c.conn, []byte{statusOK})
}

// SendRAPDU replies to a received C-APDU with rapdu, raw and unframed
// beyond the standard length-prefix (no opcode byte), matching the
// TRANSCEIVE_APDU wire form.
func (c *Client) SendRAPDU(rapdu []byte) error {
	return frame.WriteMessage(c.conn, rapdu)
}

// Disconnect sends the DISCONNECT opcode and closes the connection.
func (c *Client) Disconnect() error {
	err := frame.WriteMessage(c.conn, []byte{opDisconnect})
	c.conn.Close()
	return err
}

// Close closes the underlying connection without sending DISCONNECT,
// simulating an ungraceful client crash.
func (c *Client) Close() error {
	return c.conn.Close()
}
