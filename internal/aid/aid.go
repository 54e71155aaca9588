// Package aid defines the Application Identifier type and the narrow
// SELECT-by-AID parsing EDNA's dispatch path needs.
package aid

import "bytes"

// AID is an ISO 7816 Application Identifier: 1 to 16 opaque octets,
// compared byte-wise.
type AID []byte

// Equal reports whether a and b are the same sequence of octets.
func (a AID) Equal(b AID) bool {
	return bytes.Equal(a, b)
}

// String renders the AID as upper-case hex, for logging.
func (a AID) String() string {
	const hexDigits = "0123456789ABCDEF"
	out := make([]byte, len(a)*2)
	for i, b := range a {
		out[i*2] = hexDigits[b>>4]
		out[i*2+1] = hexDigits[b&0x0f]
	}
	return string(out)
}

// selectCLA/selectINS/selectP1 are the class, instruction and first
// parameter bytes of an ISO 7816 SELECT command as used for AID selection.
const (
	selectCLA = 0x00
	selectINS = 0xA4
	selectP1  = 0x04
)

// ParseSelect extracts the AID from a SELECT-by-AID C-APDU of the form
// `00 A4 04 xx <Lc bytes>`, where xx is the Lc field giving the AID
// length. It returns ok=false for anything that isn't a well-formed
// SELECT-by-AID, including a CLA/INS/P1 mismatch, a short header, or a
// declared Lc that runs past the end of apdu. ok=false alone therefore
// does not tell a malformed SELECT from an APDU that is not a SELECT at
// all; IsSelect makes that distinction.
func ParseSelect(apdu []byte) (a AID, ok bool) {
	if len(apdu) < 5 {
		return nil, false
	}
	if apdu[0] != selectCLA || apdu[1] != selectINS || apdu[2] != selectP1 {
		return nil, false
	}
	lc := int(apdu[4])
	if len(apdu) < 5+lc {
		return nil, false
	}
	return AID(apdu[5 : 5+lc]), true
}

// IsSelect reports whether apdu at least looks like a SELECT C-APDU by
// its leading CLA/INS/P1, regardless of whether Lc/the AID body are
// well-formed. Used to distinguish "malformed SELECT" (status 6F 00)
// from "not a SELECT at all" (falls through to the default response).
func IsSelect(apdu []byte) bool {
	return len(apdu) >= 3 && apdu[0] == selectCLA && apdu[1] == selectINS && apdu[2] == selectP1
}
