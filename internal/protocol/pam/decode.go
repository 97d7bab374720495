package pam

import (
	"errors"
	"fmt"
	"strings"

	"github.com/marmos91/dittopam/internal/protocol/pam/pamenc"
	"github.com/marmos91/dittopam/pkg/authtok"
)

var (
	// ErrMalformedFrame is returned for any request frame that cannot be
	// decoded. Nothing of a rejected frame is applied.
	ErrMalformedFrame = errors.New("pam: malformed request frame")

	// ErrUnsupportedVersion is returned for a protocol version outside 1..3.
	ErrUnsupportedVersion = errors.New("pam: unsupported protocol version")

	// ErrMissingClientPID is returned by version 3 frames without a non-zero
	// client pid.
	ErrMissingClientPID = errors.New("pam: missing client pid")

	// ErrMissingName is returned when a command other than PREAUTH carries no
	// logon name.
	ErrMissingName = errors.New("pam: missing logon name")
)

// minV2Frame is start marker, one item header, end marker, plus the smallest
// string payload.
const minV2Frame = 4*4 + 2

func malformed(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrMalformedFrame, fmt.Sprintf(format, args...))
}

// Decode parses the body of a PAM packet sent with the given negotiated
// version. The body is not retained.
func Decode(version int, cmd Command, body []byte) (*Request, error) {
	var (
		req *Request
		err error
	)
	switch version {
	case Version1:
		req, err = decodeV1(body)
	case Version2:
		req, err = decodeV2(body)
	case Version3:
		req, err = decodeV2(body)
		if err == nil && req.ClientPID == 0 {
			req.Wipe()
			return nil, ErrMissingClientPID
		}
	default:
		return nil, fmt.Errorf("%w: %d", ErrUnsupportedVersion, version)
	}
	if err != nil {
		return nil, err
	}

	req.Command = cmd
	if !req.HasLogonName() && cmd != CmdPreauth {
		req.Wipe()
		return nil, ErrMissingName
	}
	return req, nil
}

// decodeV1 reads five strings (name, service, tty, ruser, rhost) and two auth
// tokens. A trailing end marker is accepted.
func decodeV1(body []byte) (*Request, error) {
	r := pamenc.NewReader(body)
	req := &Request{
		LogonName: r.ReadCString(),
		Service:   r.ReadCString(),
		TTY:       r.ReadCString(),
		RUser:     r.ReadCString(),
		RHost:     r.ReadCString(),
	}
	if r.Err() != nil {
		return nil, malformed("v1 strings: %v", r.Err())
	}

	var err error
	if req.AuthTok, err = readTokenV1(r); err != nil {
		return nil, malformed("v1 authtok: %v", err)
	}
	if req.NewAuthTok, err = readTokenV1(r); err != nil {
		req.Wipe()
		return nil, malformed("v1 new authtok: %v", err)
	}

	switch r.Remaining() {
	case 0:
	case 4:
		if r.ReadUint32() == EndMarker {
			break
		}
		fallthrough
	default:
		req.Wipe()
		return nil, malformed("v1 trailing data")
	}
	return req, nil
}

func readTokenV1(r *pamenc.Reader) (authtok.Token, error) {
	typ := authtok.Type(r.ReadUint32())
	size := r.ReadUint32()
	if r.Err() != nil {
		return nil, r.Err()
	}
	if uint64(size) > uint64(r.Remaining()) {
		return nil, fmt.Errorf("token length %d exceeds frame", size)
	}
	data := r.ReadBytes(int(size))
	if typ != authtok.TypeEmpty && typ != authtok.TypePassword {
		return nil, fmt.Errorf("token type %s not allowed", typ)
	}
	return authtok.Decode(typ, data)
}

func decodeV2(body []byte) (*Request, error) {
	blen := len(body)
	if blen < minV2Frame {
		return nil, malformed("frame of %d bytes is too short", blen)
	}

	r := pamenc.NewReader(body)
	if r.ReadUint32() != StartMarker {
		return nil, malformed("missing start marker")
	}
	if pamenc.NewReader(body[blen-4:]).ReadUint32() != EndMarker {
		return nil, malformed("missing end marker")
	}

	req := &Request{}
	if err := req.readItems(r); err != nil {
		req.Wipe()
		return nil, err
	}
	return req, nil
}

func (req *Request) readItems(r *pamenc.Reader) error {
	for r.Remaining() > 0 {
		typ := ItemType(r.ReadUint32())
		if r.Err() != nil {
			return malformed("item header: %v", r.Err())
		}
		// The end marker doubles as the terminating item type.
		if typ == ItemEnd {
			if r.Remaining() != 0 {
				return malformed("end marker at offset %d before end of frame", r.Position()-4)
			}
			return nil
		}

		size := r.ReadUint32()
		if r.Err() != nil {
			return malformed("item size: %v", r.Err())
		}
		// The payload may not reach into the end marker.
		if uint64(size)+4 > uint64(r.Remaining()) {
			return malformed("item 0x%x of %d bytes exceeds frame", uint32(typ), size)
		}
		payload := r.ReadBytes(int(size))

		if err := req.applyItem(typ, payload); err != nil {
			return malformed("item 0x%x: %v", uint32(typ), err)
		}
	}
	return malformed("frame ended without end marker")
}

func (req *Request) applyItem(typ ItemType, payload []byte) error {
	var err error
	switch typ {
	case ItemUser:
		req.LogonName, err = pamenc.CString(payload)
	case ItemService:
		req.Service, err = pamenc.CString(payload)
	case ItemTTY:
		req.TTY, err = pamenc.CString(payload)
	case ItemRUser:
		req.RUser, err = pamenc.CString(payload)
	case ItemRHost:
		req.RHost, err = pamenc.CString(payload)
	case ItemCliLocale:
		req.Locale, err = pamenc.CString(payload)
	case ItemRequestedDomains:
		var list string
		if list, err = pamenc.CString(payload); err == nil {
			req.RequestedDomains = SplitDomainList(list)
		}
	case ItemCliPID:
		req.ClientPID, err = uint32Item(payload)
	case ItemChildPID:
		req.ChildPID, err = uint32Item(payload)
	case ItemAuthtok:
		authtok.Wipe(req.AuthTok)
		req.AuthTok, err = tokenItem(payload)
	case ItemNewAuthtok:
		authtok.Wipe(req.NewAuthTok)
		req.NewAuthTok, err = tokenItem(payload)
	default:
		// Unknown items are skipped for forward compatibility.
	}
	return err
}

func uint32Item(payload []byte) (uint32, error) {
	if len(payload) != 4 {
		return 0, fmt.Errorf("expected 4 bytes, got %d", len(payload))
	}
	return pamenc.NewReader(payload).ReadUint32(), nil
}

func tokenItem(payload []byte) (authtok.Token, error) {
	if len(payload) < 4 {
		return nil, fmt.Errorf("token of %d bytes has no subtype", len(payload))
	}
	r := pamenc.NewReader(payload)
	typ := authtok.Type(r.ReadUint32())
	return authtok.Decode(typ, payload[4:])
}

// SplitDomainList splits a comma-separated domain list, trimming whitespace
// and dropping empty entries. Order and case are preserved.
func SplitDomainList(list string) []string {
	var out []string
	for _, d := range strings.Split(list, ",") {
		if d = strings.TrimSpace(d); d != "" {
			out = append(out, d)
		}
	}
	return out
}
