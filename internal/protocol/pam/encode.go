package pam

import (
	"fmt"

	"github.com/marmos91/dittopam/internal/protocol/pam/pamenc"
	"github.com/marmos91/dittopam/pkg/authtok"
)

// EncodeResponse serializes a reply: {status}{count} followed by each
// non-suppressed item in insertion order.
func EncodeResponse(status Status, items []ResponseItem) []byte {
	size, count := 8, 0
	for _, it := range items {
		if !it.Suppressed {
			size += 8 + len(it.Payload)
			count++
		}
	}

	w := pamenc.NewWriter(size)
	w.WriteInt32(int32(status))
	w.WriteInt32(int32(count))
	for _, it := range items {
		if it.Suppressed {
			continue
		}
		w.WriteItem(uint32(it.Type), it.Payload)
	}
	return w.Bytes()
}

// DecodeResponse parses a reply produced by EncodeResponse. It is used by
// clients and tests.
func DecodeResponse(body []byte) (Status, []ResponseItem, error) {
	r := pamenc.NewReader(body)
	status := Status(r.ReadInt32())
	count := r.ReadInt32()
	if r.Err() != nil {
		return 0, nil, fmt.Errorf("%w: response header: %v", ErrMalformedFrame, r.Err())
	}
	if count < 0 || int(count) > r.Remaining()/8 {
		return 0, nil, fmt.Errorf("%w: response item count %d", ErrMalformedFrame, count)
	}

	items := make([]ResponseItem, 0, count)
	for range count {
		typ := ResponseType(r.ReadUint32())
		size := r.ReadUint32()
		if r.Err() == nil && uint64(size) > uint64(r.Remaining()) {
			return 0, nil, fmt.Errorf("%w: response item of %d bytes exceeds frame", ErrMalformedFrame, size)
		}
		payload := r.ReadBytes(int(size))
		if r.Err() != nil {
			return 0, nil, fmt.Errorf("%w: response item: %v", ErrMalformedFrame, r.Err())
		}
		items = append(items, ResponseItem{Type: typ, Payload: payload})
	}
	return status, items, nil
}

// EncodeRequest serializes req in the framing of the given version. It is the
// client side of Decode.
func EncodeRequest(version int, req *Request) ([]byte, error) {
	switch version {
	case Version1:
		return encodeV1(req)
	case Version2, Version3:
		return encodeV2(req), nil
	default:
		return nil, fmt.Errorf("%w: %d", ErrUnsupportedVersion, version)
	}
}

func encodeV1(req *Request) ([]byte, error) {
	w := pamenc.NewWriter(128)
	for _, s := range []string{req.LogonName, req.Service, req.TTY, req.RUser, req.RHost} {
		w.WriteCString(s)
	}
	for _, tok := range []authtok.Token{req.AuthTok, req.NewAuthTok} {
		typ, data := authtok.Encode(tok)
		if typ != authtok.TypeEmpty && typ != authtok.TypePassword {
			return nil, fmt.Errorf("pam: token type %s cannot be sent with protocol version 1", typ)
		}
		w.WriteItem(uint32(typ), data)
	}
	w.WriteUint32(EndMarker)
	return w.Bytes(), nil
}

func encodeV2(req *Request) []byte {
	w := pamenc.NewWriter(256)
	w.WriteUint32(StartMarker)

	str := func(typ ItemType, s string) {
		if s != "" {
			w.WriteItem(uint32(typ), append([]byte(s), 0))
		}
	}
	u32 := func(typ ItemType, v uint32) {
		if v != 0 {
			p := pamenc.NewWriter(4)
			p.WriteUint32(v)
			w.WriteItem(uint32(typ), p.Bytes())
		}
	}
	tok := func(typ ItemType, t authtok.Token) {
		if t == nil {
			return
		}
		st, data := authtok.Encode(t)
		p := pamenc.NewWriter(4 + len(data))
		p.WriteUint32(uint32(st))
		p.WriteBytes(data)
		w.WriteItem(uint32(typ), p.Bytes())
	}

	str(ItemUser, req.LogonName)
	str(ItemService, req.Service)
	str(ItemTTY, req.TTY)
	str(ItemRUser, req.RUser)
	str(ItemRHost, req.RHost)
	str(ItemCliLocale, req.Locale)
	if len(req.RequestedDomains) > 0 {
		str(ItemRequestedDomains, joinDomains(req.RequestedDomains))
	}
	u32(ItemCliPID, req.ClientPID)
	u32(ItemChildPID, req.ChildPID)
	tok(ItemAuthtok, req.AuthTok)
	tok(ItemNewAuthtok, req.NewAuthTok)

	w.WriteUint32(EndMarker)
	return w.Bytes()
}

func joinDomains(ds []string) string {
	n := 0
	for _, d := range ds {
		n += len(d) + 1
	}
	b := make([]byte, 0, n)
	for i, d := range ds {
		if i > 0 {
			b = append(b, ',')
		}
		b = append(b, d...)
	}
	return string(b)
}
