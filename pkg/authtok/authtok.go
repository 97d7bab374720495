// Package authtok models the credential material carried by a PAM request.
//
// Token is a closed sum type: the only implementations are Empty, Password,
// TwoFactor, SCPin and SCKeypad. Callers switch on the concrete type:
//
//	switch t := tok.(type) {
//	case authtok.Password:
//	    verify(t.Secret)
//	case authtok.TwoFactor:
//	    verify(t.First)
//	}
//
// Secrets are held in byte slices so they can be zeroed with Wipe once the
// owning request is destroyed.
package authtok

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
)

// Type is the wire discriminant of a token.
type Type uint32

const (
	TypeEmpty    Type = 0x0000
	TypePassword Type = 0x0001
	TypeCCFile   Type = 0x0002
	Type2FA      Type = 0x0003
	TypeSCPin    Type = 0x0004
	TypeSCKeypad Type = 0x0005
)

const twoFAHeaderSz = 8

func (t Type) String() string {
	switch t {
	case TypeEmpty:
		return "empty"
	case TypePassword:
		return "password"
	case TypeCCFile:
		return "ccfile"
	case Type2FA:
		return "2fa"
	case TypeSCPin:
		return "sc_pin"
	case TypeSCKeypad:
		return "sc_keypad"
	default:
		return fmt.Sprintf("unknown(%d)", uint32(t))
	}
}

var (
	// ErrUnknownType is returned for a discriminant that has no variant.
	ErrUnknownType = errors.New("authtok: unknown token type")

	// ErrMalformed is returned when a token payload does not match its type.
	ErrMalformed = errors.New("authtok: malformed token payload")

	// ErrNoPassword is returned by CachePassword for tokens that carry no
	// password usable for cache authentication.
	ErrNoPassword = errors.New("authtok: token carries no password")
)

// Token is credential material. The set of implementations is closed.
type Token interface {
	Type() Type
	// Wipe zeroes any secret bytes held by the token.
	Wipe()
	sealed()
}

// Empty carries no credential.
type Empty struct{}

// Password is a single secret.
type Password struct {
	Secret []byte
}

// TwoFactor is a primary secret plus a second factor (e.g. an OTP).
type TwoFactor struct {
	First  []byte
	Second []byte
}

// SCPin is a smartcard PIN.
type SCPin struct {
	PIN []byte
}

// SCKeypad signals that the PIN is entered on the card reader's keypad.
type SCKeypad struct{}

func (Empty) Type() Type     { return TypeEmpty }
func (Password) Type() Type  { return TypePassword }
func (TwoFactor) Type() Type { return Type2FA }
func (SCPin) Type() Type     { return TypeSCPin }
func (SCKeypad) Type() Type  { return TypeSCKeypad }

func (Empty) Wipe()       {}
func (p Password) Wipe()  { clear(p.Secret) }
func (t TwoFactor) Wipe() { clear(t.First); clear(t.Second) }
func (s SCPin) Wipe()     { clear(s.PIN) }
func (SCKeypad) Wipe()    {}

func (Empty) sealed()     {}
func (Password) sealed()  {}
func (TwoFactor) sealed() {}
func (SCPin) sealed()     {}
func (SCKeypad) sealed()  {}

// String returns the PIN as text.
func (s SCPin) String() string { return string(s.PIN) }

// Decode builds a Token from a wire discriminant and its payload. The payload
// is copied; the caller keeps ownership of data.
//
// A zero-length password decodes to Empty. Two-factor payloads have the
// layout {len1:u32}{len2:u32}{first}\0{second}\0.
func Decode(t Type, data []byte) (Token, error) {
	switch t {
	case TypeEmpty:
		return Empty{}, nil
	case TypePassword:
		secret := trimNUL(data)
		if len(secret) == 0 {
			return Empty{}, nil
		}
		return Password{Secret: bytes.Clone(secret)}, nil
	case Type2FA:
		return decode2FA(data)
	case TypeSCPin:
		pin := trimNUL(data)
		if len(pin) == 0 {
			return nil, fmt.Errorf("%w: empty smartcard PIN", ErrMalformed)
		}
		return SCPin{PIN: bytes.Clone(pin)}, nil
	case TypeSCKeypad:
		return SCKeypad{}, nil
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnknownType, t)
	}
}

func decode2FA(data []byte) (Token, error) {
	if len(data) < twoFAHeaderSz {
		return nil, fmt.Errorf("%w: two-factor header truncated", ErrMalformed)
	}
	l1 := uint64(binary.LittleEndian.Uint32(data[0:4]))
	l2 := uint64(binary.LittleEndian.Uint32(data[4:8]))
	if l1 == 0 || l2 == 0 {
		return nil, fmt.Errorf("%w: two-factor part is empty", ErrMalformed)
	}
	// Lengths include the NUL terminator of each part.
	if uint64(twoFAHeaderSz)+l1+l2 != uint64(len(data)) {
		return nil, fmt.Errorf("%w: two-factor lengths do not match payload", ErrMalformed)
	}
	first := data[twoFAHeaderSz : twoFAHeaderSz+l1]
	second := data[twoFAHeaderSz+l1:]
	if first[l1-1] != 0 || second[l2-1] != 0 {
		return nil, fmt.Errorf("%w: two-factor part not terminated", ErrMalformed)
	}
	return TwoFactor{
		First:  bytes.Clone(first[:l1-1]),
		Second: bytes.Clone(second[:l2-1]),
	}, nil
}

// Encode returns the wire discriminant and payload for tok. A nil token
// encodes as Empty.
func Encode(tok Token) (Type, []byte) {
	switch t := tok.(type) {
	case nil, Empty:
		return TypeEmpty, nil
	case Password:
		return TypePassword, bytes.Clone(t.Secret)
	case TwoFactor:
		buf := make([]byte, twoFAHeaderSz, twoFAHeaderSz+len(t.First)+len(t.Second)+2)
		binary.LittleEndian.PutUint32(buf[0:4], uint32(len(t.First)+1))
		binary.LittleEndian.PutUint32(buf[4:8], uint32(len(t.Second)+1))
		buf = append(buf, t.First...)
		buf = append(buf, 0)
		buf = append(buf, t.Second...)
		buf = append(buf, 0)
		return Type2FA, buf
	case SCPin:
		return TypeSCPin, bytes.Clone(t.PIN)
	case SCKeypad:
		return TypeSCKeypad, nil
	}
	panic(fmt.Sprintf("authtok: unhandled token %T", tok))
}

// CachePassword returns the secret used for cache authentication: the
// password itself, or the first factor of a two-factor token.
func CachePassword(tok Token) ([]byte, error) {
	switch t := tok.(type) {
	case Password:
		return t.Secret, nil
	case TwoFactor:
		return t.First, nil
	default:
		return nil, ErrNoPassword
	}
}

// IsPassword reports whether tok is a Password.
func IsPassword(tok Token) bool {
	_, ok := tok.(Password)
	return ok
}

// IsSmartcard reports whether tok is a smartcard PIN or keypad token.
func IsSmartcard(tok Token) bool {
	switch tok.(type) {
	case SCPin, SCKeypad:
		return true
	}
	return false
}

// Clone returns a deep copy of tok, so the copy can be wiped independently.
func Clone(tok Token) Token {
	switch t := tok.(type) {
	case Password:
		return Password{Secret: bytes.Clone(t.Secret)}
	case TwoFactor:
		return TwoFactor{First: bytes.Clone(t.First), Second: bytes.Clone(t.Second)}
	case SCPin:
		return SCPin{PIN: bytes.Clone(t.PIN)}
	}
	return tok
}

// Wipe zeroes tok if it is non-nil.
func Wipe(tok Token) {
	if tok != nil {
		tok.Wipe()
	}
}

func trimNUL(b []byte) []byte {
	if n := len(b); n > 0 && b[n-1] == 0 {
		return b[:n-1]
	}
	return b
}
