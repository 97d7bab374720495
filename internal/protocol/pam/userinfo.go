package pam

import (
	"errors"

	"github.com/marmos91/dittopam/internal/protocol/pam/pamenc"
)

// OfflineAuthPayload builds a user-info payload announcing an offline login.
// expire is the unix time the cached credentials stop being accepted, or 0
// when they do not expire.
func OfflineAuthPayload(expire int64) []byte {
	w := pamenc.NewWriter(12)
	w.WriteUint32(uint32(UserInfoOfflineAuth))
	w.WriteInt64(expire)
	return w.Bytes()
}

// OfflineAuthDelayedPayload builds a user-info payload telling the user that
// offline logins are refused until the given unix time.
func OfflineAuthDelayedPayload(until int64) []byte {
	w := pamenc.NewWriter(12)
	w.WriteUint32(uint32(UserInfoOfflineAuthDelayed))
	w.WriteInt64(until)
	return w.Bytes()
}

// OfflineChpassPayload builds the user-info payload reporting that passwords
// cannot be changed while offline.
func OfflineChpassPayload() []byte {
	w := pamenc.NewWriter(4)
	w.WriteUint32(uint32(UserInfoOfflineChpass))
	return w.Bytes()
}

// AccountExpiredPayload builds {type}{len}{msg} with the configured message.
func AccountExpiredPayload(msg string) []byte {
	w := pamenc.NewWriter(8 + len(msg))
	w.WriteUint32(uint32(UserInfoAccountExpired))
	w.WriteUint32(uint32(len(msg)))
	w.WriteBytes([]byte(msg))
	return w.Bytes()
}

// CertInfoPayload builds {user}\0{token name}\0.
func CertInfoPayload(user, tokenName string) []byte {
	w := pamenc.NewWriter(len(user) + len(tokenName) + 2)
	w.WriteCString(user)
	w.WriteCString(tokenName)
	return w.Bytes()
}

// DomainNamePayload builds the NUL-terminated domain name item.
func DomainNamePayload(domain string) []byte {
	w := pamenc.NewWriter(len(domain) + 1)
	w.WriteCString(domain)
	return w.Bytes()
}

// ErrShortUserInfo is returned for user-info payloads without a type word.
var ErrShortUserInfo = errors.New("pam: user info payload shorter than 4 bytes")

// UserInfoKind returns the subtype of a user-info payload.
func UserInfoKind(payload []byte) (UserInfoType, error) {
	if len(payload) < 4 {
		return 0, ErrShortUserInfo
	}
	return UserInfoType(pamenc.NewReader(payload).ReadUint32()), nil
}

// OfflineAuthExpire extracts the expiry from an OFFLINE_AUTH payload. ok is
// false when the payload does not have the expected 12-byte layout.
func OfflineAuthExpire(payload []byte) (expire int64, ok bool) {
	if len(payload) != 12 {
		return 0, false
	}
	r := pamenc.NewReader(payload)
	r.ReadUint32()
	return r.ReadInt64(), true
}
