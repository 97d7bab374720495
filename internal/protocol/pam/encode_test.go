package pam

import (
	"bytes"
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marmos91/dittopam/pkg/authtok"
)

func TestEncodeResponseSkipsSuppressed(t *testing.T) {
	items := []ResponseItem{
		{Type: RespUserInfo, Payload: OfflineChpassPayload()},
		{Type: RespUserInfo, Payload: []byte{9, 9, 9, 9}, Suppressed: true},
		{Type: RespDomainName, Payload: DomainNamePayload("corp")},
	}

	body := EncodeResponse(StatusAuthtokErr, items)

	status, got, err := DecodeResponse(body)
	require.NoError(t, err)
	assert.Equal(t, StatusAuthtokErr, status)
	require.Len(t, got, 2)
	assert.Equal(t, RespUserInfo, got[0].Type)
	assert.Equal(t, RespDomainName, got[1].Type)
	assert.Equal(t, []byte("corp\x00"), got[1].Payload)
}

func TestEncodeResponseLayout(t *testing.T) {
	body := EncodeResponse(StatusSuccess, []ResponseItem{{Type: RespDomainName, Payload: []byte("d\x00")}})

	want := []byte{
		0, 0, 0, 0, // status
		1, 0, 0, 0, // count
		2, 0, 0, 0, // type
		2, 0, 0, 0, // len
		'd', 0,
	}
	assert.Equal(t, want, body)
}

func TestDecodeResponseRejectsBadCount(t *testing.T) {
	body := EncodeResponse(StatusSuccess, nil)
	body[4] = 5
	_, _, err := DecodeResponse(body)
	assert.ErrorIs(t, err, ErrMalformedFrame)
}

func TestEncodeRequestRoundTrip(t *testing.T) {
	src := &Request{
		LogonName:        "erin@corp",
		Service:          "login",
		TTY:              "tty2",
		RHost:            "host",
		Locale:           "C",
		ClientPID:        77,
		RequestedDomains: []string{"corp", "lab"},
		AuthTok:          authtok.TwoFactor{First: []byte("a"), Second: []byte("b")},
		NewAuthTok:       authtok.Password{Secret: []byte("new")},
	}

	for _, v := range []int{Version2, Version3} {
		body, err := EncodeRequest(v, src)
		require.NoError(t, err)

		got, err := Decode(v, CmdChauthtok, body)
		require.NoError(t, err)
		assert.Equal(t, src.LogonName, got.LogonName)
		assert.Equal(t, src.RequestedDomains, got.RequestedDomains)
		assert.Equal(t, src.ClientPID, got.ClientPID)
		assert.Equal(t, src.AuthTok, got.AuthTok)
		assert.Equal(t, src.NewAuthTok, got.NewAuthTok)
	}
}

func TestEncodeRequestMinimal(t *testing.T) {
	for _, v := range []int{Version2, Version3} {
		body, err := EncodeRequest(v, &Request{
			LogonName: "alice",
			ClientPID: 7,
			AuthTok:   authtok.Password{Secret: []byte("s3cret")},
		})
		require.NoError(t, err)
		assert.Equal(t, EndMarker, binary.LittleEndian.Uint32(body[len(body)-4:]))

		got, err := Decode(v, CmdAuthenticate, body)
		require.NoError(t, err, "version %d", v)
		assert.Equal(t, "alice", got.LogonName)
		assert.Equal(t, uint32(7), got.ClientPID)
		assert.Equal(t, authtok.Password{Secret: []byte("s3cret")}, got.AuthTok)
	}
}

func TestEncodeRequestV1(t *testing.T) {
	body, err := EncodeRequest(Version1, &Request{LogonName: "f", Service: "su", AuthTok: authtok.Password{Secret: []byte("x")}})
	require.NoError(t, err)

	got, err := Decode(Version1, CmdAuthenticate, body)
	require.NoError(t, err)
	assert.Equal(t, "f", got.LogonName)
	assert.Equal(t, authtok.Password{Secret: []byte("x")}, got.AuthTok)

	_, err = EncodeRequest(Version1, &Request{LogonName: "f", AuthTok: authtok.SCKeypad{}})
	assert.Error(t, err)
}

func TestUserInfoPayloads(t *testing.T) {
	kind, err := UserInfoKind(OfflineAuthPayload(1700000000))
	require.NoError(t, err)
	assert.Equal(t, UserInfoOfflineAuth, kind)

	exp, ok := OfflineAuthExpire(OfflineAuthPayload(1700000000))
	assert.True(t, ok)
	assert.Equal(t, int64(1700000000), exp)

	_, ok = OfflineAuthExpire(OfflineChpassPayload())
	assert.False(t, ok)

	_, err = UserInfoKind([]byte{1})
	assert.ErrorIs(t, err, ErrShortUserInfo)

	acct := AccountExpiredPayload("expired")
	assert.Equal(t, []byte{7, 0, 0, 0, 7, 0, 0, 0}, acct[:8])
	assert.Equal(t, "expired", string(acct[8:]))

	assert.Equal(t, []byte("user\x00Token\x00"), CertInfoPayload("user", "Token"))
}

func TestPacketRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WritePacket(&buf, CmdAcctMgmt, 0, []byte{1, 2, 3}))

	p, err := ReadPacket(&buf, 0)
	require.NoError(t, err)
	assert.Equal(t, CmdAcctMgmt, p.Command)
	assert.Equal(t, []byte{1, 2, 3}, p.Body)
}

func TestReadPacketLimits(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WritePacket(&buf, CmdAuthenticate, 0, make([]byte, 100)))
	_, err := ReadPacket(bytes.NewReader(buf.Bytes()), 64)
	assert.ErrorIs(t, err, ErrPacketTooLarge)

	short := []byte{4, 0, 0, 0, 0xf2, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0}
	_, err = ReadPacket(bytes.NewReader(short), 0)
	assert.ErrorIs(t, err, ErrMalformedFrame)
}

func TestNegotiateVersion(t *testing.T) {
	assert.Equal(t, Version1, NegotiateVersion(nil))
	assert.Equal(t, Version1, NegotiateVersion(VersionBody(0)))
	assert.Equal(t, Version2, NegotiateVersion(VersionBody(2)))
	assert.Equal(t, Version3, NegotiateVersion(VersionBody(9)))
}

func TestCommandAndStatusNames(t *testing.T) {
	assert.Equal(t, "PREAUTH", CmdPreauth.String())
	assert.Equal(t, "CMD(0x0099)", Command(0x99).String())
	assert.True(t, CmdChauthtok.IsPAM())
	assert.False(t, CmdGetVersion.IsPAM())
	assert.Equal(t, "PAM_USER_UNKNOWN", StatusUserUnknown.String())
	assert.True(t, (RespUserInfo | ServerInfoFlag).IsServerInfo())
}
