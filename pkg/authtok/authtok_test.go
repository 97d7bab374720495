package authtok

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecode(t *testing.T) {
	tests := []struct {
		name    string
		typ     Type
		data    []byte
		want    Token
		wantErr error
	}{
		{name: "Empty", typ: TypeEmpty, data: nil, want: Empty{}},
		{name: "EmptyIgnoresPayload", typ: TypeEmpty, data: []byte("x"), want: Empty{}},
		{name: "Password", typ: TypePassword, data: []byte("s3cret"), want: Password{Secret: []byte("s3cret")}},
		{name: "PasswordTrailingNUL", typ: TypePassword, data: []byte("s3cret\x00"), want: Password{Secret: []byte("s3cret")}},
		{name: "ZeroLengthPasswordIsEmpty", typ: TypePassword, data: []byte{}, want: Empty{}},
		{name: "SCPin", typ: TypeSCPin, data: []byte("1234\x00"), want: SCPin{PIN: []byte("1234")}},
		{name: "SCPinEmpty", typ: TypeSCPin, data: nil, wantErr: ErrMalformed},
		{name: "SCKeypad", typ: TypeSCKeypad, data: nil, want: SCKeypad{}},
		{name: "CCFileUnsupported", typ: TypeCCFile, data: []byte("/tmp/krb5cc"), wantErr: ErrUnknownType},
		{name: "UnknownType", typ: Type(42), data: nil, wantErr: ErrUnknownType},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Decode(tt.typ, tt.data)
			if tt.wantErr != nil {
				require.ErrorIs(t, err, tt.wantErr)
				assert.Nil(t, got)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestTwoFactorRoundTrip(t *testing.T) {
	typ, data := Encode(TwoFactor{First: []byte("pw"), Second: []byte("123456")})
	require.Equal(t, Type2FA, typ)

	tok, err := Decode(typ, data)
	require.NoError(t, err)
	assert.Equal(t, TwoFactor{First: []byte("pw"), Second: []byte("123456")}, tok)
}

func TestDecodeTwoFactorMalformed(t *testing.T) {
	_, good := Encode(TwoFactor{First: []byte("a"), Second: []byte("b")})

	t.Run("Truncated", func(t *testing.T) {
		_, err := Decode(Type2FA, good[:5])
		assert.ErrorIs(t, err, ErrMalformed)
	})
	t.Run("LengthMismatch", func(t *testing.T) {
		_, err := Decode(Type2FA, append(append([]byte{}, good...), 'x'))
		assert.ErrorIs(t, err, ErrMalformed)
	})
	t.Run("MissingTerminator", func(t *testing.T) {
		bad := append([]byte{}, good...)
		bad[len(bad)-1] = 'z'
		_, err := Decode(Type2FA, bad)
		assert.ErrorIs(t, err, ErrMalformed)
	})
	t.Run("HugeDeclaredLength", func(t *testing.T) {
		bad := append([]byte{}, good...)
		bad[0], bad[1], bad[2], bad[3] = 0xff, 0xff, 0xff, 0xff
		_, err := Decode(Type2FA, bad)
		assert.ErrorIs(t, err, ErrMalformed)
	})
}

func TestDecodeCopiesInput(t *testing.T) {
	buf := []byte("hunter2")
	tok, err := Decode(TypePassword, buf)
	require.NoError(t, err)

	buf[0] = 'X'
	assert.Equal(t, []byte("hunter2"), tok.(Password).Secret)
}

func TestWipe(t *testing.T) {
	p := Password{Secret: []byte("secret")}
	tf := TwoFactor{First: []byte("a"), Second: []byte("b")}
	pin := SCPin{PIN: []byte("0000")}

	for _, tok := range []Token{p, tf, pin, Empty{}, SCKeypad{}, nil} {
		Wipe(tok)
	}

	assert.Equal(t, make([]byte, 6), p.Secret)
	assert.Equal(t, []byte{0}, tf.First)
	assert.Equal(t, []byte{0}, tf.Second)
	assert.Equal(t, make([]byte, 4), pin.PIN)
}

func TestCachePassword(t *testing.T) {
	pw, err := CachePassword(Password{Secret: []byte("pw")})
	require.NoError(t, err)
	assert.Equal(t, []byte("pw"), pw)

	first, err := CachePassword(TwoFactor{First: []byte("f1"), Second: []byte("otp")})
	require.NoError(t, err)
	assert.Equal(t, []byte("f1"), first)

	for _, tok := range []Token{Empty{}, SCPin{PIN: []byte("1")}, SCKeypad{}} {
		_, err := CachePassword(tok)
		assert.ErrorIs(t, err, ErrNoPassword)
	}
}

func TestPredicates(t *testing.T) {
	assert.True(t, IsPassword(Password{}))
	assert.False(t, IsPassword(TwoFactor{}))
	assert.True(t, IsSmartcard(SCPin{}))
	assert.True(t, IsSmartcard(SCKeypad{}))
	assert.False(t, IsSmartcard(Empty{}))
	assert.Equal(t, "sc_keypad", TypeSCKeypad.String())
	assert.Equal(t, "unknown(9)", Type(9).String())
}

func TestCloneIsIndependent(t *testing.T) {
	orig := Password{Secret: []byte("secret")}
	c := Clone(orig)
	Wipe(orig)

	assert.Equal(t, []byte("secret"), c.(Password).Secret)
	assert.Equal(t, SCKeypad{}, Clone(SCKeypad{}))
	assert.Nil(t, Clone(nil))
}
