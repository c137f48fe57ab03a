package relay

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseHandshake(t *testing.T) {
	tests := []struct {
		name string
		msg  string
		want Role
	}{
		{"controller", "controller:foo", Controller("foo")},
		{"receiver", "receiver:bar", Receiver("bar")},
		{"empty controller name", "controller:", Controller("")},
		{"name keeps separators", "receiver:a:b", Receiver("a:b")},
		{"name keeps trailing newline", "controller:foo\n", Controller("foo\n")},
		{"prefix is case sensitive", "Controller:foo", Unknown()},
		{"no prefix", "hello", Unknown()},
		{"empty", "", Unknown()},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ParseHandshake(tt.msg)
			assert.Equal(t, tt.want.Kind(), got.Kind())
			if tt.want.Kind() != KindUnknown {
				assert.True(t, tt.want.Equal(got), "expected %s, got %s", tt.want, got)
			}
		})
	}
}

func TestRole_Equal(t *testing.T) {
	assert.True(t, Controller("a").Equal(Controller("a")))
	assert.False(t, Controller("a").Equal(Receiver("a")), "kind is part of identity")
	assert.False(t, Receiver("a").Equal(Receiver("b")))
	assert.False(t, Unknown().Equal(Unknown()), "unknown never equals itself")
	assert.False(t, Unknown().Equal(Controller("")))
}

func TestRole_String(t *testing.T) {
	assert.Equal(t, "controller:foo", Controller("foo").String())
	assert.Equal(t, "receiver:bar", Receiver("bar").String())
	assert.Equal(t, "unknown", Unknown().String())
}

func TestRole_Name(t *testing.T) {
	name, err := Receiver("r1").Name()
	require.NoError(t, err)
	assert.Equal(t, "r1", name)

	_, err = Unknown().Name()
	assert.ErrorIs(t, err, ErrHandshakeUnrecognized)
	assert.Equal(t, unknownRoleName, Unknown().NameOrUnknown())
}

func TestRole_NewPacket(t *testing.T) {
	packet := Controller("c1").NewPacketWithID("body", "id-1")
	assert.Equal(t, []string{"c1"}, packet.Receivers)
	assert.Equal(t, "id-1", packet.ID)

	fresh := Unknown().NewPacket("oops")
	assert.Equal(t, []string{unknownRoleName}, fresh.Receivers)
	assert.NotEmpty(t, fresh.ID)
}
