package ws

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	eiopacket "github.com/zishang520/engine.io-go-parser/packet"
)

func TestParseOpen(t *testing.T) {
	t.Run("valid handshake", func(t *testing.T) {
		h, err := parseOpen([]byte(`0{"sid":"abc","upgrades":[],"pingInterval":25000,"pingTimeout":20000,"maxPayload":1000000}`))
		require.NoError(t, err)
		assert.Equal(t, "abc", h.SID)
		assert.Equal(t, 45*time.Second, h.liveness())
	})

	tests := []struct {
		name string
		msg  string
	}{
		{"not an open packet", `2`},
		{"bad json", `0{"sid":`},
		{"missing sid", `0{"pingInterval":1,"pingTimeout":1}`},
		{"zero ping settings", `0{"sid":"abc"}`},
		{"unknown packet type", `9{}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := parseOpen([]byte(tt.msg))
			assert.Error(t, err)
		})
	}
}

func TestEngineFrames(t *testing.T) {
	typ, data, err := decodeEngine([]byte("2probe"))
	require.NoError(t, err)
	assert.Equal(t, eiopacket.PING, typ)
	assert.Equal(t, "probe", string(data))

	typ, data, err = decodeEngine([]byte("6"))
	require.NoError(t, err)
	assert.Equal(t, eiopacket.NOOP, typ)
	assert.Empty(t, data)

	pong, err := encodeEngine(eiopacket.PONG, []byte("probe"))
	require.NoError(t, err)
	assert.Equal(t, "3probe", string(pong))

	closing, err := encodeEngine(eiopacket.CLOSE, nil)
	require.NoError(t, err)
	assert.Equal(t, "1", string(closing))
}
