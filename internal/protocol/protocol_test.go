package protocol

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDecodeState(t *testing.T) {
	tests := []struct {
		name string
		b1   uint8
		want State
	}{
		{name: "clean", b1: 0x20, want: State{MotorID: 2}},
		{name: "error", b1: 0x28, want: State{MotorID: 2, Flags: 0x8, Error: true}},
		{name: "uncalibrated", b1: 0x34, want: State{MotorID: 3, Flags: 0x4, Uncalibrated: true}},
		{name: "both", b1: 0xFC, want: State{MotorID: 15, Flags: 0xC, Error: true, Uncalibrated: true}},
		{name: "toggle echo", b1: 0x11, want: State{MotorID: 1, Flags: 0x1}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, DecodeState(tt.b1))
		})
	}
}

func TestCommandID(t *testing.T) {
	assert.Equal(t, "ping", CmdPing.String())
	assert.Equal(t, "unknown_0xF", CommandID(0xF).String())
	assert.True(t, CmdRequestDatapoint.Known())
	assert.False(t, CommandID(0xA).Known())
}

func TestMasks(t *testing.T) {
	assert.Equal(t, uint32(0xFC0), DestMask)
	assert.Equal(t, uint32(0xFC0), BroadcastID)
}
