package main

import (
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSplitDetach(t *testing.T) {
	tests := []struct {
		name     string
		in       string
		want     string
		detached bool
	}{
		{name: "plain input", in: "ls -l\r", want: "ls -l\r"},
		{name: "detach key alone", in: "\x1d", want: "", detached: true},
		{name: "input before detach key", in: "exit\x1dignored", want: "exit", detached: true},
		{name: "ctrl-c passes through", in: "\x03", want: "\x03"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, detached := splitDetach([]byte(tt.in))
			assert.Equal(t, tt.want, string(got))
			assert.Equal(t, tt.detached, detached)
		})
	}
}

func TestConsoleLeavesPipesCooked(t *testing.T) {
	r, w, err := os.Pipe()
	require.NoError(t, err)
	defer r.Close()
	defer w.Close()

	con := newConsole(r, w)
	require.NoError(t, con.makeRaw())
	assert.False(t, con.raw)
	assert.NotPanics(t, con.restore)
}
