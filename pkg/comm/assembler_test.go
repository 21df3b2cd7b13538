package comm

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/robotalks/fwcore/pkg/queue"
)

func newTestAssembler(capacity int) *Assembler {
	return NewAssembler(queue.New(make([]byte, capacity)))
}

func pushString(t *testing.T, a *Assembler, s string) {
	for _, b := range []byte(s) {
		require.NoError(t, a.Push(b))
	}
}

func getFrame(a *Assembler, size int) (string, error) {
	buf := make([]byte, size)
	n, err := a.GetFrame(buf)
	if err != nil {
		return "", err
	}
	return string(buf[:n]), nil
}

func TestGetFrameAT(t *testing.T) {
	a := newTestAssembler(8)
	buf := make([]byte, 16)

	pushString(t, a, "AT\r")
	n, err := a.GetFrame(buf)
	require.NoError(t, err)
	require.Equal(t, 2, n)
	require.Equal(t, "AT", string(buf[:n]))
	require.Zero(t, buf[n])

	pushString(t, a, "AT")
	_, err = a.GetFrame(buf)
	require.Equal(t, ErrNoFrameReady, err)

	pushString(t, a, "\r")
	n, err = a.GetFrame(buf)
	require.NoError(t, err)
	require.Equal(t, "AT", string(buf[:n]))
	require.True(t, a.Queue.IsEmpty())
}

func TestGetFrameSingleTerminator(t *testing.T) {
	testCases := []struct {
		name  string
		input string
		frame string
	}{
		{"empty frame", "\r", ""},
		{"one byte", "x\r", "x"},
		{"embedded zero", "a\x00b\r", "a\x00b"},
		{"newline is payload", "line\n\r", "line\n"},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			a := newTestAssembler(16)
			pushString(t, a, tc.input)
			frame, err := getFrame(a, 16)
			require.NoError(t, err)
			require.Equal(t, tc.frame, frame)
			_, err = getFrame(a, 16)
			require.Equal(t, ErrNoFrameReady, err)
		})
	}
}

func TestFramesInOrder(t *testing.T) {
	a := newTestAssembler(32)
	pushString(t, a, "one\rtwo\rthree\rpart")
	require.Equal(t, 3, a.FramesAvailable())
	for _, expected := range []string{"one", "two", "three"} {
		frame, err := getFrame(a, 16)
		require.NoError(t, err)
		require.Equal(t, expected, frame)
	}
	_, err := getFrame(a, 16)
	require.Equal(t, ErrNoFrameReady, err)
	require.Equal(t, 4, a.Queue.Len())
}

func TestCustomTerminator(t *testing.T) {
	a := newTestAssembler(16)
	a.Terminator = ';'
	pushString(t, a, "a\rb;")
	frame, err := getFrame(a, 16)
	require.NoError(t, err)
	require.Equal(t, "a\rb", frame)
}

func TestOverflowedPushIsNotCounted(t *testing.T) {
	a := newTestAssembler(3)
	pushString(t, a, "abc")
	require.Equal(t, queue.ErrOverflow, a.Push('\r'))
	require.Zero(t, a.FramesAvailable())
}

func TestDesync(t *testing.T) {
	a := newTestAssembler(8)
	pushString(t, a, "AT\r")
	for i := 0; i < 3; i++ {
		_, err := a.Queue.Pop()
		require.NoError(t, err)
	}
	require.Equal(t, 1, a.FramesAvailable())
	buf := []byte{'x', 'x'}
	n, err := a.GetFrame(buf)
	require.Equal(t, ErrFrame, err)
	require.Zero(t, n)
	require.Zero(t, buf[0])
	require.Zero(t, a.FramesAvailable())
	_, err = a.GetFrame(buf)
	require.Equal(t, ErrNoFrameReady, err)
}

func TestResyncAfterFrameError(t *testing.T) {
	a := newTestAssembler(16)
	pushString(t, a, "AB\rCD\r")
	// another reader takes "AB\rC" from under the assembler
	for i := 0; i < 4; i++ {
		_, err := a.Queue.Pop()
		require.NoError(t, err)
	}
	require.Equal(t, 2, a.FramesAvailable())

	frame, err := getFrame(a, 16)
	require.NoError(t, err)
	require.Equal(t, "D", frame)
	require.Equal(t, 1, a.FramesAvailable())

	_, err = getFrame(a, 16)
	require.Equal(t, ErrFrame, err)
	require.Zero(t, a.FramesAvailable())

	// repeated errors never drive the counter further off
	_, err = getFrame(a, 16)
	require.Equal(t, ErrNoFrameReady, err)

	pushString(t, a, "XY\r")
	frame, err = getFrame(a, 16)
	require.NoError(t, err)
	require.Equal(t, "XY", frame)
	require.Zero(t, a.FramesAvailable())
}

func TestDestinationOverflow(t *testing.T) {
	testCases := []struct {
		name   string
		policy OverflowPolicy
		frame  string
		err    error
	}{
		{"discard", OverflowDiscard, "", ErrFrameOverflow},
		{"truncate", OverflowTruncate, "hel", nil},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			a := newTestAssembler(32)
			a.Overflow = tc.policy
			pushString(t, a, "hello\rok\r")
			buf := make([]byte, 4)
			n, err := a.GetFrame(buf)
			require.Equal(t, tc.err, err)
			require.Equal(t, tc.frame, string(buf[:n]))
			require.Zero(t, buf[3])
			require.Equal(t, 1, a.FramesAvailable())

			frame, err := getFrame(a, 4)
			require.NoError(t, err)
			require.Equal(t, "ok", frame)
		})
	}
}

func TestExactFit(t *testing.T) {
	a := newTestAssembler(8)
	pushString(t, a, "abc\r")
	buf := make([]byte, 4)
	n, err := a.GetFrame(buf)
	require.NoError(t, err)
	require.Equal(t, "abc", string(buf[:n]))
	require.Zero(t, buf[3])
}

func TestConcurrentFrames(t *testing.T) {
	a := newTestAssembler(64)
	const frames = 500
	go func() {
		for i := 0; i < frames; i++ {
			for _, b := range []byte("ping\r") {
				for a.Push(b) != nil {
				}
			}
		}
	}()
	buf := make([]byte, 16)
	for got := 0; got < frames; {
		n, err := a.GetFrame(buf)
		if err == ErrNoFrameReady {
			continue
		}
		require.NoError(t, err)
		require.Equal(t, "ping", string(buf[:n]))
		got++
	}
	require.Zero(t, a.FramesAvailable())
}
