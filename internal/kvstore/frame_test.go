package kvstore

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestFrameAwaitZeroBlocksUntilAllExit(t *testing.T) {
	f := NewFrame()
	f.Enter()
	f.Enter()

	done := make(chan struct{})
	go func() {
		f.AwaitZero()
		close(done)
	}()

	select {
	case <-done:
		t.Fatal("AwaitZero returned before all readers exited")
	case <-time.After(20 * time.Millisecond):
	}

	f.Exit()
	select {
	case <-done:
		t.Fatal("AwaitZero returned before the second reader exited")
	case <-time.After(20 * time.Millisecond):
	}

	f.Exit()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("AwaitZero never returned after all readers exited")
	}
}

func TestFrameSetAdvanceIsolatesGenerations(t *testing.T) {
	fs := NewFrameSet()

	oldFrame := fs.Join()
	retired := fs.Advance()
	assert.Same(t, oldFrame, retired)

	newFrame := fs.Join()
	assert.NotSame(t, retired, newFrame)

	oldFrame.Exit()
	retired.AwaitZero()

	newFrame.Exit()
}
