package kvstore

import "sync"

// Frame is one generation of reader activity: a counting latch that lets
// the writer wait for every reader that joined this generation to leave,
// while new readers join a fresh Frame concurrently. At most two Frames are
// ever live at once (spec.md GLOSSARY "Frame"); the writer transfers
// readers from the old generation to the new one by swapping the pointer
// an engine-level FrameSet holds, not by mutating a Frame in place.
type Frame struct {
	wg sync.WaitGroup
}

// NewFrame returns a fresh, empty generation.
func NewFrame() *Frame {
	return &Frame{}
}

// Enter registers a reader as active in this generation.
func (f *Frame) Enter() {
	f.wg.Add(1)
}

// Exit retires a reader from this generation.
func (f *Frame) Exit() {
	f.wg.Done()
}

// AwaitZero blocks until every reader that entered this generation has
// exited. It is safe to call concurrently with further Enter/Exit calls on
// a different, newer Frame -- that is the entire point of the two-frame
// design.
func (f *Frame) AwaitZero() {
	f.wg.Wait()
}

// FrameSet holds the single Frame new readers currently join, and lets the
// writer atomically advance to a new generation while returning the one
// being retired.
type FrameSet struct {
	mu      sync.Mutex
	current *Frame
}

// NewFrameSet returns a FrameSet with one initial, empty generation.
func NewFrameSet() *FrameSet {
	return &FrameSet{current: NewFrame()}
}

// Join registers the calling reader against the current generation and
// returns it so the reader can later call Exit.
func (fs *FrameSet) Join() *Frame {
	fs.mu.Lock()
	f := fs.current
	f.Enter()
	fs.mu.Unlock()
	return f
}

// Advance swaps in a brand new generation for future readers and returns
// the generation that was current until now, so the writer can wait for it
// to drain.
func (fs *FrameSet) Advance() (retired *Frame) {
	fs.mu.Lock()
	retired = fs.current
	fs.current = NewFrame()
	fs.mu.Unlock()
	return retired
}
