package control

import "github.com/rhea-systems/netsync/databuffer"

// collectInput runs the application's CollectInput hook into a fresh
// scratch buffer, setting the leading has_data metadata bit accordingly,
// and returns the resulting payload bytes and total bit size (metadata
// bit included) ready to store in a FrameInput.
func collectInput(hooks Hooks) ([]byte, int) {
	buf := databuffer.New()
	buf.BeginWrite(1)
	var bits int
	if hooks.CollectInput != nil {
		bits = hooks.CollectInput(buf)
	}
	if bits < 0 {
		bits = 0
	}
	var hasData uint64
	if bits > 0 {
		hasData = 1
	}
	buf.GetBuffer().StoreBits(0, hasData, 1)
	buf.ShrinkTo(0, 1+bits)
	return buf.GetBytes(), 1 + bits
}
