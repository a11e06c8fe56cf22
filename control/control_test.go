package control

import (
	"testing"

	"github.com/rhea-systems/netsync/config"
	"github.com/rhea-systems/netsync/databuffer"
)

func init() {
	config.Init()
}

// counterHooks produces input payloads that are a single incrementing
// byte, with every input considered different from every other (no
// similarity folding), which keeps the redundant-send test simple to
// reason about.
func counterHooks() (Hooks, *int) {
	counter := 0
	hooks := Hooks{
		CollectInput: func(buf *databuffer.DataBuffer) int {
			counter++
			buf.AddUint(uint64(counter), databuffer.CompressionLevel3)
			return 8
		},
		CountInputSize: func(buf *databuffer.DataBuffer) int {
			buf.ReadUint(databuffer.CompressionLevel3)
			return 8
		},
		AreInputsDifferent: func(a, b *databuffer.DataBuffer) bool {
			return true
		},
	}
	return hooks, &counter
}

func TestPlayerControllerMonotonicity(t *testing.T) {
	hooks, _ := counterHooks()
	p := NewPlayerController(hooks)
	p.Send = func(raw []byte) {}

	prev := NoneFrame
	for i := 0; i < 20; i++ {
		p.Process(1.0 / 60)
		cur := p.CurrentFrameIndex()
		if !prev.IsNone() && cur <= prev {
			t.Fatalf("frame id did not advance: prev=%v cur=%v", prev, cur)
		}
		prev = cur
	}
}

func TestServerControllerNoGapUnderNoLoss(t *testing.T) {
	hooks, _ := counterHooks()
	player := NewPlayerController(hooks)

	serverHooks, _ := counterHooks()
	var packets [][]byte
	player.Send = func(raw []byte) {
		packets = append(packets, raw)
	}

	for i := 0; i < 10; i++ {
		player.Process(1.0 / 60)
	}

	server := NewServerController(serverHooks, func() uint32 { return 0 })
	for _, raw := range packets {
		if err := server.ReceiveInputs(raw); err != nil {
			t.Fatalf("ReceiveInputs: %v", err)
		}
	}
	for i := 0; i < 10; i++ {
		server.Process(1.0 / 60)
	}

	if server.CurrentFrameIndex() != FrameIndex(9) {
		t.Fatalf("expected server to reach frame 9, got %v", server.CurrentFrameIndex())
	}
	if server.ghostInputCount != 0 {
		t.Fatalf("expected zero ghost inputs under no loss, got %d", server.ghostInputCount)
	}
}

func TestServerControllerSurvives50PercentLossWithRedundancy(t *testing.T) {
	hooks, _ := counterHooks()
	player := NewPlayerController(hooks)

	var packets [][]byte
	player.Send = func(raw []byte) {
		packets = append(packets, raw)
	}

	for i := 0; i < 10; i++ {
		player.Process(1.0 / 60)
	}

	serverHooks, _ := counterHooks()
	server := NewServerController(serverHooks, func() uint32 { return 0 })

	// Drop every other datagram; redundancy (max_redundant_inputs+1 = 4)
	// covers the gap.
	for i, raw := range packets {
		if i%2 == 0 {
			continue
		}
		if err := server.ReceiveInputs(raw); err != nil {
			t.Fatalf("ReceiveInputs: %v", err)
		}
	}
	for i := 0; i < 10; i++ {
		server.Process(1.0 / 60)
	}

	if server.CurrentFrameIndex() != FrameIndex(9) {
		t.Fatalf("expected server to recover up to frame 9 despite loss, got %v", server.CurrentFrameIndex())
	}
}

func TestStreamPauseIdempotence(t *testing.T) {
	sent := 0
	hooks := Hooks{
		CollectInput: func(buf *databuffer.DataBuffer) int {
			return 0 // no application input this tick, every tick
		},
		CountInputSize: func(buf *databuffer.DataBuffer) int { return 0 },
	}
	p := NewPlayerController(hooks)
	p.Send = func(raw []byte) { sent++ }

	for i := 0; i < 5; i++ {
		p.Process(1.0 / 60)
	}

	// The first zero-payload input is sent so the server learns about
	// the pause; every subsequent zero-payload tick sends nothing.
	if sent != 1 {
		t.Fatalf("expected exactly 1 datagram sent while streaming is paused, got %d", sent)
	}
}

func TestDollControllerStallsWithoutGuessing(t *testing.T) {
	config.Update(func(c *config.Config) {
		c.LagCompensation.DollAllowGuessInputWhenMissing = false
	})
	defer config.Update(func(c *config.Config) {
		c.LagCompensation.DollAllowGuessInputWhenMissing = true
	})

	processed := 0
	doll := NewDollController(DollHooks{
		Process: func(buf *databuffer.DataBuffer, delta float64) {
			processed++
		},
	})
	doll.Process(1.0 / 60) // nothing buffered: must stall, not crash or guess
	if processed != 0 {
		t.Fatalf("expected doll to stall with no inputs and guessing disabled, got %d process calls", processed)
	}
	if !doll.CurrentFrameIndex().IsNone() {
		t.Fatalf("expected frame index to remain NONE while stalled, got %v", doll.CurrentFrameIndex())
	}
}

func TestDollControllerResetToFresh(t *testing.T) {
	doll := NewDollController(DollHooks{
		Process: func(buf *databuffer.DataBuffer, delta float64) {},
	})
	doll.insert(FrameInput{ID: 0, PayloadBitSize: 1})
	doll.Process(1.0 / 60)
	if doll.CurrentFrameIndex().IsNone() {
		t.Fatal("expected doll to have advanced off NONE")
	}

	doll.ResetToFresh()
	if !doll.CurrentFrameIndex().IsNone() {
		t.Fatalf("expected frame index reset to NONE, got %v", doll.CurrentFrameIndex())
	}

	doll.insert(FrameInput{ID: 0, PayloadBitSize: 1})
	doll.Process(1.0 / 60)
	if doll.CurrentFrameIndex() != 0 {
		t.Fatalf("expected doll to restart from frame 0 after reset, got %v", doll.CurrentFrameIndex())
	}
}

func TestDollControllerJumpToFrame(t *testing.T) {
	doll := NewDollController(DollHooks{
		Process: func(buf *databuffer.DataBuffer, delta float64) {},
	})
	doll.JumpToFrame(41)
	if doll.CurrentFrameIndex() != 41 {
		t.Fatalf("expected frame index 41, got %v", doll.CurrentFrameIndex())
	}

	doll.insert(FrameInput{ID: 42, PayloadBitSize: 1})
	doll.Process(1.0 / 60)
	if doll.CurrentFrameIndex() != 42 {
		t.Fatalf("expected doll to continue from 42 after jump, got %v", doll.CurrentFrameIndex())
	}
}

func TestDollControllerNeedsForcedReconciliation(t *testing.T) {
	doll := NewDollController(DollHooks{})
	for i := 0; i < 50; i++ {
		doll.insert(FrameInput{ID: FrameIndex(i), PayloadBitSize: 1})
	}
	if !doll.NeedsForcedReconciliation(3) {
		t.Fatal("expected forced reconciliation with a large buffered backlog")
	}
	if doll.NeedsForcedReconciliation(0) {
		t.Fatal("expected no forced reconciliation below min_frames threshold")
	}
}
