// Package config holds the process-wide, settable-at-init knobs the
// synchronization core reads from every package (spec.md §6). Fields are
// grouped by concern the way the teacher groups internal/config.Config,
// and the process-wide instance is served through an atomic.Value
// singleton (see global.go) rather than passed explicitly through every
// call, because both the host simulation loop and the controller
// goroutines netsync.Host.Tick fans out need read access without taking
// a lock on the core's hot path.
package config

import "time"

// LagCompensation groups the doll-reconciliation thresholds of spec.md
// §4.3.4 and §6.
type LagCompensation struct {
	// DollAllowGuessInputWhenMissing lets a doll fall back to the
	// nearest buffered input id when its expected id is absent.
	DollAllowGuessInputWhenMissing bool
	// DollForceInputReconciliation is the excess-buffered-input
	// threshold that forces a per-doll rewind request.
	DollForceInputReconciliation int
	// DollForceInputReconciliationMinFrames is the minimum
	// frame_count_to_rewind below which the forced check is skipped.
	DollForceInputReconciliationMinFrames int
}

// Config is the full set of process-wide tuning knobs.
type Config struct {
	// FixedFrameDelta is the duration of one simulation tick.
	FixedFrameDelta time.Duration

	// MinFramesDelay and MaxFramesDelay clamp the server's computed
	// optimal queued-input depth per peer.
	MinFramesDelay int
	MaxFramesDelay int

	// MaxRedundantInputs bounds how many trailing inputs are folded
	// into one outgoing datagram (packet carries at most this+1).
	MaxRedundantInputs int

	// NetworkTracedFrames sizes the consecutive-input and
	// network-time watcher rings on ServerController.
	NetworkTracedFrames int

	// ClientMaxFramesStorageSize caps a PlayerController's retained
	// input deque; exceeding it pauses local collection.
	ClientMaxFramesStorageSize int

	LagCompensation LagCompensation

	// Debug is reserved for the invariant-violation assertions of
	// spec.md §7 bullet 4. No code in this module reads it, so setting
	// it changes no behaviour.
	Debug bool
}

// Default returns the out-of-the-box configuration, grounded on the
// teacher's defaultConfig() constructor shape (internal/config/config.go).
func Default() Config {
	return Config{
		FixedFrameDelta:            time.Second / 60,
		MinFramesDelay:             2,
		MaxFramesDelay:             8,
		MaxRedundantInputs:         3,
		NetworkTracedFrames:        60,
		ClientMaxFramesStorageSize: 300,
		LagCompensation: LagCompensation{
			DollAllowGuessInputWhenMissing:         true,
			DollForceInputReconciliation:           5,
			DollForceInputReconciliationMinFrames:  2,
		},
		Debug: false,
	}
}
