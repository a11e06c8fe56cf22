package syncgroup

import "github.com/rhea-systems/netsync/control"

// PeerAuthority is the sync-group assignment a peer's local authority
// (the object it directly controls, if any) belongs to.
type PeerAuthority struct {
	Enabled     bool
	SyncGroupID int
}

// PeerData is the server's bookkeeping record for one connected peer
// (spec.md §3), extended per SPEC_FULL.md §12 with the round-trip
// sampling that feeds compressed_latency/out_packet_loss_fraction/
// latency_jitter_ms instead of leaving them as inert fields.
type PeerData struct {
	Authority PeerAuthority

	// CompressedLatency is round-trip time in 4ms quanta, clamped to
	// represent 0..1000ms (spec.md §5's resource budget: one byte).
	CompressedLatency uint8
	// OutPacketLossFraction is this peer's observed outbound loss rate
	// in [0,1]: the share of datagrams RecordPacketOutcome reported as
	// not acknowledged.
	OutPacketLossFraction float64
	LatencyJitterMs       float64

	Controller *control.PeerNetworkedController

	sampleCount       int
	lastRoundTripMs   float64
	packetsSent       int
	packetsLost       int
}

// NewPeerData constructs an empty PeerData.
func NewPeerData() *PeerData {
	return &PeerData{}
}

// RecordRoundTrip folds one fresh round-trip sample (milliseconds) into
// the peer's latency/jitter estimate, grounded on the same exponential
// smoothing shape the teacher uses for peer download-rate estimation
// (internal/peer/history.go).
func (p *PeerData) RecordRoundTrip(rttMs float64) {
	if rttMs < 0 {
		rttMs = 0
	}
	const alpha = 0.125
	if p.sampleCount == 0 {
		p.lastRoundTripMs = rttMs
	} else {
		delta := rttMs - p.lastRoundTripMs
		p.LatencyJitterMs += alpha * (absF(delta) - p.LatencyJitterMs)
		p.lastRoundTripMs += alpha * delta
	}
	p.sampleCount++

	quantized := p.lastRoundTripMs / 4
	if quantized > 250 { // 250*4ms == 1000ms saturation
		quantized = 250
	}
	if quantized < 0 {
		quantized = 0
	}
	p.CompressedLatency = uint8(quantized)
}

// RecordPacketOutcome updates the observed outbound packet-loss fraction
// for this peer. Call once per sent datagram with whether it was ever
// acknowledged.
func (p *PeerData) RecordPacketOutcome(acked bool) {
	p.packetsSent++
	if !acked {
		p.packetsLost++
	}
	if p.packetsSent > 0 {
		p.OutPacketLossFraction = float64(p.packetsLost) / float64(p.packetsSent)
	}
}

func absF(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}
