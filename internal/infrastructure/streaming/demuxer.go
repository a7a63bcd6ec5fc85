package streaming

import (
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"lancast/internal/core/domain"
	"lancast/internal/protocol"
)

// maxPending bounds the reassembly buffer per stream; a window deeper
// than this means the peer is unreachable, not reordered.
const maxPending = 1024

// Frame is one reassembled media frame, delivered in sequence order.
type Frame struct {
	StreamID  uint8
	KeyFrame  bool
	Timestamp uint64
	Payload   []byte
}

// assembly collects the fragments and parity of a single frame.
type assembly struct {
	frags     map[uint16][]byte
	parity    map[uint16][]byte
	count     uint16
	keyFrame  bool
	timestamp uint64
	firstSeen time.Time
}

func newAssembly(now time.Time) *assembly {
	return &assembly{
		frags:     make(map[uint16][]byte),
		parity:    make(map[uint16][]byte),
		firstSeen: now,
	}
}

func (a *assembly) add(p *protocol.Packet) {
	if a.count == 0 {
		a.count = p.FragmentCount
	}
	if p.Flags&protocol.FlagKeyFrame != 0 {
		a.keyFrame = true
	}
	a.timestamp = p.Timestamp
	if p.IsFEC() {
		a.parity[p.FragmentIndex] = p.Payload
	} else {
		a.frags[p.FragmentIndex] = p.Payload
	}
}

// complete reports whether every data fragment is present, repairing
// single losses per parity class first. recovered counts repaired
// fragments.
func (a *assembly) complete(fec int) (bool, int) {
	if a.count == 0 {
		return false, 0
	}
	if len(a.frags) == int(a.count) {
		return true, 0
	}
	recovered := 0
	for class, parity := range a.parity {
		var present [][]byte
		missing := -1
		for i := int(class); i < int(a.count); i += fec {
			if frag, ok := a.frags[uint16(i)]; ok {
				present = append(present, frag)
			} else if missing < 0 {
				missing = i
			} else {
				missing = -2
			}
		}
		if missing < 0 || missing == -2 {
			continue
		}
		if frag := recoverFragment(parity, present); frag != nil {
			a.frags[uint16(missing)] = frag
			recovered++
		}
	}
	return len(a.frags) == int(a.count), recovered
}

func (a *assembly) payload() []byte {
	size := 0
	for _, f := range a.frags {
		size += len(f)
	}
	out := make([]byte, 0, size)
	for i := uint16(0); i < a.count; i++ {
		out = append(out, a.frags[i]...)
	}
	return out
}

type streamState struct {
	nextSeq  uint32
	pending  map[uint32]*assembly
	awaitKey bool
}

// oldestPending returns the lowest buffered sequence in wrap order.
// Only called with a non-empty pending map.
func (st *streamState) oldestPending() uint32 {
	first := true
	var oldest uint32
	for seq := range st.pending {
		if first || seqBefore(seq, oldest) {
			oldest = seq
			first = false
		}
	}
	return oldest
}

// Demuxer reassembles packets into frames and delivers them in
// sequence order. A frame whose fragments do not all arrive within
// the latency window is declared lost; after a loss the video stream
// withholds frames until the next key frame so the decoder never sees
// a broken reference chain. Not safe for concurrent use.
type Demuxer struct {
	fec     int
	latency time.Duration
	now     func() time.Time
	log     *zap.SugaredLogger

	streams map[uint8]*streamState

	lost      atomic.Uint64
	recovered atomic.Uint64
}

func NewDemuxer(cfg domain.TransportConfig, log *zap.SugaredLogger) *Demuxer {
	fec := int(cfg.FEC)
	if fec == 0 {
		fec = 1
	}
	return &Demuxer{
		fec:     fec,
		latency: time.Duration(cfg.LatencyMS) * time.Millisecond,
		now:     time.Now,
		log:     log,
		streams: make(map[uint8]*streamState),
	}
}

// Push feeds one packet in and returns any frames that became
// deliverable, oldest first.
func (d *Demuxer) Push(p *protocol.Packet) []Frame {
	st, ok := d.streams[p.StreamID]
	if !ok {
		st = &streamState{
			nextSeq:  p.Sequence,
			pending:  make(map[uint32]*assembly),
			awaitKey: p.StreamID == protocol.StreamVideo,
		}
		d.streams[p.StreamID] = st
	}
	if seqBefore(p.Sequence, st.nextSeq) {
		return nil
	}
	asm, ok := st.pending[p.Sequence]
	if !ok {
		asm = newAssembly(d.now())
		st.pending[p.Sequence] = asm
	}
	asm.add(p)
	return d.flush(p.StreamID, st)
}

// Lost returns the running count of frames declared unrecoverable.
func (d *Demuxer) Lost() uint64 { return d.lost.Load() }

// Recovered returns the running count of fragments repaired by parity.
func (d *Demuxer) Recovered() uint64 { return d.recovered.Load() }

func (d *Demuxer) flush(streamID uint8, st *streamState) []Frame {
	var out []Frame
	for {
		asm, ok := st.pending[st.nextSeq]
		if ok {
			done, recovered := asm.complete(d.fec)
			if recovered > 0 {
				d.recovered.Add(uint64(recovered))
			}
			if done {
				delete(st.pending, st.nextSeq)
				st.nextSeq++
				frame := Frame{
					StreamID:  streamID,
					KeyFrame:  asm.keyFrame,
					Timestamp: asm.timestamp,
					Payload:   asm.payload(),
				}
				if streamID == protocol.StreamVideo && st.awaitKey {
					if !frame.KeyFrame {
						d.log.Debugw("withholding frame until key frame", "sequence", st.nextSeq-1)
						continue
					}
					st.awaitKey = false
				}
				out = append(out, frame)
				continue
			}
		}
		if !d.overdue(st) {
			return out
		}
		// The head frame is not going to complete; give up on it and
		// resync on the next key frame.
		d.lost.Add(1)
		if streamID == protocol.StreamVideo {
			st.awaitKey = true
		}
		d.log.Debugw("frame lost", "stream", streamID, "sequence", st.nextSeq)
		if ok {
			delete(st.pending, st.nextSeq)
			st.nextSeq++
		} else {
			// Nothing buffered at the head; skip straight to the
			// oldest frame we do have.
			st.nextSeq = st.oldestPending()
		}
	}
}

// overdue reports whether the head of the window has waited past the
// latency budget, judged by the oldest buffered assembly.
func (d *Demuxer) overdue(st *streamState) bool {
	if len(st.pending) == 0 {
		return false
	}
	if len(st.pending) > maxPending {
		return true
	}
	deadline := d.now().Add(-d.latency)
	for _, asm := range st.pending {
		if asm.firstSeen.Before(deadline) {
			return true
		}
	}
	return false
}

// seqBefore orders sequence numbers on the wrapping u32 circle.
func seqBefore(a, b uint32) bool {
	return int32(a-b) < 0
}
