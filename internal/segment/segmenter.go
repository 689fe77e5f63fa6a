package segment

import (
	"sync"
	"time"

	"github.com/pitched26/pitched/internal/logging"
)

// SampleRate is the capture rate for all pipeline audio: 16kHz PCM16LE mono.
const SampleRate = 16000

// Segment is one time-boxed chunk of captured audio awaiting analysis.
type Segment struct {
	PCM     []byte
	Samples int
	Start   time.Time
}

// Duration reports the audio length of the segment.
func (s Segment) Duration() time.Duration {
	return time.Duration(s.Samples) * time.Second / SampleRate
}

// Segmenter turns a live PCM stream into bounded segments, one per cycle:
// incoming frames accumulate in a buffer that is atomically swapped out on
// each cycle boundary. Segments shorter than the minimum are discarded so
// silence does not produce wasted analysis calls.
type Segmenter struct {
	period    time.Duration
	minBytes  int
	onSegment func(Segment)

	mu       sync.Mutex
	buf      []byte
	bufStart time.Time

	stopCh  chan struct{}
	stopped bool
	wg      sync.WaitGroup
}

// New constructs a Segmenter. onSegment is invoked at most once per cycle
// and must not block; downstream dispatch is expected to be fire-and-forget.
func New(period, minSegment time.Duration, onSegment func(Segment)) *Segmenter {
	minSamples := int(minSegment * SampleRate / time.Second)
	return &Segmenter{
		period:    period,
		minBytes:  minSamples * 2,
		onSegment: onSegment,
		stopCh:    make(chan struct{}),
	}
}

// Start begins the cycle ticker.
func (s *Segmenter) Start() {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ticker := time.NewTicker(s.period)
		defer ticker.Stop()
		for {
			select {
			case <-s.stopCh:
				return
			case <-ticker.C:
				s.cut()
			}
		}
	}()
}

// Feed appends captured PCM16LE bytes to the current collection window.
// Safe for concurrent use with the cycle ticker.
func (s *Segmenter) Feed(pcm []byte) {
	if len(pcm) < 2 {
		return
	}
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return
	}
	if len(s.buf) == 0 {
		s.bufStart = time.Now()
	}
	s.buf = append(s.buf, pcm...)
	s.mu.Unlock()
}

// cut swaps the accumulation buffer for a fresh one and hands the previous
// window downstream if it is big enough.
func (s *Segmenter) cut() {
	s.mu.Lock()
	buf := s.buf
	start := s.bufStart
	s.buf = nil
	s.mu.Unlock()

	if len(buf) < s.minBytes {
		if len(buf) > 0 {
			logging.Debugw("segment below minimum, discarding", "bytes", len(buf), "min_bytes", s.minBytes)
		}
		return
	}
	s.onSegment(Segment{PCM: buf, Samples: len(buf) / 2, Start: start})
}

// Stop halts the cycle ticker and drops any partially collected audio.
func (s *Segmenter) Stop() {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return
	}
	s.stopped = true
	s.buf = nil
	s.mu.Unlock()
	close(s.stopCh)
	s.wg.Wait()
}
