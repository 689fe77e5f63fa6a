package coach

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/pitched26/pitched/internal/logging"
	"github.com/pitched26/pitched/internal/pace"
	"github.com/pitched26/pitched/internal/segment"
	"github.com/pitched26/pitched/internal/tips"
)

// Options are the session tunables. Zero values fall back to defaults.
type Options struct {
	CyclePeriod       time.Duration
	MinSegment        time.Duration
	MaxInflight       int
	ContextCharBudget int
	PaceTick          time.Duration
}

func (o Options) withDefaults() Options {
	if o.CyclePeriod <= 0 {
		o.CyclePeriod = 2000 * time.Millisecond
	}
	if o.MinSegment <= 0 {
		o.MinSegment = 100 * time.Millisecond
	}
	if o.MaxInflight <= 0 {
		o.MaxInflight = 3
	}
	if o.ContextCharBudget <= 0 {
		o.ContextCharBudget = 2000
	}
	if o.PaceTick <= 0 {
		o.PaceTick = 100 * time.Millisecond
	}
	return o
}

// Session is the analysis pipeline for one rehearsal: it sequences audio
// segments, bounds concurrent requests against the analysis service, and
// reconciles out-of-order responses so the published state only ever moves
// forward in time.
//
// All counters and the published state share one mutex; each response
// handler's read-decide-write runs as a single critical section so two
// handlers can never both pass the staleness check.
type Session struct {
	analyzer Analyzer
	opts     Options

	mu               sync.Mutex
	active           bool
	run              uint64
	sequence         uint64
	lastDisplayedSeq uint64
	inflight         int

	pitchData   *PitchData
	isAnalyzing bool
	cycleCount  int
	errMsg      string
	tipHistory  []CoachingTip
	paceScore   float64
	transcript  string

	tracker   *pace.Tracker
	sanitizer *tips.Sanitizer
	seg       *segment.Segmenter

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewSession constructs a Session around the given analyzer.
func NewSession(analyzer Analyzer, opts Options) *Session {
	return &Session{
		analyzer:  analyzer,
		opts:      opts.withDefaults(),
		tracker:   pace.NewTracker(),
		sanitizer: tips.NewSanitizer(),
	}
}

// Start resets all counters and per-session state, begins the segmentation
// cycle and the pace refresh ticker, and transitions to analyzing.
func (s *Session) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.active {
		return errors.New("session already started")
	}
	s.active = true
	s.run++
	s.sequence = 0
	s.lastDisplayedSeq = 0
	s.inflight = 0
	s.pitchData = nil
	s.isAnalyzing = false
	s.cycleCount = 0
	s.errMsg = ""
	s.tipHistory = nil
	s.paceScore = 0
	s.transcript = ""
	s.tracker.Reset()
	s.sanitizer.Reset()

	s.ctx, s.cancel = context.WithCancel(context.Background())
	s.seg = segment.New(s.opts.CyclePeriod, s.opts.MinSegment, s.onSegmentReady)
	s.seg.Start()

	s.wg.Add(1)
	go s.paceLoop(s.ctx)
	return nil
}

// FeedPCM forwards captured 16kHz PCM16LE audio into the segmenter.
func (s *Session) FeedPCM(pcm []byte) {
	s.mu.Lock()
	seg := s.seg
	active := s.active
	s.mu.Unlock()
	if active && seg != nil {
		seg.Feed(pcm)
	}
}

// Stop flips the session inactive so late responses are discarded, halts
// the segmentation cycle and cancels in-flight requests. Cancellation is
// an optimization only; the active flag and the run stamp are what
// guarantee responses already past cancellation cannot mutate state,
// even if the session has been restarted in the meantime.
func (s *Session) Stop() {
	s.mu.Lock()
	if !s.active {
		s.mu.Unlock()
		return
	}
	s.active = false
	seg := s.seg
	s.seg = nil
	cancel := s.cancel
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if seg != nil {
		seg.Stop()
	}
	s.wg.Wait()
	logging.Infow("session stopped")
}

// Snapshot copies the externally observable state.
func (s *Session) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	snap := Snapshot{
		IsAnalyzing: s.isAnalyzing,
		CycleCount:  s.cycleCount,
		Error:       s.errMsg,
		PaceScore:   s.paceScore,
		Transcript:  s.transcript,
	}
	if s.pitchData != nil {
		pd := *s.pitchData
		snap.PitchData = &pd
	}
	snap.TipHistory = append([]CoachingTip(nil), s.tipHistory...)
	return snap
}

// onSegmentReady runs on each segmentation cycle. It never waits on the
// network: the request is dispatched on its own goroutine and reconciled
// later by sequence number. When the in-flight cap is reached the segment
// is dropped outright; queuing it would only produce a stale, discardable
// result later.
func (s *Session) onSegmentReady(seg segment.Segment) {
	s.mu.Lock()
	if !s.active {
		s.mu.Unlock()
		return
	}
	if s.inflight >= s.opts.MaxInflight {
		s.mu.Unlock()
		logging.Debugw("inflight cap reached, dropping segment", "cap", s.opts.MaxInflight, "duration_ms", seg.Duration().Milliseconds())
		return
	}
	s.sequence++
	seqNo := s.sequence
	runNo := s.run
	s.inflight++
	s.isAnalyzing = true
	prior := transcriptTail(s.transcript, s.opts.ContextCharBudget)
	ctx := s.ctx
	s.mu.Unlock()

	// Deliberately not tracked by the session waitgroup: Stop must not
	// wait out a slow analysis call. The run stamp gates whatever
	// resolves afterward.
	go func() {
		res, err := s.analyzer.Analyze(ctx, seg.PCM, prior)
		s.onResponse(runNo, seqNo, res, err)
	}()
}

// onResponse reconciles one resolved request against the session counters.
// Responses carry the run they were dispatched from: one that resolves
// after the session stopped, or after a restart began a new run, belongs
// to counters that no longer exist and must not touch the current ones.
func (s *Session) onResponse(runNo, seqNo uint64, res *AnalysisResult, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if runNo != s.run {
		logging.Debugw("response from earlier run, discarding", "run", runNo, "seq", seqNo)
		return
	}
	s.inflight--

	if !s.active {
		logging.Debugw("response after stop, discarding", "seq", seqNo)
		return
	}

	if err == nil && res == nil {
		err = errors.New("analysis returned no result")
	}
	if err != nil {
		s.errMsg = err.Error()
		s.isAnalyzing = s.inflight > 0
		logging.Warnw("analysis failed", "seq", seqNo, "err", err)
		return
	}

	if seqNo <= s.lastDisplayedSeq {
		// A strictly newer result already landed; this one only ever
		// moves the display backward.
		s.isAnalyzing = s.inflight > 0
		logging.Debugw("stale response, discarding", "seq", seqNo, "last_displayed", s.lastDisplayedSeq)
		return
	}
	s.lastDisplayedSeq = seqNo

	if newWords := wordCount(res.Transcript) - wordCount(s.transcript); newWords > 0 {
		s.tracker.AddWords(newWords, time.Now())
	}

	kept := make([]CoachingTip, 0, len(res.Tips))
	for _, tip := range res.Tips {
		if text, ok := s.sanitizer.Accept(tip.Text); ok {
			tip.Text = text
			kept = append(kept, tip)
		}
	}
	s.tipHistory = append(s.tipHistory, kept...)

	s.pitchData = &PitchData{Tips: kept, Signals: res.Signals, CoachNote: res.CoachNote}
	s.transcript = res.Transcript
	s.cycleCount++
	s.errMsg = ""
	s.isAnalyzing = s.inflight > 0
}

// paceLoop refreshes the published pace score on a fixed period,
// independent of the much slower analysis cycles.
func (s *Session) paceLoop(ctx context.Context) {
	defer s.wg.Done()
	ticker := time.NewTicker(s.opts.PaceTick)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.mu.Lock()
			if s.active {
				s.paceScore = s.tracker.Update(time.Now())
			}
			s.mu.Unlock()
		}
	}
}

// transcriptTail bounds the rolling context sent with each request to the
// last budget characters, cut on a word boundary so the service never sees
// a torn word.
func transcriptTail(transcript string, budget int) string {
	if len(transcript) <= budget {
		return transcript
	}
	tail := transcript[len(transcript)-budget:]
	idx := strings.IndexAny(tail, " \t\n")
	if idx < 0 {
		// The whole tail is one torn word; no usable context.
		return ""
	}
	return tail[idx+1:]
}

func wordCount(s string) int { return len(strings.Fields(s)) }
