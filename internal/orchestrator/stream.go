package orchestrator

import "context"

// UpdateKind tags one frame of a StreamAnalysis sequence (spec §4.7
// "Streaming variant").
type UpdateKind string

const (
	UpdateProgress  UpdateKind = "progress"
	UpdateMove      UpdateKind = "move"
	UpdateVariation UpdateKind = "variation"
	UpdateComplete  UpdateKind = "complete"
)

// Update is one typed frame of a StreamAnalysis sequence. Which fields are
// meaningful (Progress, Response, or Move/Reasoning) is selected by Kind.
type Update struct {
	Kind      UpdateKind
	Progress  float64 // valid on UpdateProgress, in [0,1]
	Move      int      // valid on UpdateVariation
	Reasoning string   // valid on UpdateVariation
	Response  Response // valid on UpdateMove and UpdateComplete
	Err       error    // valid on UpdateComplete when the analysis failed
}

// AnalysisStream is the pull-based lazy sequence spec §9's design note maps
// async generator sequences to ("a pull-based lazy sequence (generator /
// iterator / channel receiver) with explicit cancellation"). It is a thin
// wrapper over a buffered channel plus the context.CancelFunc that stops
// production early.
type AnalysisStream struct {
	updates chan Update
	cancel  context.CancelFunc
}

// Next blocks for the next frame, returning ok=false once the sequence has
// completed (after an UpdateComplete frame) or ctx is done.
func (s *AnalysisStream) Next(ctx context.Context) (Update, bool) {
	select {
	case u, ok := <-s.updates:
		return u, ok
	case <-ctx.Done():
		return Update{}, false
	}
}

// Stop cancels the underlying analysis; remaining work is abandoned and the
// stream drains to closed. Safe to call multiple times and safe to call
// before the sequence completes on its own (spec §4.7: "Consumers may stop
// early; remaining work is cancelled").
func (s *AnalysisStream) Stop() {
	s.cancel()
}

// StreamAnalysis runs GetMove's search while emitting progress, the final
// move, its alternatives as variations, and a terminal complete frame, in
// that order (spec §4.7 "Streaming variant": "Updates are produced in
// order; the iterator is finite and completes on the complete frame or on
// error").
func (o *Orchestrator) StreamAnalysis(ctx context.Context, req Request) *AnalysisStream {
	ctx, cancel := context.WithCancel(ctx)
	s := &AnalysisStream{updates: make(chan Update, 4), cancel: cancel}
	go o.runStream(ctx, req, s)
	return s
}

func (o *Orchestrator) runStream(ctx context.Context, req Request, s *AnalysisStream) {
	defer close(s.updates)
	defer s.cancel()

	send := func(u Update) bool {
		select {
		case s.updates <- u:
			return true
		case <-ctx.Done():
			return false
		}
	}

	if !send(Update{Kind: UpdateProgress, Progress: 0.1}) {
		return
	}

	resp, err := o.GetMove(ctx, req)
	if err != nil {
		send(Update{Kind: UpdateComplete, Err: err})
		return
	}

	if !send(Update{Kind: UpdateProgress, Progress: 0.9}) {
		return
	}
	if !send(Update{Kind: UpdateMove, Response: resp}) {
		return
	}
	for _, alt := range resp.Alternatives {
		if !send(Update{Kind: UpdateVariation, Move: alt.Move, Reasoning: alt.Reasoning}) {
			return
		}
	}
	send(Update{Kind: UpdateComplete, Response: resp})
}
