package coach

import (
	"math"
	"sync"
)

type scheduledSource struct {
	handle PlaybackHandle
	start  float64
}

// PlaybackScheduler queues decoded chunks back to back on an OutputGraph so
// they play without gaps or overlap, and can cut everything off at once.
type PlaybackScheduler struct {
	graph         OutputGraph
	nextStartTime float64
	sources       map[*scheduledSource]struct{}
	logger        *CoachLogger
	mu            sync.Mutex
}

// NewPlaybackScheduler schedules onto graph. A nil logger uses the global one.
func NewPlaybackScheduler(graph OutputGraph, logger *CoachLogger) *PlaybackScheduler {
	if logger == nil {
		logger = GetGlobalLogger()
	}
	return &PlaybackScheduler{
		graph:   graph,
		sources: make(map[*scheduledSource]struct{}),
		logger:  logger.WithComponent("PlaybackScheduler"),
	}
}

// Enqueue schedules buf at max(next start, now) and returns the chosen start time.
func (p *PlaybackScheduler) Enqueue(buf *AudioBuffer) (float64, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	start := math.Max(p.nextStartTime, p.graph.CurrentTime())
	src := &scheduledSource{start: start}

	handle, err := p.graph.Schedule(buf, start, func() { p.finished(src) })
	if err != nil {
		return 0, err
	}
	src.handle = handle

	p.nextStartTime = start + buf.Duration()
	p.sources[src] = struct{}{}

	p.logger.LogAudioEvent("chunk_scheduled", map[string]interface{}{
		"start":    start,
		"duration": buf.Duration(),
		"pending":  len(p.sources),
	})
	return start, nil
}

func (p *PlaybackScheduler) finished(src *scheduledSource) {
	p.mu.Lock()
	delete(p.sources, src)
	p.mu.Unlock()
}

// Interrupt stops every scheduled chunk and resets the timeline so the next
// chunk starts immediately.
func (p *PlaybackScheduler) Interrupt() {
	p.mu.Lock()
	defer p.mu.Unlock()

	stopped := len(p.sources)
	for src := range p.sources {
		src.handle.Stop()
	}
	p.sources = make(map[*scheduledSource]struct{})
	p.nextStartTime = 0

	p.logger.LogAudioEvent("playback_interrupted", map[string]interface{}{
		"stopped": stopped,
	})
}

// Pending is the number of chunks scheduled or playing.
func (p *PlaybackScheduler) Pending() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.sources)
}

// NextStartTime is when the next enqueued chunk would start, in graph time.
func (p *PlaybackScheduler) NextStartTime() float64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.nextStartTime
}

// Close interrupts playback and closes the underlying graph.
func (p *PlaybackScheduler) Close() error {
	p.Interrupt()
	return p.graph.Close()
}
