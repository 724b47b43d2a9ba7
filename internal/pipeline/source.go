package pipeline

import (
	"context"
	"io"
)

// SliceSource replays a fixed list of frames.
type SliceSource struct {
	frames []Frame
	next   int
}

// NewSliceSource returns a source yielding frames in order.
func NewSliceSource(frames []Frame) *SliceSource {
	return &SliceSource{frames: frames}
}

// Next implements FrameSource.
func (s *SliceSource) Next(ctx context.Context) (Frame, error) {
	if err := ctx.Err(); err != nil {
		return Frame{}, err
	}
	if s.next >= len(s.frames) {
		return Frame{}, io.EOF
	}
	f := s.frames[s.next]
	s.next++
	return f, nil
}

// SourceFunc adapts a function to FrameSource.
type SourceFunc func(ctx context.Context) (Frame, error)

// Next implements FrameSource.
func (f SourceFunc) Next(ctx context.Context) (Frame, error) { return f(ctx) }
