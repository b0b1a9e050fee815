// Package media wraps ffmpeg, ffprobe and espeak-ng as the editing engine.
// Every operation takes explicit source and destination paths and publishes
// its output atomically: the destination only ever holds a complete file.
package media

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Split output filenames, written into the destination directory.
const (
	SplitPart1File = "split_part1.mp4"
	SplitPart2File = "split_part2.mp4"
)

// Engine is the editing capability the dispatcher drives.
type Engine interface {
	Probe(ctx context.Context, path string) (*ProbeResult, error)
	Trim(ctx context.Context, src string, start, end float64, dst string) error
	Split(ctx context.Context, src string, at float64, dstDir string) error
	Mute(ctx context.Context, src, dst string) error
	Caption(ctx context.Context, src, text, dst string) error
	MixAudio(ctx context.Context, src, music, dst string) error
	Synthesize(ctx context.Context, text, dst string) error
}

type ProbeResult struct {
	Duration float64
	HasVideo bool
	HasAudio bool
}

// Stage names the operation an EngineError came from.
type Stage string

const (
	StageProbe      Stage = "probe"
	StageTrim       Stage = "trim"
	StageSplit      Stage = "split"
	StageMute       Stage = "mute"
	StageCaption    Stage = "caption"
	StageMix        Stage = "mix_audio"
	StageSynthesize Stage = "synthesize"
)

// ErrorKind classifies an EngineError.
type ErrorKind string

const (
	ErrInvalidRange  ErrorKind = "invalid_range"
	ErrInvalidInput  ErrorKind = "invalid_input"
	ErrMissingInput  ErrorKind = "missing_input"
	ErrEngineFailure ErrorKind = "engine_failure"
)

// EngineError is the structured failure returned by every Engine operation.
type EngineError struct {
	Stage  Stage
	Kind   ErrorKind
	Detail string
	Err    error
}

func (e *EngineError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Stage, e.Detail, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Stage, e.Detail)
}

func (e *EngineError) Unwrap() error {
	return e.Err
}

func (e *EngineError) IsInvalidRange() bool {
	return e.Kind == ErrInvalidRange
}

// AsEngineError unwraps err to an *EngineError when it is one.
func AsEngineError(err error) (*EngineError, bool) {
	var ee *EngineError
	if errors.As(err, &ee) {
		return ee, true
	}
	return nil, false
}

func invalidRange(stage Stage, format string, args ...interface{}) *EngineError {
	return &EngineError{Stage: stage, Kind: ErrInvalidRange, Detail: fmt.Sprintf(format, args...)}
}

// ValidateTrimRange checks [start, end) against a source of the given duration.
func ValidateTrimRange(start, end, duration float64) error {
	switch {
	case start < 0 || end < 0:
		return invalidRange(StageTrim, "bounds must not be negative (start %g, end %g)", start, end)
	case end <= start:
		return invalidRange(StageTrim, "end (%g) must be after start (%g)", end, start)
	case end > duration:
		return invalidRange(StageTrim, "end (%g) exceeds video duration (%.2f)", end, duration)
	}
	return nil
}

// ValidateSplitPoint checks that at lies strictly inside (0, duration).
func ValidateSplitPoint(at, duration float64) error {
	if at <= 0 || at >= duration {
		return invalidRange(StageSplit, "split point %g must be between 0 and %.2f", at, duration)
	}
	return nil
}

// RunResult is the structured outcome of one tool invocation.
type RunResult struct {
	Tool       string
	ExitCode   int
	StderrTail string
	Duration   time.Duration
}

// IsSuccess returns true when the subprocess exited cleanly.
func (r RunResult) IsSuccess() bool { return r.ExitCode == 0 }
