// Package dispatch turns editing intents into engine calls against a user's
// artifact directory. Every dispatch, whatever its outcome, ends with exactly
// one command history entry and a user-facing message; engine and
// precondition failures never escape as errors.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cutline/cutline/internal/artifacts"
	"github.com/cutline/cutline/internal/history"
	"github.com/cutline/cutline/internal/intent"
	"github.com/cutline/cutline/internal/logging"
	"github.com/cutline/cutline/internal/media"
)

// User-facing messages.
const (
	MsgNoSource           = "No video found to edit. Please upload one first."
	MsgNoMusic            = "No background music file found. Please upload one using the 'Add Music' button below."
	MsgNoMusicForMuted    = "No music file found. Please upload one or choose from the gallery."
	MsgNoMutedVideo       = "No muted video found. Mute the video first, then add music to it."
	MsgNoNarrationText    = "Please enter some text to narrate."
	MsgUnrecognized       = "Sorry, I didn't understand that command. Try 'Trim from 5 to 10 seconds' or 'Add captions: Hello world'."
	MsgWorkspaceFailure   = "Could not prepare your edit folder. Please try again."
	MsgStateSaveFailure   = "The edit finished but its result could not be recorded. Please try again."
	MsgEditsCleared       = "✅ Your edits have been cleared."
	MsgEditsPartlyCleared = "⚠️ Some edits could not be removed; the rest were cleared."
	MsgHistoryCleared     = "🧹 Command history cleared."
)

// Outcome classifies a dispatch result.
type Outcome string

const (
	OutcomeApplied             Outcome = "applied"
	OutcomeUnrecognized        Outcome = "unrecognized"
	OutcomeMissingPrecondition Outcome = "missing_precondition"
	OutcomeInvalidRange        Outcome = "invalid_range"
	OutcomeInvalidInput        Outcome = "invalid_input"
	OutcomeEngineFailure       Outcome = "engine_failure"
	OutcomeInternal            Outcome = "internal"
)

// Result is the outcome of one dispatch.
type Result struct {
	Success bool           `json:"success"`
	Message string         `json:"message"`
	Kind    artifacts.Kind `json:"kind,omitempty"`
	Outcome Outcome        `json:"outcome"`
	Err     error          `json:"-"`
}

// Reply is what a submitted command returns to the caller.
type Reply struct {
	Response  string          `json:"response"`
	Outcome   Outcome         `json:"outcome"`
	Artifacts artifacts.Flags `json:"artifacts"`
}

// SourceLocator supplies a user's active upload.
type SourceLocator interface {
	ActiveVideo(ctx context.Context, userID int64) (string, error)
}

// MusicLocator supplies the background music path for a user.
type MusicLocator interface {
	MusicPath(userID int64) string
}

// Publisher receives every successfully produced artifact and is told when a
// user's edits are cleared.
type Publisher interface {
	Publish(ctx context.Context, userID int64, kind artifacts.Kind, paths []string) error
	Clear(ctx context.Context, userID int64) error
}

type Config struct {
	Engine  media.Engine
	Tracker *artifacts.Tracker
	History history.Log
	Sources SourceLocator
	Music   MusicLocator
	// Mirror is optional.
	Mirror Publisher
	// Parser defaults to the standard matcher order.
	Parser *intent.Parser
	Logger *slog.Logger
}

// Stats summarizes what a Dispatcher has processed since start.
type Stats struct {
	Processed    int64
	Failed       int64
	LastResponse string
	LastAt       time.Time
}

type Dispatcher struct {
	engine  media.Engine
	tracker *artifacts.Tracker
	history history.Log
	sources SourceLocator
	music   MusicLocator
	mirror  Publisher
	parser  *intent.Parser
	logger  *slog.Logger

	processed atomic.Int64
	failures  atomic.Int64
	mu        sync.Mutex
	last      string
	lastAt    time.Time
}

func New(cfg Config) *Dispatcher {
	parser := cfg.Parser
	if parser == nil {
		parser = intent.NewParser()
	}
	logger := cfg.Logger
	if logger == nil {
		logger = logging.Discard()
	}
	return &Dispatcher{
		engine:  cfg.Engine,
		tracker: cfg.Tracker,
		history: cfg.History,
		sources: cfg.Sources,
		music:   cfg.Music,
		mirror:  cfg.Mirror,
		parser:  parser,
		logger:  logging.WithComponent(logger, "dispatch"),
	}
}

// Submit parses a free-text command, dispatches it against the user's active
// upload and returns the response together with fresh artifact flags.
func (d *Dispatcher) Submit(ctx context.Context, userID int64, command string) Reply {
	return d.Apply(ctx, userID, d.parser.Parse(command))
}

// Apply dispatches an already built intent, as the explicit form actions do.
func (d *Dispatcher) Apply(ctx context.Context, userID int64, in intent.Intent) Reply {
	ctx = context.WithoutCancel(ctx)
	source, err := d.sources.ActiveVideo(ctx, userID)
	if err != nil {
		d.logger.Warn("failed to resolve active video", "user_id", userID, "error", err)
	}

	res := d.Dispatch(ctx, userID, in, source)
	return Reply{
		Response:  res.Message,
		Outcome:   res.Outcome,
		Artifacts: d.Snapshot(ctx, userID),
	}
}

// Snapshot returns the user's artifact flags. A failed read reports every
// kind absent.
func (d *Dispatcher) Snapshot(ctx context.Context, userID int64) artifacts.Flags {
	flags, err := d.tracker.Snapshot(ctx, userID)
	if err != nil {
		d.logger.Error("failed to read artifact states", "user_id", userID, "error", err)
		return artifacts.Flags{}
	}
	return flags
}

// Dispatch runs one intent. sourceHint is the active upload; it is ignored by
// intents that read a derived artifact or no video at all. Cancellation of
// ctx is ignored: an operation started here runs to completion and is always
// recorded.
func (d *Dispatcher) Dispatch(ctx context.Context, userID int64, in intent.Intent, sourceHint string) Result {
	ctx = context.WithoutCancel(ctx)
	start := time.Now()
	logger := logging.WithCommand(logging.WithUserID(d.logger, userID), string(in.Kind), in.Raw)

	res := d.apply(ctx, userID, in, sourceHint)

	d.record(ctx, userID, commandText(in), res)

	attrs := []any{
		"outcome", res.Outcome,
		"duration_ms", time.Since(start).Milliseconds(),
	}
	switch {
	case res.Success:
		logger.Info("command applied", attrs...)
	case res.Err != nil:
		logger.Warn("command failed", append(attrs, "error", res.Err)...)
	default:
		logger.Info("command not applied", attrs...)
	}
	return res
}

func (d *Dispatcher) apply(ctx context.Context, userID int64, in intent.Intent, source string) Result {
	switch in.Kind {
	case intent.KindNarrate:
		return d.narrate(ctx, userID, in.Text)
	case intent.KindMixMusicOnMuted:
		return d.mixOnMuted(ctx, userID)
	case intent.KindTrim, intent.KindSplit, intent.KindCaption, intent.KindMute, intent.KindMixMusic:
	default:
		return Result{Message: MsgUnrecognized, Outcome: OutcomeUnrecognized}
	}

	if !fileExists(source) {
		return missing(MsgNoSource)
	}

	dir, err := d.tracker.EnsureDir(userID)
	if err != nil {
		return Result{Message: MsgWorkspaceFailure, Outcome: OutcomeInternal, Err: err}
	}

	switch in.Kind {
	case intent.KindTrim:
		if in.Start >= in.End {
			return Result{
				Message: fmt.Sprintf("Invalid trim range: start (%d) must be before end (%d).", in.Start, in.End),
				Kind:    artifacts.KindTrim,
				Outcome: OutcomeInvalidRange,
			}
		}
		return d.run(ctx, userID, artifacts.KindTrim,
			fmt.Sprintf("Trimmed video from %d to %d seconds.", in.Start, in.End),
			func() error {
				return d.engine.Trim(ctx, source, float64(in.Start), float64(in.End), d.tracker.Path(userID, artifacts.KindTrim))
			})

	case intent.KindSplit:
		return d.run(ctx, userID, artifacts.KindSplit,
			fmt.Sprintf("Video split at %d seconds.", in.At),
			func() error {
				return d.engine.Split(ctx, source, float64(in.At), dir)
			})

	case intent.KindCaption:
		return d.run(ctx, userID, artifacts.KindCaption,
			"Caption added: "+in.Text,
			func() error {
				return d.engine.Caption(ctx, source, in.Text, d.tracker.Path(userID, artifacts.KindCaption))
			})

	case intent.KindMute:
		return d.run(ctx, userID, artifacts.KindMute,
			"Muted the video.",
			func() error {
				return d.engine.Mute(ctx, source, d.tracker.Path(userID, artifacts.KindMute))
			})

	default:
		music := d.music.MusicPath(userID)
		if !fileExists(music) {
			return missing(MsgNoMusic)
		}
		return d.run(ctx, userID, artifacts.KindMusic,
			"Background music added.",
			func() error {
				return d.engine.MixAudio(ctx, source, music, d.tracker.Path(userID, artifacts.KindMusic))
			})
	}
}

func (d *Dispatcher) mixOnMuted(ctx context.Context, userID int64) Result {
	ready, err := d.tracker.IsReady(ctx, userID, artifacts.KindMute)
	if err != nil {
		return Result{Message: MsgWorkspaceFailure, Outcome: OutcomeInternal, Err: err}
	}
	if !ready {
		return missing(MsgNoMutedVideo)
	}

	music := d.music.MusicPath(userID)
	if !fileExists(music) {
		return missing(MsgNoMusicForMuted)
	}

	muted := d.tracker.Path(userID, artifacts.KindMute)
	return d.run(ctx, userID, artifacts.KindMusic,
		"Background music added to muted video.",
		func() error {
			return d.engine.MixAudio(ctx, muted, music, d.tracker.Path(userID, artifacts.KindMusic))
		})
}

func (d *Dispatcher) narrate(ctx context.Context, userID int64, text string) Result {
	if strings.TrimSpace(text) == "" {
		return Result{Message: MsgNoNarrationText, Kind: artifacts.KindVoice, Outcome: OutcomeInvalidInput}
	}
	if _, err := d.tracker.EnsureDir(userID); err != nil {
		return Result{Message: MsgWorkspaceFailure, Outcome: OutcomeInternal, Err: err}
	}
	return d.run(ctx, userID, artifacts.KindVoice,
		"Voice narration generated.",
		func() error {
			return d.engine.Synthesize(ctx, text, d.tracker.Path(userID, artifacts.KindVoice))
		})
}

// run executes op and records the artifact state it leaves behind.
func (d *Dispatcher) run(ctx context.Context, userID int64, kind artifacts.Kind, success string, op func() error) Result {
	if err := op(); err != nil {
		return d.failed(ctx, userID, kind, err)
	}

	if err := d.tracker.MarkReady(ctx, userID, kind); err != nil {
		return Result{Message: MsgStateSaveFailure, Kind: kind, Outcome: OutcomeInternal, Err: err}
	}

	d.publish(ctx, userID, kind)
	return Result{Success: true, Message: success, Kind: kind, Outcome: OutcomeApplied}
}

// failed converts an engine error into a Result. Rejections that happen
// before anything is written leave the previous artifact's state alone; a
// failed run marks the kind Failed.
func (d *Dispatcher) failed(ctx context.Context, userID int64, kind artifacts.Kind, err error) Result {
	res := Result{Kind: kind, Err: err}

	ee, ok := media.AsEngineError(err)
	if !ok {
		ee = &media.EngineError{Kind: media.ErrEngineFailure, Detail: err.Error()}
	}

	switch ee.Kind {
	case media.ErrInvalidRange:
		res.Outcome = OutcomeInvalidRange
		res.Message = "Invalid range: " + ee.Detail + "."
		return res
	case media.ErrInvalidInput:
		res.Outcome = OutcomeInvalidInput
		res.Message = "Could not apply edit: " + ee.Detail + "."
		return res
	case media.ErrMissingInput:
		res.Outcome = OutcomeMissingPrecondition
		res.Message = "Could not apply edit: " + ee.Detail + "."
		return res
	}

	res.Outcome = OutcomeEngineFailure
	res.Message = "Could not apply edit: " + ee.Detail
	if errors.Is(err, context.DeadlineExceeded) {
		res.Message = "Could not apply edit: the operation timed out."
	}
	if merr := d.tracker.MarkFailed(ctx, userID, kind, err); merr != nil {
		d.logger.Error("failed to record artifact failure", "user_id", userID, "kind", kind, "error", merr)
	}
	return res
}

func (d *Dispatcher) publish(ctx context.Context, userID int64, kind artifacts.Kind) {
	if d.mirror == nil {
		return
	}
	if err := d.mirror.Publish(ctx, userID, kind, d.tracker.Paths(userID, kind)); err != nil {
		d.logger.Warn("artifact mirror failed", "user_id", userID, "kind", kind, "error", err)
	}
}

func (d *Dispatcher) record(ctx context.Context, userID int64, command string, res Result) {
	d.processed.Add(1)
	if !res.Success {
		d.failures.Add(1)
	}
	d.mu.Lock()
	d.last = res.Message
	d.lastAt = time.Now()
	d.mu.Unlock()

	if d.history == nil {
		return
	}
	if _, err := d.history.Append(ctx, userID, command, res.Message); err != nil {
		d.logger.Error("failed to append history", "user_id", userID, "error", err)
	}
}

// Stats returns counters since start.
func (d *Dispatcher) Stats() Stats {
	d.mu.Lock()
	defer d.mu.Unlock()
	return Stats{
		Processed:    d.processed.Load(),
		Failed:       d.failures.Load(),
		LastResponse: d.last,
		LastAt:       d.lastAt,
	}
}

// ClearEdits removes every artifact of the user and returns the status
// message to show next.
func (d *Dispatcher) ClearEdits(ctx context.Context, userID int64) (string, artifacts.ClearReport, error) {
	report, err := d.tracker.ClearAll(ctx, userID)
	if err != nil {
		return "", report, err
	}
	if d.mirror != nil {
		if err := d.mirror.Clear(ctx, userID); err != nil {
			d.logger.Warn("mirror clear failed", "user_id", userID, "error", err)
		}
	}
	if report.Partial() {
		return MsgEditsPartlyCleared, report, nil
	}
	return MsgEditsCleared, report, nil
}

// ClearHistory deletes the user's command history.
func (d *Dispatcher) ClearHistory(ctx context.Context, userID int64) (string, int64, error) {
	n, err := d.history.Clear(ctx, userID)
	if err != nil {
		return "", 0, err
	}
	d.logger.Info("history cleared", "user_id", userID, "entries", n)
	return MsgHistoryCleared, n, nil
}

func missing(msg string) Result {
	return Result{Message: msg, Outcome: OutcomeMissingPrecondition}
}

func commandText(in intent.Intent) string {
	if in.Raw != "" {
		return in.Raw
	}
	return in.String()
}

func fileExists(path string) bool {
	if path == "" {
		return false
	}
	info, err := os.Stat(path)
	return err == nil && info.Mode().IsRegular()
}
