package media

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

const (
	captionFontSize = 40
	captionMargin   = 40
	musicGain       = "2.0"
)

// encodeProfile is shared by every re-encoding operation: fast preset,
// single thread. Outputs are interactive previews.
var encodeProfile = []string{
	"-c:v", "libx264",
	"-preset", "ultrafast",
	"-threads", "1",
	"-c:a", "aac",
}

// Config holds the engine's configuration.
type Config struct {
	FFmpegPath  string        // empty = look up "ffmpeg" on PATH
	FFprobePath string        // empty = look up "ffprobe" on PATH
	EspeakPath  string        // empty = look up "espeak-ng", then "espeak"
	FontFile    string        // optional drawtext font; fontconfig default otherwise
	Timeout     time.Duration // per-operation limit; zero means none
	Logger      *slog.Logger
	DebugPaths  bool // if true, log full file paths; otherwise sanitise
}

// DefaultConfig returns production-ready defaults.
func DefaultConfig(logger *slog.Logger) Config {
	return Config{
		Logger: logger,
	}
}

// FFmpegEngine is the production Engine.
type FFmpegEngine struct {
	cfg     Config
	ffmpeg  string
	ffprobe string
	espeak  string // empty when narration is unavailable
}

var _ Engine = (*FFmpegEngine)(nil)

// NewFFmpegEngine resolves tool binaries. ffmpeg and ffprobe are required;
// a missing espeak only disables Synthesize.
func NewFFmpegEngine(cfg Config) (*FFmpegEngine, error) {
	ffmpeg, err := resolveBinary(cfg.FFmpegPath, "ffmpeg")
	if err != nil {
		return nil, fmt.Errorf("cannot locate ffmpeg: %w", err)
	}
	ffprobe, err := resolveBinary(cfg.FFprobePath, "ffprobe")
	if err != nil {
		return nil, fmt.Errorf("cannot locate ffprobe: %w", err)
	}
	espeak, err := resolveBinary(cfg.EspeakPath, "espeak-ng", "espeak")
	if err != nil {
		cfg.Logger.Warn("speech synthesis unavailable", "error", err)
		espeak = ""
	}
	cfg.Logger.Info("media engine initialised",
		"ffmpeg", ffmpeg,
		"ffprobe", ffprobe,
		"espeak", espeak,
	)

	return &FFmpegEngine{cfg: cfg, ffmpeg: ffmpeg, ffprobe: ffprobe, espeak: espeak}, nil
}

type ffprobeOutput struct {
	Streams []struct {
		CodecType string `json:"codec_type"`
	} `json:"streams"`
	Format struct {
		Duration string `json:"duration"`
	} `json:"format"`
}

func (e *FFmpegEngine) Probe(ctx context.Context, path string) (*ProbeResult, error) {
	if err := requireFile(StageProbe, path); err != nil {
		return nil, err
	}

	var stdout bytes.Buffer
	result := e.run(ctx, StageProbe, e.ffprobe, &stdout, probeArgs(path)...)
	if err := failure(StageProbe, result); err != nil {
		return nil, err
	}
	return parseProbe(stdout.Bytes())
}

// opContext bounds one operation by the configured timeout. Without one the
// operation runs until ffmpeg exits.
func (e *FFmpegEngine) opContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if e.cfg.Timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, e.cfg.Timeout)
}

func (e *FFmpegEngine) Trim(ctx context.Context, src string, start, end float64, dst string) error {
	ctx, cancel := e.opContext(ctx)
	defer cancel()

	probe, err := e.probeSource(ctx, StageTrim, src)
	if err != nil {
		return err
	}
	if err := ValidateTrimRange(start, end, probe.Duration); err != nil {
		return err
	}

	return e.produce(ctx, StageTrim, dst, func(tmp string) []string {
		return trimArgs(src, start, end, tmp)
	})
}

func (e *FFmpegEngine) Split(ctx context.Context, src string, at float64, dstDir string) error {
	ctx, cancel := e.opContext(ctx)
	defer cancel()

	probe, err := e.probeSource(ctx, StageSplit, src)
	if err != nil {
		return err
	}
	if err := ValidateSplitPoint(at, probe.Duration); err != nil {
		return err
	}
	if err := os.MkdirAll(dstDir, 0755); err != nil {
		return &EngineError{Stage: StageSplit, Kind: ErrEngineFailure, Detail: "cannot create output dir", Err: err}
	}

	parts := [2]struct {
		dst  string
		tmp  string
		args func(tmp string) []string
	}{
		{dst: filepath.Join(dstDir, SplitPart1File), args: func(tmp string) []string { return splitHeadArgs(src, at, tmp) }},
		{dst: filepath.Join(dstDir, SplitPart2File), args: func(tmp string) []string { return splitTailArgs(src, at, tmp) }},
	}

	g, gctx := errgroup.WithContext(ctx)
	for i := range parts {
		p := &parts[i]
		p.tmp = tempSibling(p.dst)
		g.Go(func() error {
			return failure(StageSplit, e.run(gctx, StageSplit, e.ffmpeg, nil, p.args(p.tmp)...))
		})
	}
	if err := g.Wait(); err != nil {
		for _, p := range parts {
			os.Remove(p.tmp)
		}
		return err
	}

	for _, p := range parts {
		if err := os.Rename(p.tmp, p.dst); err != nil {
			for _, q := range parts {
				os.Remove(q.tmp)
			}
			return &EngineError{Stage: StageSplit, Kind: ErrEngineFailure, Detail: "cannot publish output", Err: err}
		}
	}
	return nil
}

func (e *FFmpegEngine) Mute(ctx context.Context, src, dst string) error {
	ctx, cancel := e.opContext(ctx)
	defer cancel()

	if err := requireFile(StageMute, src); err != nil {
		return err
	}
	return e.produce(ctx, StageMute, dst, func(tmp string) []string {
		return muteArgs(src, tmp)
	})
}

func (e *FFmpegEngine) Caption(ctx context.Context, src, text, dst string) error {
	ctx, cancel := e.opContext(ctx)
	defer cancel()

	if err := requireFile(StageCaption, src); err != nil {
		return err
	}
	clean := SanitizeCaption(text)
	if clean == "" {
		return &EngineError{Stage: StageCaption, Kind: ErrInvalidInput, Detail: "caption has no renderable characters"}
	}

	if err := os.Remove(dst); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return &EngineError{Stage: StageCaption, Kind: ErrEngineFailure, Detail: "cannot remove previous output", Err: err}
	}

	textFile, cleanup, err := writeTextFile(filepath.Dir(dst), clean)
	if err != nil {
		return &EngineError{Stage: StageCaption, Kind: ErrEngineFailure, Detail: "cannot stage caption text", Err: err}
	}
	defer cleanup()

	return e.produce(ctx, StageCaption, dst, func(tmp string) []string {
		return captionArgs(src, textFile, e.cfg.FontFile, tmp)
	})
}

func (e *FFmpegEngine) MixAudio(ctx context.Context, src, music, dst string) error {
	ctx, cancel := e.opContext(ctx)
	defer cancel()

	probe, err := e.probeSource(ctx, StageMix, src)
	if err != nil {
		return err
	}
	if err := requireFile(StageMix, music); err != nil {
		return err
	}

	return e.produce(ctx, StageMix, dst, func(tmp string) []string {
		return mixArgs(src, music, probe.Duration, tmp)
	})
}

func (e *FFmpegEngine) Synthesize(ctx context.Context, text, dst string) error {
	ctx, cancel := e.opContext(ctx)
	defer cancel()

	text = strings.TrimSpace(text)
	if text == "" {
		return &EngineError{Stage: StageSynthesize, Kind: ErrInvalidInput, Detail: "narration text is empty"}
	}
	if e.espeak == "" {
		return &EngineError{Stage: StageSynthesize, Kind: ErrEngineFailure, Detail: "no speech synthesizer installed"}
	}
	if err := os.MkdirAll(filepath.Dir(dst), 0755); err != nil {
		return &EngineError{Stage: StageSynthesize, Kind: ErrEngineFailure, Detail: "cannot create output dir", Err: err}
	}

	textFile, cleanup, err := writeTextFile(filepath.Dir(dst), text)
	if err != nil {
		return &EngineError{Stage: StageSynthesize, Kind: ErrEngineFailure, Detail: "cannot stage narration text", Err: err}
	}
	defer cleanup()

	wav := tempSibling(strings.TrimSuffix(dst, filepath.Ext(dst)) + ".wav")
	defer os.Remove(wav)

	if err := failure(StageSynthesize, e.run(ctx, StageSynthesize, e.espeak, nil, "-w", wav, "-f", textFile)); err != nil {
		return err
	}

	return e.produce(ctx, StageSynthesize, dst, func(tmp string) []string {
		return encodeSpeechArgs(wav, tmp)
	})
}

func (e *FFmpegEngine) probeSource(ctx context.Context, stage Stage, src string) (*ProbeResult, error) {
	probe, err := e.Probe(ctx, src)
	if err != nil {
		if ee, ok := AsEngineError(err); ok {
			ee.Stage = stage
			return nil, ee
		}
		return nil, err
	}
	if probe.Duration <= 0 {
		return nil, &EngineError{Stage: stage, Kind: ErrInvalidInput, Detail: "source has no measurable duration"}
	}
	return probe, nil
}

// produce runs ffmpeg into a temporary sibling of dst and renames it into
// place on success.
func (e *FFmpegEngine) produce(ctx context.Context, stage Stage, dst string, build func(tmp string) []string) error {
	if err := os.MkdirAll(filepath.Dir(dst), 0755); err != nil {
		return &EngineError{Stage: stage, Kind: ErrEngineFailure, Detail: "cannot create output dir", Err: err}
	}

	tmp := tempSibling(dst)
	if err := failure(stage, e.run(ctx, stage, e.ffmpeg, nil, build(tmp)...)); err != nil {
		os.Remove(tmp)
		return err
	}
	if err := os.Rename(tmp, dst); err != nil {
		os.Remove(tmp)
		return &EngineError{Stage: stage, Kind: ErrEngineFailure, Detail: "cannot publish output", Err: err}
	}

	e.cfg.Logger.Info("media output written", "stage", stage, "output", e.safePath(dst))
	return nil
}

func (e *FFmpegEngine) safePath(path string) string {
	if e.cfg.DebugPaths {
		return path
	}
	return filepath.Base(path)
}

func probeArgs(path string) []string {
	return []string{
		"-v", "error",
		"-show_entries", "format=duration:stream=codec_type",
		"-of", "json",
		path,
	}
}

func parseProbe(data []byte) (*ProbeResult, error) {
	var out ffprobeOutput
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, &EngineError{Stage: StageProbe, Kind: ErrEngineFailure, Detail: "cannot parse ffprobe output", Err: err}
	}

	res := &ProbeResult{}
	if out.Format.Duration != "" && out.Format.Duration != "N/A" {
		d, err := strconv.ParseFloat(out.Format.Duration, 64)
		if err != nil {
			return nil, &EngineError{Stage: StageProbe, Kind: ErrEngineFailure, Detail: "invalid duration " + strconv.Quote(out.Format.Duration)}
		}
		res.Duration = d
	}
	for _, s := range out.Streams {
		switch s.CodecType {
		case "video":
			res.HasVideo = true
		case "audio":
			res.HasAudio = true
		}
	}
	return res, nil
}

func trimArgs(src string, start, end float64, out string) []string {
	args := []string{"-y", "-hide_banner", "-loglevel", "error",
		"-ss", seconds(start), "-i", src, "-t", seconds(end - start)}
	args = append(args, encodeProfile...)
	return append(args, out)
}

func splitHeadArgs(src string, at float64, out string) []string {
	args := []string{"-y", "-hide_banner", "-loglevel", "error",
		"-i", src, "-t", seconds(at)}
	args = append(args, encodeProfile...)
	return append(args, out)
}

func splitTailArgs(src string, at float64, out string) []string {
	args := []string{"-y", "-hide_banner", "-loglevel", "error",
		"-ss", seconds(at), "-i", src}
	args = append(args, encodeProfile...)
	return append(args, out)
}

func muteArgs(src, out string) []string {
	return []string{"-y", "-hide_banner", "-loglevel", "error",
		"-i", src, "-map", "0:v", "-c:v", "copy", "-an", out}
}

func captionArgs(src, textFile, fontFile, out string) []string {
	args := []string{"-y", "-hide_banner", "-loglevel", "error",
		"-i", src, "-vf", drawtextFilter(textFile, fontFile)}
	args = append(args, encodeProfile...)
	return append(args, out)
}

func drawtextFilter(textFile, fontFile string) string {
	opts := []string{
		"textfile=" + quoteFilterValue(textFile),
		"expansion=none",
		"fontsize=" + strconv.Itoa(captionFontSize),
		"fontcolor=white",
		"x=(w-text_w)/2",
		"y=h-text_h-" + strconv.Itoa(captionMargin),
	}
	if fontFile != "" {
		opts = append(opts, "fontfile="+quoteFilterValue(fontFile))
	}
	return "drawtext=" + strings.Join(opts, ":")
}

// mixArgs loops the music input indefinitely and cuts the output at the
// video's duration, so short tracks repeat and long ones are truncated.
// The video's own audio is dropped.
func mixArgs(src, music string, duration float64, out string) []string {
	args := []string{"-y", "-hide_banner", "-loglevel", "error",
		"-i", src,
		"-stream_loop", "-1", "-i", music,
		"-map", "0:v:0", "-map", "1:a:0",
		"-af", "volume=" + musicGain,
		"-t", seconds(duration)}
	args = append(args, encodeProfile...)
	return append(args, out)
}

func encodeSpeechArgs(wav, out string) []string {
	return []string{"-y", "-hide_banner", "-loglevel", "error",
		"-i", wav, "-c:a", "libmp3lame", "-q:a", "4", out}
}

func seconds(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

// quoteFilterValue single-quotes a filter option value.
func quoteFilterValue(v string) string {
	return "'" + strings.ReplaceAll(v, "'", `'\''`) + "'"
}

// tempSibling returns a hidden path next to dst that keeps dst's extension,
// which ffmpeg uses to pick the container.
func tempSibling(dst string) string {
	return filepath.Join(filepath.Dir(dst), ".tmp-"+uuid.NewString()+"-"+filepath.Base(dst))
}

func writeTextFile(dir, text string) (string, func(), error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", nil, err
	}
	path := filepath.Join(dir, ".text-"+uuid.NewString()+".txt")
	if err := os.WriteFile(path, []byte(text), 0644); err != nil {
		return "", nil, err
	}
	return path, func() { os.Remove(path) }, nil
}

func requireFile(stage Stage, path string) error {
	if path == "" {
		return &EngineError{Stage: stage, Kind: ErrMissingInput, Detail: "no input path"}
	}
	info, err := os.Stat(path)
	if err != nil {
		return &EngineError{Stage: stage, Kind: ErrMissingInput, Detail: "input not found: " + filepath.Base(path), Err: err}
	}
	if info.IsDir() {
		return &EngineError{Stage: stage, Kind: ErrMissingInput, Detail: "input is a directory: " + filepath.Base(path)}
	}
	return nil
}

func failure(stage Stage, r RunResult) error {
	if r.IsSuccess() {
		return nil
	}
	return &EngineError{
		Stage:  stage,
		Kind:   ErrEngineFailure,
		Detail: fmt.Sprintf("%s exited %d: %s", r.Tool, r.ExitCode, strings.TrimSpace(truncate(r.StderrTail, 512))),
	}
}
