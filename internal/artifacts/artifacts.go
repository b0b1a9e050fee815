// Package artifacts tracks the derived media files each user's edits produce.
//
// Every user owns one directory, previews/user_<id>/, holding at most one file
// (two for a split) per artifact kind under a fixed name. Alongside the files,
// an explicit state record per kind says whether the last run left a complete
// result. A kind is reported present only when its record is Ready and its
// files exist on disk.
package artifacts

import (
	"fmt"
	"time"

	"github.com/cutline/cutline/internal/media"
)

// Kind identifies an artifact produced by one operation.
type Kind string

const (
	KindTrim    Kind = "trim"
	KindSplit   Kind = "split"
	KindCaption Kind = "caption"
	KindMute    Kind = "mute"
	KindMusic   Kind = "music"
	KindVoice   Kind = "voice"
)

// Fixed artifact filenames.
const (
	TrimmedFile    = "trimmed.mp4"
	CaptionedFile  = "captioned.mp4"
	MutedFile      = "muted.mp4"
	MusicAddedFile = "music_added.mp4"
	VoiceFile      = "voice.mp3"
)

// Kinds lists every artifact kind in display order.
var Kinds = []Kind{KindTrim, KindSplit, KindCaption, KindMute, KindMusic, KindVoice}

var kindFiles = map[Kind][]string{
	KindTrim:    {TrimmedFile},
	KindSplit:   {media.SplitPart1File, media.SplitPart2File},
	KindCaption: {CaptionedFile},
	KindMute:    {MutedFile},
	KindMusic:   {MusicAddedFile},
	KindVoice:   {VoiceFile},
}

// Files returns the filenames that make up an artifact of kind k.
func (k Kind) Files() []string {
	files := kindFiles[k]
	out := make([]string, len(files))
	copy(out, files)
	return out
}

func (k Kind) Valid() bool {
	_, ok := kindFiles[k]
	return ok
}

// KindForFile maps an artifact filename back to its kind.
func KindForFile(name string) (Kind, bool) {
	for k, files := range kindFiles {
		for _, f := range files {
			if f == name {
				return k, true
			}
		}
	}
	return "", false
}

// State is the lifecycle value recorded per kind.
type State string

const (
	StateAbsent State = "absent"
	StateReady  State = "ready"
	StateFailed State = "failed"
)

// Record is the stored state of one kind for one user.
type Record struct {
	UserID    int64     `json:"user_id"`
	Kind      Kind      `json:"kind"`
	State     State     `json:"state"`
	Error     string    `json:"error,omitempty"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Flags reports, per kind, whether a complete artifact exists.
type Flags map[Kind]bool

// Present returns the kinds flagged present, in display order.
func (f Flags) Present() []Kind {
	var out []Kind
	for _, k := range Kinds {
		if f[k] {
			out = append(out, k)
		}
	}
	return out
}

// ClearReport describes a best-effort clear of a user directory.
type ClearReport struct {
	Removed []string        `json:"removed"`
	Failed  []RemovalFailure `json:"failed,omitempty"`
}

type RemovalFailure struct {
	Name  string `json:"name"`
	Error string `json:"error"`
}

// Partial reports whether some files could not be removed.
func (r ClearReport) Partial() bool {
	return len(r.Failed) > 0
}

// UserDirName returns the per-user directory name.
func UserDirName(userID int64) string {
	return fmt.Sprintf("user_%d", userID)
}
