// Package ingest turns interview transcripts into tri-store fragments.
package ingest

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"regexp"
	"strings"

	qerr "github.com/urdimbre/urdimbre-go/internal/errors"
	"github.com/urdimbre/urdimbre-go/internal/models"
)

// Default fragment sizing; callers may override per ingest.
const (
	DefaultMinChars = 80
	DefaultMaxChars = 800
)

// Turn is one speaker utterance of the transcript.
type Turn struct {
	Speaker string
	Text    string
}

// speakerLine matches "Entrevistador: ..." / "E1: ..." style turn openers.
var speakerLine = regexp.MustCompile(`^([\p{L}\p{N} _.-]{1,40}):\s*(.*)$`)

// interviewerNames are normalised to the canonical interviewer speaker tag.
var interviewerNames = map[string]bool{
	"entrevistador":  true,
	"entrevistadora": true,
	"interviewer":    true,
	"moderador":      true,
	"moderadora":     true,
}

// ParseTurns splits raw transcript text into speaker turns. Lines without a
// speaker prefix continue the current turn; an explicit speaker prefix
// always opens a new turn, even for the same speaker, so each utterance
// keeps its own paragraph index.
func ParseTurns(raw string) []Turn {
	var turns []Turn
	var current *Turn

	for _, line := range strings.Split(raw, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}

		if m := speakerLine.FindStringSubmatch(line); m != nil {
			turns = append(turns, Turn{
				Speaker: normalizeSpeaker(m[1]),
				Text:    strings.TrimSpace(m[2]),
			})
			current = &turns[len(turns)-1]
			continue
		}

		if current == nil {
			turns = append(turns, Turn{Speaker: "", Text: line})
			current = &turns[len(turns)-1]
			continue
		}
		current.Text = joinText(current.Text, line)
	}
	return turns
}

func normalizeSpeaker(name string) string {
	lower := strings.ToLower(strings.TrimSpace(name))
	if interviewerNames[lower] {
		return models.SpeakerInterviewer
	}
	return lower
}

func joinText(a, b string) string {
	if a == "" {
		return b
	}
	if b == "" {
		return a
	}
	return a + " " + b
}

// sentenceEnd marks the soft boundaries splitting prefers.
var sentenceEnd = regexp.MustCompile(`[.!?…]+\s+`)

// SplitFragment cuts one turn's text into pieces between minChars and
// maxChars, preferring sentence boundaries. Text shorter than minChars
// stays whole; a tail shorter than minChars merges into the previous piece.
func SplitFragment(text string, minChars, maxChars int) []string {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}
	if maxChars <= 0 || len(text) <= maxChars {
		return []string{text}
	}

	var pieces []string
	rest := text
	for len(rest) > maxChars {
		cut := softCut(rest, minChars, maxChars)
		pieces = append(pieces, strings.TrimSpace(rest[:cut]))
		rest = strings.TrimSpace(rest[cut:])
	}
	if rest != "" {
		if len(rest) < minChars && len(pieces) > 0 {
			pieces[len(pieces)-1] = pieces[len(pieces)-1] + " " + rest
		} else {
			pieces = append(pieces, rest)
		}
	}
	return pieces
}

// softCut finds the best cut position within [minChars, maxChars]: the last
// sentence end, then the last space, then a hard cut.
func softCut(text string, minChars, maxChars int) int {
	window := text[:maxChars]

	best := -1
	for _, loc := range sentenceEnd.FindAllStringIndex(window, -1) {
		if loc[1] >= minChars {
			best = loc[1]
		}
	}
	if best > 0 {
		return best
	}

	if idx := strings.LastIndexByte(window, ' '); idx >= minChars {
		return idx + 1
	}
	return maxChars
}

// ParseDocument runs the full parse: turns, sizing, and fragment id
// assignment in paragraph order. Interviewer turns are dropped unless
// keepInterviewer is set; questions are context, not data.
func ParseDocument(projectID, archivo, raw string, minChars, maxChars int, keepInterviewer bool) ([]*models.Fragment, error) {
	if projectID == "" {
		return nil, qerr.TenantRequired("project_id")
	}
	if archivo == "" {
		return nil, qerr.Validation("archivo is required")
	}
	if minChars <= 0 {
		minChars = DefaultMinChars
	}
	if maxChars <= 0 {
		maxChars = DefaultMaxChars
	}
	if minChars > maxChars {
		return nil, qerr.Validationf("min_chars %d exceeds max_chars %d", minChars, maxChars)
	}

	turns := ParseTurns(raw)
	if len(turns) == 0 {
		return nil, qerr.Validationf("document %s contains no turns", archivo)
	}

	var fragments []*models.Fragment
	parIdx := 0
	for _, turn := range turns {
		if turn.Speaker == models.SpeakerInterviewer && !keepInterviewer {
			continue
		}
		for _, piece := range SplitFragment(turn.Text, minChars, maxChars) {
			f := &models.Fragment{
				FragmentID: FragmentID(archivo, parIdx),
				ProjectID:  projectID,
				Archivo:    archivo,
				ParIdx:     parIdx,
				Text:       piece,
				CharLen:    len([]rune(piece)),
			}
			if turn.Speaker != "" {
				sp := turn.Speaker
				f.Speaker = &sp
			}
			fragments = append(fragments, f)
			parIdx++
		}
	}
	return fragments, nil
}

// FragmentID derives the stable fragment id from archivo and paragraph
// index; re-ingesting yields the same ids.
func FragmentID(archivo string, parIdx int) string {
	sum := sha256.Sum256([]byte(strings.ToLower(archivo)))
	return fmt.Sprintf("%s_%04d", hex.EncodeToString(sum[:8]), parIdx)
}
