// Package segmenter implements the streaming text-to-sentence splitter that
// feeds the TTS stage (spec.md §4.5).
//
// Grounded on hubenschmidt-asr-llm-tts's internal/pipeline/sentence.go (the
// manual byte-scanning approach, since Go's RE2-based regexp package cannot
// express the look-behind original_source/utils/text.py's regex uses) and
// extended from that file's ASCII-only `.!?` terminator set to the full
// CJK+ASCII set the spec and the Python original both use:
// {。！？.!?;；:：}. Unlike the hubenschmidt version, yielded sentences keep
// their trailing terminator and whitespace rather than trimming it, so the
// segmenter is total and lossless (spec.md §8 property 6: concatenating
// yielded sentences with the residual buffer reproduces the input exactly).
package segmenter

import "strings"

var terminators = map[rune]bool{
	'。': true, '！': true, '？': true,
	'.': true, '!': true, '?': true,
	';': true, '；': true,
	':': true, '：': true,
}

func isTerminator(r rune) bool {
	return terminators[r]
}

// Segmenter accumulates streamed text chunks and yields sentence-bounded
// strings as soon as a terminator is seen.
type Segmenter struct {
	buf strings.Builder
}

func New() *Segmenter {
	return &Segmenter{}
}

// Add appends one streamed chunk and returns the complete sentences it
// completed, in order. The segmenter retains any trailing partial fragment
// internally for the next call.
func (s *Segmenter) Add(chunk string) []string {
	s.buf.WriteString(chunk)
	text := s.buf.String()

	complete, remainder := splitComplete(text)
	s.buf.Reset()
	s.buf.WriteString(remainder)
	return complete
}

// Flush returns any remaining buffered text as one final sentence (empty
// slice if the buffer holds only whitespace), per spec.md §4.5: "On stream
// end, if buffer is non-empty, yield it as one final sentence."
func (s *Segmenter) Flush() []string {
	text := s.buf.String()
	s.buf.Reset()
	if strings.TrimSpace(text) == "" {
		return nil
	}
	return []string{text}
}

// splitComplete finds every boundary in text — a terminator rune optionally
// followed by whitespace — and returns (sentences up to and including each
// boundary, trailing remainder after the last boundary). Whitespace-only
// fragments are dropped from the result but never lost: they travel with
// the sentence that precedes them (lossless round-trip).
func splitComplete(text string) ([]string, string) {
	runes := []rune(text)
	var sentences []string
	start := 0

	i := 0
	for i < len(runes) {
		if isTerminator(runes[i]) {
			end := i + 1
			for end < len(runes) && isWhitespace(runes[end]) {
				end++
			}
			frag := string(runes[start:end])
			if strings.TrimSpace(frag) != "" {
				sentences = append(sentences, frag)
			}
			start = end
			i = end
			continue
		}
		i++
	}

	remainder := string(runes[start:])
	return sentences, remainder
}

func isWhitespace(r rune) bool {
	return r == ' ' || r == '\t' || r == '\n' || r == '\r'
}
