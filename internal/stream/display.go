package stream

import "strings"

const (
	ThinkingOpenTag  = "<thinking>"
	ThinkingCloseTag = "</thinking>"
)

// markerPrefixes holds every non-empty proper prefix of both markers. A buffer
// tail found here may be the start of a marker split across deltas.
var markerPrefixes = make(map[string]struct{})

var longestPrefix int

func init() {
	for _, marker := range []string{ThinkingOpenTag, ThinkingCloseTag} {
		for i := 1; i < len(marker); i++ {
			markerPrefixes[marker[:i]] = struct{}{}
		}
		if len(marker)-1 > longestPrefix {
			longestPrefix = len(marker) - 1
		}
	}
}

// DisplayCallbacks receive the partitioned output of a DisplayHandler. Nil
// callbacks are skipped.
type DisplayCallbacks struct {
	OnNormalContent   func(text string)
	OnThinkingStart   func()
	OnThinkingContent func(text string)
	OnThinkingEnd     func()
}

// DisplayHandler splits streamed text into normal and thinking spans delimited
// by <thinking> and </thinking>. Markers may be split across any number of
// deltas; they are never passed to a callback.
//
// Everything in buf before pos has been dispatched exactly once. Bytes from
// pos on are either undispatched or a held-back partial marker.
type DisplayHandler struct {
	buf        string
	pos        int
	inThinking bool
}

func NewDisplayHandler() *DisplayHandler {
	return &DisplayHandler{}
}

// InThinking reports whether the handler is inside a thinking region.
func (h *DisplayHandler) InThinking() bool {
	return h.inThinking
}

// HandleContentDelta appends text and dispatches everything that can no
// longer be part of a marker.
func (h *DisplayHandler) HandleContentDelta(text string, cb DisplayCallbacks) {
	h.buf += text

	for {
		rest := h.buf[h.pos:]
		idx, marker := h.nextMarker(rest)
		if idx < 0 {
			hold := partialMarkerLen(rest)
			h.emit(rest[:len(rest)-hold], cb)
			h.pos += len(rest) - hold
			return
		}

		h.emit(rest[:idx], cb)
		h.pos += idx + len(marker)

		// A marker that does not match the current mode is dropped without a flip.
		if marker == ThinkingOpenTag && !h.inThinking {
			h.inThinking = true
			if cb.OnThinkingStart != nil {
				cb.OnThinkingStart()
			}
		} else if marker == ThinkingCloseTag && h.inThinking {
			h.inThinking = false
			if cb.OnThinkingEnd != nil {
				cb.OnThinkingEnd()
			}
		}
	}
}

// Flush dispatches a held-back tail and closes an unterminated thinking
// region. Call it when the protocol ends the block.
func (h *DisplayHandler) Flush(cb DisplayCallbacks) {
	h.emit(h.buf[h.pos:], cb)
	h.pos = len(h.buf)
	if h.inThinking {
		h.inThinking = false
		if cb.OnThinkingEnd != nil {
			cb.OnThinkingEnd()
		}
	}
}

// Reset discards all state. Marker scanning must not span protocol blocks.
func (h *DisplayHandler) Reset() {
	h.buf = ""
	h.pos = 0
	h.inThinking = false
}

// nextMarker finds the earliest occurrence of either marker in s.
func (h *DisplayHandler) nextMarker(s string) (int, string) {
	open := strings.Index(s, ThinkingOpenTag)
	closing := strings.Index(s, ThinkingCloseTag)
	switch {
	case open < 0 && closing < 0:
		return -1, ""
	case closing < 0 || (open >= 0 && open < closing):
		return open, ThinkingOpenTag
	default:
		return closing, ThinkingCloseTag
	}
}

func (h *DisplayHandler) emit(text string, cb DisplayCallbacks) {
	if text == "" {
		return
	}
	if h.inThinking {
		if cb.OnThinkingContent != nil {
			cb.OnThinkingContent(text)
		}
		return
	}
	if cb.OnNormalContent != nil {
		cb.OnNormalContent(text)
	}
}

// partialMarkerLen returns the length of the longest suffix of s that is a
// proper prefix of either marker.
func partialMarkerLen(s string) int {
	n := min(len(s), longestPrefix)
	for l := n; l > 0; l-- {
		if _, ok := markerPrefixes[s[len(s)-l:]]; ok {
			return l
		}
	}
	return 0
}
