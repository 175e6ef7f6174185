package stream

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type displayRecorder struct {
	normal   []string
	thinking []string
	starts   int
	ends     int
	order    []string
}

func (r *displayRecorder) callbacks() DisplayCallbacks {
	return DisplayCallbacks{
		OnNormalContent: func(s string) {
			r.normal = append(r.normal, s)
			r.order = append(r.order, "n:"+s)
		},
		OnThinkingStart: func() {
			r.starts++
			r.order = append(r.order, "start")
		},
		OnThinkingContent: func(s string) {
			r.thinking = append(r.thinking, s)
			r.order = append(r.order, "t:"+s)
		},
		OnThinkingEnd: func() {
			r.ends++
			r.order = append(r.order, "end")
		},
	}
}

// reference partitions s by well-formed markers.
func reference(s string) (normal, thinking string) {
	var n, th strings.Builder
	in := false
	for s != "" {
		marker := ThinkingOpenTag
		if in {
			marker = ThinkingCloseTag
		}
		idx := strings.Index(s, marker)
		if idx < 0 {
			idx = len(s)
		}
		if in {
			th.WriteString(s[:idx])
		} else {
			n.WriteString(s[:idx])
		}
		if idx == len(s) {
			break
		}
		s = s[idx+len(marker):]
		in = !in
	}
	return n.String(), th.String()
}

func feed(h *DisplayHandler, r *displayRecorder, chunks ...string) {
	for _, c := range chunks {
		h.HandleContentDelta(c, r.callbacks())
	}
}

var displayInputs = []string{
	"",
	"plain text with no markers",
	"<thinking>secret</thinking>visible",
	"before<thinking>one</thinking>middle<thinking>two</thinking>after",
	"a < b and c <th not a tag",
	"<thinking></thinking>",
	"x<thinking>unterminated thinking",
	"ends with partial <thin",
	"<<thinking>>nested<</thinking>>",
}

func TestDisplayHandler_ChunkingIndependence(t *testing.T) {
	for _, input := range displayInputs {
		wantNormal, wantThinking := reference(input)

		// Single delta, every two-way split, and byte-at-a-time.
		splits := [][]string{{input}}
		for i := 0; i <= len(input); i++ {
			splits = append(splits, []string{input[:i], input[i:]})
		}
		splits = append(splits, strings.Split(input, ""))

		for _, chunks := range splits {
			h := NewDisplayHandler()
			r := &displayRecorder{}
			feed(h, r, chunks...)
			h.Flush(r.callbacks())

			assert.Equal(t, wantNormal, strings.Join(r.normal, ""), "input %q chunks %q", input, chunks)
			assert.Equal(t, wantThinking, strings.Join(r.thinking, ""), "input %q chunks %q", input, chunks)
			assert.Equal(t, r.starts, r.ends, "input %q chunks %q", input, chunks)
		}
	}
}

func TestDisplayHandler_NoMarkerLeakage(t *testing.T) {
	inputs := append([]string{
		"stray </thinking> close in normal text",
		"<thinking>stray <thinking> open inside</thinking>done",
		"</thinking></thinking><thinking><thinking>",
	}, displayInputs...)

	for _, input := range inputs {
		for size := 1; size <= len(input)+1; size++ {
			h := NewDisplayHandler()
			r := &displayRecorder{}
			for i := 0; i < len(input); i += size {
				end := min(i+size, len(input))
				h.HandleContentDelta(input[i:end], r.callbacks())
			}
			h.Flush(r.callbacks())

			for _, s := range append(r.normal, r.thinking...) {
				assert.NotContains(t, s, ThinkingOpenTag, "input %q size %d", input, size)
				assert.NotContains(t, s, ThinkingCloseTag, "input %q size %d", input, size)
			}
		}
	}
}

func TestDisplayHandler_HoldsPartialMarker(t *testing.T) {
	h := NewDisplayHandler()
	r := &displayRecorder{}

	feed(h, r, "hello <thi")
	assert.Equal(t, []string{"hello "}, r.normal)

	feed(h, r, "nking>deep")
	assert.Equal(t, 1, r.starts)
	assert.Equal(t, []string{"deep"}, r.thinking)
	assert.True(t, h.InThinking())

	feed(h, r, "</")
	assert.Equal(t, []string{"deep"}, r.thinking)

	feed(h, r, "thinking> done")
	assert.Equal(t, 1, r.ends)
	assert.Equal(t, []string{"hello ", " done"}, r.normal)
	assert.False(t, h.InThinking())
}

func TestDisplayHandler_ReleasesFalsePartial(t *testing.T) {
	h := NewDisplayHandler()
	r := &displayRecorder{}

	feed(h, r, "a <")
	assert.Equal(t, []string{"a "}, r.normal)
	feed(h, r, " b")
	assert.Equal(t, []string{"a ", "< b"}, r.normal)
}

func TestDisplayHandler_OrderWithinOneDelta(t *testing.T) {
	h := NewDisplayHandler()
	r := &displayRecorder{}

	feed(h, r, "a<thinking>b</thinking>c<thinking>d</thinking>e")
	assert.Equal(t,
		[]string{"n:a", "start", "t:b", "end", "n:c", "start", "t:d", "end", "n:e"},
		r.order)
}

func TestDisplayHandler_FlushAndReset(t *testing.T) {
	h := NewDisplayHandler()
	r := &displayRecorder{}

	feed(h, r, "<thinking>open ended <")
	require.Equal(t, []string{"open ended "}, r.thinking)

	h.Flush(r.callbacks())
	assert.Equal(t, []string{"open ended ", "<"}, r.thinking)
	assert.Equal(t, 1, r.ends)
	assert.False(t, h.InThinking())

	h.HandleContentDelta("<thi", r.callbacks())
	h.Reset()
	h.HandleContentDelta("nking>", r.callbacks())
	h.Flush(r.callbacks())
	assert.Equal(t, []string{"nking>"}, r.normal)
	assert.Equal(t, 1, r.starts)
}

func TestDisplayHandler_NilCallbacks(t *testing.T) {
	h := NewDisplayHandler()
	assert.NotPanics(t, func() {
		h.HandleContentDelta("a<thinking>b</thinking>c", DisplayCallbacks{})
		h.Flush(DisplayCallbacks{})
	})
}

func TestPartialMarkerLen(t *testing.T) {
	assert.Equal(t, 0, partialMarkerLen(""))
	assert.Equal(t, 0, partialMarkerLen("abc"))
	assert.Equal(t, 1, partialMarkerLen("abc<"))
	assert.Equal(t, 4, partialMarkerLen("x<thi"))
	assert.Equal(t, 10, partialMarkerLen("x</thinking"))
	assert.Equal(t, 9, partialMarkerLen("<thinking"))
	assert.Equal(t, 0, partialMarkerLen("<thinking>"))
}
