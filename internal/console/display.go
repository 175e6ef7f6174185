// Package console renders agent turns in a terminal.
package console

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/fatih/color"

	"github.com/toshin/competitor-agent/internal/agent"
	"github.com/toshin/competitor-agent/internal/stream"
)

type Options struct {
	Verbose      bool // print every raw event
	HideThinking bool
}

// Display writes one turn at a time to w.
type Display struct {
	w    io.Writer
	opts Options

	thinking *color.Color
	tool     *color.Color
	done     *color.Color
	failure  *color.Color
	dim      *color.Color
}

func NewDisplay(w io.Writer, opts Options) *Display {
	return &Display{
		w:        w,
		opts:     opts,
		thinking: color.New(color.FgHiBlack, color.Italic),
		tool:     color.New(color.FgCyan),
		done:     color.New(color.FgGreen),
		failure:  color.New(color.FgRed, color.Bold),
		dim:      color.New(color.Faint),
	}
}

// Callbacks returns the hooks that render a turn.
func (d *Display) Callbacks() agent.Callbacks {
	cb := agent.Callbacks{
		OnChunk: func(text string) {
			fmt.Fprint(d.w, text)
		},
		OnToolUseStart: func(tool agent.ToolInfo) {
			d.tool.Fprintf(d.w, "\n[tool] %s ...\n", tool.Name)
		},
		OnToolUseComplete: func(tool agent.ToolInfo) {
			d.done.Fprintf(d.w, "[done] %s %s\n", tool.Name, compactInput(tool.Input))
		},
		OnError: func(err error) {
			d.failure.Fprintf(d.w, "\nerror: %s\n", agent.DescribeError(err))
		},
		OnComplete: func() {
			fmt.Fprintln(d.w)
		},
	}
	if !d.opts.HideThinking {
		cb.OnThinking = func(active bool) {
			if active {
				d.thinking.Fprint(d.w, "\n[thinking] ")
			} else {
				fmt.Fprintln(d.w)
			}
		}
		cb.OnThinkingContent = func(text string) {
			d.thinking.Fprint(d.w, text)
		}
	}
	if d.opts.Verbose {
		cb.OnEvent = d.event
	}
	return cb
}

func (d *Display) event(ev stream.Event) {
	raw := ev.Raw
	if raw == "" {
		b, _ := json.Marshal(ev.Data)
		raw = string(b)
	}
	d.dim.Fprintf(d.w, "\n[%s] %s\n", ev.Kind, raw)
}

func (d *Display) Info(format string, args ...any) {
	d.dim.Fprintf(d.w, format+"\n", args...)
}

func compactInput(input any) string {
	switch v := input.(type) {
	case nil:
		return ""
	case string:
		return v
	}
	b, err := json.Marshal(input)
	if err != nil {
		return ""
	}
	return string(b)
}
