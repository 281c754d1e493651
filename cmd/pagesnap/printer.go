package main

import (
	"encoding/json"
	"fmt"
	"io"
	"sync"

	"github.com/fatih/color"

	"github.com/root4loot/pagesnap/pkg/tool"
)

// printer writes batch output. It is safe for concurrent use.
type printer struct {
	mu       sync.Mutex
	out      io.Writer
	errOut   io.Writer
	json     bool
	progress bool
}

// reportLine is the --json form of a report.
type reportLine struct {
	Target         string  `json:"target"`
	URL            string  `json:"url"`
	Outcome        string  `json:"outcome"`
	Error          string  `json:"error,omitempty"`
	Hint           string  `json:"hint,omitempty"`
	ScreenshotPath string  `json:"screenshot_path,omitempty"`
	PageWidth      int     `json:"page_width,omitempty"`
	PageHeight     int     `json:"page_height,omitempty"`
	Scale          float64 `json:"deviceScaleFactor,omitempty"`
}

func (p *printer) Progress(target, text string) {
	if !p.progress {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	fmt.Fprintf(p.errOut, "%s %s\n", color.HiBlackString("[%s]", target), text)
}

func (p *printer) Report(r tool.Report) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.json {
		line := reportLine{Target: r.Target, URL: r.URL, Outcome: r.Outcome.String()}
		if r.Final.Meta != nil {
			md := r.Final.Meta.Metadata
			line.ScreenshotPath = md.ScreenshotPath
			line.PageWidth = md.PageWidth
			line.PageHeight = md.PageHeight
			line.Scale = md.DeviceScaleFactor
		}
		if r.Err != nil {
			line.Error = r.Err.Error()
			line.Hint = hint(r.Err)
		}
		_ = json.NewEncoder(p.out).Encode(line)
		return
	}

	if r.Outcome == tool.OutcomeSuccess && r.Final.Meta != nil {
		md := r.Final.Meta.Metadata
		fmt.Fprintf(p.out, "%s %s %s\n", color.GreenString("✓"), r.URL,
			color.HiBlackString("(%dx%d @%gx) → %s", md.PageWidth, md.PageHeight, md.DeviceScaleFactor, md.ScreenshotPath))
		return
	}

	fmt.Fprintf(p.out, "%s %s: %s\n", color.RedString("✗"), r.Target, r.Err)
	if h := hint(r.Err); h != "" {
		fmt.Fprintf(p.out, "  %s %s\n", color.YellowString("hint:"), h)
	}
}

func hint(err error) string {
	switch tool.ClassifyFailure(err) {
	case tool.FailureDNS:
		return "the host name could not be resolved"
	case tool.FailureTimeout:
		return "the page took too long; try a larger --timeout or --idle-timeout"
	case tool.FailureConnection:
		return "is a browser listening on the DevTools endpoint? see --cdp-url and " + tool.EnvEndpoint
	}
	return ""
}
