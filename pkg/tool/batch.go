package tool

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"

	"github.com/root4loot/goscope"
	"github.com/root4loot/goutils/urlutil"

	"github.com/root4loot/pagesnap/pkg/screener"
)

// Report is what a batch learned about one target.
type Report struct {
	Target  string
	URL     string // URL of the last attempt
	Outcome Outcome
	Final   Message // terminal message of the last attempt
	Err     error   // failure cause, nil on success
	Skipped bool    // duplicate of an earlier target

	OutOfScope bool // excluded by the batch scope, never captured
}

// Batch runs the tool for many targets with bounded concurrency. Targets without a
// scheme are tried over https first and retried over http when that fails for a
// reason other than DNS, timeouts or the browser itself.
type Batch struct {
	Tool        *Tool
	Concurrency int

	// Params are sent with every invocation; "url" is set per target.
	Params map[string]any

	// Progress, when set, receives every non-terminal message as it arrives.
	Progress func(target, text string)

	// Scope, when set, filters targets by host before they are captured. A scope
	// without includes admits every host that is not excluded.
	Scope *goscope.Scope

	mu      sync.Mutex
	visited map[string]bool
}

// NewBatch returns a batch running t with the given concurrency.
func NewBatch(t *Tool, concurrency int) *Batch {
	if concurrency < 1 {
		concurrency = 1
	}
	return &Batch{
		Tool:        t,
		Concurrency: concurrency,
		Params:      map[string]any{},
		visited:     make(map[string]bool),
	}
}

// Single captures one target.
func (b *Batch) Single(ctx context.Context, target string) Report {
	target = strings.TrimSpace(target)
	normalized, defaulted, err := normalize(target)
	if err != nil {
		return Report{Target: target, Outcome: OutcomeInvalid, Err: err, Final: TextMessage("Error: " + err.Error()).Terminal()}
	}

	if !b.inScope(normalized) {
		return Report{Target: target, URL: normalized, OutOfScope: true}
	}

	if !b.markVisited(normalized) {
		return Report{Target: target, URL: normalized, Skipped: true}
	}

	report := b.invoke(ctx, target, normalized)
	if defaulted && report.Outcome == OutcomeFailure && shouldRetryWithHTTP(report.Err) {
		retry := "http://" + strings.TrimPrefix(normalized, "https://")
		screener.Log.WithField("target", target).Debugf("https failed (%v), trying %s", report.Err, retry)
		report = b.invoke(ctx, target, retry)
	}
	return report
}

// Multiple captures every target and returns the reports in completion order.
func (b *Batch) Multiple(ctx context.Context, targets []string) []Report {
	reports := make(chan Report)
	go b.MultipleStream(ctx, reports, targets...)

	var results []Report
	for r := range reports {
		results = append(results, r)
	}
	return results
}

// MultipleStream captures every target and sends the reports to results, closing
// it when done.
func (b *Batch) MultipleStream(ctx context.Context, results chan<- Report, targets ...string) {
	defer close(results)

	sem := make(chan struct{}, b.Concurrency)
	var wg sync.WaitGroup
	for _, target := range targets {
		sem <- struct{}{}
		wg.Add(1)
		go func(t string) {
			defer func() { <-sem }()
			defer wg.Done()
			results <- b.Single(ctx, t)
		}(target)
	}
	wg.Wait()
}

func (b *Batch) invoke(ctx context.Context, target, rawURL string) Report {
	params := make(map[string]any, len(b.Params)+1)
	for k, v := range b.Params {
		params[k] = v
	}
	params["url"] = rawURL

	var final Message
	sink := SinkFunc(func(m Message) error {
		if m.Final {
			final = m
			return nil
		}
		if b.Progress != nil && m.Kind == KindText {
			b.Progress(target, m.Text)
		}
		return nil
	})

	outcome, _ := b.Tool.Invoke(ctx, params, sink)

	report := Report{Target: target, URL: rawURL, Outcome: outcome, Final: final}
	if outcome != OutcomeSuccess {
		report.Err = errors.New(strings.TrimPrefix(report.Final.Text, failurePrefix))
	}
	return report
}

// inScope checks the host both with and without its port, so an exclude of
// "example.com" also covers "example.com:8443".
func (b *Batch) inScope(normalized string) bool {
	if b.Scope == nil {
		return true
	}
	u, err := url.Parse(normalized)
	if err != nil {
		return false
	}

	hosts := []string{u.Host, u.Hostname()}
	for _, h := range hosts {
		if b.Scope.IsTargetExcluded(h) {
			return false
		}
	}
	if len(b.Scope.Includes) == 0 {
		return true
	}
	for _, h := range hosts {
		if b.Scope.IsTargetInScope(h) {
			return true
		}
	}
	return false
}

func (b *Batch) markVisited(u string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.visited[u] {
		return false
	}
	b.visited[u] = true
	return true
}

// normalize adds https:// when target has no scheme and maps the default ports
// onto their scheme. defaulted reports whether the scheme was added.
func normalize(target string) (normalized string, defaulted bool, err error) {
	if target == "" {
		return "", false, fmt.Errorf("empty target")
	}

	if !urlutil.HasScheme(target) && !strings.Contains(target, "://") {
		target = "https://" + target
		defaulted = true
	}

	u, err := url.Parse(target)
	if err != nil {
		return "", false, fmt.Errorf("invalid target %q: %w", target, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return "", false, fmt.Errorf("unsupported scheme in %q", target)
	}
	if u.Host == "" {
		return "", false, fmt.Errorf("invalid target %q: missing host", target)
	}

	switch u.Port() {
	case "443":
		u.Scheme = "https"
		u.Host = stripPort(u)
		defaulted = false
	case "80":
		u.Scheme = "http"
		u.Host = stripPort(u)
		defaulted = false
	}

	if u.Path == "" {
		u.Path = "/"
	}
	return u.String(), defaulted, nil
}

func stripPort(u *url.URL) string {
	if host := u.Hostname(); strings.Contains(host, ":") {
		return "[" + host + "]"
	}
	return u.Hostname()
}
