package tool

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/root4loot/pagesnap/pkg/progress"
	"github.com/root4loot/pagesnap/pkg/screener"
	"github.com/root4loot/pagesnap/pkg/screener/screenertest"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type collector struct {
	mu       sync.Mutex
	messages []Message
	failAt   int // 1-based index of the Send that fails, 0 for never
}

func (c *collector) Send(m Message) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.failAt > 0 && len(c.messages)+1 == c.failAt {
		c.failAt = 0
		return errors.New("client went away")
	}
	c.messages = append(c.messages, m)
	return nil
}

func (c *collector) texts() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []string
	for _, m := range c.messages {
		if m.Kind == KindText {
			out = append(out, m.Text)
		}
	}
	return out
}

func (c *collector) last() Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.messages[len(c.messages)-1]
}

func newTestTool(t *testing.T) (*Tool, *screenertest.Driver) {
	t.Helper()
	opts := screener.NewOptions()
	opts.OutputDir = t.TempDir()
	opts.SettleDelay = 0
	opts.IdleTimeout = 20 * time.Millisecond

	driver := screenertest.NewDriver("fake")
	tl := New(opts, DefaultParams())
	tl.Driver = driver
	return tl, driver
}

func TestInvokeStreamsMilestonesThenBlob(t *testing.T) {
	tl, driver := newTestTool(t)
	sink := &collector{}

	outcome, err := tl.Invoke(context.Background(), map[string]any{
		"url":               "https://example.com",
		"width":             float64(1024),
		"deviceScaleFactor": "2",
	}, sink)

	require.NoError(t, err)
	assert.Equal(t, OutcomeSuccess, outcome)

	require.Len(t, sink.messages, len(screener.Milestones)+1)
	assert.Equal(t, screener.Milestones, sink.texts())

	for _, m := range sink.messages[:len(sink.messages)-1] {
		assert.False(t, m.Final, m.Text)
	}
	final := sink.last()
	assert.True(t, final.Final)
	assert.Equal(t, KindBlob, final.Kind)
	assert.Equal(t, driver.PNG, final.Blob)
	require.NotNil(t, final.Meta)
	assert.Equal(t, "image/png", final.Meta.MimeType)
	assert.Regexp(t, `^screenshot_\d{8}_\d{6}\.png$`, final.Meta.Filename)
	assert.Equal(t, "https://example.com", final.Meta.Metadata.URL)
	assert.Equal(t, 1280, final.Meta.Metadata.PageWidth)
	assert.Equal(t, 3000, final.Meta.Metadata.PageHeight)
	assert.Equal(t, 2.0, final.Meta.Metadata.DeviceScaleFactor)
	assert.True(t, strings.HasPrefix(final.Meta.Metadata.ScreenshotPath, tl.Options.OutputDir))

	assert.Equal(t, 1024, driver.SessionConfig().Width)
	assert.Equal(t, screener.DefaultHeight, driver.SessionConfig().Height)
}

func TestInvokeEmptyURLNeverStartsWorker(t *testing.T) {
	for _, params := range []map[string]any{
		{},
		{"url": ""},
		{"url": "   "},
		{"url": nil},
	} {
		tl, driver := newTestTool(t)
		sink := &collector{}

		outcome, err := tl.Invoke(context.Background(), params, sink)

		require.NoError(t, err)
		assert.Equal(t, OutcomeInvalid, outcome)
		require.Len(t, sink.messages, 1)
		assert.Equal(t, "Error: url is required", sink.messages[0].Text)
		assert.Empty(t, driver.Calls())
	}
}

func TestInvokeInvalidParams(t *testing.T) {
	tl, driver := newTestTool(t)
	sink := &collector{}

	outcome, err := tl.Invoke(context.Background(), map[string]any{
		"url":   "https://example.com",
		"width": -5,
	}, sink)

	require.NoError(t, err)
	assert.Equal(t, OutcomeInvalid, outcome)
	require.Len(t, sink.messages, 1)
	assert.Equal(t, "Error: width must be greater than 0, got -5", sink.messages[0].Text)
	assert.True(t, sink.messages[0].Final)
	assert.Empty(t, driver.Calls())
}

func TestInvokeUnavailableDriver(t *testing.T) {
	tl := New(screener.NewOptions(), DefaultParams())
	sink := &collector{}

	outcome, err := tl.Invoke(context.Background(), map[string]any{
		"url":    "https://example.com",
		"driver": "netscape",
	}, sink)

	require.NoError(t, err)
	assert.Equal(t, OutcomeUnavailable, outcome)
	require.Len(t, sink.messages, 1)
	assert.Equal(t, `browser driver "netscape" is not available`, sink.messages[0].Text)
	assert.True(t, sink.messages[0].Final)
}

func TestInvokeUnreachableEndpoint(t *testing.T) {
	tl, driver := newTestTool(t)
	driver.Fail[screenertest.OpStart] = errors.New("dial tcp [::1]:9222: connect: connection refused")
	sink := &collector{}

	outcome, err := tl.Invoke(context.Background(), map[string]any{"url": "https://example.com"}, sink)

	require.NoError(t, err)
	assert.Equal(t, OutcomeFailure, outcome)
	assert.Equal(t, []string{
		screener.StepStartSession,
		"capture failed: start browser session: dial tcp [::1]:9222: connect: connection refused",
	}, sink.texts())
}

func TestInvokePanicBecomesFailure(t *testing.T) {
	tl, driver := newTestTool(t)
	driver.PanicOn = screenertest.OpNavigate
	sink := &collector{}

	outcome, err := tl.Invoke(context.Background(), map[string]any{"url": "https://example.com"}, sink)

	require.NoError(t, err)
	assert.Equal(t, OutcomeFailure, outcome)

	final := sink.last()
	assert.Equal(t, KindText, final.Kind)
	assert.True(t, strings.HasPrefix(final.Text, "capture failed: capture panicked: "), final.Text)
	assert.Equal(t, 1, driver.Count(screenertest.OpSessionClose))
}

func TestInvokeIdleTimeoutDoesNotDeadlock(t *testing.T) {
	tl, driver := newTestTool(t)
	driver.Block = true
	sink := &collector{}

	done := make(chan Outcome, 1)
	go func() {
		outcome, _ := tl.Invoke(context.Background(), map[string]any{"url": "https://example.com"}, sink)
		done <- outcome
	}()

	select {
	case outcome := <-done:
		assert.Equal(t, OutcomeSuccess, outcome)
		assert.Equal(t, KindBlob, sink.last().Kind)
	case <-time.After(5 * time.Second):
		t.Fatal("invocation did not terminate")
	}
}

func TestInvokeIgnoresCallerCancellation(t *testing.T) {
	tl, _ := newTestTool(t)
	sink := &collector{}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	outcome, err := tl.Invoke(ctx, map[string]any{"url": "https://example.com"}, sink)

	require.NoError(t, err)
	assert.Equal(t, OutcomeSuccess, outcome)
}

func TestInvokeSinkErrorStillJoinsWorker(t *testing.T) {
	tl, driver := newTestTool(t)
	sink := &collector{failAt: 2}

	outcome, err := tl.Invoke(context.Background(), map[string]any{"url": "https://example.com"}, sink)

	require.Error(t, err)
	assert.Contains(t, err.Error(), "client went away")
	assert.Equal(t, OutcomeSuccess, outcome)
	assert.Equal(t, []string{screener.StepStartSession}, sink.texts())
	assert.Equal(t, 1, driver.Count(screenertest.OpSessionClose))
}

func TestStartWorkerClosesQueueOnPanic(t *testing.T) {
	queue := progress.New()
	w := startWorker(context.Background(), queue, func(context.Context) screener.Result {
		queue.Publish("before")
		panic("boom")
	})

	msg, ok := queue.Next()
	require.True(t, ok)
	assert.Equal(t, "before", msg)

	_, ok = queue.Next()
	assert.False(t, ok)

	result := w.wait()
	require.False(t, result.OK())
	assert.Equal(t, "capture panicked: boom", result.Err().Error())
	assert.False(t, queue.Close(), "queue must already be closed")
}

func TestStartWorkerNilResult(t *testing.T) {
	queue := progress.New()
	w := startWorker(context.Background(), queue, func(context.Context) screener.Result { return nil })

	result := w.wait()
	require.False(t, result.OK())
	assert.Equal(t, "capture returned no result", result.Err().Error())
}

func TestDeliverPreservesOrder(t *testing.T) {
	const n = 500
	queue := progress.New()
	w := startWorker(context.Background(), queue, func(context.Context) screener.Result {
		for i := 0; i < n; i++ {
			queue.Publish(fmt.Sprintf("step %d", i))
		}
		return screener.Failure{Description: "stopped"}
	})

	sink := &collector{}
	result, err := deliver(queue, w, sink)

	require.NoError(t, err)
	assert.False(t, result.OK())
	require.Len(t, sink.messages, n+1)
	for i := 0; i < n; i++ {
		assert.Equal(t, fmt.Sprintf("step %d", i), sink.messages[i].Text)
	}
	assert.Equal(t, "capture failed: stopped", sink.messages[n].Text)
}

func TestDeliverDropsEmptyProgress(t *testing.T) {
	queue := progress.New()
	w := startWorker(context.Background(), queue, func(context.Context) screener.Result {
		queue.Publish("loading")
		queue.Publish("")
		queue.Publish("done")
		return screener.Failure{Description: "stopped"}
	})

	sink := &collector{}
	_, err := deliver(queue, w, sink)

	require.NoError(t, err)
	assert.Equal(t, []string{"loading", "done", "capture failed: stopped"}, sink.texts())
	assert.True(t, sink.last().Final)
}

func TestDeliverUndecodableImage(t *testing.T) {
	queue := progress.New()
	w := startWorker(context.Background(), queue, func(context.Context) screener.Result {
		return screener.Success{Image: "%%% not base64 %%%"}
	})

	sink := &collector{}
	result, err := deliver(queue, w, sink)

	require.NoError(t, err)
	assert.False(t, result.OK())
	require.Len(t, sink.messages, 1)
	assert.True(t, strings.HasPrefix(sink.messages[0].Text, "capture failed: decode screenshot"))
}

func TestOutcomeString(t *testing.T) {
	assert.Equal(t, "invalid", OutcomeInvalid.String())
	assert.Equal(t, "unavailable", OutcomeUnavailable.String())
	assert.Equal(t, "success", OutcomeSuccess.String())
	assert.Equal(t, "failure", OutcomeFailure.String())
	assert.Equal(t, "outcome(42)", Outcome(42).String())
}
