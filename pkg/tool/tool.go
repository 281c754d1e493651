package tool

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/root4loot/pagesnap/internal/metrics"
	"github.com/root4loot/pagesnap/pkg/progress"
	"github.com/root4loot/pagesnap/pkg/screener"
)

// Outcome classifies how an invocation ended.
type Outcome int

const (
	OutcomeInvalid Outcome = iota
	OutcomeUnavailable
	OutcomeSuccess
	OutcomeFailure
)

func (o Outcome) String() string {
	switch o {
	case OutcomeInvalid:
		return "invalid"
	case OutcomeUnavailable:
		return "unavailable"
	case OutcomeSuccess:
		return "success"
	case OutcomeFailure:
		return "failure"
	}
	return fmt.Sprintf("outcome(%d)", int(o))
}

// Tool is the screenshot tool: parameters in, a stream of messages out.
type Tool struct {
	Options  screener.Options
	Defaults Defaults

	// Driver, when set, is used instead of looking the driver up by name.
	Driver screener.Driver
}

// New returns a Tool using opts for every capture and defaults for missing parameters.
func New(opts screener.Options, defaults Defaults) *Tool {
	return &Tool{Options: opts, Defaults: defaults}
}

// Invoke parses params, runs one capture and streams its messages to sink. The
// last message is always the terminal one: a blob on success, otherwise text. The
// returned error is only ever a sink error.
func (t *Tool) Invoke(ctx context.Context, params map[string]any, sink Sink) (Outcome, error) {
	p, err := ParseParams(params, t.Defaults)
	if err != nil {
		screener.Log.WithError(err).Debug("Rejected parameters")
		metrics.RecordCapture(OutcomeInvalid.String(), "", 0)
		return OutcomeInvalid, sink.Send(TextMessage("Error: " + err.Error()).Terminal())
	}
	return t.InvokeParams(ctx, p, sink)
}

// InvokeParams is Invoke for already parsed parameters.
func (t *Tool) InvokeParams(ctx context.Context, p Params, sink Sink) (Outcome, error) {
	if err := p.Request.Validate(); err != nil {
		metrics.RecordCapture(OutcomeInvalid.String(), p.Driver, 0)
		return OutcomeInvalid, sink.Send(TextMessage("Error: " + err.Error()).Terminal())
	}

	driver, err := t.resolveDriver(p.Driver)
	if err != nil {
		screener.Log.WithError(err).Warn("Browser driver unavailable")
		metrics.RecordCapture(OutcomeUnavailable.String(), p.Driver, 0)
		return OutcomeUnavailable, sink.Send(TextMessage(fmt.Sprintf("browser driver %q is not available", p.Driver)).Terminal())
	}

	id := uuid.NewString()
	log := screener.Log.WithFields(logrus.Fields{
		"invocation": id,
		"url":        p.Request.URL,
		"driver":     driver.Name(),
	})
	log.Info("Capture started")

	s := &screener.Screener{CaptureOptions: t.Options, Driver: driver}
	queue := progress.New()

	metrics.CapturesInflight.Inc()
	defer metrics.CapturesInflight.Dec()
	start := time.Now()

	w := startWorker(ctx, queue, func(ctx context.Context) screener.Result {
		return s.Capture(ctx, p.Request, queue.Reporter())
	})

	result, sinkErr := deliver(queue, w, sink)
	elapsed := time.Since(start)

	outcome := OutcomeSuccess
	if !result.OK() {
		outcome = OutcomeFailure
		log.WithError(result.Err()).WithField("elapsed", elapsed).Warn("Capture failed")
	} else {
		log.WithField("elapsed", elapsed).Info("Capture finished")
	}
	metrics.RecordCapture(outcome.String(), driver.Name(), elapsed)

	if sinkErr != nil {
		log.WithError(sinkErr).Warn("Caller stopped receiving messages")
	}
	return outcome, sinkErr
}

func (t *Tool) resolveDriver(name string) (screener.Driver, error) {
	if t.Driver != nil {
		return t.Driver, nil
	}
	if name == "" {
		return nil, errors.New("no browser driver configured")
	}
	return screener.LookupDriver(name)
}
