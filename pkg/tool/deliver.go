package tool

import (
	"fmt"

	"github.com/root4loot/pagesnap/internal/metrics"
	"github.com/root4loot/pagesnap/pkg/progress"
	"github.com/root4loot/pagesnap/pkg/screener"
)

// deliver forwards every progress message to sink in order, waits for the worker
// and then sends exactly one terminal message. When sink fails, forwarding stops but
// the queue is still drained and the worker joined; the first sink error is returned.
func deliver(queue *progress.Queue, w *worker, sink Sink) (screener.Result, error) {
	var sinkErr error

	for {
		msg, ok := queue.Next()
		if !ok {
			break
		}
		if msg == "" || sinkErr != nil {
			continue
		}
		if err := sink.Send(TextMessage(msg)); err != nil {
			sinkErr = fmt.Errorf("send progress: %w", err)
			continue
		}
		metrics.ProgressMessages.Inc()
	}

	result := w.wait()

	terminal, result := terminalMessage(result)
	if sinkErr != nil {
		return result, sinkErr
	}
	if err := sink.Send(terminal.Terminal()); err != nil {
		return result, fmt.Errorf("send result: %w", err)
	}
	return result, nil
}

func terminalMessage(result screener.Result) (Message, screener.Result) {
	success, ok := result.(screener.Success)
	if !ok {
		return failureMessage(result.Err()), result
	}

	img, err := success.Decode()
	if err != nil {
		failure := screener.Failure{Description: fmt.Sprintf("decode screenshot: %v", err)}
		return failureMessage(failure), failure
	}

	return BlobMessage(img, BlobMeta{
		MimeType: "image/png",
		Filename: screener.ScreenshotFileName(success.CapturedAt),
		Metadata: CaptureMetadata{
			URL:               success.SourceURL,
			PageWidth:         success.PageWidth,
			PageHeight:        success.PageHeight,
			DeviceScaleFactor: success.DeviceScaleFactor,
			ScreenshotPath:    success.StoragePath,
		},
	}), result
}

const failurePrefix = "capture failed: "

func failureMessage(err error) Message {
	return TextMessage(failurePrefix + err.Error())
}
