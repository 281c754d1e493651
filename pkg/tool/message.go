package tool

// MessageKind tells text progress apart from the final image.
type MessageKind string

const (
	KindText MessageKind = "text"
	KindBlob MessageKind = "blob"
)

// Message is one item of an invocation's output stream.
type Message struct {
	Kind MessageKind `json:"type"`
	Text string      `json:"text,omitempty"`
	Blob []byte      `json:"blob,omitempty"`
	Meta *BlobMeta   `json:"meta,omitempty"`

	// Final marks the terminal message of an invocation.
	Final bool `json:"final,omitempty"`
}

// BlobMeta describes the image carried by a blob message.
type BlobMeta struct {
	MimeType string          `json:"mime_type"`
	Filename string          `json:"filename"`
	Metadata CaptureMetadata `json:"metadata"`
}

// CaptureMetadata is what the caller learns about a finished capture.
type CaptureMetadata struct {
	URL               string  `json:"url"`
	PageWidth         int     `json:"page_width"`
	PageHeight        int     `json:"page_height"`
	DeviceScaleFactor float64 `json:"deviceScaleFactor"`
	ScreenshotPath    string  `json:"screenshot_path"`
}

// TextMessage returns a text message.
func TextMessage(text string) Message {
	return Message{Kind: KindText, Text: text}
}

// BlobMessage returns a blob message.
func BlobMessage(blob []byte, meta BlobMeta) Message {
	return Message{Kind: KindBlob, Blob: blob, Meta: &meta}
}

// Terminal returns m marked as the last message of its invocation.
func (m Message) Terminal() Message {
	m.Final = true
	return m
}

// Sink receives the messages of one invocation in order.
type Sink interface {
	Send(Message) error
}

// SinkFunc adapts a function to a Sink.
type SinkFunc func(Message) error

func (f SinkFunc) Send(m Message) error { return f(m) }
