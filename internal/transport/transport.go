// Package transport defines the Message Transport port: an inbound
// channel delivering user messages, button callbacks, files, and
// location updates, and an outbound surface accepting chat replies,
// button keyboards, and file downloads.
package transport

import (
	"context"
	"time"
)

// MessageKind classifies an inbound transport message.
type MessageKind string

const (
	KindText     MessageKind = "text"
	KindCallback MessageKind = "callback"
	KindFile     MessageKind = "file"
	KindLocation MessageKind = "location"
)

// Message is one inbound event from the transport.
type Message struct {
	ID     string
	ChatID int64
	Sender string
	Kind   MessageKind

	Text         string
	CallbackData string

	FileID   string
	FileName string

	Lat float64
	Lon float64

	ReceivedAt time.Time
}

// Button is one inline-keyboard button.
type Button struct {
	Text         string
	CallbackData string
}

// Transport is the Message Transport port.
type Transport interface {
	// Start begins delivery and returns the inbound channel. The
	// channel is closed when ctx is cancelled.
	Start(ctx context.Context) (<-chan *Message, error)

	// SendText delivers text to the authorized chat, normalizing
	// markdown and splitting messages that exceed the channel limit.
	SendText(ctx context.Context, text string) error

	// SendKeyboard delivers text with an inline keyboard attached.
	SendKeyboard(ctx context.Context, text string, rows [][]Button) error

	// DownloadFile fetches the raw bytes of a previously received file.
	DownloadFile(ctx context.Context, fileID string) ([]byte, error)

	// Close releases the underlying connection.
	Close() error
}
