package server

import (
	"fmt"
	"time"
)

// timestampLayout is the yyyy-MM-dd HH:mm:ss stamp clients see on notices.
const timestampLayout = "2006-01-02 15:04:05"

// MessageKind selects how a Message is rendered on the wire.
type MessageKind int

const (
	MessageChat MessageKind = iota
	MessageSystem
	MessagePrivate
	MessageUpload
)

// Message is one line delivered to sessions through the registry.
type Message struct {
	Kind      MessageKind
	From      string
	Content   string
	Timestamp time.Time
}

func chatMessage(from, content string) Message {
	return Message{Kind: MessageChat, From: from, Content: content, Timestamp: time.Now()}
}

func systemMessage(format string, args ...interface{}) Message {
	return Message{Kind: MessageSystem, Content: fmt.Sprintf(format, args...), Timestamp: time.Now()}
}

func privateMessage(from, content string) Message {
	return Message{Kind: MessagePrivate, From: from, Content: content, Timestamp: time.Now()}
}

func uploadMessage(from, filename string) Message {
	return Message{Kind: MessageUpload, From: from, Content: filename, Timestamp: time.Now()}
}

// String renders the message as the line clients receive.
func (m Message) String() string {
	switch m.Kind {
	case MessagePrivate:
		return fmt.Sprintf("From %s: %s", m.From, m.Content)
	case MessageUpload:
		return fmt.Sprintf("%s <%s>: Uploaded %s", m.From, m.Timestamp.Format(timestampLayout), m.Content)
	case MessageSystem:
		return m.Content
	default:
		return fmt.Sprintf("%s: %s", m.From, m.Content)
	}
}
