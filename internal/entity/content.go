// ABOUTME: Closed content variant set for instant messages
// ABOUTME: Every content kind the engine can classify, plus an Unsupported fallback

package entity

import "time"

// ContentType tags the payload kind of a message content.
type ContentType int

const (
	ContentText ContentType = 0x01

	ContentFile  ContentType = 0x10
	ContentImage ContentType = 0x12
	ContentAudio ContentType = 0x14
	ContentVideo ContentType = 0x16

	ContentPage ContentType = 0x20

	ContentCommand ContentType = 0x88
	ContentHistory ContentType = 0x89

	ContentArray      ContentType = 0xCA
	ContentCustomized ContentType = 0xCC
	ContentForward    ContentType = 0xFF
)

// IsCommand reports whether the type is command-flavored (plain or history).
func (t ContentType) IsCommand() bool {
	return t == ContentCommand || t == ContentHistory
}

// IsFile reports whether the type carries a binary attachment.
func (t ContentType) IsFile() bool {
	switch t {
	case ContentFile, ContentImage, ContentAudio, ContentVideo:
		return true
	}
	return false
}

// Command names carried by CommandContent and GroupCommand.
const (
	CmdHandshake = "handshake"
	CmdReport    = "report"
	CmdLogin     = "login"
	CmdMeta      = "meta"
	CmdDocument  = "document"
	CmdSearch    = "search"
	CmdReceipt   = "receipt"

	CmdGroupReset  = "reset"
	CmdGroupInvite = "invite"
	CmdGroupExpel  = "expel"
	CmdGroupJoin   = "join"
	CmdGroupQuit   = "quit"
)

// ContentBase carries the header fields shared by every content variant.
// SN is the sequence number, unique per (conversation, sender).
type ContentBase struct {
	Type   ContentType
	SN     uint64
	Time   time.Time
	Group  ID // zero unless the content targets a group conversation
	Hidden bool
	Muted  bool
}

// Base exposes the shared header; it also seals the Content interface to the
// variants defined in this package.
func (b *ContentBase) Base() *ContentBase { return b }

// Content is the closed set of message payload variants.
type Content interface {
	Base() *ContentBase
}

// TextContent is a plain text message.
type TextContent struct {
	ContentBase
	Text string
}

// FileContent covers file, image, audio and video attachments. Data holds the
// raw bytes in transit only; the store layer never serializes it.
type FileContent struct {
	ContentBase
	Filename string
	Size     int64
	Path     string
	URL      string
	Data     []byte
}

// PageContent is a shared web page / link preview.
type PageContent struct {
	ContentBase
	URL   string
	Title string
}

// CustomizedContent is application-defined content addressed by app/module/action.
type CustomizedContent struct {
	ContentBase
	App    string
	Module string
	Action string
	Extra  map[string]any
}

// CommandContent is a generic (non-group) command handled by dedicated
// processors outside this engine.
type CommandContent struct {
	ContentBase
	Name  string
	Extra map[string]any
}

// GroupCommand is a group-lifecycle command (reset/invite/expel/join/quit).
type GroupCommand struct {
	ContentBase
	Name    string
	Members []ID
}

// ReceiptCommand acknowledges delivery or reading of an earlier message.
// The Origin* fields reference the message being acknowledged.
type ReceiptCommand struct {
	ContentBase
	Text            string
	OriginEnvelope  *Envelope
	OriginGroup     ID
	OriginType      ContentType
	OriginSN        uint64
	OriginSignature string
}

// ForwardContent wraps a re-packed envelope; it is relayed, never stored here.
type ForwardContent struct {
	ContentBase
	Raw map[string]any
}

// ArrayContent batches multiple payloads; relayed, never stored here.
type ArrayContent struct {
	ContentBase
	Raw []map[string]any
}

// UnsupportedContent carries an unrecognized payload verbatim so nothing is
// silently dropped on decode.
type UnsupportedContent struct {
	ContentBase
	Raw map[string]any
}
