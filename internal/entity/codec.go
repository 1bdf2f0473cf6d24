// ABOUTME: JSON payload codec for instant messages and content variants
// ABOUTME: Decoding goes through mapstructure so unknown payloads degrade to Unsupported

package entity

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/mitchellh/mapstructure"
)

// EncodeMessage serializes an instant message (envelope + content) to JSON
// for the message store payload column. Attachment bytes are never included;
// only file metadata survives serialization.
func EncodeMessage(msg *InstantMessage) ([]byte, error) {
	if msg == nil || msg.Content == nil {
		return nil, fmt.Errorf("nil message")
	}
	payload := map[string]any{
		"sender":   msg.Envelope.Sender.String(),
		"receiver": msg.Envelope.Receiver.String(),
		"time":     msg.Envelope.Time.Unix(),
		"content":  EncodeContent(msg.Content),
	}
	return json.Marshal(payload)
}

// DecodeMessage parses a payload produced by EncodeMessage.
func DecodeMessage(data []byte) (*InstantMessage, error) {
	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parsing message payload: %w", err)
	}
	var head struct {
		Sender   string         `mapstructure:"sender"`
		Receiver string         `mapstructure:"receiver"`
		Time     int64          `mapstructure:"time"`
		Content  map[string]any `mapstructure:"content"`
	}
	if err := weakDecode(raw, &head); err != nil {
		return nil, fmt.Errorf("decoding message header: %w", err)
	}
	sender, err := ParseID(head.Sender)
	if err != nil {
		return nil, fmt.Errorf("decoding sender: %w", err)
	}
	receiver, err := ParseID(head.Receiver)
	if err != nil {
		return nil, fmt.Errorf("decoding receiver: %w", err)
	}
	content, err := DecodeContent(head.Content)
	if err != nil {
		return nil, err
	}
	return &InstantMessage{
		Envelope: Envelope{
			Sender:   sender,
			Receiver: receiver,
			Time:     time.Unix(head.Time, 0),
		},
		Content: content,
	}, nil
}

// EncodeContent renders a content variant as a loose map.
func EncodeContent(c Content) map[string]any {
	base := c.Base()
	m := map[string]any{
		"type": int(base.Type),
		"sn":   base.SN,
	}
	if !base.Time.IsZero() {
		m["time"] = base.Time.Unix()
	}
	if !base.Group.IsZero() {
		m["group"] = base.Group.String()
	}
	if base.Hidden {
		m["hidden"] = true
	}
	if base.Muted {
		m["muted"] = true
	}

	switch v := c.(type) {
	case *TextContent:
		m["text"] = v.Text
	case *FileContent:
		m["filename"] = v.Filename
		m["size"] = v.Size
		if v.Path != "" {
			m["path"] = v.Path
		}
		if v.URL != "" {
			m["url"] = v.URL
		}
	case *PageContent:
		m["url"] = v.URL
		m["title"] = v.Title
	case *CustomizedContent:
		for k, val := range v.Extra {
			m[k] = val
		}
		m["app"] = v.App
		m["mod"] = v.Module
		m["act"] = v.Action
	case *CommandContent:
		for k, val := range v.Extra {
			m[k] = val
		}
		m["command"] = v.Name
	case *GroupCommand:
		m["command"] = v.Name
		members := make([]string, 0, len(v.Members))
		for _, id := range v.Members {
			members = append(members, id.String())
		}
		m["members"] = members
	case *ReceiptCommand:
		m["command"] = CmdReceipt
		m["text"] = v.Text
		origin := map[string]any{
			"type": int(v.OriginType),
			"sn":   v.OriginSN,
		}
		if v.OriginSignature != "" {
			origin["signature"] = v.OriginSignature
		}
		if !v.OriginGroup.IsZero() {
			origin["group"] = v.OriginGroup.String()
		}
		if v.OriginEnvelope != nil {
			origin["sender"] = v.OriginEnvelope.Sender.String()
			origin["receiver"] = v.OriginEnvelope.Receiver.String()
			origin["time"] = v.OriginEnvelope.Time.Unix()
		}
		m["origin"] = origin
	case *ForwardContent:
		m["forward"] = v.Raw
	case *ArrayContent:
		m["secrets"] = v.Raw
	case *UnsupportedContent:
		for k, val := range v.Raw {
			if _, taken := m[k]; !taken {
				m[k] = val
			}
		}
	}
	return m
}

// DecodeContent parses a loose map into one of the closed content variants.
// Unknown content types decode to UnsupportedContent rather than failing.
func DecodeContent(raw map[string]any) (Content, error) {
	if raw == nil {
		return nil, fmt.Errorf("missing content")
	}
	var head struct {
		Type    int    `mapstructure:"type"`
		SN      uint64 `mapstructure:"sn"`
		Time    int64  `mapstructure:"time"`
		Group   string `mapstructure:"group"`
		Hidden  bool   `mapstructure:"hidden"`
		Muted   bool   `mapstructure:"muted"`
		Command string `mapstructure:"command"`
	}
	if err := weakDecode(raw, &head); err != nil {
		return nil, fmt.Errorf("decoding content header: %w", err)
	}
	base := ContentBase{
		Type:   ContentType(head.Type),
		SN:     head.SN,
		Hidden: head.Hidden,
		Muted:  head.Muted,
	}
	if head.Time != 0 {
		base.Time = time.Unix(head.Time, 0)
	}
	if head.Group != "" {
		group, err := ParseID(head.Group)
		if err != nil {
			return nil, fmt.Errorf("decoding content group: %w", err)
		}
		base.Group = group
	}

	switch base.Type {
	case ContentText:
		var body struct {
			Text string `mapstructure:"text"`
		}
		if err := weakDecode(raw, &body); err != nil {
			return nil, err
		}
		return &TextContent{ContentBase: base, Text: body.Text}, nil

	case ContentFile, ContentImage, ContentAudio, ContentVideo:
		var body struct {
			Filename string `mapstructure:"filename"`
			Size     int64  `mapstructure:"size"`
			Path     string `mapstructure:"path"`
			URL      string `mapstructure:"url"`
		}
		if err := weakDecode(raw, &body); err != nil {
			return nil, err
		}
		return &FileContent{
			ContentBase: base,
			Filename:    body.Filename,
			Size:        body.Size,
			Path:        body.Path,
			URL:         body.URL,
		}, nil

	case ContentPage:
		var body struct {
			URL   string `mapstructure:"url"`
			Title string `mapstructure:"title"`
		}
		if err := weakDecode(raw, &body); err != nil {
			return nil, err
		}
		return &PageContent{ContentBase: base, URL: body.URL, Title: body.Title}, nil

	case ContentCustomized:
		var body struct {
			App    string         `mapstructure:"app"`
			Module string         `mapstructure:"mod"`
			Action string         `mapstructure:"act"`
			Extra  map[string]any `mapstructure:",remain"`
		}
		if err := weakDecode(raw, &body); err != nil {
			return nil, err
		}
		stripHeaderKeys(body.Extra)
		return &CustomizedContent{
			ContentBase: base,
			App:         body.App,
			Module:      body.Module,
			Action:      body.Action,
			Extra:       body.Extra,
		}, nil

	case ContentCommand, ContentHistory:
		return decodeCommand(raw, base, head.Command)

	case ContentForward:
		var body struct {
			Forward map[string]any `mapstructure:"forward"`
		}
		if err := weakDecode(raw, &body); err != nil {
			return nil, err
		}
		return &ForwardContent{ContentBase: base, Raw: body.Forward}, nil

	case ContentArray:
		var body struct {
			Secrets []map[string]any `mapstructure:"secrets"`
		}
		if err := weakDecode(raw, &body); err != nil {
			return nil, err
		}
		return &ArrayContent{ContentBase: base, Raw: body.Secrets}, nil

	default:
		return &UnsupportedContent{ContentBase: base, Raw: raw}, nil
	}
}

func decodeCommand(raw map[string]any, base ContentBase, name string) (Content, error) {
	switch name {
	case CmdReceipt:
		var body struct {
			Text   string         `mapstructure:"text"`
			Origin map[string]any `mapstructure:"origin"`
		}
		if err := weakDecode(raw, &body); err != nil {
			return nil, err
		}
		receipt := &ReceiptCommand{ContentBase: base, Text: body.Text}
		if body.Origin != nil {
			var origin struct {
				Sender    string `mapstructure:"sender"`
				Receiver  string `mapstructure:"receiver"`
				Time      int64  `mapstructure:"time"`
				Type      int    `mapstructure:"type"`
				SN        uint64 `mapstructure:"sn"`
				Signature string `mapstructure:"signature"`
				Group     string `mapstructure:"group"`
			}
			if err := weakDecode(body.Origin, &origin); err != nil {
				return nil, fmt.Errorf("decoding receipt origin: %w", err)
			}
			receipt.OriginType = ContentType(origin.Type)
			receipt.OriginSN = origin.SN
			receipt.OriginSignature = origin.Signature
			if origin.Group != "" {
				if group, err := ParseID(origin.Group); err == nil {
					receipt.OriginGroup = group
				}
			}
			if origin.Sender != "" {
				sender, err := ParseID(origin.Sender)
				if err != nil {
					return nil, fmt.Errorf("decoding receipt origin sender: %w", err)
				}
				receiver, _ := ParseID(origin.Receiver)
				receipt.OriginEnvelope = &Envelope{
					Sender:   sender,
					Receiver: receiver,
					Time:     time.Unix(origin.Time, 0),
				}
			}
		}
		return receipt, nil

	case CmdGroupReset, CmdGroupInvite, CmdGroupExpel, CmdGroupJoin, CmdGroupQuit:
		var body struct {
			Members []string `mapstructure:"members"`
		}
		if err := weakDecode(raw, &body); err != nil {
			return nil, err
		}
		cmd := &GroupCommand{ContentBase: base, Name: name}
		for _, s := range body.Members {
			id, err := ParseID(s)
			if err != nil {
				return nil, fmt.Errorf("decoding group command member: %w", err)
			}
			cmd.Members = append(cmd.Members, id)
		}
		return cmd, nil

	default:
		var body struct {
			Extra map[string]any `mapstructure:",remain"`
		}
		if err := weakDecode(raw, &body); err != nil {
			return nil, err
		}
		stripHeaderKeys(body.Extra)
		delete(body.Extra, "command")
		return &CommandContent{ContentBase: base, Name: name, Extra: body.Extra}, nil
	}
}

// stripHeaderKeys drops the shared header fields from a ",remain" map so
// they are carried once, by ContentBase, not duplicated in Extra.
func stripHeaderKeys(extra map[string]any) {
	for _, key := range []string{"type", "sn", "time", "group", "hidden", "muted"} {
		delete(extra, key)
	}
}

// weakDecode maps loose JSON values onto a struct, tolerating the numeric
// widening json.Unmarshal introduces (float64 for every number).
func weakDecode(input, output any) error {
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           output,
		WeaklyTypedInput: true,
	})
	if err != nil {
		return err
	}
	return decoder.Decode(input)
}
