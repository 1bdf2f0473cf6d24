// ABOUTME: Preview text rendering and mention detection
// ABOUTME: One formatter per content kind; output is single-line, at most 200 runes

package conversation

import (
	"context"
	"fmt"
	"strings"

	"github.com/palaver-im/palaver/internal/entity"
)

const previewMaxRunes = 200

// System receipt texts produced by command processors; hidden from previews.
var systemReceiptPrefixes = []string{
	"Document received",
	"Login command received",
}

func isSystemReceiptText(text string) bool {
	for _, prefix := range systemReceiptPrefixes {
		if strings.HasPrefix(text, prefix) {
			return true
		}
	}
	return false
}

// renderPreview formats the content for the conversation list. Group messages
// from others get a "name: " prefix.
func (s *Service) renderPreview(ctx context.Context, cid entity.ID, msg *entity.InstantMessage) string {
	text := s.formatContent(ctx, msg.Content)
	text = flatten(text)
	if cid.IsGroup() && msg.Envelope.Sender != s.user {
		text = s.names.Name(ctx, msg.Envelope.Sender) + ": " + text
	}
	return truncate(text, previewMaxRunes)
}

func (s *Service) formatContent(ctx context.Context, content entity.Content) string {
	switch c := content.(type) {
	case *entity.TextContent:
		return c.Text
	case *entity.FileContent:
		return formatFile(c)
	case *entity.PageContent:
		if c.Title != "" {
			return c.Title
		}
		return c.URL
	case *entity.CustomizedContent:
		return fmt.Sprintf("[%s:%s:%s]", c.App, c.Module, c.Action)
	case *entity.GroupCommand:
		return s.formatGroupCommand(ctx, c)
	}
	return "[Unsupported message]"
}

func formatFile(c *entity.FileContent) string {
	switch c.Type {
	case entity.ContentImage:
		return fmt.Sprintf("[Image:%s]", c.Filename)
	case entity.ContentAudio:
		return fmt.Sprintf("[Voice:%s]", c.Filename)
	case entity.ContentVideo:
		return fmt.Sprintf("[Video:%s]", c.Filename)
	}
	return fmt.Sprintf("[File:%s]", c.Filename)
}

// formatGroupCommand renders a group-lifecycle command as a readable sentence
// with member names resolved through the identity layer.
func (s *Service) formatGroupCommand(ctx context.Context, c *entity.GroupCommand) string {
	names := make([]string, 0, len(c.Members))
	for _, m := range c.Members {
		names = append(names, s.names.Name(ctx, m))
	}
	joined := strings.Join(names, ", ")

	switch c.Name {
	case entity.CmdGroupReset:
		return fmt.Sprintf("Group members reset to: %s", joined)
	case entity.CmdGroupInvite:
		return fmt.Sprintf("Invited: %s", joined)
	case entity.CmdGroupExpel:
		return fmt.Sprintf("Removed: %s", joined)
	case entity.CmdGroupJoin:
		return "Joined the group"
	case entity.CmdGroupQuit:
		return "Left the group"
	}
	return fmt.Sprintf("[Group command: %s]", c.Name)
}

// flatten collapses newlines into spaces and trims surrounding whitespace.
func flatten(text string) string {
	text = strings.ReplaceAll(text, "\r\n", " ")
	text = strings.ReplaceAll(text, "\n", " ")
	text = strings.ReplaceAll(text, "\r", " ")
	return strings.TrimSpace(text)
}

// truncate cuts the text at max runes, appending an ellipsis when cut.
func truncate(text string, max int) string {
	runes := []rune(text)
	if len(runes) <= max {
		return text
	}
	return string(runes[:max]) + "…"
}

// mentions reports whether the text calls out the local user: the literal
// "@all"/"@All" tokens, or "@" plus the user's nickname, either at the end of
// the text or followed by a space. Other casings intentionally do not match.
func mentions(text, nickname string) bool {
	tokens := []string{"@all", "@All"}
	if nickname != "" {
		tokens = append(tokens, "@"+nickname)
	}
	for _, token := range tokens {
		if strings.HasSuffix(text, token) || strings.Contains(text, token+" ") {
			return true
		}
	}
	return false
}
