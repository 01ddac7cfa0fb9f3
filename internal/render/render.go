// Package render turns normalized entities into abstract message
// payloads. The chat-platform encoding of a payload is the platform
// adapter's concern.
package render

import (
	"fmt"
	"strings"

	"statusrelay/internal/model"
)

// Block is one tagged content variant inside a payload.
type Block interface {
	isBlock()
}

// TextBlock is a section of plain text.
type TextBlock struct {
	Text string
}

// HeaderBlock is an emphasized title line.
type HeaderBlock struct {
	Text string
}

// DividerBlock separates sections.
type DividerBlock struct{}

// LinkBlock points at the entity's external page.
type LinkBlock struct {
	Label string
	URL   string
}

func (TextBlock) isBlock()    {}
func (HeaderBlock) isBlock()  {}
func (DividerBlock) isBlock() {}
func (LinkBlock) isBlock()    {}

// Payload is an abstract outbound message.
type Payload struct {
	Blocks      []Block
	Mention     string
	Attachments []string
}

// Incident renders an incident entity. final marks the terminal render
// performed when the incident leaves the active set.
func Incident(e model.Entity, mention string, final bool) Payload {
	p := Payload{Mention: mention, Attachments: e.Attachments}

	title := e.Title
	if title == "" {
		title = e.ID
	}
	p.Blocks = append(p.Blocks, HeaderBlock{Text: title})

	status := statusLabel(e.Status, final)
	if e.Impact != "" && e.Impact != "none" {
		status = fmt.Sprintf("%s (%s impact)", status, e.Impact)
	}
	p.Blocks = append(p.Blocks, TextBlock{Text: status})

	if len(e.Updates) > 0 {
		p.Blocks = append(p.Blocks, DividerBlock{})
		for _, u := range e.Updates {
			p.Blocks = append(p.Blocks, TextBlock{
				Text: fmt.Sprintf("%s: %s", titleCase(string(u.Status)), u.Body),
			})
		}
	} else if e.Body != "" {
		p.Blocks = append(p.Blocks, DividerBlock{}, TextBlock{Text: e.Body})
	}

	if e.URL != "" {
		p.Blocks = append(p.Blocks, LinkBlock{Label: "Status page", URL: e.URL})
	}
	return p
}

// Comment renders a commit-comment entity.
func Comment(e model.Entity, mention string) Payload {
	p := Payload{Mention: mention, Attachments: e.Attachments}

	p.Blocks = append(p.Blocks, HeaderBlock{Text: e.Title})
	if e.Author != "" {
		p.Blocks = append(p.Blocks, TextBlock{Text: "by " + e.Author})
	}
	if e.Body != "" {
		p.Blocks = append(p.Blocks, DividerBlock{}, TextBlock{Text: e.Body})
	}
	if e.URL != "" {
		p.Blocks = append(p.Blocks, LinkBlock{Label: "View comment", URL: e.URL})
	}
	return p
}

// Text flattens a payload into plain text for platforms without a block
// concept.
func (p Payload) Text() string {
	var b strings.Builder
	if p.Mention != "" {
		b.WriteString(p.Mention)
		b.WriteString("\n")
	}
	for i, block := range p.Blocks {
		if i > 0 {
			b.WriteString("\n")
		}
		switch v := block.(type) {
		case HeaderBlock:
			fmt.Fprintf(&b, "[%s]\n", v.Text)
		case TextBlock:
			b.WriteString(v.Text)
			b.WriteString("\n")
		case DividerBlock:
			b.WriteString("---\n")
		case LinkBlock:
			fmt.Fprintf(&b, "%s: %s\n", v.Label, v.URL)
		}
	}
	return strings.TrimRight(b.String(), "\n")
}

func statusLabel(s model.EntityStatus, final bool) string {
	if final && !s.Terminal() {
		return "Resolved"
	}
	switch s {
	case model.StatusNone:
		return "Status unknown"
	case model.StatusInProgress:
		return "In progress"
	default:
		return titleCase(strings.ReplaceAll(string(s), "_", " "))
	}
}

func titleCase(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}
