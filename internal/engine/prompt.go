package engine

import (
	"fmt"
	"strings"

	"github.com/supportiq/assist/internal/model"
	"github.com/supportiq/assist/internal/ticket"
)

const basePrompt = `You are a helpful customer support assistant. Answer using the knowledge base excerpts below when they are relevant, and say so plainly when they do not cover the question.`

// buildSystemPrompt assembles the grounding prompt from knowledge sources
// and the tickets attached to the conversation.
func buildSystemPrompt(sources []model.Source, attached []*ticket.Ticket) string {
	var b strings.Builder
	b.WriteString(basePrompt)

	if len(sources) > 0 {
		b.WriteString("\n\nKNOWLEDGE BASE EXCERPTS:")
		for i, src := range sources {
			fmt.Fprintf(&b, "\n[%d] %s: %s", i+1, src.Title, src.Chunk)
		}
	}

	if len(attached) > 0 {
		b.WriteString("\n\nATTACHED TICKETS FOR CONTEXT:")
		for _, t := range attached {
			desc := t.Description
			if len(desc) > 500 {
				desc = desc[:500]
			}
			fmt.Fprintf(&b, "\n---\nTicket #%d: %s\nStatus: %s | Priority: %s | Category: %s\nDescription: %s\n---",
				t.TicketNumber, t.Title, t.Status, t.Priority, orNA(t.Category), desc)
		}
	}

	return b.String()
}

func orNA(s string) string {
	if s == "" {
		return "N/A"
	}
	return s
}
