package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/supportiq/assist/internal/llm"
	"github.com/supportiq/assist/internal/model"
	"github.com/supportiq/assist/internal/ticket"
)

const ticketToolsInfo = `

You have access to ticket management tools:
- create_ticket: Create a new support ticket when the user wants to log an issue
- get_ticket: Look up details of a specific ticket by number (e.g., #47)
- update_ticket: Update a ticket's status or add notes
- search_tickets: Search for tickets by keyword

When the user asks about tickets, references a ticket number, or wants to create/update tickets, use the appropriate tool.
When referring to tickets, always use the format "ticket #[number]" (e.g., "ticket #47").
`

// ticketTools returns the tool definitions exposed to the model.
func ticketTools() []llm.ToolDefinition {
	return []llm.ToolDefinition{
		{
			Name:        "create_ticket",
			Description: "Create a new support ticket for the user",
			Parameters: json.RawMessage(`{
				"type": "object",
				"properties": {
					"title": {"type": "string", "description": "Short ticket title"},
					"description": {"type": "string", "description": "Detailed issue description"},
					"priority": {"type": "string", "enum": ["low", "medium", "high", "urgent"]},
					"category": {"type": "string", "description": "Optional issue category"}
				},
				"required": ["title"]
			}`),
		},
		{
			Name:        "get_ticket",
			Description: "Look up a ticket by its number",
			Parameters: json.RawMessage(`{
				"type": "object",
				"properties": {
					"ticket_number": {"type": "integer", "description": "The ticket number, e.g. 47 for #47"}
				},
				"required": ["ticket_number"]
			}`),
		},
		{
			Name:        "update_ticket",
			Description: "Update a ticket's status or add a note",
			Parameters: json.RawMessage(`{
				"type": "object",
				"properties": {
					"ticket_number": {"type": "integer"},
					"status": {"type": "string", "enum": ["open", "in_progress", "resolved", "closed"]},
					"notes": {"type": "string", "description": "A note to append to the ticket"}
				},
				"required": ["ticket_number"]
			}`),
		},
		{
			Name:        "search_tickets",
			Description: "Search the user's tickets by keyword",
			Parameters: json.RawMessage(`{
				"type": "object",
				"properties": {
					"query": {"type": "string"},
					"status": {"type": "string", "enum": ["all", "open", "in_progress", "resolved", "closed"]},
					"limit": {"type": "integer"}
				},
				"required": ["query"]
			}`),
		},
	}
}

// toolOutcome is one executed tool call plus the ticket refs it produced.
type toolOutcome struct {
	name       string
	result     map[string]any
	created    *model.TicketRef
	referenced *model.TicketRef
}

// executeTool runs a single tool call. Failures are encoded into the result
// map so the follow-up completion can phrase them for the user.
func (s *Service) executeTool(ctx context.Context, userID string, call llm.ToolCall) toolOutcome {
	outcome := toolOutcome{name: call.Name}

	switch call.Name {
	case "create_ticket":
		title := stringArg(call.Arguments, "title")
		if title == "" {
			title = "New Ticket"
		}
		t, err := s.tickets.Create(ctx, ticket.CreateParams{
			UserID:      userID,
			Title:       title,
			Description: stringArg(call.Arguments, "description"),
			Priority:    model.Priority(stringArg(call.Arguments, "priority")),
			Category:    stringArg(call.Arguments, "category"),
		})
		if err != nil {
			s.log.Error("create_ticket tool failed", zap.Error(err))
			outcome.result = map[string]any{"success": false, "error": "Failed to create ticket"}
			return outcome
		}
		ref := t.Ref()
		outcome.created = &ref
		outcome.result = map[string]any{"success": true, "ticket": ref}

	case "get_ticket":
		number, ok := intArg(call.Arguments, "ticket_number")
		if !ok {
			outcome.result = map[string]any{"success": false, "error": "Ticket number required"}
			return outcome
		}
		t, err := s.tickets.GetByNumber(ctx, userID, number)
		if err != nil {
			outcome.result = map[string]any{"success": false, "error": fmt.Sprintf("Ticket #%d not found", number)}
			return outcome
		}
		ref := t.Ref()
		outcome.referenced = &ref
		outcome.result = map[string]any{"success": true, "ticket": t}

	case "update_ticket":
		number, ok := intArg(call.Arguments, "ticket_number")
		if !ok {
			outcome.result = map[string]any{"success": false, "error": "Ticket number required"}
			return outcome
		}
		t, err := s.tickets.GetByNumber(ctx, userID, number)
		if err != nil {
			outcome.result = map[string]any{"success": false, "error": fmt.Sprintf("Ticket #%d not found", number)}
			return outcome
		}

		params := ticket.UpdateParams{}
		if status := model.Status(stringArg(call.Arguments, "status")); status.Valid() {
			params.Status = &status
		}
		if note := stringArg(call.Arguments, "notes"); note != "" {
			params.Note = &ticket.Note{Content: note, AddedBy: "chat"}
		}
		if params.Status == nil && params.Note == nil {
			outcome.result = map[string]any{"success": false, "error": "No updates provided"}
			return outcome
		}

		updated, err := s.tickets.Update(ctx, t.ID, params)
		if err != nil {
			s.log.Error("update_ticket tool failed", zap.Error(err))
			outcome.result = map[string]any{"success": false, "error": "Failed to update ticket"}
			return outcome
		}
		ref := updated.Ref()
		outcome.referenced = &ref
		outcome.result = map[string]any{
			"success": true,
			"ticket":  ref,
			"message": fmt.Sprintf("Ticket #%d updated successfully", number),
		}

	case "search_tickets":
		status := model.Status(stringArg(call.Arguments, "status"))
		if status == "" {
			status = ticket.StatusAll
		}
		limit, _ := intArg(call.Arguments, "limit")
		if limit <= 0 {
			limit = 10
		}
		result, err := s.tickets.Search(ctx, userID, stringArg(call.Arguments, "query"), status, limit)
		if err != nil {
			s.log.Error("search_tickets tool failed", zap.Error(err))
			outcome.result = map[string]any{"success": false, "error": "Search failed"}
			return outcome
		}
		outcome.result = map[string]any{
			"success": true,
			"tickets": result.Tickets,
			"count":   len(result.Tickets),
		}

	default:
		outcome.result = map[string]any{"success": false, "error": fmt.Sprintf("Unknown tool: %s", call.Name)}
	}

	return outcome
}

// formatToolResults renders outcomes for the follow-up completion.
func formatToolResults(outcomes []toolOutcome) string {
	type entry struct {
		Tool   string         `json:"tool"`
		Result map[string]any `json:"result"`
	}
	entries := make([]entry, len(outcomes))
	for i, o := range outcomes {
		entries[i] = entry{Tool: o.name, Result: o.result}
	}

	data, err := json.MarshalIndent(entries, "", "  ")
	if err != nil {
		return "\n\nTool Results: (unavailable)"
	}
	return "\n\nTool Results:\n" + string(data)
}

func stringArg(args map[string]any, key string) string {
	if v, ok := args[key].(string); ok {
		return strings.TrimSpace(v)
	}
	return ""
}

func intArg(args map[string]any, key string) (int, bool) {
	switch v := args[key].(type) {
	case float64:
		return int(v), true
	case int:
		return v, true
	case string:
		var n int
		if _, err := fmt.Sscanf(v, "%d", &n); err == nil {
			return n, true
		}
	}
	return 0, false
}
