package invoker

import (
	"fmt"
	"strings"

	"github.com/BaSui01/agentcircle/types"
)

// PromptInput is the material for one agent's system prompt.
type PromptInput struct {
	Agent        types.Agent
	Memory       types.RetrievedSet
	Mail         []types.Mail
	AllowedTools []types.ToolName
	Names        map[string]string
	Participants []string
}

// PromptBuilder renders system prompts.
type PromptBuilder struct {
	operator string
}

// NewPromptBuilder creates a builder addressing the operator by name.
func NewPromptBuilder(operator string) *PromptBuilder {
	if operator == "" {
		operator = "Alfonso"
	}
	return &PromptBuilder{operator: operator}
}

// Build renders persona, memory, tool help and unread mail, in that order.
// Empty sections are omitted.
func (b *PromptBuilder) Build(in PromptInput) string {
	var sb strings.Builder

	if strings.TrimSpace(in.Agent.Persona) != "" {
		sb.WriteString(strings.TrimSpace(in.Agent.Persona))
	} else {
		fmt.Fprintf(&sb, "Sei %s, una voce di un circolo di intelligenze che conversano tra loro e con %s.", in.Agent.Name, b.operator)
	}
	sb.WriteString("\n")

	if others := b.otherNames(in); len(others) > 0 {
		fmt.Fprintf(&sb, "\nIn questa conversazione ci sono anche: %s.\n", strings.Join(others, ", "))
	}

	if len(in.Memory) > 0 {
		sb.WriteString("\n## Ricordi pertinenti\n")
		for _, d := range in.Memory {
			label := "condiviso"
			if d.Document.Scope.IsPrivate() {
				label = "privato"
			}
			fmt.Fprintf(&sb, "- [%s] %s\n", label, d.Document.Text)
		}
	}

	if help := b.toolHelp(in.AllowedTools); help != "" {
		sb.WriteString("\n## Strumenti\n")
		sb.WriteString(help)
	}

	if len(in.Mail) > 0 {
		sb.WriteString("\n## Messaggi ricevuti\n")
		for _, m := range in.Mail {
			from := m.From
			if n, ok := in.Names[m.From]; ok {
				from = n
			}
			fmt.Fprintf(&sb, "- da %s: %s\n", from, m.Body)
		}
	}
	return sb.String()
}

func (b *PromptBuilder) otherNames(in PromptInput) []string {
	var out []string
	for _, id := range in.Participants {
		if id == in.Agent.ID {
			continue
		}
		if n, ok := in.Names[id]; ok {
			out = append(out, n)
		} else {
			out = append(out, id)
		}
	}
	return out
}

func (b *PromptBuilder) toolHelp(allowed []types.ToolName) string {
	var sb strings.Builder
	for _, t := range allowed {
		switch t {
		case types.ToolCandleTest:
			sb.WriteString("- [CANDLE TEST]azione[/CANDLE TEST]: valuta se un'azione illumina o brucia\n")
		case types.ToolSiblingMessage:
			sb.WriteString("- [MESSAGGIO A Nome]testo[/MESSAGGIO]: scrivi privatamente a un'altra voce\n")
		case types.ToolLibrarySave:
			sb.WriteString("- [SALVA IN BIBLIOTECA: titolo]testo[/SALVA]: conserva un testo nella biblioteca comune\n")
		case types.ToolShareMemory:
			sb.WriteString("- [CONDIVIDI RICORDO]testo[/CONDIVIDI]: aggiungi un ricordo alla memoria condivisa\n")
		case types.ToolContactOperator:
			fmt.Fprintf(&sb, "- [CONTATTA %s]testo[/CONTATTA]: avvisa %s (aggiungi URGENTE se serve subito)\n",
				strings.ToUpper(b.operator), b.operator)
		}
	}
	return sb.String()
}
