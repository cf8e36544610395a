package agent

import "strings"

// PersonaKind selects one of the two agent behaviors. Personas are plain
// configuration (prompt template + allowed tool set); the orchestrator only
// ever asks the factory to "start a session with persona P in room R".
type PersonaKind string

const (
	// PersonaSupport is the customer-facing agent (Agent A).
	PersonaSupport PersonaKind = "support"
	// PersonaReceiving is the incoming agent (Agent B), briefed in the
	// consult room before the merge.
	PersonaReceiving PersonaKind = "receiving"
)

type Persona struct {
	Kind    PersonaKind
	Summary string
}

func SupportPersona() Persona {
	return Persona{Kind: PersonaSupport}
}

func ReceivingPersona(summary string) Persona {
	return Persona{Kind: PersonaReceiving, Summary: summary}
}

const commonInstructions = `You are a friendly, helpful phone support agent.
Keep responses to one or two sentences and acknowledge the caller's concern.`

const supportInstructions = `You are the customer's first support agent.
When the caller requests escalation, confirm first and then initiate the transfer.`

const receivingInstructions = `You are another support agent taking over a call.
You have been briefed on the conversation so far. Acknowledge the context and
continue helping the customer. When ready, confirm and connect to the customer.`

// Instructions renders the system prompt for the persona. The receiving
// persona is seeded with the handoff summary.
func (p Persona) Instructions() string {
	var b strings.Builder
	b.WriteString(commonInstructions)
	b.WriteString("\n\n")
	switch p.Kind {
	case PersonaReceiving:
		b.WriteString(receivingInstructions)
		if s := strings.TrimSpace(p.Summary); s != "" {
			b.WriteString("\n\nHandoff summary:\n")
			b.WriteString(s)
		}
	default:
		b.WriteString(supportInstructions)
	}
	return b.String()
}

// Tools lists the tool names each persona may call.
func (p Persona) Tools() []string {
	switch p.Kind {
	case PersonaReceiving:
		return []string{"connect_to_customer"}
	default:
		return []string{"transfer_to_agent_b"}
	}
}
