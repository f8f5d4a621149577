package generation

import (
	"fmt"
	"strings"

	"stepline/internal/domain"
)

const principles = `## Operating Principles
- Understand the full context before proposing anything.
- Prefer concrete, verifiable statements over generic advice.
- Design for growth but scope the work to what is needed now.
- Treat every input as untrusted; call out validation and error handling.
- Review your own output for gaps before answering.`

var systemPrompts = map[domain.StepID]string{
	domain.StepAnalysis: principles + `

## Role
You are a senior business analyst and software architect. Turn a project idea
into structured requirements.

## Output
A markdown document titled "Requirements Analysis" with sections for an
executive summary, business requirements, functional requirements,
non-functional requirements, technical constraints, risks and open questions.`,

	domain.StepArchitecture: principles + `

## Role
You are a software architect. Design the complete technical architecture for
the analysed requirements.

## Output
A markdown document titled "Technical Architecture" covering the technology
stack, project structure, components and their responsibilities, data model,
integration points, security and deployment.`,

	domain.StepPlanning: principles + `

## Role
You are a technical project lead. Turn the architecture into an ordered,
executable implementation plan.

## Output
A markdown document titled "Implementation Planning" with phases, each a
checklist of tasks small enough to implement and test independently, and the
dependencies between them.`,

	domain.StepOptimization: `## Role
You write concise, focused prompts for code generation agents.

## Output
A markdown prompt with a short project context, references to the
architecture and plan files, the additional files available, and this exact
section:

### CODING PROTOCOL ###
Development Guidelines:
- Use minimal code to complete current task
- No large-scale refactoring
- No unrelated edits, focus on current development task
- Code must be precise, modular, and testable
- Do not break existing functionality
- If you need me to do any configuration (e.g. Supabase/AWS) please tell me explicitly

Keep the whole prompt under 1000 words.`,
}

// SystemPrompt returns the role prompt for a step.
func SystemPrompt(step domain.StepID) string {
	return systemPrompts[step]
}

// BuildPrompt assembles the system and user messages for a request. Earlier
// artifacts are inlined in pipeline order; the optimization step also gets
// their paths so the final prompt can reference them.
func BuildPrompt(req Request) (string, string) {
	var b strings.Builder
	switch req.Step {
	case domain.StepAnalysis:
		b.WriteString(strings.TrimSpace(req.Prompt))
	case domain.StepArchitecture:
		b.WriteString("Create a technical architecture based on this requirements analysis:\n")
	case domain.StepPlanning:
		b.WriteString("Create an implementation plan based on this architecture and analysis:\n")
	case domain.StepOptimization:
		b.WriteString("Create the final optimized prompt for these project files:\n")
		for _, in := range req.Inputs {
			fmt.Fprintf(&b, "- %s: %s\n", in.Step.Name(), in.Path)
		}
	}
	if req.Step != domain.StepAnalysis && strings.TrimSpace(req.Prompt) != "" {
		fmt.Fprintf(&b, "\nOriginal project idea:\n%s\n", strings.TrimSpace(req.Prompt))
	}
	for _, in := range req.Inputs {
		fmt.Fprintf(&b, "\n--- %s (%s) ---\n%s\n", in.Step.Name(), in.Path, in.Content)
	}
	return SystemPrompt(req.Step), b.String()
}
