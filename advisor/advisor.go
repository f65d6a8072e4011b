// Package advisor isolates the advisory-text capability behind a narrow
// interface. Advisors produce human-readable commentary attached to
// negotiation analyses and decision justifications for the audit trail. The
// output is opaque text: nothing in the coordination core parses it or
// branches on it, so a slow, failing or nondeterministic advisor can never
// change a decision, only leave its commentary blank.
package advisor

import (
	"context"
	"fmt"
	"sort"
	"strings"
)

// Context is the structured input handed to an advisor.
type Context struct {
	// Task names what the commentary is for, e.g. "negotiation_round" or
	// "decision_justification".
	Task string
	// Data carries the numeric facts the advisor may reference.
	Data map[string]any
}

// Prompt renders the context as a deterministic plain-text prompt (keys in
// sorted order) suitable for any text completion backend.
func (c Context) Prompt() string {
	var b strings.Builder
	b.WriteString("Provide a short, plain-language explanation for the following ")
	b.WriteString(c.Task)
	b.WriteString(". Respond with commentary only; the decision has already been made.\n")
	keys := make([]string, 0, len(c.Data))
	for k := range c.Data {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(&b, "%s: %v\n", k, c.Data[k])
	}
	return b.String()
}

// Advisor generates explanation text for a context. Implementations may call
// remote services; callers must treat errors as "no commentary available",
// never as a control-flow signal.
type Advisor interface {
	Explain(ctx context.Context, req Context) (string, error)
}

// Mock is a lightweight in-memory Advisor useful for tests & examples.
type Mock struct {
	responses map[string]string
}

// NewMock constructs a Mock advisor.
func NewMock() *Mock {
	return &Mock{responses: make(map[string]string)}
}

// AddResponse registers a deterministic canned explanation for a task.
func (m *Mock) AddResponse(task, response string) { m.responses[task] = response }

// Explain implements Advisor; returns the canned response or a generic line.
func (m *Mock) Explain(_ context.Context, req Context) (string, error) {
	if resp, ok := m.responses[req.Task]; ok {
		return resp, nil
	}
	return fmt.Sprintf("Mock commentary for %s", req.Task), nil
}

// Static is an Advisor that always returns the same text. Useful as a
// fallback when no provider is configured.
type Static struct {
	Text string
}

// Explain implements Advisor.
func (s Static) Explain(context.Context, Context) (string, error) { return s.Text, nil }
