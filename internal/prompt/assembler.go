// Package prompt implements the prompt assembler: it formats the
// truncated, ordered chunk list into an LLM prompt, invokes the
// completion client, and captures the self-reported token usage.
package prompt

import (
	"context"
	"fmt"
	"strings"

	"github.com/gravitycar/dnd1strag/internal/chunk"
	"github.com/gravitycar/dnd1strag/internal/llm"
	"github.com/pkoukk/tiktoken-go"
)

const systemPersona = `You are an expert on the 1st edition Advanced Dungeons & Dragons rulebooks. ` +
	`Answer using only the provided context. Cite the page number when a chunk carries one. ` +
	`If the context does not contain the answer, say so plainly rather than guessing.`

// DefaultModel is the completion model the assembler targets absent an
// override.
const DefaultModel = "gpt-4o-mini"

// Assembler formats chunks into a prompt and drives the completion
// call.
type Assembler struct {
	client      llm.Client
	model       string
	maxTokens   int
	softBudget  int
	temperature float64
	tokenizer   *tiktoken.Tiktoken
}

// Option configures an Assembler.
type Option func(*Assembler)

// WithModel overrides DefaultModel.
func WithModel(model string) Option {
	return func(a *Assembler) { a.model = model }
}

// WithMaxTokens sets the completion's max_tokens.
func WithMaxTokens(n int) Option {
	return func(a *Assembler) { a.maxTokens = n }
}

// WithSoftBudget sets the pre-call prompt-token budget beyond which a
// diagnostic is emitted. 0 disables the check.
func WithSoftBudget(tokens int) Option {
	return func(a *Assembler) { a.softBudget = tokens }
}

// WithTemperature sets the completion call's sampling temperature.
func WithTemperature(t float64) Option {
	return func(a *Assembler) { a.temperature = t }
}

// New constructs an Assembler. The tokenizer falls back to a nil
// tokenizer (budget diagnostics disabled) if cl100k_base can't be
// loaded, since the budget check is a diagnostic enrichment, never a
// hard dependency of the core contract.
func New(client llm.Client, opts ...Option) *Assembler {
	a := &Assembler{
		client:     client,
		model:      DefaultModel,
		maxTokens:  1024,
		softBudget: 6000,
	}
	if enc, err := tiktoken.GetEncoding("cl100k_base"); err == nil {
		a.tokenizer = enc
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Result is the outcome of one Assemble call.
type Result struct {
	Answer      string
	Usage       chunk.Usage
	Diagnostics []string
}

// Assemble formats results into a system/user message pair, invokes
// the completion client, and returns the answer with captured usage.
func (a *Assembler) Assemble(ctx context.Context, query string, results []chunk.RetrievalResult) (Result, error) {
	if len(results) == 0 {
		return Result{
			Answer:      "I don't have any relevant context from the rulebooks to answer that question.",
			Diagnostics: []string{"no chunks survived retrieval; answered without context"},
		}, nil
	}

	user := buildUserMessage(query, results)

	var diagnostics []string
	if a.tokenizer != nil && a.softBudget > 0 {
		estimated := len(a.tokenizer.Encode(systemPersona+user, nil, nil))
		if estimated > a.softBudget {
			diagnostics = append(diagnostics,
				fmt.Sprintf("estimated prompt tokens (%d) exceed soft budget (%d)", estimated, a.softBudget))
		}
	}

	completion, err := a.client.Complete(ctx, a.model, []llm.Message{
		{Role: "system", Content: systemPersona},
		{Role: "user", Content: user},
	}, a.temperature, a.maxTokens)
	if err != nil {
		return Result{Diagnostics: diagnostics}, err
	}

	if !completion.UsageReported {
		diagnostics = append(diagnostics, "llm response omitted usage fields; treated as zero")
	}

	return Result{
		Answer:      completion.Content,
		Usage:       completion.Usage,
		Diagnostics: diagnostics,
	}, nil
}

func buildUserMessage(query string, results []chunk.RetrievalResult) string {
	var b strings.Builder
	n := len(results)
	for i, r := range results {
		fmt.Fprintf(&b, "[Chunk %d/%d]", i+1, n)
		if title := r.Metadata.Title(); title != "" {
			fmt.Fprintf(&b, " %s", title)
		}
		if page := r.Metadata.Page(); page != "" {
			fmt.Fprintf(&b, " (p. %s)", page)
		}
		if cat := r.Metadata.Category(); cat != "" {
			fmt.Fprintf(&b, " [%s]", cat)
		}
		b.WriteString("\n\n")
		b.WriteString(r.Text)
		b.WriteString("\n\n---\n")
	}
	fmt.Fprintf(&b, "\nQuestion: %s", query)
	return b.String()
}
