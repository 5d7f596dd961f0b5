// Package chunk defines the retrieval core's data model: the atomic
// unit of retrieval (Chunk), the per-query result shape
// (RetrievalResult), and the container returned to callers (RAGOutput).
// A chunk's query_must filter is carried here only as its raw JSON
// string (Metadata.QueryMustRaw); the parsed predicate type is
// querymust.Predicate.
package chunk

import "fmt"

// Type enumerates the recognized chunk kinds.
type Type string

const (
	TypeMonster  Type = "monster"
	TypeCategory Type = "category"
	TypeRule     Type = "rule"
	TypeSpell    Type = "spell"
	TypeTable    Type = "table"
	TypeSpecial  Type = "special"
	TypeDefault  Type = "default"
)

// MaxIDBytes bounds chunk id length per the store's write contract.
const MaxIDBytes = 120

// MaxMetadataValueBytes bounds a single flat-metadata value.
const MaxMetadataValueBytes = 4096

// Metadata is the flat string/number/boolean mapping a chunk carries.
// Nested structures are forbidden: the underlying vector store cannot
// hold them.
type Metadata map[string]any

// Title returns the "title" key as a string, or "" if absent.
func (m Metadata) Title() string {
	v, _ := m["title"].(string)
	return v
}

// Category returns the "category" key, treating the literal "null" the
// same as an absent value.
func (m Metadata) Category() string {
	v, _ := m["category"].(string)
	if v == "null" {
		return ""
	}
	return v
}

// QueryMustRaw returns the raw JSON-encoded query_must string, or "" if
// the chunk carries none.
func (m Metadata) QueryMustRaw() string {
	v, _ := m["query_must"].(string)
	return v
}

// Page returns the "page" key as a string, accepting either a stored
// string or number, or "" if absent.
func (m Metadata) Page() string {
	switch v := m["page"].(type) {
	case string:
		return v
	case float64:
		return fmt.Sprintf("%g", v)
	case int:
		return fmt.Sprintf("%d", v)
	default:
		return ""
	}
}

// Validate rejects nested values, which the store cannot hold.
func (m Metadata) Validate() error {
	for k, v := range m {
		switch v.(type) {
		case string, bool, int, int64, float32, float64, nil:
			// scalar, fine
		default:
			return fmt.Errorf("metadata key %q holds a non-scalar value (%T); flat metadata only", k, v)
		}
	}
	return nil
}

// Chunk is the atomic unit of retrieval: a semantically coherent
// fragment of source material.
type Chunk struct {
	ID        string
	Text      string
	Embedding []float32
	Metadata  Metadata
}

// Validate enforces the data-model invariants that are checkable
// without a collection's configured dimensionality.
func (c Chunk) Validate() error {
	if len(c.ID) == 0 || len(c.ID) > MaxIDBytes {
		return fmt.Errorf("chunk id must be 1..%d bytes, got %d", MaxIDBytes, len(c.ID))
	}
	if c.Text == "" {
		return fmt.Errorf("chunk %q: text must be non-empty", c.ID)
	}
	if len(c.Embedding) == 0 {
		return fmt.Errorf("chunk %q: embedding must be non-empty", c.ID)
	}
	if err := c.Metadata.Validate(); err != nil {
		return fmt.Errorf("chunk %q: %w", c.ID, err)
	}
	if partUID, ok := c.Metadata["original_chunk_uid"]; ok && partUID != "" {
		part := asInt(c.Metadata["chunk_part"])
		total := asInt(c.Metadata["total_parts"])
		if part < 1 || part > total {
			return fmt.Errorf("chunk %q: chunk_part %d must be in [1, total_parts=%d]", c.ID, part, total)
		}
	}
	return nil
}

// asInt reads an int out of a metadata value that may have come from
// encoding/json (float64 for any JSON number) or been set directly in
// Go code (int).
func asInt(v any) int {
	switch n := v.(type) {
	case int:
		return n
	case int64:
		return int(n)
	case float64:
		return int(n)
	case float32:
		return int(n)
	default:
		return 0
	}
}

// RetrievalResult is a single chunk returned from a similarity query,
// paired with its cosine distance to the query vector. Smaller distance
// means more similar; distance is in [0, 2].
type RetrievalResult struct {
	ID       string
	Text     string
	Metadata Metadata
	Distance float64
}

// Usage is the LLM's self-reported token accounting for one completion
// call. When the upstream response omits the usage object, every field
// is zero and the caller records a diagnostic; a single field missing
// from a present usage object reads as zero without a diagnostic.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// RAGOutput is the container returned by a query.
type RAGOutput struct {
	Answer      *string        `json:"answer"`
	Diagnostics []string       `json:"diagnostics"`
	Errors      []string       `json:"errors"`
	Usage       Usage          `json:"usage"`
	Meta        map[string]any `json:"meta"`
}
