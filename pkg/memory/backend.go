package memory

import "context"

// Backend is the capability set every concrete memory store exposes,
// regardless of whether it's backed by flat files or a relational database.
type Backend interface {
	Initialize(ctx context.Context) error
	Close(ctx context.Context) error

	ReadToday(ctx context.Context) (string, error)
	AppendToday(ctx context.Context, content string) error

	ReadLongTerm(ctx context.Context) (string, error)
	WriteLongTerm(ctx context.Context, content string) error

	GetRecentMemories(ctx context.Context, days int) (string, error)
	GetMemoryContext(ctx context.Context) (string, error)
}

// SemanticBackend is an optional capability: stores that can serve
// embedding-backed retrieval implement it in addition to Backend. Callers
// probe for it with a type assertion rather than runtime reflection.
type SemanticBackend interface {
	Backend
	GetMemoryContextSemantic(ctx context.Context, query string) (string, error)
}
