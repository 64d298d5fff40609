package translator

import "context"

// Engine is the translation primitive. Translate must return exactly one
// result per query, in query order. from and to are provider language codes
// ("jp", "zh", ...).
type Engine interface {
	Name() string
	Translate(ctx context.Context, from, to string, queries []string) ([]string, error)
}

// Recorder receives engine call outcomes.
type Recorder interface {
	RecordTranslation(engine string, queries int, err error)
}

// IdentityEngine returns its input unchanged. It backs the boost flow where
// translations are uploaded by an external client and is handy in tests.
type IdentityEngine struct{}

func (IdentityEngine) Name() string { return "identity" }

func (IdentityEngine) Translate(ctx context.Context, _, _ string, queries []string) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	ret := make([]string, len(queries))
	copy(ret, queries)
	return ret, nil
}
