// Package responses emulates the Responses protocol on top of an upstream
// that only speaks Chat Completions. It translates requests, complete
// responses, and streamed responses between the two wire formats.
package responses

import (
	"time"

	"go.uber.org/zap"

	"tiergate/internal/idgen"
)

// Translator converts between the Responses and Chat Completions formats.
// It holds no per-call state and is safe for concurrent use.
type Translator struct {
	ids    *idgen.Generator
	now    func() time.Time
	logger *zap.Logger
}

// NewTranslator builds a Translator. ids is required; clock defaults to
// time.Now and logger to a no-op logger.
func NewTranslator(ids *idgen.Generator, clock func() time.Time, logger *zap.Logger) *Translator {
	if ids == nil {
		panic("responses: nil id generator")
	}
	if clock == nil {
		clock = time.Now
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Translator{
		ids:    ids,
		now:    clock,
		logger: logger.Named("responses"),
	}
}

func (t *Translator) epoch() int64 {
	return t.now().Unix()
}
