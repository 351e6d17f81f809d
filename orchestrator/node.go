package orchestrator

import (
	"context"
	"fmt"
	"iter"

	"github.com/corewave-ai/voicegateway/core"
)

// nodeFunc adapts a plain (ctx, *execState) -> (*execState, error) function
// to core.Runnable, the interface orchestration.Graph nodes must satisfy.
type nodeFunc func(ctx context.Context, s *execState) (*execState, error)

func (f nodeFunc) Invoke(ctx context.Context, input any, _ ...core.Option) (any, error) {
	s, ok := input.(*execState)
	if !ok {
		return nil, fmt.Errorf("orchestrator: node received %T, want *execState", input)
	}
	out, err := f(ctx, s)
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (f nodeFunc) Stream(ctx context.Context, input any, opts ...core.Option) iter.Seq2[any, error] {
	return func(yield func(any, error) bool) {
		out, err := f.Invoke(ctx, input, opts...)
		yield(out, err)
	}
}

var _ core.Runnable = nodeFunc(nil)
