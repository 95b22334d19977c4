package work

import "fmt"

// LoopKind tells a consumer what to do after pulling from an engine.
type LoopKind int

const (
	// LoopExhausted means the engine has no more work, ever.
	LoopExhausted LoopKind = iota
	// LoopBreak carries the last value the engine will produce.
	LoopBreak
	// LoopContinue carries a value and more may follow.
	LoopContinue
)

func (k LoopKind) String() string {
	switch k {
	case LoopExhausted:
		return "exhausted"
	case LoopBreak:
		return "break"
	case LoopContinue:
		return "continue"
	default:
		return fmt.Sprintf("LoopKind(%d)", int(k))
	}
}

// LoopState is the result of Engine.NextWork.
type LoopState[T any] struct {
	Kind  LoopKind
	value T
}

// Exhausted returns the terminal state.
func Exhausted[T any]() LoopState[T] {
	return LoopState[T]{Kind: LoopExhausted}
}

// Break returns v as the final value.
func Break[T any](v T) LoopState[T] {
	return LoopState[T]{Kind: LoopBreak, value: v}
}

// Continue returns v with more values to follow.
func Continue[T any](v T) LoopState[T] {
	return LoopState[T]{Kind: LoopContinue, value: v}
}

// IsExhausted reports whether the state carries no value.
func (s LoopState[T]) IsExhausted() bool {
	return s.Kind == LoopExhausted
}

// Value returns the carried value. It panics on an exhausted state.
func (s LoopState[T]) Value() T {
	if s.Kind == LoopExhausted {
		panic("work: Value called on an exhausted LoopState")
	}
	return s.value
}
