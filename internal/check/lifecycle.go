package check

// Lifecycle is a state that knows its legal successors.
type Lifecycle[S any] interface {
	CanTransition(next S) bool
	String() string
}
