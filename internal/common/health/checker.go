package health

// Checker reports whether a component is healthy. A nil error means healthy.
type Checker interface {
	Check() error
}
