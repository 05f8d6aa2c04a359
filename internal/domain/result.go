package domain

// ResultKind discriminates the outcome of an engine entry point.
type ResultKind string

// Result kinds returned by the engine façade.
const (
	ResultSuccess  ResultKind = "success"
	ResultConflict ResultKind = "conflict"
	ResultNotFound ResultKind = "not_found"
	ResultError    ResultKind = "error"
)

// Result is returned by the state-changing engine entry points. Err is set
// for every kind except success.
type Result struct {
	Kind    ResultKind `json:"kind"`
	TaskID  string     `json:"taskId"`
	Message string     `json:"message,omitempty"`
	Err     error      `json:"-"`
}

// OK reports whether the result is a success.
func (r Result) OK() bool {
	return r.Kind == ResultSuccess
}
