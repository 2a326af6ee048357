package plumbing

import "fmt"

// ErrBadReferenceName is returned when a proposed branch, tag or remote name
// fails the VCS's reference-naming rules.
type ErrBadReferenceName struct {
	Name string
}

func (e *ErrBadReferenceName) Error() string {
	return fmt.Sprintf("'%s' is not a valid reference name", e.Name)
}
