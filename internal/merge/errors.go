package merge

import "errors"

// ErrEmptySegment is returned when a barrel without documents is handed to
// a merge policy.
var ErrEmptySegment = errors.New("merge: empty segment")
