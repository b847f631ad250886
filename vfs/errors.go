// Cross platform errors

package vfs

import "fmt"

// Error describes low level errors in a cross platform way.
type Error byte

// Low level errors
const (
	OK Error = iota
	EBADF
	EINVAL
	ECLOSED
	EIO
)

var errorNames = []string{
	OK:      "Success",
	EBADF:   "Bad file descriptor",
	EINVAL:  "Invalid argument",
	ECLOSED: "File handle closed",
	EIO:     "Input/output error",
}

// Error renders the error as a string
func (e Error) Error() string {
	if int(e) >= len(errorNames) {
		return fmt.Sprintf("Low level error %d", e)
	}
	return errorNames[e]
}
