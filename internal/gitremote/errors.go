package gitremote

import "fmt"

// NetworkError reports that the remote could not be reached or the
// operation timed out. Nothing local has been mutated when it is
// returned.
type NetworkError struct {
	Err error
}

func (e *NetworkError) Error() string {
	return fmt.Sprintf("remote unreachable: %v", e.Err)
}

func (e *NetworkError) Unwrap() error {
	return e.Err
}

// RemoteError reports that the remote answered but the operation failed
// (unknown revision, rejected command, garbled output).
type RemoteError struct {
	Err error
}

func (e *RemoteError) Error() string {
	return fmt.Sprintf("remote operation failed: %v", e.Err)
}

func (e *RemoteError) Unwrap() error {
	return e.Err
}
