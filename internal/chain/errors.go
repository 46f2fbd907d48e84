package chain

import "fmt"

// ReadError wraps a failed contract read.
type ReadError struct {
	Op  string
	Err error
}

func (e *ReadError) Error() string {
	return fmt.Sprintf("chain read %s: %v", e.Op, e.Err)
}

func (e *ReadError) Unwrap() error { return e.Err }

// WriteError wraps a failed or reverted transaction.
type WriteError struct {
	Op     string
	TxHash string
	Reason string
	Err    error
}

func (e *WriteError) Error() string {
	msg := "chain write " + e.Op
	if e.TxHash != "" {
		msg += " tx " + e.TxHash
	}
	if e.Reason != "" {
		msg += ": " + e.Reason
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *WriteError) Unwrap() error { return e.Err }
