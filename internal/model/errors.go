package model

import "errors"

// Cycle lifecycle errors
var (
	// ErrStaleCycle is returned when a cycle id is older than the last committed one.
	ErrStaleCycle = errors.New("cycle id precedes last committed cycle")

	// ErrCycleAlreadyCommitted is returned when the cycle's portfolio and trace are both persisted.
	ErrCycleAlreadyCommitted = errors.New("cycle already committed")

	// ErrCommitFailed marks an irrecoverable storage failure during the terminal commit.
	ErrCommitFailed = errors.New("cycle commit failed")

	// ErrChecksumMismatch indicates a persisted portfolio whose content does not match its checksum.
	ErrChecksumMismatch = errors.New("portfolio checksum mismatch")
)
