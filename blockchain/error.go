// Copyright (c) 2014-2016 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package blockchain

import "fmt"

// ErrorCode identifies a kind of error.
type ErrorCode int

// These constants are used to identify a specific RuleError.
const (
	// ErrDuplicateBlock indicates a block with the same hash already
	// exists in the block index.
	ErrDuplicateBlock ErrorCode = iota

	// ErrPrevBlockMismatch indicates a header's previous block hash does
	// not connect to the current tip of the block index.
	ErrPrevBlockMismatch

	// ErrUnexpectedDifficulty indicates specified bits do not align with
	// the expected value either because it doesn't match the calculated
	// value based on the difficulty retarget rules or because it is out of
	// the valid range.
	ErrUnexpectedDifficulty

	// ErrDifficultyTooHigh indicates the observed target is below the
	// expected target beyond the permitted slack. A chain claiming more
	// work than real elapsed time permits looks like this.
	ErrDifficultyTooHigh

	// ErrDifficultyTooLow indicates the observed target is above the
	// expected target beyond the permitted slack.
	ErrDifficultyTooLow
)

// Map of ErrorCode values back to their constant names for pretty printing.
var errorCodeStrings = map[ErrorCode]string{
	ErrDuplicateBlock:       "ErrDuplicateBlock",
	ErrPrevBlockMismatch:    "ErrPrevBlockMismatch",
	ErrUnexpectedDifficulty: "ErrUnexpectedDifficulty",
	ErrDifficultyTooHigh:    "ErrDifficultyTooHigh",
	ErrDifficultyTooLow:     "ErrDifficultyTooLow",
}

// String returns the ErrorCode as a human-readable name.
func (e ErrorCode) String() string {
	if s := errorCodeStrings[e]; s != "" {
		return s
	}
	return fmt.Sprintf("Unknown ErrorCode (%d)", int(e))
}

// RuleError identifies a rule violation. It is used to indicate that
// processing of a block or header failed due to one of the many validation
// rules. The caller can use type assertions to determine if a failure was
// specifically due to a rule violation and access the ErrorCode field to
// ascertain the specific reason for the rule violation.
type RuleError struct {
	ErrorCode   ErrorCode // Describes the kind of error
	Description string    // Human readable description of the issue
}

// Error satisfies the error interface and prints human-readable errors.
func (e RuleError) Error() string {
	return e.Description
}

// ruleError creates a RuleError given a set of arguments.
func ruleError(c ErrorCode, desc string) RuleError {
	return RuleError{ErrorCode: c, Description: desc}
}

// IsRuleErrorCode returns whether err is a RuleError with the given code.
func IsRuleErrorCode(err error, code ErrorCode) bool {
	ruleErr, ok := err.(RuleError)
	return ok && ruleErr.ErrorCode == code
}
