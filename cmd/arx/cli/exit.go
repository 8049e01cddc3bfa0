// Copyright 2026 The ARX Authors
// SPDX-License-Identifier: Apache-2.0

package cli

import "fmt"

// ExitError signals a non-zero exit code without an extra error line.
// Commands return it when the non-zero exit is a meaningful outcome
// they have already reported themselves (a failed verification, a
// missing entry) rather than an unexpected failure.
type ExitError struct {
	Code int
}

func (e *ExitError) Error() string {
	return fmt.Sprintf("exit code %d", e.Code)
}

// ExitCode is checked by main to distinguish a handled non-zero exit
// from an error to display.
func (e *ExitError) ExitCode() int {
	return e.Code
}
