// SPDX-License-Identifier: MPL-2.0

package cmd

import (
	"errors"
	"fmt"
	"io"

	"github.com/flashcmd/flashcmd/internal/issue"
)

// ServiceError is an error that carries optional rendering information for
// the CLI layer. When the CLI layer receives a ServiceError, it renders the
// styled error message (if present) before the catalog entry.
// Always create via newServiceError.
type ServiceError struct {
	// Err is the underlying error (must not be nil).
	Err error
	// IssueID is the optional issue catalog ID for rendering help text.
	IssueID issue.Id
	// StyledMessage is the optional pre-rendered styled error text.
	StyledMessage string
}

// newServiceError creates a ServiceError with a nil-Err panic guard.
func newServiceError(err error, issueID issue.Id, styledMessage string) *ServiceError {
	if err == nil {
		panic("ServiceError: Err must not be nil")
	}
	return &ServiceError{
		Err:           err,
		IssueID:       issueID,
		StyledMessage: styledMessage,
	}
}

// Error implements the error interface.
func (e *ServiceError) Error() string { return e.Err.Error() }

// Unwrap returns the underlying error for errors.Is/As chains.
func (e *ServiceError) Unwrap() error { return e.Err }

// renderServiceError prints the styled message first, then the optional issue
// help section.
func renderServiceError(stderr io.Writer, svcErr *ServiceError, stylePath string) {
	if svcErr == nil {
		return
	}

	if svcErr.StyledMessage != "" {
		fmt.Fprint(stderr, svcErr.StyledMessage)
	}

	if svcErr.IssueID == 0 {
		return
	}
	renderIssue(stderr, issue.Get(svcErr.IssueID), stylePath)
}

func renderIssue(stderr io.Writer, entry *issue.Issue, stylePath string) {
	if entry == nil {
		return
	}
	rendered, err := entry.Render(stylePath)
	if err != nil {
		fmt.Fprintf(stderr, "%s failed to render issue %d: %v\n", WarningStyle.Render("!"), entry.Id(), err)
		return
	}
	fmt.Fprint(stderr, rendered)
}

// reportError prints err the way the CLI presents failures: ServiceErrors with
// their styled message and catalog entry, ActionableErrors with Format and
// their catalog entry, anything else as a plain styled line.
func reportError(stderr io.Writer, err error, verbose bool, stylePath string) {
	var svcErr *ServiceError
	if errors.As(err, &svcErr) {
		renderServiceError(stderr, svcErr, stylePath)
		return
	}

	fmt.Fprintf(stderr, "%s %s\n", ErrorStyle.Render("Error:"), formatErrorForDisplay(err, verbose))

	var ae *issue.ActionableError
	if errors.As(err, &ae) {
		if entry, ok := ae.CatalogIssue(); ok {
			renderIssue(stderr, entry, stylePath)
		}
	}
}
