package community

import (
	"errors"
	"fmt"
	"strings"
)

// ErrInvalidCursor indicates a feed cursor that failed to decode. Returned
// distinctly from an empty page so callers can tell tampering from
// end-of-results.
var ErrInvalidCursor = errors.New("invalid feed cursor")

// NotFoundError indicates an unknown community, post, or moderation target.
type NotFoundError struct {
	Kind string
	ID   string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s not found: %s", e.Kind, e.ID)
}

// ValidationError indicates a malformed identifier, enum value, or
// out-of-range parameter. Rejected at the call boundary, never partially
// applied.
type ValidationError struct {
	Field  string
	Detail string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Detail)
}

// PermissionError names the capability the caller is missing.
type PermissionError struct {
	DID        string
	Capability string
}

func (e *PermissionError) Error() string {
	return fmt.Sprintf("%s lacks %s", e.DID, e.Capability)
}

// Conflict is implemented by every conflict-class error, so callers can
// map the whole family (stage gates, hierarchy constraints, thresholds) to
// a single response code while still inspecting the concrete type.
type Conflict interface {
	error
	Conflict()
}

// TransitionError indicates a structurally invalid stage transition: a
// skipped stage, a same-stage no-op, or a downgrade request.
type TransitionError struct {
	From Stage
	To   Stage
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("invalid stage transition %s -> %s", e.From, e.To)
}
func (e *TransitionError) Conflict() {}

// ThresholdError indicates a legal transition requested below its
// membership threshold. Carries the current count and the requirement so
// callers can explain the rejection.
type ThresholdError struct {
	From     Stage
	To       Stage
	Members  int
	Required int
}

func (e *ThresholdError) Error() string {
	return fmt.Sprintf("transition %s -> %s requires %d active members, have %d", e.From, e.To, e.Required, e.Members)
}
func (e *ThresholdError) Conflict() {}

// StageRequirementError indicates an operation gated on a stage the
// community has not reached, naming the actual stage.
type StageRequirementError struct {
	ID       string
	Required Stage
	Actual   Stage
}

func (e *StageRequirementError) Error() string {
	return fmt.Sprintf("community %s is stage %s, operation requires %s", e.ID, e.Actual, e.Required)
}
func (e *StageRequirementError) Conflict() {}

// HierarchyDepthError indicates an attempt to create a child under a
// community which is itself a child.
type HierarchyDepthError struct {
	ID string
}

func (e *HierarchyDepthError) Error() string {
	return fmt.Sprintf("community %s is itself a child and cannot be a parent", e.ID)
}
func (e *HierarchyDepthError) Conflict() {}

// DuplicateChildError indicates a child id already linked under a
// different parent, or already existing as an unrelated community.
type DuplicateChildError struct {
	ParentID string
	ChildID  string
}

func (e *DuplicateChildError) Error() string {
	return fmt.Sprintf("community %s already exists and is not a child of %s", e.ChildID, e.ParentID)
}
func (e *DuplicateChildError) Conflict() {}

// ChildSummary identifies one still-active child blocking a deletion.
type ChildSummary struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// ChildrenExistError blocks group deletion while children are linked,
// enumerating them by name and count.
type ChildrenExistError struct {
	ID       string
	Children []ChildSummary
}

func (e *ChildrenExistError) Error() string {
	names := make([]string, len(e.Children))
	for i, c := range e.Children {
		names[i] = c.Name
	}
	return fmt.Sprintf("community %s has %d active children: %s", e.ID, len(e.Children), strings.Join(names, ", "))
}
func (e *ChildrenExistError) Conflict() {}
