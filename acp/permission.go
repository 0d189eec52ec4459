package acp

import (
	"context"
	"strings"
)

// PermissionPolicy answers session/request_permission requests from the
// agent. Policies choose among the options the agent offers.
type PermissionPolicy interface {
	RequestPermission(ctx context.Context, req RequestPermissionRequest) (*RequestPermissionResponse, error)
}

// ApproveAllPolicy selects the first allow option for every request.
type ApproveAllPolicy struct{}

func (ApproveAllPolicy) RequestPermission(_ context.Context, req RequestPermissionRequest) (*RequestPermissionResponse, error) {
	if opt, ok := findOption(req.Options, "allow"); ok {
		return selected(opt), nil
	}
	return cancelled(), nil
}

// ReadOnlyPolicy allows tool calls whose kind does not modify state and
// rejects everything else.
type ReadOnlyPolicy struct{}

var readOnlyKinds = map[string]bool{
	"read":   true,
	"search": true,
	"fetch":  true,
	"think":  true,
}

func (ReadOnlyPolicy) RequestPermission(_ context.Context, req RequestPermissionRequest) (*RequestPermissionResponse, error) {
	if readOnlyKinds[req.ToolCall.Kind] {
		if opt, ok := findOption(req.Options, "allow"); ok {
			return selected(opt), nil
		}
	}
	if opt, ok := findOption(req.Options, "reject"); ok {
		return selected(opt), nil
	}
	return cancelled(), nil
}

// findOption returns the first option whose kind starts with prefix.
func findOption(opts []PermissionOption, prefix string) (PermissionOption, bool) {
	for _, opt := range opts {
		if strings.HasPrefix(opt.Kind, prefix) {
			return opt, true
		}
	}
	return PermissionOption{}, false
}

func selected(opt PermissionOption) *RequestPermissionResponse {
	return &RequestPermissionResponse{
		Outcome: PermissionOutcome{Outcome: "selected", OptionID: opt.ID},
	}
}

func cancelled() *RequestPermissionResponse {
	return &RequestPermissionResponse{Outcome: PermissionOutcome{Outcome: "cancelled"}}
}
