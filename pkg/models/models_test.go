package models

import (
	"fmt"
	"testing"
)

func TestVideoStatusValid(t *testing.T) {
	valid := []VideoStatus{
		VideoStatusUploading,
		VideoStatusProcessing,
		VideoStatusSafe,
		VideoStatusFlagged,
		VideoStatusError,
	}

	for _, status := range valid {
		if !status.Valid() {
			t.Errorf("Status %q should be valid", status)
		}
	}

	if VideoStatus("pending").Valid() {
		t.Error("Unknown status should not be valid")
	}
	if VideoStatus("").Valid() {
		t.Error("Empty status should not be valid")
	}
}

func TestVideoStatusTerminal(t *testing.T) {
	tests := []struct {
		status   VideoStatus
		terminal bool
	}{
		{VideoStatusUploading, false},
		{VideoStatusProcessing, false},
		{VideoStatusSafe, true},
		{VideoStatusFlagged, true},
		{VideoStatusError, true},
	}

	for _, tt := range tests {
		if got := tt.status.Terminal(); got != tt.terminal {
			t.Errorf("Status %q: expected terminal=%v, got %v", tt.status, tt.terminal, got)
		}
	}
}

func TestRoleCapabilities(t *testing.T) {
	tests := []struct {
		role       Role
		capability Capability
		allowed    bool
	}{
		{RoleViewer, CapabilityRead, true},
		{RoleViewer, CapabilitySubscribe, true},
		{RoleViewer, CapabilityUpload, false},
		{RoleViewer, CapabilityDelete, false},
		{RoleEditor, CapabilityUpload, true},
		{RoleEditor, CapabilityEdit, true},
		{RoleEditor, CapabilityDelete, true},
		{RoleEditor, CapabilityAdmin, false},
		{RoleAdmin, CapabilityAdmin, true},
		{RoleAdmin, CapabilityUpload, true},
	}

	for _, tt := range tests {
		t.Run(fmt.Sprintf("%s_%s", tt.role, tt.capability), func(t *testing.T) {
			if got := tt.role.Can(tt.capability); got != tt.allowed {
				t.Errorf("Role %q capability %q: expected %v, got %v", tt.role, tt.capability, tt.allowed, got)
			}
		})
	}
}

func TestRoleValid(t *testing.T) {
	for _, role := range []Role{RoleViewer, RoleEditor, RoleAdmin} {
		if !role.Valid() {
			t.Errorf("Role %q should be valid", role)
		}
	}

	if Role("superuser").Valid() {
		t.Error("Unknown role should not be valid")
	}
}

func TestErrorHelpers(t *testing.T) {
	validation := &ValidationError{Field: "size_bytes", Reason: "must be positive"}
	notFound := &NotFoundError{VideoID: "v1"}
	conflict := &OrderingConflictError{VideoID: "v1", From: VideoStatusSafe, Event: "upload-complete"}
	transient := &TransientInfraError{Op: "queue publish", Err: fmt.Errorf("connection refused")}
	permanent := &PermanentMediaError{Reason: "corrupt container"}

	if !IsValidation(validation) || IsValidation(notFound) {
		t.Error("IsValidation misclassified")
	}
	if !IsNotFound(notFound) || IsNotFound(validation) {
		t.Error("IsNotFound misclassified")
	}
	if !IsOrderingConflict(conflict) || IsOrderingConflict(transient) {
		t.Error("IsOrderingConflict misclassified")
	}
	if !IsTransient(transient) || IsTransient(permanent) {
		t.Error("IsTransient misclassified")
	}
	if !IsPermanentMedia(permanent) || IsPermanentMedia(transient) {
		t.Error("IsPermanentMedia misclassified")
	}
}

func TestErrorHelpersWrapped(t *testing.T) {
	inner := &TransientInfraError{Op: "chunk write", Err: fmt.Errorf("timeout")}
	wrapped := fmt.Errorf("putting chunk: %w", inner)

	if !IsTransient(wrapped) {
		t.Error("IsTransient should see through wrapping")
	}
	if IsPermanentMedia(wrapped) {
		t.Error("IsPermanentMedia should not match a wrapped transient error")
	}
}

func TestOrderingConflictErrorMessage(t *testing.T) {
	err := &OrderingConflictError{VideoID: "v1", From: VideoStatusSafe, Event: "classifier-verdict-flagged"}

	msg := err.Error()
	if msg == "" {
		t.Fatal("Error message should not be empty")
	}
}
