package auth

import "testing"

func TestParseRole(t *testing.T) {
	for _, valid := range []string{"view", "comment", "edit"} {
		if _, err := ParseRole(valid); err != nil {
			t.Errorf("ParseRole(%q) returned error: %v", valid, err)
		}
	}
	for _, invalid := range []string{"", "admin", "owner", "EDIT"} {
		if _, err := ParseRole(invalid); err == nil {
			t.Errorf("ParseRole(%q) should have failed", invalid)
		}
	}
}

func TestIsOpAllowed(t *testing.T) {
	tests := []struct {
		name       string
		role       Role
		opType     string
		objectType string
		want       bool
	}{
		{"edit can create", RoleEdit, "createObject", "sticky", true},
		{"edit can restore checkpoint", RoleEdit, "checkpointRestore", "", true},
		{"edit can undo", RoleEdit, "undo", "", true},
		{"view cannot create", RoleView, "createObject", "sticky", false},
		{"view cannot create comment", RoleView, "createObject", "comment", false},
		{"view cannot undo", RoleView, "undo", "", false},
		{"comment can create comment", RoleComment, "createObject", "comment", true},
		{"comment can update comment", RoleComment, "updateObject", "comment", true},
		{"comment can delete comment", RoleComment, "deleteObject", "comment", true},
		{"comment cannot create sticky", RoleComment, "createObject", "sticky", false},
		{"comment cannot update unknown target", RoleComment, "updateObject", "", false},
		{"comment cannot create checkpoint", RoleComment, "checkpointCreate", "", false},
		{"comment cannot convert ink", RoleComment, "convertInkToText", "", false},
		{"unknown role denied", Role("admin"), "createObject", "comment", false},
	}

	for _, tt := range tests {
		if got := IsOpAllowed(tt.role, tt.opType, tt.objectType); got != tt.want {
			t.Errorf("%s: IsOpAllowed(%q, %q, %q) = %v, want %v",
				tt.name, tt.role, tt.opType, tt.objectType, got, tt.want)
		}
	}
}

func TestPresenceAndHybridGates(t *testing.T) {
	if CanSendPresence(RoleView) {
		t.Error("view role must not send presence")
	}
	if !CanSendPresence(RoleComment) || !CanSendPresence(RoleEdit) {
		t.Error("comment and edit roles must send presence")
	}
	if CanSendHybrid(RoleView) || CanSendHybrid(RoleComment) {
		t.Error("only edit role may send hybrid updates")
	}
	if !CanSendHybrid(RoleEdit) {
		t.Error("edit role must send hybrid updates")
	}
}
