package rbac

import "testing"

func TestCan(t *testing.T) {
	cases := []struct {
		name   string
		role   Role
		action Action
		allow  bool
	}{
		{name: "viewer read", role: RoleViewer, action: ActionRead, allow: true},
		{name: "viewer write", role: RoleViewer, action: ActionWrite, allow: false},
		{name: "editor write", role: RoleEditor, action: ActionWrite, allow: true},
		{name: "editor admin", role: RoleEditor, action: ActionAdmin, allow: false},
		{name: "admin admin", role: RoleAdmin, action: ActionAdmin, allow: true},
		{name: "unknown read", role: Role("guest"), action: ActionRead, allow: false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := Can(tc.role, tc.action); got != tc.allow {
				t.Fatalf("Can(%q, %q) = %v, want %v", tc.role, tc.action, got, tc.allow)
			}
		})
	}
}

func TestNormalizeAndHigher(t *testing.T) {
	if got := Normalize("commenter"); got != RoleViewer {
		t.Fatalf("Normalize(commenter) = %q", got)
	}
	if got := Normalize("admin"); got != RoleAdmin {
		t.Fatalf("Normalize(admin) = %q", got)
	}
	if got := Higher(RoleViewer, RoleEditor); got != RoleEditor {
		t.Fatalf("Higher(viewer, editor) = %q", got)
	}
	if got := Higher(RoleAdmin, Role("")); got != RoleAdmin {
		t.Fatalf("Higher(admin, \"\") = %q", got)
	}
}
