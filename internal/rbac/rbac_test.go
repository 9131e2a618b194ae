package rbac

import "testing"

func TestCan(t *testing.T) {
	cases := []struct {
		name   string
		role   Role
		action Action
		allow  bool
	}{
		{name: "guest read", role: RoleGuest, action: ActionRead, allow: true},
		{name: "guest comment", role: RoleGuest, action: ActionComment, allow: true},
		{name: "guest write", role: RoleGuest, action: ActionWrite, allow: false},
		{name: "member write", role: RoleMember, action: ActionWrite, allow: true},
		{name: "member manage", role: RoleMember, action: ActionManage, allow: false},
		{name: "owner manage", role: RoleOwner, action: ActionManage, allow: true},
		{name: "non-member read", role: Role(""), action: ActionRead, allow: false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := Can(tc.role, tc.action); got != tc.allow {
				t.Fatalf("Can(%q, %q) = %v, want %v", tc.role, tc.action, got, tc.allow)
			}
		})
	}
}

func TestNormalize(t *testing.T) {
	if Normalize("owner") != RoleOwner {
		t.Fatal("owner should survive normalization")
	}
	if Normalize("superuser") != RoleGuest {
		t.Fatal("unknown roles default to guest")
	}
}
