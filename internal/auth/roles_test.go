package auth

import "testing"

func TestRoleOrder(t *testing.T) {
	if !RoleSuperadmin.AtLeast(RoleAdmin) || !RoleAdmin.AtLeast(RoleUser) {
		t.Fatalf("role order broken")
	}
	if RoleUser.AtLeast(RoleAdmin) {
		t.Fatalf("user must not satisfy admin minimum")
	}
	// Monotonicity: any role satisfies its own rank and everything below.
	ordered := []Role{RoleUser, RoleAdmin, RoleSuperadmin}
	for i, higher := range ordered {
		for j, lower := range ordered {
			got := higher.AtLeast(lower)
			want := i >= j
			if got != want {
				t.Fatalf("%s.AtLeast(%s) = %v, want %v", higher, lower, got, want)
			}
		}
	}
}

func TestParseRole(t *testing.T) {
	if r, ok := ParseRole("  Admin "); !ok || r != RoleAdmin {
		t.Fatalf("ParseRole failed to normalize: %q %v", r, ok)
	}
	if _, ok := ParseRole("root"); ok {
		t.Fatalf("unknown role accepted")
	}
	if Role("root").Rank() != -1 {
		t.Fatalf("unknown role must rank below everything")
	}
	if Role("root").AtLeast(RoleUser) {
		t.Fatalf("unknown role must not satisfy any minimum")
	}
}

func TestElevated(t *testing.T) {
	if RoleUser.Elevated() {
		t.Fatalf("user is not elevated")
	}
	if !RoleAdmin.Elevated() || !RoleSuperadmin.Elevated() {
		t.Fatalf("admin roles are elevated")
	}
}
