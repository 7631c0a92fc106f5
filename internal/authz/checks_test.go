package authz

import (
	"testing"
	"time"

	"sysdispatch/internal/ruledb"
	"sysdispatch/internal/userinfo"
)

func TestDateHasExpired(t *testing.T) {
	now := time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC)
	tests := []struct {
		expiry string
		want   bool
	}{
		{"", false},
		{"2030", false},               // start of year 2030, not yet
		{"2020", true},                // start of year 2020, long past
		{"202606010000", false},       // exactly now
		{"202605010000", true},        // a month before now
	}
	for _, tt := range tests {
		if got := DateHasExpired(tt.expiry, now); got != tt.want {
			t.Errorf("DateHasExpired(%q) = %v, want %v", tt.expiry, got, tt.want)
		}
	}
}

func TestCheckUsersNoConstraintAllowsAnyone(t *testing.T) {
	r := &ruledb.Rule{}
	ud := &userinfo.Record{Name: "alice"}
	if err := CheckUsers(r, ud, time.Now()); err != nil {
		t.Errorf("CheckUsers = %v, want nil (no constraint)", err)
	}
}

func TestCheckUsersAcceptAndDeny(t *testing.T) {
	r := &ruledb.Rule{Params: []ruledb.Param{
		{Name: "users", Values: []string{"alice", "bob"}},
		{Name: "!users", Values: []string{"bob"}},
	}}
	now := time.Now()

	if err := CheckUsers(r, &userinfo.Record{Name: "alice"}, now); err != nil {
		t.Errorf("alice should be authorized: %v", err)
	}
	if err := CheckUsers(r, &userinfo.Record{Name: "bob"}, now); err == nil {
		t.Error("bob is denied explicitly, expected an error")
	}
	if err := CheckUsers(r, &userinfo.Record{Name: "carol"}, now); err == nil {
		t.Error("carol is not in the accept list, expected an error")
	}
}

func TestCheckUsersExpiredEntryDenies(t *testing.T) {
	r := &ruledb.Rule{Params: []ruledb.Param{
		{Name: "users", Values: []string{"alice/2020"}},
	}}
	if err := CheckUsers(r, &userinfo.Record{Name: "alice"}, time.Now()); err == nil {
		t.Error("expected an expired grant to deny access")
	}
}

func TestCheckUsersHostConstraint(t *testing.T) {
	r := &ruledb.Rule{Params: []ruledb.Param{
		{Name: "users", Values: []string{"alice@web1"}},
	}}
	now := time.Now()
	if err := CheckUsers(r, &userinfo.Record{Name: "alice", Hostname: "web1"}, now); err != nil {
		t.Errorf("matching host should be authorized: %v", err)
	}
	if err := CheckUsers(r, &userinfo.Record{Name: "alice", Hostname: "web2"}, now); err == nil {
		t.Error("mismatched host should be denied")
	}
}

func TestCheckGroupsMatchesAnyMembership(t *testing.T) {
	r := &ruledb.Rule{Params: []ruledb.Param{
		{Name: "groups", Values: []string{"wheel"}},
	}}
	now := time.Now()
	if err := CheckGroups(r, &userinfo.Record{Groups: []string{"users", "wheel"}}, now); err != nil {
		t.Errorf("wheel member should be authorized: %v", err)
	}
	if err := CheckGroups(r, &userinfo.Record{Groups: []string{"users"}}, now); err == nil {
		t.Error("non-member should be denied")
	}
}

func TestHasUsersGroupsNetgroupsParam(t *testing.T) {
	if (&ruledb.Rule{}).HasParam("users") {
		t.Fatal("sanity check: empty rule should have no params")
	}
	withUsers := &ruledb.Rule{Params: []ruledb.Param{{Name: "users", Values: []string{"alice"}}}}
	if !HasUsersGroupsNetgroupsParam(withUsers) {
		t.Error("expected true when users is set")
	}
	withDenyGroups := &ruledb.Rule{Params: []ruledb.Param{{Name: "!groups", Values: []string{"guests"}}}}
	if !HasUsersGroupsNetgroupsParam(withDenyGroups) {
		t.Error("expected true when !groups is set")
	}
	without := &ruledb.Rule{Params: []ruledb.Param{{Name: "paths", Values: []string{"/bin"}}}}
	if HasUsersGroupsNetgroupsParam(without) {
		t.Error("expected false when none of users/groups/netgroups is set")
	}
}

func TestCheckPathsAcceptAndDeny(t *testing.T) {
	r := &ruledb.Rule{Params: []ruledb.Param{
		{Name: "paths", Values: []string{"/usr/bin/*"}},
	}}
	if _, err := CheckPaths(r, "/usr/bin/tar"); err != nil {
		t.Errorf("matching glob should be accepted: %v", err)
	}
	if _, err := CheckPaths(r, "/opt/tar"); err == nil {
		t.Error("non-matching path should be denied")
	}
}

func TestCheckPathsDenyOverridesAccept(t *testing.T) {
	r := &ruledb.Rule{Params: []ruledb.Param{
		{Name: "paths", Values: []string{"/usr/bin/*"}},
		{Name: "!paths", Values: []string{"/usr/bin/rm"}},
	}}
	if _, err := CheckPaths(r, "/usr/bin/rm"); err == nil {
		t.Error("deny should override a matching accept entry")
	}
}

func TestCheckPathsNoConstraintPassesThrough(t *testing.T) {
	r := &ruledb.Rule{}
	got, err := CheckPaths(r, "/anything/at/all")
	if err != nil {
		t.Fatalf("CheckPaths: %v", err)
	}
	if got != "/anything/at/all" {
		t.Errorf("got %q, want passthrough of the input path", got)
	}
}

func TestOrderedRejectsInvalidAndDisabled(t *testing.T) {
	ud := &userinfo.Record{Name: "alice"}
	now := time.Now()

	invalid := &ruledb.Rule{Invalid: true, InvalidErr: "boom"}
	if _, err := Ordered(invalid, ud, "/bin/x", now); err == nil {
		t.Error("expected invalid rule to be rejected")
	}

	disabled := &ruledb.Rule{Params: []ruledb.Param{{Name: "disabled", Values: []string{"retired"}}}}
	if _, err := Ordered(disabled, ud, "/bin/x", now); err == nil {
		t.Error("expected disabled rule to be rejected")
	}
}

func TestOrderedAppliesChecksInSequence(t *testing.T) {
	r := &ruledb.Rule{Params: []ruledb.Param{
		{Name: "users", Values: []string{"alice"}},
	}}
	ud := &userinfo.Record{Name: "alice"}
	path, err := Ordered(r, ud, "/bin/x", time.Now())
	if err != nil {
		t.Fatalf("Ordered: %v", err)
	}
	if path != "/bin/x" {
		t.Errorf("resolvedPath = %q", path)
	}

	other := &userinfo.Record{Name: "mallory"}
	if _, err := Ordered(r, other, "/bin/x", time.Now()); err == nil {
		t.Error("expected the users check to deny mallory")
	}
}
