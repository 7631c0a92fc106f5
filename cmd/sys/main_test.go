package main

import (
	"testing"

	"sysdispatch/internal/authz"
	"sysdispatch/internal/ruledb"
	"sysdispatch/internal/userinfo"
)

func TestParamValuesReturnsMatchingParam(t *testing.T) {
	r := &ruledb.Rule{Params: []ruledb.Param{
		{Name: "paths", Values: []string{"/usr/bin/*", "/bin/*"}},
	}}
	got := paramValues(r, "paths")
	want := []string{"/usr/bin/*", "/bin/*"}
	if len(got) != len(want) {
		t.Fatalf("paramValues = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("paramValues[%d] = %q, want %q", i, got[i], want[i])
		}
	}
}

func TestParamValuesMissingReturnsNil(t *testing.T) {
	r := &ruledb.Rule{}
	if got := paramValues(r, "paths"); got != nil {
		t.Errorf("paramValues = %v, want nil", got)
	}
}

func TestNeedsPassword(t *testing.T) {
	withPassword := &ruledb.Rule{Params: []ruledb.Param{{Name: "password", Values: nil}}}
	if !needsPassword(withPassword) {
		t.Error("expected true when the rule has a password param")
	}
	without := &ruledb.Rule{}
	if needsPassword(without) {
		t.Error("expected false when the rule has no password param")
	}
}

func TestFriendlyDenialUsesDenialMessage(t *testing.T) {
	err := &authz.Denial{Check: "users", Message: "alice is not authorized for this tag"}
	if got := friendlyDenial(err); got != "alice is not authorized for this tag" {
		t.Errorf("friendlyDenial = %q, want the Denial's Message field verbatim", got)
	}
}

func TestFriendlyDenialFallsBackForOtherErrors(t *testing.T) {
	err := ruledb.ErrUnknownTag
	if got := friendlyDenial(err); got != "not authorized" {
		t.Errorf("friendlyDenial = %q, want the generic fallback", got)
	}
}

func TestResolveTargetIdentityDefaultsToInvoker(t *testing.T) {
	ud, err := userinfo.Current()
	if err != nil {
		t.Skipf("userinfo.Current unavailable: %v", err)
	}
	r := &ruledb.Rule{}
	targetUser, targetGroup, err := resolveTargetIdentity(r, ud, "", "")
	if err != nil {
		t.Fatalf("resolveTargetIdentity: %v", err)
	}
	if targetUser.Username != ud.Name {
		t.Errorf("targetUser = %q, want the invoker %q", targetUser.Username, ud.Name)
	}
	if targetGroup != nil {
		t.Error("expected no target group when -g was not requested")
	}
}

func TestResolveTargetIdentityRequestedUserMustPassUsersCheck(t *testing.T) {
	ud := &userinfo.Record{Name: "alice"}
	r := &ruledb.Rule{Params: []ruledb.Param{
		{Name: "users", Values: []string{"alice"}},
	}}
	if _, _, err := resolveTargetIdentity(r, ud, "root", ""); err == nil {
		t.Error("expected a -u request for an identity outside the rule's users list to be denied")
	}
}
