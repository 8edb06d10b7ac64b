package redis

import (
	"testing"

	"github.com/xraph/accord/id"
)

func TestKeyLayout(t *testing.T) {
	s := New(nil)
	if got, want := s.hardStateKey("n1"), "accord:hardstate:n1"; got != want {
		t.Errorf("hardStateKey = %q, want %q", got, want)
	}
	if got, want := s.memberKey("n1"), "accord:member:n1"; got != want {
		t.Errorf("memberKey = %q, want %q", got, want)
	}
	if got, want := s.memberIDsKey(), "accord:member_ids"; got != want {
		t.Errorf("memberIDsKey = %q, want %q", got, want)
	}
}

func TestWithClusterScopesKeys(t *testing.T) {
	cluster := id.NewClusterID()
	s := New(nil, WithCluster(cluster))

	prefix := "accord:" + cluster.String() + ":"
	if got, want := s.hardStateKey("n1"), prefix+"hardstate:n1"; got != want {
		t.Errorf("hardStateKey = %q, want %q", got, want)
	}
	if got, want := s.memberIDsKey(), prefix+"member_ids"; got != want {
		t.Errorf("memberIDsKey = %q, want %q", got, want)
	}
}
