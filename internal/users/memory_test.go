package users

import (
	"context"
	"errors"
	"testing"

	"github.com/campuskit/trustguard"
)

func TestMemoryCreateAndFind(t *testing.T) {
	m := NewMemory(School{ID: "s1", Abbr: "BU", Limited: true})
	ctx := context.Background()

	accountID, err := m.CreateAccount(ctx, trustguard.RegisterRequest{Identifier: "Bob@BU.edu", Name: "Bob", SchoolID: "s1"}, "hash")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := m.CreateAccount(ctx, trustguard.RegisterRequest{Identifier: "bob@bu.edu"}, "hash"); !errors.Is(err, trustguard.ErrAccountExists) {
		t.Fatalf("expected ErrAccountExists, got %v", err)
	}

	acc, err := m.FindAccountByIdentifier(ctx, " bob@bu.edu ")
	if err != nil || acc.ID != accountID || acc.PasswordHash != "hash" {
		t.Fatalf("find by identifier = %+v, %v", acc, err)
	}
	id, err := m.FindUserBySubject(ctx, accountID)
	if err != nil || id.SchoolAbbr != "BU" || !id.SchoolLimited || id.Name != "Bob" {
		t.Fatalf("find by subject = %+v, %v", id, err)
	}
}

func TestMemoryLinkSharesUser(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	first, err := m.CreateAccount(ctx, trustguard.RegisterRequest{Identifier: "a@x.edu"}, "h1")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	owner, _ := m.FindUserBySubject(ctx, first)

	second, err := m.Link(owner.UserID, "a@google", "h2")
	if err != nil {
		t.Fatalf("link: %v", err)
	}
	linked, _ := m.FindUserBySubject(ctx, second)
	if linked.UserID != owner.UserID || linked.AccountID == owner.AccountID {
		t.Fatalf("expected same user with new account, got %+v vs %+v", linked, owner)
	}
	if _, err := m.Link("nobody", "z@x.edu", "h"); !errors.Is(err, trustguard.ErrUserNotFound) {
		t.Fatalf("expected ErrUserNotFound, got %v", err)
	}
}
