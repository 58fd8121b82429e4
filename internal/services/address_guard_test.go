package services

import (
	"context"
	"errors"
	"testing"

	"github.com/ezzatsd/CynaApp/internal/domain"
)

func TestAddressGuardCheck(t *testing.T) {
	repo := &stubAddressRepo{addresses: map[string]domain.Address{
		"addr-1": {ID: "addr-1", UserID: "user-1"},
		"addr-2": {ID: "addr-2", UserID: "user-2"},
	}}
	guard, err := NewAddressGuard(repo)
	if err != nil {
		t.Fatalf("NewAddressGuard: %v", err)
	}

	addr, err := guard.Check(context.Background(), "user-1", " addr-1 ")
	if err != nil {
		t.Fatalf("Check: %v", err)
	}
	if addr.ID != "addr-1" {
		t.Fatalf("unexpected address %+v", addr)
	}

	_, foreignErr := guard.Check(context.Background(), "user-1", "addr-2")
	_, missingErr := guard.Check(context.Background(), "user-1", "addr-9")
	if !errors.Is(foreignErr, ErrInvalidAddress) || !errors.Is(missingErr, ErrInvalidAddress) {
		t.Fatalf("expected ErrInvalidAddress, got %v / %v", foreignErr, missingErr)
	}
	if foreignErr.Error() != missingErr.Error() {
		t.Fatalf("foreign and missing addresses must be indistinguishable: %q vs %q", foreignErr, missingErr)
	}

	if _, err := guard.Check(context.Background(), "user-1", ""); !errors.Is(err, ErrValidation) {
		t.Fatalf("expected ErrValidation for blank id, got %v", err)
	}
}

func TestAddressGuardRepositoryFailure(t *testing.T) {
	guard, err := NewAddressGuard(&stubAddressRepo{err: stubRepoError{}})
	if err != nil {
		t.Fatalf("NewAddressGuard: %v", err)
	}
	if _, err := guard.Check(context.Background(), "user-1", "addr-1"); !errors.Is(err, ErrInternal) {
		t.Fatalf("expected ErrInternal, got %v", err)
	}
}
