package services

import (
	"context"
	"errors"
	"strings"

	"github.com/ezzatsd/CynaApp/internal/repositories"
)

const invalidAddressMessage = "billing address not found or not owned by the caller"

type addressGuard struct {
	addresses repositories.AddressRepository
}

// NewAddressGuard builds the ownership check used before an order is written.
func NewAddressGuard(addresses repositories.AddressRepository) (AddressOwnershipChecker, error) {
	if addresses == nil {
		return nil, errors.New("address guard: address repository is required")
	}
	return &addressGuard{addresses: addresses}, nil
}

// Check returns the address when it exists and belongs to userID. A missing address and
// someone else's address produce the same error.
func (g *addressGuard) Check(ctx context.Context, userID, addressID string) (Address, error) {
	userID = strings.TrimSpace(userID)
	addressID = strings.TrimSpace(addressID)
	if userID == "" {
		return Address{}, validationError("user id is required")
	}
	if addressID == "" {
		return Address{}, validationError("billingAddressId is required")
	}

	addr, err := g.addresses.FindByID(ctx, addressID)
	if err != nil {
		var repoErr repositories.RepositoryError
		if errors.As(err, &repoErr) && repoErr.IsNotFound() {
			return Address{}, newError(KindInvalidAddress, invalidAddressMessage, nil, nil)
		}
		return Address{}, internalError("load address", err)
	}
	if addr.UserID != userID {
		return Address{}, newError(KindInvalidAddress, invalidAddressMessage, nil, nil)
	}
	return addr, nil
}
