package suppression

import "context"

// Repository defines the data access contract for subscription state.
type Repository interface {
	// SetSubscribed stores the contact's subscription flag. Returns an
	// error wrapping sending.ErrContactNotFound if the contact is absent.
	SetSubscribed(ctx context.Context, contactID string, subscribed bool) error
}
