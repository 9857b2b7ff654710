package shared

import (
	"context"
	"fmt"
)

// Authorizer answers permission checks for an explicit actor. The settlement
// core never resolves the current actor ambiently; callers pass identity in.
type Authorizer interface {
	Allowed(ctx context.Context, actorID int64, permission string) (bool, error)
}

// Restrict fails with ErrNotAllowed unless the actor holds the permission.
func Restrict(ctx context.Context, authz Authorizer, actorID int64, permission string) error {
	if authz == nil {
		return nil
	}
	ok, err := authz.Allowed(ctx, actorID, permission)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%w: missing permission %s", ErrNotAllowed, permission)
	}
	return nil
}

// AllowAll is an Authorizer that grants everything. Used in tests and
// single-operator deployments.
type AllowAll struct{}

// Allowed implements Authorizer.
func (AllowAll) Allowed(context.Context, int64, string) (bool, error) { return true, nil }
