package services

import (
	"context"
	"errors"
	"fmt"

	"game-reward-ledger/ledger"
	"game-reward-ledger/models"
)

// relabel rewrites the operation name on a ledger error raised by the store
// so callers see the service operation that failed.
func relabel(op string, err error) error {
	var le *ledger.Error
	if errors.As(err, &le) {
		cp := *le
		cp.Op = op
		return &cp
	}
	return err
}

func authorize(ctx context.Context, ac AccessControl, op string, id models.SessionID, actor, capability string) error {
	ok, err := ac.HasCapability(ctx, actor, capability)
	if err != nil {
		return ledger.NewError(op, id, ledger.ErrUnauthorized, err)
	}
	if !ok {
		return ledger.NewError(op, id, ledger.ErrUnauthorized, fmt.Errorf("%q lacks %s", actor, capability))
	}
	return nil
}
