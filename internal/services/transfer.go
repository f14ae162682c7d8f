package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"kidbank/internal/core"
	"kidbank/internal/ledger"
	"kidbank/internal/notify"
)

type transferOutcome struct {
	transferID      string
	amount          core.Money
	receiverBalance core.Money
}

// TransferExecutor moves money between two accounts of the active family.
type TransferExecutor struct {
	store      ledger.Transferer
	reconciler *Reconciler
	milestones *MilestoneDetector
	emitter    notify.Emitter
	post       *PostCommit
	now        func() time.Time
}

func NewTransferExecutor(store ledger.Transferer, reconciler *Reconciler, milestones *MilestoneDetector, emitter notify.Emitter, post *PostCommit) *TransferExecutor {
	return &TransferExecutor{
		store:      store,
		reconciler: reconciler,
		milestones: milestones,
		emitter:    emitter,
		post:       post,
		now:        time.Now,
	}
}

// Transfer validates the request against the published snapshot, commits it
// through the store as one unit and schedules the post-commit side effects.
// The returned error reflects the commit only.
func (e *TransferExecutor) Transfer(ctx context.Context, senderID, receiverID string, amount core.Money, description string) (ledger.TransferResult, error) {
	snap := e.reconciler.Snapshot()

	sender, ok := snap.Account(senderID)
	if !ok {
		return ledger.TransferResult{}, &core.ValidationError{Field: "sender_id", Err: core.ErrUnknownAccount}
	}
	receiver, ok := snap.Account(receiverID)
	if !ok {
		return ledger.TransferResult{}, &core.ValidationError{Field: "receiver_id", Err: core.ErrUnknownAccount}
	}
	if senderID == receiverID {
		return ledger.TransferResult{}, &core.ValidationError{Field: "receiver_id", Err: core.ErrSameAccount}
	}
	if err := amount.Validate(); err != nil {
		return ledger.TransferResult{}, &core.ValidationError{Field: "amount", Err: err}
	}
	if len(description) > 200 {
		return ledger.TransferResult{}, &core.ValidationError{Field: "description", Err: core.ErrDescriptionTooLong}
	}
	if sender.Balance.Less(amount) {
		return ledger.TransferResult{}, &core.ValidationError{Field: "amount", Err: core.ErrInsufficientBalance}
	}

	res, err := e.store.Transfer(ctx, ledger.TransferRequest{
		SenderID:    senderID,
		ReceiverID:  receiverID,
		Amount:      amount,
		Description: description,
		Date:        e.now(),
	})
	if err != nil {
		slog.ErrorContext(ctx, "Transfer failed",
			"sender_id", senderID,
			"receiver_id", receiverID,
			"amount_cents", amount.Cents,
			"error", err)
		return ledger.TransferResult{}, fmt.Errorf("transfer: %w", err)
	}

	e.post.Go(ctx, "transfer", func(ctx context.Context) error {
		return e.afterTransfer(ctx, sender, receiver, amount, res)
	})

	return res, nil
}

func (e *TransferExecutor) afterTransfer(ctx context.Context, sender, receiver core.Account, amount core.Money, res ledger.TransferResult) error {
	var errs []error

	if err := e.reconciler.Reload(ctx); err != nil {
		errs = append(errs, fmt.Errorf("reload: %w", err))
	}

	outcome := transferOutcome{transferID: res.TransferID, amount: amount, receiverBalance: res.ReceiverBalance}
	if err := e.emitter.Emit(ctx, transferNotification(sender, receiver, outcome)); err != nil {
		errs = append(errs, fmt.Errorf("notify receiver: %w", err))
	}

	if _, err := e.milestones.Check(ctx, sender, sender.Balance, res.SenderBalance); err != nil {
		errs = append(errs, fmt.Errorf("sender milestones: %w", err))
	}
	if _, err := e.milestones.Check(ctx, receiver, receiver.Balance, res.ReceiverBalance); err != nil {
		errs = append(errs, fmt.Errorf("receiver milestones: %w", err))
	}

	return errors.Join(errs...)
}
