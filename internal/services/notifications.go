package services

import (
	"fmt"
	"strconv"

	"kidbank/internal/core"
	"kidbank/internal/notify"
)

func allowanceNotification(account core.Account, credited, balance core.Money, periods int) notify.Notification {
	return notify.Notification{
		Type:      notify.AllowanceReceived,
		Title:     "Allowance received",
		Message:   fmt.Sprintf("%s received %s in allowance. New balance: %s", account.Name, credited, balance),
		AccountID: account.ID,
		Data: map[string]string{
			"amount":  credited.String(),
			"balance": balance.String(),
			"periods": strconv.Itoa(periods),
		},
	}
}

func transferNotification(sender, receiver core.Account, res transferOutcome) notify.Notification {
	return notify.Notification{
		Type:      notify.TransferReceived,
		Title:     "Money received",
		Message:   fmt.Sprintf("%s sent %s to %s. New balance: %s", sender.Name, res.amount, receiver.Name, res.receiverBalance),
		AccountID: receiver.ID,
		Data: map[string]string{
			"transfer_id": res.transferID,
			"from":        sender.ID,
			"amount":      res.amount.String(),
			"balance":     res.receiverBalance.String(),
		},
	}
}

func mutationNotification(typ notify.Type, account core.Account, tx core.Transaction, balance core.Money) notify.Notification {
	var title, verb string
	switch typ {
	case notify.TransactionUpdated:
		title, verb = "Transaction updated", "updated"
	case notify.TransactionDeleted:
		title, verb = "Transaction removed", "removed"
	default:
		title, verb = "New transaction", "added"
		if tx.Type == core.Subtract {
			title = "Money spent"
		}
	}

	msg := fmt.Sprintf("%s %s (%s). Balance: %s", tx.Description, verb, tx.Signed(), balance)
	if snippet := goalProgress(account, balance); snippet != "" {
		msg += ". " + snippet
	}

	return notify.Notification{
		Type:      typ,
		Title:     title,
		Message:   msg,
		AccountID: account.ID,
		Data: map[string]string{
			"transaction_id": tx.ID,
			"balance":        balance.String(),
		},
	}
}

func milestoneNotification(account core.Account, threshold int, balance core.Money) notify.Notification {
	goal := account.SavingsGoal
	title := "Savings milestone!"
	msg := fmt.Sprintf("%s is %d%% of the way to %s", account.Name, threshold, goal.Name)
	if threshold >= 100 {
		title = "Savings goal reached!"
		msg = fmt.Sprintf("%s saved %s and reached the goal %s", account.Name, goal.TargetAmount, goal.Name)
	}
	return notify.Notification{
		Type:      notify.SavingsMilestone,
		Title:     title,
		Message:   msg,
		AccountID: account.ID,
		Data: map[string]string{
			"threshold": strconv.Itoa(threshold),
			"goal":      goal.Name,
			"target":    goal.TargetAmount.String(),
			"balance":   balance.String(),
		},
	}
}

// goalProgress renders "42% of Bike" for accounts with a savings goal.
func goalProgress(account core.Account, balance core.Money) string {
	if account.SavingsGoal == nil {
		return ""
	}
	pct := balance.Percent(account.SavingsGoal.TargetAmount).Floor()
	return fmt.Sprintf("%s%% of %s", pct.String(), account.SavingsGoal.Name)
}
