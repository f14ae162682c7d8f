package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"kidbank/internal/core"
	"kidbank/internal/ledger"
	"kidbank/internal/realtime"

	_ "modernc.org/sqlite"
)

var _ ledger.Store = (*SQLiteRepository)(nil)

// Timestamps are stored as fixed-width UTC text so they sort lexically.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

const accountColumns = `id, family_id, name, avatar, balance_cents, allowance_cents,
	allowance_frequency, last_allowance_date, goal_name, goal_target_cents, created_at`

const transactionColumns = `id, account_id, type, amount_cents, description, category, date, transfer_id`

type SQLiteRepository struct {
	db  *sql.DB
	pub realtime.Publisher
	now func() time.Time
}

type rowScanner interface {
	Scan(dest ...any) error
}

func NewSQLiteRepository(dbPath string) (*SQLiteRepository, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	dsn := "file:" + dbPath + "?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)"

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}
	// SQLite allows one writer; a single connection serializes units of work.
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	if err := RunMigrations(dsn); err != nil {
		db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return &SQLiteRepository{db: db, now: time.Now}, nil
}

// WithPublisher makes the repository announce committed changes.
func (r *SQLiteRepository) WithPublisher(pub realtime.Publisher) *SQLiteRepository {
	r.pub = pub
	return r
}

func (r *SQLiteRepository) Close() error {
	if r.db != nil {
		return r.db.Close()
	}
	return nil
}

func (r *SQLiteRepository) ListAccounts(ctx context.Context, familyID string) ([]core.Account, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+accountColumns+` FROM accounts WHERE family_id = ? ORDER BY created_at, name`, familyID)
	if err != nil {
		return nil, storeErr("list accounts", err)
	}
	defer rows.Close()

	var out []core.Account
	for rows.Next() {
		a, err := scanAccount(rows)
		if err != nil {
			return nil, storeErr("scan account", err)
		}
		out = append(out, a)
	}
	if err := rows.Err(); err != nil {
		return nil, storeErr("list accounts", err)
	}
	return out, nil
}

func (r *SQLiteRepository) GetAccount(ctx context.Context, accountID string) (core.Account, error) {
	a, err := scanAccount(r.db.QueryRowContext(ctx,
		`SELECT `+accountColumns+` FROM accounts WHERE id = ?`, accountID))
	if err != nil {
		return core.Account{}, storeErr("get account", err)
	}
	return a, nil
}

func (r *SQLiteRepository) ListTransactions(ctx context.Context, accountIDs []string) ([]core.Transaction, error) {
	if len(accountIDs) == 0 {
		return nil, nil
	}

	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(accountIDs)), ",")
	args := make([]any, len(accountIDs))
	for i, id := range accountIDs {
		args[i] = id
	}

	rows, err := r.db.QueryContext(ctx,
		`SELECT `+transactionColumns+` FROM transactions
		WHERE account_id IN (`+placeholders+`)
		ORDER BY date DESC, rowid DESC`, args...)
	if err != nil {
		return nil, storeErr("list transactions", err)
	}
	defer rows.Close()

	var out []core.Transaction
	for rows.Next() {
		tx, err := scanTransaction(rows)
		if err != nil {
			return nil, storeErr("scan transaction", err)
		}
		out = append(out, tx)
	}
	if err := rows.Err(); err != nil {
		return nil, storeErr("list transactions", err)
	}
	return out, nil
}

func (r *SQLiteRepository) GetTransaction(ctx context.Context, txID string) (core.Transaction, error) {
	tx, err := scanTransaction(r.db.QueryRowContext(ctx,
		`SELECT `+transactionColumns+` FROM transactions WHERE id = ?`, txID))
	if err != nil {
		return core.Transaction{}, storeErr("get transaction", err)
	}
	return tx, nil
}

func (r *SQLiteRepository) InsertTransaction(ctx context.Context, t core.Transaction) (core.Money, error) {
	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	if t.Date.IsZero() {
		t.Date = r.now()
	}

	var balance core.Money
	var familyID string
	err := r.inTx(ctx, func(tx *sql.Tx) error {
		if err := insertTransaction(ctx, tx, t); err != nil {
			return err
		}
		return tx.QueryRowContext(ctx,
			`UPDATE accounts SET balance_cents = balance_cents + ? WHERE id = ?
			RETURNING balance_cents, family_id`,
			t.Signed().Cents, t.AccountID).Scan(&balance.Cents, &familyID)
	})
	if err != nil {
		return core.Money{}, storeErr("insert transaction", err)
	}

	slog.InfoContext(ctx, "Transaction saved to SQLite",
		"id", t.ID,
		"account_id", t.AccountID,
		"type", t.Type,
		"amount_cents", t.Amount.Cents)

	r.publish(ctx, familyID, realtime.TableTransactions, realtime.OpInsert, t.ID)
	r.publish(ctx, familyID, realtime.TableAccounts, realtime.OpUpdate, t.AccountID)
	return balance, nil
}

func (r *SQLiteRepository) UpdateTransaction(ctx context.Context, txID string, patch ledger.TransactionPatch) (core.Transaction, error) {
	res, err := r.db.ExecContext(ctx,
		`UPDATE transactions SET amount_cents = ?, description = ?, category = ? WHERE id = ?`,
		patch.Amount.Cents, patch.Description, string(patch.Category), txID)
	if err != nil {
		return core.Transaction{}, storeErr("update transaction", err)
	}
	if err := expectRow(res); err != nil {
		return core.Transaction{}, storeErr("update transaction", err)
	}

	updated, err := r.GetTransaction(ctx, txID)
	if err != nil {
		return core.Transaction{}, err
	}
	r.publish(ctx, r.familyOf(ctx, updated.AccountID), realtime.TableTransactions, realtime.OpUpdate, txID)
	return updated, nil
}

func (r *SQLiteRepository) DeleteTransaction(ctx context.Context, txID string) (core.Transaction, error) {
	var deleted core.Transaction
	err := r.inTx(ctx, func(tx *sql.Tx) error {
		var err error
		deleted, err = scanTransaction(tx.QueryRowContext(ctx,
			`SELECT `+transactionColumns+` FROM transactions WHERE id = ?`, txID))
		if err != nil {
			return err
		}
		_, err = tx.ExecContext(ctx, `DELETE FROM transactions WHERE id = ?`, txID)
		return err
	})
	if err != nil {
		return core.Transaction{}, storeErr("delete transaction", err)
	}

	r.publish(ctx, r.familyOf(ctx, deleted.AccountID), realtime.TableTransactions, realtime.OpDelete, txID)
	return deleted, nil
}

func (r *SQLiteRepository) SetBalance(ctx context.Context, accountID string, balance core.Money) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE accounts SET balance_cents = ? WHERE id = ?`, balance.Cents, accountID)
	if err != nil {
		return storeErr("set balance", err)
	}
	if err := expectRow(res); err != nil {
		return storeErr("set balance", err)
	}
	r.publish(ctx, r.familyOf(ctx, accountID), realtime.TableAccounts, realtime.OpUpdate, accountID)
	return nil
}

// RecomputeBalance re-sums the ledger inside the UPDATE, so a write committed
// concurrently is either fully counted or not yet visible.
func (r *SQLiteRepository) RecomputeBalance(ctx context.Context, accountID string) (core.Money, error) {
	var balance core.Money
	var familyID string
	err := r.db.QueryRowContext(ctx,
		`UPDATE accounts SET balance_cents = (
			SELECT COALESCE(SUM(CASE WHEN type = 'subtract' THEN -amount_cents ELSE amount_cents END), 0)
			FROM transactions WHERE account_id = accounts.id)
		WHERE id = ?
		RETURNING balance_cents, family_id`, accountID).Scan(&balance.Cents, &familyID)
	if err != nil {
		return core.Money{}, storeErr("recompute balance", err)
	}
	r.publish(ctx, familyID, realtime.TableAccounts, realtime.OpUpdate, accountID)
	return balance, nil
}

func (r *SQLiteRepository) CreateAccount(ctx context.Context, a core.Account) (core.Account, error) {
	if err := a.Validate(); err != nil {
		return core.Account{}, err
	}
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	if a.CreatedAt.IsZero() {
		a.CreatedAt = r.now()
	}
	a.Balance = core.Money{}
	a.Transactions = nil

	var goalName sql.NullString
	var goalTarget sql.NullInt64
	if a.SavingsGoal != nil {
		goalName = sql.NullString{String: a.SavingsGoal.Name, Valid: true}
		goalTarget = sql.NullInt64{Int64: a.SavingsGoal.TargetAmount.Cents, Valid: true}
	}

	_, err := r.db.ExecContext(ctx,
		`INSERT INTO accounts (`+accountColumns+`) VALUES (?, ?, ?, ?, 0, ?, ?, ?, ?, ?, ?)`,
		a.ID, a.FamilyID, a.Name, a.Avatar, a.AllowanceAmount.Cents, string(a.AllowanceFrequency),
		formatNullTime(a.LastAllowanceDate), goalName, goalTarget, formatTime(a.CreatedAt))
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint failed") {
			return core.Account{}, &core.ValidationError{Field: "name", Err: core.ErrDuplicateName}
		}
		return core.Account{}, storeErr("create account", err)
	}

	slog.InfoContext(ctx, "Account created",
		"id", a.ID,
		"family_id", a.FamilyID,
		"frequency", a.AllowanceFrequency)

	r.publish(ctx, a.FamilyID, realtime.TableAccounts, realtime.OpInsert, a.ID)
	return a, nil
}

func (r *SQLiteRepository) DeleteAccount(ctx context.Context, accountID string) error {
	familyID := r.familyOf(ctx, accountID)
	err := r.inTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `DELETE FROM transactions WHERE account_id = ?`, accountID); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM milestones WHERE account_id = ?`, accountID); err != nil {
			return err
		}
		res, err := tx.ExecContext(ctx, `DELETE FROM accounts WHERE id = ?`, accountID)
		if err != nil {
			return err
		}
		return expectRow(res)
	})
	if err != nil {
		return storeErr("delete account", err)
	}

	slog.InfoContext(ctx, "Account deleted", "id", accountID, "family_id", familyID)
	r.publish(ctx, familyID, realtime.TableAccounts, realtime.OpDelete, accountID)
	return nil
}

func (r *SQLiteRepository) SetSavingsGoal(ctx context.Context, accountID string, goal *core.SavingsGoal) error {
	var goalName sql.NullString
	var goalTarget sql.NullInt64
	if goal != nil {
		if err := goal.Validate(); err != nil {
			return err
		}
		goalName = sql.NullString{String: goal.Name, Valid: true}
		goalTarget = sql.NullInt64{Int64: goal.TargetAmount.Cents, Valid: true}
	}

	res, err := r.db.ExecContext(ctx,
		`UPDATE accounts SET goal_name = ?, goal_target_cents = ? WHERE id = ?`,
		goalName, goalTarget, accountID)
	if err != nil {
		return storeErr("set savings goal", err)
	}
	if err := expectRow(res); err != nil {
		return storeErr("set savings goal", err)
	}
	r.publish(ctx, r.familyOf(ctx, accountID), realtime.TableAccounts, realtime.OpUpdate, accountID)
	return nil
}

func (r *SQLiteRepository) UpdateAllowance(ctx context.Context, accountID string, amount core.Money, freq core.Frequency) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE accounts SET allowance_cents = ?, allowance_frequency = ? WHERE id = ?`,
		amount.Cents, string(freq), accountID)
	if err != nil {
		return storeErr("update allowance", err)
	}
	if err := expectRow(res); err != nil {
		return storeErr("update allowance", err)
	}
	r.publish(ctx, r.familyOf(ctx, accountID), realtime.TableAccounts, realtime.OpUpdate, accountID)
	return nil
}

func (r *SQLiteRepository) Transfer(ctx context.Context, req ledger.TransferRequest) (ledger.TransferResult, error) {
	if req.SenderID == req.ReceiverID {
		return ledger.TransferResult{}, &core.ValidationError{Field: "receiver_id", Err: core.ErrSameAccount}
	}
	date := req.Date
	if date.IsZero() {
		date = r.now()
	}

	res := ledger.TransferResult{TransferID: uuid.NewString()}
	var senderFamily, receiverFamily string

	err := r.inTx(ctx, func(tx *sql.Tx) error {
		var senderName, receiverName string
		if err := tx.QueryRowContext(ctx, `SELECT name, family_id FROM accounts WHERE id = ?`, req.SenderID).
			Scan(&senderName, &senderFamily); err != nil {
			return fmt.Errorf("sender %s: %w", req.SenderID, err)
		}
		if err := tx.QueryRowContext(ctx, `SELECT name, family_id FROM accounts WHERE id = ?`, req.ReceiverID).
			Scan(&receiverName, &receiverFamily); err != nil {
			return fmt.Errorf("receiver %s: %w", req.ReceiverID, err)
		}

		// The balance guard lives in the statement so a stale caller view cannot overdraw.
		err := tx.QueryRowContext(ctx,
			`UPDATE accounts SET balance_cents = balance_cents - ?
			WHERE id = ? AND balance_cents >= ? RETURNING balance_cents`,
			req.Amount.Cents, req.SenderID, req.Amount.Cents).Scan(&res.SenderBalance.Cents)
		if errors.Is(err, sql.ErrNoRows) {
			return core.ErrInsufficientBalance
		}
		if err != nil {
			return err
		}
		if err := tx.QueryRowContext(ctx,
			`UPDATE accounts SET balance_cents = balance_cents + ? WHERE id = ? RETURNING balance_cents`,
			req.Amount.Cents, req.ReceiverID).Scan(&res.ReceiverBalance.Cents); err != nil {
			return err
		}

		sentDesc, receivedDesc := core.TransferDescriptions(senderName, receiverName, req.Description)
		res.SenderTx = core.Transaction{
			ID:          uuid.NewString(),
			AccountID:   req.SenderID,
			Type:        core.Subtract,
			Amount:      req.Amount,
			Description: sentDesc,
			Category:    core.CategoryTransfer,
			Date:        date,
			TransferID:  res.TransferID,
		}
		res.ReceiverTx = core.Transaction{
			ID:          uuid.NewString(),
			AccountID:   req.ReceiverID,
			Type:        core.Add,
			Amount:      req.Amount,
			Description: receivedDesc,
			Category:    core.CategoryTransfer,
			Date:        date,
			TransferID:  res.TransferID,
		}
		if err := insertTransaction(ctx, tx, res.SenderTx); err != nil {
			return err
		}
		return insertTransaction(ctx, tx, res.ReceiverTx)
	})
	if err != nil {
		return ledger.TransferResult{}, storeErr("transfer", err)
	}

	slog.InfoContext(ctx, "Transfer committed",
		"transfer_id", res.TransferID,
		"sender_id", req.SenderID,
		"receiver_id", req.ReceiverID,
		"amount_cents", req.Amount.Cents)

	r.publish(ctx, senderFamily, realtime.TableTransactions, realtime.OpInsert, res.SenderTx.ID)
	r.publish(ctx, receiverFamily, realtime.TableTransactions, realtime.OpInsert, res.ReceiverTx.ID)
	r.publish(ctx, senderFamily, realtime.TableAccounts, realtime.OpUpdate, req.SenderID)
	r.publish(ctx, receiverFamily, realtime.TableAccounts, realtime.OpUpdate, req.ReceiverID)
	return res, nil
}

func (r *SQLiteRepository) ApplyAccrual(ctx context.Context, update ledger.AccrualUpdate) (core.Money, error) {
	var delta core.Money
	for _, t := range update.Transactions {
		delta = delta.Add(t.Signed())
	}

	var balance core.Money
	var familyID string
	err := r.inTx(ctx, func(tx *sql.Tx) error {
		// IS compares NULL baselines too, making the update a compare-and-set.
		err := tx.QueryRowContext(ctx,
			`UPDATE accounts SET balance_cents = balance_cents + ?, last_allowance_date = ?
			WHERE id = ? AND last_allowance_date IS ?
			RETURNING balance_cents, family_id`,
			delta.Cents, formatTime(update.NewBaseline), update.AccountID,
			formatNullTime(update.PreviousBaseline)).Scan(&balance.Cents, &familyID)
		if errors.Is(err, sql.ErrNoRows) {
			return core.ErrStaleBaseline
		}
		if err != nil {
			return err
		}
		for _, t := range update.Transactions {
			if t.ID == "" {
				t.ID = uuid.NewString()
			}
			if err := insertTransaction(ctx, tx, t); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return core.Money{}, storeErr("apply accrual", err)
	}

	slog.InfoContext(ctx, "Allowance accrual persisted",
		"account_id", update.AccountID,
		"periods", len(update.Transactions),
		"new_baseline", update.NewBaseline.Format(time.RFC3339))

	r.publish(ctx, familyID, realtime.TableTransactions, realtime.OpInsert, update.AccountID)
	r.publish(ctx, familyID, realtime.TableAccounts, realtime.OpUpdate, update.AccountID)
	return balance, nil
}

func (r *SQLiteRepository) RecordedThresholds(ctx context.Context, accountID string) ([]int, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT threshold_percent FROM milestones WHERE account_id = ? ORDER BY threshold_percent`, accountID)
	if err != nil {
		return nil, storeErr("recorded thresholds", err)
	}
	defer rows.Close()

	var out []int
	for rows.Next() {
		var th int
		if err := rows.Scan(&th); err != nil {
			return nil, storeErr("recorded thresholds", err)
		}
		out = append(out, th)
	}
	if err := rows.Err(); err != nil {
		return nil, storeErr("recorded thresholds", err)
	}
	return out, nil
}

func (r *SQLiteRepository) RecordMilestone(ctx context.Context, accountID string, threshold int) (bool, error) {
	res, err := r.db.ExecContext(ctx,
		`INSERT INTO milestones (account_id, threshold_percent, recorded_at) VALUES (?, ?, ?)
		ON CONFLICT (account_id, threshold_percent) DO NOTHING`,
		accountID, threshold, formatTime(r.now()))
	if err != nil {
		return false, storeErr("record milestone", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, storeErr("record milestone", err)
	}
	return n == 1, nil
}

func (r *SQLiteRepository) inTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

func (r *SQLiteRepository) familyOf(ctx context.Context, accountID string) string {
	var familyID string
	if err := r.db.QueryRowContext(ctx, `SELECT family_id FROM accounts WHERE id = ?`, accountID).Scan(&familyID); err != nil {
		slog.DebugContext(ctx, "Could not resolve family for change event", "account_id", accountID, "error", err)
	}
	return familyID
}

func (r *SQLiteRepository) publish(ctx context.Context, familyID string, table realtime.Table, op realtime.Op, rowID string) {
	if r.pub == nil || familyID == "" {
		return
	}
	if err := r.pub.PublishChange(ctx, realtime.NewChangeEvent(familyID, table, op, rowID)); err != nil {
		slog.WarnContext(ctx, "Failed to publish change event",
			"family_id", familyID,
			"table", table,
			"row_id", rowID,
			"error", err)
	}
}

func insertTransaction(ctx context.Context, tx *sql.Tx, t core.Transaction) error {
	var transferID sql.NullString
	if t.TransferID != "" {
		transferID = sql.NullString{String: t.TransferID, Valid: true}
	}
	_, err := tx.ExecContext(ctx,
		`INSERT INTO transactions (`+transactionColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		t.ID, t.AccountID, string(t.Type), t.Amount.Cents, t.Description, string(t.Category),
		formatTime(t.Date), transferID)
	if err != nil {
		return fmt.Errorf("insert transaction %s: %w", t.ID, err)
	}
	return nil
}

func scanAccount(row rowScanner) (core.Account, error) {
	var (
		a          core.Account
		freq       string
		lastDate   sql.NullString
		goalName   sql.NullString
		goalTarget sql.NullInt64
		createdAt  string
	)
	err := row.Scan(&a.ID, &a.FamilyID, &a.Name, &a.Avatar, &a.Balance.Cents, &a.AllowanceAmount.Cents,
		&freq, &lastDate, &goalName, &goalTarget, &createdAt)
	if err != nil {
		return core.Account{}, err
	}
	a.AllowanceFrequency = core.Frequency(freq)
	if a.CreatedAt, err = parseTime(createdAt); err != nil {
		return core.Account{}, err
	}
	if lastDate.Valid {
		t, err := parseTime(lastDate.String)
		if err != nil {
			return core.Account{}, err
		}
		a.LastAllowanceDate = &t
	}
	if goalName.Valid && goalTarget.Valid {
		a.SavingsGoal = &core.SavingsGoal{
			Name:         goalName.String,
			TargetAmount: core.Money{Cents: goalTarget.Int64},
		}
	}
	return a, nil
}

func scanTransaction(row rowScanner) (core.Transaction, error) {
	var (
		t          core.Transaction
		typ, cat   string
		date       string
		transferID sql.NullString
	)
	if err := row.Scan(&t.ID, &t.AccountID, &typ, &t.Amount.Cents, &t.Description, &cat, &date, &transferID); err != nil {
		return core.Transaction{}, err
	}
	t.Type = core.TransactionType(typ)
	t.Category = core.Category(cat)
	t.TransferID = transferID.String
	var err error
	if t.Date, err = parseTime(date); err != nil {
		return core.Transaction{}, err
	}
	return t, nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func formatNullTime(t *time.Time) sql.NullString {
	if t == nil || t.IsZero() {
		return sql.NullString{}
	}
	return sql.NullString{String: formatTime(*t), Valid: true}
}

func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(timeLayout, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse timestamp %q: %w", s, err)
	}
	return t, nil
}

func expectRow(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// storeErr maps driver errors onto the core taxonomy.
func storeErr(op string, err error) error {
	var se *core.StoreError
	if errors.As(err, &se) || core.IsValidation(err) {
		return err
	}
	if errors.Is(err, sql.ErrNoRows) {
		err = fmt.Errorf("%w: %v", core.ErrNotFound, err)
	}
	return &core.StoreError{Op: op, Err: err}
}
