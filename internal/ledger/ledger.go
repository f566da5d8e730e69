// Package ledger moves cash between player accounts. Every mutation runs
// under row locks on the accounts it touches; multi-account locks are taken
// in ascending player id order.
package ledger

import (
	"context"
	"fmt"
	"log/slog"

	"racket/internal/game"
)

type Service struct {
	store game.Store
	log   *slog.Logger
}

func NewService(store game.Store, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{store: store, log: logger}
}

func checkAmount(amount int64) error {
	if amount < 0 {
		return fmt.Errorf("%w: amount must be >= 0", game.ErrInvalidInput)
	}
	return nil
}

// DebitTx removes amount from a locked account's cash.
func DebitTx(ctx context.Context, tx game.Tx, acct *game.Account, amount int64) error {
	if err := checkAmount(amount); err != nil {
		return err
	}
	if acct.Cash < amount {
		return fmt.Errorf("%w: have %d, need %d", game.ErrInsufficientFunds, acct.Cash, amount)
	}
	acct.Cash -= amount
	return tx.SaveAccount(ctx, *acct)
}

// CreditTx adds amount to a locked account's cash.
func CreditTx(ctx context.Context, tx game.Tx, acct *game.Account, amount int64) error {
	if err := checkAmount(amount); err != nil {
		return err
	}
	acct.Cash += amount
	return tx.SaveAccount(ctx, *acct)
}

// TransferTx debits amount from one locked account and credits amount-fee to
// the other. The fee leaves circulation.
func TransferTx(ctx context.Context, tx game.Tx, from, to *game.Account, amount, fee int64) error {
	if from.PlayerID == to.PlayerID {
		return game.ErrSelfTrade
	}
	if err := checkAmount(amount); err != nil {
		return err
	}
	if fee < 0 || fee > amount {
		return fmt.Errorf("%w: fee %d outside [0, %d]", game.ErrInvalidInput, fee, amount)
	}
	if err := DebitTx(ctx, tx, from, amount); err != nil {
		return err
	}
	return CreditTx(ctx, tx, to, amount-fee)
}

// LockPair locks both accounts in canonical order and returns them in the
// order requested.
func LockPair(ctx context.Context, tx game.Tx, a, b string) (game.Account, game.Account, error) {
	if a == b {
		return game.Account{}, game.Account{}, game.ErrSelfTrade
	}
	accts, err := tx.LockAccounts(ctx, a, b)
	if err != nil {
		return game.Account{}, game.Account{}, err
	}
	if accts[0].PlayerID == a {
		return accts[0], accts[1], nil
	}
	return accts[1], accts[0], nil
}

func lockOne(ctx context.Context, tx game.Tx, playerID string) (game.Account, error) {
	accts, err := tx.LockAccounts(ctx, playerID)
	if err != nil {
		return game.Account{}, err
	}
	return accts[0], nil
}

func (s *Service) Debit(ctx context.Context, playerID string, amount int64) (game.Account, error) {
	var out game.Account
	err := s.store.InTx(ctx, func(tx game.Tx) error {
		acct, err := lockOne(ctx, tx, playerID)
		if err != nil {
			return err
		}
		if err := DebitTx(ctx, tx, &acct, amount); err != nil {
			return err
		}
		out = acct
		return nil
	})
	return out, err
}

func (s *Service) Credit(ctx context.Context, playerID string, amount int64) (game.Account, error) {
	var out game.Account
	err := s.store.InTx(ctx, func(tx game.Tx) error {
		acct, err := lockOne(ctx, tx, playerID)
		if err != nil {
			return err
		}
		if err := CreditTx(ctx, tx, &acct, amount); err != nil {
			return err
		}
		out = acct
		return nil
	})
	return out, err
}

type TransferResult struct {
	From game.Account `json:"from"`
	To   game.Account `json:"to"`
	Fee  int64        `json:"fee"`
}

func (s *Service) Transfer(ctx context.Context, fromID, toID string, amount, fee int64) (TransferResult, error) {
	var out TransferResult
	err := s.store.InTx(ctx, func(tx game.Tx) error {
		from, to, err := LockPair(ctx, tx, fromID, toID)
		if err != nil {
			return err
		}
		if err := TransferTx(ctx, tx, &from, &to, amount, fee); err != nil {
			return err
		}
		out = TransferResult{From: from, To: to, Fee: fee}
		return nil
	})
	if err != nil {
		return TransferResult{}, err
	}
	s.log.Debug("transfer", "from", fromID, "to", toID, "amount", amount, "fee", fee)
	return out, nil
}

// Deposit moves cash into the bank.
func (s *Service) Deposit(ctx context.Context, playerID string, amount int64) (game.Account, error) {
	return s.moveBetweenBalances(ctx, playerID, amount, true)
}

// Withdraw moves banked money back to cash.
func (s *Service) Withdraw(ctx context.Context, playerID string, amount int64) (game.Account, error) {
	return s.moveBetweenBalances(ctx, playerID, amount, false)
}

func (s *Service) moveBetweenBalances(ctx context.Context, playerID string, amount int64, toBank bool) (game.Account, error) {
	if amount <= 0 {
		return game.Account{}, fmt.Errorf("%w: amount must be > 0", game.ErrInvalidInput)
	}
	var out game.Account
	err := s.store.InTx(ctx, func(tx game.Tx) error {
		acct, err := lockOne(ctx, tx, playerID)
		if err != nil {
			return err
		}
		if toBank {
			if acct.Cash < amount {
				return fmt.Errorf("%w: cash %d < %d", game.ErrInsufficientFunds, acct.Cash, amount)
			}
			acct.Cash -= amount
			acct.Bank += amount
		} else {
			if acct.Bank < amount {
				return fmt.Errorf("%w: bank %d < %d", game.ErrInsufficientFunds, acct.Bank, amount)
			}
			acct.Bank -= amount
			acct.Cash += amount
		}
		if err := tx.SaveAccount(ctx, acct); err != nil {
			return err
		}
		out = acct
		return nil
	})
	return out, err
}

// AdminAdjust credits (delta > 0) or debits (delta < 0) a player's cash on
// behalf of an admin.
func (s *Service) AdminAdjust(ctx context.Context, adminID, playerID string, delta int64) (game.Account, error) {
	var out game.Account
	err := s.store.InTx(ctx, func(tx game.Tx) error {
		if err := game.RequireAdmin(ctx, tx, adminID); err != nil {
			return err
		}
		acct, err := lockOne(ctx, tx, playerID)
		if err != nil {
			return err
		}
		if delta >= 0 {
			err = CreditTx(ctx, tx, &acct, delta)
		} else {
			err = DebitTx(ctx, tx, &acct, -delta)
		}
		if err != nil {
			return err
		}
		out = acct
		return nil
	})
	if err != nil {
		return game.Account{}, err
	}
	s.log.Info("admin cash adjustment", "admin", adminID, "player", playerID, "delta", delta)
	return out, nil
}

func (s *Service) Account(ctx context.Context, playerID string) (game.Account, error) {
	return s.store.Account(ctx, playerID)
}
