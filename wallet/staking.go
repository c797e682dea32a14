// Copyright 2025 The tron-shkeeper Authors
// This file is part of tron-shkeeper.
//
// tron-shkeeper is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// tron-shkeeper is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with tron-shkeeper. If not, see <http://www.gnu.org/licenses/>.

package wallet

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/vsys-host/tron-shkeeper/store"
	"github.com/vsys-host/tron-shkeeper/tron"
)

// delegatedPermissionID is the account permission under which the treasury
// key signs for an externally managed energy account.
const delegatedPermissionID = 2

// stakingSigner is the resolved signing identity for staking operations:
// the account holding the stake and the key authorized to move it.
type stakingSigner struct {
	address      string
	privHex      string
	permissionID int
}

// StakingAccount returns the address that holds staked TRX: the dedicated
// energy account when one is configured, otherwise the treasury.
func (w *Wallet) StakingAccount(ctx context.Context) (string, error) {
	if !w.cfg.Energy.SeparateEnergyAccount {
		return w.FeeDepositAccount(ctx)
	}
	key, err := w.db.GetKeyByType(ctx, store.KeyEnergy)
	if err != nil {
		return "", err
	}
	return key.Public, nil
}

// EnsureEnergyAccount registers the externally managed staking account of
// the separate-energy mode, keyed by the configured public address. The
// gateway never holds this account's key; its transactions are signed by the
// treasury under an account permission. Idempotent across restarts; a
// configured address that contradicts the stored row is refused.
func (w *Wallet) EnsureEnergyAccount(ctx context.Context, public string) error {
	if public == "" {
		return errors.New("separate energy account is enabled but no public key is configured")
	}
	key, err := w.db.GetKeyByType(ctx, store.KeyEnergy)
	if err == nil {
		if key.Public != public {
			return fmt.Errorf("energy account %s is already registered, refusing to replace it with %s", key.Public, public)
		}
		return nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return err
	}
	if err := w.db.AddKey(ctx, store.KeyEnergy, public, store.ExternallyManaged); err != nil {
		return err
	}
	w.log.Info("Registered externally managed energy account", "address", public)
	return nil
}

func (w *Wallet) stakingSigner(ctx context.Context) (*stakingSigner, error) {
	account, err := w.StakingAccount(ctx)
	if err != nil {
		return nil, err
	}
	priv, err := w.PrivateKey(ctx, account)
	if errors.Is(err, ErrExternallyManaged) {
		// The energy account's key lives elsewhere; the treasury key signs
		// for it under a pre-arranged account permission.
		treasury, terr := w.FeeDepositAccount(ctx)
		if terr != nil {
			return nil, terr
		}
		treasuryPriv, terr := w.PrivateKey(ctx, treasury)
		if terr != nil {
			return nil, terr
		}
		return &stakingSigner{address: account, privHex: treasuryPriv, permissionID: delegatedPermissionID}, nil
	}
	if err != nil {
		return nil, err
	}
	return &stakingSigner{address: account, privHex: priv}, nil
}

func (w *Wallet) stakingCall(ctx context.Context, build func(*tron.Client, *stakingSigner) (*tron.BuiltTx, error)) (string, error) {
	client, err := w.pool.Client(ctx)
	if err != nil {
		return "", err
	}
	signer, err := w.stakingSigner(ctx)
	if err != nil {
		return "", err
	}
	tx, err := build(client, signer)
	if err != nil {
		return "", err
	}
	return client.SignAndBroadcast(ctx, tx, signer.privHex)
}

// Freeze stakes a TRX amount for the given resource on the staking account.
func (w *Wallet) Freeze(ctx context.Context, amount decimal.Decimal, resource string) (string, error) {
	if amount.Sign() <= 0 {
		return "", fmt.Errorf("non-positive freeze amount %s", amount)
	}
	txid, err := w.stakingCall(ctx, func(c *tron.Client, s *stakingSigner) (*tron.BuiltTx, error) {
		return c.FreezeBalanceV2(ctx, s.address, tron.ToSun(amount), resource, s.permissionID)
	})
	if err != nil {
		return "", err
	}
	w.log.Info("Froze TRX", "amount", amount, "resource", resource, "txid", txid)
	return txid, nil
}

// Unfreeze starts unstaking a TRX amount. The funds enter the 14-day
// unfreezing queue and become withdrawable after it expires.
func (w *Wallet) Unfreeze(ctx context.Context, amount decimal.Decimal, resource string) (string, error) {
	if amount.Sign() <= 0 {
		return "", fmt.Errorf("non-positive unfreeze amount %s", amount)
	}
	txid, err := w.stakingCall(ctx, func(c *tron.Client, s *stakingSigner) (*tron.BuiltTx, error) {
		return c.UnfreezeBalanceV2(ctx, s.address, tron.ToSun(amount), resource, s.permissionID)
	})
	if err != nil {
		return "", err
	}
	w.log.Info("Unfroze TRX", "amount", amount, "resource", resource, "txid", txid)
	return txid, nil
}

// WithdrawUnfrozen claims every expired entry of the unfreezing queue back
// to the staking account's spendable balance.
func (w *Wallet) WithdrawUnfrozen(ctx context.Context) (string, error) {
	return w.stakingCall(ctx, func(c *tron.Client, s *stakingSigner) (*tron.BuiltTx, error) {
		return c.WithdrawExpireUnfreeze(ctx, s.address, s.permissionID)
	})
}

// ClaimVotingReward withdraws the accumulated voting allowance.
func (w *Wallet) ClaimVotingReward(ctx context.Context) (string, error) {
	return w.stakingCall(ctx, func(c *tron.Client, s *stakingSigner) (*tron.BuiltTx, error) {
		return c.WithdrawBalance(ctx, s.address, s.permissionID)
	})
}

// Delegate lends staked resource from the staking account to a receiver.
func (w *Wallet) Delegate(ctx context.Context, receiver string, amount decimal.Decimal, resource string) (string, error) {
	if amount.Sign() <= 0 {
		return "", fmt.Errorf("non-positive delegation amount %s", amount)
	}
	return w.stakingCall(ctx, func(c *tron.Client, s *stakingSigner) (*tron.BuiltTx, error) {
		return c.DelegateResource(ctx, s.address, receiver, tron.ToSun(amount), resource, s.permissionID)
	})
}

// Undelegate takes lent resource back from a receiver.
func (w *Wallet) Undelegate(ctx context.Context, receiver string, amount decimal.Decimal, resource string) (string, error) {
	if amount.Sign() <= 0 {
		return "", fmt.Errorf("non-positive undelegation amount %s", amount)
	}
	return w.stakingCall(ctx, func(c *tron.Client, s *stakingSigner) (*tron.BuiltTx, error) {
		return c.UndelegateResource(ctx, s.address, receiver, tron.ToSun(amount), resource, s.permissionID)
	})
}

// StakingInfo is the aggregate staking state of the staking account, in TRX.
type StakingInfo struct {
	Account         string          `json:"account"`
	Balance         decimal.Decimal `json:"balance"`
	FrozenEnergy    decimal.Decimal `json:"frozen_energy"`
	FrozenBandwidth decimal.Decimal `json:"frozen_bandwidth"`
	Unfreezing      decimal.Decimal `json:"unfreezing"`
	Withdrawable    decimal.Decimal `json:"withdrawable"`
	VotingAllowance decimal.Decimal `json:"voting_allowance"`
}

// StakingInfo reads the stake, unfreezing queue and reward allowance of the
// staking account.
func (w *Wallet) StakingInfo(ctx context.Context) (*StakingInfo, error) {
	client, err := w.pool.Client(ctx)
	if err != nil {
		return nil, err
	}
	account, err := w.StakingAccount(ctx)
	if err != nil {
		return nil, err
	}
	acc, err := client.GetAccount(ctx, account)
	if err != nil {
		if errors.Is(err, tron.ErrAddressNotFound) {
			return &StakingInfo{Account: account}, nil
		}
		return nil, err
	}
	queued, withdrawable := acc.Unfreezing(time.Now().UnixMilli())
	return &StakingInfo{
		Account:         account,
		Balance:         tron.FromSun(acc.Balance),
		FrozenEnergy:    tron.FromSun(acc.Frozen(tron.ResourceEnergy)),
		FrozenBandwidth: tron.FromSun(acc.Frozen(tron.ResourceBandwidth)),
		Unfreezing:      tron.FromSun(queued),
		Withdrawable:    tron.FromSun(withdrawable),
		VotingAllowance: tron.FromSun(acc.Allowance),
	}, nil
}

// Resources reads the bandwidth/energy state of the staking account.
func (w *Wallet) Resources(ctx context.Context) (*tron.AccountResource, error) {
	client, err := w.pool.Client(ctx)
	if err != nil {
		return nil, err
	}
	account, err := w.StakingAccount(ctx)
	if err != nil {
		return nil, err
	}
	return client.GetAccountResource(ctx, account)
}
