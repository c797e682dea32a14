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

package sweep

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/shopspring/decimal"

	"github.com/vsys-host/tron-shkeeper/config"
	"github.com/vsys-host/tron-shkeeper/store"
	"github.com/vsys-host/tron-shkeeper/tasks"
	"github.com/vsys-host/tron-shkeeper/tron"
	"github.com/vsys-host/tron-shkeeper/wallet"
)

const (
	// activationAmount is sent to a never-seen deposit address so the chain
	// creates the account before energy can be delegated to it.
	activationAmountSun = 100_000 // 0.1 TRX

	// delegatedPermissionID is the account permission under which the
	// treasury key signs for an externally managed energy account.
	delegatedPermissionID = 2

	receiptTimeout = 90 * time.Second
)

// delegator resolves the account that holds staked TRX for energy and the
// key that signs its transactions.
type delegator struct {
	address string
	privHex string
	// permissionID is non-zero when signing through an account permission.
	permissionID int
}

func (o *Orchestrator) resolveDelegator(ctx context.Context, treasury string) (*delegator, error) {
	if !o.cfg.Energy.SeparateEnergyAccount {
		priv, err := o.wallet.PrivateKey(ctx, treasury)
		if err != nil {
			return nil, err
		}
		return &delegator{address: treasury, privHex: priv}, nil
	}
	key, err := o.db.GetKeyByType(ctx, store.KeyEnergy)
	if err != nil {
		return nil, err
	}
	priv, err := o.wallet.PrivateKey(ctx, key.Public)
	if errors.Is(err, wallet.ErrExternallyManaged) {
		// The energy account's own key is elsewhere; its delegations are
		// signed by the treasury key under a pre-arranged permission.
		treasuryPriv, terr := o.wallet.PrivateKey(ctx, treasury)
		if terr != nil {
			return nil, terr
		}
		return &delegator{address: key.Public, privHex: treasuryPriv, permissionID: delegatedPermissionID}, nil
	}
	if err != nil {
		return nil, err
	}
	return &delegator{address: key.Public, privHex: priv}, nil
}

// sweepTokenDelegated sweeps a token deposit by lending the deposit address
// exactly enough staked energy for one transfer, then taking it back.
func (o *Orchestrator) sweepTokenDelegated(ctx context.Context, symbol, account, treasury string) (*Result, error) {
	balance, err := o.wallet.Balance(ctx, symbol, account)
	if err != nil {
		return nil, err
	}
	threshold, err := o.cfg.MinTransferThreshold(symbol)
	if err != nil {
		return nil, err
	}
	if balance.LessThanOrEqual(threshold) {
		return skipped(account, symbol,
			fmt.Sprintf("balance %s is below the sweep threshold %s", balance, threshold)), nil
	}

	client, err := o.pool.Client(ctx)
	if err != nil {
		return nil, err
	}
	del, err := o.resolveDelegator(ctx, treasury)
	if err != nil {
		return nil, err
	}

	if err := o.ensureActivated(ctx, client, account, treasury); err != nil {
		return nil, err
	}
	if err := o.checkDelegatorBandwidth(ctx, del); err != nil {
		return nil, err
	}

	needed, err := o.estimateSweepEnergy(ctx, client, symbol, account, treasury, balance)
	if err != nil {
		return nil, err
	}
	if err := o.lendEnergy(ctx, client, del, account, needed); err != nil {
		return nil, err
	}
	// The stake comes back whether or not the transfer goes through.
	defer o.scheduleUndelegate(del, account)

	txid, err := o.wallet.TransferToken(ctx, symbol, account, treasury, balance)
	if err != nil {
		return nil, err
	}
	o.log.Info("Swept token on delegated energy", "symbol", symbol, "account", account, "amount", balance, "txid", txid)
	return &Result{Account: account, Symbol: symbol, Amount: balance, TxID: txid}, nil
}

// ensureActivated creates the account on chain when it has never been seen.
// Delegating to a non-existent account is rejected by the node.
func (o *Orchestrator) ensureActivated(ctx context.Context, client *tron.Client, account, treasury string) error {
	_, err := client.GetAccount(ctx, account)
	if err == nil {
		return nil
	}
	if !errors.Is(err, tron.ErrAddressNotFound) {
		return err
	}
	treasuryTRX, err := o.wallet.Balance(ctx, config.NativeSymbol, treasury)
	if err != nil {
		return err
	}
	// Activation burns 1 TRX on top of the transferred amount.
	required := tron.FromSun(activationAmountSun).Add(decimal.NewFromInt(1))
	if treasuryTRX.LessThan(required) {
		return fmt.Errorf("treasury balance %s TRX cannot fund account activation for %s", treasuryTRX, account)
	}
	txid, err := o.wallet.TransferTRX(ctx, treasury, account, tron.FromSun(activationAmountSun))
	if err != nil {
		return fmt.Errorf("activating %s: %w", account, err)
	}
	o.log.Info("Activated deposit account", "account", account, "txid", txid)
	return o.waitForTx(ctx, txid)
}

// checkDelegatorBandwidth verifies the delegator can pay bandwidth for the
// delegate/undelegate pair without burning TRX, unless burning is allowed.
func (o *Orchestrator) checkDelegatorBandwidth(ctx context.Context, del *delegator) error {
	if o.cfg.Energy.AllowBurnTRXForBandwidth {
		return nil
	}
	bandwidth, err := o.wallet.Bandwidth(ctx, del.address)
	if err != nil {
		return err
	}
	if bandwidth < 2*o.cfg.BandwidthPerTRXTransfer {
		return fmt.Errorf("delegator %s has %d free bandwidth, not enough to delegate without burning TRX",
			del.address, bandwidth)
	}
	return nil
}

// estimateSweepEnergy asks the node what a transfer of the full balance
// costs. The probe uses the treasury as destination with a nominal amount so
// it works even while the deposit address has no energy at all.
func (o *Orchestrator) estimateSweepEnergy(ctx context.Context, client *tron.Client, symbol, account, treasury string, balance decimal.Decimal) (int64, error) {
	contract, err := o.cfg.ContractAddress(symbol)
	if err != nil {
		return 0, err
	}
	needed, err := client.EstimateTransferEnergy(ctx, account, contract, treasury, big.NewInt(42))
	if err != nil {
		return 0, err
	}
	return needed, nil
}

// lendEnergy stakes enough TRX-weight on the deposit address to cover the
// estimated energy, applying the configured safety factor.
func (o *Orchestrator) lendEnergy(ctx context.Context, client *tron.Client, del *delegator, account string, needed int64) error {
	res, err := client.GetAccountResource(ctx, account)
	if err != nil {
		return err
	}
	if res.AvailableEnergy() >= needed {
		return nil
	}

	// Convert the energy shortfall into the sun of stake that yields it at
	// the current global rate, rounding up.
	global, err := client.GetAccountResource(ctx, del.address)
	if err != nil {
		return err
	}
	if global.TotalEnergyLimit == 0 {
		return errors.New("node reports zero total energy limit")
	}
	shortfall := needed - res.AvailableEnergy()
	sun := new(big.Int).Mul(big.NewInt(global.TotalEnergyWeight), big.NewInt(shortfall))
	sun.Add(sun, big.NewInt(global.TotalEnergyLimit-1))
	sun.Div(sun, big.NewInt(global.TotalEnergyLimit))
	sun.Mul(sun, big.NewInt(tron.SunPerTRX))
	amount := decimal.NewFromBigInt(sun, 0).Mul(o.cfg.Energy.DelegationFactor).Ceil()

	tx, err := client.DelegateResource(ctx, del.address, account, amount.IntPart(), tron.ResourceEnergy, del.permissionID)
	if err != nil {
		return err
	}
	txid, err := client.SignAndBroadcast(ctx, tx, del.privHex)
	if err != nil {
		return fmt.Errorf("delegating energy: %w", err)
	}
	o.log.Info("Delegated energy", "delegator", del.address, "account", account, "sun", amount, "txid", txid)
	if err := o.waitForTx(ctx, txid); err != nil {
		return err
	}

	// Recheck; a busy network can shift the rate between estimate and
	// delegation.
	res, err = client.GetAccountResource(ctx, account)
	if err != nil {
		return err
	}
	if res.AvailableEnergy() < needed {
		if !o.cfg.Energy.AllowAdditionalDelegation {
			return fmt.Errorf("delegated energy %d still below required %d", res.AvailableEnergy(), needed)
		}
		return o.lendEnergy(ctx, client, del, account, needed)
	}
	return nil
}

// scheduleUndelegate queues the return of whatever stake is actually lent to
// the account, as reported by the chain.
func (o *Orchestrator) scheduleUndelegate(del *delegator, account string) {
	o.sched.Submit(tasks.Job{
		Name: "undelegate",
		Args: []string{del.address, account},
		Run: func(ctx context.Context) (any, error) {
			return nil, o.undelegate(ctx, del, account)
		},
	})
}

func (o *Orchestrator) undelegate(ctx context.Context, del *delegator, account string) error {
	client, err := o.pool.Client(ctx)
	if err != nil {
		return err
	}
	resources, err := client.GetDelegatedResourceV2(ctx, del.address, account)
	if err != nil {
		return err
	}
	var lent int64
	for _, r := range resources {
		lent += r.FrozenBalanceForEnergy
	}
	if lent == 0 {
		return nil
	}
	tx, err := client.UndelegateResource(ctx, del.address, account, lent, tron.ResourceEnergy, del.permissionID)
	if err != nil {
		return err
	}
	txid, err := client.SignAndBroadcast(ctx, tx, del.privHex)
	if err != nil {
		return err
	}
	o.log.Info("Undelegated energy", "delegator", del.address, "account", account, "sun", lent, "txid", txid)
	return nil
}
