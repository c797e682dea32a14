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

package api

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/julienschmidt/httprouter"
	"github.com/shopspring/decimal"

	"github.com/vsys-host/tron-shkeeper/tron"
)

// stakingRequest is the body of the mutating staking endpoints. Resource
// defaults to ENERGY; Receiver is only used by delegate/undelegate.
type stakingRequest struct {
	Amount   decimal.Decimal `json:"amount"`
	Resource string          `json:"resource"`
	Receiver string          `json:"receiver"`
}

func decodeStakingRequest(r *http.Request) (stakingRequest, error) {
	var req stakingRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		return req, err
	}
	if req.Resource == "" {
		req.Resource = tron.ResourceEnergy
	}
	if req.Resource != tron.ResourceEnergy && req.Resource != tron.ResourceBandwidth {
		return req, fmt.Errorf("unknown resource %q", req.Resource)
	}
	return req, nil
}

func (s *Server) stakingInfo(w http.ResponseWriter, r *http.Request, _ httprouter.Params) error {
	info, err := s.wallet.StakingInfo(r.Context())
	if err != nil {
		return err
	}
	writeJSON(w, http.StatusOK, info)
	return nil
}

func (s *Server) stakingResources(w http.ResponseWriter, r *http.Request, _ httprouter.Params) error {
	res, err := s.wallet.Resources(r.Context())
	if err != nil {
		return err
	}
	writeJSON(w, http.StatusOK, success(map[string]any{
		"free_bandwidth":   res.FreeBandwidth(),
		"bandwidth_limit":  res.NetLimit,
		"bandwidth_used":   res.NetUsed,
		"energy_limit":     res.EnergyLimit,
		"energy_used":      res.EnergyUsed,
		"available_energy": res.AvailableEnergy(),
	}))
	return nil
}

func (s *Server) stakingFreeze(w http.ResponseWriter, r *http.Request, _ httprouter.Params) error {
	req, err := decodeStakingRequest(r)
	if err != nil {
		return err
	}
	txid, err := s.wallet.Freeze(r.Context(), req.Amount, req.Resource)
	if err != nil {
		return err
	}
	writeJSON(w, http.StatusOK, success(map[string]any{"txid": txid}))
	return nil
}

func (s *Server) stakingUnfreeze(w http.ResponseWriter, r *http.Request, _ httprouter.Params) error {
	req, err := decodeStakingRequest(r)
	if err != nil {
		return err
	}
	txid, err := s.wallet.Unfreeze(r.Context(), req.Amount, req.Resource)
	if err != nil {
		return err
	}
	writeJSON(w, http.StatusOK, success(map[string]any{"txid": txid}))
	return nil
}

func (s *Server) stakingWithdrawUnfrozen(w http.ResponseWriter, r *http.Request, _ httprouter.Params) error {
	txid, err := s.wallet.WithdrawUnfrozen(r.Context())
	if err != nil {
		return err
	}
	writeJSON(w, http.StatusOK, success(map[string]any{"txid": txid}))
	return nil
}

func (s *Server) stakingClaimReward(w http.ResponseWriter, r *http.Request, _ httprouter.Params) error {
	txid, err := s.wallet.ClaimVotingReward(r.Context())
	if err != nil {
		return err
	}
	writeJSON(w, http.StatusOK, success(map[string]any{"txid": txid}))
	return nil
}

func (s *Server) stakingDelegate(w http.ResponseWriter, r *http.Request, _ httprouter.Params) error {
	req, err := decodeStakingRequest(r)
	if err != nil {
		return err
	}
	if req.Receiver == "" {
		return fmt.Errorf("receiver is required")
	}
	txid, err := s.wallet.Delegate(r.Context(), req.Receiver, req.Amount, req.Resource)
	if err != nil {
		return err
	}
	writeJSON(w, http.StatusOK, success(map[string]any{"txid": txid}))
	return nil
}

func (s *Server) stakingUndelegate(w http.ResponseWriter, r *http.Request, _ httprouter.Params) error {
	req, err := decodeStakingRequest(r)
	if err != nil {
		return err
	}
	if req.Receiver == "" {
		return fmt.Errorf("receiver is required")
	}
	txid, err := s.wallet.Undelegate(r.Context(), req.Receiver, req.Amount, req.Resource)
	if err != nil {
		return err
	}
	writeJSON(w, http.StatusOK, success(map[string]any{"txid": txid}))
	return nil
}
