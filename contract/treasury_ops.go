package contract

import (
	"encoding/json"
	"fmt"
	"time"

	"guildregistry/model"

	"github.com/hyperledger/fabric-contract-api-go/contractapi"
	"github.com/hyperledger/fabric/common/flogging"
)

var treasuryLogger = flogging.MustGetLogger("guildregistry.treasury")

// --- Treasury proposal workflow ---
// Per proposal: Created -> {Approving} -> (Executed | Cancelled | Expired).
// Expired is implicit: the deadline passed with no flag set. A proposal is
// immutable once approvals begin, except for the approval set and the
// executed/cancelled flags.

func (s *GuildSmartContract) createProposalKey(ctx contractapi.TransactionContextInterface, id uint64) (string, error) {
	return ctx.GetStub().CreateCompositeKey(proposalObjectType, []string{padID(id)})
}

func (s *GuildSmartContract) getProposalByID(ctx contractapi.TransactionContextInterface, id uint64) (*model.Proposal, error) {
	key, err := s.createProposalKey(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to create proposal key for #%d: %w", id, err)
	}
	raw, err := ctx.GetStub().GetState(key)
	if err != nil {
		return nil, fmt.Errorf("ledger error retrieving proposal #%d: %w", id, err)
	}
	if raw == nil {
		return nil, fmt.Errorf("proposal #%d does not exist: %w", id, ErrInvalidState)
	}
	var p model.Proposal
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, fmt.Errorf("failed to unmarshal proposal #%d: %w", id, err)
	}
	if p.Approvals == nil {
		p.Approvals = []string{}
	}
	return &p, nil
}

func (s *GuildSmartContract) putProposal(ctx contractapi.TransactionContextInterface, p *model.Proposal) error {
	key, err := s.createProposalKey(ctx, p.ID)
	if err != nil {
		return fmt.Errorf("failed to create proposal key for #%d: %w", p.ID, err)
	}
	raw, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("failed to marshal proposal #%d: %w", p.ID, err)
	}
	if err := ctx.GetStub().PutState(key, raw); err != nil {
		return fmt.Errorf("failed to save proposal #%d: %w", p.ID, err)
	}
	return nil
}

// requireOpenProposal rejects finalized and expired proposals.
func requireOpenProposal(p *model.Proposal, now time.Time) error {
	if p.Executed || p.Cancelled {
		return fmt.Errorf("proposal #%d is already finalized: %w", p.ID, ErrInvalidState)
	}
	if !now.Before(p.Deadline) {
		return fmt.Errorf("proposal #%d deadline has passed: %w", p.ID, ErrExpired)
	}
	return nil
}

// CreateProposal opens a treasury spend for officer approval. The asset names
// a token chaincode; empty selects the guild's treasury token. Returns the new
// proposal identifier.
func (s *GuildSmartContract) CreateProposal(ctx contractapi.TransactionContextInterface,
	to, amount, asset, description string, duration uint64) (uint64, error) {

	if _, err := s.requireActive(ctx); err != nil {
		return 0, fmt.Errorf("CreateProposal: %w", err)
	}
	mm := NewMemberManager(ctx)
	callerID, err := mm.RequireCallerRole(model.RoleOfficer)
	if err != nil {
		return 0, fmt.Errorf("CreateProposal: %w", err)
	}
	if err := s.validateRequiredString(to, "to", maxStringInputLength*2); err != nil {
		return 0, err
	}
	spendAmount, err := parsePositiveAmount(amount, "amount")
	if err != nil {
		return 0, err
	}
	if err := s.validateOptionalString(asset, "asset", maxStringInputLength); err != nil {
		return 0, err
	}
	if err := s.validateOptionalString(description, "description", maxDescriptionLength); err != nil {
		return 0, err
	}
	if duration == 0 {
		return 0, fmt.Errorf("duration must be positive: %w", ErrInvalidParameters)
	}

	now, err := s.getCurrentTxTimestamp(ctx)
	if err != nil {
		return 0, fmt.Errorf("CreateProposal: %w", err)
	}
	id, err := s.nextSequence(ctx, proposalSeqKey)
	if err != nil {
		return 0, fmt.Errorf("CreateProposal: %w", err)
	}
	proposal := &model.Proposal{
		ObjectType:    proposalObjectType,
		ID:            id,
		Proposer:      callerID,
		To:            to,
		Amount:        model.NewBigInt(spendAmount),
		Asset:         asset,
		Description:   description,
		Deadline:      now.Add(time.Duration(duration) * time.Second),
		Approvals:     []string{},
		CreatedAt:     now,
		LastUpdatedAt: now,
	}
	if err := s.putProposal(ctx, proposal); err != nil {
		return 0, fmt.Errorf("CreateProposal: %w", err)
	}

	treasuryLogger.Infof("Proposal #%d created by officer '%s': %s to '%s' (deadline %s)",
		id, callerID, spendAmount, to, proposal.Deadline.Format(time.RFC3339))
	s.emitGuildEvent(ctx, "ProposalCreated", map[string]interface{}{
		"proposalId": id, "proposer": callerID, "to": to, "amount": spendAmount.String(),
		"asset": asset, "deadline": proposal.Deadline, "timestamp": now,
	})
	return id, nil
}

// ApproveProposal records one officer's approval. Each officer approves a
// given proposal at most once.
func (s *GuildSmartContract) ApproveProposal(ctx contractapi.TransactionContextInterface, id uint64) error {
	if _, err := s.requireActive(ctx); err != nil {
		return fmt.Errorf("ApproveProposal: %w", err)
	}
	mm := NewMemberManager(ctx)
	callerID, err := mm.RequireCallerRole(model.RoleOfficer)
	if err != nil {
		return fmt.Errorf("ApproveProposal: %w", err)
	}
	p, err := s.getProposalByID(ctx, id)
	if err != nil {
		return fmt.Errorf("ApproveProposal: %w", err)
	}
	now, err := s.getCurrentTxTimestamp(ctx)
	if err != nil {
		return fmt.Errorf("ApproveProposal: %w", err)
	}
	if err := requireOpenProposal(p, now); err != nil {
		return fmt.Errorf("ApproveProposal: %w", err)
	}
	if p.HasApproved(callerID) {
		return fmt.Errorf("'%s' already approved proposal #%d: %w", callerID, id, ErrInvalidState)
	}
	p.Approvals = append(p.Approvals, callerID)
	p.LastUpdatedAt = now
	if err := s.putProposal(ctx, p); err != nil {
		return fmt.Errorf("ApproveProposal: %w", err)
	}

	treasuryLogger.Infof("Proposal #%d approved by officer '%s' (%d approvals)", id, callerID, len(p.Approvals))
	s.emitGuildEvent(ctx, "ProposalApproved", map[string]interface{}{
		"proposalId": id, "approver": callerID, "approvalCount": len(p.Approvals), "timestamp": now,
	})
	return nil
}

// ExecuteProposal releases the funds once the approval quorum is met. The
// executed flag is persisted before the external transfer to close the
// reentrancy window; a failed transfer aborts the transaction and the flag
// with it.
func (s *GuildSmartContract) ExecuteProposal(ctx contractapi.TransactionContextInterface, id uint64) error {
	if err := s.valueGuard.enter(); err != nil {
		return fmt.Errorf("ExecuteProposal: %w", err)
	}
	defer s.valueGuard.exit()

	info, err := s.requireActive(ctx)
	if err != nil {
		return fmt.Errorf("ExecuteProposal: %w", err)
	}
	mm := NewMemberManager(ctx)
	callerID, err := mm.RequireCallerRole(model.RoleOfficer)
	if err != nil {
		return fmt.Errorf("ExecuteProposal: %w", err)
	}
	p, err := s.getProposalByID(ctx, id)
	if err != nil {
		return fmt.Errorf("ExecuteProposal: %w", err)
	}
	now, err := s.getCurrentTxTimestamp(ctx)
	if err != nil {
		return fmt.Errorf("ExecuteProposal: %w", err)
	}
	if err := requireOpenProposal(p, now); err != nil {
		return fmt.Errorf("ExecuteProposal: %w", err)
	}
	if uint32(len(p.Approvals)) < info.ApprovalThreshold {
		return fmt.Errorf("proposal #%d has %d of %d required approvals: %w",
			id, len(p.Approvals), info.ApprovalThreshold, ErrQuorumNotMet)
	}

	p.Executed = true
	p.LastUpdatedAt = now
	if err := s.putProposal(ctx, p); err != nil {
		return fmt.Errorf("ExecuteProposal: %w", err)
	}

	assetName := p.Asset
	if assetName == "" {
		assetName = info.TreasuryToken
	}
	token := newAssetClient(ctx, assetName)
	if err := token.Transfer(p.To, p.Amount.Value()); err != nil {
		return fmt.Errorf("ExecuteProposal: transfer for proposal #%d failed: %w", id, err)
	}

	treasuryLogger.Infof("Proposal #%d executed by officer '%s': %s of '%s' to '%s'",
		id, callerID, p.Amount.String(), assetName, p.To)
	s.emitGuildEvent(ctx, "ProposalExecuted", map[string]interface{}{
		"proposalId": id, "executor": callerID, "to": p.To, "amount": p.Amount.String(),
		"asset": assetName, "timestamp": now,
	})
	return nil
}

// CancelProposal withdraws an unfinalized proposal; no funds move. Available
// while paused so stale proposals can be cleaned up.
func (s *GuildSmartContract) CancelProposal(ctx contractapi.TransactionContextInterface, id uint64) error {
	mm := NewMemberManager(ctx)
	callerID, err := mm.RequireCallerRole(model.RoleOfficer)
	if err != nil {
		return fmt.Errorf("CancelProposal: %w", err)
	}
	p, err := s.getProposalByID(ctx, id)
	if err != nil {
		return fmt.Errorf("CancelProposal: %w", err)
	}
	if p.Executed || p.Cancelled {
		return fmt.Errorf("proposal #%d is already finalized: %w", id, ErrInvalidState)
	}
	now, err := s.getCurrentTxTimestamp(ctx)
	if err != nil {
		return fmt.Errorf("CancelProposal: %w", err)
	}
	p.Cancelled = true
	p.LastUpdatedAt = now
	if err := s.putProposal(ctx, p); err != nil {
		return fmt.Errorf("CancelProposal: %w", err)
	}

	treasuryLogger.Infof("Proposal #%d cancelled by officer '%s'", id, callerID)
	s.emitGuildEvent(ctx, "ProposalCancelled", map[string]interface{}{
		"proposalId": id, "by": callerID, "timestamp": now,
	})
	return nil
}

// SetApprovalThreshold changes the quorum size for future executions.
// Leader only; the threshold is always positive.
func (s *GuildSmartContract) SetApprovalThreshold(ctx contractapi.TransactionContextInterface, n uint32) error {
	mm := NewMemberManager(ctx)
	callerID, err := mm.RequireCallerRole(model.RoleLeader)
	if err != nil {
		return fmt.Errorf("SetApprovalThreshold: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("approval threshold must be positive: %w", ErrInvalidParameters)
	}
	info, err := s.loadGuildInfo(ctx)
	if err != nil {
		return fmt.Errorf("SetApprovalThreshold: %w", err)
	}
	now, err := s.getCurrentTxTimestamp(ctx)
	if err != nil {
		return fmt.Errorf("SetApprovalThreshold: %w", err)
	}
	old := info.ApprovalThreshold
	info.ApprovalThreshold = n
	info.LastUpdatedAt = now
	if err := s.saveGuildInfo(ctx, info); err != nil {
		return fmt.Errorf("SetApprovalThreshold: %w", err)
	}

	treasuryLogger.Infof("Approval threshold changed %d -> %d by leader '%s'", old, n, callerID)
	s.emitGuildEvent(ctx, "ApprovalThresholdUpdated", map[string]interface{}{
		"oldThreshold": old, "newThreshold": n, "by": callerID, "timestamp": now,
	})
	return nil
}
