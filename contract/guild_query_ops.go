package contract

import (
	"encoding/json"
	"fmt"
	"strconv"

	"guildregistry/model"

	"github.com/hyperledger/fabric-contract-api-go/contractapi"
)

// --- Query functions ---
// All read-only; available regardless of the pause flag.

// GetGuildInfo returns the guild's configuration and status record.
func (s *GuildSmartContract) GetGuildInfo(ctx contractapi.TransactionContextInterface) (*model.GuildInfo, error) {
	logger.Debug("Chaincode Call: GetGuildInfo")
	return s.loadGuildInfo(ctx)
}

// IsPaused reports whether the system-wide suspend flag is set.
func (s *GuildSmartContract) IsPaused(ctx contractapi.TransactionContextInterface) (bool, error) {
	info, err := s.loadGuildInfo(ctx)
	if err != nil {
		return false, err
	}
	return info.Paused, nil
}

// GetLeader returns the full ID of the current leader.
func (s *GuildSmartContract) GetLeader(ctx contractapi.TransactionContextInterface) (string, error) {
	return NewMemberManager(ctx).Leader()
}

// GetMember returns a member's record; fails if the identity is not a member.
func (s *GuildSmartContract) GetMember(ctx contractapi.TransactionContextInterface, user string) (*model.MemberRecord, error) {
	logger.Debugf("Chaincode Call: GetMember '%s'", user)
	return NewMemberManager(ctx).RequireMember(user)
}

// IsMemberBanned reports whether the identity carries the permanent ban flag.
func (s *GuildSmartContract) IsMemberBanned(ctx contractapi.TransactionContextInterface, user string) (bool, error) {
	return NewMemberManager(ctx).IsBanned(user)
}

// GetAllMembers lists every current member record.
func (s *GuildSmartContract) GetAllMembers(ctx contractapi.TransactionContextInterface) ([]model.MemberRecord, error) {
	logger.Debug("Chaincode Call: GetAllMembers")
	resultsIterator, err := ctx.GetStub().GetStateByPartialCompositeKey(memberObjectType, []string{})
	if err != nil {
		return nil, fmt.Errorf("GetAllMembers: failed to get members iterator: %w", err)
	}
	defer resultsIterator.Close()

	members := []model.MemberRecord{}
	for resultsIterator.HasNext() {
		queryResponse, iterErr := resultsIterator.Next()
		if iterErr != nil {
			memberLogger.Warningf("GetAllMembers: failed to get next member from iterator: %v. Skipping.", iterErr)
			continue
		}
		var rec model.MemberRecord
		if err := json.Unmarshal(queryResponse.Value, &rec); err != nil {
			memberLogger.Warningf("GetAllMembers: failed to unmarshal member data for key '%s': %v. Skipping.", queryResponse.Key, err)
			continue
		}
		if rec.Roles == nil {
			rec.Roles = []string{}
		}
		members = append(members, rec)
	}
	return members, nil
}

// GetPassport returns a passport by identifier.
func (s *GuildSmartContract) GetPassport(ctx contractapi.TransactionContextInterface, id uint64) (*model.Passport, error) {
	logger.Debugf("Chaincode Call: GetPassport #%d", id)
	p, err := s.getPassportByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if p == nil {
		return nil, fmt.Errorf("passport #%d does not exist: %w", id, ErrInvalidState)
	}
	return p, nil
}

// IsPassportActive is a pure lookup; identifiers never minted report false.
func (s *GuildSmartContract) IsPassportActive(ctx contractapi.TransactionContextInterface, id uint64) (bool, error) {
	p, err := s.getPassportByID(ctx, id)
	if err != nil {
		return false, err
	}
	return p != nil && p.Status == model.PassportActive, nil
}

// GetPassportByOwner returns the owner's most recent passport. Earlier revoked
// passports remain reachable by identifier through GetPassport.
func (s *GuildSmartContract) GetPassportByOwner(ctx contractapi.TransactionContextInterface, owner string) (*model.Passport, error) {
	id, err := s.passportIDForOwner(ctx, owner)
	if err != nil {
		return nil, err
	}
	if id == 0 {
		return nil, fmt.Errorf("'%s' never held a passport: %w", owner, ErrInvalidState)
	}
	return s.GetPassport(ctx, id)
}

// GetPassportCount returns how many passports have ever been issued.
func (s *GuildSmartContract) GetPassportCount(ctx contractapi.TransactionContextInterface) (uint64, error) {
	raw, err := ctx.GetStub().GetState(passportSeqKey)
	if err != nil {
		return 0, fmt.Errorf("GetPassportCount: failed to read sequence: %w", err)
	}
	if raw == nil {
		return 0, nil
	}
	count, err := strconv.ParseUint(string(raw), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("GetPassportCount: corrupt sequence value: %w", err)
	}
	return count, nil
}

// GetStakeAccount returns a participant's staking account (zeroed if they
// never staked).
func (s *GuildSmartContract) GetStakeAccount(ctx contractapi.TransactionContextInterface, owner string) (*model.StakeAccount, error) {
	logger.Debugf("Chaincode Call: GetStakeAccount '%s'", owner)
	return s.loadStakeAccount(ctx, owner)
}

// GetRewardState returns the global staking accumulator.
func (s *GuildSmartContract) GetRewardState(ctx contractapi.TransactionContextInterface) (*model.RewardState, error) {
	return s.loadRewardState(ctx)
}

// RewardPerToken returns the accumulator value as of the transaction
// timestamp, as a decimal string.
func (s *GuildSmartContract) RewardPerToken(ctx contractapi.TransactionContextInterface) (string, error) {
	rs, err := s.loadRewardState(ctx)
	if err != nil {
		return "", err
	}
	now, err := s.getCurrentTxTimestamp(ctx)
	if err != nil {
		return "", err
	}
	return rewardPerToken(rs, now.Unix()).String(), nil
}

// Earned returns the account's total unpaid reward as of the transaction
// timestamp, as a decimal string.
func (s *GuildSmartContract) Earned(ctx contractapi.TransactionContextInterface, account string) (string, error) {
	rs, err := s.loadRewardState(ctx)
	if err != nil {
		return "", err
	}
	acct, err := s.loadStakeAccount(ctx, account)
	if err != nil {
		return "", err
	}
	now, err := s.getCurrentTxTimestamp(ctx)
	if err != nil {
		return "", err
	}
	return earnedAt(rs, acct, now.Unix()).String(), nil
}

// GetProposal returns a treasury proposal by identifier.
func (s *GuildSmartContract) GetProposal(ctx contractapi.TransactionContextInterface, id uint64) (*model.Proposal, error) {
	logger.Debugf("Chaincode Call: GetProposal #%d", id)
	return s.getProposalByID(ctx, id)
}

// GetAllProposals lists every proposal ever created, open or terminal.
func (s *GuildSmartContract) GetAllProposals(ctx contractapi.TransactionContextInterface) ([]model.Proposal, error) {
	logger.Debug("Chaincode Call: GetAllProposals")
	resultsIterator, err := ctx.GetStub().GetStateByPartialCompositeKey(proposalObjectType, []string{})
	if err != nil {
		return nil, fmt.Errorf("GetAllProposals: failed to get proposals iterator: %w", err)
	}
	defer resultsIterator.Close()

	proposals := []model.Proposal{}
	for resultsIterator.HasNext() {
		queryResponse, iterErr := resultsIterator.Next()
		if iterErr != nil {
			treasuryLogger.Warningf("GetAllProposals: failed to get next proposal from iterator: %v. Skipping.", iterErr)
			continue
		}
		var p model.Proposal
		if err := json.Unmarshal(queryResponse.Value, &p); err != nil {
			treasuryLogger.Warningf("GetAllProposals: failed to unmarshal proposal data for key '%s': %v. Skipping.", queryResponse.Key, err)
			continue
		}
		if p.Approvals == nil {
			p.Approvals = []string{}
		}
		proposals = append(proposals, p)
	}
	return proposals, nil
}
