package contract

import (
	"fmt"

	"guildregistry/model"

	"github.com/hyperledger/fabric-contract-api-go/contractapi"
	"github.com/hyperledger/fabric/common/flogging"
)

var logger = flogging.MustGetLogger("guildregistry.guildcontract")

// GuildSmartContract is the self-sovereign guild ledger: membership and role
// lifecycle with soulbound passports, a continuous-time staking reward engine,
// and a threshold-approval treasury workflow. Every transaction function
// performs authorization against the member registry before mutating exactly
// one component's state and emitting a domain event.
// @contract:GuildSmartContract
type GuildSmartContract struct {
	contractapi.Contract

	// valueGuard protects every operation that moves tokens through an
	// external asset contract against reentrant invocation.
	valueGuard entryGuard
}

// Instantiate is called during chaincode instantiation.
func (s *GuildSmartContract) Instantiate(ctx contractapi.TransactionContextInterface) {
	logger.Info("GuildSmartContract Instantiated/Upgraded")
}

// InitGuild bootstraps a new guild exactly once. The caller becomes the
// founding Leader (with Officer and Member standing and the pause capability)
// and receives passport #1. The vault account is the guild's account in the
// external token contracts, provisioned by the custody provider beforehand;
// only its address is recorded here.
func (s *GuildSmartContract) InitGuild(ctx contractapi.TransactionContextInterface,
	name, description, stakeToken, rewardToken, treasuryToken, vaultAccount string,
	approvalThreshold uint32) error {

	existing, err := ctx.GetStub().GetState(guildInfoKey)
	if err != nil {
		return fmt.Errorf("InitGuild: failed to check for existing guild: %w", err)
	}
	if existing != nil {
		return fmt.Errorf("guild is already initialized: %w", ErrInvalidState)
	}

	if err := s.validateRequiredString(name, "name", maxStringInputLength); err != nil {
		return err
	}
	if err := s.validateOptionalString(description, "description", maxDescriptionLength); err != nil {
		return err
	}
	if err := s.validateRequiredString(stakeToken, "stakeToken", maxStringInputLength); err != nil {
		return err
	}
	if err := s.validateRequiredString(rewardToken, "rewardToken", maxStringInputLength); err != nil {
		return err
	}
	if err := s.validateRequiredString(treasuryToken, "treasuryToken", maxStringInputLength); err != nil {
		return err
	}
	if err := s.validateRequiredString(vaultAccount, "vaultAccount", maxStringInputLength); err != nil {
		return err
	}
	if approvalThreshold == 0 {
		return fmt.Errorf("approvalThreshold must be positive: %w", ErrInvalidParameters)
	}

	mm := NewMemberManager(ctx)
	founderID, err := mm.CallerID()
	if err != nil {
		return fmt.Errorf("InitGuild: failed to get founder identity: %w", err)
	}
	now, err := s.getCurrentTxTimestamp(ctx)
	if err != nil {
		return fmt.Errorf("InitGuild: %w", err)
	}

	info := &model.GuildInfo{
		ObjectType:        "GuildInfo",
		Name:              name,
		Description:       description,
		StakeToken:        stakeToken,
		RewardToken:       rewardToken,
		TreasuryToken:     treasuryToken,
		VaultAccount:      vaultAccount,
		ApprovalThreshold: approvalThreshold,
		Founder:           founderID,
		CreatedAt:         now,
		LastUpdatedAt:     now,
	}
	if err := s.saveGuildInfo(ctx, info); err != nil {
		return fmt.Errorf("InitGuild: %w", err)
	}
	if err := mm.SetLeader(founderID); err != nil {
		return fmt.Errorf("InitGuild: %w", err)
	}

	passport, err := s.mintPassport(ctx, founderID, now)
	if err != nil {
		return fmt.Errorf("InitGuild: failed to mint founder passport: %w", err)
	}
	founder := &model.MemberRecord{
		ObjectType:    memberObjectType,
		ID:            founderID,
		Roles:         []string{model.RoleMember, model.RoleOfficer, model.RoleLeader},
		PassportID:    passport.ID,
		JoinedAt:      now,
		LastUpdatedAt: now,
	}
	if err := mm.PutMember(founder); err != nil {
		return fmt.Errorf("InitGuild: %w", err)
	}

	if err := s.saveRewardState(ctx, newRewardState()); err != nil {
		return fmt.Errorf("InitGuild: %w", err)
	}

	logger.Infof("Guild '%s' founded by '%s' with approval threshold %d", name, founderID, approvalThreshold)
	s.emitGuildEvent(ctx, "GuildFounded", map[string]interface{}{
		"name":              name,
		"founder":           founderID,
		"passportId":        passport.ID,
		"approvalThreshold": approvalThreshold,
		"vaultAccount":      vaultAccount,
		"timestamp":         now,
	})
	return nil
}

// Pause sets the system-wide suspend flag. Staking, membership changes and the
// proposal workflow are blocked while set; EmergencyWithdraw and all views
// stay available. Only the Leader holds the pause capability.
func (s *GuildSmartContract) Pause(ctx contractapi.TransactionContextInterface) error {
	mm := NewMemberManager(ctx)
	callerID, err := mm.RequireCallerRole(model.RoleLeader)
	if err != nil {
		return fmt.Errorf("Pause: %w", err)
	}
	info, err := s.loadGuildInfo(ctx)
	if err != nil {
		return fmt.Errorf("Pause: %w", err)
	}
	if info.Paused {
		return fmt.Errorf("guild is already paused: %w", ErrInvalidState)
	}
	now, err := s.getCurrentTxTimestamp(ctx)
	if err != nil {
		return fmt.Errorf("Pause: %w", err)
	}
	info.Paused = true
	info.LastUpdatedAt = now
	if err := s.saveGuildInfo(ctx, info); err != nil {
		return fmt.Errorf("Pause: %w", err)
	}
	logger.Infof("Guild paused by leader '%s'", callerID)
	s.emitGuildEvent(ctx, "GuildPaused", map[string]interface{}{"by": callerID, "timestamp": now})
	return nil
}

// Unpause clears the suspend flag.
func (s *GuildSmartContract) Unpause(ctx contractapi.TransactionContextInterface) error {
	mm := NewMemberManager(ctx)
	callerID, err := mm.RequireCallerRole(model.RoleLeader)
	if err != nil {
		return fmt.Errorf("Unpause: %w", err)
	}
	info, err := s.loadGuildInfo(ctx)
	if err != nil {
		return fmt.Errorf("Unpause: %w", err)
	}
	if !info.Paused {
		return fmt.Errorf("guild is not paused: %w", ErrInvalidState)
	}
	now, err := s.getCurrentTxTimestamp(ctx)
	if err != nil {
		return fmt.Errorf("Unpause: %w", err)
	}
	info.Paused = false
	info.LastUpdatedAt = now
	if err := s.saveGuildInfo(ctx, info); err != nil {
		return fmt.Errorf("Unpause: %w", err)
	}
	logger.Infof("Guild unpaused by leader '%s'", callerID)
	s.emitGuildEvent(ctx, "GuildUnpaused", map[string]interface{}{"by": callerID, "timestamp": now})
	return nil
}

// UpdateGuildMetadata replaces the guild's logo and banner URIs.
func (s *GuildSmartContract) UpdateGuildMetadata(ctx contractapi.TransactionContextInterface, logoURI, bannerURI string) error {
	mm := NewMemberManager(ctx)
	callerID, err := mm.RequireCallerRole(model.RoleLeader)
	if err != nil {
		return fmt.Errorf("UpdateGuildMetadata: %w", err)
	}
	if err := s.validateOptionalString(logoURI, "logoURI", maxURILength); err != nil {
		return err
	}
	if err := s.validateOptionalString(bannerURI, "bannerURI", maxURILength); err != nil {
		return err
	}
	info, err := s.loadGuildInfo(ctx)
	if err != nil {
		return fmt.Errorf("UpdateGuildMetadata: %w", err)
	}
	now, err := s.getCurrentTxTimestamp(ctx)
	if err != nil {
		return fmt.Errorf("UpdateGuildMetadata: %w", err)
	}
	info.LogoURI = logoURI
	info.BannerURI = bannerURI
	info.LastUpdatedAt = now
	if err := s.saveGuildInfo(ctx, info); err != nil {
		return fmt.Errorf("UpdateGuildMetadata: %w", err)
	}
	logger.Infof("Guild metadata updated by leader '%s'", callerID)
	s.emitGuildEvent(ctx, "GuildMetadataUpdated", map[string]interface{}{
		"by": callerID, "logoUri": logoURI, "bannerUri": bannerURI, "timestamp": now,
	})
	return nil
}
