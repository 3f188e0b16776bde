package contract

import (
	"fmt"
	"time"

	"guildregistry/model"

	"github.com/hyperledger/fabric-contract-api-go/contractapi"
)

// --- Lifecycle: membership and role operations ---
// A member's standing moves NonMember -> Member -> {Officer} -> (Removed | Banned).
// Removed non-banned identities may rejoin and receive a fresh passport; the
// old one stays revoked forever. Banned is terminal.

// AddMember admits a new member and mints their passport. Officers (the Leader
// included) may add members; banned identities can never be re-added.
func (s *GuildSmartContract) AddMember(ctx contractapi.TransactionContextInterface, user string) error {
	if _, err := s.requireActive(ctx); err != nil {
		return fmt.Errorf("AddMember: %w", err)
	}
	mm := NewMemberManager(ctx)
	callerID, err := mm.RequireCallerRole(model.RoleOfficer)
	if err != nil {
		return fmt.Errorf("AddMember: %w", err)
	}
	if err := s.validateRequiredString(user, "user", maxStringInputLength*2); err != nil {
		return err
	}

	banned, err := mm.IsBanned(user)
	if err != nil {
		return fmt.Errorf("AddMember: %w", err)
	}
	if banned {
		return fmt.Errorf("'%s' is permanently banned: %w", user, ErrInvalidState)
	}
	existing, err := mm.GetMember(user)
	if err != nil {
		return fmt.Errorf("AddMember: %w", err)
	}
	if existing != nil {
		return fmt.Errorf("'%s' is already a member: %w", user, ErrInvalidState)
	}

	now, err := s.getCurrentTxTimestamp(ctx)
	if err != nil {
		return fmt.Errorf("AddMember: %w", err)
	}
	passport, err := s.mintPassport(ctx, user, now)
	if err != nil {
		return fmt.Errorf("AddMember: %w", err)
	}
	rec := &model.MemberRecord{
		ObjectType:    memberObjectType,
		ID:            user,
		Roles:         []string{model.RoleMember},
		PassportID:    passport.ID,
		JoinedAt:      now,
		LastUpdatedAt: now,
	}
	if err := mm.PutMember(rec); err != nil {
		return fmt.Errorf("AddMember: %w", err)
	}

	memberLogger.Infof("Member '%s' added by '%s' with passport #%d", user, callerID, passport.ID)
	s.emitGuildEvent(ctx, "MemberAdded", map[string]interface{}{
		"member": user, "passportId": passport.ID, "by": callerID, "timestamp": now,
	})
	return nil
}

// endMembership deletes the member record and revokes the passport as one
// atomic operation. The Leader must transfer leadership before losing
// membership, keeping the singleton-leader invariant unconditional.
func (s *GuildSmartContract) endMembership(ctx contractapi.TransactionContextInterface, mm *MemberManager, rec *model.MemberRecord, now time.Time) (uint64, error) {
	if rec.HasRole(model.RoleLeader) {
		return 0, fmt.Errorf("the leader must transfer leadership before losing membership: %w", ErrInvalidState)
	}
	if err := mm.DeleteMember(rec.ID); err != nil {
		return 0, err
	}
	passportID, _, err := s.revokePassport(ctx, rec.ID, now)
	if err != nil {
		return 0, err
	}
	return passportID, nil
}

// RemoveMember expels a member. Their passport is revoked in the same
// operation; a non-banned removed member may be re-added later.
func (s *GuildSmartContract) RemoveMember(ctx contractapi.TransactionContextInterface, user string) error {
	mm := NewMemberManager(ctx)
	callerID, err := mm.RequireCallerRole(model.RoleOfficer)
	if err != nil {
		return fmt.Errorf("RemoveMember: %w", err)
	}
	rec, err := mm.RequireMember(user)
	if err != nil {
		return fmt.Errorf("RemoveMember: %w", err)
	}
	now, err := s.getCurrentTxTimestamp(ctx)
	if err != nil {
		return fmt.Errorf("RemoveMember: %w", err)
	}
	passportID, err := s.endMembership(ctx, mm, rec, now)
	if err != nil {
		return fmt.Errorf("RemoveMember: %w", err)
	}

	memberLogger.Infof("Member '%s' removed by '%s' (passport #%d revoked)", user, callerID, passportID)
	s.emitGuildEvent(ctx, "MemberRemoved", map[string]interface{}{
		"member": user, "passportId": passportID, "by": callerID, "voluntary": false, "timestamp": now,
	})
	return nil
}

// BanMember sets the permanent exclusion flag, then performs removal. There is
// no unban operation; a banned identity can never rejoin. Leader only.
func (s *GuildSmartContract) BanMember(ctx contractapi.TransactionContextInterface, user string) error {
	mm := NewMemberManager(ctx)
	callerID, err := mm.RequireCallerRole(model.RoleLeader)
	if err != nil {
		return fmt.Errorf("BanMember: %w", err)
	}
	rec, err := mm.RequireMember(user)
	if err != nil {
		return fmt.Errorf("BanMember: %w", err)
	}
	now, err := s.getCurrentTxTimestamp(ctx)
	if err != nil {
		return fmt.Errorf("BanMember: %w", err)
	}
	if err := mm.SetBanned(user); err != nil {
		return fmt.Errorf("BanMember: %w", err)
	}
	passportID, err := s.endMembership(ctx, mm, rec, now)
	if err != nil {
		return fmt.Errorf("BanMember: %w", err)
	}

	memberLogger.Infof("Member '%s' banned by leader '%s' (passport #%d revoked)", user, callerID, passportID)
	s.emitGuildEvent(ctx, "MemberBanned", map[string]interface{}{
		"member": user, "passportId": passportID, "by": callerID, "timestamp": now,
	})
	return nil
}

// LeaveGuild is self-service removal for any member except the Leader.
func (s *GuildSmartContract) LeaveGuild(ctx contractapi.TransactionContextInterface) error {
	if _, err := s.requireActive(ctx); err != nil {
		return fmt.Errorf("LeaveGuild: %w", err)
	}
	mm := NewMemberManager(ctx)
	callerID, err := mm.RequireCallerRole(model.RoleMember)
	if err != nil {
		return fmt.Errorf("LeaveGuild: %w", err)
	}
	rec, err := mm.RequireMember(callerID)
	if err != nil {
		return fmt.Errorf("LeaveGuild: %w", err)
	}
	now, err := s.getCurrentTxTimestamp(ctx)
	if err != nil {
		return fmt.Errorf("LeaveGuild: %w", err)
	}
	passportID, err := s.endMembership(ctx, mm, rec, now)
	if err != nil {
		return fmt.Errorf("LeaveGuild: %w", err)
	}

	memberLogger.Infof("Member '%s' left the guild (passport #%d revoked)", callerID, passportID)
	s.emitGuildEvent(ctx, "MemberRemoved", map[string]interface{}{
		"member": callerID, "passportId": passportID, "by": callerID, "voluntary": true, "timestamp": now,
	})
	return nil
}

// PromoteToOfficer grants the Officer capability to an existing member.
// Leader only.
func (s *GuildSmartContract) PromoteToOfficer(ctx contractapi.TransactionContextInterface, user string) error {
	if _, err := s.requireActive(ctx); err != nil {
		return fmt.Errorf("PromoteToOfficer: %w", err)
	}
	mm := NewMemberManager(ctx)
	callerID, err := mm.RequireCallerRole(model.RoleLeader)
	if err != nil {
		return fmt.Errorf("PromoteToOfficer: %w", err)
	}
	rec, err := mm.GetMember(user)
	if err != nil {
		return fmt.Errorf("PromoteToOfficer: %w", err)
	}
	if rec == nil || !rec.HasRole(model.RoleMember) {
		return fmt.Errorf("'%s' is not a member: %w", user, ErrInvalidState)
	}
	if rec.HasRole(model.RoleOfficer) {
		return fmt.Errorf("'%s' is already an officer: %w", user, ErrInvalidState)
	}
	now, err := s.getCurrentTxTimestamp(ctx)
	if err != nil {
		return fmt.Errorf("PromoteToOfficer: %w", err)
	}
	if err := mm.AddRole(rec, model.RoleOfficer); err != nil {
		return fmt.Errorf("PromoteToOfficer: %w", err)
	}
	rec.LastUpdatedAt = now
	if err := mm.PutMember(rec); err != nil {
		return fmt.Errorf("PromoteToOfficer: %w", err)
	}

	memberLogger.Infof("Member '%s' promoted to officer by leader '%s'", user, callerID)
	s.emitGuildEvent(ctx, "OfficerPromoted", map[string]interface{}{
		"member": user, "by": callerID, "timestamp": now,
	})
	return nil
}

// RenounceOfficer lets an officer step down voluntarily. The Leader cannot
// renounce Officer; leadership must be transferred first, so a sole Leader is
// never locked out of officer-gated actions.
func (s *GuildSmartContract) RenounceOfficer(ctx contractapi.TransactionContextInterface) error {
	if _, err := s.requireActive(ctx); err != nil {
		return fmt.Errorf("RenounceOfficer: %w", err)
	}
	mm := NewMemberManager(ctx)
	callerID, err := mm.RequireCallerRole(model.RoleOfficer)
	if err != nil {
		return fmt.Errorf("RenounceOfficer: %w", err)
	}
	rec, err := mm.RequireMember(callerID)
	if err != nil {
		return fmt.Errorf("RenounceOfficer: %w", err)
	}
	if rec.HasRole(model.RoleLeader) {
		return fmt.Errorf("the leader cannot renounce officer standing: %w", ErrUnauthorized)
	}
	now, err := s.getCurrentTxTimestamp(ctx)
	if err != nil {
		return fmt.Errorf("RenounceOfficer: %w", err)
	}
	mm.RemoveRole(rec, model.RoleOfficer)
	rec.LastUpdatedAt = now
	if err := mm.PutMember(rec); err != nil {
		return fmt.Errorf("RenounceOfficer: %w", err)
	}

	memberLogger.Infof("Officer '%s' renounced", callerID)
	s.emitGuildEvent(ctx, "OfficerRenounced", map[string]interface{}{
		"member": callerID, "timestamp": now,
	})
	return nil
}

// TransferLeadership atomically moves the Leader role and pause capability to
// an existing officer. Available while paused so a guild can always recover.
func (s *GuildSmartContract) TransferLeadership(ctx contractapi.TransactionContextInterface, newLeader string) error {
	mm := NewMemberManager(ctx)
	callerID, err := mm.RequireCallerRole(model.RoleLeader)
	if err != nil {
		return fmt.Errorf("TransferLeadership: %w", err)
	}
	if err := mm.RequireRole(newLeader, model.RoleOfficer); err != nil {
		return fmt.Errorf("TransferLeadership: new leader must be an officer: %w", err)
	}
	if newLeader == callerID {
		return fmt.Errorf("leadership is already held by '%s': %w", callerID, ErrInvalidState)
	}

	oldRec, err := mm.RequireMember(callerID)
	if err != nil {
		return fmt.Errorf("TransferLeadership: %w", err)
	}
	newRec, err := mm.RequireMember(newLeader)
	if err != nil {
		return fmt.Errorf("TransferLeadership: %w", err)
	}
	now, err := s.getCurrentTxTimestamp(ctx)
	if err != nil {
		return fmt.Errorf("TransferLeadership: %w", err)
	}

	mm.RemoveRole(oldRec, model.RoleLeader)
	if err := mm.AddRole(newRec, model.RoleLeader); err != nil {
		return fmt.Errorf("TransferLeadership: %w", err)
	}
	oldRec.LastUpdatedAt = now
	newRec.LastUpdatedAt = now
	if err := mm.PutMember(oldRec); err != nil {
		return fmt.Errorf("TransferLeadership: %w", err)
	}
	if err := mm.PutMember(newRec); err != nil {
		return fmt.Errorf("TransferLeadership: %w", err)
	}
	if err := mm.SetLeader(newLeader); err != nil {
		return fmt.Errorf("TransferLeadership: %w", err)
	}

	memberLogger.Infof("Leadership transferred from '%s' to '%s'", callerID, newLeader)
	s.emitGuildEvent(ctx, "LeadershipTransferred", map[string]interface{}{
		"oldLeader": callerID, "newLeader": newLeader, "timestamp": now,
	})
	return nil
}
