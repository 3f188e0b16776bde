package contract

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"guildregistry/model"

	"github.com/hyperledger/fabric-contract-api-go/contractapi"
	"github.com/hyperledger/fabric/common/flogging"
)

var passportLogger = flogging.MustGetLogger("guildregistry.passports")

// --- Passport ledger internals ---
// Passports are minted and revoked only through the membership lifecycle; the
// public surface for them is queries plus the always-failing transfer ops.

func (s *GuildSmartContract) createPassportKey(ctx contractapi.TransactionContextInterface, id uint64) (string, error) {
	return ctx.GetStub().CreateCompositeKey(passportObjectType, []string{padID(id)})
}

func (s *GuildSmartContract) createPassportOwnerKey(ctx contractapi.TransactionContextInterface, owner string) (string, error) {
	return ctx.GetStub().CreateCompositeKey(passportOwnerObjectType, []string{owner})
}

func (s *GuildSmartContract) getPassportByID(ctx contractapi.TransactionContextInterface, id uint64) (*model.Passport, error) {
	key, err := s.createPassportKey(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to create passport key for #%d: %w", id, err)
	}
	raw, err := ctx.GetStub().GetState(key)
	if err != nil {
		return nil, fmt.Errorf("ledger error retrieving passport #%d: %w", id, err)
	}
	if raw == nil {
		return nil, nil
	}
	var p model.Passport
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, fmt.Errorf("failed to unmarshal passport #%d: %w", id, err)
	}
	return &p, nil
}

func (s *GuildSmartContract) putPassport(ctx contractapi.TransactionContextInterface, p *model.Passport) error {
	key, err := s.createPassportKey(ctx, p.ID)
	if err != nil {
		return fmt.Errorf("failed to create passport key for #%d: %w", p.ID, err)
	}
	raw, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("failed to marshal passport #%d: %w", p.ID, err)
	}
	if err := ctx.GetStub().PutState(key, raw); err != nil {
		return fmt.Errorf("failed to save passport #%d: %w", p.ID, err)
	}
	return nil
}

// passportIDForOwner returns the owner's latest passport id, or 0 when the
// identity never held one.
func (s *GuildSmartContract) passportIDForOwner(ctx contractapi.TransactionContextInterface, owner string) (uint64, error) {
	key, err := s.createPassportOwnerKey(ctx, owner)
	if err != nil {
		return 0, fmt.Errorf("failed to create passport owner key for '%s': %w", owner, err)
	}
	raw, err := ctx.GetStub().GetState(key)
	if err != nil {
		return 0, fmt.Errorf("ledger error reading passport index for '%s': %w", owner, err)
	}
	if raw == nil {
		return 0, nil
	}
	id, err := strconv.ParseUint(string(raw), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("corrupt passport index for '%s': %w", owner, err)
	}
	return id, nil
}

// mintPassport issues the next sequential passport to owner. The owner must
// not hold an active credential; a revoked one stays on the ledger and the
// index is repointed at the new identifier.
func (s *GuildSmartContract) mintPassport(ctx contractapi.TransactionContextInterface, owner string, now time.Time) (*model.Passport, error) {
	existingID, err := s.passportIDForOwner(ctx, owner)
	if err != nil {
		return nil, err
	}
	if existingID != 0 {
		existing, err := s.getPassportByID(ctx, existingID)
		if err != nil {
			return nil, err
		}
		if existing != nil && existing.Status == model.PassportActive {
			return nil, fmt.Errorf("'%s' already holds active passport #%d: %w", owner, existingID, ErrInvalidState)
		}
	}

	id, err := s.nextSequence(ctx, passportSeqKey)
	if err != nil {
		return nil, err
	}
	passport := &model.Passport{
		ObjectType: passportObjectType,
		ID:         id,
		Owner:      owner,
		Status:     model.PassportActive,
		IssuedAt:   now,
	}
	if err := s.putPassport(ctx, passport); err != nil {
		return nil, err
	}
	ownerKey, err := s.createPassportOwnerKey(ctx, owner)
	if err != nil {
		return nil, err
	}
	if err := ctx.GetStub().PutState(ownerKey, []byte(strconv.FormatUint(id, 10))); err != nil {
		return nil, fmt.Errorf("failed to save passport index for '%s': %w", owner, err)
	}
	passportLogger.Infof("Passport #%d minted for '%s'", id, owner)
	return passport, nil
}

// revokePassport flips the owner's passport Active -> Revoked. Idempotent:
// revoking an already-revoked passport reports alreadyRevoked so the caller
// does not emit a second revocation fact. The transition is terminal.
func (s *GuildSmartContract) revokePassport(ctx contractapi.TransactionContextInterface, owner string, now time.Time) (id uint64, alreadyRevoked bool, err error) {
	id, err = s.passportIDForOwner(ctx, owner)
	if err != nil {
		return 0, false, err
	}
	if id == 0 {
		return 0, false, fmt.Errorf("'%s' holds no passport: %w", owner, ErrInvalidState)
	}
	passport, err := s.getPassportByID(ctx, id)
	if err != nil {
		return 0, false, err
	}
	if passport == nil {
		return 0, false, fmt.Errorf("passport #%d indexed for '%s' does not exist: %w", id, owner, ErrInvalidState)
	}
	if passport.Status == model.PassportRevoked {
		passportLogger.Debugf("Passport #%d for '%s' already revoked; no-op", id, owner)
		return id, true, nil
	}
	passport.Status = model.PassportRevoked
	passport.RevokedAt = now
	if err := s.putPassport(ctx, passport); err != nil {
		return 0, false, err
	}
	passportLogger.Infof("Passport #%d revoked for '%s'", id, owner)
	return id, false, nil
}

// --- Soulbound enforcement ---
// A passport is a status marker, never a tradable asset. Every ownership or
// approval operation is permanently disabled, for the holder and anyone else.

// TransferPassport always fails: passports are bound to the member they were
// issued to.
func (s *GuildSmartContract) TransferPassport(ctx contractapi.TransactionContextInterface, passportID uint64, to string) error {
	caller, _ := NewMemberManager(ctx).CallerID()
	passportLogger.Infof("Rejected transfer of passport #%d to '%s' attempted by '%s'", passportID, to, caller)
	return fmt.Errorf("passport #%d cannot change owner: %w", passportID, ErrNonTransferable)
}

// ApprovePassport always fails: approval-granting is permanently disabled.
func (s *GuildSmartContract) ApprovePassport(ctx contractapi.TransactionContextInterface, passportID uint64, spender string) error {
	caller, _ := NewMemberManager(ctx).CallerID()
	passportLogger.Infof("Rejected approval on passport #%d for '%s' attempted by '%s'", passportID, spender, caller)
	return fmt.Errorf("passport #%d cannot be approved for transfer: %w", passportID, ErrNonTransferable)
}

// SetPassportApprovalForAll always fails: operator approvals are permanently
// disabled.
func (s *GuildSmartContract) SetPassportApprovalForAll(ctx contractapi.TransactionContextInterface, operator string, approved bool) error {
	caller, _ := NewMemberManager(ctx).CallerID()
	passportLogger.Infof("Rejected operator approval for '%s' attempted by '%s'", operator, caller)
	return fmt.Errorf("passport operator approvals are disabled: %w", ErrNonTransferable)
}
