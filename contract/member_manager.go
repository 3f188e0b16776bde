package contract

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"guildregistry/model"

	"github.com/hyperledger/fabric-contract-api-go/contractapi"
	"github.com/hyperledger/fabric/common/flogging"
)

var memberLogger = flogging.MustGetLogger("guildregistry.membership")

// ValidRoles defines the set of capability tags a member may hold.
var ValidRoles = map[string]bool{
	model.RoleMember:  true,
	model.RoleOfficer: true,
	model.RoleLeader:  true,
}

// MemberManager handles membership records, role predicates, ban flags and the
// leader pointer. All other components authorize through it.
type MemberManager struct {
	Ctx contractapi.TransactionContextInterface
}

// NewMemberManager creates a new instance of MemberManager.
func NewMemberManager(ctx contractapi.TransactionContextInterface) *MemberManager {
	return &MemberManager{Ctx: ctx}
}

func isValidX509ID(id string) bool {
	return strings.HasPrefix(id, "x509::") || strings.HasPrefix(id, "eDUwOTo6") // base64 of "x509::"
}

// --- Key creation helpers ---

func (mm *MemberManager) createMemberKey(fullID string) (string, error) {
	return mm.Ctx.GetStub().CreateCompositeKey(memberObjectType, []string{fullID})
}

func (mm *MemberManager) createBanKey(fullID string) (string, error) {
	return mm.Ctx.GetStub().CreateCompositeKey(banFlagObjectType, []string{fullID})
}

// --- Caller identity ---

// CallerID retrieves the full X.509 ID of the current transactor.
func (mm *MemberManager) CallerID() (string, error) {
	clientIdentity := mm.Ctx.GetClientIdentity()
	if clientIdentity == nil {
		return "", errors.New("client identity is nil from context")
	}
	id, err := clientIdentity.GetID()
	if err != nil {
		return "", fmt.Errorf("failed to get client identity ID from context: %w", err)
	}
	if id == "" {
		return "", errors.New("client identity ID from context is empty")
	}
	if !isValidX509ID(id) {
		memberLogger.Warningf("Current client ID '%s' does not appear to be a standard X.509 format.", id)
	}
	return id, nil
}

// --- Member record access ---

// GetMember returns the member record, or nil without error when the identity
// is not currently a member.
func (mm *MemberManager) GetMember(fullID string) (*model.MemberRecord, error) {
	key, err := mm.createMemberKey(fullID)
	if err != nil {
		return nil, fmt.Errorf("failed to create member key for '%s': %w", fullID, err)
	}
	raw, err := mm.Ctx.GetStub().GetState(key)
	if err != nil {
		return nil, fmt.Errorf("ledger error retrieving member '%s': %w", fullID, err)
	}
	if raw == nil {
		return nil, nil
	}
	var rec model.MemberRecord
	if err := json.Unmarshal(raw, &rec); err != nil {
		return nil, fmt.Errorf("failed to unmarshal member record for '%s': %w", fullID, err)
	}
	if rec.Roles == nil {
		rec.Roles = []string{}
	}
	return &rec, nil
}

// RequireMember returns the record or ErrInvalidState when the identity holds
// no membership.
func (mm *MemberManager) RequireMember(fullID string) (*model.MemberRecord, error) {
	rec, err := mm.GetMember(fullID)
	if err != nil {
		return nil, err
	}
	if rec == nil {
		return nil, fmt.Errorf("'%s' is not a member: %w", fullID, ErrInvalidState)
	}
	return rec, nil
}

func (mm *MemberManager) PutMember(rec *model.MemberRecord) error {
	if rec.Roles == nil {
		rec.Roles = []string{}
	}
	key, err := mm.createMemberKey(rec.ID)
	if err != nil {
		return fmt.Errorf("failed to create member key for '%s': %w", rec.ID, err)
	}
	raw, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to marshal member record for '%s': %w", rec.ID, err)
	}
	if err := mm.Ctx.GetStub().PutState(key, raw); err != nil {
		return fmt.Errorf("failed to save member record for '%s': %w", rec.ID, err)
	}
	return nil
}

// DeleteMember removes the member record. The ban flag and passports are
// separate keys and survive deletion.
func (mm *MemberManager) DeleteMember(fullID string) error {
	key, err := mm.createMemberKey(fullID)
	if err != nil {
		return fmt.Errorf("failed to create member key for '%s': %w", fullID, err)
	}
	if err := mm.Ctx.GetStub().DelState(key); err != nil {
		return fmt.Errorf("failed to delete member record for '%s': %w", fullID, err)
	}
	return nil
}

// --- Role predicates ---

// HasRole reports whether the identity currently holds the given role.
// A non-member holds no roles.
func (mm *MemberManager) HasRole(fullID, role string) (bool, error) {
	rec, err := mm.GetMember(fullID)
	if err != nil {
		return false, err
	}
	if rec == nil {
		return false, nil
	}
	return rec.HasRole(role), nil
}

// RequireRole fails with ErrUnauthorized unless the identity holds the role.
func (mm *MemberManager) RequireRole(fullID, role string) error {
	has, err := mm.HasRole(fullID, role)
	if err != nil {
		return fmt.Errorf("error checking role '%s' for '%s': %w", role, fullID, err)
	}
	if !has {
		return fmt.Errorf("identity '%s' does not hold required role '%s': %w", fullID, role, ErrUnauthorized)
	}
	return nil
}

// RequireCallerRole resolves the transactor and checks the role in one step.
func (mm *MemberManager) RequireCallerRole(role string) (string, error) {
	callerID, err := mm.CallerID()
	if err != nil {
		return "", fmt.Errorf("failed to resolve caller for role check: %w", err)
	}
	if err := mm.RequireRole(callerID, role); err != nil {
		return "", err
	}
	return callerID, nil
}

// AddRole appends the role tag if absent. Officer and Leader require an
// existing Member tag.
func (mm *MemberManager) AddRole(rec *model.MemberRecord, role string) error {
	if !ValidRoles[role] {
		return fmt.Errorf("invalid role '%s': %w", role, ErrInvalidParameters)
	}
	if role != model.RoleMember && !rec.HasRole(model.RoleMember) {
		return fmt.Errorf("role '%s' requires member standing: %w", role, ErrInvalidState)
	}
	if rec.HasRole(role) {
		return nil
	}
	rec.Roles = append(rec.Roles, role)
	return nil
}

// RemoveRole drops the role tag if present.
func (mm *MemberManager) RemoveRole(rec *model.MemberRecord, role string) {
	kept := rec.Roles[:0]
	for _, r := range rec.Roles {
		if r != role {
			kept = append(kept, r)
		}
	}
	rec.Roles = kept
}

// --- Ban flag ---

// IsBanned reports whether the identity carries the permanent exclusion flag.
func (mm *MemberManager) IsBanned(fullID string) (bool, error) {
	key, err := mm.createBanKey(fullID)
	if err != nil {
		return false, fmt.Errorf("failed to create ban flag key for '%s': %w", fullID, err)
	}
	raw, err := mm.Ctx.GetStub().GetState(key)
	if err != nil {
		return false, fmt.Errorf("ledger error checking ban flag for '%s': %w", fullID, err)
	}
	return raw != nil && string(raw) == "true", nil
}

// SetBanned sets the one-way ban flag. There is no corresponding clear.
func (mm *MemberManager) SetBanned(fullID string) error {
	key, err := mm.createBanKey(fullID)
	if err != nil {
		return fmt.Errorf("failed to create ban flag key for '%s': %w", fullID, err)
	}
	if err := mm.Ctx.GetStub().PutState(key, []byte("true")); err != nil {
		return fmt.Errorf("failed to set ban flag for '%s': %w", fullID, err)
	}
	return nil
}

// --- Leader pointer ---

// Leader returns the full ID of the current leader. There is exactly one once
// the guild is initialized.
func (mm *MemberManager) Leader() (string, error) {
	raw, err := mm.Ctx.GetStub().GetState(leaderPointerKey)
	if err != nil {
		return "", fmt.Errorf("ledger error reading leader pointer: %w", err)
	}
	if raw == nil {
		return "", fmt.Errorf("guild has no leader recorded: %w", ErrInvalidState)
	}
	return string(raw), nil
}

func (mm *MemberManager) SetLeader(fullID string) error {
	if err := mm.Ctx.GetStub().PutState(leaderPointerKey, []byte(fullID)); err != nil {
		return fmt.Errorf("failed to save leader pointer: %w", err)
	}
	return nil
}
