package contract

import (
	"encoding/json"
	"fmt"
	"math/big"
	"strconv"
	"strings"
	"sync"
	"time"

	"guildregistry/model"

	"github.com/hyperledger/fabric-contract-api-go/contractapi"
)

// Object types for composite keys, also usable as 'docType' in CouchDB.
const (
	memberObjectType        = "MemberRecord" // keyed by member full ID
	banFlagObjectType       = "BanFlag"      // keyed by member full ID, value "true", never deleted
	passportObjectType      = "Passport"     // keyed by zero-padded passport ID
	passportOwnerObjectType = "PassportOwner" // owner full ID -> latest passport ID
	stakeAccountObjectType  = "StakeAccount" // keyed by owner full ID
	proposalObjectType      = "Proposal"     // keyed by zero-padded proposal ID
)

// Plain state keys for process-wide singletons.
const (
	guildInfoKey     = "guild:info"
	leaderPointerKey = "guild:leader"
	rewardStateKey   = "guild:rewardState"
	passportSeqKey   = "guild:passportSeq"
	proposalSeqKey   = "guild:proposalSeq"
)

const (
	maxStringInputLength = 256
	maxDescriptionLength = 1024
	maxURILength         = 512
)

// idPadWidth keeps numeric composite-key attributes lexically ordered.
const idPadWidth = 12

// --- Core helper methods ---

func (s *GuildSmartContract) getCurrentTxTimestamp(ctx contractapi.TransactionContextInterface) (time.Time, error) {
	ts, err := ctx.GetStub().GetTxTimestamp()
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to get transaction timestamp: %w", err)
	}
	return ts.AsTime(), nil
}

func padID(id uint64) string {
	return fmt.Sprintf("%0*d", idPadWidth, id)
}

// nextSequence increments and persists a monotonic counter. Identifiers start
// at 1 and are never reused.
func (s *GuildSmartContract) nextSequence(ctx contractapi.TransactionContextInterface, key string) (uint64, error) {
	raw, err := ctx.GetStub().GetState(key)
	if err != nil {
		return 0, fmt.Errorf("failed to read sequence '%s': %w", key, err)
	}
	var next uint64 = 1
	if raw != nil {
		last, parseErr := strconv.ParseUint(string(raw), 10, 64)
		if parseErr != nil {
			return 0, fmt.Errorf("corrupt sequence value for '%s': %w", key, parseErr)
		}
		next = last + 1
	}
	if err := ctx.GetStub().PutState(key, []byte(strconv.FormatUint(next, 10))); err != nil {
		return 0, fmt.Errorf("failed to advance sequence '%s': %w", key, err)
	}
	return next, nil
}

// --- Guild info accessors ---

func (s *GuildSmartContract) loadGuildInfo(ctx contractapi.TransactionContextInterface) (*model.GuildInfo, error) {
	raw, err := ctx.GetStub().GetState(guildInfoKey)
	if err != nil {
		return nil, fmt.Errorf("failed to read guild info: %w", err)
	}
	if raw == nil {
		return nil, fmt.Errorf("guild is not initialized: %w", ErrInvalidState)
	}
	var info model.GuildInfo
	if err := json.Unmarshal(raw, &info); err != nil {
		return nil, fmt.Errorf("failed to unmarshal guild info: %w", err)
	}
	return &info, nil
}

func (s *GuildSmartContract) saveGuildInfo(ctx contractapi.TransactionContextInterface, info *model.GuildInfo) error {
	raw, err := json.Marshal(info)
	if err != nil {
		return fmt.Errorf("failed to marshal guild info: %w", err)
	}
	if err := ctx.GetStub().PutState(guildInfoKey, raw); err != nil {
		return fmt.Errorf("failed to save guild info: %w", err)
	}
	return nil
}

// requireActive loads the guild info and rejects the operation while the
// system-wide suspend flag is set. EmergencyWithdraw and views bypass this.
func (s *GuildSmartContract) requireActive(ctx contractapi.TransactionContextInterface) (*model.GuildInfo, error) {
	info, err := s.loadGuildInfo(ctx)
	if err != nil {
		return nil, err
	}
	if info.Paused {
		return nil, fmt.Errorf("guild is paused: %w", ErrInvalidState)
	}
	return info, nil
}

// --- Validation helpers ---

func (s *GuildSmartContract) validateRequiredString(input, field string, max int) error {
	if strings.TrimSpace(input) == "" {
		return fmt.Errorf("%s cannot be empty: %w", field, ErrInvalidParameters)
	}
	if len(input) > max {
		return fmt.Errorf("%s exceeds max length %d: %w", field, max, ErrInvalidParameters)
	}
	return nil
}

func (s *GuildSmartContract) validateOptionalString(input, field string, max int) error {
	if input != "" && len(input) > max {
		return fmt.Errorf("%s exceeds max length %d: %w", field, max, ErrInvalidParameters)
	}
	return nil
}

// parsePositiveAmount parses a base-10 token amount and requires it > 0.
func parsePositiveAmount(input, field string) (*big.Int, error) {
	amount, ok := new(big.Int).SetString(strings.TrimSpace(input), 10)
	if !ok {
		return nil, fmt.Errorf("%s must be a base-10 integer: %w", field, ErrInvalidParameters)
	}
	if amount.Sign() <= 0 {
		return nil, fmt.Errorf("%s must be positive: %w", field, ErrInvalidParameters)
	}
	return amount, nil
}

// --- Event emission ---

// emitGuildEvent sends a chaincode event. Fabric keeps one event per
// transaction, so every operation emits exactly once, with subsidiary facts
// folded into the payload.
func (s *GuildSmartContract) emitGuildEvent(ctx contractapi.TransactionContextInterface, eventName string, payload map[string]interface{}) {
	for k, v := range payload {
		if t, ok := v.(time.Time); ok {
			payload[k] = t.Format(time.RFC3339)
		}
	}
	eventBytes, err := json.Marshal(payload)
	if err != nil {
		logger.Warningf("emitGuildEvent: failed to marshal payload for event '%s': %v", eventName, err)
		return
	}
	if err := ctx.GetStub().SetEvent(eventName, eventBytes); err != nil {
		logger.Warningf("emitGuildEvent: failed to set event '%s': %v", eventName, err)
	}
}

// --- Reentrancy guard ---

// entryGuard is a non-blocking scoped lock held for the full duration of every
// value-moving operation. External token chaincodes invoked mid-operation run
// untrusted code that could call back into this chaincode in-process; a nested
// entry fails immediately instead of observing half-updated balances. The
// ledger itself cannot host this lock: writes are invisible to reads within a
// transaction.
type entryGuard struct {
	mu   sync.Mutex
	held bool
}

func (g *entryGuard) enter() error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.held {
		return ErrReentrantCall
	}
	g.held = true
	return nil
}

func (g *entryGuard) exit() {
	g.mu.Lock()
	g.held = false
	g.mu.Unlock()
}
