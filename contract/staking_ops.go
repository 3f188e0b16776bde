package contract

import (
	"encoding/json"
	"fmt"
	"math/big"

	"guildregistry/model"

	"github.com/hyperledger/fabric-contract-api-go/contractapi"
	"github.com/hyperledger/fabric/common/flogging"
)

var stakingLogger = flogging.MustGetLogger("guildregistry.staking")

// rewardScale is the fixed-point scale of the reward-per-token accumulator.
var rewardScale = new(big.Int).Exp(big.NewInt(10), big.NewInt(18), nil)

func newRewardState() *model.RewardState {
	return &model.RewardState{
		ObjectType:           "RewardState",
		RewardPerTokenStored: model.NewBigInt(nil),
		RewardRate:           model.NewBigInt(nil),
		TotalStaked:          model.NewBigInt(nil),
	}
}

func (s *GuildSmartContract) loadRewardState(ctx contractapi.TransactionContextInterface) (*model.RewardState, error) {
	raw, err := ctx.GetStub().GetState(rewardStateKey)
	if err != nil {
		return nil, fmt.Errorf("failed to read reward state: %w", err)
	}
	if raw == nil {
		return nil, fmt.Errorf("reward state is not initialized: %w", ErrInvalidState)
	}
	var rs model.RewardState
	if err := json.Unmarshal(raw, &rs); err != nil {
		return nil, fmt.Errorf("failed to unmarshal reward state: %w", err)
	}
	return &rs, nil
}

func (s *GuildSmartContract) saveRewardState(ctx contractapi.TransactionContextInterface, rs *model.RewardState) error {
	raw, err := json.Marshal(rs)
	if err != nil {
		return fmt.Errorf("failed to marshal reward state: %w", err)
	}
	if err := ctx.GetStub().PutState(rewardStateKey, raw); err != nil {
		return fmt.Errorf("failed to save reward state: %w", err)
	}
	return nil
}

func (s *GuildSmartContract) createStakeAccountKey(ctx contractapi.TransactionContextInterface, owner string) (string, error) {
	return ctx.GetStub().CreateCompositeKey(stakeAccountObjectType, []string{owner})
}

// loadStakeAccount returns the participant's account, or a fresh zeroed one if
// they never staked. Staking is open to anyone, member or not.
func (s *GuildSmartContract) loadStakeAccount(ctx contractapi.TransactionContextInterface, owner string) (*model.StakeAccount, error) {
	key, err := s.createStakeAccountKey(ctx, owner)
	if err != nil {
		return nil, fmt.Errorf("failed to create stake account key for '%s': %w", owner, err)
	}
	raw, err := ctx.GetStub().GetState(key)
	if err != nil {
		return nil, fmt.Errorf("ledger error retrieving stake account for '%s': %w", owner, err)
	}
	if raw == nil {
		return &model.StakeAccount{
			ObjectType:     stakeAccountObjectType,
			Owner:          owner,
			Amount:         model.NewBigInt(nil),
			Accrued:        model.NewBigInt(nil),
			PaidCheckpoint: model.NewBigInt(nil),
		}, nil
	}
	var acct model.StakeAccount
	if err := json.Unmarshal(raw, &acct); err != nil {
		return nil, fmt.Errorf("failed to unmarshal stake account for '%s': %w", owner, err)
	}
	return &acct, nil
}

func (s *GuildSmartContract) putStakeAccount(ctx contractapi.TransactionContextInterface, acct *model.StakeAccount) error {
	key, err := s.createStakeAccountKey(ctx, acct.Owner)
	if err != nil {
		return fmt.Errorf("failed to create stake account key for '%s': %w", acct.Owner, err)
	}
	raw, err := json.Marshal(acct)
	if err != nil {
		return fmt.Errorf("failed to marshal stake account for '%s': %w", acct.Owner, err)
	}
	if err := ctx.GetStub().PutState(key, raw); err != nil {
		return fmt.Errorf("failed to save stake account for '%s': %w", acct.Owner, err)
	}
	return nil
}

// --- Accrual math ---
// Accrual is lazy: a pure function of elapsed time and stored checkpoints,
// integrating the piecewise-constant emission rate clamped to the funded
// period. No account is touched until it interacts. All divisions truncate.

// rewardPerToken returns the accumulator value as of nowSec.
func rewardPerToken(rs *model.RewardState, nowSec int64) *big.Int {
	stored := rs.RewardPerTokenStored.Value()
	total := rs.TotalStaked.Value()
	if total.Sign() == 0 {
		return stored
	}
	end := nowSec
	if rs.PeriodFinish < end {
		end = rs.PeriodFinish
	}
	elapsed := end - rs.LastUpdateTime
	if elapsed <= 0 {
		return stored
	}
	delta := new(big.Int).Mul(big.NewInt(elapsed), rs.RewardRate.Value())
	delta.Mul(delta, rewardScale)
	delta.Div(delta, total)
	return stored.Add(stored, delta)
}

// earnedAt returns the account's total unpaid reward as of nowSec.
func earnedAt(rs *model.RewardState, acct *model.StakeAccount, nowSec int64) *big.Int {
	diff := new(big.Int).Sub(rewardPerToken(rs, nowSec), acct.PaidCheckpoint.Value())
	gain := new(big.Int).Mul(acct.Amount.Value(), diff)
	gain.Div(gain, rewardScale)
	return gain.Add(gain, acct.Accrued.Value())
}

// checkpointReward advances the global accumulator to nowSec and, when an
// account is given, settles its accrued reward against the new checkpoint.
// Runs unconditionally before every mutating staking operation.
func checkpointReward(rs *model.RewardState, acct *model.StakeAccount, nowSec int64) {
	rpt := rewardPerToken(rs, nowSec)
	rs.RewardPerTokenStored = model.NewBigInt(rpt)
	rs.LastUpdateTime = nowSec
	if acct != nil {
		diff := new(big.Int).Sub(rpt, acct.PaidCheckpoint.Value())
		gain := new(big.Int).Mul(acct.Amount.Value(), diff)
		gain.Div(gain, rewardScale)
		acct.Accrued = model.NewBigInt(gain.Add(gain, acct.Accrued.Value()))
		acct.PaidCheckpoint = model.NewBigInt(rpt)
	}
}

// --- Staking operations ---

// NotifyRewardAmount funds (or extends) a reward period. Leader only. Past the
// current period the rate is reward/duration; mid-period, the unpaid remainder
// of the old period is blended into the new rate. Integer division truncates;
// leftover precision is absorbed into the next notification rather than paid.
func (s *GuildSmartContract) NotifyRewardAmount(ctx contractapi.TransactionContextInterface, reward string, duration uint64) error {
	if _, err := s.requireActive(ctx); err != nil {
		return fmt.Errorf("NotifyRewardAmount: %w", err)
	}
	mm := NewMemberManager(ctx)
	callerID, err := mm.RequireCallerRole(model.RoleLeader)
	if err != nil {
		return fmt.Errorf("NotifyRewardAmount: %w", err)
	}
	rewardAmount, err := parsePositiveAmount(reward, "reward")
	if err != nil {
		return err
	}
	if duration == 0 {
		return fmt.Errorf("duration must be positive: %w", ErrInvalidParameters)
	}

	rs, err := s.loadRewardState(ctx)
	if err != nil {
		return fmt.Errorf("NotifyRewardAmount: %w", err)
	}
	now, err := s.getCurrentTxTimestamp(ctx)
	if err != nil {
		return fmt.Errorf("NotifyRewardAmount: %w", err)
	}
	nowSec := now.Unix()
	checkpointReward(rs, nil, nowSec)

	durationSec := new(big.Int).SetUint64(duration)
	rate := new(big.Int)
	if nowSec >= rs.PeriodFinish {
		rate.Div(rewardAmount, durationSec)
	} else {
		remaining := big.NewInt(rs.PeriodFinish - nowSec)
		leftover := remaining.Mul(remaining, rs.RewardRate.Value())
		rate.Add(rewardAmount, leftover)
		rate.Div(rate, durationSec)
	}
	rs.RewardRate = model.NewBigInt(rate)
	rs.LastUpdateTime = nowSec
	rs.PeriodFinish = nowSec + int64(duration)
	if err := s.saveRewardState(ctx, rs); err != nil {
		return fmt.Errorf("NotifyRewardAmount: %w", err)
	}

	stakingLogger.Infof("Reward notified by leader '%s': %s over %ds (rate %s/s, period ends %d)",
		callerID, rewardAmount, duration, rate, rs.PeriodFinish)
	s.emitGuildEvent(ctx, "RewardNotified", map[string]interface{}{
		"reward": rewardAmount.String(), "duration": duration,
		"rewardRate": rate.String(), "periodFinish": rs.PeriodFinish, "by": callerID, "timestamp": now,
	})
	return nil
}

// Stake locks amount of the staking token in the guild vault.
func (s *GuildSmartContract) Stake(ctx contractapi.TransactionContextInterface, amount string) error {
	if err := s.valueGuard.enter(); err != nil {
		return fmt.Errorf("Stake: %w", err)
	}
	defer s.valueGuard.exit()

	info, err := s.requireActive(ctx)
	if err != nil {
		return fmt.Errorf("Stake: %w", err)
	}
	callerID, err := NewMemberManager(ctx).CallerID()
	if err != nil {
		return fmt.Errorf("Stake: %w", err)
	}
	stakeAmount, err := parsePositiveAmount(amount, "amount")
	if err != nil {
		return err
	}

	rs, err := s.loadRewardState(ctx)
	if err != nil {
		return fmt.Errorf("Stake: %w", err)
	}
	acct, err := s.loadStakeAccount(ctx, callerID)
	if err != nil {
		return fmt.Errorf("Stake: %w", err)
	}
	now, err := s.getCurrentTxTimestamp(ctx)
	if err != nil {
		return fmt.Errorf("Stake: %w", err)
	}
	checkpointReward(rs, acct, now.Unix())

	rs.TotalStaked = model.NewBigInt(new(big.Int).Add(rs.TotalStaked.Value(), stakeAmount))
	acct.Amount = model.NewBigInt(new(big.Int).Add(acct.Amount.Value(), stakeAmount))
	acct.LastUpdatedAt = now
	if err := s.saveRewardState(ctx, rs); err != nil {
		return fmt.Errorf("Stake: %w", err)
	}
	if err := s.putStakeAccount(ctx, acct); err != nil {
		return fmt.Errorf("Stake: %w", err)
	}

	token := newAssetClient(ctx, info.StakeToken)
	if err := token.TransferFrom(callerID, info.VaultAccount, stakeAmount); err != nil {
		return fmt.Errorf("Stake: failed to pull stake from '%s': %w", callerID, err)
	}

	stakingLogger.Infof("'%s' staked %s (total staked %s)", callerID, stakeAmount, rs.TotalStaked.String())
	s.emitGuildEvent(ctx, "Staked", map[string]interface{}{
		"account": callerID, "amount": stakeAmount.String(), "totalStaked": rs.TotalStaked.String(), "timestamp": now,
	})
	return nil
}

// payAccruedReward pays out min(accrued, pool balance) of the reward token and
// returns the amount paid. A funding shortfall pays what is available and
// leaves the remainder accrued for a future claim.
func (s *GuildSmartContract) payAccruedReward(ctx contractapi.TransactionContextInterface, info *model.GuildInfo, acct *model.StakeAccount) (*big.Int, error) {
	reward := acct.Accrued.Value()
	if reward.Sign() == 0 {
		return new(big.Int), nil
	}
	token := newAssetClient(ctx, info.RewardToken)
	pool, err := token.BalanceOf(info.VaultAccount)
	if err != nil {
		return nil, err
	}
	payable := reward
	if pool.Cmp(reward) < 0 {
		payable = pool
	}
	if payable.Sign() == 0 {
		return new(big.Int), nil
	}
	acct.Accrued = model.NewBigInt(new(big.Int).Sub(reward, payable))
	if err := token.Transfer(acct.Owner, payable); err != nil {
		return nil, err
	}
	return payable, nil
}

// Unstake returns amount of staked principal to the caller, paying out any
// earned reward first so a partial unstake never strands unclaimed reward.
func (s *GuildSmartContract) Unstake(ctx contractapi.TransactionContextInterface, amount string) error {
	if err := s.valueGuard.enter(); err != nil {
		return fmt.Errorf("Unstake: %w", err)
	}
	defer s.valueGuard.exit()

	info, err := s.requireActive(ctx)
	if err != nil {
		return fmt.Errorf("Unstake: %w", err)
	}
	callerID, err := NewMemberManager(ctx).CallerID()
	if err != nil {
		return fmt.Errorf("Unstake: %w", err)
	}
	unstakeAmount, err := parsePositiveAmount(amount, "amount")
	if err != nil {
		return err
	}

	rs, err := s.loadRewardState(ctx)
	if err != nil {
		return fmt.Errorf("Unstake: %w", err)
	}
	acct, err := s.loadStakeAccount(ctx, callerID)
	if err != nil {
		return fmt.Errorf("Unstake: %w", err)
	}
	now, err := s.getCurrentTxTimestamp(ctx)
	if err != nil {
		return fmt.Errorf("Unstake: %w", err)
	}
	checkpointReward(rs, acct, now.Unix())

	if acct.Amount.Value().Cmp(unstakeAmount) < 0 {
		return fmt.Errorf("staked balance %s is less than %s: %w", acct.Amount.String(), unstakeAmount, ErrInsufficientFunds)
	}

	rewardPaid, err := s.payAccruedReward(ctx, info, acct)
	if err != nil {
		return fmt.Errorf("Unstake: %w", err)
	}

	rs.TotalStaked = model.NewBigInt(new(big.Int).Sub(rs.TotalStaked.Value(), unstakeAmount))
	acct.Amount = model.NewBigInt(new(big.Int).Sub(acct.Amount.Value(), unstakeAmount))
	acct.LastUpdatedAt = now
	if err := s.saveRewardState(ctx, rs); err != nil {
		return fmt.Errorf("Unstake: %w", err)
	}
	if err := s.putStakeAccount(ctx, acct); err != nil {
		return fmt.Errorf("Unstake: %w", err)
	}

	token := newAssetClient(ctx, info.StakeToken)
	if err := token.Transfer(callerID, unstakeAmount); err != nil {
		return fmt.Errorf("Unstake: failed to return principal to '%s': %w", callerID, err)
	}

	stakingLogger.Infof("'%s' unstaked %s (reward paid %s, total staked %s)",
		callerID, unstakeAmount, rewardPaid, rs.TotalStaked.String())
	s.emitGuildEvent(ctx, "Unstaked", map[string]interface{}{
		"account": callerID, "amount": unstakeAmount.String(), "rewardPaid": rewardPaid.String(),
		"totalStaked": rs.TotalStaked.String(), "timestamp": now,
	})
	return nil
}

// ClaimReward pays out the caller's accrued reward, bounded by the reward
// token balance available in the vault.
func (s *GuildSmartContract) ClaimReward(ctx contractapi.TransactionContextInterface) error {
	if err := s.valueGuard.enter(); err != nil {
		return fmt.Errorf("ClaimReward: %w", err)
	}
	defer s.valueGuard.exit()

	info, err := s.requireActive(ctx)
	if err != nil {
		return fmt.Errorf("ClaimReward: %w", err)
	}
	callerID, err := NewMemberManager(ctx).CallerID()
	if err != nil {
		return fmt.Errorf("ClaimReward: %w", err)
	}

	rs, err := s.loadRewardState(ctx)
	if err != nil {
		return fmt.Errorf("ClaimReward: %w", err)
	}
	acct, err := s.loadStakeAccount(ctx, callerID)
	if err != nil {
		return fmt.Errorf("ClaimReward: %w", err)
	}
	now, err := s.getCurrentTxTimestamp(ctx)
	if err != nil {
		return fmt.Errorf("ClaimReward: %w", err)
	}
	checkpointReward(rs, acct, now.Unix())

	rewardPaid, err := s.payAccruedReward(ctx, info, acct)
	if err != nil {
		return fmt.Errorf("ClaimReward: %w", err)
	}
	acct.LastUpdatedAt = now
	if err := s.saveRewardState(ctx, rs); err != nil {
		return fmt.Errorf("ClaimReward: %w", err)
	}
	if err := s.putStakeAccount(ctx, acct); err != nil {
		return fmt.Errorf("ClaimReward: %w", err)
	}
	if rewardPaid.Sign() == 0 {
		stakingLogger.Debugf("'%s' claimed with nothing payable (accrued %s)", callerID, acct.Accrued.String())
		return nil
	}

	stakingLogger.Infof("'%s' claimed %s reward (remaining accrued %s)", callerID, rewardPaid, acct.Accrued.String())
	s.emitGuildEvent(ctx, "RewardPaid", map[string]interface{}{
		"account": callerID, "amount": rewardPaid.String(), "remainingAccrued": acct.Accrued.String(), "timestamp": now,
	})
	return nil
}

// EmergencyWithdraw returns the caller's staked principal and nothing else.
// It bypasses the claim path, forfeits any unclaimed reward, and works while
// the guild is paused. The escape hatch for broken or suspect reward
// accounting.
func (s *GuildSmartContract) EmergencyWithdraw(ctx contractapi.TransactionContextInterface) error {
	if err := s.valueGuard.enter(); err != nil {
		return fmt.Errorf("EmergencyWithdraw: %w", err)
	}
	defer s.valueGuard.exit()

	info, err := s.loadGuildInfo(ctx)
	if err != nil {
		return fmt.Errorf("EmergencyWithdraw: %w", err)
	}
	callerID, err := NewMemberManager(ctx).CallerID()
	if err != nil {
		return fmt.Errorf("EmergencyWithdraw: %w", err)
	}

	rs, err := s.loadRewardState(ctx)
	if err != nil {
		return fmt.Errorf("EmergencyWithdraw: %w", err)
	}
	acct, err := s.loadStakeAccount(ctx, callerID)
	if err != nil {
		return fmt.Errorf("EmergencyWithdraw: %w", err)
	}
	principal := acct.Amount.Value()
	if principal.Sign() == 0 {
		return fmt.Errorf("'%s' has no staked balance: %w", callerID, ErrInvalidState)
	}
	now, err := s.getCurrentTxTimestamp(ctx)
	if err != nil {
		return fmt.Errorf("EmergencyWithdraw: %w", err)
	}

	// Global checkpoint only: totalStaked is about to change, so the
	// accumulator must be settled for everyone else. The caller's own
	// accrued reward is forfeited, not settled.
	nowSec := now.Unix()
	checkpointReward(rs, nil, nowSec)
	forfeited := earnedAt(rs, acct, nowSec)

	rs.TotalStaked = model.NewBigInt(new(big.Int).Sub(rs.TotalStaked.Value(), principal))
	acct.Amount = model.NewBigInt(nil)
	acct.Accrued = model.NewBigInt(nil)
	acct.PaidCheckpoint = model.NewBigInt(rs.RewardPerTokenStored.Value())
	acct.LastUpdatedAt = now
	if err := s.saveRewardState(ctx, rs); err != nil {
		return fmt.Errorf("EmergencyWithdraw: %w", err)
	}
	if err := s.putStakeAccount(ctx, acct); err != nil {
		return fmt.Errorf("EmergencyWithdraw: %w", err)
	}

	token := newAssetClient(ctx, info.StakeToken)
	if err := token.Transfer(callerID, principal); err != nil {
		return fmt.Errorf("EmergencyWithdraw: failed to return principal to '%s': %w", callerID, err)
	}

	stakingLogger.Infof("'%s' emergency-withdrew %s principal, forfeiting %s reward", callerID, principal, forfeited)
	s.emitGuildEvent(ctx, "EmergencyWithdrawn", map[string]interface{}{
		"account": callerID, "principal": principal.String(), "forfeitedReward": forfeited.String(),
		"totalStaked": rs.TotalStaked.String(), "timestamp": now,
	})
	return nil
}
