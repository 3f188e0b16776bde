package contract

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const payee = "x509::CN=grants-recipient,OU=client::CN=ca.guild.example.com"

// Two-of-three approval workflow end to end.
func TestProposalQuorumWorkflow(t *testing.T) {
	f := newGuildFixture(t)
	f.addOfficer(officerID)
	f.addOfficer(officer2ID)
	require.NoError(t, f.cc.SetApprovalThreshold(f.ctx(founderID), 2))
	f.fund(testTreasuryToken, testVault, 1000)

	id, err := f.cc.CreateProposal(f.ctx(officerID), payee, "100", "", "grant payout", 86400)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), id)
	f.requireEvent("ProposalCreated")

	// One approval short of quorum.
	require.NoError(t, f.cc.ApproveProposal(f.ctx(officer2ID), id))
	payload := f.requireEvent("ProposalApproved")
	assert.Equal(t, float64(1), payload["approvalCount"])
	require.ErrorIs(t, f.cc.ExecuteProposal(f.ctx(officerID), id), ErrQuorumNotMet)
	assert.Equal(t, int64(1000), f.balance(testTreasuryToken, testVault).Int64())

	require.NoError(t, f.cc.ApproveProposal(f.ctx(founderID), id))
	require.NoError(t, f.cc.ExecuteProposal(f.ctx(officerID), id))
	payload = f.requireEvent("ProposalExecuted")
	assert.Equal(t, testTreasuryToken, payload["asset"])
	assert.Equal(t, int64(100), f.balance(testTreasuryToken, payee).Int64())
	assert.Equal(t, int64(900), f.balance(testTreasuryToken, testVault).Int64())

	// Execution is once-only.
	require.ErrorIs(t, f.cc.ExecuteProposal(f.ctx(officer2ID), id), ErrInvalidState)
	assert.Equal(t, int64(100), f.balance(testTreasuryToken, payee).Int64())

	p, err := f.cc.GetProposal(f.ctx(strangerID), id)
	require.NoError(t, err)
	assert.True(t, p.Executed)
	assert.Len(t, p.Approvals, 2)
}

func TestCreateProposalValidation(t *testing.T) {
	f := newGuildFixture(t)
	f.addMember(memberID)

	_, err := f.cc.CreateProposal(f.ctx(memberID), payee, "100", "", "", 3600)
	require.ErrorIs(t, err, ErrUnauthorized)
	_, err = f.cc.CreateProposal(f.ctx(founderID), "", "100", "", "", 3600)
	require.ErrorIs(t, err, ErrInvalidParameters)
	_, err = f.cc.CreateProposal(f.ctx(founderID), payee, "0", "", "", 3600)
	require.ErrorIs(t, err, ErrInvalidParameters)
	_, err = f.cc.CreateProposal(f.ctx(founderID), payee, "100", "", "", 0)
	require.ErrorIs(t, err, ErrInvalidParameters)
}

func TestApproveProposalOncePerOfficer(t *testing.T) {
	f := newGuildFixture(t)
	f.addOfficer(officerID)
	f.addMember(memberID)

	id, err := f.cc.CreateProposal(f.ctx(founderID), payee, "100", "", "", 3600)
	require.NoError(t, err)

	require.ErrorIs(t, f.cc.ApproveProposal(f.ctx(memberID), id), ErrUnauthorized)
	require.NoError(t, f.cc.ApproveProposal(f.ctx(officerID), id))
	require.ErrorIs(t, f.cc.ApproveProposal(f.ctx(officerID), id), ErrInvalidState)

	require.ErrorIs(t, f.cc.ApproveProposal(f.ctx(founderID), 42), ErrInvalidState)
}

func TestProposalDeadline(t *testing.T) {
	f := newGuildFixture(t)
	f.addOfficer(officerID)
	f.fund(testTreasuryToken, testVault, 1000)

	id, err := f.cc.CreateProposal(f.ctx(founderID), payee, "100", "", "", 3600)
	require.NoError(t, err)
	require.NoError(t, f.cc.ApproveProposal(f.ctx(officerID), id))

	// The deadline itself is past due: approvals and execution both fail.
	f.advance(3600 * time.Second)
	require.ErrorIs(t, f.cc.ApproveProposal(f.ctx(founderID), id), ErrExpired)
	require.ErrorIs(t, f.cc.ExecuteProposal(f.ctx(officerID), id), ErrExpired)
	assert.Equal(t, int64(0), f.balance(testTreasuryToken, payee).Int64())

	// An expired proposal can still be cleaned up.
	require.NoError(t, f.cc.CancelProposal(f.ctx(officerID), id))
}

func TestCancelProposal(t *testing.T) {
	f := newGuildFixture(t)
	f.addOfficer(officerID)

	id, err := f.cc.CreateProposal(f.ctx(founderID), payee, "100", "", "", 3600)
	require.NoError(t, err)
	require.NoError(t, f.cc.ApproveProposal(f.ctx(founderID), id))

	require.ErrorIs(t, f.cc.CancelProposal(f.ctx(strangerID), id), ErrUnauthorized)
	require.NoError(t, f.cc.CancelProposal(f.ctx(officerID), id))
	f.requireEvent("ProposalCancelled")

	require.ErrorIs(t, f.cc.ApproveProposal(f.ctx(officerID), id), ErrInvalidState)
	require.ErrorIs(t, f.cc.ExecuteProposal(f.ctx(founderID), id), ErrInvalidState)
	require.ErrorIs(t, f.cc.CancelProposal(f.ctx(founderID), id), ErrInvalidState)
}

func TestProposalWithExplicitAsset(t *testing.T) {
	f := newGuildFixture(t)
	f.fund(testRewardToken, testVault, 500)

	id, err := f.cc.CreateProposal(f.ctx(founderID), payee, "200", testRewardToken, "pay in reward token", 3600)
	require.NoError(t, err)
	require.NoError(t, f.cc.ApproveProposal(f.ctx(founderID), id))
	require.NoError(t, f.cc.ExecuteProposal(f.ctx(founderID), id))

	assert.Equal(t, int64(200), f.balance(testRewardToken, payee).Int64())
	assert.Equal(t, int64(300), f.balance(testRewardToken, testVault).Int64())
}

func TestExecuteProposalTransferFailureAborts(t *testing.T) {
	f := newGuildFixture(t)

	// Vault holds nothing, so the token contract rejects the payout.
	id, err := f.cc.CreateProposal(f.ctx(founderID), payee, "100", "", "", 3600)
	require.NoError(t, err)
	require.NoError(t, f.cc.ApproveProposal(f.ctx(founderID), id))
	require.ErrorIs(t, f.cc.ExecuteProposal(f.ctx(founderID), id), ErrExternalTransfer)
}

func TestTreasuryOpsWhilePaused(t *testing.T) {
	f := newGuildFixture(t)
	f.addOfficer(officerID)

	id, err := f.cc.CreateProposal(f.ctx(founderID), payee, "100", "", "", 3600)
	require.NoError(t, err)
	require.NoError(t, f.cc.Pause(f.ctx(founderID)))

	_, err = f.cc.CreateProposal(f.ctx(founderID), payee, "100", "", "", 3600)
	require.ErrorIs(t, err, ErrInvalidState)
	require.ErrorIs(t, f.cc.ApproveProposal(f.ctx(officerID), id), ErrInvalidState)
	require.ErrorIs(t, f.cc.ExecuteProposal(f.ctx(officerID), id), ErrInvalidState)

	// Cleanup stays available while paused.
	require.NoError(t, f.cc.CancelProposal(f.ctx(officerID), id))
}

func TestSetApprovalThreshold(t *testing.T) {
	f := newGuildFixture(t)
	f.addOfficer(officerID)

	require.ErrorIs(t, f.cc.SetApprovalThreshold(f.ctx(officerID), 2), ErrUnauthorized)
	require.ErrorIs(t, f.cc.SetApprovalThreshold(f.ctx(founderID), 0), ErrInvalidParameters)

	require.NoError(t, f.cc.SetApprovalThreshold(f.ctx(founderID), 2))
	payload := f.requireEvent("ApprovalThresholdUpdated")
	assert.Equal(t, float64(1), payload["oldThreshold"])
	assert.Equal(t, float64(2), payload["newThreshold"])

	// The new quorum applies to proposals already in flight.
	f.fund(testTreasuryToken, testVault, 100)
	id, err := f.cc.CreateProposal(f.ctx(founderID), payee, "100", "", "", 3600)
	require.NoError(t, err)
	require.NoError(t, f.cc.ApproveProposal(f.ctx(founderID), id))
	require.ErrorIs(t, f.cc.ExecuteProposal(f.ctx(founderID), id), ErrQuorumNotMet)
	require.NoError(t, f.cc.ApproveProposal(f.ctx(officerID), id))
	require.NoError(t, f.cc.ExecuteProposal(f.ctx(founderID), id))
}

func TestGetAllProposals(t *testing.T) {
	f := newGuildFixture(t)
	for i := 0; i < 3; i++ {
		_, err := f.cc.CreateProposal(f.ctx(founderID), payee, "10", "", "", 3600)
		require.NoError(t, err)
	}
	proposals, err := f.cc.GetAllProposals(f.ctx(strangerID))
	require.NoError(t, err)
	require.Len(t, proposals, 3)
	assert.Equal(t, uint64(1), proposals[0].ID)
	assert.Equal(t, uint64(3), proposals[2].ID)
}
