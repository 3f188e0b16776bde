package contract

import (
	"encoding/json"
	"math/big"
	"testing"
	"time"

	"github.com/hyperledger/fabric-contract-api-go/contractapi"
	"github.com/stretchr/testify/require"

	"guildregistry/model"
)

const (
	founderID  = "x509::CN=founder,OU=client::CN=ca.guild.example.com"
	officerID  = "x509::CN=officer-one,OU=client::CN=ca.guild.example.com"
	officer2ID = "x509::CN=officer-two,OU=client::CN=ca.guild.example.com"
	memberID   = "x509::CN=member-one,OU=client::CN=ca.guild.example.com"
	member2ID  = "x509::CN=member-two,OU=client::CN=ca.guild.example.com"
	strangerID = "x509::CN=stranger,OU=client::CN=ca.guild.example.com"

	testVault         = "guild-vault"
	testStakeToken    = "staketoken"
	testRewardToken   = "rewardtoken"
	testTreasuryToken = "treasurytoken"
)

// guildFixture wires a contract instance to an in-memory stub with three
// registered token chaincodes and the guild already founded by founderID.
type guildFixture struct {
	t    *testing.T
	cc   *GuildSmartContract
	stub *mockStub
}

func newGuildFixture(t *testing.T) *guildFixture {
	t.Helper()
	stub := newMockStub(time.Unix(1_700_000_000, 0).UTC())
	stub.registerToken(testStakeToken, testVault)
	stub.registerToken(testRewardToken, testVault)
	stub.registerToken(testTreasuryToken, testVault)

	f := &guildFixture{t: t, cc: &GuildSmartContract{}, stub: stub}
	err := f.cc.InitGuild(f.ctx(founderID), "Iron Banner", "a guild for testing",
		testStakeToken, testRewardToken, testTreasuryToken, testVault, 1)
	require.NoError(t, err)
	return f
}

func testContext(stub *mockStub, identity string) *contractapi.TransactionContext {
	ctx := &contractapi.TransactionContext{}
	ctx.SetStub(stub)
	ctx.SetClientIdentity(&mockClientIdentity{id: identity, msp: "GuildMSP"})
	return ctx
}

func (f *guildFixture) ctx(identity string) *contractapi.TransactionContext {
	return testContext(f.stub, identity)
}

func (f *guildFixture) advance(d time.Duration) {
	f.stub.txTime = f.stub.txTime.Add(d)
}

// addMember runs AddMember as the founder and fails the test on error.
func (f *guildFixture) addMember(id string) {
	f.t.Helper()
	require.NoError(f.t, f.cc.AddMember(f.ctx(founderID), id))
}

// addOfficer adds the identity as a member and promotes it.
func (f *guildFixture) addOfficer(id string) {
	f.t.Helper()
	f.addMember(id)
	require.NoError(f.t, f.cc.PromoteToOfficer(f.ctx(founderID), id))
}

func (f *guildFixture) fund(token, account string, amount int64) {
	f.stub.tokens[token].setBalance(account, amount)
}

func (f *guildFixture) balance(token, account string) *big.Int {
	return f.stub.tokens[token].balanceOf(account)
}

// requireEvent asserts the most recent chaincode event has the given name and
// returns its decoded payload.
func (f *guildFixture) requireEvent(name string) map[string]interface{} {
	f.t.Helper()
	ev := f.stub.lastEvent()
	require.NotNil(f.t, ev, "expected a chaincode event")
	require.Equal(f.t, name, ev.name)
	payload := map[string]interface{}{}
	require.NoError(f.t, json.Unmarshal(ev.payload, &payload))
	return payload
}

func (f *guildFixture) member(id string) *model.MemberRecord {
	f.t.Helper()
	rec, err := NewMemberManager(f.ctx(founderID)).GetMember(id)
	require.NoError(f.t, err)
	return rec
}

func (f *guildFixture) passport(id uint64) *model.Passport {
	f.t.Helper()
	p, err := f.cc.GetPassport(f.ctx(founderID), id)
	require.NoError(f.t, err)
	return p
}

func (f *guildFixture) stakeAccount(owner string) *model.StakeAccount {
	f.t.Helper()
	acct, err := f.cc.GetStakeAccount(f.ctx(founderID), owner)
	require.NoError(f.t, err)
	return acct
}

func (f *guildFixture) rewardState() *model.RewardState {
	f.t.Helper()
	rs, err := f.cc.GetRewardState(f.ctx(founderID))
	require.NoError(f.t, err)
	return rs
}
