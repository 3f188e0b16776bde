package model

import "time"

// Role names are capability tags held by a member, not a type hierarchy.
// Officer and Leader always imply Member; Leader is held by exactly one
// identity at a time and carries the pause capability.
const (
	RoleMember  = "member"
	RoleOfficer = "officer"
	RoleLeader  = "leader"
)

// GuildInfo is the singleton configuration and status record of a guild.
type GuildInfo struct {
	ObjectType        string    `json:"objectType"`
	Name              string    `json:"name"`
	Description       string    `json:"description"`
	LogoURI           string    `json:"logoUri"`
	BannerURI         string    `json:"bannerUri"`
	StakeToken        string    `json:"stakeToken"`        // token chaincode holding staked principal
	RewardToken       string    `json:"rewardToken"`       // token chaincode paying staking rewards
	TreasuryToken     string    `json:"treasuryToken"`     // default token for treasury proposals
	VaultAccount      string    `json:"vaultAccount"`      // guild's account in the token contracts
	ApprovalThreshold uint32    `json:"approvalThreshold"` // always > 0
	Paused            bool      `json:"paused"`
	Founder           string    `json:"founder"`
	CreatedAt         time.Time `json:"createdAt"`
	LastUpdatedAt     time.Time `json:"lastUpdatedAt"`
}

// MemberRecord stores a current member's standing. Records for removed members
// are deleted; the permanent ban flag lives under its own key so it outlives
// the record.
type MemberRecord struct {
	ObjectType    string    `json:"objectType"`
	ID            string    `json:"id"` // full X.509 identity string
	Roles         []string  `json:"roles"`
	PassportID    uint64    `json:"passportId"` // currently active passport
	JoinedAt      time.Time `json:"joinedAt"`
	LastUpdatedAt time.Time `json:"lastUpdatedAt"`
}

// HasRole reports whether the record carries the given capability tag.
func (m *MemberRecord) HasRole(role string) bool {
	for _, r := range m.Roles {
		if r == role {
			return true
		}
	}
	return false
}

// PassportStatus is the lifecycle state of a membership credential.
// The zero value stands for an identifier that was never minted.
type PassportStatus string

const (
	PassportInactive PassportStatus = ""
	PassportActive   PassportStatus = "ACTIVE"
	PassportRevoked  PassportStatus = "REVOKED"
)

// Passport is a non-transferable membership credential. Identifiers are
// sequential and never reused; status only ever moves Active -> Revoked.
type Passport struct {
	ObjectType string         `json:"objectType"`
	ID         uint64         `json:"id"`
	Owner      string         `json:"owner"`
	Status     PassportStatus `json:"status"`
	IssuedAt   time.Time      `json:"issuedAt"`
	RevokedAt  time.Time      `json:"revokedAt,omitempty"`
}

// StakeAccount tracks one participant's staked principal and lazily accrued
// reward. PaidCheckpoint is the global accumulator value at last interaction.
type StakeAccount struct {
	ObjectType     string    `json:"objectType"`
	Owner          string    `json:"owner"`
	Amount         *BigInt   `json:"amount"`
	Accrued        *BigInt   `json:"accrued"`
	PaidCheckpoint *BigInt   `json:"paidCheckpoint"`
	LastUpdatedAt  time.Time `json:"lastUpdatedAt"`
}

// RewardState is the process-wide staking accumulator. TotalStaked equals the
// sum of every StakeAccount.Amount at all times. Timestamps are unix seconds
// because the accrual math integrates over elapsed seconds.
type RewardState struct {
	ObjectType           string  `json:"objectType"`
	RewardPerTokenStored *BigInt `json:"rewardPerTokenStored"`
	RewardRate           *BigInt `json:"rewardRate"` // reward units per second
	PeriodFinish         int64   `json:"periodFinish"`
	LastUpdateTime       int64   `json:"lastUpdateTime"`
	TotalStaked          *BigInt `json:"totalStaked"`
}

// Proposal is a treasury spend awaiting threshold approval. Once approvals
// begin, only the approval set and the executed/cancelled flags may change.
type Proposal struct {
	ObjectType    string    `json:"objectType"`
	ID            uint64    `json:"id"`
	Proposer      string    `json:"proposer"`
	To            string    `json:"to"`
	Amount        *BigInt   `json:"amount"`
	Asset         string    `json:"asset"` // token chaincode; empty selects the treasury token
	Description   string    `json:"description"`
	Deadline      time.Time `json:"deadline"`
	Executed      bool      `json:"executed"`
	Cancelled     bool      `json:"cancelled"`
	Approvals     []string  `json:"approvals"`
	CreatedAt     time.Time `json:"createdAt"`
	LastUpdatedAt time.Time `json:"lastUpdatedAt"`
}

// HasApproved reports whether the identity already approved this proposal.
func (p *Proposal) HasApproved(id string) bool {
	for _, a := range p.Approvals {
		if a == id {
			return true
		}
	}
	return false
}
