package contract

import (
	"crypto/x509"
	"errors"
	"fmt"
	"math/big"
	"sort"
	"strings"
	"time"

	"github.com/hyperledger/fabric-chaincode-go/shim"
	"github.com/hyperledger/fabric-protos-go/ledger/queryresult"
	"github.com/hyperledger/fabric-protos-go/peer"
	"google.golang.org/protobuf/types/known/timestamppb"
)

// mockStub is an in-memory ChaincodeStubInterface for unit tests: world state
// map, composite keys in the fabric wire format, recorded events, a settable
// transaction timestamp and a registry of fake token chaincodes reachable via
// InvokeChaincode.
type mockStub struct {
	state   map[string][]byte
	events  []mockEvent
	txTime  time.Time
	tokens  map[string]*mockToken
	// invokeHook, when set, runs before token dispatch; used to simulate a
	// malicious token chaincode calling back into the contract.
	invokeHook func(name string, args [][]byte) *peer.Response
}

type mockEvent struct {
	name    string
	payload []byte
}

// mockToken is a minimal fungible token ledger. Transfer debits the guild's
// own account, mirroring how the token contract sees the invoking chaincode.
type mockToken struct {
	balances     map[string]*big.Int
	guildAccount string
	failNext     bool
}

func newMockStub(start time.Time) *mockStub {
	return &mockStub{
		state:  map[string][]byte{},
		txTime: start,
		tokens: map[string]*mockToken{},
	}
}

func (m *mockStub) registerToken(name, guildAccount string) *mockToken {
	tok := &mockToken{balances: map[string]*big.Int{}, guildAccount: guildAccount}
	m.tokens[name] = tok
	return tok
}

func (m *mockToken) balanceOf(account string) *big.Int {
	if b, ok := m.balances[account]; ok {
		return new(big.Int).Set(b)
	}
	return new(big.Int)
}

func (m *mockToken) setBalance(account string, amount int64) {
	m.balances[account] = big.NewInt(amount)
}

func (m *mockToken) move(from, to string, amount *big.Int) error {
	have := m.balanceOf(from)
	if have.Cmp(amount) < 0 {
		return fmt.Errorf("account '%s' has %s, needs %s", from, have, amount)
	}
	m.balances[from] = have.Sub(have, amount)
	m.balances[to] = new(big.Int).Add(m.balanceOf(to), amount)
	return nil
}

func (m *mockStub) lastEvent() *mockEvent {
	if len(m.events) == 0 {
		return nil
	}
	return &m.events[len(m.events)-1]
}

// --- State ---

func (m *mockStub) GetState(key string) ([]byte, error) {
	v, ok := m.state[key]
	if !ok {
		return nil, nil
	}
	cp := make([]byte, len(v))
	copy(cp, v)
	return cp, nil
}

func (m *mockStub) PutState(key string, value []byte) error {
	cp := make([]byte, len(value))
	copy(cp, value)
	m.state[key] = cp
	return nil
}

func (m *mockStub) DelState(key string) error {
	delete(m.state, key)
	return nil
}

// --- Composite keys (fabric wire format: U+0000 separators) ---

const compositeKeySep = string(rune(0))

func (m *mockStub) CreateCompositeKey(objectType string, attributes []string) (string, error) {
	ck := compositeKeySep + objectType + compositeKeySep
	for _, attr := range attributes {
		ck += attr + compositeKeySep
	}
	return ck, nil
}

func (m *mockStub) SplitCompositeKey(compositeKey string) (string, []string, error) {
	parts := strings.Split(strings.Trim(compositeKey, compositeKeySep), compositeKeySep)
	if len(parts) == 0 {
		return "", nil, errors.New("invalid composite key")
	}
	return parts[0], parts[1:], nil
}

func (m *mockStub) GetStateByPartialCompositeKey(objectType string, keys []string) (shim.StateQueryIteratorInterface, error) {
	prefix, _ := m.CreateCompositeKey(objectType, keys)
	if len(keys) > 0 {
		// CreateCompositeKey appends a trailing separator after the last
		// attribute, which is correct for a full key but over-constrains a
		// partial one.
		prefix = strings.TrimSuffix(prefix, compositeKeySep) + compositeKeySep
	}
	var matched []string
	for k := range m.state {
		if strings.HasPrefix(k, prefix) {
			matched = append(matched, k)
		}
	}
	sort.Strings(matched)
	kvs := make([]*queryresult.KV, 0, len(matched))
	for _, k := range matched {
		kvs = append(kvs, &queryresult.KV{Key: k, Value: m.state[k]})
	}
	return &mockIterator{kvs: kvs}, nil
}

type mockIterator struct {
	kvs []*queryresult.KV
	idx int
}

func (it *mockIterator) HasNext() bool { return it.idx < len(it.kvs) }

func (it *mockIterator) Next() (*queryresult.KV, error) {
	if !it.HasNext() {
		return nil, errors.New("no more items")
	}
	kv := it.kvs[it.idx]
	it.idx++
	return kv, nil
}

func (it *mockIterator) Close() error { return nil }

// --- Events, time, identity plumbing ---

func (m *mockStub) SetEvent(name string, payload []byte) error {
	m.events = append(m.events, mockEvent{name: name, payload: payload})
	return nil
}

func (m *mockStub) GetTxTimestamp() (*timestamppb.Timestamp, error) {
	return timestamppb.New(m.txTime), nil
}

func (m *mockStub) GetTxID() string     { return "mock-tx" }
func (m *mockStub) GetChannelID() string { return "mock-channel" }

// --- Cross-chaincode token dispatch ---

func (m *mockStub) InvokeChaincode(chaincodeName string, args [][]byte, channel string) peer.Response {
	if m.invokeHook != nil {
		if resp := m.invokeHook(chaincodeName, args); resp != nil {
			return *resp
		}
	}
	tok, ok := m.tokens[chaincodeName]
	if !ok {
		return peer.Response{Status: shim.ERROR, Message: fmt.Sprintf("chaincode '%s' not found", chaincodeName)}
	}
	if tok.failNext {
		tok.failNext = false
		return peer.Response{Status: shim.ERROR, Message: "token failure injected"}
	}
	fn := string(args[0])
	fail := func(err error) peer.Response {
		return peer.Response{Status: shim.ERROR, Message: err.Error()}
	}
	switch fn {
	case "Transfer":
		amount, _ := new(big.Int).SetString(string(args[2]), 10)
		if err := tok.move(tok.guildAccount, string(args[1]), amount); err != nil {
			return fail(err)
		}
		return peer.Response{Status: shim.OK, Payload: []byte("true")}
	case "TransferFrom":
		amount, _ := new(big.Int).SetString(string(args[3]), 10)
		if err := tok.move(string(args[1]), string(args[2]), amount); err != nil {
			return fail(err)
		}
		return peer.Response{Status: shim.OK, Payload: []byte("true")}
	case "BalanceOf":
		return peer.Response{Status: shim.OK, Payload: []byte(tok.balanceOf(string(args[1])).String())}
	default:
		return fail(fmt.Errorf("unknown token function '%s'", fn))
	}
}

// --- Unused interface methods ---

var errNotImplemented = errors.New("not implemented in mock")

func (m *mockStub) GetArgs() [][]byte                          { return nil }
func (m *mockStub) GetStringArgs() []string                    { return nil }
func (m *mockStub) GetFunctionAndParameters() (string, []string) { return "", nil }
func (m *mockStub) GetArgsSlice() ([]byte, error)              { return nil, errNotImplemented }
func (m *mockStub) SetStateValidationParameter(key string, ep []byte) error {
	return errNotImplemented
}
func (m *mockStub) GetStateValidationParameter(key string) ([]byte, error) {
	return nil, errNotImplemented
}
func (m *mockStub) GetStateByRange(startKey, endKey string) (shim.StateQueryIteratorInterface, error) {
	return nil, errNotImplemented
}
func (m *mockStub) GetStateByRangeWithPagination(startKey, endKey string, pageSize int32, bookmark string) (shim.StateQueryIteratorInterface, *peer.QueryResponseMetadata, error) {
	return nil, nil, errNotImplemented
}
func (m *mockStub) GetStateByPartialCompositeKeyWithPagination(objectType string, keys []string, pageSize int32, bookmark string) (shim.StateQueryIteratorInterface, *peer.QueryResponseMetadata, error) {
	return nil, nil, errNotImplemented
}
func (m *mockStub) GetQueryResult(query string) (shim.StateQueryIteratorInterface, error) {
	return nil, errNotImplemented
}
func (m *mockStub) GetQueryResultWithPagination(query string, pageSize int32, bookmark string) (shim.StateQueryIteratorInterface, *peer.QueryResponseMetadata, error) {
	return nil, nil, errNotImplemented
}
func (m *mockStub) GetHistoryForKey(key string) (shim.HistoryQueryIteratorInterface, error) {
	return nil, errNotImplemented
}
func (m *mockStub) GetPrivateData(collection, key string) ([]byte, error) {
	return nil, errNotImplemented
}
func (m *mockStub) GetPrivateDataHash(collection, key string) ([]byte, error) {
	return nil, errNotImplemented
}
func (m *mockStub) PutPrivateData(collection string, key string, value []byte) error {
	return errNotImplemented
}
func (m *mockStub) DelPrivateData(collection, key string) error { return errNotImplemented }
func (m *mockStub) PurgePrivateData(collection, key string) error {
	return errNotImplemented
}
func (m *mockStub) SetPrivateDataValidationParameter(collection, key string, ep []byte) error {
	return errNotImplemented
}
func (m *mockStub) GetPrivateDataValidationParameter(collection, key string) ([]byte, error) {
	return nil, errNotImplemented
}
func (m *mockStub) GetPrivateDataByRange(collection, startKey, endKey string) (shim.StateQueryIteratorInterface, error) {
	return nil, errNotImplemented
}
func (m *mockStub) GetPrivateDataByPartialCompositeKey(collection, objectType string, keys []string) (shim.StateQueryIteratorInterface, error) {
	return nil, errNotImplemented
}
func (m *mockStub) GetPrivateDataQueryResult(collection, query string) (shim.StateQueryIteratorInterface, error) {
	return nil, errNotImplemented
}
func (m *mockStub) GetCreator() ([]byte, error)              { return nil, errNotImplemented }
func (m *mockStub) GetTransient() (map[string][]byte, error) { return nil, errNotImplemented }
func (m *mockStub) GetBinding() ([]byte, error)              { return nil, errNotImplemented }
func (m *mockStub) GetDecorations() map[string][]byte        { return nil }
func (m *mockStub) GetSignedProposal() (*peer.SignedProposal, error) {
	return nil, errNotImplemented
}

var _ shim.ChaincodeStubInterface = (*mockStub)(nil)

// mockClientIdentity satisfies cid.ClientIdentity for a fixed transactor.
type mockClientIdentity struct {
	id  string
	msp string
}

func (c *mockClientIdentity) GetID() (string, error)    { return c.id, nil }
func (c *mockClientIdentity) GetMSPID() (string, error) { return c.msp, nil }
func (c *mockClientIdentity) GetAttributeValue(attrName string) (string, bool, error) {
	return "", false, nil
}
func (c *mockClientIdentity) AssertAttributeValue(attrName, attrValue string) error {
	return fmt.Errorf("attribute '%s' not present", attrName)
}
func (c *mockClientIdentity) GetX509Certificate() (*x509.Certificate, error) {
	return nil, errNotImplemented
}
