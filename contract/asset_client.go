package contract

import (
	"fmt"
	"math/big"
	"strings"

	"github.com/hyperledger/fabric-chaincode-go/shim"
	"github.com/hyperledger/fabric-contract-api-go/contractapi"
)

// assetClient is the boundary to an external fungible token chaincode. The
// token's code is untrusted: any non-OK response (or an explicit "false"
// payload) surfaces as ErrExternalTransfer and aborts the whole calling
// transaction.
type assetClient struct {
	ctx  contractapi.TransactionContextInterface
	name string // token chaincode name on the same channel
}

func newAssetClient(ctx contractapi.TransactionContextInterface, name string) *assetClient {
	return &assetClient{ctx: ctx, name: name}
}

func (c *assetClient) invoke(args ...string) ([]byte, error) {
	raw := make([][]byte, len(args))
	for i, a := range args {
		raw[i] = []byte(a)
	}
	resp := c.ctx.GetStub().InvokeChaincode(c.name, raw, "")
	if resp.Status != shim.OK {
		return nil, fmt.Errorf("token '%s' %s returned status %d: %s: %w",
			c.name, args[0], resp.Status, resp.Message, ErrExternalTransfer)
	}
	return resp.Payload, nil
}

func (c *assetClient) checkSuccess(op string, payload []byte) error {
	if strings.EqualFold(strings.TrimSpace(string(payload)), "false") {
		return fmt.Errorf("token '%s' %s reported failure: %w", c.name, op, ErrExternalTransfer)
	}
	return nil
}

// Transfer moves amount from the guild's own token account to `to`.
func (c *assetClient) Transfer(to string, amount *big.Int) error {
	payload, err := c.invoke("Transfer", to, amount.String())
	if err != nil {
		return err
	}
	return c.checkSuccess("Transfer", payload)
}

// TransferFrom pulls amount from `from` into `to` using a prior allowance.
func (c *assetClient) TransferFrom(from, to string, amount *big.Int) error {
	payload, err := c.invoke("TransferFrom", from, to, amount.String())
	if err != nil {
		return err
	}
	return c.checkSuccess("TransferFrom", payload)
}

// BalanceOf returns the token balance of account.
func (c *assetClient) BalanceOf(account string) (*big.Int, error) {
	payload, err := c.invoke("BalanceOf", account)
	if err != nil {
		return nil, err
	}
	balance, ok := new(big.Int).SetString(strings.TrimSpace(string(payload)), 10)
	if !ok {
		return nil, fmt.Errorf("token '%s' returned unparseable balance '%s': %w", c.name, payload, ErrExternalTransfer)
	}
	return balance, nil
}
