package types

import "github.com/chainforge/poaledger/common"

// AccountState is the closed record of §3/§9 ("Duck-typed account states ...
// Replace with a single closed record"). Missing Code/Storage are absence,
// not a default zero-value/empty-slice distinction the caller must track.
type AccountState struct {
	Balance common.U256       `json:"balance"`
	Nonce   uint64            `json:"nonce"`
	Code    []byte            `json:"code,omitempty"`
	Storage map[string]string `json:"storage,omitempty"`
}

// Clone returns a deep copy of the account, so ledger scratch-state copies
// (§4.3 step 5: "apply transactions sequentially against a copy") never
// alias the committed state map.
func (a *AccountState) Clone() *AccountState {
	cp := &AccountState{Balance: a.Balance, Nonce: a.Nonce}
	if a.Code != nil {
		cp.Code = append([]byte(nil), a.Code...)
	}
	if a.Storage != nil {
		cp.Storage = make(map[string]string, len(a.Storage))
		for k, v := range a.Storage {
			cp.Storage[k] = v
		}
	}
	return cp
}
