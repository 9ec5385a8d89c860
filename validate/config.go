// Package validate implements C2: structural, cryptographic, and semantic
// checks over transactions and blocks (§4.2). Every check returns the first
// failing invariant as an *errs.Error with no side effects before that
// point (§4.2's "Failure mapping").
package validate

import "github.com/chainforge/poaledger/common"

// Thresholds bundles the configurable limits §4.2/§6 validation consults.
type Thresholds struct {
	MinGasPrice     common.U256
	MaxGasPrice     common.U256
	MinGasLimit     uint64 // fixed at 21000 per §4.2 step 5
	MaxGasLimit     uint64
	MaxDataSize     int
	MaxBlockSize    int
	MaxTxsPerBlock  int
}

// DefaultThresholds returns sane defaults matching §4.2's literal 21000
// floor and the timeouts table's general "all configurable" stance.
func DefaultThresholds() Thresholds {
	return Thresholds{
		MinGasPrice:    common.NewU256(1),
		MaxGasPrice:    common.NewU256(1_000_000_000),
		MinGasLimit:    21000,
		MaxGasLimit:    8_000_000,
		MaxDataSize:    64 * 1024,
		MaxBlockSize:   2 * 1024 * 1024,
		MaxTxsPerBlock: 5000,
	}
}
