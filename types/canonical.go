package types

import "encoding/json"

// canonicalJSON marshals m, whose keys are the explicit, closed field list
// for a transaction or block header payload (§4.1). encoding/json sorts map
// keys alphabetically when marshaling, which is what gives us the
// lexicographic-key-order canonical form without a bespoke encoder — the
// same trick the teacher's gencodec-generated types rely on for
// deterministic JSON, just applied directly instead of via code generation.
//
// Any change to the field set a caller passes in changes consensus; per
// §4.1 that is a versioned, deliberate act, never an incidental refactor.
func canonicalJSON(m map[string]interface{}) []byte {
	b, err := json.Marshal(m)
	if err != nil {
		// The field values here are always JSON-safe primitives/hex strings
		// constructed by this package; a marshal failure is a programming
		// error, not a runtime condition callers can recover from.
		panic("types: canonical encoding failed: " + err.Error())
	}
	return b
}
