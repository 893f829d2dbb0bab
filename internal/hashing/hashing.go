// Package hashing provides the content digest and chain link primitives for
// the turn ledger. Both functions are pure: the same inputs always produce
// the same hex digest, which is what makes independent re-verification of a
// stored conversation possible.
package hashing

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
)

// Genesis is the previous-chain-hash value for the first turn of a
// conversation. It is the literal string "0", not a zero byte.
const Genesis = "0"

// contentPayload fixes the serialization order of the hashed fields.
// encoding/json emits struct fields in declaration order, so marshalling
// this struct is canonical: any implementation that marshals the same
// values in this order produces byte-identical digest input.
type contentPayload struct {
	TurnIndex    int    `json:"turn_index"`
	UserPrompt   string `json:"user_prompt"`
	Response     string `json:"response"`
	MachineState string `json:"machine_state"`
}

// ContentHash digests a turn's substantive fields. full_prompt,
// retrieved_context and created_at are deliberately excluded: they are
// informational and may be withheld without breaking verification.
func ContentHash(turnIndex int, userPrompt, response, machineState string) string {
	b, err := json.Marshal(contentPayload{
		TurnIndex:    turnIndex,
		UserPrompt:   userPrompt,
		Response:     response,
		MachineState: machineState,
	})
	if err != nil {
		// Marshalling a struct of ints and strings cannot fail.
		panic("hashing: marshal content payload: " + err.Error())
	}
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}

// Link combines a turn's content hash with its predecessor's chain hash.
// An empty previousChainHash means no prior turn exists and the genesis
// constant is used instead.
func Link(contentHash, previousChainHash string) string {
	if previousChainHash == "" {
		previousChainHash = Genesis
	}
	sum := sha256.Sum256([]byte(contentHash + previousChainHash))
	return hex.EncodeToString(sum[:])
}
