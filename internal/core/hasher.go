// Package core defines the domain models for deterministic task execution.
package core

import (
	"crypto/sha256"
	"encoding/hex"
	"sort"
)

// TaskHash is a 128-bit task fingerprint, hex-encoded to 32 characters.
//
// From spec.md Task Identity:
//
//	Built from (session.uniqueId, processor name, raw task source text,
//	per-declared-input ordered pairs, file inputs as an unordered
//	content-hash bag, free variable names+values). Any change to these
//	components MUST produce a different Task Hash.
type TaskHash string

// TaskHasher computes deterministic 128-bit fingerprints for task bindings.
//
// The hash computation is designed to be:
//   - Deterministic: identical inputs always produce identical hashes
//   - Content-based: uses file contents, not metadata
//   - Ordered for declared pairs, unordered (content-bag) for file inputs
type TaskHasher struct{}

// NewTaskHasher creates a new TaskHasher.
func NewTaskHasher() *TaskHasher {
	return &TaskHasher{}
}

// HashInput contains all components required for computing a Task Hash
// per spec.md's task identity definition.
type HashInput struct {
	// SessionID is the owning session's unique id (spec.md
	// session.uniqueId). Two otherwise-identical tasks in different
	// sessions never collide.
	SessionID string

	// ProcessorName is the binding processor's name.
	ProcessorName string

	// SourceText is the task's raw, unexpanded source text (the process
	// body as declared, before variable interpolation).
	SourceText string

	// FreeVars is the set of free variable name/value pairs captured by
	// this binding (the resolved TaskContext), hashed as ordered pairs
	// (sorted by name for determinism, since Go maps carry no order).
	FreeVars map[string]string

	// Inputs is the resolved InputSet: file inputs whose content
	// contributes to identity as an unordered content-hash bag.
	Inputs *InputSet
}

// ComputeHash computes a deterministic 128-bit TaskHash from the given
// inputs:
//  1. Session id
//  2. Processor name
//  3. Raw source text
//  4. Free variable name/value pairs, ordered by name
//  5. File inputs, hashed individually by content then sorted as an
//     unordered bag (order of resolution must not affect identity)
//
// All components are length-prefixed to prevent ambiguity. The final
// SHA-256 digest is truncated to its first 16 bytes (128 bits).
func (h *TaskHasher) ComputeHash(input HashInput) TaskHash {
	hasher := sha256.New()

	// Helper to write length-prefixed data
	writeField := func(data []byte) {
		// Write 8-byte length prefix (big-endian)
		length := uint64(len(data))
		lengthBytes := []byte{
			byte(length >> 56),
			byte(length >> 48),
			byte(length >> 40),
			byte(length >> 32),
			byte(length >> 24),
			byte(length >> 16),
			byte(length >> 8),
			byte(length),
		}
		hasher.Write(lengthBytes)
		hasher.Write(data)
	}

	// 1. Session identity
	writeField([]byte(input.SessionID))

	// 2. Processor name
	writeField([]byte(input.ProcessorName))

	// 3. Raw source text
	writeField([]byte(input.SourceText))

	// 4. Free variables - ordered pairs, sorted by name for determinism
	varNames := make([]string, 0, len(input.FreeVars))
	for k := range input.FreeVars {
		varNames = append(varNames, k)
	}
	sort.Strings(varNames)

	writeField([]byte{byte(len(varNames))})
	for _, k := range varNames {
		writeField([]byte(k))
		writeField([]byte(input.FreeVars[k]))
	}

	// 5. File inputs - unordered content-hash bag: hash each file's
	// content independently, then sort the resulting digests so that
	// resolution order never affects the task's identity.
	var contentHashes []string
	if input.Inputs != nil {
		contentHashes = make([]string, 0, len(input.Inputs.Inputs))
		for _, inp := range input.Inputs.Inputs {
			sum := sha256.Sum256(inp.Content)
			contentHashes = append(contentHashes, hex.EncodeToString(sum[:]))
		}
	}
	sort.Strings(contentHashes)

	writeField([]byte{byte(len(contentHashes))})
	for _, ch := range contentHashes {
		writeField([]byte(ch))
	}

	// Compute final digest, truncated to 128 bits.
	sum := hasher.Sum(nil)
	return TaskHash(hex.EncodeToString(sum[:16]))
}

// String returns the string representation of the TaskHash.
func (t TaskHash) String() string {
	return string(t)
}
