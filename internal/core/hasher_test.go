package core

import "testing"

// TestComputeHash_IdenticalInputsProduceSameHash verifies tdd.md#Test-1:
// "Given identical task definition, identical input file contents,
// identical free variables: The computed Task Hash MUST be identical."
func TestComputeHash_IdenticalInputsProduceSameHash(t *testing.T) {
	hasher := NewTaskHasher()

	input := HashInput{
		SessionID:     "session-1",
		ProcessorName: "align",
		SourceText:    "echo hello",
		FreeVars:      map[string]string{"FOO": "bar", "BAZ": "qux"},
		Inputs: &InputSet{
			Inputs: []Input{
				{Path: "/a/file1.txt", Content: []byte("content1")},
				{Path: "/a/file2.txt", Content: []byte("content2")},
			},
		},
	}

	hash1 := hasher.ComputeHash(input)
	hash2 := hasher.ComputeHash(input)

	if hash1 != hash2 {
		t.Errorf("identical inputs produced different hashes: %s != %s", hash1, hash2)
	}
}

// TestComputeHash_ContentChangeInvalidatesHash verifies tdd.md#Test-3:
// "Given a single input file content change: The Task Hash MUST change."
func TestComputeHash_ContentChangeInvalidatesHash(t *testing.T) {
	hasher := NewTaskHasher()

	input1 := HashInput{
		SessionID:     "s", ProcessorName: "p", SourceText: "echo hello",
		Inputs: &InputSet{Inputs: []Input{{Path: "/a/file.txt", Content: []byte("original content")}}},
	}
	input2 := HashInput{
		SessionID:     "s", ProcessorName: "p", SourceText: "echo hello",
		Inputs: &InputSet{Inputs: []Input{{Path: "/a/file.txt", Content: []byte("modified content")}}},
	}

	hash1 := hasher.ComputeHash(input1)
	hash2 := hasher.ComputeHash(input2)

	if hash1 == hash2 {
		t.Error("content change did not invalidate hash")
	}
}

// TestComputeHash_FreeVarChangeInvalidatesHash verifies tdd.md#Test-4's free
// variable analogue: any change to a free variable's value, or to the set of
// names, MUST change the Task Hash.
func TestComputeHash_FreeVarChangeInvalidatesHash(t *testing.T) {
	hasher := NewTaskHasher()

	base := HashInput{SessionID: "s", ProcessorName: "p", SourceText: "echo hello"}

	input1 := base
	input1.FreeVars = map[string]string{"KEY": "value1"}
	input2 := base
	input2.FreeVars = map[string]string{"KEY": "value2"}

	hash1 := hasher.ComputeHash(input1)
	hash2 := hasher.ComputeHash(input2)
	if hash1 == hash2 {
		t.Error("free variable value change did not invalidate hash")
	}

	input3 := base
	input3.FreeVars = map[string]string{"KEY": "value1", "NEW": "var"}
	hash3 := hasher.ComputeHash(input3)
	if hash1 == hash3 {
		t.Error("adding a free variable did not invalidate hash")
	}

	input4 := base
	input4.FreeVars = map[string]string{"DIFFERENT_KEY": "value1"}
	hash4 := hasher.ComputeHash(input4)
	if hash1 == hash4 {
		t.Error("free variable key change did not invalidate hash")
	}
}

// TestComputeHash_SourceTextChangeInvalidatesHash verifies raw source text
// (the unexpanded process body) is part of identity.
func TestComputeHash_SourceTextChangeInvalidatesHash(t *testing.T) {
	hasher := NewTaskHasher()

	input1 := HashInput{SessionID: "s", ProcessorName: "p", SourceText: "echo hello"}
	input2 := HashInput{SessionID: "s", ProcessorName: "p", SourceText: "echo world"}

	hash1 := hasher.ComputeHash(input1)
	hash2 := hasher.ComputeHash(input2)

	if hash1 == hash2 {
		t.Error("source text change did not invalidate hash")
	}
}

// TestComputeHash_ProcessorNameChangeInvalidatesHash verifies the binding
// processor's name is part of identity (two processors sharing the same
// source text and inputs must not collide).
func TestComputeHash_ProcessorNameChangeInvalidatesHash(t *testing.T) {
	hasher := NewTaskHasher()

	input1 := HashInput{SessionID: "s", ProcessorName: "align", SourceText: "run"}
	input2 := HashInput{SessionID: "s", ProcessorName: "sort", SourceText: "run"}

	hash1 := hasher.ComputeHash(input1)
	hash2 := hasher.ComputeHash(input2)

	if hash1 == hash2 {
		t.Error("processor name change did not invalidate hash")
	}
}

// TestComputeHash_SessionIDChangeInvalidatesHash verifies spec.md's
// requirement that two otherwise-identical tasks in different sessions
// never collide.
func TestComputeHash_SessionIDChangeInvalidatesHash(t *testing.T) {
	hasher := NewTaskHasher()

	input1 := HashInput{SessionID: "session-a", ProcessorName: "p", SourceText: "run"}
	input2 := HashInput{SessionID: "session-b", ProcessorName: "p", SourceText: "run"}

	hash1 := hasher.ComputeHash(input1)
	hash2 := hasher.ComputeHash(input2)

	if hash1 == hash2 {
		t.Error("session id change did not invalidate hash")
	}
}

// TestComputeHash_FreeVarOrderDoesNotAffectHash verifies free variables are
// sorted by name before hashing, since Go maps carry no order.
func TestComputeHash_FreeVarOrderDoesNotAffectHash(t *testing.T) {
	hasher := NewTaskHasher()

	input1 := HashInput{
		SessionID: "s", ProcessorName: "p", SourceText: "build",
		FreeVars: map[string]string{"AAA": "1", "ZZZ": "2", "MMM": "3"},
	}
	input2 := HashInput{
		SessionID: "s", ProcessorName: "p", SourceText: "build",
		FreeVars: map[string]string{"ZZZ": "2", "MMM": "3", "AAA": "1"},
	}

	hash1 := hasher.ComputeHash(input1)
	hash2 := hasher.ComputeHash(input2)

	if hash1 != hash2 {
		t.Error("same free variables in different order produced different hashes")
	}
}

// TestComputeHash_FileInputOrderDoesNotAffectHash verifies file inputs
// contribute to identity as an unordered content-hash bag: resolution order
// must not affect the Task Hash.
func TestComputeHash_FileInputOrderDoesNotAffectHash(t *testing.T) {
	hasher := NewTaskHasher()

	input1 := HashInput{
		SessionID: "s", ProcessorName: "p", SourceText: "build",
		Inputs: &InputSet{Inputs: []Input{
			{Path: "/a.txt", Content: []byte("a")},
			{Path: "/z.txt", Content: []byte("z")},
			{Path: "/m.txt", Content: []byte("m")},
		}},
	}
	input2 := HashInput{
		SessionID: "s", ProcessorName: "p", SourceText: "build",
		Inputs: &InputSet{Inputs: []Input{
			{Path: "/z.txt", Content: []byte("z")},
			{Path: "/m.txt", Content: []byte("m")},
			{Path: "/a.txt", Content: []byte("a")},
		}},
	}

	hash1 := hasher.ComputeHash(input1)
	hash2 := hasher.ComputeHash(input2)

	if hash1 != hash2 {
		t.Error("same file inputs resolved in different order produced different hashes")
	}
}

// TestComputeHash_InputPathDoesNotAffectHash verifies the file-input bag is a
// content-hash bag: only content, not path, contributes to identity. Path is
// metadata a fresh checkout can relocate; content is what determines reuse.
func TestComputeHash_InputPathDoesNotAffectHash(t *testing.T) {
	hasher := NewTaskHasher()

	input1 := HashInput{
		SessionID: "s", ProcessorName: "p", SourceText: "build",
		Inputs: &InputSet{Inputs: []Input{{Path: "/path/a.txt", Content: []byte("content")}}},
	}
	input2 := HashInput{
		SessionID: "s", ProcessorName: "p", SourceText: "build",
		Inputs: &InputSet{Inputs: []Input{{Path: "/path/b.txt", Content: []byte("content")}}},
	}

	hash1 := hasher.ComputeHash(input1)
	hash2 := hasher.ComputeHash(input2)

	if hash1 != hash2 {
		t.Error("input path alone (same content) changed the hash; the file bag must be content-addressed")
	}
}

// TestComputeHash_NilInputsHandled verifies a nil InputSet is handled without panicking.
func TestComputeHash_NilInputsHandled(t *testing.T) {
	hasher := NewTaskHasher()

	input := HashInput{SessionID: "s", ProcessorName: "p", SourceText: "build", Inputs: nil}

	hash := hasher.ComputeHash(input)

	if hash == "" {
		t.Error("nil inputs produced empty hash")
	}
}

// TestComputeHash_EmptyInputsHandled verifies an empty InputSet is handled.
func TestComputeHash_EmptyInputsHandled(t *testing.T) {
	hasher := NewTaskHasher()

	input := HashInput{SessionID: "s", ProcessorName: "p", SourceText: "build", Inputs: &InputSet{Inputs: []Input{}}}

	hash := hasher.ComputeHash(input)

	if hash == "" {
		t.Error("empty inputs produced empty hash")
	}
}

// TestComputeHash_Deterministic verifies many repeated computations over the
// same input produce the same hash.
func TestComputeHash_Deterministic(t *testing.T) {
	hasher := NewTaskHasher()

	input := HashInput{
		SessionID:     "session-xyz",
		ProcessorName: "complex",
		SourceText:    "complex command with args",
		FreeVars:      map[string]string{"PATH": "/bin", "HOME": "/home/user"},
		Inputs: &InputSet{Inputs: []Input{
			{Path: "/z.txt", Content: []byte("z")},
			{Path: "/a.txt", Content: []byte("a")},
			{Path: "/m.txt", Content: []byte("m")},
		}},
	}

	hashes := make([]TaskHash, 100)
	for i := 0; i < 100; i++ {
		hashes[i] = hasher.ComputeHash(input)
	}

	for i := 1; i < len(hashes); i++ {
		if hashes[i] != hashes[0] {
			t.Errorf("iteration %d produced different hash: %s != %s", i, hashes[i], hashes[0])
		}
	}
}

// TestComputeHash_HashFormat verifies the hash is a 128-bit, hex-encoded
// fingerprint (32 hex characters), matching cache's fixed-width index record
// expectations.
func TestComputeHash_HashFormat(t *testing.T) {
	hasher := NewTaskHasher()

	input := HashInput{SessionID: "s", ProcessorName: "p", SourceText: "test"}

	hash := hasher.ComputeHash(input)

	if len(hash) != 32 {
		t.Errorf("expected 32 character (128-bit) hash, got %d", len(hash))
	}

	for _, c := range hash {
		if !((c >= '0' && c <= '9') || (c >= 'a' && c <= 'f')) {
			t.Errorf("invalid hex character in hash: %c", c)
		}
	}
}
