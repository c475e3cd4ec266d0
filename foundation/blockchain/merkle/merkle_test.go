package merkle_test

import (
	"bytes"
	"crypto/sha256"
	"strings"
	"testing"

	"github.com/aurumchain/aurum/foundation/blockchain/merkle"
	"golang.org/x/crypto/blake2b"
)

// Data represents test content stored in the merkle tree.
type Data struct {
	x string
}

// Hash hashes the value using sha256.
func (d Data) Hash() ([]byte, error) {
	h := sha256.New()
	if _, err := h.Write([]byte(d.x)); err != nil {
		return nil, err
	}

	return h.Sum(nil), nil
}

// Equals tests for equality of two pieces of data.
func (d Data) Equals(other Data) bool {
	return d.x == other.x
}

// =============================================================================

var table = [][]Data{
	{{x: "Hello"}, {x: "Hi"}, {x: "Hey"}, {x: "Hola"}},
	{{x: "Hello"}, {x: "Hi"}, {x: "Hey"}},
	{{x: "Hello"}, {x: "Hi"}, {x: "Hey"}, {x: "Greetings"}, {x: "Hola"}},
	{{x: "123"}, {x: "234"}, {x: "345"}, {x: "456"}, {x: "567"}, {x: "678"}, {x: "789"}},
	{{x: "EnoughContent"}},
}

func Test_NewTree(t *testing.T) {
	for i, values := range table {
		tree, err := merkle.NewTree(values)
		if err != nil {
			t.Fatalf("[case:%d] unexpected error: %v", i, err)
		}

		if len(tree.MerkleRoot) == 0 {
			t.Errorf("[case:%d] expected a non empty merkle root", i)
		}

		if err := tree.Verify(); err != nil {
			t.Errorf("[case:%d] expected tree to verify: %v", i, err)
		}
	}
}

func Test_TwoLeafPairing(t *testing.T) {
	values := []Data{{x: "Hello"}, {x: "Hi"}}

	tree, err := merkle.NewTree(values)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	left, err := values[0].Hash()
	if err != nil {
		t.Fatal(err)
	}
	right, err := values[1].Hash()
	if err != nil {
		t.Fatal(err)
	}

	h, _ := blake2b.New256(nil)
	h.Write(append(left, right...))
	exp := h.Sum(nil)

	if !bytes.Equal(tree.MerkleRoot, exp) {
		t.Errorf("expected root %x, got %x", exp, tree.MerkleRoot)
	}
}

func Test_Values(t *testing.T) {
	for i, values := range table {
		tree, err := merkle.NewTree(values)
		if err != nil {
			t.Fatalf("[case:%d] unexpected error: %v", i, err)
		}

		got := tree.Values()
		if len(got) != len(values) {
			t.Fatalf("[case:%d] expected %d values, got %d", i, len(values), len(got))
		}

		for j := range values {
			if !got[j].Equals(values[j]) {
				t.Errorf("[case:%d] expected value %q at index %d, got %q", i, values[j].x, j, got[j].x)
			}
		}
	}
}

func Test_VerifyData(t *testing.T) {
	for i, values := range table {
		tree, err := merkle.NewTree(values)
		if err != nil {
			t.Fatalf("[case:%d] unexpected error: %v", i, err)
		}

		for _, value := range values {
			if err := tree.VerifyData(value); err != nil {
				t.Errorf("[case:%d] expected data %q to verify: %v", i, value.x, err)
			}
		}

		if err := tree.VerifyData(Data{x: "NotInTree"}); err == nil {
			t.Errorf("[case:%d] expected missing data to fail verification", i)
		}
	}
}

func Test_Proof(t *testing.T) {
	for i, values := range table {
		tree, err := merkle.NewTree(values)
		if err != nil {
			t.Fatalf("[case:%d] unexpected error: %v", i, err)
		}

		for _, value := range values {
			proof, order, err := tree.Proof(value)
			if err != nil {
				t.Fatalf("[case:%d] unexpected error: %v", i, err)
			}
			if len(proof) != len(order) {
				t.Fatalf("[case:%d] proof and order lengths differ", i)
			}

			// Walk the proof from the leaf to the root.
			current, err := value.Hash()
			if err != nil {
				t.Fatal(err)
			}
			for j := range proof {
				h, _ := blake2b.New256(nil)
				if order[j] == 0 {
					h.Write(append(proof[j], current...))
				} else {
					h.Write(append(current, proof[j]...))
				}
				current = h.Sum(nil)
			}

			if !bytes.Equal(current, tree.MerkleRoot) {
				t.Errorf("[case:%d] proof for %q does not resolve to the root", i, value.x)
			}
		}
	}
}

func Test_RootHex(t *testing.T) {
	tree, err := merkle.NewTree(table[0])
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	root := tree.RootHex()
	if !strings.HasPrefix(root, "0x") || len(root) != 66 {
		t.Errorf("expected a 0x prefixed 32 byte hex root, got %q", root)
	}
}

func Test_EmptyTree(t *testing.T) {
	if _, err := merkle.NewTree([]Data{}); err == nil {
		t.Error("expected an error constructing a tree with no content")
	}
}

func Test_TamperDetection(t *testing.T) {
	tree, err := merkle.NewTree(table[0])
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	tree.MerkleRoot = []byte{1}
	if err := tree.Verify(); err == nil {
		t.Error("expected a tampered root to fail verification")
	}
}
