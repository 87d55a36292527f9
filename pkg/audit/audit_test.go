package audit_test

import (
	"context"
	"testing"

	"github.com/go-logr/logr"

	qamerrors "github.com/qam-project/qam/internal/errors"
	"github.com/qam-project/qam/pkg/audit"
)

func TestAppendBuildsALinkedChain(t *testing.T) {
	ctx := context.Background()
	chain := audit.NewChain(audit.NewMemoryStore(), nil, logr.Discard())

	first, err := chain.Append(ctx, "deployment-1", "DEPLOYMENT_CREATED", "alice", nil)
	if err != nil {
		t.Fatalf("append first: %v", err)
	}
	if first.Seq != 1 {
		t.Fatalf("expected seq 1, got %d", first.Seq)
	}
	if first.PrevHash != "" {
		t.Fatalf("expected empty prevHash for genesis entry, got %q", first.PrevHash)
	}
	if first.ContentHash == "" {
		t.Fatal("expected a non-empty content hash")
	}

	second, err := chain.Append(ctx, "deployment-1", "DEPLOYMENT_DEPLOYED", "alice", map[string]interface{}{"backend": "qpu-1"})
	if err != nil {
		t.Fatalf("append second: %v", err)
	}
	if second.Seq != 2 {
		t.Fatalf("expected seq 2, got %d", second.Seq)
	}
	if second.PrevHash != first.ContentHash {
		t.Fatalf("expected second.PrevHash == first.ContentHash, got %q vs %q", second.PrevHash, first.ContentHash)
	}
}

func TestVerifyDetectsNoTamperingOnAnIntactChain(t *testing.T) {
	ctx := context.Background()
	chain := audit.NewChain(audit.NewMemoryStore(), nil, logr.Discard())

	for i := 0; i < 5; i++ {
		if _, err := chain.Append(ctx, "deployment-2", "EVENT", "system", nil); err != nil {
			t.Fatalf("append %d: %v", i, err)
		}
	}

	broken, err := chain.Verify(ctx, "deployment-2")
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if broken != nil {
		t.Fatalf("expected an intact chain, got a break at seq %d", broken.Seq)
	}
}

func TestVerifyDetectsAForgedEntry(t *testing.T) {
	ctx := context.Background()
	store := audit.NewMemoryStore()
	chain := audit.NewChain(store, nil, logr.Discard())

	if _, err := chain.Append(ctx, "deployment-3", "FIRST", "system", nil); err != nil {
		t.Fatalf("append: %v", err)
	}
	if _, err := chain.Append(ctx, "deployment-3", "SECOND", "system", nil); err != nil {
		t.Fatalf("append: %v", err)
	}

	entries, err := store.Entries(ctx, "deployment-3")
	if err != nil {
		t.Fatalf("entries: %v", err)
	}
	entries[0].Event = "TAMPERED"
	tampered := audit.NewMemoryStore()
	for _, e := range entries {
		if err := tampered.Append(ctx, e); err != nil {
			t.Fatalf("seed tampered store: %v", err)
		}
	}

	tamperedChain := audit.NewChain(tampered, nil, logr.Discard())
	broken, err := tamperedChain.Verify(ctx, "deployment-3")
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if broken == nil {
		t.Fatal("expected a detected break after tampering with the first entry's event field")
	}
	if broken.Seq != 1 {
		t.Fatalf("expected the break to be reported at the tampered entry (seq 1), got seq %d", broken.Seq)
	}

	verr := tamperedChain.VerifyOrError(ctx, "deployment-3")
	if verr == nil {
		t.Fatal("expected VerifyOrError to return an error for a broken chain")
	}
	appErr, ok := verr.(*qamerrors.AppError)
	if !ok {
		t.Fatalf("expected *errors.AppError, got %T", verr)
	}
	if appErr.Type != qamerrors.ErrorTypeHashChainBroken {
		t.Fatalf("expected ErrorTypeHashChainBroken, got %v", appErr.Type)
	}
}

func TestHMACSignerRoundTrips(t *testing.T) {
	signer := audit.NewHMACSigner([]byte("test-secret"))
	sig, err := signer.Sign("abc123")
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	if !signer.Verify("abc123", sig) {
		t.Fatal("expected the signer to verify its own signature")
	}
	if signer.Verify("different-hash", sig) {
		t.Fatal("expected verification to fail against a different content hash")
	}
}

func TestNoopSignerOnlyAcceptsEmptySignature(t *testing.T) {
	var signer audit.NoopSigner
	sig, err := signer.Sign("abc123")
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	if sig != "" {
		t.Fatalf("expected an empty signature, got %q", sig)
	}
	if !signer.Verify("abc123", "") {
		t.Fatal("expected NoopSigner to verify the empty signature")
	}
	if signer.Verify("abc123", "not-empty") {
		t.Fatal("expected NoopSigner to reject a non-empty signature")
	}
}

func TestChainsAreIndependentPerSubject(t *testing.T) {
	ctx := context.Background()
	chain := audit.NewChain(audit.NewMemoryStore(), nil, logr.Discard())

	a, err := chain.Append(ctx, "deployment-a", "EVENT", "system", nil)
	if err != nil {
		t.Fatalf("append a: %v", err)
	}
	b, err := chain.Append(ctx, "deployment-b", "EVENT", "system", nil)
	if err != nil {
		t.Fatalf("append b: %v", err)
	}
	if a.Seq != 1 || b.Seq != 1 {
		t.Fatalf("expected both subjects to start at seq 1, got %d and %d", a.Seq, b.Seq)
	}
	if a.ContentHash == b.ContentHash {
		t.Fatal("expected distinct subjects to produce distinct content hashes even for identical events")
	}
}
