package audit

import (
	"context"
	"time"

	"github.com/go-logr/logr"

	qamerrors "github.com/qam-project/qam/internal/errors"
	"github.com/qam-project/qam/pkg/domain"
	"github.com/qam-project/qam/pkg/metrics"
)

// Chain appends and verifies one subject's receipt log. Each subject
// (deployment, approval, execution, violation, adaptation) gets its own
// chain of sequence numbers starting at 1.
type Chain struct {
	store  Store
	signer Signer
	log    logr.Logger
}

func NewChain(store Store, signer Signer, log logr.Logger) *Chain {
	if signer == nil {
		signer = NoopSigner{}
	}
	return &Chain{store: store, signer: signer, log: log}
}

// Append adds a new event to subjectID's chain, computing its seq number,
// prevHash, contentHash, and signature from the chain's current tail.
func (c *Chain) Append(ctx context.Context, subjectID, event, actor string, details map[string]interface{}) (domain.ReceiptEntry, error) {
	last, ok, err := c.store.LastEntry(ctx, subjectID)
	if err != nil {
		return domain.ReceiptEntry{}, err
	}

	var prevHash string
	var seq uint64 = 1
	if ok {
		prevHash = last.ContentHash
		seq = last.Seq + 1
	}

	entry := domain.ReceiptEntry{
		SubjectID: subjectID,
		Seq:       seq,
		Timestamp: time.Now().UTC(),
		Event:     event,
		Actor:     actor,
		Details:   details,
		PrevHash:  prevHash,
	}

	contentHash, err := computeContentHash(prevHash, entry)
	if err != nil {
		return domain.ReceiptEntry{}, err
	}
	entry.ContentHash = contentHash

	signature, err := c.signer.Sign(contentHash)
	if err != nil {
		return domain.ReceiptEntry{}, err
	}
	entry.Signature = signature

	if err := c.store.Append(ctx, entry); err != nil {
		return domain.ReceiptEntry{}, err
	}
	return entry, nil
}

// Verify replays subjectID's chain from its genesis entry, recomputing each
// contentHash and signature, and reports the first entry (if any) whose
// recorded hash or signature no longer matches. A nil entry with a nil
// error means the chain is intact.
func (c *Chain) Verify(ctx context.Context, subjectID string) (broken *domain.ReceiptEntry, err error) {
	entries, err := c.store.Entries(ctx, subjectID)
	if err != nil {
		return nil, err
	}

	var prevHash string
	for i := range entries {
		entry := entries[i]
		if entry.PrevHash != prevHash {
			c.flagBroken(subjectID)
			return &entry, nil
		}
		wantHash, err := computeContentHash(prevHash, entry)
		if err != nil {
			return nil, err
		}
		if wantHash != entry.ContentHash {
			c.flagBroken(subjectID)
			return &entry, nil
		}
		if !c.signer.Verify(entry.ContentHash, entry.Signature) {
			c.flagBroken(subjectID)
			return &entry, nil
		}
		prevHash = entry.ContentHash
	}
	return nil, nil
}

// VerifyOrError is Verify wrapped so a broken chain surfaces as the
// domain-specific AppError the rest of the system expects.
func (c *Chain) VerifyOrError(ctx context.Context, subjectID string) error {
	broken, err := c.Verify(ctx, subjectID)
	if err != nil {
		return err
	}
	if broken != nil {
		return qamerrors.NewHashChainBroken(subjectID)
	}
	return nil
}

func (c *Chain) flagBroken(subjectID string) {
	metrics.RecordAuditChainBreak()
	c.log.Error(nil, "audit hash chain broken", "subjectId", subjectID)
}
