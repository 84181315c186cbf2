/*
ledger.go - Ledger writer

Persists one ledger entry idempotently:
  1. Upsert the header by its doc number (derived fields are overwritten)
  2. Delete every line stored for that doc number
  3. Insert the new line set

Writing the same entry twice leaves the ledger unchanged. Batch entries are
checked before writing: their lines must sum to PointsEarned exactly.
*/
package points

import (
	"context"
	"fmt"
	"time"

	"github.com/pkg/errors"
)

// ErrUnbalancedEntry is returned when line points do not sum to the entry total.
var ErrUnbalancedEntry = errors.New("ledger lines do not sum to entry points")

// DocSequence is the name of the global ledger doc number sequence.
const DocSequence = "point_doc"

// FormatDocNo renders a ledger doc number: PT-YYYYMMDD-NNNNNN.
func FormatDocNo(date time.Time, seq int64) string {
	return fmt.Sprintf("PT-%s-%06d", date.Format("20060102"), seq)
}

// NextDocNo draws the next number from the global sequence.
func NextDocNo(ctx context.Context, tx Tx, date time.Time) (string, error) {
	seq, err := tx.NextSequence(ctx, DocSequence)
	if err != nil {
		return "", errors.Wrap(err, "next doc sequence")
	}
	return FormatDocNo(date, seq), nil
}

// entryWriter is the part of Tx the writer needs.
type entryWriter interface {
	UpsertEntry(ctx context.Context, entry LedgerEntry) error
	ReplaceLines(ctx context.Context, docNo string, lines []LedgerLine) error
}

// WriteEntry upserts the header and replaces all lines of entry.
func WriteEntry(ctx context.Context, w entryWriter, entry LedgerEntry) error {
	if entry.DocNo == "" {
		return errors.New("ledger entry has no doc number")
	}
	if entry.LinkedToDocument() && !entry.LinePointsTotal().Equal(entry.PointsEarned) {
		return errors.Wrapf(ErrUnbalancedEntry, "%s: lines %s, entry %s",
			entry.DocNo, entry.LinePointsTotal().String(), entry.PointsEarned.String())
	}
	if err := w.UpsertEntry(ctx, entry); err != nil {
		return errors.Wrapf(err, "upsert entry %s", entry.DocNo)
	}
	if err := w.ReplaceLines(ctx, entry.DocNo, entry.Lines); err != nil {
		return errors.Wrapf(err, "replace lines of %s", entry.DocNo)
	}
	return nil
}
