package points

import (
	"context"
	"time"
)

// IsDue reports whether a document must be (re)processed: it has never been
// handled, or its source was modified after the stored watermark.
func IsDue(w *Watermark, lastModified time.Time) bool {
	if w == nil {
		return true
	}
	return w.LastModified.Before(lastModified)
}

// recordWatermark stores lastModified as the handled version of doc.
func recordWatermark(ctx context.Context, tx Tx, doc SourceDocument, now time.Time) error {
	return tx.RecordWatermark(ctx, Watermark{
		DocNo:        doc.DocNo,
		DocType:      doc.Type,
		LastModified: doc.LastModified,
		ProcessedAt:  now,
	})
}
