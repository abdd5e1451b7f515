// Package sheets defines the outbound port for mirroring committed
// transactions to a spreadsheet.
package sheets

import (
	"context"

	"tally/internal/core"
)

// TransactionAppender writes one transaction as a spreadsheet row and returns
// a reference to the written range.
type TransactionAppender interface {
	Append(ctx context.Context, t core.Transaction) (rowRef string, err error)
}
