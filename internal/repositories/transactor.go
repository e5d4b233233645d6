package repositories

import "context"

// Transactor runs fn as one atomic unit. Repository calls made with the context
// passed to fn take part in the transaction; any error rolls everything back.
type Transactor interface {
	WithinTx(ctx context.Context, fn func(ctx context.Context) error) error
}
