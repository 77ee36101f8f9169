package domain

import "context"

// Transactor runs fn inside one database transaction. Repositories called with
// the ctx handed to fn join that transaction; nested calls reuse it.
type Transactor interface {
	WithinTransaction(ctx context.Context, fn func(ctx context.Context) error) error
}
