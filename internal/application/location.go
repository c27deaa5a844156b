package application

import (
	"context"

	"github.com/jobrunner/gpkgindex/internal/domain"
)

// IndexLocation walks a query order and yields the kinds whose index exists.
// Existence is checked only when Next reaches a kind, so kinds behind the
// first usable one are never checked unless the caller keeps going. An
// IndexLocation is single use.
type IndexLocation struct {
	ctx     context.Context
	kinds   []domain.IndexKind
	pos     int
	current domain.IndexKind
	exists  func(ctx context.Context, kind domain.IndexKind) (bool, error)
	// onError decides whether a failed check is skipped. It returns the error
	// to stop with, or nil to continue.
	onError func(kind domain.IndexKind, err error) error
	err     error
}

func newIndexLocation(
	ctx context.Context,
	kinds []domain.IndexKind,
	exists func(context.Context, domain.IndexKind) (bool, error),
	onError func(domain.IndexKind, error) error,
) *IndexLocation {
	return &IndexLocation{
		ctx:     ctx,
		kinds:   kinds,
		current: domain.IndexNone,
		exists:  exists,
		onError: onError,
	}
}

// Next advances to the next built kind. It returns false when the order is
// exhausted or a check failed without being skipped.
func (l *IndexLocation) Next() bool {
	for l.err == nil && l.pos < len(l.kinds) {
		kind := l.kinds[l.pos]
		l.pos++

		ok, err := l.exists(l.ctx, kind)
		if err != nil {
			if l.err = l.onError(kind, err); l.err != nil {
				break
			}
			continue
		}
		if ok {
			l.current = kind
			return true
		}
	}
	l.current = domain.IndexNone
	return false
}

// Kind returns the current kind, IndexNone before the first and after the
// last call to Next.
func (l *IndexLocation) Kind() domain.IndexKind {
	return l.current
}

// Err returns the check error that stopped the walk.
func (l *IndexLocation) Err() error {
	return l.err
}
