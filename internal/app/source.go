package app

import (
	"context"

	"zpoolwatch/internal/intake"
	"zpoolwatch/internal/zpool"
)

// Source is the event producer plus the scrub oracle.
type Source interface {
	Snapshot(ctx context.Context) ([]string, error)
	Follow(ctx context.Context) (intake.Stream, error)
	ScrubInProgress(ctx context.Context) (bool, error)
}

type zpoolSource struct {
	*zpool.Client
}

func (s zpoolSource) Follow(ctx context.Context) (intake.Stream, error) {
	st, err := s.Client.Follow(ctx)
	if err != nil {
		return nil, err
	}
	return st, nil
}
