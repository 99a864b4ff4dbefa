// Package eventlog is the append-only, replayable event log of deployments.
//
// Every deployment has its own gap-free sequence starting at 1. Readers keep
// their own cursor (the last sequence they have seen) and never share state
// with the writer beyond the stored events, so any number of followers can
// attach at any offset, before or after the events they want were written.
package eventlog

import (
	"context"
	"errors"
	"iter"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/yz4230/deployhost/internal/entity"
	"github.com/yz4230/deployhost/internal/keylock"
	"github.com/yz4230/deployhost/internal/repository"
)

const DefaultPollInterval = 500 * time.Millisecond

type Log struct {
	events       repository.EventRepository
	deployments  repository.DeploymentRepository
	pollInterval time.Duration
	log          zerolog.Logger
	now          func() time.Time

	appendLocks keylock.Map[entity.ID]

	mu      sync.Mutex
	waiters map[entity.ID]*waiter
}

// waiter is the wake-up channel shared by the followers of one deployment.
type waiter struct {
	ch   chan struct{}
	refs int
}

// New creates a Log. pollInterval bounds how long a follower waits before
// re-reading the store, which picks up events appended by other processes.
func New(events repository.EventRepository, deployments repository.DeploymentRepository, pollInterval time.Duration, log zerolog.Logger) *Log {
	if pollInterval <= 0 {
		pollInterval = DefaultPollInterval
	}
	return &Log{
		events:       events,
		deployments:  deployments,
		pollInterval: pollInterval,
		log:          log,
		now:          time.Now,
		waiters:      make(map[entity.ID]*waiter),
	}
}

// Append assigns the next sequence number of id to a new event and wakes
// every follower of id.
func (l *Log) Append(ctx context.Context, id entity.ID, kind entity.EventKind, payload any) (*entity.Event, error) {
	if !kind.Valid() {
		return nil, errors.Join(entity.ErrInvalid, errors.New("unknown event kind "+string(kind)))
	}
	raw, err := entity.EncodePayload(payload)
	if err != nil {
		return nil, err
	}

	unlock := l.appendLocks.Lock(id)
	ev, err := l.events.Append(ctx, id, kind, raw, l.now().UTC())
	if errors.Is(err, entity.ErrConflict) {
		// another process took the sequence number first
		ev, err = l.events.Append(ctx, id, kind, raw, l.now().UTC())
	}
	unlock()
	if err != nil {
		return nil, err
	}

	l.log.Debug().
		Str("deployment_id", id.String()).
		Int64("sequence", ev.Sequence).
		Str("kind", string(kind)).
		Msg("event appended")
	l.notify(id)
	return ev, nil
}

// Read returns every event of id with a sequence greater than from. It never
// blocks on new events.
func (l *Log) Read(ctx context.Context, id entity.ID, from int64) ([]*entity.Event, error) {
	if _, err := l.deployments.GetByID(ctx, id); err != nil {
		return nil, err
	}
	return l.events.ListAfter(ctx, id, from)
}

// Follow yields the events of id after from, in order, blocking the reader
// until new events arrive. The sequence ends once the log is caught up and
// its latest event ends a pipeline (DONE, ERROR or DESTROY_DONE). Callers
// resume by calling Follow again with the last sequence they saw.
func (l *Log) Follow(ctx context.Context, id entity.ID, from int64) iter.Seq2[*entity.Event, error] {
	return func(yield func(*entity.Event, error) bool) {
		if _, err := l.deployments.GetByID(ctx, id); err != nil {
			yield(nil, err)
			return
		}

		ticker := time.NewTicker(l.pollInterval)
		defer ticker.Stop()

		cursor := from
		var err error
		for {
			// subscribe before reading so an append between the read and
			// the wait is not missed
			wake, release := l.subscribe(id)
			cursor, err = l.drain(ctx, id, cursor, yield)
			if err != nil {
				release()
				if !errors.Is(err, errStopped) {
					yield(nil, err)
				}
				return
			}

			last, err := l.events.Last(ctx, id)
			if err != nil {
				release()
				yield(nil, err)
				return
			}
			if last != nil && last.Sequence <= cursor && last.Kind.IsTerminal() {
				release()
				return
			}

			select {
			case <-ctx.Done():
				release()
				yield(nil, ctx.Err())
				return
			case <-wake:
			case <-ticker.C:
			}
			release()
		}
	}
}

var errStopped = errors.New("follower stopped")

// drain yields every stored event after cursor until none are left and
// returns the new cursor.
func (l *Log) drain(ctx context.Context, id entity.ID, cursor int64, yield func(*entity.Event, error) bool) (int64, error) {
	for {
		evs, err := l.events.ListAfter(ctx, id, cursor)
		if err != nil {
			return cursor, err
		}
		if len(evs) == 0 {
			return cursor, nil
		}
		for _, ev := range evs {
			if !yield(ev, nil) {
				return cursor, errStopped
			}
			cursor = ev.Sequence
		}
	}
}

// subscribe returns the channel closed by the next append to id. release
// must be called once the caller stops waiting on it.
func (l *Log) subscribe(id entity.ID) (wake <-chan struct{}, release func()) {
	l.mu.Lock()
	defer l.mu.Unlock()
	w, ok := l.waiters[id]
	if !ok {
		w = &waiter{ch: make(chan struct{})}
		l.waiters[id] = w
	}
	w.refs++
	return w.ch, func() {
		l.mu.Lock()
		defer l.mu.Unlock()
		w.refs--
		if w.refs == 0 && l.waiters[id] == w {
			delete(l.waiters, id)
		}
	}
}

func (l *Log) notify(id entity.ID) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if w, ok := l.waiters[id]; ok {
		close(w.ch)
		delete(l.waiters, id)
	}
}

func (l *Log) followers() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.waiters)
}
