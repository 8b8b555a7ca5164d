package session

import (
	"context"
	"errors"
	"slices"
	"sync"
)

// exitHooks holds cleanup functions run by RunExitHooks, keyed by
// registration order.
var exitHooks = struct {
	mu    sync.Mutex
	next  int
	hooks map[int]func(context.Context) error
}{hooks: make(map[int]func(context.Context) error)}

// RegisterExitHook adds fn to the hooks run by RunExitHooks and returns a
// function that removes it again.
func RegisterExitHook(fn func(context.Context) error) (remove func()) {
	exitHooks.mu.Lock()
	defer exitHooks.mu.Unlock()

	id := exitHooks.next
	exitHooks.next++
	exitHooks.hooks[id] = fn

	return func() {
		exitHooks.mu.Lock()
		defer exitHooks.mu.Unlock()
		delete(exitHooks.hooks, id)
	}
}

// RunExitHooks runs every registered hook, newest first, and clears the
// registry. Programs call it on normal exit; it is best effort and does not
// run after a crash.
func RunExitHooks(ctx context.Context) error {
	exitHooks.mu.Lock()
	ids := make([]int, 0, len(exitHooks.hooks))
	for id := range exitHooks.hooks {
		ids = append(ids, id)
	}
	hooks := exitHooks.hooks
	exitHooks.hooks = make(map[int]func(context.Context) error)
	exitHooks.mu.Unlock()

	slices.Sort(ids)
	slices.Reverse(ids)

	var errs []error
	for _, id := range ids {
		if err := hooks[id](ctx); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
