package auth

import (
	"context"
	"log/slog"

	"github.com/fsnotify/fsnotify"
)

// WatchActiveAccount watches active_account.txt (and accounts.json) for
// out-of-process edits — e.g. a sibling login command switching accounts —
// and invokes onChange with the newly active account id whenever it
// changes. It runs until ctx is canceled.
func (s *Store) WatchActiveAccount(ctx context.Context, onChange func(accountID string)) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer watcher.Close()

	if err := watcher.Add(s.home); err != nil {
		return err
	}

	last, _ := s.GetActiveAccountID()
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if ev.Name != s.activePath() && ev.Name != s.accountsPath() {
				continue
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			current, err := s.GetActiveAccountID()
			if err != nil || current == last {
				continue
			}
			last = current
			onChange(current)
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			slog.Warn("auth: watch error", "error", err)
		}
	}
}
