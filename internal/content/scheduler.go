package content

import (
	"context"
	"errors"
	"fmt"
	"sort"
)

type ChangeKind int

const (
	ChangeSet ChangeKind = iota
	ChangeDelete
)

// Change records one mutation of the item map. The scheduler consumes
// changes to arm debounce timers and to forward deletions. ResourcePath is
// fixed when a deletion is recorded.
type Change struct {
	Key          string
	Kind         ChangeKind
	Event        ItemEvent
	ResourcePath string
}

func (s *Store) enqueueLocked(change Change) {
	if s.closedLocked() {
		return
	}
	s.queue = append(s.queue, change)
	select {
	case s.signal <- struct{}{}:
	default:
	}
}

// Run consumes the change queue until ctx ends or the store is closed.
func (s *Store) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-s.closed:
			return
		case <-s.signal:
			s.Pump()
		}
	}
}

// Pump applies every queued change on the calling goroutine and returns how
// many were applied.
func (s *Store) Pump() int {
	s.mu.Lock()
	changes := s.queue
	s.queue = nil
	s.mu.Unlock()
	for _, change := range changes {
		s.apply(change)
	}
	return len(changes)
}

func (s *Store) apply(change Change) {
	switch change.Kind {
	case ChangeSet:
		if change.Event != EventUpdateFromBrowser {
			return
		}
		s.mu.Lock()
		defer s.mu.Unlock()
		item, ok := s.items[change.Key]
		if !ok || item.state != StateDirty || !s.shouldSaveLocked(change.Key) {
			return
		}
		s.armDebounceLocked(change.Key)
	case ChangeDelete:
		s.startDelete(change)
	}
}

func (s *Store) shouldSaveLocked(key string) bool {
	return s.shouldSaveResourceLocked(ResourcePath(key, s.slug))
}

func (s *Store) shouldSaveResourceLocked(resourcePath string) bool {
	if s.disableSave || s.saver == nil {
		return false
	}
	return !IsTemplateResource(resourcePath)
}

func (s *Store) closedLocked() bool {
	select {
	case <-s.closed:
		return true
	default:
		return false
	}
}

func (s *Store) armDebounceLocked(key string) {
	if s.closedLocked() {
		return
	}
	s.stopTimerLocked(s.debounce, key)
	s.timerSeq++
	seq := s.timerSeq
	timer := s.clock.AfterFunc(s.debounceDelay, func() { s.fire(key, seq) })
	s.debounce[key] = &scheduledTimer{timer: timer, seq: seq}
}

func (s *Store) armUnlockLocked(key string, gen uint64) {
	if s.closedLocked() {
		return
	}
	s.stopTimerLocked(s.locks, key)
	s.timerSeq++
	seq := s.timerSeq
	timer := s.clock.AfterFunc(s.lockDuration, func() { s.unlockItem(key, gen, seq) })
	s.locks[key] = &scheduledTimer{timer: timer, seq: seq}
}

func (s *Store) stopTimerLocked(timers map[string]*scheduledTimer, key string) {
	if scheduled, ok := timers[key]; ok {
		scheduled.timer.Stop()
		delete(timers, key)
	}
}

func (s *Store) fire(key string, seq uint64) {
	s.mu.Lock()
	scheduled, ok := s.debounce[key]
	if !ok || scheduled.seq != seq {
		s.mu.Unlock()
		return
	}
	delete(s.debounce, key)
	s.mu.Unlock()

	select {
	case <-s.closed:
		return
	default:
	}
	_ = s.save(s.queueCtx, key)
}

func (s *Store) unlockItem(key string, gen, seq uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	scheduled, ok := s.locks[key]
	if !ok || scheduled.seq != seq {
		return
	}
	delete(s.locks, key)
	if item, ok := s.items[key]; ok {
		item.unlock(gen)
	}
}

// save posts the current data of a dirty item. A key that already has a save
// in flight is rescheduled instead, so saves of one key never overlap.
func (s *Store) save(ctx context.Context, key string) error {
	if err := s.waitForDelete(ctx, key); err != nil {
		return err
	}
	s.mu.Lock()
	item, ok := s.items[key]
	if !ok || item.state != StateDirty || !s.shouldSaveLocked(key) {
		s.mu.Unlock()
		return nil
	}
	if s.inFlight[key] {
		s.armDebounceLocked(key)
		s.mu.Unlock()
		return nil
	}
	s.stopTimerLocked(s.debounce, key)
	resourcePath := ResourcePath(key, s.slug)
	data := cloneData(item.data)
	if err := item.transition(EventBeginPostData); err != nil {
		s.mu.Unlock()
		return err
	}
	s.inFlight[key] = true
	saver := s.saver
	s.mu.Unlock()

	saveCtx, cancel := context.WithTimeout(ctx, s.saveTimeout)
	err := saver.SavePath(saveCtx, resourcePath, data)
	cancel()

	s.mu.Lock()
	delete(s.inFlight, key)
	if current, ok := s.items[key]; !ok || current != item {
		s.mu.Unlock()
		return err
	}
	if err != nil {
		item.failPost(err)
		s.saveErrors[key] = Notification{ID: key, Message: "error saving " + key}
		notifications := s.notificationsLocked()
		s.mu.Unlock()
		s.logf("content: save %s to %s failed: %v", key, resourcePath, err)
		s.notifier.Notify(s.id, notifications)
		return fmt.Errorf("save %s: %w", key, err)
	}
	item.lastErr = nil
	if err := item.transition(EventEndPostData); err != nil {
		s.mu.Unlock()
		return err
	}
	if item.state == StateLocked {
		s.armUnlockLocked(key, item.lockGen)
	}
	_, hadError := s.saveErrors[key]
	delete(s.saveErrors, key)
	notifications := s.notificationsLocked()
	s.mu.Unlock()
	if hadError {
		s.notifier.Notify(s.id, notifications)
	}
	return nil
}

// startDelete forwards a deletion on its own goroutine so the queue keeps
// moving. Deletions of one key run in order.
func (s *Store) startDelete(change Change) {
	s.mu.Lock()
	deleter, ok := s.saver.(PathDeleter)
	if !ok || s.closedLocked() || !s.shouldSaveResourceLocked(change.ResourcePath) {
		s.mu.Unlock()
		return
	}
	prev := s.deleting[change.Key]
	done := make(chan struct{})
	s.deleting[change.Key] = done
	s.wg.Add(1)
	s.mu.Unlock()

	go func() {
		defer s.wg.Done()
		defer close(done)
		if prev != nil {
			<-prev
		}
		ctx, cancel := context.WithTimeout(s.queueCtx, s.saveTimeout)
		if err := deleter.DeletePath(ctx, change.ResourcePath); err != nil {
			s.logf("content: delete %s failed: %v", change.ResourcePath, err)
		}
		cancel()
		s.mu.Lock()
		if s.deleting[change.Key] == done {
			delete(s.deleting, change.Key)
		}
		s.mu.Unlock()
	}()
}

// waitForDelete blocks until no deletion of key is in flight, so a save of a
// recreated item never lands before the deletion of its predecessor.
func (s *Store) waitForDelete(ctx context.Context, key string) error {
	for {
		s.mu.Lock()
		done, ok := s.deleting[key]
		s.mu.Unlock()
		if !ok {
			return nil
		}
		select {
		case <-done:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (s *Store) notificationsLocked() []Notification {
	out := make([]Notification, 0, len(s.saveErrors))
	for _, n := range s.saveErrors {
		out = append(out, n)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Flush saves every dirty item now instead of waiting for its debounce
// timer. Items whose save is already in flight are left to that save.
func (s *Store) Flush(ctx context.Context) error {
	s.mu.Lock()
	keys := make([]string, 0)
	for key, item := range s.items {
		if item.state == StateDirty {
			keys = append(keys, key)
		}
	}
	s.mu.Unlock()
	sort.Strings(keys)

	var errs []error
	for _, key := range keys {
		if err := s.save(ctx, key); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Close stops the scheduler and every pending timer. Dirty items are not
// flushed.
func (s *Store) Close() {
	s.closeOnce.Do(func() {
		s.mu.Lock()
		close(s.closed)
		s.queueCancel()
		for key := range s.debounce {
			s.stopTimerLocked(s.debounce, key)
		}
		for key := range s.locks {
			s.stopTimerLocked(s.locks, key)
		}
		s.queue = nil
		s.mu.Unlock()
		s.wg.Wait()
	})
}
