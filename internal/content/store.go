package content

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

const (
	DefaultDebounceDelay = 2000 * time.Millisecond
	DefaultLockDuration  = 10000 * time.Millisecond
	DefaultSaveTimeout   = 30 * time.Second
)

// ErrPendingChanges is returned by SetSlug while Page items are unsaved.
var ErrPendingChanges = errors.New("unsaved page changes")

// Saver persists one item under its resource path.
type Saver interface {
	SavePath(ctx context.Context, resourcePath string, data Data) error
}

// PathDeleter is implemented by savers that can also remove a resource.
type PathDeleter interface {
	DeletePath(ctx context.Context, resourcePath string) error
}

type Logger interface {
	Printf(format string, args ...any)
}

type StoreOptions struct {
	Slug     string
	Saver    Saver
	Clock    Clock
	Logger   Logger
	Notifier Notifier
	// DisableSave keeps edits local; items stay dirty.
	DisableSave    bool
	DebounceDelay  time.Duration
	LockDuration   time.Duration
	SaveTimeout    time.Duration
	DisableWorkers bool
}

// Store holds the items of the current page and site, and schedules their
// persistence.
type Store struct {
	mu            sync.Mutex
	id            string
	slug          string
	items         map[string]*Item
	queue         []Change
	debounce      map[string]*scheduledTimer
	locks         map[string]*scheduledTimer
	inFlight      map[string]bool
	deleting      map[string]chan struct{}
	timerSeq      uint64
	saveErrors    map[string]Notification
	saver         Saver
	clock         Clock
	logger        Logger
	notifier      Notifier
	disableSave   bool
	debounceDelay time.Duration
	lockDuration  time.Duration
	saveTimeout   time.Duration
	signal        chan struct{}
	closed        chan struct{}
	queueCtx      context.Context
	queueCancel   context.CancelFunc
	closeOnce     sync.Once
	wg            sync.WaitGroup
}

type scheduledTimer struct {
	timer Timer
	seq   uint64
}

func NewStore(opts StoreOptions) *Store {
	clock := opts.Clock
	if clock == nil {
		clock = SystemClock{}
	}
	notifier := opts.Notifier
	if notifier == nil {
		notifier = discardNotifier{}
	}
	debounceDelay := opts.DebounceDelay
	if debounceDelay <= 0 {
		debounceDelay = DefaultDebounceDelay
	}
	lockDuration := opts.LockDuration
	if lockDuration <= 0 {
		lockDuration = DefaultLockDuration
	}
	saveTimeout := opts.SaveTimeout
	if saveTimeout <= 0 {
		saveTimeout = DefaultSaveTimeout
	}
	queueCtx, queueCancel := context.WithCancel(context.Background())
	s := &Store{
		id:            ulid.Make().String(),
		slug:          opts.Slug,
		items:         map[string]*Item{},
		debounce:      map[string]*scheduledTimer{},
		locks:         map[string]*scheduledTimer{},
		inFlight:      map[string]bool{},
		deleting:      map[string]chan struct{}{},
		saveErrors:    map[string]Notification{},
		saver:         opts.Saver,
		clock:         clock,
		logger:        opts.Logger,
		notifier:      notifier,
		disableSave:   opts.DisableSave,
		debounceDelay: debounceDelay,
		lockDuration:  lockDuration,
		saveTimeout:   saveTimeout,
		signal:        make(chan struct{}, 1),
		closed:        make(chan struct{}),
		queueCtx:      queueCtx,
		queueCancel:   queueCancel,
	}
	if !opts.DisableWorkers {
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.Run(queueCtx)
		}()
	}
	return s
}

// ID identifies the store as a notification owner.
func (s *Store) ID() string { return s.id }

func (s *Store) Slug() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.slug
}

// SetSlug moves the store to another page. Page items belong to the old
// page and are dropped; the move fails while any of them is unsaved. Site
// items are kept.
func (s *Store) SetSlug(slug string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if slug == s.slug {
		return nil
	}
	var pending []string
	for key, item := range s.items {
		if isPageKey(key) && (item.IsPending() || s.inFlight[key]) {
			pending = append(pending, key)
		}
	}
	if len(pending) > 0 {
		sort.Strings(pending)
		return fmt.Errorf("%w: %s", ErrPendingChanges, strings.Join(pending, ", "))
	}
	for key := range s.items {
		if isPageKey(key) {
			s.deleteItemLocked(key)
		}
	}
	s.slug = slug
	return nil
}

func isPageKey(key string) bool {
	return strings.HasPrefix(key, CollectionPage+NodeChildDelimiter)
}

func (s *Store) GetKeys() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	keys := make([]string, 0, len(s.items))
	for k := range s.items {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// GetNode returns a copy of the data stored at path, or an empty object.
func (s *Store) GetNode(path []string) Data {
	s.mu.Lock()
	defer s.mu.Unlock()
	item, ok := s.items[JoinKey(path)]
	if !ok {
		return Data{}
	}
	return cloneData(item.data)
}

// SetNode records a local edit.
func (s *Store) SetNode(path []string, data Data) {
	if err := s.setNode(JoinKey(path), data, EventUpdateFromBrowser); err != nil {
		s.logf("content: set %s: %v", JoinKey(path), err)
	}
}

func (s *Store) setNode(key string, data Data, event ItemEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if item, ok := s.items[key]; ok {
		if err := item.update(data, event); err != nil {
			return err
		}
	} else {
		item, err := newItem(key, data, event)
		if err != nil {
			return err
		}
		s.items[key] = item
	}
	s.enqueueLocked(Change{Key: key, Kind: ChangeSet, Event: event})
	return nil
}

// DeleteNode removes the item at path and, when the saver supports it,
// deletes the stored resource.
func (s *Store) DeleteNode(path []string) {
	key := JoinKey(path)
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.items[key]; !ok {
		return
	}
	s.deleteItemLocked(key)
	s.enqueueLocked(Change{
		Key:          key,
		Kind:         ChangeDelete,
		Event:        EventUpdateFromBrowser,
		ResourcePath: ResourcePath(key, s.slug),
	})
}

// SetItem replaces the item stored under key with a fresh item built from
// event. Only the data-carrying events are accepted.
func (s *Store) SetItem(key string, data Data, event ItemEvent) error {
	item, err := newItem(key, data, event)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopTimerLocked(s.locks, key)
	s.items[key] = item
	s.enqueueLocked(Change{Key: key, Kind: ChangeSet, Event: event})
	return nil
}

// DeleteItem drops the item from memory only.
func (s *Store) DeleteItem(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.deleteItemLocked(key)
}

func (s *Store) deleteItemLocked(key string) {
	delete(s.items, key)
	s.stopTimerLocked(s.debounce, key)
	s.stopTimerLocked(s.locks, key)
}

func (s *Store) Item(key string) (ItemInfo, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	item, ok := s.items[key]
	if !ok {
		return ItemInfo{}, false
	}
	return item.info(), true
}

// Items lists every item ordered by key.
func (s *Store) Items() []ItemInfo {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.collectLocked(func(*Item) bool { return true })
}

// PendingItems lists items whose edits have not reached the backend.
func (s *Store) PendingItems() []ItemInfo {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.collectLocked((*Item).IsPending)
}

func (s *Store) collectLocked(keep func(*Item) bool) []ItemInfo {
	out := make([]ItemInfo, 0, len(s.items))
	for _, item := range s.items {
		if keep(item) {
			out = append(out, item.info())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out
}

// LeaveWarning is the message shown before leaving the page with unsaved
// edits. It is empty when nothing is pending.
func (s *Store) LeaveWarning() string {
	pending := s.PendingItems()
	switch len(pending) {
	case 0:
		return ""
	case 1:
		return fmt.Sprintf("1 unsaved change (%s) will be lost if you leave this page.", pending[0].Key)
	default:
		return fmt.Sprintf("%d unsaved changes will be lost if you leave this page.", len(pending))
	}
}

// UpdateData reconciles a snapshot from the server with local items. New
// keys become clean items, changed keys receive a server update, and keys
// missing from the snapshot are dropped when clean.
func (s *Store) UpdateData(snapshot Snapshot) {
	if snapshot == nil {
		return
	}
	parsed := snapshot.parse()

	s.mu.Lock()
	defer s.mu.Unlock()
	keys := make([]string, 0, len(parsed))
	for key := range parsed {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	for _, key := range keys {
		data := parsed[key]
		existing, ok := s.items[key]
		if ok && sameData(existing.data, data) {
			continue
		}
		if !ok {
			item, err := newItem(key, data, EventUpdateFromServer)
			if err != nil {
				s.logf("content: snapshot item %s: %v", key, err)
				continue
			}
			s.items[key] = item
		} else if err := existing.update(data, EventUpdateFromServer); err != nil {
			s.logf("content: snapshot item %s: %v", key, err)
			continue
		}
		s.enqueueLocked(Change{Key: key, Kind: ChangeSet, Event: EventUpdateFromServer})
	}
	for key, item := range s.items {
		if _, ok := parsed[key]; ok {
			continue
		}
		if item.IsClean() {
			s.deleteItemLocked(key)
		}
	}
}

// RootNode returns the root node of a collection backed by this store.
func (s *Store) RootNode(collection string) ContentNode {
	return NewNode(s, collection)
}

// Bind scopes the site and page roots on ctx. The Page root becomes the
// active node.
func (s *Store) Bind(ctx context.Context) context.Context {
	ctx = WithNode(ctx, s.RootNode(CollectionSite), SiteCollection)
	return WithNode(ctx, s.RootNode(CollectionPage), DefaultCollection)
}

func (s *Store) logf(format string, args ...any) {
	if s.logger == nil {
		return
	}
	s.logger.Printf(format, args...)
}
