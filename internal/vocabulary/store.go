package vocabulary

import (
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// Store keeps the vocabulary loaded from a label file and reloads it when
// the file changes on disk.
type Store struct {
	file         string
	defaults     []string
	logger       *zap.Logger
	watcher      *fsnotify.Watcher
	refreshDelay time.Duration

	mu    sync.RWMutex
	vocab Vocabulary

	refreshMu    sync.Mutex
	refreshTimer *time.Timer
	done         chan struct{}
	wg           sync.WaitGroup
	closeOnce    sync.Once
	closeErr     error
}

// NewStore loads filePath and starts watching its directory. The file does
// not need to exist yet; until it does the defaults are served.
func NewStore(filePath string, defaults []string, debounce time.Duration, logger *zap.Logger) (*Store, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	if logger == nil {
		logger = zap.NewNop()
	}

	s := &Store{
		file:         filepath.Clean(filePath),
		defaults:     append([]string(nil), defaults...),
		logger:       logger,
		watcher:      watcher,
		refreshDelay: debounce,
		done:         make(chan struct{}),
	}

	s.refresh()

	if err := watcher.Add(filepath.Dir(s.file)); err != nil {
		watcher.Close()
		return nil, err
	}

	s.wg.Add(1)
	go s.run()

	return s, nil
}

// Current returns a copy of the active vocabulary.
func (s *Store) Current() Vocabulary {
	s.mu.RLock()
	defer s.mu.RUnlock()

	v := s.vocab
	v.Labels = append([]string(nil), s.vocab.Labels...)
	return v
}

// Close stops the file watcher and releases resources.
func (s *Store) Close() error {
	s.closeOnce.Do(func() {
		close(s.done)

		s.refreshMu.Lock()
		if s.refreshTimer != nil {
			s.refreshTimer.Stop()
			s.refreshTimer = nil
		}
		s.refreshMu.Unlock()

		s.closeErr = s.watcher.Close()
		s.wg.Wait()
	})
	return s.closeErr
}

func (s *Store) run() {
	defer s.wg.Done()

	for {
		select {
		case event, ok := <-s.watcher.Events:
			if !ok {
				return
			}
			s.handleEvent(event)
		case err, ok := <-s.watcher.Errors:
			if !ok {
				return
			}
			s.logger.Warn("label watcher error", zap.Error(err))
		case <-s.done:
			return
		}
	}
}

func (s *Store) handleEvent(event fsnotify.Event) {
	if filepath.Clean(event.Name) != s.file {
		return
	}

	if event.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Remove|fsnotify.Rename) != 0 {
		s.scheduleRefresh()
	}
}

func (s *Store) scheduleRefresh() {
	select {
	case <-s.done:
		return
	default:
	}

	s.refreshMu.Lock()
	defer s.refreshMu.Unlock()

	if s.refreshTimer != nil {
		s.refreshTimer.Stop()
	}

	var timer *time.Timer
	timer = time.AfterFunc(s.refreshDelay, func() {
		s.refresh()

		s.refreshMu.Lock()
		if s.refreshTimer == timer {
			s.refreshTimer = nil
		}
		s.refreshMu.Unlock()
	})
	s.refreshTimer = timer
}

func (s *Store) refresh() {
	v := Load(s.file, s.defaults)

	s.mu.Lock()
	s.vocab = v
	s.mu.Unlock()

	if v.Source == SourceFallback {
		s.logger.Warn("label file unusable; serving default labels",
			zap.String("path", s.file),
			zap.Error(v.Err))
		return
	}
	s.logger.Info("loaded label vocabulary",
		zap.String("path", s.file),
		zap.Int("labels", len(v.Labels)))
}
