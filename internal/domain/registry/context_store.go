package registry

import (
	"sync"

	"github.com/osrs-friend-monitor/friend-monitor-server/internal/domain/model"
)

const DefaultUpdateAttempts = 3

// ContextStore maps connected accounts to their throttling state.
type ContextStore struct {
	contexts sync.Map // map[model.AccountHash]model.AccountContext
	attempts int
}

func NewContextStore(attempts int) *ContextStore {
	if attempts <= 0 {
		attempts = DefaultUpdateAttempts
	}
	return &ContextStore{attempts: attempts}
}

// Create starts a SLOW context. An existing context is kept.
func (s *ContextStore) Create(hash model.AccountHash) {
	s.contexts.LoadOrStore(hash, model.AccountContext{Speed: model.SpeedSlow})
}

func (s *ContextStore) Destroy(hash model.AccountHash) {
	s.contexts.Delete(hash)
}

func (s *ContextStore) Get(hash model.AccountHash) (model.AccountContext, bool) {
	val, ok := s.contexts.Load(hash)
	if !ok {
		return model.AccountContext{}, false
	}
	return val.(model.AccountContext), true
}

func (s *ContextStore) Connected() []model.AccountHash {
	var out []model.AccountHash
	s.contexts.Range(func(key, _ any) bool {
		out = append(out, key.(model.AccountHash))
		return true
	})
	return out
}

// Update applies fn with compare-and-swap. fn may run once per attempt and must be pure.
// It reports false if the context is missing or every attempt lost its race; nothing is
// written in that case.
func (s *ContextStore) Update(hash model.AccountHash, fn func(model.AccountContext) model.AccountContext) (model.AccountContext, bool) {
	for range s.attempts {
		val, ok := s.contexts.Load(hash)
		if !ok {
			return model.AccountContext{}, false
		}
		next := fn(val.(model.AccountContext))
		if s.contexts.CompareAndSwap(hash, val, next) {
			return next, true
		}
	}
	return model.AccountContext{}, false
}
