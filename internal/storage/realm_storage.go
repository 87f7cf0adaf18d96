package storage

import (
	"sync"

	"bidimapper/internal/model"
)

// RealmStorage indexes execution realms by id, context, and session.
type RealmStorage struct {
	mu     sync.RWMutex
	realms map[string]*model.Realm
}

func NewRealmStorage() *RealmStorage {
	return &RealmStorage{realms: make(map[string]*model.Realm)}
}

func (s *RealmStorage) Insert(r *model.Realm) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.realms[r.ID] = r
}

func (s *RealmStorage) FindByID(id string) *model.Realm {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.realms[id]
}

// FindByContext returns every realm (default and sandboxed) belonging to a
// window browsing context.
func (s *RealmStorage) FindByContext(contextID string) []*model.Realm {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*model.Realm
	for _, r := range s.realms {
		if r.Type == model.RealmWindow && r.ContextID == contextID {
			out = append(out, r)
		}
	}
	return out
}

// FindBySession returns every realm owned by a CDP session (used when a
// dedicated worker attaches, to find the realms of its opener's session).
func (s *RealmStorage) FindBySession(sessionID string) []*model.Realm {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*model.Realm
	for _, r := range s.realms {
		if r.SessionID == sessionID {
			out = append(out, r)
		}
	}
	return out
}

// FindOwnedBy returns worker realms owned by the given parent realm id.
func (s *RealmStorage) FindOwnedBy(ownerRealmID string) []*model.Realm {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*model.Realm
	for _, r := range s.realms {
		if _, ok := r.Owners[ownerRealmID]; ok {
			out = append(out, r)
		}
	}
	return out
}

// RemoveByContext deletes every realm for a context, used when a context
// navigates (invalidating its realms) or is disposed.
func (s *RealmStorage) RemoveByContext(contextID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, r := range s.realms {
		if r.Type == model.RealmWindow && r.ContextID == contextID {
			delete(s.realms, id)
		}
	}
}

// RemoveByExecutionContext deletes the realm backed by a single destroyed
// CDP execution context (Runtime.executionContextDestroyed).
func (s *RealmStorage) RemoveByExecutionContext(sessionID string, executionContextID int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, r := range s.realms {
		if r.SessionID == sessionID && r.ExecutionContextID == executionContextID {
			delete(s.realms, id)
			return
		}
	}
}

// RemoveBySession deletes every realm owned by a session.
func (s *RealmStorage) RemoveBySession(sessionID string) []*model.Realm {
	s.mu.Lock()
	defer s.mu.Unlock()

	var removed []*model.Realm
	for id, r := range s.realms {
		if r.SessionID == sessionID {
			removed = append(removed, r)
			delete(s.realms, id)
		}
	}
	return removed
}

func (s *RealmStorage) Remove(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.realms, id)
}
