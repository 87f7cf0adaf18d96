// Package storage holds the durable indices the mapper's core keeps:
// the browsing-context tree, the realm index, and the preload-script
// registry. Mutation is serialised by the single-threaded runner
// (internal/runner); the mutex here only protects concurrent *reads* from
// the admin introspection server.
package storage

import (
	"sync"

	"bidimapper/internal/bidierror"
	"bidimapper/internal/model"
)

// ContextStorage indexes the browsing-context tree.
type ContextStorage struct {
	mu       sync.RWMutex
	contexts map[string]*model.BrowsingContext
}

func NewContextStorage() *ContextStorage {
	return &ContextStorage{contexts: make(map[string]*model.BrowsingContext)}
}

// Insert adds ctx to the tree and links it to its parent's children, if any.
func (s *ContextStorage) Insert(ctx *model.BrowsingContext) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.contexts[ctx.ID] = ctx
	if ctx.ParentID != "" {
		if parent, ok := s.contexts[ctx.ParentID]; ok {
			parent.Children[ctx.ID] = struct{}{}
		}
	}
}

// GetByID returns the context, or a "no such frame" error.
func (s *ContextStorage) GetByID(id string) (*model.BrowsingContext, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ctx, ok := s.contexts[id]
	if !ok {
		return nil, bidierror.NoSuchFrameErr(id)
	}
	return ctx, nil
}

// FindByID returns the context or nil, never erroring.
func (s *ContextStorage) FindByID(id string) *model.BrowsingContext {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.contexts[id]
}

// FindByTargetID returns the top-level context whose TargetID matches, or
// nil; child contexts sharing that target are not returned. Since a
// CDP session maps 1:1 to a target while attached, callers resolve the
// target id from the session table (internal/target) before calling this.
func (s *ContextStorage) FindByTargetID(targetID string) *model.BrowsingContext {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, ctx := range s.contexts {
		if ctx.TargetID == targetID && ctx.IsTopLevel() {
			return ctx
		}
	}
	return nil
}

// TopLevelContexts returns every context with no parent.
func (s *ContextStorage) TopLevelContexts() []*model.BrowsingContext {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*model.BrowsingContext
	for _, ctx := range s.contexts {
		if ctx.IsTopLevel() {
			out = append(out, ctx)
		}
	}
	return out
}

// AncestorChain returns id's ancestor chain, id first then each parent up
// to (and including) the root, or nil if id is unknown. Satisfies
// internal/runner.Ancestry.
func (s *ContextStorage) AncestorChain(id string) []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var chain []string
	seen := map[string]struct{}{}
	cur, ok := s.contexts[id]
	for ok {
		if _, looped := seen[cur.ID]; looped {
			break
		}
		seen[cur.ID] = struct{}{}
		chain = append(chain, cur.ID)
		if cur.IsTopLevel() {
			break
		}
		cur, ok = s.contexts[cur.ParentID]
	}
	return chain
}

// FindTopLevelContextID walks parent pointers from id to the tree's root and
// returns the root's id, or "" if id is unknown.
func (s *ContextStorage) FindTopLevelContextID(id string) string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	seen := map[string]struct{}{}
	cur, ok := s.contexts[id]
	for ok {
		if _, looped := seen[cur.ID]; looped {
			return "" // cycle: should never happen, invariant violation
		}
		seen[cur.ID] = struct{}{}
		if cur.IsTopLevel() {
			return cur.ID
		}
		cur, ok = s.contexts[cur.ParentID]
	}
	return ""
}

// Remove atomically removes id and every descendant from the tree,
// returning the removed ids (root first, then a pre-order walk of the
// subtree) so the caller can emit contextDestroyed for each.
func (s *ContextStorage) Remove(id string) []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	root, ok := s.contexts[id]
	if !ok {
		return nil
	}

	var removed []string
	var walk func(c *model.BrowsingContext)
	walk = func(c *model.BrowsingContext) {
		removed = append(removed, c.ID)
		for childID := range c.Children {
			if child, ok := s.contexts[childID]; ok {
				walk(child)
			}
		}
	}
	walk(root)

	for _, rid := range removed {
		delete(s.contexts, rid)
	}
	if root.ParentID != "" {
		if parent, ok := s.contexts[root.ParentID]; ok {
			delete(parent.Children, id)
		}
	}
	return removed
}

// Descendants returns every context id in the subtree rooted at id,
// excluding id itself.
func (s *ContextStorage) Descendants(id string) []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	root, ok := s.contexts[id]
	if !ok {
		return nil
	}

	var out []string
	var walk func(c *model.BrowsingContext)
	walk = func(c *model.BrowsingContext) {
		for childID := range c.Children {
			if child, ok := s.contexts[childID]; ok {
				out = append(out, child.ID)
				walk(child)
			}
		}
	}
	walk(root)
	return out
}

// AllContexts returns every context in the tree, for admin introspection.
func (s *ContextStorage) AllContexts() []*model.BrowsingContext {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*model.BrowsingContext, 0, len(s.contexts))
	for _, ctx := range s.contexts {
		out = append(out, ctx)
	}
	return out
}
