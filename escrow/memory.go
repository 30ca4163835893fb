// memory.go - In-memory Store implementation (for testing/dev).
package escrow

import (
	"context"
	"sort"
	"sync"

	"github.com/buildvault/escrow-engine/ledger"
)

type MemoryStore struct {
	mu         sync.RWMutex
	projects   map[string]Project
	milestones map[string]Milestone
	disputes   map[string]Dispute
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		projects:   make(map[string]Project),
		milestones: make(map[string]Milestone),
		disputes:   make(map[string]Dispute),
	}
}

// Values are stored by copy so callers can't mutate shared state behind the
// lock; deep fields (shares, proof refs) are cloned on the way out.

func (s *MemoryStore) CreateProject(_ context.Context, p *Project) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.projects[string(p.ID)] = cloneProject(*p)
	return nil
}

func (s *MemoryStore) GetProject(_ context.Context, id string) (*Project, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.projects[id]
	if !ok {
		return nil, ledger.ErrProjectNotFound
	}
	out := cloneProject(p)
	return &out, nil
}

func (s *MemoryStore) ListProjects(_ context.Context) ([]*Project, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*Project, 0, len(s.projects))
	for _, p := range s.projects {
		c := cloneProject(p)
		out = append(out, &c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (s *MemoryStore) UpdateProject(_ context.Context, p *Project) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.projects[string(p.ID)]; !ok {
		return ledger.ErrProjectNotFound
	}
	s.projects[string(p.ID)] = cloneProject(*p)
	return nil
}

func (s *MemoryStore) CreateMilestone(_ context.Context, m *Milestone) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.milestones[string(m.ID)] = cloneMilestone(*m)
	return nil
}

func (s *MemoryStore) GetMilestone(_ context.Context, id string) (*Milestone, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	m, ok := s.milestones[id]
	if !ok {
		return nil, ErrMilestoneNotFound
	}
	out := cloneMilestone(m)
	return &out, nil
}

func (s *MemoryStore) ListMilestones(_ context.Context, projectID string) ([]*Milestone, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*Milestone
	for _, m := range s.milestones {
		if string(m.ProjectID) == projectID {
			c := cloneMilestone(m)
			out = append(out, &c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Seq < out[j].Seq })
	return out, nil
}

func (s *MemoryStore) UpdateMilestone(_ context.Context, m *Milestone) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.milestones[string(m.ID)]; !ok {
		return ErrMilestoneNotFound
	}
	s.milestones[string(m.ID)] = cloneMilestone(*m)
	return nil
}

func (s *MemoryStore) CreateDispute(_ context.Context, d *Dispute) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.disputes[d.ID] = *d
	return nil
}

func (s *MemoryStore) GetDispute(_ context.Context, id string) (*Dispute, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	d, ok := s.disputes[id]
	if !ok {
		return nil, ErrDisputeNotFound
	}
	out := d
	return &out, nil
}

func (s *MemoryStore) ListDisputes(_ context.Context, projectID string) ([]*Dispute, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*Dispute
	for _, d := range s.disputes {
		if string(d.ProjectID) == projectID {
			c := d
			out = append(out, &c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].OpenedAt.Before(out[j].OpenedAt) })
	return out, nil
}

func (s *MemoryStore) OpenDisputeForMilestone(_ context.Context, milestoneID string) (*Dispute, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, d := range s.disputes {
		if string(d.MilestoneID) == milestoneID && d.Status == DisputeOpen {
			c := d
			return &c, nil
		}
	}
	return nil, nil
}

func (s *MemoryStore) UpdateDispute(_ context.Context, d *Dispute) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.disputes[d.ID]; !ok {
		return ErrDisputeNotFound
	}
	s.disputes[d.ID] = *d
	return nil
}

func cloneProject(p Project) Project {
	p.MilestoneIDs = append(p.MilestoneIDs[:0:0], p.MilestoneIDs...)
	return p
}

func cloneMilestone(m Milestone) Milestone {
	m.Shares = append(m.Shares[:0:0], m.Shares...)
	m.ProofRefs = append(m.ProofRefs[:0:0], m.ProofRefs...)
	if m.Approval != nil {
		a := *m.Approval
		m.Approval = &a
	}
	if m.Inspection != nil {
		i := *m.Inspection
		m.Inspection = &i
	}
	return m
}
