// store.go - Persistence contract for the domain layer.
//
// Projects, milestones and disputes are mutable rows (lifecycle state moves);
// only the ledger's entry log is append-only. Implementations: store/sqlite
// for production, escrow.MemoryStore for tests and dev.
package escrow

import "context"

// Store persists the domain objects around the ledger.
type Store interface {
	CreateProject(ctx context.Context, p *Project) error
	GetProject(ctx context.Context, id string) (*Project, error)
	ListProjects(ctx context.Context) ([]*Project, error)
	UpdateProject(ctx context.Context, p *Project) error

	CreateMilestone(ctx context.Context, m *Milestone) error
	GetMilestone(ctx context.Context, id string) (*Milestone, error)
	ListMilestones(ctx context.Context, projectID string) ([]*Milestone, error)
	UpdateMilestone(ctx context.Context, m *Milestone) error

	CreateDispute(ctx context.Context, d *Dispute) error
	GetDispute(ctx context.Context, id string) (*Dispute, error)
	ListDisputes(ctx context.Context, projectID string) ([]*Dispute, error)
	// OpenDisputeForMilestone returns the milestone's pending dispute, or
	// nil when there is none.
	OpenDisputeForMilestone(ctx context.Context, milestoneID string) (*Dispute, error)
	UpdateDispute(ctx context.Context, d *Dispute) error
}
