package domain

import "time"

// Statuses a project (and its current deployment) can be in. BUILDING is an
// implicit phase between QUEUED and a terminal status and is never persisted.
const (
	StatusCreated = "CREATED"
	StatusQueued  = "QUEUED"
	StatusDone    = "DONE"
	StatusFailed  = "FAILED"
)

// Project describes a deployable unit. The current build attempt shares the
// project's identity: its artifacts live under the __outputs/{ID}/ prefix and
// its status reflects the latest deploy.
type Project struct {
	ID           string
	Name         string
	GitURL       string
	Subdomain    string
	CustomDomain *string
	OwnerID      string
	Status       string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// ArtifactPrefix returns the object storage key prefix holding the project's
// built artifacts. The subdomain maps to exactly this prefix and to no other.
func (p *Project) ArtifactPrefix() string {
	return "__outputs/" + p.ID + "/"
}
