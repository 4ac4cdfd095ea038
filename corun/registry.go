package corun

import (
	"github.com/google/uuid"
	"github.com/puzpuzpuz/xsync/v3"
)

// registry is the id-keyed job arena for a scope tree. Parents hold ordered
// child ids and children a non-owning parent id; the arena is the only
// place holding the objects themselves, so the tree carries no cyclic
// ownership. Jobs leave the arena once they and all their children are
// terminal.
type registry struct {
	jobs *xsync.MapOf[uuid.UUID, *Job]
}

func newRegistry() *registry {
	return &registry{jobs: xsync.NewMapOf[uuid.UUID, *Job]()}
}

func (r *registry) add(j *Job) { r.jobs.Store(j.id, j) }

func (r *registry) lookup(id uuid.UUID) (*Job, bool) { return r.jobs.Load(id) }

func (r *registry) remove(id uuid.UUID) { r.jobs.Delete(id) }
