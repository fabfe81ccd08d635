package meshdb

import "github.com/judajake/meshdb/pkg/handle"

// SessionJournal is an in-memory record of entities created since the
// last checkpoint, letting Interface roll back a failed reader's partial
// work without a persistent log. The journal never leaves memory and is
// truncated at every checkpoint instead of being replayed; durability is
// a reader/writer concern, not the core's.
type SessionJournal struct {
	createdSinceLastCheckpoint []handle.Handle
	deletedSinceLastCheckpoint []handle.Handle
}

func newSessionJournal() *SessionJournal {
	return &SessionJournal{}
}

func (j *SessionJournal) recordCreate(h handle.Handle) {
	j.createdSinceLastCheckpoint = append(j.createdSinceLastCheckpoint, h)
}

func (j *SessionJournal) recordDelete(h handle.Handle) {
	j.deletedSinceLastCheckpoint = append(j.deletedSinceLastCheckpoint, h)
}

// createdSinceCheckpoint returns every handle created since the last
// checkpoint, in creation order.
func (j *SessionJournal) createdSinceCheckpoint() []handle.Handle {
	return append([]handle.Handle(nil), j.createdSinceLastCheckpoint...)
}

// checkpoint clears the journal, establishing the current state as the
// new rollback baseline.
func (j *SessionJournal) checkpoint() {
	j.createdSinceLastCheckpoint = nil
	j.deletedSinceLastCheckpoint = nil
}
