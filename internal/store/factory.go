package store

import (
	"threadline.app/processor/core/db"
)

type Stores struct {
	q db.Querier
}

func NewStores(q db.Querier) *Stores {
	return &Stores{q: q}
}

func (s *Stores) Discussions() DiscussionStore {
	return newDiscussionStore(s.q)
}

func (s *Stores) Jobs() JobStore {
	return newJobStore(s.q)
}

func (s *Stores) Flows() FlowStore {
	return newFlowStore(s.q)
}

func (s *Stores) LegacyConfigs() LegacyConfigStore {
	return newLegacyConfigStore(s.q)
}

func (s *Stores) Tasks() TaskStore {
	return newTaskStore(s.q)
}

func (s *Stores) UserMappings() UserMappingStore {
	return newUserMappingStore(s.q)
}
