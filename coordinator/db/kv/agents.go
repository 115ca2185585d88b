package kv

import (
	"context"
	"encoding/json"

	"github.com/pkg/errors"
	bolt "go.etcd.io/bbolt"
	"go.opencensus.io/trace"

	"github.com/enclavecode/swarm/coordinator/api"
)

// Agent retrieves a registered agent by id. Returns ErrNotFound if the
// agent does not exist.
func (s *Store) Agent(ctx context.Context, id string) (*api.Agent, error) {
	ctx, span := trace.StartSpan(ctx, "coordinatorDB.Agent")
	defer span.End()
	var agent *api.Agent
	err := s.view(func(tx *bolt.Tx) error {
		enc := tx.Bucket(agentsBucket).Get([]byte(id))
		if enc == nil {
			return ErrNotFound
		}
		agent = &api.Agent{}
		return json.Unmarshal(enc, agent)
	})
	return agent, err
}

// SaveAgent upserts an agent row keyed by its id.
func (s *Store) SaveAgent(ctx context.Context, agent *api.Agent) error {
	ctx, span := trace.StartSpan(ctx, "coordinatorDB.SaveAgent")
	defer span.End()
	if agent == nil || agent.ID == "" {
		return errors.New("nil agent or empty agent id")
	}
	enc, err := json.Marshal(agent)
	if err != nil {
		return err
	}
	return s.update(func(tx *bolt.Tx) error {
		return tx.Bucket(agentsBucket).Put([]byte(agent.ID), enc)
	})
}

// DeleteAgent hard-purges an agent row.
func (s *Store) DeleteAgent(ctx context.Context, id string) error {
	ctx, span := trace.StartSpan(ctx, "coordinatorDB.DeleteAgent")
	defer span.End()
	return s.update(func(tx *bolt.Tx) error {
		return tx.Bucket(agentsBucket).Delete([]byte(id))
	})
}

// Agents returns every registered agent.
func (s *Store) Agents(ctx context.Context) ([]*api.Agent, error) {
	ctx, span := trace.StartSpan(ctx, "coordinatorDB.Agents")
	defer span.End()
	var agents []*api.Agent
	err := s.view(func(tx *bolt.Tx) error {
		return tx.Bucket(agentsBucket).ForEach(func(_, enc []byte) error {
			agent := &api.Agent{}
			if err := json.Unmarshal(enc, agent); err != nil {
				return err
			}
			agents = append(agents, agent)
			return nil
		})
	})
	return agents, err
}
