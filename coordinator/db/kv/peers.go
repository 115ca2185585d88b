package kv

import (
	"context"
	"encoding/json"

	"github.com/pkg/errors"
	bolt "go.etcd.io/bbolt"
	"go.opencensus.io/trace"

	"github.com/enclavecode/swarm/coordinator/api"
)

// Peer retrieves a mesh peer by id. Returns ErrNotFound if the peer is
// unknown.
func (s *Store) Peer(ctx context.Context, id string) (*api.Peer, error) {
	ctx, span := trace.StartSpan(ctx, "coordinatorDB.Peer")
	defer span.End()
	var peer *api.Peer
	err := s.view(func(tx *bolt.Tx) error {
		enc := tx.Bucket(peersBucket).Get([]byte(id))
		if enc == nil {
			return ErrNotFound
		}
		peer = &api.Peer{}
		return json.Unmarshal(enc, peer)
	})
	return peer, err
}

// SavePeer upserts a mesh peer row keyed by its id.
func (s *Store) SavePeer(ctx context.Context, peer *api.Peer) error {
	ctx, span := trace.StartSpan(ctx, "coordinatorDB.SavePeer")
	defer span.End()
	if peer == nil || peer.ID == "" {
		return errors.New("nil peer or empty peer id")
	}
	enc, err := json.Marshal(peer)
	if err != nil {
		return err
	}
	return s.update(func(tx *bolt.Tx) error {
		return tx.Bucket(peersBucket).Put([]byte(peer.ID), enc)
	})
}

// DeletePeer removes a mesh peer row.
func (s *Store) DeletePeer(ctx context.Context, id string) error {
	ctx, span := trace.StartSpan(ctx, "coordinatorDB.DeletePeer")
	defer span.End()
	return s.update(func(tx *bolt.Tx) error {
		return tx.Bucket(peersBucket).Delete([]byte(id))
	})
}

// Peers returns every known mesh peer.
func (s *Store) Peers(ctx context.Context) ([]*api.Peer, error) {
	ctx, span := trace.StartSpan(ctx, "coordinatorDB.Peers")
	defer span.End()
	var peers []*api.Peer
	err := s.view(func(tx *bolt.Tx) error {
		return tx.Bucket(peersBucket).ForEach(func(_, enc []byte) error {
			peer := &api.Peer{}
			if err := json.Unmarshal(enc, peer); err != nil {
				return err
			}
			peers = append(peers, peer)
			return nil
		})
	})
	return peers, err
}
