// Package mesh connects this coordinator to its peers: discovery,
// long-lived websocket exchange with HTTP fallback, capability
// announcements, blacklist delta sync and reactive gossip.
package mesh

import (
	"context"
	"crypto/ed25519"
	"net/http"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/event"
	"github.com/gorilla/websocket"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/enclavecode/swarm/async"
	"github.com/enclavecode/swarm/coordinator/api"
	"github.com/enclavecode/swarm/coordinator/db"
	"github.com/enclavecode/swarm/coordinator/ledger"
	"github.com/enclavecode/swarm/coordinator/mesh/peers"
	"github.com/enclavecode/swarm/shared/params"
	"github.com/enclavecode/swarm/shared/rand"
	"github.com/enclavecode/swarm/shared/timeutils"
)

var log = logrus.WithField("prefix", "mesh")

// BlacklistSync is the slice of the blacklist service the mesh drives.
type BlacklistSync interface {
	Version(ctx context.Context) (uint64, error)
	Delta(ctx context.Context, sinceVersion uint64) ([]*api.BlacklistRecord, uint64, error)
	IngestRemote(ctx context.Context, rec *api.BlacklistRecord) error
	SubscribeUpdates(ch chan<- *api.BlacklistRecord) event.Subscription
}

// LedgerInfo exposes the local chain head and checkpoint stream.
type LedgerInfo interface {
	Head() (uint64, string)
	SubscribeCheckpoints(ch chan<- *api.Checkpoint) event.Subscription
}

// Config options for the mesh service.
type Config struct {
	Database        db.Database
	Blacklist       BlacklistSync
	Ledger          LedgerInfo
	CoordinatorID   string
	PublicKey       []byte
	SelfURL         string
	DataDir         string
	BootstrapPath   string
	RegistryFeedURL string
}

// Service runs the peer mesh.
type Service struct {
	ctx    context.Context
	cancel context.CancelFunc
	cfg    *Config

	peers      *peers.Status
	dedupe     *deduper
	httpClient *http.Client
	upgrader   websocket.Upgrader

	connsMu sync.Mutex
	conns   map[string]*conn
}

// NewService creates the mesh service.
func NewService(ctx context.Context, cfg *Config) (*Service, error) {
	if cfg.Database == nil || cfg.Blacklist == nil || cfg.Ledger == nil {
		return nil, errors.New("mesh requires a database, a blacklist and a ledger")
	}
	dedupe, err := newDeduper(params.SwarmMeshConfig().GossipDedupeCacheSize)
	if err != nil {
		return nil, err
	}
	ctx, cancel := context.WithCancel(ctx)
	return &Service{
		ctx:        ctx,
		cancel:     cancel,
		cfg:        cfg,
		peers:      peers.NewStatus(),
		dedupe:     dedupe,
		httpClient: &http.Client{Timeout: params.SwarmMeshConfig().DialTimeout},
		upgrader:   websocket.Upgrader{ReadBufferSize: 4096, WriteBufferSize: 4096},
		conns:      make(map[string]*conn),
	}, nil
}

// Start loads persisted peers, applies discovery and launches the
// announce, dial and decay loops.
func (s *Service) Start() {
	persisted, err := s.cfg.Database.Peers(s.ctx)
	if err != nil {
		log.WithError(err).Error("Could not load persisted peers")
	}
	for _, peer := range persisted {
		s.peers.Add(peer)
	}
	s.refreshPeers(s.ctx)
	if err := s.watchBootstrap(); err != nil {
		log.WithError(err).Warn("Bootstrap watch disabled")
	}

	cfg := params.SwarmMeshConfig()
	async.RunEvery(s.ctx, cfg.RefreshInterval, func() { s.refreshPeers(s.ctx) })
	async.RunEvery(s.ctx, cfg.PeerScoreDecayInterval, s.peers.Decay)
	async.RunEvery(s.ctx, cfg.AnnounceInterval, s.announce)
	async.RunEvery(s.ctx, cfg.PeerBackoffInitial, s.dialPending)

	go s.forwardBlacklistUpdates()
	go s.forwardCheckpoints()
	log.WithField("peers", len(persisted)).Info("Mesh started")
}

// Stop closes every connection and flushes the peer cache.
func (s *Service) Stop() error {
	s.cancel()
	s.connsMu.Lock()
	for _, c := range s.conns {
		c.Close()
	}
	s.conns = make(map[string]*conn)
	s.connsMu.Unlock()
	return s.flushPeerCache()
}

// Status always reports healthy; unreachable peers degrade silently.
func (s *Service) Status() error {
	return nil
}

// Peers lists the known peers.
func (s *Service) Peers() []*api.Peer {
	return s.peers.All()
}

// PeerWeight maps a peer's reputation onto a price-consensus weight. The
// local coordinator always carries weight 1.
func (s *Service) PeerWeight(coordinatorID string) float64 {
	if coordinatorID == s.cfg.CoordinatorID {
		return 1
	}
	weight := 1 + s.peers.Score(coordinatorID)
	if weight < 0 {
		return 0
	}
	return weight
}

// ServeWS upgrades an inbound peer connection. The first frame must be a
// HELLO; everything before WELCOME is ignored.
func (s *Service) ServeWS(w http.ResponseWriter, r *http.Request) {
	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.WithError(err).Debug("Websocket upgrade failed")
		return
	}
	msg := &Message{}
	if err := ws.ReadJSON(msg); err != nil || msg.Type != MsgHello {
		_ = ws.Close()
		return
	}
	hello := &Hello{}
	if err := decodePayload(msg, hello); err != nil {
		_ = ws.Close()
		return
	}
	if reject := s.admitPeer(hello); reject != nil {
		out, err := encodeMessage(MsgReject, s.cfg.CoordinatorID, reject)
		if err == nil {
			_ = ws.WriteJSON(out)
		}
		_ = ws.Close()
		return
	}
	welcome, err := encodeMessage(MsgWelcome, s.cfg.CoordinatorID, &Welcome{AcceptedPeerID: hello.PeerID})
	if err != nil || ws.WriteJSON(welcome) != nil {
		_ = ws.Close()
		return
	}
	s.registerConn(hello.PeerID, ws)
}

// HandleHello is the HTTP fallback for peers that cannot hold a socket.
func (s *Service) HandleHello(ctx context.Context, hello *Hello) (*Welcome, *Reject) {
	if reject := s.admitPeer(hello); reject != nil {
		return nil, reject
	}
	return &Welcome{AcceptedPeerID: hello.PeerID}, nil
}

// admitPeer validates a hello and records the peer.
func (s *Service) admitPeer(hello *Hello) *Reject {
	if hello.PeerID == "" || hello.URL == "" {
		return &Reject{Reason: "peerId and url are required"}
	}
	if hello.PeerID == s.cfg.CoordinatorID {
		return &Reject{Reason: "self connection"}
	}
	if s.peers.IsBad(hello.PeerID) {
		return &Reject{Reason: "peer score below threshold"}
	}
	peer := &api.Peer{
		ID:             hello.PeerID,
		URL:            hello.URL,
		PublicKey:      hello.PublicKey,
		Roles:          hello.Roles,
		Version:        hello.Version,
		LastExchangeMs: timeutils.NowUnixMilli(),
	}
	s.peers.Add(peer)
	if err := s.cfg.Database.SavePeer(s.ctx, peer); err != nil {
		log.WithError(err).WithField("peerId", hello.PeerID).Error("Could not persist peer")
	}
	return nil
}

// dialPending connects to known peers that are disconnected and out of
// backoff.
func (s *Service) dialPending() {
	now := timeutils.NowUnixMilli()
	for _, peer := range s.peers.All() {
		if !s.peers.Dialable(peer.ID, now) {
			continue
		}
		go s.dial(peer)
	}
}

func (s *Service) dial(peer *api.Peer) {
	s.peers.SetState(peer.ID, peers.Connecting)
	dialer := websocket.Dialer{HandshakeTimeout: params.SwarmMeshConfig().DialTimeout}
	ws, _, err := dialer.DialContext(s.ctx, wsURL(peer.URL), nil)
	if err != nil {
		s.peers.SetState(peer.ID, peers.Disconnected)
		wait := s.peers.Backoff(peer.ID)
		log.WithError(err).WithFields(logrus.Fields{
			"peerId":  peer.ID,
			"backoff": wait,
		}).Debug("Peer dial failed")
		return
	}
	hello, err := encodeMessage(MsgHello, s.cfg.CoordinatorID, &Hello{
		PeerID:    s.cfg.CoordinatorID,
		PublicKey: s.cfg.PublicKey,
		URL:       s.cfg.SelfURL,
	})
	if err != nil || ws.WriteJSON(hello) != nil {
		_ = ws.Close()
		s.peers.SetState(peer.ID, peers.Disconnected)
		return
	}
	reply := &Message{}
	if err := ws.ReadJSON(reply); err != nil || reply.Type != MsgWelcome {
		_ = ws.Close()
		s.peers.SetState(peer.ID, peers.Disconnected)
		s.peers.Backoff(peer.ID)
		return
	}
	s.registerConn(peer.ID, ws)
}

// registerConn installs the connection workers for an established peer.
func (s *Service) registerConn(peerID string, ws *websocket.Conn) {
	c := newConn(peerID, ws)
	s.connsMu.Lock()
	if old, ok := s.conns[peerID]; ok {
		old.Close()
	}
	s.conns[peerID] = c
	s.connsMu.Unlock()

	s.peers.SetState(peerID, peers.Connected)
	s.peers.ResetBackoff(peerID)
	log.WithField("peerId", peerID).Info("Peer connected")

	go c.writeLoop()
	go func() {
		c.readLoop(s.handleMessage)
		s.connsMu.Lock()
		if s.conns[peerID] == c {
			delete(s.conns, peerID)
		}
		s.connsMu.Unlock()
		s.peers.SetState(peerID, peers.Disconnected)
		log.WithField("peerId", peerID).Info("Peer disconnected")
	}()
}

// announce broadcasts the capability digest, ledger head and blacklist
// version to every connected peer, jittered so meshes do not thunder.
func (s *Service) announce() {
	jitter := params.SwarmMeshConfig().AnnounceJitter
	if jitter > 0 {
		time.Sleep(time.Duration(rand.NewGenerator().Int63n(jitter.Nanoseconds())))
	}
	headIndex, headHash := s.cfg.Ledger.Head()
	version, err := s.cfg.Blacklist.Version(s.ctx)
	if err != nil {
		log.WithError(err).Error("Could not read blacklist version")
		return
	}
	msg, err := encodeMessage(MsgAnnounce, s.cfg.CoordinatorID, &Announce{
		CapabilityDigest: s.cfg.CoordinatorID,
		LedgerHeadIndex:  headIndex,
		LedgerHeadHash:   headHash,
		BlacklistVersion: version,
	})
	if err != nil {
		return
	}
	s.broadcast(msg)
}

// broadcast sends a message to every connected peer.
func (s *Service) broadcast(msg *Message) {
	s.connsMu.Lock()
	defer s.connsMu.Unlock()
	for _, c := range s.conns {
		c.Send(msg)
	}
}

// sendTo targets one peer.
func (s *Service) sendTo(peerID string, msg *Message) {
	s.connsMu.Lock()
	c, ok := s.conns[peerID]
	s.connsMu.Unlock()
	if ok {
		c.Send(msg)
	}
}

// handleMessage dispatches one inbound frame.
func (s *Service) handleMessage(peerID string, msg *Message) {
	var err error
	switch msg.Type {
	case MsgAnnounce:
		err = s.onAnnounce(peerID, msg)
	case MsgRequestDelta:
		err = s.onRequestDelta(peerID, msg)
	case MsgDelta:
		err = s.onDelta(peerID, msg)
	case MsgGossip:
		err = s.onGossip(peerID, msg)
	default:
		err = errors.Errorf("unexpected message type %q", msg.Type)
	}
	if err != nil {
		s.peers.RecordFailure(peerID)
		log.WithError(err).WithFields(logrus.Fields{
			"peerId": peerID,
			"type":   msg.Type,
		}).Debug("Peer message rejected")
		if s.peers.IsBad(peerID) {
			s.dropPeer(peerID)
		}
		return
	}
	s.peers.RecordSuccess(peerID)
}

// onAnnounce records the peer's capabilities and requests a blacklist
// delta when the peer is ahead. Diverging ledger heads at the same index
// are logged for operator attention; the hash chain makes silent
// rewrites detectable, not correctable.
func (s *Service) onAnnounce(peerID string, msg *Message) error {
	ann := &Announce{}
	if err := decodePayload(msg, ann); err != nil {
		return err
	}
	s.peers.SetAnnounce(peerID, &peers.Announce{
		CapabilityDigest: ann.CapabilityDigest,
		LedgerHeadIndex:  ann.LedgerHeadIndex,
		LedgerHeadHash:   ann.LedgerHeadHash,
		BlacklistVersion: ann.BlacklistVersion,
	})

	localIndex, localHash := s.cfg.Ledger.Head()
	if ann.LedgerHeadIndex == localIndex && localIndex > 0 && ann.LedgerHeadHash != localHash {
		log.WithFields(logrus.Fields{
			"peerId": peerID,
			"index":  localIndex,
		}).Warn("Ledger head diverges from peer at the same index")
	}

	localVersion, err := s.cfg.Blacklist.Version(s.ctx)
	if err != nil {
		return err
	}
	if ann.BlacklistVersion > localVersion {
		req, err := encodeMessage(MsgRequestDelta, s.cfg.CoordinatorID, &RequestDelta{SinceVersion: localVersion})
		if err != nil {
			return err
		}
		s.sendTo(peerID, req)
	}
	return nil
}

// onRequestDelta replies with blacklist records past the requested
// version and the recent checkpoints.
func (s *Service) onRequestDelta(peerID string, msg *Message) error {
	req := &RequestDelta{}
	if err := decodePayload(msg, req); err != nil {
		return err
	}
	records, version, err := s.cfg.Blacklist.Delta(s.ctx, req.SinceVersion)
	if err != nil {
		return err
	}
	delta := &Delta{Version: version}
	for _, rec := range records {
		delta.Records = append(delta.Records, *rec)
	}
	if cp, err := s.cfg.Database.LatestCheckpoint(s.ctx); err == nil {
		delta.Checkpoints = append(delta.Checkpoints, *cp)
	}
	out, err := encodeMessage(MsgDelta, s.cfg.CoordinatorID, delta)
	if err != nil {
		return err
	}
	s.sendTo(peerID, out)
	return nil
}

// onDelta merges a blacklist delta by union and checks the checkpoints
// that rode along.
func (s *Service) onDelta(peerID string, msg *Message) error {
	delta := &Delta{}
	if err := decodePayload(msg, delta); err != nil {
		return err
	}
	s.applyRecords(peerID, delta.Records)
	return s.verifyCheckpoints(peerID, delta.Checkpoints)
}

// onGossip applies unseen records and relays with a decremented TTL.
func (s *Service) onGossip(peerID string, msg *Message) error {
	gossip := &Gossip{}
	if err := decodePayload(msg, gossip); err != nil {
		return err
	}
	fresh := gossip.Records[:0:0]
	for _, rec := range gossip.Records {
		if s.dedupe.Seen(rec.OriginID, rec.Version) {
			continue
		}
		fresh = append(fresh, rec)
	}
	s.applyRecords(peerID, fresh)

	freshCheckpoints := gossip.Checkpoints[:0:0]
	for _, cp := range gossip.Checkpoints {
		if s.dedupe.Seen("checkpoint:"+cp.CoordinatorID, cp.Index) {
			continue
		}
		freshCheckpoints = append(freshCheckpoints, cp)
	}
	if err := s.verifyCheckpoints(peerID, freshCheckpoints); err != nil {
		return err
	}

	gossip.TTL--
	if gossip.TTL <= 0 || len(fresh)+len(freshCheckpoints) == 0 {
		return nil
	}
	relay, err := encodeMessage(MsgGossip, s.cfg.CoordinatorID, &Gossip{
		TTL:         gossip.TTL,
		Records:     fresh,
		Checkpoints: freshCheckpoints,
	})
	if err != nil {
		return err
	}
	s.connsMu.Lock()
	for id, c := range s.conns {
		if id != peerID {
			c.Send(relay)
		}
	}
	s.connsMu.Unlock()
	return nil
}

// verifyCheckpoints checks remote signed checkpoints against the local
// chain. A bad signature or a diverging hash at an index the local chain
// has already sealed is a peer failure; a checkpoint past the local head
// cannot be compared yet and is skipped.
func (s *Service) verifyCheckpoints(peerID string, cps []api.Checkpoint) error {
	for i := range cps {
		cp := cps[i]
		if cp.CoordinatorID == s.cfg.CoordinatorID {
			continue
		}
		pub := s.peerKey(cp.CoordinatorID)
		if pub == nil {
			log.WithFields(logrus.Fields{
				"peerId":        peerID,
				"coordinatorId": cp.CoordinatorID,
			}).Debug("Checkpoint from unknown origin ignored")
			continue
		}
		if err := ledger.VerifyCheckpointSignature(&cp, pub); err != nil {
			return errors.Wrapf(err, "checkpoint %d from %q", cp.Index, cp.CoordinatorID)
		}
		local, err := s.cfg.Database.LedgerEntry(s.ctx, cp.Index)
		if err != nil {
			continue
		}
		localHash, err := ledger.EntryHash(local)
		if err != nil {
			return err
		}
		if localHash != cp.HeadHash {
			log.WithFields(logrus.Fields{
				"peerId":        peerID,
				"coordinatorId": cp.CoordinatorID,
				"index":         cp.Index,
			}).Error("Remote checkpoint diverges from the local chain")
			return errors.Errorf("checkpoint %d from %q diverges from the local chain", cp.Index, cp.CoordinatorID)
		}
	}
	return nil
}

// peerKey resolves a coordinator's Ed25519 key from the peer table.
func (s *Service) peerKey(coordinatorID string) ed25519.PublicKey {
	peer := s.peers.Get(coordinatorID)
	if peer == nil || len(peer.PublicKey) != ed25519.PublicKeySize {
		return nil
	}
	return ed25519.PublicKey(peer.PublicKey)
}

func (s *Service) applyRecords(peerID string, records []api.BlacklistRecord) {
	for i := range records {
		rec := records[i]
		if err := s.cfg.Blacklist.IngestRemote(s.ctx, &rec); err != nil {
			log.WithError(err).WithFields(logrus.Fields{
				"peerId":  peerID,
				"agentId": rec.AgentID,
			}).Warn("Remote blacklist record rejected")
		}
	}
}

// forwardBlacklistUpdates gossips locally accepted blacklist records.
func (s *Service) forwardBlacklistUpdates() {
	ch := make(chan *api.BlacklistRecord, 16)
	sub := s.cfg.Blacklist.SubscribeUpdates(ch)
	defer sub.Unsubscribe()
	for {
		select {
		case rec := <-ch:
			s.dedupe.Seen(rec.OriginID, rec.Version)
			msg, err := encodeMessage(MsgGossip, s.cfg.CoordinatorID, &Gossip{
				TTL:     params.SwarmMeshConfig().GossipTTL,
				Records: []api.BlacklistRecord{*rec},
			})
			if err != nil {
				continue
			}
			s.broadcast(msg)
		case <-s.ctx.Done():
			return
		}
	}
}

// forwardCheckpoints gossips locally published ledger checkpoints.
func (s *Service) forwardCheckpoints() {
	ch := make(chan *api.Checkpoint, 16)
	sub := s.cfg.Ledger.SubscribeCheckpoints(ch)
	defer sub.Unsubscribe()
	for {
		select {
		case cp := <-ch:
			msg, err := encodeMessage(MsgGossip, s.cfg.CoordinatorID, &Gossip{
				TTL:         params.SwarmMeshConfig().GossipTTL,
				Checkpoints: []api.Checkpoint{*cp},
			})
			if err != nil {
				continue
			}
			s.broadcast(msg)
		case <-s.ctx.Done():
			return
		}
	}
}

// dropPeer disconnects and schedules backoff for a bad peer.
func (s *Service) dropPeer(peerID string) {
	s.connsMu.Lock()
	if c, ok := s.conns[peerID]; ok {
		c.Close()
		delete(s.conns, peerID)
	}
	s.connsMu.Unlock()
	s.peers.SetState(peerID, peers.Disconnected)
	wait := s.peers.Backoff(peerID)
	log.WithFields(logrus.Fields{
		"peerId":  peerID,
		"backoff": wait,
	}).Warn("Peer dropped for low score")
}

// wsURL rewrites an http(s) peer URL onto its websocket endpoint.
func wsURL(base string) string {
	switch {
	case len(base) > 8 && base[:8] == "https://":
		return "wss://" + base[8:] + "/mesh/ws"
	case len(base) > 7 && base[:7] == "http://":
		return "ws://" + base[7:] + "/mesh/ws"
	default:
		return base + "/mesh/ws"
	}
}
