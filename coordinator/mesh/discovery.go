package mesh

import (
	"context"
	"encoding/json"
	"net/http"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
	"github.com/pkg/errors"
	yaml "gopkg.in/yaml.v2"

	"github.com/enclavecode/swarm/coordinator/api"
	"github.com/enclavecode/swarm/shared/fileutil"
	"github.com/enclavecode/swarm/shared/params"
)

// bootstrapFile is the YAML shape of the static bootstrap list.
type bootstrapFile struct {
	Peers []struct {
		PeerID    string `yaml:"peerId"`
		URL       string `yaml:"url"`
		PublicKey string `yaml:"publicKey,omitempty"`
	} `yaml:"peers"`
}

// refreshPeers applies the discovery sources in priority order: the
// control-plane registry feed, the local cache file, then the static
// bootstrap list. Later sources never override earlier ones.
func (s *Service) refreshPeers(ctx context.Context) {
	known := make(map[string]bool)
	for _, peer := range s.peers.All() {
		known[peer.ID] = true
	}
	apply := func(peer *api.Peer, source string) {
		if peer.ID == "" || peer.ID == s.cfg.CoordinatorID || peer.URL == "" || known[peer.ID] {
			return
		}
		known[peer.ID] = true
		s.peers.Add(peer)
		if err := s.cfg.Database.SavePeer(ctx, peer); err != nil {
			log.WithError(err).WithField("peerId", peer.ID).Error("Could not persist discovered peer")
		}
		log.WithField("peerId", peer.ID).WithField("source", source).Debug("Peer discovered")
	}

	for _, peer := range s.fetchRegistryFeed(ctx) {
		apply(peer, "registry-feed")
	}
	for _, peer := range s.loadPeerCache() {
		apply(peer, "cache-file")
	}
	for _, peer := range s.loadBootstrap() {
		apply(peer, "bootstrap")
	}
}

// fetchRegistryFeed pulls the authoritative peer seed from the
// control-plane, when configured.
func (s *Service) fetchRegistryFeed(ctx context.Context) []*api.Peer {
	if s.cfg.RegistryFeedURL == "" {
		return nil
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.cfg.RegistryFeedURL, nil)
	if err != nil {
		return nil
	}
	resp, err := s.httpClient.Do(req)
	if err != nil {
		log.WithError(err).Debug("Registry feed unreachable")
		return nil
	}
	defer func() {
		_ = resp.Body.Close()
	}()
	if resp.StatusCode != http.StatusOK {
		log.WithField("status", resp.StatusCode).Debug("Registry feed rejected request")
		return nil
	}
	feed := &api.PeerListResponse{}
	if err := json.NewDecoder(resp.Body).Decode(feed); err != nil {
		log.WithError(err).Debug("Malformed registry feed")
		return nil
	}
	out := make([]*api.Peer, 0, len(feed.Peers))
	for i := range feed.Peers {
		out = append(out, &feed.Peers[i])
	}
	return out
}

// loadPeerCache reads the last-known peer file written by flushPeerCache.
func (s *Service) loadPeerCache() []*api.Peer {
	path := s.peerCachePath()
	if !fileutil.FileExists(path) {
		return nil
	}
	raw, err := fileutil.ReadFileAsBytes(path)
	if err != nil {
		log.WithError(err).Debug("Could not read peer cache")
		return nil
	}
	var peers []*api.Peer
	if err := yaml.Unmarshal(raw, &peers); err != nil {
		log.WithError(err).Warn("Corrupt peer cache ignored")
		return nil
	}
	return peers
}

// flushPeerCache persists the current peer set for the next start.
func (s *Service) flushPeerCache() error {
	raw, err := yaml.Marshal(s.peers.All())
	if err != nil {
		return err
	}
	return fileutil.WriteFile(s.peerCachePath(), raw)
}

func (s *Service) peerCachePath() string {
	return filepath.Join(s.cfg.DataDir, params.SwarmMeshConfig().PeerCacheFileName)
}

// loadBootstrap parses the static bootstrap file plus any peers given
// directly in the mesh config.
func (s *Service) loadBootstrap() []*api.Peer {
	var out []*api.Peer
	for _, u := range params.SwarmMeshConfig().BootstrapPeers {
		out = append(out, &api.Peer{ID: "bootstrap:" + u, URL: u})
	}
	if s.cfg.BootstrapPath == "" || !fileutil.FileExists(s.cfg.BootstrapPath) {
		return out
	}
	raw, err := fileutil.ReadFileAsBytes(s.cfg.BootstrapPath)
	if err != nil {
		log.WithError(err).Warn("Could not read bootstrap file")
		return out
	}
	parsed := &bootstrapFile{}
	if err := yaml.Unmarshal(raw, parsed); err != nil {
		log.WithError(err).Warn("Malformed bootstrap file ignored")
		return out
	}
	for _, entry := range parsed.Peers {
		out = append(out, &api.Peer{ID: entry.PeerID, URL: entry.URL})
	}
	return out
}

// watchBootstrap re-applies discovery whenever the bootstrap file
// changes on disk.
func (s *Service) watchBootstrap() error {
	if s.cfg.BootstrapPath == "" {
		return nil
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return errors.Wrap(err, "could not create bootstrap watcher")
	}
	if err := watcher.Add(filepath.Dir(s.cfg.BootstrapPath)); err != nil {
		return errors.Wrap(err, "could not watch bootstrap directory")
	}
	go func() {
		defer func() {
			if err := watcher.Close(); err != nil {
				log.WithError(err).Debug("Could not close bootstrap watcher")
			}
		}()
		for {
			select {
			case ev := <-watcher.Events:
				if ev.Name == s.cfg.BootstrapPath && ev.Op&(fsnotify.Write|fsnotify.Create) != 0 {
					log.Info("Bootstrap file changed, refreshing peers")
					s.refreshPeers(s.ctx)
				}
			case err := <-watcher.Errors:
				log.WithError(err).Debug("Bootstrap watcher error")
			case <-s.ctx.Done():
				return
			}
		}
	}()
	return nil
}
