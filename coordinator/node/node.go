// Package node assembles the coordinator: database, auth, agent registry,
// blacklist, ledger, economy, peer mesh, task pipeline and the RPC surface,
// all registered on a shared service registry with ordered start and
// reverse-ordered, graceful stop.
package node

import (
	"context"
	"crypto/ed25519"
	"encoding/hex"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/urfave/cli/v2"

	"github.com/enclavecode/swarm/coordinator/auth"
	"github.com/enclavecode/swarm/coordinator/blacklist"
	"github.com/enclavecode/swarm/coordinator/db"
	"github.com/enclavecode/swarm/coordinator/db/kv"
	"github.com/enclavecode/swarm/coordinator/economy"
	"github.com/enclavecode/swarm/coordinator/flags"
	"github.com/enclavecode/swarm/coordinator/inference"
	"github.com/enclavecode/swarm/coordinator/ledger"
	"github.com/enclavecode/swarm/coordinator/mesh"
	"github.com/enclavecode/swarm/coordinator/pipeline"
	"github.com/enclavecode/swarm/coordinator/registry"
	"github.com/enclavecode/swarm/coordinator/rpc"
	"github.com/enclavecode/swarm/shared"
	"github.com/enclavecode/swarm/shared/cmd"
	"github.com/enclavecode/swarm/shared/debug"
	"github.com/enclavecode/swarm/shared/fileutil"
	"github.com/enclavecode/swarm/shared/params"
	"github.com/enclavecode/swarm/shared/prometheus"
	"github.com/enclavecode/swarm/shared/tracing"
)

var log = logrus.WithField("prefix", "node")

// keyFileName holds the hex-encoded Ed25519 seed of the coordinator key.
const keyFileName = "coordinator-key.hex"

// outboundTimeout bounds calls to the inference and escalation services.
const outboundTimeout = 30 * time.Second

// CoordinatorNode handles the lifecycle of the entire system and registers
// services to a service registry.
type CoordinatorNode struct {
	cliCtx   *cli.Context
	ctx      context.Context
	cancel   context.CancelFunc
	lock     sync.RWMutex
	services *shared.ServiceRegistry
	stop     chan struct{} // Channel to wait for termination notifications.
	db       db.Database
	nonces   auth.NonceStore
}

// lazyKeys breaks the blacklist/registry construction cycle: the blacklist
// verifies reporter signatures against registry keys, while the registry
// consults the blacklist on admission.
type lazyKeys struct {
	resolver auth.KeyResolver
}

func (l *lazyKeys) PublicKeyOf(id string) (ed25519.PublicKey, error) {
	if l.resolver == nil {
		return nil, errors.New("no key resolver bound")
	}
	return l.resolver.PublicKeyOf(id)
}

// meshKeyResolver resolves agents through the registry and falls back to
// the persisted peer table, so signed peer requests verify too.
type meshKeyResolver struct {
	ctx      context.Context
	registry *registry.Service
	database db.Database
}

func (r *meshKeyResolver) PublicKeyOf(sourceID string) (ed25519.PublicKey, error) {
	pub, err := r.registry.PublicKeyOf(sourceID)
	if err == nil {
		return pub, nil
	}
	peer, peerErr := r.database.Peer(r.ctx, sourceID)
	if peerErr != nil {
		return nil, err
	}
	if len(peer.PublicKey) != ed25519.PublicKeySize {
		return nil, errors.Errorf("peer %q has no usable public key", sourceID)
	}
	return peer.PublicKey, nil
}

// New creates a new node instance, sets up configuration options, and
// registers every required service.
func New(cliCtx *cli.Context) (*CoordinatorNode, error) {
	if err := tracing.Setup(
		"coordinator", // Service name.
		cliCtx.String(cmd.TracingProcessNameFlag.Name),
		cliCtx.String(cmd.TracingEndpointFlag.Name),
		cliCtx.Float64(cmd.TraceSampleFractionFlag.Name),
		cliCtx.Bool(cmd.EnableTracingFlag.Name),
	); err != nil {
		return nil, err
	}
	if cliCtx.IsSet(cmd.SwarmConfigFileFlag.Name) {
		if err := params.LoadSwarmConfigFile(cliCtx.String(cmd.SwarmConfigFileFlag.Name)); err != nil {
			return nil, err
		}
	}
	if cliCtx.IsSet(cmd.MeshConfigFileFlag.Name) {
		if err := params.LoadMeshConfigFile(cliCtx.String(cmd.MeshConfigFileFlag.Name)); err != nil {
			return nil, err
		}
	}

	ctx, cancel := context.WithCancel(cliCtx.Context)
	node := &CoordinatorNode{
		cliCtx:   cliCtx,
		ctx:      ctx,
		cancel:   cancel,
		services: shared.NewServiceRegistry(),
		stop:     make(chan struct{}),
		nonces:   auth.NewNonceStore(),
	}

	if err := node.startDB(); err != nil {
		cancel()
		return nil, err
	}
	if err := node.registerServices(); err != nil {
		cancel()
		return nil, err
	}
	return node, nil
}

func (n *CoordinatorNode) startDB() error {
	dataDir := n.cliCtx.String(cmd.DataDirFlag.Name)
	clearDB := n.cliCtx.Bool(cmd.ClearDB.Name)
	forceClearDB := n.cliCtx.Bool(cmd.ForceClearDB.Name)

	store, err := kv.NewKVStore(n.ctx, dataDir)
	if err != nil {
		return errors.Wrap(err, "could not open database")
	}
	clearDBConfirmed := forceClearDB
	if clearDB && !forceClearDB {
		actionText := "This will delete your coordinator database stored in your data directory. " +
			"Your ledger and agent table will be removed. Do you want to proceed? (Y/N)"
		deniedText := "Database will not be deleted. No changes have been made."
		clearDBConfirmed, err = cmd.ConfirmAction(actionText, deniedText)
		if err != nil {
			return err
		}
	}
	if clearDBConfirmed {
		log.Warning("Removing database")
		if err := store.ClearDB(); err != nil {
			return errors.Wrap(err, "could not clear database")
		}
		store, err = kv.NewKVStore(n.ctx, dataDir)
		if err != nil {
			return errors.Wrap(err, "could not re-create database")
		}
	}
	n.db = store
	return nil
}

func (n *CoordinatorNode) registerServices() error {
	cliCtx := n.cliCtx
	coordinatorID := cliCtx.String(flags.CoordinatorIDFlag.Name)
	dataDir := cliCtx.String(cmd.DataDirFlag.Name)

	signingKey, err := loadOrCreateKey(filepath.Join(dataDir, keyFileName))
	if err != nil {
		return errors.Wrap(err, "could not load coordinator key")
	}

	var portalKey ed25519.PublicKey
	if raw := cliCtx.String(flags.PortalPubkeyFlag.Name); raw != "" {
		decoded, err := hex.DecodeString(raw)
		if err != nil || len(decoded) != ed25519.PublicKeySize {
			return errors.New("portal-pubkey must be a 32-byte hex-encoded Ed25519 key")
		}
		portalKey = decoded
	} else {
		log.Warn("No portal public key configured, agent enrolment will be rejected")
	}

	ledgerSrv, err := ledger.NewService(n.ctx, &ledger.Config{
		Database:      n.db,
		CoordinatorID: coordinatorID,
		SigningKey:    signingKey,
	})
	if err != nil {
		return err
	}
	if err := n.services.RegisterService(ledgerSrv); err != nil {
		return err
	}

	reporterKeys := &lazyKeys{}
	blacklistSrv, err := blacklist.NewService(n.ctx, &blacklist.Config{
		Database:      n.db,
		Ledger:        ledgerSrv,
		Keys:          reporterKeys,
		CoordinatorID: coordinatorID,
	})
	if err != nil {
		return err
	}
	if err := n.services.RegisterService(blacklistSrv); err != nil {
		return err
	}

	registrySrv, err := registry.NewService(n.ctx, &registry.Config{
		Database:  n.db,
		Blacklist: blacklistSrv,
		PortalKey: portalKey,
	})
	if err != nil {
		return err
	}
	reporterKeys.resolver = registrySrv
	if err := n.services.RegisterService(registrySrv); err != nil {
		return err
	}

	meshSrv, err := mesh.NewService(n.ctx, &mesh.Config{
		Database:        n.db,
		Blacklist:       blacklistSrv,
		Ledger:          ledgerSrv,
		CoordinatorID:   coordinatorID,
		PublicKey:       signingKey.Public().(ed25519.PublicKey),
		SelfURL:         cliCtx.String(flags.SelfURLFlag.Name),
		DataDir:         dataDir,
		BootstrapPath:   cliCtx.String(flags.BootstrapFileFlag.Name),
		RegistryFeedURL: cliCtx.String(flags.RegistryFeedURLFlag.Name),
	})
	if err != nil {
		return err
	}
	if err := n.services.RegisterService(meshSrv); err != nil {
		return err
	}

	economySrv, err := economy.NewService(n.ctx, &economy.Config{
		Database:      n.db,
		Ledger:        ledgerSrv,
		Lightning:     economy.NewMockLightning(),
		CoordinatorID: coordinatorID,
		PeerWeight:    meshSrv.PeerWeight,
	})
	if err != nil {
		return err
	}
	if err := n.services.RegisterService(economySrv); err != nil {
		return err
	}

	var inferenceClient inference.Client = &inference.MockClient{}
	if endpoint := cliCtx.String(flags.InferenceEndpointFlag.Name); endpoint != "" {
		inferenceClient = inference.NewHTTPClient(endpoint, outboundTimeout)
	} else {
		log.Warn("No inference endpoint configured, tasks run as single pass-through subtasks")
	}
	var escalator pipeline.Escalator
	if endpoint := cliCtx.String(flags.EscalateEndpointFlag.Name); endpoint != "" {
		escalator = pipeline.NewHTTPEscalator(endpoint, outboundTimeout)
	}
	reward := cliCtx.Int64(flags.WorkRewardSatsFlag.Name)
	pipelineSrv, err := pipeline.NewService(n.ctx, &pipeline.Config{
		Database:      n.db,
		Registry:      registrySrv,
		Blacklist:     blacklistSrv,
		Ledger:        ledgerSrv,
		Inference:     inferenceClient,
		Economy:       economySrv,
		Escalator:     escalator,
		RewardSats:    func() int64 { return reward },
		SigningKey:    signingKey,
		CoordinatorID: coordinatorID,
	})
	if err != nil {
		return err
	}
	if err := n.services.RegisterService(pipelineSrv); err != nil {
		return err
	}

	if err := auth.LoadNonceTail(n.ctx, n.nonces, n.db); err != nil {
		log.WithError(err).Warn("Could not restore the nonce tail")
	}
	gate, err := auth.NewTokenGate(
		cliCtx.String(flags.MeshTokenFlag.Name),
		cliCtx.String(flags.PortalTokenFlag.Name),
		cliCtx.StringSlice(flags.AdminAllowlistFlag.Name),
	)
	if err != nil {
		return errors.Wrap(err, "could not build the token gate")
	}
	verifier := auth.NewVerifier(
		&meshKeyResolver{ctx: n.ctx, registry: registrySrv, database: n.db},
		n.nonces,
		auth.NewLimiter(),
		auth.NewSecurityEventLogger(n.ctx, n.db),
	)

	rpcSrv, err := rpc.NewService(n.ctx, &rpc.Config{
		Address:        fmt.Sprintf("%s:%d", cliCtx.String(flags.RPCHost.Name), cliCtx.Int(flags.RPCPort.Name)),
		AllowedOrigins: cliCtx.StringSlice(flags.AllowedOriginsFlag.Name),
		TokenGate:      gate,
		Verifier:       verifier,
		Database:       n.db,
		Registry:       registrySrv,
		Pipeline:       pipelineSrv,
		Blacklist:      blacklistSrv,
		Ledger:         ledgerSrv,
		Economy:        economySrv,
		Mesh:           meshSrv,
	})
	if err != nil {
		return err
	}
	if err := n.services.RegisterService(rpcSrv); err != nil {
		return err
	}

	if !cliCtx.Bool(cmd.DisableMonitoringFlag.Name) {
		monitoringAddr := fmt.Sprintf("%s:%d",
			cliCtx.String(cmd.MonitoringHostFlag.Name), cliCtx.Int(flags.MonitoringPortFlag.Name))
		var additionalHandlers []prometheus.Handler
		if cliCtx.Bool(cmd.EnableBackupWebhookFlag.Name) {
			outputDir := cliCtx.String(cmd.BackupWebhookOutputDir.Name)
			additionalHandlers = append(additionalHandlers, prometheus.Handler{
				Path: "/db/backup",
				Handler: func(w http.ResponseWriter, _ *http.Request) {
					if err := n.db.Backup(n.ctx, outputDir); err != nil {
						http.Error(w, err.Error(), http.StatusInternalServerError)
						return
					}
					if _, err := w.Write([]byte("OK")); err != nil {
						log.WithError(err).Error("Could not write backup response")
					}
				},
			})
		}
		if err := n.services.RegisterService(prometheus.NewService(monitoringAddr, n.services, additionalHandlers...)); err != nil {
			return err
		}
	}
	return nil
}

// Start the coordinator and kick off every registered service.
func (n *CoordinatorNode) Start() {
	n.lock.Lock()
	n.services.StartAll()
	n.lock.Unlock()

	stop := n.stop
	go func() {
		sigc := make(chan os.Signal, 1)
		signal.Notify(sigc, syscall.SIGINT, syscall.SIGTERM)
		defer signal.Stop(sigc)
		<-sigc
		log.Info("Got interrupt, shutting down...")
		debug.Exit(n.cliCtx) // Ensure trace and CPU profile data are flushed.
		go n.Close()
		for i := 10; i > 0; i-- {
			<-sigc
			if i > 1 {
				log.WithField("times", i-1).Info("Already shutting down, interrupt more to panic")
			}
		}
		panic("Panic closing the coordinator node")
	}()

	// Wait for stop channel to be closed.
	<-stop
}

// Close stops every service in reverse registration order, flushes the
// nonce tail and closes the database.
func (n *CoordinatorNode) Close() {
	n.lock.Lock()
	defer n.lock.Unlock()

	log.Info("Stopping coordinator node")
	n.services.StopAll()
	if err := auth.FlushNonceTail(n.ctx, n.nonces, n.db); err != nil {
		log.WithError(err).Error("Could not persist the nonce tail")
	}
	if err := n.db.Close(); err != nil {
		log.WithError(err).Error("Failed to close database")
	}
	n.cancel()
	close(n.stop)
}

// loadOrCreateKey reads the hex-encoded Ed25519 seed at path, generating
// and persisting a fresh one on first start.
func loadOrCreateKey(path string) (ed25519.PrivateKey, error) {
	if fileutil.FileExists(path) {
		raw, err := fileutil.ReadFileAsBytes(path)
		if err != nil {
			return nil, err
		}
		seed, err := hex.DecodeString(string(raw))
		if err != nil || len(seed) != ed25519.SeedSize {
			return nil, errors.Errorf("malformed key file %s", path)
		}
		return ed25519.NewKeyFromSeed(seed), nil
	}
	_, priv, err := ed25519.GenerateKey(nil)
	if err != nil {
		return nil, err
	}
	if err := fileutil.WriteFile(path, []byte(hex.EncodeToString(priv.Seed()))); err != nil {
		return nil, err
	}
	log.WithField("path", path).Info("Generated a new coordinator signing key")
	return priv, nil
}
