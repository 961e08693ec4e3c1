// Command csnode runs one node of the permissioned consensus network:
// it loads configuration and identity, wires C1-C7 together behind
// pkg/node's single processor thread, dials its configured seed peers,
// and serves inbound connections until asked to stop. Grounded on the
// teacher's cmd/dusk connection-manager/voucher-seeder entrypoint,
// generalized from voucher-based discovery to this network's static
// seed-peer list (spec.md's transport Non-goals exclude peer
// discovery).
package main

import (
	"context"
	"encoding/hex"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	log "github.com/sirupsen/logrus"
	"github.com/urfave/cli/v2"

	"github.com/cleancoindev2/csnode/pkg/config"
	"github.com/cleancoindev2/csnode/pkg/consensus/dispatch"
	"github.com/cleancoindev2/csnode/pkg/consensus/events"
	"github.com/cleancoindev2/csnode/pkg/consensus/round"
	"github.com/cleancoindev2/csnode/pkg/consensus/sync"
	"github.com/cleancoindev2/csnode/pkg/core/chain"
	"github.com/cleancoindev2/csnode/pkg/core/conveyor"
	"github.com/cleancoindev2/csnode/pkg/core/wallet"
	"github.com/cleancoindev2/csnode/pkg/crypto"
	"github.com/cleancoindev2/csnode/pkg/identity"
	"github.com/cleancoindev2/csnode/pkg/net/neighbors"
	"github.com/cleancoindev2/csnode/pkg/net/transport"
	"github.com/cleancoindev2/csnode/pkg/node"
	"github.com/cleancoindev2/csnode/pkg/wire/message"
)

func main() {
	app := &cli.App{
		Name:  "csnode",
		Usage: "run a consensus node",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "config",
				Usage: "path to a TOML configuration file",
			},
		},
		Action: run,
	}

	if err := app.Run(os.Args); err != nil {
		log.WithField("process", "main").WithError(err).Fatalln("csnode exited")
	}
}

func run(c *cli.Context) error {
	cfg, err := config.Load(c.String("config"))
	if err != nil {
		return fmt.Errorf("loading configuration: %w", err)
	}
	configureLogger(cfg)

	kp, err := crypto.LoadOrCreateKeyPair(cfg.General.KeyFile)
	if err != nil {
		return fmt.Errorf("loading identity: %w", err)
	}
	signer, err := identity.NewSigner(kp)
	if err != nil {
		return fmt.Errorf("deriving identity: %w", err)
	}
	self := signer.Public()
	log.WithFields(log.Fields{"process": "main", "identity": self.String()}).Infoln("identity loaded")

	localChain, err := chain.New(chain.NewMemoryLoader(), nil)
	if err != nil {
		return fmt.Errorf("opening chain: %w", err)
	}

	snapshot := wallet.NewMemorySnapshot()
	packets := conveyor.New()

	// transport.Manager and node.Processor/round.Controller each need
	// one another at construction time (the Manager delivers every
	// inbound frame into the Processor; the Processor and Controller
	// address replies back out through the Manager, which in turn
	// stamps outbound envelopes with the Controller's current round),
	// so both are late-bound into the closures transport.New captures.
	var proc *node.Processor
	var controller *round.Controller
	trans := transport.New(
		func(sender identity.ID, env *message.Envelope) { proc.Deliver(sender, env) },
		func() uint64 {
			if controller == nil {
				return 0
			}
			return controller.Round()
		},
	)

	registry := neighbors.New(trans, cfg.Network.Version, cfg.Network.ChainUUID)
	sink := events.NewLogBroadcastSink(trans)
	syncer := sync.New(localChain, trans, registry, sink, sync.Config{
		RoundDifferent: cfg.Consensus.RoundDifferent,
		MaxBlockCount:  cfg.Consensus.MaxBlockCount,
		MaxWaitRound:   cfg.Consensus.MaxWaitRound,
		MaxWaitReply:   cfg.Consensus.MaxWaitReply,
	}, cfg.Consensus.MaxBlockCount)
	dispatcher := dispatch.New(cfg.Consensus.MetaCapacity)

	controller = round.NewController(self, signer, localChain, packets, snapshot, sink, trans, nil, nil, round.Config{
		MaxTrustedNodes:     cfg.Consensus.MaxTrustedNodes,
		DefaultStateTimeout: cfg.Consensus.DefaultStateTimeout,
		StageRequestDelay:   cfg.Consensus.StageRequestDelay,
	})

	proc = node.New(controller, syncer, registry, dispatcher, trans, localChain, node.DefaultConfig(), 256)

	listener, err := trans.Listen(":"+cfg.Network.Port, transport.IdentifyByPreamble)
	if err != nil {
		return fmt.Errorf("listening: %w", err)
	}
	defer listener.Close()
	log.WithFields(log.Fields{"process": "main", "addr": listener.Addr()}).Infoln("listening")

	for _, seed := range cfg.Peers.Seeds {
		peer, err := seedPeerID(seed)
		if err != nil {
			log.WithFields(log.Fields{"process": "main", "seed": seed.Address}).WithError(err).Warnln("skipping malformed seed peer")
			continue
		}
		if err := trans.ConnectAs(self, peer, seed.Address); err != nil {
			log.WithFields(log.Fields{"process": "main", "seed": seed.Address}).WithError(err).Warnln("could not dial seed peer")
			continue
		}
		proc.OnDiscovered(peer)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		log.WithField("process", "main").Infoln("shutting down")
		cancel()
	}()

	proc.Run(ctx)
	return nil
}

// seedPeerID decodes a configured seed's hex-encoded public key into
// its identity.
func seedPeerID(seed config.SeedPeer) (identity.ID, error) {
	raw, err := hex.DecodeString(seed.PublicKey)
	if err != nil {
		return identity.ID{}, fmt.Errorf("decoding public key: %w", err)
	}
	return identity.NewID(raw)
}

func configureLogger(cfg *config.Configuration) {
	if level, err := log.ParseLevel(cfg.Logger.Level); err == nil {
		log.SetLevel(level)
	}
	if cfg.Logger.Output == "stderr" {
		log.SetOutput(os.Stderr)
	}
}
