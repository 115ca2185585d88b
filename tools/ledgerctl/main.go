// ledgerctl is an operational tool for inspecting and verifying a
// coordinator data directory: full hash-chain replay, blacklist audit
// subchain replay, head inspection and OP_RETURN checkpoint decoding.
package main

import (
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"

	"github.com/dustin/go-humanize"
	"github.com/sirupsen/logrus"
	"github.com/urfave/cli/v2"

	"github.com/enclavecode/swarm/coordinator/blacklist"
	"github.com/enclavecode/swarm/coordinator/db/kv"
	"github.com/enclavecode/swarm/coordinator/ledger"
	"github.com/enclavecode/swarm/shared/version"
)

var log = logrus.WithField("prefix", "ledgerctl")

var datadirFlag = &cli.StringFlag{
	Name:     "datadir",
	Usage:    "Path to the coordinator data directory",
	Required: true,
}

func openStore(cliCtx *cli.Context) (*kv.Store, error) {
	return kv.NewKVStore(cliCtx.Context, cliCtx.String(datadirFlag.Name))
}

func runVerify(cliCtx *cli.Context) error {
	store, err := openStore(cliCtx)
	if err != nil {
		return err
	}
	defer closeStore(store)

	result := ledger.VerifyAll(cliCtx.Context, store, nil)
	if !result.OK() {
		return fmt.Errorf("chain verification failed at index %d after %d entries: %v",
			result.FirstFailing, result.Checked, result.Err)
	}
	fmt.Printf("ledger ok: %d entries replayed\n", result.Checked)
	return nil
}

func runVerifyBlacklistAudit(cliCtx *cli.Context) error {
	store, err := openStore(cliCtx)
	if err != nil {
		return err
	}
	defer closeStore(store)

	checked, firstFailing, err := blacklist.VerifyAudit(cliCtx.Context, store)
	if err != nil {
		return fmt.Errorf("audit verification failed at seq %d after %d links: %v",
			firstFailing, checked, err)
	}
	fmt.Printf("blacklist audit ok: %d links replayed\n", checked)
	return nil
}

func runHead(cliCtx *cli.Context) error {
	store, err := openStore(cliCtx)
	if err != nil {
		return err
	}
	defer closeStore(store)

	ctx := cliCtx.Context
	index, headHash, err := store.LedgerHead(ctx)
	if err != nil {
		return err
	}
	fmt.Printf("head index: %d\nhead hash:  %s\n", index, headHash)
	if info, err := os.Stat(filepath.Join(cliCtx.String(datadirFlag.Name), kv.DatabaseFileName)); err == nil {
		fmt.Printf("db size:    %s\n", humanize.Bytes(uint64(info.Size())))
	}
	cp, err := store.LatestCheckpoint(ctx)
	if err != nil {
		fmt.Println("checkpoint: none published")
		return nil
	}
	fmt.Printf("checkpoint: index %d by %s", cp.Index, cp.CoordinatorID)
	if cp.AnchorTxID != "" {
		fmt.Printf(" (anchored in %s)", cp.AnchorTxID)
	}
	fmt.Println()
	return nil
}

func runDecodeCheckpoint(cliCtx *cli.Context) error {
	raw, err := hex.DecodeString(cliCtx.String("payload"))
	if err != nil {
		return fmt.Errorf("payload must be hex: %v", err)
	}
	ver, headHash, err := ledger.DecodeAnchorPayload(raw)
	if err != nil {
		return err
	}
	fmt.Printf("version:   0x%02x\nhead hash: %s\n", ver, headHash)
	return nil
}

func closeStore(store *kv.Store) {
	if err := store.Close(); err != nil {
		log.WithError(err).Error("Could not close database")
	}
}

func main() {
	app := &cli.App{
		Name:    "ledgerctl",
		Usage:   "inspect and verify a coordinator ledger",
		Version: version.GetVersion(),
		Commands: []*cli.Command{
			{
				Name:   "verify",
				Usage:  "replay the full ledger hash chain from genesis to head",
				Flags:  []cli.Flag{datadirFlag},
				Action: runVerify,
			},
			{
				Name:   "verify-blacklist-audit",
				Usage:  "replay the blacklist audit subchain",
				Flags:  []cli.Flag{datadirFlag},
				Action: runVerifyBlacklistAudit,
			},
			{
				Name:   "head",
				Usage:  "print the ledger head and the latest checkpoint",
				Flags:  []cli.Flag{datadirFlag},
				Action: runHead,
			},
			{
				Name:  "checkpoint",
				Usage: "checkpoint utilities",
				Subcommands: []*cli.Command{
					{
						Name:  "decode",
						Usage: "decode a hex OP_RETURN anchor payload",
						Flags: []cli.Flag{
							&cli.StringFlag{
								Name:     "payload",
								Usage:    "hex-encoded 35-byte anchor payload",
								Required: true,
							},
						},
						Action: runDecodeCheckpoint,
					},
				},
			},
		},
	}
	if err := app.Run(os.Args); err != nil {
		log.Error(err.Error())
		os.Exit(1)
	}
}
