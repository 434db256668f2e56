package main

import (
	"context"
	"crypto/tls"
	"encoding/hex"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/fxamacker/cbor/v2"
	"github.com/spf13/cobra"

	"github.com/privcount/privcount/pkg/counter"
	"github.com/privcount/privcount/pkg/field"
	"github.com/privcount/privcount/pkg/logging"
	"github.com/privcount/privcount/pkg/party"
	"github.com/privcount/privcount/pkg/perrors"
	"github.com/privcount/privcount/pkg/persist"
	"github.com/privcount/privcount/pkg/roundid"
	"github.com/privcount/privcount/pkg/transport"
	"github.com/privcount/privcount/protocols/privcount/ts"
)

var tsCmd = &cobra.Command{
	Use:   "ts",
	Short: "Run a PrivCount Tally Server",
	RunE:  runTS,
}

func init() {
	tsCmd.Flags().StringVar(&configPath, "config", "", "path to the TS YAML config file")
	tsCmd.MarkFlagRequired("config")
}

func runTS(cmd *cobra.Command, args []string) error {
	log := logging.Default(verbose)

	cfg, err := LoadNodeConfig(configPath)
	if err != nil {
		return err
	}

	store, err := openStore(*cfg)
	if err != nil {
		os.Exit(exitConfigOrNetErr)
	}
	defer store.Close()

	if _, err := LoadOrCreateIdentity(cfg.StateDir); err != nil {
		fmt.Fprintln(os.Stderr, perrors.New(perrors.KindFatal, "", err))
		os.Exit(exitConfigOrNetErr)
	}

	if cfg.Round.RoundID == "" {
		cfg.Round.RoundID = roundid.New()
	}

	if err := cfg.Round.ValidateInitial(true, field.DefaultQ); err != nil {
		fmt.Fprintln(os.Stderr, perrors.New(perrors.KindConfigInvalid, cfg.Round.RoundID, err))
		os.Exit(exitConfigOrNetErr)
	}

	defs, err := cfg.Round.Definitions()
	if err != nil {
		fmt.Fprintln(os.Stderr, perrors.New(perrors.KindConfigInvalid, cfg.Round.RoundID, err))
		os.Exit(exitConfigOrNetErr)
	}
	counterSetHash, err := cbor.Marshal(defs)
	if err != nil {
		fmt.Fprintln(os.Stderr, perrors.New(perrors.KindFatal, cfg.Round.RoundID, err))
		os.Exit(exitConfigOrNetErr)
	}
	dcIDs := make(party.IDSlice, 0, len(cfg.Round.NoiseWeights))
	for id := range cfg.Round.NoiseWeights {
		dcIDs = append(dcIDs, party.ID(id))
	}

	fsm := ts.NewFSM(cfg.Round.DCThreshold, cfg.Round.SKThreshold)
	fsm.SetSSID(roundid.SSID(cfg.Round.RoundID, dcIDs, nil, counterSetHash))
	health := ts.NewHealthTracker(cfg.Round.Periods.CheckinPeriod)
	server := ts.NewServer(store, fsm, health)

	rlog := log.WithRound(cfg.Round.RoundID)

	defMap := make(map[string]counter.Definition, len(defs))
	for _, d := range defs {
		defMap[d.Name] = d
	}
	handshakeKey, err := hex.DecodeString(cfg.HandshakeKey)
	if err != nil {
		fmt.Fprintln(os.Stderr, perrors.New(perrors.KindConfigInvalid, cfg.Round.RoundID, err))
		os.Exit(exitConfigOrNetErr)
	}
	coord := ts.NewCoordinator(field.DefaultQ, cfg.Round, defMap, fsm, health, store, handshakeKey, rlog)

	cert, err := selfSignedTLSCert()
	if err != nil {
		fmt.Fprintln(os.Stderr, perrors.New(perrors.KindFatal, cfg.Round.RoundID, err))
		os.Exit(exitConfigOrNetErr)
	}
	ln, err := transport.Listen(cfg.ListenAddr, &tls.Config{Certificates: []tls.Certificate{cert}, MinVersion: tls.VersionTLS13})
	if err != nil {
		fmt.Fprintln(os.Stderr, perrors.New(perrors.KindDeliveryFailed, cfg.Round.RoundID, err))
		os.Exit(exitConfigOrNetErr)
	}
	defer ln.Close()

	rlog.Infof("listening on %s (protocol) and %s (http), ssid=%x", cfg.ListenAddr, cfg.HTTPListenAddr, fsm.SSID())

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	errCh := make(chan error, 3)
	go func() { errCh <- server.Run(ctx, cfg.HTTPListenAddr) }()
	go func() { errCh <- coord.Serve(ctx, ln) }()
	go func() { errCh <- coord.Drive(ctx) }()

	if err := <-errCh; err != nil && ctx.Err() == nil {
		rlog.Errorf("%v", err)
	}
	cancel()

	last, ok, err := store.LastOutcome(context.Background())
	if err == nil && ok && !last.Context.Valid {
		rlog.Errorf("last published outcome is invalid: %s", last.Context.InvalidityCause)
		os.Exit(exitAggregationInv)
	}
	return nil
}

func openStore(cfg NodeConfig) (persist.Store, error) {
	switch cfg.PersistDriver {
	case "postgres":
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return persist.NewPGStore(ctx, cfg.PostgresDSN)
	default:
		return persist.NewFileStore(cfg.StateDir)
	}
}
