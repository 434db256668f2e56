package main

import (
	"context"
	"crypto/rsa"
	"crypto/tls"
	"crypto/x509"
	"encoding/hex"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/privcount/privcount/pkg/field"
	"github.com/privcount/privcount/pkg/logging"
	"github.com/privcount/privcount/pkg/party"
	"github.com/privcount/privcount/pkg/perrors"
	"github.com/privcount/privcount/pkg/protocol"
	"github.com/privcount/privcount/pkg/share"
	"github.com/privcount/privcount/pkg/torevent"
	"github.com/privcount/privcount/protocols/privcount/dc"
)

var dcID string

var dcCmd = &cobra.Command{
	Use:   "dc",
	Short: "Run a PrivCount Data Collector",
	RunE:  runDC,
}

func init() {
	dcCmd.Flags().StringVar(&configPath, "config", "", "path to the DC YAML config file")
	dcCmd.Flags().StringVar(&dcID, "id", "", "this node's stable identity fingerprint")
	dcCmd.MarkFlagRequired("config")
	dcCmd.MarkFlagRequired("id")
}

func runDC(cmd *cobra.Command, args []string) error {
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

	node := dc.New(party.ID(dcID), field.DefaultQ)

	ident, err := LoadOrCreateIdentity(cfg.StateDir)
	if err != nil {
		fmt.Fprintln(os.Stderr, perrors.New(perrors.KindFatal, "", err))
		os.Exit(exitConfigOrNetErr)
	}
	log.Infof("dc %s: identity fingerprint %s", dcID, ident.Fingerprint())

	handshakeKey, err := hex.DecodeString(cfg.HandshakeKey)
	if err != nil {
		fmt.Fprintln(os.Stderr, perrors.New(perrors.KindConfigInvalid, "", err))
		os.Exit(exitConfigOrNetErr)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	// The TS's certificate is unpinned; the HMAC handshake that follows
	// is what actually authenticates the connection (see
	// selfSignedTLSCert's doc comment in nodeconfig.go).
	conn, err := protocol.Dial(cfg.TSAddr, &tls.Config{MinVersion: tls.VersionTLS13, InsecureSkipVerify: true})
	if err != nil {
		fmt.Fprintln(os.Stderr, perrors.New(perrors.KindAuthFailed, "", err))
		os.Exit(exitConfigOrNetErr)
	}
	defer conn.Close()

	if err := clientHandshake(conn, handshakeKey); err != nil {
		fmt.Fprintln(os.Stderr, perrors.New(perrors.KindAuthFailed, "", err))
		os.Exit(exitConfigOrNetErr)
	}

	reg := protocol.RegisterPayload{ID: party.ID(dcID), Role: party.RoleDC}
	regData, err := protocol.EncodePayload(reg)
	if err != nil {
		fmt.Fprintln(os.Stderr, perrors.New(perrors.KindFatal, "", err))
		os.Exit(exitConfigOrNetErr)
	}
	if err := conn.Send(&protocol.Message{Type: protocol.TypeRegister, Data: regData}); err != nil {
		fmt.Fprintln(os.Stderr, perrors.New(perrors.KindDeliveryFailed, "", err))
		os.Exit(exitConfigOrNetErr)
	}

	tor, err := dialEventSource(cfg.TorControl)
	if err != nil {
		fmt.Fprintln(os.Stderr, perrors.New(perrors.KindEventSourceDown, "", err))
		os.Exit(exitConfigOrNetErr)
	}
	defer tor.Close()

	if err := runDCSession(ctx, conn, tor, node, log); err != nil {
		log.Errorf("%v", err)
		os.Exit(exitConfigOrNetErr)
	}
	return nil
}

// dialEventSource connects to the relay's control port and completes
// authentication and subscription per spec.md §6. It offers every
// method in torevent.PreferenceOrder, so Authenticate uses SAFECOOKIE;
// if that fails, HASHEDPASSWORD and NULL are not tried.
func dialEventSource(cfg TorControlConfig) (*torevent.Client, error) {
	client, err := torevent.Dial(cfg.Addr)
	if err != nil {
		return nil, err
	}
	creds := torevent.Credentials{
		CookieFile: cfg.CookiePath,
		Password:   cfg.Password,
		ReadCookie: os.ReadFile,
	}
	if _, err := client.Authenticate(torevent.PreferenceOrder, creds); err != nil {
		client.Close()
		return nil, err
	}
	if err := client.EnablePrivCount(); err != nil {
		client.Close()
		return nil, err
	}
	if err := client.Subscribe(torevent.AllEvents); err != nil {
		client.Close()
		return nil, err
	}
	return client, nil
}

// runDCSession drives node through the round it is handed by the TS:
// accept CONFIG (generating and sealing this DC's blinding shares and
// drawing its noise contribution before announcing PREPARED), fold
// control-port events into counter increments once COLLECTING, and
// snapshot on the TS's TALLY request. It exits cleanly on ctx
// cancellation or when either connection closes. Tor events that
// arrive before CONFIG has allocated the counter store are dropped
// rather than risking a write through a nil store.
func runDCSession(ctx context.Context, conn *protocol.Conn, tor *torevent.Client, node *dc.DC, log *logging.Logger) error {
	tsMsgs := make(chan *protocol.Message)
	tsErrs := make(chan error, 1)
	go func() {
		for {
			msg, err := conn.Receive()
			if err != nil {
				tsErrs <- err
				return
			}
			tsMsgs <- msg
		}
	}()

	events := tor.Events()
	collecting := false

	for {
		select {
		case <-ctx.Done():
			return nil
		case err := <-tsErrs:
			return perrors.New(perrors.KindEventSourceDown, node.FSM.RoundID(), err)
		case ev, ok := <-events:
			if !ok {
				return perrors.New(perrors.KindEventSourceDown, node.FSM.RoundID(), fmt.Errorf("control port connection closed"))
			}
			if !collecting {
				continue // round not yet configured; no store to apply to
			}
			for _, err := range node.OnEvent(ev, eventToIncrements) {
				log.WithRound(node.FSM.RoundID()).Warnf("%v", err)
			}
		case msg := <-tsMsgs:
			rlog := log.WithRound(msg.RoundID)
			switch msg.Type {
			case protocol.TypeConfig:
				if err := configureDC(conn, node, msg); err != nil {
					rlog.Errorf("configure failed: %v", err)
					continue
				}
				collecting = true
			case protocol.TypeTally:
				if msg.From != "" {
					continue // TS acking our own snapshot; nothing to do
				}
				collecting = false
				if err := revealDC(conn, node, msg); err != nil {
					return perrors.New(perrors.KindDeliveryFailed, msg.RoundID, err)
				}
			case protocol.TypeOutcome:
				if err := node.Done(); err != nil {
					rlog.Warnf("%v", err)
				}
			case protocol.TypeAbort:
				node.FSM.Abort()
				collecting = false
			}
		}
	}
}

// configureDC accepts a CONFIG broadcast: it validates the round,
// draws and seals this DC's blinding shares for every SK named in the
// payload, sends each sealed envelope, draws this DC's noise
// contribution, initializes the masked counter store, and announces
// PREPARED. A failure at any step leaves the DC un-configured for this
// round rather than partially initialized.
func configureDC(conn *protocol.Conn, node *dc.DC, msg *protocol.Message) error {
	var cfgPayload protocol.ConfigPayload
	if err := protocol.DecodePayload(msg.Data, &cfgPayload); err != nil {
		return fmt.Errorf("privcount: malformed CONFIG: %w", err)
	}
	if err := node.Configure(msg.RoundID, cfgPayload.Round); err != nil {
		return err
	}

	pubKeys := make(map[party.ID]*rsa.PublicKey, len(cfgPayload.SKPublicKeys))
	for id, der := range cfgPayload.SKPublicKeys {
		pub, err := x509.ParsePKIXPublicKey(der)
		if err != nil {
			return fmt.Errorf("privcount: sk %s public key: %w", id, err)
		}
		rsaPub, ok := pub.(*rsa.PublicKey)
		if !ok {
			return fmt.Errorf("privcount: sk %s public key is not RSA", id)
		}
		pubKeys[id] = rsaPub
	}

	payloads, localMask, err := node.GenerateShares(cfgPayload.SKs)
	if err != nil {
		return err
	}
	envelopes, err := node.SealEnvelopes(pubKeys, payloads)
	if err != nil {
		return err
	}
	for skID, env := range envelopes {
		data, err := protocol.EncodePayload(env)
		if err != nil {
			return err
		}
		if err := conn.Send(&protocol.Message{Type: protocol.TypeEnvelope, RoundID: msg.RoundID, SSID: msg.SSID, From: node.ID, To: skID, Data: data}); err != nil {
			return err
		}
	}

	weight := cfgPayload.Round.NoiseWeights[string(node.ID)]
	noiseDraw, err := node.DrawNoise(weight)
	if err != nil {
		return err
	}
	if err := node.Initialize(localMask, noiseDraw); err != nil {
		return err
	}

	return conn.Send(&protocol.Message{Type: protocol.TypePrepared, RoundID: msg.RoundID, SSID: msg.SSID})
}

// revealDC answers a TALLY request from the TS with this DC's masked
// counter snapshot.
func revealDC(conn *protocol.Conn, node *dc.DC, msg *protocol.Message) error {
	snap, err := node.Snapshot()
	if err != nil {
		return err
	}
	payload, err := share.ToPayload(msg.RoundID, node.ID, "", snap)
	if err != nil {
		return err
	}
	data, err := protocol.EncodePayload(payload)
	if err != nil {
		return err
	}
	return conn.Send(&protocol.Message{Type: protocol.TypeTally, RoundID: msg.RoundID, SSID: msg.SSID, From: node.ID, Data: data})
}

// eventToIncrements maps one control-port event to counter increments.
// Each event type increments the identically-named counter by one per
// occurrence, in the bin holding value 0; a STREAM_BYTES_TRANSFERRED
// event instead uses its "Bytes" field as the value, so it is counted
// once in the bin of that counter holding the byte count, since that is
// the one event spec.md §6 describes as volume-valued rather than
// purely occurrence-counted.
func eventToIncrements(ev torevent.Event) []dc.Increment {
	name := string(ev.Type)
	inc := dc.Increment{Counter: name, Value: 0, Delta: 1}
	if ev.Type != torevent.EventStreamBytesTransferred {
		return []dc.Increment{inc}
	}
	var bytes float64
	fmt.Sscanf(ev.Fields["Bytes"], "%f", &bytes)
	return []dc.Increment{{Counter: name, Value: bytes, Delta: 1}}
}
