package main

import (
	"context"
	"crypto/rand"
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
	"github.com/privcount/privcount/pkg/handshake"
	"github.com/privcount/privcount/pkg/logging"
	"github.com/privcount/privcount/pkg/party"
	"github.com/privcount/privcount/pkg/perrors"
	"github.com/privcount/privcount/pkg/protocol"
	"github.com/privcount/privcount/pkg/share"
	"github.com/privcount/privcount/protocols/privcount/sk"
)

var (
	skID string
)

var skCmd = &cobra.Command{
	Use:   "sk",
	Short: "Run a PrivCount Share Keeper",
	RunE:  runSK,
}

func init() {
	skCmd.Flags().StringVar(&configPath, "config", "", "path to the SK YAML config file")
	skCmd.Flags().StringVar(&skID, "id", "", "this node's stable identity fingerprint")
	skCmd.MarkFlagRequired("config")
	skCmd.MarkFlagRequired("id")
}

func runSK(cmd *cobra.Command, args []string) error {
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

	key, err := rsa.GenerateKey(rand.Reader, 3072)
	if err != nil {
		fmt.Fprintln(os.Stderr, perrors.New(perrors.KindFatal, "", err))
		os.Exit(exitConfigOrNetErr)
	}
	node := sk.New(party.ID(skID), key, field.DefaultQ)

	ident, err := LoadOrCreateIdentity(cfg.StateDir)
	if err != nil {
		fmt.Fprintln(os.Stderr, perrors.New(perrors.KindFatal, "", err))
		os.Exit(exitConfigOrNetErr)
	}
	log.Infof("sk %s: identity fingerprint %s", skID, ident.Fingerprint())

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

	der, err := x509.MarshalPKIXPublicKey(&key.PublicKey)
	if err != nil {
		fmt.Fprintln(os.Stderr, perrors.New(perrors.KindFatal, "", err))
		os.Exit(exitConfigOrNetErr)
	}
	reg := protocol.RegisterPayload{ID: party.ID(skID), Role: party.RoleSK, PublicKey: der}
	regData, err := protocol.EncodePayload(reg)
	if err != nil {
		fmt.Fprintln(os.Stderr, perrors.New(perrors.KindFatal, "", err))
		os.Exit(exitConfigOrNetErr)
	}
	if err := conn.Send(&protocol.Message{Type: protocol.TypeRegister, Data: regData}); err != nil {
		fmt.Fprintln(os.Stderr, perrors.New(perrors.KindDeliveryFailed, "", err))
		os.Exit(exitConfigOrNetErr)
	}

	if err := runSKSession(ctx, conn, node, log); err != nil {
		log.Errorf("%v", err)
		os.Exit(exitConfigOrNetErr)
	}
	return nil
}

// clientHandshake performs the 3-step HMAC challenge-response of
// spec.md §4.5 as a client.
func clientHandshake(conn *protocol.Conn, key []byte) error {
	helloMsg, err := conn.Receive()
	if err != nil {
		return fmt.Errorf("privcount: handshake step 1 read failed: %w", err)
	}
	if helloMsg.Type != protocol.TypeHandshake1 {
		return fmt.Errorf("privcount: expected HANDSHAKE1, got %s", helloMsg.Type)
	}
	var hello handshake.ServerHello
	copy(hello.Nonce[:], helloMsg.Data)

	resp, err := handshake.RespondAsClient(key, &hello)
	if err != nil {
		return err
	}
	wire := append(append([]byte{}, resp.Nonce[:]...), resp.MAC...)
	if err := conn.Send(&protocol.Message{Type: protocol.TypeHandshake2, Data: wire}); err != nil {
		return fmt.Errorf("privcount: handshake step 2 send failed: %w", err)
	}

	confirmMsg, err := conn.Receive()
	if err != nil {
		return fmt.Errorf("privcount: handshake step 3 read failed: %w", err)
	}
	if confirmMsg.Type == protocol.TypeAbort {
		return handshake.ErrAuthFailed
	}
	if confirmMsg.Type != protocol.TypeHandshake3 {
		return fmt.Errorf("privcount: expected HANDSHAKE3, got %s", confirmMsg.Type)
	}
	confirm := &handshake.ServerConfirm{MAC: confirmMsg.Data}
	if !handshake.VerifyServerConfirm(key, &hello, resp, confirm) {
		return handshake.ErrAuthFailed
	}
	return nil
}

// runSKSession dispatches the TS's post-handshake messages to node
// until ctx is canceled or the TS closes the connection: CONFIG to
// accept a round's parameters and announce PREPARED, ENVELOPE
// deliveries to fold into the running accumulator, a SHARE_REVEAL
// request (empty Data, from the TS) to reveal the accumulated sum, and
// OUTCOME to return to IDLE.
func runSKSession(ctx context.Context, conn *protocol.Conn, node *sk.SK, log *logging.Logger) error {
	msgs := make(chan *protocol.Message)
	errs := make(chan error, 1)
	go func() {
		for {
			msg, err := conn.Receive()
			if err != nil {
				errs <- err
				return
			}
			msgs <- msg
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case err := <-errs:
			return perrors.New(perrors.KindEventSourceDown, node.FSM.RoundID(), err)
		case msg := <-msgs:
			rlog := log.WithRound(msg.RoundID)
			switch msg.Type {
			case protocol.TypeConfig:
				var cfgPayload protocol.ConfigPayload
				if err := protocol.DecodePayload(msg.Data, &cfgPayload); err != nil {
					rlog.Errorf("malformed CONFIG: %v", err)
					continue
				}
				if err := node.Configure(msg.RoundID, cfgPayload.Round); err != nil {
					rlog.Errorf("configure failed: %v", err)
					continue
				}
				if err := conn.Send(&protocol.Message{Type: protocol.TypePrepared, RoundID: msg.RoundID, SSID: msg.SSID}); err != nil {
					return perrors.New(perrors.KindDeliveryFailed, msg.RoundID, err)
				}
			case protocol.TypeEnvelope:
				var env share.Envelope
				if err := protocol.DecodePayload(msg.Data, &env); err != nil {
					rlog.Errorf("malformed ENVELOPE: %v", err)
					continue
				}
				if err := node.Receive(&env); err != nil {
					rlog.Warnf("%v", err)
				}
			case protocol.TypeShareReveal:
				if msg.From != "" {
					continue // TS acking our own reveal; nothing to do
				}
				sum, err := node.Reveal()
				if err != nil {
					rlog.Errorf("reveal failed: %v", err)
					continue
				}
				payload, err := share.ToPayload(msg.RoundID, node.ID, "", sum)
				if err != nil {
					return perrors.New(perrors.KindFatal, msg.RoundID, err)
				}
				data, err := protocol.EncodePayload(payload)
				if err != nil {
					return perrors.New(perrors.KindFatal, msg.RoundID, err)
				}
				if err := conn.Send(&protocol.Message{Type: protocol.TypeShareReveal, RoundID: msg.RoundID, SSID: msg.SSID, From: node.ID, Data: data}); err != nil {
					return perrors.New(perrors.KindDeliveryFailed, msg.RoundID, err)
				}
			case protocol.TypeOutcome:
				if err := node.Done(); err != nil {
					rlog.Warnf("%v", err)
				}
			case protocol.TypeAbort:
				node.FSM.Abort()
			}
		}
	}
}
