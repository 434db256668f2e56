package ts

import (
	"context"
	"crypto/rsa"
	"crypto/x509"
	"fmt"
	"sync"
	"time"

	"github.com/cronokirby/saferith"

	"github.com/privcount/privcount/pkg/config"
	"github.com/privcount/privcount/pkg/counter"
	"github.com/privcount/privcount/pkg/field"
	"github.com/privcount/privcount/pkg/handshake"
	"github.com/privcount/privcount/pkg/logging"
	"github.com/privcount/privcount/pkg/outcomes"
	"github.com/privcount/privcount/pkg/party"
	"github.com/privcount/privcount/pkg/persist"
	"github.com/privcount/privcount/pkg/protocol"
	"github.com/privcount/privcount/pkg/share"
	"github.com/privcount/privcount/pkg/transport"
)

// pollInterval is how often Drive re-checks threshold and reveal
// conditions while waiting on DC/SK connections; it is not a protocol
// parameter, just the coordinator's internal wakeup granularity.
const pollInterval = 100 * time.Millisecond

// Coordinator is the TS's live round driver: it accepts the connections
// pkg/transport hands it, performs the server side of the handshake on
// each one, broadcasts CONFIG once enough parties have registered,
// drives the FSM through WAITING_FOR_THRESHOLDS/STARTED/SUMMING/
// PUBLISHING, and calls Aggregate/BuildOutcomes at round end. It plays
// the same role over the wire that protocols/privcount/simulation's
// RunRound plays in-process.
type Coordinator struct {
	q            *saferith.Modulus
	round        config.RoundConfig
	defs         map[string]counter.Definition
	fsm          *FSM
	health       *HealthTracker
	store        persist.Store
	handshakeKey []byte
	log          *logging.RoundLogger

	mu          sync.Mutex
	dcConns     map[party.ID]*protocol.Conn
	skConns     map[party.ID]*protocol.Conn
	skPubKeys   map[party.ID]*rsa.PublicKey
	dcSnapshots map[party.ID]map[string][]field.Elem
	skSums      map[party.ID]map[string][]field.Elem
	configSent  bool
}

// NewCoordinator builds a Coordinator for one round. fsm must already
// carry the round's SSID (FSM.SetSSID).
func NewCoordinator(q *saferith.Modulus, round config.RoundConfig, defs map[string]counter.Definition, fsm *FSM, health *HealthTracker, store persist.Store, handshakeKey []byte, log *logging.RoundLogger) *Coordinator {
	return &Coordinator{
		q:            q,
		round:        round,
		defs:         defs,
		fsm:          fsm,
		health:       health,
		store:        store,
		handshakeKey: handshakeKey,
		log:          log,
		dcConns:      make(map[party.ID]*protocol.Conn),
		skConns:      make(map[party.ID]*protocol.Conn),
		skPubKeys:    make(map[party.ID]*rsa.PublicKey),
		dcSnapshots:  make(map[party.ID]map[string][]field.Elem),
		skSums:       make(map[party.ID]map[string][]field.Elem),
	}
}

// Serve accepts connections from ln until ctx is canceled or the
// listener is closed, dispatching each to its own handling goroutine.
func (c *Coordinator) Serve(ctx context.Context, ln *transport.Listener) error {
	for {
		conn, err := ln.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				return nil
			default:
				return fmt.Errorf("ts: accept failed: %w", err)
			}
		}
		go c.handleConn(ctx, conn)
	}
}

// handleConn performs the server handshake, registers the connection
// under its claimed identity, sends CONFIG once enough parties have
// joined, and then dispatches that node's messages for the rest of the
// round.
func (c *Coordinator) handleConn(ctx context.Context, conn *protocol.Conn) {
	defer conn.Close()

	reg, err := c.serverHandshake(conn)
	if err != nil {
		c.log.Warnf("handshake with %s failed: %v", conn.RemoteAddr(), err)
		return
	}
	c.health.Checkin(reg.ID, time.Now())

	if err := c.register(reg, conn); err != nil {
		c.log.Warnf("register %s failed: %v", reg.ID, err)
		return
	}

	if err := c.maybeBroadcastConfig(); err != nil {
		c.log.Warnf("%v", err)
	}

	for {
		msg, err := conn.Receive()
		if err != nil {
			return
		}
		c.health.Checkin(reg.ID, time.Now())
		c.dispatch(reg, msg)
	}
}

// serverHandshake performs the TS's side of the 3-step HMAC
// challenge-response (pkg/handshake) and returns the REGISTER payload
// that follows it on success.
func (c *Coordinator) serverHandshake(conn *protocol.Conn) (*protocol.RegisterPayload, error) {
	hello, err := handshake.NewServerHello()
	if err != nil {
		return nil, err
	}
	if err := conn.Send(&protocol.Message{Type: protocol.TypeHandshake1, Data: hello.Nonce[:]}); err != nil {
		return nil, fmt.Errorf("ts: handshake step 1 send failed: %w", err)
	}

	step2, err := conn.Receive()
	if err != nil {
		return nil, fmt.Errorf("ts: handshake step 2 read failed: %w", err)
	}
	if step2.Type != protocol.TypeHandshake2 || len(step2.Data) != 64 {
		return nil, fmt.Errorf("ts: malformed handshake step 2")
	}
	resp := &handshake.ClientResponse{}
	copy(resp.Nonce[:], step2.Data[:32])
	resp.MAC = append([]byte{}, step2.Data[32:]...)

	confirm, err := handshake.VerifyClientAndConfirm(c.handshakeKey, hello, resp)
	if err != nil {
		conn.Send(&protocol.Message{Type: protocol.TypeAbort})
		return nil, err
	}
	if err := conn.Send(&protocol.Message{Type: protocol.TypeHandshake3, Data: confirm.MAC}); err != nil {
		return nil, fmt.Errorf("ts: handshake step 3 send failed: %w", err)
	}

	regMsg, err := conn.Receive()
	if err != nil {
		return nil, fmt.Errorf("ts: register read failed: %w", err)
	}
	if regMsg.Type != protocol.TypeRegister {
		return nil, fmt.Errorf("ts: expected REGISTER, got %s", regMsg.Type)
	}
	var reg protocol.RegisterPayload
	if err := protocol.DecodePayload(regMsg.Data, &reg); err != nil {
		return nil, err
	}
	if reg.ID == "" {
		return nil, fmt.Errorf("ts: REGISTER with empty ID")
	}
	return &reg, nil
}

func (c *Coordinator) register(reg *protocol.RegisterPayload, conn *protocol.Conn) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	switch reg.Role {
	case party.RoleSK:
		pub, err := x509.ParsePKIXPublicKey(reg.PublicKey)
		if err != nil {
			return fmt.Errorf("sk %s: invalid public key: %w", reg.ID, err)
		}
		rsaPub, ok := pub.(*rsa.PublicKey)
		if !ok {
			return fmt.Errorf("sk %s: public key is not RSA", reg.ID)
		}
		c.skConns[reg.ID] = conn
		c.skPubKeys[reg.ID] = rsaPub
	case party.RoleDC:
		c.dcConns[reg.ID] = conn
	default:
		return fmt.Errorf("unknown role %q", reg.Role)
	}
	return nil
}

// maybeBroadcastConfig sends CONFIG to every registered connection the
// first time at least dc_threshold DCs and sk_threshold SKs have
// registered (spec.md §4.6): the TS does not know the SK set in
// advance, only the threshold count its static config names, so
// registration itself is the signal CONFIG is ready to go out.
func (c *Coordinator) maybeBroadcastConfig() error {
	c.mu.Lock()
	if c.configSent || len(c.dcConns) < c.round.DCThreshold || len(c.skConns) < c.round.SKThreshold {
		c.mu.Unlock()
		return nil
	}
	c.configSent = true

	pubKeys := make(map[party.ID][]byte, len(c.skPubKeys))
	for id, pub := range c.skPubKeys {
		der, err := x509.MarshalPKIXPublicKey(pub)
		if err != nil {
			c.mu.Unlock()
			return err
		}
		pubKeys[id] = der
	}
	dcs := make(party.IDSlice, 0, len(c.dcConns))
	conns := make([]*protocol.Conn, 0, len(c.dcConns)+len(c.skConns))
	for id, conn := range c.dcConns {
		dcs = append(dcs, id)
		conns = append(conns, conn)
	}
	sks := make(party.IDSlice, 0, len(c.skConns))
	for id, conn := range c.skConns {
		sks = append(sks, id)
		conns = append(conns, conn)
	}
	c.mu.Unlock()

	payload := protocol.ConfigPayload{Round: c.round, DCs: dcs.Sorted(), SKs: sks.Sorted(), SKPublicKeys: pubKeys}
	data, err := protocol.EncodePayload(payload)
	if err != nil {
		return err
	}
	msg := &protocol.Message{Type: protocol.TypeConfig, RoundID: c.round.RoundID, SSID: c.fsm.SSID(), Data: data}
	for _, conn := range conns {
		if err := conn.Send(msg); err != nil {
			c.log.Warnf("send CONFIG to %s failed: %v", conn.RemoteAddr(), err)
		}
	}
	return c.fsm.EnterWaitingForThresholds()
}

func (c *Coordinator) dispatch(reg *protocol.RegisterPayload, msg *protocol.Message) {
	switch msg.Type {
	case protocol.TypePrepared:
		c.fsm.NotePrepared(reg.Role == party.RoleDC, string(reg.ID))
	case protocol.TypeEnvelope:
		c.relayEnvelope(msg)
	case protocol.TypeTally:
		if msg.From == "" {
			return // our own request echoed back; never sent by a DC unprompted
		}
		var payload share.Payload
		if err := protocol.DecodePayload(msg.Data, &payload); err != nil {
			c.log.Warnf("malformed TALLY from %s: %v", reg.ID, err)
			return
		}
		snap, err := share.FromPayload(c.q, payload)
		if err != nil {
			c.log.Warnf("malformed TALLY from %s: %v", reg.ID, err)
			return
		}
		c.mu.Lock()
		c.dcSnapshots[reg.ID] = snap
		c.mu.Unlock()
	case protocol.TypeShareReveal:
		if msg.From == "" {
			return
		}
		var payload share.Payload
		if err := protocol.DecodePayload(msg.Data, &payload); err != nil {
			c.log.Warnf("malformed SHARE_REVEAL from %s: %v", reg.ID, err)
			return
		}
		sum, err := share.FromPayload(c.q, payload)
		if err != nil {
			c.log.Warnf("malformed SHARE_REVEAL from %s: %v", reg.ID, err)
			return
		}
		c.mu.Lock()
		c.skSums[reg.ID] = sum
		c.mu.Unlock()
	case protocol.TypeAbort:
		c.fsm.Abort()
	}
}

// relayEnvelope forwards a DC's sealed share envelope to the addressed
// SK's connection: DCs and SKs never dial each other directly, only
// the TS (spec.md §6's star topology), so the TS relays ENVELOPE
// messages unmodified by their To field.
func (c *Coordinator) relayEnvelope(msg *protocol.Message) {
	c.mu.Lock()
	conn, ok := c.skConns[msg.To]
	c.mu.Unlock()
	if !ok {
		c.log.Warnf("ENVELOPE from %s addressed to unknown sk %s", msg.From, msg.To)
		return
	}
	if err := conn.Send(msg); err != nil {
		c.log.Warnf("relay ENVELOPE to %s failed: %v", msg.To, err)
	}
}

// Drive runs the round to completion: it waits for CONFIG to be
// broadcast and thresholds met, starts the round, lets collect_period
// elapse, requests every DC snapshot and SK reveal, aggregates, and
// publishes the outcome. It returns once the round reaches IDLE or ctx
// is canceled.
func (c *Coordinator) Drive(ctx context.Context) error {
	if err := c.waitUntil(ctx, func() bool { return c.fsm.Phase() == PhaseWaitingForThresholds }); err != nil {
		return err
	}
	if err := c.waitUntil(ctx, c.fsm.ThresholdsMet); err != nil {
		return err
	}
	if err := c.fsm.Start(); err != nil {
		return err
	}
	c.broadcastEmpty(protocol.TypeStart)
	c.log.Infof("round started: collecting for %s", c.round.Periods.CollectPeriod)
	startedAt := time.Now()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(c.round.Periods.CollectPeriod):
	}

	if err := c.fsm.Sum(); err != nil {
		return err
	}
	c.requestReveals()
	deadline := c.round.Periods.GracePeriod
	if deadline <= 0 {
		deadline = 30 * time.Second
	}
	revealCtx, cancel := context.WithTimeout(ctx, deadline)
	defer cancel()
	if err := c.waitUntil(revealCtx, c.revealsComplete); err != nil {
		c.log.Warnf("proceeding to aggregate without every reveal: %v", err)
	}

	c.mu.Lock()
	dcSnapshots := make(map[party.ID]map[string][]field.Elem, len(c.dcSnapshots))
	for id, v := range c.dcSnapshots {
		dcSnapshots[id] = v
	}
	skSums := make(map[party.ID]map[string][]field.Elem, len(c.skSums))
	for id, v := range c.skSums {
		skSums[id] = v
	}
	participants := make(party.IDSlice, 0, len(c.dcConns)+len(c.skConns))
	for id := range c.dcConns {
		participants = append(participants, id)
	}
	for id := range c.skConns {
		participants = append(participants, id)
	}
	c.mu.Unlock()

	totals := Aggregate(c.q, c.defs, dcSnapshots, skSums)
	if err := c.fsm.Publish(); err != nil {
		return err
	}
	outcome, err := BuildOutcomes(c.round.RoundID, startedAt, time.Now(), participants.Sorted(), c.defs, totals)
	if err != nil {
		return err
	}
	if err := c.store.SaveOutcome(ctx, outcome); err != nil {
		return fmt.Errorf("ts: persist outcome failed: %w", err)
	}
	data, err := outcomes.Encode(outcome)
	if err != nil {
		return fmt.Errorf("ts: encode outcome failed: %w", err)
	}
	c.broadcastData(protocol.TypeOutcome, data)
	if !outcome.Context.Valid {
		c.log.Errorf("round outcome invalid: %s", outcome.Context.InvalidityCause)
	}
	return c.fsm.Finish()
}

func (c *Coordinator) revealsComplete() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.dcSnapshots) >= len(c.dcConns) && len(c.skSums) >= len(c.skConns)
}

// requestReveals broadcasts the TALLY/SHARE_REVEAL requests (empty
// Data, From empty) that tell every DC to snapshot and every SK to
// reveal its accumulated sum.
func (c *Coordinator) requestReveals() {
	c.mu.Lock()
	dcConns := make([]*protocol.Conn, 0, len(c.dcConns))
	for _, conn := range c.dcConns {
		dcConns = append(dcConns, conn)
	}
	skConns := make([]*protocol.Conn, 0, len(c.skConns))
	for _, conn := range c.skConns {
		skConns = append(skConns, conn)
	}
	c.mu.Unlock()

	for _, conn := range dcConns {
		if err := conn.Send(&protocol.Message{Type: protocol.TypeTally, RoundID: c.round.RoundID, SSID: c.fsm.SSID()}); err != nil {
			c.log.Warnf("request TALLY failed: %v", err)
		}
	}
	for _, conn := range skConns {
		if err := conn.Send(&protocol.Message{Type: protocol.TypeShareReveal, RoundID: c.round.RoundID, SSID: c.fsm.SSID()}); err != nil {
			c.log.Warnf("request SHARE_REVEAL failed: %v", err)
		}
	}
}

func (c *Coordinator) broadcastEmpty(t protocol.Type) {
	c.broadcastData(t, nil)
}

func (c *Coordinator) broadcastData(t protocol.Type, data []byte) {
	c.mu.Lock()
	conns := make([]*protocol.Conn, 0, len(c.dcConns)+len(c.skConns))
	for _, conn := range c.dcConns {
		conns = append(conns, conn)
	}
	for _, conn := range c.skConns {
		conns = append(conns, conn)
	}
	c.mu.Unlock()

	msg := &protocol.Message{Type: t, RoundID: c.round.RoundID, SSID: c.fsm.SSID(), Data: data}
	for _, conn := range conns {
		if err := conn.Send(msg); err != nil {
			c.log.Warnf("broadcast %s failed: %v", t, err)
		}
	}
}

func (c *Coordinator) waitUntil(ctx context.Context, cond func() bool) error {
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()
	if cond() {
		return nil
	}
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if cond() {
				return nil
			}
		}
	}
}
