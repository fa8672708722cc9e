// Package feed accepts instruction frames from the attestation authority
// over QUIC. Each bidirectional stream carries one length-prefixed
// instruction and receives one result frame back. Frames are deduplicated
// by hash before dispatch; everything else is the registry's decision.
package feed

import (
	"context"
	"crypto/ed25519"
	"crypto/tls"
	"encoding/hex"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/quic-go/quic-go"

	"Oraculum/internal/logger"
	"Oraculum/internal/registry"
)

// alpnProtocol is the ALPN protocol identifier.
const alpnProtocol = "oraculum/1"

// Config holds the configuration for a Feed.
type Config struct {
	PrivateKey ed25519.PrivateKey // PrivateKey is the node's ed25519 identity key
	ListenAddr string             // ListenAddr is the address to listen on (e.g., ":9000")
}

// Feed is the QUIC listener that ingests instruction frames.
type Feed struct {
	svc        *registry.Service // svc applies instructions with per-entity serialization
	listenAddr string            // listenAddr is the address to listen on
	tlsConfig  *tls.Config       // tlsConfig is the TLS configuration
	quicConfig *quic.Config      // quicConfig is the QUIC configuration

	listener *quic.Listener // listener is the QUIC listener
	dedup    *Dedup         // dedup drops byte-identical frames

	ctx    context.Context    // ctx is the feed's context
	cancel context.CancelFunc // cancel cancels the feed's context
	wg     sync.WaitGroup     // wg waits for goroutines to finish
}

// New creates a feed serving the given registry service.
func New(cfg Config, svc *registry.Service) (*Feed, error) {
	if cfg.PrivateKey == nil {
		return nil, fmt.Errorf("private key is required")
	}

	if cfg.ListenAddr == "" {
		return nil, fmt.Errorf("listen address is required")
	}

	cert, err := generateCertificate(cfg.PrivateKey)
	if err != nil {
		return nil, fmt.Errorf("generate certificate: %w", err)
	}

	tlsConfig := &tls.Config{
		Certificates:       []tls.Certificate{cert},
		ClientAuth:         tls.RequireAnyClientCert,
		InsecureSkipVerify: true, // Peer identity is logged, not trusted; attestations carry their own signature
		NextProtos:         []string{alpnProtocol},
	}

	quicConfig := &quic.Config{
		MaxIdleTimeout:  30 * time.Second,
		KeepAlivePeriod: 10 * time.Second,
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &Feed{
		svc:        svc,
		listenAddr: cfg.ListenAddr,
		tlsConfig:  tlsConfig,
		quicConfig: quicConfig,
		dedup:      NewDedup(),
		ctx:        ctx,
		cancel:     cancel,
	}, nil
}

// Addr returns the listener's address. Returns empty string if not started.
func (f *Feed) Addr() string {
	if f.listener == nil {
		return ""
	}

	return f.listener.Addr().String()
}

// Start begins accepting connections.
func (f *Feed) Start() error {
	listener, err := quic.ListenAddr(f.listenAddr, f.tlsConfig, f.quicConfig)
	if err != nil {
		return fmt.Errorf("listen: %w", err)
	}

	f.listener = listener

	f.wg.Add(1)
	go f.acceptLoop()

	logger.Info("attestation feed started", "addr", f.Addr())

	return nil
}

// Close stops the listener and waits for in-flight handlers.
func (f *Feed) Close() error {
	f.cancel()

	if f.listener != nil {
		f.listener.Close()
	}

	f.wg.Wait()
	f.dedup.Close()

	return nil
}

// acceptLoop accepts incoming connections until the feed is closed.
func (f *Feed) acceptLoop() {
	defer f.wg.Done()

	for {
		conn, err := f.listener.Accept(f.ctx)
		if err != nil {
			return
		}

		f.wg.Add(1)
		go f.handleConn(conn)
	}
}

// handleConn serves streams from one authority connection.
func (f *Feed) handleConn(conn *quic.Conn) {
	defer f.wg.Done()

	peer := "unknown"
	if pub, err := extractPublicKey(conn.ConnectionState().TLS); err == nil {
		peer = hex.EncodeToString(pub[:8])
	}

	log := logger.With("peer", peer)
	log.Debug("feed peer connected", "remote", conn.RemoteAddr())

	for {
		stream, err := conn.AcceptStream(f.ctx)
		if err != nil {
			log.Debug("feed peer disconnected", "error", err)
			return
		}

		f.wg.Add(1)
		go f.handleStream(stream, log)
	}
}

// handleStream reads one instruction frame and writes one result frame.
func (f *Feed) handleStream(stream *quic.Stream, log *slog.Logger) {
	defer f.wg.Done()
	defer stream.Close()

	stream.SetDeadline(time.Now().Add(10 * time.Second))

	data, err := ReadFrame(stream)
	if err != nil {
		log.Debug("feed frame read error", "error", err)
		return
	}

	if f.dedup.Seen(data) {
		log.Debug("feed frame deduplicated", "bytes", len(data))
		WriteFrame(stream, EncodeResult(StatusDuplicateFrame, nil))
		return
	}

	state, applyErr := f.svc.ApplyBytes(data)
	status := statusFor(applyErr)

	// Only outcomes a resubmission cannot change enter the filter. A frame
	// rejected because the entity or anchor did not exist yet must stay
	// retryable once it does.
	if status == StatusOK || status == StatusStale {
		f.dedup.Record(data)
	}

	if applyErr != nil {
		log.Debug("feed instruction rejected", "status", status)
	}

	if err := WriteFrame(stream, EncodeResult(status, state)); err != nil {
		log.Debug("feed result write error", "error", err)
	}
}
