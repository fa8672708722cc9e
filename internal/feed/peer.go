package feed

import (
	"context"
	"crypto/ed25519"
	"crypto/tls"
	"fmt"
	"time"

	"github.com/quic-go/quic-go"

	"Oraculum/internal/record"
)

// Conn is the submitting side of the feed protocol. Each Submit opens one
// bidirectional stream, writes one instruction frame, and reads one result
// frame back.
type Conn struct {
	conn *quic.Conn // conn is the underlying QUIC connection
}

// Dial connects to a feed listener, presenting a client certificate derived
// from the given identity key.
func Dial(ctx context.Context, addr string, privKey ed25519.PrivateKey) (*Conn, error) {
	if privKey == nil {
		return nil, fmt.Errorf("private key is required")
	}

	cert, err := generateCertificate(privKey)
	if err != nil {
		return nil, fmt.Errorf("generate certificate: %w", err)
	}

	tlsConfig := &tls.Config{
		Certificates:       []tls.Certificate{cert},
		InsecureSkipVerify: true, // Peer identity is logged, not trusted; attestations carry their own signature
		NextProtos:         []string{alpnProtocol},
	}

	quicConfig := &quic.Config{
		MaxIdleTimeout:  30 * time.Second,
		KeepAlivePeriod: 10 * time.Second,
	}

	conn, err := quic.DialAddr(ctx, addr, tlsConfig, quicConfig)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", addr, err)
	}

	return &Conn{conn: conn}, nil
}

// Submit sends one instruction frame and returns the decoded result.
// A non-OK status is reported as the error it maps to; the returned state is
// non-nil only when the instruction produced one.
func (c *Conn) Submit(ctx context.Context, instruction []byte) (*record.EntityState, error) {
	stream, err := c.conn.OpenStreamSync(ctx)
	if err != nil {
		return nil, fmt.Errorf("open stream: %w", err)
	}
	defer stream.Close()

	stream.SetDeadline(time.Now().Add(10 * time.Second))

	if err := WriteFrame(stream, instruction); err != nil {
		return nil, fmt.Errorf("write frame: %w", err)
	}

	resp, err := ReadFrame(stream)
	if err != nil {
		return nil, fmt.Errorf("read result: %w", err)
	}

	status, state, err := DecodeResult(resp)
	if err != nil {
		return nil, fmt.Errorf("decode result: %w", err)
	}

	if statusErr := status.Err(); statusErr != nil {
		return state, statusErr
	}

	return state, nil
}

// Close shuts down the connection.
func (c *Conn) Close() error {
	return c.conn.CloseWithError(0, "closed")
}
