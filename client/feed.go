package client

import (
	"context"
	"crypto/ed25519"
	"fmt"

	"Oraculum/internal/feed"
	"Oraculum/internal/record"
	"Oraculum/internal/registry"
)

// FeedConn submits instructions over the QUIC attestation feed instead of
// HTTP. It is the low-latency path an authority uses to stream updates.
type FeedConn struct {
	conn *feed.Conn // conn is the feed protocol connection
}

// DialFeed connects to a node's attestation feed.
func DialFeed(ctx context.Context, addr string, identity ed25519.PrivateKey) (*FeedConn, error) {
	conn, err := feed.Dial(ctx, addr, identity)
	if err != nil {
		return nil, fmt.Errorf("dial feed:\n%w", err)
	}

	return &FeedConn{conn: conn}, nil
}

// InitTrustAnchor registers the authority public key over the feed.
func (f *FeedConn) InitTrustAnchor(ctx context.Context, authorityKey [record.KeySize]byte) error {
	ins := registry.Instruction{
		Kind:         registry.KindInitTrustAnchor,
		AuthorityKey: authorityKey,
	}

	_, err := f.conn.Submit(ctx, ins.Encode())
	if err != nil {
		return fmt.Errorf("init trust anchor:\n%w", err)
	}

	return nil
}

// InitEntity registers a new entity over the feed.
func (f *FeedConn) InitEntity(ctx context.Context, ref [record.RefSize]byte) (EntityInfo, error) {
	ins := registry.Instruction{
		Kind:      registry.KindInitEntity,
		EntityRef: ref,
	}

	state, err := f.conn.Submit(ctx, ins.Encode())
	if err != nil {
		return EntityInfo{}, fmt.Errorf("init entity:\n%w", err)
	}

	return entityInfoFromState(state), nil
}

// UpdateEntity submits a signed attestation over the feed.
func (f *FeedConn) UpdateEntity(ctx context.Context, ref [record.RefSize]byte, attestation record.Attestation) (EntityInfo, error) {
	ins := registry.Instruction{
		Kind:        registry.KindUpdateEntity,
		EntityRef:   ref,
		Attestation: attestation.Encode(),
	}

	state, err := f.conn.Submit(ctx, ins.Encode())
	if err != nil {
		return EntityInfo{}, fmt.Errorf("update entity:\n%w", err)
	}

	return entityInfoFromState(state), nil
}

// Close shuts down the feed connection.
func (f *FeedConn) Close() error {
	return f.conn.Close()
}

func entityInfoFromState(state *record.EntityState) EntityInfo {
	if state == nil {
		return EntityInfo{}
	}

	return EntityInfo{
		Ref:              state.EntityRef,
		LastValue:        state.LastValue,
		LastTimestamp:    state.LastTimestamp,
		AccumulatedScore: state.AccumulatedScore,
	}
}
