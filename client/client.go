// Package client provides a Go client for a node's HTTP API and a signing
// authority helper for producing attestations.
package client

import (
	"encoding/hex"
	"fmt"

	"Oraculum/internal/record"
)

// Client connects to a node via HTTP.
type Client struct {
	nodeAddr string // nodeAddr is the HTTP address (e.g. "127.0.0.1:8080")
}

// EntityInfo holds parsed entity state from the API.
type EntityInfo struct {
	Ref              [32]byte // Ref is the entity reference
	LastValue        uint64   // LastValue is the last accepted attested value
	LastTimestamp    int64    // LastTimestamp is the last accepted timestamp
	AccumulatedScore uint64   // AccumulatedScore is the running score
}

// StatusInfo holds node status information.
type StatusInfo struct {
	AnchorInitialized bool   // AnchorInitialized reports whether the trust anchor exists
	Entities          int    // Entities is the number of registered entities
	Scheme            string // Scheme is the signing scheme name
}

// NewClient creates a client connected to a node.
func NewClient(nodeAddr string) *Client {
	return &Client{nodeAddr: nodeAddr}
}

// Status fetches the node status.
func (c *Client) Status() (StatusInfo, error) {
	var raw struct {
		AnchorInitialized bool   `json:"anchorInitialized"`
		Entities          int    `json:"entities"`
		Scheme            string `json:"scheme"`
	}

	if err := httpGet(c.url("/status"), &raw); err != nil {
		return StatusInfo{}, fmt.Errorf("get status:\n%w", err)
	}

	return StatusInfo(raw), nil
}

// InitTrustAnchor registers the authority public key on the node.
func (c *Client) InitTrustAnchor(authorityKey [record.KeySize]byte) error {
	var result map[string]any

	body := map[string]string{
		"authorityKey": hex.EncodeToString(authorityKey[:]),
	}

	if err := httpPostJSON(c.url("/anchor"), body, &result); err != nil {
		return fmt.Errorf("init trust anchor:\n%w", err)
	}

	return nil
}

// InitEntity registers a new entity and returns its zeroed state.
func (c *Client) InitEntity(ref [record.RefSize]byte) (EntityInfo, error) {
	var raw entityJSON

	body := map[string]string{
		"ref": hex.EncodeToString(ref[:]),
	}

	if err := httpPostJSON(c.url("/entity"), body, &raw); err != nil {
		return EntityInfo{}, fmt.Errorf("init entity:\n%w", err)
	}

	return raw.parse()
}

// UpdateEntity submits a signed attestation for an entity and returns the
// updated state.
func (c *Client) UpdateEntity(ref [record.RefSize]byte, attestation record.Attestation) (EntityInfo, error) {
	var raw entityJSON

	body := map[string]string{
		"ref":         hex.EncodeToString(ref[:]),
		"attestation": hex.EncodeToString(attestation.Encode()),
	}

	if err := httpPostJSON(c.url("/entity/update"), body, &raw); err != nil {
		return EntityInfo{}, fmt.Errorf("update entity:\n%w", err)
	}

	return raw.parse()
}

// GetEntity fetches the current state of an entity.
func (c *Client) GetEntity(ref [record.RefSize]byte) (EntityInfo, error) {
	var raw entityJSON

	if err := httpGet(c.url("/entity/"+hex.EncodeToString(ref[:])), &raw); err != nil {
		return EntityInfo{}, fmt.Errorf("get entity:\n%w", err)
	}

	return raw.parse()
}

// ExportSnapshot downloads a compressed snapshot of the full registry.
func (c *Client) ExportSnapshot() ([]byte, error) {
	data, err := httpGetRaw(c.url("/snapshot"))
	if err != nil {
		return nil, fmt.Errorf("export snapshot:\n%w", err)
	}

	return data, nil
}

// ImportSnapshot uploads a snapshot and returns the imported entity count.
func (c *Client) ImportSnapshot(snapshot []byte) (int, error) {
	var result struct {
		Entities int `json:"entities"`
	}

	if err := httpPut(c.url("/snapshot"), snapshot, &result); err != nil {
		return 0, fmt.Errorf("import snapshot:\n%w", err)
	}

	return result.Entities, nil
}

func (c *Client) url(path string) string {
	return "http://" + c.nodeAddr + path
}

// entityJSON mirrors the API's entity view.
type entityJSON struct {
	Ref              string `json:"ref"`
	LastValue        uint64 `json:"lastValue"`
	LastTimestamp    int64  `json:"lastTimestamp"`
	AccumulatedScore uint64 `json:"accumulatedScore"`
}

func (e entityJSON) parse() (EntityInfo, error) {
	refBytes, err := hex.DecodeString(e.Ref)
	if err != nil || len(refBytes) != record.RefSize {
		return EntityInfo{}, fmt.Errorf("invalid ref: %q", e.Ref)
	}

	info := EntityInfo{
		LastValue:        e.LastValue,
		LastTimestamp:    e.LastTimestamp,
		AccumulatedScore: e.AccumulatedScore,
	}
	copy(info.Ref[:], refBytes)

	return info, nil
}
