package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"Oraculum/internal/api"
	"Oraculum/internal/attest"
	"Oraculum/internal/feed"
	"Oraculum/internal/logger"
	"Oraculum/internal/policy"
	"Oraculum/internal/registry"
	"Oraculum/internal/storage"
)

// Node wires storage, registry, and the two entry surfaces together.
type Node struct {
	cfg     *Config
	storage *storage.Storage
	service *registry.Service
	feed    *feed.Feed
	api     *api.Server
}

// NewNode creates and initializes a new node.
func NewNode(cfg *Config) (*Node, error) {
	n := &Node{cfg: cfg}

	if err := n.initStorage(); err != nil {
		return nil, err
	}

	if err := n.initRegistry(); err != nil {
		return nil, err
	}

	if err := n.initFeed(); err != nil {
		return nil, err
	}

	n.api = api.New(cfg.HTTPAddress, n.service)

	return n, nil
}

// initStorage opens the persistent store.
func (n *Node) initStorage() error {
	if err := os.MkdirAll(n.cfg.DataPath, 0755); err != nil {
		return fmt.Errorf("create data dir:\n%w", err)
	}

	db, err := storage.New(n.cfg.DataPath)
	if err != nil {
		return fmt.Errorf("open storage:\n%w", err)
	}

	n.storage = db

	return nil
}

// initRegistry builds the verification engine and the serializing service.
func (n *Node) initRegistry() error {
	scheme, err := attest.ParseScheme(n.cfg.Scheme)
	if err != nil {
		return fmt.Errorf("parse scheme:\n%w", err)
	}

	engine, err := attest.NewEngine(scheme)
	if err != nil {
		return fmt.Errorf("create engine:\n%w", err)
	}

	reg := registry.New(n.storage, engine, policy.DefaultTiers())
	n.service = registry.NewService(reg)

	count, err := reg.EntityCount()
	if err != nil {
		return fmt.Errorf("count entities:\n%w", err)
	}

	logger.Info("registry loaded", "entities", count, "scheme", scheme)

	return nil
}

// initFeed creates the QUIC attestation feed.
func (n *Node) initFeed() error {
	f, err := feed.New(feed.Config{
		PrivateKey: n.cfg.PrivateKey,
		ListenAddr: n.cfg.FeedAddress,
	}, n.service)
	if err != nil {
		return fmt.Errorf("create feed:\n%w", err)
	}

	n.feed = f

	return nil
}

// Run starts all services and blocks until a shutdown signal.
func (n *Node) Run() error {
	if err := n.feed.Start(); err != nil {
		return fmt.Errorf("start feed:\n%w", err)
	}

	if err := n.api.Start(); err != nil {
		return fmt.Errorf("start api:\n%w", err)
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh

	logger.Info("shutting down", "signal", sig.String())

	return n.shutdown()
}

// shutdown stops services in reverse start order and syncs storage last.
func (n *Node) shutdown() error {
	if err := n.api.Stop(); err != nil {
		logger.Error("api shutdown error", "error", err)
	}

	if err := n.feed.Close(); err != nil {
		logger.Error("feed shutdown error", "error", err)
	}

	if err := n.storage.Close(); err != nil {
		return fmt.Errorf("close storage:\n%w", err)
	}

	logger.Info("node stopped")

	return nil
}
