// Package config parses the orchestrator process's environment into a typed Config, the same
// "struct tags plus one parser call" shape as the teacher's kasparovd/config.Config, but sourced
// entirely from the environment (§6) rather than CLI flags: this process is deployed one
// container per cluster node, with its identity and peers supplied by its orchestrating
// environment, not typed at a terminal.
package config

import (
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"

	"github.com/btcsuite/btcd/btcec/v2"
	flags "github.com/jessevdk/go-flags"
	"github.com/pkg/errors"

	"github.com/mpcwallet/orchestrator/types"
)

// Config is the orchestrator's full external configuration surface (§6).
type Config struct {
	NodeID      uint32 `long:"node-id" env:"NODE_ID" description:"this node's 1-based cluster identifier" required:"true"`
	ListenAddr  string `long:"listen-addr" env:"LISTEN_ADDR" description:"HTTP listen address" default:"0.0.0.0:8080"`
	PostgresURL string `long:"postgres-url" env:"POSTGRES_URL" description:"postgres DSN for the durable relational store" required:"true"`

	EtcdEndpoints string `long:"etcd-endpoints" env:"ETCD_ENDPOINTS" description:"comma-separated etcd endpoints" required:"true"`

	Threshold  int `long:"threshold" env:"THRESHOLD" description:"signing threshold t" required:"true"`
	TotalNodes int `long:"total-nodes" env:"TOTAL_NODES" description:"cluster size N" required:"true"`

	BitcoinNetwork string `long:"bitcoin-network" env:"BITCOIN_NETWORK" description:"mainnet, testnet, or regtest" default:"regtest"`

	EnableOrchestration bool `long:"enable-orchestration" env:"ENABLE_ORCHESTRATION" description:"run the DKG/presig/FSM background loops on this node"`

	NodeEndpoints string `long:"node-endpoints" env:"NODE_ENDPOINTS" description:"id=url;id=url;... peer directory"`

	QUICListenAddr string `long:"quic-listen-addr" env:"QUIC_LISTEN_ADDR" description:"transport listen address" default:"0.0.0.0"`
	QUICPort       int    `long:"quic-port" env:"QUIC_PORT" description:"transport listen port" default:"4433"`

	RegistryURL string `long:"registry-url" env:"REGISTRY_URL" description:"peer discovery registry endpoint"`

	BitcoinRPCEndpoint string `long:"bitcoin-rpc-endpoint" env:"BITCOIN_RPC_ENDPOINT" description:"bitcoind-compatible JSON-RPC endpoint used for broadcast and confirmation lookups" required:"true"`
	BitcoinRPCUser     string `long:"bitcoin-rpc-user" env:"BITCOIN_RPC_USER" description:"bitcoind RPC username"`
	BitcoinRPCPass     string `long:"bitcoin-rpc-pass" env:"BITCOIN_RPC_PASS" description:"bitcoind RPC password"`

	SigningKeyHex string `long:"signing-key" env:"NODE_SIGNING_KEY" description:"this node's hex-encoded secp256k1 private key, used to sign its own votes" required:"true"`
}

// Parse reads Config from the process environment, applying the same defaults-then-override
// idiom as kasparovd.Parse, and then validates it. Derived values (Self, Peers) are not stored;
// their methods compute them on each call.
func Parse() (*Config, error) {
	cfg := &Config{}
	parser := flags.NewParser(cfg, flags.Default&^flags.PrintErrors)
	// No positional arguments are expected; every setting arrives via the environment, so an
	// empty argument list is parsed purely to trigger go-flags' env-tag resolution and defaults.
	if _, err := parser.ParseArgs(nil); err != nil {
		return nil, errors.Wrap(err, "parsing configuration")
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if c.NodeID < 1 || c.NodeID > uint32(c.TotalNodes) {
		return errors.Errorf("NODE_ID %d out of range [1, %d]", c.NodeID, c.TotalNodes)
	}
	if c.Threshold < 2 || c.Threshold > c.TotalNodes {
		return errors.Errorf("THRESHOLD %d invalid for TOTAL_NODES %d", c.Threshold, c.TotalNodes)
	}
	switch c.BitcoinNetwork {
	case "mainnet", "testnet", "regtest":
	default:
		return errors.Errorf("BITCOIN_NETWORK %q must be mainnet, testnet, or regtest", c.BitcoinNetwork)
	}
	return nil
}

// Self returns this process's own NodeId.
func (c *Config) Self() types.NodeId {
	return types.NodeId(c.NodeID)
}

// SigningKey decodes NODE_SIGNING_KEY into the private key this node signs its own votes with
// (§4.6).
func (c *Config) SigningKey() (*btcec.PrivateKey, error) {
	raw, err := hex.DecodeString(strings.TrimSpace(c.SigningKeyHex))
	if err != nil {
		return nil, errors.Wrap(err, "decoding NODE_SIGNING_KEY")
	}
	priv, _ := btcec.PrivKeyFromBytes(raw)
	return priv, nil
}

// EtcdEndpointList splits ETCD_ENDPOINTS into the slice etcd's clientv3.Config expects.
func (c *Config) EtcdEndpointList() []string {
	return splitNonEmpty(c.EtcdEndpoints, ",")
}

// Peers resolves NODE_ENDPOINTS into the map vote.NewStaticDirectory wants, falling back to the
// §6-mandated default of one endpoint per node at http://mpc-node-<i>:8080 when unset.
func (c *Config) Peers() (map[types.NodeId]string, error) {
	peers := make(map[types.NodeId]string, c.TotalNodes)
	if strings.TrimSpace(c.NodeEndpoints) == "" {
		for i := 1; i <= c.TotalNodes; i++ {
			peers[types.NodeId(i)] = fmt.Sprintf("http://mpc-node-%d:8080", i)
		}
		return peers, nil
	}
	for _, entry := range splitNonEmpty(c.NodeEndpoints, ";") {
		idStr, url, ok := strings.Cut(entry, "=")
		if !ok {
			return nil, errors.Errorf("NODE_ENDPOINTS entry %q is not in id=url form", entry)
		}
		id, err := strconv.ParseUint(strings.TrimSpace(idStr), 10, 32)
		if err != nil {
			return nil, errors.Wrapf(err, "NODE_ENDPOINTS entry %q has a non-numeric id", entry)
		}
		peers[types.NodeId(id)] = strings.TrimSpace(url)
	}
	return peers, nil
}

func splitNonEmpty(s, sep string) []string {
	var out []string
	for _, part := range strings.Split(s, sep) {
		part = strings.TrimSpace(part)
		if part != "" {
			out = append(out, part)
		}
	}
	return out
}
