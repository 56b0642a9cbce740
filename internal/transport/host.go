package transport

import (
	"context"
	"crypto/rand"
	"os"
	"sync"
	"time"

	"github.com/libp2p/go-libp2p"
	pubsub "github.com/libp2p/go-libp2p-pubsub"
	"github.com/libp2p/go-libp2p/core/crypto"
	"github.com/libp2p/go-libp2p/core/host"
	"github.com/libp2p/go-libp2p/core/network"
	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/multiformats/go-multiaddr"
	"github.com/pkg/errors"
	"go.uber.org/zap"
)

// Config holds libp2p host configuration
type Config struct {
	ListenAddrs    []string `yaml:"listenAddrs"`
	BootstrapPeers []string `yaml:"bootstrapPeers"`
	// IdentityFile holds the host's private key. It is created on first
	// start; empty means a fresh identity every run.
	IdentityFile string `yaml:"identityFile"`
	// RequestTimeout bounds handling of one inbound request.
	RequestTimeout time.Duration `yaml:"requestTimeout"`

	PrivateKey crypto.PrivKey `yaml:"-"`
}

// DefaultConfig returns default host configuration
func DefaultConfig() *Config {
	return &Config{
		ListenAddrs:    []string{"/ip4/0.0.0.0/tcp/9400"},
		RequestTimeout: 30 * time.Second,
	}
}

// PeerInfo holds information about a connected peer
type PeerInfo struct {
	ID          peer.ID
	Addrs       []multiaddr.Multiaddr
	ConnectedAt time.Time
}

// Host is a libp2p host with gossipsub, shared by the mint server, its
// clients and the spent proof announcer.
type Host struct {
	mu    sync.RWMutex
	peers map[peer.ID]*PeerInfo

	host   host.Host
	pubsub *pubsub.PubSub
	cfg    Config
	logger *zap.Logger

	ctx    context.Context
	cancel context.CancelFunc
}

// LoadIdentity reads a libp2p private key from path, generating and saving
// an Ed25519 key if the file does not exist.
func LoadIdentity(path string) (crypto.PrivKey, error) {
	raw, err := os.ReadFile(path)
	if err == nil {
		return crypto.UnmarshalPrivateKey(raw)
	}
	if !os.IsNotExist(err) {
		return nil, errors.Wrap(err, "read identity")
	}

	priv, _, err := crypto.GenerateKeyPairWithReader(crypto.Ed25519, -1, rand.Reader)
	if err != nil {
		return nil, errors.Wrap(err, "generate identity")
	}
	raw, err = crypto.MarshalPrivateKey(priv)
	if err != nil {
		return nil, err
	}
	if err := os.WriteFile(path, raw, 0o600); err != nil {
		return nil, errors.Wrap(err, "write identity")
	}
	return priv, nil
}

// NewHost starts a libp2p host.
func NewHost(ctx context.Context, cfg *Config, logger *zap.Logger) (*Host, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = DefaultConfig().RequestTimeout
	}

	privKey := cfg.PrivateKey
	if privKey == nil && cfg.IdentityFile != "" {
		var err error
		if privKey, err = LoadIdentity(cfg.IdentityFile); err != nil {
			return nil, err
		}
	}
	if privKey == nil {
		var err error
		privKey, _, err = crypto.GenerateKeyPairWithReader(crypto.Ed25519, -1, rand.Reader)
		if err != nil {
			return nil, errors.Wrap(err, "generate key")
		}
	}

	listenAddrs := make([]multiaddr.Multiaddr, len(cfg.ListenAddrs))
	for i, addr := range cfg.ListenAddrs {
		ma, err := multiaddr.NewMultiaddr(addr)
		if err != nil {
			return nil, errors.Wrapf(err, "listen address %q", addr)
		}
		listenAddrs[i] = ma
	}

	h, err := libp2p.New(
		libp2p.Identity(privKey),
		libp2p.ListenAddrs(listenAddrs...),
	)
	if err != nil {
		return nil, errors.Wrap(err, "create host")
	}

	hostCtx, cancel := context.WithCancel(ctx)
	ps, err := pubsub.NewGossipSub(hostCtx, h)
	if err != nil {
		cancel()
		h.Close()
		return nil, errors.Wrap(err, "create pubsub")
	}

	n := &Host{
		peers:  make(map[peer.ID]*PeerInfo),
		host:   h,
		pubsub: ps,
		cfg:    *cfg,
		logger: logger.With(zap.String("peer", h.ID().String())),
		ctx:    hostCtx,
		cancel: cancel,
	}

	h.Network().Notify(&network.NotifyBundle{
		ConnectedF:    n.onPeerConnected,
		DisconnectedF: n.onPeerDisconnected,
	})

	for _, addr := range cfg.BootstrapPeers {
		if _, err := n.Connect(hostCtx, addr); err != nil {
			n.logger.Warn("bootstrap peer unreachable", zap.String("addr", addr), zap.Error(err))
		}
	}

	n.logger.Info("host started", zap.Any("addrs", h.Addrs()))
	return n, nil
}

// Connect dials a peer given a full multiaddress ending in /p2p/<id>.
func (n *Host) Connect(ctx context.Context, addr string) (peer.ID, error) {
	ma, err := multiaddr.NewMultiaddr(addr)
	if err != nil {
		return "", errors.Wrapf(err, "address %q", addr)
	}
	info, err := peer.AddrInfoFromP2pAddr(ma)
	if err != nil {
		return "", errors.Wrapf(err, "address %q", addr)
	}

	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := n.host.Connect(ctx, *info); err != nil {
		return "", err
	}
	return info.ID, nil
}

func (n *Host) addPeer(id peer.ID, addrs []multiaddr.Multiaddr) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if _, ok := n.peers[id]; ok {
		return
	}
	n.peers[id] = &PeerInfo{ID: id, Addrs: addrs, ConnectedAt: time.Now()}
	peersGauge.Set(float64(len(n.peers)))
}

func (n *Host) onPeerConnected(_ network.Network, conn network.Conn) {
	n.addPeer(conn.RemotePeer(), []multiaddr.Multiaddr{conn.RemoteMultiaddr()})
}

func (n *Host) onPeerDisconnected(net network.Network, conn network.Conn) {
	id := conn.RemotePeer()
	// Other connections to the same peer may remain.
	if net.Connectedness(id) == network.Connected {
		return
	}
	n.mu.Lock()
	delete(n.peers, id)
	peersGauge.Set(float64(len(n.peers)))
	n.mu.Unlock()
}

// ID returns the host's peer ID
func (n *Host) ID() peer.ID {
	return n.host.ID()
}

// Addrs returns the host's dialable addresses, each ending in /p2p/<id>.
func (n *Host) Addrs() []string {
	self := peer.AddrInfo{ID: n.host.ID(), Addrs: n.host.Addrs()}
	mas, err := peer.AddrInfoToP2pAddrs(&self)
	if err != nil {
		return nil
	}
	out := make([]string, len(mas))
	for i, ma := range mas {
		out[i] = ma.String()
	}
	return out
}

// PeerCount returns the number of connected peers
func (n *Host) PeerCount() int {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return len(n.peers)
}

// Peers returns information about connected peers
func (n *Host) Peers() []*PeerInfo {
	n.mu.RLock()
	defer n.mu.RUnlock()
	out := make([]*PeerInfo, 0, len(n.peers))
	for _, p := range n.peers {
		out = append(out, p)
	}
	return out
}

// Close shuts down the host
func (n *Host) Close() error {
	n.cancel()
	return n.host.Close()
}
