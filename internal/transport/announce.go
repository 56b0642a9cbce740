package transport

import (
	"context"
	"sync"

	pubsub "github.com/libp2p/go-libp2p-pubsub"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/ccoin/dbc/pkg/dbc"
)

// SpentTopic carries spent proofs gossiped by mints after they log a spend.
const SpentTopic = "dbc/spent/1"

const announceQueue = 256

// SpentHandler receives spent proofs gossiped by other mints.
type SpentHandler func(ctx context.Context, proofs []*dbc.SpentProof)

// Announcer publishes this mint's spent proofs and delivers proofs from
// other mints to a handler. Announce never blocks; batches beyond the
// queue are dropped and counted.
type Announcer struct {
	host   *Host
	topic  *pubsub.Topic
	sub    *pubsub.Subscription
	queue  chan []*dbc.SpentProof
	logger *zap.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	once   sync.Once
}

// NewAnnouncer joins SpentTopic and starts the publish and receive loops.
// handler may be nil.
func NewAnnouncer(h *Host, handler SpentHandler, logger *zap.Logger) (*Announcer, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	topic, err := h.pubsub.Join(SpentTopic)
	if err != nil {
		return nil, errors.Wrap(err, "join spent topic")
	}
	sub, err := topic.Subscribe()
	if err != nil {
		topic.Close()
		return nil, errors.Wrap(err, "subscribe to spent topic")
	}

	ctx, cancel := context.WithCancel(h.ctx)
	a := &Announcer{
		ctx:    ctx,
		cancel: cancel,
		host:   h,
		topic:  topic,
		sub:    sub,
		queue:  make(chan []*dbc.SpentProof, announceQueue),
		logger: logger,
	}
	a.wg.Add(2)
	go a.publishLoop()
	go a.receiveLoop(handler)
	return a, nil
}

// Announce queues proofs for publication. It has the signature of
// mint.Mint.SetSpentHandler.
func (a *Announcer) Announce(proofs []*dbc.SpentProof) {
	select {
	case a.queue <- proofs:
	default:
		announceDropped.Inc()
	}
}

func (a *Announcer) publishLoop() {
	defer a.wg.Done()
	for {
		select {
		case <-a.ctx.Done():
			return
		case proofs := <-a.queue:
			if err := a.topic.Publish(a.ctx, encodeSpentBatch(proofs)); err != nil {
				a.logger.Warn("publish spent proofs", zap.Error(err))
				continue
			}
			announcedTotal.Add(float64(len(proofs)))
		}
	}
}

func (a *Announcer) receiveLoop(handler SpentHandler) {
	defer a.wg.Done()
	for {
		msg, err := a.sub.Next(a.ctx)
		if err != nil {
			if a.ctx.Err() != nil || errors.Is(err, pubsub.ErrSubscriptionCancelled) {
				return
			}
			continue
		}
		if msg.ReceivedFrom == a.host.ID() {
			continue
		}

		proofs, err := decodeSpentBatch(msg.Data)
		if err != nil {
			a.logger.Debug("bad spent gossip", zap.String("from", msg.ReceivedFrom.String()), zap.Error(err))
			continue
		}
		if handler != nil {
			handler(a.ctx, proofs)
		}
	}
}

// Close stops both loops and leaves the topic.
func (a *Announcer) Close() {
	a.once.Do(func() {
		a.cancel()
		a.sub.Cancel()
		a.wg.Wait()
		if err := a.topic.Close(); err != nil {
			a.logger.Debug("close spent topic", zap.Error(err))
		}
	})
}
