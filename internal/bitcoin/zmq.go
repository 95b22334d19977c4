package bitcoin

import (
	"context"
	"fmt"
	"time"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	zmq "github.com/pebbe/zmq4"

	"github.com/bardlex/gominer/pkg/log"
)

// TopicHashBlock is the bitcoind ZMQ topic announcing a new chain tip.
const TopicHashBlock = "hashblock"

const zmqPollInterval = 250 * time.Millisecond

// ZMQNotifier handles ZMQ notifications from bitcoind
type ZMQNotifier struct {
	socket   *zmq.Socket
	endpoint string
	logger   *log.Logger
}

// NewZMQNotifier creates a SUB socket subscribed to hashblock and connected to endpoint.
func NewZMQNotifier(endpoint string, logger *log.Logger) (*ZMQNotifier, error) {
	socket, err := zmq.NewSocket(zmq.SUB)
	if err != nil {
		return nil, fmt.Errorf("failed to create ZMQ socket: %w", err)
	}

	z := &ZMQNotifier{
		socket:   socket,
		endpoint: endpoint,
		logger:   logger.WithComponent("zmq"),
	}

	if err := socket.SetSubscribe(TopicHashBlock); err != nil {
		_ = socket.Close()
		return nil, fmt.Errorf("failed to subscribe to topic %s: %w", TopicHashBlock, err)
	}
	if err := socket.Connect(endpoint); err != nil {
		_ = socket.Close()
		return nil, fmt.Errorf("failed to connect to ZMQ endpoint %s: %w", endpoint, err)
	}
	z.logger.Info("connected to ZMQ endpoint", "endpoint", endpoint, "topic", TopicHashBlock)

	return z, nil
}

// Listen polls the socket until ctx is done and reports every new block hash.
func (z *ZMQNotifier) Listen(ctx context.Context, onBlock func(hash *chainhash.Hash)) error {
	poller := zmq.NewPoller()
	poller.Add(z.socket, zmq.POLLIN)

	for {
		if err := ctx.Err(); err != nil {
			z.logger.Info("ZMQ listener stopping")
			return err
		}

		polled, err := poller.Poll(zmqPollInterval)
		if err != nil {
			z.logger.WithError(err).Error("failed to poll ZMQ socket")
			continue
		}
		if len(polled) == 0 {
			continue
		}

		msg, err := z.socket.RecvMessageBytes(0)
		if err != nil {
			z.logger.WithError(err).Error("failed to receive ZMQ message")
			continue
		}

		hash, err := ParseNotification(msg)
		if err != nil {
			z.logger.WithError(err).Warn("ignoring ZMQ message")
			continue
		}
		if hash != nil {
			z.logger.Info("new block notification", "hash", hash.String())
			onBlock(hash)
		}
	}
}

// Close closes the ZMQ socket
func (z *ZMQNotifier) Close() error {
	if z.socket != nil {
		return z.socket.Close()
	}
	return nil
}

// ParseNotification decodes a multipart bitcoind message. It returns a nil
// hash for topics other than hashblock.
func ParseNotification(msg [][]byte) (*chainhash.Hash, error) {
	if len(msg) < 2 {
		return nil, fmt.Errorf("malformed ZMQ message with %d parts", len(msg))
	}

	if string(msg[0]) != TopicHashBlock {
		return nil, nil
	}

	data := msg[1]
	if len(data) != chainhash.HashSize {
		return nil, fmt.Errorf("invalid block hash length: %d", len(data))
	}

	// bitcoind publishes the hash in display order
	var hash chainhash.Hash
	for i := range data {
		hash[i] = data[len(data)-1-i]
	}
	return &hash, nil
}
