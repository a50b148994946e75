// Package storagenode implements a storage node: it joins a coordinator, keeps file
// replicas in a local folder and exchanges file bytes with clients and peer nodes.
//
// A node holds two kinds of connection. The coordinator session carries LIST, REMOVE
// and REBALANCE requests and the node's STORE_ACK, REMOVE_ACK and REBALANCE_COMPLETE
// replies. Every other connection is accepted on the node's own port and carries one
// transfer: STORE or REBALANCE_STORE uploads, or a LOAD_DATA download.
package storagenode

import (
	"context"
	"errors"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/hyp3rd/ewrap"
	"github.com/rs/zerolog"

	"github.com/hyp3rd/hyperstore/internal/constants"
	"github.com/hyp3rd/hyperstore/internal/protocol"
	"github.com/hyp3rd/hyperstore/internal/sentinel"
	"github.com/hyp3rd/hyperstore/internal/session"
)

// Option configures a Node.
type Option func(*Node)

// WithListenAddr sets the address the node accepts transfers on. Its port is the
// node identity; ":0" picks a free one.
func WithListenAddr(addr string) Option {
	return func(n *Node) {
		if addr != "" {
			n.listenAddr = addr
		}
	}
}

// WithCoordinator sets the coordinator address.
func WithCoordinator(addr string) Option {
	return func(n *Node) {
		if addr != "" {
			n.coordAddr = addr
		}
	}
}

// WithDir sets the storage folder. It is emptied on Start.
func WithDir(dir string) Option {
	return func(n *Node) {
		if dir != "" {
			n.disk.dir = dir
		}
	}
}

// WithTimeout bounds dials and the join handshake.
func WithTimeout(d time.Duration) Option {
	return func(n *Node) {
		if d > 0 {
			n.timeout = d
		}
	}
}

// WithTransferTimeout bounds a single file transfer.
func WithTransferTimeout(d time.Duration) Option {
	return func(n *Node) {
		if d > 0 {
			n.transferTimeout = d
		}
	}
}

// WithTransferWorkers sets how many rebalance sends run at once.
func WithTransferWorkers(workers int) Option {
	return func(n *Node) {
		if workers > 0 {
			n.workers = workers
		}
	}
}

// WithPeerHost sets the host peer nodes are dialed on.
func WithPeerHost(host string) Option {
	return func(n *Node) {
		if host != "" {
			n.peerHost = host
		}
	}
}

// WithLogger sets the structured logger.
func WithLogger(l zerolog.Logger) Option {
	return func(n *Node) { n.log = l }
}

// Node is a storage node.
type Node struct {
	listenAddr      string
	coordAddr       string
	peerHost        string
	timeout         time.Duration
	transferTimeout time.Duration
	workers         int
	log             zerolog.Logger
	disk            disk

	port  int
	ln    net.Listener
	coord *session.Session

	connMu sync.Mutex
	conns  map[net.Conn]struct{}

	wg       sync.WaitGroup
	stopOnce sync.Once
	stopCh   chan struct{}
	done     chan struct{}
}

// New builds a node. Nothing touches the disk or the network until Start.
func New(opts ...Option) *Node {
	n := &Node{
		listenAddr:      "127.0.0.1:0",
		coordAddr:       constants.DefaultListenAddr,
		peerHost:        constants.DefaultNodeHost,
		timeout:         constants.DefaultDialTimeout,
		transferTimeout: constants.DefaultTransferTimeout,
		workers:         constants.DefaultTransferWorkers,
		log:             zerolog.Nop(),
		disk:            disk{dir: constants.DefaultStorageDir},
		conns:           map[net.Conn]struct{}{},
		stopCh:          make(chan struct{}),
		done:            make(chan struct{}),
	}

	for _, opt := range opts {
		opt(n)
	}

	return n
}

// Port returns the node identity, zero before Start.
func (n *Node) Port() int { return n.port }

// Dir returns the storage folder.
func (n *Node) Dir() string { return n.disk.dir }

// Files lists the complete files on disk.
func (n *Node) Files() ([]string, error) { return n.disk.list() }

// Done is closed once the coordinator session ended, by Stop or by the coordinator.
func (n *Node) Done() <-chan struct{} { return n.done }

// Start empties the storage folder, binds the transfer listener and joins the
// coordinator. It returns once the coordinator answered JOIN_OK.
func (n *Node) Start(ctx context.Context) error {
	err := n.disk.reset()
	if err != nil {
		return err
	}

	lc := net.ListenConfig{}

	ln, err := lc.Listen(ctx, "tcp", n.listenAddr)
	if err != nil {
		return ewrap.Wrap(err, "node listen")
	}

	n.ln = ln
	n.port = ln.Addr().(*net.TCPAddr).Port
	n.log = n.log.With().Int("node", n.port).Logger()

	n.wg.Add(1)

	go n.acceptLoop()

	err = n.join(ctx)
	if err != nil {
		_ = n.Stop(context.Background())

		return err
	}

	n.wg.Add(1)

	go n.coordinatorLoop()

	n.log.Info().Str("dir", n.disk.dir).Str("coordinator", n.coordAddr).Msg("storage node joined")

	return nil
}

// join sends JOIN and waits for JOIN_OK. JOIN is held back by the coordinator while a
// rebalance runs, so the wait follows ctx rather than the dial timeout.
func (n *Node) join(ctx context.Context) error {
	d := net.Dialer{Timeout: n.timeout}

	conn, err := d.DialContext(ctx, "tcp", n.coordAddr)
	if err != nil {
		return ewrap.Wrap(err, "dial coordinator")
	}

	sess := session.New(conn)

	err = sess.Send(protocol.Join{Port: n.port})
	if err != nil {
		_ = sess.Close()

		return err
	}

	if deadline, ok := ctx.Deadline(); ok {
		_ = sess.SetReadDeadline(deadline)
	}

	msg, line, err := sess.Receive()
	if err != nil {
		_ = sess.Close()

		return ewrap.Wrap(sentinel.ErrDuplicateNode, "coordinator closed the join: "+err.Error())
	}

	if _, ok := msg.(protocol.JoinOK); !ok {
		_ = sess.Close()

		return ewrap.Wrap(sentinel.ErrMalformedCommand, "unexpected join reply "+line)
	}

	_ = sess.SetReadDeadline(time.Time{})
	n.coord = sess

	return nil
}

// Stop leaves the coordinator, closes every connection and waits for the node
// goroutines until ctx is done.
func (n *Node) Stop(ctx context.Context) error {
	n.stopOnce.Do(func() {
		close(n.stopCh)

		if n.ln != nil {
			_ = n.ln.Close()
		}

		if n.coord != nil {
			_ = n.coord.Close()
		}

		n.connMu.Lock()
		for c := range n.conns {
			_ = c.Close()
		}
		n.connMu.Unlock()
	})

	finished := make(chan struct{})

	go func() {
		n.wg.Wait()
		close(finished)
	}()

	select {
	case <-finished:
		return nil
	case <-ctx.Done():
		return sentinel.ErrTimeoutOrCanceled
	}
}

// stopped reports whether Stop was called.
func (n *Node) stopped() bool {
	select {
	case <-n.stopCh:
		return true
	default:
		return false
	}
}

// coordinatorLoop serves requests from the coordinator until the session ends.
func (n *Node) coordinatorLoop() {
	defer n.wg.Done()
	defer close(n.done)

	for {
		msg, line, err := n.coord.Receive()
		if err != nil {
			if !isProtocolErr(err) {
				if !n.stopped() {
					n.log.Warn().Err(err).Msg("coordinator session lost")
				}

				return
			}

			n.log.Warn().Err(err).Str("line", line).Msg("malformed coordinator message")

			continue
		}

		switch m := msg.(type) {
		case protocol.List:
			n.handleList()
		case protocol.Remove:
			n.handleRemove(m.File)
		case protocol.Rebalance:
			// Runs concurrently so LIST and REMOVE keep flowing while transfers run.
			n.wg.Add(1)

			go func() {
				defer n.wg.Done()

				n.handleRebalance(m)
			}()
		default:
			n.log.Warn().Str("line", line).Msg("unexpected coordinator message")
		}
	}
}

func (n *Node) handleList() {
	files, err := n.disk.list()
	if err != nil {
		n.log.Error().Err(err).Msg("list failed")

		return
	}

	n.reply(protocol.List{Files: files})
}

func (n *Node) handleRemove(file string) {
	err := n.disk.remove(file)

	switch {
	case err == nil:
		n.reply(protocol.RemoveAck{File: file})
	case errors.Is(err, sentinel.ErrNotFound):
		n.reply(protocol.Error{Code: protocol.TokenErrFileDoesNotExist, File: file})
	default:
		n.log.Error().Err(err).Str("file", file).Msg("remove failed")
	}
}

// handleRebalance runs every send before any remove, then reports completion.
func (n *Node) handleRebalance(m protocol.Rebalance) {
	start := time.Now()
	pool := NewWorkerPool(n.workers)

	for _, tr := range m.Sends {
		for _, dest := range tr.Dests {
			pool.Enqueue(func() error { return n.sendTo(tr.File, dest) })
		}
	}

	failed := pool.Wait()
	for _, err := range failed {
		n.log.Warn().Err(err).Msg("rebalance send failed")
	}

	for _, file := range m.Removes {
		err := n.disk.remove(file)
		if err != nil && !errors.Is(err, sentinel.ErrNotFound) {
			n.log.Warn().Err(err).Str("file", file).Msg("rebalance remove failed")
		}
	}

	n.log.Debug().Int("sends", len(m.Sends)).Int("removes", len(m.Removes)).Int("failed", len(failed)).
		Dur("took", time.Since(start)).Msg("rebalance executed")

	n.reply(protocol.RebalanceComplete{})
}

func (n *Node) reply(msg protocol.Message) {
	err := n.coord.Send(msg)
	if err != nil && !n.stopped() {
		n.log.Warn().Err(err).Str("token", msg.Token()).Msg("reply to coordinator failed")
	}
}

func (n *Node) peerAddr(port int) string {
	return net.JoinHostPort(n.peerHost, strconv.Itoa(port))
}

func isProtocolErr(err error) bool {
	return errors.Is(err, sentinel.ErrMalformedCommand) || errors.Is(err, sentinel.ErrUnknownCommand)
}
