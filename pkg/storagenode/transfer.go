package storagenode

import (
	"context"
	"errors"
	"io"
	"net"
	"time"

	"github.com/hyp3rd/ewrap"

	"github.com/hyp3rd/hyperstore/internal/protocol"
	"github.com/hyp3rd/hyperstore/internal/sentinel"
	"github.com/hyp3rd/hyperstore/internal/session"
)

// acceptLoop serves one transfer per accepted connection.
func (n *Node) acceptLoop() {
	defer n.wg.Done()

	for {
		conn, err := n.ln.Accept()
		if err != nil {
			if !n.stopped() && !errors.Is(err, net.ErrClosed) {
				n.log.Error().Err(err).Msg("accept failed")
			}

			return
		}

		n.connMu.Lock()
		n.conns[conn] = struct{}{}
		n.connMu.Unlock()

		n.wg.Add(1)

		go func() {
			defer n.wg.Done()

			n.serveTransfer(conn)

			n.connMu.Lock()
			delete(n.conns, conn)
			n.connMu.Unlock()
		}()
	}
}

// serveTransfer handles a single STORE, REBALANCE_STORE or LOAD_DATA request and
// closes the connection.
func (n *Node) serveTransfer(conn net.Conn) {
	sess := session.New(conn)
	defer func() { _ = sess.Close() }()

	_ = conn.SetDeadline(time.Now().Add(n.transferTimeout))

	msg, line, err := sess.Receive()
	if err != nil {
		if line != "" {
			n.log.Warn().Err(err).Str("line", line).Msg("malformed transfer request")
		}

		return
	}

	switch m := msg.(type) {
	case protocol.Store:
		if n.receive(sess, m.File, m.Size) {
			// Only client uploads count towards the store quorum.
			n.reply(protocol.StoreAck{File: m.File})
		}
	case protocol.RebalanceStore:
		n.receive(sess, m.File, m.Size)
	case protocol.LoadData:
		n.serveLoad(sess, m.File)
	default:
		n.log.Warn().Str("line", line).Msg("unexpected transfer request")
	}
}

// receive sends ACK, then persists exactly size bytes.
func (n *Node) receive(sess *session.Session, file string, size int64) bool {
	_, err := n.disk.path(file)
	if err != nil {
		n.log.Warn().Err(err).Msg("upload refused")

		return false
	}

	err = sess.Send(protocol.Ack{})
	if err != nil {
		return false
	}

	err = n.disk.write(file, size, sess.Reader())
	if err != nil {
		n.log.Warn().Err(err).Str("file", file).Msg("upload failed")

		return false
	}

	n.log.Debug().Str("file", file).Int64("size", size).Msg("file stored")

	return true
}

// serveLoad streams the file bytes. A missing file closes the connection with nothing
// written, which the client treats as a failed load and reloads from elsewhere.
func (n *Node) serveLoad(sess *session.Session, file string) {
	f, _, err := n.disk.open(file)
	if err != nil {
		n.log.Debug().Err(err).Str("file", file).Msg("load refused")

		return
	}

	defer func() { _ = f.Close() }()

	_, err = io.Copy(sess.Writer(), f)
	if err != nil {
		n.log.Warn().Err(err).Str("file", file).Msg("load failed")
	}
}

// sendTo pushes a local replica to the peer listening on port.
func (n *Node) sendTo(file string, port int) error {
	f, size, err := n.disk.open(file)
	if err != nil {
		return err
	}

	defer func() { _ = f.Close() }()

	ctx, cancel := context.WithTimeout(context.Background(), n.timeout)
	defer cancel()

	d := net.Dialer{}

	conn, err := d.DialContext(ctx, "tcp", n.peerAddr(port))
	if err != nil {
		return ewrap.Wrapf(err, "dial peer %d", port)
	}

	sess := session.New(conn)
	defer func() { _ = sess.Close() }()

	_ = conn.SetDeadline(time.Now().Add(n.transferTimeout))

	err = sess.Send(protocol.RebalanceStore{File: file, Size: size})
	if err != nil {
		return err
	}

	msg, line, err := sess.Receive()
	if err != nil {
		return ewrap.Wrapf(err, "peer %d refused %s", port, file)
	}

	if _, ok := msg.(protocol.Ack); !ok {
		return ewrap.Wrapf(sentinel.ErrMalformedCommand, "peer %d replied %q", port, line)
	}

	_, err = io.CopyN(sess.Writer(), f, size)
	if err != nil {
		return ewrap.Wrapf(err, "send %s to %d", file, port)
	}

	err = sess.Finish()
	if err != nil {
		return ewrap.Wrapf(err, "peer %d did not commit %s", port, file)
	}

	n.log.Debug().Str("file", file).Int("dest", port).Msg("replica sent")

	return nil
}

