package coordinator

import (
	"context"
	"errors"
	"io"
	"net"
	"sync/atomic"

	"github.com/rs/zerolog"

	"github.com/hyp3rd/hyperstore/internal/cluster"
	"github.com/hyp3rd/hyperstore/internal/protocol"
	"github.com/hyp3rd/hyperstore/internal/sentinel"
	"github.com/hyp3rd/hyperstore/internal/session"
)

// handleSession serves one connection until it closes. A connection whose first
// accepted command is JOIN becomes a node session; any other is a client session.
func (c *Coordinator) handleSession(sess *session.Session, h Handler) {
	ctx, cancel := c.stopContext()
	defer cancel()

	log := c.log.With().Str("session", sess.ID()).Str("remote", sess.RemoteAddr()).Logger()

	var (
		node   cluster.NodeID
		isNode bool
	)

	defer func() {
		_ = sess.Close()

		if isNode {
			c.leave(node)
		} else {
			c.forgetClient(sess.ID())
		}
	}()

	for {
		msg, line, err := sess.Receive()
		if err != nil {
			if errors.Is(err, sentinel.ErrMalformedCommand) || errors.Is(err, sentinel.ErrUnknownCommand) {
				atomic.AddInt64(&c.metrics.malformedCommands, 1)
				log.Warn().Err(err).Str("line", line).Msg("bad command")

				if !isNode {
					_ = sess.Send(protocol.Error{Code: protocol.TokenErrMalformed})
				}

				continue
			}

			if !errors.Is(err, io.EOF) && !errors.Is(err, net.ErrClosed) {
				log.Debug().Err(err).Msg("session read failed")
			}

			return
		}

		if isNode {
			c.handleNodeMessage(node, msg, log)

			continue
		}

		if join, ok := msg.(protocol.Join); ok {
			id := cluster.NodeID(join.Port)

			err := c.join(ctx, id, sess)
			if err != nil {
				log.Warn().Err(err).Stringer("node", id).Msg("join refused")

				return
			}

			err = sess.Send(protocol.JoinOK{})
			if err != nil {
				c.leave(id)

				return
			}

			node, isNode = id, true

			continue
		}

		err = c.handleClientMessage(ctx, sess, h, msg)
		if err != nil {
			log.Debug().Err(err).Msg("client write failed")

			return
		}
	}
}

// handleNodeMessage routes a message arriving on a node session.
func (c *Coordinator) handleNodeMessage(id cluster.NodeID, msg protocol.Message, log zerolog.Logger) {
	switch m := msg.(type) {
	case protocol.StoreAck:
		c.storeAck(id, m.File)
	case protocol.RemoveAck:
		c.removeAck(id, m.File)
	case protocol.Error:
		// A node without the file answers REMOVE with ERROR_FILE_DOES_NOT_EXIST; it
		// holds no copy, which is what the remove waits for.
		if m.Code == protocol.TokenErrFileDoesNotExist && m.File != "" {
			c.removeAck(id, m.File)

			return
		}

		log.Warn().Str("code", m.Code).Str("file", m.File).Msg("node reported error")
	case protocol.List:
		c.inventory(id, m.Files)
	case protocol.RebalanceComplete:
		c.rebalanceComplete(id)
	default:
		atomic.AddInt64(&c.metrics.malformedCommands, 1)
		log.Warn().Str("token", msg.Token()).Msg("unexpected command from node")
	}
}

// handleClientMessage serves one client request and writes the reply. Only write
// failures are returned; request failures become error tokens.
func (c *Coordinator) handleClientMessage(ctx context.Context, sess *session.Session, h Handler, msg protocol.Message) error {
	switch m := msg.(type) {
	case protocol.List:
		files, err := h.List(ctx)
		if err != nil {
			return c.replyError(sess, err, "")
		}

		return sess.Send(protocol.List{Files: files})

	case protocol.Store:
		announce := func(targets []cluster.NodeID) error {
			return sess.Send(protocol.StoreTo{Ports: toInts(targets)})
		}

		err := h.Store(ctx, m.File, m.Size, announce)
		if err != nil {
			return c.replyError(sess, err, m.File)
		}

		return sess.Send(protocol.StoreComplete{})

	case protocol.Load:
		loc, err := h.Load(ctx, sess.ID(), m.File)
		if err != nil {
			return c.replyError(sess, err, m.File)
		}

		return sess.Send(protocol.LoadFrom{Port: int(loc.Port), Size: loc.Size})

	case protocol.Reload:
		loc, err := h.Reload(ctx, sess.ID(), m.File)
		if err != nil {
			return c.replyError(sess, err, m.File)
		}

		return sess.Send(protocol.LoadFrom{Port: int(loc.Port), Size: loc.Size})

	case protocol.Remove:
		err := h.Remove(ctx, m.File)
		if err != nil {
			return c.replyError(sess, err, m.File)
		}

		return sess.Send(protocol.RemoveComplete{})
	}

	atomic.AddInt64(&c.metrics.malformedCommands, 1)

	return sess.Send(protocol.Error{Code: protocol.TokenErrMalformed})
}

// replyError maps a request failure to its protocol token. Quorum timeouts and
// cancellations get no reply; the client observes its own timeout.
func (c *Coordinator) replyError(sess *session.Session, err error, file string) error {
	var reply protocol.Error

	switch {
	case errors.Is(err, sentinel.ErrNotEnoughNodes):
		reply.Code = protocol.TokenErrNotEnoughNodes
	case errors.Is(err, sentinel.ErrAlreadyExists):
		reply.Code = protocol.TokenErrFileAlreadyExists
	case errors.Is(err, sentinel.ErrNotFound):
		reply.Code = protocol.TokenErrFileDoesNotExist
	case errors.Is(err, sentinel.ErrLoadExhausted):
		reply.Code = protocol.TokenErrLoad
	case errors.Is(err, sentinel.ErrQuorumTimeout), errors.Is(err, sentinel.ErrTimeoutOrCanceled):
		return nil
	default:
		c.log.Warn().Err(err).Str("file", file).Msg("request failed")

		return nil
	}

	return sess.Send(reply)
}
