// Package protocol defines the line-oriented text protocol spoken between clients,
// the coordinator and storage nodes.
//
// Every line is a sequence of space-delimited ASCII tokens terminated by a newline.
// Lines are parsed exactly once, at the session boundary, into one of the Message
// variants below; downstream code switches on the concrete type and never re-splits text.
package protocol

import (
	"strconv"
	"strings"

	"github.com/hyp3rd/ewrap"

	"github.com/hyp3rd/hyperstore/internal/sentinel"
)

// Wire tokens.
const (
	TokenJoin              = "JOIN"
	TokenJoinOK            = "JOIN_OK"
	TokenList              = "LIST"
	TokenStore             = "STORE"
	TokenStoreTo           = "STORE_TO"
	TokenStoreAck          = "STORE_ACK"
	TokenStoreComplete     = "STORE_COMPLETE"
	TokenLoad              = "LOAD"
	TokenReload            = "RELOAD"
	TokenLoadFrom          = "LOAD_FROM"
	TokenLoadData          = "LOAD_DATA"
	TokenRemove            = "REMOVE"
	TokenRemoveAck         = "REMOVE_ACK"
	TokenRemoveComplete    = "REMOVE_COMPLETE"
	TokenRebalance         = "REBALANCE"
	TokenRebalanceStore    = "REBALANCE_STORE"
	TokenRebalanceComplete = "REBALANCE_COMPLETE"
	TokenAck               = "ACK"

	TokenErrFileAlreadyExists = "ERROR_FILE_ALREADY_EXISTS"
	TokenErrFileDoesNotExist  = "ERROR_FILE_DOES_NOT_EXIST"
	TokenErrNotEnoughNodes    = "ERROR_NOT_ENOUGH_NODES"
	TokenErrLoad              = "ERROR_LOAD"
	TokenErrMalformed         = "ERROR_MALFORMED_COMMAND"
)

// Message is a parsed protocol line.
type Message interface {
	// Token returns the leading wire token.
	Token() string
	// String encodes the message as a protocol line without the trailing newline.
	String() string
}

// Join is the storage node registration handshake.
type Join struct{ Port int }

// JoinOK acknowledges a Join.
type JoinOK struct{}

// List is both the request (no files) and the reply (file names).
type List struct{ Files []string }

// Store asks the coordinator for placement, or a storage node to accept the file bytes.
type Store struct {
	File string
	Size int64
}

// StoreTo tells a client which storage node ports to push a file to.
type StoreTo struct{ Ports []int }

// StoreAck is sent by a storage node once it persisted a client upload.
type StoreAck struct{ File string }

// StoreComplete tells the client that R acknowledgements were collected.
type StoreComplete struct{}

// Load asks for a node to read a file from.
type Load struct{ File string }

// Reload asks for the next candidate after a failed read.
type Reload struct{ File string }

// LoadFrom names the node to read from and the file size.
type LoadFrom struct {
	Port int
	Size int64
}

// LoadData asks a storage node for the file bytes.
type LoadData struct{ File string }

// Remove deletes a file (client to coordinator, coordinator to node).
type Remove struct{ File string }

// RemoveAck is sent by a storage node after deleting a file locally.
type RemoveAck struct{ File string }

// RemoveComplete tells the client that the removal was acknowledged.
type RemoveComplete struct{}

// Transfer is one push instruction inside a Rebalance message.
type Transfer struct {
	File  string
	Dests []int
}

// Rebalance carries a node's consolidated correction plan.
type Rebalance struct {
	Sends   []Transfer
	Removes []string
}

// RebalanceStore asks a peer node to accept file bytes during a rebalance.
type RebalanceStore struct {
	File string
	Size int64
}

// RebalanceComplete is sent by a storage node after executing a Rebalance.
type RebalanceComplete struct{}

// Ack is the storage node's go-ahead before raw bytes are streamed.
type Ack struct{}

// Error is any ERROR_* token, with an optional file name.
type Error struct {
	Code string
	File string
}

// Token implements Message.
func (Join) Token() string { return TokenJoin }

// Token implements Message.
func (JoinOK) Token() string { return TokenJoinOK }

// Token implements Message.
func (List) Token() string { return TokenList }

// Token implements Message.
func (Store) Token() string { return TokenStore }

// Token implements Message.
func (StoreTo) Token() string { return TokenStoreTo }

// Token implements Message.
func (StoreAck) Token() string { return TokenStoreAck }

// Token implements Message.
func (StoreComplete) Token() string { return TokenStoreComplete }

// Token implements Message.
func (Load) Token() string { return TokenLoad }

// Token implements Message.
func (Reload) Token() string { return TokenReload }

// Token implements Message.
func (LoadFrom) Token() string { return TokenLoadFrom }

// Token implements Message.
func (LoadData) Token() string { return TokenLoadData }

// Token implements Message.
func (Remove) Token() string { return TokenRemove }

// Token implements Message.
func (RemoveAck) Token() string { return TokenRemoveAck }

// Token implements Message.
func (RemoveComplete) Token() string { return TokenRemoveComplete }

// Token implements Message.
func (Rebalance) Token() string { return TokenRebalance }

// Token implements Message.
func (RebalanceStore) Token() string { return TokenRebalanceStore }

// Token implements Message.
func (RebalanceComplete) Token() string { return TokenRebalanceComplete }

// Token implements Message.
func (Ack) Token() string { return TokenAck }

// Token implements Message.
func (e Error) Token() string { return e.Code }

func (m Join) String() string { return TokenJoin + " " + strconv.Itoa(m.Port) }

func (JoinOK) String() string { return TokenJoinOK }

func (m List) String() string { return joinLine(TokenList, m.Files...) }

func (m Store) String() string {
	return TokenStore + " " + m.File + " " + strconv.FormatInt(m.Size, 10)
}

func (m StoreTo) String() string { return joinLine(TokenStoreTo, itoaAll(m.Ports)...) }

func (m StoreAck) String() string { return TokenStoreAck + " " + m.File }

func (StoreComplete) String() string { return TokenStoreComplete }

func (m Load) String() string { return TokenLoad + " " + m.File }

func (m Reload) String() string { return TokenReload + " " + m.File }

func (m LoadFrom) String() string {
	return TokenLoadFrom + " " + strconv.Itoa(m.Port) + " " + strconv.FormatInt(m.Size, 10)
}

func (m LoadData) String() string { return TokenLoadData + " " + m.File }

func (m Remove) String() string { return TokenRemove + " " + m.File }

func (m RemoveAck) String() string { return TokenRemoveAck + " " + m.File }

func (RemoveComplete) String() string { return TokenRemoveComplete }

func (m Rebalance) String() string {
	fields := make([]string, 0, 2+len(m.Removes)+3*len(m.Sends))

	fields = append(fields, strconv.Itoa(len(m.Sends)))
	for _, s := range m.Sends {
		fields = append(fields, s.File, strconv.Itoa(len(s.Dests)))
		fields = append(fields, itoaAll(s.Dests)...)
	}

	fields = append(fields, strconv.Itoa(len(m.Removes)))
	fields = append(fields, m.Removes...)

	return joinLine(TokenRebalance, fields...)
}

func (m RebalanceStore) String() string {
	return TokenRebalanceStore + " " + m.File + " " + strconv.FormatInt(m.Size, 10)
}

func (RebalanceComplete) String() string { return TokenRebalanceComplete }

func (Ack) String() string { return TokenAck }

func (e Error) String() string {
	if e.File == "" {
		return e.Code
	}

	return e.Code + " " + e.File
}

// Parse decodes one protocol line (without its newline).
func Parse(line string) (Message, error) {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return nil, ewrap.Wrap(sentinel.ErrMalformedCommand, "empty line")
	}

	token, args := fields[0], fields[1:]

	switch token {
	case TokenJoin:
		if len(args) != 1 {
			return nil, arity(token)
		}

		port, err := parsePort(args[0])
		if err != nil {
			return nil, err
		}

		return Join{Port: port}, nil

	case TokenList:
		return List{Files: args}, nil

	case TokenStore, TokenRebalanceStore:
		return parseSized(token, args)

	case TokenStoreTo:
		ports := make([]int, 0, len(args))

		for _, a := range args {
			p, err := parsePort(a)
			if err != nil {
				return nil, err
			}

			ports = append(ports, p)
		}

		return StoreTo{Ports: ports}, nil

	case TokenLoadFrom:
		if len(args) != 2 {
			return nil, arity(token)
		}

		port, err := parsePort(args[0])
		if err != nil {
			return nil, err
		}

		size, err := parseSize(args[1])
		if err != nil {
			return nil, err
		}

		return LoadFrom{Port: port, Size: size}, nil

	case TokenRebalance:
		return parseRebalance(args)

	case TokenErrFileAlreadyExists, TokenErrFileDoesNotExist, TokenErrNotEnoughNodes, TokenErrLoad, TokenErrMalformed:
		if len(args) > 1 {
			return nil, arity(token)
		}

		e := Error{Code: token}
		if len(args) == 1 {
			e.File = args[0]
		}

		return e, nil
	}

	if msg, ok := parseBare(token, args); ok {
		return msg, nil
	}

	if msg, ok, err := parseFileOnly(token, args); ok {
		return msg, err
	}

	return nil, ewrap.Wrap(sentinel.ErrUnknownCommand, token)
}

// parseBare handles tokens that carry no arguments.
func parseBare(token string, args []string) (Message, bool) {
	if len(args) != 0 {
		return nil, false
	}

	switch token {
	case TokenJoinOK:
		return JoinOK{}, true
	case TokenStoreComplete:
		return StoreComplete{}, true
	case TokenRemoveComplete:
		return RemoveComplete{}, true
	case TokenRebalanceComplete:
		return RebalanceComplete{}, true
	case TokenAck:
		return Ack{}, true
	}

	return nil, false
}

// parseFileOnly handles tokens followed by exactly one file name.
func parseFileOnly(token string, args []string) (Message, bool, error) {
	var build func(string) Message

	switch token {
	case TokenStoreAck:
		build = func(f string) Message { return StoreAck{File: f} }
	case TokenLoad:
		build = func(f string) Message { return Load{File: f} }
	case TokenReload:
		build = func(f string) Message { return Reload{File: f} }
	case TokenLoadData:
		build = func(f string) Message { return LoadData{File: f} }
	case TokenRemove:
		build = func(f string) Message { return Remove{File: f} }
	case TokenRemoveAck:
		build = func(f string) Message { return RemoveAck{File: f} }
	case TokenJoinOK, TokenStoreComplete, TokenRemoveComplete, TokenRebalanceComplete, TokenAck:
		// bare tokens that arrived with arguments
		return nil, true, arity(token)
	default:
		return nil, false, nil
	}

	if len(args) != 1 {
		return nil, true, arity(token)
	}

	return build(args[0]), true, nil
}

func parseSized(token string, args []string) (Message, error) {
	if len(args) != 2 {
		return nil, arity(token)
	}

	size, err := parseSize(args[1])
	if err != nil {
		return nil, err
	}

	if token == TokenRebalanceStore {
		return RebalanceStore{File: args[0], Size: size}, nil
	}

	return Store{File: args[0], Size: size}, nil
}

func parseRebalance(args []string) (Message, error) {
	cur := 0

	next := func() (string, error) {
		if cur >= len(args) {
			return "", ewrap.Wrap(sentinel.ErrMalformedCommand, "rebalance: truncated")
		}

		v := args[cur]
		cur++

		return v, nil
	}

	nextCount := func() (int, error) {
		v, err := next()
		if err != nil {
			return 0, err
		}

		// every counted item takes at least one more token
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 || n > len(args)-cur {
			return 0, ewrap.Wrapf(sentinel.ErrMalformedCommand, "rebalance: bad count %q", v)
		}

		return n, nil
	}

	sendCount, err := nextCount()
	if err != nil {
		return nil, err
	}

	msg := Rebalance{}

	for range sendCount {
		file, err := next()
		if err != nil {
			return nil, err
		}

		destCount, err := nextCount()
		if err != nil {
			return nil, err
		}

		t := Transfer{File: file}

		for range destCount {
			raw, err := next()
			if err != nil {
				return nil, err
			}

			port, err := parsePort(raw)
			if err != nil {
				return nil, err
			}

			t.Dests = append(t.Dests, port)
		}

		msg.Sends = append(msg.Sends, t)
	}

	removeCount, err := nextCount()
	if err != nil {
		return nil, err
	}

	for range removeCount {
		file, err := next()
		if err != nil {
			return nil, err
		}

		msg.Removes = append(msg.Removes, file)
	}

	if cur != len(args) {
		return nil, ewrap.Wrap(sentinel.ErrMalformedCommand, "rebalance: trailing tokens")
	}

	return msg, nil
}

const maxPort = 65535

func parsePort(raw string) (int, error) {
	port, err := strconv.Atoi(raw)
	if err != nil || port <= 0 || port > maxPort {
		return 0, ewrap.Wrapf(sentinel.ErrMalformedCommand, "bad port %q", raw)
	}

	return port, nil
}

func parseSize(raw string) (int64, error) {
	size, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || size < 0 {
		return 0, ewrap.Wrapf(sentinel.ErrMalformedCommand, "bad size %q", raw)
	}

	return size, nil
}

func arity(token string) error {
	return ewrap.Wrapf(sentinel.ErrMalformedCommand, "%s: wrong number of arguments", token)
}

func joinLine(token string, fields ...string) string {
	if len(fields) == 0 {
		return token
	}

	return token + " " + strings.Join(fields, " ")
}

func itoaAll(in []int) []string {
	out := make([]string, 0, len(in))
	for _, v := range in {
		out = append(out, strconv.Itoa(v))
	}

	return out
}
