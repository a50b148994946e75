package protocol

import (
	"errors"
	"testing"

	"github.com/longbridgeapp/assert"

	"github.com/hyp3rd/hyperstore/internal/sentinel"
)

func TestParse_ClientCommands(t *testing.T) {
	tests := []struct {
		name string
		line string
		want Message
	}{
		{name: "join", line: "JOIN 4001", want: Join{Port: 4001}},
		{name: "store", line: "STORE a.txt 100", want: Store{File: "a.txt", Size: 100}},
		{name: "load", line: "LOAD a.txt", want: Load{File: "a.txt"}},
		{name: "reload", line: "RELOAD a.txt", want: Reload{File: "a.txt"}},
		{name: "remove", line: "REMOVE a.txt", want: Remove{File: "a.txt"}},
		{name: "store ack with trailing space", line: "STORE_ACK a.txt ", want: StoreAck{File: "a.txt"}},
		{name: "rebalance complete", line: "REBALANCE_COMPLETE", want: RebalanceComplete{}},
		{name: "store to", line: "STORE_TO 1 2 3", want: StoreTo{Ports: []int{1, 2, 3}}},
		{name: "load from", line: "LOAD_FROM 4002 12", want: LoadFrom{Port: 4002, Size: 12}},
		{name: "error with file", line: "ERROR_FILE_DOES_NOT_EXIST x", want: Error{Code: TokenErrFileDoesNotExist, File: "x"}},
		{name: "bare error", line: "ERROR_LOAD", want: Error{Code: TokenErrLoad}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Parse(tt.line)
			assert.Nil(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParse_ListVariants(t *testing.T) {
	msg, err := Parse("LIST")
	assert.Nil(t, err)

	list, ok := msg.(List)
	assert.True(t, ok)
	assert.Equal(t, 0, len(list.Files))

	msg, err = Parse("LIST a b c")
	assert.Nil(t, err)
	assert.Equal(t, []string{"a", "b", "c"}, msg.(List).Files)
}

func TestParse_Malformed(t *testing.T) {
	lines := []string{
		"",
		"JOIN",
		"JOIN abc",
		"JOIN -3",
		"STORE a.txt",
		"STORE a.txt -1",
		"LOAD",
		"LOAD a b",
		"STORE_COMPLETE now",
		"REBALANCE 1 a.txt 2 4001",
		"REBALANCE 0 1",
		"REBALANCE 0 0 extra",
		"REBALANCE x 0",
		"REBALANCE 999999999999999999 0",
		"REBALANCE 1 f 999999999999999999 0",
		"REBALANCE 0 999999999999999999",
		"REBALANCE 1 f 3 4001 4002 0",
		"REBALANCE 0 3 a b",
		"JOIN 70000",
		"JOIN 65536",
		"LOAD_FROM 70000 1",
	}

	for _, line := range lines {
		t.Run(line, func(t *testing.T) {
			_, err := Parse(line)
			assert.True(t, errors.Is(err, sentinel.ErrMalformedCommand))
		})
	}
}

func TestParse_PortBounds(t *testing.T) {
	msg, err := Parse("JOIN 65535")
	assert.Nil(t, err)
	assert.Equal(t, Join{Port: 65535}, msg)

	msg, err = Parse("REBALANCE 1 f 0 0")
	assert.Nil(t, err)
	assert.Equal(t, Rebalance{Sends: []Transfer{{File: "f"}}}, msg)
}

func TestParse_Unknown(t *testing.T) {
	_, err := Parse("FROB a")
	assert.True(t, errors.Is(err, sentinel.ErrUnknownCommand))
}

func TestRebalance_Encoding(t *testing.T) {
	msg := Rebalance{
		Sends: []Transfer{
			{File: "a.txt", Dests: []int{4001, 4002}},
			{File: "b.txt", Dests: []int{4003}},
		},
		Removes: []string{"c.txt", "d.txt"},
	}

	line := msg.String()
	assert.Equal(t, "REBALANCE 2 a.txt 2 4001 4002 b.txt 1 4003 2 c.txt d.txt", line)

	parsed, err := Parse(line)
	assert.Nil(t, err)
	assert.Equal(t, msg, parsed)

	assert.Equal(t, "REBALANCE 0 0", Rebalance{}.String())
}

func TestEncoding_Lines(t *testing.T) {
	assert.Equal(t, "STORE_TO 1 2 3", StoreTo{Ports: []int{1, 2, 3}}.String())
	assert.Equal(t, "LIST", List{}.String())
	assert.Equal(t, "LIST a.txt", List{Files: []string{"a.txt"}}.String())
	assert.Equal(t, "LOAD_FROM 7 100", LoadFrom{Port: 7, Size: 100}.String())
	assert.Equal(t, "ERROR_NOT_ENOUGH_NODES", Error{Code: TokenErrNotEnoughNodes}.String())
	assert.Equal(t, TokenErrLoad, Error{Code: TokenErrLoad}.Token())
}
