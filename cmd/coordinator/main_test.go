package main

import (
	"errors"
	"testing"
	"time"

	"github.com/longbridgeapp/assert"

	"github.com/hyp3rd/hyperstore/internal/sentinel"
)

func TestParseArgs_Defaults(t *testing.T) {
	cfg, verbose, err := parseArgs(nil)
	assert.Nil(t, err)
	assert.False(t, verbose)
	assert.Equal(t, 3, cfg.Replication)
	assert.Equal(t, "", cfg.ManagementAddr)
}

func TestParseArgs_Flags(t *testing.T) {
	cfg, verbose, err := parseArgs([]string{"-addr", ":9000", "-r", "2", "-timeout", "750ms", "-rebalance", "0", "-mgmt", ":8080", "-v"})
	assert.Nil(t, err)
	assert.True(t, verbose)
	assert.Equal(t, ":9000", cfg.ListenAddr)
	assert.Equal(t, 2, cfg.Replication)
	assert.Equal(t, 750*time.Millisecond, cfg.Timeout)
	assert.Equal(t, time.Duration(0), cfg.RebalancePeriod)
	assert.Equal(t, ":8080", cfg.ManagementAddr)
}

func TestParseArgs_Positional(t *testing.T) {
	cfg, _, err := parseArgs([]string{"12345", "3", "1000", "20"})
	assert.Nil(t, err)
	assert.Equal(t, ":12345", cfg.ListenAddr)
	assert.Equal(t, 3, cfg.Replication)
	assert.Equal(t, time.Second, cfg.Timeout)
	assert.Equal(t, 20*time.Second, cfg.RebalancePeriod)
}

func TestParseArgs_Rejects(t *testing.T) {
	_, _, err := parseArgs([]string{"12345", "three", "1000", "20"})
	assert.True(t, errors.Is(err, sentinel.ErrMalformedCommand))

	_, _, err = parseArgs([]string{"12345", "3"})
	assert.True(t, errors.Is(err, sentinel.ErrMalformedCommand))
}
