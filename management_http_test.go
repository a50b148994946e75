package hyperstore_test

import (
	"context"
	"io"
	"net/http"
	"testing"
	"time"

	"github.com/goccy/go-json"
	fiber "github.com/gofiber/fiber/v3"
	"github.com/longbridgeapp/assert"
	"github.com/shamaton/msgpack/v2"

	"github.com/hyp3rd/hyperstore"
	"github.com/hyp3rd/hyperstore/internal/coordinator"
)

func get(t *testing.T, url string) (int, []byte, string) {
	t.Helper()

	return do(t, http.MethodGet, url)
}

func do(t *testing.T, method, url string, header ...string) (int, []byte, string) {
	t.Helper()

	req, err := http.NewRequestWithContext(context.Background(), method, url, nil)
	assert.Nil(t, err)

	for i := 0; i+1 < len(header); i += 2 {
		req.Header.Set(header[i], header[i+1])
	}

	client := &http.Client{Timeout: 5 * time.Second}

	resp, err := client.Do(req)
	assert.Nil(t, err)

	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	assert.Nil(t, err)

	return resp.StatusCode, body, resp.Header.Get("Content-Type")
}

func TestManagementHTTP_Endpoints(t *testing.T) {
	cfg := testConfig()
	cfg.Replication = 2

	h := start(t, cfg, 1)
	base := "http://" + h.hs.ManagementAddr()
	assert.True(t, h.hs.ManagementAddr() != "")

	status, _, _ := get(t, base+"/health")
	assert.Equal(t, http.StatusServiceUnavailable, status)

	h.addNode()

	status, body, _ := get(t, base+"/health")
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, "ok", string(body))

	c := h.client()
	assert.Nil(t, c.Store(context.Background(), "a.txt", []byte("12345")))

	status, body, _ = get(t, base+"/stats")
	assert.Equal(t, http.StatusOK, status)

	var metrics coordinator.Metrics

	assert.NoError(t, json.Unmarshal(body, &metrics))
	assert.Equal(t, int64(1), metrics.StoresCompleted)
	assert.Equal(t, int64(2), metrics.NodesJoined)

	status, body, _ = get(t, base+"/config")
	assert.Equal(t, http.StatusOK, status)

	var cfgBody map[string]any

	assert.NoError(t, json.Unmarshal(body, &cfgBody))
	assert.Equal(t, float64(2), cfgBody["replication"])
	assert.Equal(t, "json", cfgBody["snapshotFormat"])

	status, body, _ = get(t, base+"/cluster/members")
	assert.Equal(t, http.StatusOK, status)

	var members struct {
		Ready   bool                   `json:"ready"`
		Members []coordinator.NodeInfo `json:"members"`
	}

	assert.NoError(t, json.Unmarshal(body, &members))
	assert.True(t, members.Ready)
	assert.Equal(t, 2, len(members.Members))

	status, body, _ = get(t, base+"/files/a.txt")
	assert.Equal(t, http.StatusOK, status)

	var file coordinator.FileInfo

	assert.NoError(t, json.Unmarshal(body, &file))
	assert.Equal(t, int64(5), file.Size)
	assert.Equal(t, "stored", file.State)

	status, _, _ = get(t, base+"/files/missing")
	assert.Equal(t, http.StatusNotFound, status)

	status, body, _ = get(t, base+"/files")
	assert.Equal(t, http.StatusOK, status)

	var files struct {
		Count int `json:"count"`
	}

	assert.NoError(t, json.Unmarshal(body, &files))
	assert.Equal(t, 1, files.Count)
}

func TestManagementHTTP_SnapshotFormats(t *testing.T) {
	h := start(t, testConfig(), 0)
	base := "http://" + h.hs.ManagementAddr()

	status, body, ctype := get(t, base+"/cluster/snapshot")
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, "application/json", ctype)

	var snap coordinator.Snapshot

	assert.NoError(t, json.Unmarshal(body, &snap))
	assert.Equal(t, 3, snap.Replication)
	assert.Equal(t, "idle", snap.Phase)

	status, body, ctype = get(t, base+"/cluster/snapshot?format=msgpack")
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, "application/msgpack", ctype)

	var decoded coordinator.Snapshot

	assert.NoError(t, msgpack.Unmarshal(body, &decoded))
	assert.Equal(t, 3, decoded.Replication)

	status, _, ctype = get(t, base+"/cluster/snapshot?format=cbor")
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, "application/cbor", ctype)

	status, _, ctype = do(t, http.MethodGet, base+"/cluster/snapshot", "Accept", "text/html, application/cbor")
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, "application/cbor", ctype)

	status, _, ctype = do(t, http.MethodGet, base+"/cluster/snapshot", "Accept", "text/plain")
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, "application/json", ctype)

	status, _, _ = get(t, base+"/cluster/snapshot?format=xml")
	assert.Equal(t, http.StatusBadRequest, status)
}

func TestManagementHTTP_RebalanceTrigger(t *testing.T) {
	cfg := testConfig()
	cfg.Replication = 1
	cfg.RebalanceTriggerInterval = time.Hour

	h := start(t, cfg, 1)
	base := "http://" + h.hs.ManagementAddr()

	status, body, _ := do(t, http.MethodPost, base+"/rebalance")
	assert.Equal(t, http.StatusOK, status)

	var report coordinator.Report

	assert.NoError(t, json.Unmarshal(body, &report))
	assert.Equal(t, 1, report.Listed)

	status, _, _ = do(t, http.MethodPost, base+"/rebalance")
	assert.Equal(t, http.StatusTooManyRequests, status)

	status, body, _ = get(t, base+"/rebalance")
	assert.Equal(t, http.StatusOK, status)

	var last struct {
		Phase string              `json:"phase"`
		Last  *coordinator.Report `json:"last"`
	}

	assert.NoError(t, json.Unmarshal(body, &last))
	assert.Equal(t, "idle", last.Phase)
	assert.True(t, last.Last != nil)
}

func TestManagementHTTP_RebalanceNeedsNodes(t *testing.T) {
	h := start(t, testConfig(), 0)

	status, _, _ := do(t, http.MethodPost, "http://"+h.hs.ManagementAddr()+"/rebalance")
	assert.Equal(t, http.StatusServiceUnavailable, status)
}

func TestManagementHTTP_Auth(t *testing.T) {
	cfg := testConfig()
	cfg.ManagementOptions = append(cfg.ManagementOptions, bearer("secret"))

	h := start(t, cfg, 0)
	base := "http://" + h.hs.ManagementAddr()

	status, _, _ := get(t, base+"/config")
	assert.Equal(t, http.StatusUnauthorized, status)
}

func bearer(token string) hyperstore.ManagementHTTPOption {
	return hyperstore.WithMgmtAuth(func(c fiber.Ctx) error {
		if c.Get(fiber.HeaderAuthorization) != "Bearer "+token {
			return fiber.ErrUnauthorized
		}

		return nil
	})
}
