package httpapi

import (
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestDebugSSERaw(t *testing.T) {
	handler, _ := newTestHandler(t)
	server := httptest.NewServer(handler)
	defer server.Close()

	campaign := createTestCampaign(t, handler, "100")
	contribution := recordTestContribution(t, handler, campaign.ID, "alice@example.com", "25")

	resp, err := http.Get(server.URL + "/campaigns/" + campaign.ID + "/events")
	if err != nil {
		t.Fatalf("open event stream: %v", err)
	}
	defer resp.Body.Close()
	t.Logf("status=%d headers=%v", resp.StatusCode, resp.Header)

	done := make(chan struct{})
	go func() {
		defer close(done)
		buf := make([]byte, 4096)
		for {
			n, err := resp.Body.Read(buf)
			t.Logf("read n=%d err=%v raw=%q", n, err, string(buf[:n]))
			if err != nil {
				return
			}
		}
	}()
	time.Sleep(500 * time.Millisecond)
	t.Log("confirming contribution")
	confirmTestContribution(t, handler, contribution.ID)
	select {
	case <-done:
	case <-time.After(3 * time.Second):
		t.Log("timed out reading body")
	}
	_ = io.Discard
}
