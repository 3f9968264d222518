package httpapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"time"

	"golang.org/x/net/websocket"
)

const sseHeartbeatInterval = 25 * time.Second

// streamEvents serves campaign progress as server-sent events. The current
// snapshot is sent on connect, then every committed change, plus a periodic
// comment line so intermediaries keep the connection alive.
func (h *Handler) streamEvents(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming is not supported")
		return
	}
	campaignID := strings.TrimSpace(r.PathValue("campaignID"))

	snapshot, err := h.svc.Progress(r.Context(), campaignID)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	updates, cancel := h.svc.Broadcaster().Subscribe(campaignID)
	defer cancel()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	if err := writeSSE(w, toSnapshotResponse(snapshot)); err != nil {
		return
	}
	flusher.Flush()

	heartbeat := time.NewTicker(sseHeartbeatInterval)
	defer heartbeat.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-heartbeat.C:
			if _, err := fmt.Fprint(w, ": keep-alive\n\n"); err != nil {
				return
			}
			flusher.Flush()
		case update, open := <-updates:
			if !open {
				return
			}
			if err := writeSSE(w, toSnapshotResponse(update)); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}

func writeSSE(w io.Writer, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "event: progress\ndata: %s\n\n", data)
	return err
}

type wsSubscribeFrame struct {
	CampaignID string `json:"campaign_id"`
}

type wsErrorFrame struct {
	Error string `json:"error"`
}

// websocketHandler streams campaign progress over a WebSocket. The client
// sends one subscribe frame naming the campaign and then only reads.
func (h *Handler) websocketHandler() http.Handler {
	return websocket.Handler(func(conn *websocket.Conn) {
		defer func() {
			_ = conn.Close()
		}()

		encoder := json.NewEncoder(conn)
		decoder := json.NewDecoder(conn)
		var frame wsSubscribeFrame
		if err := decoder.Decode(&frame); err != nil {
			_ = encoder.Encode(wsErrorFrame{Error: "invalid subscribe frame"})
			return
		}
		campaignID := strings.TrimSpace(frame.CampaignID)

		ctx := conn.Request().Context()
		snapshot, err := h.svc.Progress(ctx, campaignID)
		if err != nil {
			_ = encoder.Encode(wsErrorFrame{Error: err.Error()})
			return
		}

		updates, cancel := h.svc.Broadcaster().Subscribe(campaignID)
		defer cancel()

		// The hijacked request context outlives the client, so drain the
		// connection and signal when the read side goes away.
		gone := make(chan struct{})
		go func() {
			defer close(gone)
			var discard json.RawMessage
			for decoder.Decode(&discard) == nil {
			}
		}()

		if err := encoder.Encode(toSnapshotResponse(snapshot)); err != nil {
			return
		}
		for {
			select {
			case <-ctx.Done():
				return
			case <-gone:
				return
			case update, open := <-updates:
				if !open {
					return
				}
				if err := encoder.Encode(toSnapshotResponse(update)); err != nil {
					if !errors.Is(err, io.EOF) {
						log.Printf("httpapi: write ws snapshot: %v", err)
					}
					return
				}
			}
		}
	})
}
