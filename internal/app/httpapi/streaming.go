package httpapi

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/Zerostate-IO/powerblockade/internal/app/storage"
)

const streamPollInterval = 2 * time.Second

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// streamHandler upgrades to a websocket connection and pushes newly
// committed DnsQueryEvent rows to the operator client, polling storage
// every streamPollInterval rather than subscribing to anything: a missed
// push here is not a correctness issue, since ingest/rollup/retention
// remain the source of truth.
func streamHandler(store storage.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		ctx := r.Context()
		since := time.Now()
		ticker := time.NewTicker(streamPollInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case now := <-ticker.C:
				events, err := store.EventsForRollup(ctx, since, now)
				since = now
				if err != nil {
					continue
				}
				for _, ev := range events {
					if werr := conn.WriteJSON(ev); werr != nil {
						return
					}
				}
			}
		}
	}
}
