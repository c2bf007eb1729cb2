package api

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/coder/websocket"
	"github.com/gin-gonic/gin"

	"github.com/choir-run/choir/pkg/eventlog"
)

const (
	defaultLogLimit = 200
	wsWriteTimeout  = 5 * time.Second
)

// listEventsHandler serves GET /logs/events?since_seq&limit&filter.
func (s *Server) listEventsHandler(c *gin.Context) {
	sinceSeq := queryInt64(c, "since_seq", 0)
	limit := int(queryInt64(c, "limit", defaultLogLimit))
	filter := eventlog.Filter{EventType: c.Query("filter")}

	events, err := s.events.Query(c.Request.Context(), sinceSeq, limit, filter)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, events)
}

// latestSeqHandler serves GET /logs/latest_seq.
func (s *Server) latestSeqHandler(c *gin.Context) {
	seq, err := s.events.LatestSeq(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"seq": seq})
}

// wsLogsHandler serves WS /ws/logs/events?since_seq&limit&poll_ms. It
// catches the client up via Query, then streams new commits via Follow
// until the socket closes — the same "catch up then subscribe" shape as
// the teacher's ConnectionManager, but against the event log directly
// instead of Postgres LISTEN/NOTIFY plus a catchup query.
func (s *Server) wsLogsHandler(c *gin.Context) {
	sinceSeq := queryInt64(c, "since_seq", 0)
	limit := int(queryInt64(c, "limit", defaultLogLimit))
	filter := eventlog.Filter{EventType: c.Query("filter")}

	conn, err := websocket.Accept(c.Writer, c.Request, &websocket.AcceptOptions{InsecureSkipVerify: true})
	if err != nil {
		return
	}
	defer conn.CloseNow()

	ctx := c.Request.Context()

	if !sendJSON(ctx, conn, gin.H{"type": "connected"}) {
		return
	}

	caughtUp, err := s.events.Query(ctx, sinceSeq, limit, filter)
	if err != nil {
		conn.Close(websocket.StatusInternalError, "query failed")
		return
	}
	watermark := sinceSeq
	for _, e := range caughtUp {
		if !sendJSON(ctx, conn, eventFrame(e)) {
			return
		}
		watermark = e.Seq
	}

	events, errs := s.events.Follow(ctx, watermark, filter)
	for {
		select {
		case <-ctx.Done():
			conn.Close(websocket.StatusNormalClosure, "context done")
			return
		case err, ok := <-errs:
			if ok && err != nil {
				conn.Close(websocket.StatusInternalError, "follow failed")
				return
			}
		case e, ok := <-events:
			if !ok {
				conn.Close(websocket.StatusNormalClosure, "log closed")
				return
			}
			if !sendJSON(ctx, conn, eventFrame(e)) {
				return
			}
		}
	}
}

func eventFrame(e eventlog.Event) gin.H {
	return gin.H{
		"type":       "event",
		"seq":        e.Seq,
		"event_id":   e.EventID,
		"event_type": e.EventType,
		"actor_id":   e.ActorID,
		"user_id":    e.UserID,
		"timestamp":  e.Timestamp,
		"payload":    e.PayloadMap(),
	}
}

// sendJSON marshals v and writes it with a bounded write timeout,
// matching the teacher's ConnectionManager.sendJSON/sendRaw split.
// Returns false if the write failed, signaling the caller to stop.
func sendJSON(ctx context.Context, conn *websocket.Conn, v any) bool {
	data, err := json.Marshal(v)
	if err != nil {
		return false
	}
	writeCtx, cancel := context.WithTimeout(ctx, wsWriteTimeout)
	defer cancel()
	return conn.Write(writeCtx, websocket.MessageText, data) == nil
}

func queryInt64(c *gin.Context, key string, def int64) int64 {
	raw := c.Query(key)
	if raw == "" {
		return def
	}
	v, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return def
	}
	return v
}
