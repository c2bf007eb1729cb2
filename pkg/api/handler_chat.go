package api

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/coder/websocket"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/choir-run/choir/pkg/eventbus"
	"github.com/choir-run/choir/pkg/eventlog"
)

// chatTopics are the trace event prefixes translated into the chat wire
// vocabulary (spec §6): thinking, tool_call, tool_result, actor_call,
// response, error.
var chatTopics = []string{"llm.call.", "worker.tool.", "worker.task.", "conductor.worker.call"}

// clientMessage is what a chat client sends: {"type":"message","text":"..."}.
type clientMessage struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

// wsChatHandler serves WS /ws/chat/{actor_id}/{user_id}. Each inbound
// message drives a harness run in the background; trace events it emits
// to the event log are translated into the chat vocabulary and streamed
// back over the same socket, matching the teacher's pattern of driving
// an LLM call and broadcasting its lifecycle over a WS hub
// (pkg/api/handlers.go's processSession), generalized from a direct
// callback hookup to a bus subscription so multiple concurrent chat
// sockets can share one harness instance.
func (s *Server) wsChatHandler(c *gin.Context) {
	actorID := c.Param("actor_id")
	userID := c.Param("user_id")

	conn, err := websocket.Accept(c.Writer, c.Request, &websocket.AcceptOptions{InsecureSkipVerify: true})
	if err != nil {
		return
	}
	defer conn.CloseNow()

	ctx := c.Request.Context()
	subCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	frames := make(chan gin.H, 64)
	subs := make([]*eventbus.Subscription, 0, len(chatTopics))
	for _, topic := range chatTopics {
		sub := s.bus.Subscribe(topic)
		subs = append(subs, sub)
		go forwardChatEvents(subCtx, sub, actorID, userID, frames)
	}
	defer func() {
		for _, sub := range subs {
			sub.Unsubscribe()
		}
	}()

	go func() {
		for {
			select {
			case <-subCtx.Done():
				return
			case f, ok := <-frames:
				if !ok || !sendJSON(ctx, conn, f) {
					cancel()
					return
				}
			}
		}
	}()

	if !sendJSON(ctx, conn, gin.H{"type": "connected"}) {
		return
	}

	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			return
		}
		var msg clientMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			slog.Warn("api: invalid chat message", "actor_id", actorID, "error", err)
			continue
		}
		if msg.Type != "message" {
			continue
		}
		s.dispatchChatMessage(ctx, actorID, userID, msg.Text)
	}
}

func (s *Server) dispatchChatMessage(ctx context.Context, actorID, userID, text string) {
	if s.router == nil {
		return
	}
	h, base, ok := s.router.Route(actorID)
	if !ok {
		return
	}
	in := base
	in.ActorID = actorID
	in.UserID = userID
	in.Objective = text
	if in.RunID == "" {
		in.RunID = uuid.NewString()
	}
	go h.Run(ctx, in)
}

func forwardChatEvents(ctx context.Context, sub *eventbus.Subscription, actorID, userID string, out chan<- gin.H) {
	for {
		select {
		case <-ctx.Done():
			return
		case e, ok := <-sub.Events:
			if !ok {
				return
			}
			if e.ActorID != actorID || e.UserID != userID {
				continue
			}
			frame, ok := chatFrame(e)
			if !ok {
				continue
			}
			select {
			case out <- frame:
			case <-ctx.Done():
				return
			}
		}
	}
}

// chatFrame maps a trace event onto the chat wire vocabulary. Events
// that don't correspond to a user-visible chat moment are dropped.
func chatFrame(e eventlog.Event) (gin.H, bool) {
	payload := e.PayloadMap()
	switch e.EventType {
	case "llm.call.started":
		return gin.H{"type": "thinking", "trace_id": payload["trace_id"]}, true
	case "worker.tool.call":
		return gin.H{"type": "tool_call", "trace_id": payload["trace_id"], "tool": payload["tool"], "args": payload["arguments"]}, true
	case "worker.tool.result":
		return gin.H{"type": "tool_result", "trace_id": payload["trace_id"], "tool": payload["tool"], "result": payload["output_excerpt"]}, true
	case "conductor.worker.call":
		return gin.H{"type": "actor_call", "task_id": payload["task_id"], "reason": payload["reason"]}, true
	case "worker.task.completed":
		return gin.H{"type": "response", "trace_id": payload["trace_id"], "message": payload["message"]}, true
	case "worker.task.failed", "worker.task.blocked", "llm.call.failed":
		return gin.H{"type": "error", "trace_id": payload["trace_id"], "reason": payload["reason"], "message": payload["message"], "error": payload["error"]}, true
	default:
		return nil, false
	}
}
