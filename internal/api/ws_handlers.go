package api

import (
	"encoding/json"
	"log"
	"net/http"

	"github.com/gorilla/websocket"

	"github.com/technosupport/ts-comply/internal/detect"
	"github.com/technosupport/ts-comply/internal/media"
	"github.com/technosupport/ts-comply/internal/metrics"
	"github.com/technosupport/ts-comply/internal/pipeline"
	"github.com/technosupport/ts-comply/internal/schema"
	"github.com/technosupport/ts-comply/internal/tokens"
)

var wsUpgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

type WsHandler struct {
	Tokens   *tokens.Manager
	Pipeline *pipeline.Orchestrator
	Detect   detect.Options
}

func NewWsHandler(tm *tokens.Manager, p *pipeline.Orchestrator, opts detect.Options) *WsHandler {
	return &WsHandler{Tokens: tm, Pipeline: p, Detect: opts}
}

// POST /ws/token: mint a short-lived stream token for a client.
func (h *WsHandler) MintToken(w http.ResponseWriter, r *http.Request) {
	var body struct {
		ClientID string `json:"client_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.ClientID == "" {
		respondError(w, http.StatusBadRequest, "client_id required")
		return
	}
	token, sessionID, err := h.Tokens.GenerateStreamToken(body.ClientID)
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{
		"token":      token,
		"session_id": sessionID,
	})
}

// streamMessage is one client frame on the live socket.
type streamMessage struct {
	Type        string `json:"type"`
	ImageBase64 string `json:"image_base64"`
	PolicyJSON  string `json:"policy_json"`
	Timestamp   float64 `json:"timestamp,omitempty"`
}

type streamReply struct {
	Type   string         `json:"type"` // "report", "skipped", "error"
	Report *schema.Report `json:"report,omitempty"`
	Error  string         `json:"error,omitempty"`
}

// Live handles GET /ws/live. Auth rides in the token query parameter since
// browser WebSocket clients cannot set headers. Each connection gets its own
// change detector so only frames that differ enough from the last capture
// cost an AI call.
func (h *WsHandler) Live(w http.ResponseWriter, r *http.Request) {
	tokenStr := r.URL.Query().Get("token")
	if tokenStr == "" {
		respondError(w, http.StatusUnauthorized, "missing token")
		return
	}
	claims, err := h.Tokens.ValidateToken(tokenStr)
	if err != nil {
		respondError(w, http.StatusUnauthorized, "invalid token")
		return
	}

	conn, err := wsUpgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("[ERROR] WS: upgrade failed for %s: %v", claims.ClientID, err)
		return
	}
	defer conn.Close()
	log.Printf("[INFO] WS: stream session %s opened for %s", claims.SessionID, claims.ClientID)

	opts := h.Detect
	opts.KeyframesDir = "" // pushed frames stay in memory
	detector := detect.NewDetector(opts)

	frameNum := 0
	for {
		var msg streamMessage
		if err := conn.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Printf("[WARN] WS: session %s read error: %v", claims.SessionID, err)
			}
			return
		}
		if msg.Type != "frame" {
			h.reply(conn, streamReply{Type: "error", Error: "unknown message type " + msg.Type})
			continue
		}

		img, err := media.DecodeImageBase64(msg.ImageBase64)
		if err != nil {
			h.reply(conn, streamReply{Type: "error", Error: "bad frame image: " + err.Error()})
			continue
		}

		ts := msg.Timestamp
		if ts == 0 {
			ts = float64(frameNum)
		}
		event := detector.ProcessPushedFrame(img, ts, frameNum)
		frameNum++
		if event == nil {
			h.reply(conn, streamReply{Type: "skipped"})
			continue
		}

		rep, err := h.Pipeline.AnalyzeFrame(r.Context(), schema.FrameAnalyzeRequest{
			ImageBase64: msg.ImageBase64,
			PolicyJSON:  msg.PolicyJSON,
			PersonHint:  claims.ClientID,
		})
		if err != nil {
			metrics.RecordRequest("ws", "error")
			h.reply(conn, streamReply{Type: "error", Error: err.Error()})
			continue
		}
		metrics.RecordRequest("ws", "complete")
		h.reply(conn, streamReply{Type: "report", Report: &rep})
	}
}

func (h *WsHandler) reply(conn *websocket.Conn, msg streamReply) {
	if err := conn.WriteJSON(msg); err != nil {
		log.Printf("[WARN] WS: write failed: %v", err)
	}
}
