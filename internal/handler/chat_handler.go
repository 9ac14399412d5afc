package handler

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"gym-coach-go/internal/middleware"
	"gym-coach-go/internal/model"
	"gym-coach-go/internal/service"
	"gym-coach-go/pkg/log"
	"gym-coach-go/pkg/token"
)

// SessionIDHeader 携带会话 ID，请求与响应中都会出现。
const SessionIDHeader = "X-Session-ID"

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // 允许所有来源，鉴权由 token 完成
	},
}

// ChatHandler 处理对话请求（HTTP 与 WebSocket）。
type ChatHandler struct {
	chatService service.ChatService
	toolService service.ToolService
	jwtManager  *token.JWTManager
}

// NewChatHandler 创建一个新的 ChatHandler。
func NewChatHandler(chatService service.ChatService, toolService service.ToolService, jwtManager *token.JWTManager) *ChatHandler {
	return &ChatHandler{chatService: chatService, toolService: toolService, jwtManager: jwtManager}
}

// Chat 处理一轮对话。会话 ID 优先取 X-Session-ID 请求头，其次取请求体中的 session_id。
func (h *ChatHandler) Chat(c *gin.Context) {
	var req model.ChatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		log.Warnf("Chat: Invalid request payload, error: %v", err)
		respondBadRequest(c, "无效的请求负载")
		return
	}
	if sid := c.GetHeader(SessionIDHeader); sid != "" {
		req.SessionID = sid
	}
	req.UserID = middleware.UserID(c)

	resp, err := h.chatService.Chat(c.Request.Context(), &req)
	if err != nil {
		respondError(c, "Chat", err)
		return
	}
	c.Header(SessionIDHeader, resp.SessionID)
	respondOK(c, resp)
}

// Tools 返回工具目录及其版本。
func (h *ChatHandler) Tools(c *gin.Context) {
	respondOK(c, gin.H{"version": h.toolService.Version(), "tools": h.toolService.Catalog()})
}

type socketFrame struct {
	Type      string              `json:"type"`
	Data      *model.ChatResponse `json:"data,omitempty"`
	Status    string              `json:"status,omitempty"`
	Message   string              `json:"message,omitempty"`
	RequestID string              `json:"requestId,omitempty"`
	Timestamp int64               `json:"timestamp"`
}

// Socket 处理 WebSocket 连接。每帧是一个 JSON ChatRequest，服务端先回复 reply 帧再回复 completion 帧。
// 浏览器无法设置请求头，用户 token 也可以通过 ?token= 传入。
func (h *ChatHandler) Socket(c *gin.Context) {
	userID := middleware.UserID(c)
	if userID == nil {
		if tok := c.Query("token"); tok != "" {
			claims, err := h.jwtManager.VerifyToken(tok)
			if err != nil {
				c.JSON(http.StatusUnauthorized, gin.H{"code": http.StatusUnauthorized, "message": "无效的 token", "data": nil})
				return
			}
			id := claims.UserID
			userID = &id
		}
	}
	sessionID := c.Query("session_id")

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Errorf("WebSocket 升级失败: %v", err)
		return
	}
	defer conn.Close()
	log.Infof("WebSocket 连接已建立, session=%s", sessionID)

	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				log.Warnf("从 WebSocket 读取消息失败: %v", err)
			}
			return
		}
		// 每帧单独分配请求 ID，便于和日志对应
		requestID := uuid.NewString()

		var req model.ChatRequest
		if err := json.Unmarshal(message, &req); err != nil {
			h.writeFrames(conn, socketFrame{Type: "error", Message: "无效的请求负载", RequestID: requestID})
			continue
		}
		if req.SessionID == "" {
			req.SessionID = sessionID
		}
		req.UserID = userID

		resp, err := h.chatService.Chat(c.Request.Context(), &req)
		if err != nil {
			msg := unavailableMessage
			if isValidation(err) {
				msg = err.Error()
				log.Warnf("Socket: 请求参数非法, requestId=%s, error: %v", requestID, err)
			} else {
				log.Errorf("Socket: 处理失败, requestId=%s, error: %v", requestID, err)
			}
			h.writeFrames(conn, socketFrame{Type: "error", Message: msg, RequestID: requestID})
			continue
		}
		// 后续帧沿用同一个会话
		sessionID = resp.SessionID
		h.writeFrames(conn, socketFrame{Type: "reply", Data: resp, RequestID: requestID})
	}
}

// writeFrames 写入给定帧，随后写入 completion 帧。
func (h *ChatHandler) writeFrames(conn *websocket.Conn, frame socketFrame) {
	now := time.Now().UnixMilli()
	frame.Timestamp = now
	if err := conn.WriteJSON(frame); err != nil {
		log.Warnf("写入 WebSocket 消息失败: %v", err)
		return
	}
	_ = conn.WriteJSON(socketFrame{Type: "completion", Status: "finished", Message: "响应已完成", RequestID: frame.RequestID, Timestamp: now})
}
