package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/npezzotti/synapse-chat/internal/database"
	"github.com/npezzotti/synapse-chat/internal/server"
	"github.com/npezzotti/synapse-chat/internal/types"
)

const healthTimeout = 2 * time.Second

type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type RegisterRequest struct {
	Email    string `json:"email"`
	Username string `json:"username"`
	Password string `json:"password"`
}

type SessionResponse struct {
	User  types.User `json:"user"`
	Token string     `json:"token"`
}

type PostMessageRequest struct {
	Content   string            `json:"content"`
	Type      types.MessageType `json:"type"`
	ReplyToId string            `json:"replyToId,omitempty"`
}

type MessagesResponse struct {
	Messages   []types.Message  `json:"messages"`
	Pagination types.Pagination `json:"pagination"`
}

type HealthResponse struct {
	Status    string    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
	Version   string    `json:"version"`
}

type MembersResponse struct {
	ChatId  string   `json:"chatId"`
	Members []string `json:"members"`
}

type TypingResponse struct {
	ChatId string   `json:"chatId"`
	Users  []string `json:"users"`
}

type PresenceResponse struct {
	Presence []types.Presence `json:"presence"`
}

func (s *ChatApp) writeJson(w http.ResponseWriter, statusCode int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if v == nil {
		return
	}

	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.log.Printf("json encode: %v", err)
	}
}

func (s *ChatApp) writeError(w http.ResponseWriter, errResp *ApiError) {
	if errResp.Err != nil {
		s.log.Printf("%d %s", errResp.StatusCode, errResp.Error())
	}
	s.writeJson(w, errResp.StatusCode, errResp)
}

func (s *ChatApp) healthCheck(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), healthTimeout)
	defer cancel()

	if err := s.messages.Ping(ctx); err != nil {
		s.writeError(w, NewInternalServerError(err))
		return
	}

	s.writeJson(w, http.StatusOK, HealthResponse{
		Status:    "OK",
		Timestamp: server.Now(),
		Version:   Version,
	})
}

func (s *ChatApp) createAccount(w http.ResponseWriter, r *http.Request) {
	var req RegisterRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, NewBadRequestError())
		return
	}

	req.Email = strings.TrimSpace(req.Email)
	req.Username = strings.TrimSpace(req.Username)
	if req.Username == "" || req.Email == "" || req.Password == "" {
		s.writeError(w, NewValidationError("username, email and password are required"))
		return
	}

	pwdHash, err := hashPassword(req.Password)
	if err != nil {
		s.writeError(w, NewInternalServerError(err))
		return
	}

	acc, err := s.accounts.CreateAccount(r.Context(), database.CreateAccountParams{
		Username:     req.Username,
		EmailAddress: req.Email,
		PasswordHash: pwdHash,
	})
	if err != nil {
		if errors.Is(err, database.ErrAlreadyExists) {
			s.writeError(w, NewConflictError())
			return
		}
		s.writeError(w, NewInternalServerError(err))
		return
	}

	s.writeJson(w, http.StatusCreated, accountToUser(acc))
}

func (s *ChatApp) login(w http.ResponseWriter, r *http.Request) {
	var lr LoginRequest
	if err := json.NewDecoder(r.Body).Decode(&lr); err != nil {
		s.writeError(w, NewBadRequestError())
		return
	}

	acc, err := s.accounts.GetAccountByEmail(r.Context(), lr.Email)
	if err != nil {
		if errors.Is(err, database.ErrNotFound) {
			s.writeError(w, NewUnauthorizedError())
			return
		}
		s.writeError(w, NewInternalServerError(err))
		return
	}

	if !verifyPassword(acc.PasswordHash, lr.Password) {
		s.writeError(w, NewUnauthorizedError())
		return
	}

	u := accountToUser(acc)
	token, err := s.createJwtForSession(u, defaultExp)
	if err != nil {
		s.writeError(w, NewInternalServerError(err))
		return
	}

	http.SetCookie(w, createJwtCookie(token, defaultExp))

	s.writeJson(w, http.StatusOK, SessionResponse{User: u, Token: token})
}

func (s *ChatApp) session(w http.ResponseWriter, r *http.Request) {
	user, errResp := s.currentUser(r)
	if errResp != nil {
		s.writeError(w, errResp)
		return
	}

	s.writeJson(w, http.StatusOK, user)
}

func (s *ChatApp) logout(w http.ResponseWriter, _ *http.Request) {
	// expire the cookie by overwriting it
	http.SetCookie(w, createJwtCookie("", time.Duration(time.Unix(0, 0).Unix())))
	w.WriteHeader(http.StatusNoContent)
}

// currentUser loads the account bound to the request's session.
func (s *ChatApp) currentUser(r *http.Request) (types.User, *ApiError) {
	userId, ok := UserId(r.Context())
	if !ok {
		return types.User{}, NewUnauthorizedError()
	}

	acc, err := s.accounts.GetAccountById(r.Context(), userId)
	if err != nil {
		if errors.Is(err, database.ErrNotFound) {
			return types.User{}, NewNotFoundError()
		}
		return types.User{}, NewInternalServerError(err)
	}

	return accountToUser(acc), nil
}

func (s *ChatApp) getMessages(w http.ResponseWriter, r *http.Request) {
	chatId := r.PathValue("chatId")

	page, err := intQuery(r, "page", 1)
	if err != nil {
		s.writeError(w, NewValidationError("page must be a number"))
		return
	}
	limit, err := intQuery(r, "limit", database.DefaultPageSize)
	if err != nil {
		s.writeError(w, NewValidationError("limit must be a number"))
		return
	}
	page, limit = database.NormalizePage(page, limit)

	msgs, total, err := s.messages.List(r.Context(), chatId, page, limit)
	if err != nil {
		s.writeError(w, NewInternalServerError(err))
		return
	}
	if msgs == nil {
		msgs = []types.Message{}
	}

	s.writeJson(w, http.StatusOK, MessagesResponse{
		Messages: msgs,
		Pagination: types.Pagination{
			Page:       page,
			Limit:      limit,
			Total:      total,
			TotalPages: (total + limit - 1) / limit,
		},
	})
}

func (s *ChatApp) postMessage(w http.ResponseWriter, r *http.Request) {
	user, errResp := s.currentUser(r)
	if errResp != nil {
		s.writeError(w, errResp)
		return
	}

	var req PostMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, NewBadRequestError())
		return
	}
	if req.Type != "" && !req.Type.Valid() {
		s.writeError(w, NewValidationError("unknown message type"))
		return
	}

	msg, err := s.cs.Publish(r.Context(), r.PathValue("chatId"), user, types.Message{
		Content:   req.Content,
		Type:      req.Type,
		ReplyToId: req.ReplyToId,
	})
	if err != nil {
		switch {
		case errors.Is(err, server.ErrInvalidMessage):
			s.writeError(w, NewValidationError(err.Error()))
		case errors.Is(err, server.ErrServerStopped):
			s.writeError(w, NewServiceUnavailableError(err))
		default:
			s.writeError(w, NewInternalServerError(err))
		}
		return
	}

	s.writeJson(w, http.StatusCreated, msg)
}

func (s *ChatApp) getMembers(w http.ResponseWriter, r *http.Request) {
	chatId := r.PathValue("chatId")
	members, err := s.cs.Members(r.Context(), chatId)
	if err != nil {
		s.writeError(w, NewServiceUnavailableError(err))
		return
	}
	if members == nil {
		members = []string{}
	}

	s.writeJson(w, http.StatusOK, MembersResponse{ChatId: chatId, Members: members})
}

func (s *ChatApp) getTyping(w http.ResponseWriter, r *http.Request) {
	chatId := r.PathValue("chatId")
	users, err := s.cs.Typing(r.Context(), chatId)
	if err != nil {
		s.writeError(w, NewServiceUnavailableError(err))
		return
	}

	s.writeJson(w, http.StatusOK, TypingResponse{ChatId: chatId, Users: users})
}

func (s *ChatApp) getPresence(w http.ResponseWriter, r *http.Request) {
	records, err := s.cs.Presence(r.Context())
	if err != nil {
		s.writeError(w, NewServiceUnavailableError(err))
		return
	}

	s.writeJson(w, http.StatusOK, PresenceResponse{Presence: records})
}

func (s *ChatApp) serveWs(w http.ResponseWriter, r *http.Request) {
	user, errResp := s.currentUser(r)
	if errResp != nil {
		s.writeError(w, errResp)
		return
	}

	upgrader := websocket.Upgrader{
		CheckOrigin: func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			if origin == "" {
				// non-browser clients
				return true
			}

			return slices.Contains(s.allowedOrigins, origin)
		},
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Println("error upgrading connection:", err)
		return
	}

	client := server.NewClient(user, conn, s.cs, s.log)
	if err := s.cs.RegisterClient(client); err != nil {
		s.log.Printf("register connection for %q: %v", user.Id, err)
		conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseTryAgainLater, "server shutting down"), time.Now().Add(time.Second))
		conn.Close()
		return
	}

	go client.Write()
	go client.Read()
}

func intQuery(r *http.Request, key string, def int) (int, error) {
	v := r.URL.Query().Get(key)
	if v == "" {
		return def, nil
	}

	return strconv.Atoi(v)
}
