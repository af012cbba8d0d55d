package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/golang-jwt/jwt/v5"
	"github.com/rs/zerolog"

	"github.com/vovakirdan/pollchat/internal/core"
	"github.com/vovakirdan/pollchat/internal/proto"
)

const (
	maxResponseBytes = 4 << 20

	defaultRequestTimeout = 15 * time.Second
	defaultPollTimeout    = 30 * time.Second
)

// HTTPConfig holds configuration for creating an HTTPGateway.
type HTTPConfig struct {
	// BaseURL is the service root (e.g., "http://localhost:8080").
	BaseURL string
	// HTTPClient is used for all requests. If nil, a client without a global
	// timeout is created; per-request deadlines come from RequestTimeout and PollTimeout.
	HTTPClient *http.Client
	// RequestTimeout bounds every call except long polls.
	RequestTimeout time.Duration
	// PollTimeout is the server-side hold time requested for long polls.
	// The client waits RequestTimeout longer than this before giving up.
	PollTimeout time.Duration
	Logger      *zerolog.Logger
}

// HTTPGateway implements Gateway over the service's JSON API.
type HTTPGateway struct {
	baseURL        string
	httpClient     *http.Client
	requestTimeout time.Duration
	pollTimeout    time.Duration
	log            zerolog.Logger
}

var _ Gateway = (*HTTPGateway)(nil)

// NewHTTP creates a gateway for the service at cfg.BaseURL.
func NewHTTP(cfg HTTPConfig) (*HTTPGateway, error) {
	if cfg.BaseURL == "" {
		return nil, errors.New("gateway: BaseURL is required")
	}
	if _, err := url.Parse(cfg.BaseURL); err != nil {
		return nil, fmt.Errorf("gateway: invalid BaseURL %q: %w", cfg.BaseURL, err)
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	requestTimeout := cfg.RequestTimeout
	if requestTimeout <= 0 {
		requestTimeout = defaultRequestTimeout
	}
	pollTimeout := cfg.PollTimeout
	if pollTimeout <= 0 {
		pollTimeout = defaultPollTimeout
	}
	logger := zerolog.Nop()
	if cfg.Logger != nil {
		logger = *cfg.Logger
	}

	return &HTTPGateway{
		baseURL:        strings.TrimRight(cfg.BaseURL, "/"),
		httpClient:     httpClient,
		requestTimeout: requestTimeout,
		pollTimeout:    pollTimeout,
		log:            logger.With().Str("component", "gateway").Logger(),
	}, nil
}

// StatusError is a non-2xx response from the service.
type StatusError struct {
	StatusCode int
	Code       string
	Message    string
}

func (e *StatusError) Error() string {
	if e.Code == "" {
		return fmt.Sprintf("service returned %d: %s", e.StatusCode, e.Message)
	}
	return fmt.Sprintf("service returned %d (%s): %s", e.StatusCode, e.Code, e.Message)
}

// Unwrap maps the response onto the core error taxonomy.
func (e *StatusError) Unwrap() error {
	if e.StatusCode >= http.StatusInternalServerError || e.StatusCode == http.StatusTooManyRequests {
		return core.ErrConnection
	}
	if sentinel := core.NewCoreError(e.Code, e.Message).Unwrap(); sentinel != nil {
		return sentinel
	}
	if e.StatusCode == http.StatusUnauthorized {
		return core.ErrInvalidCredentials
	}
	return core.ErrParse
}

// Authenticate implements Gateway.
func (g *HTTPGateway) Authenticate(ctx context.Context, username, password string) (Token, error) {
	if username == "" {
		return Token{}, fmt.Errorf("%w: username is required", core.ErrInvalidCredentials)
	}

	var resp proto.AuthResponse
	err := g.call(ctx, http.MethodPost, "/api/login", Token{}, proto.LoginRequest{
		Username: username,
		Password: password,
	}, &resp)
	if err != nil {
		return Token{}, fmt.Errorf("login as %s: %w", username, err)
	}
	if resp.Token == "" {
		return Token{}, fmt.Errorf("login as %s: %w: empty token", username, core.ErrParse)
	}

	token := Token{Value: resp.Token, Username: username}
	token.ExpiresAt = g.tokenExpiry(resp.Token)
	g.log.Info().Str("username", username).Time("expires_at", token.ExpiresAt).Msg("authenticated")
	return token, nil
}

// tokenExpiry reads the exp claim without verifying the signature; the token
// is opaque to the client and only the service can validate it.
func (g *HTTPGateway) tokenExpiry(raw string) time.Time {
	claims := &jwt.RegisteredClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(raw, claims); err != nil {
		g.log.Debug().Err(err).Msg("token is not a readable jwt")
		return time.Time{}
	}
	if claims.ExpiresAt == nil {
		return time.Time{}
	}
	return claims.ExpiresAt.Time
}

// Subscribe implements Gateway.
func (g *HTTPGateway) Subscribe(ctx context.Context, token Token) (string, error) {
	var resp proto.SubscribeResponse
	if err := g.call(ctx, http.MethodPost, "/api/endpoints", token, struct{}{}, &resp); err != nil {
		return "", fmt.Errorf("subscribe: %w", err)
	}
	if resp.Protocol != 0 && resp.Protocol != proto.ProtocolVersion {
		return "", fmt.Errorf("subscribe: %w: unsupported protocol %d", core.ErrParse, resp.Protocol)
	}
	return resp.Cursor, nil
}

// LongPoll implements Gateway.
func (g *HTTPGateway) LongPoll(ctx context.Context, token Token, cursor string) (*proto.PollResponse, error) {
	query := url.Values{}
	query.Set("cursor", cursor)
	query.Set("timeout", strconv.FormatInt(g.pollTimeout.Milliseconds(), 10))

	ctx, cancel := context.WithTimeout(ctx, g.pollTimeout+g.requestTimeout)
	defer cancel()

	var resp proto.PollResponse
	if err := g.do(ctx, http.MethodGet, "/api/poll?"+query.Encode(), token, nil, &resp); err != nil {
		return nil, fmt.Errorf("poll: %w", err)
	}
	if resp.Cursor == "" {
		resp.Cursor = cursor
	}
	return &resp, nil
}

// FetchChat implements Gateway.
func (g *HTTPGateway) FetchChat(ctx context.Context, token Token, id string) (core.ChatData, error) {
	var resp proto.Chat
	if err := g.call(ctx, http.MethodGet, "/api/chats/"+url.PathEscape(id), token, nil, &resp); err != nil {
		return core.ChatData{}, fmt.Errorf("fetch chat %s: %w", id, chatError(err))
	}
	if resp.ID != id {
		return core.ChatData{}, fmt.Errorf("fetch chat %s: %w: response is for %q", id, core.ErrParse, resp.ID)
	}
	return proto.ToCoreChat(resp), nil
}

// FetchContact implements Gateway.
func (g *HTTPGateway) FetchContact(ctx context.Context, token Token, username string) (core.ContactData, error) {
	var resp proto.Contact
	if err := g.call(ctx, http.MethodGet, "/api/contacts/"+url.PathEscape(username), token, nil, &resp); err != nil {
		return core.ContactData{}, fmt.Errorf("fetch contact %s: %w", username, err)
	}
	if resp.Username != username {
		return core.ContactData{}, fmt.Errorf("fetch contact %s: %w: response is for %q", username, core.ErrParse, resp.Username)
	}
	return proto.ToCoreContact(resp), nil
}

// CreateChat implements Gateway.
func (g *HTTPGateway) CreateChat(ctx context.Context, token Token, members []string) (core.ChatData, error) {
	var resp proto.Chat
	if err := g.call(ctx, http.MethodPost, "/api/chats", token, proto.CreateChatRequest{Members: members}, &resp); err != nil {
		return core.ChatData{}, fmt.Errorf("create chat: %w", chatError(err))
	}
	return proto.ToCoreChat(resp), nil
}

// SendMessage implements Gateway.
func (g *HTTPGateway) SendMessage(ctx context.Context, token Token, chatID, body, clientID string) (core.Message, error) {
	var resp proto.MessageResource
	path := "/api/chats/" + url.PathEscape(chatID) + "/messages"
	if err := g.call(ctx, http.MethodPost, path, token, proto.SendMessageRequest{Body: body, ClientID: clientID}, &resp); err != nil {
		return core.Message{}, fmt.Errorf("send message to %s: %w", chatID, chatError(err))
	}
	return proto.ToCoreMessage(resp), nil
}

// Logout implements Gateway.
func (g *HTTPGateway) Logout(ctx context.Context, token Token) error {
	if err := g.call(ctx, http.MethodPost, "/api/logout", token, struct{}{}, nil); err != nil {
		return fmt.Errorf("logout: %w", err)
	}
	return nil
}

// chatError reports 403/404 on chat endpoints as ErrChatNotFound.
func chatError(err error) error {
	var statusErr *StatusError
	if errors.As(err, &statusErr) && !errors.Is(err, core.ErrInvalidCredentials) {
		if statusErr.StatusCode == http.StatusNotFound || statusErr.StatusCode == http.StatusForbidden {
			return fmt.Errorf("%w: %w", core.ErrChatNotFound, err)
		}
	}
	return err
}

func (g *HTTPGateway) call(ctx context.Context, method, path string, token Token, requestBody, out any) error {
	ctx, cancel := context.WithTimeout(ctx, g.requestTimeout)
	defer cancel()
	return g.do(ctx, method, path, token, requestBody, out)
}

// do performs an HTTP request and decodes a 2xx JSON body into out.
// Non-2xx responses are returned as *StatusError.
func (g *HTTPGateway) do(ctx context.Context, method, path string, token Token, requestBody, out any) error {
	var bodyReader io.Reader
	if requestBody != nil {
		encoded, err := json.Marshal(requestBody)
		if err != nil {
			return fmt.Errorf("encode request body: %w", err)
		}
		bodyReader = bytes.NewReader(encoded)
	}

	request, err := http.NewRequestWithContext(ctx, method, g.baseURL+path, bodyReader)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	request.Header.Set("Accept", "application/json")
	if requestBody != nil {
		request.Header.Set("Content-Type", "application/json")
	}
	if token.Valid() {
		request.Header.Set("Authorization", "Bearer "+token.Value)
	}

	response, err := g.httpClient.Do(request)
	if err != nil {
		return fmt.Errorf("%w: %s %s: %w", core.ErrConnection, method, path, err)
	}
	defer response.Body.Close()

	responseBody, err := io.ReadAll(io.LimitReader(response.Body, maxResponseBytes))
	if err != nil {
		return fmt.Errorf("%w: read response body: %w", core.ErrConnection, err)
	}

	if response.StatusCode < 200 || response.StatusCode >= 300 {
		statusErr := &StatusError{StatusCode: response.StatusCode}
		var body proto.Error
		if jsonErr := json.Unmarshal(responseBody, &body); jsonErr == nil {
			statusErr.Code = body.Code
			statusErr.Message = body.Msg
		} else {
			statusErr.Message = truncate(string(responseBody), 200)
		}
		g.log.Debug().
			Str("method", method).
			Str("path", path).
			Int("status", response.StatusCode).
			Str("code", statusErr.Code).
			Msg("service error")
		return statusErr
	}

	if out == nil {
		return nil
	}
	if err := json.Unmarshal(responseBody, out); err != nil {
		return fmt.Errorf("%w: decode %s %s: %w", core.ErrParse, method, path, err)
	}
	return nil
}

// truncate shortens s to at most n bytes without splitting a rune.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n] + "..."
}
