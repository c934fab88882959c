package cmd

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/gorilla/websocket"
	"github.com/spf13/cobra"

	"github.com/xiaot623/chatrelay/internal/domain"
	"github.com/xiaot623/chatrelay/internal/protocol"
)

var (
	modelHeaderStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("12"))
	errorStyle       = lipgloss.NewStyle().Foreground(lipgloss.Color("9"))
	dimStyle         = lipgloss.NewStyle().Foreground(lipgloss.Color("242"))
)

type chatOptions struct {
	url      string
	password string
	session  string
}

func newChatCmd() *cobra.Command {
	opts := chatOptions{}
	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Chat with the relay from the terminal",
		Long:  "Log in, open or resume a session and stream every model's reply. Type /new for a fresh session and /quit to exit.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runChat(cmd.Context(), opts, cmd.InOrStdin(), cmd.OutOrStdout())
		},
	}
	cmd.Flags().StringVar(&opts.url, "url", "http://localhost:3001", "relay base URL")
	cmd.Flags().StringVar(&opts.password, "password", "", "shared relay password")
	cmd.Flags().StringVar(&opts.session, "session", "", "session to resume (default: create one)")
	_ = cmd.MarkFlagRequired("password")
	return cmd
}

func runChat(ctx context.Context, opts chatOptions, in io.Reader, out io.Writer) error {
	client := &chatClient{
		baseURL: strings.TrimSuffix(opts.url, "/"),
		http:    &http.Client{Timeout: 30 * time.Second},
	}
	if err := client.login(ctx, opts.password); err != nil {
		return err
	}

	sessionID := opts.session
	if sessionID == "" {
		id, err := client.createSession(ctx)
		if err != nil {
			return err
		}
		sessionID = id
		fmt.Fprintf(out, "Session created: %s\n", sessionID)
	} else {
		history, err := client.history(ctx, sessionID)
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "Session resumed: %s (%d messages)\n", sessionID, len(history))
	}

	frames, err := client.connect(ctx)
	if err != nil {
		return err
	}
	defer client.close()

	fmt.Fprintln(out, dimStyle.Render("Type a message and press Enter to send. /new starts a session, /quit exits."))

	scanner := bufio.NewScanner(in)
	for {
		if ctx.Err() != nil {
			return nil
		}
		fmt.Fprint(out, "> ")
		if !scanner.Scan() {
			return scanner.Err()
		}

		input := strings.TrimSpace(scanner.Text())
		switch input {
		case "":
			continue
		case "/quit":
			fmt.Fprintln(out, "Bye!")
			return nil
		case "/new":
			id, err := client.createSession(ctx)
			if err != nil {
				return err
			}
			sessionID = id
			fmt.Fprintf(out, "Session created: %s\n", sessionID)
			continue
		}

		if err := client.send(sessionID, input); err != nil {
			return fmt.Errorf("send message: %w", err)
		}
		if err := readTurn(frames, sessionID, out); err != nil {
			return err
		}
	}
}

// readTurn prints frames for sessionID until its turn ends. Frames from
// earlier turns on other sessions are skipped.
func readTurn(frames <-chan []byte, sessionID string, out io.Writer) error {
	current := ""
	for data := range frames {
		var base protocol.BaseMessage
		if err := json.Unmarshal(data, &base); err != nil {
			continue
		}
		if base.SessionID != "" && base.SessionID != sessionID {
			continue
		}

		switch base.Type {
		case protocol.TypeReceiveMessage:
			var msg protocol.ReceiveMessage
			if err := json.Unmarshal(data, &msg); err != nil {
				continue
			}
			if msg.ModelID != current {
				current = msg.ModelID
				fmt.Fprintf(out, "\n%s %s\n",
					modelHeaderStyle.Render(fmt.Sprintf("[%d] %s", msg.Order, msg.ModelID)),
					dimStyle.Render(msg.Timestamp.Local().Format(time.TimeOnly)))
			}
			if msg.IsComplete {
				fmt.Fprintln(out)
				continue
			}
			fmt.Fprint(out, msg.Message)

		case protocol.TypeAllResponsesComplete:
			fmt.Fprintln(out)
			return nil

		case protocol.TypeError:
			var msg protocol.ErrorMessage
			if err := json.Unmarshal(data, &msg); err != nil {
				continue
			}
			fmt.Fprintln(out, errorStyle.Render(fmt.Sprintf("error (%s): %s", msg.Code, msg.Message)))
			return nil
		}
	}
	return errors.New("connection closed")
}

// chatClient talks to a relay over its REST routes and WebSocket.
type chatClient struct {
	baseURL string
	http    *http.Client
	token   string
	conn    *websocket.Conn
}

func (c *chatClient) login(ctx context.Context, password string) error {
	var resp struct {
		Success bool   `json:"success"`
		Token   string `json:"token"`
		Message string `json:"message"`
	}
	status, err := c.do(ctx, http.MethodPost, "/api/auth/login", map[string]string{"password": password}, &resp)
	if err != nil {
		return err
	}
	if status != http.StatusOK || !resp.Success {
		return fmt.Errorf("login failed: %s", resp.Message)
	}
	c.token = resp.Token
	return nil
}

func (c *chatClient) createSession(ctx context.Context) (string, error) {
	var resp struct {
		SessionID string `json:"sessionId"`
	}
	status, err := c.do(ctx, http.MethodPost, "/api/sessions/create", nil, &resp)
	if err != nil {
		return "", err
	}
	if status != http.StatusCreated {
		return "", fmt.Errorf("create session: unexpected status %d", status)
	}
	return resp.SessionID, nil
}

func (c *chatClient) history(ctx context.Context, sessionID string) ([]domain.Message, error) {
	var resp struct {
		History []domain.Message     `json:"history"`
		Error   protocol.ErrorDetail `json:"error"`
	}
	status, err := c.do(ctx, http.MethodGet, "/api/sessions/"+url.PathEscape(sessionID)+"/history", nil, &resp)
	if err != nil {
		return nil, err
	}
	if status != http.StatusOK {
		return nil, fmt.Errorf("load session %s: %s", sessionID, resp.Error.Message)
	}
	return resp.History, nil
}

// do sends a JSON request and decodes the JSON reply into out.
func (c *chatClient) do(ctx context.Context, method, path string, body, out any) (int, error) {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return 0, fmt.Errorf("marshal request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return 0, fmt.Errorf("create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return 0, fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return resp.StatusCode, fmt.Errorf("decode %s response: %w", path, err)
	}
	return resp.StatusCode, nil
}

// connect dials the relay WebSocket and starts a reader. The reader keeps
// answering pings while the user is typing.
func (c *chatClient) connect(ctx context.Context) (<-chan []byte, error) {
	wsURL := "ws" + strings.TrimPrefix(c.baseURL, "http") + "/ws?token=" + url.QueryEscape(c.token)
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, wsURL, nil)
	if err != nil {
		return nil, fmt.Errorf("dial: %w", err)
	}
	c.conn = conn

	frames := make(chan []byte, 64)
	go func() {
		defer close(frames)
		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			frames <- data
		}
	}()
	return frames, nil
}

func (c *chatClient) send(sessionID, message string) error {
	return c.conn.WriteJSON(protocol.SendMessage{
		BaseMessage: protocol.BaseMessage{
			Type:      protocol.TypeSendMessage,
			Ts:        time.Now().UnixMilli(),
			SessionID: sessionID,
		},
		Message: message,
	})
}

func (c *chatClient) close() {
	if c.conn == nil {
		return
	}
	_ = c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	_ = c.conn.Close()
}
