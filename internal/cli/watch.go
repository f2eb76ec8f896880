// Copyright (C) 2026 Noldarim
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/gorilla/websocket"
	"github.com/spf13/cobra"

	"github.com/noldarim/codeforge/internal/orchestrator/models"
	"github.com/noldarim/codeforge/internal/protocol"
	"github.com/noldarim/codeforge/internal/tui/components/pipelineview"
)

const defaultServerURL = "http://localhost:8080"

func newWatchCmd() *cobra.Command {
	var serverURL string
	var noTUI bool

	cmd := &cobra.Command{
		Use:   "watch <task-id>",
		Short: "Follow a task's pipeline on a running codeforge server",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			client := newServerClient(serverURL)
			return client.watch(cmd, args[0], cfg.Pipeline.MaxIterations, noTUI)
		},
	}
	cmd.Flags().StringVar(&serverURL, "server", defaultServerURL, "Base URL of the codeforge server")
	cmd.Flags().BoolVar(&noTUI, "no-tui", false, "Print agent output as plain text")
	return cmd
}

// serverClient talks to the HTTP API and the /ws event stream.
type serverClient struct {
	base string
	http *http.Client
}

func newServerClient(base string) *serverClient {
	return &serverClient{
		base: strings.TrimRight(base, "/"),
		http: &http.Client{Timeout: queryTimeout},
	}
}

func (c *serverClient) taskURL(taskID, suffix string) string {
	return c.base + "/api/v1/tasks/" + url.PathEscape(taskID) + suffix
}

func (c *serverClient) wsURL() (string, error) {
	u, err := url.Parse(c.base)
	if err != nil {
		return "", fmt.Errorf("invalid server URL: %w", err)
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}
	u.Path = strings.TrimRight(u.Path, "/") + "/ws"
	return u.String(), nil
}

// do sends a JSON request and decodes a JSON response into out.
func (c *serverClient) do(ctx context.Context, method, url string, body, out any) error {
	var rdr io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return err
		}
		rdr = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, url, rdr)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("server unreachable: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		var apiErr struct {
			Error   string `json:"error"`
			Context string `json:"context"`
		}
		_ = json.NewDecoder(resp.Body).Decode(&apiErr)
		if apiErr.Context != "" {
			return fmt.Errorf("%s: %s (HTTP %d)", apiErr.Error, apiErr.Context, resp.StatusCode)
		}
		return fmt.Errorf("%s (HTTP %d)", apiErr.Error, resp.StatusCode)
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

type remoteStatus struct {
	RunID  string           `json:"runId"`
	Status models.RunStatus `json:"status"`
}

func (c *serverClient) status(ctx context.Context, taskID string) (*remoteStatus, error) {
	var s *remoteStatus
	if err := c.do(ctx, http.MethodGet, c.taskURL(taskID, "/pipeline/status"), nil, &s); err != nil {
		return nil, err
	}
	return s, nil
}

func (c *serverClient) cancel(ctx context.Context, taskID, runID string) error {
	return c.do(ctx, http.MethodPost, c.taskURL(taskID, "/pipeline/cancel"), map[string]string{"runId": runID}, nil)
}

// subscribe dials /ws, subscribes to one task and forwards decoded events
// until the connection ends.
func (c *serverClient) subscribe(ctx context.Context, taskID string) (<-chan protocol.Event, func(), error) {
	wsURL, err := c.wsURL()
	if err != nil {
		return nil, nil, err
	}
	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, _, err := dialer.DialContext(ctx, wsURL, nil)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to connect to %s: %w", wsURL, err)
	}

	msg := map[string]any{"type": "subscribe", "filters": map[string]string{"task_id": taskID}}
	if err := conn.WriteJSON(msg); err != nil {
		conn.Close()
		return nil, nil, fmt.Errorf("failed to subscribe: %w", err)
	}

	ch := make(chan protocol.Event, subscriberBuffer)
	done := make(chan struct{})
	go func() {
		defer close(ch)
		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			id, e, err := protocol.DecodeEnvelope(data)
			if err != nil {
				getLog().Warn().Err(err).Msg("Ignoring undecodable message")
				continue
			}
			if id != taskID {
				continue
			}
			switch e.(type) {
			case protocol.HeartbeatEvent, protocol.ConnectedEvent:
				continue
			}
			select {
			case ch <- e:
			case <-done:
				return
			}
		}
	}()
	return ch, func() {
		close(done)
		conn.Close()
	}, nil
}

func (c *serverClient) watch(cmd *cobra.Command, taskID string, maxIterations int, noTUI bool) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	st, err := c.status(ctx, taskID)
	if err != nil {
		return err
	}
	if st == nil {
		return fmt.Errorf("task %s has no pipeline runs", taskID)
	}
	if st.Status != models.RunStatusRunning {
		fmt.Fprintf(cmd.OutOrStdout(), "Run %s is %s; nothing to follow\n", st.RunID, st.Status)
		return nil
	}

	ch, closeConn, err := c.subscribe(ctx, taskID)
	if err != nil {
		return err
	}
	defer closeConn()

	out := cmd.OutOrStdout()
	view := pipelineview.New(100, 30, st.RunID, maxIterations, ch)

	if noTUI {
		sigCtx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
		defer stop()
		var lastAgent models.AgentRole
		for view.State() != pipelineview.StateDone {
			select {
			case <-sigCtx.Done():
				// Stop watching; the run keeps going on the server.
				return nil
			case e, ok := <-ch:
				var next tea.Model
				if !ok {
					next, _ = view.Update(pipelineview.StreamClosedMsg{})
				} else {
					printPlain(out, e, &lastAgent)
					next, _ = view.Update(pipelineview.EventMsg{Event: e})
				}
				view = next.(pipelineview.Model)
			}
		}
	} else {
		var p *tea.Program
		view = view.SetCancelRequest(func() {
			go func() {
				cctx, cancel := context.WithTimeout(context.Background(), queryTimeout)
				defer cancel()
				p.Send(pipelineview.CancelConfirmedMsg{Err: c.cancel(cctx, taskID, st.RunID)})
			}()
		})
		p = tea.NewProgram(view, tea.WithAltScreen())
		final, err := p.Run()
		if err != nil {
			return fmt.Errorf("TUI error: %w", err)
		}
		if m, ok := final.(pipelineview.Model); ok {
			view = m
		}
		fmt.Fprintln(out, view.Feed().Render())
	}

	fmt.Fprintln(out)
	fmt.Fprintln(out, view.Summary().View())
	return nil
}
