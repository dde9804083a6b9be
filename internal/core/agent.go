package core

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
)

// AgentResponse is the body an agent returns for POST /run.
type AgentResponse struct {
	Result
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
	AgentID string `json:"agentId,omitempty"`
}

// AgentExecutor dispatches invocations to a remote agent over HTTP. The agent
// must see the same work and artifact directories as the runner.
type AgentExecutor struct {
	BaseURL string
	Client  *http.Client
}

func NewAgentExecutor(baseURL string) *AgentExecutor {
	return &AgentExecutor{BaseURL: strings.TrimRight(baseURL, "/"), Client: http.DefaultClient}
}

func (a *AgentExecutor) Execute(ctx context.Context, inv Invocation) (Result, error) {
	body, err := json.Marshal(inv)
	if err != nil {
		return Result{}, fmt.Errorf("encode invocation: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.BaseURL+"/run", bytes.NewReader(body))
	if err != nil {
		return Result{}, fmt.Errorf("build agent request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := a.Client.Do(req)
	if err != nil {
		return Result{}, fmt.Errorf("agent %s: %w", a.BaseURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return Result{}, fmt.Errorf("agent %s: %s: %s", a.BaseURL, resp.Status, strings.TrimSpace(string(msg)))
	}

	var ar AgentResponse
	if err := json.NewDecoder(resp.Body).Decode(&ar); err != nil {
		return Result{}, fmt.Errorf("decode agent response: %w", err)
	}
	if !ar.Success {
		return ar.Result, fmt.Errorf("agent %s: %s: %w", ar.AgentID, ar.Error, ErrToolFailure)
	}
	return ar.Result, nil
}
