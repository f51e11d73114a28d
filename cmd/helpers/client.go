package helpers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/hashicorp/go-cleanhttp"
)

const (
	// EnvEdgeAgentAddr points CLI commands at a running agent.
	EnvEdgeAgentAddr = "EDGE_AGENT_ADDR"

	// DefaultAgentAddr is where a locally started agent listens.
	DefaultAgentAddr = "http://127.0.0.1:8675"
)

// AgentAddr resolves the agent address from the environment.
func AgentAddr() string {
	if addr := os.Getenv(EnvEdgeAgentAddr); addr != "" {
		return addr
	}
	return DefaultAgentAddr
}

// CallAgent performs a JSON request against the local agent's sys surface
// and decodes the response into out.
func CallAgent(ctx context.Context, method, path string, body, out interface{}) error {
	var reader io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(encoded)
	}

	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, method, AgentAddr()+path, reader)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := cleanhttp.DefaultClient().Do(req)
	if err != nil {
		return fmt.Errorf("agent unreachable at %s: %w", AgentAddr(), err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return err
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("agent returned status %d: %s", resp.StatusCode, string(raw))
	}
	if out != nil {
		return json.Unmarshal(raw, out)
	}
	return nil
}
