// Package api is the HTTP client for the arena server
package api

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"arena/internal/client/display"
	"arena/internal/server/core"
)

type Client struct {
	BaseURL    string
	AuthToken  string
	HTTPClient *http.Client
	Verbose    bool
	Out        io.Writer
}

func New(baseURL string) *Client {
	return &Client{
		BaseURL: strings.TrimRight(baseURL, "/"),
		HTTPClient: &http.Client{
			// Outlasts the server's long-poll window
			Timeout: 35 * time.Second,
		},
		Out: os.Stdout,
	}
}

func (c *Client) SetVerbose(v bool) {
	c.Verbose = v
}

// SetBaseURL updates the API base URL for the client
func (c *Client) SetBaseURL(url string) {
	c.BaseURL = strings.TrimRight(url, "/")
}

func (c *Client) SetToken(token string) {
	c.AuthToken = token
}

func (c *Client) doRequest(method, path string, body any, result any) error {
	url := c.BaseURL + path

	var bodyReader io.Reader
	var bodyJSON []byte
	if body != nil {
		var err error
		if bodyJSON, err = json.Marshal(body); err != nil {
			return err
		}
		bodyReader = bytes.NewReader(bodyJSON)
	}

	req, err := http.NewRequest(method, url, bodyReader)
	if err != nil {
		return err
	}

	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.AuthToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.AuthToken)
	}

	fmt.Fprintf(c.Out, "\n%s[API] %s %s%s\n", display.Blue, method, path, display.Reset)
	if len(bodyJSON) > 0 {
		if c.Verbose {
			fmt.Fprintf(c.Out, "%sRequest Body:%s\n%s\n", display.Cyan, display.Reset, indent(bodyJSON))
		} else {
			fmt.Fprintf(c.Out, "%s%s%s\n", display.Blue, bodyJSON, display.Reset)
		}
	}

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		fmt.Fprintf(c.Out, "%s[ERROR] %s%s\n", display.Red, err.Error(), display.Reset)
		return err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}

	statusColor := display.Green
	if resp.StatusCode >= 400 {
		statusColor = display.Red
	}
	fmt.Fprintf(c.Out, "%s[%d %s]%s\n", statusColor, resp.StatusCode, http.StatusText(resp.StatusCode), display.Reset)

	if c.Verbose && len(respBody) > 0 {
		fmt.Fprintf(c.Out, "%sResponse Body:%s\n%s\n", display.Cyan, display.Reset, indent(respBody))
	}

	if resp.StatusCode >= 400 {
		apiErr := &Error{Status: resp.StatusCode}
		if err := json.Unmarshal(respBody, &apiErr.ErrorResponse); err != nil {
			apiErr.ErrorResponse.Error = strings.TrimSpace(string(respBody))
		}
		if !c.Verbose {
			fmt.Fprintf(c.Out, "%sError: %s%s\n", display.Red, apiErr.ErrorResponse.Error, display.Reset)
			if apiErr.Details != "" {
				fmt.Fprintf(c.Out, "%sDetails: %s%s\n", display.Red, apiErr.Details, display.Reset)
			}
		}
		return apiErr
	}

	if result != nil && len(respBody) > 0 {
		if err := json.Unmarshal(respBody, result); err != nil {
			fmt.Fprintf(c.Out, "%sResponse parse error: %s%s\n", display.Red, err.Error(), display.Reset)
			return err
		}
	}

	return nil
}

func indent(raw []byte) string {
	var out bytes.Buffer
	if err := json.Indent(&out, raw, "", "  "); err != nil {
		return string(raw)
	}
	return out.String()
}

// API Methods

func (c *Client) Health() (*HealthResponse, error) {
	var resp HealthResponse
	err := c.doRequest("GET", "/health", nil, &resp)
	return &resp, err
}

func (c *Client) ListAgents() ([]core.AgentInfo, error) {
	var resp []core.AgentInfo
	err := c.doRequest("GET", "/api/v1/agents", nil, &resp)
	return resp, err
}

func (c *Client) ListMatches() ([]core.MatchSummary, error) {
	var resp []core.MatchSummary
	err := c.doRequest("GET", "/api/v1/matches", nil, &resp)
	return resp, err
}

func (c *Client) CreateMatch(white, black string) (*core.MatchResponse, error) {
	var resp core.MatchResponse
	err := c.doRequest("POST", "/api/v1/matches", &core.CreateMatchRequest{White: white, Black: black}, &resp)
	return &resp, err
}

func (c *Client) GetMatch(matchID string) (*core.MatchResponse, error) {
	var resp core.MatchResponse
	err := c.doRequest("GET", "/api/v1/matches/"+matchID, nil, &resp)
	return &resp, err
}

// WaitMatch long-polls until the match version moves past version or the server times out
func (c *Client) WaitMatch(matchID string, version int) (*core.MatchResponse, error) {
	var resp core.MatchResponse
	path := fmt.Sprintf("/api/v1/matches/%s?wait=true&version=%d", matchID, version)
	err := c.doRequest("GET", path, nil, &resp)
	return &resp, err
}

func (c *Client) DeleteMatch(matchID string) error {
	return c.doRequest("DELETE", "/api/v1/matches/"+matchID, nil, nil)
}

func (c *Client) Play(matchID string) (*core.MatchResponse, error) {
	return c.control(matchID, "play")
}

func (c *Client) Pause(matchID string) (*core.MatchResponse, error) {
	return c.control(matchID, "pause")
}

func (c *Client) Step(matchID string) (*core.MatchResponse, error) {
	return c.control(matchID, "step")
}

func (c *Client) Reset(matchID string) (*core.MatchResponse, error) {
	return c.control(matchID, "reset")
}

func (c *Client) control(matchID, action string) (*core.MatchResponse, error) {
	var resp core.MatchResponse
	err := c.doRequest("POST", "/api/v1/matches/"+matchID+"/"+action, nil, &resp)
	return &resp, err
}

func (c *Client) LoadAgents(matchID, white, black string) (*core.MatchResponse, error) {
	var resp core.MatchResponse
	err := c.doRequest("PUT", "/api/v1/matches/"+matchID+"/agents", &core.LoadAgentsRequest{White: white, Black: black}, &resp)
	return &resp, err
}

func (c *Client) UpdateSettings(matchID string, req core.SettingsRequest) (*core.MatchResponse, error) {
	var resp core.MatchResponse
	err := c.doRequest("PUT", "/api/v1/matches/"+matchID+"/settings", &req, &resp)
	return &resp, err
}

// RawRequest performs an arbitrary request, body is sent as JSON when it parses
func (c *Client) RawRequest(method, path string, body string) error {
	var bodyData any
	if body != "" {
		if err := json.Unmarshal([]byte(body), &bodyData); err != nil {
			bodyData = body
		}
	}
	return c.doRequest(method, path, bodyData, nil)
}
