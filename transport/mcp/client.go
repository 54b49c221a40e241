package mcp

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/wricardo/puzzlebot/game/engine"
	"github.com/wricardo/puzzlebot/game/service"
)

const (
	ServerName    = "PuzzleBot"
	ServerVersion = "1.0.0"

	// Runs started through "run" wait at most this long for the robot
	runTimeout = 2 * time.Minute
)

var directionItems = map[string]interface{}{
	"type": "string",
	"enum": []string{"up", "down", "left", "right"},
}

// APIError is a non-2xx answer of the REST API
type APIError struct {
	Status  int
	Message string
	Body    []byte
}

func (e *APIError) Error() string {
	if e.Message != "" {
		return e.Message
	}
	return fmt.Sprintf("API error: %d", e.Status)
}

// Client is a thin MCP client that proxies to the REST API
type Client struct {
	baseURL    string
	httpClient *http.Client
	mcpServer  *server.MCPServer
}

// NewClient creates a new MCP client that calls the REST API
func NewClient(baseURL string) *Client {
	c := &Client{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: runTimeout + 10*time.Second,
		},
	}

	c.initMCPServer()
	return c
}

// initMCPServer initializes the MCP server with all tools
func (c *Client) initMCPServer() {
	c.mcpServer = server.NewMCPServer(
		ServerName,
		ServerVersion,
		server.WithToolCapabilities(true),
		server.WithInstructions(`PuzzleBot - MCP Interface

This is a thin client that proxies all requests to the REST API server.

GAME OBJECTIVE:
Program the robot (R) to reach the goal (G). Queue moves first, then run the
whole program. Walls (#) and the board edge end the attempt.

TYPICAL FLOW:
1. list_levels, then create_session
2. game_state to read the board
3. queue_commands (or add_command) to build the program
4. run, then next_puzzle on success or reset to try again

Call game_instructions for the complete rules.`),
	)

	c.registerTools()
}

// registerTools registers all MCP tools
func (c *Client) registerTools() {
	sessionID := mcp.WithString("session_id", mcp.Required(), mcp.Description("Session ID"))

	c.mcpServer.AddTool(mcp.NewTool("list_levels",
		mcp.WithDescription("List the difficulty levels and their puzzles"),
	), c.handleListLevels)

	c.mcpServer.AddTool(mcp.NewTool("create_session",
		mcp.WithDescription("Create a new play session on a catalog puzzle"),
		mcp.WithNumber("level", mcp.Description("Level number (default 1)")),
		mcp.WithNumber("index", mcp.Description("Puzzle index within the level (default 1)")),
	), c.handleCreateSession)

	c.mcpServer.AddTool(mcp.NewTool("game_state",
		mcp.WithDescription("Get the board, robot position, queue and score of a session"),
		sessionID,
	), c.handleGameState)

	c.mcpServer.AddTool(mcp.NewTool("add_command",
		mcp.WithDescription("Append one move to the command queue"),
		sessionID,
		mcp.WithString("direction",
			mcp.Required(),
			mcp.Enum("up", "down", "left", "right"),
			mcp.Description("Direction to queue"),
		),
	), c.handleAddCommand)

	c.mcpServer.AddTool(mcp.NewTool("queue_commands",
		mcp.WithDescription("Append several moves to the command queue"),
		sessionID,
		mcp.WithArray("directions",
			mcp.Required(),
			mcp.Items(directionItems),
			mcp.Description("Directions to queue in order"),
		),
		mcp.WithString("intent",
			mcp.Description("Brief explanation of the plan behind these moves"),
		),
	), c.handleQueueCommands)

	c.mcpServer.AddTool(mcp.NewTool("remove_command",
		mcp.WithDescription("Remove the last queued move"),
		sessionID,
	), c.handleRemoveCommand)

	c.mcpServer.AddTool(mcp.NewTool("clear_commands",
		mcp.WithDescription("Remove every queued move"),
		sessionID,
	), c.handleClearCommands)

	c.mcpServer.AddTool(mcp.NewTool("run",
		mcp.WithDescription("Execute the queued program and wait for the result"),
		sessionID,
	), c.handleRun)

	c.mcpServer.AddTool(mcp.NewTool("reset",
		mcp.WithDescription("Start a new attempt: robot back to start, queue emptied"),
		sessionID,
	), c.handleReset)

	c.mcpServer.AddTool(mcp.NewTool("next_puzzle",
		mcp.WithDescription("Load the next puzzle of the catalog"),
		sessionID,
	), c.handleNextPuzzle)

	c.mcpServer.AddTool(mcp.NewTool("game_instructions",
		mcp.WithDescription("Get comprehensive game instructions and rules"),
	), c.handleGameInstructions)
}

// GetMCPServer returns the underlying MCP server for serving
func (c *Client) GetMCPServer() *server.MCPServer {
	return c.mcpServer
}

// Helper methods for API calls

func (c *Client) apiCall(ctx context.Context, method, path string, body interface{}, result interface{}) error {
	url := c.baseURL + path

	var reqBody io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reqBody = bytes.NewBuffer(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, reqBody)
	if err != nil {
		return err
	}

	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		data, _ := io.ReadAll(resp.Body)
		apiErr := &APIError{Status: resp.StatusCode, Body: data}
		var errResp struct {
			Error string `json:"error"`
		}
		if json.Unmarshal(data, &errResp) == nil {
			apiErr.Message = errResp.Error
		}
		return apiErr
	}

	if result != nil {
		return json.NewDecoder(resp.Body).Decode(result)
	}

	return nil
}

func sessionPath(request mcp.CallToolRequest, suffix string) (string, error) {
	id, err := request.RequireString("session_id")
	if err != nil {
		return "", err
	}
	return "/api/sessions/" + id + suffix, nil
}

// Tool handlers

func (c *Client) handleListLevels(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	var response struct {
		Levels []service.LevelInfo `json:"levels"`
	}
	if err := c.apiCall(ctx, "GET", "/api/levels", nil, &response); err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	var b strings.Builder
	b.WriteString("Available Levels:\n")
	for _, level := range response.Levels {
		fmt.Fprintf(&b, "\nLevel %d - %s\n", level.Level, level.Name)
		if level.Description != "" {
			fmt.Fprintf(&b, "  %s\n", level.Description)
		}
		for _, p := range level.Puzzles {
			fmt.Fprintf(&b, "  %d. %s (%dx%d, max %d commands", p.Index, p.Name, p.GridSize, p.GridSize, p.MaxCommands)
			if p.Keys > 0 {
				fmt.Fprintf(&b, ", %d keys", p.Keys)
			}
			if p.Traps > 0 {
				fmt.Fprintf(&b, ", %d traps", p.Traps)
			}
			if p.OptimalMoves > 0 {
				fmt.Fprintf(&b, ", optimal %d moves", p.OptimalMoves)
			}
			b.WriteString(")\n")
		}
	}
	return mcp.NewToolResultText(b.String()), nil
}

func (c *Client) handleCreateSession(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	body := map[string]int{
		"level": request.GetInt("level", 0),
		"index": request.GetInt("index", 0),
	}

	var session service.SessionInfo
	if err := c.apiCall(ctx, "POST", "/api/sessions", body, &session); err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	result := fmt.Sprintf("Created session: %s\n\n%s", session.ID, formatState(&session.State))
	return mcp.NewToolResultText(result), nil
}

func (c *Client) handleGameState(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return c.stateCall(ctx, request, "GET", "/state", nil, "")
}

func (c *Client) handleAddCommand(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	direction, err := request.RequireString("direction")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return c.stateCall(ctx, request, "POST", "/commands", map[string]string{"direction": direction}, "Queued "+direction)
}

func (c *Client) handleQueueCommands(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	directions := request.GetStringSlice("directions", nil)
	if len(directions) == 0 {
		return mcp.NewToolResultError("directions must contain at least one move"), nil
	}

	body := map[string][]string{"directions": directions}
	return c.stateCall(ctx, request, "POST", "/commands", body, fmt.Sprintf("Queued %d moves", len(directions)))
}

func (c *Client) handleRemoveCommand(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return c.stateCall(ctx, request, "DELETE", "/commands", nil, "Removed last move")
}

func (c *Client) handleClearCommands(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return c.stateCall(ctx, request, "POST", "/commands/clear", nil, "Queue cleared")
}

func (c *Client) stateCall(ctx context.Context, request mcp.CallToolRequest, method, suffix string, body interface{}, header string) (*mcp.CallToolResult, error) {
	path, err := sessionPath(request, suffix)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	var state engine.Snapshot
	if err := c.apiCall(ctx, method, path, body, &state); err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	result := formatState(&state)
	if header != "" {
		result = header + "\n\n" + result
	}
	return mcp.NewToolResultText(result), nil
}

func (c *Client) handleRun(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	path, err := sessionPath(request, "/run?wait=true")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	ctx, cancel := context.WithTimeout(ctx, runTimeout)
	defer cancel()

	var result service.RunResult
	if err := c.apiCall(ctx, "POST", path, nil, &result); err != nil {
		// A refused run answers 409 with the result body
		var apiErr *APIError
		if !errors.As(err, &apiErr) || apiErr.Status != http.StatusConflict || json.Unmarshal(apiErr.Body, &result) != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
	}

	return mcp.NewToolResultText(formatRunResult(&result)), nil
}

func (c *Client) handleReset(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	path, err := sessionPath(request, "/reset")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	var response struct {
		Message string           `json:"message"`
		State   *engine.Snapshot `json:"state"`
	}
	if err := c.apiCall(ctx, "POST", path, nil, &response); err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	result := fmt.Sprintf("%s\n\n%s", response.Message, formatState(response.State))
	return mcp.NewToolResultText(result), nil
}

func (c *Client) handleNextPuzzle(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	path, err := sessionPath(request, "/next")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	var session service.SessionInfo
	if err := c.apiCall(ctx, "POST", path, nil, &session); err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	return mcp.NewToolResultText("Loaded next puzzle\n\n" + formatState(&session.State)), nil
}

func (c *Client) handleGameInstructions(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return mcp.NewToolResultText(instructions), nil
}

const instructions = `PuzzleBot - Complete Instructions

GAME OBJECTIVE:
Write a program of moves that takes the robot from its start cell to the goal.

HOW A PUZZLE IS PLAYED:
1. Queue moves (up, down, left, right). The queue holds at most max_commands moves.
2. Run the program. The robot executes the queue one move per step.
3. The attempt ends in success or failure. Reset to try again, or load the next puzzle.

BOARD LEGEND (game_state):
- R - Robot (current position)
- S - Start cell
- G - Goal
- # - Wall
- K - Key still to collect
- X - Armed trap
- x - Trap that is not armed yet
- . - Empty cell

Rows are numbered from the top (row 0), columns from the left (col 0).
"up" decreases the row, "right" increases the column.

RULES:
- Moving off the board or into a wall ends the attempt immediately.
- Keys: on puzzles with keys, every key must be collected before the goal counts.
  Reaching the goal early is not a failure; the program keeps running.
- Traps arm as soon as the first key is picked up. Stepping on an armed trap fails.
- If the queue runs out before the goal is reached, the attempt fails.

SCORING:
- Solved on the first attempt: 100 points.
- Every further attempt costs 20 points, with a minimum of 10.
- Reset starts a new attempt; attempts are counted per puzzle.

STRATEGY:
- Count cells before queueing: plan the full path, then use queue_commands once.
- On key puzzles, route through every K first and keep clear of traps afterwards.
- The optimal move count shown by list_levels is the shortest solution.`

// Formatting helpers

func formatState(state *engine.Snapshot) string {
	if state == nil {
		return "No state available"
	}
	if state.Puzzle == nil {
		return fmt.Sprintf("Phase: %s\nNo puzzle loaded", state.Phase)
	}

	p := state.Puzzle
	var b strings.Builder
	fmt.Fprintf(&b, "Puzzle: Level %d #%d", p.Level, p.Index)
	if p.Name != "" {
		fmt.Fprintf(&b, " - %s", p.Name)
	}
	b.WriteString("\n")
	fmt.Fprintf(&b, "Phase: %s | Attempts: %d | Score: %d\n", state.Phase, state.Attempts, state.Score)
	if state.FailureReason != "" {
		fmt.Fprintf(&b, "Failure: %s\n", state.FailureReason)
	}
	fmt.Fprintf(&b, "Robot: row %d, col %d | Goal: row %d, col %d\n",
		state.RobotPosition.Row, state.RobotPosition.Col, p.Goal.Row, p.Goal.Col)
	if len(p.Keys) > 0 {
		armed := "not armed"
		if state.TrapsArmed {
			armed = "ARMED"
		}
		fmt.Fprintf(&b, "Keys: %d/%d collected | Traps: %s\n", state.KeysCollected, len(p.Keys), armed)
	}
	fmt.Fprintf(&b, "Queue (%d/%d): %s\n\n", len(state.CommandQueue), state.MaxCommands, formatQueue(state.CommandQueue))
	b.WriteString(formatBoard(state))
	return b.String()
}

func formatQueue(queue []engine.Direction) string {
	if len(queue) == 0 {
		return "(empty)"
	}
	parts := make([]string, len(queue))
	for i, d := range queue {
		parts[i] = string(d)
	}
	return strings.Join(parts, ", ")
}

// formatBoard renders the layout with the robot, keys and traps overlaid
func formatBoard(state *engine.Snapshot) string {
	p := state.Puzzle
	grid := make([][]byte, len(p.Layout))
	for r, row := range p.Layout {
		grid[r] = []byte(row)
	}
	set := func(pos engine.Position, c byte) {
		if pos.Row >= 0 && pos.Row < len(grid) && pos.Col >= 0 && pos.Col < len(grid[pos.Row]) {
			grid[pos.Row][pos.Col] = c
		}
	}

	trap := byte('x')
	if state.TrapsArmed {
		trap = 'X'
	}
	for _, t := range p.Traps {
		set(t, trap)
	}
	for _, k := range state.RemainingKeys {
		set(k, 'K')
	}
	set(state.RobotPosition, 'R')

	var b strings.Builder
	b.WriteString("   ")
	for c := 0; c < p.GridSize; c++ {
		fmt.Fprintf(&b, "%d", c%10)
	}
	b.WriteString("\n")
	for r, row := range grid {
		fmt.Fprintf(&b, "%2d %s\n", r, row)
	}
	return b.String()
}

func formatRunResult(result *service.RunResult) string {
	var b strings.Builder
	switch {
	case !result.Accepted:
		b.WriteString("Run refused: the queue is empty or the attempt is not idle (reset first)\n")
	case result.State.Phase == engine.Success:
		fmt.Fprintf(&b, "SUCCESS in %d steps! Score: %d\n", result.State.StepsExecuted, result.State.Score)
	case result.State.Phase == engine.Failed:
		fmt.Fprintf(&b, "FAILED after %d steps (%s). Reset and try again.\n", result.State.StepsExecuted, result.State.FailureReason)
	default:
		fmt.Fprintf(&b, "Run did not finish (phase %s)\n", result.State.Phase)
	}
	b.WriteString("\n")
	b.WriteString(formatState(&result.State))
	return b.String()
}
