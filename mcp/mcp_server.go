// Package mcp exposes the escrow workflow as MCP tools.
package mcp

import (
	"context"
	"math/big"
	"strconv"
	"strings"

	"escrow-backend/core/escrow"
	"escrow-backend/metadata"
	"escrow-backend/orchestrator"
	"escrow-backend/registry"

	"github.com/ethereum/go-ethereum/common"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
)

// Sessions is the wallet session surface the tools drive.
type Sessions interface {
	Connect(ctx context.Context) (escrow.Session, error)
	Disconnect()
	Current() (escrow.Session, bool)
}

// Jobs is the orchestrator surface the tools drive.
type Jobs interface {
	CreationFee(ctx context.Context) (*big.Int, error)
	CreateJob(ctx context.Context, req orchestrator.CreateRequest) (orchestrator.CreateResult, error)
	Transition(ctx context.Context, jobID uint64, action escrow.Action, workHash string) (common.Hash, error)
	SubmitFiles(ctx context.Context, jobID uint64, note string, files []metadata.File) (common.Hash, string, error)
	Reconcile(ctx context.Context, id uint64) (escrow.Job, bool, error)
	SyncAddress(ctx context.Context, addr common.Address, role escrow.Role) ([]escrow.Job, error)
}

// MCPServer wraps the mcp-go server with the escrow tools.
type MCPServer struct {
	mcpServer *server.MCPServer
	sessions  Sessions
	jobs      Jobs
	registry  *registry.Registry
	docs      *metadata.Documents
	handlers  map[string]server.ToolHandlerFunc
}

// NewMCPServer registers every tool against the given collaborators.
func NewMCPServer(sessions Sessions, jobs Jobs, reg *registry.Registry, docs *metadata.Documents) *MCPServer {
	mcpServer := server.NewMCPServer(
		"Escrow MCP Server",
		"1.0.0",
		server.WithToolCapabilities(true),
	)

	s := &MCPServer{
		mcpServer: mcpServer,
		sessions:  sessions,
		jobs:      jobs,
		registry:  reg,
		docs:      docs,
		handlers:  make(map[string]server.ToolHandlerFunc),
	}
	s.registerTools()
	return s
}

// GetMCPServer returns the underlying MCP server for transport setup
func (s *MCPServer) GetMCPServer() *server.MCPServer {
	return s.mcpServer
}

func (s *MCPServer) add(tool mcp.Tool, h server.ToolHandlerFunc) {
	s.handlers[tool.Name] = h
	s.mcpServer.AddTool(tool, h)
}

func (s *MCPServer) registerTools() {
	// Wallet
	s.registerConnectTool()
	s.registerDisconnectTool()
	s.registerSessionTool()

	// Creation
	s.registerCreationFeeTool()
	s.registerCreateJobTool()

	// Lifecycle
	s.registerTransitionTool("accept_job", escrow.ActionAccept, "Accept a funded job as its freelancer")
	s.registerTransitionTool("start_work", escrow.ActionStart, "Mark an accepted job as in progress")
	s.registerSubmitWorkTool()
	s.registerTransitionTool("approve_work", escrow.ActionApprove, "Approve submitted work and release the escrow")
	s.registerTransitionTool("raise_dispute", escrow.ActionDispute, "Dispute submitted work")

	// Queries
	s.registerGetJobTool()
	s.registerListJobsTool()
	s.registerReconcileTool()
	s.registerJobSpecTool()
	s.registerPendingTool()
}

func (s *MCPServer) registerConnectTool() {
	tool := mcp.NewTool("connect_wallet",
		mcp.WithDescription("Request accounts from the signer and open a session"),
	)
	s.add(tool, func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		sess, err := s.sessions.Connect(ctx)
		if err != nil {
			return errorResult("connect_wallet", err), nil
		}
		return jsonResult(sessionView(sess))
	})
}

func (s *MCPServer) registerDisconnectTool() {
	tool := mcp.NewTool("disconnect_wallet",
		mcp.WithDescription("Forget the current session. The signer keeps its authorization."),
	)
	s.add(tool, func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		s.sessions.Disconnect()
		return mcp.NewToolResultText("disconnected"), nil
	})
}

func (s *MCPServer) registerSessionTool() {
	tool := mcp.NewTool("session_status",
		mcp.WithDescription("Show the connected account and its balance"),
	)
	s.add(tool, func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		sess, ok := s.sessions.Current()
		if !ok {
			return jsonResult(map[string]any{"is_connected": false})
		}
		return jsonResult(sessionView(sess))
	})
}

func sessionView(sess escrow.Session) map[string]any {
	out := map[string]any{
		"address":      sess.Address.Hex(),
		"is_connected": sess.IsConnected,
	}
	if sess.Balance != nil {
		out["balance"] = escrow.FormatAmount(sess.Balance)
		out["balance_wei"] = sess.Balance.String()
	}
	return out
}

func (s *MCPServer) registerCreationFeeTool() {
	tool := mcp.NewTool("creation_fee",
		mcp.WithDescription("Read the factory's current job creation fee"),
	)
	s.add(tool, func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		fee, err := s.jobs.CreationFee(ctx)
		if err != nil {
			return errorResult("creation_fee", err), nil
		}
		return jsonResult(map[string]string{
			"fee":     escrow.FormatAmount(fee),
			"fee_wei": fee.String(),
		})
	})
}

func (s *MCPServer) registerCreateJobTool() {
	tool := mcp.NewTool("create_job",
		mcp.WithDescription("Upload a job specification and fund a new escrow with price plus the creation fee"),
		mcp.WithString("freelancer_address", mcp.Required(), mcp.Description("Freelancer account")),
		mcp.WithString("price", mcp.Required(), mcp.Description("Escrow amount in ether, e.g. 2.5")),
		mcp.WithString("title", mcp.Required(), mcp.Description("Job title")),
		mcp.WithString("description", mcp.Required(), mcp.Description("Job description")),
		mcp.WithArray("requirements", mcp.Required(), mcp.Description("Requirements, at least one"), mcp.WithStringItems()),
		mcp.WithArray("deliverables", mcp.Required(), mcp.Description("Deliverables, at least one"), mcp.WithStringItems()),
	)
	s.add(tool, func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		const name = "create_job"
		freelancer, err := requireAddress(request, "freelancer_address")
		if err != nil {
			return errorResult(name, err), nil
		}
		price, err := request.RequireString("price")
		if err != nil {
			return errorResult(name, missingField("price")), nil
		}
		title, err := request.RequireString("title")
		if err != nil {
			return errorResult(name, missingField("title")), nil
		}
		description, err := request.RequireString("description")
		if err != nil {
			return errorResult(name, missingField("description")), nil
		}

		res, err := s.jobs.CreateJob(ctx, orchestrator.CreateRequest{
			Freelancer:   freelancer,
			Price:        price,
			Title:        title,
			Description:  description,
			Requirements: request.GetStringSlice("requirements", nil),
			Deliverables: request.GetStringSlice("deliverables", nil),
		})
		if err != nil {
			return errorResult(name, err), nil
		}
		out := map[string]any{
			"job":           res.Job,
			"tx_hash":       res.TxHash.Hex(),
			"metadata_hash": res.MetadataHash,
		}
		if res.Fee != nil {
			out["fee_wei"] = res.Fee.String()
		}
		return jsonResult(out)
	})
}

func (s *MCPServer) registerTransitionTool(name string, action escrow.Action, description string) {
	tool := mcp.NewTool(name,
		mcp.WithDescription(description),
		mcp.WithString("job_id", mcp.Required(), mcp.Description("Job ID")),
	)
	s.add(tool, func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		id, err := requireJobID(request)
		if err != nil {
			return errorResult(name, err), nil
		}
		tx, err := s.jobs.Transition(ctx, id, action, "")
		if err != nil {
			return errorResult(name, err), nil
		}
		return jsonResult(map[string]any{
			"job_id":  id,
			"tx_hash": tx.Hex(),
			"status":  action.Target(),
		})
	})
}

func (s *MCPServer) registerSubmitWorkTool() {
	tool := mcp.NewTool("submit_work",
		mcp.WithDescription("Submit work for review. Pass work_hash for content already stored, or file_name and content to upload it first."),
		mcp.WithString("job_id", mcp.Required(), mcp.Description("Job ID")),
		mcp.WithString("work_hash", mcp.Description("Content hash of the deliverable")),
		mcp.WithString("file_name", mcp.Description("Name of an inline deliverable")),
		mcp.WithString("content", mcp.Description("Inline deliverable text")),
		mcp.WithString("note", mcp.Description("Note stored with an uploaded manifest")),
	)
	s.add(tool, func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		const name = "submit_work"
		id, err := requireJobID(request)
		if err != nil {
			return errorResult(name, err), nil
		}
		hash := strings.TrimSpace(request.GetString("work_hash", ""))
		content := request.GetString("content", "")
		var tx common.Hash
		switch {
		case hash != "":
			tx, err = s.jobs.Transition(ctx, id, escrow.ActionSubmit, hash)
		case content != "":
			file := metadata.File{Name: request.GetString("file_name", "deliverable.txt"), Data: []byte(content)}
			tx, hash, err = s.jobs.SubmitFiles(ctx, id, request.GetString("note", ""), []metadata.File{file})
		default:
			return errorResult(name, missingField("work_hash")), nil
		}
		if err != nil {
			return errorResult(name, err), nil
		}
		return jsonResult(map[string]any{
			"job_id":    id,
			"tx_hash":   tx.Hex(),
			"work_hash": hash,
			"status":    escrow.StatusSubmitted,
		})
	})
}

func (s *MCPServer) registerGetJobTool() {
	tool := mcp.NewTool("get_job",
		mcp.WithDescription("Get a job, reading it from the ledger if it has not been observed yet"),
		mcp.WithString("job_id", mcp.Required(), mcp.Description("Job ID")),
	)
	s.add(tool, func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		const name = "get_job"
		id, err := requireJobID(request)
		if err != nil {
			return errorResult(name, err), nil
		}
		if job, ok := s.registry.ByID(id); ok {
			return jsonResult(job)
		}
		job, found, err := s.jobs.Reconcile(ctx, id)
		if err != nil {
			return errorResult(name, err), nil
		}
		if !found {
			return errorResult(name, escrow.NewError(escrow.ErrNotFound, name, "job "+strconv.FormatUint(id, 10), nil)), nil
		}
		return jsonResult(job)
	})
}

func (s *MCPServer) registerListJobsTool() {
	tool := mcp.NewTool("list_jobs",
		mcp.WithDescription("List jobs where an address is the client or the freelancer"),
		mcp.WithString("address", mcp.Description("Account; defaults to the connected one")),
		mcp.WithString("role", mcp.Description("client or freelancer"), mcp.Enum("client", "freelancer")),
		mcp.WithBoolean("sync", mcp.Description("Re-read the address's jobs from the ledger first")),
	)
	s.add(tool, func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		const name = "list_jobs"
		addr, err := s.addressOrSession(request)
		if err != nil {
			return errorResult(name, err), nil
		}
		role, ok := escrow.ParseRole(request.GetString("role", "client"))
		if !ok {
			return errorResult(name, invalidField("role", "role must be client or freelancer")), nil
		}
		var syncErr error
		if request.GetBool("sync", false) {
			_, syncErr = s.jobs.SyncAddress(ctx, addr, role)
		}
		jobs := s.registry.ForAddress(addr, role)
		out := map[string]any{
			"address":     addr.Hex(),
			"role":        role,
			"jobs":        jobs,
			"total_count": len(jobs),
		}
		if syncErr != nil {
			out["sync_error"] = classifyError(name, syncErr)
		}
		return jsonResult(out)
	})
}

func (s *MCPServer) registerReconcileTool() {
	tool := mcp.NewTool("reconcile_job",
		mcp.WithDescription("Re-read a job from the ledger and merge it into the registry"),
		mcp.WithString("job_id", mcp.Required(), mcp.Description("Job ID")),
	)
	s.add(tool, func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		const name = "reconcile_job"
		id, err := requireJobID(request)
		if err != nil {
			return errorResult(name, err), nil
		}
		job, found, err := s.jobs.Reconcile(ctx, id)
		if err != nil {
			return errorResult(name, err), nil
		}
		if !found {
			return errorResult(name, escrow.NewError(escrow.ErrNotFound, name, "job "+strconv.FormatUint(id, 10), nil)), nil
		}
		return jsonResult(job)
	})
}

func (s *MCPServer) registerJobSpecTool() {
	tool := mcp.NewTool("get_job_spec",
		mcp.WithDescription("Fetch the job specification document a job's metadata hash points to"),
		mcp.WithString("job_id", mcp.Required(), mcp.Description("Job ID")),
	)
	s.add(tool, func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		const name = "get_job_spec"
		id, err := requireJobID(request)
		if err != nil {
			return errorResult(name, err), nil
		}
		job, ok := s.registry.ByID(id)
		if !ok {
			return errorResult(name, escrow.NewError(escrow.ErrNotFound, name, "job "+strconv.FormatUint(id, 10)+" not observed; call get_job", nil)), nil
		}
		spec, err := s.docs.GetJobSpec(ctx, job.MetadataHash)
		if err != nil {
			return errorResult(name, err), nil
		}
		return jsonResult(spec)
	})
}

func (s *MCPServer) registerPendingTool() {
	tool := mcp.NewTool("list_pending",
		mcp.WithDescription("List writes that were submitted but not yet confirmed"),
	)
	s.add(tool, func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		pending := s.registry.Pending()
		items := make([]map[string]any, 0, len(pending))
		for _, p := range pending {
			item := map[string]any{
				"id":         p.ID,
				"action":     p.Action,
				"escrow":     p.Escrow.Hex(),
				"signer":     p.Signer.Hex(),
				"target":     p.Target,
				"started_at": p.StartedAt,
			}
			if p.JobID != 0 {
				item["job_id"] = p.JobID
			}
			if p.TxHash != (common.Hash{}) {
				item["tx_hash"] = p.TxHash.Hex()
			}
			items = append(items, item)
		}
		return jsonResult(map[string]any{"pending": items, "total_count": len(items)})
	})
}

func requireJobID(request mcp.CallToolRequest) (uint64, error) {
	raw, err := request.RequireString("job_id")
	if err != nil {
		return 0, missingField("job_id")
	}
	id, err := strconv.ParseUint(strings.TrimSpace(raw), 10, 64)
	if err != nil || id == 0 {
		return 0, invalidField("job_id", "job_id must be a positive integer")
	}
	return id, nil
}

func requireAddress(request mcp.CallToolRequest, field string) (common.Address, error) {
	raw, err := request.RequireString(field)
	if err != nil {
		return common.Address{}, missingField(field)
	}
	return parseAddress(field, raw)
}

func parseAddress(field, raw string) (common.Address, error) {
	raw = strings.TrimSpace(raw)
	if !common.IsHexAddress(raw) {
		return common.Address{}, invalidField(field, field+" is not a hex address")
	}
	return common.HexToAddress(raw), nil
}

func (s *MCPServer) addressOrSession(request mcp.CallToolRequest) (common.Address, error) {
	if raw := request.GetString("address", ""); raw != "" {
		return parseAddress("address", raw)
	}
	sess, ok := s.sessions.Current()
	if !ok {
		return common.Address{}, escrow.NewError(escrow.ErrNoSigner, "list_jobs", "no address given and no session", nil)
	}
	return sess.Address, nil
}
