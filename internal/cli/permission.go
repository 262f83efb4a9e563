package cli

import (
	"context"
	"time"

	"github.com/allyrun/ally/internal/agent"
	"github.com/allyrun/ally/internal/config"
	"github.com/allyrun/ally/pkg/models"
)

// permissionRequest is one pending confirmation handed to the REPL loop,
// which prints the prompt and answers via reply.
type permissionRequest struct {
	call    models.ToolCall
	preview string
	reply   chan bool
}

// promptBroker implements agent.PermissionBroker by parking each request on
// a channel the REPL services. An unanswered request denies after the
// configured timeout so a tool call can never hang the run.
type promptBroker struct {
	requests chan permissionRequest
	timeout  time.Duration
}

func (b *promptBroker) Request(ctx context.Context, call models.ToolCall, preview string) (bool, string, error) {
	req := permissionRequest{call: call, preview: preview, reply: make(chan bool, 1)}
	select {
	case b.requests <- req:
	case <-ctx.Done():
		return false, "interrupted", ctx.Err()
	}

	timer := time.NewTimer(b.timeout)
	defer timer.Stop()
	select {
	case allowed := <-req.reply:
		if !allowed {
			return false, "denied by user", nil
		}
		return true, "", nil
	case <-timer.C:
		return false, "permission request timed out", nil
	case <-ctx.Done():
		return false, "interrupted", ctx.Err()
	}
}

// newPermissionBroker picks the broker for this run: auto-confirm when
// configured or when there is no terminal to ask on, otherwise an
// interactive prompt broker whose requests the REPL loop services.
func newPermissionBroker(cfg *config.Config, interactive bool) (agent.PermissionBroker, <-chan permissionRequest) {
	if cfg.Tools.Approval.AutoConfirm || !interactive {
		// A channel no one sends on keeps the REPL select valid.
		return agent.AutoConfirmBroker{}, make(chan permissionRequest)
	}
	broker := &promptBroker{
		requests: make(chan permissionRequest),
		timeout:  cfg.Tools.Approval.PermissionTimeout,
	}
	return broker, broker.requests
}
