package appserver

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
)

// LoginOptions tunes one login flow.
type LoginOptions struct {
	// Force runs the browser flow even when an account is already present.
	Force bool
}

// Login checks for an existing account and, when authentication is
// required, starts the login flow: the returned URL is opened through the
// injected opener and the call suspends until the login-completed
// notification arrives or the timeout elapses.
func (p *Provider) Login(ctx context.Context, opts LoginOptions) error {
	if !opts.Force {
		var account accountReadResult
		if err := p.conn.Call(ctx, methodAccountRead, struct{}{}, &account); err != nil {
			return fmt.Errorf("read account: %w", err)
		}
		if account.Account != nil {
			return nil
		}
	}

	done := make(chan loginCompletedParams, 1)
	p.mu.Lock()
	if p.loginWait != nil {
		p.mu.Unlock()
		return ErrLoginActive
	}
	p.loginWait = done
	p.mu.Unlock()

	defer func() {
		p.mu.Lock()
		p.loginWait = nil
		p.mu.Unlock()
	}()

	var start loginStartResult
	if err := p.conn.Call(ctx, methodLoginStart, struct{}{}, &start); err != nil {
		return fmt.Errorf("start login: %w", err)
	}

	if p.opener == nil {
		return fmt.Errorf("%w: no URL opener configured", ErrLoginFailed)
	}
	if err := p.opener.OpenURL(start.AuthURL); err != nil {
		return fmt.Errorf("open login url: %w", err)
	}

	timer := time.NewTimer(p.loginTimeout)
	defer timer.Stop()

	select {
	case completed := <-done:
		if !completed.Success {
			return fmt.Errorf("%w: %s", ErrLoginFailed, completed.Error)
		}
		return nil
	case <-timer.C:
		return ErrLoginTimeout
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (p *Provider) onLoginCompleted(params json.RawMessage) {
	var ev loginCompletedParams
	if err := json.Unmarshal(params, &ev); err != nil {
		p.dropEvent(methodLoginCompleted, params)
		return
	}

	p.mu.Lock()
	wait := p.loginWait
	p.mu.Unlock()
	if wait == nil {
		p.dropEvent(methodLoginCompleted, params)
		return
	}

	select {
	case wait <- ev:
	default:
	}
}
