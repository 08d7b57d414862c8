// Package agent holds the seven pipeline stage runners. Every runner
// follows the same path: mark the task running, do the stage work, then
// either gate once on success or fail once on an unrecoverable error.
package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/ThunderOpsAI/product-automation-engine/internal/config"
	"github.com/ThunderOpsAI/product-automation-engine/internal/domain"
	"github.com/ThunderOpsAI/product-automation-engine/internal/engine"
	"github.com/ThunderOpsAI/product-automation-engine/internal/gen"
	"github.com/ThunderOpsAI/product-automation-engine/internal/images"
	"github.com/ThunderOpsAI/product-automation-engine/internal/notify"
	"github.com/ThunderOpsAI/product-automation-engine/internal/publish"
	"github.com/ThunderOpsAI/product-automation-engine/internal/repo"
)

type Agents struct {
	Engine    engine.Engine
	Repo      repo.Repo
	Gen       gen.Generator
	Images    images.Maker
	Mailer    notify.Mailer
	Publisher publish.Publisher
	Config    *config.Config
	Log       *slog.Logger
	Now       func() time.Time
}

func (a Agents) log() *slog.Logger {
	if a.Log != nil {
		return a.Log
	}
	return slog.Default()
}

func (a Agents) now() time.Time {
	if a.Now != nil {
		return a.Now()
	}
	return time.Now()
}

func (a Agents) cfg() *config.Config {
	if a.Config != nil {
		return a.Config
	}
	return config.Default()
}

// stageFn performs one stage's work and returns what the gate needs.
type stageFn func(ctx context.Context) (output domain.Payload, confidence float64, evidence domain.Payload, err error)

// run is the shared stage path. The fn error branch is the only way a
// task terminates without a gate call.
func (a Agents) run(ctx context.Context, taskID string, kind domain.AgentKind, fn stageFn) (engine.GateResult, error) {
	if err := a.Engine.StartTask(ctx, taskID); err != nil {
		return engine.GateResult{}, err
	}
	output, confidence, evidence, err := fn(ctx)
	if err != nil {
		a.log().Error("stage failed", "task", taskID, "type", kind, "err", err)
		if failErr := a.Engine.FailTask(ctx, taskID, err.Error()); failErr != nil {
			a.log().Error("mark task failed", "task", taskID, "err", failErr)
		}
		return engine.GateResult{Status: domain.TaskFailed}, err
	}
	res, err := a.Engine.Gate(ctx, taskID, kind, output, confidence, evidence)
	if err != nil {
		return engine.GateResult{}, fmt.Errorf("gate task %s: %w", taskID, err)
	}
	a.log().Info("stage gated", "task", taskID, "type", kind, "confidence", confidence, "status", res.Status)
	return res, nil
}

// asPayload converts a typed value into an opaque payload document.
func asPayload(v any) (domain.Payload, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode payload: %w", err)
	}
	var p domain.Payload
	if err := json.Unmarshal(b, &p); err != nil {
		return nil, fmt.Errorf("decode payload: %w", err)
	}
	return p, nil
}
