package pipeline_test

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/ThunderOpsAI/product-automation-engine/internal/gen"
	"github.com/ThunderOpsAI/product-automation-engine/internal/pipeline"
)

// blockingGen parks every Generate call until release is closed, so a
// background run can be held in flight deterministically.
type blockingGen struct {
	entered chan struct{}
	release chan struct{}
}

func (g *blockingGen) Generate(context.Context, gen.Request) (string, error) {
	g.entered <- struct{}{}
	<-g.release
	return "", fmt.Errorf("aborted")
}

func TestLauncherRejectsConcurrentRuns(t *testing.T) {
	env := newRunnerEnv(t)
	blocker := &blockingGen{
		entered: make(chan struct{}, 4),
		release: make(chan struct{}),
	}
	env.Runner.Agents.Gen = blocker
	launcher := pipeline.NewLauncher(env.Runner)

	if err := launcher.LaunchDaily(env.Ctx, 1); err != nil {
		t.Fatalf("first launch: %v", err)
	}
	select {
	case <-blocker.entered:
	case <-time.After(2 * time.Second):
		t.Fatal("background run never started")
	}

	if err := launcher.LaunchDaily(env.Ctx, 1); !errors.Is(err, pipeline.ErrBusy) {
		t.Fatalf("second launch err = %v, want ErrBusy", err)
	}
	if err := launcher.LaunchOptimization(env.Ctx); !errors.Is(err, pipeline.ErrBusy) {
		t.Fatalf("optimization launch err = %v, want ErrBusy", err)
	}

	close(blocker.release)

	// The slot frees once the held run finishes.
	deadline := time.Now().Add(2 * time.Second)
	for {
		err := launcher.LaunchDaily(env.Ctx, 1)
		if err == nil {
			break
		}
		if !errors.Is(err, pipeline.ErrBusy) {
			t.Fatalf("relaunch err = %v", err)
		}
		if time.Now().After(deadline) {
			t.Fatal("slot never freed after run finished")
		}
		time.Sleep(10 * time.Millisecond)
	}
	select {
	case <-blocker.entered:
	case <-time.After(2 * time.Second):
		t.Fatal("relaunched run never started")
	}
}
