package agent_test

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/ThunderOpsAI/product-automation-engine/internal/agent"
	"github.com/ThunderOpsAI/product-automation-engine/internal/config"
	"github.com/ThunderOpsAI/product-automation-engine/internal/db"
	"github.com/ThunderOpsAI/product-automation-engine/internal/domain"
	"github.com/ThunderOpsAI/product-automation-engine/internal/engine"
	"github.com/ThunderOpsAI/product-automation-engine/internal/gen"
	"github.com/ThunderOpsAI/product-automation-engine/internal/migrate"
	"github.com/ThunderOpsAI/product-automation-engine/internal/publish"
)

// fakeGen returns scripted responses in order.
type fakeGen struct {
	responses []string
	calls     []gen.Request
	err       error
}

func (f *fakeGen) Generate(_ context.Context, req gen.Request) (string, error) {
	f.calls = append(f.calls, req)
	if f.err != nil {
		return "", f.err
	}
	if len(f.responses) == 0 {
		return "", fmt.Errorf("fakeGen: no scripted response left")
	}
	resp := f.responses[0]
	f.responses = f.responses[1:]
	return resp, nil
}

type fakeImages struct {
	failCover bool
}

func (f fakeImages) Cover(_ context.Context, productID, _ string) (string, error) {
	if f.failCover {
		return "", fmt.Errorf("render failed")
	}
	return "/img/" + productID + "-cover.svg", nil
}

func (f fakeImages) Thumbnails(_ context.Context, productID, _ string, n int) ([]string, error) {
	out := make([]string, n)
	for i := range out {
		out[i] = fmt.Sprintf("/img/%s-thumb-%d.svg", productID, i+1)
	}
	return out, nil
}

type sentMail struct {
	To      string
	Subject string
}

type recordingMailer struct {
	sent []sentMail
}

func (m *recordingMailer) Send(_ context.Context, to, subject, _ string) error {
	m.sent = append(m.sent, sentMail{To: to, Subject: subject})
	return nil
}

type recordingPublisher struct {
	published []string
}

func (p *recordingPublisher) Publish(_ context.Context, platform string, _ publish.Draft) (publish.Result, error) {
	p.published = append(p.published, platform)
	return publish.Result{
		PlatformListingID: platform + "_test1234",
		URL:               "https://" + platform + ".example/l/test",
	}, nil
}

type agentEnv struct {
	Agents agent.Agents
	Engine engine.Engine
	Gen    *fakeGen
	Mailer *recordingMailer
	Pub    *recordingPublisher
	Ctx    context.Context
	Now    time.Time
}

func newAgentEnv(t *testing.T) *agentEnv {
	t.Helper()
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	env := &agentEnv{
		Gen:    &fakeGen{},
		Mailer: &recordingMailer{},
		Pub:    &recordingPublisher{},
		Ctx:    context.Background(),
		Now:    time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
	}
	cfg := config.Default()
	eng := engine.New(conn, cfg)
	eng.Now = func() time.Time { return env.Now }
	env.Engine = eng
	env.Agents = agent.Agents{
		Engine:    eng,
		Repo:      eng.Repo,
		Gen:       env.Gen,
		Images:    fakeImages{},
		Mailer:    env.Mailer,
		Publisher: env.Pub,
		Config:    cfg,
		Now:       func() time.Time { return env.Now },
	}
	return env
}

func (env *agentEnv) task(t *testing.T, kind domain.AgentKind) domain.Task {
	t.Helper()
	task, err := env.Engine.CreateTask(env.Ctx, kind, 5, nil)
	if err != nil {
		t.Fatalf("create task: %v", err)
	}
	return task
}
