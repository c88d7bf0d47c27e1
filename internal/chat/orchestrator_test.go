package chat

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/rollupim/supportchat/internal/content"
	"github.com/rollupim/supportchat/internal/escalate"
	"github.com/rollupim/supportchat/internal/kb"
	"github.com/rollupim/supportchat/internal/llm"
	"github.com/rollupim/supportchat/internal/notify"
	"github.com/rollupim/supportchat/internal/orders"
	"github.com/rollupim/supportchat/internal/session"
	"github.com/rollupim/supportchat/internal/turnlog"
)

type fakeContent struct {
	snap content.Snapshot
}

func (f *fakeContent) Current() *content.Snapshot { return &f.snap }

type fakeFinder struct {
	calls []orders.Identifier
	order *orders.Order
	err   error
}

func (f *fakeFinder) Find(_ context.Context, id orders.Identifier) (*orders.Order, error) {
	f.calls = append(f.calls, id)
	if f.err != nil {
		return nil, f.err
	}
	return f.order, nil
}

type fakeLLM struct {
	requests []llm.Request
	handler  func(req llm.Request) (*llm.Completion, error)
}

func (f *fakeLLM) Complete(_ context.Context, req llm.Request) (*llm.Completion, error) {
	f.requests = append(f.requests, req)
	return f.handler(req)
}

func (f *fakeLLM) PrimaryModel() string  { return "primary-model" }
func (f *fakeLLM) FallbackModel() string { return "fallback-model" }

type fakeNotifier struct {
	calls []notify.Request
	err   error
}

func (f *fakeNotifier) NotifyAdmin(_ context.Context, req notify.Request) error {
	f.calls = append(f.calls, req)
	return f.err
}

type fakeRecorder struct {
	records []turnlog.Record
}

func (f *fakeRecorder) Record(_ context.Context, rec turnlog.Record) {
	f.records = append(f.records, rec)
}

type fixture struct {
	orch     *Orchestrator
	sessions *session.Manager
	finder   *fakeFinder
	model    *fakeLLM
	notifier *fakeNotifier
	recorder *fakeRecorder
}

func newFixture(snap content.Snapshot) *fixture {
	f := &fixture{
		sessions: session.NewManager(30*time.Minute, 10),
		finder:   &fakeFinder{},
		notifier: &fakeNotifier{},
		recorder: &fakeRecorder{},
		model: &fakeLLM{handler: func(llm.Request) (*llm.Completion, error) {
			return &llm.Completion{Text: "model reply"}, nil
		}},
	}
	machine := escalate.NewMachine(f.notifier, escalate.DefaultExtractors(), nil)
	f.orch = NewOrchestrator(Options{
		Sessions:    f.sessions,
		Content:     &fakeContent{snap: snap},
		Orders:      f.finder,
		LLM:         f.model,
		Machine:     machine,
		Recorder:    f.recorder,
		CallTimeout: 5 * time.Second,
	})
	return f
}

func TestIdentifierShortcutBypassesModelAndKB(t *testing.T) {
	f := newFixture(content.Snapshot{
		KB: []kb.Entry{{Title: "R-102", Answer: "should never be used", Tags: []string{"r-102"}}},
	})
	f.finder.order = &orders.Order{OrderID: "R-102", Status: "Shipped", LastUpdate: "2024-03-01"}

	reply, _ := f.orch.HandleTurn(context.Background(), "", "R-102")

	if len(f.finder.calls) != 1 || f.finder.calls[0].OrderID != "R-102" {
		t.Fatalf("finder calls = %+v, want one lookup with orderId R-102", f.finder.calls)
	}
	if !strings.Contains(reply, "Shipped") || !strings.Contains(reply, "2024-03-01") {
		t.Fatalf("reply %q must contain status and date", reply)
	}
	if strings.Contains(reply, "should never be used") {
		t.Fatalf("identifier query must not answer from the KB: %q", reply)
	}
	if len(f.model.requests) != 0 {
		t.Fatalf("identifier query must not reach the model, got %d requests", len(f.model.requests))
	}
}

func TestKBHitAnswersVerbatimWithoutModel(t *testing.T) {
	answer := "ניתן להחזיר מוצרים עד 14 יום מקבלת ההזמנה."
	f := newFixture(content.Snapshot{
		KB: []kb.Entry{{Title: "מדיניות החזרות", Answer: answer, Tags: []string{"החזרה", "מדיניות"}}},
	})

	reply, _ := f.orch.HandleTurn(context.Background(), "", "מה מדיניות ההחזרה?")

	if reply != answer {
		t.Fatalf("reply = %q, want the stored answer verbatim", reply)
	}
	if len(f.model.requests) != 0 {
		t.Fatalf("confident KB hit must not reach the model")
	}
	if len(f.finder.calls) != 0 {
		t.Fatalf("non-identifier question must not hit the order store")
	}
}

func TestEscalationEpisodeThroughTurns(t *testing.T) {
	f := newFixture(content.Snapshot{})
	ctx := context.Background()

	reply, sid := f.orch.HandleTurn(ctx, "", "אני רוצה לדבר עם נציג")
	if !strings.Contains(reply, "איך קוראים לך") {
		t.Fatalf("first reply should ask for a name, got %q", reply)
	}

	reply, sid = f.orch.HandleTurn(ctx, sid, "דנה")
	if !strings.Contains(reply, "טלפון") {
		t.Fatalf("second reply should ask for a phone, got %q", reply)
	}

	reply, sid = f.orch.HandleTurn(ctx, sid, "0501234567")
	if !strings.Contains(reply, "לעזור") {
		t.Fatalf("third reply should ask for the issue, got %q", reply)
	}

	_, sid = f.orch.HandleTurn(ctx, sid, "החבילה לא הגיעה")

	if len(f.notifier.calls) != 1 {
		t.Fatalf("notifier called %d times, want exactly once", len(f.notifier.calls))
	}
	got := f.notifier.calls[0]
	want := notify.Request{Name: "דנה", Phone: "0501234567", Question: "החבילה לא הגיעה"}
	if got != want {
		t.Fatalf("notify payload = %+v, want %+v", got, want)
	}
	if sess := f.sessions.GetOrCreate(sid); sess.Escalation.Active {
		t.Fatalf("escalation should reset after dispatch")
	}
}

func TestOrderLookupFailureIsDistinctFromNotFound(t *testing.T) {
	f := newFixture(content.Snapshot{})
	f.finder.err = fmt.Errorf("%w: status 502", orders.ErrUnavailable)

	reply, _ := f.orch.HandleTurn(context.Background(), "", "R-102")

	if reply != transientReply("en") {
		t.Fatalf("reply = %q, want the transient apology", reply)
	}
	if reply == notFoundReply("en") {
		t.Fatalf("transient failure must not read like not-found")
	}

	var assistant int
	for _, r := range f.recorder.records {
		if r.Role == "assistant" {
			assistant++
		}
	}
	if assistant != 1 {
		t.Fatalf("failed turn still logs one assistant record, got %d", assistant)
	}
}

func TestNotFoundAsksForDifferentIdentifier(t *testing.T) {
	f := newFixture(content.Snapshot{})
	f.finder.err = orders.ErrNotFound

	reply, _ := f.orch.HandleTurn(context.Background(), "", "R-999")
	if reply != notFoundReply("en") {
		t.Fatalf("reply = %q, want the not-found reply", reply)
	}
}

func TestModelFallbackOnUnavailable(t *testing.T) {
	f := newFixture(content.Snapshot{})
	f.model.handler = func(req llm.Request) (*llm.Completion, error) {
		if req.Model == "primary-model" {
			return nil, fmt.Errorf("%w: model_not_found", llm.ErrModelUnavailable)
		}
		return &llm.Completion{Text: "fallback says hi", Model: req.Model}, nil
	}

	reply, _ := f.orch.HandleTurn(context.Background(), "", "can you help me choose a banner size")

	if reply != "fallback says hi" {
		t.Fatalf("reply = %q, want the fallback model's text", reply)
	}
	if len(f.model.requests) != 2 {
		t.Fatalf("want one retry on the fallback model, got %d requests", len(f.model.requests))
	}
	if f.model.requests[1].Model != "fallback-model" {
		t.Fatalf("retry used model %q", f.model.requests[1].Model)
	}
}

func TestModelFailureYieldsApology(t *testing.T) {
	f := newFixture(content.Snapshot{})
	f.model.handler = func(llm.Request) (*llm.Completion, error) {
		return nil, errors.New("connection reset")
	}

	reply, _ := f.orch.HandleTurn(context.Background(), "", "hello there, quick question please")
	if reply != transientReply("en") {
		t.Fatalf("reply = %q, want the transient apology", reply)
	}
	if len(f.model.requests) != 1 {
		t.Fatalf("generic failures are not retried, got %d requests", len(f.model.requests))
	}
}

func TestOrderStatusToolRoundTrip(t *testing.T) {
	f := newFixture(content.Snapshot{})
	f.finder.order = &orders.Order{OrderID: "R-7", Status: "In print"}
	f.model.handler = func(req llm.Request) (*llm.Completion, error) {
		if req.ToolResult == nil {
			return &llm.Completion{ToolCall: &llm.ToolCall{
				ID:        "call-1",
				Name:      llm.ToolGetOrderStatus,
				Arguments: map[string]any{"orderId": "R-7"},
			}}, nil
		}
		if !strings.Contains(req.ToolResult.Content, "In print") {
			return nil, fmt.Errorf("tool result missing status: %s", req.ToolResult.Content)
		}
		return &llm.Completion{Text: "Your order R-7 is being printed."}, nil
	}

	reply, _ := f.orch.HandleTurn(context.Background(), "", "what is happening with my banner order")

	if reply != "Your order R-7 is being printed." {
		t.Fatalf("reply = %q", reply)
	}
	if len(f.finder.calls) != 1 || f.finder.calls[0].OrderID != "R-7" {
		t.Fatalf("finder calls = %+v, want a single R-7 lookup", f.finder.calls)
	}
	if len(f.model.requests) != 2 {
		t.Fatalf("want exactly two completions, got %d", len(f.model.requests))
	}
	if f.model.requests[1].EnableTools {
		t.Fatalf("follow-up completion must not offer tools again")
	}
}

func TestOrderStatusToolFollowUpFailureRendersDirectly(t *testing.T) {
	f := newFixture(content.Snapshot{})
	f.finder.order = &orders.Order{OrderID: "R-7", Status: "Shipped", LastUpdate: "2024-05-02"}
	f.model.handler = func(req llm.Request) (*llm.Completion, error) {
		if req.ToolResult == nil {
			return &llm.Completion{ToolCall: &llm.ToolCall{
				ID:        "call-1",
				Name:      llm.ToolGetOrderStatus,
				Arguments: map[string]any{"orderId": "R-7"},
			}}, nil
		}
		return nil, errors.New("timeout")
	}

	reply, _ := f.orch.HandleTurn(context.Background(), "", "where is my order, shipped already?")

	if !strings.Contains(reply, "Shipped") || !strings.Contains(reply, "2024-05-02") {
		t.Fatalf("reply %q should render the lookup result directly", reply)
	}
	if len(f.finder.calls) != 1 {
		t.Fatalf("the lookup must not be repeated, got %d calls", len(f.finder.calls))
	}
}

func TestIncompleteEscalationToolOpensMachine(t *testing.T) {
	f := newFixture(content.Snapshot{})
	f.model.handler = func(req llm.Request) (*llm.Completion, error) {
		return &llm.Completion{ToolCall: &llm.ToolCall{
			ID:        "call-1",
			Name:      llm.ToolUpdateAdmin,
			Arguments: map[string]any{"name": "Dana"},
		}}, nil
	}

	reply, sid := f.orch.HandleTurn(context.Background(), "", "my last delivery arrived damaged, please escalate")

	if len(f.notifier.calls) != 0 {
		t.Fatalf("incomplete tool call must not notify")
	}
	if !strings.Contains(reply, "phone") {
		t.Fatalf("reply %q should ask for the next missing slot", reply)
	}
	sess := f.sessions.GetOrCreate(sid)
	if !sess.Escalation.Active || sess.Escalation.Name != "Dana" {
		t.Fatalf("escalation = %+v, want active and seeded with the name", sess.Escalation)
	}
}

func TestCompleteEscalationToolNotifiesOnce(t *testing.T) {
	f := newFixture(content.Snapshot{})
	f.model.handler = func(req llm.Request) (*llm.Completion, error) {
		return &llm.Completion{ToolCall: &llm.ToolCall{
			ID:   "call-1",
			Name: llm.ToolUpdateAdmin,
			Arguments: map[string]any{
				"name":     "Dana",
				"phone":    "0501234567",
				"question": "banner arrived torn",
			},
		}}, nil
	}

	_, sid := f.orch.HandleTurn(context.Background(), "", "please pass this on: the banner arrived torn")

	if len(f.notifier.calls) != 1 {
		t.Fatalf("notifier called %d times, want once", len(f.notifier.calls))
	}
	if f.notifier.calls[0].Phone != "0501234567" {
		t.Fatalf("payload = %+v", f.notifier.calls[0])
	}
	if sess := f.sessions.GetOrCreate(sid); sess.Escalation.Active {
		t.Fatalf("escalation should reset after dispatch")
	}
}

func TestGreetingSuppressedAfterFirstTurn(t *testing.T) {
	f := newFixture(content.Snapshot{Prompt: "You are the shop assistant."})

	_, sid := f.orch.HandleTurn(context.Background(), "", "hi there, what do you sell exactly")
	if got := f.model.requests[0].Messages[0].Content; strings.Contains(got, "Do not greet") {
		t.Fatalf("first turn must not carry the no-greet instruction: %q", got)
	}

	f.orch.HandleTurn(context.Background(), sid, "and how long does printing take usually")
	system := f.model.requests[1].Messages[0].Content
	if !strings.Contains(system, "Do not greet") {
		t.Fatalf("later turns should suppress re-greeting, system prompt = %q", system)
	}
	// History from the first exchange rides along.
	if len(f.model.requests[1].Messages) != 4 {
		t.Fatalf("want system + 2 history + user, got %d messages", len(f.model.requests[1].Messages))
	}
}

func TestEveryTurnLogsUserAndAssistant(t *testing.T) {
	f := newFixture(content.Snapshot{})

	f.orch.HandleTurn(context.Background(), "", "hello, is anyone available today")

	if len(f.recorder.records) != 2 {
		t.Fatalf("want 2 records per turn, got %d", len(f.recorder.records))
	}
	u, a := f.recorder.records[0], f.recorder.records[1]
	if u.Role != "user" || a.Role != "assistant" {
		t.Fatalf("roles = %q, %q", u.Role, a.Role)
	}
	if u.MessageID != 1 || a.MessageID != 2 {
		t.Fatalf("message ids = %d, %d, want a monotonic sequence", u.MessageID, a.MessageID)
	}
	if a.Model == "" {
		t.Fatalf("assistant record should carry the model used")
	}
}

func TestExtractIdentifier(t *testing.T) {
	cases := []struct {
		in   string
		want orders.Identifier
	}{
		{"R-102", orders.Identifier{OrderID: "R-102"}},
		{"my order is ro12345 thanks", orders.Identifier{OrderID: "ro12345"}},
		{"dana@example.com", orders.Identifier{Email: "dana@example.com"}},
		{"call me on 050-123-4567", orders.Identifier{Phone: "050-123-4567"}},
		{"order 123456", orders.Identifier{OrderID: "123456"}},
		{"מה מדיניות ההחזרה?", orders.Identifier{}},
		{"how long does shipping take", orders.Identifier{}},
	}
	for _, tc := range cases {
		if got := ExtractIdentifier(tc.in); got != tc.want {
			t.Errorf("ExtractIdentifier(%q) = %+v, want %+v", tc.in, got, tc.want)
		}
	}
}
