package chat

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/rollupim/supportchat/internal/content"
	"github.com/rollupim/supportchat/internal/escalate"
	"github.com/rollupim/supportchat/internal/kb"
	"github.com/rollupim/supportchat/internal/llm"
	"github.com/rollupim/supportchat/internal/observability"
	"github.com/rollupim/supportchat/internal/orders"
	"github.com/rollupim/supportchat/internal/session"
	"github.com/rollupim/supportchat/internal/turnlog"
)

// OrderFinder is the read-only order lookup used for both the identifier
// shortcut and the getOrderStatus tool.
type OrderFinder interface {
	Find(ctx context.Context, id orders.Identifier) (*orders.Order, error)
}

// ContentProvider yields the current prompt/KB/synonym snapshot.
type ContentProvider interface {
	Current() *content.Snapshot
}

// TurnRecorder receives one record per logged message.
type TurnRecorder interface {
	Record(ctx context.Context, rec turnlog.Record)
}

const defaultSystemPrompt = "You are the support assistant for Rollupim, an online shop for printed roll-up banners. " +
	"Answer briefly and helpfully, in the language the customer writes in (Hebrew or English). " +
	"Use the getOrderStatus tool when the customer asks about an order, and the updateAdmin tool when they ask to talk to a person."

const noGreetInstruction = "The conversation is already in progress. Do not greet the customer again and do not offer a menu of options unless they ask for one."

// Orchestrator is the turn handler: it decides whether the escalation
// machine owns the turn, answers identifier queries and confident KB hits
// directly, and otherwise runs a single tool-calling model turn. Every
// external effect in a turn is singular: at most one order lookup or one
// operator notification.
type Orchestrator struct {
	sessions *session.Manager
	content  ContentProvider
	orders   OrderFinder
	llm      llm.Client
	machine  *escalate.Machine
	recorder TurnRecorder
	metrics  *observability.Metrics
	logger   *slog.Logger
	timeout  time.Duration
}

type Options struct {
	Sessions    *session.Manager
	Content     ContentProvider
	Orders      OrderFinder
	LLM         llm.Client
	Machine     *escalate.Machine
	Recorder    TurnRecorder
	Metrics     *observability.Metrics
	Logger      *slog.Logger
	CallTimeout time.Duration
}

func NewOrchestrator(opts Options) *Orchestrator {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	recorder := opts.Recorder
	if recorder == nil {
		recorder = nopRecorder{}
	}
	return &Orchestrator{
		sessions: opts.Sessions,
		content:  opts.Content,
		orders:   opts.Orders,
		llm:      opts.LLM,
		machine:  opts.Machine,
		recorder: recorder,
		metrics:  opts.Metrics,
		logger:   logger,
		timeout:  opts.CallTimeout,
	}
}

type nopRecorder struct{}

func (nopRecorder) Record(context.Context, turnlog.Record) {}

// turnResult is the resolved outcome of one turn before it is committed to
// the session and the turn log.
type turnResult struct {
	reply   string
	outcome string
	tool    llm.ToolName
	model   string
	esc     *session.Escalation
}

// HandleTurn processes one user message and returns the reply plus the
// session id the client must carry forward. Failures are absorbed into
// localized apology replies; the turn always completes and is always
// logged.
func (o *Orchestrator) HandleTurn(ctx context.Context, sessionID, text string) (reply, sid string) {
	start := time.Now()

	sess := o.sessions.GetOrCreate(sessionID)
	if o.metrics != nil {
		o.metrics.ActiveSessions.Set(float64(o.sessions.ActiveCount()))
		if sess.ID != sessionID {
			o.metrics.SessionEvents.WithLabelValues("created").Inc()
		}
	}

	res := o.resolve(ctx, sess, text)

	// History and escalation state are committed only once the turn has
	// fully resolved, so a failure mid-turn leaves the session untouched.
	if res.esc != nil {
		if err := o.sessions.SetEscalation(sess.ID, *res.esc); err != nil {
			o.logger.Warn("escalation commit failed", "error", err, "session_id", sess.ID)
		}
	}
	if err := o.sessions.AppendExchange(sess.ID, text, res.reply); err != nil {
		o.logger.Warn("history commit failed", "error", err, "session_id", sess.ID)
	}

	latency := time.Since(start)
	now := time.Now().UTC()
	o.recorder.Record(ctx, turnlog.Record{
		Timestamp: now,
		SessionID: sess.ID,
		MessageID: o.sessions.NextSeq(sess.ID),
		Role:      string(session.RoleUser),
		Text:      text,
	})
	o.recorder.Record(ctx, turnlog.Record{
		Timestamp: now,
		SessionID: sess.ID,
		MessageID: o.sessions.NextSeq(sess.ID),
		Role:      string(session.RoleAssistant),
		Text:      res.reply,
		Tool:      string(res.tool),
		Model:     res.model,
		LatencyMS: latency.Milliseconds(),
	})

	if o.metrics != nil {
		o.metrics.Turns.WithLabelValues(res.outcome).Inc()
		o.metrics.ObserveTurnLatency(latency)
	}
	return res.reply, sess.ID
}

func (o *Orchestrator) resolve(ctx context.Context, sess *session.Session, text string) turnResult {
	lang := langOf(text)

	if sess.Escalation.Active {
		return o.escalationTurn(ctx, sess.Escalation, text)
	}
	if escalate.WantsHuman(text) {
		esc, prompt := o.machine.Start(session.Escalation{}, text)
		return turnResult{reply: prompt, outcome: "escalation", esc: &esc}
	}
	if id := ExtractIdentifier(text); !id.Empty() {
		return o.orderTurn(ctx, id, lang)
	}

	snap := o.content.Current()
	if res := kb.Answer(text, snap.KB, snap.Synonyms); res.Found {
		o.countKB("hit")
		return turnResult{reply: res.Best.Entry.Answer, outcome: "kb"}
	}
	o.countKB("miss")

	return o.modelTurnWithFallback(ctx, sess, snap, text, lang)
}

func (o *Orchestrator) escalationTurn(ctx context.Context, esc session.Escalation, text string) turnResult {
	callCtx, cancel := o.callContext(ctx)
	defer cancel()

	out, reply, notified, err := o.machine.HandleTurn(callCtx, esc, text)
	if notified {
		if err != nil {
			o.countEscalation("failed")
		} else {
			o.countEscalation("delivered")
		}
	}
	return turnResult{reply: reply, outcome: "escalation", esc: &out}
}

func (o *Orchestrator) orderTurn(ctx context.Context, id orders.Identifier, lang string) turnResult {
	callCtx, cancel := o.callContext(ctx)
	defer cancel()

	order, err := o.orders.Find(callCtx, id)
	switch {
	case err == nil:
		return turnResult{reply: orderReply(order, lang), outcome: "order"}
	case errors.Is(err, orders.ErrNotFound):
		return turnResult{reply: notFoundReply(lang), outcome: "order"}
	default:
		o.logger.Warn("order lookup failed", "error", err)
		return turnResult{reply: transientReply(lang), outcome: "error"}
	}
}

func (o *Orchestrator) modelTurnWithFallback(ctx context.Context, sess *session.Session, snap *content.Snapshot, text, lang string) turnResult {
	messages := buildMessages(sess, snap, text)

	res, err := o.modelTurn(ctx, messages, text, lang, o.llm.PrimaryModel())
	if errors.Is(err, llm.ErrModelUnavailable) {
		o.countLLMError(o.llm.PrimaryModel(), "model_unavailable")
		o.logger.Warn("primary model unavailable, retrying on fallback",
			"primary", o.llm.PrimaryModel(), "fallback", o.llm.FallbackModel())
		res, err = o.modelTurn(ctx, messages, text, lang, o.llm.FallbackModel())
	}
	if err != nil {
		o.countLLMError(res.model, "completion")
		o.logger.Warn("model turn failed", "error", err)
		return turnResult{reply: transientReply(lang), outcome: "error"}
	}
	return res
}

// modelTurn runs one completion and dispatches at most one tool call. Only
// errors from the first completion propagate; once a tool has run, failures
// degrade to a deterministic rendering of the tool result so the turn's
// side effect is never repeated.
func (o *Orchestrator) modelTurn(ctx context.Context, messages []llm.Message, text, lang, model string) (turnResult, error) {
	callCtx, cancel := o.callContext(ctx)
	comp, err := o.llm.Complete(callCtx, llm.Request{
		Model:       model,
		Messages:    messages,
		EnableTools: true,
	})
	cancel()
	if err != nil {
		return turnResult{model: model}, err
	}

	if comp.ToolCall == nil {
		reply := comp.Text
		if reply == "" {
			reply = transientReply(lang)
		}
		return turnResult{reply: reply, outcome: "reply", model: model}, nil
	}

	call := *comp.ToolCall
	switch call.Name {
	case llm.ToolUpdateAdmin:
		return o.updateAdminCall(ctx, call, text, lang, model), nil
	case llm.ToolGetOrderStatus:
		return o.orderStatusCall(ctx, messages, call, lang, model), nil
	default:
		o.countTool(string(call.Name), "unknown")
		o.logger.Warn("model invoked unknown tool", "tool", call.Name)
		reply := comp.Text
		if reply == "" {
			reply = transientReply(lang)
		}
		return turnResult{reply: reply, outcome: "reply", model: model}, nil
	}
}

// updateAdminCall bridges the model's escalation tool call into the
// slot-filling machine. A complete call dispatches through the machine so
// the notify-once rule holds; an incomplete one opens an episode pre-seeded
// with whatever the model supplied and asks for the next missing slot.
func (o *Orchestrator) updateAdminCall(ctx context.Context, call llm.ToolCall, text, lang, model string) turnResult {
	seed := session.Escalation{
		Name:     call.StringArg("name"),
		Phone:    call.StringArg("phone"),
		Question: call.StringArg("question"),
		Lang:     lang,
	}

	if !seed.Complete() {
		o.countTool(string(llm.ToolUpdateAdmin), "deferred")
		esc, prompt := o.machine.Start(seed, text)
		return turnResult{reply: prompt, outcome: "escalation", tool: llm.ToolUpdateAdmin, model: model, esc: &esc}
	}

	seed.Active = true
	callCtx, cancel := o.callContext(ctx)
	defer cancel()
	out, reply, _, err := o.machine.HandleTurn(callCtx, seed, text)
	if err != nil {
		o.countTool(string(llm.ToolUpdateAdmin), "error")
		o.countEscalation("failed")
	} else {
		o.countTool(string(llm.ToolUpdateAdmin), "ok")
		o.countEscalation("delivered")
	}
	return turnResult{reply: reply, outcome: "escalation", tool: llm.ToolUpdateAdmin, model: model, esc: &out}
}

func (o *Orchestrator) orderStatusCall(ctx context.Context, messages []llm.Message, call llm.ToolCall, lang, model string) turnResult {
	id := orders.Identifier{
		OrderID: call.StringArg("orderId"),
		Email:   call.StringArg("email"),
		Phone:   call.StringArg("phone"),
	}

	callCtx, cancel := o.callContext(ctx)
	order, err := o.orders.Find(callCtx, id)
	cancel()

	var result string
	switch {
	case err == nil:
		o.countTool(string(llm.ToolGetOrderStatus), "ok")
		raw, merr := json.Marshal(order)
		if merr != nil {
			raw = []byte(`{"error":"encode_failed"}`)
		}
		result = string(raw)
	case errors.Is(err, orders.ErrNotFound):
		o.countTool(string(llm.ToolGetOrderStatus), "not_found")
		result = `{"found":false}`
	default:
		o.countTool(string(llm.ToolGetOrderStatus), "error")
		o.logger.Warn("order lookup failed", "error", err)
		result = `{"error":"lookup_unavailable"}`
	}

	followCtx, cancelFollow := o.callContext(ctx)
	comp, cerr := o.llm.Complete(followCtx, llm.Request{
		Model:      model,
		Messages:   messages,
		ToolResult: &llm.ToolResult{Call: call, Content: result},
	})
	cancelFollow()

	if cerr != nil || strings.TrimSpace(comp.Text) == "" {
		if cerr != nil {
			o.countLLMError(model, "completion")
			o.logger.Warn("tool follow-up completion failed", "error", cerr)
		}
		// The lookup already happened; render it directly rather than
		// repeating the turn.
		var reply string
		switch {
		case err == nil:
			reply = orderReply(order, lang)
		case errors.Is(err, orders.ErrNotFound):
			reply = notFoundReply(lang)
		default:
			reply = transientReply(lang)
		}
		return turnResult{reply: reply, outcome: "order", tool: llm.ToolGetOrderStatus, model: model}
	}
	return turnResult{reply: comp.Text, outcome: "order", tool: llm.ToolGetOrderStatus, model: model}
}

func buildMessages(sess *session.Session, snap *content.Snapshot, text string) []llm.Message {
	prompt := strings.TrimSpace(snap.Prompt)
	if prompt == "" {
		prompt = defaultSystemPrompt
	}
	if sess.Greeted {
		prompt += "\n\n" + noGreetInstruction
	}

	msgs := make([]llm.Message, 0, len(sess.History)+2)
	msgs = append(msgs, llm.Message{Role: llm.RoleSystem, Content: prompt})
	for _, m := range sess.History {
		role := llm.RoleUser
		if m.Role == session.RoleAssistant {
			role = llm.RoleAssistant
		}
		msgs = append(msgs, llm.Message{Role: role, Content: m.Content})
	}
	return append(msgs, llm.Message{Role: llm.RoleUser, Content: text})
}

func (o *Orchestrator) callContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if o.timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, o.timeout)
}

func (o *Orchestrator) countKB(result string) {
	if o.metrics != nil {
		o.metrics.KBLookups.WithLabelValues(result).Inc()
	}
}

func (o *Orchestrator) countTool(tool, outcome string) {
	if o.metrics != nil {
		o.metrics.ToolCalls.WithLabelValues(tool, outcome).Inc()
	}
}

func (o *Orchestrator) countEscalation(outcome string) {
	if o.metrics != nil {
		o.metrics.Escalations.WithLabelValues(outcome).Inc()
	}
}

func (o *Orchestrator) countLLMError(model, kind string) {
	if o.metrics != nil {
		o.metrics.LLMErrors.WithLabelValues(model, kind).Inc()
	}
}

func langOf(text string) string {
	for _, r := range text {
		if r >= 0x0590 && r <= 0x05FF {
			return "he"
		}
	}
	return "en"
}

func orderReply(order *orders.Order, lang string) string {
	var b strings.Builder
	if lang == "he" {
		fmt.Fprintf(&b, "הזמנה %s נמצאת בסטטוס: %s", order.OrderID, order.Status)
		if order.LastUpdate != "" {
			fmt.Fprintf(&b, " (עדכון אחרון: %s)", order.LastUpdate)
		}
		if order.InvoiceURL != "" {
			fmt.Fprintf(&b, "\nחשבונית: %s", order.InvoiceURL)
		}
		if order.DeliveryCertURL != "" {
			fmt.Fprintf(&b, "\nתעודת משלוח: %s", order.DeliveryCertURL)
		}
		return b.String()
	}
	fmt.Fprintf(&b, "Order %s is currently: %s", order.OrderID, order.Status)
	if order.LastUpdate != "" {
		fmt.Fprintf(&b, " (last update: %s)", order.LastUpdate)
	}
	if order.InvoiceURL != "" {
		fmt.Fprintf(&b, "\nInvoice: %s", order.InvoiceURL)
	}
	if order.DeliveryCertURL != "" {
		fmt.Fprintf(&b, "\nDelivery certificate: %s", order.DeliveryCertURL)
	}
	return b.String()
}

func notFoundReply(lang string) string {
	if lang == "he" {
		return "לא מצאתי הזמנה לפי הפרטים האלה. אפשר לנסות מספר הזמנה או אימייל אחר?"
	}
	return "I couldn't find an order with those details. Could you try a different order number or email?"
}

func transientReply(lang string) string {
	if lang == "he" {
		return "מצטערים, לא הצלחתי לבדוק את זה כרגע. נסו שוב בעוד כמה דקות."
	}
	return "Sorry, I couldn't check that right now. Please try again in a few minutes."
}
