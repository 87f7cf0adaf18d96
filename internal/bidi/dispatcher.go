package bidi

import (
	"context"
	"encoding/json"

	"bidimapper/internal/bidierror"
	"bidimapper/internal/model"
	"bidimapper/internal/runner"
	"bidimapper/internal/urlpattern"
)

// Processor is the subset of internal/session.Processor the dispatcher
// calls into, kept as an interface so this package (and its tests) do not
// depend on internal/session or any CDP package. internal/runner is neither,
// so Runner() is fair game: it is how Dispatch serialises command handling
// onto the processor's single-threaded runner (spec §5).
type Processor interface {
	Subscribe(namesOrEvents []string, contexts []string) string
	Unsubscribe(ids []string)
	AddIntercept(ctx context.Context, patterns []urlpattern.Pattern, phases []model.InterceptPhase, contexts []string) (string, error)
	RemoveIntercept(ctx context.Context, id string) error
	HandleUserPrompt(ctx context.Context, contextID string, accept bool, userText string) error
	PerformActions(ctx context.Context, contextID string, params json.RawMessage) (interface{}, error)
	ContinueRequest(ctx context.Context, requestID string) error
	FailRequest(ctx context.Context, requestID string) error
	ProvideResponse(ctx context.Context, requestID string, statusCode int, headers map[string]string, body []byte) error
	ContinueWithAuth(ctx context.Context, requestID, action, username, password string) error
	CreateBrowsingContext(ctx context.Context, contextType string) (string, error)
	SetViewport(ctx context.Context, contextID string, width, height int64, devicePixelRatio float64) error
	AddPreloadScript(ctx context.Context, source, sandbox string, contexts []string) (string, error)
	RemovePreloadScript(ctx context.Context, id string) error
	Runner() *runner.Runner
}

// Dispatcher decodes a BiDi method name and routes it to Processor,
// mirroring spec §2's "Command dispatcher" leaf.
type Dispatcher struct {
	p Processor
}

func NewDispatcher(p Processor) *Dispatcher {
	return &Dispatcher{p: p}
}

// Dispatch decodes cmd.Params per cmd.Method and returns the BiDi result
// value, or an error (ideally a *bidierror.Error so the caller can frame an
// ErrorResult with the right code).
//
// Every command except browsingContext.create runs as a single closure on
// the processor's runner (spec §5: "all mutations occur on that runner"),
// so it never interleaves with CDP event handling, which reaches the same
// runner via Processor.HandleCDPEvent. browsingContext.create is the one
// exception: it must wait for a Target.attachedToTarget event that only the
// runner itself can process, so routing the whole command through GoSync
// would deadlock the runner against itself. CreateBrowsingContext instead
// synchronises its own critical section internally and is called directly.
func (d *Dispatcher) Dispatch(ctx context.Context, cmd *Command) (interface{}, error) {
	if cmd.Method == "browsingContext.create" {
		return d.createBrowsingContext(ctx, cmd.Params)
	}

	var result interface{}
	var handlerErr error
	if err := d.p.Runner().GoSync(func() error {
		result, handlerErr = d.dispatchOnRunner(ctx, cmd)
		return nil
	}); err != nil {
		return nil, err
	}
	return result, handlerErr
}

func (d *Dispatcher) dispatchOnRunner(ctx context.Context, cmd *Command) (interface{}, error) {
	switch cmd.Method {
	case "session.subscribe":
		return d.subscribe(cmd.Params)
	case "session.unsubscribe":
		return d.unsubscribe(cmd.Params)
	case "network.addIntercept":
		return d.addIntercept(ctx, cmd.Params)
	case "network.removeIntercept":
		return d.removeIntercept(ctx, cmd.Params)
	case "network.continueRequest":
		return d.continueRequest(ctx, cmd.Params)
	case "network.failRequest":
		return d.failRequest(ctx, cmd.Params)
	case "network.provideResponse":
		return d.provideResponse(ctx, cmd.Params)
	case "network.continueWithAuth":
		return d.continueWithAuth(ctx, cmd.Params)
	case "browsingContext.handleUserPrompt":
		return d.handleUserPrompt(ctx, cmd.Params)
	case "browsingContext.setViewport":
		return d.setViewport(ctx, cmd.Params)
	case "script.addPreloadScript":
		return d.addPreloadScript(ctx, cmd.Params)
	case "script.removePreloadScript":
		return d.removePreloadScript(ctx, cmd.Params)
	case "input.performActions":
		return d.performActions(ctx, cmd.Params)
	default:
		return nil, bidierror.UnknownCommandErr(cmd.Method)
	}
}

type subscribeParams struct {
	Events   []string `json:"events"`
	Contexts []string `json:"contexts"`
}

func (d *Dispatcher) subscribe(raw json.RawMessage) (interface{}, error) {
	var p subscribeParams
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, bidierror.InvalidArgumentErr("session.subscribe: %v", err)
	}
	id := d.p.Subscribe(p.Events, p.Contexts)
	return map[string]string{"subscription": id}, nil
}

type unsubscribeParams struct {
	Subscriptions []string `json:"subscriptions"`
}

func (d *Dispatcher) unsubscribe(raw json.RawMessage) (interface{}, error) {
	var p unsubscribeParams
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, bidierror.InvalidArgumentErr("session.unsubscribe: %v", err)
	}
	d.p.Unsubscribe(p.Subscriptions)
	return struct{}{}, nil
}

type wireURLPattern struct {
	Type     string `json:"type"`
	Pattern  string `json:"pattern,omitempty"`
	Protocol string `json:"protocol,omitempty"`
	Hostname string `json:"hostname,omitempty"`
	Port     string `json:"port,omitempty"`
	Pathname string `json:"pathname,omitempty"`
	Search   string `json:"search,omitempty"`
}

func (w wireURLPattern) toModel() urlpattern.Pattern {
	if w.Type == "pattern" {
		return urlpattern.Pattern{
			Type:     urlpattern.TypePattern,
			Protocol: w.Protocol,
			Hostname: w.Hostname,
			Port:     w.Port,
			Pathname: w.Pathname,
			Search:   w.Search,
		}
	}
	return urlpattern.Pattern{Type: urlpattern.TypeString, Pattern: w.Pattern}
}

type addInterceptParams struct {
	Phases      []string         `json:"phases"`
	URLPatterns []wireURLPattern `json:"urlPatterns"`
	Contexts    []string         `json:"contexts"`
}

func (d *Dispatcher) addIntercept(ctx context.Context, raw json.RawMessage) (interface{}, error) {
	var p addInterceptParams
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, bidierror.InvalidArgumentErr("network.addIntercept: %v", err)
	}
	if len(p.Phases) == 0 {
		return nil, bidierror.InvalidArgumentErr("network.addIntercept: phases must be non-empty")
	}

	phases := make([]model.InterceptPhase, 0, len(p.Phases))
	for _, ph := range p.Phases {
		phases = append(phases, model.InterceptPhase(ph))
	}
	patterns := make([]urlpattern.Pattern, 0, len(p.URLPatterns))
	for _, wp := range p.URLPatterns {
		patterns = append(patterns, wp.toModel())
	}

	id, err := d.p.AddIntercept(ctx, patterns, phases, p.Contexts)
	if err != nil {
		return nil, err
	}
	return map[string]string{"intercept": id}, nil
}

type removeInterceptParams struct {
	Intercept string `json:"intercept"`
}

func (d *Dispatcher) removeIntercept(ctx context.Context, raw json.RawMessage) (interface{}, error) {
	var p removeInterceptParams
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, bidierror.InvalidArgumentErr("network.removeIntercept: %v", err)
	}
	if err := d.p.RemoveIntercept(ctx, p.Intercept); err != nil {
		return nil, err
	}
	return struct{}{}, nil
}

type continueRequestParams struct {
	Request string `json:"request"`
}

func (d *Dispatcher) continueRequest(ctx context.Context, raw json.RawMessage) (interface{}, error) {
	var p continueRequestParams
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, bidierror.InvalidArgumentErr("network.continueRequest: %v", err)
	}
	if err := d.p.ContinueRequest(ctx, p.Request); err != nil {
		return nil, err
	}
	return struct{}{}, nil
}

func (d *Dispatcher) failRequest(ctx context.Context, raw json.RawMessage) (interface{}, error) {
	var p continueRequestParams
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, bidierror.InvalidArgumentErr("network.failRequest: %v", err)
	}
	if err := d.p.FailRequest(ctx, p.Request); err != nil {
		return nil, err
	}
	return struct{}{}, nil
}

type provideResponseParams struct {
	Request    string            `json:"request"`
	StatusCode int               `json:"statusCode"`
	Headers    map[string]string `json:"headers"`
	Body       []byte            `json:"body"`
}

func (d *Dispatcher) provideResponse(ctx context.Context, raw json.RawMessage) (interface{}, error) {
	var p provideResponseParams
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, bidierror.InvalidArgumentErr("network.provideResponse: %v", err)
	}
	if p.StatusCode == 0 {
		p.StatusCode = 200
	}
	if err := d.p.ProvideResponse(ctx, p.Request, p.StatusCode, p.Headers, p.Body); err != nil {
		return nil, err
	}
	return struct{}{}, nil
}

type continueWithAuthParams struct {
	Request  string `json:"request"`
	Action   string `json:"action"`
	Username string `json:"username,omitempty"`
	Password string `json:"password,omitempty"`
}

func (d *Dispatcher) continueWithAuth(ctx context.Context, raw json.RawMessage) (interface{}, error) {
	var p continueWithAuthParams
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, bidierror.InvalidArgumentErr("network.continueWithAuth: %v", err)
	}
	if err := d.p.ContinueWithAuth(ctx, p.Request, p.Action, p.Username, p.Password); err != nil {
		return nil, err
	}
	return struct{}{}, nil
}

type handleUserPromptParams struct {
	Context  string `json:"context"`
	Accept   bool   `json:"accept"`
	UserText string `json:"userText,omitempty"`
}

func (d *Dispatcher) handleUserPrompt(ctx context.Context, raw json.RawMessage) (interface{}, error) {
	var p handleUserPromptParams
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, bidierror.InvalidArgumentErr("browsingContext.handleUserPrompt: %v", err)
	}
	if err := d.p.HandleUserPrompt(ctx, p.Context, p.Accept, p.UserText); err != nil {
		return nil, err
	}
	return struct{}{}, nil
}

func (d *Dispatcher) performActions(ctx context.Context, raw json.RawMessage) (interface{}, error) {
	var p struct {
		Context string `json:"context"`
	}
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, bidierror.InvalidArgumentErr("input.performActions: %v", err)
	}
	return d.p.PerformActions(ctx, p.Context, raw)
}

type createBrowsingContextParams struct {
	Type string `json:"type"`
}

func (d *Dispatcher) createBrowsingContext(ctx context.Context, raw json.RawMessage) (interface{}, error) {
	var p createBrowsingContextParams
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, bidierror.InvalidArgumentErr("browsingContext.create: %v", err)
	}
	id, err := d.p.CreateBrowsingContext(ctx, p.Type)
	if err != nil {
		return nil, err
	}
	return map[string]string{"context": id}, nil
}

type viewportSize struct {
	Width  int64 `json:"width"`
	Height int64 `json:"height"`
}

type setViewportParams struct {
	Context          string        `json:"context"`
	Viewport         *viewportSize `json:"viewport"`
	DevicePixelRatio *float64      `json:"devicePixelRatio"`
}

func (d *Dispatcher) setViewport(ctx context.Context, raw json.RawMessage) (interface{}, error) {
	var p setViewportParams
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, bidierror.InvalidArgumentErr("browsingContext.setViewport: %v", err)
	}
	var width, height int64
	if p.Viewport != nil {
		width, height = p.Viewport.Width, p.Viewport.Height
	}
	var dpr float64
	if p.DevicePixelRatio != nil {
		dpr = *p.DevicePixelRatio
	}
	if err := d.p.SetViewport(ctx, p.Context, width, height, dpr); err != nil {
		return nil, err
	}
	return struct{}{}, nil
}

type addPreloadScriptParams struct {
	FunctionDeclaration string   `json:"functionDeclaration"`
	Sandbox             string   `json:"sandbox,omitempty"`
	Contexts            []string `json:"contexts,omitempty"`
}

func (d *Dispatcher) addPreloadScript(ctx context.Context, raw json.RawMessage) (interface{}, error) {
	var p addPreloadScriptParams
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, bidierror.InvalidArgumentErr("script.addPreloadScript: %v", err)
	}
	id, err := d.p.AddPreloadScript(ctx, p.FunctionDeclaration, p.Sandbox, p.Contexts)
	if err != nil {
		return nil, err
	}
	return map[string]string{"script": id}, nil
}

type removePreloadScriptParams struct {
	Script string `json:"script"`
}

func (d *Dispatcher) removePreloadScript(ctx context.Context, raw json.RawMessage) (interface{}, error) {
	var p removePreloadScriptParams
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, bidierror.InvalidArgumentErr("script.removePreloadScript: %v", err)
	}
	if err := d.p.RemovePreloadScript(ctx, p.Script); err != nil {
		return nil, err
	}
	return struct{}{}, nil
}
