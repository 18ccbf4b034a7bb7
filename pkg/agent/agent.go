// Package agent provides the base agent abstraction: a per-name singleton
// carrying a system prompt, a user-prompt template with a statically
// discovered variable contract, and a hot-swappable LLM engine.
package agent

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
	"sync"

	"github.com/ospa-ai/relay/pkg/aicontext"
	"github.com/ospa-ai/relay/pkg/llms"
)

// ErrMissingTemplateVariable reports a step call that did not supply every
// variable the user-prompt template declares.
var ErrMissingTemplateVariable = errors.New("missing template variable")

// placeholderRegex matches {variable} placeholders with identifier names.
var placeholderRegex = regexp.MustCompile(`\{([a-zA-Z_][a-zA-Z0-9_]*)\}`)

// Agent is the shared base of every specialized agent.
type Agent struct {
	name               string
	systemPrompt       string
	userPromptTemplate string
	templateVars       []string

	mu     sync.RWMutex
	engine *llms.Client
}

var (
	registryMu sync.Mutex
	registry   = make(map[string]*Agent)
)

// New returns the singleton agent for name, constructing it on first use.
// A second construction with the same name returns the existing instance
// unchanged.
func New(name, systemPrompt, userPromptTemplate string, engine *llms.Client) *Agent {
	registryMu.Lock()
	defer registryMu.Unlock()

	if existing, ok := registry[name]; ok {
		return existing
	}

	a := &Agent{
		name:               name,
		systemPrompt:       systemPrompt,
		userPromptTemplate: userPromptTemplate,
		templateVars:       ListPlaceholders(userPromptTemplate),
		engine:             engine,
	}
	registry[name] = a
	return a
}

// UpdateAllEngines swaps the LLM engine of every live agent. An in-flight
// step keeps the handle it already captured.
func UpdateAllEngines(engine *llms.Client) {
	registryMu.Lock()
	defer registryMu.Unlock()
	for _, a := range registry {
		a.SetEngine(engine)
	}
}

// ResetRegistry drops all singletons. Intended for tests.
func ResetRegistry() {
	registryMu.Lock()
	defer registryMu.Unlock()
	registry = make(map[string]*Agent)
}

func (a *Agent) Name() string {
	return a.name
}

func (a *Agent) SystemPrompt() string {
	return a.systemPrompt
}

// TemplateVars returns the variable names the user-prompt template declares.
func (a *Agent) TemplateVars() []string {
	return a.templateVars
}

// Engine returns the current LLM engine handle.
func (a *Agent) Engine() *llms.Client {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.engine
}

func (a *Agent) SetEngine(engine *llms.Client) {
	a.mu.Lock()
	a.engine = engine
	a.mu.Unlock()
}

// RenderUserPrompt substitutes vars into the template. Every declared
// variable must be supplied; extras are ignored.
func (a *Agent) RenderUserPrompt(vars map[string]string) (string, error) {
	var missing []string
	for _, name := range a.templateVars {
		if _, ok := vars[name]; !ok {
			missing = append(missing, name)
		}
	}
	if len(missing) > 0 {
		return "", fmt.Errorf("%w: %s (agent %s)",
			ErrMissingTemplateVariable, strings.Join(missing, ", "), a.name)
	}

	return placeholderRegex.ReplaceAllStringFunc(a.userPromptTemplate, func(match string) string {
		name := strings.Trim(match, "{}")
		return vars[name]
	}), nil
}

// BuildContext renders the user prompt into ctx. A nil ctx gets a fresh
// context with the system prompt prepended.
func (a *Agent) BuildContext(ctx *aicontext.Context, vars map[string]string) (*aicontext.Context, error) {
	prompt, err := a.RenderUserPrompt(vars)
	if err != nil {
		return nil, err
	}
	if ctx == nil {
		ctx = aicontext.New()
		if a.systemPrompt != "" {
			ctx.AddSystemPrompt(a.systemPrompt)
		}
	}
	ctx.AddUserPrompt(prompt)
	return ctx, nil
}

// ListPlaceholders returns the unique {variable} names in template, in
// first-appearance order.
func ListPlaceholders(template string) []string {
	matches := placeholderRegex.FindAllString(template, -1)
	seen := make(map[string]bool)
	var names []string
	for _, match := range matches {
		name := strings.Trim(match, "{}")
		if !seen[name] {
			names = append(names, name)
			seen[name] = true
		}
	}
	return names
}
