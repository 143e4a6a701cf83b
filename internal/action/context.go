// internal/action/context.go
package action

import (
	"strings"

	"github.com/loopautoma/loopautoma/internal/security"
)

// Context carries state across one action sequence run: named variables set by
// LLM actions and the termination signal any action may raise. It is owned by
// a single goroutine per run.
type Context struct {
	vars       map[string]string
	terminated bool
	reason     string
}

// NewContext creates an empty action context.
func NewContext() *Context {
	return &Context{vars: make(map[string]string)}
}

// Set stores a variable. Values are stored raw; sanitization happens at
// expansion time so logs and checks see what the model actually said.
func (c *Context) Set(name, value string) {
	c.vars[name] = value
}

// Get returns a variable value.
func (c *Context) Get(name string) (string, bool) {
	v, ok := c.vars[name]
	return v, ok
}

// Vars returns a copy of all variables.
func (c *Context) Vars() map[string]string {
	out := make(map[string]string, len(c.vars))
	for k, v := range c.vars {
		out[k] = v
	}
	return out
}

// Terminate raises the termination signal. The first reason wins; later calls
// are ignored so the original cause is what gets reported.
func (c *Context) Terminate(reason string) {
	if c.terminated {
		return
	}
	c.terminated = true
	c.reason = reason
}

// ShouldTerminate reports whether any action raised the termination signal.
func (c *Context) ShouldTerminate() (string, bool) {
	return c.reason, c.terminated
}

// Expand substitutes {{name}} references in text with sanitized variable
// values. Unknown references are left as-is.
func (c *Context) Expand(text string) string {
	if !strings.Contains(text, "{{") {
		return text
	}
	for name, value := range c.vars {
		text = strings.ReplaceAll(text, "{{"+name+"}}", security.SanitizeValue(value))
	}
	return text
}
