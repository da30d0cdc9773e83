// Package tool defines the tool aggregate: descriptor, parameters, entry
// kinds, and the lifecycle status machine.
package tool

import (
	"time"

	"weave/internal/errors"
)

// ParamType is the closed set of parameter value types.
type ParamType string

const (
	ParamString  ParamType = "string"
	ParamNumber  ParamType = "number"
	ParamBoolean ParamType = "boolean"
	ParamObject  ParamType = "object"
	ParamArray   ParamType = "array"
)

// Valid reports whether t is a member of the closed type set.
func (t ParamType) Valid() bool {
	switch t {
	case ParamString, ParamNumber, ParamBoolean, ParamObject, ParamArray:
		return true
	}
	return false
}

// Param declares one tool parameter.
type Param struct {
	Name        string    `json:"name" yaml:"name"`
	Type        ParamType `json:"type" yaml:"type"`
	Description string    `json:"description,omitempty" yaml:"description,omitempty"`
	Required    bool      `json:"required" yaml:"required"`
	Default     any       `json:"default,omitempty" yaml:"default,omitempty"`
	Enum        []any     `json:"enum,omitempty" yaml:"enum,omitempty"`
}

// EntryKind identifies the executor family used to invoke a tool.
type EntryKind string

const (
	EntryBuiltin    EntryKind = "builtin"
	EntryHTTP       EntryKind = "http"
	EntryPython     EntryKind = "python"
	EntryJavaScript EntryKind = "javascript"
)

// Valid reports whether k is a member of the closed entry set.
func (k EntryKind) Valid() bool {
	switch k {
	case EntryBuiltin, EntryHTTP, EntryPython, EntryJavaScript:
		return true
	}
	return false
}

// Entry describes how a tool is invoked.
type Entry struct {
	Kind    EntryKind      `json:"type" yaml:"type"`
	Handler string         `json:"handler,omitempty" yaml:"handler,omitempty"`
	URL     string         `json:"url,omitempty" yaml:"url,omitempty"`
	Config  map[string]any `json:"config,omitempty" yaml:"config,omitempty"`
}

// Category is the closed set of catalog categories.
type Category string

const (
	CategoryGeneral Category = "general"
	CategoryData    Category = "data"
	CategoryNetwork Category = "network"
	CategoryMedia   Category = "media"
	CategorySystem  Category = "system"
	CategoryCustom  Category = "custom"
)

// Valid reports whether c is a member of the closed category set.
func (c Category) Valid() bool {
	switch c {
	case CategoryGeneral, CategoryData, CategoryNetwork, CategoryMedia, CategorySystem, CategoryCustom:
		return true
	}
	return false
}

// Status is a tool's lifecycle stage.
type Status string

const (
	StatusDraft      Status = "draft"
	StatusTesting    Status = "testing"
	StatusPublished  Status = "published"
	StatusDeprecated Status = "deprecated"
)

// Tool is the aggregate root stored in the tool repository and indexed by the
// tool engine. Name is the unique key among active tools.
type Tool struct {
	ID          string         `json:"id" yaml:"-"`
	Name        string         `json:"name" yaml:"name"`
	Version     string         `json:"version" yaml:"version"`
	Description string         `json:"description" yaml:"description"`
	Category    Category       `json:"category" yaml:"category"`
	Tags        []string       `json:"tags,omitempty" yaml:"tags,omitempty"`
	Params      []Param        `json:"parameters" yaml:"parameters"`
	Returns     map[string]any `json:"returns,omitempty" yaml:"returns,omitempty"`
	Entry       Entry          `json:"entry" yaml:"entry"`
	Concurrency int            `json:"concurrency,omitempty" yaml:"concurrency,omitempty"`
	Lenient     bool           `json:"lenient,omitempty" yaml:"lenient,omitempty"`
	Author      string         `json:"author,omitempty" yaml:"author,omitempty"`
	Status      Status         `json:"status" yaml:"-"`
	UsageCount  int64          `json:"usage_count" yaml:"-"`
	CreatedAt   time.Time      `json:"created_at,omitempty" yaml:"-"`
	UpdatedAt   time.Time      `json:"updated_at,omitempty" yaml:"-"`
}

// Param returns the declared parameter with the given name.
func (t *Tool) Param(name string) (*Param, bool) {
	for i := range t.Params {
		if t.Params[i].Name == name {
			return &t.Params[i], true
		}
	}
	return nil, false
}

// Deprecated reports whether the tool must be rejected by validation.
func (t *Tool) Deprecated() bool {
	return t.Status == StatusDeprecated
}

// Publish moves the tool from testing to published. It is the only permitted
// route into the published status.
func (t *Tool) Publish() error {
	if t.Status != StatusTesting {
		return errors.New(errors.KindInvalidTransition,
			"tool %q cannot be published from status %q", t.Name, t.Status).
			WithMeta("from", string(t.Status)).
			WithMeta("to", string(StatusPublished))
	}
	t.Status = StatusPublished
	t.UpdatedAt = time.Now()
	return nil
}

// Transition applies a generic status change, enforcing the draft → testing →
// published → deprecated progression. Publishing must go through Publish.
func (t *Tool) Transition(next Status) error {
	allowed := map[Status][]Status{
		StatusDraft:     {StatusTesting},
		StatusTesting:   {StatusDraft, StatusDeprecated},
		StatusPublished: {StatusDeprecated},
	}
	if next == StatusPublished {
		return t.Publish()
	}
	for _, candidate := range allowed[t.Status] {
		if candidate == next {
			t.Status = next
			t.UpdatedAt = time.Now()
			return nil
		}
	}
	return errors.New(errors.KindInvalidTransition,
		"tool %q cannot move from %q to %q", t.Name, t.Status, next).
		WithMeta("from", string(t.Status)).
		WithMeta("to", string(next))
}
