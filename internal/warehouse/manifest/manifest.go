// Package manifest compiles Clover manifest specs into fully-resolved
// manifests.
//
// A spec is what a repo author writes in manifest.clover.jsonc: JSON with
// comments, where any field may be replaced with an @import("path")
// directive and string values may embed @base and @here tokens. The
// compiled form has every import resolved and every directive substituted.
// Compilation is pure with respect to the filesystem snapshot and never
// mutates the spec.
//
// Fields come in four shapes — required/optional × single/list — and the
// compiler dispatches by shape, recording the first error that aborts each
// field while letting sibling fields continue, so one pass surfaces as many
// failures as possible.
package manifest

import (
	"encoding/json"
	"fmt"

	"github.com/tailscale/hujson"

	"github.com/reboot-codes/cloverhub/pkg/models"
)

// ManifestFileName is the default file the resolver descends to when a glob
// import matches a directory.
const ManifestFileName = "manifest.clover.jsonc"

// ── Spec (raw) types ────────────────────────────────────────

// SingleEntry is a single-valued spec field: an inline value, a raw string
// (an @import directive or a directive-bearing literal), or absent.
type SingleEntry[T any] struct {
	Inline *T
	Str    string
	IsStr  bool
	Set    bool
}

func (e *SingleEntry[T]) UnmarshalJSON(data []byte) error {
	e.Set = true

	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		e.Str = s
		e.IsStr = true
		return nil
	}

	var v T
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	e.Inline = &v
	return nil
}

// ListEntry is a list-shaped spec field: an inline map of entries, an
// @import string for the whole map, or absent. Map keys may end in a
// trailing "*", in which case the value must be a glob import and the
// capture of each matched file is appended to the key prefix.
type ListEntry[T any] struct {
	Inline map[string]SingleEntry[T]
	Str    string
	IsStr  bool
	Set    bool
}

func (e *ListEntry[T]) UnmarshalJSON(data []byte) error {
	e.Set = true

	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		e.Str = s
		e.IsStr = true
		return nil
	}

	var m map[string]SingleEntry[T]
	if err := json.Unmarshal(data, &m); err != nil {
		return err
	}
	e.Inline = m
	return nil
}

// StringMapEntry is a list-shaped field whose values are plain strings
// (application intents).
type StringMapEntry struct {
	Inline map[string]string
	Str    string
	IsStr  bool
	Set    bool
}

func (e *StringMapEntry) UnmarshalJSON(data []byte) error {
	e.Set = true

	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		e.Str = s
		e.IsStr = true
		return nil
	}

	var m map[string]string
	if err := json.Unmarshal(data, &m); err != nil {
		return err
	}
	e.Inline = m
	return nil
}

// Spec is the raw manifest tree as written by a repo author.
type Spec struct {
	Name    *string `json:"name"`
	Version string  `json:"version"`
	// Base is the repo's reverse-DNS prefix, substituted for @base tokens.
	Base            *string                          `json:"base"`
	Modules         ListEntry[RawModuleSpec]         `json:"modules"`
	Applications    ListEntry[RawApplicationSpec]    `json:"applications"`
	ExpressionPacks ListEntry[RawExpressionPackSpec] `json:"expression-packs"`
}

type RawModuleSpec struct {
	Name *string `json:"name"`
	// Components maps a component id to its class (audio, video, sensor,
	// movement).
	Components StringMapEntry `json:"components"`
}

type RawApplicationSpec struct {
	Name       string                      `json:"name"`
	Version    string                      `json:"version"`
	Intents    StringMapEntry              `json:"intents"`
	Containers ListEntry[RawContainerSpec] `json:"containers"`
}

type RawContainerSpec struct {
	Interface SingleEntry[bool]           `json:"interface"`
	Build     SingleEntry[RawBuildConfig] `json:"build"`
}

type RawBuildConfig struct {
	URL   string                    `json:"url"`
	Creds SingleEntry[RawRepoCreds] `json:"creds"`
}

type RawRepoCreds struct {
	Username *string `json:"username"`
	Key      string  `json:"key"`
}

type RawExpressionPackSpec struct {
	Name *string `json:"name"`
	// Expressions is required: a pack with nothing in it is a spec error.
	Expressions ListEntry[RawExpressionSpec] `json:"expressions"`
}

// RawExpressionSpec is a tagged union of expression kinds. Static is the
// only kind today; animated expressions get their own variant when the
// renderer grows support for them.
type RawExpressionSpec struct {
	Static *RawStaticExpressionSpec `json:"static"`
}

type RawStaticExpressionSpec struct {
	StaticURL string `json:"static_url"`
}

// ── Compiled types ──────────────────────────────────────────

// Manifest is a fully-resolved manifest tree.
type Manifest struct {
	Name            *string
	Version         string
	Base            *string
	Modules         map[string]ModuleSpec
	Applications    map[string]ApplicationSpec
	ExpressionPacks map[string]ExpressionPackSpec
}

type ModuleSpec struct {
	Name       *string
	Components map[string]string
}

type ApplicationSpec struct {
	Name       string
	Version    string
	Intents    map[string]string
	Containers map[string]ContainerSpec
}

type ContainerSpec struct {
	Interface *bool
	Build     *models.BuildConfig
}

type ExpressionPackSpec struct {
	Name        *string
	Expressions map[string]ExpressionSpec
}

// ExpressionSpec mirrors RawExpressionSpec with resolved members.
type ExpressionSpec struct {
	Static *StaticExpressionSpec
}

type StaticExpressionSpec struct {
	StaticURL string
}

// ── Parsing ─────────────────────────────────────────────────

// ParseJSONC decodes JSON-with-comments into v. Manifests and the data-dir
// config both use this dialect.
func ParseJSONC(data []byte, v any) error {
	std, err := hujson.Standardize(data)
	if err != nil {
		return fmt.Errorf("standardize jsonc: %w", err)
	}
	return json.Unmarshal(std, v)
}

// MarshalJSONC renders v as indented JSON under a comment header, suitable
// for a .jsonc file the user will edit.
func MarshalJSONC(v any, header string) ([]byte, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return nil, err
	}
	out := make([]byte, 0, len(header)+len(data)+1)
	out = append(out, header...)
	out = append(out, data...)
	out = append(out, '\n')
	return out, nil
}
