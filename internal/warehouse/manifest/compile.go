package manifest

import (
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/reboot-codes/cloverhub/pkg/models"
)

// FieldError records one failed field with the file it was resolving in.
type FieldError struct {
	Field string
	Here  string
	Err   error
}

func (e FieldError) Error() string {
	return fmt.Sprintf("%s (in %s): %v", e.Field, e.Here, e.Err)
}

// Report accumulates compile failures. Each field records the first error
// that aborts it; sibling fields keep compiling so one pass surfaces as
// many failures as possible. A failed field's value falls back to the
// type's default so the surrounding record still builds for logging.
type Report struct {
	Errors []FieldError
}

func (r *Report) add(field string, ctx Ctx, err error) {
	r.Errors = append(r.Errors, FieldError{Field: field, Here: ctx.Here, Err: err})
}

// Err returns the first accumulated error, or nil when the compile was
// clean.
func (r *Report) Err() error {
	if len(r.Errors) == 0 {
		return nil
	}
	return r.Errors[0]
}

// Compile resolves a raw spec into a Manifest. specPath is the absolute
// path of the manifest file (the root @here). The returned Report lists
// every field that failed; the Manifest is still populated with whatever
// compiled cleanly.
func Compile(spec Spec, specPath string) (Manifest, *Report) {
	report := &Report{}

	// base resolves first — every other field may reference it via @base.
	baseCtx := NewCtx("", specPath)
	base := compileOptionalString(spec.Base, baseCtx, report, "manifest.base")

	ctx := NewCtx(stringOr(base, ""), specPath)

	if spec.Version == "" {
		report.add("manifest.version", ctx, fmt.Errorf("required field is missing"))
	}

	m := Manifest{
		Name:    compileOptionalString(spec.Name, ctx, report, "manifest.name"),
		Version: compileString(spec.Version, ctx, report, "manifest.version"),
		Base:    base,
		Modules: compileList(spec.Modules, ctx, report, "manifest.modules", false,
			compileModule),
		Applications: compileList(spec.Applications, ctx, report, "manifest.applications", false,
			compileApplication),
		ExpressionPacks: compileList(spec.ExpressionPacks, ctx.ForCore(), report, "manifest.expression-packs", false,
			compileExpressionPack),
	}

	return m, report
}

// ── Per-type compilers ──────────────────────────────────────

func compileModule(raw RawModuleSpec, ctx Ctx, report *Report, field string) ModuleSpec {
	return ModuleSpec{
		Name:       compileOptionalString(raw.Name, ctx, report, field+".name"),
		Components: compileStringMap(raw.Components, ctx, report, field+".components"),
	}
}

func compileApplication(raw RawApplicationSpec, ctx Ctx, report *Report, field string) ApplicationSpec {
	return ApplicationSpec{
		Name:    compileString(raw.Name, ctx, report, field+".name"),
		Version: compileString(raw.Version, ctx, report, field+".version"),
		Intents: compileStringMap(raw.Intents, ctx, report, field+".intents"),
		Containers: compileList(raw.Containers, ctx, report, field+".containers", false,
			compileContainer),
	}
}

func compileContainer(raw RawContainerSpec, ctx Ctx, report *Report, field string) ContainerSpec {
	return ContainerSpec{
		Interface: compileSingle(raw.Interface, ctx, report, field+".interface", false,
			func(v bool, _ Ctx, _ *Report, _ string) bool { return v }),
		Build: compileSingle(raw.Build, ctx, report, field+".build", false,
			compileBuildConfig),
	}
}

func compileBuildConfig(raw RawBuildConfig, ctx Ctx, report *Report, field string) models.BuildConfig {
	return models.BuildConfig{
		URL: compileString(raw.URL, ctx, report, field+".url"),
		Creds: compileSingle(raw.Creds, ctx, report, field+".creds", false,
			compileRepoCreds),
	}
}

func compileRepoCreds(raw RawRepoCreds, ctx Ctx, report *Report, field string) models.RepoCreds {
	return models.RepoCreds{
		Username: stringOr(compileOptionalString(raw.Username, ctx, report, field+".username"), ""),
		Key:      compileString(raw.Key, ctx, report, field+".key"),
	}
}

func compileExpressionPack(raw RawExpressionPackSpec, ctx Ctx, report *Report, field string) ExpressionPackSpec {
	return ExpressionPackSpec{
		Name: compileOptionalString(raw.Name, ctx, report, field+".name"),
		Expressions: compileList(raw.Expressions, ctx, report, field+".expressions", true,
			compileExpression),
	}
}

func compileExpression(raw RawExpressionSpec, ctx Ctx, report *Report, field string) ExpressionSpec {
	if raw.Static == nil {
		report.add(field, ctx, fmt.Errorf("expression has no known kind"))
		return ExpressionSpec{}
	}
	return ExpressionSpec{
		Static: &StaticExpressionSpec{
			StaticURL: compileString(raw.Static.StaticURL, ctx, report, field+".static_url"),
		},
	}
}

// ── Shape compilers ─────────────────────────────────────────

// compileString resolves a required scalar string: directives are
// substituted, and an @import loads the target file as a JSONC string.
func compileString(raw string, ctx Ctx, report *Report, field string) string {
	res, err := ResolveValue(raw, ctx)
	if err != nil {
		report.add(field, ctx, err)
		return ""
	}
	switch {
	case res.Multiple != nil:
		report.add(field, ctx, fmt.Errorf("glob import not supported at a single-valued field"))
		return ""
	case res.Single != nil:
		var val string
		if err := ParseJSONC(res.Single.Content, &val); err != nil {
			report.add(field, ctx.At(res.Single.Here), err)
			return ""
		}
		return val
	default:
		return res.Literal
	}
}

// compileOptionalString is compileString for a field that may be absent.
func compileOptionalString(raw *string, ctx Ctx, report *Report, field string) *string {
	if raw == nil {
		return nil
	}
	val := compileString(*raw, ctx, report, field)
	return &val
}

// compileSingle resolves a single-valued field to *TOut (nil when absent).
// Glob imports are an error at this shape; the surrounding record is still
// built with the field defaulted.
func compileSingle[TRaw, TOut any](
	e SingleEntry[TRaw],
	ctx Ctx,
	report *Report,
	field string,
	required bool,
	fn func(TRaw, Ctx, *Report, string) TOut,
) *TOut {
	if !e.Set {
		if required {
			report.add(field, ctx, fmt.Errorf("required field is missing"))
		}
		return nil
	}

	if e.Inline != nil {
		out := fn(*e.Inline, ctx, report, field)
		return &out
	}

	res, err := ResolveValue(e.Str, ctx)
	if err != nil {
		report.add(field, ctx, err)
		return nil
	}
	switch {
	case res.Multiple != nil:
		report.add(field, ctx, fmt.Errorf("glob import not supported at a single-valued field"))
		return nil
	case res.Single != nil:
		var raw TRaw
		if err := ParseJSONC(res.Single.Content, &raw); err != nil {
			report.add(field, ctx.At(res.Single.Here), err)
			return nil
		}
		out := fn(raw, ctx.At(res.Single.Here), report, field)
		return &out
	default:
		// A literal at a non-string field still has to parse as TRaw
		// (e.g. "true" for a boolean).
		var raw TRaw
		if err := ParseJSONC([]byte(res.Literal), &raw); err != nil {
			report.add(field, ctx, err)
			return nil
		}
		out := fn(raw, ctx, report, field)
		return &out
	}
}

// compileList resolves a list-shaped field into a map of compiled entries.
// The whole field may be an @import (single file holding the map, or a glob
// merged by capture); individual entries may themselves be imports; and an
// entry key ending in "*" prefixes each glob capture.
func compileList[TRaw, TOut any](
	e ListEntry[TRaw],
	ctx Ctx,
	report *Report,
	field string,
	required bool,
	fn func(TRaw, Ctx, *Report, string) TOut,
) map[string]TOut {
	if !e.Set {
		if required {
			report.add(field, ctx, fmt.Errorf("required field is missing"))
		}
		return nil
	}

	if !e.IsStr {
		return compileListEntries(e.Inline, ctx, report, field, fn)
	}

	res, err := ResolveValue(e.Str, ctx)
	if err != nil {
		report.add(field, ctx, err)
		return nil
	}
	switch {
	case res.Multiple != nil:
		// Glob at a list field: each matched file is one entry, keyed by
		// its capture.
		entries := make(map[string]TOut, len(res.Multiple))
		for capture, file := range res.Multiple {
			var raw TRaw
			if err := ParseJSONC(file.Content, &raw); err != nil {
				report.add(field+"."+capture, ctx.At(file.Here), err)
				continue
			}
			entries[capture] = fn(raw, ctx.At(file.Here), report, field+"."+capture)
		}
		return entries
	case res.Single != nil:
		var inner map[string]SingleEntry[TRaw]
		if err := ParseJSONC(res.Single.Content, &inner); err != nil {
			report.add(field, ctx.At(res.Single.Here), err)
			return nil
		}
		return compileListEntries(inner, ctx.At(res.Single.Here), report, field, fn)
	default:
		report.add(field, ctx, fmt.Errorf("a string is not a valid value for this field unless it is an import"))
		return nil
	}
}

// compileListEntries compiles an inline entry map. Entry errors are logged
// and recorded but do not stop the siblings.
func compileListEntries[TRaw, TOut any](
	raw map[string]SingleEntry[TRaw],
	ctx Ctx,
	report *Report,
	field string,
	fn func(TRaw, Ctx, *Report, string) TOut,
) map[string]TOut {
	entries := make(map[string]TOut, len(raw))

	for key, entry := range raw {
		globPrefix, isGlobKey := GlobKey(key)
		entryField := field + "." + key

		if entry.Inline != nil {
			if isGlobKey {
				report.add(entryField, ctx, fmt.Errorf("glob key requires a glob import value"))
				continue
			}
			entries[key] = fn(*entry.Inline, ctx, report, entryField)
			continue
		}
		if !entry.Set {
			report.add(entryField, ctx, fmt.Errorf("entry has no value"))
			continue
		}

		res, err := ResolveValue(entry.Str, ctx)
		if err != nil {
			report.add(entryField, ctx, err)
			continue
		}
		switch {
		case res.Multiple != nil:
			if !isGlobKey {
				report.add(entryField, ctx, fmt.Errorf("glob import requires a glob key"))
				continue
			}
			for capture, file := range res.Multiple {
				var rawEntry TRaw
				if err := ParseJSONC(file.Content, &rawEntry); err != nil {
					report.add(entryField, ctx.At(file.Here), err)
					continue
				}
				entries[globPrefix+capture] = fn(rawEntry, ctx.At(file.Here), report, entryField)
			}
		case res.Single != nil:
			if isGlobKey {
				report.add(entryField, ctx, fmt.Errorf("resolved only one file for glob key import, import the root key instead"))
				continue
			}
			var rawEntry TRaw
			if err := ParseJSONC(res.Single.Content, &rawEntry); err != nil {
				report.add(entryField, ctx.At(res.Single.Here), err)
				continue
			}
			entries[key] = fn(rawEntry, ctx.At(res.Single.Here), report, entryField)
		default:
			var rawEntry TRaw
			if err := ParseJSONC([]byte(res.Literal), &rawEntry); err != nil {
				report.add(entryField, ctx, err)
				continue
			}
			entries[key] = fn(rawEntry, ctx, report, entryField)
		}
	}

	if len(report.Errors) > 0 {
		log.Debug().Str("field", field).Int("errors", len(report.Errors)).Msg("List compiled with entry errors")
	}
	return entries
}

// compileStringMap resolves an intents-style map of plain strings.
// Directives are substituted in both keys and values.
func compileStringMap(e StringMapEntry, ctx Ctx, report *Report, field string) map[string]string {
	if !e.Set {
		return nil
	}

	if !e.IsStr {
		out := make(map[string]string, len(e.Inline))
		for key, value := range e.Inline {
			res, err := ResolveValue(value, ctx)
			if err != nil {
				report.add(field+"."+key, ctx, err)
				continue
			}
			outKey := ReplaceDirectives(key, ctx)
			switch {
			case res.Multiple != nil:
				report.add(field+"."+key, ctx, fmt.Errorf("glob import not supported at a single-valued entry"))
			case res.Single != nil:
				var val string
				if err := ParseJSONC(res.Single.Content, &val); err != nil {
					report.add(field+"."+key, ctx.At(res.Single.Here), err)
					continue
				}
				out[outKey] = val
			default:
				out[outKey] = res.Literal
			}
		}
		return out
	}

	res, err := ResolveValue(e.Str, ctx)
	if err != nil {
		report.add(field, ctx, err)
		return nil
	}
	switch {
	case res.Multiple != nil:
		out := make(map[string]string, len(res.Multiple))
		for capture, file := range res.Multiple {
			var val string
			if err := ParseJSONC(file.Content, &val); err != nil {
				report.add(field+"."+capture, ctx.At(file.Here), err)
				continue
			}
			out[capture] = val
		}
		return out
	case res.Single != nil:
		var out map[string]string
		if err := ParseJSONC(res.Single.Content, &out); err != nil {
			report.add(field, ctx.At(res.Single.Here), err)
			return nil
		}
		return out
	default:
		report.add(field, ctx, fmt.Errorf("a string is not a valid value for this field unless it is an import"))
		return nil
	}
}

func stringOr(s *string, fallback string) string {
	if s == nil {
		return fallback
	}
	return *s
}
