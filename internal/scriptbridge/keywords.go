package scriptbridge

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
	"time"

	lua "github.com/yuin/gopher-lua"
	"golang.org/x/sync/errgroup"

	"github.com/nextlevelbuilder/botserver/internal/errs"
)

var placeholderPattern = regexp.MustCompile(`\{\{\s*([a-zA-Z0-9_]+)\s*\}\}`)

// registerBuiltins wires GENERATE_PDF, MERGE_PDF, and ON_EMAIL as global
// Lua functions. Keyword names are translated to Lua-legal
// identifiers (spaces -> underscores); the authoring surface that maps
// "GENERATE PDF" source syntax onto these globals belongs to the bot
// script parser, not this package.
func (b *Bridge) registerBuiltins() {
	b.registerKeyword("GENERATE_PDF", b.luaGeneratePDF)
	b.registerKeyword("MERGE_PDF", b.luaMergePDF)
	b.registerKeyword("ON_EMAIL", b.luaOnEmail)
}

// substitutePlaceholders replaces {{key}} with values[key], JSON-stringifying
// non-string values.
func substitutePlaceholders(template string, values map[string]any) string {
	return placeholderPattern.ReplaceAllStringFunc(template, func(match string) string {
		key := placeholderPattern.FindStringSubmatch(match)[1]
		v, ok := values[key]
		if !ok {
			return match
		}
		switch s := v.(type) {
		case string:
			return s
		default:
			b, err := json.Marshal(s)
			if err != nil {
				return match
			}
			return string(b)
		}
	})
}

const pdfCommentHeader = "<!-- generated by botserver script bridge on %s -->\n"

// generatePDF reads templatePath, substitutes placeholders, prepends a
// comment header, and writes to the bot's drive at outputPath.
func (b *Bridge) generatePDF(ctx context.Context, templatePath, outputPath string, values map[string]any) error {
	templateBytes, err := b.Store.Read(ctx, DriveKey(b.BotName, templatePath))
	if err != nil {
		return fmt.Errorf("read pdf template: %w", err)
	}

	body := substitutePlaceholders(string(templateBytes), values)
	out := fmt.Sprintf(pdfCommentHeader, time.Now().UTC().Format(time.RFC3339)) + body

	if err := b.Store.Write(ctx, DriveKey(b.BotName, outputPath), []byte(out)); err != nil {
		return fmt.Errorf("write generated pdf: %w", err)
	}
	return nil
}

// mergePDF concatenates N template reads under comment delimiters and
// writes the result to outputPath. Sources are fetched concurrently;
// output order follows templatePaths regardless of fetch completion
// order.
func (b *Bridge) mergePDF(ctx context.Context, templatePaths []string, outputPath string) error {
	contents := make([][]byte, len(templatePaths))
	g, gctx := errgroup.WithContext(ctx)
	for i, path := range templatePaths {
		i, path := i, path
		g.Go(func() error {
			content, err := b.Store.Read(gctx, DriveKey(b.BotName, path))
			if err != nil {
				return fmt.Errorf("read merge source %q: %w", path, err)
			}
			contents[i] = content
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	var sb strings.Builder
	for i, path := range templatePaths {
		sb.WriteString(fmt.Sprintf("<!-- begin %s -->\n", path))
		sb.Write(contents[i])
		sb.WriteString(fmt.Sprintf("\n<!-- end %s -->\n", path))
	}
	if err := b.Store.Write(ctx, DriveKey(b.BotName, outputPath), []byte(sb.String())); err != nil {
		return fmt.Errorf("write merged pdf: %w", err)
	}
	return nil
}

func (b *Bridge) luaGeneratePDF(L *lua.LState) int {
	templatePath := L.CheckString(1)
	outputPath := L.CheckString(2)
	values := tableToMap(L.OptTable(3, L.NewTable()))

	result, err := runAsync(context.Background(), func(ctx context.Context) (lua.LValue, error) {
		if err := b.generatePDF(ctx, templatePath, outputPath, values); err != nil {
			return nil, err
		}
		return lua.LString(DriveKey(b.BotName, outputPath)), nil
	})
	return pushResult(L, result, err)
}

func (b *Bridge) luaMergePDF(L *lua.LState) int {
	sources := L.CheckTable(1)
	outputPath := L.CheckString(2)

	var paths []string
	sources.ForEach(func(_, v lua.LValue) {
		paths = append(paths, v.String())
	})

	result, err := runAsync(context.Background(), func(ctx context.Context) (lua.LValue, error) {
		if err := b.mergePDF(ctx, paths, outputPath); err != nil {
			return nil, err
		}
		return lua.LString(DriveKey(b.BotName, outputPath)), nil
	})
	return pushResult(L, result, err)
}

// EmailTrigger is the ON EMAIL registration's three variants.
type EmailTrigger struct {
	Address      string
	FromFilter   string
	SubjectFilter string
}

// AutomationRegistrar persists the Automation + EmailMonitor rows an ON
// EMAIL statement materializes; implemented by the scheduler store.
type AutomationRegistrar interface {
	RegisterEmailTrigger(ctx context.Context, botName string, trigger EmailTrigger, scriptPath string) error
}

// WithRegistrar attaches an AutomationRegistrar for ON EMAIL to use; call
// once, right after New, before any script runs. A nil registrar makes the
// keyword report an error rather than silently no-op, since a missing
// registrar is a configuration bug, not a condition scripts should handle.
func (b *Bridge) WithRegistrar(r AutomationRegistrar) *Bridge {
	b.reg = r
	return b
}

// emailScriptPath derives a deterministic drive-relative script path from
// the trigger's address and filters so the same ON EMAIL statement is
// idempotent. Callers wrap it in DriveKey when they need the full bucket
// key.
func emailScriptPath(t EmailTrigger) string {
	key := t.Address
	if t.FromFilter != "" {
		key += "|from:" + t.FromFilter
	}
	if t.SubjectFilter != "" {
		key += "|subject:" + t.SubjectFilter
	}
	return "automations/on_email_" + stableSlug(key) + ".lua"
}

func (b *Bridge) onEmail(ctx context.Context, trigger EmailTrigger) (string, error) {
	r := b.reg
	if r == nil {
		return "", fmt.Errorf("%w: no automation registrar configured", errs.ErrInternal)
	}
	scriptPath := emailScriptPath(trigger)
	if err := r.RegisterEmailTrigger(ctx, b.BotName, trigger, scriptPath); err != nil {
		return "", fmt.Errorf("register ON EMAIL trigger: %w", err)
	}
	return scriptPath, nil
}

func (b *Bridge) luaOnEmail(L *lua.LState) int {
	trigger := EmailTrigger{
		Address:       L.CheckString(1),
		FromFilter:    L.OptString(2, ""),
		SubjectFilter: L.OptString(3, ""),
	}

	scriptPath, err := runAsync(context.Background(), func(ctx context.Context) (lua.LValue, error) {
		path, err := b.onEmail(ctx, trigger)
		if err != nil {
			return nil, err
		}
		return lua.LString(path), nil
	})
	return pushResult(L, scriptPath, err)
}

func pushResult(L *lua.LState, value lua.LValue, err error) int {
	if err != nil {
		L.RaiseError("%s", err.Error())
		return 0
	}
	L.Push(value)
	return 1
}

func tableToMap(t *lua.LTable) map[string]any {
	out := make(map[string]any)
	t.ForEach(func(k, v lua.LValue) {
		out[k.String()] = luaValueToGo(v)
	})
	return out
}

func luaValueToGo(v lua.LValue) any {
	switch val := v.(type) {
	case lua.LBool:
		return bool(val)
	case lua.LNumber:
		return float64(val)
	case lua.LString:
		return string(val)
	case *lua.LTable:
		return tableToMap(val)
	default:
		return val.String()
	}
}

// stableSlug lowercases and replaces anything that isn't a letter/digit
// with an underscore, giving a filesystem/URL-safe, deterministic slug.
func stableSlug(s string) string {
	var sb strings.Builder
	for _, r := range strings.ToLower(s) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			sb.WriteRune(r)
		default:
			sb.WriteRune('_')
		}
	}
	return sb.String()
}
