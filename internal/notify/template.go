package notify

import (
	"context"
	_ "embed"
	"fmt"
	"regexp"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

//go:embed templates.yaml
var defaultTemplatesYAML []byte

// templateCacheTTL bounds how long a tenant template is served from the
// process-local cache before re-reading the store.
const templateCacheTTL = 5 * time.Minute

// Template is one renderable message template.
type Template struct {
	Name    string `yaml:"name"`
	Channel string `yaml:"channel"`
	Content string `yaml:"content"`
}

// TemplateSource is the boundary to the template store subsystem.
// Implementations return (nil, nil) when the tenant has no template
// configured, which falls back to the embedded default.
type TemplateSource interface {
	GetTemplate(ctx context.Context, tenantID uuid.UUID, name, channel string) (*Template, error)
}

// TemplateEngine resolves and renders templates with a process-local
// per-tenant cache. The cache is an optimization only; an empty cache
// just means another source lookup.
type TemplateEngine struct {
	source   TemplateSource
	logger   *zap.Logger
	defaults map[string]string

	mu    sync.Mutex
	ttl   time.Duration
	now   func() time.Time
	cache map[string]cachedTemplate
}

type cachedTemplate struct {
	content   string
	expiresAt time.Time
}

// NewTemplateEngine builds an engine over the given source. source may
// be nil, in which case only the embedded defaults are used.
func NewTemplateEngine(source TemplateSource, logger *zap.Logger) (*TemplateEngine, error) {
	var parsed struct {
		Templates []Template `yaml:"templates"`
	}
	if err := yaml.Unmarshal(defaultTemplatesYAML, &parsed); err != nil {
		return nil, fmt.Errorf("parse default templates: %w", err)
	}

	defaults := make(map[string]string, len(parsed.Templates))
	for _, t := range parsed.Templates {
		defaults[t.Name+"/"+t.Channel] = t.Content
	}

	return &TemplateEngine{
		source:   source,
		logger:   logger,
		defaults: defaults,
		ttl:      templateCacheTTL,
		now:      time.Now,
		cache:    make(map[string]cachedTemplate),
	}, nil
}

// Resolve returns the template content for (tenant, name, channel),
// preferring a tenant-configured template and falling back to the
// embedded default.
func (e *TemplateEngine) Resolve(ctx context.Context, tenantID uuid.UUID, name, channel string) (string, error) {
	cacheKey := fmt.Sprintf("%s/%s/%s", tenantID, name, channel)

	e.mu.Lock()
	if entry, ok := e.cache[cacheKey]; ok && e.now().Before(entry.expiresAt) {
		e.mu.Unlock()
		return entry.content, nil
	}
	e.mu.Unlock()

	content, err := e.lookup(ctx, tenantID, name, channel)
	if err != nil {
		return "", err
	}

	e.mu.Lock()
	e.cache[cacheKey] = cachedTemplate{content: content, expiresAt: e.now().Add(e.ttl)}
	e.mu.Unlock()

	return content, nil
}

func (e *TemplateEngine) lookup(ctx context.Context, tenantID uuid.UUID, name, channel string) (string, error) {
	if e.source != nil {
		t, err := e.source.GetTemplate(ctx, tenantID, name, channel)
		if err != nil {
			// Template store trouble falls back to the default rather
			// than blocking notifications.
			e.logger.Warn("template lookup failed, using default",
				zap.String("tenant_id", tenantID.String()),
				zap.String("template", name),
				zap.Error(err),
			)
		} else if t != nil {
			return t.Content, nil
		}
	}

	if content, ok := e.defaults[name+"/"+channel]; ok {
		return content, nil
	}
	return "", fmt.Errorf("no template for %s/%s", name, channel)
}

var placeholderPattern = regexp.MustCompile(`\{\{\s*(\w+)\s*\}\}`)

// Render substitutes {{name}}-style placeholders. Unknown placeholders
// are left intact so a bad template is visible in the delivered text
// instead of silently vanishing.
func Render(content string, vars map[string]string) string {
	return placeholderPattern.ReplaceAllStringFunc(content, func(match string) string {
		key := placeholderPattern.FindStringSubmatch(match)[1]
		if v, ok := vars[key]; ok {
			return v
		}
		return match
	})
}
