package llm

import (
	"fmt"
	"strings"
	"sync"

	"github.com/kalambet/skillbench/internal/engine"
	"github.com/xeipuuv/gojsonschema"
)

func ptr(f float64) *float64 { return &f }

var stringList = &engine.Schema{Type: "array", Items: &engine.Schema{Type: "string"}}

var skillProperties = map[string]*engine.Schema{
	"title":        {Type: "string", Description: "short descriptive title"},
	"problem":      {Type: "string"},
	"resolution":   {Type: "string", Description: "markdown playbook"},
	"conditions":   stringList,
	"keywords":     stringList,
	"product_area": {Type: "string"},
	"issue_type":   {Type: "string"},
}

var (
	extractionSchema = &engine.Schema{
		Type:       "object",
		Properties: skillProperties,
		Required:   []string{"title", "problem", "resolution"},
	}
	refinementSchema = &engine.Schema{
		Type:       "object",
		Properties: withChanges(skillProperties),
		Required:   []string{"title", "problem", "resolution", "changes"},
	}
	judgeSchema = &engine.Schema{
		Type: "object",
		Properties: map[string]*engine.Schema{
			"score":     {Type: "number", Minimum: ptr(MinScore), Maximum: ptr(MaxScore)},
			"reasoning": {Type: "string"},
		},
		Required: []string{"score"},
	}
	selectionSchema = &engine.Schema{
		Type: "object",
		Properties: map[string]*engine.Schema{
			"skill_id": {Type: "string", Description: `chosen skill_id or "none"`},
		},
		Required: []string{"skill_id"},
	}
)

func withChanges(props map[string]*engine.Schema) map[string]*engine.Schema {
	out := make(map[string]*engine.Schema, len(props)+1)
	for k, v := range props {
		out[k] = v
	}
	out["changes"] = stringList
	return out
}

// validator checks replies against compiled schemas, caching each by its
// JSON text.
type validator struct {
	cache sync.Map // map[string]*gojsonschema.Schema
}

func (v *validator) validate(s *engine.Schema, doc string) error {
	compiled, err := v.compile(s)
	if err != nil {
		return fmt.Errorf("invalid schema definition: %w", err)
	}
	result, err := compiled.Validate(gojsonschema.NewStringLoader(doc))
	if err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedReply, err)
	}
	if result.Valid() {
		return nil
	}
	errs := result.Errors()
	msgs := make([]string, 0, 3)
	for i, desc := range errs {
		if i == 3 {
			msgs = append(msgs, fmt.Sprintf("... and %d more", len(errs)-3))
			break
		}
		msgs = append(msgs, desc.String())
	}
	return fmt.Errorf("%w: schema validation failed:\n- %s", ErrMalformedReply, strings.Join(msgs, "\n- "))
}

func (v *validator) compile(s *engine.Schema) (*gojsonschema.Schema, error) {
	raw := s.JSON()
	key := string(raw)
	if cached, ok := v.cache.Load(key); ok {
		return cached.(*gojsonschema.Schema), nil
	}
	compiled, err := gojsonschema.NewSchema(gojsonschema.NewBytesLoader(raw))
	if err != nil {
		return nil, err
	}
	v.cache.Store(key, compiled)
	return compiled, nil
}
