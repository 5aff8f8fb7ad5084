package ai

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"strings"
)

// DegradedTag marks structured output that could not be parsed even after repair.
const DegradedTag = "unparseable"

// StructuredResult is either Structured or Degraded. Consumers switch on the concrete type.
type StructuredResult interface {
	structuredResult()
}

// Structured is validated output decoded from the model.
type Structured struct {
	Value map[string]any
	Raw   string
}

// Degraded carries raw model output that failed validation twice.
type Degraded struct {
	Raw    string
	Reason string
}

func (Structured) structuredResult() {}
func (Degraded) structuredResult()   {}

// Tag returns DegradedTag.
func (Degraded) Tag() string {
	return DegradedTag
}

// Text returns the string field name, or "" when absent.
func (s Structured) Text(name string) string {
	v, _ := s.Value[name].(string)
	return v
}

// Number returns the numeric field name, or 0 when absent.
func (s Structured) Number(name string) float64 {
	v, _ := s.Value[name].(float64)
	return v
}

// StringMap returns an object field flattened to strings. Non-string values are formatted.
func (s Structured) StringMap(name string) map[string]string {
	obj, ok := s.Value[name].(map[string]any)
	if !ok || len(obj) == 0 {
		return nil
	}
	out := make(map[string]string, len(obj))
	for k, v := range obj {
		switch tv := v.(type) {
		case nil:
			continue
		case string:
			if tv != "" {
				out[k] = tv
			}
		default:
			out[k] = fmt.Sprint(tv)
		}
	}
	return out
}

// GenerateStructured asks the model for a JSON object matching schema.
// On a decode or validation failure one repair call is made with the offending
// output. A second failure yields Degraded rather than an error.
func (a *Adapter) GenerateStructured(ctx context.Context, prompt string, schema Schema) (StructuredResult, error) {
	opts := GenerateOptions{JSONMode: true}

	raw, err := a.Generate(ctx, StructuredPrompt(prompt, schema), opts)
	if err != nil {
		return nil, err
	}
	value, perr := ParseStructured(raw, schema)
	if perr == nil {
		return Structured{Value: value, Raw: raw}, nil
	}
	a.logger.Warn("structured output invalid, requesting repair", "schema", schema.Name, "err", perr)

	repaired, err := a.Generate(ctx, repairPrompt(prompt, schema, raw, perr), opts)
	if err != nil {
		return nil, err
	}
	value, perr = ParseStructured(repaired, schema)
	if perr == nil {
		return Structured{Value: value, Raw: repaired}, nil
	}
	a.logger.Warn("structured output still invalid after repair", "schema", schema.Name, "err", perr)
	return Degraded{Raw: repaired, Reason: perr.Error()}, nil
}

// ParseStructured cleans model output, decodes the outermost JSON object and validates it.
func ParseStructured(raw string, schema Schema) (map[string]any, error) {
	text := extractObject(stripFences(raw))
	if text == "" {
		return nil, fmt.Errorf("%w: no JSON object found", ErrMalformedOutput)
	}
	text = repairJSON(text)

	var value map[string]any
	if err := json.Unmarshal([]byte(text), &value); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMalformedOutput, err)
	}
	if err := schema.Validate(value); err != nil {
		return nil, err
	}
	return value, nil
}

func stripFences(s string) string {
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(s, "```")
	return strings.TrimSpace(s)
}

// extractObject returns the text between the first '{' and the last '}'.
func extractObject(s string) string {
	start := strings.IndexByte(s, '{')
	end := strings.LastIndexByte(s, '}')
	if start < 0 || end <= start {
		return ""
	}
	return s[start : end+1]
}

// StructuredPrompt appends the JSON output instructions for schema to prompt.
func StructuredPrompt(prompt string, schema Schema) string {
	var sb strings.Builder
	sb.WriteString(prompt)
	sb.WriteString("\n\nOutput ONLY valid JSON which complies with the schema given below. Do not include any preamble, ")
	sb.WriteString("explanation, or markdown. Start your response directly with { and end with }.\n\n")
	sb.WriteString(schema.JSON())
	return sb.String()
}

func repairPrompt(prompt string, schema Schema, bad string, cause error) string {
	var sb strings.Builder
	sb.WriteString("Your previous answer could not be used.\n\nPrevious answer:\n")
	sb.WriteString(bad)
	sb.WriteString("\n\nProblem: ")
	sb.WriteString(cause.Error())
	sb.WriteString("\n\nAnswer the original request again.\n\nOriginal request:\n")
	sb.WriteString(StructuredPrompt(prompt, schema))
	return sb.String()
}

// FieldType is the JSON type expected for a schema field.
type FieldType int

const (
	FieldString FieldType = iota + 1
	FieldNumber
	FieldInteger
	FieldBoolean
	FieldObject
)

func (t FieldType) jsonType() string {
	switch t {
	case FieldString:
		return "string"
	case FieldNumber:
		return "number"
	case FieldInteger:
		return "integer"
	case FieldBoolean:
		return "boolean"
	case FieldObject:
		return "object"
	default:
		return "null"
	}
}

// Field describes one property of the expected JSON object.
type Field struct {
	Name        string
	Type        FieldType
	Required    bool
	Description string
	// Enum restricts string values. Matching is case-insensitive and the
	// canonical spelling is written back into the decoded value.
	Enum []string
	// Bounded enables the Min/Max range check for numeric fields.
	Bounded bool
	Min     float64
	Max     float64
}

// Schema is the expected shape of structured model output.
type Schema struct {
	Name   string
	Fields []Field
}

// JSON renders the schema as a JSON Schema document for inclusion in prompts.
func (s Schema) JSON() string {
	props := make(map[string]any, len(s.Fields))
	required := make([]string, 0, len(s.Fields))
	for _, f := range s.Fields {
		p := map[string]any{"type": f.Type.jsonType()}
		if f.Description != "" {
			p["description"] = f.Description
		}
		if len(f.Enum) > 0 {
			p["enum"] = f.Enum
		}
		if f.Bounded {
			p["minimum"] = f.Min
			p["maximum"] = f.Max
		}
		if f.Type == FieldObject {
			p["additionalProperties"] = map[string]string{"type": "string"}
		}
		props[f.Name] = p
		if f.Required {
			required = append(required, f.Name)
		}
	}
	doc := map[string]any{
		"$schema":              "http://json-schema.org/draft-07/schema#",
		"type":                 "object",
		"properties":           props,
		"required":             required,
		"additionalProperties": false,
	}
	out, _ := json.MarshalIndent(doc, "", "  ")
	return string(out)
}

// Validate checks a decoded object against the schema. Enum values are
// canonicalized in place.
func (s Schema) Validate(value map[string]any) error {
	for _, f := range s.Fields {
		v, ok := value[f.Name]
		if !ok || v == nil {
			if f.Required {
				return fmt.Errorf("%w: missing required field %q", ErrMalformedOutput, f.Name)
			}
			continue
		}
		if err := f.check(v); err != nil {
			return fmt.Errorf("%w: field %q: %w", ErrMalformedOutput, f.Name, err)
		}
		if str, ok := v.(string); ok && len(f.Enum) > 0 {
			value[f.Name] = f.canonical(str)
		}
	}
	return nil
}

func (f Field) check(v any) error {
	switch f.Type {
	case FieldString:
		str, ok := v.(string)
		if !ok {
			return fmt.Errorf("expected string, got %T", v)
		}
		if len(f.Enum) > 0 && f.canonical(str) == "" {
			return fmt.Errorf("%q is not one of %s", str, strings.Join(f.Enum, ", "))
		}
	case FieldNumber, FieldInteger:
		n, ok := v.(float64)
		if !ok {
			return fmt.Errorf("expected number, got %T", v)
		}
		if f.Type == FieldInteger && n != math.Trunc(n) {
			return fmt.Errorf("expected integer, got %v", n)
		}
		if f.Bounded && (n < f.Min || n > f.Max) {
			return fmt.Errorf("%v outside [%v, %v]", n, f.Min, f.Max)
		}
	case FieldBoolean:
		if _, ok := v.(bool); !ok {
			return fmt.Errorf("expected boolean, got %T", v)
		}
	case FieldObject:
		if _, ok := v.(map[string]any); !ok {
			return fmt.Errorf("expected object, got %T", v)
		}
	}
	return nil
}

func (f Field) canonical(s string) string {
	s = strings.TrimSpace(s)
	for _, e := range f.Enum {
		if strings.EqualFold(e, s) {
			return e
		}
	}
	return ""
}
