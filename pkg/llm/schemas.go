package llm

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// Compiled schemas for every structured output the stages request. A model
// reply that fails its schema is discarded and the stage falls back, so the
// schemas are deliberately no stricter than the decoding types require.
var (
	SchemaTopicPlan    = mustCompile("topic_plan", schemaTopicPlan)
	SchemaThreadPlan   = mustCompile("thread_plan", schemaThreadPlan)
	SchemaCandidates   = mustCompile("candidates", schemaCandidates)
	SchemaEditedDraft  = mustCompile("edited_draft", schemaEditedDraft)
	SchemaStyleProfile = mustCompile("style_profile", schemaStyleProfile)
	SchemaClaims       = mustCompile("claims", schemaClaims)
	SchemaWeeklyDigest = mustCompile("weekly_digest", schemaWeeklyDigest)
)

const schemaTopicPlan = `{
  "type": "object",
  "required": ["topic_bucket", "angles", "key_points"],
  "properties": {
    "topic_bucket": {"type": "integer"},
    "angles": {"type": "array", "items": {"type": "string"}, "minItems": 1},
    "key_points": {"type": "array", "items": {"type": "string"}, "minItems": 1},
    "evidence_map": {
      "type": "object",
      "additionalProperties": {"type": "array", "items": {"type": "object"}}
    }
  }
}`

const schemaThreadPlan = `{
  "type": "object",
  "required": ["enabled", "tweets_count"],
  "properties": {
    "enabled": {"type": "boolean"},
    "tweets_count": {"type": "integer", "minimum": 1},
    "numbering_enabled": {"type": "boolean"},
    "reason": {"type": "string"},
    "tweet_key_points": {"type": "array", "items": {"type": "string"}}
  }
}`

const schemaCandidates = `{
  "type": "object",
  "required": ["mode", "candidates"],
  "properties": {
    "mode": {"enum": ["single", "thread"]},
    "candidates": {
      "type": "array",
      "minItems": 1,
      "items": {"type": "array", "items": {"type": "string"}, "minItems": 1}
    }
  }
}`

const schemaEditedDraft = `{
  "type": "object",
  "required": ["mode", "selected_candidate_index"],
  "properties": {
    "mode": {"enum": ["single", "thread"]},
    "selected_candidate_index": {"type": "integer", "minimum": 0},
    "original": {"type": "array", "items": {"type": "string"}},
    "final_text": {"type": "string"},
    "final_tweets": {"type": "array", "items": {"type": "string"}},
    "numbering_added": {"type": "boolean"},
    "edit_notes": {"type": "string"}
  },
  "allOf": [
    {
      "if": {"properties": {"mode": {"const": "single"}}},
      "then": {"required": ["final_text"]}
    },
    {
      "if": {"properties": {"mode": {"const": "thread"}}},
      "then": {
        "required": ["final_tweets"],
        "properties": {"final_tweets": {"minItems": 1}}
      }
    }
  ]
}`

const schemaStyleProfile = `{
  "type": "object",
  "properties": {
    "voice_rules": {"type": "array", "items": {"type": "string"}},
    "sentence_length": {"enum": ["short", "medium"]},
    "jargon_level": {"type": "string"},
    "opener_templates": {"type": "array", "items": {"type": "string"}},
    "forbidden_phrases": {"type": "array", "items": {"type": "string"}}
  }
}`

const schemaClaims = `{
  "type": "object",
  "required": ["claims"],
  "properties": {
    "claims": {"type": "array", "items": {"type": "string"}}
  }
}`

const schemaWeeklyDigest = `{
  "type": "object",
  "properties": {
    "buckets": {"type": "array", "items": {"type": "string"}},
    "recommendations": {"type": "array", "items": {"type": "string"}},
    "topics": {"type": "array", "items": {"type": "string"}}
  }
}`

func mustCompile(name, src string) *jsonschema.Schema {
	c := jsonschema.NewCompiler()
	c.Draft = jsonschema.Draft2020
	url := fmt.Sprintf("herald://schemas/%s.schema.json", name)
	if err := c.AddResource(url, strings.NewReader(src)); err != nil {
		panic(fmt.Sprintf("llm: schema %s: %v", name, err))
	}
	compiled, err := c.Compile(url)
	if err != nil {
		panic(fmt.Sprintf("llm: schema %s: %v", name, err))
	}
	return compiled
}

// DecodeValidated parses a model reply, checks it against the schema, and
// decodes it into out. Any failure means the reply is unusable and the
// caller should fall back.
func DecodeValidated(schema *jsonschema.Schema, raw string, out any) error {
	var doc any
	if err := json.Unmarshal([]byte(raw), &doc); err != nil {
		return fmt.Errorf("llm: parse output: %w", err)
	}
	if err := schema.Validate(doc); err != nil {
		return fmt.Errorf("llm: output schema: %w", err)
	}
	if err := json.Unmarshal([]byte(raw), out); err != nil {
		return fmt.Errorf("llm: decode output: %w", err)
	}
	return nil
}
