package main

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/itchyny/gojq"
	"github.com/tidwall/pretty"

	"github.com/flowforge/core/pkg/explain"
)

// renderOptions controls how an envelope is serialized to stdout: --jq
// narrows or reshapes a large envelope before it's printed (e.g.
// '.stages[].modules[] | select(.outcome=="SELECTED")'), --pretty re-indents
// and colorizes the JSON the way a terminal jq invocation would.
type renderOptions struct {
	jqFilter string
	pretty   bool
}

// renderEnvelope marshals v to canonical JSON (every object's keys sorted in
// codepoint order, per spec.md's universal serializer rule), optionally
// filtering it through a jq expression and/or pretty-printing it, and
// returns the final bytes.
func renderEnvelope(v any, opts renderOptions) ([]byte, error) {
	raw, err := explain.CanonicalJSON(v)
	if err != nil {
		return nil, err
	}

	if opts.jqFilter != "" {
		filtered, err := applyJQ(raw, opts.jqFilter)
		if err != nil {
			return nil, fmt.Errorf("applying --jq filter: %w", err)
		}
		raw = filtered
	}

	if opts.pretty {
		return pretty.Color(pretty.Pretty(raw), nil), nil
	}

	var buf bytes.Buffer
	if err := json.Indent(&buf, raw, "", "  "); err != nil {
		return raw, nil
	}
	return buf.Bytes(), nil
}

// applyJQ runs filterSrc against raw (parsed as a generic JSON value) and
// re-marshals every emitted result. A single result is emitted as a bare
// value; multiple results are collected into a JSON array, matching how a
// `jq -s` slurp would present a multi-output filter.
func applyJQ(raw []byte, filterSrc string) ([]byte, error) {
	query, err := gojq.Parse(filterSrc)
	if err != nil {
		return nil, fmt.Errorf("invalid jq filter: %w", err)
	}

	var input any
	if err := json.Unmarshal(raw, &input); err != nil {
		return nil, err
	}

	iter := query.Run(input)
	var results []any
	for {
		v, ok := iter.Next()
		if !ok {
			break
		}
		if errVal, ok := v.(error); ok {
			return nil, errVal
		}
		results = append(results, v)
	}

	if len(results) == 1 {
		return json.Marshal(results[0])
	}
	return json.Marshal(results)
}
