package toolloop

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
)

const jsonInstruction = "Respond only with valid JSON, without prose or code fences."

// RunTyped runs input like Run, asking the decision-maker to answer in JSON, and
// decodes the final answer into T. When T is a struct its zero value is shown as
// the expected shape. A run that ends truncated fails with ErrNotStructured.
func RunTyped[T any](ctx context.Context, a *Agent, input string) (T, *Result, error) {
	var zero T

	res, err := a.Run(ctx, typedPrompt[T](input))
	if err != nil {
		return zero, res, err
	}
	if res.State != Completed {
		return zero, res, fmt.Errorf("%w: run ended %s", ErrNotStructured, res.State)
	}

	var v T
	if err := json.Unmarshal([]byte(extractJSON(res.Answer)), &v); err != nil {
		return zero, res, fmt.Errorf("%w: %w", ErrNotStructured, err)
	}
	return v, res, nil
}

func typedPrompt[T any](input string) string {
	var sb strings.Builder
	sb.WriteString(jsonInstruction)
	var zero T
	if shape, err := json.Marshal(zero); err == nil && len(shape) > 0 && shape[0] == '{' {
		fmt.Fprintf(&sb, " Use this shape: %s", shape)
	}
	sb.WriteString("\n\n")
	sb.WriteString(input)
	return sb.String()
}

// extractJSON strips a Markdown code fence and any prose around the outermost
// JSON object or array.
func extractJSON(answer string) string {
	s := strings.TrimSpace(answer)
	if strings.HasPrefix(s, "```") {
		s = strings.TrimPrefix(s, "```")
		if nl := strings.IndexByte(s, '\n'); nl >= 0 {
			s = s[nl+1:]
		}
		s = strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(s), "```"))
	}

	start := strings.IndexAny(s, "{[")
	if start < 0 {
		return s
	}
	closer := byte('}')
	if s[start] == '[' {
		closer = ']'
	}
	end := strings.LastIndexByte(s, closer)
	if end < start {
		return s
	}
	return s[start : end+1]
}
