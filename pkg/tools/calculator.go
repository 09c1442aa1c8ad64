package tools

import (
	"context"
	"fmt"
	"math"
	"strconv"
)

const (
	ToolAdd        = "add"
	ToolCalculator = "calculator"
)

// AddTool adds two numbers.
type AddTool struct{}

// NewAddTool creates the add tool.
func NewAddTool() *AddTool {
	return &AddTool{}
}

func (t *AddTool) Name() string {
	return ToolAdd
}

func (t *AddTool) Definition() ToolDefinition {
	return ToolDefinition{
		Name:        ToolAdd,
		Description: "Add two numbers and return the sum.",
		InputSchema: InputSchema{
			Type: "object",
			Properties: map[string]Property{
				"a": {Type: "number", Description: "First addend"},
				"b": {Type: "number", Description: "Second addend"},
			},
			Required: []string{"a", "b"},
		},
	}
}

func (t *AddTool) Exec(_ context.Context, args map[string]any) (*ExecResult, error) {
	a, err := numberArg(args, "a")
	if err != nil {
		return nil, err
	}
	b, err := numberArg(args, "b")
	if err != nil {
		return nil, err
	}
	return &ExecResult{Content: formatNumber(a + b)}, nil
}

// CalculatorTool performs a basic arithmetic operation on two operands.
type CalculatorTool struct{}

// NewCalculatorTool creates the calculator tool.
func NewCalculatorTool() *CalculatorTool {
	return &CalculatorTool{}
}

func (t *CalculatorTool) Name() string {
	return ToolCalculator
}

func (t *CalculatorTool) Definition() ToolDefinition {
	return ToolDefinition{
		Name:        ToolCalculator,
		Description: "Perform basic arithmetic: add, subtract, multiply or divide two numbers.",
		InputSchema: InputSchema{
			Type: "object",
			Properties: map[string]Property{
				"operation": {
					Type:        "string",
					Description: "Operation to perform",
					Enum:        []string{"add", "subtract", "multiply", "divide"},
				},
				"a": {Type: "number", Description: "Left operand"},
				"b": {Type: "number", Description: "Right operand"},
			},
			Required: []string{"operation", "a", "b"},
		},
	}
}

func (t *CalculatorTool) Exec(_ context.Context, args map[string]any) (*ExecResult, error) {
	op, ok := args["operation"].(string)
	if !ok || op == "" {
		return nil, fmt.Errorf("operation is required and must be a string")
	}
	a, err := numberArg(args, "a")
	if err != nil {
		return nil, err
	}
	b, err := numberArg(args, "b")
	if err != nil {
		return nil, err
	}

	var result float64
	switch op {
	case "add":
		result = a + b
	case "subtract":
		result = a - b
	case "multiply":
		result = a * b
	case "divide":
		if b == 0 {
			return ErrorResult("division by zero"), nil
		}
		result = a / b
	default:
		return ErrorResult(fmt.Sprintf("unknown operation: %s", op)), nil
	}

	return SuccessResult(map[string]any{
		"operation": op,
		"result":    result,
	})
}

// formatNumber prints integral values without a fractional part.
func formatNumber(f float64) string {
	if f == math.Trunc(f) && math.Abs(f) < 1e15 {
		return strconv.FormatInt(int64(f), 10)
	}
	return strconv.FormatFloat(f, 'g', -1, 64)
}
