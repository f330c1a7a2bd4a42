// Package tools declares the demonstration tools served over both MCP
// transport generations: a mock user lookup and a body mass index calculator.
// Each tool takes a statically declared input struct whose JSON schema is
// derived with jsonschema-go and enforced by the SDK before the handler runs.
package tools

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strconv"
	"strings"

	"github.com/google/jsonschema-go/jsonschema"
	"github.com/modelcontextprotocol/go-sdk/mcp"
)

const (
	GetUserName      = "get-user"
	CalculateBMIName = "calculate-bmi"
)

// ErrZeroHeight rejects a BMI calculation that would divide by zero.
var ErrZeroHeight = errors.New("heightM must be non-zero")

// GetUserInput is the argument object of get-user.
type GetUserInput struct {
	Name string `json:"name" jsonschema:"name of the user to look up"`
}

// BMIInput is the argument object of calculate-bmi.
type BMIInput struct {
	WeightKg float64 `json:"weightKg" jsonschema:"body weight in kilograms"`
	HeightM  float64 `json:"heightM" jsonschema:"height in metres"`
}

// Validate checks the constraints the schema cannot express.
func (in BMIInput) Validate() error {
	if in.HeightM == 0 {
		return ErrZeroHeight
	}
	if math.IsNaN(in.WeightKg) || math.IsInf(in.WeightKg, 0) {
		return fmt.Errorf("weightKg must be finite, got %v", in.WeightKg)
	}
	if math.IsNaN(in.HeightM) || math.IsInf(in.HeightM, 0) {
		return fmt.Errorf("heightM must be finite, got %v", in.HeightM)
	}
	return nil
}

// GetUser returns the placeholder record for name.
func GetUser(name string) string {
	return "Haha, this is a mock response for user: " + name
}

// BMI computes weightKg / heightM².
func BMI(weightKg, heightM float64) float64 {
	return weightKg / (heightM * heightM)
}

// FormatNumber renders v the way ECMAScript's Number#toString does: the
// shortest decimal that round-trips, switching to exponent notation outside
// [1e-6, 1e21).
func FormatNumber(v float64) string {
	switch {
	case math.IsNaN(v):
		return "NaN"
	case math.IsInf(v, 1):
		return "Infinity"
	case math.IsInf(v, -1):
		return "-Infinity"
	case v == 0:
		return "0"
	}
	abs := math.Abs(v)
	if abs >= 1e21 || abs < 1e-6 {
		s := strconv.FormatFloat(v, 'e', -1, 64)
		mantissa, exp, _ := strings.Cut(s, "e")
		return mantissa + "e" + exp[:1] + strings.TrimLeft(exp[1:], "0")
	}
	return strconv.FormatFloat(v, 'f', -1, 64)
}

// Register adds get-user and calculate-bmi to server.
func Register(server *mcp.Server, logger *slog.Logger) {
	if logger == nil {
		logger = slog.Default()
	}
	mcp.AddTool(server, &mcp.Tool{
		Name:        GetUserName,
		Description: "Look up a user's BMI information by name",
		InputSchema: InputSchema(GetUserName),
	}, handleGetUser(logger))
	mcp.AddTool(server, &mcp.Tool{
		Name:        CalculateBMIName,
		Description: "Calculate BMI (body mass index) from weight in kilograms and height in metres",
		InputSchema: InputSchema(CalculateBMIName),
	}, handleCalculateBMI(logger))
}

// InputSchema returns the JSON schema advertised for a tool, or nil for an
// unknown name.
func InputSchema(name string) *jsonschema.Schema {
	switch name {
	case GetUserName:
		return inputSchema[GetUserInput]("get-user arguments")
	case CalculateBMIName:
		return inputSchema[BMIInput]("calculate-bmi arguments")
	default:
		return nil
	}
}

func inputSchema[T any](title string) *jsonschema.Schema {
	schema, err := jsonschema.For[T](nil)
	if err != nil {
		panic(fmt.Sprintf("tools: schema for %s: %v", title, err))
	}
	schema.Title = title
	return schema
}

func handleGetUser(logger *slog.Logger) mcp.ToolHandlerFor[GetUserInput, any] {
	return func(ctx context.Context, req *mcp.CallToolRequest, in GetUserInput) (*mcp.CallToolResult, any, error) {
		logger.InfoContext(ctx, "get user", "name", in.Name)
		return textResult(GetUser(in.Name)), nil, nil
	}
}

func handleCalculateBMI(logger *slog.Logger) mcp.ToolHandlerFor[BMIInput, any] {
	return func(ctx context.Context, req *mcp.CallToolRequest, in BMIInput) (*mcp.CallToolResult, any, error) {
		if err := in.Validate(); err != nil {
			return nil, nil, err
		}
		logger.InfoContext(ctx, "calculating bmi", "weightKg", in.WeightKg, "heightM", in.HeightM)
		return textResult(FormatNumber(BMI(in.WeightKg, in.HeightM))), nil, nil
	}
}

func textResult(text string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{&mcp.TextContent{Text: text}},
	}
}
