package tools

import (
	"context"
	"encoding/json"

	"github.com/vinayprograms/mcpbridge/bridge"
	"github.com/vinayprograms/mcpbridge/errors"
)

// Issuer sends a command to a connected browser executor. *bridge.Bridge
// satisfies it.
type Issuer interface {
	Issue(ctx context.Context, command string, params interface{}) (json.RawMessage, error)
}

// BrowserTools returns one tool per browser operation, each forwarding to
// issuer.
func BrowserTools(issuer Issuer) []Tool {
	return []Tool{
		&browserTool{
			name:    "browser_snapshot",
			command: bridge.OpSnapshot,
			desc:    "Capture an accessibility snapshot of the current page.",
			schema:  objectSchema(nil),
			issuer:  issuer,
		},
		&browserTool{
			name:    "browser_evaluate",
			command: bridge.OpEvaluate,
			desc:    "Evaluate a JavaScript expression in the page and return its value.",
			schema: objectSchema(map[string]interface{}{
				"expression": stringProp("JavaScript expression to evaluate"),
			}, "expression"),
			params: func(a Args) (interface{}, error) {
				expr, err := a.String("expression")
				if err != nil {
					return nil, err
				}
				return bridge.EvaluateParams{Expression: expr}, nil
			},
			issuer: issuer,
		},
		&browserTool{
			name:    "browser_click",
			command: bridge.OpClick,
			desc:    "Click the element matching a CSS selector.",
			schema: objectSchema(map[string]interface{}{
				"selector": stringProp("CSS selector of the element to click"),
			}, "selector"),
			params: func(a Args) (interface{}, error) {
				sel, err := a.String("selector")
				if err != nil {
					return nil, err
				}
				return bridge.ClickParams{Selector: sel}, nil
			},
			issuer: issuer,
		},
		&browserTool{
			name:    "browser_fill",
			command: bridge.OpFill,
			desc:    "Fill an input element with text. An empty value clears the field.",
			schema: objectSchema(map[string]interface{}{
				"selector": stringProp("CSS selector of the input"),
				"value":    stringProp("Text to enter"),
			}, "selector", "value"),
			params: func(a Args) (interface{}, error) {
				sel, err := a.String("selector")
				if err != nil {
					return nil, err
				}
				if !a.Has("value") {
					return nil, missing("value")
				}
				value, err := a.OptionalString("value", "")
				if err != nil {
					return nil, err
				}
				return bridge.FillParams{Selector: sel, Value: value}, nil
			},
			issuer: issuer,
		},
		&browserTool{
			name:    "browser_select_option",
			command: bridge.OpSelectOption,
			desc:    "Select one or more options in a select element.",
			schema: objectSchema(map[string]interface{}{
				"selector": stringProp("CSS selector of the select element"),
				"values": map[string]interface{}{
					"type":        "array",
					"items":       map[string]interface{}{"type": "string"},
					"description": "Option values to select",
				},
			}, "selector", "values"),
			params: func(a Args) (interface{}, error) {
				sel, err := a.String("selector")
				if err != nil {
					return nil, err
				}
				values, err := a.Strings("values")
				if err != nil {
					return nil, err
				}
				return bridge.SelectOptionParams{Selector: sel, Values: values}, nil
			},
			issuer: issuer,
		},
		&browserTool{
			name:    "browser_navigate",
			command: bridge.OpNavigate,
			desc:    "Navigate the current tab to a URL.",
			schema: objectSchema(map[string]interface{}{
				"url": stringProp("Destination URL"),
			}, "url"),
			params: func(a Args) (interface{}, error) {
				url, err := a.String("url")
				if err != nil {
					return nil, err
				}
				return bridge.NavigateParams{URL: url}, nil
			},
			issuer: issuer,
		},
		&browserTool{
			name:    "browser_console_logs",
			command: bridge.OpGetConsoleLogs,
			desc:    "Return console messages captured from the page.",
			schema: objectSchema(map[string]interface{}{
				"level": map[string]interface{}{
					"type":        "string",
					"enum":        []string{"debug", "info", "warn", "error"},
					"description": "Only return messages at this level",
				},
				"limit": map[string]interface{}{
					"type":        "integer",
					"description": "Maximum number of messages",
				},
			}),
			params: func(a Args) (interface{}, error) {
				level, err := a.OptionalString("level", "")
				if err != nil {
					return nil, err
				}
				if level != "" && !consoleLevels[level] {
					return nil, errors.InvalidInput("level must be one of debug, info, warn, error")
				}
				limit, err := a.OptionalInt("limit", 0)
				if err != nil {
					return nil, err
				}
				if limit < 0 {
					return nil, errors.InvalidInput("limit must not be negative")
				}
				return bridge.ConsoleLogsParams{Level: level, Limit: limit}, nil
			},
			issuer: issuer,
		},
		&browserTool{
			name:    "browser_screenshot",
			command: bridge.OpScreenshot,
			desc:    "Capture a screenshot of the current tab.",
			schema: objectSchema(map[string]interface{}{
				"fullPage": map[string]interface{}{
					"type":        "boolean",
					"description": "Capture the full scrollable page",
				},
				"format": map[string]interface{}{
					"type": "string",
					"enum": []string{"png", "jpeg"},
				},
			}),
			params: func(a Args) (interface{}, error) {
				format, err := a.OptionalString("format", "png")
				if err != nil {
					return nil, err
				}
				if format != "png" && format != "jpeg" {
					return nil, errors.InvalidInput("format must be png or jpeg")
				}
				fullPage, err := a.OptionalBool("fullPage", false)
				if err != nil {
					return nil, err
				}
				return bridge.ScreenshotParams{FullPage: fullPage, Format: format}, nil
			},
			issuer: issuer,
		},
	}
}

var consoleLevels = map[string]bool{"debug": true, "info": true, "warn": true, "error": true}

// browserTool forwards to one executor command.
type browserTool struct {
	name    string
	command string
	desc    string
	schema  map[string]interface{}
	params  func(Args) (interface{}, error) // nil sends no params
	issuer  Issuer
}

func (t *browserTool) Name() string                       { return t.name }
func (t *browserTool) Description() string                { return t.desc }
func (t *browserTool) Parameters() map[string]interface{} { return t.schema }

func (t *browserTool) Execute(ctx context.Context, args map[string]interface{}) (interface{}, error) {
	var params interface{}
	if t.params != nil {
		p, err := t.params(Args(args))
		if err != nil {
			return nil, err
		}
		params = p
	}

	raw, err := t.issuer.Issue(ctx, t.command, params)
	if err != nil {
		return nil, err
	}
	return decodeValue(raw)
}

func objectSchema(props map[string]interface{}, required ...string) map[string]interface{} {
	if props == nil {
		props = map[string]interface{}{}
	}
	schema := map[string]interface{}{
		"type":       "object",
		"properties": props,
	}
	if len(required) > 0 {
		schema["required"] = required
	}
	return schema
}

func stringProp(desc string) map[string]interface{} {
	return map[string]interface{}{"type": "string", "description": desc}
}
