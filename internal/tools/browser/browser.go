// Package browser provides a pooled Playwright-backed browser automation
// tool. A single action-routed handler (navigate, click, type,
// screenshot, content extraction, JavaScript execution) registers under
// one dispatch name, mirroring the teacher's single multi-action
// BrowserTool rather than one dispatch entry per action.
package browser

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"

	"github.com/playwright-community/playwright-go"

	"github.com/haasonsaas/turnengine/internal/turn/types"
)

// ToolName is the dispatch name a deployment registers this handler
// under.
const ToolName = "browser"

// Schema is the JSON Schema advertised to the model for this tool's
// arguments, registered into a schema.Registry alongside the builtins.
const Schema = `{
	"type": "object",
	"properties": {
		"action": {
			"type": "string",
			"enum": ["navigate", "click", "type", "screenshot", "extract_text", "extract_html", "wait_for_element", "wait_for_navigation", "execute_js"],
			"description": "The browser action to perform"
		},
		"url": {"type": "string", "description": "URL to navigate to (navigate)"},
		"selector": {"type": "string", "description": "CSS selector for the target element"},
		"text": {"type": "string", "description": "Text to type into an input field (type)"},
		"script": {"type": "string", "description": "JavaScript code to execute (execute_js)"},
		"timeout": {"type": "integer", "description": "Timeout in milliseconds for wait operations (default 30000)"},
		"full_page": {"type": "boolean", "description": "Whether to capture a full-page screenshot (default false)"}
	},
	"required": ["action"]
}`

// Tool dispatches browser automation calls against a pooled Playwright
// instance. Handle satisfies dispatch.Handler's signature directly, so
// it registers with dispatch.Registry.Register(ToolName, tool.Handle).
type Tool struct {
	pool *Pool
}

// New returns a Tool drawing browser instances from pool.
func New(pool *Pool) *Tool {
	return &Tool{pool: pool}
}

// Handle routes call to the action named in its arguments and returns
// the action's textual result, or an error that dispatch turns into an
// IsError tool result.
func (t *Tool) Handle(ctx context.Context, call types.ToolCall) (string, error) {
	var base struct {
		Action string `json:"action"`
	}
	if err := json.Unmarshal(call.Args, &base); err != nil {
		return "", fmt.Errorf("browser: invalid arguments: %w", err)
	}

	instance, err := t.pool.Acquire(ctx)
	if err != nil {
		return "", fmt.Errorf("browser: acquire instance: %w", err)
	}
	defer t.pool.Release(instance)

	switch base.Action {
	case "navigate":
		return handleNavigate(instance, call.Args)
	case "click":
		return handleClick(instance, call.Args)
	case "type":
		return handleType(instance, call.Args)
	case "screenshot":
		return handleScreenshot(instance, call.Args)
	case "extract_text":
		return handleExtractText(instance, call.Args)
	case "extract_html":
		return handleExtractHTML(instance, call.Args)
	case "wait_for_element":
		return handleWaitForElement(instance, call.Args)
	case "wait_for_navigation":
		return handleWaitForNavigation(instance, call.Args)
	case "execute_js":
		return handleExecuteJS(instance, call.Args)
	default:
		return "", fmt.Errorf("browser: unknown action: %s", base.Action)
	}
}

func handleNavigate(instance *BrowserInstance, args types.RawArgs) (string, error) {
	var p struct {
		URL string `json:"url"`
	}
	if err := json.Unmarshal(args, &p); err != nil {
		return "", fmt.Errorf("browser: invalid navigate arguments: %w", err)
	}
	if p.URL == "" {
		return "", fmt.Errorf("browser: url is required for navigate")
	}
	if _, err := instance.Page.Goto(p.URL, playwright.PageGotoOptions{
		WaitUntil: playwright.WaitUntilStateDomcontentloaded,
	}); err != nil {
		return "", fmt.Errorf("browser: navigation failed: %w", err)
	}
	return fmt.Sprintf("Successfully navigated to %s", p.URL), nil
}

func handleClick(instance *BrowserInstance, args types.RawArgs) (string, error) {
	var p struct {
		Selector string `json:"selector"`
	}
	if err := json.Unmarshal(args, &p); err != nil {
		return "", fmt.Errorf("browser: invalid click arguments: %w", err)
	}
	if p.Selector == "" {
		return "", fmt.Errorf("browser: selector is required for click")
	}
	if err := instance.Page.Click(p.Selector); err != nil {
		return "", fmt.Errorf("browser: click failed: %w", err)
	}
	return fmt.Sprintf("Successfully clicked element: %s", p.Selector), nil
}

func handleType(instance *BrowserInstance, args types.RawArgs) (string, error) {
	var p struct {
		Selector string `json:"selector"`
		Text     string `json:"text"`
	}
	if err := json.Unmarshal(args, &p); err != nil {
		return "", fmt.Errorf("browser: invalid type arguments: %w", err)
	}
	if p.Selector == "" {
		return "", fmt.Errorf("browser: selector is required for type")
	}
	if err := instance.Page.Fill(p.Selector, p.Text); err != nil {
		return "", fmt.Errorf("browser: type failed: %w", err)
	}
	return fmt.Sprintf("Successfully typed text into element: %s", p.Selector), nil
}

func handleScreenshot(instance *BrowserInstance, args types.RawArgs) (string, error) {
	var p struct {
		FullPage bool `json:"full_page"`
	}
	if err := json.Unmarshal(args, &p); err != nil {
		return "", fmt.Errorf("browser: invalid screenshot arguments: %w", err)
	}
	shot, err := instance.Page.Screenshot(playwright.PageScreenshotOptions{
		FullPage: playwright.Bool(p.FullPage),
		Type:     playwright.ScreenshotTypePng,
	})
	if err != nil {
		return "", fmt.Errorf("browser: screenshot failed: %w", err)
	}
	encoded := base64.StdEncoding.EncodeToString(shot)
	return fmt.Sprintf("data:image/png;base64,%s", encoded), nil
}

func handleExtractText(instance *BrowserInstance, args types.RawArgs) (string, error) {
	var p struct {
		Selector string `json:"selector"`
	}
	if err := json.Unmarshal(args, &p); err != nil {
		return "", fmt.Errorf("browser: invalid extract_text arguments: %w", err)
	}
	selector := p.Selector
	if selector == "" {
		selector = "body"
	}
	text, err := instance.Page.TextContent(selector)
	if err != nil {
		return "", fmt.Errorf("browser: text extraction failed: %w", err)
	}
	return text, nil
}

func handleExtractHTML(instance *BrowserInstance, args types.RawArgs) (string, error) {
	var p struct {
		Selector string `json:"selector"`
	}
	if err := json.Unmarshal(args, &p); err != nil {
		return "", fmt.Errorf("browser: invalid extract_html arguments: %w", err)
	}

	if p.Selector == "" {
		html, err := instance.Page.Content()
		if err != nil {
			return "", fmt.Errorf("browser: HTML extraction failed: %w", err)
		}
		return html, nil
	}

	result, err := instance.Page.Evaluate(fmt.Sprintf("document.querySelector('%s').innerHTML", p.Selector))
	if err != nil {
		return "", fmt.Errorf("browser: HTML extraction failed: %w", err)
	}
	return fmt.Sprintf("%v", result), nil
}

func handleWaitForElement(instance *BrowserInstance, args types.RawArgs) (string, error) {
	var p struct {
		Selector string  `json:"selector"`
		Timeout  float64 `json:"timeout"`
	}
	if err := json.Unmarshal(args, &p); err != nil {
		return "", fmt.Errorf("browser: invalid wait_for_element arguments: %w", err)
	}
	if p.Selector == "" {
		return "", fmt.Errorf("browser: selector is required for wait_for_element")
	}
	timeout := p.Timeout
	if timeout == 0 {
		timeout = 30000
	}
	if _, err := instance.Page.WaitForSelector(p.Selector, playwright.PageWaitForSelectorOptions{
		Timeout: playwright.Float(timeout),
	}); err != nil {
		return "", fmt.Errorf("browser: wait for element failed: %w", err)
	}
	return fmt.Sprintf("Element appeared: %s", p.Selector), nil
}

func handleWaitForNavigation(instance *BrowserInstance, args types.RawArgs) (string, error) {
	var p struct {
		Timeout float64 `json:"timeout"`
	}
	if err := json.Unmarshal(args, &p); err != nil {
		return "", fmt.Errorf("browser: invalid wait_for_navigation arguments: %w", err)
	}
	timeout := p.Timeout
	if timeout == 0 {
		timeout = 30000
	}
	if err := instance.Page.WaitForLoadState(playwright.PageWaitForLoadStateOptions{
		Timeout: playwright.Float(timeout),
	}); err != nil {
		return "", fmt.Errorf("browser: wait for navigation failed: %w", err)
	}
	return "Navigation completed", nil
}

func handleExecuteJS(instance *BrowserInstance, args types.RawArgs) (string, error) {
	var p struct {
		Script string `json:"script"`
	}
	if err := json.Unmarshal(args, &p); err != nil {
		return "", fmt.Errorf("browser: invalid execute_js arguments: %w", err)
	}
	if p.Script == "" {
		return "", fmt.Errorf("browser: script is required for execute_js")
	}
	result, err := instance.Page.Evaluate(p.Script)
	if err != nil {
		return "", fmt.Errorf("browser: JavaScript execution failed: %w", err)
	}
	return fmt.Sprintf("%v", result), nil
}
