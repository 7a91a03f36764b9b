// Package llm wraps the OpenAI Responses API for the Raven services.
// Both the agent tool loop and the skill learner speak to the model
// through this client; per-request API keys come from the caller.
package llm

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/responses"
	"github.com/openai/openai-go/shared"
)

// Tool describes a function tool offered to the model.
type Tool struct {
	Name        string
	Description string
	Parameters  map[string]any
}

// TextFormat requests JSON-schema structured output.
type TextFormat struct {
	Name   string
	Schema map[string]any
	Strict bool
}

// InputItem is one element of a structured model input.
type InputItem = responses.ResponseInputItemUnionParam

// Request is a single Responses API call.
type Request struct {
	Model              string
	Instructions       string
	InputText          string
	InputItems         []InputItem
	Temperature        *float64
	Tools              []Tool
	ParallelToolCalls  *bool
	PreviousResponseID string
	Format             *TextFormat
}

// FunctionCall is a tool invocation requested by the model.
type FunctionCall struct {
	CallID    string
	Name      string
	Arguments string
}

// Response wraps the raw model response with extraction helpers.
type Response struct {
	ID  string
	Raw *responses.Response

	hasFormat bool
}

// StatusError is an API error with the upstream HTTP status attached.
// Handlers re-raise these to the client with the same status.
type StatusError struct {
	Status  int
	Code    string
	Message string
}

func (e *StatusError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("model API error %d (%s): %s", e.Status, e.Code, e.Message)
	}
	return fmt.Sprintf("model API error %d: %s", e.Status, e.Message)
}

// Client is a Responses API client bound to one API key.
type Client struct {
	api openai.Client
}

// New creates a client. baseURL may be empty for the default endpoint.
func New(apiKey, baseURL string, timeout time.Duration) *Client {
	opts := []option.RequestOption{option.WithAPIKey(apiKey)}
	if baseURL != "" {
		opts = append(opts, option.WithBaseURL(baseURL))
	}
	if timeout > 0 {
		opts = append(opts, option.WithRequestTimeout(timeout))
	}
	return &Client{api: openai.NewClient(opts...)}
}

// Parse executes one Responses API call.
func (c *Client) Parse(ctx context.Context, req Request) (*Response, error) {
	params := responses.ResponseNewParams{
		Model: shared.ResponsesModel(req.Model),
	}
	if req.Instructions != "" {
		params.Instructions = openai.String(req.Instructions)
	}
	if len(req.InputItems) > 0 {
		params.Input = responses.ResponseNewParamsInputUnion{
			OfInputItemList: responses.ResponseInputParam(req.InputItems),
		}
	} else {
		params.Input = responses.ResponseNewParamsInputUnion{
			OfString: openai.String(req.InputText),
		}
	}
	if req.Temperature != nil {
		params.Temperature = openai.Float(*req.Temperature)
	}
	if req.ParallelToolCalls != nil {
		params.ParallelToolCalls = openai.Bool(*req.ParallelToolCalls)
	}
	if req.PreviousResponseID != "" {
		params.PreviousResponseID = openai.String(req.PreviousResponseID)
	}
	for _, t := range req.Tools {
		params.Tools = append(params.Tools, responses.ToolUnionParam{
			OfFunction: &responses.FunctionToolParam{
				Name:        t.Name,
				Description: openai.String(t.Description),
				Parameters:  t.Parameters,
				Strict:      openai.Bool(false),
			},
		})
	}
	if req.Format != nil {
		params.Text = responses.ResponseTextConfigParam{
			Format: responses.ResponseFormatTextConfigUnionParam{
				OfJSONSchema: &responses.ResponseFormatTextJSONSchemaConfigParam{
					Name:   req.Format.Name,
					Schema: req.Format.Schema,
					Strict: openai.Bool(req.Format.Strict),
				},
			},
		}
	}

	resp, err := c.api.Responses.New(ctx, params)
	if err != nil {
		return nil, wrapAPIError(err)
	}

	return &Response{ID: resp.ID, Raw: resp, hasFormat: req.Format != nil}, nil
}

func wrapAPIError(err error) error {
	var apierr *openai.Error
	if errors.As(err, &apierr) {
		return &StatusError{
			Status:  apierr.StatusCode,
			Code:    apierr.Code,
			Message: apierr.Message,
		}
	}
	return err
}

// FunctionCalls returns the function_call output items in model order.
func (r *Response) FunctionCalls() []FunctionCall {
	var calls []FunctionCall
	for _, item := range r.Raw.Output {
		if item.Type == "function_call" {
			calls = append(calls, FunctionCall{
				CallID:    item.CallID,
				Name:      item.Name,
				Arguments: item.Arguments,
			})
		}
	}
	return calls
}

// UserMessageItem builds a user message input item.
func UserMessageItem(text string) InputItem {
	return MessageItem("user", text)
}

// MessageItem builds a message input item with the given role.
func MessageItem(role, text string) InputItem {
	return responses.ResponseInputItemUnionParam{
		OfMessage: &responses.EasyInputMessageParam{
			Content: responses.EasyInputMessageContentUnionParam{OfString: openai.String(text)},
			Role:    responses.EasyInputMessageRole(role),
		},
	}
}

// FunctionCallOutputItem builds a function_call_output input item.
func FunctionCallOutputItem(callID, output string) InputItem {
	return responses.ResponseInputItemParamOfFunctionCallOutput(callID, output)
}
