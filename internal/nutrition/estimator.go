// Package nutrition wraps the third-party inference and product-lookup APIs
// behind small, mockable interfaces. The estimator asks a vision-capable chat
// model for macro estimates of a photographed meal; the product client
// resolves barcodes against the Open Food Facts database.
//
// Prompt wording is kept close to the shipped mobile clients' expectations:
// the model must answer with a bare JSON object carrying a fixed key set.
package nutrition

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	openai "github.com/sashabaranov/go-openai"
	"golang.org/x/text/language"
	"golang.org/x/text/language/display"
)

var inferenceCalls = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "inference_requests_total",
		Help: "Chat-completion calls by kind and outcome.",
	},
	[]string{"kind", "outcome"}, // kind: meal|product|goal; outcome: ok|error
)

func init() {
	prometheus.MustRegister(inferenceCalls)
}

// UserContext is the per-user conditioning passed to the model: declared
// dietary problems and the active diet type, plus the response language for
// localized problem descriptions.
type UserContext struct {
	Problems []string
	Diet     string
	Language language.Tag
}

// Estimate is the parsed model answer for a meal. Numeric fields are -1 when
// the model could not produce a value, matching what clients expect.
type Estimate struct {
	Name         string   `json:"name"`
	Kcal         int      `json:"kcal"`
	Proteins     int      `json:"proteins"`
	Carbs        int      `json:"carbs"`
	Fats         int      `json:"fats"`
	HealthyIndex int      `json:"healthy_index"`
	Problems     []string `json:"problems"`
}

// GoalPlan is the model-computed macro target for a goal request.
type GoalPlan struct {
	Kcal    int `json:"kcal"`
	Protein int `json:"protein"`
	Fats    int `json:"fats"`
	Carbs   int `json:"carbs"`
}

// MealEstimator is the interface consumed by the meal service; the OpenAI
// client below is the production implementation.
type MealEstimator interface {
	// EstimateMeal estimates macros for the photo at imageURL.
	// The second return is the raw model text for diagnostics.
	EstimateMeal(ctx context.Context, imageURL string, uc UserContext) (Estimate, string, error)
	// AnalyzeProduct lists potential issues of a looked-up product for this
	// user. Used by barcode submissions, which have vendor macros already.
	AnalyzeProduct(ctx context.Context, name, ingredients string, uc UserContext) ([]string, error)
	// PlanGoal computes a daily macro target from profile attributes.
	PlanGoal(ctx context.Context, req GoalRequest) (GoalPlan, error)
}

// GoalRequest carries the profile attributes goal planning conditions on.
type GoalRequest struct {
	Sex       string
	BirthDate string
	HeightCM  int
	Lifestyle string
	Diet      string
	StartDate string
	EndDate   string
}

// Estimator implements MealEstimator on the OpenAI chat-completions API.
type Estimator struct {
	client *openai.Client
	model  string
}

// inferenceTimeout bounds one chat-completion round trip. Vision requests on
// large photos are the slow path; anything past this is treated as failed.
const inferenceTimeout = 60 * time.Second

// NewEstimator constructs an Estimator. An empty model selects GPT4oMini.
func NewEstimator(apiKey, model string) *Estimator {
	if model == "" {
		model = openai.GPT4oMini
	}
	cfg := openai.DefaultConfig(apiKey)
	cfg.HTTPClient = inferenceHTTPClient()
	return &Estimator{client: openai.NewClientWithConfig(cfg), model: model}
}

// inferenceHTTPClient builds the transport for chat-completion calls. The SDK
// default carries no timeout, so one is set here like every other outbound
// client in this codebase.
func inferenceHTTPClient() *http.Client {
	return &http.Client{Timeout: inferenceTimeout}
}

func (uc UserContext) prompt() string {
	var b strings.Builder
	if uc.Diet != "" {
		fmt.Fprintf(&b, "Diet type: %s. ", uc.Diet)
	}
	if len(uc.Problems) > 0 {
		fmt.Fprintf(&b, "User problems: %s. ", strings.Join(uc.Problems, ", "))
	}
	if uc.Language != language.Und && uc.Language != language.English {
		fmt.Fprintf(&b, "If there are any problems, list them in %s. ", languageName(uc.Language))
	}
	return b.String()
}

// EstimateMeal sends the meal photo and user context to the model and parses
// its JSON answer. A malformed answer degrades to an Estimate with -1 macros
// rather than an error: the meal is still logged, the client shows unknowns.
func (e *Estimator) EstimateMeal(ctx context.Context, imageURL string, uc UserContext) (Estimate, string, error) {
	prompt := "Estimate the macronutrient values based on the image and the following user information: " +
		uc.prompt() +
		" Also, list any potential issues with the meal (e.g., dietary incompatibilities, high fat content, or other concerns) and include the full kcal value for the product, if applicable. " +
		"Provide the result in JSON format, containing exactly the keys: 'name', 'kcal', 'proteins', 'carbs', 'fats', 'healthy_index', and 'problems'. " +
		"The value for 'problems' should be a list. Do not add any additional text."

	resp, err := e.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: e.model,
		Messages: []openai.ChatCompletionMessage{{
			Role: openai.ChatMessageRoleUser,
			MultiContent: []openai.ChatMessagePart{
				{Type: openai.ChatMessagePartTypeText, Text: prompt},
				{Type: openai.ChatMessagePartTypeImageURL, ImageURL: &openai.ChatMessageImageURL{URL: imageURL}},
			},
		}},
		MaxTokens: 300,
	})
	if err != nil {
		inferenceCalls.WithLabelValues("meal", "error").Inc()
		return Estimate{}, "", fmt.Errorf("meal estimate: %w", err)
	}
	if len(resp.Choices) == 0 {
		inferenceCalls.WithLabelValues("meal", "error").Inc()
		return Estimate{}, "", fmt.Errorf("meal estimate: empty response")
	}
	inferenceCalls.WithLabelValues("meal", "ok").Inc()

	raw := resp.Choices[0].Message.Content
	return parseEstimate(raw), raw, nil
}

// AnalyzeProduct asks the model for user-specific issues with a known
// product. The answer is a JSON list of strings; parse failures yield an
// empty list.
func (e *Estimator) AnalyzeProduct(ctx context.Context, name, ingredients string, uc UserContext) ([]string, error) {
	prompt := fmt.Sprintf(
		"The user scanned the product %q with ingredients: %s. %s"+
			"List any potential issues of this product for the user as a JSON list of short strings. "+
			"Answer with the JSON list only, no additional text.",
		name, ingredients, uc.prompt(),
	)

	resp, err := e.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: e.model,
		Messages: []openai.ChatCompletionMessage{{
			Role:    openai.ChatMessageRoleUser,
			Content: prompt,
		}},
		MaxTokens: 200,
	})
	if err != nil {
		inferenceCalls.WithLabelValues("product", "error").Inc()
		return nil, fmt.Errorf("product analysis: %w", err)
	}
	inferenceCalls.WithLabelValues("product", "ok").Inc()
	if len(resp.Choices) == 0 {
		return nil, nil
	}

	var problems []string
	if err := json.Unmarshal([]byte(stripFences(resp.Choices[0].Message.Content)), &problems); err != nil {
		return nil, nil
	}
	return problems, nil
}

// PlanGoal computes daily macro targets for the given profile and date range.
func (e *Estimator) PlanGoal(ctx context.Context, req GoalRequest) (GoalPlan, error) {
	prompt := fmt.Sprintf(
		"Compute a daily nutrition target for a person: sex %s, born %s, height %d cm, "+
			"lifestyle %q, diet %q, for the period %s to %s. "+
			"Provide the result in JSON format, containing exactly the keys: 'kcal', 'protein', 'fats', 'carbs' with integer values. "+
			"Do not add any additional text.",
		req.Sex, req.BirthDate, req.HeightCM, req.Lifestyle, req.Diet, req.StartDate, req.EndDate,
	)

	resp, err := e.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: e.model,
		Messages: []openai.ChatCompletionMessage{{
			Role:    openai.ChatMessageRoleUser,
			Content: prompt,
		}},
		MaxTokens: 120,
	})
	if err != nil {
		inferenceCalls.WithLabelValues("goal", "error").Inc()
		return GoalPlan{}, fmt.Errorf("goal plan: %w", err)
	}
	if len(resp.Choices) == 0 {
		inferenceCalls.WithLabelValues("goal", "error").Inc()
		return GoalPlan{}, fmt.Errorf("goal plan: empty response")
	}
	inferenceCalls.WithLabelValues("goal", "ok").Inc()

	var plan GoalPlan
	if err := json.Unmarshal([]byte(stripFences(resp.Choices[0].Message.Content)), &plan); err != nil {
		return GoalPlan{}, fmt.Errorf("goal plan: %w", err)
	}
	return plan, nil
}

// fenceRE strips markdown code fences models sometimes wrap JSON in.
var fenceRE = regexp.MustCompile("^```(?:json)?\\s*|```$")

// bareNameRE quotes an unquoted single-word name value, a recurring model
// formatting slip.
var bareNameRE = regexp.MustCompile(`("name":\s*)([A-Za-z]+)`)

func stripFences(s string) string {
	return strings.TrimSpace(fenceRE.ReplaceAllString(strings.TrimSpace(s), ""))
}

// parseEstimate decodes the model answer, tolerating fences and a bare name
// value. Anything unparseable degrades to unknown (-1) macros.
func parseEstimate(raw string) Estimate {
	text := stripFences(raw)
	text = bareNameRE.ReplaceAllString(text, `$1"$2"`)

	est := Estimate{
		Name: "dish", Kcal: -1, Proteins: -1, Carbs: -1, Fats: -1, HealthyIndex: -1,
	}
	var parsed Estimate
	if err := json.Unmarshal([]byte(text), &parsed); err != nil {
		return est
	}
	if parsed.Name == "" {
		parsed.Name = "dish"
	}
	return parsed
}

// languageName returns the English name of a language tag for the prompt.
func languageName(tag language.Tag) string {
	if name := display.English.Tags().Name(tag); name != "" {
		return name
	}
	return "English"
}
