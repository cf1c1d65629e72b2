package openai_provider

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/homescout/homescout/models"
)

// ErrUnparseable marks a model reply with no readable JSON body. Callers
// branch on it with errors.Is: retrying the same prompt rarely helps, a
// domain fallback usually does.
var ErrUnparseable = errors.New("model reply contains no parseable json")

const defaultBaseURL = "https://api.openai.com/v1"

const scopingSystemPrompt = `You are a friendly real estate agent helping users find their dream home in the San Francisco Bay Area.

Your job is to gather the following information from the user through natural conversation:
1. Budget (minimum and maximum price range)
2. Number of bedrooms
3. Number of bathrooms
4. Specific location within Bay Area (cities like San Francisco, Oakland, San Jose, etc.)

CRITICAL RULES:
- Be conversational and friendly
- Ask follow-up questions ONLY if you still need information
- Once you have ALL required information (budget, bedrooms, bathrooms, and location), mark as complete
- When marking as complete, ONLY provide a confirmation statement. NEVER ask any questions.
- If the user asks a follow-up question (like "do you have links?"), respond conversationally but mark as NOT complete
- Only mark as complete when starting a NEW property search

RESPONSE FORMATS:

1. If the user is asking a GENERAL QUESTION (about neighborhoods, schools, crime, amenities, etc.), respond with:
{
  "agent_message": "I'll look that up for you.",
  "is_complete": false,
  "is_general_question": true,
  "general_question": "<the user's question>"
}

2. If you have gathered ALL property search requirements (budget, bedrooms, bathrooms, location), respond with:
{
  "agent_message": "<simple confirmation without any questions>",
  "is_complete": true,
  "is_general_question": false,
  "community_name": "<the city or neighborhood to analyze>",
  "requirements": {
    "budget_min": <number or null>,
    "budget_max": <number>,
    "bedrooms": <number>,
    "bathrooms": <number>,
    "location": "<city/area in Bay Area>",
    "additional_info": "<optional additional preferences or null>"
  }
}

3. If you need more information for a property search, respond with:
{
  "agent_message": "<your question or response>",
  "is_complete": false,
  "is_general_question": false
}`

const communitySystemPrompt = `You are a community news analyst. You will be given real news articles about a location, and you need to analyze them.
You MUST respond with ONLY valid JSON in the following format (no additional text):

{
  "location_name": "location name",
  "overall_score": 7.9,
  "safety_score": 7.5,
  "school_score": 8.2,
  "housing_price_per_sqft": 739,
  "avg_house_size_sqft": 1921,
  "positive_stories": [
    {"title": "story title 1", "summary": "brief summary", "url": "article url"},
    {"title": "story title 2", "summary": "brief summary", "url": "article url"}
  ],
  "negative_stories": [
    {"title": "story title 1", "summary": "brief summary", "url": "article url"},
    {"title": "story title 2", "summary": "brief summary", "url": "article url"}
  ]
}

FOLLOW THESE INSTRUCTIONS STRICTLY:
- All scores (overall, safety, school) must be numbers from 0-10 with precision to tenths (e.g., 7.3, 8.5).
- The overall score should be calculated as the average of safety and school scores.
- Analyze the provided news articles and categorize them into positive and negative stories.
- The included url links to the real news articles.
- Choose the 2 most relevant positive stories and 2 most relevant negative stories.
- Base your safety score on the content of the articles, crime reports, community development news, and quality of life indicators.
- Base your school score on school quality indicators, ratings from sources like GreatSchools or Niche, test scores, and education-related news.
- Extract housing_price_per_sqft and avg_house_size_sqft from the housing articles (as integer values).
- If housing data cannot be found in the articles, provide reasonable estimates based on your knowledge of the area.

YOU WILL CHOOSE THE NEWS ARTICLES THAT YOU INCLUDE ACCORDING TO THE FOLLOWING CRITERIA (LISTED IN ORDER OF IMPORTANCE):
- Choose sources that are specific news articles about the location, not generic news websites.
- Choose sources that are relevant and informative to the location.
- Choose sources that are most recent.`

const answerSystemPrompt = `You are a knowledgeable Bay Area real estate assistant who answers general questions about neighborhoods, areas, schools, amenities, and local information.

Your job is to provide helpful, accurate information based on the provided context.

CRITICAL RULES:
- Answer questions conversationally and naturally
- Use the context to provide accurate information
- If the context doesn't contain the answer, say so honestly
- Focus on information relevant to someone looking for a home
- Be concise but informative`

// client implements the Provider interface using OpenAI's chat completions API
type client struct {
	apiKey      string
	baseURL     string
	model       string
	temperature float64
	maxTokens   int
	httpClient  *http.Client
}

// Message represents a message in a conversation
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// request represents a request to the OpenAI API
type request struct {
	Model       string    `json:"model"`
	Messages    []Message `json:"messages"`
	Temperature float64   `json:"temperature"`
	MaxTokens   int       `json:"max_tokens,omitempty"`
}

// response represents a response from the OpenAI API
type response struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

// NewOpenAIClient creates a new OpenAI client
func NewOpenAIClient(apiKey, baseURL, model string, temperature float64, maxTokens int, timeout time.Duration) *client {
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &client{
		apiKey:      apiKey,
		baseURL:     strings.TrimRight(baseURL, "/"),
		model:       model,
		temperature: temperature,
		maxTokens:   maxTokens,
		httpClient:  &http.Client{Timeout: timeout},
	}
}

// ScopeTurn classifies the user's latest message against the conversation so far.
func (c *client) ScopeTurn(ctx context.Context, history []models.ChatMessage, message string) (models.ScopingResult, error) {
	var conv strings.Builder
	for _, m := range history {
		speaker := "Agent"
		if m.Role == models.RoleUser {
			speaker = "User"
		}
		fmt.Fprintf(&conv, "%s: %s\n", speaker, m.Content)
	}
	fmt.Fprintf(&conv, "User: %s\n", message)

	userPrompt := fmt.Sprintf(`Based on the following conversation, determine the user's intent:

Conversation:
%s
Determine if this is:
1. A GENERAL QUESTION (asking about neighborhoods, schools, crime, amenities, local info, etc.) -> set "is_general_question": true
2. A PROPERTY SEARCH REQUEST with all requirements (budget, bedrooms, bathrooms, location) -> set "is_complete": true
3. An INCOMPLETE property search or follow-up -> set "is_complete": false and "is_general_question": false

Examples:
- "What's the crime rate in Castro District?" -> general question
- "Tell me about schools in San Francisco" -> general question
- "Find me a 2 bed 2 bath home in SF under 1.5M" -> complete property search
- "I'm looking for a home" -> incomplete (need more info)

Respond with a JSON object as specified in your instructions.`, conv.String())

	messages := []Message{
		{Role: "system", Content: scopingSystemPrompt},
		{Role: "user", Content: userPrompt},
	}

	responseStr, err := c.sendRequest(ctx, messages)
	if err != nil {
		return models.ScopingResult{}, err
	}

	var result models.ScopingResult
	if err := json.Unmarshal([]byte(extractJSON(responseStr)), &result); err != nil {
		return models.ScopingResult{}, fmt.Errorf("failed to parse scoping response: %w (%v)", ErrUnparseable, err)
	}
	return result, nil
}

// ExtractListings turns fetched listing pages into structured listings and a summary.
func (c *client) ExtractListings(ctx context.Context, req models.Requirements, pages []models.PageExtract) (models.SearchExtraction, error) {
	var pagesText strings.Builder
	for i, page := range pages {
		fmt.Fprintf(&pagesText, "Page %d:\nTitle: %s\nURL: %s\nContent: %s\n\n", i+1, page.Title, page.URL, truncate(page.Text, 3000))
	}

	systemPrompt := `You are a friendly real estate research assistant. You will be given the content of property listing pages and the user's requirements.

Extract the concrete property listings that match and respond with ONLY valid JSON:
{
  "listings": [
    {"title": "...", "address": "<street address if present, else empty>", "price": <number or 0>, "bedrooms": <number or 0>, "bathrooms": <number or 0>, "url": "...", "description": "..."}
  ],
  "summary": "<natural, conversational summary>"
}

RULES:
- Only include real listings found in the page content, never invent properties.
- Keep the listing order of the source pages.
- The summary mentions 2-3 specific listings with addresses and key details. Keep it warm and helpful, 3-4 sentences max.
- The summary must mention how many listings were found.`

	userPrompt := fmt.Sprintf(`User requirements:
Budget: %s - %s
Bedrooms: %d
Bathrooms: %d
Location: %s
Additional: %s

Listing pages:
%s
Extract the matching listings and summarize what properties are available.`,
		formatBudget(req.BudgetMin), formatBudget(req.BudgetMax), req.Bedrooms, req.Bathrooms, req.Location, req.AdditionalInfo, pagesText.String())

	messages := []Message{
		{Role: "system", Content: systemPrompt},
		{Role: "user", Content: userPrompt},
	}

	responseStr, err := c.sendRequest(ctx, messages)
	if err != nil {
		return models.SearchExtraction{}, err
	}

	var extraction models.SearchExtraction
	if err := json.Unmarshal([]byte(extractJSON(responseStr)), &extraction); err != nil {
		return models.SearchExtraction{}, fmt.Errorf("failed to parse listing extraction: %w (%v)", ErrUnparseable, err)
	}
	return extraction, nil
}

// AnalyzeCommunity scores a location using fetched news stories.
func (c *client) AnalyzeCommunity(ctx context.Context, location string, stories []models.StoryExtract) (models.CommunityReport, error) {
	var articlesText strings.Builder
	if len(stories) > 0 {
		articlesText.WriteString("Here are recent news articles about this location:\n\n")
		for i, story := range stories {
			fmt.Fprintf(&articlesText, "%d. %s\n   Content: %s...\n   URL: %s\n\n", i+1, story.Title, truncate(story.Text, 300), story.URL)
		}
	} else {
		articlesText.WriteString("No recent news articles found. Please provide a general analysis based on your knowledge.\n\n")
	}

	messages := []Message{
		{Role: "system", Content: communitySystemPrompt},
		{Role: "user", Content: fmt.Sprintf("Analyze community news and safety for: %s\n\n%s", location, articlesText.String())},
	}

	responseStr, err := c.sendRequest(ctx, messages)
	if err != nil {
		return models.CommunityReport{}, err
	}

	var report models.CommunityReport
	if err := json.Unmarshal([]byte(extractJSON(responseStr)), &report); err != nil {
		return models.CommunityReport{}, fmt.Errorf("failed to parse community analysis: %w (%v)", ErrUnparseable, err)
	}
	if report.LocationName == "" {
		report.LocationName = location
	}
	return report, nil
}

// Answer responds to a free-form question using retrieved context blocks.
func (c *client) Answer(ctx context.Context, question string, contextBlocks []string) (string, error) {
	var contextText strings.Builder
	fmt.Fprintf(&contextText, "User Question: %s\n\n", question)
	if len(contextBlocks) > 0 {
		contextText.WriteString("Context:\n\n")
		for i, block := range contextBlocks {
			fmt.Fprintf(&contextText, "Result %d:\n%s\n\n", i+1, truncate(block, 800))
		}
	}

	userPrompt := fmt.Sprintf("%s\nBased on the context above, answer the user's question: %q\n\nProvide a clear, helpful answer. If the context doesn't contain enough information to answer the question, say so honestly.",
		contextText.String(), question)

	messages := []Message{
		{Role: "system", Content: answerSystemPrompt},
		{Role: "user", Content: userPrompt},
	}

	return c.sendRequest(ctx, messages)
}

// sendRequest sends a request to the OpenAI API
func (c *client) sendRequest(ctx context.Context, messages []Message) (string, error) {
	requestBody := request{
		Model:       c.model,
		Messages:    messages,
		Temperature: c.temperature,
		MaxTokens:   c.maxTokens,
	}

	jsonData, err := json.Marshal(requestBody)
	if err != nil {
		return "", fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", c.baseURL+"/chat/completions", bytes.NewBuffer(jsonData))
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("API returned status: %d", resp.StatusCode)
	}

	var openaiResp response
	if err := json.NewDecoder(resp.Body).Decode(&openaiResp); err != nil {
		return "", fmt.Errorf("failed to parse response: %w", err)
	}

	if len(openaiResp.Choices) == 0 {
		return "", fmt.Errorf("no choices in response")
	}

	return openaiResp.Choices[0].Message.Content, nil
}

// extractJSON strips markdown code fences and surrounding prose from a model
// response so the JSON body can be unmarshalled. It scans for the first
// balanced {...} or [...], ignoring braces inside string literals, and
// returns the input unchanged when no balanced value is found so the caller's
// unmarshal surfaces the real error.
func extractJSON(s string) string {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "```") || strings.HasPrefix(s, "~~~") {
		fence := s[:3]
		rest := s[3:]
		if idx := strings.IndexByte(rest, '\n'); idx != -1 {
			rest = rest[idx+1:]
			if end := strings.Index(rest, fence); end != -1 {
				s = strings.TrimSpace(rest[:end])
			}
		}
	}
	for i := 0; i < len(s); i++ {
		if s[i] == '{' || s[i] == '[' {
			if out, ok := balancedJSONAt(s, i); ok {
				return out
			}
		}
	}
	return s
}

// balancedJSONAt extracts a balanced JSON object or array starting at i,
// tracking nesting and skipping over quoted strings and escapes.
func balancedJSONAt(s string, i int) (string, bool) {
	var (
		stack    []byte
		inString bool
		escape   bool
	)
	stack = append(stack, s[i])
	for j := i + 1; j < len(s); j++ {
		c := s[j]
		if inString {
			if escape {
				escape = false
				continue
			}
			switch c {
			case '\\':
				escape = true
			case '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '{', '[':
			stack = append(stack, c)
		case '}', ']':
			top := stack[len(stack)-1]
			if (top == '{' && c != '}') || (top == '[' && c != ']') {
				return "", false
			}
			stack = stack[:len(stack)-1]
			if len(stack) == 0 {
				return s[i : j+1], true
			}
		}
	}
	return "", false
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max]
}

func formatBudget(v float64) string {
	if v <= 0 {
		return "unspecified"
	}
	return fmt.Sprintf("$%.0f", v)
}
