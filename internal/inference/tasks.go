package inference

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/org/journalsync/internal/llm"
	"github.com/org/journalsync/pkg/models"
)

// ErrUnknownTask is returned for task identifiers the runner does not handle.
var ErrUnknownTask = errors.New("unknown inference task")

const (
	taskMaxTokens   = 1024
	taskTemperature = 0.3
)

// TaskRunner executes inference tasks against the configured provider.
// Plaintext content is handled in memory only and never logged; log lines
// carry a digest of the result instead.
type TaskRunner struct {
	provider llm.Provider
	now      func() time.Time
}

// NewTaskRunner creates a runner over the given provider.
func NewTaskRunner(provider llm.Provider) *TaskRunner {
	return &TaskRunner{provider: provider, now: time.Now}
}

// ProviderInfo reports the configured provider and model.
func (r *TaskRunner) ProviderInfo() models.ProviderInfo {
	if r.provider == nil {
		return models.ProviderInfo{}
	}
	return models.ProviderInfo{Provider: r.provider.Name(), Model: r.provider.Model()}
}

// Run executes the named task on plaintext content and returns the result as
// a JSON document. Malformed model output degrades to an empty result rather
// than failing the request.
func (r *TaskRunner) Run(ctx context.Context, task string, content string) ([]byte, error) {
	var (
		result any
		err    error
	)
	switch task {
	case models.TaskMemoryDistillation:
		result, err = r.memoryDistillation(ctx, content)
	case models.TaskTagging:
		result, err = r.tagging(ctx, content)
	case models.TaskInsightExtraction:
		result, err = r.insightExtraction(ctx, content)
	case models.TaskCaptureMetadata:
		result, err = r.captureMetadata(ctx, content)
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnknownTask, task)
	}
	if err != nil {
		return nil, err
	}

	out, err := json.Marshal(result)
	if err != nil {
		return nil, fmt.Errorf("encoding task result: %w", err)
	}

	sum := sha256.Sum256(out)
	log.Info().
		Str("task", task).
		Str("provider", r.provider.Name()).
		Str("model", r.provider.Model()).
		Int("result_length", len(out)).
		Str("result_sha256", hex.EncodeToString(sum[:])).
		Msg("inference task completed")
	return out, nil
}

type distilledMemory struct {
	Type       string  `json:"type"`
	Content    string  `json:"content"`
	Confidence float64 `json:"confidence"`
}

type memoryDistillationResult struct {
	Memories   []distilledMemory `json:"memories"`
	Confidence float64           `json:"confidence"`
}

const memoryDistillationSystem = `You are a memory extraction assistant. Your task is to identify and extract important memories from journal entries. Focus on:

1. Commitments - Future actions or promises ("I will...", "Need to...", "Should call...")
2. Facts - Learned information ("Flutter uses Dart", "The meeting is at 3pm")
3. Insights - Realizations or conclusions ("I realized that...", "Understood why...")
4. Patterns - Recurring behaviors ("I always...", "Every time...")
5. Preferences - Personal preferences ("I prefer...", "I like...")

Return a JSON object with this exact structure:
{
  "memories": [
    {"type": "commitment|fact|insight|pattern|preference", "content": "extracted memory", "confidence": 0.0-1.0}
  ],
  "confidence": 0.0-1.0
}

Only extract clear, meaningful memories. Assign confidence based on how explicit the memory is in the text.`

func (r *TaskRunner) memoryDistillation(ctx context.Context, content string) (*memoryDistillationResult, error) {
	raw, err := r.callLLM(ctx, models.TaskMemoryDistillation, memoryDistillationSystem,
		"Extract memories from this journal entry:\n\n"+content)
	if err != nil {
		return nil, err
	}

	var result memoryDistillationResult
	if err := json.Unmarshal([]byte(raw), &result); err != nil {
		log.Warn().Err(err).Str("task", models.TaskMemoryDistillation).Msg("model output parse failed")
		return &memoryDistillationResult{Memories: []distilledMemory{}, Confidence: 0}, nil
	}
	if result.Memories == nil {
		result.Memories = []distilledMemory{}
	}
	if result.Confidence == 0 && len(result.Memories) > 0 {
		result.Confidence = 0.8
	}
	return &result, nil
}

type extractedTag struct {
	Tag        string  `json:"tag"`
	Confidence float64 `json:"confidence"`
}

type taggingResult struct {
	Tags       []extractedTag `json:"tags"`
	Confidence float64        `json:"confidence"`
}

const taggingSystem = `You are a tagging assistant. Your task is to extract relevant tags from journal entries.

Common tag categories:
- Topics: work, personal, family, health, finance, learning
- Types: task, reminder, question, idea, reflection, gratitude
- Entities: project, meeting, deadline, goal, event

Return a JSON object with this exact structure:
{
  "tags": [
    {"tag": "lowercase_tag", "confidence": 0.0-1.0}
  ],
  "confidence": 0.0-1.0
}

Extract 3-7 most relevant tags. Use lowercase, single words. Assign confidence based on relevance.`

func (r *TaskRunner) tagging(ctx context.Context, content string) (*taggingResult, error) {
	raw, err := r.callLLM(ctx, models.TaskTagging, taggingSystem,
		"Extract tags from this journal entry:\n\n"+content)
	if err != nil {
		return nil, err
	}

	var result taggingResult
	if err := json.Unmarshal([]byte(raw), &result); err != nil {
		log.Warn().Err(err).Str("task", models.TaskTagging).Msg("model output parse failed")
		return &taggingResult{Tags: []extractedTag{}, Confidence: 0}, nil
	}
	if result.Tags == nil {
		result.Tags = []extractedTag{}
	}
	for i := range result.Tags {
		result.Tags[i].Tag = strings.ToLower(result.Tags[i].Tag)
	}
	if result.Confidence == 0 && len(result.Tags) > 0 {
		result.Confidence = 0.8
	}
	return &result, nil
}

type insightExtractionResult struct {
	Insights   []string `json:"insights"`
	Confidence float64  `json:"confidence"`
}

const insightExtractionSystem = `You are an insight extraction assistant. Your task is to identify deeper insights, patterns, and connections in journal entries.

Focus on:
- Recurring themes or patterns
- Connections to broader goals or values
- Emotional patterns or trends
- Areas of growth or concern
- Underlying motivations

Return a JSON object with this exact structure:
{
  "insights": [
    "First insight as a complete sentence",
    "Second insight as a complete sentence"
  ],
  "confidence": 0.0-1.0
}

Provide 1-3 meaningful insights. Write them as helpful observations that could aid self-reflection.`

func (r *TaskRunner) insightExtraction(ctx context.Context, content string) (*insightExtractionResult, error) {
	raw, err := r.callLLM(ctx, models.TaskInsightExtraction, insightExtractionSystem,
		"Extract insights from this journal entry:\n\n"+content)
	if err != nil {
		return nil, err
	}

	var result insightExtractionResult
	if err := json.Unmarshal([]byte(raw), &result); err != nil {
		log.Warn().Err(err).Str("task", models.TaskInsightExtraction).Msg("model output parse failed")
		return &insightExtractionResult{Insights: []string{}, Confidence: 0}, nil
	}
	if result.Insights == nil {
		result.Insights = []string{}
	}
	if result.Confidence == 0 && len(result.Insights) > 0 {
		result.Confidence = 0.7
	}
	return &result, nil
}

// captureMetadataResult uses the camelCase field names the clients expect.
type captureMetadataResult struct {
	Intent               string   `json:"intent"`
	ExtractedQuestion    *string  `json:"extractedQuestion"`
	ExtractedTask        *string  `json:"extractedTask"`
	InferredReminderTime *string  `json:"inferredReminderTime"`
	ExtractedEntities    []string `json:"extractedEntities"`
	SuggestedTags        []string `json:"suggestedTags"`
	Confidence           float64  `json:"confidence"`
	RequiresResponse     bool     `json:"requiresResponse"`
}

type captureMetadataEnvelope struct {
	CaptureMetadata captureMetadataResult `json:"capture_metadata"`
	Confidence      float64               `json:"confidence"`
}

const captureMetadataSystemFormat = `You are a metadata extraction assistant. Analyze journal entries and extract structured metadata.

CURRENT TIME CONTEXT (use for reminder time calculations):
- UTC time: %s
- Day: %s
- Date: %s
- Time: %s

Return a JSON object with this exact structure:
{
  "intent": "question|reminder|task|note|reflection|quote|idea",
  "extractedQuestion": "string or null",
  "extractedTask": "string or null",
  "inferredReminderTime": "ISO8601 string or null",
  "extractedEntities": ["entity1", "entity2"],
  "suggestedTags": ["tag1", "tag2"],
  "confidence": 0.0-1.0,
  "requiresResponse": true|false
}

Guidelines:
- intent: Classify the primary intent
- extractedQuestion: If question intent, extract the core question
- extractedTask: If task intent, extract the action item
- inferredReminderTime: If reminder intent, parse time expressions (e.g., "tomorrow at 2pm", "in 2 hours") into ISO8601 UTC timestamp
- extractedEntities: Extract people, places, concepts mentioned (max 5)
- suggestedTags: Extract 1-5 relevant tags (work, personal, health, urgent, family, etc.)
- requiresResponse: true if the user expects an AI response (questions, complex requests)`

func (r *TaskRunner) captureMetadata(ctx context.Context, content string) (*captureMetadataEnvelope, error) {
	now := r.now().UTC()
	system := fmt.Sprintf(captureMetadataSystemFormat,
		now.Format("2006-01-02T15:04:05")+"Z",
		now.Weekday().String(),
		now.Format("2006-01-02"),
		now.Format("15:04"))

	raw, err := r.callLLM(ctx, models.TaskCaptureMetadata, system,
		"Extract metadata from this entry:\n\n"+content)
	if err != nil {
		return nil, err
	}

	var result captureMetadataResult
	if err := json.Unmarshal([]byte(raw), &result); err != nil || result.Intent == "" {
		log.Warn().Str("task", models.TaskCaptureMetadata).Int("response_length", len(raw)).
			Msg("model output parse failed")
		result = captureMetadataResult{
			Intent:            "note",
			ExtractedEntities: []string{},
			SuggestedTags:     []string{},
			Confidence:        0.3,
		}
	}
	if result.ExtractedEntities == nil {
		result.ExtractedEntities = []string{}
	}
	if result.SuggestedTags == nil {
		result.SuggestedTags = []string{}
	}
	if result.Confidence == 0 {
		result.Confidence = 0.7
	}
	return &captureMetadataEnvelope{CaptureMetadata: result, Confidence: result.Confidence}, nil
}

// callLLM runs one completion and strips any markdown code fences around the
// JSON payload.
func (r *TaskRunner) callLLM(ctx context.Context, task, system, user string) (string, error) {
	if r.provider == nil {
		return "", llm.ErrProviderUnavailable
	}
	completion, err := r.provider.Complete(ctx, llm.Request{
		System:      system,
		User:        user,
		MaxTokens:   taskMaxTokens,
		Temperature: taskTemperature,
	})
	if err != nil {
		return "", fmt.Errorf("running %s: %w", task, err)
	}

	content := strings.TrimSpace(completion.Content)
	content = strings.TrimPrefix(content, "```json")
	content = strings.TrimPrefix(content, "```")
	content = strings.TrimSuffix(content, "```")
	return strings.TrimSpace(content), nil
}
