package breact

import (
	"context"

	"BReact-SDK/pkg/job"
)

// Ids and endpoints of the pre-built façades.
const (
	SummarizerID    = "summarizer"
	EmailResponseID = "email_response"
	ClassifierID    = "classifier"

	EndpointSummarize        = "summarize"
	EndpointAnalyzeThread    = "analyze_thread"
	EndpointGenerateResponse = "generate_response"
	EndpointProcess          = "process"
)

// DefaultSummaryLength is the summary length, in words, used when none is
// given.
const DefaultSummaryLength = 100

// Summarizer wraps the summarizer service.
type Summarizer struct {
	*BaseService
}

// NewSummarizer is the ServiceFactory of the summarizer façade.
func NewSummarizer(base *BaseService) Service { return &Summarizer{BaseService: base} }

// Summarize condenses text to at most maxLength words. A non-positive
// maxLength selects DefaultSummaryLength.
func (s *Summarizer) Summarize(ctx context.Context, text string, maxLength int) (job.Result, error) {
	if maxLength <= 0 {
		maxLength = DefaultSummaryLength
	}
	return s.Execute(ctx, EndpointSummarize, map[string]any{
		"text":       text,
		"max_length": maxLength,
	})
}

// EmailMessage is one message of an email thread.
type EmailMessage struct {
	Sender    string `json:"sender"`
	Recipient string `json:"recipient"`
	Subject   string `json:"subject"`
	Content   string `json:"content"`
	Timestamp string `json:"timestamp,omitempty"`
}

// DefaultAnalysisTypes are requested when AnalyzeThread is given none.
var DefaultAnalysisTypes = []string{"sentiment", "key_points", "action_items", "response_urgency"}

// EmailResponder wraps the email_response service.
type EmailResponder struct {
	*BaseService
}

// NewEmailResponder is the ServiceFactory of the email_response façade.
func NewEmailResponder(base *BaseService) Service { return &EmailResponder{BaseService: base} }

// AnalyzeThread analyses an email thread.
func (s *EmailResponder) AnalyzeThread(ctx context.Context, thread []EmailMessage, analysisTypes ...string) (job.Result, error) {
	if len(analysisTypes) == 0 {
		analysisTypes = DefaultAnalysisTypes
	}
	return s.Execute(ctx, EndpointAnalyzeThread, map[string]any{
		"email_thread":  thread,
		"analysis_type": analysisTypes,
	})
}

// GenerateResponse drafts a reply to the thread following styleGuide (e.g.
// tone and priority).
func (s *EmailResponder) GenerateResponse(ctx context.Context, thread []EmailMessage, styleGuide map[string]any) (job.Result, error) {
	params := map[string]any{"email_thread": thread}
	if styleGuide != nil {
		params["style_guide"] = styleGuide
	}
	return s.Execute(ctx, EndpointGenerateResponse, params)
}

// Classifier wraps the classifier service.
type Classifier struct {
	*BaseService
}

// NewClassifier is the ServiceFactory of the classifier façade.
func NewClassifier(base *BaseService) Service { return &Classifier{BaseService: base} }

// Process classifies content. hints is sent as the request context, e.g.
// {"allowedClasses": [...]}.
func (s *Classifier) Process(ctx context.Context, content string, hints map[string]any) (job.Result, error) {
	params := map[string]any{"content": content}
	if hints != nil {
		params["context"] = hints
	}
	return s.Execute(ctx, EndpointProcess, params)
}

func builtinFactories() map[string]ServiceFactory {
	return map[string]ServiceFactory{
		SummarizerID:    NewSummarizer,
		EmailResponseID: NewEmailResponder,
		ClassifierID:    NewClassifier,
	}
}
