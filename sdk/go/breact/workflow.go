package breact

import (
	"context"
	"fmt"

	xerrors "BReact-SDK/pkg/errors"
	"BReact-SDK/pkg/job"
)

// DefaultEmailClasses are offered to the classifier when ProcessEmail is
// given none.
var DefaultEmailClasses = []string{"inquiry", "complaint", "support", "feedback", "sales"}

// facade fetches the façade for id and asserts its concrete type.
func facade[T Service](ctx context.Context, c *Client, id string) (T, error) {
	var zero T
	svc, err := c.GetService(ctx, id)
	if err != nil {
		return zero, err
	}
	typed, ok := svc.(T)
	if !ok {
		return zero, xerrors.New(xerrors.CodeInvalidArgument,
			fmt.Sprintf("service %s is bound to %T, not %T", id, svc, zero))
	}
	return typed, nil
}

// Summarizer returns the summarizer façade.
func (c *Client) Summarizer(ctx context.Context) (*Summarizer, error) {
	return facade[*Summarizer](ctx, c, SummarizerID)
}

// EmailResponder returns the email_response façade.
func (c *Client) EmailResponder(ctx context.Context) (*EmailResponder, error) {
	return facade[*EmailResponder](ctx, c, EmailResponseID)
}

// Classifier returns the classifier façade.
func (c *Client) Classifier(ctx context.Context) (*Classifier, error) {
	return facade[*Classifier](ctx, c, ClassifierID)
}

// Summarize runs summarizer/summarize.
func (c *Client) Summarize(ctx context.Context, text string, maxLength int) (job.Result, error) {
	s, err := c.Summarizer(ctx)
	if err != nil {
		return job.Result{}, err
	}
	return s.Summarize(ctx, text, maxLength)
}

// AnalyzeEmailThread runs email_response/analyze_thread.
func (c *Client) AnalyzeEmailThread(ctx context.Context, thread []EmailMessage, analysisTypes ...string) (job.Result, error) {
	s, err := c.EmailResponder(ctx)
	if err != nil {
		return job.Result{}, err
	}
	return s.AnalyzeThread(ctx, thread, analysisTypes...)
}

// GenerateEmailResponse runs email_response/generate_response.
func (c *Client) GenerateEmailResponse(ctx context.Context, thread []EmailMessage, styleGuide map[string]any) (job.Result, error) {
	s, err := c.EmailResponder(ctx)
	if err != nil {
		return job.Result{}, err
	}
	return s.GenerateResponse(ctx, thread, styleGuide)
}

// ClassifyEmail runs classifier/process restricted to the given classes.
func (c *Client) ClassifyEmail(ctx context.Context, content string, classes ...string) (job.Result, error) {
	s, err := c.Classifier(ctx)
	if err != nil {
		return job.Result{}, err
	}
	if len(classes) == 0 {
		classes = DefaultEmailClasses
	}
	return s.Process(ctx, content, map[string]any{"allowedClasses": classes})
}

// EmailReport is the combined output of ProcessEmail.
type EmailReport struct {
	Analysis          map[string]any `json:"analysis"`
	Classification    map[string]any `json:"classification"`
	Class             string         `json:"class"`
	Tone              string         `json:"tone"`
	Priority          string         `json:"priority"`
	SuggestedResponse map[string]any `json:"suggested_response"`
}

// ProcessEmail analyses and classifies the thread concurrently, then
// drafts a reply whose tone and priority follow from both results.
func (c *Client) ProcessEmail(ctx context.Context, thread []EmailMessage, classes ...string) (EmailReport, error) {
	if len(thread) == 0 {
		return EmailReport{}, xerrors.New(xerrors.CodeInvalidArgument, "email thread is empty")
	}
	if len(classes) == 0 {
		classes = DefaultEmailClasses
	}

	outcomes := c.Batch(ctx,
		Call{
			ID:        "analysis",
			ServiceID: EmailResponseID,
			Endpoint:  EndpointAnalyzeThread,
			Params:    map[string]any{"email_thread": thread, "analysis_type": DefaultAnalysisTypes},
		},
		Call{
			ID:        "classification",
			ServiceID: ClassifierID,
			Endpoint:  EndpointProcess,
			Params: map[string]any{
				"content": thread[len(thread)-1].Content,
				"context": map[string]any{"allowedClasses": classes},
			},
		},
	)
	var report EmailReport
	for _, o := range outcomes {
		if o.Err != nil {
			return EmailReport{}, o.Err
		}
		m, err := o.Result.Map()
		if err != nil {
			return EmailReport{}, err
		}
		if o.Call.ID == "analysis" {
			report.Analysis = m
		} else {
			report.Classification = m
		}
	}

	report.Class = lookupString(report.Classification, "unknown", "class")
	if report.Class == "unknown" {
		report.Class = lookupString(report.Classification, "unknown", "result", "class")
	}
	sentiment := lookupString(report.Analysis, "", "sentiment")
	if sentiment == "" {
		sentiment = lookupString(report.Analysis, "", "analysis", "sentiment")
	}
	switch {
	case report.Class == "complaint" || sentiment == "negative":
		report.Tone = "empathetic"
	case report.Class == "inquiry" || report.Class == "feedback":
		report.Tone = "friendly"
	default:
		report.Tone = "professional"
	}
	report.Priority = lookupString(report.Analysis, "medium", "analysis", "response_urgency")

	res, err := c.GenerateEmailResponse(ctx, thread, map[string]any{
		"tone":     report.Tone,
		"priority": report.Priority,
	})
	if err != nil {
		return EmailReport{}, err
	}
	if report.SuggestedResponse, err = res.Map(); err != nil {
		return EmailReport{}, err
	}
	return report, nil
}

// lookupString walks nested objects along path and returns the string found
// there, or def.
func lookupString(m map[string]any, def string, path ...string) string {
	var cur any = m
	for _, key := range path {
		obj, ok := cur.(map[string]any)
		if !ok {
			return def
		}
		cur = obj[key]
	}
	if s, ok := cur.(string); ok && s != "" {
		return s
	}
	return def
}
