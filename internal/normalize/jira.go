// Package normalize maps source-specific webhook payloads into canonical
// notification jobs. Mappers are pure functions; adding a source means adding
// another mapping function behind the same shape, not subclassing anything.
package normalize

import (
	"fmt"
	"strings"

	"github.com/like-teriyaki37/tg-notifier-monorepo/internal/domain"
)

const fallbackJiraMessage = "New Jira event"

// JiraIssuePayload is the subset of a Jira issue webhook we consume.
type JiraIssuePayload struct {
	Issue *JiraIssue `json:"issue"`
}

type JiraIssue struct {
	ID     string           `json:"id"`
	Key    string           `json:"key"`
	Self   string           `json:"self"`
	Fields *JiraIssueFields `json:"fields"`
}

type JiraIssueFields struct {
	Summary  string        `json:"summary"`
	Assignee *JiraAssignee `json:"assignee"`
}

type JiraAssignee struct {
	EmailAddress string `json:"emailAddress"`
}

// IsEmail reports whether s looks like an email: it contains "@" and a "."
// in the domain part. Intentionally permissive, not RFC-exhaustive.
func IsEmail(s string) bool {
	at := strings.Index(s, "@")
	if at <= 0 || at == len(s)-1 {
		return false
	}
	domainPart := s[at+1:]
	dot := strings.Index(domainPart, ".")
	return dot > 0 && dot < len(domainPart)-1
}

// NormalizeJiraIssue maps a Jira issue event to zero or more jobs. One job is
// emitted if and only if the assignee email is syntactically valid.
func NormalizeJiraIssue(payload JiraIssuePayload) []domain.Job {
	issue := payload.Issue
	if issue == nil {
		return nil
	}

	var email, summary string
	if issue.Fields != nil {
		summary = issue.Fields.Summary
		if issue.Fields.Assignee != nil {
			email = issue.Fields.Assignee.EmailAddress
		}
	}

	if !IsEmail(email) {
		return nil
	}

	job := domain.NewJob(domain.SourceJira, email, jiraMessage(issue.Key, summary))
	if issue.ID != "" {
		eventID := issue.ID
		job.ExternalEventID = &eventID
	}

	return []domain.Job{job}
}

func jiraMessage(key, summary string) string {
	switch {
	case key != "" && summary != "":
		return fmt.Sprintf("[%s] %s", key, summary)
	case summary != "":
		return summary
	case key != "":
		return key
	default:
		return fallbackJiraMessage
	}
}
