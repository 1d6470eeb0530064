package research

import (
	"fmt"
	"strings"
	"time"
)

func researchSystemPrompt(now time.Time) string {
	return fmt.Sprintf(`You are an expert research analyst. Today is %s.

Follow these rules:
- Judge claims on their logical merit and say how certain you are.
- Assume the reader is an expert; do not simplify technical detail.
- Prefer specific entities, numbers and dates over generalities.
- Call out speculation explicitly, and still engage with novel ideas.
- Surface contrarian views and adjacent topics that change the picture.
- Structure output with clear hierarchy.`, now.UTC().Format(time.RFC3339))
}

func clarifySystemPrompt(now time.Time) string {
	return fmt.Sprintf(`You help people sharpen research requests. Today is %s.

Read the request and look for ambiguous terms, missing context, unclear scope
and unstated assumptions. Ask focused questions that each need more than a
yes/no answer, build on the request, and do not overlap. Do not suggest
answers and do not guess the requester's intent.`, now.UTC().Format(time.RFC3339))
}

func plannerPrompt(prompt string, learnings []string, numQueries int) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Generate up to %d unique search engine queries for the following prompt: <prompt>%s</prompt>", numQueries, prompt)
	sb.WriteString("\nReturn fewer queries if the prompt is already specific. Each query must target a distinct aspect.")
	if len(learnings) > 0 {
		sb.WriteString("\n\nUse these learnings from earlier research to make the queries more specific:\n")
		sb.WriteString(strings.Join(learnings, "\n"))
	}
	return sb.String()
}

func extractorPrompt(query string, contents []string, numLearnings, numFollowUps int) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Given the search results for the query <query>%s</query>, extract up to %d concise and unique learnings. ", query, numLearnings)
	sb.WriteString("Each learning should be dense with information: name people, places, companies, products, metrics and dates where the results support them. ")
	fmt.Fprintf(&sb, "Also propose up to %d follow-up questions that would extend the research.\n\n<contents>", numFollowUps)
	for i, c := range contents {
		if i > 0 {
			sb.WriteString("\n")
		}
		sb.WriteString("<content>\n")
		sb.WriteString(c)
		sb.WriteString("\n</content>")
	}
	sb.WriteString("</contents>")
	return sb.String()
}

func reportPrompt(prompt string, learnings []string) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Using the prompt <prompt>%s</prompt>, write a detailed final report of at least three pages that includes all of the following learnings from research. ", prompt)
	sb.WriteString("Use markdown headings. Do not add a sources section; one is appended separately.\n\n<learnings>\n")
	for _, l := range learnings {
		sb.WriteString("<learning>\n")
		sb.WriteString(l)
		sb.WriteString("\n</learning>\n")
	}
	sb.WriteString("</learnings>")
	return sb.String()
}

func clarifyPrompt(query string, max int) string {
	return fmt.Sprintf("Given the following research request, ask up to %d follow-up questions that clarify the direction of the research. Return fewer if the request is already clear: <query>%s</query>", max, query)
}

func titlePrompt(query string) string {
	return fmt.Sprintf("Summarize the following research request as a short title of at most eight words. Reply with the title only, without quotes or punctuation at the end.\n\n<query>%s</query>", query)
}

// ContinuationPrompt builds the next level's prompt: the research goal first,
// then each follow-up question on its own line.
func ContinuationPrompt(goal string, followUps []string) string {
	var sb strings.Builder
	sb.WriteString("Previous research goal: ")
	sb.WriteString(goal)
	sb.WriteString("\nFollow-up research directions: ")
	for _, q := range followUps {
		sb.WriteString("\n")
		sb.WriteString(q)
	}
	return strings.TrimSpace(sb.String())
}

// FullQuery folds the clarifying Q&A into the query the engine researches.
func FullQuery(query string, qas []QA) string {
	if len(qas) == 0 {
		return query
	}
	var sb strings.Builder
	sb.WriteString("Initial Query: ")
	sb.WriteString(query)
	sb.WriteString("\nFollowup Q&A:")
	for _, qa := range qas {
		fmt.Fprintf(&sb, "\nQ: %s\nA: %s", qa.Question, qa.Answer)
	}
	return sb.String()
}
