package builder

import (
	"fmt"
	"strings"

	"github.com/hazyhaar/livepage/llm"
	"github.com/hazyhaar/livepage/selection"
)

const generateInstruction = `You are an expert web developer specializing in creating beautiful, single-page websites using HTML and Tailwind CSS.
Your task is to generate a complete, self-contained HTML file based on the user's prompt.

**Requirements:**
1.  **Single File:** The entire output must be a single HTML file.
2.  **Tailwind CSS:** You MUST include the Tailwind CSS CDN script ` + "`<script src=\"https://cdn.tailwindcss.com\"></script>`" + ` in the ` + "`<head>`" + `. All styling must be done using Tailwind utility classes directly in the HTML elements. Do not use ` + "`<style>`" + ` blocks or external CSS files.
3.  **Content:** Use relevant placeholder text. For images, use ` + "`https://picsum.photos/`" + ` with appropriate dimensions (e.g., https://picsum.photos/1200/800).
4.  **Structure:** Use semantic HTML5 tags (` + "`<header>`, `<main>`, `<footer>`, `<section>`, `<nav>`" + `, etc.). Ensure the design is modern, visually appealing, and responsive.
5.  **Response Format:** Your response must be ONLY the raw HTML code. Do NOT wrap it in Markdown code blocks or provide any explanations. Start your response directly with ` + "`<!DOCTYPE html>`" + ` and end it with ` + "`</html>`" + `.
`

const editInstructionFormat = `You are an expert web developer editing an existing HTML file that uses Tailwind CSS. The user has provided the full current HTML and a request to modify it.

Your task is to identify the precise block of HTML corresponding to the user's request and provide the new HTML to replace it.

**Your response MUST be in the following format and nothing else:**
1.  The exact, original block of HTML to be replaced. This must be a contiguous substring of the original document.
2.  Followed by the exact separator string: "%[1]s"
3.  Followed by the new block of HTML code that will replace the original.

Do NOT include any other text, explanations, or markdown formatting. Your entire output must follow this 'original_html%[1]snew_html' structure.
`

// Sampling parameters of the two request shapes.
const (
	generateTemperature = 0.7
	editTemperature     = 0.5
	topP                = 0.95
	topK                = 64
)

// GenerateRequest builds the backend request for a whole-document generation.
func GenerateRequest(model, prompt string) llm.Request {
	return llm.Request{
		Model:             model,
		Prompt:            prompt,
		SystemInstruction: generateInstruction,
		Temperature:       generateTemperature,
		TopP:              topP,
		TopK:              topK,
	}
}

// EditSystemInstruction returns the edit system instruction for sentinel.
func EditSystemInstruction(sentinel string) string {
	return fmt.Sprintf(editInstructionFormat, sentinel)
}

// EditPrompt embeds the current document and the targeted change.
func EditPrompt(current string, req selection.EditRequest, sentinel string) string {
	var target string
	if req.Kind == selection.KindText {
		target = fmt.Sprintf("The user wants to edit text within the element identified by the CSS selector: `%s`. "+
			"The original text is: %q. The new text should be: %q. "+
			"Please replace the text while preserving the surrounding HTML structure.",
			req.Locator, req.OriginalText, req.NewText)
	} else {
		target = fmt.Sprintf("The user wants to edit the element identified by the CSS selector: `%s`. "+
			"The user's instruction is: %q", req.Locator, req.Instruction)
	}

	var b strings.Builder
	b.WriteString("\nHere is the current HTML of the website:\n```html\n")
	b.WriteString(current)
	b.WriteString("\n```\n\n")
	b.WriteString(target)
	fmt.Fprintf(&b, "\n\nPlease apply this change and return the response in the required 'original_html%snew_html' format.\n", sentinel)
	return b.String()
}

// EditRequest builds the backend request for a targeted edit.
func EditRequest(model, current string, req selection.EditRequest, sentinel string) llm.Request {
	return llm.Request{
		Model:             model,
		Prompt:            EditPrompt(current, req, sentinel),
		SystemInstruction: EditSystemInstruction(sentinel),
		Temperature:       editTemperature,
		TopP:              topP,
		TopK:              topK,
	}
}
