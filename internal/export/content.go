package export

import (
	"fmt"
	"html"
	"strings"
)

// RichContentToHTML converts stored rich-content JSON (already unmarshaled
// into a generic map) to HTML.
func RichContentToHTML(doc interface{}) string {
	if doc == nil {
		return ""
	}

	root, ok := doc.(map[string]interface{})
	if !ok {
		return ""
	}

	return renderNode(root)
}

func renderNode(node map[string]interface{}) string {
	nodeType, _ := node["type"].(string)
	if nodeType == "" {
		return ""
	}

	switch nodeType {
	case "doc":
		return renderContent(node["content"])
	case "paragraph":
		content := renderContent(node["content"])
		return fmt.Sprintf("<p>%s</p>\n", content)
	case "heading":
		level := 1
		if attrs, ok := node["attrs"].(map[string]interface{}); ok {
			if lvl, ok := attrs["level"].(float64); ok {
				level = int(lvl)
			}
		}
		content := renderContent(node["content"])
		return fmt.Sprintf("<h%d>%s</h%d>\n", level, content, level)
	case "text":
		text, _ := node["text"].(string)
		marks, _ := node["marks"].([]interface{})
		return renderTextWithMarks(text, marks)
	case "hardBreak":
		return "<br>"
	default:
		// Unknown node type - render content if any
		return renderContent(node["content"])
	}
}

func renderContent(content interface{}) string {
	if content == nil {
		return ""
	}

	items, ok := content.([]interface{})
	if !ok {
		return ""
	}

	var result strings.Builder
	for _, item := range items {
		if node, ok := item.(map[string]interface{}); ok {
			result.WriteString(renderNode(node))
		}
	}
	return result.String()
}

func renderTextWithMarks(text string, marks []interface{}) string {
	if text == "" {
		return ""
	}

	htmlText := html.EscapeString(text)

	if len(marks) == 0 {
		return htmlText
	}

	// Apply marks from outside in
	for i := len(marks) - 1; i >= 0; i-- {
		mark, ok := marks[i].(map[string]interface{})
		if !ok {
			continue
		}
		markType, _ := mark["type"].(string)

		switch markType {
		case "comment":
			commentID := ""
			if attrs, ok := mark["attrs"].(map[string]interface{}); ok {
				if id, ok := attrs["commentId"].(string); ok {
					commentID = id
				}
			}
			htmlText = fmt.Sprintf(`<mark class="comment-anchor" data-comment-id="%s">%s</mark>`, html.EscapeString(commentID), htmlText)
		case "bold":
			htmlText = fmt.Sprintf("<strong>%s</strong>", htmlText)
		case "italic":
			htmlText = fmt.Sprintf("<em>%s</em>", htmlText)
		}
	}

	return htmlText
}
