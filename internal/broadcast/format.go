package broadcast

import (
	"fmt"
	"strings"

	"github.com/4ndry11/zvnews/internal/news"
	"github.com/4ndry11/zvnews/pkg/tgui"
)

const defaultTopic = "Новини"

// FormatItem renders one article as a Telegram HTML message: topic
// header, bold title, summary, source and date lines, and a link to the
// original.
func FormatItem(it news.Item) string {
	topic := strings.TrimSpace(it.Topic)
	if topic == "" {
		topic = defaultTopic
	}

	var b strings.Builder
	b.WriteString(tgui.B("📰 " + topic).String())
	b.WriteString("\n\n")
	b.WriteString(tgui.B(it.Title).String())

	if s := strings.TrimSpace(it.Summary); s != "" {
		b.WriteString("\n\n")
		b.WriteString(tgui.Esc(s).String())
	}

	b.WriteString("\n\n")
	b.WriteString(tgui.B("Джерело:").String())
	b.WriteString(" ")
	b.WriteString(tgui.Esc(sourceOrDash(it.Source)).String())

	if !it.PublishedAt.IsZero() {
		b.WriteString("\n")
		b.WriteString(tgui.B("Дата:").String())
		b.WriteString(" ")
		b.WriteString(it.PublishedAt.Format("02.01.2006 15:04"))
	}

	if u := strings.TrimSpace(it.URL); u != "" {
		b.WriteString("\n\n")
		b.WriteString(tgui.Link("📎 Читати оригінал статті", u).String())
	}
	return b.String()
}

// FormatHeader renders the batch opener sent before the articles.
func FormatHeader(count int) string {
	return tgui.B(fmt.Sprintf("🔔 Знайдено %d нових статей", count)).String()
}

// FormatSummary renders the batch closer: how many went through.
func FormatSummary(sent, total int) string {
	return tgui.B(fmt.Sprintf("✅ Відправлено %d із %d статей", sent, total)).String()
}

func sourceOrDash(s string) string {
	if strings.TrimSpace(s) == "" {
		return "—"
	}
	return s
}
