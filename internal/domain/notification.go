package domain

import "strings"

// KindLabels maps known event kinds to the heading shown to recipients.
// Kinds missing from the table use the raw kind string as heading.
var KindLabels = map[string]string{
	"t_tweet":        "Twitter 推文",
	"t_rt":           "Twitter 转推",
	"bili_plain_dyn": "Bilibili 动态",
	"bili_rt_dyn":    "Bilibili 转发",
	"bili_img_dyn":   "Bilibili 图片动态",
	"bili_video":     "Bilibili 视频",
	"ytb_video":      "Youtube 视频",
	"ytb_reminder":   "Youtube 配信提醒",
	"ytb_live":       "Youtube 上播",
	"ytb_sched":      "Youtube 新配信计划",
}

const separator = "————————————"

// Heading returns the display label for kind.
func Heading(kind string) string {
	if label, ok := KindLabels[kind]; ok {
		return label
	}
	return kind
}

// Notification is the human-readable form of an Event.
type Notification struct {
	Subject string
	Heading string
	Body    string
	Images  []string
}

// NewNotification derives a Notification from e.
// ok is false when the derived heading is empty; such events are not rendered.
func NewNotification(e Event) (n Notification, ok bool) {
	heading := Heading(e.Kind)
	if strings.TrimSpace(heading) == "" {
		return Notification{}, false
	}

	var body []string
	p := e.Payload
	if p.Title != "" {
		body = append(body, p.Title)
	}
	if p.Text != "" {
		body = append(body, p.Text)
	}
	if p.ScheduledStartTime != "" {
		body = append(body, "预定时间："+p.ScheduledStartTime)
	}
	if p.ActualStartTime != "" {
		body = append(body, "上播时间："+p.ActualStartTime)
	}
	if p.Link != "" {
		body = append(body, "链接："+p.Link)
	}

	return Notification{
		Subject: e.Topic,
		Heading: heading,
		Body:    strings.Join(body, "\n"),
		Images:  append([]string(nil), p.Images...),
	}, true
}

// Render builds the CQ-coded message text sent to every recipient.
// Upstream text is escaped so it can never form a CQ code of its own.
//
//	【subject】heading
//	————————————
//	body lines
//	[CQ:image,file=...]
func (n Notification) Render() string {
	var b strings.Builder
	b.WriteString("【")
	b.WriteString(escapeText(n.Subject))
	b.WriteString("】")
	b.WriteString(escapeText(n.Heading))
	b.WriteString("\n")
	b.WriteString(separator)
	b.WriteString("\n")
	b.WriteString(escapeText(n.Body))
	for _, img := range n.Images {
		b.WriteString("\n[CQ:image,file=")
		b.WriteString(escapeCQ(img))
		b.WriteString("]")
	}
	return b.String()
}

var (
	// textEscaper covers plain-text segments; commas are literal there.
	textEscaper = strings.NewReplacer("&", "&amp;", "[", "&#91;", "]", "&#93;")
	// cqEscaper covers CQ code parameter values.
	cqEscaper = strings.NewReplacer("&", "&amp;", "[", "&#91;", "]", "&#93;", ",", "&#44;")
)

func escapeText(s string) string {
	return textEscaper.Replace(s)
}

func escapeCQ(s string) string {
	return cqEscaper.Replace(s)
}
