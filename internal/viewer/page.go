package viewer

import (
	_ "embed"
	"html/template"
	"io"

	"github.com/namikmesic/crewchat/internal/api"
	"github.com/namikmesic/crewchat/internal/chat"
)

//go:embed page.html.tmpl
var pageSource string

var pageTemplate = template.Must(template.New("page").Parse(pageSource))

// MessageView is a transcript message with its rendered HTML.
type MessageView struct {
	chat.RenderState
	HTML string `json:"html"`
}

// SafeHTML marks the rendered message as trusted markup. The renderer
// sanitises its output.
func (m MessageView) SafeHTML() template.HTML {
	return template.HTML(m.HTML)
}

// View is the JSON shape pushed to viewer clients.
type View struct {
	Messages    []MessageView           `json:"messages"`
	Operations  []chat.PendingOperation `json:"operations"`
	Agent       api.Agent               `json:"agent"`
	ContextSize *api.ContextSize        `json:"context_size,omitempty"`
	Error       string                  `json:"error,omitempty"`
	Loading     bool                    `json:"loading"`
}

func NewView(snap chat.Snapshot) View {
	v := View{
		Messages:    make([]MessageView, 0, len(snap.Messages)),
		Operations:  snap.Operations,
		Agent:       snap.Agent,
		ContextSize: snap.ContextSize,
		Error:       snap.Error,
		Loading:     snap.Loading,
	}
	if v.Operations == nil {
		v.Operations = []chat.PendingOperation{}
	}
	for _, m := range snap.Messages {
		v.Messages = append(v.Messages, MessageView{RenderState: m, HTML: m.HTML()})
	}
	return v
}

type pageData struct {
	Title string
	View  View
	Live  bool
}

// WriteDocument writes the transcript as a standalone HTML page. live adds
// the script that follows updates over the WebSocket.
func WriteDocument(w io.Writer, title string, snap chat.Snapshot, live bool) error {
	return pageTemplate.Execute(w, pageData{Title: title, View: NewView(snap), Live: live})
}
